package proactivethinker

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

// metrics holds the thinker's prometheus collectors.
type metrics struct {
	messagesObserved prometheus.Counter
	evaluations      *prometheus.CounterVec
	skips            *prometheus.CounterVec
	thoughts         prometheus.Counter
	llmErrors        prometheus.Counter
	llmLatency       prometheus.Histogram
}

func newMetrics(reg prometheus.Registerer) *metrics {
	m := &metrics{
		messagesObserved: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "semthink",
			Subsystem: "proactive_thinker",
			Name:      "messages_observed_total",
			Help:      "Chat messages folded into stream activity.",
		}),
		evaluations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "semthink",
			Subsystem: "proactive_thinker",
			Name:      "evaluations_total",
			Help:      "Model decisions by outcome.",
		}, []string{"result"}),
		skips: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "semthink",
			Subsystem: "proactive_thinker",
			Name:      "skips_total",
			Help:      "Streams not evaluated, by reason.",
		}, []string{"reason"}),
		thoughts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "semthink",
			Subsystem: "proactive_thinker",
			Name:      "thoughts_published_total",
			Help:      "Proactive messages published.",
		}),
		llmErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "semthink",
			Subsystem: "proactive_thinker",
			Name:      "llm_errors_total",
			Help:      "Failed model calls.",
		}),
		llmLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "semthink",
			Subsystem: "proactive_thinker",
			Name:      "llm_duration_seconds",
			Help:      "Model call latency.",
			Buckets:   prometheus.ExponentialBuckets(0.25, 2, 8),
		}),
	}

	if reg == nil {
		return m
	}
	m.messagesObserved = register(reg, m.messagesObserved)
	m.evaluations = register(reg, m.evaluations)
	m.skips = register(reg, m.skips)
	m.thoughts = register(reg, m.thoughts)
	m.llmErrors = register(reg, m.llmErrors)
	m.llmLatency = register(reg, m.llmLatency)
	return m
}

// register adds c to reg, reusing an identical collector that is already
// registered, e.g. when the component is recreated after a config change.
func register[C prometheus.Collector](reg prometheus.Registerer, c C) C {
	if err := reg.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(C); ok {
				return existing
			}
		}
	}
	return c
}
