package proactivethinker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/c360studio/semstreams/component"
	"github.com/c360studio/semstreams/message"
	"github.com/c360studio/semstreams/natsclient"
	"github.com/c360studio/semthink/chat"
	"github.com/c360studio/semthink/feed"
	"github.com/c360studio/semthink/llm"
	"github.com/c360studio/semthink/model"
	"github.com/c360studio/semthink/plugin"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/prometheus/client_golang/prometheus"
)

// feedFetchTimeout bounds a single topic page fetch.
const feedFetchTimeout = 30 * time.Second

// errSilenceBroken aborts a thought when someone spoke while the model was deciding.
var errSilenceBroken = errors.New("stream is no longer silent")

type publisher interface {
	PublishToStream(ctx context.Context, subject string, data []byte) error
}

type activityStore interface {
	Update(ctx context.Context, streamID string, fn func(*chat.Activity) error) (*chat.Activity, error)
	List(ctx context.Context) ([]*chat.Activity, error)
}

// Component implements the proactive thinker processor.
type Component struct {
	name       string
	config     Config
	natsClient *natsclient.Client
	publisher  publisher
	logger     *slog.Logger

	llmClient llm.Completer
	store     activityStore
	persona   *Persona
	library   *feed.Library
	metrics   *metrics
	now       func() time.Time

	// policy is nil while the plugin config switches the thinker off.
	policyMu sync.RWMutex
	policy   *Policy
	watcher  *plugin.Watcher

	// JetStream consumer
	consumer jetstream.Consumer

	// Lifecycle
	running   bool
	startTime time.Time
	mu        sync.RWMutex
	cancel    context.CancelFunc
	wg        sync.WaitGroup

	// Metrics
	messagesObserved  atomic.Int64
	thoughtsPublished atomic.Int64
	decisionsFailed   atomic.Int64
	lastActivityMu    sync.RWMutex
	lastActivity      time.Time
}

// NewComponent creates a new proactive thinker processor.
func NewComponent(rawConfig json.RawMessage, deps component.Dependencies) (component.Discoverable, error) {
	var config Config
	if len(rawConfig) > 0 {
		if err := json.Unmarshal(rawConfig, &config); err != nil {
			return nil, fmt.Errorf("unmarshal config: %w", err)
		}
	}
	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	logger := deps.GetLogger()

	policy, err := NewPolicy(&config)
	if err != nil {
		return nil, fmt.Errorf("build policy: %w", err)
	}

	persona := DefaultPersona()
	if config.PersonaFile != "" {
		persona, err = LoadPersona(config.PersonaFile)
		if err != nil {
			return nil, err
		}
	}

	registry := model.NewDefaultRegistry()
	if config.ModelRegistryPath != "" {
		registry, err = model.LoadFromFile(config.ModelRegistryPath)
		if err != nil {
			return nil, err
		}
	}

	c := &Component{
		name:      ComponentName,
		config:    config,
		logger:    logger,
		llmClient: llm.NewClient(registry, llm.WithLogger(logger)),
		persona:   persona,
		metrics:   newMetrics(prometheus.DefaultRegisterer),
		now:       time.Now,
		policy:    policy,
	}
	if deps.NATSClient != nil {
		c.natsClient = deps.NATSClient
		c.publisher = deps.NATSClient
	}
	if len(config.TopicFeeds) > 0 {
		c.library = feed.NewLibrary(
			feed.NewFetcher(feedFetchTimeout, "semthink/"+Version, 0),
			feed.NewDigester(config.MaxTopicChars),
			config.GetFeedRefresh(),
			logger)
	}
	return c, nil
}

// Initialize prepares the component.
func (c *Component) Initialize() error {
	c.logger.Debug("Initialized proactive-thinker",
		"stream", c.config.StreamName,
		"consumer", c.config.ConsumerName,
		"message_subject", c.config.MessageSubject,
		"check_interval", c.config.GetCheckInterval(),
		"topic_feeds", len(c.config.TopicFeeds))
	return nil
}

// Start begins observing chat messages and checking quiet streams.
func (c *Component) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return fmt.Errorf("component already running")
	}
	if c.natsClient == nil {
		c.mu.Unlock()
		return fmt.Errorf("NATS client required")
	}

	c.running = true
	c.startTime = time.Now()

	subCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.mu.Unlock()

	js, err := c.natsClient.JetStream()
	if err != nil {
		c.rollbackStart(cancel)
		return fmt.Errorf("get jetstream: %w", err)
	}

	if c.store == nil {
		store, err := chat.NewActivityStore(subCtx, js, c.config.ActivityBucket)
		if err != nil {
			c.rollbackStart(cancel)
			return fmt.Errorf("create activity store: %w", err)
		}
		c.store = store
	}

	stream, err := js.Stream(subCtx, c.config.StreamName)
	if err != nil {
		c.rollbackStart(cancel)
		return fmt.Errorf("get stream %s: %w", c.config.StreamName, err)
	}

	consumerConfig := jetstream.ConsumerConfig{
		Durable:       c.config.ConsumerName,
		FilterSubject: c.config.MessageSubject,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       30 * time.Second,
		MaxDeliver:    3,
	}

	consumer, err := stream.CreateOrUpdateConsumer(subCtx, consumerConfig)
	if err != nil {
		c.rollbackStart(cancel)
		return fmt.Errorf("create consumer: %w", err)
	}
	c.consumer = consumer

	c.startWatcher(subCtx)

	c.goLoop(func() { c.consumeLoop(subCtx) })
	c.goLoop(func() { c.checkLoop(subCtx) })
	if c.library != nil {
		c.goLoop(func() { c.feedLoop(subCtx) })
	}

	c.logger.Info("proactive-thinker started",
		"stream", c.config.StreamName,
		"consumer", c.config.ConsumerName,
		"subject", c.config.MessageSubject,
		"silence_threshold", c.config.GetSilenceThreshold(),
		"cooldown", c.config.GetCooldown())

	return nil
}

func (c *Component) rollbackStart(cancel context.CancelFunc) {
	c.mu.Lock()
	c.running = false
	c.cancel = nil
	c.mu.Unlock()
	cancel()
}

func (c *Component) goLoop(fn func()) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		fn()
	}()
}

// startWatcher applies edits to the plugin config file while running.
// A watcher failure is logged and the component keeps its startup policy.
func (c *Component) startWatcher(ctx context.Context) {
	if c.config.PluginConfigPath == "" {
		return
	}

	w, err := plugin.NewWatcher(c.config.PluginConfigPath, pluginSchema(),
		plugin.WithWatcherLogger(c.logger))
	if err != nil {
		c.logger.Warn("Plugin config watcher unavailable", "error", err)
		return
	}
	w.OnChange(c.applyValues)
	if err := w.Start(ctx); err != nil {
		c.logger.Warn("Plugin config watcher unavailable", "error", err)
		_ = w.Stop()
		return
	}
	c.watcher = w
}

// applyValues rebuilds the policy from reloaded plugin config values.
func (c *Component) applyValues(v plugin.Values) {
	if !v.Enabled() {
		c.setPolicy(nil)
		c.logger.Info("proactive-thinker paused by plugin config")
		return
	}

	cfg := configFromValues(v, c.config)
	if err := cfg.Validate(); err != nil {
		c.logger.Warn("Ignoring invalid plugin config", "error", err)
		return
	}
	policy, err := NewPolicy(&cfg)
	if err != nil {
		c.logger.Warn("Ignoring invalid plugin config", "error", err)
		return
	}

	c.setPolicy(policy)
	c.logger.Info("proactive-thinker policy reloaded",
		"silence_threshold", policy.Silence,
		"cooldown", policy.Cooldown,
		"max_per_day", policy.MaxPerDay,
		"quiet_hours", policy.Quiet.String())
}

func (c *Component) setPolicy(p *Policy) {
	c.policyMu.Lock()
	c.policy = p
	c.policyMu.Unlock()
}

func (c *Component) currentPolicy() *Policy {
	c.policyMu.RLock()
	defer c.policyMu.RUnlock()
	return c.policy
}

// consumeLoop continuously consumes messages from the JetStream consumer.
func (c *Component) consumeLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		msgs, err := c.consumer.Fetch(1, jetstream.FetchMaxWait(5*time.Second))
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Debug("Fetch timeout or error", "error", err)
			continue
		}

		for msg := range msgs.Messages() {
			c.handleMessage(ctx, msg)
		}

		if msgs.Error() != nil && !errors.Is(msgs.Error(), context.DeadlineExceeded) {
			c.logger.Warn("Message fetch error", "error", msgs.Error())
		}
	}
}

// handleMessage folds one chat message into its stream's activity.
func (c *Component) handleMessage(ctx context.Context, msg jetstream.Msg) {
	c.updateLastActivity()

	ev, err := parseMessageEvent(msg.Data())
	if err != nil {
		c.logger.Error("Dropping unreadable chat message", "error", err)
		if err := msg.Term(); err != nil {
			c.logger.Warn("Failed to TERM message", "error", err)
		}
		return
	}

	_, err = c.store.Update(ctx, ev.StreamID, func(a *chat.Activity) error {
		a.Observe(ev, c.config.HistoryWindow)
		return nil
	})
	if err != nil {
		c.logger.Error("Failed to record chat activity",
			"stream_id", ev.StreamID,
			"error", err)
		if err := msg.Nak(); err != nil {
			c.logger.Warn("Failed to NAK message", "error", err)
		}
		return
	}

	c.messagesObserved.Add(1)
	c.metrics.messagesObserved.Inc()

	if err := msg.Ack(); err != nil {
		c.logger.Warn("Failed to ACK message", "error", err)
	}
}

func parseMessageEvent(data []byte) (*chat.MessageEvent, error) {
	var baseMsg message.BaseMessage
	if err := json.Unmarshal(data, &baseMsg); err != nil {
		return nil, fmt.Errorf("parse message: %w", err)
	}

	payloadBytes, err := json.Marshal(baseMsg.Payload())
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}

	var ev chat.MessageEvent
	if err := json.Unmarshal(payloadBytes, &ev); err != nil {
		return nil, fmt.Errorf("unmarshal chat message: %w", err)
	}
	if err := ev.Validate(); err != nil {
		return nil, fmt.Errorf("invalid chat message: %w", err)
	}
	return &ev, nil
}

// checkLoop evaluates quiet streams every check interval.
func (c *Component) checkLoop(ctx context.Context) {
	ticker := time.NewTicker(c.config.GetCheckInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := c.checkOnce(ctx); err != nil && ctx.Err() == nil {
				c.logger.Warn("Quiet stream check failed", "error", err)
			}
		}
	}
}

// checkOnce evaluates every tracked stream and returns how many were handed
// to the model.
func (c *Component) checkOnce(ctx context.Context) (int, error) {
	policy := c.currentPolicy()
	if policy == nil {
		return 0, nil
	}

	activities, err := c.store.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("list activity: %w", err)
	}

	now := c.now()
	evaluated := 0
	for _, a := range activities {
		if ctx.Err() != nil {
			return evaluated, ctx.Err()
		}

		ok, reason := policy.Evaluate(a, now)
		if !ok {
			c.metrics.skips.WithLabelValues(string(reason)).Inc()
			continue
		}

		evaluated++
		if err := c.think(ctx, policy, a, now); err != nil {
			c.decisionsFailed.Add(1)
			c.logger.Warn("Proactive decision failed",
				"stream_id", a.StreamID,
				"error", err)
		}
	}
	return evaluated, nil
}

// think asks the model about one quiet stream and acts on its decision.
// Every outcome marks the silence as decided so the stream is not asked
// about again until it speaks or the cooldown passes.
func (c *Component) think(ctx context.Context, policy *Policy, a *chat.Activity, now time.Time) error {
	var topics []feed.Digest
	if c.library != nil {
		topics = c.library.Digests(c.config.TopicFeeds)
	}

	started := time.Now()
	resp, err := c.llmClient.Complete(ctx, llm.Request{
		Capability:  c.config.Capability,
		Messages:    BuildMessages(c.persona, a, topics, now),
		Temperature: c.config.Temperature,
	})
	c.metrics.llmLatency.Observe(time.Since(started).Seconds())
	if err != nil {
		c.metrics.llmErrors.Inc()
		c.metrics.evaluations.WithLabelValues("error").Inc()
		c.recordDecision(ctx, a.StreamID, now)
		return fmt.Errorf("model call: %w", err)
	}

	decision, err := ParseDecision(resp.Content)
	if err != nil {
		c.logger.Warn("Unusable model decision, waiting",
			"stream_id", a.StreamID,
			"request_id", resp.RequestID,
			"error", err)
		c.metrics.evaluations.WithLabelValues("malformed").Inc()
		decision = &Decision{Action: ActionWait, Reason: "unusable model output"}
	}

	if decision.Action != ActionSpeak {
		c.metrics.evaluations.WithLabelValues(ActionWait).Inc()
		c.recordDecision(ctx, a.StreamID, now)
		c.logger.Debug("Staying quiet",
			"stream_id", a.StreamID,
			"reason", decision.Reason)
		return nil
	}

	// Claim the thought before publishing so a slow publish cannot lead
	// to a second message for the same silence.
	_, err = c.store.Update(ctx, a.StreamID, func(cur *chat.Activity) error {
		if cur.LastMessageAt.After(a.LastMessageAt) {
			return errSilenceBroken
		}
		cur.RecordThought(now, policy.location())
		return nil
	})
	if errors.Is(err, errSilenceBroken) {
		c.metrics.evaluations.WithLabelValues("superseded").Inc()
		c.logger.Debug("Stream spoke while deciding, dropping thought", "stream_id", a.StreamID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("record thought: %w", err)
	}

	c.metrics.evaluations.WithLabelValues(ActionSpeak).Inc()
	if err := c.publishThought(ctx, a, decision, resp, now); err != nil {
		return err
	}

	c.thoughtsPublished.Add(1)
	c.metrics.thoughts.Inc()
	c.logger.Info("Published proactive thought",
		"stream_id", a.StreamID,
		"model", resp.Model,
		"reason", decision.Reason)
	return nil
}

func (c *Component) recordDecision(ctx context.Context, streamID string, at time.Time) {
	_, err := c.store.Update(ctx, streamID, func(a *chat.Activity) error {
		a.RecordDecision(at)
		return nil
	})
	if err != nil {
		c.logger.Warn("Failed to record decision",
			"stream_id", streamID,
			"error", err)
	}
}

// publishThought publishes the thought to <prefix>.<stream token>.
func (c *Component) publishThought(ctx context.Context, a *chat.Activity, d *Decision, resp *llm.Response, now time.Time) error {
	thought := &ProactiveThought{
		ThoughtID:  uuid.NewString(),
		StreamID:   a.StreamID,
		Platform:   a.Platform,
		Message:    d.Message,
		Reason:     d.Reason,
		Model:      resp.Model,
		Capability: c.config.Capability,
		CreatedAt:  now,
	}

	baseMsg := message.NewBaseMessage(ThoughtType, thought, ComponentName)
	data, err := json.Marshal(baseMsg)
	if err != nil {
		return fmt.Errorf("marshal thought: %w", err)
	}

	subject := c.config.ThoughtSubjectPrefix + "." + chat.SubjectToken(a.StreamID)
	if err := c.publisher.PublishToStream(ctx, subject, data); err != nil {
		return fmt.Errorf("publish to %s: %w", subject, err)
	}
	return nil
}

// feedLoop keeps topic digests fresh.
func (c *Component) feedLoop(ctx context.Context) {
	refresh := func() {
		if err := c.library.Refresh(ctx, c.config.TopicFeeds); err != nil && ctx.Err() == nil {
			c.logger.Warn("Topic feed refresh incomplete", "error", err)
		}
	}

	refresh()
	ticker := time.NewTicker(c.config.GetFeedRefresh())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			refresh()
		}
	}
}

// Stop gracefully stops the component.
func (c *Component) Stop(timeout time.Duration) error {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return nil
	}

	// Copy cancel function and clear state before releasing lock
	cancel := c.cancel
	watcher := c.watcher
	c.running = false
	c.cancel = nil
	c.watcher = nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if watcher != nil {
		if err := watcher.Stop(); err != nil {
			c.logger.Debug("Stop plugin config watcher", "error", err)
		}
	}

	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
		c.logger.Warn("proactive-thinker loops did not stop in time", "timeout", timeout)
	}

	c.logger.Info("proactive-thinker stopped",
		"messages_observed", c.messagesObserved.Load(),
		"thoughts_published", c.thoughtsPublished.Load(),
		"decisions_failed", c.decisionsFailed.Load())

	return nil
}

// Meta returns component metadata.
func (c *Component) Meta() component.Metadata {
	return component.Metadata{
		Name:        ComponentName,
		Type:        "processor",
		Description: HandlerInfo().Description,
		Version:     Version,
	}
}

// InputPorts returns configured input port definitions.
func (c *Component) InputPorts() []component.Port {
	if c.config.Ports == nil {
		return []component.Port{}
	}

	ports := make([]component.Port, len(c.config.Ports.Inputs))
	for i, portDef := range c.config.Ports.Inputs {
		ports[i] = component.Port{
			Name:        portDef.Name,
			Direction:   component.DirectionInput,
			Required:    portDef.Required,
			Description: portDef.Description,
			Config: component.NATSPort{
				Subject: portDef.Subject,
			},
		}
	}
	return ports
}

// OutputPorts returns configured output port definitions.
func (c *Component) OutputPorts() []component.Port {
	if c.config.Ports == nil {
		return []component.Port{}
	}

	ports := make([]component.Port, len(c.config.Ports.Outputs))
	for i, portDef := range c.config.Ports.Outputs {
		ports[i] = component.Port{
			Name:        portDef.Name,
			Direction:   component.DirectionOutput,
			Required:    portDef.Required,
			Description: portDef.Description,
			Config: component.NATSPort{
				Subject: portDef.Subject,
			},
		}
	}
	return ports
}

// ConfigSchema returns the configuration schema.
func (c *Component) ConfigSchema() component.ConfigSchema {
	return thinkerSchema
}

// Health returns the current health status.
func (c *Component) Health() component.HealthStatus {
	c.mu.RLock()
	running := c.running
	startTime := c.startTime
	c.mu.RUnlock()

	status := "stopped"
	if running {
		status = "running"
		if c.currentPolicy() == nil {
			status = "paused"
		}
	}

	return component.HealthStatus{
		Healthy:    running,
		LastCheck:  time.Now(),
		ErrorCount: int(c.decisionsFailed.Load()),
		Uptime:     time.Since(startTime),
		Status:     status,
	}
}

// DataFlow returns current data flow metrics.
func (c *Component) DataFlow() component.FlowMetrics {
	return component.FlowMetrics{
		MessagesPerSecond: 0,
		BytesPerSecond:    0,
		ErrorRate:         0,
		LastActivity:      c.getLastActivity(),
	}
}

func (c *Component) updateLastActivity() {
	c.lastActivityMu.Lock()
	c.lastActivity = time.Now()
	c.lastActivityMu.Unlock()
}

func (c *Component) getLastActivity() time.Time {
	c.lastActivityMu.RLock()
	defer c.lastActivityMu.RUnlock()
	return c.lastActivity
}
