package proactivethinker

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/c360studio/semthink/chat"
	"github.com/c360studio/semthink/llm"
)

// SkipReason explains why a stream was not handed to the model.
type SkipReason string

const (
	SkipNone           SkipReason = ""
	SkipNotEnabled     SkipReason = "stream_not_enabled"
	SkipBlocked        SkipReason = "stream_blocked"
	SkipNoActivity     SkipReason = "no_activity"
	SkipQuietHours     SkipReason = "quiet_hours"
	SkipBotSpokeLast   SkipReason = "bot_spoke_last"
	SkipNotSilent      SkipReason = "not_silent"
	SkipAlreadyDecided SkipReason = "already_decided"
	SkipCooldown       SkipReason = "cooldown"
	SkipDailyLimit     SkipReason = "daily_limit"
)

// Policy decides which streams are worth asking the model about.
type Policy struct {
	Enabled          []string
	Blocked          []string
	Silence          time.Duration
	Cooldown         time.Duration
	MaxPerDay        int
	Quiet            QuietHours
	Location         *time.Location
	AllowConsecutive bool
}

// NewPolicy builds a policy from a validated config.
func NewPolicy(cfg *Config) (*Policy, error) {
	quiet, err := ParseQuietHours(cfg.QuietHours)
	if err != nil {
		return nil, err
	}
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	return &Policy{
		Enabled:          append([]string(nil), cfg.EnabledStreams...),
		Blocked:          append([]string(nil), cfg.BlockedStreams...),
		Silence:          cfg.GetSilenceThreshold(),
		Cooldown:         cfg.GetCooldown(),
		MaxPerDay:        cfg.GetMaxPerDay(),
		Quiet:            quiet,
		Location:         loc,
		AllowConsecutive: cfg.AllowConsecutive,
	}, nil
}

// Evaluate reports whether a stream is eligible at now. When it is not,
// the reason names the first check that failed.
func (p *Policy) Evaluate(a *chat.Activity, now time.Time) (bool, SkipReason) {
	switch {
	case !matchAny(p.Enabled, a.StreamID):
		return false, SkipNotEnabled
	case matchAny(p.Blocked, a.StreamID):
		return false, SkipBlocked
	case a.LastMessageAt.IsZero():
		return false, SkipNoActivity
	case p.Quiet.Contains(now.In(p.location()).Hour()):
		return false, SkipQuietHours
	case a.LastFromBot && !p.AllowConsecutive:
		return false, SkipBotSpokeLast
	case a.SilentFor(now) < p.Silence:
		return false, SkipNotSilent
	case a.DecidedSinceLastMessage() && now.Sub(a.LastDecisionAt) < p.Cooldown:
		return false, SkipAlreadyDecided
	case !a.LastThoughtAt.IsZero() && now.Sub(a.LastThoughtAt) < p.Cooldown:
		return false, SkipCooldown
	case p.MaxPerDay > 0 && a.ThoughtsOn(now, p.location()) >= p.MaxPerDay:
		return false, SkipDailyLimit
	}
	return true, SkipNone
}

func (p *Policy) location() *time.Location {
	if p.Location == nil {
		return time.Local
	}
	return p.Location
}

func matchAny(patterns []string, streamID string) bool {
	for _, pattern := range patterns {
		if ok, _ := doublestar.Match(pattern, streamID); ok {
			return true
		}
	}
	return false
}

func validPatterns(patterns []string) error {
	for _, pattern := range patterns {
		if !doublestar.ValidatePattern(pattern) {
			return fmt.Errorf("invalid pattern %q", pattern)
		}
	}
	return nil
}

// QuietHours is a local-hour range [Start, End). Ranges may wrap midnight.
// A zero value, or Start == End, never matches.
type QuietHours struct {
	Start int
	End   int
}

// ParseQuietHours parses "23-7". An empty string disables quiet hours.
func ParseQuietHours(s string) (QuietHours, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return QuietHours{}, nil
	}
	from, to, ok := strings.Cut(s, "-")
	if !ok {
		return QuietHours{}, fmt.Errorf("invalid quiet_hours %q: want START-END", s)
	}
	start, err := parseHour(from)
	if err != nil {
		return QuietHours{}, fmt.Errorf("invalid quiet_hours %q: %w", s, err)
	}
	end, err := parseHour(to)
	if err != nil {
		return QuietHours{}, fmt.Errorf("invalid quiet_hours %q: %w", s, err)
	}
	return QuietHours{Start: start, End: end}, nil
}

func parseHour(s string) (int, error) {
	h, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("hour %q is not a number", s)
	}
	if h < 0 || h > 23 {
		return 0, fmt.Errorf("hour %d out of range 0-23", h)
	}
	return h, nil
}

// Contains reports whether hour falls inside the range.
func (q QuietHours) Contains(hour int) bool {
	switch {
	case q.Start == q.End:
		return false
	case q.Start < q.End:
		return hour >= q.Start && hour < q.End
	default:
		return hour >= q.Start || hour < q.End
	}
}

// String renders the range in its config form.
func (q QuietHours) String() string {
	if q.Start == q.End {
		return ""
	}
	return fmt.Sprintf("%d-%d", q.Start, q.End)
}

// Decision actions.
const (
	ActionSpeak = "speak"
	ActionWait  = "wait"
)

// Decision is the model's answer for one quiet stream.
type Decision struct {
	Action  string `json:"action"`
	Reason  string `json:"reason"`
	Message string `json:"message,omitempty"`
}

// ParseDecision extracts a Decision from model output.
func ParseDecision(content string) (*Decision, error) {
	var d Decision
	if err := llm.DecodeJSON(content, &d); err != nil {
		return nil, err
	}

	d.Action = strings.ToLower(strings.TrimSpace(d.Action))
	d.Message = strings.TrimSpace(d.Message)
	switch d.Action {
	case ActionSpeak:
		if d.Message == "" {
			return nil, fmt.Errorf("speak decision without a message")
		}
	case ActionWait:
		d.Message = ""
	default:
		return nil, fmt.Errorf("unknown action %q", d.Action)
	}
	return &d, nil
}
