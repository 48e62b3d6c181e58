package chat

import (
	"time"
)

// dayLayout keys daily thought counters.
const dayLayout = "2006-01-02"

// RecentMessage is a trimmed copy of a message kept for prompt context.
type RecentMessage struct {
	Speaker string    `json:"speaker"`
	Content string    `json:"content"`
	IsBot   bool      `json:"is_bot,omitempty"`
	At      time.Time `json:"at"`
}

// Activity is what the thinker knows about one chat stream.
type Activity struct {
	StreamID string `json:"stream_id"`
	Platform string `json:"platform,omitempty"`

	LastMessageAt time.Time       `json:"last_message_at"`
	LastSpeaker   string          `json:"last_speaker,omitempty"`
	LastFromBot   bool            `json:"last_from_bot,omitempty"`
	MessageCount  int64           `json:"message_count"`
	Recent        []RecentMessage `json:"recent,omitempty"`

	// LastThoughtAt is when the bot last spoke unprompted.
	LastThoughtAt time.Time `json:"last_thought_at,omitempty"`
	// LastDecisionAt is when the thinker last evaluated the stream,
	// whatever it decided.
	LastDecisionAt time.Time `json:"last_decision_at,omitempty"`
	ThoughtDay     string    `json:"thought_day,omitempty"`
	ThoughtsToday  int       `json:"thoughts_today"`

	UpdatedAt time.Time `json:"updated_at"`
}

// Observe folds a message into the activity. Messages older than the newest
// one seen still join the recent window but do not move LastMessageAt back.
func (a *Activity) Observe(ev *MessageEvent, window int) {
	if a.StreamID == "" {
		a.StreamID = ev.StreamID
	}
	if ev.Platform != "" {
		a.Platform = ev.Platform
	}
	a.MessageCount++

	if !ev.Timestamp.Before(a.LastMessageAt) {
		a.LastMessageAt = ev.Timestamp
		a.LastSpeaker = ev.Speaker()
		a.LastFromBot = ev.IsBot
	}

	if window <= 0 {
		a.Recent = nil
		return
	}
	a.Recent = append(a.Recent, RecentMessage{
		Speaker: ev.Speaker(),
		Content: ev.Content,
		IsBot:   ev.IsBot,
		At:      ev.Timestamp,
	})
	if extra := len(a.Recent) - window; extra > 0 {
		a.Recent = append([]RecentMessage(nil), a.Recent[extra:]...)
	}
}

// RecordThought notes that the bot spoke unprompted at t. The daily counter
// resets when the local day in loc changes.
func (a *Activity) RecordThought(t time.Time, loc *time.Location) {
	day := t.In(loc).Format(dayLayout)
	if a.ThoughtDay != day {
		a.ThoughtDay = day
		a.ThoughtsToday = 0
	}
	a.ThoughtsToday++
	a.LastThoughtAt = t
	a.LastDecisionAt = t
}

// RecordDecision notes that the thinker evaluated the stream at t.
func (a *Activity) RecordDecision(t time.Time) {
	a.LastDecisionAt = t
}

// ThoughtsOn returns how many thoughts were recorded on t's local day.
func (a *Activity) ThoughtsOn(t time.Time, loc *time.Location) int {
	if a.ThoughtDay != t.In(loc).Format(dayLayout) {
		return 0
	}
	return a.ThoughtsToday
}

// SilentFor returns how long the stream has been quiet at now.
func (a *Activity) SilentFor(now time.Time) time.Duration {
	if a.LastMessageAt.IsZero() {
		return 0
	}
	return now.Sub(a.LastMessageAt)
}

// DecidedSinceLastMessage reports whether the thinker has already evaluated
// the current silence.
func (a *Activity) DecidedSinceLastMessage() bool {
	return !a.LastDecisionAt.IsZero() && !a.LastDecisionAt.Before(a.LastMessageAt)
}
