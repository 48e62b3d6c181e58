// Package chat holds the chat-side types the thinker reacts to: incoming
// message events and the per-stream activity record kept in NATS KV.
package chat

import (
	"encoding/json"
	"errors"
	"strings"
	"time"
	"unicode"

	"github.com/c360studio/semstreams/component"
	"github.com/c360studio/semstreams/message"
)

func init() {
	if err := component.RegisterPayload(&component.PayloadRegistration{
		Domain:      "chat",
		Category:    "message",
		Version:     "v1",
		Description: "A message observed in a chat stream",
		Factory:     func() any { return &MessageEvent{} },
	}); err != nil {
		panic("failed to register MessageEvent: " + err.Error())
	}
}

// MessageType is the message type for MessageEvent payloads.
var MessageType = message.Type{
	Domain:   "chat",
	Category: "message",
	Version:  "v1",
}

// MessageEvent is published by platform adapters for every chat message,
// including the bot's own.
type MessageEvent struct {
	MessageID string `json:"message_id"`

	// StreamID identifies the conversation, e.g. "qq:group:123456".
	StreamID string `json:"stream_id"`

	Platform  string    `json:"platform"`
	UserID    string    `json:"user_id"`
	UserName  string    `json:"user_name,omitempty"`
	Content   string    `json:"content"`
	IsBot     bool      `json:"is_bot,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Schema returns the message type for this payload.
func (e *MessageEvent) Schema() message.Type { return MessageType }

// Validate validates the payload.
func (e *MessageEvent) Validate() error {
	if e.StreamID == "" {
		return errors.New("stream_id is required")
	}
	if e.Timestamp.IsZero() {
		return errors.New("timestamp is required")
	}
	return nil
}

// MarshalJSON implements json.Marshaler.
func (e *MessageEvent) MarshalJSON() ([]byte, error) {
	type Alias MessageEvent
	return json.Marshal((*Alias)(e))
}

// UnmarshalJSON implements json.Unmarshaler.
func (e *MessageEvent) UnmarshalJSON(data []byte) error {
	type Alias MessageEvent
	return json.Unmarshal(data, (*Alias)(e))
}

// Speaker returns the display name, falling back to the user ID.
func (e *MessageEvent) Speaker() string {
	if e.UserName != "" {
		return e.UserName
	}
	return e.UserID
}

// SubjectToken turns a stream ID into a single NATS subject token.
// Separators, wildcards, whitespace and control characters become "_".
func SubjectToken(streamID string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r == '.', r == '*', r == '>', r == ':':
			return '_'
		case unicode.IsSpace(r), unicode.IsControl(r):
			return '_'
		}
		return r
	}, streamID)
}
