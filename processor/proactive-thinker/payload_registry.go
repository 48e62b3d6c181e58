package proactivethinker

import "github.com/c360studio/semstreams/component"

func init() {
	if err := component.RegisterPayload(&component.PayloadRegistration{
		Domain:      "chat",
		Category:    "proactive",
		Version:     "v1",
		Description: "Unprompted message the bot decided to send to a quiet chat",
		Factory:     func() any { return &ProactiveThought{} },
	}); err != nil {
		panic("failed to register ProactiveThought: " + err.Error())
	}
}
