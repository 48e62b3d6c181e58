// Package testutil provides an in-memory llm.Completer for handler tests.
package testutil

import (
	"context"
	"sync"

	"github.com/c360studio/semthink/llm"
)

// MockLLMClient returns canned responses in order and records requests.
//
//	mock := &testutil.MockLLMClient{
//		Responses: []*llm.Response{{Content: `{"action":"wait"}`}},
//	}
type MockLLMClient struct {
	mu sync.Mutex

	// Responses are returned in order; the last one repeats once exhausted.
	Responses []*llm.Response

	// Err, when set, is returned instead of a response.
	Err error

	requests []llm.Request
}

var _ llm.Completer = (*MockLLMClient)(nil)

// Complete implements llm.Completer.
func (m *MockLLMClient) Complete(ctx context.Context, req llm.Request) (*llm.Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.requests = append(m.requests, req)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if m.Err != nil {
		return nil, m.Err
	}
	if len(m.Responses) == 0 {
		return &llm.Response{Model: "mock"}, nil
	}

	i := len(m.requests) - 1
	if i >= len(m.Responses) {
		i = len(m.Responses) - 1
	}
	resp := *m.Responses[i]
	return &resp, nil
}

// Calls returns how many times Complete was called.
func (m *MockLLMClient) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

// Requests returns a copy of every request received.
func (m *MockLLMClient) Requests() []llm.Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]llm.Request, len(m.requests))
	copy(out, m.requests)
	return out
}

// Reset clears recorded requests.
func (m *MockLLMClient) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = nil
}
