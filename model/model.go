package model

import (
	"context"
	"fmt"
	"sync"
)

// Request captures the normalized model input produced by the compose layer.
type Request struct {
	System      string   `json:"system,omitempty"`      // System prompt framing the task
	Prompt      string   `json:"prompt"`                // User-visible prompt body
	Temperature *float64 `json:"temperature,omitempty"` // Override; nil uses the provider default
	MaxTokens   int64    `json:"max_tokens,omitempty"`  // Override; 0 uses the provider default
}

// TokenUsage captures token usage statistics for a response.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Response is the final completion returned by a provider.
type Response struct {
	Text         string      `json:"text"`
	FinishReason string      `json:"finish_reason"` // "stop", "length", etc.
	Usage        *TokenUsage `json:"usage,omitempty"`
}

// Info contains metadata about a model implementation.
// Previously named ModelInfo; renamed to avoid stutter at call sites.
type Info struct {
	Name     string `json:"name"`
	Provider string `json:"provider"` // "openai", "anthropic", "mock", etc.
}

// Model is the minimal interface required to drive document generation.
// Implementations wrap errors in core.BackendError so callers can decide
// whether a failure is worth retrying.
type Model interface {
	Generate(ctx context.Context, req Request) (*Response, error)

	// Info returns information about the model implementation.
	Info() Info
}

// mockOutcome is a scripted result consumed by MockModel in FIFO order.
type mockOutcome struct {
	text string
	err  error
}

// MockModel is a lightweight in-memory Model useful for tests & examples.
// Outcomes queued via QueueResponse / QueueError are consumed first, in
// order; afterwards prompt-keyed canned responses apply, then a generic
// fallback. All calls are recorded for inspection.
type MockModel struct {
	mu        sync.Mutex
	info      Info
	responses map[string]string
	queue     []mockOutcome
	calls     []Request
}

// NewMockModel constructs a MockModel for the given name and provider.
func NewMockModel(name, provider string) *MockModel {
	return &MockModel{
		info: Info{
			Name:     name,
			Provider: provider,
		},
		responses: make(map[string]string),
	}
}

// AddResponse registers a deterministic canned completion for an input prompt.
func (m *MockModel) AddResponse(prompt, response string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses[prompt] = response
}

// QueueResponse appends a scripted completion consumed before keyed responses.
func (m *MockModel) QueueResponse(text string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queue = append(m.queue, mockOutcome{text: text})
}

// QueueError appends a scripted failure consumed before keyed responses.
func (m *MockModel) QueueError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queue = append(m.queue, mockOutcome{err: err})
}

// Calls returns a copy of every request seen so far.
func (m *MockModel) Calls() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Request, len(m.calls))
	copy(out, m.calls)
	return out
}

// Generate implements Model.
func (m *MockModel) Generate(ctx context.Context, req Request) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls = append(m.calls, req)

	if len(m.queue) > 0 {
		next := m.queue[0]
		m.queue = m.queue[1:]
		if next.err != nil {
			return nil, next.err
		}
		return &Response{Text: next.text, FinishReason: "stop"}, nil
	}

	full := m.responses[req.Prompt]
	if full == "" {
		full = fmt.Sprintf("Mock response to: %s", req.Prompt)
	}
	return &Response{Text: full, FinishReason: "stop"}, nil
}

// Info implements Model interface.
func (m *MockModel) Info() Info { return m.info }
