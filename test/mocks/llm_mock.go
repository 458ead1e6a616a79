package mocks

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"periscope/internal/llm"
)

// MockCall records one agent run.
type MockCall struct {
	SystemPrompt string
	Prompt       string
}

// MockProvider provides a scriptable implementation of llm.Provider.
// RunFunc returns the structured value the model would produce; it is
// JSON-encoded and decoded into the caller's output like a real backend.
type MockProvider struct {
	RunFunc func(ctx context.Context, systemPrompt, prompt string) (any, error)

	mu    sync.Mutex
	calls []MockCall
}

// NewMockProvider creates a provider answering every prompt with respond.
func NewMockProvider(respond func(systemPrompt, prompt string) (any, error)) *MockProvider {
	return &MockProvider{
		RunFunc: func(_ context.Context, systemPrompt, prompt string) (any, error) {
			return respond(systemPrompt, prompt)
		},
	}
}

// FailingProvider returns a provider whose agents always fail.
func FailingProvider() *MockProvider {
	return NewMockProvider(func(string, string) (any, error) {
		return nil, fmt.Errorf("mock model unavailable")
	})
}

func (m *MockProvider) Name() string { return "mock" }

func (m *MockProvider) CreateAgent(_ *llm.Schema, systemPrompt string) llm.Agent {
	return &mockAgent{p: m, system: systemPrompt}
}

// Calls returns the number of runs so far.
func (m *MockProvider) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

// CallsMatching counts runs whose prompt contains substr.
func (m *MockProvider) CallsMatching(substr string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.calls {
		if strings.Contains(c.Prompt, substr) || strings.Contains(c.SystemPrompt, substr) {
			n++
		}
	}
	return n
}

// History returns a copy of every recorded run.
func (m *MockProvider) History() []MockCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]MockCall(nil), m.calls...)
}

type mockAgent struct {
	p      *MockProvider
	system string
}

func (a *mockAgent) Run(ctx context.Context, prompt string, out any) error {
	a.p.mu.Lock()
	a.p.calls = append(a.p.calls, MockCall{SystemPrompt: a.system, Prompt: prompt})
	a.p.mu.Unlock()

	if a.p.RunFunc == nil {
		return fmt.Errorf("mock provider has no RunFunc")
	}
	result, err := a.p.RunFunc(ctx, a.system, prompt)
	if err != nil {
		return err
	}
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("mock encode: %w", err)
	}
	return llm.DecodeJSON(string(data), out)
}
