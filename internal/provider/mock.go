package provider

import (
	"context"
	"sync"
)

// Mock is a deterministic adapter for testing. Responses and errors are
// played back in the order they were scripted; the final entry repeats once
// the script is exhausted.
type Mock struct {
	// NameValue is the adapter name, "mock" when empty.
	NameValue string

	// Modalities restricts what the mock supports. Empty means text.
	Modalities []Modality

	// Script is the ordered sequence of outcomes.
	Script []MockOutcome

	mu       sync.Mutex
	calls    int
	Requests []Request
}

// MockOutcome is one scripted generation result.
type MockOutcome struct {
	Content string
	Err     error
}

// NewMock creates a mock that always returns content.
func NewMock(content string) *Mock {
	return &Mock{Script: []MockOutcome{{Content: content}}}
}

// NewMockWithError creates a mock that always fails.
func NewMockWithError(err error) *Mock {
	return &Mock{Script: []MockOutcome{{Err: err}}}
}

// Name returns the adapter identifier.
func (m *Mock) Name() string {
	if m.NameValue != "" {
		return m.NameValue
	}
	return "mock"
}

// Supports reports the scripted capability set.
func (m *Mock) Supports(mod Modality) bool {
	if len(m.Modalities) == 0 {
		return mod == ModalityText
	}
	for _, supported := range m.Modalities {
		if supported == mod {
			return true
		}
	}
	return false
}

// Calls returns how many times Generate or GenerateStream ran.
func (m *Mock) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// Generate returns the next scripted outcome.
func (m *Mock) Generate(ctx context.Context, req Request) (*Result, error) {
	outcome := m.next(req)
	if outcome.Err != nil {
		return nil, outcome.Err
	}
	return &Result{Content: outcome.Content, FinishReason: "stop"}, nil
}

// GenerateStream returns the next scripted outcome, replayed as word chunks
// with no delay.
func (m *Mock) GenerateStream(ctx context.Context, req Request, onChunk func(string)) (*Result, error) {
	outcome := m.next(req)
	if outcome.Err != nil {
		return nil, outcome.Err
	}
	if err := simulateStream(ctx, outcome.Content, onChunk, 0); err != nil {
		return nil, err
	}
	return &Result{Content: outcome.Content, FinishReason: "stop"}, nil
}

func (m *Mock) next(req Request) MockOutcome {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Requests = append(m.Requests, req)
	idx := m.calls
	m.calls++
	if idx >= len(m.Script) {
		idx = len(m.Script) - 1
	}
	if idx < 0 {
		return MockOutcome{}
	}
	return m.Script[idx]
}
