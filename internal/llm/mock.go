package llm

import (
	"context"
	"sync"
)

// MockClient is a Client for tests. Without CompleteFunc it answers every
// request with Reply, or "mock response" when Reply is empty. Stream
// defaults to Complete delivered as one delta.
type MockClient struct {
	ProviderName string
	Reply        string
	CompleteFunc func(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
	StreamFunc   func(ctx context.Context, req CompletionRequest) (<-chan StreamEvent, error)

	mu    sync.Mutex
	calls int
}

func (m *MockClient) Name() string { return m.ProviderName }

// Calls reports how many Complete or Stream calls reached the mock.
func (m *MockClient) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func (m *MockClient) count() {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()
}

func (m *MockClient) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	m.count()
	if m.CompleteFunc != nil {
		return m.CompleteFunc(ctx, req)
	}
	reply := m.Reply
	if reply == "" {
		reply = "mock response"
	}
	return &CompletionResponse{Content: reply, Model: m.ProviderName}, nil
}

func (m *MockClient) Stream(ctx context.Context, req CompletionRequest) (<-chan StreamEvent, error) {
	if m.StreamFunc != nil {
		m.count()
		return m.StreamFunc(ctx, req)
	}
	return completeAsStream(ctx, m, req)
}
