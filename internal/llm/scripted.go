package llm

import (
	"context"
	"sync"
)

// ScriptedClient replays a fixed list of responses in order. It serves
// offline demos and tests that need a deterministic provider.
type ScriptedClient struct {
	name string
	loop bool

	mu        sync.Mutex
	responses []CompletionResponse
	next      int
	requests  []CompletionRequest
}

// ScriptOption configures a ScriptedClient.
type ScriptOption func(*ScriptedClient)

// WithLoop restarts the script from the top once it runs out.
func WithLoop() ScriptOption {
	return func(s *ScriptedClient) { s.loop = true }
}

// NewScriptedClient creates a client replaying responses.
func NewScriptedClient(name string, responses []CompletionResponse, opts ...ScriptOption) *ScriptedClient {
	s := &ScriptedClient{
		name:      name,
		responses: append([]CompletionResponse(nil), responses...),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Name returns the provider name.
func (s *ScriptedClient) Name() string { return s.name }

// Complete returns the next scripted response. An exhausted script without
// looping fails with a non-retryable ProviderError.
func (s *ScriptedClient) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.requests = append(s.requests, req)
	if s.next >= len(s.responses) {
		if !s.loop || len(s.responses) == 0 {
			return nil, &ProviderError{Provider: s.name, Message: "script exhausted", Code: 410}
		}
		s.next = 0
	}
	resp := s.responses[s.next]
	s.next++
	resp.ToolCalls = append([]ToolCall(nil), resp.ToolCalls...)
	return &resp, nil
}

// Stream returns the next scripted response as a single delta.
func (s *ScriptedClient) Stream(ctx context.Context, req CompletionRequest) (<-chan StreamEvent, error) {
	return completeAsStream(ctx, s, req)
}

// Requests returns the requests seen so far.
func (s *ScriptedClient) Requests() []CompletionRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]CompletionRequest(nil), s.requests...)
}

// Reset rewinds the script.
func (s *ScriptedClient) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next = 0
	s.requests = nil
}
