// Package llm defines the completion client interface and the provider
// adapters behind it. Hosted providers (OpenAI, Anthropic, Gemini) are
// wrapped behind Client; a Registry resolves a provider or model name to a
// client, and ScriptedClient replays canned responses for offline runs.
package llm

import (
	"context"
	"time"
)

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Kinds of StreamEvent.
const (
	EventDelta = "delta"
	EventDone  = "done"
	EventError = "error"
)

// Client completes a prompt against one provider.
type Client interface {
	Name() string
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
	// Stream delivers EventDelta chunks and ends with exactly one EventDone
	// or EventError. The channel is closed afterwards.
	Stream(ctx context.Context, req CompletionRequest) (<-chan StreamEvent, error)
}

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ToolDefinition advertises a callable tool. InputSchema is a JSON Schema
// document.
type ToolDefinition struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	InputSchema string `json:"inputSchema"`
}

// CompletionRequest leaves Model empty to use the client's configured
// model. A nil Temperature keeps the provider default.
type CompletionRequest struct {
	Model       string           `json:"model,omitempty"`
	System      string           `json:"system,omitempty"`
	Messages    []Message        `json:"messages"`
	Tools       []ToolDefinition `json:"tools,omitempty"`
	MaxTokens   int              `json:"maxTokens,omitempty"`
	Temperature *float64         `json:"temperature,omitempty"`
}

type CompletionResponse struct {
	Content    string        `json:"content"`
	ToolCalls  []ToolCall    `json:"toolCalls,omitempty"`
	StopReason string        `json:"stopReason,omitempty"`
	Model      string        `json:"model,omitempty"`
	Usage      Usage         `json:"usage"`
	Duration   time.Duration `json:"duration,omitempty"`
}

// ToolCall is a native tool invocation. Input holds the JSON arguments.
type ToolCall struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Input string `json:"input"`
}

type Usage struct {
	InputTokens  int `json:"inputTokens"`
	OutputTokens int `json:"outputTokens"`
}

// StreamEvent carries Content for EventDelta, Error for EventError and the
// assembled Response for EventDone.
type StreamEvent struct {
	Type     string              `json:"type"`
	Content  string              `json:"content,omitempty"`
	Error    string              `json:"error,omitempty"`
	Response *CompletionResponse `json:"response,omitempty"`
}

// mergeTurns folds consecutive messages of the same role into one turn and
// drops system messages. Providers that require strictly alternating turns
// starting with the user get a leading user turn when the history opens
// with the assistant.
func mergeTurns(msgs []Message) []Message {
	out := make([]Message, 0, len(msgs))
	for _, m := range msgs {
		if m.Role == RoleSystem || m.Content == "" {
			continue
		}
		role := m.Role
		if role != RoleAssistant {
			role = RoleUser
		}
		if n := len(out); n > 0 && out[n-1].Role == role {
			out[n-1].Content += "\n\n" + m.Content
			continue
		}
		out = append(out, Message{Role: role, Content: m.Content})
	}
	if len(out) > 0 && out[0].Role == RoleAssistant {
		out = append([]Message{{Role: RoleUser, Content: "Continue the conversation."}}, out...)
	}
	return out
}

// completeAsStream adapts a single completion into the streaming shape.
func completeAsStream(ctx context.Context, c Client, req CompletionRequest) (<-chan StreamEvent, error) {
	resp, err := c.Complete(ctx, req)
	if err != nil {
		return nil, err
	}
	ch := make(chan StreamEvent, 2)
	if resp.Content != "" {
		ch <- StreamEvent{Type: EventDelta, Content: resp.Content}
	}
	ch <- StreamEvent{Type: EventDone, Response: resp}
	close(ch)
	return ch, nil
}
