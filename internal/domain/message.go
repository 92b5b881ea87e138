package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrMalformedMessage marks a log entry that is missing required fields.
var ErrMalformedMessage = errors.New("malformed message")

// MessageRole is the speaker category of a turn.
type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
	RoleTool      MessageRole = "tool"
)

// Valid reports whether r is one of the known message roles.
func (r MessageRole) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleTool:
		return true
	}
	return false
}

// Kind classifies message content for the redaction pipeline.
type Kind string

const (
	KindPlainText      Kind = "plain_text"
	KindToolInvocation Kind = "tool_invocation"
	KindToolResult     Kind = "tool_result"
)

// ToolInvocation is a request from a specialist to run a named tool.
type ToolInvocation struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"` // JSON string
}

// ToolResult is the payload returned for one invocation.
type ToolResult struct {
	CallID  string `json:"callId"`
	Name    string `json:"name"`
	Content string `json:"content"`
	IsError bool   `json:"isError,omitempty"`
}

// ContentItem is one structured content part. Only "text" items carry text.
type ContentItem struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// Message is one turn of a conversation. Treat it as a value: slices are
// copied on construction and by Clone, never shared with the caller.
type Message struct {
	SequenceID  int64            `json:"sequenceId"`
	Role        MessageRole      `json:"role"`
	Speaker     string           `json:"speaker"`
	Content     string           `json:"content"`
	Items       []ContentItem    `json:"items,omitempty"`
	Invocations []ToolInvocation `json:"invocations,omitempty"`
	Results     []ToolResult     `json:"results,omitempty"`
	CreatedAt   time.Time        `json:"createdAt"`
}

// NewTextMessage builds a plain text turn.
func NewTextMessage(role MessageRole, speaker, content string) Message {
	return Message{
		Role:      role,
		Speaker:   speaker,
		Content:   content,
		CreatedAt: time.Now(),
	}
}

// NewItemsMessage builds a turn whose content is a list of structured items.
func NewItemsMessage(role MessageRole, speaker string, items []ContentItem) Message {
	return Message{
		Role:      role,
		Speaker:   speaker,
		Items:     append([]ContentItem(nil), items...),
		CreatedAt: time.Now(),
	}
}

// NewToolInvocation builds an assistant turn requesting tool calls.
func NewToolInvocation(speaker string, calls []ToolInvocation) Message {
	return Message{
		Role:        RoleAssistant,
		Speaker:     speaker,
		Invocations: append([]ToolInvocation(nil), calls...),
		CreatedAt:   time.Now(),
	}
}

// NewToolResult builds a tool turn carrying execution results.
func NewToolResult(speaker string, results []ToolResult) Message {
	return Message{
		Role:      RoleTool,
		Speaker:   speaker,
		Results:   append([]ToolResult(nil), results...),
		CreatedAt: time.Now(),
	}
}

// Kind reports how the message content is shaped. Invocations win over
// results when both are present.
func (m Message) Kind() Kind {
	switch {
	case len(m.Invocations) > 0:
		return KindToolInvocation
	case len(m.Results) > 0:
		return KindToolResult
	default:
		return KindPlainText
	}
}

// Text returns the textual content: the string content followed by the
// text of any structured items.
func (m Message) Text() string {
	if len(m.Items) == 0 {
		return m.Content
	}
	var b strings.Builder
	b.WriteString(m.Content)
	for _, it := range m.Items {
		if it.Type != "text" || it.Text == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString(it.Text)
	}
	return b.String()
}

// Clone returns a deep copy of the message.
func (m Message) Clone() Message {
	c := m
	if m.Items != nil {
		c.Items = append([]ContentItem(nil), m.Items...)
	}
	if m.Invocations != nil {
		c.Invocations = append([]ToolInvocation(nil), m.Invocations...)
	}
	if m.Results != nil {
		c.Results = append([]ToolResult(nil), m.Results...)
	}
	return c
}

// Validate reports ErrMalformedMessage when required fields are missing.
func (m Message) Validate() error {
	if !m.Role.Valid() {
		return fmt.Errorf("%w: unknown role %q", ErrMalformedMessage, m.Role)
	}
	if strings.TrimSpace(m.Speaker) == "" {
		return fmt.Errorf("%w: missing speaker", ErrMalformedMessage)
	}
	for _, inv := range m.Invocations {
		if inv.Name == "" {
			return fmt.Errorf("%w: tool invocation without a name", ErrMalformedMessage)
		}
	}
	for _, it := range m.Items {
		if it.Type == "" {
			return fmt.Errorf("%w: content item without a type", ErrMalformedMessage)
		}
	}
	return nil
}

// CloneMessages deep-copies a slice of messages.
func CloneMessages(msgs []Message) []Message {
	if msgs == nil {
		return nil
	}
	out := make([]Message, len(msgs))
	for i, m := range msgs {
		out[i] = m.Clone()
	}
	return out
}
