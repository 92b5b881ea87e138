// Package redact flattens, bounds, and scrubs a conversation tail before it
// is replayed to the completion provider.
package redact

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/soyeahso/roundtable/internal/domain"
)

const (
	// Placeholder replaces every fenced block.
	Placeholder = "TRUNCATED_MESSAGE"

	// ClosingText is the acknowledgement appended after a replayed tail.
	ClosingText = "Thank you, reviewing and will follow up."

	toolCallsHeader    = "Context from previous tool calls:"
	toolResponseHeader = "Context from previous tool response:"

	headCap   = 600
	headCount = 4
	tailCap   = 1000
	promptCap = 1000
)

// fenceRe matches ~~~...~~~ blocks, non-greedy, across newlines.
var fenceRe = regexp.MustCompile(`(?s)~~~.*?~~~`)

// Pipeline holds the identity used for the closing turn. It has no mutable
// state, so one value can be shared by every session.
type Pipeline struct {
	coordinator string
}

// New creates a pipeline whose closing turn is attributed to coordinator.
func New(coordinator string) Pipeline {
	return Pipeline{coordinator: coordinator}
}

// Apply returns a sanitized copy of msgs. The input is never modified.
func (p Pipeline) Apply(msgs []domain.Message) []domain.Message {
	out := make([]domain.Message, 0, len(msgs)+1)
	textSeen := 0

	for _, src := range msgs {
		m := src.Clone()

		switch m.Kind() {
		case domain.KindToolInvocation:
			m = flattenInvocations(m)
		case domain.KindToolResult:
			m = flattenResults(m)
		}

		for i := range m.Items {
			if m.Items[i].Type == "text" {
				m.Items[i].Text = ReplaceFences(m.Items[i].Text)
			}
		}
		if len(m.Items) > 0 && m.Content == "" {
			out = append(out, m)
			continue
		}

		// Fences go first so the placeholder can never push a turn past its cap.
		textSeen++
		limit := tailCap
		if textSeen <= headCount {
			limit = headCap
		}
		m.Content = truncate(ReplaceFences(m.Content), limit)

		out = append(out, m)
	}

	if p.endsClosed(out) {
		return out
	}
	return append(out, p.closing(out))
}

// closing builds the acknowledgement turn. It takes its timestamp from the
// last turn so the same input always yields the same output.
func (p Pipeline) closing(msgs []domain.Message) domain.Message {
	m := domain.Message{
		Role:    domain.RoleUser,
		Speaker: p.coordinator,
		Content: ClosingText,
	}
	if len(msgs) > 0 {
		m.CreatedAt = msgs[len(msgs)-1].CreatedAt
	}
	return m
}

// endsClosed reports whether msgs already ends with this pipeline's
// closing turn, which keeps a second pass from stacking another one.
func (p Pipeline) endsClosed(msgs []domain.Message) bool {
	if len(msgs) == 0 {
		return false
	}
	last := msgs[len(msgs)-1]
	return last.Kind() == domain.KindPlainText &&
		last.Speaker == p.coordinator &&
		last.Content == ClosingText
}

func flattenInvocations(m domain.Message) domain.Message {
	var b strings.Builder
	b.WriteString(toolCallsHeader)
	for _, inv := range m.Invocations {
		b.WriteString("\n function name: ")
		b.WriteString(inv.Name)
		b.WriteString("\n function arguments: ")
		b.WriteString(marshalString(inv.Arguments))
	}
	return domain.Message{
		SequenceID: m.SequenceID,
		Role:       domain.RoleUser,
		Speaker:    m.Speaker,
		Content:    b.String(),
		CreatedAt:  m.CreatedAt,
	}
}

func flattenResults(m domain.Message) domain.Message {
	var b strings.Builder
	b.WriteString(toolResponseHeader)
	for _, r := range m.Results {
		b.WriteString(marshalString(r.Content))
	}
	return domain.Message{
		SequenceID: m.SequenceID,
		Role:       domain.RoleUser,
		Speaker:    m.Speaker,
		Content:    b.String(),
		CreatedAt:  m.CreatedAt,
	}
}

func marshalString(s string) string {
	data, err := json.Marshal(s)
	if err != nil {
		return s
	}
	return string(data)
}

// ReplaceFences swaps every fenced block in s for the placeholder.
func ReplaceFences(s string) string {
	if !strings.Contains(s, "~~~") {
		return s
	}
	return fenceRe.ReplaceAllLiteralString(s, Placeholder)
}

// truncate keeps at most n runes of s.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

// SanitizePrompt cleans an inbound user prompt: capped, fences replaced,
// surrounding whitespace trimmed. The bool reports whether anything changed.
func SanitizePrompt(prompt string) (string, bool) {
	cleaned := strings.TrimSpace(ReplaceFences(truncate(prompt, promptCap)))
	return cleaned, cleaned != prompt
}

// CountPlaceholders counts messages whose text carries the placeholder.
// Structured items are counted individually.
func CountPlaceholders(msgs []domain.Message) int {
	count := 0
	for _, m := range msgs {
		if len(m.Items) == 0 {
			if strings.Contains(m.Content, Placeholder) {
				count++
			}
			continue
		}
		for _, it := range m.Items {
			if strings.Contains(it.Text, Placeholder) {
				count++
			}
		}
	}
	return count
}

// Report compares placeholder counts before and after a pass. The bool is
// false when nothing new was redacted.
func Report(pre, post []domain.Message) (string, bool) {
	n := CountPlaceholders(post) - CountPlaceholders(pre)
	if n <= 0 {
		return "", false
	}
	return fmt.Sprintf("Redacted %d Matching Patterns.", n), true
}
