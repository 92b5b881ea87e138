package agent

import (
	"encoding/json"
	"regexp"
	"strings"
)

// toolCallRe matches ```tool_call\n{...}\n``` blocks in LLM output.
var toolCallRe = regexp.MustCompile("(?s)```tool_call\\s*\n(\\{.*?\\})\n\\s*```")

// xmlFuncCallRe matches <function_calls>...</function_calls> XML blocks.
var xmlFuncCallRe = regexp.MustCompile(`(?s)<function_calls>.*?</function_calls>`)

var blankRunRe = regexp.MustCompile(`\n{3,}`)

// fencedCall is a tool request written as a fenced block.
type fencedCall struct {
	Tool  string          `json:"tool"`
	Input json.RawMessage `json:"input"`
}

// arguments returns the input as a JSON object string.
func (c fencedCall) arguments() string {
	in := strings.TrimSpace(string(c.Input))
	if in == "" || in == "null" {
		return "{}"
	}
	return in
}

// parseToolCalls extracts fenced tool_call blocks. Blocks that are not
// valid JSON or name no tool are ignored.
func parseToolCalls(text string) []fencedCall {
	var calls []fencedCall
	for _, match := range toolCallRe.FindAllStringSubmatch(text, -1) {
		var c fencedCall
		if err := json.Unmarshal([]byte(match[1]), &c); err != nil {
			continue
		}
		if c.Tool != "" {
			calls = append(calls, c)
		}
	}
	return calls
}

// stripToolCalls removes tool request markup from model text.
func stripToolCalls(text string) string {
	cleaned := toolCallRe.ReplaceAllString(text, "\n\n")
	cleaned = xmlFuncCallRe.ReplaceAllString(cleaned, "\n\n")
	cleaned = blankRunRe.ReplaceAllString(cleaned, "\n\n")
	return strings.TrimSpace(cleaned)
}
