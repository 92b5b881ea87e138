package agent

import (
	"fmt"
	"strings"
	"time"

	"github.com/soyeahso/roundtable/internal/tools"
)

// PromptConfig controls system prompt generation.
type PromptConfig struct {
	AgentName    string
	Directive    string
	Participants []string
	Tools        []tools.Definition
	// FencedTools describes tools in the prompt for models without native
	// function calling.
	FencedTools bool
	Now         time.Time
}

// BuildSystemPrompt constructs the system prompt for one agent's turn.
func BuildSystemPrompt(cfg PromptConfig) string {
	var b strings.Builder

	if cfg.Directive != "" {
		b.WriteString(strings.TrimSpace(cfg.Directive))
		b.WriteString("\n\n")
	}

	now := cfg.Now
	if now.IsZero() {
		now = time.Now()
	}
	fmt.Fprintf(&b, "Current date: %s\n", now.Format("2006-01-02"))
	if cfg.AgentName != "" {
		fmt.Fprintf(&b, "You are %s", cfg.AgentName)
		if len(cfg.Participants) > 0 {
			fmt.Fprintf(&b, ", in a group chat with %s", strings.Join(others(cfg.Participants, cfg.AgentName), ", "))
		}
		b.WriteString(".\n")
	}

	if len(cfg.Tools) == 0 {
		return b.String()
	}

	b.WriteString("\nGuidelines:\n")
	b.WriteString("- Request a tool call and let the executor run it; never invent tool results.\n")
	b.WriteString("- Request at most the calls needed for the current question.\n")

	if cfg.FencedTools {
		b.WriteString("\n## Available Tools\n\n")
		b.WriteString("You can call tools by outputting a fenced code block with the language tag `tool_call`:\n\n")
		b.WriteString("```tool_call\n{\"tool\": \"tool_name\", \"input\": {\"param\": \"value\"}}\n```\n\n")
		for _, t := range cfg.Tools {
			fmt.Fprintf(&b, "### %s\n%s\n", t.Name, t.Description)
			if t.InputSchema != "" {
				fmt.Fprintf(&b, "Input schema: %s\n", t.InputSchema)
			}
			b.WriteString("\n")
		}
	}

	return b.String()
}

func others(names []string, self string) []string {
	out := make([]string, 0, len(names))
	for _, n := range names {
		if n != self {
			out = append(out, n)
		}
	}
	return out
}

// BuildSelectorPrompt asks the model to name the next speaker.
func BuildSelectorPrompt(candidates []Profile) string {
	var b strings.Builder
	b.WriteString("You are in a role play game. The following roles are available:\n")
	names := make([]string, len(candidates))
	for i, p := range candidates {
		fmt.Fprintf(&b, "%s: %s\n", p.Name, p.Description)
		names[i] = p.Name
	}
	fmt.Fprintf(&b, "\nRead the following conversation. Then select the next role from %s to play. Only return the role.",
		strings.Join(names, ", "))
	return b.String()
}
