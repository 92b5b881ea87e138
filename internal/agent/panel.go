package agent

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/soyeahso/roundtable/internal/domain"
	"github.com/soyeahso/roundtable/internal/llm"
	"github.com/soyeahso/roundtable/internal/logging"
	"github.com/soyeahso/roundtable/internal/orchestrator"
	"github.com/soyeahso/roundtable/internal/tools"
	"github.com/soyeahso/roundtable/internal/window"
)

const selectorMaxTokens = 32

var errEmptyReply = errors.New("model returned an empty reply")

// PanelConfig tunes completion requests.
type PanelConfig struct {
	MaxTokens       int
	Temperature     *float64
	MaxContextChars int  // zero disables the replay size check
	FencedTools     bool // describe tools in the prompt instead of sending them natively
}

// Panel is the conversation's provider. Each round it asks the model to
// pick the next speaker among the allowed roles, then generates that
// agent's turn. The executor's turn is left to the orchestrator.
type Panel struct {
	client   llm.Client
	profiles map[domain.Role]Profile
	roster   *domain.Roster
	tools    *tools.Registry
	cfg      PanelConfig
	log      *logging.Logger
	now      func() time.Time
}

// NewPanel builds a panel over profiles. reg may be nil, in which case no
// role is offered tools.
func NewPanel(client llm.Client, profiles []Profile, reg *tools.Registry, cfg PanelConfig, log *logging.Logger) (*Panel, error) {
	roster, err := NewRoster(profiles)
	if err != nil {
		return nil, err
	}
	byRole := make(map[domain.Role]Profile, len(profiles))
	for _, p := range profiles {
		byRole[p.Role] = p
	}
	return &Panel{
		client:   client,
		profiles: byRole,
		roster:   roster,
		tools:    reg,
		cfg:      cfg,
		log:      log.Sub("panel"),
		now:      time.Now,
	}, nil
}

// Roster returns the agents the panel speaks for.
func (p *Panel) Roster() *domain.Roster {
	return p.roster
}

// ProposeNext implements orchestrator.Provider.
func (p *Panel) ProposeNext(ctx context.Context, history []domain.Message, current domain.Role, allowed []domain.Role) (orchestrator.Proposal, error) {
	next, err := p.selectSpeaker(ctx, history, allowed)
	if err != nil {
		return orchestrator.Proposal{}, fmt.Errorf("selecting speaker: %w", err)
	}
	p.log.Debug().Str("from", string(current)).Str("next", string(next)).Msg("speaker selected")

	// Nothing to generate for a nomination the orchestrator will reject or
	// for the executor, whose turn is the tool results.
	if !slices.Contains(allowed, next) || next.Capabilities().ExecutesTools {
		return orchestrator.Proposal{Next: next}, nil
	}

	msg, err := p.generate(ctx, history, next)
	if err != nil {
		return orchestrator.Proposal{}, err
	}
	return orchestrator.Proposal{Message: msg, Next: next}, nil
}

// Rehydrate implements orchestrator.Rehydrator. The panel keeps no
// server-side state, so it only checks the replay fits the context budget.
func (p *Panel) Rehydrate(_ context.Context, prefix []domain.Message) error {
	if p.cfg.MaxContextChars <= 0 {
		return nil
	}
	total := 0
	for _, m := range prefix {
		total += len(window.Render(m))
	}
	if total > p.cfg.MaxContextChars {
		return fmt.Errorf("replayed context is %d characters, limit is %d", total, p.cfg.MaxContextChars)
	}
	p.log.Debug().Int("messages", len(prefix)).Int("chars", total).Msg("context replayed")
	return nil
}

// selectSpeaker picks the next role. A single candidate, or a pending tool
// call with the executor allowed, needs no model call.
func (p *Panel) selectSpeaker(ctx context.Context, history []domain.Message, allowed []domain.Role) (domain.Role, error) {
	switch len(allowed) {
	case 0:
		return domain.RoleUnknown, nil
	case 1:
		return allowed[0], nil
	}
	if n := len(history); n > 0 && history[n-1].Kind() == domain.KindToolInvocation {
		for _, r := range allowed {
			if r.Capabilities().ExecutesTools {
				return r, nil
			}
		}
	}

	candidates := make([]Profile, 0, len(allowed))
	for _, r := range allowed {
		if prof, ok := p.profiles[r]; ok {
			candidates = append(candidates, prof)
		}
	}

	resp, err := p.client.Complete(ctx, llm.CompletionRequest{
		System:      BuildSelectorPrompt(candidates),
		Messages:    transcript(history, ""),
		MaxTokens:   selectorMaxTokens,
		Temperature: zero(),
	})
	if err != nil {
		return domain.RoleUnknown, err
	}
	return p.matchRole(resp.Content, candidates), nil
}

// matchRole maps a selector reply to a role: an allowed agent's name
// first, then any roster name, then a role name.
func (p *Panel) matchRole(reply string, candidates []Profile) domain.Role {
	reply = strings.TrimSpace(reply)
	lower := strings.ToLower(reply)

	best, bestAt := domain.RoleUnknown, -1
	for _, c := range candidates {
		if strings.EqualFold(reply, c.Name) {
			return c.Role
		}
		if i := strings.Index(lower, strings.ToLower(c.Name)); i >= 0 && (bestAt < 0 || i < bestAt) {
			best, bestAt = c.Role, i
		}
	}
	if best != domain.RoleUnknown {
		return best
	}

	for _, a := range p.roster.Agents() {
		if strings.Contains(lower, strings.ToLower(a.Name)) {
			return a.Role
		}
	}
	if r, err := domain.ParseRole(reply); err == nil {
		return r
	}
	p.log.Warn().Str("reply", reply).Msg("selector named no known agent")
	return domain.RoleUnknown
}

// generate produces one turn for role.
func (p *Panel) generate(ctx context.Context, history []domain.Message, role domain.Role) (domain.Message, error) {
	prof := p.profiles[role]
	agent, _ := p.roster.ByRole(role)

	var defs []tools.Definition
	if role.Capabilities().RequestsTools && p.tools != nil {
		defs = p.tools.Definitions(tools.RoleTools[role]...)
	}

	req := llm.CompletionRequest{
		System: BuildSystemPrompt(PromptConfig{
			AgentName:    prof.Name,
			Directive:    prof.Directive,
			Participants: p.roster.Names(),
			Tools:        defs,
			FencedTools:  p.cfg.FencedTools,
			Now:          p.now(),
		}),
		Messages:    transcript(history, prof.Name),
		MaxTokens:   p.cfg.MaxTokens,
		Temperature: p.cfg.Temperature,
	}
	if !p.cfg.FencedTools {
		for _, d := range defs {
			req.Tools = append(req.Tools, llm.ToolDefinition{Name: d.Name, Description: d.Description, InputSchema: d.InputSchema})
		}
	}

	resp, err := p.client.Complete(ctx, req)
	if err != nil {
		return domain.Message{}, fmt.Errorf("%s: %w", prof.Name, err)
	}

	if len(resp.ToolCalls) > 0 {
		calls := make([]domain.ToolInvocation, len(resp.ToolCalls))
		for i, tc := range resp.ToolCalls {
			args := tc.Input
			if strings.TrimSpace(args) == "" {
				args = "{}"
			}
			calls[i] = domain.ToolInvocation{ID: tc.ID, Name: tc.Name, Arguments: args}
		}
		return domain.NewToolInvocation(prof.Name, calls), nil
	}

	if fenced := parseToolCalls(resp.Content); len(fenced) > 0 {
		calls := make([]domain.ToolInvocation, len(fenced))
		for i, c := range fenced {
			calls[i] = domain.ToolInvocation{Name: c.Tool, Arguments: c.arguments()}
		}
		if rest := stripToolCalls(resp.Content); rest != "" {
			p.log.Debug().Str("agent", prof.Name).Str("text", rest).Msg("text alongside tool calls dropped")
		}
		return domain.NewToolInvocation(prof.Name, calls), nil
	}

	text := strings.TrimSpace(resp.Content)
	if text == "" {
		return domain.Message{}, fmt.Errorf("%s: %w", prof.Name, errEmptyReply)
	}
	return domain.NewTextMessage(agent.MessageRole(), prof.Name, text), nil
}

// transcript renders history as completion messages from self's point of
// view: self's own turns are assistant turns, everyone else's are user
// turns prefixed with the speaker. An empty self renders every turn as a
// user turn.
func transcript(history []domain.Message, self string) []llm.Message {
	out := make([]llm.Message, 0, len(history))
	for _, m := range history {
		body := window.Render(m)
		switch m.Kind() {
		case domain.KindToolInvocation:
			body = "Requested tool calls:\n" + body
		case domain.KindToolResult:
			body = "Tool results:\n" + body
		}
		if strings.TrimSpace(body) == "" {
			continue
		}
		if self != "" && m.Speaker == self && m.Kind() != domain.KindToolResult {
			out = append(out, llm.Message{Role: llm.RoleAssistant, Content: body})
			continue
		}
		out = append(out, llm.Message{Role: llm.RoleUser, Content: m.Speaker + ": " + body})
	}
	return out
}

func zero() *float64 {
	var z float64
	return &z
}
