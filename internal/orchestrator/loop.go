package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/soyeahso/roundtable/internal/domain"
	"github.com/soyeahso/roundtable/internal/policy"
)

var errToolsRequested = errors.New("role may not request tools")

// run drives rounds until the sentinel appears or the budget is spent.
func (o *Orchestrator) run(ctx context.Context) (domain.StopReason, error) {
	for {
		o.mu.Lock()
		done := o.rounds >= o.maxRounds
		o.mu.Unlock()
		if done {
			o.finish()
			return domain.StopBudget, nil
		}

		msg, err := o.round(ctx)
		if err != nil {
			return domain.StopFailure, err
		}
		if o.afterRound(msg) {
			return domain.StopSentinel, nil
		}
	}
}

// afterRound records a completed round. It reports whether the sentinel
// ended the exchange.
func (o *Orchestrator) afterRound(msg domain.Message) bool {
	o.mu.Lock()
	o.history = append(o.history, msg)
	o.rounds++
	round := o.rounds
	obs := o.observer
	hitBudget := o.rounds >= o.maxRounds
	o.mu.Unlock()

	if obs != nil {
		obs(o.id, round, msg.Clone())
	}

	o.log.Debug().Int("round", round).Str("speaker", msg.Speaker).Str("kind", string(msg.Kind())).Msg("round appended")

	if strings.Contains(msg.Text(), Sentinel) {
		o.finish()
		return true
	}
	if hitBudget {
		o.finish()
	}
	return false
}

func (o *Orchestrator) finish() {
	o.mu.Lock()
	o.terminated = true
	o.state = StateTerminated
	o.observer = nil
	o.mu.Unlock()
}

// round produces and appends exactly one message. Policy violations are
// re-prompted, then the floor returns to the coordinator. Provider and
// tool failures are retried. Neither advances the round count.
func (o *Orchestrator) round(ctx context.Context) (domain.Message, error) {
	o.mu.Lock()
	history := domain.CloneMessages(o.history)
	current := o.current
	o.mu.Unlock()

	reprompts, retries := 0, 0
	for {
		if err := ctx.Err(); err != nil {
			return domain.Message{}, err
		}

		if o.deps.Graph.IsTerminal(current) {
			if current == domain.RoleCoordinator {
				return domain.Message{}, fmt.Errorf("%w: coordinator has no allowed successor", policy.ErrPolicyViolation)
			}
			o.log.Warn().Str("role", string(current)).Msg("terminal role holds the floor, returning it to the coordinator")
			current = domain.RoleCoordinator
			continue
		}
		allowed := o.deps.Graph.AllowedNext(current)

		var prop Proposal
		err := o.withTimeout(ctx, func(cctx context.Context) error {
			var perr error
			prop, perr = o.deps.Provider.ProposeNext(cctx, domain.CloneMessages(history), current, allowed)
			return perr
		})
		if err != nil {
			retries++
			o.log.Warn().Err(err).Int("attempt", retries).Msg("provider call failed")
			if retries > o.cfg.RetryBudget {
				return domain.Message{}, fmt.Errorf("provider: %w", err)
			}
			continue
		}

		violation := o.deps.Graph.Check(current, prop.Next)
		if violation == nil && len(prop.Message.Invocations) > 0 && !prop.Next.Capabilities().RequestsTools {
			violation = fmt.Errorf("%w: %s", errToolsRequested, prop.Next)
		}
		if violation != nil {
			reprompts++
			o.log.Warn().Err(violation).Int("attempt", reprompts).Msg("nomination rejected")
			if reprompts <= o.cfg.RepromptBudget {
				continue
			}
			if current == domain.RoleCoordinator {
				return domain.Message{}, violation
			}
			o.log.Info().Str("from", string(current)).Msg("reprompt budget spent, floor returns to coordinator")
			current = domain.RoleCoordinator
			reprompts = 0
			continue
		}

		agent, _ := o.deps.Roster.ByRole(prop.Next)
		var msg domain.Message
		if prop.Next.Capabilities().ExecutesTools {
			msg, err = o.executeTools(ctx, history, agent, prop.Message)
			if err != nil {
				retries++
				o.log.Warn().Err(err).Int("attempt", retries).Msg("tool execution failed")
				if retries > o.cfg.RetryBudget {
					return domain.Message{}, fmt.Errorf("tools: %w", err)
				}
				continue
			}
		} else {
			msg = o.shape(prop.Message, agent)
			if err := msg.Validate(); err != nil {
				retries++
				o.log.Warn().Err(err).Int("attempt", retries).Msg("provider produced a malformed message")
				if retries > o.cfg.RetryBudget {
					return domain.Message{}, fmt.Errorf("provider: %w", err)
				}
				continue
			}
		}

		stored := o.window.Append(msg)
		o.mu.Lock()
		o.current = prop.Next
		o.mu.Unlock()
		return stored, nil
	}
}

// shape attributes a proposed message to the nominated agent.
func (o *Orchestrator) shape(m domain.Message, agent domain.Agent) domain.Message {
	m = m.Clone()
	m.Speaker = agent.Name
	if m.Role == "" {
		if len(m.Invocations) > 0 {
			m.Role = domain.RoleAssistant
		} else {
			m.Role = agent.MessageRole()
		}
	}
	for i := range m.Invocations {
		if m.Invocations[i].ID == "" {
			m.Invocations[i].ID = "call_" + uuid.NewString()
		}
	}
	return m
}

// executeTools runs the invocations of the previous message. Guard
// rejections and permanent tool failures become error results; other
// failures are returned for retry.
func (o *Orchestrator) executeTools(ctx context.Context, history []domain.Message, agent domain.Agent, proposed domain.Message) (domain.Message, error) {
	var pending domain.Message
	if n := len(history); n > 0 && history[n-1].Kind() == domain.KindToolInvocation {
		pending = history[n-1]
	}
	if len(pending.Invocations) == 0 {
		text := proposed.Text()
		if text == "" {
			text = "No tool calls to execute."
		}
		return domain.NewTextMessage(agent.MessageRole(), agent.Name, text), nil
	}

	requester := domain.RoleUnknown
	if a, ok := o.deps.Roster.ByName(pending.Speaker); ok {
		requester = a.Role
	}

	results := make([]domain.ToolResult, 0, len(pending.Invocations))
	for _, inv := range pending.Invocations {
		res := domain.ToolResult{CallID: inv.ID, Name: inv.Name}

		if o.deps.Guard != nil {
			if err := o.deps.Guard.Check(ctx, requester, inv); err != nil {
				if !errors.Is(err, policy.ErrToolDenied) {
					return domain.Message{}, err
				}
				res.Content = err.Error()
				res.IsError = true
				results = append(results, res)
				continue
			}
		}

		if o.deps.Tools == nil {
			res.Content = "no tool executor is configured"
			res.IsError = true
			results = append(results, res)
			continue
		}

		var out string
		err := o.withTimeout(ctx, func(cctx context.Context) error {
			var ierr error
			out, ierr = o.deps.Tools.Invoke(cctx, inv.Name, inv.Arguments)
			return ierr
		})
		if err != nil {
			if !permanent(err) {
				return domain.Message{}, err
			}
			res.Content = err.Error()
			res.IsError = true
		} else {
			res.Content = out
		}
		results = append(results, res)
	}

	return domain.NewToolResult(agent.Name, results), nil
}

// permanent reports whether err says retrying cannot help.
func permanent(err error) bool {
	var t interface{ Temporary() bool }
	return errors.As(err, &t) && !t.Temporary()
}
