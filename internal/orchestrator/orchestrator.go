// Package orchestrator drives one conversation: it resumes prior context,
// runs the round loop against the completion provider, and assembles the
// result returned to callers.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/soyeahso/roundtable/internal/domain"
	"github.com/soyeahso/roundtable/internal/logging"
	"github.com/soyeahso/roundtable/internal/policy"
	"github.com/soyeahso/roundtable/internal/redact"
	"github.com/soyeahso/roundtable/internal/window"
)

// Sentinel ends an exchange when it appears in a message's text.
const Sentinel = "TERMINATE"

var (
	ErrResumeFailure = errors.New("resume failed")
	ErrTerminated    = errors.New("conversation terminated")
	ErrSessionBusy   = errors.New("session busy")
	ErrNoExchange    = errors.New("no active exchange")
	ErrEmptyPrompt   = errors.New("empty prompt")
)

// Proposal is one produced turn and the role that speaks it. For a role
// that executes tools the message may be empty; the orchestrator builds
// the tool results itself.
type Proposal struct {
	Message domain.Message
	Next    domain.Role
}

// Provider produces the next turn. It may nominate a role outside allowed;
// the orchestrator rejects such nominations.
type Provider interface {
	ProposeNext(ctx context.Context, history []domain.Message, current domain.Role, allowed []domain.Role) (Proposal, error)
}

// Rehydrator is implemented by providers that keep server-side context and
// need the replayed prefix before a resumed exchange.
type Rehydrator interface {
	Rehydrate(ctx context.Context, prefix []domain.Message) error
}

// ToolExecutor runs a named tool with JSON arguments.
type ToolExecutor interface {
	Invoke(ctx context.Context, name, args string) (string, error)
}

// ToolGuard vets a tool call before it runs. A rejection becomes an error
// result in the conversation, not a failed round.
type ToolGuard interface {
	Check(ctx context.Context, role domain.Role, inv domain.ToolInvocation) error
}

// BusyPolicy decides what happens to a submit while another is in flight.
type BusyPolicy string

const (
	BusySerialize BusyPolicy = "serialize"
	BusyReject    BusyPolicy = "reject"
)

// Config holds the loop budgets.
type Config struct {
	MaxRounds          int
	RoundChatMaxRounds int
	WindowSize         int
	CallTimeout        time.Duration
	RetryBudget        int
	RepromptBudget     int
	BusyPolicy         BusyPolicy
}

// DefaultConfig returns the standard budgets.
func DefaultConfig() Config {
	return Config{
		MaxRounds:          7,
		RoundChatMaxRounds: 5,
		WindowSize:         window.DefaultSize,
		CallTimeout:        2 * time.Minute,
		RetryBudget:        2,
		RepromptBudget:     2,
		BusyPolicy:         BusySerialize,
	}
}

func (c Config) maxRounds(mode domain.Mode) int {
	if mode == domain.ModeRoundChat {
		return c.RoundChatMaxRounds
	}
	return c.MaxRounds
}

// State is the orchestrator lifecycle state.
type State int

const (
	StateIdle State = iota
	StateResuming
	StateActive
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateResuming:
		return "resuming"
	case StateActive:
		return "active"
	case StateTerminated:
		return "terminated"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Observer is called after each round message is appended.
type Observer func(sessionID string, round int, msg domain.Message)

// Deps are the collaborators of an orchestrator. Tools and Guard are optional.
type Deps struct {
	Roster   *domain.Roster
	Graph    *policy.Graph
	Provider Provider
	Tools    ToolExecutor
	Guard    ToolGuard
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithWindow replaces the empty in-memory log, e.g. with a restored one.
func WithWindow(w *window.Log) Option {
	return func(o *Orchestrator) { o.window = w }
}

// Orchestrator owns the conversation state of one session.
type Orchestrator struct {
	id       string
	deps     Deps
	cfg      Config
	pipeline redact.Pipeline
	window   *window.Log
	log      *logging.Logger

	// sem admits one exchange at a time; a channel so waiters can give up
	// on ctx.
	sem chan struct{}

	mu         sync.Mutex
	state      State
	rounds     int
	maxRounds  int
	current    domain.Role
	history    []domain.Message
	terminated bool
	observer   Observer
}

// New creates an orchestrator for session id.
func New(id string, deps Deps, cfg Config, log *logging.Logger, opts ...Option) (*Orchestrator, error) {
	if deps.Roster == nil {
		return nil, errors.New("orchestrator: roster is required")
	}
	if deps.Graph == nil {
		return nil, errors.New("orchestrator: transition graph is required")
	}
	if deps.Provider == nil {
		return nil, errors.New("orchestrator: provider is required")
	}
	coord, _ := deps.Roster.ByRole(domain.RoleCoordinator)

	def := DefaultConfig()
	if cfg.MaxRounds <= 0 {
		cfg.MaxRounds = def.MaxRounds
	}
	if cfg.RoundChatMaxRounds <= 0 {
		cfg.RoundChatMaxRounds = def.RoundChatMaxRounds
	}
	if cfg.WindowSize <= 0 {
		cfg.WindowSize = def.WindowSize
	}
	if cfg.RetryBudget < 0 {
		cfg.RetryBudget = 0
	}
	if cfg.RepromptBudget < 0 {
		cfg.RepromptBudget = 0
	}
	if cfg.BusyPolicy == "" {
		cfg.BusyPolicy = BusySerialize
	}

	o := &Orchestrator{
		id:       id,
		deps:     deps,
		cfg:      cfg,
		pipeline: redact.New(coord.Name),
		log:      log.Sub("orchestrator").With("session", id),
		sem:      make(chan struct{}, 1),
		current:  domain.RoleCoordinator,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.window == nil {
		o.window = window.New(log, window.WithSize(cfg.WindowSize))
	}
	return o, nil
}

// ID returns the session id.
func (o *Orchestrator) ID() string { return o.id }

// Window returns the authoritative log.
func (o *Orchestrator) Window() *window.Log { return o.window }

// Close detaches the log from durable storage. An exchange still running
// keeps its in-memory turns but no longer writes them through.
func (o *Orchestrator) Close() {
	o.window.Detach()
	o.log.Debug().Msg("detached from durable log")
}

// State returns the lifecycle state.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Rounds returns the round count of the current or last exchange.
func (o *Orchestrator) Rounds() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.rounds
}

// Terminated reports whether the last exchange ended normally.
func (o *Orchestrator) Terminated() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.terminated
}

// Participants returns the agent names in roster order.
func (o *Orchestrator) Participants() []string {
	return o.deps.Roster.Names()
}

// SubmitOption adjusts a single Submit call.
type SubmitOption func(*submitOptions)

type submitOptions struct {
	observer Observer
}

// WithObserver streams every round message of this exchange to fn.
func WithObserver(fn Observer) SubmitOption {
	return func(s *submitOptions) { s.observer = fn }
}

// Submit runs one exchange for prompt and returns its result. Failures are
// reported inside the result, never as a Go error.
func (o *Orchestrator) Submit(ctx context.Context, prompt string, mode domain.Mode, opts ...SubmitOption) domain.OrchestrationResult {
	var so submitOptions
	for _, opt := range opts {
		opt(&so)
	}

	if err := o.acquire(ctx); err != nil {
		o.log.Warn().Err(err).Msg("submit not admitted")
		return domain.Degraded(o.id, mode, err)
	}
	defer o.release()

	cleaned, changed := redact.SanitizePrompt(prompt)
	if cleaned == "" {
		res := domain.Degraded(o.id, mode, ErrEmptyPrompt)
		res.CleanedPrompt = changed
		return res
	}
	if changed {
		o.log.Info().Int("original_len", len(prompt)).Int("cleaned_len", len(cleaned)).Msg("prompt cleaned")
	}

	start := time.Now()
	o.begin(ctx, cleaned, mode, so.observer)

	reason, err := o.run(ctx)
	if err != nil {
		o.mu.Lock()
		o.state = StateIdle
		o.observer = nil
		o.mu.Unlock()

		o.log.Error().Err(err).Int("rounds", o.Rounds()).Dur("elapsed", time.Since(start)).Msg("exchange failed")
		res := domain.Degraded(o.id, mode, err)
		res.CleanedPrompt = changed
		return res
	}

	o.log.Info().
		Str("reason", string(reason)).
		Int("rounds", o.Rounds()).
		Dur("elapsed", time.Since(start)).
		Msg("exchange finished")

	res := o.result(mode, reason)
	res.CleanedPrompt = changed
	return res
}

// Step advances the current exchange by one round. It returns
// ErrTerminated once the exchange has ended.
func (o *Orchestrator) Step(ctx context.Context) (domain.Message, error) {
	if err := o.acquire(ctx); err != nil {
		return domain.Message{}, err
	}
	defer o.release()

	o.mu.Lock()
	state := o.state
	o.mu.Unlock()

	switch state {
	case StateTerminated:
		return domain.Message{}, ErrTerminated
	case StateActive:
	default:
		return domain.Message{}, ErrNoExchange
	}

	msg, err := o.round(ctx)
	if err != nil {
		return domain.Message{}, err
	}
	o.afterRound(msg)
	return msg, nil
}

func (o *Orchestrator) acquire(ctx context.Context) error {
	if o.cfg.BusyPolicy == BusyReject {
		select {
		case o.sem <- struct{}{}:
			return nil
		default:
			return ErrSessionBusy
		}
	}
	select {
	case o.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for session: %w", ctx.Err())
	}
}

func (o *Orchestrator) release() { <-o.sem }

// begin resumes prior context, records the seed turns and arms the loop.
func (o *Orchestrator) begin(ctx context.Context, prompt string, mode domain.Mode, obs Observer) {
	o.mu.Lock()
	o.state = StateResuming
	o.mu.Unlock()

	outcome := o.resume(ctx)

	var seed []domain.Message
	switch out := outcome.(type) {
	case Resumed:
		seed = out.Context
		o.log.Info().Int("context", len(seed)).Msg("resumed prior context")
	case Fresh:
		seed = out.Context
		if out.Cause != nil {
			o.log.Warn().Err(out.Cause).Msg("resume failed, starting fresh")
		}
	}

	coord, _ := o.deps.Roster.ByRole(domain.RoleCoordinator)
	o.window.Append(o.introMessage())
	user := o.window.Append(domain.NewTextMessage(domain.RoleUser, coord.Name, prompt))

	o.mu.Lock()
	o.history = append(domain.CloneMessages(seed), user)
	o.rounds = 0
	o.maxRounds = o.cfg.maxRounds(mode)
	o.current = domain.RoleCoordinator
	o.terminated = false
	o.observer = obs
	o.state = StateActive
	o.mu.Unlock()
}

// introMessage names every participant and carries the intro banner.
func (o *Orchestrator) introMessage() domain.Message {
	coord, _ := o.deps.Roster.ByRole(domain.RoleCoordinator)
	var b strings.Builder
	b.WriteString("Hello. ")
	b.WriteString(window.IntroBanner)
	b.WriteString(" to answer questions and solve tasks. In attendance are:\n")
	for _, a := range o.deps.Roster.Agents() {
		fmt.Fprintf(&b, "\n%s: %s", a.Name, a.Role)
	}
	return domain.NewTextMessage(domain.RoleUser, coord.Name, b.String())
}

// result builds the success-shaped result from the current log.
func (o *Orchestrator) result(mode domain.Mode, reason domain.StopReason) domain.OrchestrationResult {
	o.mu.Lock()
	rounds, terminated := o.rounds, o.terminated
	o.mu.Unlock()

	return domain.OrchestrationResult{
		SessionID:    o.id,
		Messages:     o.window.Recent(o.cfg.WindowSize),
		Participants: o.deps.Roster.Names(),
		Terminated:   terminated,
		Reason:       reason,
		Rounds:       rounds,
		Mode:         mode,
		Timestamp:    time.Now(),
	}
}
