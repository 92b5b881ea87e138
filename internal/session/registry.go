// Package session maps session ids to their orchestrators.
package session

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/soyeahso/roundtable/internal/domain"
	"github.com/soyeahso/roundtable/internal/hooks"
	"github.com/soyeahso/roundtable/internal/logging"
	"github.com/soyeahso/roundtable/internal/orchestrator"
)

// Factory builds the orchestrator for a new session. It is called once per
// session id, on first use, without the registry lock held.
type Factory func(id string) (*orchestrator.Orchestrator, error)

// LogDeleter removes the durable log of a session and reports whether
// anything was stored.
type LogDeleter interface {
	Delete(ctx context.Context, sessionID string) (bool, error)
}

// Option configures a Registry.
type Option func(*Registry)

// WithStore deletes durable logs on Clear.
func WithStore(s LogDeleter) Option {
	return func(r *Registry) { r.store = s }
}

// WithHooks emits session and exchange lifecycle events.
func WithHooks(h *hooks.Manager) Option {
	return func(r *Registry) { r.hooks = h }
}

// WithIdleTimeout evicts sessions unused for d. Zero disables expiry.
func WithIdleTimeout(d time.Duration) Option {
	return func(r *Registry) { r.idle = d }
}

// WithMaxSessions caps live sessions, evicting the least recently used.
// Zero means unbounded.
func WithMaxSessions(n int) Option {
	return func(r *Registry) { r.max = n }
}

type entry struct {
	orch     *orchestrator.Orchestrator
	created  time.Time
	lastUsed time.Time
	inflight int
}

// Info describes a live session.
type Info struct {
	ID         string    `json:"id"`
	Created    time.Time `json:"created"`
	LastUsed   time.Time `json:"lastUsed"`
	Messages   int       `json:"messages"`
	Rounds     int       `json:"rounds"`
	Terminated bool      `json:"terminated"`
	State      string    `json:"state"`
}

// Registry is the process-wide session map.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*entry
	busy     map[string]chan struct{}
	factory  Factory
	store    LogDeleter
	hooks    *hooks.Manager
	idle     time.Duration
	max      int
	log      *logging.Logger
	now      func() time.Time
}

// NewRegistry creates an empty registry.
func NewRegistry(factory Factory, log *logging.Logger, opts ...Option) *Registry {
	r := &Registry{
		sessions: make(map[string]*entry),
		busy:     make(map[string]chan struct{}),
		factory:  factory,
		log:      log.Sub("session"),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// GetOrCreate returns the orchestrator for id, building it on first use.
func (r *Registry) GetOrCreate(id string) (*orchestrator.Orchestrator, error) {
	o, _, err := r.getOrCreate(id, false)
	return o, err
}

// getOrCreate runs the factory without holding r.mu. While an id is being
// built or cleared, other callers for that id wait on its busy channel.
func (r *Registry) getOrCreate(id string, claim bool) (*orchestrator.Orchestrator, bool, error) {
	for {
		r.mu.Lock()
		if e, ok := r.sessions[id]; ok {
			e.lastUsed = r.now()
			if claim {
				e.inflight++
			}
			r.mu.Unlock()
			return e.orch, false, nil
		}
		if wait, ok := r.busy[id]; ok {
			r.mu.Unlock()
			<-wait
			continue
		}
		done := r.markBusyLocked(id)
		r.mu.Unlock()

		o, err := r.factory(id)

		r.mu.Lock()
		r.unmarkBusyLocked(id, done)
		if err != nil {
			r.mu.Unlock()
			return nil, false, err
		}
		now := r.now()
		e := &entry{orch: o, created: now, lastUsed: now}
		if claim {
			e.inflight++
		}
		r.sessions[id] = e
		r.evictOverflowLocked(id)
		live := len(r.sessions)
		r.mu.Unlock()

		r.log.Info().Str("session", id).Int("live", live).Msg("session created")
		return o, true, nil
	}
}

func (r *Registry) markBusyLocked(id string) chan struct{} {
	done := make(chan struct{})
	r.busy[id] = done
	return done
}

func (r *Registry) unmarkBusyLocked(id string, done chan struct{}) {
	delete(r.busy, id)
	close(done)
}

// Clear removes a session and its durable log. It reports whether there
// was anything to remove, in memory or in the store. An exchange already
// running on the removed orchestrator finishes on its own but no longer
// writes to the store.
func (r *Registry) Clear(id string) bool {
	r.mu.Lock()
	for {
		wait, ok := r.busy[id]
		if !ok {
			break
		}
		r.mu.Unlock()
		<-wait
		r.mu.Lock()
	}
	e, live := r.sessions[id]
	delete(r.sessions, id)
	done := r.markBusyLocked(id)
	r.mu.Unlock()

	if live {
		e.orch.Close()
	}
	stored := false
	if r.store != nil {
		removed, err := r.store.Delete(context.Background(), id)
		if err != nil {
			r.log.Warn().Err(err).Str("session", id).Msg("deleting durable log")
		}
		stored = removed
	}

	r.mu.Lock()
	r.unmarkBusyLocked(id, done)
	r.mu.Unlock()

	if !live && !stored {
		return false
	}
	r.log.Info().Str("session", id).Bool("live", live).Bool("stored", stored).Msg("session cleared")
	r.emit(context.Background(), hooks.EventSessionCleared, map[string]any{"session_id": id})
	return true
}

// Submit routes a prompt to the session's orchestrator. Creation failures
// are reported as a degraded result.
func (r *Registry) Submit(ctx context.Context, id, prompt string, mode domain.Mode, opts ...orchestrator.SubmitOption) domain.OrchestrationResult {
	o, created, err := r.getOrCreate(id, true)
	if err != nil {
		r.log.Error().Err(err).Str("session", id).Msg("creating session")
		return domain.Degraded(id, mode, err)
	}
	defer r.release(id, o)

	if created {
		r.emit(ctx, hooks.EventSessionCreated, map[string]any{"session_id": id})
	}
	r.emit(ctx, hooks.EventExchangeStart, map[string]any{"session_id": id, "mode": string(mode)})

	res := o.Submit(ctx, prompt, mode, opts...)

	r.emit(ctx, hooks.EventExchangeEnd, map[string]any{
		"session_id": id,
		"rounds":     res.Rounds,
		"terminated": res.Terminated,
		"error":      res.Error,
		"reason":     string(res.Reason),
	})
	return res
}

func (r *Registry) release(id string, o *orchestrator.Orchestrator) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.sessions[id]; ok && e.orch == o {
		e.inflight--
		e.lastUsed = r.now()
	}
}

func (r *Registry) emit(ctx context.Context, event string, data map[string]any) {
	if r.hooks == nil {
		return
	}
	r.hooks.EmitAsync(context.WithoutCancel(ctx), event, data)
}

// Count returns the number of live sessions.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// IDs returns the live session ids, sorted.
func (r *Registry) IDs() []string {
	r.mu.Lock()
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	r.mu.Unlock()
	sort.Strings(ids)
	return ids
}

// List describes every live session, sorted by id.
func (r *Registry) List() []Info {
	r.mu.Lock()
	infos := make([]Info, 0, len(r.sessions))
	orchs := make([]*orchestrator.Orchestrator, 0, len(r.sessions))
	for id, e := range r.sessions {
		infos = append(infos, Info{ID: id, Created: e.created, LastUsed: e.lastUsed})
		orchs = append(orchs, e.orch)
	}
	r.mu.Unlock()

	for i, o := range orchs {
		infos[i].Messages = o.Window().Len()
		infos[i].Rounds = o.Rounds()
		infos[i].Terminated = o.Terminated()
		infos[i].State = o.State().String()
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].ID < infos[j].ID })
	return infos
}

// Sweep evicts idle sessions and returns how many were removed. Sessions
// with an exchange in flight are kept.
func (r *Registry) Sweep() int {
	if r.idle <= 0 {
		return 0
	}
	r.mu.Lock()
	cutoff := r.now().Add(-r.idle)
	var evicted []string
	for id, e := range r.sessions {
		if e.inflight == 0 && e.lastUsed.Before(cutoff) {
			delete(r.sessions, id)
			evicted = append(evicted, id)
		}
	}
	r.mu.Unlock()

	for _, id := range evicted {
		r.log.Info().Str("session", id).Msg("idle session evicted")
	}
	return len(evicted)
}

// Run sweeps idle sessions every interval until ctx is done. It returns
// immediately when no idle timeout is configured.
func (r *Registry) Run(ctx context.Context, interval time.Duration) {
	if r.idle <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Sweep()
		}
	}
}

// evictOverflowLocked drops least recently used idle sessions until the
// cap holds. Busy sessions and keep are never evicted, so the cap is soft.
func (r *Registry) evictOverflowLocked(keep string) {
	if r.max <= 0 {
		return
	}
	for len(r.sessions) > r.max {
		var oldestID string
		var oldest time.Time
		for id, e := range r.sessions {
			if e.inflight > 0 || id == keep {
				continue
			}
			if oldestID == "" || e.lastUsed.Before(oldest) {
				oldestID, oldest = id, e.lastUsed
			}
		}
		if oldestID == "" {
			return
		}
		delete(r.sessions, oldestID)
		r.log.Info().Str("session", oldestID).Msg("session evicted, registry full")
	}
}
