// Package hooks dispatches session, exchange and gateway lifecycle events.
package hooks

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/soyeahso/roundtable/internal/logging"
)

// Lifecycle events.
const (
	EventSessionCreated = "session_created"
	EventSessionCleared = "session_cleared"
	EventExchangeStart  = "exchange_start"
	EventExchangeEnd    = "exchange_end"
	EventGatewayStart   = "gateway_start"
	EventGatewayStop    = "gateway_stop"
)

// AllEvents lists every event a handler can subscribe to.
var AllEvents = []string{
	EventSessionCreated,
	EventSessionCleared,
	EventExchangeStart,
	EventExchangeEnd,
	EventGatewayStart,
	EventGatewayStop,
}

// Payload is what a handler receives.
type Payload struct {
	Event string         `json:"event"`
	Time  time.Time      `json:"time"`
	Data  map[string]any `json:"data,omitempty"`
}

// Handler reacts to one event. An error is logged and does not stop the
// remaining handlers.
type Handler func(ctx context.Context, p Payload) error

type subscription struct {
	name    string
	handler Handler
}

// Manager keeps subscriptions per event. Async dispatches are tracked so
// shutdown can wait for them.
type Manager struct {
	mu   sync.RWMutex
	subs map[string][]subscription
	wg   sync.WaitGroup
	now  func() time.Time
	log  *logging.Logger
}

// NewManager creates an empty manager.
func NewManager(log *logging.Logger) *Manager {
	return &Manager{
		subs: make(map[string][]subscription),
		now:  time.Now,
		log:  log.Sub("hooks"),
	}
}

// On subscribes handler to event under name.
func (m *Manager) On(event, name string, handler Handler) {
	m.mu.Lock()
	m.subs[event] = append(m.subs[event], subscription{name: name, handler: handler})
	m.mu.Unlock()
	m.log.Debug().Str("event", event).Str("handler", name).Msg("hook registered")
}

// Off drops every subscription to event registered under name.
func (m *Manager) Off(event, name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subs[event] = slices.DeleteFunc(m.subs[event], func(s subscription) bool {
		return s.name == name
	})
	if len(m.subs[event]) == 0 {
		delete(m.subs, event)
	}
}

func (m *Manager) snapshot(event string) []subscription {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.subs[event])
}

// Emit runs the handlers for event in registration order and returns when
// they are done.
func (m *Manager) Emit(ctx context.Context, event string, data map[string]any) {
	subs := m.snapshot(event)
	if len(subs) == 0 {
		return
	}
	p := Payload{Event: event, Time: m.now(), Data: data}
	for _, s := range subs {
		m.run(ctx, s, p)
	}
}

// EmitAsync runs each handler for event on its own goroutine and returns
// immediately. Wait blocks until they finish.
func (m *Manager) EmitAsync(ctx context.Context, event string, data map[string]any) {
	subs := m.snapshot(event)
	if len(subs) == 0 {
		return
	}
	p := Payload{Event: event, Time: m.now(), Data: data}
	m.wg.Add(len(subs))
	for _, s := range subs {
		go func() {
			defer m.wg.Done()
			m.run(ctx, s, p)
		}()
	}
}

// Wait blocks until every async handler started so far has returned.
func (m *Manager) Wait() {
	m.wg.Wait()
}

// run calls one handler, turning a panic into a logged error.
func (m *Manager) run(ctx context.Context, s subscription, p Payload) {
	start := time.Now()
	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic: %v", r)
			}
		}()
		return s.handler(ctx, p)
	}()
	if err != nil {
		m.log.Warn().Err(err).Str("event", p.Event).Str("handler", s.name).Msg("hook failed")
		return
	}
	m.log.Debug().Str("event", p.Event).Str("handler", s.name).Dur("took", time.Since(start)).Msg("hook done")
}

// Count returns the number of handlers subscribed to event.
func (m *Manager) Count(event string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.subs[event])
}

// Events returns the events with at least one handler, sorted.
func (m *Manager) Events() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	events := make([]string, 0, len(m.subs))
	for event, subs := range m.subs {
		if len(subs) > 0 {
			events = append(events, event)
		}
	}
	slices.Sort(events)
	return events
}
