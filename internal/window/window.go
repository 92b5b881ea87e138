// Package window holds the authoritative message log of one conversation and
// derives the bounded recent view replayed to providers and returned to
// callers.
package window

import (
	"strings"
	"sync"
	"time"

	"github.com/soyeahso/roundtable/internal/domain"
	"github.com/soyeahso/roundtable/internal/logging"
)

// DefaultSize is the recent view size used when none is configured.
const DefaultSize = 11

// Banners that are kept in the log but never shown in the recent view.
const (
	IntroBanner    = "We have assembled a great team today"
	GreetingBanner = "Hello everyone."
)

// Sink receives every appended message, in order. A failed write is logged;
// the in-memory log stays authoritative.
type Sink interface {
	Append(msg domain.Message) error
}

// Option configures a Log.
type Option func(*Log)

// WithSink writes every append through to s.
func WithSink(s Sink) Option {
	return func(l *Log) { l.sink = s }
}

// WithSize sets the default recent view size.
func WithSize(n int) Option {
	return func(l *Log) {
		if n > 0 {
			l.size = n
		}
	}
}

// Log is an append-only message log.
type Log struct {
	mu      sync.RWMutex
	msgs    []domain.Message
	lastSeq int64
	size    int
	log     *logging.Logger

	// sinkMu is held across a durable write so Detach can wait it out.
	sinkMu sync.Mutex
	sink   Sink
}

// New creates an empty log.
func New(log *logging.Logger, opts ...Option) *Log {
	l := &Log{
		size: DefaultSize,
		log:  log.Sub("window"),
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Restore rebuilds a log from persisted messages. Entries that fail
// validation or break sequence order are skipped. The sink, if any, is
// attached after the replay so restored entries are not written back.
func Restore(msgs []domain.Message, log *logging.Logger, opts ...Option) *Log {
	l := New(log, opts...)
	sink := l.sink
	l.sink = nil
	defer func() { l.sink = sink }()

	skipped := 0
	for _, m := range msgs {
		if err := m.Validate(); err != nil {
			l.log.Warn().Err(err).Int64("seq", m.SequenceID).Msg("skipping persisted message")
			skipped++
			continue
		}
		if m.SequenceID <= l.lastSeq {
			l.log.Warn().Int64("seq", m.SequenceID).Int64("last", l.lastSeq).Msg("skipping out-of-order message")
			skipped++
			continue
		}
		l.msgs = append(l.msgs, m.Clone())
		l.lastSeq = m.SequenceID
	}
	if skipped > 0 {
		l.log.Info().Int("kept", len(l.msgs)).Int("skipped", skipped).Msg("log restored")
	}
	return l
}

// Append stores a copy of msg with the next sequence id and returns it.
func (l *Log) Append(msg domain.Message) domain.Message {
	l.mu.Lock()
	m := msg.Clone()
	l.lastSeq++
	m.SequenceID = l.lastSeq
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}
	l.msgs = append(l.msgs, m)
	l.mu.Unlock()

	l.sinkMu.Lock()
	if l.sink != nil {
		if err := l.sink.Append(m.Clone()); err != nil {
			l.log.Error().Err(err).Int64("seq", m.SequenceID).Msg("durable append failed")
		}
	}
	l.sinkMu.Unlock()
	return m.Clone()
}

// Detach stops writing through to the sink. It returns once any durable
// write already under way has finished; later appends stay in memory.
func (l *Log) Detach() {
	l.sinkMu.Lock()
	l.sink = nil
	l.sinkMu.Unlock()
}

// Len returns the number of messages in the log.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.msgs)
}

// Snapshot returns a copy of the full log.
func (l *Log) Snapshot() []domain.Message {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return domain.CloneMessages(l.msgs)
}

// Tail returns copies of the last n filtered messages. n <= 0 uses the
// configured size.
func (l *Log) Tail(n int) []domain.Message {
	if n <= 0 {
		n = l.size
	}
	l.mu.RLock()
	defer l.mu.RUnlock()

	kept := make([]domain.Message, 0, n)
	for i := len(l.msgs) - 1; i >= 0 && len(kept) < n; i-- {
		if hidden(l.msgs[i]) {
			continue
		}
		kept = append(kept, l.msgs[i].Clone())
	}
	for i, j := 0, len(kept)-1; i < j; i, j = i+1, j-1 {
		kept[i], kept[j] = kept[j], kept[i]
	}
	return kept
}

// Recent returns the display form of Tail(n), numbered from 1.
func (l *Log) Recent(n int) []domain.DisplayMessage {
	tail := l.Tail(n)
	out := make([]domain.DisplayMessage, len(tail))
	for i, m := range tail {
		out[i] = Display(m, i+1)
	}
	return out
}

// Display converts one message to its display form with the given id.
func Display(m domain.Message, id int) domain.DisplayMessage {
	return domain.DisplayMessage{
		ID:        id,
		Role:      m.Role,
		Name:      m.Speaker,
		Content:   Render(m),
		Kind:      m.Kind(),
		Timestamp: m.CreatedAt,
	}
}

// hidden reports whether m is left out of the recent view.
func hidden(m domain.Message) bool {
	if m.Kind() != domain.KindPlainText {
		return false
	}
	t := m.Text()
	if strings.TrimSpace(t) == "" {
		return true
	}
	return strings.Contains(t, IntroBanner) || strings.Contains(t, GreetingBanner)
}

// Render formats a message as display text. Tool turns are rendered one
// line per call.
func Render(m domain.Message) string {
	switch m.Kind() {
	case domain.KindToolInvocation:
		lines := make([]string, 0, len(m.Invocations))
		for _, inv := range m.Invocations {
			lines = append(lines, inv.Name+"("+inv.Arguments+")")
		}
		return strings.Join(lines, "\n")
	case domain.KindToolResult:
		lines := make([]string, 0, len(m.Results))
		for _, r := range m.Results {
			lines = append(lines, r.Content)
		}
		return strings.Join(lines, "\n")
	default:
		return m.Text()
	}
}
