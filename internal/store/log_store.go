package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/soyeahso/roundtable/internal/domain"
	"github.com/soyeahso/roundtable/internal/window"
)

const envelopeVersion = 1

// envelope is the stored form of a message body.
type envelope struct {
	V           int                     `json:"v"`
	Kind        domain.Kind             `json:"kind"`
	Text        string                  `json:"text,omitempty"`
	Items       []domain.ContentItem    `json:"items,omitempty"`
	Invocations []domain.ToolInvocation `json:"invocations,omitempty"`
	Results     []domain.ToolResult     `json:"results,omitempty"`
}

// SessionSummary describes a stored session.
type SessionSummary struct {
	ID        string    `json:"id"`
	Messages  int       `json:"messages"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// LogStore persists conversation logs, one row per message, keyed by
// session and sequence id.
type LogStore struct {
	db *DB
}

// NewLogStore creates a log store using the given database.
func NewLogStore(db *DB) *LogStore {
	return &LogStore{db: db}
}

// Append stores msg for session. Rows are never updated.
func (s *LogStore) Append(ctx context.Context, sessionID string, msg domain.Message) error {
	body, err := json.Marshal(envelope{
		V:           envelopeVersion,
		Kind:        msg.Kind(),
		Text:        msg.Content,
		Items:       msg.Items,
		Invocations: msg.Invocations,
		Results:     msg.Results,
	})
	if err != nil {
		return fmt.Errorf("encoding message %d: %w", msg.SequenceID, err)
	}

	created := msg.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	now := time.Now().UTC().Format(time.DateTime)

	tx, err := s.db.sql.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO sessions (id, created_at, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET updated_at = excluded.updated_at`,
		sessionID, now, now,
	); err != nil {
		return fmt.Errorf("touching session %s: %w", sessionID, err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO messages (session_id, seq, role, speaker, body, search_text, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		sessionID, msg.SequenceID, string(msg.Role), msg.Speaker, string(body),
		window.Render(msg), created.UTC().Format(time.RFC3339Nano),
	); err != nil {
		return fmt.Errorf("appending message %d to %s: %w", msg.SequenceID, sessionID, err)
	}

	return tx.Commit()
}

// Load returns the stored log of a session in sequence order. Rows whose
// body cannot be decoded are skipped with a warning.
func (s *LogStore) Load(ctx context.Context, sessionID string) ([]domain.Message, error) {
	rows, err := s.db.sql.QueryContext(ctx,
		`SELECT seq, role, speaker, body, created_at
		 FROM messages WHERE session_id = ? ORDER BY seq`, sessionID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var msgs []domain.Message
	for rows.Next() {
		var (
			msg     domain.Message
			role    string
			body    string
			created string
		)
		if err := rows.Scan(&msg.SequenceID, &role, &msg.Speaker, &body, &created); err != nil {
			return nil, err
		}

		var env envelope
		if err := json.Unmarshal([]byte(body), &env); err != nil || env.V != envelopeVersion {
			s.db.log.Warn().Str("session", sessionID).Int64("seq", msg.SequenceID).Msg("skipping unreadable log row")
			continue
		}

		msg.Role = domain.MessageRole(role)
		msg.Content = env.Text
		msg.Items = env.Items
		msg.Invocations = env.Invocations
		msg.Results = env.Results
		msg.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
		msgs = append(msgs, msg)
	}
	return msgs, rows.Err()
}

// Delete removes a session and its log, reporting whether anything was
// stored. Deleting an unknown session is not an error.
func (s *LogStore) Delete(ctx context.Context, sessionID string) (bool, error) {
	tx, err := s.db.sql.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	msgs, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE session_id = ?`, sessionID)
	if err != nil {
		return false, fmt.Errorf("deleting messages of %s: %w", sessionID, err)
	}
	sess, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, sessionID)
	if err != nil {
		return false, fmt.Errorf("deleting session %s: %w", sessionID, err)
	}
	if err := tx.Commit(); err != nil {
		return false, err
	}

	nm, _ := msgs.RowsAffected()
	ns, _ := sess.RowsAffected()
	return nm+ns > 0, nil
}

// Sessions lists stored sessions, most recently updated first.
func (s *LogStore) Sessions(ctx context.Context) ([]SessionSummary, error) {
	rows, err := s.db.sql.QueryContext(ctx,
		`SELECT s.id, s.created_at, s.updated_at, COUNT(m.seq)
		 FROM sessions s LEFT JOIN messages m ON m.session_id = s.id
		 GROUP BY s.id
		 ORDER BY s.updated_at DESC, s.id`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SessionSummary
	for rows.Next() {
		var sum SessionSummary
		var created, updated string
		if err := rows.Scan(&sum.ID, &created, &updated, &sum.Messages); err != nil {
			return nil, err
		}
		sum.CreatedAt, _ = time.Parse(time.DateTime, created)
		sum.UpdatedAt, _ = time.Parse(time.DateTime, updated)
		out = append(out, sum)
	}
	return out, rows.Err()
}

// Sink returns a window.Sink writing through to session's log.
func (s *LogStore) Sink(sessionID string) window.Sink {
	return sessionSink{store: s, id: sessionID}
}

type sessionSink struct {
	store *LogStore
	id    string
}

func (k sessionSink) Append(msg domain.Message) error {
	return k.store.Append(context.Background(), k.id, msg)
}
