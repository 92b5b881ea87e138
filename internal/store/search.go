package store

import (
	"context"
	"time"
)

// SearchHit is one message matching a full-text query.
type SearchHit struct {
	SessionID string    `json:"sessionId"`
	Seq       int64     `json:"seq"`
	Speaker   string    `json:"speaker"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"createdAt"`
	Rank      float64   `json:"rank"`
}

// Search finds messages matching an FTS5 query across all sessions,
// ranked by relevance. An empty sessionID searches every session. A limit
// of 0 defaults to 20.
func (s *LogStore) Search(ctx context.Context, sessionID, query string, limit int) ([]SearchHit, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.db.sql.QueryContext(ctx,
		`SELECT m.session_id, m.seq, m.speaker, m.search_text, m.created_at, rank
		 FROM messages_fts
		 JOIN messages m ON m.rowid = messages_fts.rowid
		 WHERE messages_fts MATCH ?
		   AND (? = '' OR m.session_id = ?)
		 ORDER BY rank
		 LIMIT ?`,
		query, sessionID, sessionID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var hits []SearchHit
	for rows.Next() {
		var h SearchHit
		var created string
		if err := rows.Scan(&h.SessionID, &h.Seq, &h.Speaker, &h.Text, &created, &h.Rank); err != nil {
			return nil, err
		}
		h.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
		hits = append(hits, h)
	}
	return hits, rows.Err()
}
