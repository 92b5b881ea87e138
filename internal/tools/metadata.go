package tools

import (
	"context"
	"database/sql"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver

	"github.com/soyeahso/roundtable/internal/logging"
)

// metadataColumns is the fixed shape of the metadata table.
var metadataColumns = []string{"connection_name", "schema_name", "table_name"}

// Metadata is an in-memory SQLite copy of the connection/schema/table
// catalog, queried by the SQL specialist.
type Metadata struct {
	db  *sql.DB
	log *logging.Logger
}

// OpenMetadata creates the metadata table and loads it from csvPath. A
// missing file yields an empty table.
func OpenMetadata(csvPath string, log *logging.Logger) (*Metadata, error) {
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		return nil, fmt.Errorf("opening metadata db: %w", err)
	}
	// every pooled connection to :memory: is a separate database
	db.SetMaxOpenConns(1)

	m := &Metadata{db: db, log: log.Sub("metadata")}
	if err := m.load(csvPath); err != nil {
		db.Close()
		return nil, err
	}
	return m, nil
}

func (m *Metadata) load(path string) error {
	cols := metadataColumns
	var records [][]string

	if path != "" {
		f, err := os.Open(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
			m.log.Warn().Str("path", path).Msg("metadata file not found, starting empty")
		case err != nil:
			return fmt.Errorf("opening metadata csv: %w", err)
		default:
			defer f.Close()
			cols, records, err = readCSV(f)
			if err != nil {
				return fmt.Errorf("reading metadata csv %s: %w", path, err)
			}
		}
	}

	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = fmt.Sprintf("%q TEXT", c)
	}
	if _, err := m.db.Exec("CREATE TABLE metadata (" + strings.Join(quoted, ", ") + ")"); err != nil {
		return fmt.Errorf("creating metadata table: %w", err)
	}

	tx, err := m.db.Begin()
	if err != nil {
		return fmt.Errorf("loading metadata: %w", err)
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", ")
	stmt, err := tx.Prepare("INSERT INTO metadata VALUES (" + placeholders + ")")
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("loading metadata: %w", err)
	}
	defer stmt.Close()
	for _, rec := range records {
		args := make([]any, len(cols))
		for i := range cols {
			if i < len(rec) {
				args[i] = rec[i]
			}
		}
		if _, err := stmt.Exec(args...); err != nil {
			tx.Rollback()
			return fmt.Errorf("loading metadata row: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("loading metadata: %w", err)
	}

	m.log.Info().Str("path", path).Int("rows", len(records)).Msg("metadata loaded")
	return nil
}

// readCSV returns the header and the data rows. Header names are trimmed
// and lowercased.
func readCSV(r io.Reader) ([]string, [][]string, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return metadataColumns, nil, nil
	}
	if err != nil {
		return nil, nil, err
	}
	for i, h := range header {
		header[i] = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))
	}

	records, err := cr.ReadAll()
	if err != nil {
		return nil, nil, err
	}
	return header, records, nil
}

// Query runs a statement and returns the column names and distinct rows,
// at most limit of them when limit is positive.
func (m *Metadata) Query(ctx context.Context, statement string, limit int) ([]string, [][]string, error) {
	rows, err := m.db.QueryContext(ctx, statement)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, nil, err
	}

	seen := make(map[string]bool)
	var out [][]string
	for rows.Next() {
		vals := make([]sql.NullString, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, nil, err
		}
		row := make([]string, len(cols))
		for i, v := range vals {
			row[i] = v.String
		}
		key := strings.Join(row, "\x00")
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, row)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return cols, out, rows.Err()
}

// Exists reports whether a table matching the given fragments is known.
func (m *Metadata) Exists(ctx context.Context, connection, schema, table string) (bool, error) {
	var one int
	err := m.db.QueryRowContext(ctx, `
		SELECT 1 FROM metadata
		WHERE connection_name LIKE ? AND schema_name LIKE ? AND table_name LIKE ?
		LIMIT 1`,
		"%"+connection+"%", "%"+schema+"%", "%"+table+"%",
	).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Close releases the database.
func (m *Metadata) Close() error {
	return m.db.Close()
}
