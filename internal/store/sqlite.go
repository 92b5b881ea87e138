// Package store keeps durable conversation logs in SQLite.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"github.com/soyeahso/roundtable/internal/logging"
)

const memoryPath = ":memory:"

// pragmas run on every new database handle, in order.
var pragmas = []string{
	"PRAGMA journal_mode=WAL",
	"PRAGMA foreign_keys=ON",
	"PRAGMA busy_timeout=5000",
}

// DB is an open session database whose schema is current.
type DB struct {
	sql *sql.DB
	log *logging.Logger
}

// Open opens or creates the database at path and brings its schema up to
// date. ":memory:" gives a private in-memory database.
func Open(path string, log *logging.Logger) (*DB, error) {
	if path != memoryPath {
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return nil, fmt.Errorf("store: create directory: %w", err)
		}
	}

	handle, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	if path == memoryPath {
		// a second pooled connection would see an empty database
		handle.SetMaxOpenConns(1)
	}

	db := &DB{sql: handle, log: log.Sub("store")}
	if err := db.init(); err != nil {
		handle.Close()
		return nil, err
	}

	version, _ := db.SchemaVersion()
	db.log.Info().Str("path", path).Int("schema", version).Msg("session database ready")
	return db, nil
}

func (db *DB) init() error {
	for _, p := range pragmas {
		if _, err := db.sql.Exec(p); err != nil {
			return fmt.Errorf("store: %s: %w", p, err)
		}
	}
	return db.migrate()
}

// Close releases the database.
func (db *DB) Close() error {
	db.log.Debug().Msg("closing session database")
	return db.sql.Close()
}

// SQL exposes the underlying handle.
func (db *DB) SQL() *sql.DB {
	return db.sql
}

// SchemaVersion is the highest migration applied, or 0 on a fresh database.
func (db *DB) SchemaVersion() (int, error) {
	var v sql.NullInt64
	if err := db.sql.QueryRow("SELECT MAX(version) FROM schema_migrations").Scan(&v); err != nil {
		return 0, fmt.Errorf("store: read schema version: %w", err)
	}
	return int(v.Int64), nil
}

// migrate applies every migration newer than the current schema version.
func (db *DB) migrate() error {
	const ddl = `CREATE TABLE IF NOT EXISTS schema_migrations (
		version    INTEGER PRIMARY KEY,
		applied_at TEXT NOT NULL DEFAULT (datetime('now'))
	)`
	if _, err := db.sql.Exec(ddl); err != nil {
		return fmt.Errorf("store: create schema_migrations: %w", err)
	}

	current, err := db.SchemaVersion()
	if err != nil {
		return err
	}
	for _, m := range migrations {
		if m.Version <= current {
			continue
		}
		if err := db.apply(m); err != nil {
			return err
		}
	}
	return nil
}

// apply runs one migration and records it in the same transaction.
func (db *DB) apply(m migration) (err error) {
	db.log.Info().Int("version", m.Version).Str("name", m.Name).Msg("applying migration")

	tx, err := db.sql.Begin()
	if err != nil {
		return fmt.Errorf("store: migration %d: %w", m.Version, err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	if _, err = tx.Exec(m.SQL); err != nil {
		return fmt.Errorf("store: migration %d (%s): %w", m.Version, m.Name, err)
	}
	if _, err = tx.Exec("INSERT INTO schema_migrations (version) VALUES (?)", m.Version); err != nil {
		return fmt.Errorf("store: record migration %d: %w", m.Version, err)
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("store: commit migration %d: %w", m.Version, err)
	}
	return nil
}
