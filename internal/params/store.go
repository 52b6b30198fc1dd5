// Package params persists the small set of key/value settings the rest of
// recorderd needs across restarts (dongle id, git remote/branch/commit,
// RecordFront, Passive) — the Go equivalent of the original's flat
// /data/params directory, grounded on banshee-data-velocity.report's
// modernc.org/sqlite + golang-migrate/migrate/v4 pairing rather than a
// hand-rolled flat-file store.
package params

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// Store is a migrated sqlite-backed key/value table. Missing keys are not
// errors: Get reports ok=false so callers (initdata in particular) can omit
// absent fields rather than fail the segment.
type Store struct {
	db *sql.DB
}

// Open opens (creating if absent) the sqlite database at path and applies
// any pending schema migrations.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("params: open %s: %w", path, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("params: ping %s: %w", path, err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate() error {
	src, err := iofs.New(migrationFiles, "migrations")
	if err != nil {
		return fmt.Errorf("params: load migrations: %w", err)
	}

	driver, err := sqlite.WithInstance(s.db, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("params: sqlite migrate driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("params: new migrate instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("params: migrate up: %w", err)
	}
	return nil
}

// Get returns the stored value for key. ok is false when the key is
// absent; err is only non-nil for an actual database failure.
func (s *Store) Get(key string) (value string, ok bool, err error) {
	row := s.db.QueryRow(`SELECT value FROM params WHERE key = ?`, key)
	if err := row.Scan(&value); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("params: get %q: %w", key, err)
	}
	return value, true, nil
}

// Set upserts key to value.
func (s *Store) Set(key, value string) error {
	_, err := s.db.Exec(
		`INSERT INTO params (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, value,
	)
	if err != nil {
		return fmt.Errorf("params: set %q: %w", key, err)
	}
	return nil
}

// Delete removes key, if present. Deleting an absent key is not an error.
func (s *Store) Delete(key string) error {
	if _, err := s.db.Exec(`DELETE FROM params WHERE key = ?`, key); err != nil {
		return fmt.Errorf("params: delete %q: %w", key, err)
	}
	return nil
}

// All returns every stored key/value pair, for initdata's full params dump.
func (s *Store) All() (map[string]string, error) {
	rows, err := s.db.Query(`SELECT key, value FROM params`)
	if err != nil {
		return nil, fmt.Errorf("params: list all: %w", err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("params: scan row: %w", err)
		}
		out[k] = v
	}
	return out, rows.Err()
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}
