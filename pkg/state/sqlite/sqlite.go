// Package sqlite stores transform state documents in a SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/nicktill/geomag/pkg/state"

	_ "modernc.org/sqlite" // SQLite driver.
)

// Store implements state.Store on SQLite.
type Store struct {
	db *sql.DB
}

// Open opens or creates the database and applies migrations. Use
// ":memory:" for a throwaway database.
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create state directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}
	// one connection keeps ":memory:" databases shared
	db.SetMaxOpenConns(1)

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS transform_state (
			key TEXT PRIMARY KEY,
			document TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to migrate state database: %w", err)
		}
	}
	return nil
}

// Load reads the document for key.
func (s *Store) Load(ctx context.Context, key string) (state.State, error) {
	var doc string
	err := s.db.QueryRowContext(ctx,
		`SELECT document FROM transform_state WHERE key = ?`, key).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return state.State{}, nil
	}
	if err != nil {
		return state.State{}, fmt.Errorf("failed to read state: %w", err)
	}
	return state.Unmarshal([]byte(doc))
}

// Save writes the document for key.
func (s *Store) Save(ctx context.Context, key string, st state.State) error {
	data, err := state.Marshal(st)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO transform_state (key, document, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET document = excluded.document, updated_at = excluded.updated_at`,
		key, string(data), time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("failed to write state: %w", err)
	}
	return nil
}
