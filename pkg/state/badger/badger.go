// Package badger stores transform state documents in BadgerDB.
package badger

import (
	"context"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"

	"github.com/nicktill/geomag/pkg/state"
)

const keyPrefix = "state/"

// Store implements state.Store on a BadgerDB instance.
type Store struct {
	db    *badger.DB
	owned bool
}

// Config holds BadgerDB configuration.
type Config struct {
	// Path to store database files
	Path string

	// InMemory mode (for testing)
	InMemory bool
}

// New opens a dedicated database for state.
func New(cfg Config) (*Store, error) {
	opts := badger.DefaultOptions(cfg.Path).
		WithInMemory(cfg.InMemory).
		WithNumVersionsToKeep(1).
		WithLogger(nil)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger: %w", err)
	}
	return &Store{db: db, owned: true}, nil
}

// Wrap stores state in an already open database, next to other data.
func Wrap(db *badger.DB) *Store {
	return &Store{db: db}
}

// Load reads the document for key.
func (s *Store) Load(ctx context.Context, key string) (state.State, error) {
	if err := ctx.Err(); err != nil {
		return state.State{}, err
	}

	var data []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(keyPrefix + key))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		return state.State{}, fmt.Errorf("failed to read state: %w", err)
	}
	return state.Unmarshal(data)
}

// Save writes the document for key.
func (s *Store) Save(ctx context.Context, key string, st state.State) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := state.Marshal(st)
	if err != nil {
		return err
	}
	if err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(keyPrefix+key), data)
	}); err != nil {
		return fmt.Errorf("failed to write state: %w", err)
	}
	return nil
}

// Close closes the database if New opened it.
func (s *Store) Close() error {
	if !s.owned {
		return nil
	}
	return s.db.Close()
}
