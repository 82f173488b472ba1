package state

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// FileStore keeps one JSON document per key. With Dir empty the key is
// used as the file path.
type FileStore struct {
	Dir string
}

// NewFileStore creates a file store rooted at dir.
func NewFileStore(dir string) *FileStore {
	return &FileStore{Dir: dir}
}

func (f *FileStore) path(key string) string {
	if f.Dir == "" {
		return key
	}
	name := strings.NewReplacer("/", "_", "\\", "_", ":", "_").Replace(key)
	if filepath.Ext(name) != ".json" {
		name += ".json"
	}
	return filepath.Join(f.Dir, name)
}

// Load reads the document for key. A missing file is an empty state.
func (f *FileStore) Load(ctx context.Context, key string) (State, error) {
	if err := ctx.Err(); err != nil {
		return State{}, err
	}
	data, err := os.ReadFile(f.path(key))
	if errors.Is(err, os.ErrNotExist) {
		return State{}, nil
	}
	if err != nil {
		return State{}, fmt.Errorf("failed to read state: %w", err)
	}
	return Unmarshal(data)
}

// Save writes the document for key, replacing the file atomically.
func (f *FileStore) Save(ctx context.Context, key string, s State) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := Marshal(s)
	if err != nil {
		return err
	}

	path := f.path(key)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".state-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp state file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close state file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to replace state file: %w", err)
	}
	return nil
}

// MemoryStore keeps documents in a map. Used in tests and for transforms
// run without persistence.
type MemoryStore struct {
	mu    sync.Mutex
	docs  map[string][]byte
	Saves int
}

// NewMemoryStore creates an empty memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{docs: make(map[string][]byte)}
}

// Load returns the document for key.
func (m *MemoryStore) Load(_ context.Context, key string) (State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Unmarshal(m.docs[key])
}

// Save stores the document for key.
func (m *MemoryStore) Save(_ context.Context, key string, s State) error {
	data, err := Marshal(s)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.docs[key] = data
	m.Saves++
	return nil
}
