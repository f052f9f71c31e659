// Package store provides crash-safe swing-state persistence using JSON
// files, so a restart resumes with the same arm flags instead of forgetting
// an in-progress entry/exit setup.
//
// Each symbol's state is stored as a separate file: state_<symbol>.json.
// Writes use atomic file replacement (write to .tmp, then rename) to
// prevent corruption from partial writes or crashes mid-save — this is the
// same one-file-per-key layout the durability pattern was built for,
// unlike internal/audit's append-only log, which cannot use it.
package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"swing-core/internal/swing"
)

// Store persists swing.State to JSON files in a designated directory.
// All operations are mutex-protected to prevent concurrent file corruption.
type Store struct {
	dir string
	mu  sync.Mutex
}

// Open creates a store backed by the given directory.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}
	return &Store{dir: dir}, nil
}

// Close is a no-op for file-based storage.
func (s *Store) Close() error {
	return nil
}

// SaveState atomically persists the swing state for a symbol.
func (s *Store) SaveState(symbol string, state swing.State) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal swing state: %w", err)
	}

	path := s.path(symbol)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write swing state: %w", err)
	}
	return os.Rename(tmp, path)
}

// LoadState restores swing state for a symbol from disk.
// Returns the zero State, false if nothing was saved yet.
func (s *Store) LoadState(symbol string) (swing.State, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path(symbol))
	if err != nil {
		if os.IsNotExist(err) {
			return swing.State{}, false, nil
		}
		return swing.State{}, false, fmt.Errorf("read swing state: %w", err)
	}

	var state swing.State
	if err := json.Unmarshal(data, &state); err != nil {
		return swing.State{}, false, fmt.Errorf("unmarshal swing state: %w", err)
	}
	return state, true, nil
}

func (s *Store) path(symbol string) string {
	return filepath.Join(s.dir, "state_"+symbol+".json")
}
