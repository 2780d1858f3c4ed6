// Package cursor persists the firehose resume position: a single
// time-based cursor kept in a file outside the relational store, read
// once at startup and rewritten periodically while connected.
package cursor

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Store reads and writes the cursor file.
type Store struct {
	path string
}

// NewStore creates a Store for the given file path.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Load returns the last-saved cursor, or zero if the file does not
// exist or is empty. Zero means "tail from now".
func (s *Store) Load() (int64, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("cursor: read %s: %w", s.path, err)
	}

	raw := strings.TrimSpace(string(data))
	if raw == "" {
		return 0, nil
	}

	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("cursor: parse %s: %w", s.path, err)
	}
	return v, nil
}

// Save writes the cursor atomically (write to a temp file, then rename)
// so a crash mid-write never leaves a corrupt cursor behind.
func (s *Store) Save(v int64) error {
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, []byte(strconv.FormatInt(v, 10)), 0644); err != nil {
		return fmt.Errorf("cursor: write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("cursor: rename %s: %w", tmp, err)
	}
	return nil
}
