// Package config implements the persisted bootstrap parameter store and the
// resolution logic that turns probed cluster state, stored values and
// operator input into a validated run configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// DefaultStorePath is the store file looked up in the working directory when
// no path is given on the command line.
const DefaultStorePath = "aniops.yaml"

// Store is the persisted key/value set of bootstrap parameters. Values are
// written through immediately so a failed later step never re-prompts for
// earlier answers.
type Store interface {
	// Get returns the stored value for key, with ok=false when absent.
	Get(key string) (string, bool)

	// Set writes a value durably. Overwriting an existing key is allowed.
	Set(key, value string) error

	// All returns a copy of every stored key/value pair.
	All() map[string]string
}

// FileStore persists parameters as a flat, human-editable YAML mapping.
// Writes replace the whole file atomically (temp file + rename) so a partial
// write never corrupts prior entries.
type FileStore struct {
	path   string
	values map[string]string
}

// OpenFileStore loads the store at path, creating an empty store when the
// file does not exist yet.
func OpenFileStore(path string) (*FileStore, error) {
	s := &FileStore{
		path:   path,
		values: make(map[string]string),
	}

	data, err := os.ReadFile(path) // #nosec G304
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("failed to read store file: %w", err)
	}

	if err := yaml.Unmarshal(data, &s.values); err != nil {
		return nil, fmt.Errorf("failed to parse store file %s: %w", path, err)
	}
	if s.values == nil {
		s.values = make(map[string]string)
	}

	return s, nil
}

// Path returns the backing file path.
func (s *FileStore) Path() string {
	return s.path
}

// Get returns the stored value for key.
func (s *FileStore) Get(key string) (string, bool) {
	v, ok := s.values[key]
	return v, ok
}

// Set writes a value and persists the whole store atomically.
func (s *FileStore) Set(key, value string) error {
	s.values[key] = value
	return s.flush()
}

// All returns a copy of every stored key/value pair.
func (s *FileStore) All() map[string]string {
	out := make(map[string]string, len(s.values))
	for k, v := range s.values {
		out[k] = v
	}
	return out
}

// flush writes the store to a temp file in the same directory and renames it
// over the target, so readers never observe a half-written file.
func (s *FileStore) flush() error {
	// yaml.Marshal emits map keys in sorted order, which keeps the file
	// diffable for the operator.
	data, err := yaml.Marshal(s.values)
	if err != nil {
		return fmt.Errorf("failed to marshal store: %w", err)
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".aniops-*.yaml")
	if err != nil {
		return fmt.Errorf("failed to create temp store file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write temp store file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close temp store file: %w", err)
	}
	if err := os.Chmod(tmpPath, 0600); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to set store file mode: %w", err)
	}

	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to replace store file: %w", err)
	}

	return nil
}

// MemoryStore is an in-memory Store for tests.
type MemoryStore struct {
	values map[string]string
}

// NewMemoryStore creates a MemoryStore seeded with the given values.
func NewMemoryStore(seed map[string]string) *MemoryStore {
	values := make(map[string]string, len(seed))
	for k, v := range seed {
		values[k] = v
	}
	return &MemoryStore{values: values}
}

// Get returns the stored value for key.
func (s *MemoryStore) Get(key string) (string, bool) {
	v, ok := s.values[key]
	return v, ok
}

// Set writes a value.
func (s *MemoryStore) Set(key, value string) error {
	s.values[key] = value
	return nil
}

// All returns a copy of every stored key/value pair.
func (s *MemoryStore) All() map[string]string {
	out := make(map[string]string, len(s.values))
	for k, v := range s.values {
		out[k] = v
	}
	return out
}
