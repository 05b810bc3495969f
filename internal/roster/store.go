package roster

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Store persists the full roster. Save rewrites the whole document on
// every call; Load reads it once at startup.
type Store interface {
	Load() ([]Identity, error)
	Save([]Identity) error
}

// FileStore persists the roster as a single JSON array of {id,name}
// objects. A missing file loads as an empty roster.
type FileStore struct {
	path string
}

// NewFileStore creates a store writing to path.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Load reads the roster file. Missing file is not an error.
func (s *FileStore) Load() ([]Identity, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading roster file: %w", err)
	}

	var identities []Identity
	if err := json.Unmarshal(data, &identities); err != nil {
		return nil, fmt.Errorf("parsing roster file %s: %w", s.path, err)
	}
	return identities, nil
}

// Save rewrites the roster file. Writes go through a temp file and
// rename so a crash mid-write never leaves a truncated document.
func (s *FileStore) Save(identities []Identity) error {
	if identities == nil {
		identities = []Identity{}
	}
	data, err := json.Marshal(identities)
	if err != nil {
		return fmt.Errorf("encoding roster: %w", err)
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".roster-*.json")
	if err != nil {
		return fmt.Errorf("creating temp roster file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("writing roster file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("closing roster file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replacing roster file: %w", err)
	}
	return nil
}
