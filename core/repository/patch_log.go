package repository

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"nfcunha/vigil/core/models"
)

// ErrCorruptPatchLog is returned when the patch log file cannot be decoded.
var ErrCorruptPatchLog = errors.New("patch log file is corrupt")

// PatchLogStore keeps the patch log in memory and mirrors it to a single
// JSON file. The file holds the whole log and is rewritten on every save.
type PatchLogStore struct {
	path    string
	mu      sync.Mutex
	entries []*models.PatchLog
}

// NewPatchLogStore creates a store backed by the file at path. Call Load
// before use to pick up entries written by a previous process.
func NewPatchLogStore(path string) *PatchLogStore {
	return &PatchLogStore{path: path}
}

// Path returns the backing file path.
func (s *PatchLogStore) Path() string {
	return s.path
}

// Load replaces the in-memory log with the file contents. A missing file
// yields an empty log.
func (s *PatchLogStore) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := readPatchLog(s.path)
	if err != nil {
		return err
	}
	s.entries = entries
	return nil
}

// Append adds an entry to the in-memory log without persisting it.
func (s *PatchLogStore) Append(entry *models.PatchLog) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, entry.Clone())
}

// Save replaces the stored entry with the same id (appending when absent)
// and rewrites the whole file.
func (s *PatchLogStore) Save(entry *models.PatchLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	replaced := false
	for i, existing := range s.entries {
		if existing.ID == entry.ID {
			s.entries[i] = entry.Clone()
			replaced = true
			break
		}
	}
	if !replaced {
		s.entries = append(s.entries, entry.Clone())
	}

	return writePatchLog(s.path, s.entries)
}

// Get returns a copy of the entry with the given id.
func (s *PatchLogStore) Get(id string) (*models.PatchLog, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, entry := range s.entries {
		if entry.ID == id {
			return entry.Clone(), true
		}
	}
	return nil, false
}

// Entries returns copies of all entries in insertion order.
func (s *PatchLogStore) Entries() []*models.PatchLog {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*models.PatchLog, len(s.entries))
	for i, entry := range s.entries {
		out[i] = entry.Clone()
	}
	return out
}

// History returns copies of all entries, most recent first.
func (s *PatchLogStore) History() []*models.PatchLog {
	entries := s.Entries()
	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}
	return entries
}

func readPatchLog(path string) ([]*models.PatchLog, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return []*models.PatchLog{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read patch log: %w", err)
	}
	if len(data) == 0 {
		return []*models.PatchLog{}, nil
	}

	var entries []*models.PatchLog
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptPatchLog, err)
	}
	if entries == nil {
		entries = []*models.PatchLog{}
	}
	return entries, nil
}

// writePatchLog writes to a temp file in the same directory and renames it
// over the target so readers never observe a partial file.
func writePatchLog(path string, entries []*models.PatchLog) error {
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode patch log: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create patch log directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".patch-log-*.json")
	if err != nil {
		return fmt.Errorf("failed to create temp patch log: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write patch log: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync patch log: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close patch log: %w", err)
	}

	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("failed to replace patch log: %w", err)
	}
	return nil
}
