package chunking

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"dev/bravebird/mar-export/pkg/models"
)

// DefaultCheckpointFile is the progress file in the working directory
const DefaultCheckpointFile = "chunking_progress.json"

// CheckpointStore persists run progress
type CheckpointStore interface {
	// Load returns nil, nil when no checkpoint exists
	Load() (*models.Checkpoint, error)
	Save(cp *models.Checkpoint) error
	Clear() error
}

// FileStore keeps the checkpoint as indented JSON in a single file
type FileStore struct {
	Path string
}

// NewFileStore returns a store at path, or DefaultCheckpointFile when empty
func NewFileStore(path string) *FileStore {
	if path == "" {
		path = DefaultCheckpointFile
	}
	return &FileStore{Path: path}
}

func (s *FileStore) Load() (*models.Checkpoint, error) {
	data, err := os.ReadFile(s.Path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read checkpoint: %w", err)
	}

	var cp models.Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("failed to parse checkpoint %s: %w", s.Path, err)
	}
	return &cp, nil
}

// Save replaces the checkpoint file. The write goes to a temporary file that
// is renamed over the old one, so a crash never leaves a truncated file.
func (s *FileStore) Save(cp *models.Checkpoint) error {
	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode checkpoint: %w", err)
	}

	dir := filepath.Dir(s.Path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create checkpoint dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(s.Path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp checkpoint: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write checkpoint: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write checkpoint: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.Path); err != nil {
		return fmt.Errorf("failed to replace checkpoint: %w", err)
	}
	return nil
}

func (s *FileStore) Clear() error {
	if err := os.Remove(s.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to clear checkpoint: %w", err)
	}
	return nil
}
