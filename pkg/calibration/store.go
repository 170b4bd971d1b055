package calibration

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Document is the persisted calibration history: one whole JSON document
// rewritten in full on each mutation, never line-delimited appends.
type Document struct {
	History []Snapshot `json:"history"`
	Metrics Metrics    `json:"metrics"`
}

// Store persists the calibration document at a fixed path.
type Store struct {
	path string
}

// NewStore creates a store, ensuring the parent directory exists.
func NewStore(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("calibration store path is required")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create calibration dir: %w", err)
		}
	}
	return &Store{path: path}, nil
}

// Save rewrites the full document. The write goes through a temp file
// and rename so a crash mid-write cannot truncate existing history.
func (s *Store) Save(doc Document) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode calibration document: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("write calibration document: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace calibration document: %w", err)
	}
	return nil
}

// Load reads the persisted document, returning nil when none exists yet.
func (s *Store) Load() (*Document, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read calibration document: %w", err)
	}

	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse calibration document: %w", err)
	}
	return &doc, nil
}
