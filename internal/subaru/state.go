package subaru

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// StepStore persists step completion markers. A marker's presence alone
// signals that the step finished successfully at least once; markers
// survive process restarts and are only removed when an operator clears
// them explicitly.
type StepStore interface {
	Status(stepID string) (bool, error)
	SetDone(stepID string) error
	Clear(stepID string) error
}

// fsStore keeps one empty marker file per step id under a namespace
// directory inside the target root. The host and target runs use
// different namespaces so the post-boundary loop resumes independently.
type fsStore struct {
	dir string
}

// NewFSStore returns a filesystem-backed StepStore rooted at
// <base>/<namespace>.
func NewFSStore(base, namespace string) StepStore {
	return &fsStore{dir: filepath.Join(base, namespace)}
}

func (s *fsStore) markerPath(stepID string) string {
	return filepath.Join(s.dir, stepID)
}

func (s *fsStore) Status(stepID string) (bool, error) {
	_, err := os.Stat(s.markerPath(stepID))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, fmt.Errorf("failed to stat marker for %s: %w", stepID, err)
}

func (s *fsStore) SetDone(stepID string) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("failed to create marker dir: %w", err)
	}
	if err := os.WriteFile(s.markerPath(stepID), []byte{}, 0o644); err != nil {
		return fmt.Errorf("failed to write marker for %s: %w", stepID, err)
	}
	return nil
}

func (s *fsStore) Clear(stepID string) error {
	err := os.Remove(s.markerPath(stepID))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to clear marker for %s: %w", stepID, err)
	}
	return nil
}

// memStore is an in-memory StepStore used by tests.
type memStore struct {
	mu   sync.Mutex
	done map[string]bool
}

// NewMemStore returns a StepStore that forgets everything on process exit.
func NewMemStore() StepStore {
	return &memStore{done: make(map[string]bool)}
}

func (s *memStore) Status(stepID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done[stepID], nil
}

func (s *memStore) SetDone(stepID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.done[stepID] = true
	return nil
}

func (s *memStore) Clear(stepID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.done, stepID)
	return nil
}
