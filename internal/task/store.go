package task

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"invisibrow/internal/logging"
)

const tasksFile = "tasks.json"

// Store persists tasks to <storage>/tasks.json. All methods are safe for
// concurrent use by scheduler workers; every mutation writes through to disk
// before returning.
type Store struct {
	mu    sync.Mutex
	path  string
	tasks map[string]*Task
}

// OpenStore loads tasks.json from the storage directory, creating an empty
// store when the file does not exist.
func OpenStore(storageDir string) (*Store, error) {
	s := &Store{
		path:  filepath.Join(storageDir, tasksFile),
		tasks: make(map[string]*Task),
	}

	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("read %s: %w", s.path, err)
	}

	var loaded []*Task
	if err := json.Unmarshal(data, &loaded); err != nil {
		return nil, fmt.Errorf("parse %s: %w", s.path, err)
	}
	for _, t := range loaded {
		s.tasks[t.ID] = t
	}
	logging.Boot("task store loaded %d tasks from %s", len(loaded), s.path)
	return s, nil
}

// Save inserts or replaces a task and writes through.
func (s *Store) Save(t *Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *t
	cp.Steps = append([]Step(nil), t.Steps...)
	s.tasks[t.ID] = &cp
	return s.flushLocked()
}

// Get returns a copy of the task, or false when unknown.
func (s *Store) Get(id string) (Task, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return Task{}, false
	}
	cp := *t
	cp.Steps = append([]Step(nil), t.Steps...)
	return cp, true
}

// List returns all tasks, newest first by creation time.
func (s *Store) List() []Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		cp := *t
		cp.Steps = append([]Step(nil), t.Steps...)
		out = append(out, cp)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// ListBySession returns the session's tasks, newest first.
func (s *Store) ListBySession(sessionID string) []Task {
	all := s.List()
	out := all[:0]
	for _, t := range all {
		if t.SessionID == sessionID {
			out = append(out, t)
		}
	}
	return out
}

// MarkStaleRunning rewrites every non-terminal task to failed with the given
// reason. Called once at startup: a pending or running task surviving a
// restart can never resume.
func (s *Store) MarkStaleRunning(reason string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	now := time.Now()
	for _, t := range s.tasks {
		if t.Status.IsTerminal() {
			continue
		}
		t.Status = StatusFailed
		t.Error = reason
		t.CompletedAt = &now
		n++
	}
	if n == 0 {
		return 0, nil
	}
	logging.Boot("marked %d stale tasks as failed", n)
	return n, s.flushLocked()
}

// flushLocked writes the full task list atomically. Caller holds s.mu.
func (s *Store) flushLocked() error {
	list := make([]*Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		list = append(list, t)
	}
	sort.Slice(list, func(i, j int) bool {
		return list[i].CreatedAt.Before(list[j].CreatedAt)
	})

	data, err := json.MarshalIndent(list, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal tasks: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace %s: %w", s.path, err)
	}
	return nil
}
