package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"invisibrow/internal/events"
	"invisibrow/internal/llm"
	"invisibrow/internal/logging"
)

const sessionsFile = "sessions.json"

// ErrNotFound is returned for unknown session ids.
var ErrNotFound = errors.New("session not found")

// Store persists sessions to <storage>/sessions.json and serializes all
// mutations. Per-session locks are exposed so the scheduler can keep tasks
// on the same session from sharing a live browser.
type Store struct {
	mu       sync.Mutex
	path     string
	sessions map[string]*Session
	locks    map[string]*sync.Mutex
	bus      *events.Bus
}

// OpenStore loads sessions.json, creating an empty store when missing.
// bus may be nil; stats updates are then not announced.
func OpenStore(storageDir string, bus *events.Bus) (*Store, error) {
	s := &Store{
		path:     filepath.Join(storageDir, sessionsFile),
		sessions: make(map[string]*Session),
		locks:    make(map[string]*sync.Mutex),
		bus:      bus,
	}

	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("read %s: %w", s.path, err)
	}
	var loaded []*Session
	if err := json.Unmarshal(data, &loaded); err != nil {
		return nil, fmt.Errorf("parse %s: %w", s.path, err)
	}
	for _, sess := range loaded {
		sess.IsVerifying = false
		s.sessions[sess.ID] = sess
	}
	logging.Boot("session store loaded %d sessions from %s", len(loaded), s.path)
	return s, nil
}

// Create adds a new session with the given name and headless preference.
func (s *Store) Create(name string, headless bool) (Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	sess := &Session{
		ID:        uuid.NewString(),
		Name:      name,
		Headless:  headless,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.sessions[sess.ID] = sess
	if err := s.flushLocked(); err != nil {
		delete(s.sessions, sess.ID)
		return Session{}, err
	}
	logging.Session("created session %s (%q, headless=%v)", sess.ID, name, headless)
	return *sess, nil
}

// Get returns a copy of a session.
func (s *Store) Get(id string) (Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return Session{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return copySession(sess), nil
}

// List returns all sessions, newest first by creation time.
func (s *Store) List() []Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, copySession(sess))
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// Rename changes a session's display name.
func (s *Store) Rename(id, name string) error {
	return s.mutate(id, func(sess *Session) { sess.Name = name })
}

// ToggleHeadless flips the session's preferred headless mode and returns
// the new value.
func (s *Store) ToggleHeadless(id string) (bool, error) {
	var headless bool
	err := s.mutate(id, func(sess *Session) {
		sess.Headless = !sess.Headless
		headless = sess.Headless
	})
	return headless, err
}

// SetHeadless sets the session's preferred headless mode.
func (s *Store) SetHeadless(id string, headless bool) error {
	return s.mutate(id, func(sess *Session) { sess.Headless = headless })
}

// Delete removes a session record. The profile directory is the driver's
// concern and is left in place.
func (s *Store) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	delete(s.sessions, id)
	if err := s.flushLocked(); err != nil {
		s.sessions[id] = sess
		return err
	}
	logging.Session("deleted session %s", id)
	return nil
}

// AppendHistory adds a plain-text summary of a completed task.
func (s *Store) AppendHistory(id, entry string) error {
	return s.mutate(id, func(sess *Session) {
		sess.SessionHistory = append(sess.SessionHistory, entry)
	})
}

// SetVerifying flags the session as waiting on manual verification. The
// flag is transient and never persisted.
func (s *Store) SetVerifying(id string, v bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	sess.IsVerifying = v
	return nil
}

// ApplyUsage folds one LLM call's usage into the session's rolling stats and
// announces the change on the bus.
func (s *Store) ApplyUsage(id, model string, u llm.Usage) error {
	err := s.mutate(id, func(sess *Session) {
		sess.Stats.Tokens += u.PromptTokens + u.CompletionTokens
		sess.Stats.CachedTokens += u.CachedTokens
		sess.Stats.Cost += llm.EstimateCost(model, u)
		sess.Stats.LastPromptTokens = u.PromptTokens
	})
	if err != nil {
		return err
	}
	if s.bus != nil {
		s.bus.Publish(events.Event{Kind: events.KindSessionStatsUpdated, SessionID: id})
	}
	return nil
}

// Lock returns the session's serialization mutex, creating it on first use.
// Unknown ids get a mutex too; the scheduler checks existence separately.
func (s *Store) Lock(id string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m, ok := s.locks[id]; ok {
		return m
	}
	m := &sync.Mutex{}
	s.locks[id] = m
	return m
}

func (s *Store) mutate(id string, fn func(*Session)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	fn(sess)
	sess.UpdatedAt = time.Now()
	return s.flushLocked()
}

func copySession(sess *Session) Session {
	cp := *sess
	cp.SessionHistory = append([]string(nil), sess.SessionHistory...)
	return cp
}

// flushLocked writes sessions.json atomically. Caller holds s.mu.
func (s *Store) flushLocked() error {
	list := make([]*Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		list = append(list, sess)
	}
	sort.Slice(list, func(i, j int) bool {
		return list[i].CreatedAt.Before(list[j].CreatedAt)
	})
	data, err := json.MarshalIndent(list, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal sessions: %w", err)
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
