// Package scheduler runs tasks against sessions with bounded concurrency.
// It owns the durable task lifecycle: every status transition is persisted
// before the next one happens.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"invisibrow/internal/agent"
	"invisibrow/internal/browser"
	"invisibrow/internal/events"
	"invisibrow/internal/llm"
	"invisibrow/internal/logging"
	"invisibrow/internal/memory"
	"invisibrow/internal/session"
	"invisibrow/internal/task"
)

const restartReason = "interrupted by process restart"

// DriverFactory builds a page driver bound to one session's profile.
type DriverFactory func(sessionID string) browser.PageDriver

// Models names the model per agent role, mirroring the config block.
type Models struct {
	Planner  string
	Executor string
	Watchdog string
}

// Scheduler admits at most N tasks at a time, FIFO. Each task owns a cancel
// token; tasks on the same session are serialized with the session's lock.
type Scheduler struct {
	client    llm.Client
	tasks     *task.Store
	sessions  *session.Store
	memory    *memory.Store
	bus       *events.Bus
	newDriver DriverFactory
	models    Models

	sem  *semaphore.Weighted
	wg   sync.WaitGroup
	base context.Context
	stop context.CancelFunc

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
}

// New creates a scheduler and rewrites tasks interrupted by the previous
// process to failed.
func New(client llm.Client, tasks *task.Store, sessions *session.Store, mem *memory.Store, bus *events.Bus, newDriver DriverFactory, models Models, concurrency int) (*Scheduler, error) {
	if concurrency <= 0 {
		concurrency = 2
	}
	if _, err := tasks.MarkStaleRunning(restartReason); err != nil {
		return nil, fmt.Errorf("recover stale tasks: %w", err)
	}

	base, stop := context.WithCancel(context.Background())
	s := &Scheduler{
		client:    client,
		tasks:     tasks,
		sessions:  sessions,
		memory:    mem,
		bus:       bus,
		newDriver: newDriver,
		models:    models,
		sem:       semaphore.NewWeighted(int64(concurrency)),
		base:      base,
		stop:      stop,
		cancels:   make(map[string]context.CancelFunc),
	}
	logging.Scheduler("scheduler ready (concurrency=%d)", concurrency)
	return s, nil
}

// Submit creates a pending task and enqueues it. Returns the task id.
func (s *Scheduler) Submit(sessionID, goal string) (string, error) {
	if _, err := s.sessions.Get(sessionID); err != nil {
		return "", err
	}

	t := &task.Task{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Goal:      goal,
		Status:    task.StatusPending,
		CreatedAt: time.Now(),
	}
	if err := s.tasks.Save(t); err != nil {
		return "", fmt.Errorf("persist task: %w", err)
	}

	ctx, cancel := context.WithCancel(s.base)
	s.mu.Lock()
	s.cancels[t.ID] = cancel
	s.mu.Unlock()

	s.wg.Add(1)
	go s.run(ctx, t)

	logging.Scheduler("task %s submitted (session=%s)", t.ID, sessionID)
	s.bus.Log("info", "task submitted: %s", goal)
	return t.ID, nil
}

// Stop cancels a task. Queued tasks short-circuit to cancelled when their
// worker starts; running tasks abort at the next suspension point.
func (s *Scheduler) Stop(taskID string) error {
	s.mu.Lock()
	cancel, ok := s.cancels[taskID]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("task %s is not active", taskID)
	}
	cancel()
	logging.Scheduler("task %s stop requested", taskID)
	return nil
}

// Tasks lists all known tasks, newest first.
func (s *Scheduler) Tasks() []task.Task {
	return s.tasks.List()
}

// Shutdown cancels everything and waits for in-flight workers.
func (s *Scheduler) Shutdown() {
	s.stop()
	s.wg.Wait()
	logging.Scheduler("scheduler stopped")
}

func (s *Scheduler) run(ctx context.Context, t *task.Task) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		delete(s.cancels, t.ID)
		s.mu.Unlock()
	}()

	if err := s.sem.Acquire(ctx, 1); err != nil {
		s.finalize(t, task.StatusCancelled, "")
		return
	}
	defer s.sem.Release(1)

	// Gate: cancelled while queued.
	if ctx.Err() != nil {
		s.finalize(t, task.StatusCancelled, "")
		return
	}

	// One task per session at a time; the driver is not shareable.
	lock := s.sessions.Lock(t.SessionID)
	lock.Lock()
	defer lock.Unlock()
	if ctx.Err() != nil {
		s.finalize(t, task.StatusCancelled, "")
		return
	}

	// Read the session under the lock so history written by a task queued
	// ahead of this one is visible.
	sess, err := s.sessions.Get(t.SessionID)
	if err != nil {
		s.finalize(t, task.StatusFailed, err.Error())
		return
	}

	t.Status = task.StatusRunning
	if err := s.tasks.Save(t); err != nil {
		logging.Scheduler("task %s: persist running: %v", t.ID, err)
	}
	logging.Scheduler("task %s running", t.ID)

	driver := s.newDriver(t.SessionID)
	defer func() {
		if err := driver.Close(); err != nil {
			logging.Scheduler("task %s: driver close: %v", t.ID, err)
		}
	}()

	watchdog := agent.NewWatchdog(s.client, s.memory, s.models.Watchdog)
	executor := agent.NewExecutor(s.client, watchdog, driver, s.models.Executor, t.SessionID)
	planner := agent.NewPlanner(s.client, s.memory, s.bus, s.models.Planner, executor, driver)

	hooks := agent.Hooks{
		RecordStep: func(step task.Step) {
			t.Steps = append(t.Steps, step)
			if err := s.tasks.Save(t); err != nil {
				logging.Scheduler("task %s: persist step: %v", t.ID, err)
			}
		},
		RecordUsage: func(model string, usage llm.Usage) {
			t.TokenUsage.Add(task.TokenUsage{
				InputTokens:  usage.PromptTokens,
				CachedTokens: usage.CachedTokens,
				OutputTokens: usage.CompletionTokens,
				Cost:         llm.EstimateCost(model, usage),
			})
			if err := s.sessions.ApplyUsage(t.SessionID, model, usage); err != nil {
				logging.Scheduler("task %s: session stats: %v", t.ID, err)
			}
		},
		AppendHistory: func(entry string) {
			if err := s.sessions.AppendHistory(t.SessionID, entry); err != nil {
				logging.Scheduler("task %s: append history: %v", t.ID, err)
			}
		},
		SetVerifying: func(v bool) {
			if err := s.sessions.SetVerifying(t.SessionID, v); err != nil {
				logging.Scheduler("task %s: set verifying: %v", t.ID, err)
			}
		},
	}

	outcome, err := planner.Run(ctx, agent.Input{
		TaskID:         t.ID,
		SessionID:      t.SessionID,
		Goal:           t.Goal,
		Headless:       sess.Headless,
		SessionHistory: sess.SessionHistory,
	}, hooks)

	switch {
	case err == nil:
		t.Result = outcome.Answer
		t.URL = outcome.URL
		s.finalize(t, task.StatusCompleted, "")
		s.bus.Log("info", "task completed: %s", t.Goal)
	case errors.Is(err, agent.ErrUserAborted) || ctx.Err() != nil:
		s.finalize(t, task.StatusCancelled, "")
		s.bus.Log("warn", "task cancelled: %s", t.Goal)
	default:
		s.finalize(t, task.StatusFailed, err.Error())
		s.bus.Log("error", "task failed: %s: %v", t.Goal, err)
	}
}

// finalize sets a terminal status exactly once and persists it.
func (s *Scheduler) finalize(t *task.Task, status task.Status, errMsg string) {
	if t.Status.IsTerminal() {
		return
	}
	now := time.Now()
	t.Status = status
	t.CompletedAt = &now
	if errMsg != "" {
		t.Error = errMsg
	}
	if err := s.tasks.Save(t); err != nil {
		logging.Scheduler("task %s: persist terminal %s: %v", t.ID, status, err)
	}
	logging.Scheduler("task %s finished: %s", t.ID, status)
}
