package task

import (
	"testing"
	"time"
)

func newTestTask(id, sessionID string, created time.Time) *Task {
	return &Task{
		ID:        id,
		SessionID: sessionID,
		Goal:      "goal for " + id,
		Status:    StatusPending,
		CreatedAt: created,
	}
}

func TestStoreRoundTrip(t *testing.T) {
	dir := t.TempDir()
	s, err := OpenStore(dir)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}

	tk := newTestTask("t1", "s1", time.Now())
	tk.Status = StatusCompleted
	done := time.Now()
	tk.CompletedAt = &done
	tk.Steps = []Step{
		{Agent: AgentPlanner, Step: 1, Thought: "plan", Command: "browser", Timestamp: time.Now()},
		{Agent: AgentExecutor, Step: 1, Thought: "do", Command: "click 3", Timestamp: time.Now(),
			TokenUsage: &TokenUsage{InputTokens: 100, OutputTokens: 20, Cost: 0.001}},
	}
	tk.TokenUsage = TokenUsage{InputTokens: 100, OutputTokens: 20, Cost: 0.001}
	if err := s.Save(tk); err != nil {
		t.Fatalf("save: %v", err)
	}

	reopened, err := OpenStore(dir)
	if err != nil {
		t.Fatalf("reopen store: %v", err)
	}
	got, ok := reopened.Get("t1")
	if !ok {
		t.Fatal("task lost on reload")
	}
	if got.Status != StatusCompleted || got.CompletedAt == nil {
		t.Errorf("status/completedAt lost: %+v", got)
	}
	if len(got.Steps) != 2 || got.Steps[1].Command != "click 3" {
		t.Errorf("step order not preserved: %+v", got.Steps)
	}
	if got.Steps[1].TokenUsage == nil || got.Steps[1].TokenUsage.InputTokens != 100 {
		t.Errorf("step usage lost: %+v", got.Steps[1])
	}
}

func TestStoreListNewestFirst(t *testing.T) {
	s, err := OpenStore(t.TempDir())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	base := time.Now()
	for i, id := range []string{"old", "mid", "new"} {
		if err := s.Save(newTestTask(id, "s1", base.Add(time.Duration(i)*time.Minute))); err != nil {
			t.Fatalf("save %s: %v", id, err)
		}
	}
	list := s.List()
	if len(list) != 3 || list[0].ID != "new" || list[2].ID != "old" {
		t.Errorf("wrong order: %v", []string{list[0].ID, list[1].ID, list[2].ID})
	}
}

func TestStoreMarkStaleRunning(t *testing.T) {
	dir := t.TempDir()
	s, err := OpenStore(dir)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}

	running := newTestTask("r", "s1", time.Now())
	running.Status = StatusRunning
	pending := newTestTask("p", "s1", time.Now())
	completed := newTestTask("c", "s1", time.Now())
	completed.Status = StatusCompleted
	doneAt := time.Now()
	completed.CompletedAt = &doneAt
	for _, tk := range []*Task{running, pending, completed} {
		if err := s.Save(tk); err != nil {
			t.Fatalf("save: %v", err)
		}
	}

	reopened, err := OpenStore(dir)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	n, err := reopened.MarkStaleRunning("process restarted")
	if err != nil {
		t.Fatalf("mark stale: %v", err)
	}
	if n != 2 {
		t.Errorf("marked %d tasks, want 2", n)
	}
	for _, id := range []string{"r", "p"} {
		got, _ := reopened.Get(id)
		if got.Status != StatusFailed || got.Error != "process restarted" || got.CompletedAt == nil {
			t.Errorf("task %s not rewritten: %+v", id, got)
		}
	}
	got, _ := reopened.Get("c")
	if got.Status != StatusCompleted {
		t.Errorf("terminal task must not be touched: %+v", got)
	}
}

func TestStatusIsTerminal(t *testing.T) {
	terminal := []Status{StatusCompleted, StatusFailed, StatusCancelled}
	for _, st := range terminal {
		if !st.IsTerminal() {
			t.Errorf("%s should be terminal", st)
		}
	}
	for _, st := range []Status{StatusPending, StatusRunning} {
		if st.IsTerminal() {
			t.Errorf("%s should not be terminal", st)
		}
	}
}
