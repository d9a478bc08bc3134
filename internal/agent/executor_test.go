package agent

import (
	"context"
	"errors"
	"testing"
	"time"

	"invisibrow/internal/browser"
	"invisibrow/internal/llm"
	"invisibrow/internal/task"
)

func shortenSleeps(t *testing.T) {
	t.Helper()
	oldMin, oldMax := settleMin, settleMax
	settleMin, settleMax = time.Millisecond, 2*time.Millisecond
	t.Cleanup(func() { settleMin, settleMax = oldMin, oldMax })
}

type recorded struct {
	steps     []task.Step
	usages    []llm.Usage
	history   []string
	verifying []bool
}

func (r *recorded) hooks() Hooks {
	return Hooks{
		RecordStep:    func(s task.Step) { r.steps = append(r.steps, s) },
		RecordUsage:   func(model string, u llm.Usage) { r.usages = append(r.usages, u) },
		AppendHistory: func(e string) { r.history = append(r.history, e) },
		SetVerifying:  func(v bool) { r.verifying = append(r.verifying, v) },
	}
}

func newTestExecutor(t *testing.T, client *llm.ScriptedClient, driver browser.PageDriver) *Executor {
	t.Helper()
	wd := NewWatchdog(client, openTestMemory(t), "wd-model")
	return NewExecutor(client, wd, driver, "exec-model", "s1")
}

func TestExecutorFinishWithSummarization(t *testing.T) {
	shortenSleeps(t)
	client := llm.NewScriptedClient(llm.Usage{PromptTokens: 10, CompletionTokens: 5})
	client.Enqueue(llm.AgentWatchdog, noBlockVerdict(), noBlockVerdict())
	client.Enqueue(llm.AgentExecutor,
		`{"thought": "open the store", "action": "goto", "param": "https://shop.test"}`,
		`{"thought": "price is visible", "action": "answer", "answer": "price is 9.99"}`,
		`{"summary": "The product costs 9.99 EUR.", "extracted": {"price": "9.99"}}`,
	)
	driver := browser.NewStubDriver(
		&browser.Snapshot{URL: "about:blank", Title: "blank"},
		&browser.Snapshot{URL: "https://shop.test", Title: "Shop"},
	)
	exec := newTestExecutor(t, client, driver)

	var rec recorded
	result, err := exec.Run(context.Background(), "find the price", true, rec.hooks())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.Summary != "The product costs 9.99 EUR." || result.Extracted["price"] != "9.99" {
		t.Errorf("summarization lost: %+v", result)
	}
	if len(rec.steps) != 2 {
		t.Fatalf("got %d steps, want 2", len(rec.steps))
	}
	if rec.steps[0].Agent != task.AgentExecutor || rec.steps[0].Command != "goto https://shop.test" {
		t.Errorf("step 1 wrong: %+v", rec.steps[0])
	}
	if rec.steps[0].Step != 1 || rec.steps[1].Step != 2 {
		t.Errorf("step numbering wrong: %d, %d", rec.steps[0].Step, rec.steps[1].Step)
	}
	// 2 watchdog + 2 decision + 1 summary usage records.
	if len(rec.usages) != 5 {
		t.Errorf("got %d usage records, want 5", len(rec.usages))
	}
}

func TestExecutorSummarizationFaultFallsBack(t *testing.T) {
	shortenSleeps(t)
	client := llm.NewScriptedClient(llm.Usage{PromptTokens: 1})
	client.Enqueue(llm.AgentWatchdog, noBlockVerdict())
	// Only the decision is scripted; the summarization call will error.
	client.Enqueue(llm.AgentExecutor,
		`{"thought": "done", "action": "finish", "answer": "logged in"}`)
	driver := browser.NewStubDriver(&browser.Snapshot{URL: "https://a.test", Title: "home"})
	exec := newTestExecutor(t, client, driver)

	var rec recorded
	result, err := exec.Run(context.Background(), "log in", true, rec.hooks())
	if err != nil {
		t.Fatalf("summarization fault must be non-fatal: %v", err)
	}
	if result.Summary != "logged in" {
		t.Errorf("fallback summary = %q, want operator answer", result.Summary)
	}
}

func TestExecutorSummarizationFallbackDefault(t *testing.T) {
	shortenSleeps(t)
	client := llm.NewScriptedClient(llm.Usage{})
	client.Enqueue(llm.AgentWatchdog, noBlockVerdict())
	client.Enqueue(llm.AgentExecutor, `{"thought": "done", "action": "finish"}`)
	driver := browser.NewStubDriver(&browser.Snapshot{URL: "https://a.test", Title: "home"})
	exec := newTestExecutor(t, client, driver)

	var rec recorded
	result, err := exec.Run(context.Background(), "g", true, rec.hooks())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.Summary != "task complete" {
		t.Errorf("summary = %q, want \"task complete\"", result.Summary)
	}
}

func TestExecutorInterventionPropagates(t *testing.T) {
	shortenSleeps(t)
	client := llm.NewScriptedClient(llm.Usage{})
	driver := browser.NewStubDriver(&browser.Snapshot{URL: "https://a.test", Title: "Access Denied"})
	exec := newTestExecutor(t, client, driver)

	var rec recorded
	_, err := exec.Run(context.Background(), "g", true, rec.hooks())
	var iv *InterventionError
	if !errors.As(err, &iv) {
		t.Fatalf("expected InterventionError, got %v", err)
	}
	if iv.URL != "https://a.test" {
		t.Errorf("intervention URL = %q", iv.URL)
	}
	if len(rec.steps) != 0 {
		t.Errorf("intervention must not record a decision step, got %d", len(rec.steps))
	}
}

func TestExecutorMaxSteps(t *testing.T) {
	shortenSleeps(t)
	client := llm.NewScriptedClient(llm.Usage{})
	for i := 0; i < maxSteps; i++ {
		client.Enqueue(llm.AgentWatchdog, noBlockVerdict())
		client.Enqueue(llm.AgentExecutor, `{"thought": "hmm", "action": "wait"}`)
	}
	driver := browser.NewStubDriver(&browser.Snapshot{URL: "https://a.test", Title: "home"})
	exec := newTestExecutor(t, client, driver)

	var rec recorded
	_, err := exec.Run(context.Background(), "g", true, rec.hooks())
	if !errors.Is(err, ErrMaxSteps) {
		t.Fatalf("expected ErrMaxSteps, got %v", err)
	}
	if len(rec.steps) != maxSteps {
		t.Errorf("got %d steps, want %d", len(rec.steps), maxSteps)
	}
}

func TestExecutorActionFailureIsNotFatal(t *testing.T) {
	shortenSleeps(t)
	client := llm.NewScriptedClient(llm.Usage{})
	client.Enqueue(llm.AgentWatchdog, noBlockVerdict(), noBlockVerdict())
	client.Enqueue(llm.AgentExecutor,
		`{"thought": "click it", "action": "click", "param": "not-a-number"}`,
		`{"thought": "give up politely", "action": "finish", "answer": "done"}`)
	driver := browser.NewStubDriver(&browser.Snapshot{URL: "https://a.test", Title: "home"})
	exec := newTestExecutor(t, client, driver)

	var rec recorded
	result, err := exec.Run(context.Background(), "g", true, rec.hooks())
	if err != nil {
		t.Fatalf("bad action param must not abort the loop: %v", err)
	}
	if result.Summary != "done" {
		t.Errorf("result = %+v", result)
	}
}

func TestExecutorCancellation(t *testing.T) {
	shortenSleeps(t)
	client := llm.NewScriptedClient(llm.Usage{})
	driver := browser.NewStubDriver(&browser.Snapshot{URL: "https://a.test", Title: "home"})
	exec := newTestExecutor(t, client, driver)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	var rec recorded
	_, err := exec.Run(ctx, "g", true, rec.hooks())
	if !errors.Is(err, ErrUserAborted) {
		t.Errorf("expected ErrUserAborted, got %v", err)
	}
}
