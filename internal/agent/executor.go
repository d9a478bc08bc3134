package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"strconv"
	"strings"
	"time"

	"invisibrow/internal/browser"
	"invisibrow/internal/llm"
	"invisibrow/internal/logging"
	"invisibrow/internal/task"
)

// Inter-step settle sleep bounds. Vars so tests can shorten them.
var (
	settleMin = 2 * time.Second
	settleMax = 4 * time.Second
)

// decision is one executor LLM output.
type decision struct {
	Thought string `json:"thought"`
	Action  string `json:"action"`
	Param   string `json:"param"`
	Answer  string `json:"answer"`
}

// Executor drives the page toward one goal string, consulting the Watchdog
// before every decision.
type Executor struct {
	client    llm.Client
	watchdog  *Watchdog
	driver    browser.PageDriver
	model     string
	sessionID string
}

// NewExecutor wires an executor to a session's driver.
func NewExecutor(client llm.Client, watchdog *Watchdog, driver browser.PageDriver, model, sessionID string) *Executor {
	return &Executor{
		client:    client,
		watchdog:  watchdog,
		driver:    driver,
		model:     model,
		sessionID: sessionID,
	}
}

// Run executes the snapshot/decide/act loop, at most 15 iterations. It
// returns a BrowserResult on success, an *InterventionError when a human is
// needed, or a plain error on failure.
func (e *Executor) Run(ctx context.Context, goal string, headless bool, hooks Hooks) (*BrowserResult, error) {
	if err := e.driver.Start(ctx, headless); err != nil {
		return nil, fmt.Errorf("start browser: %w", err)
	}

	var history []string
	for step := 1; step <= maxSteps; step++ {
		if err := ctx.Err(); err != nil {
			return nil, ErrUserAborted
		}

		snap, err := e.driver.TakeSnapshot(ctx)
		if err != nil {
			return nil, fmt.Errorf("snapshot: %w", err)
		}

		verdict, wdUsage, err := e.watchdog.Check(ctx, e.sessionID, goal, snap, tail(history, 5))
		if wdUsage.Total() > 0 {
			hooks.recordUsage(e.watchdog.model, wdUsage)
		}
		if err != nil {
			return nil, err
		}
		if verdict.Blocked() {
			reason := verdict.Reason
			if reason == "" {
				reason = "agent appears stuck"
			}
			logging.Executor("session %s: step %d blocked: %s", e.sessionID, step, reason)
			return nil, &InterventionError{Reason: reason, URL: snap.URL}
		}

		dec, decUsage, err := e.decide(ctx, goal, snap, history)
		hooks.recordUsage(e.model, decUsage)
		if err != nil {
			return nil, err
		}

		merged := wdUsage
		merged.Add(decUsage)
		hooks.recordStep(task.Step{
			Agent:      task.AgentExecutor,
			Step:       step,
			Thought:    dec.Thought,
			Command:    strings.TrimSpace(dec.Action + " " + dec.Param),
			Timestamp:  time.Now(),
			TokenUsage: stepUsage(e.model, merged),
		})
		history = append(history, fmt.Sprintf("%d: %s", step, dec.Thought))
		logging.Executor("session %s: step %d: %s %s", e.sessionID, step, dec.Action, dec.Param)

		if dec.Action == "finish" || dec.Action == "answer" {
			return e.summarize(ctx, goal, snap, dec, hooks)
		}

		// Action failures are logged and retried by the loop, never fatal.
		if err := e.perform(ctx, dec); err != nil {
			if ctx.Err() != nil {
				return nil, ErrUserAborted
			}
			logging.Executor("session %s: step %d action failed: %v", e.sessionID, step, err)
			history[len(history)-1] += fmt.Sprintf(" (action failed: %v)", err)
		}
		jitterSleep(ctx, settleMin, settleMax)
	}
	return nil, ErrMaxSteps
}

func (e *Executor) decide(ctx context.Context, goal string, snap *browser.Snapshot, history []string) (decision, llm.Usage, error) {
	system, err := renderPrompt("executor", prompts.Executor, map[string]string{
		"Goal":    goal,
		"History": strings.Join(history, "\n"),
	})
	if err != nil {
		return decision{}, llm.Usage{}, err
	}

	res, err := e.client.Chat(ctx, llm.Request{
		Model:     e.model,
		System:    system,
		Messages:  []llm.Message{{Role: llm.RoleUser, Content: serializeSnapshot(snap)}},
		Schema:    decisionSchema,
		AgentType: llm.AgentExecutor,
		SessionID: e.sessionID,
	})
	if err != nil {
		return decision{}, llm.Usage{}, fmt.Errorf("decision call: %w", err)
	}

	var dec decision
	if err := llm.DecodeStrict(res.Content, decisionSchema, &dec); err != nil {
		return decision{}, res.Usage, fmt.Errorf("decision decode: %w", err)
	}
	return dec, res.Usage, nil
}

func (e *Executor) perform(ctx context.Context, dec decision) error {
	switch dec.Action {
	case "goto":
		return e.driver.Navigate(ctx, dec.Param)
	case "search":
		return e.driver.Search(ctx, dec.Param)
	case "click":
		idx, err := strconv.Atoi(strings.TrimSpace(dec.Param))
		if err != nil {
			return fmt.Errorf("click param %q: %w", dec.Param, err)
		}
		return e.driver.Click(ctx, idx)
	case "type":
		rawIdx, text, ok := strings.Cut(dec.Param, ":")
		if !ok {
			return fmt.Errorf("type param %q: want \"index:text\"", dec.Param)
		}
		idx, err := strconv.Atoi(strings.TrimSpace(rawIdx))
		if err != nil {
			return fmt.Errorf("type param %q: %w", dec.Param, err)
		}
		return e.driver.Type(ctx, idx, text)
	case "wait":
		return e.driver.Wait(ctx)
	default:
		return fmt.Errorf("unknown action %q", dec.Action)
	}
}

// summarize compresses the final page for the Planner. A summarization fault
// is non-fatal; the operator's answer stands in.
func (e *Executor) summarize(ctx context.Context, goal string, snap *browser.Snapshot, dec decision, hooks Hooks) (*BrowserResult, error) {
	result := &BrowserResult{
		Summary:   dec.Answer,
		Extracted: map[string]string{},
		URL:       e.driver.URL(),
	}
	if result.URL == "" {
		result.URL = snap.URL
	}

	system, err := renderPrompt("summarizer", prompts.Summarizer, map[string]string{
		"Goal":   goal,
		"Answer": dec.Answer,
	})
	if err == nil {
		res, callErr := e.client.Chat(ctx, llm.Request{
			Model:     e.model,
			System:    system,
			Messages:  []llm.Message{{Role: llm.RoleUser, Content: serializeSnapshot(snap)}},
			Schema:    summarySchema,
			AgentType: llm.AgentExecutor,
			SessionID: e.sessionID,
		})
		if callErr == nil {
			hooks.recordUsage(e.model, res.Usage)
			var out struct {
				Summary   string            `json:"summary"`
				Extracted map[string]string `json:"extracted"`
			}
			if decErr := llm.DecodeStrict(res.Content, summarySchema, &out); decErr == nil {
				result.Summary = out.Summary
				if out.Extracted != nil {
					result.Extracted = out.Extracted
				}
				return result, nil
			}
		} else if ctx.Err() != nil {
			return nil, ErrUserAborted
		}
	}

	logging.Executor("session %s: summarization failed, using operator answer", e.sessionID)
	if result.Summary == "" {
		result.Summary = "task complete"
	}
	return result, nil
}

// serializeSnapshot renders a snapshot as the JSON user message all agent
// prompts consume.
func serializeSnapshot(snap *browser.Snapshot) string {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Sprintf(`{"url": %q, "title": %q}`, snap.URL, snap.Title)
	}
	return string(data)
}

// tail returns the last n entries of history.
func tail(history []string, n int) []string {
	if len(history) <= n {
		return history
	}
	return history[len(history)-n:]
}

// jitterSleep sleeps a random duration in [min, max), returning early when
// the context is cancelled.
func jitterSleep(ctx context.Context, min, max time.Duration) {
	d := min + time.Duration(rand.Int63n(int64(max-min)))
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}
