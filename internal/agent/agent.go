package agent

import (
	"errors"
	"fmt"

	"invisibrow/internal/llm"
	"invisibrow/internal/task"
)

const maxSteps = 15

// Fixed failure messages surfaced in task records.
var (
	ErrUserAborted = errors.New("User aborted")
	ErrMaxSteps    = errors.New("max steps reached")
)

// Hooks threads the scheduler's persistence closures down through Planner,
// Executor, and Watchdog.
type Hooks struct {
	// RecordStep appends a step to the task and persists it.
	RecordStep func(step task.Step)
	// RecordUsage folds one LLM call into task and session accounting.
	RecordUsage func(model string, usage llm.Usage)
	// AppendHistory adds a summary line to the session's history.
	AppendHistory func(entry string)
	// SetVerifying flags the session as waiting on manual verification.
	SetVerifying func(v bool)
}

func (h Hooks) recordStep(step task.Step) {
	if h.RecordStep != nil {
		h.RecordStep(step)
	}
}

func (h Hooks) recordUsage(model string, usage llm.Usage) {
	if h.RecordUsage != nil {
		h.RecordUsage(model, usage)
	}
}

func (h Hooks) appendHistory(entry string) {
	if h.AppendHistory != nil {
		h.AppendHistory(entry)
	}
}

func (h Hooks) setVerifying(v bool) {
	if h.SetVerifying != nil {
		h.SetVerifying(v)
	}
}

// BrowserResult is the only information the Executor hands back to the
// Planner. Raw DOM never crosses this boundary.
type BrowserResult struct {
	Summary   string            `json:"summary"`
	Extracted map[string]string `json:"extracted"`
	URL       string            `json:"url"`
}

// InterventionError signals that a human must take over the browser.
type InterventionError struct {
	Reason string
	URL    string
}

func (e *InterventionError) Error() string {
	return fmt.Sprintf("intervention required: %s", e.Reason)
}

// stepUsage converts an LLM usage into the persisted per-step breakdown.
func stepUsage(model string, u llm.Usage) *task.TokenUsage {
	return &task.TokenUsage{
		InputTokens:  u.PromptTokens,
		CachedTokens: u.CachedTokens,
		OutputTokens: u.CompletionTokens,
		Cost:         llm.EstimateCost(model, u),
	}
}
