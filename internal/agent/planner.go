package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"invisibrow/internal/browser"
	"invisibrow/internal/events"
	"invisibrow/internal/llm"
	"invisibrow/internal/logging"
	"invisibrow/internal/memory"
	"invisibrow/internal/task"
)

const manualLoginGoal = "MANUAL_LOGIN"

// Vars so tests can shorten them.
var (
	planWaitDuration = 5 * time.Second
	manualLoginSleep = 300 * time.Second
)

// Input carries everything a task run needs.
type Input struct {
	TaskID         string
	SessionID      string
	Goal           string
	Headless       bool
	SessionHistory []string
}

// Outcome is a successful task result.
type Outcome struct {
	Answer string
	URL    string
}

type planDecision struct {
	Thought string `json:"thought"`
	Command string `json:"command"`
	Input   struct {
		Goal   string `json:"goal"`
		Answer string `json:"answer"`
	} `json:"input"`
}

// Planner decomposes a goal into executor runs, recalls prior results, and
// owns the intervention handshake.
type Planner struct {
	client   llm.Client
	memory   *memory.Store
	bus      *events.Bus
	model    string
	executor *Executor
	driver   browser.PageDriver
}

// NewPlanner wires a planner to one task's session resources.
func NewPlanner(client llm.Client, mem *memory.Store, bus *events.Bus, model string, executor *Executor, driver browser.PageDriver) *Planner {
	return &Planner{
		client:   client,
		memory:   mem,
		bus:      bus,
		model:    model,
		executor: executor,
		driver:   driver,
	}
}

// Run executes the planning loop for one task. Cancellation surfaces as
// ErrUserAborted; exhausting the step limit as ErrMaxSteps.
func (p *Planner) Run(ctx context.Context, in Input, hooks Hooks) (*Outcome, error) {
	if strings.TrimSpace(in.Goal) == manualLoginGoal {
		return p.runManualLogin(ctx, in, hooks)
	}

	keywords, err := p.extractKeywords(ctx, in, hooks)
	if err != nil {
		return nil, err
	}
	memoryBlock := p.recallBlock(keywords)
	historyBlock := strings.Join(in.SessionHistory, "\n")

	var lastResult *BrowserResult
	var trace []string
	for step := 1; step <= maxSteps; step++ {
		if ctx.Err() != nil {
			return nil, ErrUserAborted
		}

		dec, usage, err := p.planStep(ctx, in, memoryBlock, historyBlock, trace, lastResult)
		hooks.recordUsage(p.model, usage)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ErrUserAborted
			}
			return nil, err
		}

		hooks.recordStep(task.Step{
			Agent:      task.AgentPlanner,
			Step:       step,
			Thought:    dec.Thought,
			Command:    dec.Command,
			Timestamp:  time.Now(),
			TokenUsage: stepUsage(p.model, usage),
		})
		trace = append(trace, fmt.Sprintf("%d: [%s] %s", step, dec.Command, dec.Thought))
		logging.Planner("session %s task %s: step %d -> %s", in.SessionID, in.TaskID, step, dec.Command)

		switch dec.Command {
		case "finish":
			answer := dec.Input.Answer
			if answer == "" && lastResult != nil {
				answer = lastResult.Summary
			}
			return p.finish(in, keywords, answer, lastResult, hooks)

		case "wait":
			select {
			case <-ctx.Done():
				return nil, ErrUserAborted
			case <-time.After(planWaitDuration):
			}

		case "browser":
			result, err := p.executor.Run(ctx, dec.Input.Goal, in.Headless, hooks)
			var intervention *InterventionError
			if errors.As(err, &intervention) {
				if err := p.handleIntervention(ctx, in, intervention, hooks); err != nil {
					if ctx.Err() != nil {
						return nil, ErrUserAborted
					}
					return nil, err
				}
				step-- // the intervention iteration does not count
				continue
			}
			if err != nil {
				if ctx.Err() != nil {
					return nil, ErrUserAborted
				}
				return nil, err
			}
			lastResult = result

		default:
			return nil, fmt.Errorf("planner returned unknown command %q", dec.Command)
		}
	}
	return nil, ErrMaxSteps
}

// runManualLogin opens a visible browser and holds it for the user. The
// timer races the cancel token.
func (p *Planner) runManualLogin(ctx context.Context, in Input, hooks Hooks) (*Outcome, error) {
	if err := p.driver.Start(ctx, false); err != nil {
		return nil, fmt.Errorf("start browser for manual session: %w", err)
	}
	logging.Planner("session %s: manual login window open for %s", in.SessionID, manualLoginSleep)

	select {
	case <-ctx.Done():
		return nil, ErrUserAborted
	case <-time.After(manualLoginSleep):
	}

	return p.finish(in, []string{"manual", "login"}, "manual session ended",
		&BrowserResult{Summary: "manual session ended", URL: p.driver.URL()}, hooks)
}

// finish persists the success record and the session-history entry, then
// returns the outcome.
func (p *Planner) finish(in Input, keywords []string, answer string, lastResult *BrowserResult, hooks Hooks) (*Outcome, error) {
	url := ""
	artifacts := map[string]string{}
	if lastResult != nil {
		url = lastResult.URL
		for k, v := range lastResult.Extracted {
			artifacts[k] = v
		}
	}
	if answer == "" {
		answer = "task complete"
	}

	rec := memory.Record{
		ID:        in.TaskID,
		Goal:      in.Goal,
		Keywords:  keywords,
		Summary:   answer,
		Artifacts: artifacts,
		Status:    "success",
		Timestamp: time.Now(),
	}
	if err := p.memory.Save(rec); err != nil {
		logging.Planner("session %s task %s: memory save failed: %v", in.SessionID, in.TaskID, err)
	}

	hooks.appendHistory(fmt.Sprintf("%s goal: %s / result: %s",
		time.Now().Format("2006-01-02 15:04"), in.Goal, answer))
	return &Outcome{Answer: answer, URL: url}, nil
}

// extractKeywords runs the keyword-extraction call. A fault here fails the
// task; recall keywords also key the eventual memory record.
func (p *Planner) extractKeywords(ctx context.Context, in Input, hooks Hooks) ([]string, error) {
	system, err := renderPrompt("keywords", prompts.Keywords, map[string]string{"Goal": in.Goal})
	if err != nil {
		return nil, err
	}
	res, err := p.client.Chat(ctx, llm.Request{
		Model:     p.model,
		System:    system,
		Messages:  []llm.Message{{Role: llm.RoleUser, Content: in.Goal}},
		Schema:    keywordsSchema,
		AgentType: llm.AgentPlanner,
		SessionID: in.SessionID,
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ErrUserAborted
		}
		return nil, fmt.Errorf("keyword extraction: %w", err)
	}
	hooks.recordUsage(p.model, res.Usage)

	var out struct {
		Keywords []string `json:"keywords"`
	}
	if err := llm.DecodeStrict(res.Content, keywordsSchema, &out); err != nil {
		return nil, fmt.Errorf("keyword decode: %w", err)
	}
	for i, k := range out.Keywords {
		out.Keywords[i] = strings.ToLower(strings.TrimSpace(k))
	}
	return out.Keywords, nil
}

// recallBlock formats prior successful results into a bounded context block.
func (p *Planner) recallBlock(keywords []string) string {
	records, err := p.memory.Search(keywords)
	if err != nil {
		logging.Planner("memory recall failed: %v", err)
		return ""
	}
	var b strings.Builder
	for _, r := range records {
		fmt.Fprintf(&b, "[%s] goal: %s -> %s\n", r.Timestamp.Format("2006-01-02 15:04"), r.Goal, r.Summary)
		for k, v := range r.Artifacts {
			fmt.Fprintf(&b, "  %s: %s\n", k, v)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

func (p *Planner) planStep(ctx context.Context, in Input, memoryBlock, historyBlock string, trace []string, lastResult *BrowserResult) (planDecision, llm.Usage, error) {
	system, err := renderPrompt("planner", prompts.Planner, map[string]string{
		"Goal":         in.Goal,
		"MemoryBlock":  memoryBlock,
		"HistoryBlock": historyBlock,
		"Trace":        strings.Join(trace, "\n"),
	})
	if err != nil {
		return planDecision{}, llm.Usage{}, err
	}

	userMsg := "No browser actions performed yet."
	if lastResult != nil {
		userMsg = fmt.Sprintf("Last browser result:\nsummary: %s\nurl: %s\nextracted: %v",
			lastResult.Summary, lastResult.URL, lastResult.Extracted)
	}

	res, err := p.client.Chat(ctx, llm.Request{
		Model:     p.model,
		System:    system,
		Messages:  []llm.Message{{Role: llm.RoleUser, Content: userMsg}},
		Schema:    planSchema,
		AgentType: llm.AgentPlanner,
		SessionID: in.SessionID,
	})
	if err != nil {
		return planDecision{}, llm.Usage{}, fmt.Errorf("plan step: %w", err)
	}

	var dec planDecision
	if err := llm.DecodeStrict(res.Content, planSchema, &dec); err != nil {
		return planDecision{}, res.Usage, fmt.Errorf("plan decode: %w", err)
	}
	return dec, res.Usage, nil
}

// handleIntervention runs the verification handshake: announce, show the
// browser, wait for the user, then restore the session's preferred mode.
// The subscription is taken before the announcement so a resolution published
// while the browser restarts is not lost.
func (p *Planner) handleIntervention(ctx context.Context, in Input, iv *InterventionError, hooks Hooks) error {
	logging.Planner("session %s: intervention needed: %s", in.SessionID, iv.Reason)
	resolved, unsubscribe := p.bus.Subscribe(events.KindVerificationResolved)
	defer unsubscribe()

	hooks.setVerifying(true)
	defer hooks.setVerifying(false)

	p.bus.Publish(events.Event{
		Kind:      events.KindVerificationNeeded,
		SessionID: in.SessionID,
		Reason:    iv.Reason,
		URL:       iv.URL,
	})

	if err := p.driver.SetHeadless(ctx, false); err != nil {
		return fmt.Errorf("show browser for verification: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ErrUserAborted
		case ev, ok := <-resolved:
			if !ok {
				return ErrUserAborted
			}
			if ev.SessionID != in.SessionID {
				continue
			}
			if err := p.driver.SetHeadless(ctx, in.Headless); err != nil {
				return fmt.Errorf("restore headless mode: %w", err)
			}
			logging.Planner("session %s: verification resolved, resuming", in.SessionID)
			return nil
		}
	}
}
