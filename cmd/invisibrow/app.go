package main

import (
	"context"
	"fmt"

	"invisibrow/internal/browser"
	"invisibrow/internal/config"
	"invisibrow/internal/events"
	"invisibrow/internal/llm"
	"invisibrow/internal/logging"
	"invisibrow/internal/memory"
	"invisibrow/internal/scheduler"
	"invisibrow/internal/session"
	"invisibrow/internal/task"
)

// app bundles the wired core for the CLI commands.
type app struct {
	cfg       config.Config
	bus       *events.Bus
	tasks     *task.Store
	sessions  *session.Store
	memory    *memory.Store
	scheduler *scheduler.Scheduler
	watcher   *config.Watcher
}

// newApp loads config and opens every store, then builds the scheduler.
// In UI test mode the LLM and browser are replaced with deterministic stubs.
func newApp(ctx context.Context) (*app, error) {
	var cfg config.Config
	var err error
	if configPath != "" {
		cfg, err = config.LoadFrom(configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, err
	}

	dataDir, err := config.DataDir()
	if err != nil {
		return nil, err
	}
	if err := logging.Initialize(dataDir, cfg.Logging); err != nil {
		return nil, err
	}
	storageDir, err := config.StorageDir()
	if err != nil {
		return nil, err
	}

	bus := events.NewBus()
	tasks, err := task.OpenStore(storageDir)
	if err != nil {
		return nil, err
	}
	sessions, err := session.OpenStore(storageDir, bus)
	if err != nil {
		return nil, err
	}
	mem, err := memory.OpenStore(storageDir)
	if err != nil {
		return nil, err
	}

	var client llm.Client
	var newDriver scheduler.DriverFactory
	if config.UITestMode() {
		client = scriptedTestClient()
		newDriver = func(sessionID string) browser.PageDriver {
			return browser.NewStubDriver(&browser.Snapshot{URL: "https://example.test", Title: "Example"})
		}
		logging.Boot("UI test mode: scripted LLM and stub browser")
	} else {
		apiKey := config.APIKey()
		if apiKey == "" {
			return nil, fmt.Errorf("%s is not set", config.EnvAPIKey)
		}
		gemini, err := llm.NewGeminiClient(ctx, apiKey, config.BaseURL(), llm.NewAudit(storageDir))
		if err != nil {
			return nil, err
		}
		client = gemini
		binPath := config.BrowserBin()
		newDriver = func(sessionID string) browser.PageDriver {
			return browser.NewRodDriver(storageDir, sessionID, binPath)
		}
	}

	models := scheduler.Models{
		Planner:  cfg.Models.PlannerAgent,
		Executor: cfg.Models.ExecutorAgent,
		Watchdog: cfg.Models.WatchdogAgent,
	}
	sched, err := scheduler.New(client, tasks, sessions, mem, bus, newDriver, models, cfg.Concurrency)
	if err != nil {
		return nil, err
	}

	a := &app{
		cfg:       cfg,
		bus:       bus,
		tasks:     tasks,
		sessions:  sessions,
		memory:    mem,
		scheduler: sched,
	}

	// Model changes apply to tasks submitted after the reload.
	cfgPath := configPath
	if cfgPath == "" {
		cfgPath, _ = config.Path()
	}
	if cfgPath != "" {
		if w, err := config.Watch(cfgPath, func(next config.Config) {
			a.cfg = next
		}); err == nil {
			a.watcher = w
		} else {
			logging.Boot("config watcher disabled: %v", err)
		}
	}
	return a, nil
}

// defaultSession returns the first session, creating one when none exist.
func (a *app) defaultSession() (session.Session, error) {
	list := a.sessions.List()
	if len(list) > 0 {
		return list[len(list)-1], nil // oldest, i.e. the original default
	}
	return a.sessions.Create("default", a.cfg.HeadlessDefault)
}

func (a *app) close() {
	a.scheduler.Shutdown()
	if a.watcher != nil {
		_ = a.watcher.Close()
	}
	if err := a.memory.Close(); err != nil {
		logging.Boot("memory close: %v", err)
	}
}

// scriptedTestClient returns canned agent responses for deterministic UI
// testing without network access.
func scriptedTestClient() llm.Client {
	c := llm.NewScriptedClient(llm.Usage{PromptTokens: 120, CachedTokens: 20, CompletionTokens: 40})
	for i := 0; i < 8; i++ {
		c.Enqueue(llm.AgentPlanner,
			`{"keywords": ["example", "test", "goal"]}`,
			`{"thought": "one browser pass is enough", "command": "browser", "input": {"goal": "open example.test and read the page"}}`,
			`{"thought": "goal achieved", "command": "finish", "input": {"answer": "done"}}`,
		)
		c.Enqueue(llm.AgentWatchdog,
			`{"isStuck": false, "needsIntervention": false, "reason": "", "newBlockKeywords": []}`,
		)
		c.Enqueue(llm.AgentExecutor,
			`{"thought": "page is already the answer", "action": "answer", "answer": "example page read"}`,
			`{"summary": "Read the example page.", "extracted": {}}`,
		)
	}
	return c
}
