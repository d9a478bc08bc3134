package agent

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"invisibrow/internal/browser"
	"invisibrow/internal/llm"
	"invisibrow/internal/logging"
	"invisibrow/internal/memory"
)

// Search-engine challenge pages redirect here; no keyword needed.
const sorryURLPattern = "google.com/sorry"

// Verdict is the watchdog's judgement of one page state.
type Verdict struct {
	IsStuck           bool     `json:"isStuck"`
	NeedsIntervention bool     `json:"needsIntervention"`
	Reason            string   `json:"reason"`
	NewBlockKeywords  []string `json:"newBlockKeywords"`
}

// Blocked reports whether either flag requires stopping the executor.
func (v Verdict) Blocked() bool { return v.IsStuck || v.NeedsIntervention }

// Watchdog screens page snapshots in two tiers: a free keyword scan first,
// an LLM check only when the scan misses. Confirmed blocks feed new keywords
// back into the store.
type Watchdog struct {
	client llm.Client
	memory *memory.Store
	model  string

	mu            sync.Mutex
	cachedKws     []string
	cachedVersion uint64
	cacheLoaded   bool
}

// NewWatchdog creates a watchdog using the given model for tier 2.
func NewWatchdog(client llm.Client, mem *memory.Store, model string) *Watchdog {
	return &Watchdog{client: client, memory: mem, model: model}
}

// Check runs both tiers. The returned usage is zero when tier 1 decides.
// A tier-2 LLM fault is not an intervention: the verdict comes back empty.
func (w *Watchdog) Check(ctx context.Context, sessionID, goal string, snap *browser.Snapshot, historyTail []string) (Verdict, llm.Usage, error) {
	if reason := w.keywordScan(snap); reason != "" {
		logging.Watchdog("session %s: tier-1 hit: %s", sessionID, reason)
		return Verdict{NeedsIntervention: true, Reason: reason}, llm.Usage{}, nil
	}

	verdict, usage, err := w.llmCheck(ctx, sessionID, goal, snap, historyTail)
	if err != nil {
		if ctx.Err() != nil {
			return Verdict{}, usage, ctx.Err()
		}
		// Degrade to non-intervention rather than stalling the task.
		logging.Watchdog("session %s: tier-2 check failed, continuing: %v", sessionID, err)
		return Verdict{}, usage, nil
	}

	if verdict.NeedsIntervention {
		w.learn(snap, verdict)
	}
	return verdict, usage, nil
}

// keywordScan is tier 1: case-insensitive containment over title and
// content snippet, plus the hard-coded challenge-URL pattern.
func (w *Watchdog) keywordScan(snap *browser.Snapshot) string {
	if strings.Contains(strings.ToLower(snap.URL), sorryURLPattern) {
		return "search engine challenge page detected"
	}

	kws, err := w.keywords()
	if err != nil {
		logging.Watchdog("keyword load failed, scan skipped: %v", err)
		return ""
	}
	title := strings.ToLower(snap.Title)
	content := strings.ToLower(snap.ContentSnippet)
	for _, kw := range kws {
		if strings.Contains(title, kw) || strings.Contains(content, kw) {
			return fmt.Sprintf("page matches block keyword %q", kw)
		}
	}
	return ""
}

// keywords returns the cached list, reloading when self-learning bumped the
// store's version counter.
func (w *Watchdog) keywords() ([]string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	v := w.memory.KeywordVersion()
	if w.cacheLoaded && v == w.cachedVersion {
		return w.cachedKws, nil
	}
	kws, err := w.memory.GetBotKeywords()
	if err != nil {
		return nil, err
	}
	w.cachedKws = kws
	w.cachedVersion = w.memory.KeywordVersion()
	w.cacheLoaded = true
	logging.Watchdog("keyword cache reloaded: %d entries (version %d)", len(kws), w.cachedVersion)
	return kws, nil
}

func (w *Watchdog) llmCheck(ctx context.Context, sessionID, goal string, snap *browser.Snapshot, historyTail []string) (Verdict, llm.Usage, error) {
	system, err := renderPrompt("watchdog", prompts.Watchdog, map[string]string{
		"Goal":    goal,
		"History": strings.Join(historyTail, "\n"),
	})
	if err != nil {
		return Verdict{}, llm.Usage{}, err
	}

	res, err := w.client.Chat(ctx, llm.Request{
		Model:     w.model,
		System:    system,
		Messages:  []llm.Message{{Role: llm.RoleUser, Content: serializeSnapshot(snap)}},
		Schema:    watchdogSchema,
		AgentType: llm.AgentWatchdog,
		SessionID: sessionID,
	})
	if err != nil {
		return Verdict{}, llm.Usage{}, err
	}

	var v Verdict
	if err := llm.DecodeStrict(res.Content, watchdogSchema, &v); err != nil {
		return Verdict{}, res.Usage, err
	}
	return v, res.Usage, nil
}

// learn feeds a confirmed block back into the keyword store and invalidates
// the cache.
func (w *Watchdog) learn(snap *browser.Snapshot, v Verdict) {
	for _, kw := range v.NewBlockKeywords {
		if err := w.memory.AddBotKeyword(kw); err != nil {
			logging.Watchdog("learn keyword %q: %v", kw, err)
		}
	}
	if err := w.memory.AddBotKeywordsFromText(snap.Title + " " + v.Reason); err != nil {
		logging.Watchdog("learn from text: %v", err)
	}
	w.mu.Lock()
	w.cacheLoaded = false
	w.mu.Unlock()
}
