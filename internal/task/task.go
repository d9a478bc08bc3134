// Package task defines the durable task record, its step trace, and the
// JSON-backed store the scheduler persists through.
package task

import "time"

// Status is the lifecycle state of a task.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// IsTerminal reports whether the status is final.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Agent names for step attribution.
const (
	AgentPlanner  = "planner"
	AgentExecutor = "executor"
)

// TokenUsage is the billed token breakdown of one or more LLM calls.
type TokenUsage struct {
	InputTokens  int     `json:"inputTokens"`
	CachedTokens int     `json:"cachedTokens"`
	OutputTokens int     `json:"outputTokens"`
	Cost         float64 `json:"cost"`
}

// Add accumulates another usage into this one.
func (u *TokenUsage) Add(other TokenUsage) {
	u.InputTokens += other.InputTokens
	u.CachedTokens += other.CachedTokens
	u.OutputTokens += other.OutputTokens
	u.Cost += other.Cost
}

// Step is one unit of agent work within a task. Steps are append-only.
type Step struct {
	Agent      string      `json:"agent"` // planner | executor
	Step       int         `json:"step"`  // 1-based within the agent
	Thought    string      `json:"thought"`
	Command    string      `json:"command"`
	Timestamp  time.Time   `json:"timestamp"`
	TokenUsage *TokenUsage `json:"tokenUsage,omitempty"`
}

// Task is one unit of work against a session.
type Task struct {
	ID          string     `json:"id"`
	SessionID   string     `json:"sessionId"`
	Goal        string     `json:"goal"`
	Status      Status     `json:"status"`
	Result      string     `json:"result,omitempty"`
	URL         string     `json:"url,omitempty"`
	Error       string     `json:"error,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
	Steps       []Step     `json:"steps"`
	TokenUsage  TokenUsage `json:"tokenUsage"`
}
