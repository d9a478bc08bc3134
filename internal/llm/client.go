// Package llm defines the chat client contract used by all three agents,
// a Gemini-backed implementation, strict JSON decoding of model output, the
// per-call audit trail, and per-model cost estimation.
package llm

import (
	"context"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Agent types, used to route audit records and pick models.
const (
	AgentPlanner  = "planner"
	AgentExecutor = "executor"
	AgentWatchdog = "watchdog"
)

// Message is one turn of a conversation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Usage reports token consumption of a single call.
type Usage struct {
	PromptTokens     int `json:"promptTokens"`
	CachedTokens     int `json:"cachedTokens"`
	CompletionTokens int `json:"completionTokens"`
}

// Add accumulates another usage into this one.
func (u *Usage) Add(other Usage) {
	u.PromptTokens += other.PromptTokens
	u.CachedTokens += other.CachedTokens
	u.CompletionTokens += other.CompletionTokens
}

// Total returns prompt+completion tokens.
func (u Usage) Total() int { return u.PromptTokens + u.CompletionTokens }

// Request describes one chat call. When Schema is non-nil the client asks
// the provider for JSON output and the caller is expected to decode the
// content with DecodeStrict.
type Request struct {
	Model    string
	System   string
	Messages []Message
	Schema   *jsonschema.Schema

	// Audit routing.
	AgentType string
	SessionID string
}

// Result is the provider's reply.
type Result struct {
	Content string
	Usage   Usage
}

// Client is the opaque LLM transport. Implementations must honor context
// cancellation and report usage on success.
type Client interface {
	Chat(ctx context.Context, req Request) (*Result, error)
}
