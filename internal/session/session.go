// Package session persists browser sessions: identity, headless preference,
// rolling token stats, and the cross-task history fed back into planning.
package session

import "time"

// Stats holds a session's rolling LLM counters.
type Stats struct {
	Tokens           int     `json:"tokens"`
	CachedTokens     int     `json:"cachedTokens"`
	Cost             float64 `json:"cost"`
	LastPromptTokens int     `json:"lastPromptTokens"`
}

// Session is one browser identity. Its profile directory is keyed by ID and
// survives process restarts.
type Session struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	Headless       bool      `json:"headless"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
	IsVerifying    bool      `json:"-"` // transient, never persisted
	Stats          Stats     `json:"stats"`
	SessionHistory []string  `json:"sessionHistory"`
}
