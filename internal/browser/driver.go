// Package browser drives a real Chromium instance per session. Each session
// owns a profile directory keyed by its id, so cookies and logins survive
// restarts and headless toggles.
package browser

import "context"

// Snapshot limits.
const (
	maxElements     = 100
	maxLabelChars   = 50
	maxSnippetChars = 1500
)

// Element is one visible interactive element on the page. Index is stable
// within a single snapshot only.
type Element struct {
	Index int    `json:"index"`
	Tag   string `json:"tag"`
	Text  string `json:"text"`
}

// Snapshot is the page state handed to the executor and watchdog: never the
// raw DOM, only indexed elements and a bounded text snippet.
type Snapshot struct {
	URL                 string    `json:"url"`
	Title               string    `json:"title"`
	InteractiveElements []Element `json:"interactiveElements"`
	ContentSnippet      string    `json:"contentSnippet"`
}

// clamp enforces the snapshot limits even when the page script misbehaves.
func (s *Snapshot) clamp() {
	if len(s.InteractiveElements) > maxElements {
		s.InteractiveElements = s.InteractiveElements[:maxElements]
	}
	for i := range s.InteractiveElements {
		if t := []rune(s.InteractiveElements[i].Text); len(t) > maxLabelChars {
			s.InteractiveElements[i].Text = string(t[:maxLabelChars])
		}
	}
	if t := []rune(s.ContentSnippet); len(t) > maxSnippetChars {
		s.ContentSnippet = string(t[:maxSnippetChars])
	}
}

// PageDriver is the browser abstraction used by the executor. Element
// references are indexes into the most recent Snapshot.
type PageDriver interface {
	// Start launches (or reuses) the browser with the session's profile.
	Start(ctx context.Context, headless bool) error
	// SetHeadless restarts the browser in the given mode, preserving the
	// profile directory so logged-in state survives.
	SetHeadless(ctx context.Context, headless bool) error
	// Navigate loads a URL and waits for the page to settle.
	Navigate(ctx context.Context, url string) error
	// Search runs a human-paced query on the default search engine.
	Search(ctx context.Context, query string) error
	// Click clicks the element with the given snapshot index.
	Click(ctx context.Context, index int) error
	// Type focuses the indexed element, inserts text, and presses Enter.
	Type(ctx context.Context, index int, text string) error
	// Wait sleeps for the given duration, returning early on cancellation.
	Wait(ctx context.Context) error
	// TakeSnapshot captures the current page per the snapshot contract.
	TakeSnapshot(ctx context.Context) (*Snapshot, error)
	// URL returns the current page URL, empty when no page is open.
	URL() string
	// Close shuts the browser down.
	Close() error
}
