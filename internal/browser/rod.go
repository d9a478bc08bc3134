package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/input"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"

	"invisibrow/internal/logging"
)

const (
	navigationTimeout = 30 * time.Second
	searchNavTimeout  = 45 * time.Second
	waitDuration      = 5 * time.Second
	searchEngineHome  = "https://www.google.com"
)

// RodDriver drives Chromium over CDP. Not safe for concurrent use; one task
// owns the driver for its whole run.
type RodDriver struct {
	mu        sync.Mutex
	sessionID string
	profile   string
	binPath   string

	browser  *rod.Browser
	page     *rod.Page
	headless bool
}

// NewRodDriver creates a driver for one session. The profile lives at
// <storage>/session/<sessionId>. binPath may be empty to auto-detect.
func NewRodDriver(storageDir, sessionID, binPath string) *RodDriver {
	return &RodDriver{
		sessionID: sessionID,
		profile:   filepath.Join(storageDir, "session", sessionID),
		binPath:   binPath,
	}
}

// Start launches the browser if it is not already running.
func (d *RodDriver) Start(ctx context.Context, headless bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.browser != nil {
		return nil
	}
	return d.launchLocked(ctx, headless)
}

func (d *RodDriver) launchLocked(ctx context.Context, headless bool) error {
	if err := os.MkdirAll(d.profile, 0755); err != nil {
		return fmt.Errorf("create profile dir: %w", err)
	}

	launch := launcher.New().
		UserDataDir(d.profile).
		Headless(headless)
	if d.binPath != "" {
		launch = launch.Bin(d.binPath)
	}
	controlURL, err := launch.Launch()
	if err != nil {
		return fmt.Errorf("launch chrome: %w", err)
	}

	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		return fmt.Errorf("connect to chrome: %w", err)
	}
	page, err := browser.Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		browser.Close()
		return fmt.Errorf("open page: %w", err)
	}

	d.browser = browser
	d.page = page
	d.headless = headless
	logging.Browser("session %s: browser started (headless=%v, profile=%s)", d.sessionID, headless, d.profile)
	return nil
}

// SetHeadless restarts the browser in the requested mode. The profile
// directory is reused, so cookies and logged-in state carry over.
func (d *RodDriver) SetHeadless(ctx context.Context, headless bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.browser != nil && d.headless == headless {
		return nil
	}

	currentURL := ""
	if d.page != nil {
		if info, err := d.page.Info(); err == nil {
			currentURL = info.URL
		}
	}
	d.closeLocked()

	if err := d.launchLocked(ctx, headless); err != nil {
		return err
	}
	if currentURL != "" && currentURL != "about:blank" {
		if err := d.navigateLocked(ctx, currentURL, navigationTimeout); err != nil {
			logging.Browser("session %s: restore url after restart failed: %v", d.sessionID, err)
		}
	}
	return nil
}

// Navigate loads a URL, waiting up to 30s for the network to go idle.
func (d *RodDriver) Navigate(ctx context.Context, rawURL string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.page == nil {
		return fmt.Errorf("browser not started")
	}
	return d.navigateLocked(ctx, rawURL, navigationTimeout)
}

func (d *RodDriver) navigateLocked(ctx context.Context, rawURL string, timeout time.Duration) error {
	page := d.page.Context(ctx).Timeout(timeout)
	if err := page.Navigate(rawURL); err != nil {
		return fmt.Errorf("navigate %s: %w", rawURL, err)
	}
	if err := page.WaitLoad(); err != nil {
		return fmt.Errorf("wait load %s: %w", rawURL, err)
	}
	// Network idle is best effort; heavy pages never fully settle.
	_ = page.WaitIdle(timeout)
	logging.Browser("session %s: navigated to %s", d.sessionID, rawURL)
	return nil
}

// Search drives the default engine like a human: open the home page, focus
// the search box, type with per-character jitter, press Enter. Falls back to
// a direct query-string navigation when the box cannot be driven.
func (d *RodDriver) Search(ctx context.Context, query string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.page == nil {
		return fmt.Errorf("browser not started")
	}

	if err := d.humanSearchLocked(ctx, query); err != nil {
		logging.Browser("session %s: human search failed (%v), using query fallback", d.sessionID, err)
		fallback := searchEngineHome + "/search?q=" + url.QueryEscape(query)
		return d.navigateLocked(ctx, fallback, searchNavTimeout)
	}
	return nil
}

func (d *RodDriver) humanSearchLocked(ctx context.Context, query string) error {
	if err := d.navigateLocked(ctx, searchEngineHome, navigationTimeout); err != nil {
		return err
	}
	page := d.page.Context(ctx).Timeout(searchNavTimeout)

	box, err := page.Element(`textarea[name="q"], input[name="q"]`)
	if err != nil {
		return fmt.Errorf("search box not found: %w", err)
	}
	if err := box.ScrollIntoView(); err != nil {
		return fmt.Errorf("scroll search box: %w", err)
	}
	if err := box.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return fmt.Errorf("focus search box: %w", err)
	}

	for _, ch := range query {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := box.Input(string(ch)); err != nil {
			return fmt.Errorf("type query: %w", err)
		}
		jitterSleep(ctx, 150*time.Millisecond, 350*time.Millisecond)
	}
	jitterSleep(ctx, 500*time.Millisecond, 1000*time.Millisecond)

	wait := page.WaitNavigation(proto.PageLifecycleEventNameNetworkAlmostIdle)
	if err := box.Type(input.Enter); err != nil {
		return fmt.Errorf("submit query: %w", err)
	}
	wait()
	logging.Browser("session %s: searched %q", d.sessionID, query)
	return nil
}

// Click clicks the element with the given snapshot index.
func (d *RodDriver) Click(ctx context.Context, index int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	el, err := d.elementByIndexLocked(ctx, index)
	if err != nil {
		return err
	}
	if err := el.ScrollIntoView(); err != nil {
		return fmt.Errorf("scroll element %d: %w", index, err)
	}
	if err := el.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return fmt.Errorf("click element %d: %w", index, err)
	}
	logging.Browser("session %s: clicked element %d", d.sessionID, index)
	return nil
}

// Type focuses the indexed element, inserts the text, and presses Enter.
func (d *RodDriver) Type(ctx context.Context, index int, text string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	el, err := d.elementByIndexLocked(ctx, index)
	if err != nil {
		return err
	}
	if err := el.ScrollIntoView(); err != nil {
		return fmt.Errorf("scroll element %d: %w", index, err)
	}
	if err := el.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return fmt.Errorf("focus element %d: %w", index, err)
	}
	if err := el.Input(text); err != nil {
		return fmt.Errorf("type into element %d: %w", index, err)
	}
	if err := el.Type(input.Enter); err != nil {
		return fmt.Errorf("submit element %d: %w", index, err)
	}
	logging.Browser("session %s: typed %d chars into element %d", d.sessionID, len(text), index)
	return nil
}

func (d *RodDriver) elementByIndexLocked(ctx context.Context, index int) (*rod.Element, error) {
	if d.page == nil {
		return nil, fmt.Errorf("browser not started")
	}
	sel := fmt.Sprintf(`[data-invisibrow-idx="%d"]`, index)
	el, err := d.page.Context(ctx).Timeout(10 * time.Second).Element(sel)
	if err != nil {
		return nil, fmt.Errorf("element %d not on page (stale snapshot?): %w", index, err)
	}
	return el, nil
}

// Wait sleeps 5s, returning early on cancellation.
func (d *RodDriver) Wait(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(waitDuration):
		return nil
	}
}

// snapshotJS collects visible interactive elements, stamps each with its
// index so later clicks can find it, and grabs the first 1500 chars of
// visible body text.
const snapshotJS = `
() => {
	const selector = 'a, button, input, textarea, select, [contenteditable="true"],' +
		' [role="button"], [role="link"], [role="tab"], [role="textbox"]';
	const els = [];
	let idx = 0;
	for (const el of document.querySelectorAll(selector)) {
		if (idx >= 100) break;
		const rect = el.getBoundingClientRect();
		if (rect.width === 0 || rect.height === 0) continue;
		const label = (el.innerText || el.value || el.placeholder ||
			el.getAttribute('aria-label') || '').trim().replace(/\s+/g, ' ');
		el.setAttribute('data-invisibrow-idx', String(idx));
		els.push({ index: idx, tag: el.tagName.toLowerCase(), text: label.slice(0, 50) });
		idx++;
	}
	const body = (document.body && document.body.innerText) || '';
	return {
		url: location.href,
		title: document.title,
		interactiveElements: els,
		contentSnippet: body.replace(/\s+/g, ' ').trim().slice(0, 1500)
	};
}`

// TakeSnapshot captures the current page. One retry on a detached frame,
// which single-page apps trigger routinely mid-navigation.
func (d *RodDriver) TakeSnapshot(ctx context.Context) (*Snapshot, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.page == nil {
		return nil, fmt.Errorf("browser not started")
	}

	snap, err := d.snapshotLocked(ctx)
	if err != nil && strings.Contains(err.Error(), "detached") {
		logging.BrowserDebug("session %s: snapshot retry after detached frame", d.sessionID)
		snap, err = d.snapshotLocked(ctx)
	}
	return snap, err
}

func (d *RodDriver) snapshotLocked(ctx context.Context) (*Snapshot, error) {
	res, err := d.page.Context(ctx).Timeout(15 * time.Second).Evaluate(&rod.EvalOptions{
		JS:      snapshotJS,
		ByValue: true,
	})
	if err != nil {
		return nil, fmt.Errorf("snapshot eval: %w", err)
	}
	raw, err := res.Value.MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("snapshot marshal: %w", err)
	}
	var snap Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return nil, fmt.Errorf("snapshot decode: %w", err)
	}
	snap.clamp()
	return &snap, nil
}

// URL returns the current page URL.
func (d *RodDriver) URL() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.page == nil {
		return ""
	}
	info, err := d.page.Info()
	if err != nil {
		return ""
	}
	return info.URL
}

// Close shuts down the browser.
func (d *RodDriver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closeLocked()
	return nil
}

func (d *RodDriver) closeLocked() {
	if d.browser != nil {
		if err := d.browser.Close(); err != nil {
			logging.Browser("session %s: browser close: %v", d.sessionID, err)
		}
		d.browser = nil
		d.page = nil
	}
}

// jitterSleep sleeps a random duration in [min, max), cancellable.
func jitterSleep(ctx context.Context, min, max time.Duration) {
	d := min + time.Duration(rand.Int63n(int64(max-min)))
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}
