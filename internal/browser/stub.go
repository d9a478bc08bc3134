package browser

import (
	"context"
	"fmt"
	"sync"
)

// StubDriver replays scripted snapshots without a real browser. It backs the
// deterministic UI test mode and the orchestration tests.
type StubDriver struct {
	mu        sync.Mutex
	started   bool
	headless  bool
	url       string
	snapshots []*Snapshot
	Actions   []string // recorded action log, e.g. "click 3"
}

// NewStubDriver creates a stub that serves the given snapshots in order,
// repeating the last one once the script runs out.
func NewStubDriver(snapshots ...*Snapshot) *StubDriver {
	return &StubDriver{snapshots: snapshots}
}

func (d *StubDriver) record(format string, args ...interface{}) {
	d.Actions = append(d.Actions, fmt.Sprintf(format, args...))
}

func (d *StubDriver) Start(ctx context.Context, headless bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.started = true
	d.headless = headless
	d.record("start headless=%v", headless)
	return nil
}

func (d *StubDriver) SetHeadless(ctx context.Context, headless bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.headless = headless
	d.record("setHeadless %v", headless)
	return nil
}

// Headless reports the current mode, for handshake assertions.
func (d *StubDriver) Headless() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.headless
}

func (d *StubDriver) Navigate(ctx context.Context, url string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.url = url
	d.record("goto %s", url)
	return ctx.Err()
}

func (d *StubDriver) Search(ctx context.Context, query string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.url = "https://www.google.com/search?q=" + query
	d.record("search %s", query)
	return ctx.Err()
}

func (d *StubDriver) Click(ctx context.Context, index int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.record("click %d", index)
	return ctx.Err()
}

func (d *StubDriver) Type(ctx context.Context, index int, text string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.record("type %d:%s", index, text)
	return ctx.Err()
}

func (d *StubDriver) Wait(ctx context.Context) error {
	d.mu.Lock()
	d.record("wait")
	d.mu.Unlock()
	return ctx.Err()
}

func (d *StubDriver) TakeSnapshot(ctx context.Context) (*Snapshot, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(d.snapshots) == 0 {
		return &Snapshot{URL: d.url, Title: "blank"}, nil
	}
	snap := d.snapshots[0]
	if len(d.snapshots) > 1 {
		d.snapshots = d.snapshots[1:]
	}
	cp := *snap
	cp.clamp()
	if cp.URL == "" {
		cp.URL = d.url
	}
	return &cp, nil
}

func (d *StubDriver) URL() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.url
}

func (d *StubDriver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.started = false
	d.record("close")
	return nil
}
