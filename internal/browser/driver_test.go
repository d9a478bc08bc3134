package browser

import (
	"context"
	"strings"
	"testing"
)

func TestSnapshotClamp(t *testing.T) {
	snap := &Snapshot{
		ContentSnippet: strings.Repeat("x", 2000),
	}
	for i := 0; i < 150; i++ {
		snap.InteractiveElements = append(snap.InteractiveElements, Element{
			Index: i,
			Tag:   "a",
			Text:  strings.Repeat("y", 80),
		})
	}
	snap.clamp()

	if len(snap.InteractiveElements) != 100 {
		t.Errorf("elements = %d, want 100", len(snap.InteractiveElements))
	}
	if len(snap.InteractiveElements[0].Text) != 50 {
		t.Errorf("label = %d chars, want 50", len(snap.InteractiveElements[0].Text))
	}
	if len(snap.ContentSnippet) != 1500 {
		t.Errorf("snippet = %d chars, want 1500", len(snap.ContentSnippet))
	}
}

func TestStubDriverReplaysSnapshots(t *testing.T) {
	first := &Snapshot{Title: "home", URL: "https://a.test"}
	second := &Snapshot{Title: "results", URL: "https://a.test/r"}
	d := NewStubDriver(first, second)
	ctx := context.Background()

	if err := d.Start(ctx, true); err != nil {
		t.Fatalf("start: %v", err)
	}
	s1, err := d.TakeSnapshot(ctx)
	if err != nil || s1.Title != "home" {
		t.Fatalf("first snapshot: %v / %+v", err, s1)
	}
	s2, _ := d.TakeSnapshot(ctx)
	s3, _ := d.TakeSnapshot(ctx)
	if s2.Title != "results" || s3.Title != "results" {
		t.Errorf("snapshot replay wrong: %q then %q", s2.Title, s3.Title)
	}
}

func TestStubDriverRecordsActions(t *testing.T) {
	d := NewStubDriver()
	ctx := context.Background()
	_ = d.Navigate(ctx, "https://example.com")
	_ = d.Click(ctx, 3)
	_ = d.Type(ctx, 1, "hello")

	want := []string{"goto https://example.com", "click 3", "type 1:hello"}
	if len(d.Actions) != len(want) {
		t.Fatalf("actions = %v", d.Actions)
	}
	for i, w := range want {
		if d.Actions[i] != w {
			t.Errorf("action[%d] = %q, want %q", i, d.Actions[i], w)
		}
	}
}

func TestStubDriverHonorsCancellation(t *testing.T) {
	d := NewStubDriver()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := d.Navigate(ctx, "x"); err == nil {
		t.Error("cancelled navigate must fail")
	}
	if _, err := d.TakeSnapshot(ctx); err == nil {
		t.Error("cancelled snapshot must fail")
	}
}

func TestStubDriverHeadlessToggle(t *testing.T) {
	d := NewStubDriver()
	ctx := context.Background()
	_ = d.Start(ctx, true)
	if !d.Headless() {
		t.Fatal("expected headless after start")
	}
	_ = d.SetHeadless(ctx, false)
	if d.Headless() {
		t.Error("expected GUI mode after toggle")
	}
}
