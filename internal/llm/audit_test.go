package llm

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestAuditRecordWritesMessageFile(t *testing.T) {
	dir := t.TempDir()
	audit := NewAudit(dir)

	req := Request{
		Model:     "gemini-2.5-flash",
		AgentType: AgentExecutor,
		SessionID: "sess-1",
		Messages:  []Message{{Role: RoleUser, Content: "hello"}},
	}
	audit.Record(req, `{"action":"finish"}`, Usage{PromptTokens: 12, CompletionTokens: 3}, nil)

	agentDir := filepath.Join(dir, "message", "sess-1", "executor")
	entries, err := os.ReadDir(agentDir)
	if err != nil {
		t.Fatalf("read audit dir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("got %d audit files, want 1", len(entries))
	}

	data, err := os.ReadFile(filepath.Join(agentDir, entries[0].Name()))
	if err != nil {
		t.Fatalf("read audit file: %v", err)
	}
	var rec auditRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		t.Fatalf("parse audit file: %v", err)
	}
	if rec.Model != "gemini-2.5-flash" || rec.Usage.PromptTokens != 12 {
		t.Errorf("unexpected record: %+v", rec)
	}
}

func TestAuditRecordCollisionGetsSuffix(t *testing.T) {
	dir := t.TempDir()
	audit := NewAudit(dir)

	req := Request{Model: "m", AgentType: AgentPlanner, SessionID: "s"}
	audit.Record(req, "a", Usage{}, nil)
	audit.Record(req, "b", Usage{}, nil)

	entries, err := os.ReadDir(filepath.Join(dir, "message", "s", "planner"))
	if err != nil {
		t.Fatalf("read audit dir: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("got %d audit files, want 2 (same-second collision)", len(entries))
	}
}

func TestAuditRecordErrorCall(t *testing.T) {
	dir := t.TempDir()
	audit := NewAudit(dir)

	req := Request{Model: "m", AgentType: AgentWatchdog, SessionID: "s"}
	audit.Record(req, "", Usage{}, errors.New("rate limited"))

	entries, err := os.ReadDir(filepath.Join(dir, "message", "s", "watchdog"))
	if err != nil || len(entries) != 1 {
		t.Fatalf("expected one audit file for failed call, got %d (err %v)", len(entries), err)
	}
}

func TestNilAuditIsNoop(t *testing.T) {
	var audit *Audit
	audit.Record(Request{}, "", Usage{}, nil) // must not panic
}

func TestScriptedClientReplaysPerAgent(t *testing.T) {
	c := NewScriptedClient(Usage{PromptTokens: 5, CompletionTokens: 2})
	c.Enqueue(AgentPlanner, `{"command":"browser"}`, `{"command":"finish"}`)
	c.Enqueue(AgentExecutor, `{"action":"finish"}`)

	res, err := c.Chat(context.Background(), Request{AgentType: AgentPlanner})
	if err != nil || res.Content != `{"command":"browser"}` {
		t.Fatalf("first planner call: %v / %q", err, res.Content)
	}
	res, err = c.Chat(context.Background(), Request{AgentType: AgentExecutor})
	if err != nil || res.Content != `{"action":"finish"}` {
		t.Fatalf("executor call: %v / %q", err, res.Content)
	}
	if res.Usage.PromptTokens != 5 {
		t.Errorf("usage not applied: %+v", res.Usage)
	}
	if _, err := c.Chat(context.Background(), Request{AgentType: AgentExecutor}); err == nil {
		t.Fatal("expected error when executor queue is exhausted")
	}
}
