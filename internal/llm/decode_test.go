package llm

import (
	"strings"
	"testing"
)

var decisionSchema = MustCompileSchema("decision.json", []byte(`{
	"type": "object",
	"properties": {
		"thought": {"type": "string"},
		"action": {"type": "string", "enum": ["goto", "click", "type", "search", "wait", "finish", "answer"]}
	},
	"required": ["thought", "action"]
}`))

type decision struct {
	Thought string `json:"thought"`
	Action  string `json:"action"`
}

func TestDecodeStrictCleanJSON(t *testing.T) {
	var d decision
	err := DecodeStrict(`{"thought": "go home", "action": "goto"}`, decisionSchema, &d)
	if err != nil {
		t.Fatalf("DecodeStrict failed: %v", err)
	}
	if d.Action != "goto" {
		t.Errorf("action = %q, want goto", d.Action)
	}
}

func TestDecodeStrictFencedJSON(t *testing.T) {
	raw := "```json\n{\"thought\": \"done\", \"action\": \"finish\"}\n```"
	var d decision
	if err := DecodeStrict(raw, decisionSchema, &d); err != nil {
		t.Fatalf("DecodeStrict failed on fenced output: %v", err)
	}
	if d.Action != "finish" {
		t.Errorf("action = %q, want finish", d.Action)
	}
}

func TestDecodeStrictRepairsTruncatedJSON(t *testing.T) {
	// Missing closing brace, a common truncation failure.
	raw := `{"thought": "click the login button", "action": "click"`
	var d decision
	if err := DecodeStrict(raw, decisionSchema, &d); err != nil {
		t.Fatalf("DecodeStrict failed on repairable output: %v", err)
	}
	if d.Action != "click" {
		t.Errorf("action = %q, want click", d.Action)
	}
}

func TestDecodeStrictRejectsSchemaViolation(t *testing.T) {
	var d decision
	err := DecodeStrict(`{"thought": "hm", "action": "teleport"}`, decisionSchema, &d)
	if err == nil {
		t.Fatal("expected schema validation error for unknown action")
	}
	if !strings.Contains(err.Error(), "schema") {
		t.Errorf("error should mention schema validation, got: %v", err)
	}
}

func TestDecodeStrictEmptyOutput(t *testing.T) {
	var d decision
	if err := DecodeStrict("", decisionSchema, &d); err == nil {
		t.Fatal("expected error for empty output")
	}
	if err := DecodeStrict("```\n```", decisionSchema, &d); err == nil {
		t.Fatal("expected error for fence-only output")
	}
}

func TestStripFences(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{`{"a":1}`, `{"a":1}`},
		{"```json\n{\"a\":1}\n```", `{"a":1}`},
		{"```\n{\"a\":1}\n```", `{"a":1}`},
		{"  {\"a\":1}  ", `{"a":1}`},
	}
	for _, c := range cases {
		if got := StripFences(c.in); got != c.want {
			t.Errorf("StripFences(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}
