package agent

import (
	"invisibrow/internal/llm"
)

var (
	planSchema = llm.MustCompileSchema("plan.json", []byte(`{
		"type": "object",
		"properties": {
			"thought": {"type": "string"},
			"command": {"type": "string", "enum": ["browser", "finish", "wait"]},
			"input": {
				"type": "object",
				"properties": {
					"goal": {"type": "string"},
					"answer": {"type": "string"}
				}
			}
		},
		"required": ["thought", "command"]
	}`))

	decisionSchema = llm.MustCompileSchema("decision.json", []byte(`{
		"type": "object",
		"properties": {
			"thought": {"type": "string"},
			"action": {"type": "string", "enum": ["goto", "click", "type", "search", "wait", "finish", "answer"]},
			"param": {"type": "string"},
			"answer": {"type": "string"}
		},
		"required": ["thought", "action"]
	}`))

	watchdogSchema = llm.MustCompileSchema("watchdog.json", []byte(`{
		"type": "object",
		"properties": {
			"isStuck": {"type": "boolean"},
			"needsIntervention": {"type": "boolean"},
			"reason": {"type": "string"},
			"newBlockKeywords": {"type": "array", "items": {"type": "string"}}
		},
		"required": ["isStuck", "needsIntervention"]
	}`))

	summarySchema = llm.MustCompileSchema("summary.json", []byte(`{
		"type": "object",
		"properties": {
			"summary": {"type": "string"},
			"extracted": {"type": "object", "additionalProperties": {"type": "string"}}
		},
		"required": ["summary"]
	}`))

	keywordsSchema = llm.MustCompileSchema("keywords.json", []byte(`{
		"type": "object",
		"properties": {
			"keywords": {"type": "array", "items": {"type": "string"}}
		},
		"required": ["keywords"]
	}`))
)
