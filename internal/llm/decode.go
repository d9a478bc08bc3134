package llm

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kaptinlin/jsonrepair"
	"github.com/santhosh-tekuri/jsonschema/v6"
)

// MustCompileSchema compiles a raw JSON schema document. Panics on failure;
// intended for the embedded agent schemas, which are fixed at build time.
func MustCompileSchema(name string, raw []byte) *jsonschema.Schema {
	sch, err := CompileSchema(name, raw)
	if err != nil {
		panic(fmt.Sprintf("compile schema %s: %v", name, err))
	}
	return sch
}

// CompileSchema compiles a raw JSON schema document under the given name.
func CompileSchema(name string, raw []byte) (*jsonschema.Schema, error) {
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("parse schema %s: %w", name, err)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(name, doc); err != nil {
		return nil, fmt.Errorf("add schema %s: %w", name, err)
	}
	sch, err := compiler.Compile(name)
	if err != nil {
		return nil, fmt.Errorf("compile schema %s: %w", name, err)
	}
	return sch, nil
}

// DecodeStrict turns raw model output into the typed value out. The raw text
// is stripped of markdown fences, repaired if it is not valid JSON (models
// drop trailing braces and quote keys inconsistently), validated against the
// schema when one is given, and finally unmarshalled.
func DecodeStrict(raw string, schema *jsonschema.Schema, out interface{}) error {
	text := StripFences(raw)
	if text == "" {
		return fmt.Errorf("empty model output")
	}

	var doc interface{}
	if err := json.Unmarshal([]byte(text), &doc); err != nil {
		repaired, rerr := jsonrepair.JSONRepair(text)
		if rerr != nil {
			return fmt.Errorf("unparseable model output: %w", err)
		}
		if err := json.Unmarshal([]byte(repaired), &doc); err != nil {
			return fmt.Errorf("unparseable model output after repair: %w", err)
		}
		text = repaired
	}

	if schema != nil {
		if err := schema.Validate(doc); err != nil {
			return fmt.Errorf("model output failed schema validation: %w", err)
		}
	}

	if err := json.Unmarshal([]byte(text), out); err != nil {
		return fmt.Errorf("decode model output: %w", err)
	}
	return nil
}

// StripFences removes a surrounding markdown code fence (``` or ```json)
// from model output, plus leading/trailing whitespace.
func StripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if idx := strings.Index(s, "\n"); idx >= 0 {
		// Drop the language tag line ("json", "JSON", or empty).
		first := strings.TrimSpace(s[:idx])
		if len(first) <= 8 {
			s = s[idx+1:]
		}
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
