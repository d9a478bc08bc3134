// Package agent implements the three-agent loop: Planner decomposes the
// goal, Executor drives the page, Watchdog screens every step for blocks
// and dead loops.
package agent

import (
	"bytes"
	_ "embed"
	"fmt"
	"text/template"

	"gopkg.in/yaml.v3"
)

//go:embed prompts.yaml
var promptsYAML []byte

type promptSet struct {
	Planner    string `yaml:"planner"`
	Executor   string `yaml:"executor"`
	Watchdog   string `yaml:"watchdog"`
	Summarizer string `yaml:"summarizer"`
	Keywords   string `yaml:"keywords"`
}

var prompts promptSet

func init() {
	if err := yaml.Unmarshal(promptsYAML, &prompts); err != nil {
		panic(fmt.Sprintf("parse embedded prompts: %v", err))
	}
}

// renderPrompt fills a template with the given data.
func renderPrompt(name, tmpl string, data interface{}) (string, error) {
	t, err := template.New(name).Parse(tmpl)
	if err != nil {
		return "", fmt.Errorf("parse %s prompt: %w", name, err)
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render %s prompt: %w", name, err)
	}
	return buf.String(), nil
}
