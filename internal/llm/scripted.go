package llm

import (
	"context"
	"fmt"
	"sync"
)

// ScriptedClient replays canned responses in order, keyed by agent type.
// It backs the deterministic UI test mode and the orchestration tests:
// no network, fixed token counts.
type ScriptedClient struct {
	mu      sync.Mutex
	queues  map[string][]string
	usage   Usage
	History []Request
}

// NewScriptedClient creates an empty scripted client. Each response costs
// the given usage, so accounting paths stay exercised.
func NewScriptedClient(perCall Usage) *ScriptedClient {
	return &ScriptedClient{
		queues: make(map[string][]string),
		usage:  perCall,
	}
}

// Enqueue appends responses to the queue for an agent type.
func (s *ScriptedClient) Enqueue(agentType string, responses ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queues[agentType] = append(s.queues[agentType], responses...)
}

// Chat pops the next scripted response for the request's agent type.
func (s *ScriptedClient) Chat(ctx context.Context, req Request) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.History = append(s.History, req)

	queue := s.queues[req.AgentType]
	if len(queue) == 0 {
		return nil, fmt.Errorf("no scripted response for agent %q (call %d)", req.AgentType, len(s.History))
	}
	s.queues[req.AgentType] = queue[1:]
	return &Result{Content: queue[0], Usage: s.usage}, nil
}
