package llm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"google.golang.org/genai"

	"invisibrow/internal/logging"
)

const (
	maxAttempts  = 3
	retryBackoff = 2 * time.Second
)

// GeminiClient talks to the Gemini API via the official SDK.
type GeminiClient struct {
	client *genai.Client
	audit  *Audit
}

// NewGeminiClient creates a client. baseURL may be empty to use the default
// endpoint; audit may be nil to disable the message trail.
func NewGeminiClient(ctx context.Context, apiKey, baseURL string, audit *Audit) (*GeminiClient, error) {
	if apiKey == "" {
		return nil, errors.New("API key required")
	}
	cfg := &genai.ClientConfig{APIKey: apiKey}
	if baseURL != "" {
		cfg.HTTPOptions = genai.HTTPOptions{BaseURL: baseURL}
	}
	client, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return &GeminiClient{client: client, audit: audit}, nil
}

// Chat performs one completion, retrying transient failures with backoff.
// Every call, failed or not, is written to the audit trail.
func (g *GeminiClient) Chat(ctx context.Context, req Request) (*Result, error) {
	contents := make([]*genai.Content, 0, len(req.Messages))
	for _, m := range req.Messages {
		var role genai.Role = genai.RoleUser
		if m.Role == RoleAssistant {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(m.Content, role))
	}

	cfg := &genai.GenerateContentConfig{}
	if req.System != "" {
		cfg.SystemInstruction = genai.NewContentFromText(req.System, genai.RoleUser)
	}
	if req.Schema != nil {
		cfg.ResponseMIMEType = "application/json"
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		timer := logging.StartTimer(logging.CategoryAPI, fmt.Sprintf("%s call (%s)", req.AgentType, req.Model))
		resp, err := g.client.Models.GenerateContent(ctx, req.Model, contents, cfg)
		timer.Stop()

		if err != nil {
			lastErr = err
			g.audit.Record(req, "", Usage{}, err)
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			logging.API("attempt %d/%d failed for %s: %v", attempt, maxAttempts, req.Model, err)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(retryBackoff * time.Duration(attempt)):
			}
			continue
		}

		res := &Result{Content: resp.Text()}
		if resp.UsageMetadata != nil {
			res.Usage = Usage{
				PromptTokens:     int(resp.UsageMetadata.PromptTokenCount),
				CachedTokens:     int(resp.UsageMetadata.CachedContentTokenCount),
				CompletionTokens: int(resp.UsageMetadata.CandidatesTokenCount),
			}
		}
		g.audit.Record(req, res.Content, res.Usage, nil)
		logging.APIDebug("%s call ok: %d prompt / %d cached / %d completion tokens",
			req.AgentType, res.Usage.PromptTokens, res.Usage.CachedTokens, res.Usage.CompletionTokens)
		return res, nil
	}
	return nil, fmt.Errorf("%s call failed after %d attempts: %w", req.AgentType, maxAttempts, lastErr)
}
