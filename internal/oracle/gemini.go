package oracle

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"google.golang.org/genai"

	"github.com/sokinpui/revise/internal/logging"
)

// DefaultModel is used when no model name is configured.
const DefaultModel = "gemini-2.5-flash"

// GeminiConfig configures the Gemini client.
type GeminiConfig struct {
	APIKey      string
	Model       string
	Temperature *float32
	Retry       RetryConfig
}

// Gemini implements Client with the Gemini API, streaming each reply and
// retrying transient failures.
type Gemini struct {
	client *genai.Client
	model  string
	config *genai.GenerateContentConfig
	retry  RetryConfig
}

// NewGemini creates a Gemini client.
func NewGemini(ctx context.Context, cfg GeminiConfig) (*Gemini, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("no API key configured (set GEMINI_API_KEY or model.api_key)")
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Retry == (RetryConfig{}) {
		cfg.Retry = DefaultRetryConfig()
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	return &Gemini{
		client: client,
		model:  cfg.Model,
		config: &genai.GenerateContentConfig{Temperature: cfg.Temperature},
		retry:  cfg.Retry,
	}, nil
}

// Model returns the model name requests are sent to.
func (g *Gemini) Model() string {
	return g.model
}

// toContents converts request messages into Gemini contents.
func toContents(msgs []Message) []*genai.Content {
	contents := make([]*genai.Content, 0, len(msgs))
	for _, m := range msgs {
		var role genai.Role = genai.RoleUser
		if m.Role == RoleModel {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(m.Content, role))
	}
	return contents
}

func (g *Gemini) Generate(ctx context.Context, req Request) (string, error) {
	contents := toContents(req.Messages)

	config := *g.config
	if req.System != "" {
		config.SystemInstruction = genai.NewContentFromText(req.System, genai.RoleUser)
	}

	for attempt := 0; ; attempt++ {
		out, err := g.stream(ctx, contents, &config)
		if err == nil {
			return out, nil
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		if !IsRetryableError(err) || attempt >= g.retry.MaxRetries {
			return "", err
		}

		delay := CalculateBackoff(g.retry.RetryDelay, attempt, g.retry.MaxDelay)
		logging.Warn("retrying Gemini request", "attempt", attempt+1, "delay", delay, "error", err)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
}

// stream accumulates the text of the first candidate across all chunks.
func (g *Gemini) stream(ctx context.Context, contents []*genai.Content, config *genai.GenerateContentConfig) (string, error) {
	var b strings.Builder
	for resp, err := range g.client.Models.GenerateContentStream(ctx, g.model, contents, config) {
		if err != nil {
			return "", err
		}
		if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
			continue
		}
		for _, part := range resp.Candidates[0].Content.Parts {
			if part != nil {
				b.WriteString(part.Text)
			}
		}
	}
	if b.Len() == 0 {
		return "", errors.New("empty response from model")
	}
	return b.String(), nil
}
