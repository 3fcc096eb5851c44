package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/voicetutor/voice-tutor-hub/config"
)

// ══════════════════════════════════════════════════════════════════════════════
// ANTHROPIC PROVIDER
// ══════════════════════════════════════════════════════════════════════════════

const (
	defaultAnthropicBaseURL = "https://api.anthropic.com"
	anthropicVersion        = "2023-06-01"
	anthropicMaxTokens      = 4096
)

type anthropicProvider struct {
	cfg    config.ProviderConfig
	cost   costModel
	client *http.Client
}

func newAnthropic(cfg config.ProviderConfig, client *http.Client) *anthropicProvider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultAnthropicBaseURL
	}
	return &anthropicProvider{
		cfg:    cfg,
		cost:   costModel{inputPer1K: cfg.InputCostPer1K, outputPer1K: cfg.OutputCostPer1K},
		client: client,
	}
}

func (p *anthropicProvider) Name() string  { return "anthropic" }
func (p *anthropicProvider) Model() string { return p.cfg.Model }

type anthropicRequest struct {
	Model     string             `json:"model"`
	MaxTokens int                `json:"max_tokens"`
	System    string             `json:"system,omitempty"`
	Messages  []anthropicMessage `json:"messages"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

// Analyze sends the prompt through the messages endpoint.
func (p *anthropicProvider) Analyze(ctx context.Context, prompt Prompt) (*Response, error) {
	body, err := json.Marshal(anthropicRequest{
		Model:     p.cfg.Model,
		MaxTokens: anthropicMaxTokens,
		System:    prompt.System,
		Messages: []anthropicMessage{
			{Role: "user", Content: prompt.User},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("anthropic: failed to marshal request: %w", err)
	}

	raw, err := postJSON(ctx, p.client, p.cfg.BaseURL+"/v1/messages", map[string]string{
		"x-api-key":         p.cfg.APIKey,
		"anthropic-version": anthropicVersion,
	}, body)
	if err != nil {
		return nil, fmt.Errorf("anthropic: %w", err)
	}

	var resp anthropicResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("anthropic: failed to decode response: %w", err)
	}
	if len(resp.Content) == 0 || resp.Content[0].Text == "" {
		return nil, fmt.Errorf("anthropic: response has no text content")
	}

	return &Response{
		Raw: []byte(stripJSONFence(resp.Content[0].Text)),
		Usage: Usage{
			InputTokens:  resp.Usage.InputTokens,
			OutputTokens: resp.Usage.OutputTokens,
		},
	}, nil
}

func (p *anthropicProvider) Cost(u Usage) float64 { return p.cost.estimate(u) }
