package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/voicetutor/voice-tutor-hub/config"
)

// ══════════════════════════════════════════════════════════════════════════════
// OPENAI PROVIDER
// ══════════════════════════════════════════════════════════════════════════════

const defaultOpenAIBaseURL = "https://api.openai.com"

type openAIProvider struct {
	cfg    config.ProviderConfig
	cost   costModel
	client *http.Client
}

func newOpenAI(cfg config.ProviderConfig, client *http.Client) *openAIProvider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultOpenAIBaseURL
	}
	return &openAIProvider{
		cfg:    cfg,
		cost:   costModel{inputPer1K: cfg.InputCostPer1K, outputPer1K: cfg.OutputCostPer1K},
		client: client,
	}
}

func (p *openAIProvider) Name() string  { return "openai" }
func (p *openAIProvider) Model() string { return p.cfg.Model }

type openAIRequest struct {
	Model          string          `json:"model"`
	Messages       []openAIMessage `json:"messages"`
	Temperature    float64         `json:"temperature"`
	ResponseFormat *openAIFormat   `json:"response_format,omitempty"`
}

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIFormat struct {
	Type string `json:"type"`
}

type openAIResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

// Analyze sends the prompt through the chat completions endpoint in JSON mode.
func (p *openAIProvider) Analyze(ctx context.Context, prompt Prompt) (*Response, error) {
	body, err := json.Marshal(openAIRequest{
		Model: p.cfg.Model,
		Messages: []openAIMessage{
			{Role: "system", Content: prompt.System},
			{Role: "user", Content: prompt.User},
		},
		Temperature:    0.2,
		ResponseFormat: &openAIFormat{Type: "json_object"},
	})
	if err != nil {
		return nil, fmt.Errorf("openai: failed to marshal request: %w", err)
	}

	raw, err := postJSON(ctx, p.client, p.cfg.BaseURL+"/v1/chat/completions", map[string]string{
		"Authorization": "Bearer " + p.cfg.APIKey,
	}, body)
	if err != nil {
		return nil, fmt.Errorf("openai: %w", err)
	}

	var resp openAIResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("openai: failed to decode response: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("openai: response has no choices")
	}

	return &Response{
		Raw: []byte(stripJSONFence(resp.Choices[0].Message.Content)),
		Usage: Usage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
		},
	}, nil
}

func (p *openAIProvider) Cost(u Usage) float64 { return p.cost.estimate(u) }
