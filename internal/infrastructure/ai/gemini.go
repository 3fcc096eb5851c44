package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/voicetutor/voice-tutor-hub/config"
)

// ══════════════════════════════════════════════════════════════════════════════
// GEMINI PROVIDER
// ══════════════════════════════════════════════════════════════════════════════

const defaultGeminiBaseURL = "https://generativelanguage.googleapis.com"

type geminiProvider struct {
	cfg    config.ProviderConfig
	cost   costModel
	client *http.Client
}

func newGemini(cfg config.ProviderConfig, client *http.Client) *geminiProvider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultGeminiBaseURL
	}
	return &geminiProvider{
		cfg:    cfg,
		cost:   costModel{inputPer1K: cfg.InputCostPer1K, outputPer1K: cfg.OutputCostPer1K},
		client: client,
	}
}

func (p *geminiProvider) Name() string  { return "gemini" }
func (p *geminiProvider) Model() string { return p.cfg.Model }

type geminiRequest struct {
	Contents          []geminiContent `json:"contents"`
	SystemInstruction *geminiContent  `json:"systemInstruction,omitempty"`
	GenerationConfig  geminiGenConfig `json:"generationConfig"`
}

type geminiContent struct {
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiGenConfig struct {
	Temperature      float64 `json:"temperature"`
	ResponseMimeType string  `json:"responseMimeType"`
}

type geminiResponse struct {
	Candidates []struct {
		Content geminiContent `json:"content"`
	} `json:"candidates"`
	UsageMetadata struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
	} `json:"usageMetadata"`
}

// Analyze sends the prompt through the generateContent endpoint in JSON mode.
func (p *geminiProvider) Analyze(ctx context.Context, prompt Prompt) (*Response, error) {
	body, err := json.Marshal(geminiRequest{
		Contents: []geminiContent{
			{Parts: []geminiPart{{Text: prompt.User}}},
		},
		SystemInstruction: &geminiContent{
			Parts: []geminiPart{{Text: prompt.System}},
		},
		GenerationConfig: geminiGenConfig{
			Temperature:      0.2,
			ResponseMimeType: "application/json",
		},
	})
	if err != nil {
		return nil, fmt.Errorf("gemini: failed to marshal request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/v1beta/models/%s:generateContent?key=%s",
		p.cfg.BaseURL, url.PathEscape(p.cfg.Model), url.QueryEscape(p.cfg.APIKey))

	raw, err := postJSON(ctx, p.client, endpoint, nil, body)
	if err != nil {
		return nil, fmt.Errorf("gemini: %w", err)
	}

	var resp geminiResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("gemini: failed to decode response: %w", err)
	}
	if len(resp.Candidates) == 0 || len(resp.Candidates[0].Content.Parts) == 0 {
		return nil, fmt.Errorf("gemini: response has no candidates")
	}

	return &Response{
		Raw: []byte(stripJSONFence(resp.Candidates[0].Content.Parts[0].Text)),
		Usage: Usage{
			InputTokens:  resp.UsageMetadata.PromptTokenCount,
			OutputTokens: resp.UsageMetadata.CandidatesTokenCount,
		},
	}, nil
}

func (p *geminiProvider) Cost(u Usage) float64 { return p.cost.estimate(u) }
