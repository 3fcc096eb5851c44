// Package ai implements the analysis provider chain: concrete clients for
// each AI backend, prompt assembly, and a failover manager that walks the
// configured chain until one provider returns a usable response.
//
// Providers are interchangeable behind the Provider interface; the manager
// owns failover, cost accounting, and the daily spend ceiling.
package ai

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/voicetutor/voice-tutor-hub/config"
	"github.com/voicetutor/voice-tutor-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// PROVIDER INTERFACE
// ══════════════════════════════════════════════════════════════════════════════

// Usage is the token accounting a provider reports for one request.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// Response is one provider's raw analysis output plus accounting metadata.
// Raw is the JSON document the model produced, with any markdown fencing
// already stripped; shape validation is the manager's job.
type Response struct {
	Raw   []byte
	Usage Usage
}

// Provider is one AI analysis backend.
type Provider interface {
	// Name returns the provider identifier ("openai", "anthropic", "gemini").
	Name() string

	// Model returns the configured model identifier.
	Model() string

	// Analyze sends the prompt and returns the model's raw JSON response.
	Analyze(ctx context.Context, prompt Prompt) (*Response, error)

	// Cost estimates the USD cost of a request from its token usage.
	Cost(u Usage) float64
}

// NewProvider builds a concrete provider from configuration.
func NewProvider(cfg config.ProviderConfig, httpClient *http.Client) (Provider, error) {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	switch cfg.Name {
	case "openai":
		return newOpenAI(cfg, httpClient), nil
	case "anthropic":
		return newAnthropic(cfg, httpClient), nil
	case "gemini":
		return newGemini(cfg, httpClient), nil
	default:
		return nil, shared.NewDomainError("analysis", "NewProvider", shared.ErrInvalidInput,
			fmt.Sprintf("unknown provider %q", cfg.Name))
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// COST MODEL
// ══════════════════════════════════════════════════════════════════════════════

// costModel estimates USD cost from token usage, per the configured rates.
type costModel struct {
	inputPer1K  float64
	outputPer1K float64
}

func (c costModel) estimate(u Usage) float64 {
	return float64(u.InputTokens)/1000*c.inputPer1K + float64(u.OutputTokens)/1000*c.outputPer1K
}

// ══════════════════════════════════════════════════════════════════════════════
// SHARED HTTP HELPERS
// ══════════════════════════════════════════════════════════════════════════════

// maxProviderResponseBytes caps how much of a provider response is read.
const maxProviderResponseBytes = 4 << 20

// postJSON sends a JSON body and returns the raw response bytes. Non-2xx
// statuses become errors carrying a truncated body excerpt.
func postJSON(ctx context.Context, client *http.Client, endpoint string, headers map[string]string, body []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxProviderResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, excerpt(raw, 256))
	}

	return raw, nil
}

// stripJSONFence removes a markdown code fence around a JSON document.
// Models wrap JSON in ```json blocks often enough that tolerating it is
// cheaper than re-prompting.
func stripJSONFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}

	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

func excerpt(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
