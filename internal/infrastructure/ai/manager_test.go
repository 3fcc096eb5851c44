package ai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voicetutor/voice-tutor-hub/config"
	"github.com/voicetutor/voice-tutor-hub/internal/domain/shared"
)

const validResultJSON = `{
  "profile_updates": {"narrative_changes": null, "trait_updates": {}},
  "memory_updates": {"personal_fact": {"pet": "cat"}},
  "mastery_updates": {
    "goal_patches": [{"goal_code": "MATH.G4.NF", "mastery_percentage": 55, "evidence": "worked through halves"}],
    "kc_patches": []
  },
  "should_create_new_profile_version": false,
  "confidence_score": 0.9
}`

// openAIStub serves the OpenAI chat-completions shape with fixed content.
func openAIStub(t *testing.T, content string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"content": content}},
			},
			"usage": map[string]any{"prompt_tokens": 1000, "completion_tokens": 500},
		})
	}))
}

// anthropicStub serves the Anthropic messages shape with fixed content.
func anthropicStub(t *testing.T, content string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"content": []map[string]any{{"type": "text", "text": content}},
			"usage":   map[string]any{"input_tokens": 1000, "output_tokens": 500},
		})
	}))
}

func analysisConfig(providers ...config.ProviderConfig) config.AnalysisConfig {
	return config.AnalysisConfig{
		Providers:      providers,
		PerCallTimeout: 2 * time.Second,
	}
}

func TestManager_Analyze_Success(t *testing.T) {
	srv := openAIStub(t, validResultJSON)
	defer srv.Close()

	m, err := NewManager(analysisConfig(config.ProviderConfig{
		Name:            "openai",
		APIKey:          "k",
		Model:           "gpt-4o-mini",
		BaseURL:         srv.URL,
		InputCostPer1K:  0.15,
		OutputCostPer1K: 0.60,
	}), nil, nil)
	require.NoError(t, err)

	outcome, err := m.Analyze(context.Background(), Prompt{System: "sys", User: "user"})
	require.NoError(t, err)

	assert.Equal(t, "openai", outcome.Provider)
	assert.Equal(t, "gpt-4o-mini", outcome.Model)
	require.NotNil(t, outcome.Result)
	assert.Equal(t, 0.9, outcome.Result.ConfidenceScore)

	require.Len(t, outcome.Attempts, 1)
	// 1000 input + 500 output tokens at the configured per-1K rates.
	assert.InDelta(t, 0.45, outcome.Attempts[0].CostUSD, 1e-9)
	assert.Empty(t, outcome.Attempts[0].Error)
}

func TestManager_Analyze_FailoverOnBadShape(t *testing.T) {
	primary := openAIStub(t, "I am sorry, I cannot produce JSON today.")
	defer primary.Close()
	fallback := anthropicStub(t, validResultJSON)
	defer fallback.Close()

	m, err := NewManager(analysisConfig(
		config.ProviderConfig{Name: "openai", APIKey: "k", Model: "gpt-4o-mini", BaseURL: primary.URL},
		config.ProviderConfig{Name: "anthropic", APIKey: "k", Model: "claude-sonnet", BaseURL: fallback.URL},
	), nil, nil)
	require.NoError(t, err)

	outcome, err := m.Analyze(context.Background(), Prompt{System: "sys", User: "user"})
	require.NoError(t, err)

	assert.Equal(t, "anthropic", outcome.Provider)
	require.NotNil(t, outcome.Result)

	// The failed primary attempt is preserved for session metadata.
	require.Len(t, outcome.Attempts, 2)
	assert.Equal(t, "openai", outcome.Attempts[0].Provider)
	assert.NotEmpty(t, outcome.Attempts[0].Error)
	assert.Equal(t, "anthropic", outcome.Attempts[1].Provider)
	assert.Empty(t, outcome.Attempts[1].Error)
}

func TestManager_Analyze_AllProvidersFail(t *testing.T) {
	primary := openAIStub(t, "still not JSON")
	defer primary.Close()
	fallback := anthropicStub(t, "also not JSON")
	defer fallback.Close()

	m, err := NewManager(analysisConfig(
		config.ProviderConfig{Name: "openai", APIKey: "k", Model: "gpt-4o-mini", BaseURL: primary.URL},
		config.ProviderConfig{Name: "anthropic", APIKey: "k", Model: "claude-sonnet", BaseURL: fallback.URL},
	), nil, nil)
	require.NoError(t, err)

	outcome, err := m.Analyze(context.Background(), Prompt{System: "sys", User: "user"})
	assert.ErrorIs(t, err, shared.ErrAllProvidersFailed)

	require.NotNil(t, outcome)
	assert.Len(t, outcome.Attempts, 2)
	assert.Nil(t, outcome.Result)
}

func TestManager_Analyze_StripsCodeFence(t *testing.T) {
	srv := openAIStub(t, "```json\n"+validResultJSON+"\n```")
	defer srv.Close()

	m, err := NewManager(analysisConfig(config.ProviderConfig{
		Name: "openai", APIKey: "k", Model: "gpt-4o-mini", BaseURL: srv.URL,
	}), nil, nil)
	require.NoError(t, err)

	outcome, err := m.Analyze(context.Background(), Prompt{User: "u"})
	require.NoError(t, err)
	require.NotNil(t, outcome.Result)
}

func TestNewManager_RequiresProviders(t *testing.T) {
	_, err := NewManager(analysisConfig(), nil, nil)
	assert.Error(t, err)
}

func TestNewManager_UnknownProvider(t *testing.T) {
	_, err := NewManager(analysisConfig(config.ProviderConfig{Name: "skynet"}), nil, nil)
	assert.Error(t, err)
}
