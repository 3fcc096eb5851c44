package voice

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voicetutor/voice-tutor-hub/config"
	"github.com/voicetutor/voice-tutor-hub/internal/domain/shared"
)

func testVoiceConfig(baseURL string) config.VoiceConfig {
	return config.VoiceConfig{
		BaseURL:                 baseURL,
		APIKey:                  "test-key",
		RequestTimeout:          2 * time.Second,
		MaxRetries:              3,
		RetryBaseDelay:          time.Millisecond,
		RetryMaxDelay:           5 * time.Millisecond,
		RateLimit:               1000,
		RateLimitBurst:          1000,
		CircuitBreakerThreshold: 100,
		CircuitBreakerTimeout:   time.Minute,
	}
}

func TestClient_FetchCall(t *testing.T) {
	started := time.Date(2026, 3, 10, 15, 0, 0, 0, time.UTC)
	ended := started.Add(9 * time.Minute)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/call/call-42", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		_ = json.NewEncoder(w).Encode(CallDTO{
			ID:         "call-42",
			Status:     "ended",
			Transcript: "Tutor: hello!\nStudent: hi!",
			Customer:   CustomerDTO{Number: "+15551234567"},
			StartedAt:  &started,
			EndedAt:    &ended,
			CostUSD:    0.42,
		})
	}))
	defer srv.Close()

	client := NewClient(testVoiceConfig(srv.URL), nil)

	call, err := client.FetchCall(context.Background(), "call-42")
	require.NoError(t, err)
	assert.Equal(t, "call-42", call.ID)
	assert.Equal(t, "+15551234567", call.Customer.Number)
	assert.True(t, call.HasTranscript())
	assert.Equal(t, 540, call.DurationSeconds())
}

func TestClient_FetchCall_NotFound(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	client := NewClient(testVoiceConfig(srv.URL), nil)

	_, err := client.FetchCall(context.Background(), "missing")
	assert.ErrorIs(t, err, shared.ErrCallNotFound)

	// 404 is permanent; no retries should happen.
	assert.Equal(t, int32(1), hits.Load())
}

func TestClient_FetchCall_RetriesServerErrors(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_ = json.NewEncoder(w).Encode(CallDTO{ID: "call-7", Transcript: "hello"})
	}))
	defer srv.Close()

	client := NewClient(testVoiceConfig(srv.URL), nil)

	call, err := client.FetchCall(context.Background(), "call-7")
	require.NoError(t, err)
	assert.Equal(t, "call-7", call.ID)
	assert.Equal(t, int32(3), hits.Load())
}

func TestClient_FetchCall_ExhaustedRetries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := NewClient(testVoiceConfig(srv.URL), nil)

	_, err := client.FetchCall(context.Background(), "call-7")
	assert.ErrorIs(t, err, shared.ErrExternalService)
}

func TestClient_FetchCall_EmptyID(t *testing.T) {
	client := NewClient(testVoiceConfig("http://unused.invalid"), nil)

	_, err := client.FetchCall(context.Background(), "")
	assert.ErrorIs(t, err, shared.ErrInvalidInput)
}

func TestCallDTO_DurationSeconds(t *testing.T) {
	started := time.Now()
	ended := started.Add(30 * time.Second)

	assert.Equal(t, 30, (&CallDTO{StartedAt: &started, EndedAt: &ended}).DurationSeconds())
	assert.Zero(t, (&CallDTO{StartedAt: &started}).DurationSeconds())
	assert.Zero(t, (&CallDTO{StartedAt: &ended, EndedAt: &started}).DurationSeconds())
}
