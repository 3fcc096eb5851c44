// Package voice integrates with the voice platform: webhook signature
// verification and the authenticated call-data REST API.
//
// Webhooks only announce that a call finished; the transcript and metadata
// the pipeline trusts come from FetchCall. The client wraps every fetch in a
// rate limiter, retry with exponential backoff, and a circuit breaker so a
// platform outage degrades the pipeline instead of stalling it.
package voice

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/voicetutor/voice-tutor-hub/config"
	"github.com/voicetutor/voice-tutor-hub/internal/domain/shared"
	"github.com/voicetutor/voice-tutor-hub/pkg/circuitbreaker"
	"github.com/voicetutor/voice-tutor-hub/pkg/logger"
	"github.com/voicetutor/voice-tutor-hub/pkg/retry"
)

// ══════════════════════════════════════════════════════════════════════════════
// CLIENT
// ══════════════════════════════════════════════════════════════════════════════

// maxResponseBytes caps how much of a platform response is read. Transcripts
// are large but bounded; anything past this is a platform bug.
const maxResponseBytes = 10 << 20

// Client is the voice platform API client.
type Client struct {
	config     config.VoiceConfig
	httpClient *http.Client
	logger     *logger.Logger
	limiter    *RateLimiter
	breaker    *circuitbreaker.CircuitBreaker
	retrier    *retry.Retrier
}

// NewClient creates a voice platform client from configuration.
func NewClient(cfg config.VoiceConfig, log *logger.Logger) *Client {
	if log == nil {
		log = logger.Default()
	}
	log = log.With(logger.Component("voice-client"))

	breaker := circuitbreaker.New("voice-api",
		circuitbreaker.WithFailureThreshold(cfg.CircuitBreakerThreshold),
		circuitbreaker.WithTimeout(cfg.CircuitBreakerTimeout),
		circuitbreaker.WithIsFailure(func(err error) bool {
			// Missing calls and bad requests say nothing about platform
			// health; only infrastructure-level failures trip the breaker.
			return !shared.IsNotFound(err) && !shared.IsValidation(err)
		}),
		circuitbreaker.WithOnStateChange(func(name string, from, to circuitbreaker.State) {
			log.Warn("circuit breaker state changed",
				logger.String("breaker", name),
				logger.String("from", from.String()),
				logger.String("to", to.String()),
			)
		}),
	)

	retrier := retry.New(
		retry.WithMaxAttempts(cfg.MaxRetries),
		retry.WithInitialDelay(cfg.RetryBaseDelay),
		retry.WithMaxDelay(cfg.RetryMaxDelay),
		retry.WithMultiplier(2.0),
		retry.WithJitter(0.2),
		retry.WithOnRetry(func(attempt int, err error, delay time.Duration) {
			log.Warn("retrying call fetch",
				logger.Int("attempt", attempt),
				logger.Duration("delay", delay),
				logger.Err(err),
			)
		}),
	)

	return &Client{
		config: cfg,
		httpClient: &http.Client{
			Timeout: cfg.RequestTimeout,
		},
		logger: log,
		limiter: NewRateLimiter(RateLimiterConfig{
			RequestsPerSecond: cfg.RateLimit,
			BurstSize:         cfg.RateLimitBurst,
			WaitTimeout:       cfg.RequestTimeout,
		}),
		breaker: breaker,
		retrier: retrier,
	}
}

// FetchCall retrieves the authoritative call record for a call ID.
//
// A 404 maps to shared.ErrCallNotFound; every other failure, including an
// open circuit or exhausted retries, maps to shared.ErrCallFetchFailed. The
// caller decides whether to fail the session or degrade to webhook data.
func (c *Client) FetchCall(ctx context.Context, callID string) (*CallDTO, error) {
	if strings.TrimSpace(callID) == "" {
		return nil, shared.NewDomainError("voice", "FetchCall", shared.ErrInvalidInput, "call id is empty")
	}

	start := time.Now()

	var dto *CallDTO
	err := c.breaker.Execute(ctx, func(ctx context.Context) error {
		return c.retrier.Do(ctx, func(ctx context.Context) error {
			if err := c.limiter.Allow(ctx); err != nil {
				return retry.Permanent(err)
			}

			got, err := c.doFetch(ctx, callID)
			if err != nil {
				return err
			}
			dto = got
			return nil
		})
	})
	if err != nil {
		if errors.Is(err, shared.ErrCallNotFound) {
			return nil, shared.ErrCallNotFound
		}
		return nil, shared.WrapError("voice", "FetchCall", shared.ErrExternalService, "authoritative call fetch failed", err)
	}

	c.logger.Debug("fetched call",
		logger.CallID(callID),
		logger.Latency(time.Since(start)),
	)
	return dto, nil
}

// doFetch performs one GET against the call endpoint and classifies the
// outcome for the retry loop.
func (c *Client) doFetch(ctx context.Context, callID string) (*CallDTO, error) {
	endpoint := strings.TrimSuffix(c.config.BaseURL, "/") + "/call/" + url.PathEscape(callID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, retry.Permanent(fmt.Errorf("failed to build request: %w", err))
	}
	req.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// Network-level failures are worth retrying.
		return nil, retry.Retryable(fmt.Errorf("request failed: %w", err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, retry.Retryable(fmt.Errorf("failed to read response: %w", err))
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		var dto CallDTO
		if err := json.Unmarshal(body, &dto); err != nil {
			return nil, retry.Permanent(fmt.Errorf("failed to decode call record: %w", err))
		}
		return &dto, nil

	case resp.StatusCode == http.StatusNotFound:
		return nil, retry.Permanent(shared.ErrCallNotFound)

	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, retry.Retryable(fmt.Errorf("%w: platform returned 429", shared.ErrRateLimited))

	case resp.StatusCode >= 500:
		return nil, retry.Retryable(fmt.Errorf("platform error: status %d", resp.StatusCode))

	default:
		// Remaining 4xx: our request is wrong, retrying will not help.
		return nil, retry.Permanent(fmt.Errorf("unexpected status %d: %s", resp.StatusCode, truncate(string(body), 256)))
	}
}

// BreakerState exposes the circuit state for health reporting.
func (c *Client) BreakerState() circuitbreaker.State {
	return c.breaker.State()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
