package ai

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/voicetutor/voice-tutor-hub/config"
	"github.com/voicetutor/voice-tutor-hub/internal/domain/analysis"
	"github.com/voicetutor/voice-tutor-hub/internal/domain/session"
	"github.com/voicetutor/voice-tutor-hub/internal/domain/shared"
	redisinfra "github.com/voicetutor/voice-tutor-hub/internal/infrastructure/persistence/redis"
	"github.com/voicetutor/voice-tutor-hub/pkg/circuitbreaker"
	"github.com/voicetutor/voice-tutor-hub/pkg/logger"
	"github.com/voicetutor/voice-tutor-hub/pkg/retry"
)

// ══════════════════════════════════════════════════════════════════════════════
// PROVIDER MANAGER
// ══════════════════════════════════════════════════════════════════════════════

// Outcome is the result of walking the provider chain for one call.
// Attempts is populated even when every provider fails, so the caller can
// persist cost and error metadata regardless of outcome.
type Outcome struct {
	Result   *analysis.Result
	Raw      []byte
	Provider string
	Model    string
	Attempts []session.ProviderAttempt
}

// Manager walks the ordered provider chain until one returns a response that
// parses into the expected shape. Each provider gets its own circuit breaker
// and a short retry; failover to the next provider is the real recovery path.
//
// Before any provider is tried the daily spend ceiling is checked; once the
// ceiling is hit, analysis stops for the day and sessions queue up as fetched.
type Manager struct {
	providers []Provider
	breakers  map[string]*circuitbreaker.CircuitBreaker
	retrier   *retry.Retrier
	usage     *redisinfra.UsageTracker
	timeout   time.Duration
	logger    *logger.Logger
}

// NewManager builds the provider chain from configuration. The usage tracker
// may be nil, which disables cost ceiling enforcement.
func NewManager(cfg config.AnalysisConfig, usage *redisinfra.UsageTracker, log *logger.Logger) (*Manager, error) {
	if log == nil {
		log = logger.Default()
	}
	log = log.With(logger.Component("ai-manager"))

	httpClient := &http.Client{Timeout: cfg.PerCallTimeout}

	providers := make([]Provider, 0, len(cfg.Providers))
	breakers := make(map[string]*circuitbreaker.CircuitBreaker, len(cfg.Providers))
	for _, pc := range cfg.Providers {
		p, err := NewProvider(pc, httpClient)
		if err != nil {
			return nil, err
		}
		providers = append(providers, p)
		breakers[p.Name()] = circuitbreaker.ProviderBreaker(p.Name(), func(name string, from, to circuitbreaker.State) {
			log.Warn("provider circuit breaker state changed",
				logger.Provider(name),
				logger.String("from", from.String()),
				logger.String("to", to.String()),
			)
		})
	}

	if len(providers) == 0 {
		return nil, shared.NewDomainError("analysis", "NewManager", shared.ErrInvalidInput, "no providers configured")
	}

	return &Manager{
		providers: providers,
		breakers:  breakers,
		retrier:   retry.ProviderRetrier(),
		usage:     usage,
		timeout:   cfg.PerCallTimeout,
		logger:    log,
	}, nil
}

// Analyze runs the prompt through the chain. On success the Outcome carries
// the parsed result and the raw payload of the winning provider. On failure
// the error is shared.ErrCostCeilingReached or shared.ErrAllProvidersFailed;
// the Outcome still carries the attempt records.
func (m *Manager) Analyze(ctx context.Context, prompt Prompt) (*Outcome, error) {
	outcome := &Outcome{}

	if m.usage.CeilingReached(ctx) {
		m.logger.Warn("daily cost ceiling reached, refusing analysis",
			logger.CostUSD(m.usage.CeilingUSD()),
		)
		return outcome, shared.ErrCostCeilingReached
	}

	for _, p := range m.providers {
		resp, attempt := m.tryProvider(ctx, p, prompt)
		outcome.Attempts = append(outcome.Attempts, attempt)

		if resp == nil {
			continue
		}

		result, err := analysis.ParseResult(resp.Raw)
		if err != nil {
			// The provider answered but not in the expected shape; a
			// different model may do better.
			m.logger.Warn("provider response failed shape check, advancing",
				logger.Provider(p.Name()),
				logger.Err(err),
			)
			outcome.Attempts[len(outcome.Attempts)-1].Error = err.Error()
			continue
		}

		outcome.Result = result
		outcome.Raw = resp.Raw
		outcome.Provider = p.Name()
		outcome.Model = p.Model()
		return outcome, nil
	}

	return outcome, shared.ErrAllProvidersFailed
}

// tryProvider runs one provider with its breaker, retry, and per-call
// timeout, recording spend on any response that reported usage.
func (m *Manager) tryProvider(ctx context.Context, p Provider, prompt Prompt) (*Response, session.ProviderAttempt) {
	attempt := session.ProviderAttempt{
		Provider: p.Name(),
		Model:    p.Model(),
		At:       time.Now().UTC(),
	}
	start := time.Now()

	var resp *Response
	err := m.breakers[p.Name()].Execute(ctx, func(ctx context.Context) error {
		return m.retrier.Do(ctx, func(ctx context.Context) error {
			callCtx := ctx
			if m.timeout > 0 {
				var cancel context.CancelFunc
				callCtx, cancel = context.WithTimeout(ctx, m.timeout)
				defer cancel()
			}

			got, err := p.Analyze(callCtx, prompt)
			if err != nil {
				return retry.Retryable(err)
			}
			resp = got
			return nil
		})
	})

	attempt.LatencyMS = time.Since(start).Milliseconds()

	if err != nil {
		attempt.Error = err.Error()
		if !errors.Is(err, circuitbreaker.ErrCircuitOpen) {
			m.logger.Warn("provider attempt failed",
				logger.Provider(p.Name()),
				logger.Model(p.Model()),
				logger.Err(err),
			)
		}
		return nil, attempt
	}

	attempt.CostUSD = p.Cost(resp.Usage)
	if total, err := m.usage.RecordSpend(ctx, attempt.CostUSD); err != nil {
		m.logger.Warn("failed to record provider spend", logger.Err(err))
	} else if attempt.CostUSD > 0 {
		m.logger.Debug("recorded provider spend",
			logger.Provider(p.Name()),
			logger.CostUSD(attempt.CostUSD),
			logger.Float64("spent_today_usd", total),
		)
	}

	return resp, attempt
}

// Providers returns the configured chain order, for health reporting.
func (m *Manager) Providers() []string {
	names := make([]string, len(m.providers))
	for i, p := range m.providers {
		names[i] = p.Name()
	}
	return names
}
