package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatus_CanTransitionTo(t *testing.T) {
	tests := []struct {
		from Status
		to   Status
		ok   bool
	}{
		{StatusReceived, StatusFetched, true},
		{StatusFetched, StatusAnalyzed, true},
		{StatusAnalyzed, StatusApplied, true},

		// Failure is reachable from every non-applied state.
		{StatusReceived, StatusFailed, true},
		{StatusFetched, StatusFailed, true},
		{StatusAnalyzed, StatusFailed, true},

		// No skipping and no going backwards.
		{StatusReceived, StatusAnalyzed, false},
		{StatusReceived, StatusApplied, false},
		{StatusFetched, StatusReceived, false},
		{StatusAnalyzed, StatusFetched, false},

		// Applied is final.
		{StatusApplied, StatusFailed, false},
		{StatusApplied, StatusAnalyzed, false},

		// Operator requeue is the only way out of failed.
		{StatusFailed, StatusAnalyzed, true},
		{StatusFailed, StatusReceived, false},
		{StatusFailed, StatusApplied, false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.ok, tt.from.CanTransitionTo(tt.to),
			"%s -> %s", tt.from, tt.to)
	}
}

func TestStatus_Validity(t *testing.T) {
	assert.True(t, StatusReceived.IsValid())
	assert.True(t, StatusFailed.IsValid())
	assert.False(t, Status("pending").IsValid())

	assert.False(t, Status("pending").CanTransitionTo(StatusFetched))
	assert.False(t, StatusReceived.CanTransitionTo(Status("pending")))
}

func TestStatus_IsTerminal(t *testing.T) {
	assert.True(t, StatusApplied.IsTerminal())
	assert.True(t, StatusFailed.IsTerminal())
	assert.False(t, StatusReceived.IsTerminal())
	assert.False(t, StatusAnalyzed.IsTerminal())
}

func TestNew(t *testing.T) {
	sess := New("call-123")

	assert.NotEmpty(t, sess.ID)
	assert.Equal(t, "call-123", sess.CallID)
	assert.Equal(t, StatusReceived, sess.Status)
	assert.False(t, sess.CreatedAt.IsZero())
}

func TestSession_Advance(t *testing.T) {
	sess := New("call-123")

	assert.NoError(t, sess.Advance(StatusFetched))
	assert.NoError(t, sess.Advance(StatusAnalyzed))
	assert.NoError(t, sess.Advance(StatusApplied))
	assert.Equal(t, StatusApplied, sess.Status)

	// Applied is final.
	err := sess.Advance(StatusFailed)
	assert.Error(t, err)
	assert.Equal(t, StatusApplied, sess.Status)
}

func TestSession_Fail(t *testing.T) {
	sess := New("call-123")
	assert.NoError(t, sess.Advance(StatusFetched))

	assert.NoError(t, sess.Fail("no transcript"))
	assert.Equal(t, StatusFailed, sess.Status)
	assert.Equal(t, "no transcript", sess.ErrorDetail)
}

func TestSession_TotalCostUSD(t *testing.T) {
	sess := New("call-123")
	assert.Zero(t, sess.TotalCostUSD())

	sess.Attempts = []ProviderAttempt{
		{Provider: "openai", CostUSD: 0.012},
		{Provider: "anthropic", CostUSD: 0.03},
	}
	assert.InDelta(t, 0.042, sess.TotalCostUSD(), 1e-9)
}
