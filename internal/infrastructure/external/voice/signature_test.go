package voice

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/voicetutor/voice-tutor-hub/internal/domain/shared"
)

func TestSignatureVerifier_Verify(t *testing.T) {
	v := NewSignatureVerifier("topsecret", "X-Voice-Signature")
	body := []byte(`{"message":{"type":"end-of-call-report"}}`)

	sig := v.Sign(body)
	assert.NoError(t, v.Verify(body, sig))

	// The platform may prefix the hex digest.
	assert.NoError(t, v.Verify(body, "sha256="+sig))
}

func TestSignatureVerifier_Rejects(t *testing.T) {
	v := NewSignatureVerifier("topsecret", "X-Voice-Signature")
	body := []byte(`{"message":{"type":"end-of-call-report"}}`)
	sig := v.Sign(body)

	// Tampered body.
	tampered := []byte(`{"message":{"type":"end-of-call-report","extra":1}}`)
	assert.ErrorIs(t, v.Verify(tampered, sig), shared.ErrSignatureInvalid)

	// Wrong secret.
	other := NewSignatureVerifier("othersecret", "X-Voice-Signature")
	assert.ErrorIs(t, other.Verify(body, sig), shared.ErrSignatureInvalid)

	// Missing or malformed signatures.
	assert.ErrorIs(t, v.Verify(body, ""), shared.ErrSignatureInvalid)
	assert.ErrorIs(t, v.Verify(body, "not-hex"), shared.ErrSignatureInvalid)
	assert.ErrorIs(t, v.Verify(body, "deadbeef"), shared.ErrSignatureInvalid)
}

func TestSignatureVerifier_Header(t *testing.T) {
	v := NewSignatureVerifier("s", "X-Custom-Sig")
	assert.Equal(t, "X-Custom-Sig", v.Header())
}
