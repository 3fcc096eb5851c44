package voice

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/voicetutor/voice-tutor-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// WEBHOOK SIGNATURE VERIFICATION
// ══════════════════════════════════════════════════════════════════════════════

// SignatureVerifier authenticates webhook deliveries by checking the HMAC
// SHA-256 signature the platform computes over the raw request body. The
// comparison is constant time; verification happens before any JSON parsing
// so unauthenticated bytes never reach a decoder.
type SignatureVerifier struct {
	secret []byte
	header string
}

// NewSignatureVerifier creates a verifier for the given shared secret.
// The header name identifies which request header carries the hex signature.
func NewSignatureVerifier(secret, header string) *SignatureVerifier {
	return &SignatureVerifier{
		secret: []byte(secret),
		header: header,
	}
}

// Header returns the name of the signature header.
func (v *SignatureVerifier) Header() string {
	return v.header
}

// Verify checks the hex-encoded signature against the raw body. A "sha256="
// prefix on the signature is accepted and stripped. Any mismatch, including
// an absent or malformed signature, returns shared.ErrSignatureInvalid.
func (v *SignatureVerifier) Verify(body []byte, signature string) error {
	signature = strings.TrimPrefix(strings.TrimSpace(signature), "sha256=")
	if signature == "" {
		return shared.ErrSignatureInvalid
	}

	provided, err := hex.DecodeString(signature)
	if err != nil {
		return shared.ErrSignatureInvalid
	}

	if !hmac.Equal(provided, v.sign(body)) {
		return shared.ErrSignatureInvalid
	}
	return nil
}

// Sign computes the hex signature for a body. Used by tests and the local
// webhook replay tool.
func (v *SignatureVerifier) Sign(body []byte) string {
	return hex.EncodeToString(v.sign(body))
}

func (v *SignatureVerifier) sign(body []byte) []byte {
	mac := hmac.New(sha256.New, v.secret)
	mac.Write(body)
	return mac.Sum(nil)
}
