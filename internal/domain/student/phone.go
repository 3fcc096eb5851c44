package student

import (
	"strings"

	"github.com/voicetutor/voice-tutor-hub/internal/domain/shared"
)

// DefaultCountryCode is assumed for bare 10-digit numbers. Configurable at
// the call site; this is the fallback.
const DefaultCountryCode = "1"

// NormalizePhone converts a raw phone number into its canonical form:
//
//   - all non-digit characters are stripped
//   - 10 digits: the default country code is prepended
//   - 11 digits starting with the country code: kept as-is
//   - anything else: treated as already international
//
// The result always carries a leading plus. Normalization is deterministic
// and idempotent: NormalizePhone(NormalizePhone(x)) == NormalizePhone(x).
func NormalizePhone(raw, countryCode string) (string, error) {
	if countryCode == "" {
		countryCode = DefaultCountryCode
	}

	var b strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()

	if len(digits) == 0 {
		return "", shared.ErrInvalidPhoneNumber
	}

	switch {
	case len(digits) == 10:
		return "+" + countryCode + digits, nil
	case len(digits) == 11 && strings.HasPrefix(digits, countryCode):
		return "+" + digits, nil
	default:
		// Already international; just add the plus back.
		return "+" + digits, nil
	}
}

// IsNormalized reports whether a phone number is already in canonical form.
func IsNormalized(phone string) bool {
	normalized, err := NormalizePhone(phone, DefaultCountryCode)
	return err == nil && normalized == phone
}
