package student

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/voicetutor/voice-tutor-hub/internal/domain/shared"
)

func TestNormalizePhone(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		country string
		want    string
	}{
		{"bare ten digits", "5551234567", "1", "+15551234567"},
		{"formatted ten digits", "(555) 123-4567", "1", "+15551234567"},
		{"eleven digits with country code", "15551234567", "1", "+15551234567"},
		{"already canonical", "+15551234567", "1", "+15551234567"},
		{"international", "+442071838750", "1", "+442071838750"},
		{"default country code", "5551234567", "", "+15551234567"},
		{"other country code", "7012345678", "7", "+77012345678"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NormalizePhone(tt.raw, tt.country)
			assert.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNormalizePhone_Idempotent(t *testing.T) {
	inputs := []string{"5551234567", "+1 (555) 123-4567", "+442071838750"}

	for _, raw := range inputs {
		once, err := NormalizePhone(raw, "1")
		assert.NoError(t, err)

		twice, err := NormalizePhone(once, "1")
		assert.NoError(t, err)
		assert.Equal(t, once, twice)
	}
}

func TestNormalizePhone_Empty(t *testing.T) {
	_, err := NormalizePhone("", "1")
	assert.ErrorIs(t, err, shared.ErrInvalidPhoneNumber)

	_, err = NormalizePhone("ext. only-", "1")
	assert.ErrorIs(t, err, shared.ErrInvalidPhoneNumber)
}

func TestIsNormalized(t *testing.T) {
	assert.True(t, IsNormalized("+15551234567"))
	assert.False(t, IsNormalized("5551234567"))
	assert.False(t, IsNormalized("(555) 123-4567"))
}
