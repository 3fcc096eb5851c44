package analysis

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voicetutor/voice-tutor-hub/internal/domain/shared"
	"github.com/voicetutor/voice-tutor-hub/internal/domain/student"
)

func strPtr(s string) *string { return &s }

func validResult() *Result {
	return &Result{
		ProfileUpdates: ProfileUpdates{
			NarrativeChanges: strPtr("Enjoys fractions when framed as pizza slices."),
			TraitUpdates:     map[string]string{"name": "Aruzhan"},
		},
		MemoryUpdates: map[string]map[string]string{
			"personal_fact": {"pet": "cat named Barsik"},
			"game_state":    {"space_quest_level": "4"},
		},
		MasteryUpdates: MasteryUpdates{
			GoalPatches: []GoalPatch{
				{GoalCode: "MATH.G4.NF", MasteryPercentage: 62.5, Evidence: "solved 5 of 8"},
			},
			KCPatches: []KCPatch{
				{GoalCode: "MATH.G4.NF", KCCode: "MATH.G4.NF.1", MasteryPercentage: 70, Evidence: "explained halves"},
			},
		},
		ShouldCreateNewProfileVersion: true,
		ConfidenceScore:               0.85,
	}
}

func TestParseResult(t *testing.T) {
	raw, err := json.Marshal(validResult())
	require.NoError(t, err)

	r, err := ParseResult(raw)
	require.NoError(t, err)
	assert.Equal(t, 0.85, r.ConfidenceScore)
	assert.Len(t, r.MasteryUpdates.GoalPatches, 1)

	_, err = ParseResult(nil)
	assert.Error(t, err)

	_, err = ParseResult([]byte("I could not analyze this call, sorry!"))
	assert.Error(t, err)
}

func TestExtract_Valid(t *testing.T) {
	d, err := Extract(validResult())
	require.NoError(t, err)

	require.NotNil(t, d.ProfileVersion)
	assert.Equal(t, "Enjoys fractions when framed as pizza slices.", d.ProfileVersion.Narrative)
	assert.Equal(t, "Aruzhan", d.TraitUpdates["name"])
	assert.Len(t, d.MemoryUpdates, 2)
	assert.Len(t, d.GoalPatches, 1)
	assert.Len(t, d.KCPatches, 1)
	assert.Equal(t, 0.85, d.Confidence)
	assert.False(t, d.IsEmpty())
}

func TestExtract_MasteryOutOfBounds(t *testing.T) {
	r := validResult()
	r.MasteryUpdates.GoalPatches[0].MasteryPercentage = 150

	_, err := Extract(r)
	assert.ErrorIs(t, err, shared.ErrSchemaValidation)

	r = validResult()
	r.MasteryUpdates.KCPatches[0].MasteryPercentage = -1

	_, err = Extract(r)
	assert.ErrorIs(t, err, shared.ErrSchemaValidation)
}

func TestExtract_ConfidenceOutOfBounds(t *testing.T) {
	for _, score := range []float64{-0.1, 1.5} {
		r := validResult()
		r.ConfidenceScore = score

		_, err := Extract(r)
		assert.ErrorIs(t, err, shared.ErrSchemaValidation)
	}
}

func TestExtract_UnknownMemoryScope(t *testing.T) {
	r := validResult()
	r.MemoryUpdates["shopping_list"] = map[string]string{"milk": "2L"}

	_, err := Extract(r)
	assert.ErrorIs(t, err, shared.ErrSchemaValidation)
}

func TestExtract_CodeFormat(t *testing.T) {
	bad := []string{"math.g4.nf", "MATH G4", "MATH..NF", ".MATH", "MATH.", strings.Repeat("A", 65)}

	for _, code := range bad {
		r := validResult()
		r.MasteryUpdates.GoalPatches[0].GoalCode = code

		_, err := Extract(r)
		assert.ErrorIs(t, err, shared.ErrSchemaValidation, "code %q", code)
	}

	// Empty codes are rejected too.
	r := validResult()
	r.MasteryUpdates.KCPatches[0].KCCode = ""
	_, err := Extract(r)
	assert.ErrorIs(t, err, shared.ErrSchemaValidation)
}

func TestExtract_NarrativeRequiredForNewVersion(t *testing.T) {
	r := validResult()
	r.ProfileUpdates.NarrativeChanges = nil

	_, err := Extract(r)
	assert.ErrorIs(t, err, shared.ErrSchemaValidation)

	r = validResult()
	r.ProfileUpdates.NarrativeChanges = strPtr("   ")

	_, err = Extract(r)
	assert.ErrorIs(t, err, shared.ErrSchemaValidation)

	// Without a new version, a missing narrative is fine.
	r = validResult()
	r.ShouldCreateNewProfileVersion = false
	r.ProfileUpdates.NarrativeChanges = nil

	d, err := Extract(r)
	require.NoError(t, err)
	assert.Nil(t, d.ProfileVersion)
}

func TestExtract_MemoryLimits(t *testing.T) {
	r := validResult()
	r.MemoryUpdates["personal_fact"][""] = "anonymous"

	_, err := Extract(r)
	assert.ErrorIs(t, err, shared.ErrSchemaValidation)

	r = validResult()
	r.MemoryUpdates["personal_fact"][strings.Repeat("k", 129)] = "too long"

	_, err = Extract(r)
	assert.ErrorIs(t, err, shared.ErrSchemaValidation)

	r = validResult()
	r.MemoryUpdates["personal_fact"]["story"] = strings.Repeat("x", 5000)

	_, err = Extract(r)
	assert.ErrorIs(t, err, shared.ErrSchemaValidation)
}

func TestExtract_ScopesRoundTrip(t *testing.T) {
	r := validResult()
	r.MemoryUpdates = map[string]map[string]string{}
	for _, scope := range student.AllMemoryScopes() {
		r.MemoryUpdates[string(scope)] = map[string]string{"k": "v"}
	}

	d, err := Extract(r)
	require.NoError(t, err)
	assert.Len(t, d.MemoryUpdates, len(student.AllMemoryScopes()))
}

func TestDelta_IsEmpty(t *testing.T) {
	d := &Delta{TraitUpdates: map[string]string{}}
	assert.True(t, d.IsEmpty())

	d.KCPatches = []KCPatch{{GoalCode: "A", KCCode: "A.1", MasteryPercentage: 10}}
	assert.False(t, d.IsEmpty())
}
