// Package analysis defines the wire shape of AI analysis responses and the
// validated delta extracted from them. The AI response is treated as an
// untrusted payload: it is parsed into a strict typed structure and validated
// before any field reaches persistence.
package analysis

import (
	"encoding/json"

	"github.com/voicetutor/voice-tutor-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// WIRE SHAPE
// ══════════════════════════════════════════════════════════════════════════════

// Result is the expected top-level shape of a provider's JSON response.
type Result struct {
	ProfileUpdates ProfileUpdates               `json:"profile_updates"`
	MemoryUpdates  map[string]map[string]string `json:"memory_updates"`
	MasteryUpdates MasteryUpdates               `json:"mastery_updates"`

	ShouldCreateNewProfileVersion bool    `json:"should_create_new_profile_version"`
	ConfidenceScore               float64 `json:"confidence_score"`
}

// ProfileUpdates carries proposed profile changes.
type ProfileUpdates struct {
	NarrativeChanges *string           `json:"narrative_changes"`
	TraitUpdates     map[string]string `json:"trait_updates"`
}

// MasteryUpdates carries proposed mastery patches.
type MasteryUpdates struct {
	GoalPatches []GoalPatch `json:"goal_patches"`
	KCPatches   []KCPatch   `json:"kc_patches"`
}

// GoalPatch proposes a new mastery percentage for one goal, with evidence
// from the analyzed transcript.
type GoalPatch struct {
	GoalCode          string  `json:"goal_code"`
	MasteryPercentage float64 `json:"mastery_percentage"`
	Evidence          string  `json:"evidence"`
}

// KCPatch proposes a new mastery percentage for one knowledge component.
type KCPatch struct {
	GoalCode          string  `json:"goal_code"`
	KCCode            string  `json:"kc_code"`
	MasteryPercentage float64 `json:"mastery_percentage"`
	Evidence          string  `json:"evidence"`
}

// ParseResult checks that raw is well-formed JSON matching the expected
// top-level shape. The provider manager uses this to decide whether to accept
// a provider's response or advance to the next fallback. Deeper semantic
// validation happens in Extract.
func ParseResult(raw []byte) (*Result, error) {
	if len(raw) == 0 {
		return nil, shared.NewDomainError("analysis", "Parse", shared.ErrInvalidFormat, "empty provider response")
	}

	var r Result
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, shared.WrapError("analysis", "Parse", shared.ErrInvalidFormat, "provider response does not match expected shape", err)
	}
	return &r, nil
}
