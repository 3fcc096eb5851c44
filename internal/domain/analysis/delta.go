package analysis

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/voicetutor/voice-tutor-hub/internal/domain/shared"
	"github.com/voicetutor/voice-tutor-hub/internal/domain/student"
)

// ══════════════════════════════════════════════════════════════════════════════
// VALIDATED DELTA
// ══════════════════════════════════════════════════════════════════════════════

// Delta is the fully validated set of updates extracted from one analysis
// run. Only a Delta may reach the atomic applier; raw Results never do.
type Delta struct {
	// ProfileVersion is non-nil when a new profile version should be created.
	ProfileVersion *ProfileChange `json:"profile_version,omitempty"`

	// TraitUpdates are always present (possibly empty); they feed both the
	// new profile version and the placeholder-name overwrite rule.
	TraitUpdates map[string]string `json:"trait_updates"`

	// MemoryUpdates are scoped key/value facts to upsert.
	MemoryUpdates []MemoryUpdate `json:"memory_updates"`

	// GoalPatches and KCPatches carry bounded mastery percentages.
	GoalPatches []GoalPatch `json:"goal_patches"`
	KCPatches   []KCPatch   `json:"kc_patches"`

	Confidence float64 `json:"confidence"`
}

// ProfileChange is a validated request for a new profile version.
type ProfileChange struct {
	Narrative string            `json:"narrative"`
	Traits    map[string]string `json:"traits"`
}

// MemoryUpdate is one validated scoped memory write.
type MemoryUpdate struct {
	Scope student.MemoryScope `json:"scope"`
	Key   string              `json:"key"`
	Value string              `json:"value"`
}

// IsEmpty reports whether the delta carries no changes at all.
func (d *Delta) IsEmpty() bool {
	return d.ProfileVersion == nil &&
		len(d.MemoryUpdates) == 0 &&
		len(d.GoalPatches) == 0 &&
		len(d.KCPatches) == 0
}

// ══════════════════════════════════════════════════════════════════════════════
// EXTRACTION & VALIDATION
// ══════════════════════════════════════════════════════════════════════════════

// codePattern matches plausible goal/KC codes: dot-separated upper-case
// alphanumeric segments, e.g. "MATH.G4.NBT.1".
var codePattern = regexp.MustCompile(`^[A-Z0-9]+(\.[A-Z0-9]+)*$`)

const (
	maxCodeLength     = 64
	maxMemoryKeyLen   = 128
	maxMemoryValueLen = 4096
)

// Extract validates a parsed Result and produces a typed Delta. Any
// structural violation yields shared.ErrSchemaValidation; the caller logs the
// raw payload and routes the session to human review instead of guessing.
func Extract(r *Result) (*Delta, error) {
	if r == nil {
		return nil, schemaErr("nil result")
	}

	if r.ConfidenceScore < 0 || r.ConfidenceScore > 1 {
		return nil, schemaErr(fmt.Sprintf("confidence_score %v outside [0,1]", r.ConfidenceScore))
	}

	d := &Delta{
		TraitUpdates: map[string]string{},
		Confidence:   r.ConfidenceScore,
	}

	// Profile updates.
	for k, v := range r.ProfileUpdates.TraitUpdates {
		if strings.TrimSpace(k) == "" {
			return nil, schemaErr("trait_updates contains an empty key")
		}
		d.TraitUpdates[k] = v
	}

	if r.ShouldCreateNewProfileVersion {
		if r.ProfileUpdates.NarrativeChanges == nil || strings.TrimSpace(*r.ProfileUpdates.NarrativeChanges) == "" {
			return nil, schemaErr("should_create_new_profile_version is true but narrative_changes is null or empty")
		}
		if r.ProfileUpdates.TraitUpdates == nil {
			return nil, schemaErr("should_create_new_profile_version is true but trait_updates is null")
		}
		d.ProfileVersion = &ProfileChange{
			Narrative: *r.ProfileUpdates.NarrativeChanges,
			Traits:    d.TraitUpdates,
		}
	}

	// Memory updates.
	for scopeName, entries := range r.MemoryUpdates {
		scope := student.MemoryScope(scopeName)
		if !scope.IsValid() {
			return nil, schemaErr("unknown memory scope " + scopeName)
		}
		for key, value := range entries {
			if strings.TrimSpace(key) == "" {
				return nil, schemaErr("empty memory key in scope " + scopeName)
			}
			if len(key) > maxMemoryKeyLen {
				return nil, schemaErr("memory key too long in scope " + scopeName)
			}
			if len(value) > maxMemoryValueLen {
				return nil, schemaErr("memory value too long for key " + key)
			}
			d.MemoryUpdates = append(d.MemoryUpdates, MemoryUpdate{Scope: scope, Key: key, Value: value})
		}
	}

	// Mastery patches.
	for i, p := range r.MasteryUpdates.GoalPatches {
		if err := validateCode("goal_patches", i, p.GoalCode); err != nil {
			return nil, err
		}
		if err := validateMastery("goal_patches", i, p.MasteryPercentage); err != nil {
			return nil, err
		}
		d.GoalPatches = append(d.GoalPatches, p)
	}
	for i, p := range r.MasteryUpdates.KCPatches {
		if err := validateCode("kc_patches", i, p.GoalCode); err != nil {
			return nil, err
		}
		if err := validateCode("kc_patches", i, p.KCCode); err != nil {
			return nil, err
		}
		if err := validateMastery("kc_patches", i, p.MasteryPercentage); err != nil {
			return nil, err
		}
		d.KCPatches = append(d.KCPatches, p)
	}

	return d, nil
}

func validateCode(field string, index int, code string) error {
	if code == "" {
		return schemaErr(fmt.Sprintf("%s[%d]: empty code", field, index))
	}
	if len(code) > maxCodeLength {
		return schemaErr(fmt.Sprintf("%s[%d]: code %q too long", field, index, code))
	}
	if !codePattern.MatchString(code) {
		return schemaErr(fmt.Sprintf("%s[%d]: code %q has implausible format", field, index, code))
	}
	return nil
}

func validateMastery(field string, index int, pct float64) error {
	if pct < 0 || pct > 100 {
		return schemaErr(fmt.Sprintf("%s[%d]: mastery_percentage %v outside [0,100]", field, index, pct))
	}
	return nil
}

func schemaErr(detail string) error {
	return shared.WrapError("analysis", "Extract", shared.ErrInvalidFormat, detail, shared.ErrSchemaValidation)
}
