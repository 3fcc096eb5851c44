package ai

import (
	"fmt"
	"sort"
	"strings"

	"github.com/voicetutor/voice-tutor-hub/internal/domain/student"
)

// ══════════════════════════════════════════════════════════════════════════════
// PROMPT ASSEMBLY
// ══════════════════════════════════════════════════════════════════════════════

// PromptKind identifies which analysis template a call gets.
type PromptKind string

const (
	// PromptIntroductory is used for first-contact callers: the analysis
	// focuses on learning who the student is.
	PromptIntroductory PromptKind = "introductory"

	// PromptTutoring is used for known callers: the analysis updates an
	// existing profile and mastery state.
	PromptTutoring PromptKind = "tutoring"
)

// Prompt is a fully assembled provider prompt.
type Prompt struct {
	Kind   PromptKind
	System string
	User   string
}

// PromptInput carries everything prompt assembly needs for one call.
type PromptInput struct {
	Classification student.Classification
	DisplayName    string
	GradeLevel     int

	Transcript string

	// Profile and Memories are nil/empty for first-contact callers.
	Profile  *student.Profile
	Memories []*student.Memory

	// MaxTranscriptChars truncates oversized transcripts (0 = no limit).
	MaxTranscriptChars int
}

// BuildPrompt selects the template for the caller classification and fills it
// with student context. Unknown classification falls back to the tutoring
// template, which tolerates missing context.
func BuildPrompt(in PromptInput) Prompt {
	transcript := in.Transcript
	if in.MaxTranscriptChars > 0 && len(transcript) > in.MaxTranscriptChars {
		transcript = transcript[:in.MaxTranscriptChars] + "\n[transcript truncated]"
	}

	if in.Classification == student.ClassificationNew {
		return Prompt{
			Kind:   PromptIntroductory,
			System: introductorySystemPrompt,
			User:   buildIntroductoryUser(in, transcript),
		}
	}

	return Prompt{
		Kind:   PromptTutoring,
		System: tutoringSystemPrompt,
		User:   buildTutoringUser(in, transcript),
	}
}

// responseSchema describes the exact JSON document every template demands.
// It mirrors the parser's expected shape; drift between the two is a bug.
const responseSchema = `Respond with a single JSON object and nothing else, matching exactly:
{
  "profile_updates": {
    "narrative_changes": "<full replacement narrative, or null if unchanged>",
    "trait_updates": {"<trait>": "<value>"}
  },
  "memory_updates": {
    "personal_fact": {"<key>": "<value>"},
    "game_state": {"<key>": "<value>"},
    "strategy_log": {"<key>": "<value>"}
  },
  "mastery_updates": {
    "goal_patches": [{"goal_code": "...", "mastery_percentage": 0, "evidence": "..."}],
    "kc_patches": [{"goal_code": "...", "kc_code": "...", "mastery_percentage": 0, "evidence": "..."}]
  },
  "should_create_new_profile_version": false,
  "confidence_score": 0.0
}
Rules:
- mastery_percentage is a number in [0, 100]. confidence_score is in [0, 1].
- Only reference goal/KC codes that appear verbatim in the transcript context.
- If should_create_new_profile_version is true, narrative_changes must be a
  complete non-empty narrative.
- Omit nothing; use empty objects/arrays where there is nothing to report.`

const introductorySystemPrompt = `You analyze the transcript of a first phone tutoring call with a new student.
Your goals, in order:
1. Learn who the student is: their name (trait key "name"), age or grade, interests, and anything that helps future calls feel personal.
2. Record personal facts as memory_updates under "personal_fact".
3. Propose an initial profile narrative describing the student, and set should_create_new_profile_version to true if you learned enough for one.
Do not invent facts that are not supported by the transcript.

` + responseSchema

const tutoringSystemPrompt = `You analyze the transcript of a phone tutoring call with a known student.
Your goals, in order:
1. Update mastery estimates for any curriculum goals or knowledge components the student demonstrably worked on, with transcript evidence.
2. Record new or changed facts: personal facts, game progress under "game_state", and tutoring strategy observations under "strategy_log".
3. Revise the profile narrative only when the call materially changes the picture of the student; then set should_create_new_profile_version to true.
Do not invent facts that are not supported by the transcript.

` + responseSchema

func buildIntroductoryUser(in PromptInput, transcript string) string {
	var b strings.Builder

	b.WriteString("This is the student's first call; nothing is known about them yet.\n")
	if in.DisplayName != "" {
		fmt.Fprintf(&b, "Provisional record name: %s\n", in.DisplayName)
	}
	b.WriteString("\nTranscript:\n")
	b.WriteString(transcript)

	return b.String()
}

func buildTutoringUser(in PromptInput, transcript string) string {
	var b strings.Builder

	b.WriteString("Student context:\n")
	fmt.Fprintf(&b, "- Name: %s\n", valueOr(in.DisplayName, "unknown"))
	if in.GradeLevel > 0 {
		fmt.Fprintf(&b, "- Grade level: %d\n", in.GradeLevel)
	}

	if in.Profile != nil {
		b.WriteString("\nCurrent profile narrative:\n")
		b.WriteString(in.Profile.Narrative)
		b.WriteString("\n")
		writeTraits(&b, in.Profile.Traits)
	} else {
		b.WriteString("\nNo profile narrative exists yet.\n")
	}

	writeMemories(&b, in.Memories)

	b.WriteString("\nTranscript:\n")
	b.WriteString(transcript)

	return b.String()
}

func writeTraits(b *strings.Builder, traits map[string]string) {
	if len(traits) == 0 {
		return
	}

	keys := make([]string, 0, len(traits))
	for k := range traits {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	b.WriteString("Traits:\n")
	for _, k := range keys {
		fmt.Fprintf(b, "- %s: %s\n", k, traits[k])
	}
}

func writeMemories(b *strings.Builder, memories []*student.Memory) {
	if len(memories) == 0 {
		return
	}

	byScope := map[student.MemoryScope][]*student.Memory{}
	for _, m := range memories {
		byScope[m.Scope] = append(byScope[m.Scope], m)
	}

	b.WriteString("\nKnown facts:\n")
	for _, scope := range student.AllMemoryScopes() {
		scoped := byScope[scope]
		if len(scoped) == 0 {
			continue
		}
		sort.Slice(scoped, func(i, j int) bool { return scoped[i].Key < scoped[j].Key })

		fmt.Fprintf(b, "[%s]\n", scope)
		for _, m := range scoped {
			fmt.Fprintf(b, "- %s: %s\n", m.Key, m.Value)
		}
	}
}

func valueOr(s, fallback string) string {
	if strings.TrimSpace(s) == "" {
		return fallback
	}
	return s
}
