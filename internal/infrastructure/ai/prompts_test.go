package ai

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/voicetutor/voice-tutor-hub/internal/domain/student"
)

func TestBuildPrompt_SelectsTemplate(t *testing.T) {
	intro := BuildPrompt(PromptInput{
		Classification: student.ClassificationNew,
		DisplayName:    "Student 4567",
		Transcript:     "hello",
	})
	assert.Equal(t, PromptIntroductory, intro.Kind)
	assert.Contains(t, intro.User, "first call")
	assert.Contains(t, intro.User, "Student 4567")

	tutoring := BuildPrompt(PromptInput{
		Classification: student.ClassificationKnown,
		DisplayName:    "Aruzhan",
		GradeLevel:     4,
		Transcript:     "hello again",
	})
	assert.Equal(t, PromptTutoring, tutoring.Kind)
	assert.Contains(t, tutoring.User, "Aruzhan")
	assert.Contains(t, tutoring.User, "Grade level: 4")

	// Unknown classification falls back to tutoring, which tolerates
	// missing context.
	unknown := BuildPrompt(PromptInput{
		Classification: student.ClassificationUnknown,
		Transcript:     "hello",
	})
	assert.Equal(t, PromptTutoring, unknown.Kind)
	assert.Contains(t, unknown.User, "unknown")
}

func TestBuildPrompt_SchemaInEverySystemPrompt(t *testing.T) {
	for _, classification := range []student.Classification{
		student.ClassificationNew,
		student.ClassificationKnown,
	} {
		p := BuildPrompt(PromptInput{Classification: classification, Transcript: "x"})

		for _, field := range []string{
			"profile_updates", "memory_updates", "mastery_updates",
			"should_create_new_profile_version", "confidence_score",
			"goal_patches", "kc_patches",
		} {
			assert.Contains(t, p.System, field, "%s prompt must describe %q", p.Kind, field)
		}
	}
}

func TestBuildPrompt_TruncatesTranscript(t *testing.T) {
	long := strings.Repeat("a", 1000)

	p := BuildPrompt(PromptInput{
		Classification:     student.ClassificationKnown,
		Transcript:         long,
		MaxTranscriptChars: 100,
	})
	assert.Contains(t, p.User, "[transcript truncated]")
	assert.NotContains(t, p.User, strings.Repeat("a", 101))

	// No limit keeps the transcript whole.
	p = BuildPrompt(PromptInput{
		Classification: student.ClassificationKnown,
		Transcript:     long,
	})
	assert.Contains(t, p.User, long)
}

func TestBuildPrompt_IncludesContext(t *testing.T) {
	p := BuildPrompt(PromptInput{
		Classification: student.ClassificationKnown,
		DisplayName:    "Miras",
		Transcript:     "transcript here",
		Profile: &student.Profile{
			Narrative: "Loves space and dinosaurs.",
			Traits:    map[string]string{"name": "Miras", "age": "9"},
		},
		Memories: []*student.Memory{
			{Scope: student.ScopeGameState, Key: "space_quest_level", Value: "4"},
			{Scope: student.ScopePersonalFact, Key: "pet", Value: "cat"},
		},
	})

	assert.Contains(t, p.User, "Loves space and dinosaurs.")
	assert.Contains(t, p.User, "age: 9")
	assert.Contains(t, p.User, "[personal_fact]")
	assert.Contains(t, p.User, "space_quest_level: 4")

	// Scopes are grouped in stable order: personal facts before game state.
	assert.Less(t,
		strings.Index(p.User, "[personal_fact]"),
		strings.Index(p.User, "[game_state]"),
	)
}
