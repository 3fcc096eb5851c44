package query

import (
	"context"
	"encoding/json"
	"time"

	"github.com/voicetutor/voice-tutor-hub/internal/domain/curriculum"
	"github.com/voicetutor/voice-tutor-hub/internal/domain/shared"
	"github.com/voicetutor/voice-tutor-hub/internal/domain/student"
	"github.com/voicetutor/voice-tutor-hub/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// STUDENT QUERIES
// ══════════════════════════════════════════════════════════════════════════════

// StudentView is the operator-facing shape of a student with current context.
type StudentView struct {
	ID          string    `json:"id"`
	DisplayName string    `json:"display_name"`
	GradeLevel  int       `json:"grade_level,omitempty"`
	CreatedVia  string    `json:"created_via"`
	CreatedAt   time.Time `json:"created_at"`

	Profile  *ProfileView  `json:"profile,omitempty"`
	Memories []*MemoryView `json:"memories,omitempty"`
}

// ProfileView is one profile version.
type ProfileView struct {
	ID        string            `json:"id"`
	Narrative string            `json:"narrative"`
	Traits    map[string]string `json:"traits"`
	CreatedAt time.Time         `json:"created_at"`
}

// MemoryView is one scoped memory.
type MemoryView struct {
	Scope     string     `json:"scope"`
	Key       string     `json:"key"`
	Value     string     `json:"value"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// ProgressView is a student's mastery state across the curriculum.
type ProgressView struct {
	Goals []*curriculum.GoalProgress `json:"goals"`
	KCs   []*curriculum.KCProgress   `json:"kcs"`
}

// StudentQueryService serves operator student queries.
type StudentQueryService struct {
	students   student.Repository
	profiles   student.ProfileRepository
	curriculum curriculum.Repository
	logger     *logger.Logger
}

// NewStudentQueryService creates a StudentQueryService.
func NewStudentQueryService(
	students student.Repository,
	profiles student.ProfileRepository,
	curr curriculum.Repository,
	log *logger.Logger,
) *StudentQueryService {
	if log == nil {
		log = logger.Default()
	}
	return &StudentQueryService{
		students:   students,
		profiles:   profiles,
		curriculum: curr,
		logger:     log.With(logger.Component("student-query")),
	}
}

// Get returns a student with their current profile version and live memories.
func (s *StudentQueryService) Get(ctx context.Context, id string) (*StudentView, error) {
	stu, err := s.students.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	view := &StudentView{
		ID:          stu.ID,
		DisplayName: stu.DisplayName,
		GradeLevel:  stu.GradeLevel,
		CreatedVia:  string(stu.CreatedVia),
		CreatedAt:   stu.CreatedAt,
	}

	profile, err := s.profiles.CurrentProfile(ctx, id)
	switch {
	case err == nil:
		view.Profile = toProfileView(profile)
	case !shared.IsNotFound(err):
		return nil, err
	}

	memories, err := s.profiles.Memories(ctx, id, "")
	if err != nil {
		return nil, err
	}
	for _, m := range memories {
		view.Memories = append(view.Memories, &MemoryView{
			Scope:     string(m.Scope),
			Key:       m.Key,
			Value:     m.Value,
			ExpiresAt: m.ExpiresAt,
			UpdatedAt: m.UpdatedAt,
		})
	}

	return view, nil
}

// ProfileHistory returns the student's profile versions, newest first.
func (s *StudentQueryService) ProfileHistory(ctx context.Context, id string, limit int) ([]*ProfileView, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}

	history, err := s.profiles.ProfileHistory(ctx, id, limit)
	if err != nil {
		return nil, err
	}

	views := make([]*ProfileView, len(history))
	for i, p := range history {
		views[i] = toProfileView(p)
	}
	return views, nil
}

// Progress returns the student's mastery state across goals and knowledge
// components.
func (s *StudentQueryService) Progress(ctx context.Context, id string) (*ProgressView, error) {
	goals, err := s.curriculum.GoalProgressForStudent(ctx, id)
	if err != nil {
		return nil, err
	}

	kcs, err := s.curriculum.KCProgressForStudent(ctx, id)
	if err != nil {
		return nil, err
	}

	return &ProgressView{Goals: goals, KCs: kcs}, nil
}

func toProfileView(p *student.Profile) *ProfileView {
	return &ProfileView{
		ID:        p.ID,
		Narrative: p.Narrative,
		Traits:    p.Traits,
		CreatedAt: p.CreatedAt,
	}
}

// jsonRaw re-types stored JSON so encoders emit it inline.
func jsonRaw(b []byte) json.RawMessage {
	return json.RawMessage(b)
}
