package curriculum

import "context"

// Repository is the read-only catalog boundary plus mastery reads. Mastery
// writes happen only inside the atomic delta applier's transaction.
type Repository interface {
	// GetGoalByCode returns a goal by its stable code, or
	// shared.ErrGoalNotFound.
	GetGoalByCode(ctx context.Context, code string) (*Goal, error)

	// GetKCByCode returns a knowledge component by goal code + KC code, or
	// shared.ErrKCNotFound.
	GetKCByCode(ctx context.Context, goalCode, kcCode string) (*KnowledgeComponent, error)

	// GoalProgressForStudent returns all goal mastery rows for a student.
	GoalProgressForStudent(ctx context.Context, studentID string) ([]*GoalProgress, error)

	// KCProgressForStudent returns all KC mastery rows for a student.
	KCProgressForStudent(ctx context.Context, studentID string) ([]*KCProgress, error)
}
