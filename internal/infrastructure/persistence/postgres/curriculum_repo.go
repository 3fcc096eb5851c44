// Package postgres implements the PostgreSQL persistence layer for Voice Tutor Hub.
package postgres

import (
	"context"
	"fmt"

	"github.com/voicetutor/voice-tutor-hub/internal/domain/curriculum"
	"github.com/voicetutor/voice-tutor-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// CURRICULUM REPOSITORY IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

// CurriculumRepository implements curriculum.Repository for PostgreSQL.
// The catalog tables are read-only here; mastery writes happen only inside
// the delta applier's transaction.
type CurriculumRepository struct {
	conn *Connection
}

// NewCurriculumRepository creates a new CurriculumRepository.
func NewCurriculumRepository(conn *Connection) *CurriculumRepository {
	return &CurriculumRepository{conn: conn}
}

// GetGoalByCode returns a goal by its stable code.
func (r *CurriculumRepository) GetGoalByCode(ctx context.Context, code string) (*curriculum.Goal, error) {
	query := `
		SELECT id, code, subject, grade_level, text
		FROM curriculum_goals
		WHERE code = $1
	`

	var g curriculum.Goal
	err := r.conn.QueryRow(ctx, query, code).Scan(&g.ID, &g.Code, &g.Subject, &g.GradeLevel, &g.Text)

	if IsNoRows(err) {
		return nil, shared.ErrGoalNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get goal by code: %w", err)
	}

	return &g, nil
}

// GetKCByCode returns a knowledge component by goal code + KC code.
func (r *CurriculumRepository) GetKCByCode(ctx context.Context, goalCode, kcCode string) (*curriculum.KnowledgeComponent, error) {
	query := `
		SELECT kc.id, kc.goal_id, kc.code, kc.text
		FROM goal_knowledge_components kc
		JOIN curriculum_goals g ON g.id = kc.goal_id
		WHERE g.code = $1 AND kc.code = $2
	`

	var kc curriculum.KnowledgeComponent
	err := r.conn.QueryRow(ctx, query, goalCode, kcCode).Scan(&kc.ID, &kc.GoalID, &kc.Code, &kc.Text)

	if IsNoRows(err) {
		return nil, shared.ErrKCNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get knowledge component by code: %w", err)
	}

	return &kc, nil
}

// GoalProgressForStudent returns all goal mastery rows for a student.
func (r *CurriculumRepository) GoalProgressForStudent(ctx context.Context, studentID string) ([]*curriculum.GoalProgress, error) {
	query := `
		SELECT student_id, goal_id, mastery, evidence, last_updated
		FROM student_goal_progress
		WHERE student_id = $1
		ORDER BY last_updated DESC
	`

	rows, err := r.conn.Query(ctx, query, studentID)
	if err != nil {
		return nil, fmt.Errorf("failed to query goal progress: %w", err)
	}
	defer rows.Close()

	var progress []*curriculum.GoalProgress
	for rows.Next() {
		var p curriculum.GoalProgress
		if err := rows.Scan(&p.StudentID, &p.GoalID, &p.Mastery, &p.Evidence, &p.LastUpdated); err != nil {
			return nil, fmt.Errorf("failed to scan goal progress: %w", err)
		}
		progress = append(progress, &p)
	}

	return progress, rows.Err()
}

// KCProgressForStudent returns all KC mastery rows for a student.
func (r *CurriculumRepository) KCProgressForStudent(ctx context.Context, studentID string) ([]*curriculum.KCProgress, error) {
	query := `
		SELECT student_id, kc_id, mastery, evidence, last_updated
		FROM student_kc_progress
		WHERE student_id = $1
		ORDER BY last_updated DESC
	`

	rows, err := r.conn.Query(ctx, query, studentID)
	if err != nil {
		return nil, fmt.Errorf("failed to query kc progress: %w", err)
	}
	defer rows.Close()

	var progress []*curriculum.KCProgress
	for rows.Next() {
		var p curriculum.KCProgress
		if err := rows.Scan(&p.StudentID, &p.KCID, &p.Mastery, &p.Evidence, &p.LastUpdated); err != nil {
			return nil, fmt.Errorf("failed to scan kc progress: %w", err)
		}
		progress = append(progress, &p)
	}

	return progress, rows.Err()
}
