// Package postgres implements the PostgreSQL persistence layer for Voice Tutor Hub.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/voicetutor/voice-tutor-hub/internal/domain/shared"
	"github.com/voicetutor/voice-tutor-hub/internal/domain/student"

	"github.com/jackc/pgx/v5"
)

// ══════════════════════════════════════════════════════════════════════════════
// STUDENT REPOSITORY IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

// StudentRepository implements student.Repository for PostgreSQL.
type StudentRepository struct {
	conn *Connection
}

// NewStudentRepository creates a new StudentRepository.
func NewStudentRepository(conn *Connection) *StudentRepository {
	return &StudentRepository{conn: conn}
}

// ─────────────────────────────────────────────────────────────────────────────
// CRUD Operations
// ─────────────────────────────────────────────────────────────────────────────

// Create creates a new student.
func (r *StudentRepository) Create(ctx context.Context, s *student.Student) error {
	query := `
		INSERT INTO students (id, display_name, grade_level, phone_number, created_via, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err := r.conn.Exec(ctx, query,
		s.ID,
		s.DisplayName,
		s.GradeLevel,
		s.PhoneNumber,
		string(s.CreatedVia),
		s.CreatedAt,
		s.UpdatedAt,
	)
	if err != nil {
		if IsUniqueViolation(err) {
			return shared.ErrStudentAlreadyExists
		}
		return fmt.Errorf("failed to create student: %w", err)
	}

	return nil
}

// GetByID returns a student by internal ID.
func (r *StudentRepository) GetByID(ctx context.Context, id string) (*student.Student, error) {
	query := `
		SELECT id, display_name, grade_level, phone_number, created_via, created_at, updated_at
		FROM students
		WHERE id = $1
	`

	row := r.conn.QueryRow(ctx, query, id)
	return scanStudent(row)
}

// GetByPhone returns the student mapped to a normalized phone number.
func (r *StudentRepository) GetByPhone(ctx context.Context, normalizedPhone string) (*student.Student, error) {
	query := `
		SELECT s.id, s.display_name, s.grade_level, s.phone_number, s.created_via, s.created_at, s.updated_at
		FROM students s
		JOIN phone_mappings pm ON pm.student_id = s.id
		WHERE pm.normalized_phone = $1
	`

	row := r.conn.QueryRow(ctx, query, normalizedPhone)
	return scanStudent(row)
}

// Resolve looks up the student for a normalized phone number, auto-provisioning
// a new student plus the phone mapping when no mapping exists. Concurrent
// first-contact calls race on the phone_mappings primary key: the loser's
// insert fails with a unique violation and the loser re-reads the winner's row,
// so both calls resolve to the same student.
func (r *StudentRepository) Resolve(ctx context.Context, normalizedPhone, placeholderPrefix string) (*student.Resolution, error) {
	// Fast path: mapping already exists.
	existing, err := r.GetByPhone(ctx, normalizedPhone)
	if err == nil {
		return &student.Resolution{Student: existing, Created: false}, nil
	}
	if !shared.IsNotFound(err) {
		return nil, err
	}

	// Provision a student and its mapping in one transaction.
	candidate := student.NewAutoProvisioned(normalizedPhone, placeholderPrefix)

	txErr := r.conn.WithTx(ctx, DefaultTxOptions(), func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO students (id, display_name, grade_level, phone_number, created_via, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`,
			candidate.ID,
			candidate.DisplayName,
			candidate.GradeLevel,
			candidate.PhoneNumber,
			string(candidate.CreatedVia),
			candidate.CreatedAt,
			candidate.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to insert student: %w", err)
		}

		_, err = tx.Exec(ctx, `
			INSERT INTO phone_mappings (normalized_phone, student_id, created_at)
			VALUES ($1, $2, $3)
		`, normalizedPhone, candidate.ID, candidate.CreatedAt)
		if err != nil {
			return fmt.Errorf("failed to insert phone mapping: %w", err)
		}

		return nil
	})

	if txErr == nil {
		return &student.Resolution{Student: candidate, Created: true}, nil
	}

	if IsUniqueViolation(txErr) {
		// Lost the race: another call mapped this number first. Re-read.
		winner, err := r.GetByPhone(ctx, normalizedPhone)
		if err != nil {
			if shared.IsNotFound(err) {
				// Constraint fired but no row is visible; unresolvable here.
				return nil, shared.ErrIdentityAmbiguous
			}
			return nil, err
		}
		return &student.Resolution{Student: winner, Created: false}, nil
	}

	return nil, txErr
}

// UpdateDisplayName overwrites the display name.
func (r *StudentRepository) UpdateDisplayName(ctx context.Context, id, displayName string) error {
	query := `
		UPDATE students
		SET display_name = $1, updated_at = $2
		WHERE id = $3
	`

	result, err := r.conn.Exec(ctx, query, displayName, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to update display name: %w", err)
	}

	if result.RowsAffected() == 0 {
		return shared.ErrStudentNotFound
	}

	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// PROFILE REPOSITORY IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

// ProfileRepository implements student.ProfileRepository for PostgreSQL.
type ProfileRepository struct {
	conn *Connection
}

// NewProfileRepository creates a new ProfileRepository.
func NewProfileRepository(conn *Connection) *ProfileRepository {
	return &ProfileRepository{conn: conn}
}

// CurrentProfile returns the latest profile version for a student.
func (r *ProfileRepository) CurrentProfile(ctx context.Context, studentID string) (*student.Profile, error) {
	query := `
		SELECT id, student_id, narrative, traits, created_at
		FROM student_profiles
		WHERE student_id = $1
		ORDER BY created_at DESC
		LIMIT 1
	`

	row := r.conn.QueryRow(ctx, query, studentID)
	return scanProfile(row)
}

// ProfileHistory returns profile versions, newest first.
func (r *ProfileRepository) ProfileHistory(ctx context.Context, studentID string, limit int) ([]*student.Profile, error) {
	query := `
		SELECT id, student_id, narrative, traits, created_at
		FROM student_profiles
		WHERE student_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`

	rows, err := r.conn.Query(ctx, query, studentID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query profile history: %w", err)
	}
	defer rows.Close()

	var profiles []*student.Profile
	for rows.Next() {
		p, err := scanProfileFromRows(rows)
		if err != nil {
			return nil, err
		}
		profiles = append(profiles, p)
	}

	return profiles, rows.Err()
}

// Memories returns all non-expired memories for a student, optionally filtered
// by scope (empty scope = all scopes). Expired rows are filtered at read time;
// physical removal is the purge job's business.
func (r *ProfileRepository) Memories(ctx context.Context, studentID string, scope student.MemoryScope) ([]*student.Memory, error) {
	query := `
		SELECT student_id, scope, key, value, expires_at, updated_at
		FROM student_memories
		WHERE student_id = $1
		  AND (expires_at IS NULL OR expires_at > NOW())
	`
	args := []interface{}{studentID}

	if scope != "" {
		query += " AND scope = $2"
		args = append(args, string(scope))
	}

	query += " ORDER BY scope, key"

	rows, err := r.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query memories: %w", err)
	}
	defer rows.Close()

	var memories []*student.Memory
	for rows.Next() {
		var m student.Memory
		var scopeStr string

		err := rows.Scan(&m.StudentID, &scopeStr, &m.Key, &m.Value, &m.ExpiresAt, &m.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan memory: %w", err)
		}

		m.Scope = student.MemoryScope(scopeStr)
		memories = append(memories, &m)
	}

	return memories, rows.Err()
}

// PurgeExpiredMemories deletes memories past their expiry.
func (r *ProfileRepository) PurgeExpiredMemories(ctx context.Context, before time.Time) (int64, error) {
	result, err := r.conn.Exec(ctx, `
		DELETE FROM student_memories
		WHERE expires_at IS NOT NULL AND expires_at <= $1
	`, before)
	if err != nil {
		return 0, fmt.Errorf("failed to purge expired memories: %w", err)
	}

	return result.RowsAffected(), nil
}

// ══════════════════════════════════════════════════════════════════════════════
// HELPER METHODS
// ══════════════════════════════════════════════════════════════════════════════

// scanStudent scans a single student from a row.
func scanStudent(row pgx.Row) (*student.Student, error) {
	var s student.Student
	var createdVia string

	err := row.Scan(
		&s.ID,
		&s.DisplayName,
		&s.GradeLevel,
		&s.PhoneNumber,
		&createdVia,
		&s.CreatedAt,
		&s.UpdatedAt,
	)

	if IsNoRows(err) {
		return nil, shared.ErrStudentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan student: %w", err)
	}

	s.CreatedVia = student.CreationSource(createdVia)
	return &s, nil
}

// scanProfile scans a single profile from a row.
func scanProfile(row pgx.Row) (*student.Profile, error) {
	var p student.Profile
	var traitsJSON []byte

	err := row.Scan(&p.ID, &p.StudentID, &p.Narrative, &traitsJSON, &p.CreatedAt)

	if IsNoRows(err) {
		return nil, shared.NewDomainError("student", "CurrentProfile", shared.ErrNotFound, "no profile version exists yet")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan profile: %w", err)
	}

	p.Traits = unmarshalTraits(traitsJSON)
	return &p, nil
}

// scanProfileFromRows scans a profile from rows.
func scanProfileFromRows(rows pgx.Rows) (*student.Profile, error) {
	var p student.Profile
	var traitsJSON []byte

	err := rows.Scan(&p.ID, &p.StudentID, &p.Narrative, &traitsJSON, &p.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to scan profile: %w", err)
	}

	p.Traits = unmarshalTraits(traitsJSON)
	return &p, nil
}

// unmarshalTraits converts JSON bytes to a trait map.
func unmarshalTraits(data []byte) map[string]string {
	traits := map[string]string{}
	if len(data) == 0 {
		return traits
	}
	if err := json.Unmarshal(data, &traits); err != nil {
		return map[string]string{}
	}
	return traits
}
