// Package postgres implements the PostgreSQL persistence layer for Voice Tutor Hub.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/voicetutor/voice-tutor-hub/internal/domain/analysis"
	"github.com/voicetutor/voice-tutor-hub/internal/domain/session"
	"github.com/voicetutor/voice-tutor-hub/internal/domain/shared"
	"github.com/voicetutor/voice-tutor-hub/internal/domain/student"

	"github.com/jackc/pgx/v5"
)

// ══════════════════════════════════════════════════════════════════════════════
// ATOMIC DELTA APPLIER
// ══════════════════════════════════════════════════════════════════════════════

// NameTraitKey is the trait key an analysis delta uses to assert the
// student's real name.
const NameTraitKey = "name"

// DeltaApplier applies a validated analysis delta in one transaction: profile
// version, memory upserts, mastery patches, the placeholder-name overwrite,
// and the session's applied flip all commit together or not at all.
//
// The status guard (analyzed → applied) runs as the first statement of the
// transaction, so a concurrent apply of the same session loses cleanly.
type DeltaApplier struct {
	conn              *Connection
	expiry            student.ExpiryPolicy
	placeholderPrefix string
}

// NewDeltaApplier creates a new DeltaApplier.
func NewDeltaApplier(conn *Connection, expiry student.ExpiryPolicy, placeholderPrefix string) *DeltaApplier {
	if expiry == nil {
		expiry = student.DefaultExpiryPolicy()
	}
	return &DeltaApplier{
		conn:              conn,
		expiry:            expiry,
		placeholderPrefix: placeholderPrefix,
	}
}

// ApplyReport summarizes what one apply changed, for logging and the
// operator surface.
type ApplyReport struct {
	ProfileVersionCreated bool     `json:"profile_version_created"`
	MemoriesUpserted      int      `json:"memories_upserted"`
	GoalsPatched          int      `json:"goals_patched"`
	KCsPatched            int      `json:"kcs_patched"`
	NameUpdated           bool     `json:"name_updated"`
	SkippedCodes          []string `json:"skipped_codes,omitempty"`
}

// Apply applies the delta for a session. The session must be in analyzed
// status; anything else returns shared.ErrSessionAlreadyProcessed without
// touching student state. Patches referencing unknown goal/KC codes are
// skipped and reported, never fatal: a single hallucinated code must not
// discard an otherwise valid delta.
func (a *DeltaApplier) Apply(ctx context.Context, sess *session.Session, stu *student.Student, delta *analysis.Delta) (*ApplyReport, error) {
	if delta == nil {
		return nil, shared.NewDomainError("session", "Apply", shared.ErrInvalidInput, "nil delta")
	}

	report := &ApplyReport{}
	now := time.Now().UTC()

	err := a.conn.WithTx(ctx, DefaultTxOptions(), func(tx pgx.Tx) error {
		// Status guard first: only one apply wins.
		tag, err := tx.Exec(ctx, `
			UPDATE sessions SET status = 'applied', updated_at = $1
			WHERE id = $2 AND status = 'analyzed'
		`, now, sess.ID)
		if err != nil {
			return fmt.Errorf("failed to flip session status: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return shared.ErrSessionAlreadyProcessed
		}

		if delta.ProfileVersion != nil {
			if err := a.insertProfileVersion(ctx, tx, stu.ID, delta.ProfileVersion, now); err != nil {
				return err
			}
			report.ProfileVersionCreated = true
		}

		for _, mu := range delta.MemoryUpdates {
			if err := a.upsertMemory(ctx, tx, stu.ID, mu, now); err != nil {
				return err
			}
			report.MemoriesUpserted++
		}

		for _, p := range delta.GoalPatches {
			applied, err := a.patchGoal(ctx, tx, stu.ID, p, now)
			if err != nil {
				return err
			}
			if applied {
				report.GoalsPatched++
			} else {
				report.SkippedCodes = append(report.SkippedCodes, p.GoalCode)
			}
		}

		for _, p := range delta.KCPatches {
			applied, err := a.patchKC(ctx, tx, stu.ID, p, now)
			if err != nil {
				return err
			}
			if applied {
				report.KCsPatched++
			} else {
				report.SkippedCodes = append(report.SkippedCodes, p.GoalCode+"/"+p.KCCode)
			}
		}

		updated, err := a.maybeOverwritePlaceholderName(ctx, tx, stu, delta, now)
		if err != nil {
			return err
		}
		report.NameUpdated = updated

		return nil
	})
	if err != nil {
		return nil, err
	}

	sess.Status = session.StatusApplied
	sess.UpdatedAt = now
	return report, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Transaction Steps
// ─────────────────────────────────────────────────────────────────────────────

func (a *DeltaApplier) insertProfileVersion(ctx context.Context, tx pgx.Tx, studentID string, change *analysis.ProfileChange, now time.Time) error {
	version := student.NewProfileVersion(studentID, change.Narrative, change.Traits)
	version.CreatedAt = now

	traitsJSON, err := json.Marshal(version.Traits)
	if err != nil {
		return fmt.Errorf("failed to marshal traits: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO student_profiles (id, student_id, narrative, traits, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, version.ID, version.StudentID, version.Narrative, traitsJSON, version.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert profile version: %w", err)
	}

	return nil
}

func (a *DeltaApplier) upsertMemory(ctx context.Context, tx pgx.Tx, studentID string, mu analysis.MemoryUpdate, now time.Time) error {
	expiresAt := a.expiry.ExpiryFor(mu.Scope, now)

	_, err := tx.Exec(ctx, `
		INSERT INTO student_memories (student_id, scope, key, value, expires_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (student_id, scope, key) DO UPDATE SET
			value = EXCLUDED.value,
			expires_at = EXCLUDED.expires_at,
			updated_at = EXCLUDED.updated_at
	`, studentID, string(mu.Scope), mu.Key, mu.Value, expiresAt, now)
	if err != nil {
		return fmt.Errorf("failed to upsert memory %s/%s: %w", mu.Scope, mu.Key, err)
	}

	return nil
}

// patchGoal upserts one goal mastery row. Returns false when the goal code
// does not exist in the catalog.
func (a *DeltaApplier) patchGoal(ctx context.Context, tx pgx.Tx, studentID string, p analysis.GoalPatch, now time.Time) (bool, error) {
	var goalID string
	err := tx.QueryRow(ctx, `SELECT id FROM curriculum_goals WHERE code = $1`, p.GoalCode).Scan(&goalID)
	if IsNoRows(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to look up goal %s: %w", p.GoalCode, err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO student_goal_progress (student_id, goal_id, mastery, evidence, last_updated)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (student_id, goal_id) DO UPDATE SET
			mastery = EXCLUDED.mastery,
			evidence = EXCLUDED.evidence,
			last_updated = EXCLUDED.last_updated
	`, studentID, goalID, p.MasteryPercentage, p.Evidence, now)
	if err != nil {
		return false, fmt.Errorf("failed to patch goal %s: %w", p.GoalCode, err)
	}

	return true, nil
}

// patchKC upserts one knowledge component mastery row. Returns false when the
// goal/KC pair does not exist in the catalog.
func (a *DeltaApplier) patchKC(ctx context.Context, tx pgx.Tx, studentID string, p analysis.KCPatch, now time.Time) (bool, error) {
	var kcID string
	err := tx.QueryRow(ctx, `
		SELECT kc.id
		FROM goal_knowledge_components kc
		JOIN curriculum_goals g ON g.id = kc.goal_id
		WHERE g.code = $1 AND kc.code = $2
	`, p.GoalCode, p.KCCode).Scan(&kcID)
	if IsNoRows(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to look up kc %s/%s: %w", p.GoalCode, p.KCCode, err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO student_kc_progress (student_id, kc_id, mastery, evidence, last_updated)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (student_id, kc_id) DO UPDATE SET
			mastery = EXCLUDED.mastery,
			evidence = EXCLUDED.evidence,
			last_updated = EXCLUDED.last_updated
	`, studentID, kcID, p.MasteryPercentage, p.Evidence, now)
	if err != nil {
		return false, fmt.Errorf("failed to patch kc %s/%s: %w", p.GoalCode, p.KCCode, err)
	}

	return true, nil
}

// maybeOverwritePlaceholderName replaces an auto-generated display name with a
// name trait asserted by the delta. Real (operator-entered) names are never
// overwritten.
func (a *DeltaApplier) maybeOverwritePlaceholderName(ctx context.Context, tx pgx.Tx, stu *student.Student, delta *analysis.Delta, now time.Time) (bool, error) {
	name, ok := delta.TraitUpdates[NameTraitKey]
	if !ok {
		return false, nil
	}

	name = strings.TrimSpace(name)
	if name == "" || !stu.HasPlaceholderName(a.placeholderPrefix) {
		return false, nil
	}

	_, err := tx.Exec(ctx, `
		UPDATE students SET display_name = $1, updated_at = $2 WHERE id = $3
	`, name, now, stu.ID)
	if err != nil {
		return false, fmt.Errorf("failed to overwrite placeholder name: %w", err)
	}

	stu.DisplayName = name
	stu.UpdatedAt = now
	return true, nil
}
