// Package curriculum contains the static goal/knowledge-component catalog and
// per-student mastery tracking. The catalog is read-only to the call pipeline;
// mastery rows are mutated only through validated analysis deltas.
package curriculum

import "time"

// Goal is one curriculum goal (e.g. "MATH.G4.NBT.1": multi-digit place value).
type Goal struct {
	ID         string
	Code       string // stable human-assigned code, unique
	Subject    string
	GradeLevel int
	Text       string
}

// KnowledgeComponent is a sub-skill beneath a goal, independently tracked.
type KnowledgeComponent struct {
	ID     string
	GoalID string
	Code   string // unique within its goal
	Text   string
}

// GoalProgress is a student's mastery estimate for one goal.
// Mastery is a percentage in [0, 100]. It never decreases silently: a
// decrease must originate from an explicit AI-asserted patch.
type GoalProgress struct {
	StudentID   string
	GoalID      string
	Mastery     float64
	Evidence    string
	LastUpdated time.Time
}

// KCProgress is a student's mastery estimate for one knowledge component.
type KCProgress struct {
	StudentID   string
	KCID        string
	Mastery     float64
	Evidence    string
	LastUpdated time.Time
}
