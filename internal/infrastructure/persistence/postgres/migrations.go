// Package postgres implements the PostgreSQL persistence layer for Voice Tutor Hub.
package postgres

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 001: CREATE STUDENTS
// ══════════════════════════════════════════════════════════════════════════════

const migration001Up = `
-- Migration: Create students and phone mappings
-- Version: 001

-- Main students table
CREATE TABLE IF NOT EXISTS students (
    id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
    display_name VARCHAR(100) NOT NULL,
    grade_level INTEGER NOT NULL DEFAULT 0,
    phone_number VARCHAR(20) NOT NULL DEFAULT '',
    created_via VARCHAR(20) NOT NULL DEFAULT 'admin',
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    -- Constraints for data integrity
    CONSTRAINT valid_created_via CHECK (created_via IN ('admin', 'auto_provision')),
    CONSTRAINT valid_grade_level CHECK (grade_level >= 0 AND grade_level <= 12)
);

CREATE INDEX IF NOT EXISTS idx_students_phone_number ON students(phone_number) WHERE phone_number != '';
CREATE INDEX IF NOT EXISTS idx_students_created_at ON students(created_at DESC);

-- Phone mappings: the single point of identity arbitration. The unique
-- constraint on normalized_phone decides the winner between concurrent
-- first-contact calls.
CREATE TABLE IF NOT EXISTS phone_mappings (
    normalized_phone VARCHAR(20) PRIMARY KEY,
    student_id UUID NOT NULL REFERENCES students(id) ON DELETE CASCADE,
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_phone_mappings_student_id ON phone_mappings(student_id);
`

const migration001Down = `
DROP TABLE IF EXISTS phone_mappings;
DROP TABLE IF EXISTS students;
`

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 002: CREATE SESSIONS
// ══════════════════════════════════════════════════════════════════════════════

const migration002Up = `
-- Migration: Create sessions
-- Version: 002

-- One row per processed call. call_id is the idempotency key: webhook
-- retries and concurrent deliveries collapse onto the same row.
CREATE TABLE IF NOT EXISTS sessions (
    id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
    call_id VARCHAR(128) NOT NULL UNIQUE,
    student_id UUID REFERENCES students(id) ON DELETE SET NULL,
    status VARCHAR(20) NOT NULL DEFAULT 'received',
    error_detail TEXT NOT NULL DEFAULT '',

    transcript TEXT NOT NULL DEFAULT '',
    duration_seconds INTEGER NOT NULL DEFAULT 0,
    customer_number VARCHAR(30) NOT NULL DEFAULT '',
    degraded_source BOOLEAN NOT NULL DEFAULT FALSE,
    needs_review BOOLEAN NOT NULL DEFAULT FALSE,

    -- Validated delta, persisted so a failed apply can be retried without
    -- re-invoking an AI provider.
    delta JSONB,
    -- Raw provider output, preserved for the human review path.
    raw_analysis JSONB,
    -- Per-provider attempt metadata (latency, cost, error).
    attempts JSONB NOT NULL DEFAULT '[]'::jsonb,

    started_at TIMESTAMP WITH TIME ZONE,
    ended_at TIMESTAMP WITH TIME ZONE,
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    CONSTRAINT valid_session_status CHECK (status IN ('received', 'fetched', 'analyzed', 'applied', 'failed')),
    CONSTRAINT valid_duration CHECK (duration_seconds >= 0)
);

CREATE INDEX IF NOT EXISTS idx_sessions_student_id ON sessions(student_id);
CREATE INDEX IF NOT EXISTS idx_sessions_status ON sessions(status);
CREATE INDEX IF NOT EXISTS idx_sessions_created_at ON sessions(created_at DESC);

-- The retry job scans for analyzed-but-unapplied sessions.
CREATE INDEX IF NOT EXISTS idx_sessions_stuck ON sessions(updated_at) WHERE status = 'analyzed';
-- The operator queue scans failed sessions.
CREATE INDEX IF NOT EXISTS idx_sessions_failed ON sessions(created_at DESC) WHERE status = 'failed';
`

const migration002Down = `
DROP TABLE IF EXISTS sessions;
`

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 003: CREATE PROFILES AND MEMORIES
// ══════════════════════════════════════════════════════════════════════════════

const migration003Up = `
-- Migration: Create profile history and scoped memories
-- Version: 003

-- Append-only profile history. The current profile is the newest row;
-- rows are never updated in place.
CREATE TABLE IF NOT EXISTS student_profiles (
    id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
    student_id UUID NOT NULL REFERENCES students(id) ON DELETE CASCADE,
    narrative TEXT NOT NULL,
    traits JSONB NOT NULL DEFAULT '{}'::jsonb,
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_student_profiles_student ON student_profiles(student_id, created_at DESC);

-- Scoped key/value memories with per-scope expiry. Upsert on
-- (student_id, scope, key).
CREATE TABLE IF NOT EXISTS student_memories (
    student_id UUID NOT NULL REFERENCES students(id) ON DELETE CASCADE,
    scope VARCHAR(20) NOT NULL,
    key VARCHAR(128) NOT NULL,
    value TEXT NOT NULL,
    expires_at TIMESTAMP WITH TIME ZONE,
    updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    PRIMARY KEY (student_id, scope, key),
    CONSTRAINT valid_memory_scope CHECK (scope IN ('personal_fact', 'game_state', 'strategy_log'))
);

CREATE INDEX IF NOT EXISTS idx_student_memories_expiry ON student_memories(expires_at) WHERE expires_at IS NOT NULL;
`

const migration003Down = `
DROP TABLE IF EXISTS student_memories;
DROP TABLE IF EXISTS student_profiles;
`

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 004: CREATE CURRICULUM
// ══════════════════════════════════════════════════════════════════════════════

const migration004Up = `
-- Migration: Create curriculum catalog and mastery tracking
-- Version: 004

-- Static goal catalog, keyed by stable human-assigned codes.
CREATE TABLE IF NOT EXISTS curriculum_goals (
    id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
    code VARCHAR(64) NOT NULL UNIQUE,
    subject VARCHAR(50) NOT NULL,
    grade_level INTEGER NOT NULL DEFAULT 0,
    text TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS goal_knowledge_components (
    id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
    goal_id UUID NOT NULL REFERENCES curriculum_goals(id) ON DELETE CASCADE,
    code VARCHAR(64) NOT NULL,
    text TEXT NOT NULL,

    UNIQUE(goal_id, code)
);

CREATE INDEX IF NOT EXISTS idx_goal_kcs_goal_id ON goal_knowledge_components(goal_id);

-- Per-student goal mastery. Written only inside the delta applier's
-- transaction.
CREATE TABLE IF NOT EXISTS student_goal_progress (
    student_id UUID NOT NULL REFERENCES students(id) ON DELETE CASCADE,
    goal_id UUID NOT NULL REFERENCES curriculum_goals(id) ON DELETE CASCADE,
    mastery DECIMAL(5,2) NOT NULL DEFAULT 0,
    evidence TEXT NOT NULL DEFAULT '',
    last_updated TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    PRIMARY KEY (student_id, goal_id),
    CONSTRAINT valid_goal_mastery CHECK (mastery >= 0 AND mastery <= 100)
);

-- Per-student knowledge component mastery.
CREATE TABLE IF NOT EXISTS student_kc_progress (
    student_id UUID NOT NULL REFERENCES students(id) ON DELETE CASCADE,
    kc_id UUID NOT NULL REFERENCES goal_knowledge_components(id) ON DELETE CASCADE,
    mastery DECIMAL(5,2) NOT NULL DEFAULT 0,
    evidence TEXT NOT NULL DEFAULT '',
    last_updated TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    PRIMARY KEY (student_id, kc_id),
    CONSTRAINT valid_kc_mastery CHECK (mastery >= 0 AND mastery <= 100)
);
`

const migration004Down = `
DROP TABLE IF EXISTS student_kc_progress;
DROP TABLE IF EXISTS student_goal_progress;
DROP TABLE IF EXISTS goal_knowledge_components;
DROP TABLE IF EXISTS curriculum_goals;
`
