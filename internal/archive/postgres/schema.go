// Package postgres provides PostgreSQL-backed storage for chat sessions
// ([archive.Store]) and saved courses ([course.Repository]).
//
// Both share a single [pgxpool.Pool]. The one-open-session-per-lesson rule is
// enforced by a partial unique index, so concurrent writers on different
// machines cannot both create an open session for the same lesson.
//
// Usage:
//
//	store, err := postgres.NewStore(ctx, dsn)
//	if err != nil { … }
//	defer store.Close()
//
//	bridge := archive.NewBridge(store.Sessions(), archive.NewLog())
//	catalog := course.NewCatalog(store.Courses(), store.Sessions())
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ─────────────────────────────────────────────────────────────────────────────
// Chat sessions
// ─────────────────────────────────────────────────────────────────────────────

const ddlChatSessions = `
CREATE TABLE IF NOT EXISTS chat_sessions (
    id           TEXT         PRIMARY KEY,
    lesson_id    TEXT         NOT NULL,
    course_id    TEXT         NOT NULL,
    title        TEXT         NOT NULL DEFAULT '',
    version      TEXT         NOT NULL DEFAULT '1.0',
    messages     JSONB        NOT NULL DEFAULT '[]',
    created_at   TIMESTAMPTZ  NOT NULL DEFAULT now(),
    updated_at   TIMESTAMPTZ  NOT NULL DEFAULT now(),
    is_archived  BOOLEAN      NOT NULL DEFAULT false
);

CREATE UNIQUE INDEX IF NOT EXISTS uq_chat_sessions_open_lesson
    ON chat_sessions (lesson_id) WHERE NOT is_archived;

CREATE INDEX IF NOT EXISTS idx_chat_sessions_lesson_updated
    ON chat_sessions (lesson_id, updated_at DESC) WHERE is_archived;

CREATE INDEX IF NOT EXISTS idx_chat_sessions_course_id
    ON chat_sessions (course_id);
`

// ─────────────────────────────────────────────────────────────────────────────
// Courses
// ─────────────────────────────────────────────────────────────────────────────

const ddlCourses = `
CREATE TABLE IF NOT EXISTS courses (
    id           TEXT         PRIMARY KEY,
    topic        TEXT         NOT NULL DEFAULT '',
    title        TEXT         NOT NULL,
    description  TEXT         NOT NULL DEFAULT '',
    modules      JSONB        NOT NULL DEFAULT '[]',
    created_at   BIGINT       NOT NULL,
    last_access  BIGINT       NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_courses_last_access
    ON courses (last_access DESC);
`

// Migrate creates the tables and indexes if they do not exist. It is
// idempotent and safe to call on every start.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	for _, stmt := range []string{ddlChatSessions, ddlCourses} {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres migrate: %w", err)
		}
	}
	return nil
}
