package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/didata-ai/didata/internal/archive"
)

// uniqueViolation is the SQLSTATE of a unique constraint violation.
const uniqueViolation = "23505"

// SessionStore is the chat session archive backed by the chat_sessions table.
//
// Obtain one via [Store.Sessions].
type SessionStore struct {
	pool *pgxpool.Pool
}

const sessionColumns = `id, lesson_id, course_id, title, version, messages, created_at, updated_at, is_archived`

// Create implements [archive.Store]. A second open session for the same
// lesson trips the partial unique index and is reported as
// [archive.ErrOpenSessionExists].
func (s *SessionStore) Create(ctx context.Context, sess archive.Session) (string, error) {
	const q = `
		INSERT INTO chat_sessions
		    (id, lesson_id, course_id, title, version, messages, created_at, updated_at, is_archived)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	msgs, err := encodeMessages(sess.Messages)
	if err != nil {
		return "", err
	}
	id := uuid.Must(uuid.NewV7()).String()
	_, err = s.pool.Exec(ctx, q,
		id,
		sess.LessonID,
		sess.CourseID,
		sess.Title,
		sess.Version,
		msgs,
		sess.CreatedAt,
		sess.UpdatedAt,
		sess.IsArchived,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return "", archive.ErrOpenSessionExists
		}
		return "", fmt.Errorf("session store: create: %w", err)
	}
	return id, nil
}

// Update implements [archive.Store]. The archived check and the write happen
// in one transaction holding the row lock.
func (s *SessionStore) Update(ctx context.Context, id string, p archive.Patch) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		var archived bool
		err := tx.QueryRow(ctx,
			`SELECT is_archived FROM chat_sessions WHERE id = $1 FOR UPDATE`, id,
		).Scan(&archived)
		if errors.Is(err, pgx.ErrNoRows) {
			return archive.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("session store: update: lock row: %w", err)
		}
		if p.Messages != nil && archived {
			return archive.ErrArchived
		}

		args := []any{id} // $1 = id
		next := func(v any) string {
			args = append(args, v)
			return fmt.Sprintf("$%d", len(args))
		}

		var sets []string
		if p.Messages != nil {
			msgs, err := encodeMessages(p.Messages)
			if err != nil {
				return err
			}
			sets = append(sets, "messages = "+next(msgs))
		}
		if p.Archive != nil {
			sets = append(sets,
				"title = "+next(p.Archive.Title),
				"version = "+next(p.Archive.Version),
				"is_archived = true",
			)
		}
		if !p.UpdatedAt.IsZero() {
			sets = append(sets, "updated_at = "+next(p.UpdatedAt))
		}
		if len(sets) == 0 {
			return nil
		}

		q := "UPDATE chat_sessions SET " + strings.Join(sets, ", ") + " WHERE id = $1"
		if _, err := tx.Exec(ctx, q, args...); err != nil {
			return fmt.Errorf("session store: update: %w", err)
		}
		return nil
	})
}

// Get implements [archive.Store].
func (s *SessionStore) Get(ctx context.Context, id string) (archive.Session, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+sessionColumns+` FROM chat_sessions WHERE id = $1`, id)
	if err != nil {
		return archive.Session{}, fmt.Errorf("session store: get: %w", err)
	}
	return collectOne(rows)
}

// FindOpen implements [archive.Store].
func (s *SessionStore) FindOpen(ctx context.Context, lessonID string) (archive.Session, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+sessionColumns+` FROM chat_sessions WHERE lesson_id = $1 AND NOT is_archived`, lessonID)
	if err != nil {
		return archive.Session{}, fmt.Errorf("session store: find open: %w", err)
	}
	return collectOne(rows)
}

// ListArchived implements [archive.Store].
func (s *SessionStore) ListArchived(ctx context.Context, lessonID string) ([]archive.Session, error) {
	const q = `
		SELECT ` + sessionColumns + `
		FROM   chat_sessions
		WHERE  lesson_id = $1 AND is_archived
		ORDER  BY updated_at DESC, id DESC`

	rows, err := s.pool.Query(ctx, q, lessonID)
	if err != nil {
		return nil, fmt.Errorf("session store: list archived: %w", err)
	}
	return collectSessions(rows)
}

// Delete implements [archive.Store].
func (s *SessionStore) Delete(ctx context.Context, id string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM chat_sessions WHERE id = $1`, id); err != nil {
		return fmt.Errorf("session store: delete: %w", err)
	}
	return nil
}

// DeleteByCourse implements [archive.Store].
func (s *SessionStore) DeleteByCourse(ctx context.Context, courseID string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM chat_sessions WHERE course_id = $1`, courseID); err != nil {
		return fmt.Errorf("session store: delete by course: %w", err)
	}
	return nil
}

func encodeMessages(msgs []archive.Message) ([]byte, error) {
	if msgs == nil {
		msgs = []archive.Message{}
	}
	data, err := json.Marshal(msgs)
	if err != nil {
		return nil, fmt.Errorf("session store: encode messages: %w", err)
	}
	return data, nil
}

func scanSession(row pgx.CollectableRow) (archive.Session, error) {
	var (
		sess archive.Session
		raw  []byte
	)
	if err := row.Scan(
		&sess.ID,
		&sess.LessonID,
		&sess.CourseID,
		&sess.Title,
		&sess.Version,
		&raw,
		&sess.CreatedAt,
		&sess.UpdatedAt,
		&sess.IsArchived,
	); err != nil {
		return archive.Session{}, err
	}
	if err := json.Unmarshal(raw, &sess.Messages); err != nil {
		return archive.Session{}, fmt.Errorf("decode messages of %s: %w", sess.ID, err)
	}
	return sess, nil
}

func collectOne(rows pgx.Rows) (archive.Session, error) {
	sess, err := pgx.CollectExactlyOneRow(rows, scanSession)
	if errors.Is(err, pgx.ErrNoRows) {
		return archive.Session{}, archive.ErrNotFound
	}
	if err != nil {
		return archive.Session{}, fmt.Errorf("session store: scan row: %w", err)
	}
	return sess, nil
}

func collectSessions(rows pgx.Rows) ([]archive.Session, error) {
	sessions, err := pgx.CollectRows(rows, scanSession)
	if err != nil {
		return nil, fmt.Errorf("session store: scan rows: %w", err)
	}
	if sessions == nil {
		sessions = []archive.Session{}
	}
	return sessions, nil
}
