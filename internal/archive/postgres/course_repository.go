package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/didata-ai/didata/internal/course"
)

// CourseRepository stores courses in the courses table with the module tree
// as JSONB.
//
// Obtain one via [Store.Courses].
type CourseRepository struct {
	pool *pgxpool.Pool
}

const courseColumns = `id, topic, title, description, modules, created_at, last_access`

// Put implements [course.Repository].
func (r *CourseRepository) Put(ctx context.Context, c *course.Course) error {
	const q = `
		INSERT INTO courses (` + courseColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
		    topic       = EXCLUDED.topic,
		    title       = EXCLUDED.title,
		    description = EXCLUDED.description,
		    modules     = EXCLUDED.modules,
		    created_at  = EXCLUDED.created_at,
		    last_access = EXCLUDED.last_access`

	modules := c.Modules
	if modules == nil {
		modules = []course.Module{}
	}
	raw, err := json.Marshal(modules)
	if err != nil {
		return fmt.Errorf("course repository: encode modules: %w", err)
	}
	_, err = r.pool.Exec(ctx, q,
		c.ID,
		c.Topic,
		c.Title,
		c.Description,
		raw,
		int64(c.CreatedAt),
		int64(c.LastAccess),
	)
	if err != nil {
		return fmt.Errorf("course repository: put: %w", err)
	}
	return nil
}

// Get implements [course.Repository].
func (r *CourseRepository) Get(ctx context.Context, id string) (*course.Course, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+courseColumns+` FROM courses WHERE id = $1`, id)
	if err != nil {
		return nil, fmt.Errorf("course repository: get: %w", err)
	}
	c, err := pgx.CollectExactlyOneRow(rows, scanCourse)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, course.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("course repository: scan row: %w", err)
	}
	return c, nil
}

// Touch implements [course.Repository].
func (r *CourseRepository) Touch(ctx context.Context, id string, at course.UnixMilli) error {
	if _, err := r.pool.Exec(ctx, `UPDATE courses SET last_access = $2 WHERE id = $1`, id, int64(at)); err != nil {
		return fmt.Errorf("course repository: touch: %w", err)
	}
	return nil
}

// List implements [course.Repository].
func (r *CourseRepository) List(ctx context.Context) ([]*course.Course, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+courseColumns+` FROM courses ORDER BY last_access DESC, id`)
	if err != nil {
		return nil, fmt.Errorf("course repository: list: %w", err)
	}
	cs, err := pgx.CollectRows(rows, scanCourse)
	if err != nil {
		return nil, fmt.Errorf("course repository: scan rows: %w", err)
	}
	if cs == nil {
		cs = []*course.Course{}
	}
	return cs, nil
}

// Delete implements [course.Repository].
func (r *CourseRepository) Delete(ctx context.Context, id string) error {
	if _, err := r.pool.Exec(ctx, `DELETE FROM courses WHERE id = $1`, id); err != nil {
		return fmt.Errorf("course repository: delete: %w", err)
	}
	return nil
}

func scanCourse(row pgx.CollectableRow) (*course.Course, error) {
	var (
		c                     course.Course
		raw                   []byte
		createdAt, lastAccess int64
	)
	if err := row.Scan(&c.ID, &c.Topic, &c.Title, &c.Description, &raw, &createdAt, &lastAccess); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(raw, &c.Modules); err != nil {
		return nil, fmt.Errorf("decode modules of %s: %w", c.ID, err)
	}
	c.CreatedAt = course.UnixMilli(createdAt)
	c.LastAccess = course.UnixMilli(lastAccess)
	return &c, nil
}
