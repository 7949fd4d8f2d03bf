package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/didata-ai/didata/internal/archive"
	"github.com/didata-ai/didata/internal/course"
)

// Compile-time interface checks.
//
// archive.Store and course.Repository both define Get and Delete with
// different signatures, so they are exposed as sub-types via [Store.Sessions]
// and [Store.Courses].
var (
	_ archive.Store     = (*SessionStore)(nil)
	_ course.Repository = (*CourseRepository)(nil)
)

// Store owns the connection pool shared by the session and course tables.
// All operations are safe for concurrent use.
type Store struct {
	pool     *pgxpool.Pool
	sessions *SessionStore
	courses  *CourseRepository
}

// NewStore connects to dsn, verifies the connection and runs [Migrate].
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres store: parse dsn: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres store: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: ping: %w", err)
	}

	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: migrate: %w", err)
	}

	return &Store{
		pool:     pool,
		sessions: &SessionStore{pool: pool},
		courses:  &CourseRepository{pool: pool},
	}, nil
}

// Sessions returns the chat session archive.
func (s *Store) Sessions() *SessionStore { return s.sessions }

// Courses returns the course repository.
func (s *Store) Courses() *CourseRepository { return s.courses }

// Ping reports whether the database is reachable. Used by readiness checks.
func (s *Store) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }

// Close releases all connections held by the pool.
func (s *Store) Close() {
	s.pool.Close()
}
