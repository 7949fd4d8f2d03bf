package archive

import (
	"cmp"
	"context"
	"slices"
	"sync"

	"github.com/google/uuid"
)

// Compile-time assertions.
var (
	_ Store = (*MemoryStore)(nil)
	_ KV    = (*MemoryKV)(nil)
)

// MemoryStore is a thread-safe, in-memory [Store]. Two bridges sharing one
// MemoryStore observe the same single-open-session rule as they would against
// PostgreSQL.
// The zero value is ready to use.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]Session
}

// NewMemoryStore returns an initialised [MemoryStore].
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]Session)}
}

// Create implements [Store.Create].
func (s *MemoryStore) Create(_ context.Context, sess Session) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.sessions == nil {
		s.sessions = make(map[string]Session)
	}
	if !sess.IsArchived {
		if _, ok := s.findOpenLocked(sess.LessonID); ok {
			return "", ErrOpenSessionExists
		}
	}
	sess.ID = uuid.Must(uuid.NewV7()).String()
	sess.Messages = slices.Clone(sess.Messages)
	s.sessions[sess.ID] = sess
	return sess.ID, nil
}

// Update implements [Store.Update].
func (s *MemoryStore) Update(_ context.Context, id string, p Patch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return ErrNotFound
	}
	if p.Messages != nil {
		if sess.IsArchived {
			return ErrArchived
		}
		sess.Messages = slices.Clone(p.Messages)
	}
	if p.Archive != nil {
		sess.Title = p.Archive.Title
		sess.Version = p.Archive.Version
		sess.IsArchived = true
	}
	if !p.UpdatedAt.IsZero() {
		sess.UpdatedAt = p.UpdatedAt
	}
	s.sessions[id] = sess
	return nil
}

// Get implements [Store.Get].
func (s *MemoryStore) Get(_ context.Context, id string) (Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[id]
	if !ok {
		return Session{}, ErrNotFound
	}
	return cloneSession(sess), nil
}

// FindOpen implements [Store.FindOpen].
func (s *MemoryStore) FindOpen(_ context.Context, lessonID string) (Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.findOpenLocked(lessonID)
	if !ok {
		return Session{}, ErrNotFound
	}
	return cloneSession(sess), nil
}

// ListArchived implements [Store.ListArchived].
func (s *MemoryStore) ListArchived(_ context.Context, lessonID string) ([]Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Session, 0)
	for _, sess := range s.sessions {
		if sess.LessonID == lessonID && sess.IsArchived {
			out = append(out, cloneSession(sess))
		}
	}
	slices.SortFunc(out, func(a, b Session) int {
		if c := b.UpdatedAt.Compare(a.UpdatedAt); c != 0 {
			return c
		}
		return cmp.Compare(b.ID, a.ID)
	})
	return out, nil
}

// Delete implements [Store.Delete].
func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
	return nil
}

// DeleteByCourse implements [Store.DeleteByCourse].
func (s *MemoryStore) DeleteByCourse(_ context.Context, courseID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, sess := range s.sessions {
		if sess.CourseID == courseID {
			delete(s.sessions, id)
		}
	}
	return nil
}

// Len returns the number of stored sessions.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

func (s *MemoryStore) findOpenLocked(lessonID string) (Session, bool) {
	for _, sess := range s.sessions {
		if sess.LessonID == lessonID && !sess.IsArchived {
			return sess, true
		}
	}
	return Session{}, false
}

func cloneSession(s Session) Session {
	s.Messages = slices.Clone(s.Messages)
	return s
}

// ── KV ──────────────────────────────────────────────────────────────────────

// MemoryKV is an in-memory [KV]. The zero value is ready to use.
type MemoryKV struct {
	mu     sync.RWMutex
	values map[string]string
}

// NewMemoryKV returns an empty [MemoryKV].
func NewMemoryKV() *MemoryKV {
	return &MemoryKV{values: make(map[string]string)}
}

// Get implements [KV.Get].
func (k *MemoryKV) Get(_ context.Context, key string) (string, bool, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	v, ok := k.values[key]
	return v, ok, nil
}

// Set implements [KV.Set].
func (k *MemoryKV) Set(_ context.Context, key, value string) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.values == nil {
		k.values = make(map[string]string)
	}
	k.values[key] = value
	return nil
}

// Delete implements [KV.Delete].
func (k *MemoryKV) Delete(_ context.Context, key string) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	delete(k.values, key)
	return nil
}
