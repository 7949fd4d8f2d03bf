package course

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
)

// ErrNotFound is returned when no course has the requested id.
var ErrNotFound = errors.New("course: not found")

// Repository stores courses.
//
// Implementations must be safe for concurrent use.
type Repository interface {
	// Put inserts or replaces c.
	Put(ctx context.Context, c *Course) error

	// Get returns the course with id or [ErrNotFound].
	Get(ctx context.Context, id string) (*Course, error)

	// Touch sets LastAccess of the course with id. Missing ids are ignored.
	Touch(ctx context.Context, id string, at UnixMilli) error

	// List returns all courses, most recently accessed first.
	List(ctx context.Context) ([]*Course, error)

	// Delete removes the course. Deleting a missing id is not an error.
	Delete(ctx context.Context, id string) error
}

// Compile-time assertions.
var (
	_ Repository = (*MemoryRepository)(nil)
	_ Repository = (*FileRepository)(nil)
)

// MemoryRepository is an in-memory [Repository].
type MemoryRepository struct {
	mu      sync.RWMutex
	courses map[string]*Course
}

// NewMemoryRepository returns an empty [MemoryRepository].
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{courses: make(map[string]*Course)}
}

// Put implements [Repository.Put].
func (r *MemoryRepository) Put(_ context.Context, c *Course) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.courses[c.ID] = clone(c)
	return nil
}

// Get implements [Repository.Get].
func (r *MemoryRepository) Get(_ context.Context, id string) (*Course, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.courses[id]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(c), nil
}

// Touch implements [Repository.Touch].
func (r *MemoryRepository) Touch(_ context.Context, id string, at UnixMilli) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.courses[id]; ok {
		c.LastAccess = at
	}
	return nil
}

// List implements [Repository.List].
func (r *MemoryRepository) List(_ context.Context) ([]*Course, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Course, 0, len(r.courses))
	for _, c := range r.courses {
		out = append(out, clone(c))
	}
	SortByAccess(out)
	return out, nil
}

// Delete implements [Repository.Delete].
func (r *MemoryRepository) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.courses, id)
	return nil
}

// SortByAccess orders courses most recently accessed first.
func SortByAccess(cs []*Course) {
	slices.SortFunc(cs, func(a, b *Course) int {
		if c := cmp.Compare(b.LastAccess, a.LastAccess); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
}

func clone(c *Course) *Course {
	out := *c
	out.Modules = make([]Module, len(c.Modules))
	for i, m := range c.Modules {
		m.Lessons = slices.Clone(m.Lessons)
		out.Modules[i] = m
	}
	return &out
}

// ── File repository ─────────────────────────────────────────────────────────

// FileRepository stores each course as <dir>/<id>.json, in the same indented
// form [Catalog.Export] produces.
type FileRepository struct {
	dir string
	mu  sync.Mutex
}

// NewFileRepository returns a repository rooted at dir, creating it if needed.
func NewFileRepository(dir string) (*FileRepository, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("course: create dir: %w", err)
	}
	return &FileRepository{dir: dir}, nil
}

func (r *FileRepository) path(id string) (string, error) {
	if id == "" || strings.ContainsAny(id, `/\`) || id == "." || id == ".." {
		return "", fmt.Errorf("course: invalid id %q", id)
	}
	return filepath.Join(r.dir, id+".json"), nil
}

// Put implements [Repository.Put].
func (r *FileRepository) Put(_ context.Context, c *Course) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.writeLocked(c)
}

func (r *FileRepository) writeLocked(c *Course) error {
	p, err := r.path(c.ID)
	if err != nil {
		return err
	}
	data, err := Marshal(c)
	if err != nil {
		return err
	}
	tmp := p + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("course: write %s: %w", c.ID, err)
	}
	if err := os.Rename(tmp, p); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("course: write %s: %w", c.ID, err)
	}
	return nil
}

// Get implements [Repository.Get].
func (r *FileRepository) Get(_ context.Context, id string) (*Course, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.readLocked(id)
}

func (r *FileRepository) readLocked(id string) (*Course, error) {
	p, err := r.path(id)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("course: read %s: %w", id, err)
	}
	var c Course
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("course: decode %s: %w", id, err)
	}
	return &c, nil
}

// Touch implements [Repository.Touch].
func (r *FileRepository) Touch(_ context.Context, id string, at UnixMilli) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, err := r.readLocked(id)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	c.LastAccess = at
	return r.writeLocked(c)
}

// List implements [Repository.List]. Unreadable files are skipped.
func (r *FileRepository) List(_ context.Context) ([]*Course, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return nil, fmt.Errorf("course: list: %w", err)
	}
	out := make([]*Course, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		c, err := r.readLocked(strings.TrimSuffix(name, ".json"))
		if err != nil {
			continue
		}
		out = append(out, c)
	}
	SortByAccess(out)
	return out, nil
}

// Delete implements [Repository.Delete].
func (r *FileRepository) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, err := r.path(id)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("course: delete %s: %w", id, err)
	}
	return nil
}
