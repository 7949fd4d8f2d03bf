package course

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/didata-ai/didata/internal/archive"
)

// ErrInvalid is returned by [Catalog.Import] for documents that are not a
// course.
var ErrInvalid = errors.New("course: invalid course document")

// Option configures a [Catalog].
type Option func(*Catalog)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(c *Catalog) { c.logger = l }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Catalog) { c.now = now }
}

// Catalog manages saved courses and keeps their chat sessions consistent:
// deleting a course deletes every session recorded against it.
type Catalog struct {
	repo     Repository
	sessions archive.Store
	logger   *slog.Logger
	now      func() time.Time
}

// NewCatalog returns a Catalog over repo. sessions may be nil, in which case
// deletes do not cascade.
func NewCatalog(repo Repository, sessions archive.Store, opts ...Option) *Catalog {
	c := &Catalog{
		repo:     repo,
		sessions: sessions,
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Add saves c, stamping CreatedAt when unset and LastAccess always. It
// returns the course id.
func (cat *Catalog) Add(ctx context.Context, c *Course) (string, error) {
	now := Stamp(cat.now())
	if c.CreatedAt == 0 {
		c.CreatedAt = now
	}
	c.LastAccess = now
	if err := cat.repo.Put(ctx, c); err != nil {
		return "", fmt.Errorf("course: add: %w", err)
	}
	cat.logger.Info("course saved", "course_id", c.ID, "title", c.Title)
	return c.ID, nil
}

// Get returns the course and marks it accessed.
func (cat *Catalog) Get(ctx context.Context, id string) (*Course, error) {
	c, err := cat.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	now := Stamp(cat.now())
	if err := cat.repo.Touch(ctx, id, now); err != nil {
		cat.logger.Warn("course: touch failed", "course_id", id, "err", err)
	} else {
		c.LastAccess = now
	}
	return c, nil
}

// Update replaces the stored course and marks it accessed.
func (cat *Catalog) Update(ctx context.Context, c *Course) error {
	c.LastAccess = Stamp(cat.now())
	if err := cat.repo.Put(ctx, c); err != nil {
		return fmt.Errorf("course: update: %w", err)
	}
	return nil
}

// SetLessonContent replaces the content of one lesson.
func (cat *Catalog) SetLessonContent(ctx context.Context, courseID, lessonID, content string) (*Course, error) {
	c, err := cat.repo.Get(ctx, courseID)
	if err != nil {
		return nil, err
	}
	l, ok := c.Lesson(lessonID)
	if !ok {
		return nil, fmt.Errorf("course: lesson %q not in course %q: %w", lessonID, courseID, ErrNotFound)
	}
	l.Content = content
	if err := cat.Update(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

// List returns every course, most recently accessed first.
func (cat *Catalog) List(ctx context.Context) ([]*Course, error) {
	cs, err := cat.repo.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("course: list: %w", err)
	}
	return cs, nil
}

// Delete removes the course and all its chat sessions. Sessions go first so a
// failure leaves the course in place for a retry.
func (cat *Catalog) Delete(ctx context.Context, id string) error {
	if cat.sessions != nil {
		if err := cat.sessions.DeleteByCourse(ctx, id); err != nil {
			return fmt.Errorf("course: delete sessions of %s: %w", id, err)
		}
	}
	if err := cat.repo.Delete(ctx, id); err != nil {
		return fmt.Errorf("course: delete: %w", err)
	}
	cat.logger.Info("course deleted", "course_id", id)
	return nil
}

// Export writes the course as indented JSON to w and returns the suggested
// file name.
func (cat *Catalog) Export(ctx context.Context, id string, w io.Writer) (string, error) {
	c, err := cat.repo.Get(ctx, id)
	if err != nil {
		return "", err
	}
	data, err := Marshal(c)
	if err != nil {
		return "", err
	}
	if _, err := w.Write(data); err != nil {
		return "", fmt.Errorf("course: export: %w", err)
	}
	return ExportFileName(c.Title), nil
}

// Import reads a course document from r and adds it. A document without an id
// gets a fresh one.
func (cat *Catalog) Import(ctx context.Context, r io.Reader) (*Course, error) {
	var c Course
	dec := json.NewDecoder(r)
	if err := dec.Decode(&c); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	if strings.TrimSpace(c.Title) == "" || len(c.Modules) == 0 {
		return nil, fmt.Errorf("%w: missing title or modules", ErrInvalid)
	}
	if c.ID == "" {
		c.ID = NewID(cat.now())
	}
	if _, err := cat.Add(ctx, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

var unsafeFileChars = regexp.MustCompile(`(?i)[^a-z0-9]`)

// ExportFileName derives the download name from a course title: every
// character outside [a-z0-9] becomes an underscore, then lower-cased.
func ExportFileName(title string) string {
	return strings.ToLower(unsafeFileChars.ReplaceAllString(title, "_")) + ".json"
}

// Marshal encodes c as two-space indented JSON without HTML escaping.
func Marshal(c *Course) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(c); err != nil {
		return nil, fmt.Errorf("course: encode: %w", err)
	}
	return buf.Bytes(), nil
}
