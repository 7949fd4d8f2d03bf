// Package course holds the course catalogue: the module/lesson tree a
// tutoring session is anchored to, its persistence, and JSON import/export in
// the same shape the web client wrote.
package course

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"time"

	"github.com/didata-ai/didata/internal/archive"
)

// UnixMilli is a wall-clock instant in milliseconds since the Unix epoch,
// the timestamp form used in exported course files.
type UnixMilli int64

// Stamp converts t.
func Stamp(t time.Time) UnixMilli { return UnixMilli(t.UnixMilli()) }

// Time converts back to a [time.Time].
func (u UnixMilli) Time() time.Time { return time.UnixMilli(int64(u)) }

// Lesson is one teachable unit. Content is Markdown.
type Lesson struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	Content string `json:"content"`
}

// Module groups lessons.
type Module struct {
	ID      string   `json:"id"`
	Title   string   `json:"title"`
	Lessons []Lesson `json:"lessons"`
}

// Course is a generated course.
type Course struct {
	ID          string    `json:"id"`
	Topic       string    `json:"topic"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Modules     []Module  `json:"modules"`
	CreatedAt   UnixMilli `json:"createdAt"`
	LastAccess  UnixMilli `json:"lastAccess"`
}

// Lesson returns the lesson with id.
func (c *Course) Lesson(id string) (*Lesson, bool) {
	for i := range c.Modules {
		for j := range c.Modules[i].Lessons {
			if c.Modules[i].Lessons[j].ID == id {
				return &c.Modules[i].Lessons[j], true
			}
		}
	}
	return nil, false
}

// FirstLesson returns the first lesson of the first non-empty module.
func (c *Course) FirstLesson() (*Lesson, bool) {
	for i := range c.Modules {
		if len(c.Modules[i].Lessons) > 0 {
			return &c.Modules[i].Lessons[0], true
		}
	}
	return nil, false
}

// Ref names lesson id of c for the session archive.
func (c *Course) Ref(lessonID string) (archive.LessonRef, bool) {
	l, ok := c.Lesson(lessonID)
	if !ok {
		return archive.LessonRef{}, false
	}
	return archive.LessonRef{
		CourseID:    c.ID,
		LessonID:    l.ID,
		CourseTitle: c.Title,
		LessonTitle: l.Title,
	}, true
}

// ── Generation outline ──────────────────────────────────────────────────────

// Outline is the course structure as returned by the text model, before ids
// and content are assigned.
type Outline struct {
	Topic       string          `json:"topic"`
	Title       string          `json:"title"`
	Description string          `json:"description"`
	Modules     []OutlineModule `json:"modules"`
}

// OutlineModule is one module of an [Outline].
type OutlineModule struct {
	Title   string          `json:"title"`
	Lessons []OutlineLesson `json:"lessons"`
}

// OutlineLesson is one lesson of an [OutlineModule].
type OutlineLesson struct {
	Title string `json:"title"`
}

// PlaceholderContent is the initial content of a lesson until it is generated.
func PlaceholderContent(lessonTitle string) string {
	return "Conteúdo para \"" + lessonTitle + "\" será gerado aqui."
}

// FromOutline assigns ids, placeholder content and timestamps to o.
// Modules are numbered m-<i>, lessons m-<i>-l-<j>.
func FromOutline(o Outline, now time.Time) *Course {
	c := &Course{
		ID:          NewID(now),
		Topic:       o.Topic,
		Title:       o.Title,
		Description: o.Description,
		Modules:     make([]Module, 0, len(o.Modules)),
		CreatedAt:   Stamp(now),
		LastAccess:  Stamp(now),
	}
	for i, om := range o.Modules {
		m := Module{
			ID:      fmt.Sprintf("m-%d", i),
			Title:   om.Title,
			Lessons: make([]Lesson, 0, len(om.Lessons)),
		}
		for j, ol := range om.Lessons {
			m.Lessons = append(m.Lessons, Lesson{
				ID:      fmt.Sprintf("m-%d-l-%d", i, j),
				Title:   ol.Title,
				Content: PlaceholderContent(ol.Title),
			})
		}
		c.Modules = append(c.Modules, m)
	}
	return c
}

const idAlphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

// NewID returns course-<unix ms>-<7 base36 chars>.
func NewID(now time.Time) string {
	suffix := make([]byte, 7)
	base := big.NewInt(int64(len(idAlphabet)))
	for i := range suffix {
		n, err := rand.Int(rand.Reader, base)
		if err != nil {
			panic(fmt.Sprintf("course: read random: %v", err))
		}
		suffix[i] = idAlphabet[n.Int64()]
	}
	return fmt.Sprintf("course-%d-%s", now.UnixMilli(), suffix)
}
