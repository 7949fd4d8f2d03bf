// Package archive keeps the tutoring conversation durable. It defines the
// chat session model, the [Store] contract implemented by the memory and
// PostgreSQL backends, the single-writer message [Log] that every mutation of
// the live conversation passes through, and the [Bridge] that mirrors that log
// into the store.
//
// At most one open (not archived) session exists per lesson. Backends enforce
// it: [MemoryStore] with a locked query-then-create, the PostgreSQL backend
// with a partial unique index. [Store.Create] reports a lost race with
// [ErrOpenSessionExists] so callers can adopt the winner.
package archive

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// DefaultVersion is the version label given to sessions on creation.
const DefaultVersion = "1.0"

// Sentinel errors.
var (
	// ErrNotFound is returned when no session matches the query.
	ErrNotFound = errors.New("archive: session not found")

	// ErrEmptyLog is returned by [Bridge.Archive] when there is nothing to
	// archive.
	ErrEmptyLog = errors.New("archive: message log is empty")

	// ErrNoSession is returned by [Bridge.Archive] when the conversation was
	// never persisted and therefore has no session id.
	ErrNoSession = errors.New("archive: no persisted session")

	// ErrOpenSessionExists is returned by [Store.Create] when the lesson
	// already has an open session.
	ErrOpenSessionExists = errors.New("archive: lesson already has an open session")

	// ErrArchived is returned when the messages of an archived session are
	// about to be rewritten.
	ErrArchived = errors.New("archive: session is archived")
)

// ArchiveError wraps a failed store operation. The in-memory log stays the
// source of truth when one is reported.
type ArchiveError struct {
	Op  string
	Err error
}

func (e *ArchiveError) Error() string {
	return "archive: " + e.Op + ": " + e.Err.Error()
}

func (e *ArchiveError) Unwrap() error { return e.Err }

// Sender identifies who produced a message.
type Sender string

const (
	SenderUser      Sender = "user"
	SenderAssistant Sender = "assistant"
)

// Message is one entry of the conversation. Text grows while its turn is open;
// ID never changes.
type Message struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	Sender    Sender    `json:"sender"`
	Timestamp time.Time `json:"timestamp"`
}

// NewMessage returns a message with a fresh time-ordered id.
func NewMessage(sender Sender, text string, at time.Time) Message {
	return Message{
		ID:        uuid.Must(uuid.NewV7()).String(),
		Text:      text,
		Sender:    sender,
		Timestamp: at,
	}
}

// Session is the persisted form of one lesson conversation.
type Session struct {
	ID         string    `json:"id"`
	LessonID   string    `json:"lessonId"`
	CourseID   string    `json:"courseId"`
	Title      string    `json:"title"`
	Version    string    `json:"version"`
	Messages   []Message `json:"messages"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
	IsArchived bool      `json:"isArchived"`
}

// LessonRef names the lesson a conversation belongs to.
type LessonRef struct {
	CourseID    string
	LessonID    string
	CourseTitle string
	LessonTitle string
}

// Valid reports whether both ids are present.
func (l LessonRef) Valid() bool { return l.CourseID != "" && l.LessonID != "" }

// DefaultTitle is the title a freshly created session receives.
func (l LessonRef) DefaultTitle() string {
	return l.CourseTitle + " - " + l.LessonTitle
}

// ArchiveMeta marks a session archived under a final title and version.
type ArchiveMeta struct {
	Title   string
	Version string
}

// Patch is a partial session update. Nil fields are left unchanged.
type Patch struct {
	Messages  []Message
	Archive   *ArchiveMeta
	UpdatedAt time.Time
}

// Store is the chat session archive.
//
// Implementations must be safe for concurrent use.
type Store interface {
	// Create inserts s and returns its assigned id. s.ID is ignored. Returns
	// [ErrOpenSessionExists] if s is open and the lesson already has an open
	// session.
	Create(ctx context.Context, s Session) (string, error)

	// Update applies p to the session with id. Returns [ErrNotFound] if it
	// does not exist and [ErrArchived] if p carries messages for a session
	// that is already archived.
	Update(ctx context.Context, id string, p Patch) error

	// Get returns the session with id or [ErrNotFound].
	Get(ctx context.Context, id string) (Session, error)

	// FindOpen returns the open session of the lesson or [ErrNotFound].
	FindOpen(ctx context.Context, lessonID string) (Session, error)

	// ListArchived returns the archived sessions of the lesson, most recently
	// updated first.
	ListArchived(ctx context.Context, lessonID string) ([]Session, error)

	// Delete removes the session permanently. Deleting a missing id is not an
	// error.
	Delete(ctx context.Context, id string) error

	// DeleteByCourse removes every session of the course.
	DeleteByCourse(ctx context.Context, courseID string) error
}

// KV is a small string key/value store for settings and resume pointers.
type KV interface {
	// Get returns the value under key. ok is false when the key is absent.
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
}
