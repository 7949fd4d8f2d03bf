package app

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/didata-ai/didata/internal/archive"
	"github.com/didata-ai/didata/internal/course"
	"github.com/didata-ai/didata/internal/live"
	"github.com/didata-ai/didata/internal/observe"
	"github.com/didata-ai/didata/internal/settings"
	"github.com/didata-ai/didata/internal/textgen"
)

// ErrNoLessonOpen is returned by lesson-scoped operations before
// [App.OpenLesson] or [App.Resume] succeeded.
var ErrNoLessonOpen = errors.New("app: no lesson open")

// ─── Lesson selection ────────────────────────────────────────────────────────

// OpenLesson selects a lesson: the course is marked accessed, the lesson's
// open conversation is loaded into the log and the resume pointer is saved.
// An empty lessonID opens the first lesson of the course.
func (a *App) OpenLesson(ctx context.Context, courseID, lessonID string) (_ live.LessonContext, err error) {
	ctx, span := observe.StartLessonSpan(ctx, "lesson.open", courseID, lessonID)
	defer func() { observe.EndSpan(span, err) }()

	c, err := a.catalog.Get(ctx, courseID)
	if err != nil {
		return live.LessonContext{}, fmt.Errorf("app: open course %q: %w", courseID, err)
	}
	l, ok := c.Lesson(lessonID)
	if lessonID == "" {
		l, ok = c.FirstLesson()
	}
	if !ok {
		return live.LessonContext{}, fmt.Errorf("app: lesson %q not in course %q: %w", lessonID, courseID, course.ErrNotFound)
	}
	ref, _ := c.Ref(l.ID)
	if err := a.bridge.SwitchLesson(ctx, ref); err != nil {
		return live.LessonContext{}, err
	}
	if err := archive.SaveLastSession(ctx, a.kv, archive.LastSession{CourseID: c.ID, LessonID: l.ID}); err != nil {
		a.logger.Warn("could not save resume pointer", "err", err)
	}

	lc := live.LessonContext{
		CourseID:    c.ID,
		CourseTitle: c.Title,
		LessonID:    l.ID,
		LessonTitle: l.Title,
		Content:     l.Content,
	}
	a.mu.Lock()
	a.lesson = lc
	a.mu.Unlock()
	a.logger.Info("lesson opened", "course_id", c.ID, "lesson_id", l.ID, "trace_id", observe.CorrelationID(ctx))
	return lc, nil
}

// Resume reopens the lesson recorded by the last [App.OpenLesson]. ok is
// false when nothing was recorded or the course no longer exists.
func (a *App) Resume(ctx context.Context) (lc live.LessonContext, ok bool, err error) {
	last, found, err := archive.LoadLastSession(ctx, a.kv)
	if err != nil || !found {
		return live.LessonContext{}, false, err
	}
	lc, err = a.OpenLesson(ctx, last.CourseID, last.LessonID)
	if errors.Is(err, course.ErrNotFound) {
		a.logger.Info("resume pointer is stale", "course_id", last.CourseID, "lesson_id", last.LessonID)
		return live.LessonContext{}, false, nil
	}
	if err != nil {
		return live.LessonContext{}, false, err
	}
	return lc, true, nil
}

// Lesson returns the open lesson.
func (a *App) Lesson() live.LessonContext {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lesson
}

// Transcript returns the conversation log of the open lesson.
func (a *App) Transcript() []archive.Message {
	msgs, _ := a.log.Snapshot()
	return msgs
}

// ─── Courses ─────────────────────────────────────────────────────────────────

// GenerateCourse asks the text model for a course built from source and
// saves it.
func (a *App) GenerateCourse(ctx context.Context, source string) (*course.Course, error) {
	if a.text == nil {
		return nil, ErrNoText
	}
	c, err := a.text.GenerateCourseStructure(ctx, source)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, fmt.Errorf("%w: course structure", ErrGeneration)
	}
	if _, err := a.catalog.Add(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

// ImportCourse adds a previously exported course document.
func (a *App) ImportCourse(ctx context.Context, r io.Reader) (*course.Course, error) {
	return a.catalog.Import(ctx, r)
}

// ExportCourse writes the course as JSON to w and returns the suggested file
// name.
func (a *App) ExportCourse(ctx context.Context, id string, w io.Writer) (string, error) {
	return a.catalog.Export(ctx, id, w)
}

// Courses lists every course, most recently accessed first.
func (a *App) Courses(ctx context.Context) ([]*course.Course, error) {
	return a.catalog.List(ctx)
}

// DeleteCourse removes a course and all its conversations. If it is the open
// course, the selection is cleared.
func (a *App) DeleteCourse(ctx context.Context, id string) error {
	if err := a.catalog.Delete(ctx, id); err != nil {
		return err
	}
	a.mu.Lock()
	open := a.lesson.CourseID == id
	if open {
		a.lesson = live.LessonContext{}
	}
	a.mu.Unlock()
	if open {
		return a.bridge.SwitchLesson(ctx, archive.LessonRef{})
	}
	return nil
}

// ─── Lesson content ──────────────────────────────────────────────────────────

// GenerateLesson writes fresh content for one lesson. The fallback message
// of a failed generation is returned with [ErrGeneration] and not saved.
func (a *App) GenerateLesson(ctx context.Context, courseID, lessonID string) (string, error) {
	if a.text == nil {
		return "", ErrNoText
	}
	c, err := a.catalog.Get(ctx, courseID)
	if err != nil {
		return "", err
	}
	l, ok := c.Lesson(lessonID)
	if !ok {
		return "", fmt.Errorf("app: lesson %q not in course %q: %w", lessonID, courseID, course.ErrNotFound)
	}
	content := a.text.GenerateLessonContent(ctx, l.Title)
	if content == textgen.LessonErrorText || content == textgen.EmptyLessonText {
		return content, fmt.Errorf("%w: lesson %q", ErrGeneration, l.Title)
	}
	if _, err := a.catalog.SetLessonContent(ctx, courseID, lessonID, content); err != nil {
		return "", err
	}
	a.refreshLesson(courseID, lessonID, content)
	return content, nil
}

// GeneratePendingLessons fills every lesson still holding its placeholder,
// up to tutor.lesson_workers at a time. It returns how many were saved.
func (a *App) GeneratePendingLessons(ctx context.Context, courseID string) (int, error) {
	if a.text == nil {
		return 0, ErrNoText
	}
	c, err := a.catalog.Get(ctx, courseID)
	if err != nil {
		return 0, err
	}
	contents, err := a.text.GeneratePendingLessons(ctx, c, a.cfg.Tutor.LessonWorkers)
	if err != nil {
		return 0, err
	}
	for id, content := range contents {
		l, _ := c.Lesson(id)
		l.Content = content
		a.refreshLesson(courseID, id, content)
	}
	if len(contents) == 0 {
		return 0, nil
	}
	if err := a.catalog.Update(ctx, c); err != nil {
		return 0, err
	}
	return len(contents), nil
}

// Search answers query from the content of one lesson.
func (a *App) Search(ctx context.Context, courseID, lessonID, query string) (string, error) {
	if a.text == nil {
		return "", ErrNoText
	}
	c, err := a.catalog.Get(ctx, courseID)
	if err != nil {
		return "", err
	}
	l, ok := c.Lesson(lessonID)
	if !ok {
		return "", fmt.Errorf("app: lesson %q not in course %q: %w", lessonID, courseID, course.ErrNotFound)
	}
	return a.text.SearchInContent(ctx, query, l.Content), nil
}

// refreshLesson keeps the open lesson's content current.
func (a *App) refreshLesson(courseID, lessonID, content string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.lesson.CourseID == courseID && a.lesson.LessonID == lessonID {
		a.lesson.Content = content
	}
}

// ─── Conversation archive ────────────────────────────────────────────────────

// Archive closes the open lesson's conversation under title and starts a
// fresh one.
func (a *App) Archive(ctx context.Context, title string) (archive.Session, error) {
	if !a.Lesson().Valid() {
		return archive.Session{}, ErrNoLessonOpen
	}
	return a.bridge.Archive(ctx, title, a.version)
}

// History lists the open lesson's archived conversations, newest first.
func (a *App) History(ctx context.Context) ([]archive.Session, error) {
	if !a.Lesson().Valid() {
		return nil, ErrNoLessonOpen
	}
	return a.bridge.History(ctx)
}

// DeleteSession removes one conversation.
func (a *App) DeleteSession(ctx context.Context, id string) error {
	return a.bridge.Delete(ctx, id)
}

// RestoreSession loads an archived conversation for reading.
func (a *App) RestoreSession(ctx context.Context, id string) (archive.Session, error) {
	return a.bridge.Restore(ctx, id)
}

// ─── Settings ────────────────────────────────────────────────────────────────

// Settings returns the learner preferences.
func (a *App) Settings() settings.Settings { return a.settings.Get() }

// SetVoice persists the selected voice.
func (a *App) SetVoice(ctx context.Context, voice string) error {
	return a.settings.SetVoice(ctx, voice)
}
