// Package textgen generates courses, lessons and search answers with a text
// model.
//
// The three operations never surface model or transport failures: a failed
// course generation yields a nil course, lesson and search yield fixed
// Portuguese fallback messages. Failures are logged and counted.
package textgen

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/didata-ai/didata/internal/course"
	"github.com/didata-ai/didata/internal/observe"
	"github.com/didata-ai/didata/pkg/provider/llm"
)

// Default models per operation.
const (
	DefaultStructureModel = "gemini-3-flash-preview"
	DefaultLessonModel    = "gemini-3-pro-preview"
	DefaultSearchModel    = "gemini-3-flash-preview"
)

// Operation labels used for metrics and logs.
const (
	OpStructure = "structure"
	OpLesson    = "lesson"
	OpSearch    = "search"
)

var errMalformed = errors.New("textgen: malformed course outline")

// Models selects the model per operation. Empty fields keep the defaults.
type Models struct {
	Structure string
	Lesson    string
	Search    string
}

// Option configures a [Service].
type Option func(*Service)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.log = l }
}

// WithMetrics records per-operation latency.
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithModels overrides the per-operation models.
func WithModels(m Models) Option {
	return func(s *Service) {
		if m.Structure != "" {
			s.models.Structure = m.Structure
		}
		if m.Lesson != "" {
			s.models.Lesson = m.Lesson
		}
		if m.Search != "" {
			s.models.Search = m.Search
		}
	}
}

// WithClock replaces time.Now for course timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// Service is the text generation service.
type Service struct {
	provider llm.Provider
	models   Models
	log      *slog.Logger
	metrics  *observe.Metrics
	now      func() time.Time
}

// New creates a Service over provider.
func New(provider llm.Provider, opts ...Option) *Service {
	s := &Service{
		provider: provider,
		models: Models{
			Structure: DefaultStructureModel,
			Lesson:    DefaultLessonModel,
			Search:    DefaultSearchModel,
		},
		log: slog.Default(),
		now: time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	s.log = s.log.With("component", "textgen")
	return s
}

// GenerateCourseStructure turns source text into a course outline with ids,
// placeholder lesson content and timestamps assigned.
//
// A model failure or malformed reply yields (nil, nil). The only error
// returned is ctx's when it ends first.
func (s *Service) GenerateCourseStructure(ctx context.Context, source string) (*course.Course, error) {
	start := time.Now()
	ctx, span := observe.StartSpan(ctx, "textgen."+OpStructure)
	var failure error
	defer func() {
		s.metrics.RecordTextGen(ctx, OpStructure, time.Since(start))
		observe.EndSpan(span, failure)
	}()

	resp, err := s.provider.Complete(ctx, llm.CompletionRequest{
		Model:          s.models.Structure,
		Prompt:         coursePrompt(source),
		ResponseSchema: courseSchema,
	})
	if err != nil {
		failure = err
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		s.log.Error("generate course structure", "err", err)
		return nil, nil
	}

	outline, err := parseOutline(replyText(resp))
	if err != nil {
		failure = err
		s.log.Error("generate course structure", "err", err)
		return nil, nil
	}
	c := course.FromOutline(outline, s.now())
	s.log.Info("course generated", "course_id", c.ID, "modules", len(c.Modules))
	return c, nil
}

// GenerateLessonContent writes the Markdown content of a lesson.
func (s *Service) GenerateLessonContent(ctx context.Context, lessonTitle string) string {
	start := time.Now()
	ctx, span := observe.StartSpan(ctx, "textgen."+OpLesson)
	defer func() { s.metrics.RecordTextGen(ctx, OpLesson, time.Since(start)) }()

	resp, err := s.provider.Complete(ctx, llm.CompletionRequest{
		Model:          s.models.Lesson,
		Prompt:         lessonPrompt(lessonTitle),
		ThinkingBudget: LessonThinkingBudget,
	})
	observe.EndSpan(span, err)
	if err != nil {
		s.log.Error("generate lesson content", "lesson", lessonTitle, "err", err)
		return LessonErrorText
	}
	if text := replyText(resp); text != "" {
		return text
	}
	return EmptyLessonText
}

// SearchInContent answers query using content as the only source.
func (s *Service) SearchInContent(ctx context.Context, query, content string) string {
	start := time.Now()
	ctx, span := observe.StartSpan(ctx, "textgen."+OpSearch)
	defer func() { s.metrics.RecordTextGen(ctx, OpSearch, time.Since(start)) }()

	resp, err := s.provider.Complete(ctx, llm.CompletionRequest{
		Model:  s.models.Search,
		Prompt: searchPrompt(query, content),
	})
	observe.EndSpan(span, err)
	if err != nil {
		s.log.Error("search in content", "query", query, "err", err)
		return SearchErrorText
	}
	if text := replyText(resp); text != "" {
		return text
	}
	return EmptySearchText
}

// GeneratePendingLessons generates content for every lesson of c that still
// holds its placeholder, at most concurrency at a time. It returns the new
// content keyed by lesson id. Lessons whose generation fell back to an error
// text are left out so they stay pending.
func (s *Service) GeneratePendingLessons(ctx context.Context, c *course.Course, concurrency int) (map[string]string, error) {
	if concurrency <= 0 {
		concurrency = 1
	}

	var (
		mu  sync.Mutex
		out = make(map[string]string)
	)
	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(concurrency)

	for _, m := range c.Modules {
		for _, l := range m.Lessons {
			if l.Content != course.PlaceholderContent(l.Title) {
				continue
			}
			eg.Go(func() error {
				text := s.GenerateLessonContent(egCtx, l.Title)
				if err := egCtx.Err(); err != nil {
					return err
				}
				if text == LessonErrorText || text == EmptyLessonText {
					return nil
				}
				mu.Lock()
				out[l.ID] = text
				mu.Unlock()
				return nil
			})
		}
	}
	if err := eg.Wait(); err != nil {
		return out, err
	}
	return out, nil
}

func replyText(resp *llm.CompletionResponse) string {
	if resp == nil {
		return ""
	}
	return resp.Content
}

// outlineWire mirrors course.Outline with slices that stay nil when the key is
// missing, so absent modules or lessons can be told from empty ones.
type outlineWire struct {
	Topic       string `json:"topic"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Modules     []struct {
		Title   string                 `json:"title"`
		Lessons []course.OutlineLesson `json:"lessons"`
	} `json:"modules"`
}

// parseOutline decodes a model reply, tolerating a Markdown code fence around
// the JSON.
func parseOutline(text string) (course.Outline, error) {
	text = stripFence(text)
	if text == "" {
		text = "{}"
	}

	var w outlineWire
	if err := json.Unmarshal([]byte(text), &w); err != nil {
		return course.Outline{}, errors.Join(errMalformed, err)
	}
	if w.Modules == nil {
		return course.Outline{}, errors.Join(errMalformed, errors.New("modules missing"))
	}

	o := course.Outline{
		Topic:       w.Topic,
		Title:       w.Title,
		Description: w.Description,
		Modules:     make([]course.OutlineModule, 0, len(w.Modules)),
	}
	for _, m := range w.Modules {
		if m.Lessons == nil {
			return course.Outline{}, errors.Join(errMalformed, fmt.Errorf("lessons missing in module %q", m.Title))
		}
		o.Modules = append(o.Modules, course.OutlineModule{Title: m.Title, Lessons: m.Lessons})
	}
	return o, nil
}

// stripFence removes a leading ```json or ``` line and a trailing ``` line.
func stripFence(text string) string {
	clean := strings.TrimSpace(text)
	var rest string
	switch {
	case strings.HasPrefix(clean, "```json"):
		rest = strings.TrimPrefix(clean, "```json")
	case strings.HasPrefix(clean, "```"):
		rest = strings.TrimPrefix(clean, "```")
	default:
		return clean
	}
	rest = strings.TrimPrefix(rest, "\n")
	rest = strings.TrimSuffix(rest, "```")
	rest = strings.TrimSuffix(rest, "\n")
	return rest
}
