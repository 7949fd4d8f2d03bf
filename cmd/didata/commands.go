package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"text/tabwriter"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/didata-ai/didata/internal/app"
	"github.com/didata-ai/didata/internal/archive"
	"github.com/didata-ai/didata/internal/config"
	"github.com/didata-ai/didata/internal/live"
	"github.com/didata-ai/didata/internal/settings"
	"github.com/didata-ai/didata/internal/visual"
)

type providerNeed int

const (
	noProviders providerNeed = iota
	optionalProviders
	requiredProviders
)

type command struct {
	summary   string
	providers providerNeed
	run       func(ctx context.Context, e *env, args []string) error
}

var commands = map[string]command{
	"live":           {"start a spoken lesson (resumes the last one by default)", requiredProviders, runLive},
	"import":         {"create a course from a text file, or import an exported .json", optionalProviders, runImport},
	"lesson":         {"generate lesson content (-all for every pending lesson)", requiredProviders, runLesson},
	"search":         {"answer a question from a lesson's content", requiredProviders, runSearch},
	"history":        {"list archived conversations of a lesson (-show ID to print one)", noProviders, runHistory},
	"archive":        {"archive the open conversation of a lesson and start fresh", noProviders, runArchive},
	"delete-session": {"delete a conversation by id", noProviders, runDeleteSession},
	"courses":        {"list courses, most recently used first", noProviders, runCourses},
	"delete-course":  {"delete a course and its conversations", noProviders, runDeleteCourse},
	"export":         {"write a course as JSON", noProviders, runExport},
	"voice":          {"show or select the tutor voice", noProviders, runVoice},
}

var commandOrder = []string{
	"live", "import", "lesson", "search", "history", "archive",
	"delete-session", "courses", "delete-course", "export", "voice",
}

// env is shared by all commands.
type env struct {
	cfg        *config.Config
	configPath string
	stdout     io.Writer
	providers  *app.Providers
	opts       []app.Option

	app *app.App
}

// open builds the App once.
func (e *env) open(ctx context.Context) (*app.App, error) {
	if e.app != nil {
		return e.app, nil
	}
	a, err := app.New(ctx, e.cfg, e.providers, e.opts...)
	if err != nil {
		return nil, err
	}
	e.app = a
	return a, nil
}

// lessonFlags registers -course and -lesson on fs.
func lessonFlags(fs *flag.FlagSet) (courseID, lessonID *string) {
	courseID = fs.String("course", "", "course id (default: the last opened course)")
	lessonID = fs.String("lesson", "", "lesson id (default: the first lesson, or the last opened one)")
	return courseID, lessonID
}

// selectLesson opens the named lesson, or resumes the last one when no
// course is given.
func selectLesson(ctx context.Context, a *app.App, courseID, lessonID string) (live.LessonContext, error) {
	if courseID != "" {
		return a.OpenLesson(ctx, courseID, lessonID)
	}
	lc, ok, err := a.Resume(ctx)
	if err != nil {
		return live.LessonContext{}, err
	}
	if !ok {
		return live.LessonContext{}, errors.New("no lesson to resume; pass -course")
	}
	return lc, nil
}

func newFlagSet(name string, e *env) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(e.stdout)
	return fs
}

// ── live ─────────────────────────────────────────────────────────────────────

func runLive(ctx context.Context, e *env, args []string) error {
	fs := newFlagSet("live", e)
	courseID, lessonID := lessonFlags(fs)
	dev := deviceFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}

	mic, output, err := dev.open()
	if err != nil {
		return err
	}
	e.providers.Mic, e.providers.Output = mic, output

	a, err := e.open(ctx)
	if err != nil {
		return err
	}
	lc, err := selectLesson(ctx, a, *courseID, *lessonID)
	if err != nil {
		return err
	}
	fmt.Fprintf(e.stdout, "%s · %s (voz %s)\n", lc.CourseTitle, lc.LessonTitle, a.Settings().VoiceName)
	printTranscript(e.stdout, a.Transcript())

	if watcher, err := config.NewWatcher(e.configPath, a.ApplyConfig); err == nil {
		defer watcher.Stop()
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.ServeAdmin(gctx) })
	g.Go(func() error {
		defer cancel()
		r := &liveRenderer{w: e.stdout, app: a}
		err := a.RunLive(gctx, r.render, visual.WithInterval(50*time.Millisecond))
		r.finish()
		return err
	})
	err = g.Wait()
	printTranscript(e.stdout, a.Transcript())
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// liveRenderer draws one status line and prints conversation messages as
// they settle.
type liveRenderer struct {
	w       io.Writer
	app     *app.App
	version uint64
	printed int
	line    string
}

func (r *liveRenderer) render(v app.View) {
	if v.LogVersion != r.version {
		r.version = v.LogVersion
		msgs := r.app.Transcript()
		// The last message may still grow; print everything before it.
		for r.printed < len(msgs)-1 {
			r.clear()
			printMessage(r.w, msgs[r.printed])
			r.printed++
		}
	}
	text := v.Status.Text
	if v.Status.Transcript != "" {
		text += " · " + v.Status.Transcript
	}
	line := visual.Meter(v.Frame, 24) + " " + text
	if line != r.line {
		r.clear()
		fmt.Fprint(r.w, line)
		r.line = line
	}
}

func (r *liveRenderer) clear() {
	if r.line != "" {
		fmt.Fprint(r.w, "\r\x1b[2K")
		r.line = ""
	}
}

func (r *liveRenderer) finish() {
	r.clear()
	fmt.Fprintln(r.w, r.app.LiveStatus().Text)
}

// ── import ───────────────────────────────────────────────────────────────────

func runImport(ctx context.Context, e *env, args []string) error {
	fs := newFlagSet("import", e)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errors.New("usage: didata import <file|->")
	}
	path := fs.Arg(0)
	data, err := readInput(path)
	if err != nil {
		return err
	}

	a, err := e.open(ctx)
	if err != nil {
		return err
	}
	if strings.EqualFold(filepath.Ext(path), ".json") {
		imported, err := a.ImportCourse(ctx, strings.NewReader(string(data)))
		if err != nil {
			return err
		}
		fmt.Fprintf(e.stdout, "imported %s %q\n", imported.ID, imported.Title)
		return nil
	}
	generated, err := a.GenerateCourse(ctx, string(data))
	if err != nil {
		return err
	}
	fmt.Fprintf(e.stdout, "created %s %q\n", generated.ID, generated.Title)
	for _, m := range generated.Modules {
		fmt.Fprintf(e.stdout, "  %s\n", m.Title)
		for _, l := range m.Lessons {
			fmt.Fprintf(e.stdout, "    %-10s %s\n", l.ID, l.Title)
		}
	}
	return nil
}

func readInput(path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(path)
}

// ── lesson ───────────────────────────────────────────────────────────────────

func runLesson(ctx context.Context, e *env, args []string) error {
	fs := newFlagSet("lesson", e)
	courseID, lessonID := lessonFlags(fs)
	all := fs.Bool("all", false, "generate every lesson that still has placeholder content")
	if err := fs.Parse(args); err != nil {
		return err
	}
	a, err := e.open(ctx)
	if err != nil {
		return err
	}

	if *all {
		id := *courseID
		if id == "" {
			lc, err := selectLesson(ctx, a, "", "")
			if err != nil {
				return err
			}
			id = lc.CourseID
		}
		n, err := a.GeneratePendingLessons(ctx, id)
		if err != nil {
			return err
		}
		fmt.Fprintf(e.stdout, "generated %d lessons\n", n)
		return nil
	}

	lc, err := selectLesson(ctx, a, *courseID, *lessonID)
	if err != nil {
		return err
	}
	content, err := a.GenerateLesson(ctx, lc.CourseID, lc.LessonID)
	fmt.Fprintln(e.stdout, content)
	return err
}

// ── search ───────────────────────────────────────────────────────────────────

func runSearch(ctx context.Context, e *env, args []string) error {
	fs := newFlagSet("search", e)
	courseID, lessonID := lessonFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	query := strings.TrimSpace(strings.Join(fs.Args(), " "))
	if query == "" {
		return errors.New("usage: didata search [-course ID] [-lesson ID] <question>")
	}
	a, err := e.open(ctx)
	if err != nil {
		return err
	}
	lc, err := selectLesson(ctx, a, *courseID, *lessonID)
	if err != nil {
		return err
	}
	answer, err := a.Search(ctx, lc.CourseID, lc.LessonID, query)
	if err != nil {
		return err
	}
	fmt.Fprintln(e.stdout, answer)
	return nil
}

// ── history / archive / delete-session ───────────────────────────────────────

func runHistory(ctx context.Context, e *env, args []string) error {
	fs := newFlagSet("history", e)
	courseID, lessonID := lessonFlags(fs)
	show := fs.String("show", "", "print the conversation with this id")
	if err := fs.Parse(args); err != nil {
		return err
	}
	a, err := e.open(ctx)
	if err != nil {
		return err
	}

	if *show != "" {
		sess, err := a.RestoreSession(ctx, *show)
		if err != nil {
			return err
		}
		fmt.Fprintf(e.stdout, "%s (v%s, %s)\n", sess.Title, sess.Version, sess.UpdatedAt.Format(time.DateTime))
		printTranscript(e.stdout, sess.Messages)
		return nil
	}

	if _, err := selectLesson(ctx, a, *courseID, *lessonID); err != nil {
		return err
	}
	sessions, err := a.History(ctx)
	if err != nil {
		return err
	}
	if len(sessions) == 0 {
		fmt.Fprintln(e.stdout, "no archived conversations")
		return nil
	}
	tw := tabwriter.NewWriter(e.stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTITLE\tVERSION\tMESSAGES\tUPDATED")
	for _, s := range sessions {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n", s.ID, s.Title, s.Version, len(s.Messages), s.UpdatedAt.Format(time.DateTime))
	}
	return tw.Flush()
}

func runArchive(ctx context.Context, e *env, args []string) error {
	fs := newFlagSet("archive", e)
	courseID, lessonID := lessonFlags(fs)
	title := fs.String("title", "", "archive title (default: \"<course> - <lesson>\")")
	if err := fs.Parse(args); err != nil {
		return err
	}
	a, err := e.open(ctx)
	if err != nil {
		return err
	}
	if _, err := selectLesson(ctx, a, *courseID, *lessonID); err != nil {
		return err
	}
	sess, err := a.Archive(ctx, *title)
	if errors.Is(err, archive.ErrEmptyLog) {
		fmt.Fprintln(e.stdout, "nothing to archive")
		return nil
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(e.stdout, "archived %s %q (%d messages)\n", sess.ID, sess.Title, len(sess.Messages))
	return nil
}

func runDeleteSession(ctx context.Context, e *env, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: didata delete-session <id>")
	}
	a, err := e.open(ctx)
	if err != nil {
		return err
	}
	return a.DeleteSession(ctx, args[0])
}

// ── courses / delete-course / export ─────────────────────────────────────────

func runCourses(ctx context.Context, e *env, args []string) error {
	fs := newFlagSet("courses", e)
	lessons := fs.Bool("lessons", false, "also list modules and lessons")
	if err := fs.Parse(args); err != nil {
		return err
	}
	a, err := e.open(ctx)
	if err != nil {
		return err
	}
	cs, err := a.Courses(ctx)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(e.stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTITLE\tMODULES\tLAST ACCESS")
	for _, c := range cs {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", c.ID, c.Title, len(c.Modules), c.LastAccess.Time().Format(time.DateTime))
		if !*lessons {
			continue
		}
		for _, m := range c.Modules {
			fmt.Fprintf(tw, "\t  %s\t\t\n", m.Title)
			for _, l := range m.Lessons {
				fmt.Fprintf(tw, "\t    %s  %s\t\t\n", l.ID, l.Title)
			}
		}
	}
	return tw.Flush()
}

func runDeleteCourse(ctx context.Context, e *env, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: didata delete-course <id>")
	}
	a, err := e.open(ctx)
	if err != nil {
		return err
	}
	return a.DeleteCourse(ctx, args[0])
}

func runExport(ctx context.Context, e *env, args []string) error {
	fs := newFlagSet("export", e)
	out := fs.String("o", "", "output file (default: derived from the course title; - for stdout)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errors.New("usage: didata export [-o file] <course id>")
	}
	a, err := e.open(ctx)
	if err != nil {
		return err
	}

	if *out == "-" {
		_, err := a.ExportCourse(ctx, fs.Arg(0), e.stdout)
		return err
	}
	var buf strings.Builder
	name, err := a.ExportCourse(ctx, fs.Arg(0), &buf)
	if err != nil {
		return err
	}
	path := *out
	if path == "" {
		path = name
	}
	if err := os.WriteFile(path, []byte(buf.String()), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	fmt.Fprintf(e.stdout, "wrote %s\n", path)
	return nil
}

// ── voice ────────────────────────────────────────────────────────────────────

func runVoice(ctx context.Context, e *env, args []string) error {
	a, err := e.open(ctx)
	if err != nil {
		return err
	}
	if len(args) == 0 {
		current := a.Settings().VoiceName
		for _, v := range settings.Voices() {
			mark := " "
			if v == current {
				mark = "*"
			}
			fmt.Fprintf(e.stdout, "%s %s\n", mark, v)
		}
		return nil
	}
	if !slices.Contains(settings.Voices(), args[0]) {
		return fmt.Errorf("unknown voice %q (want one of %s)", args[0], strings.Join(settings.Voices(), ", "))
	}
	if err := a.SetVoice(ctx, args[0]); err != nil {
		return err
	}
	fmt.Fprintf(e.stdout, "voice set to %s\n", args[0])
	return nil
}

// ── Output helpers ───────────────────────────────────────────────────────────

func printTranscript(w io.Writer, msgs []archive.Message) {
	for _, m := range msgs {
		printMessage(w, m)
	}
}

func printMessage(w io.Writer, m archive.Message) {
	who := "você"
	if m.Sender == archive.SenderAssistant {
		who = "tutor"
	}
	fmt.Fprintf(w, "[%s] %s: %s\n", m.Timestamp.Format(time.TimeOnly), who, m.Text)
}
