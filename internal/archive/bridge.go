package archive

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/didata-ai/didata/internal/observe"
)

// finalFlushTimeout bounds the last persist performed by [Bridge.Close].
const finalFlushTimeout = 5 * time.Second

// BridgeOption configures a [Bridge].
type BridgeOption func(*Bridge)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) BridgeOption {
	return func(b *Bridge) { b.logger = l }
}

// WithMetrics records archive operations on m.
func WithMetrics(m *observe.Metrics) BridgeOption {
	return func(b *Bridge) { b.metrics = m }
}

// WithClock replaces time.Now for timestamps.
func WithClock(now func() time.Time) BridgeOption {
	return func(b *Bridge) { b.now = now }
}

// Bridge mirrors a [Log] into a [Store] for the currently selected lesson.
//
// Store round trips are serialized: the background worker started by
// [Bridge.Start] and the explicit operations (Persist, SwitchLesson, Archive)
// never interleave. Log changes are coalesced; a burst of transcript deltas
// results in as few writes as the store latency allows.
type Bridge struct {
	store   Store
	log     *Log
	logger  *slog.Logger
	metrics *observe.Metrics
	now     func() time.Time

	signal chan struct{}

	// opMu serializes store round trips. Acquire before mu.
	opMu sync.Mutex

	mu        sync.Mutex
	lesson    LessonRef
	sessionID string
	persisted uint64 // log version last mirrored (or deliberately skipped)

	startOnce sync.Once
	closeOnce sync.Once
	cancel    context.CancelFunc
	done      chan struct{}
}

// NewBridge returns a Bridge writing log to store. No lesson is selected
// until [Bridge.SwitchLesson].
func NewBridge(store Store, log *Log, opts ...BridgeOption) *Bridge {
	b := &Bridge{
		store:  store,
		log:    log,
		logger: slog.Default(),
		now:    time.Now,
		signal: make(chan struct{}, 1),
	}
	for _, o := range opts {
		o(b)
	}
	b.logger = b.logger.With("component", "archive")
	log.OnChange(func(uint64) {
		select {
		case b.signal <- struct{}{}:
		default:
		}
	})
	return b
}

// Log returns the conversation log the bridge mirrors.
func (b *Bridge) Log() *Log { return b.log }

// Lesson returns the selected lesson.
func (b *Bridge) Lesson() LessonRef {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lesson
}

// SessionID returns the id of the open session backing the log, or "" if the
// conversation has not been persisted yet.
func (b *Bridge) SessionID() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sessionID
}

// ── Background worker ───────────────────────────────────────────────────────

// Start launches the persist worker. It runs until ctx is cancelled or
// [Bridge.Close] is called. Calling Start more than once has no effect.
func (b *Bridge) Start(ctx context.Context) {
	b.startOnce.Do(func() {
		ctx, b.cancel = context.WithCancel(ctx)
		b.done = make(chan struct{})
		go b.run(ctx)
	})
}

func (b *Bridge) run(ctx context.Context) {
	defer close(b.done)
	for {
		select {
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalFlushTimeout)
			_ = b.Persist(flushCtx)
			cancel()
			return
		case <-b.signal:
			_ = b.Persist(ctx)
		}
	}
}

// Close stops the worker after a final flush. It is safe to call multiple
// times and without a prior Start.
func (b *Bridge) Close() error {
	b.closeOnce.Do(func() {
		b.startOnce.Do(func() {})
		if b.cancel == nil {
			return
		}
		b.cancel()
		<-b.done
	})
	return nil
}

// ── Operations ──────────────────────────────────────────────────────────────

// Persist mirrors the current log into the store: it updates the known
// session, or adopts the lesson's open session, or creates one titled
// "<course> - <lesson>". An empty log or unselected lesson is a no-op.
// Failures are logged and returned as [*ArchiveError].
func (b *Bridge) Persist(ctx context.Context) error {
	b.opMu.Lock()
	defer b.opMu.Unlock()
	return b.persistLocked(ctx)
}

func (b *Bridge) persistLocked(ctx context.Context) error {
	b.mu.Lock()
	lesson, id, persisted := b.lesson, b.sessionID, b.persisted
	b.mu.Unlock()

	msgs, version := b.log.Snapshot()
	if version == persisted {
		return nil
	}
	if len(msgs) == 0 || !lesson.Valid() {
		b.commit(lesson, id, version)
		return nil
	}

	now := b.now()
	if id != "" {
		err := b.store.Update(ctx, id, Patch{Messages: msgs, UpdatedAt: now})
		switch {
		case err == nil:
			b.commit(lesson, id, version)
			b.metrics.RecordArchiveOp(ctx, "persist", "ok")
			return nil
		case errors.Is(err, ErrNotFound), errors.Is(err, ErrArchived):
			b.logger.Info("open session vanished, re-resolving", "session_id", id, "err", err)
		default:
			return b.fail(ctx, "persist", "update session", err)
		}
	}

	id, err := b.adoptOrCreate(ctx, lesson, msgs, now)
	if err != nil {
		return err
	}
	b.commit(lesson, id, version)
	b.metrics.RecordArchiveOp(ctx, "persist", "ok")
	return nil
}

func (b *Bridge) adoptOrCreate(ctx context.Context, lesson LessonRef, msgs []Message, now time.Time) (string, error) {
	for range 2 {
		open, err := b.store.FindOpen(ctx, lesson.LessonID)
		if err == nil {
			if err := b.store.Update(ctx, open.ID, Patch{Messages: msgs, UpdatedAt: now}); err != nil {
				return "", b.fail(ctx, "persist", "update session", err)
			}
			b.logger.Debug("adopted open session", "session_id", open.ID, "lesson_id", lesson.LessonID)
			return open.ID, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return "", b.fail(ctx, "persist", "find open session", err)
		}

		id, err := b.store.Create(ctx, Session{
			LessonID:  lesson.LessonID,
			CourseID:  lesson.CourseID,
			Title:     lesson.DefaultTitle(),
			Version:   DefaultVersion,
			Messages:  msgs,
			CreatedAt: now,
			UpdatedAt: now,
		})
		if err == nil {
			b.logger.Debug("created session", "session_id", id, "lesson_id", lesson.LessonID)
			return id, nil
		}
		if !errors.Is(err, ErrOpenSessionExists) {
			return "", b.fail(ctx, "persist", "create session", err)
		}
		// Lost the race to another writer; adopt theirs.
	}
	return "", b.fail(ctx, "persist", "create session", ErrOpenSessionExists)
}

// commit records a completed mirror unless the lesson changed meanwhile.
func (b *Bridge) commit(lesson LessonRef, id string, version uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.lesson != lesson {
		return
	}
	b.sessionID = id
	b.persisted = version
}

// SwitchLesson flushes the current conversation and then loads the open
// session of ref into the log, or empties the log if the lesson has none.
// A zero ref clears the selection.
func (b *Bridge) SwitchLesson(ctx context.Context, ref LessonRef) error {
	b.opMu.Lock()
	defer b.opMu.Unlock()

	if err := b.persistLocked(ctx); err != nil {
		b.logger.Warn("flush before lesson switch failed", "err", err)
	}

	b.mu.Lock()
	b.lesson = ref
	b.sessionID = ""
	b.mu.Unlock()

	if !ref.Valid() {
		b.markPersisted(b.log.Reset())
		return nil
	}

	open, err := b.store.FindOpen(ctx, ref.LessonID)
	switch {
	case err == nil:
		v := b.log.Replace(open.Messages)
		b.mu.Lock()
		b.sessionID = open.ID
		b.mu.Unlock()
		b.markPersisted(v)
		b.metrics.RecordArchiveOp(ctx, "switch", "ok")
		b.logger.Info("lesson hydrated", "lesson_id", ref.LessonID, "session_id", open.ID, "messages", len(open.Messages))
		return nil
	case errors.Is(err, ErrNotFound):
		b.markPersisted(b.log.Reset())
		b.metrics.RecordArchiveOp(ctx, "switch", "ok")
		return nil
	default:
		b.markPersisted(b.log.Reset())
		return b.fail(ctx, "switch", "find open session", err)
	}
}

// markPersisted records v, the version of a log state that matches the store
// by construction. Mutations after v stay pending.
func (b *Bridge) markPersisted(v uint64) {
	b.mu.Lock()
	b.persisted = v
	b.mu.Unlock()
}

// Archive closes the current conversation under title and version, then
// starts a fresh one. Empty title and version fall back to the lesson default
// title and [DefaultVersion]. Pending log changes are flushed first.
func (b *Bridge) Archive(ctx context.Context, title, version string) (Session, error) {
	b.opMu.Lock()
	defer b.opMu.Unlock()

	if b.log.Len() == 0 {
		return Session{}, ErrEmptyLog
	}
	if err := b.persistLocked(ctx); err != nil {
		return Session{}, err
	}

	b.mu.Lock()
	lesson, id := b.lesson, b.sessionID
	b.mu.Unlock()
	if id == "" {
		return Session{}, ErrNoSession
	}
	if title == "" {
		title = lesson.DefaultTitle()
	}
	if version == "" {
		version = DefaultVersion
	}

	err := b.store.Update(ctx, id, Patch{
		Archive:   &ArchiveMeta{Title: title, Version: version},
		UpdatedAt: b.now(),
	})
	if err != nil {
		return Session{}, b.fail(ctx, "archive", "mark archived", err)
	}
	archived, err := b.store.Get(ctx, id)
	if err != nil {
		return Session{}, b.fail(ctx, "archive", "get session", err)
	}

	b.mu.Lock()
	b.sessionID = ""
	b.mu.Unlock()
	b.markPersisted(b.log.Reset())

	b.metrics.RecordArchiveOp(ctx, "archive", "ok")
	b.logger.Info("session archived", "session_id", id, "title", title, "version", version)
	return archived, nil
}

// History returns the archived sessions of the selected lesson, most recent
// first.
func (b *Bridge) History(ctx context.Context) ([]Session, error) {
	lesson := b.Lesson()
	if !lesson.Valid() {
		return []Session{}, nil
	}
	sessions, err := b.store.ListArchived(ctx, lesson.LessonID)
	if err != nil {
		return nil, b.fail(ctx, "history", "list archived", err)
	}
	b.metrics.RecordArchiveOp(ctx, "history", "ok")
	return sessions, nil
}

// Delete permanently removes the session with id.
func (b *Bridge) Delete(ctx context.Context, id string) error {
	b.opMu.Lock()
	defer b.opMu.Unlock()

	if err := b.store.Delete(ctx, id); err != nil {
		return b.fail(ctx, "delete", "delete session", err)
	}
	b.mu.Lock()
	if b.sessionID == id {
		b.sessionID = ""
	}
	b.mu.Unlock()
	b.metrics.RecordArchiveOp(ctx, "delete", "ok")
	return nil
}

// Restore loads a session for viewing. The live log is not touched.
func (b *Bridge) Restore(ctx context.Context, id string) (Session, error) {
	sess, err := b.store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Session{}, err
		}
		return Session{}, b.fail(ctx, "restore", "get session", err)
	}
	b.metrics.RecordArchiveOp(ctx, "restore", "ok")
	return sess, nil
}

func (b *Bridge) fail(ctx context.Context, metricOp, op string, err error) error {
	b.metrics.RecordArchiveOp(ctx, metricOp, "error")
	b.logger.Warn("archive operation failed", "op", op, "err", err)
	return &ArchiveError{Op: op, Err: err}
}
