// Package live runs the tutor's realtime voice session: it opens the live
// model session, streams microphone frames out, folds inbound transcript
// deltas into the conversation log and keeps audio hardware, network session
// and status consistent through connect, interruption, errors and teardown.
//
// Every input (user start and stop, transport events, connect results, audio
// failures) becomes an event consumed by one dispatch goroutine, which is the
// only place controller state changes.
package live

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/didata-ai/didata/internal/archive"
	"github.com/didata-ai/didata/internal/observe"
	"github.com/didata-ai/didata/internal/settings"
	"github.com/didata-ai/didata/pkg/audio"
	"github.com/didata-ai/didata/pkg/provider/s2s"
)

// User-facing status lines.
const (
	StatusIdle          = "Conexão Neural Inativa"
	StatusConnecting    = "Estabelecendo Uplink..."
	StatusConnected     = "Conexão Neural Estabelecida"
	StatusSyncError     = "Erro de Sincronização"
	StatusClosed        = "Conexão Encerrada"
	StatusConnectFailed = "Falha no Uplink."
)

const defaultQueueSize = 32

var (
	// ErrNoLesson is returned by Start when no course or lesson is selected.
	ErrNoLesson = errors.New("live: no course or lesson selected")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("live: controller closed")
)

// TransportError reports a failure of the live model session: a failed
// connect, an error event or an unexpected hangup.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("live: %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// State is the lifecycle state of a [Controller].
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateConnected
	StateErrorPaused
)

// String returns the lowercase metric label of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateErrorPaused:
		return "error_paused"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Status is a snapshot of what the user sees.
type Status struct {
	State State

	// Text is the status line.
	Text string

	// Transcript is the most recent delta, or [InterruptedMarker].
	Transcript string

	// Err is the error that moved the controller into StateErrorPaused.
	Err error
}

// Audio is the audio hardware the controller drives.
// *audioio.Controller satisfies it.
type Audio interface {
	Player
	StartInput(ctx context.Context, onFrame func(audio.Frame)) error
	ResetAudioState()
}

// VoiceSource supplies the selected voice at connect time.
// *settings.Store satisfies it.
type VoiceSource interface {
	Get() settings.Settings
}

// Option configures a [Controller].
type Option func(*Controller)

// WithLogger sets the controller logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Controller) { c.logger = l }
}

// WithMetrics records transitions, connects and frame counters on m.
func WithMetrics(m *observe.Metrics) Option {
	return func(c *Controller) { c.metrics = m }
}

// WithPersona replaces the built-in [Persona].
func WithPersona(p string) Option {
	return func(c *Controller) { c.persona = p }
}

// WithContextRunes caps the lesson content in the system instruction.
func WithContextRunes(n int) Option {
	return func(c *Controller) { c.maxRunes = n }
}

// WithQueueSize sets how many encoded frames may wait for the transport before
// new ones are dropped.
func WithQueueSize(n int) Option {
	return func(c *Controller) {
		if n > 0 {
			c.queueSize = n
		}
	}
}

type eventKind int

const (
	evStart eventKind = iota + 1
	evStop
	evConnectResult
	evTransport
	evAudioError
)

type event struct {
	kind eventKind

	// evStart
	ctx    context.Context
	lesson LessonContext

	// evStart, evStop
	reply chan error

	// evConnectResult, evTransport
	attempt uint64
	sess    s2s.Session
	tev     s2s.Event

	// evConnectResult, evAudioError
	err error
}

// Controller owns the live session and its state machine.
// All exported methods are safe for concurrent use.
type Controller struct {
	provider s2s.Provider
	audio    Audio
	voices   VoiceSource
	log      *archive.Log
	rec      *Reconciler

	logger    *slog.Logger
	metrics   *observe.Metrics
	persona   string
	maxRunes  int
	queueSize int
	now       func() time.Time

	ctx       context.Context // outlives single attempts; cancelled by Close
	cancel    context.CancelFunc
	events    chan event
	quit      chan struct{}
	done      chan struct{}
	closeOnce sync.Once

	// Owned by the dispatch goroutine.
	state     State
	attempt   uint64
	sess      s2s.Session
	sendStop  chan struct{}
	startedAt time.Time

	mu        sync.RWMutex
	snap      Status
	listeners []func(Status)
}

// New returns a running Controller. Call Close to stop it.
func New(provider s2s.Provider, a Audio, voices VoiceSource, log *archive.Log, opts ...Option) *Controller {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Controller{
		provider:  provider,
		audio:     a,
		voices:    voices,
		log:       log,
		logger:    slog.Default(),
		maxRunes:  DefaultContextRunes,
		queueSize: defaultQueueSize,
		now:       time.Now,
		ctx:       ctx,
		cancel:    cancel,
		events:    make(chan event),
		quit:      make(chan struct{}),
		done:      make(chan struct{}),
		snap:      Status{State: StateIdle, Text: StatusIdle},
	}
	for _, o := range opts {
		o(c)
	}
	c.logger = c.logger.With("component", "live")
	c.rec = NewReconciler(log, a, c.logger)
	go c.run()
	return c
}

// ── Public API ────────────────────────────────────────────────────────────────

// Start begins a session for lc. It returns once capture is running and the
// connect is in flight; the transport open arrives later. Start while
// connecting or connected is a no-op. Start without a course or lesson returns
// [ErrNoLesson]. A microphone failure is returned as well as surfaced in the
// status.
func (c *Controller) Start(ctx context.Context, lc LessonContext) error {
	reply := make(chan error, 1)
	if !c.post(event{kind: evStart, ctx: ctx, lesson: lc, reply: reply}) {
		return ErrClosed
	}
	select {
	case err := <-reply:
		return err
	case <-c.done:
		return ErrClosed
	}
}

// Stop ends the current session, or abandons a pending connect, and returns
// once cleanup ran. Safe in any state.
func (c *Controller) Stop() {
	reply := make(chan error, 1)
	if !c.post(event{kind: evStop, reply: reply}) {
		return
	}
	select {
	case <-reply:
	case <-c.done:
	}
}

// ReportAudioError surfaces an audio failure raised outside the controller,
// such as a capture device that vanished mid-session.
func (c *Controller) ReportAudioError(err error) {
	if err == nil {
		return
	}
	c.post(event{kind: evAudioError, err: err})
}

// Status returns the current status snapshot.
func (c *Controller) Status() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snap
}

// State returns the current lifecycle state.
func (c *Controller) State() State { return c.Status().State }

// OnStatus registers fn to receive every status change. fn runs on the
// dispatch goroutine and must not call back into the controller.
func (c *Controller) OnStatus(fn func(Status)) {
	c.mu.Lock()
	c.listeners = append(c.listeners, fn)
	c.mu.Unlock()
}

// Close stops any session and ends the dispatch goroutine. Idempotent.
func (c *Controller) Close() error {
	c.closeOnce.Do(func() {
		close(c.quit)
		<-c.done
		c.cancel()
	})
	return nil
}

func (c *Controller) post(ev event) bool {
	select {
	case c.events <- ev:
		return true
	case <-c.done:
		return false
	}
}

// ── Dispatch loop ─────────────────────────────────────────────────────────────

func (c *Controller) run() {
	defer close(c.done)
	for {
		select {
		case <-c.quit:
			if c.state != StateIdle {
				c.cleanup(StateIdle, StatusClosed, nil)
			}
			return
		case ev := <-c.events:
			c.dispatch(ev)
		}
	}
}

func (c *Controller) dispatch(ev event) {
	switch ev.kind {
	case evStart:
		ev.reply <- c.handleStart(ev.ctx, ev.lesson)
	case evStop:
		c.handleStop()
		ev.reply <- nil
	case evConnectResult:
		c.handleConnectResult(ev)
	case evTransport:
		c.handleTransport(ev)
	case evAudioError:
		c.handleAudioError(ev.err)
	}
}

func (c *Controller) handleStart(ctx context.Context, lc LessonContext) error {
	if c.state == StateConnecting || c.state == StateConnected {
		return nil
	}
	if !lc.Valid() {
		return ErrNoLesson
	}

	c.attempt++
	attempt := c.attempt
	queue := make(chan []byte, c.queueSize)
	c.sendStop = make(chan struct{})
	c.startedAt = c.now()
	c.rec.Reset()
	c.setState(StateConnecting, StatusConnecting, nil)

	if err := c.audio.StartInput(ctx, func(f audio.Frame) { c.enqueueFrame(queue, f) }); err != nil {
		text := StatusSyncError
		var um interface{ UserMessage() string }
		if errors.As(err, &um) {
			text = um.UserMessage()
		}
		c.logger.Error("live: start input", "err", err)
		c.cleanup(StateErrorPaused, text, err)
		c.notice(text)
		return err
	}

	cfg := BuildSessionConfig(c.persona, c.voice(), lc, c.maxRunes)
	c.logger.Info("live: connecting", "course", lc.CourseID, "lesson", lc.LessonID, "voice", cfg.Voice)

	stop := c.sendStop
	go func() {
		sess, err := c.provider.Connect(c.ctx, cfg)
		ev := event{kind: evConnectResult, attempt: attempt, sess: sess, err: err}
		if !c.post(ev) {
			if sess != nil {
				_ = sess.Close()
			}
			return
		}
		if err == nil && sess != nil {
			c.sendLoop(sess, queue, stop)
		}
	}()
	return nil
}

func (c *Controller) voice() string {
	if c.voices == nil {
		return DefaultVoice
	}
	return c.voices.Get().VoiceName
}

func (c *Controller) handleConnectResult(ev event) {
	if ev.attempt != c.attempt || c.state != StateConnecting {
		// Stopped (or restarted) while the connect was pending.
		if ev.sess != nil {
			c.logger.Debug("live: closing late session", "attempt", ev.attempt)
			_ = ev.sess.Close()
		}
		return
	}
	if ev.err != nil {
		c.logger.Error("live: connect failed", "err", ev.err)
		c.cleanup(StateErrorPaused, StatusConnectFailed, &TransportError{Op: "connect", Err: ev.err})
		c.notice(StatusConnectFailed)
		return
	}
	c.sess = ev.sess
	go c.pump(ev.attempt, ev.sess)
}

// pump forwards sess events into the dispatch loop until the stream ends.
func (c *Controller) pump(attempt uint64, sess s2s.Session) {
	for tev := range sess.Events() {
		if !c.post(event{kind: evTransport, attempt: attempt, sess: sess, tev: tev}) {
			return
		}
	}
	c.post(event{kind: evTransport, attempt: attempt, sess: sess, tev: s2s.Event{Kind: s2s.EventClose}})
}

func (c *Controller) handleTransport(ev event) {
	if c.sess == nil || ev.sess != c.sess {
		return
	}
	switch ev.tev.Kind {
	case s2s.EventOpen:
		if c.state != StateConnecting {
			return
		}
		c.metrics.RecordConnect(c.ctx, c.now().Sub(c.startedAt))
		c.setState(StateConnected, StatusConnected, nil)
		c.logger.Info("live: session open")

	case s2s.EventMessage:
		out := c.rec.Apply(ev.tev.Message)
		if out.Transcript != "" {
			c.setTranscript(out.Transcript)
		}
		if out.AudioErr != nil {
			c.handleAudioError(out.AudioErr)
		}

	case s2s.EventError:
		err := ev.tev.Err
		if err == nil {
			err = errors.New("unknown transport error")
		}
		c.logger.Error("live: transport error", "err", err)
		c.cleanup(StateErrorPaused, StatusSyncError, &TransportError{Op: "session", Err: err})
		c.notice(StatusSyncError)

	case s2s.EventClose:
		if c.state == StateConnecting {
			err := &TransportError{Op: "connect", Err: errors.New("closed before open")}
			c.logger.Warn("live: session closed before open")
			c.cleanup(StateErrorPaused, StatusConnectFailed, err)
			c.notice(StatusConnectFailed)
			return
		}
		c.logger.Info("live: session closed by remote")
		c.cleanup(StateIdle, StatusClosed, nil)
	}
}

func (c *Controller) handleAudioError(err error) {
	if c.state != StateConnecting && c.state != StateConnected {
		return
	}
	text := err.Error()
	var um interface{ UserMessage() string }
	if errors.As(err, &um) {
		text = um.UserMessage()
	}
	c.logger.Error("live: audio failure", "err", err)
	c.cleanup(StateErrorPaused, text, err)
	c.notice(text)
}

func (c *Controller) handleStop() {
	if c.state == StateIdle {
		c.audio.ResetAudioState()
		return
	}
	c.cleanup(StateIdle, StatusClosed, nil)
}

// cleanup releases the session and the audio graphs and moves to next. It is
// safe with nothing to release and tolerates a connect still in flight: the
// attempt no longer matches once the state leaves StateConnecting, so the late
// handle is closed on arrival.
func (c *Controller) cleanup(next State, text string, err error) {
	if c.sendStop != nil {
		close(c.sendStop)
		c.sendStop = nil
	}
	if c.sess != nil {
		if cerr := c.sess.Close(); cerr != nil {
			c.logger.Warn("live: close session", "err", cerr)
		}
		c.sess = nil
	}
	c.audio.ResetAudioState()
	c.rec.Reset()
	c.setState(next, text, err)
}

// notice appends an assistant-authored status line to the conversation.
func (c *Controller) notice(text string) {
	c.log.Append(archive.NewMessage(archive.SenderAssistant, text, c.now()))
}

// ── Outbound audio ────────────────────────────────────────────────────────────

// enqueueFrame runs on the capture goroutine and never blocks it.
func (c *Controller) enqueueFrame(queue chan<- []byte, f audio.Frame) {
	select {
	case queue <- f.Bytes():
	default:
		c.metrics.RecordFrameDropped(c.ctx, "queue_full")
	}
}

// sendLoop forwards queued frames in capture order. Failed sends are not
// retried.
func (c *Controller) sendLoop(sess s2s.Session, queue <-chan []byte, stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		case <-c.ctx.Done():
			return
		case data := <-queue:
			if err := sess.SendAudio(data); err != nil {
				c.logger.Debug("live: send audio", "err", err)
				c.metrics.RecordFrameDropped(c.ctx, "send_error")
				continue
			}
			c.metrics.RecordFrameSent(c.ctx)
		}
	}
}

// ── Status ────────────────────────────────────────────────────────────────────

func (c *Controller) setState(next State, text string, err error) {
	prev := c.state
	c.state = next
	if prev != next {
		c.metrics.RecordTransition(c.ctx, prev.String(), next.String())
	}
	c.publish(func(s *Status) {
		s.State = next
		s.Text = text
		s.Transcript = ""
		s.Err = err
	})
}

func (c *Controller) setTranscript(t string) {
	c.publish(func(s *Status) { s.Transcript = t })
}

func (c *Controller) publish(update func(*Status)) {
	c.mu.Lock()
	update(&c.snap)
	snap := c.snap
	listeners := slices.Clone(c.listeners)
	c.mu.Unlock()
	for _, fn := range listeners {
		fn(snap)
	}
}
