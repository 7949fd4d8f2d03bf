// Package audioio owns the tutor's audio hardware: microphone capture feeding
// the PCM frame encoder, and the speaker output feeding the playback
// scheduler. It derives the speaking/volume signals the visualizer consumes.
//
// Both directions are explicit nil-able resources on [Controller]: input exists
// between StartInput and StopInput, output is built on the first
// PlayAudioChunk and lives until ResetAudioState. Teardown is idempotent and
// order-independent.
package audioio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"

	"github.com/didata-ai/didata/internal/observe"
	"github.com/didata-ai/didata/pkg/audio"
	"github.com/didata-ai/didata/pkg/audio/playback"
)

const (
	// SpeakingThreshold is the frame RMS above which the user counts as
	// speaking.
	SpeakingThreshold = 0.01

	// displayGain boosts frame RMS into a visible 0..1 range.
	displayGain = 5

	// MicrophoneErrorText is the user-facing status for a failed capture start.
	MicrophoneErrorText = "Erro ao acessar microfone. Verifique permissões."
)

// ErrOutputReset is returned by [Controller.PlayAudioChunk] when
// [Controller.ResetAudioState] ran while the output was being opened. The
// chunk is dropped and the new output closed.
var ErrOutputReset = errors.New("audioio: output reset while opening")

// MicrophoneAccessError reports that the microphone could not be acquired,
// because permission was denied or no device is available.
type MicrophoneAccessError struct {
	Err error
}

func (e *MicrophoneAccessError) Error() string {
	return "audioio: microphone access: " + e.Err.Error()
}

func (e *MicrophoneAccessError) Unwrap() error { return e.Err }

// UserMessage returns the status text shown to the user.
func (e *MicrophoneAccessError) UserMessage() string { return MicrophoneErrorText }

// Signals is a snapshot of the derived audio state.
type Signals struct {
	UserSpeaking bool
	UserVolume   float64 // boosted, clamped to 1
	AISpeaking   bool
	AIVolume     float64
	Err          error
}

// OutputFactory builds the speaker side on first use.
type OutputFactory func() (audio.Output, error)

// Option configures a [Controller].
type Option func(*Controller)

// WithFrameSize sets the encoder frame size in samples.
func WithFrameSize(n int) Option {
	return func(c *Controller) { c.frameSize = n }
}

// WithLogger sets the controller logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Controller) { c.log = l }
}

// WithMetrics records playback counters on m.
func WithMetrics(m *observe.Metrics) Option {
	return func(c *Controller) { c.metrics = m }
}

// WithSchedulerOptions passes extra options to every playback scheduler the
// controller builds.
func WithSchedulerOptions(opts ...playback.Option) Option {
	return func(c *Controller) { c.schedOpts = append(c.schedOpts, opts...) }
}

// Controller owns microphone capture and speaker playback.
// All methods are safe for concurrent use.
type Controller struct {
	mic       audio.Microphone
	newOutput OutputFactory
	frameSize int
	log       *slog.Logger
	metrics   *observe.Metrics
	schedOpts []playback.Option

	mu       sync.Mutex
	capture  audio.Capture
	encoder  *audio.FrameEncoder
	inputGen uint64 // bumped on every input teardown; stale frames are ignored
	starting bool
	out      audio.Output        // nil until first PlayAudioChunk
	sched    *playback.Scheduler // nil together with out
	signals  Signals
	onChange func(Signals)
	onFail   func(error)
	opening  chan struct{} // non-nil while an output is being built
	outGen   uint64        // bumped on every ResetAudioState
}

// New creates a Controller capturing from mic and building its output with
// newOutput.
func New(mic audio.Microphone, newOutput OutputFactory, opts ...Option) *Controller {
	c := &Controller{
		mic:       mic,
		newOutput: newOutput,
		frameSize: audio.DefaultFrameSize,
		log:       slog.Default(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// OnChange registers fn to receive every signal update. fn runs outside the
// controller lock but may be called from audio goroutines.
func (c *Controller) OnChange(fn func(Signals)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onChange = fn
}

// OnInputError registers fn to be told when an open microphone stream dies. fn
// receives a *[MicrophoneAccessError] and runs on the device goroutine.
func (c *Controller) OnInputError(fn func(error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onFail = fn
}

// Signals returns the current derived signals.
func (c *Controller) Signals() Signals {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.signals
}

// ── Input ─────────────────────────────────────────────────────────────────────

// StartInput opens the microphone and feeds every completed frame to onFrame.
// It is a no-op while input is already running. On failure it returns a
// *[MicrophoneAccessError] and leaves no capture behind.
func (c *Controller) StartInput(ctx context.Context, onFrame func(audio.Frame)) error {
	c.mu.Lock()
	if c.capture != nil || c.starting {
		c.mu.Unlock()
		return nil
	}
	c.starting = true
	gen := c.inputGen
	enc := audio.NewFrameEncoder(c.frameSize, func(f audio.Frame) {
		if c.acceptFrame(gen, f) && onFrame != nil {
			onFrame(f)
		}
	})
	c.mu.Unlock()

	cfg := audio.CaptureConfig{
		SampleRate:       audio.InputSampleRate,
		Channels:         1,
		EchoCancellation: true,
		NoiseSuppression: true,
		AutoGainControl:  true,
		OnError:          func(err error) { c.inputFailed(gen, err) },
	}
	capt, err := c.mic.Open(ctx, cfg, enc.Write)

	c.mu.Lock()
	c.starting = false
	if err != nil {
		merr := &MicrophoneAccessError{Err: err}
		c.signals.Err = merr
		snap, fn := c.signals, c.onChange
		c.mu.Unlock()
		c.log.Error("audioio: microphone unavailable", "err", err)
		notify(fn, snap)
		return merr
	}
	if gen != c.inputGen {
		// StopInput or ResetAudioState ran while the device was opening.
		c.mu.Unlock()
		c.closeCapture(capt)
		return nil
	}
	c.capture = capt
	c.encoder = enc
	c.mu.Unlock()
	return nil
}

// acceptFrame updates the user signals for a frame from input generation gen.
// It reports false when the frame belongs to a torn-down capture.
func (c *Controller) acceptFrame(gen uint64, f audio.Frame) bool {
	c.mu.Lock()
	if gen != c.inputGen {
		c.mu.Unlock()
		return false
	}
	c.signals.UserSpeaking = f.Volume > SpeakingThreshold
	c.signals.UserVolume = math.Min(1, f.Volume*displayGain)
	snap, fn := c.signals, c.onChange
	c.mu.Unlock()

	notify(fn, snap)
	return true
}

// inputFailed tears down a capture of generation gen that died on its own and
// records the failure.
func (c *Controller) inputFailed(gen uint64, err error) {
	c.mu.Lock()
	if gen != c.inputGen {
		c.mu.Unlock()
		return
	}
	capt, enc := c.detachInputLocked()
	merr := &MicrophoneAccessError{Err: err}
	c.signals.Err = merr
	c.signals.UserSpeaking = false
	c.signals.UserVolume = 0
	snap, fn, fail := c.signals, c.onChange, c.onFail
	c.mu.Unlock()

	c.log.Error("audioio: microphone stream failed", "err", err)
	// Runs on the device goroutine, which Close waits for.
	if capt != nil {
		go c.closeCapture(capt)
	}
	if enc != nil {
		enc.Reset()
	}
	notify(fn, snap)
	if fail != nil {
		fail(merr)
	}
}

// StopInput tears down capture and the encoder. Idempotent.
func (c *Controller) StopInput() {
	c.mu.Lock()
	capt, enc := c.detachInputLocked()
	c.signals.UserSpeaking = false
	c.signals.UserVolume = 0
	snap, fn := c.signals, c.onChange
	c.mu.Unlock()

	c.closeCapture(capt)
	if enc != nil {
		enc.Reset()
	}
	notify(fn, snap)
}

// detachInputLocked clears the input fields and returns what must be closed.
// c.mu must be held.
func (c *Controller) detachInputLocked() (audio.Capture, *audio.FrameEncoder) {
	capt, enc := c.capture, c.encoder
	c.capture, c.encoder = nil, nil
	c.inputGen++
	return capt, enc
}

func (c *Controller) closeCapture(capt audio.Capture) {
	if capt == nil {
		return
	}
	if err := capt.Close(); err != nil {
		c.log.Warn("audioio: close capture", "err", err)
	}
}

// InputActive reports whether the microphone is open.
func (c *Controller) InputActive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.capture != nil
}

// ── Output ────────────────────────────────────────────────────────────────────

// PlayAudioChunk schedules one base64 PCM16 chunk, building the output on the
// first call. Decode failures return a *[audio.DecodeError] and leave playback
// untouched; output construction failures are recorded in the signals.
func (c *Controller) PlayAudioChunk(b64 string) error {
	sched, err := c.ensureOutput()
	if err != nil {
		return err
	}
	if err := sched.Enqueue(b64); err != nil {
		if errors.Is(err, audio.ErrDecode) {
			c.metrics.RecordDecodeError(context.Background())
		}
		return err
	}
	c.metrics.RecordChunkScheduled(context.Background())
	return nil
}

// ensureOutput returns the scheduler, building the output on first use. The
// device is opened without c.mu held; concurrent callers wait for the one
// doing the work.
func (c *Controller) ensureOutput() (*playback.Scheduler, error) {
	c.mu.Lock()
	for c.sched == nil && c.opening != nil {
		wait := c.opening
		c.mu.Unlock()
		<-wait
		c.mu.Lock()
	}
	if c.sched != nil {
		s := c.sched
		c.mu.Unlock()
		return s, nil
	}
	done := make(chan struct{})
	c.opening = done
	gen := c.outGen
	c.mu.Unlock()

	out, err := c.newOutput()

	c.mu.Lock()
	c.opening = nil
	close(done)
	if err == nil && gen != c.outGen {
		c.mu.Unlock()
		if cerr := out.Close(); cerr != nil {
			c.log.Warn("audioio: close output", "err", cerr)
		}
		return nil, ErrOutputReset
	}
	if err != nil {
		err = fmt.Errorf("audioio: open output: %w", err)
		c.signals.Err = err
		snap, fn := c.signals, c.onChange
		c.mu.Unlock()
		notify(fn, snap)
		return nil, err
	}

	opts := append([]playback.Option{playback.WithLogger(c.log)}, c.schedOpts...)
	s := playback.New(out, opts...)
	s.OnActivity(func(active bool) { c.aiActivity(s, active) })
	s.OnLevel(func(level float64) { c.aiLevel(s, level) })
	c.out, c.sched = out, s
	c.mu.Unlock()
	return s, nil
}

func (c *Controller) aiActivity(s *playback.Scheduler, active bool) {
	c.mu.Lock()
	if s != c.sched {
		c.mu.Unlock()
		return
	}
	c.signals.AISpeaking = active
	if !active {
		c.signals.AIVolume = 0
	}
	snap, fn := c.signals, c.onChange
	c.mu.Unlock()
	notify(fn, snap)
}

func (c *Controller) aiLevel(s *playback.Scheduler, level float64) {
	c.mu.Lock()
	if s != c.sched {
		c.mu.Unlock()
		return
	}
	c.signals.AIVolume = level
	snap, fn := c.signals, c.onChange
	c.mu.Unlock()
	notify(fn, snap)
}

// StopAudioPlayback cuts every in-flight chunk. The AI signals are idle when
// it returns.
func (c *Controller) StopAudioPlayback() {
	c.mu.Lock()
	s := c.sched
	c.mu.Unlock()
	if s != nil {
		s.Interrupt()
	}
}

// PlaybackActive reports whether any model audio is scheduled.
func (c *Controller) PlaybackActive() bool {
	c.mu.Lock()
	s := c.sched
	c.mu.Unlock()
	return s != nil && s.Active()
}

// ── Reset ─────────────────────────────────────────────────────────────────────

// ResetAudioState tears down input and output, clears every signal and any
// stored error. Safe from any state, any number of times.
func (c *Controller) ResetAudioState() {
	c.mu.Lock()
	capt, enc := c.detachInputLocked()
	sched, out := c.sched, c.out
	c.sched, c.out = nil, nil
	c.outGen++
	c.signals = Signals{}
	fn := c.onChange
	c.mu.Unlock()

	c.closeCapture(capt)
	if enc != nil {
		enc.Reset()
	}
	if sched != nil {
		_ = sched.Close()
	}
	if out != nil {
		if err := out.Close(); err != nil {
			c.log.Warn("audioio: close output", "err", err)
		}
	}
	notify(fn, Signals{})
}

// Close releases all audio resources.
func (c *Controller) Close() error {
	c.ResetAudioState()
	return nil
}

func notify(fn func(Signals), s Signals) {
	if fn != nil {
		fn(s)
	}
}
