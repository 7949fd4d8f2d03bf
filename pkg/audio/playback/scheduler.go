// Package playback schedules streamed model audio for gapless sequential
// playback on an [audio.Output].
//
// Chunks arrive as base64 PCM16 at the model's output rate. Each decoded chunk
// is placed on the output clock at max(now, nextStart) and the cursor advances
// by the chunk length, so consecutive chunks abut exactly regardless of how
// unevenly they arrive. The cursor counts samples from the start of the
// current contiguous run, so odd chunk lengths never accumulate rounding. [Scheduler.Interrupt] cuts every in-flight chunk and
// rewinds the cursor.
package playback

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/didata-ai/didata/pkg/audio"
)

// ErrClosed is returned by [Scheduler.Enqueue] after [Scheduler.Close].
var ErrClosed = errors.New("playback: scheduler closed")

// DefaultLevelInterval is the render-loop cadence at which output loudness is
// sampled while audio is playing.
const DefaultLevelInterval = 16 * time.Millisecond

// Option configures a [Scheduler].
type Option func(*Scheduler)

// WithSampleRate sets the rate decoded chunks are tagged with.
// Default: [audio.OutputSampleRate].
func WithSampleRate(hz int) Option {
	return func(s *Scheduler) {
		if hz > 0 {
			s.sampleRate = hz
		}
	}
}

// WithLevelInterval sets the loudness sampling cadence.
func WithLevelInterval(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.levelInterval = d
		}
	}
}

// WithLogger sets the logger used for skipped chunks.
func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) { s.log = l }
}

// unit is a scheduled chunk owned by the scheduler until it ends.
type unit struct {
	voice audio.Voice
	start time.Duration
	end   time.Duration
}

// Scheduler places decoded chunks back to back on an output clock and tracks
// every chunk that has been scheduled but has not finished.
//
// All exported methods are safe for concurrent use. The cursor and the active
// set are only mutated under mu. Level callbacks are delivered under emitMu,
// which is always taken before mu.
type Scheduler struct {
	out           audio.Output
	sampleRate    int
	levelInterval time.Duration
	log           *slog.Logger

	emitMu sync.Mutex

	mu         sync.Mutex
	anchor     time.Duration // clock time the current run starts at
	run        int64         // samples laid end to end since anchor
	runRate    int           // sample rate of run
	active     map[*unit]struct{}
	level      float64
	levelStop  chan struct{} // non-nil while the sampler goroutine runs
	onActivity func(active bool)
	onLevel    func(level float64)
	closed     bool
}

// New creates a Scheduler that plays through out. The scheduler does not own
// out; closing the scheduler leaves the output open.
func New(out audio.Output, opts ...Option) *Scheduler {
	s := &Scheduler{
		out:           out,
		sampleRate:    audio.OutputSampleRate,
		levelInterval: DefaultLevelInterval,
		log:           slog.Default(),
		active:        make(map[*unit]struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// OnActivity registers fn to be told when playback becomes active (first chunk
// scheduled on an empty set) or idle (set emptied). Last writer wins.
func (s *Scheduler) OnActivity(fn func(active bool)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onActivity = fn
}

// OnLevel registers fn to receive sampled output loudness. It receives a final
// 0 whenever playback goes idle, and no sample taken before that point is
// delivered after it. fn must not call back into the scheduler. Last writer
// wins.
func (s *Scheduler) OnLevel(fn func(level float64)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onLevel = fn
}

// Enqueue decodes a base64 PCM16 chunk and schedules it directly after the
// previously scheduled chunk, or immediately when the cursor lies in the past.
//
// A chunk that fails to decode is logged and skipped; the returned error is a
// *[audio.DecodeError] and the cursor is left untouched.
func (s *Scheduler) Enqueue(data string) error {
	buf, err := audio.DecodePCM16Base64(data, s.sampleRate)
	if err != nil {
		s.log.Warn("playback: skipping undecodable chunk", "err", err)
		return err
	}
	return s.Schedule(buf)
}

// Schedule places an already decoded buffer on the output clock using the
// same cursor discipline as [Scheduler.Enqueue].
func (s *Scheduler) Schedule(buf audio.Buffer) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}

	now := s.out.Now()
	if cur := s.cursorLocked(); cur < now || buf.SampleRate != s.runRate {
		s.anchor, s.run, s.runRate = max(cur, now), 0, buf.SampleRate
	}
	n := int64(len(buf.Samples))
	u := &unit{
		start: s.cursorLocked(),
		end:   s.anchor + audio.SamplesDuration(s.run+n, s.runRate),
	}

	v, err := s.out.Play(buf, u.start, func() { s.finished(u) })
	if err != nil {
		s.mu.Unlock()
		return err
	}
	u.voice = v
	s.run += n

	wasIdle := len(s.active) == 0
	s.active[u] = struct{}{}
	var notify func(bool)
	if wasIdle {
		notify = s.onActivity
		s.startSamplerLocked()
	}
	s.mu.Unlock()

	if notify != nil {
		notify(true)
	}
	return nil
}

// finished is the natural-completion callback of a unit.
func (s *Scheduler) finished(u *unit) {
	s.mu.Lock()
	if _, ok := s.active[u]; !ok {
		// Already cut by Interrupt.
		s.mu.Unlock()
		return
	}
	delete(s.active, u)
	if len(s.active) > 0 {
		s.mu.Unlock()
		return
	}
	activity, level := s.idleLocked()
	s.mu.Unlock()

	s.emitIdle(level)
	if activity != nil {
		activity(false)
	}
}

// Interrupt stops every in-flight chunk, clears the active set, rewinds the
// cursor to zero and signals idle before returning.
func (s *Scheduler) Interrupt() {
	s.mu.Lock()
	hadActive := len(s.active) > 0
	for u := range s.active {
		if u.voice != nil {
			u.voice.Stop()
		}
	}
	clear(s.active)
	s.anchor, s.run = 0, 0
	activity, level := s.idleLocked()
	s.mu.Unlock()

	s.emitIdle(level)
	if hadActive && activity != nil {
		activity(false)
	}
}

// idleLocked stops the sampler and zeroes the level. s.mu must be held.
func (s *Scheduler) idleLocked() (activity func(bool), level func(float64)) {
	if s.levelStop != nil {
		close(s.levelStop)
		s.levelStop = nil
	}
	s.level = 0
	return s.onActivity, s.onLevel
}

// emitIdle delivers the closing 0. The sampler has been stopped under mu, so
// once emitMu is held no earlier sample can still be in flight.
func (s *Scheduler) emitIdle(fn func(float64)) {
	if fn == nil {
		return
	}
	s.emitMu.Lock()
	defer s.emitMu.Unlock()
	fn(0)
}

func (s *Scheduler) cursorLocked() time.Duration {
	return s.anchor + audio.SamplesDuration(s.run, s.runRate)
}

// startSamplerLocked launches the loudness sampler. s.mu must be held.
func (s *Scheduler) startSamplerLocked() {
	if s.levelStop != nil {
		return
	}
	stop := make(chan struct{})
	s.levelStop = stop
	go s.sample(stop)
}

func (s *Scheduler) sample(stop <-chan struct{}) {
	ticker := time.NewTicker(s.levelInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}

		if !s.emitSample(stop) {
			return
		}
	}
}

// emitSample reads and delivers one level sample. It reports false once stop
// is closed; the check and the delivery share emitMu so a sample can never
// overtake the idle 0.
func (s *Scheduler) emitSample(stop <-chan struct{}) bool {
	s.emitMu.Lock()
	defer s.emitMu.Unlock()

	s.mu.Lock()
	select {
	case <-stop:
		s.mu.Unlock()
		return false
	default:
	}
	s.level = s.out.Level()
	lvl, fn := s.level, s.onLevel
	s.mu.Unlock()

	if fn != nil {
		fn(lvl)
	}
	return true
}

// Active reports whether any scheduled chunk has not finished yet.
func (s *Scheduler) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active) > 0
}

// Pending returns the number of scheduled, unfinished chunks.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active)
}

// NextStart returns the cursor: the clock time at which the next chunk would
// start if the clock has not passed it.
func (s *Scheduler) NextStart() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursorLocked()
}

// Level returns the most recently sampled output loudness, 0 when idle.
func (s *Scheduler) Level() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.level
}

// Close interrupts playback and rejects further chunks. Idempotent.
func (s *Scheduler) Close() error {
	s.Interrupt()
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}
