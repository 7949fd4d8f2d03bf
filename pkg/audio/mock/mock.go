// Package mock provides in-memory mock implementations of the [audio.Microphone]
// and [audio.Output] interfaces for use in unit tests.
//
// All mocks are safe for concurrent use. They record every method call so that
// tests can assert on call counts and arguments, and they expose exported fields
// that the test can set to control return values.
//
// Typical usage:
//
//	mic := &mock.Microphone{}
//	out := mock.NewOutput()
//	cap, _ := mic.Open(ctx, audio.CaptureConfig{SampleRate: 16000}, onSamples)
//	mic.Emit(samples)     // drives onSamples synchronously
//	mic.Fail(err)         // ends the stream through CaptureConfig.OnError
//	out.Advance(time.Second) // fires onEnded for finished voices
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/didata-ai/didata/pkg/audio"
)

var (
	_ audio.Microphone = (*Microphone)(nil)
	_ audio.Capture    = (*Capture)(nil)
	_ audio.Output     = (*Output)(nil)
	_ audio.Voice      = (*Voice)(nil)
)

// ─── Microphone ───────────────────────────────────────────────────────────────

// Microphone is a mock implementation of [audio.Microphone].
type Microphone struct {
	mu sync.Mutex

	// OpenErr is returned by [Microphone.Open] when non-nil.
	OpenErr error

	// CallCountOpen records how many times Open was called.
	CallCountOpen int

	// Configs records every CaptureConfig passed to Open.
	Configs []audio.CaptureConfig

	captures []*Capture
	current  func([]float32)
	onError  func(error)
}

// Open implements [audio.Microphone]. The most recent successful Open owns the
// sample callback that [Microphone.Emit] drives.
func (m *Microphone) Open(_ context.Context, cfg audio.CaptureConfig, onSamples func([]float32)) (audio.Capture, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CallCountOpen++
	m.Configs = append(m.Configs, cfg)
	if m.OpenErr != nil {
		return nil, m.OpenErr
	}
	c := &Capture{mic: m}
	m.captures = append(m.captures, c)
	m.current = onSamples
	m.onError = cfg.OnError
	return c, nil
}

// Emit delivers samples to the open capture callback. It reports false when no
// capture is open.
func (m *Microphone) Emit(samples []float32) bool {
	m.mu.Lock()
	fn := m.current
	m.mu.Unlock()
	if fn == nil {
		return false
	}
	fn(samples)
	return true
}

// Fail simulates the open stream dying with err: delivery stops and the
// capture's OnError hook, if any, receives err. It reports false when no
// capture is open.
func (m *Microphone) Fail(err error) bool {
	m.mu.Lock()
	if m.current == nil {
		m.mu.Unlock()
		return false
	}
	fn := m.onError
	m.current, m.onError = nil, nil
	m.mu.Unlock()
	if fn != nil {
		fn(err)
	}
	return true
}

// Captures returns every capture handed out by Open, in order.
func (m *Microphone) Captures() []*Capture {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Capture, len(m.captures))
	copy(out, m.captures)
	return out
}

// Capture is the handle returned by [Microphone.Open].
type Capture struct {
	mic *Microphone

	mu sync.Mutex

	// CloseErr is returned by [Capture.Close].
	CloseErr error

	// CallCountClose records how many times Close was called.
	CallCountClose int
}

// Close implements [audio.Capture]. It detaches the sample callback.
func (c *Capture) Close() error {
	c.mu.Lock()
	c.CallCountClose++
	err := c.CloseErr
	c.mu.Unlock()

	c.mic.mu.Lock()
	if n := len(c.mic.captures); n > 0 && c.mic.captures[n-1] == c {
		c.mic.current, c.mic.onError = nil, nil
	}
	c.mic.mu.Unlock()
	return err
}

// Closed reports whether Close has been called at least once.
func (c *Capture) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.CallCountClose > 0
}

// ─── Output ───────────────────────────────────────────────────────────────────

// PlayCall records the arguments of a single [Output.Play] call.
type PlayCall struct {
	Buffer audio.Buffer
	At     time.Duration
}

// Output is a mock implementation of [audio.Output] driven by a manual clock.
// Voices end when [Output.Advance] moves the clock past their end time.
type Output struct {
	mu sync.Mutex

	now    time.Duration
	voices []*Voice

	// PlayErr is returned by [Output.Play] when non-nil.
	PlayErr error

	// LevelResult is returned by [Output.Level].
	LevelResult float64

	// Plays records every successful Play call.
	Plays []PlayCall

	// CallCountClose records how many times Close was called.
	CallCountClose int
}

// NewOutput returns an Output whose clock starts at zero.
func NewOutput() *Output { return &Output{} }

// Now implements [audio.Output].
func (o *Output) Now() time.Duration {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.now
}

// Play implements [audio.Output]. A start time in the past is treated as now.
func (o *Output) Play(buf audio.Buffer, at time.Duration, onEnded func()) (audio.Voice, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.PlayErr != nil {
		return nil, o.PlayErr
	}
	start := max(at, o.now)
	v := &Voice{Start: start, End: start + buf.Duration(), out: o, onEnded: onEnded}
	o.voices = append(o.voices, v)
	o.Plays = append(o.Plays, PlayCall{Buffer: buf, At: at})
	return v, nil
}

// Level implements [audio.Output].
func (o *Output) Level() float64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.LevelResult
}

// SetLevel sets the value returned by Level.
func (o *Output) SetLevel(l float64) {
	o.mu.Lock()
	o.LevelResult = l
	o.mu.Unlock()
}

// Close implements [audio.Output].
func (o *Output) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.CallCountClose++
	return nil
}

// Advance moves the clock forward by d and fires the end callback of every
// unstopped voice whose end time has been reached. Callbacks run without the
// output lock held, in scheduling order.
func (o *Output) Advance(d time.Duration) {
	o.mu.Lock()
	o.now += d
	var fire []func()
	for _, v := range o.voices {
		if v.stopped || v.ended || v.End > o.now {
			continue
		}
		v.ended = true
		if v.onEnded != nil {
			fire = append(fire, v.onEnded)
		}
	}
	o.mu.Unlock()

	for _, fn := range fire {
		fn()
	}
}

// Voices returns every voice created by Play, in order.
func (o *Output) Voices() []*Voice {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]*Voice, len(o.voices))
	copy(out, o.voices)
	return out
}

// Voice is the handle returned by [Output.Play].
type Voice struct {
	// Start and End are the effective clock bounds of the voice.
	Start, End time.Duration

	out     *Output
	onEnded func()
	stopped bool
	ended   bool
	stops   int
}

// Stop implements [audio.Voice]. The end callback will not fire afterwards.
func (v *Voice) Stop() {
	v.out.mu.Lock()
	defer v.out.mu.Unlock()
	v.stops++
	v.stopped = true
}

// Stopped reports whether Stop was called.
func (v *Voice) Stopped() bool {
	v.out.mu.Lock()
	defer v.out.mu.Unlock()
	return v.stopped
}

// Ended reports whether the voice finished naturally.
func (v *Voice) Ended() bool {
	v.out.mu.Lock()
	defer v.out.mu.Unlock()
	return v.ended
}
