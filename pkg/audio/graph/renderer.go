// Package graph implements [audio.Output] in software: scheduled voices are
// mixed into fixed-size blocks pulled by a sink (a sound card callback, or a
// wall-clock driver when no device is present).
//
// The output clock is the number of samples rendered so far. Voices start on
// exact sample boundaries, so two voices scheduled back to back play without a
// gap or overlap.
package graph

import (
	"context"
	"errors"
	"math"
	"sync"
	"time"

	"github.com/didata-ai/didata/pkg/audio"
)

var _ audio.Output = (*Renderer)(nil)

// ErrClosed is returned by [Renderer.Play] after [Renderer.Close].
var ErrClosed = errors.New("graph: renderer closed")

// levelGain scales block RMS into the 0..1 loudness range. Speech rarely
// exceeds an RMS of 0.3, so this keeps normal output visible.
const levelGain = 3

type voice struct {
	r       *Renderer
	samples []float32
	start   int64 // absolute sample index
	onEnded func()
	stopped bool
}

// Stop implements [audio.Voice].
func (v *voice) Stop() {
	v.r.mu.Lock()
	defer v.r.mu.Unlock()
	v.stopped = true
	v.r.removeLocked(v)
}

// Renderer mixes scheduled voices into mono float blocks at a fixed rate.
// All methods are safe for concurrent use.
type Renderer struct {
	rate int

	mu     sync.Mutex
	pos    int64
	voices []*voice
	level  float64
	closed bool
}

// New returns a Renderer producing mono samples at sampleRate.
// Non-positive rates default to [audio.OutputSampleRate].
func New(sampleRate int) *Renderer {
	if sampleRate <= 0 {
		sampleRate = audio.OutputSampleRate
	}
	return &Renderer{rate: sampleRate}
}

// SampleRate returns the rendering rate.
func (r *Renderer) SampleRate() int { return r.rate }

// Now implements [audio.Output]. It is the duration of audio rendered so far.
func (r *Renderer) Now() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.toDuration(r.pos)
}

// Play implements [audio.Output]. Buffers at a different rate are resampled.
// A start time already rendered past is treated as now.
func (r *Renderer) Play(buf audio.Buffer, at time.Duration, onEnded func()) (audio.Voice, error) {
	samples := audio.Resample(buf.Samples, buf.SampleRate, r.rate)

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, ErrClosed
	}
	v := &voice{
		r:       r,
		samples: samples,
		start:   max(r.toSamples(at), r.pos),
		onEnded: onEnded,
	}
	r.voices = append(r.voices, v)
	return v, nil
}

// Level implements [audio.Output]. It reflects the most recently rendered block.
func (r *Renderer) Level() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.level
}

// Close implements [audio.Output]. Active voices are dropped without firing
// their end callbacks. Idempotent.
func (r *Renderer) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	r.voices = nil
	r.level = 0
	return nil
}

// Render fills out with the next len(out) samples, advancing the clock. End
// callbacks of voices that finished inside the block run after the internal
// lock is released, so they may call back into the renderer.
func (r *Renderer) Render(out []float32) {
	clear(out)

	r.mu.Lock()
	blockStart := r.pos
	blockEnd := blockStart + int64(len(out))

	var ended []func()
	kept := r.voices[:0]
	for _, v := range r.voices {
		vEnd := v.start + int64(len(v.samples))
		from := max(v.start, blockStart)
		to := min(vEnd, blockEnd)
		for i := from; i < to; i++ {
			out[i-blockStart] += v.samples[i-v.start]
		}
		if vEnd <= blockEnd {
			if v.onEnded != nil {
				ended = append(ended, v.onEnded)
			}
			continue
		}
		kept = append(kept, v)
	}
	clear(r.voices[len(kept):])
	r.voices = kept
	r.pos = blockEnd

	for i, s := range out {
		out[i] = max(-1, min(1, s))
	}
	r.level = math.Min(1, audio.RMS(out)*levelGain)
	r.mu.Unlock()

	for _, fn := range ended {
		fn()
	}
}

// Drive renders blocks of block duration on a wall-clock ticker and passes
// each one to sink until ctx is cancelled. It stands in for a sound card when
// playback should advance without a device; sink may be nil.
func (r *Renderer) Drive(ctx context.Context, block time.Duration, sink func([]float32)) {
	n := int(r.toSamples(block))
	if n <= 0 {
		n = r.rate / 50
	}
	buf := make([]float32, n)
	ticker := time.NewTicker(r.toDuration(int64(n)))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Render(buf)
			if sink != nil {
				sink(buf)
			}
		}
	}
}

// removeLocked drops v from the active list. r.mu must be held.
func (r *Renderer) removeLocked(v *voice) {
	for i, cur := range r.voices {
		if cur == v {
			r.voices = append(r.voices[:i], r.voices[i+1:]...)
			return
		}
	}
}

// toSamples rounds to the nearest sample so that durations produced by
// toDuration (which truncate) map back to the same index.
func (r *Renderer) toSamples(d time.Duration) int64 {
	return (int64(d)*int64(r.rate) + int64(time.Second)/2) / int64(time.Second)
}

func (r *Renderer) toDuration(n int64) time.Duration {
	return time.Duration(n * int64(time.Second) / int64(r.rate))
}
