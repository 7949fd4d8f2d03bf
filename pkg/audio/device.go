// Package audio defines the PCM primitives and device abstractions used by the
// live tutoring pipeline.
//
// The two device-facing abstractions are:
//
//   - [Microphone]: opens a capture stream delivering float samples.
//   - [Output]: a playback graph with its own clock on which decoded
//     [Buffer] values are scheduled at absolute times.
//
// Hardware implementations live in audio/portaudio; a pure software output
// graph lives in audio/graph; test doubles live in audio/mock.
package audio

import (
	"context"
	"time"
)

// CaptureConfig carries the constraints requested when opening a microphone.
// The processing hints are best-effort: backends that cannot honour them
// ignore them.
type CaptureConfig struct {
	// SampleRate in Hz. Defaults to [InputSampleRate] when zero.
	SampleRate int

	// Channels requested from the device. Only mono (1) is delivered.
	Channels int

	EchoCancellation bool
	NoiseSuppression bool
	AutoGainControl  bool

	// OnError, when set, is called at most once if the stream fails after
	// Open returned. No samples are delivered afterwards. It is not called
	// for a clean end of input or after Close.
	OnError func(error)
}

// Capture is an open microphone stream.
type Capture interface {
	// Close stops the stream and releases the device. Idempotent.
	Close() error
}

// Microphone opens exclusive capture streams.
//
// onSamples is invoked on the device's own goroutine for every block of mono
// samples in [-1, 1]. The slice is only valid for the duration of the call.
// Implementations must never block inside the device callback on anything
// other than onSamples itself.
type Microphone interface {
	Open(ctx context.Context, cfg CaptureConfig, onSamples func([]float32)) (Capture, error)
}

// Voice is a single buffer scheduled on an [Output].
type Voice interface {
	// Stop halts playback immediately. Stopping a voice that has already
	// finished is a no-op.
	Stop()
}

// Output is a playback graph with a monotonic clock.
//
// Implementations must be safe for concurrent use. onEnded callbacks are
// invoked from the graph's render goroutine once the voice finished playing
// naturally; they are not invoked for voices ended via [Voice.Stop].
type Output interface {
	// Now returns the current position of the playback clock.
	Now() time.Duration

	// Play schedules buf to start at the absolute clock time at. A start time
	// in the past starts immediately.
	Play(buf Buffer, at time.Duration, onEnded func()) (Voice, error)

	// Level returns the current output loudness in [0, 1].
	Level() float64

	// Close tears the graph down. Idempotent.
	Close() error
}
