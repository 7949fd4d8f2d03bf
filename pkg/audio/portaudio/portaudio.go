//go:build portaudio

// Package portaudio binds the default sound card to the [audio.Microphone] and
// [audio.Output] interfaces via PortAudio. It requires cgo and the PortAudio
// library, and is compiled only with the "portaudio" build tag.
package portaudio

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/gordonklaus/portaudio"

	"github.com/didata-ai/didata/pkg/audio"
	"github.com/didata-ai/didata/pkg/audio/graph"
)

var (
	_ audio.Microphone = (*Microphone)(nil)
	_ audio.Output     = (*Speaker)(nil)
)

// framesPerBuffer is the callback block size. 20 ms at 24 kHz keeps the
// playback clock fine-grained without starving the callback thread.
const framesPerBuffer = 480

var (
	initMu    sync.Mutex
	initCount int
)

// acquire initialises PortAudio on first use. Calls nest; each successful
// acquire must be paired with release.
func acquire() error {
	initMu.Lock()
	defer initMu.Unlock()
	if initCount == 0 {
		if err := portaudio.Initialize(); err != nil {
			return fmt.Errorf("portaudio: initialize: %w", err)
		}
	}
	initCount++
	return nil
}

func release() {
	initMu.Lock()
	defer initMu.Unlock()
	if initCount == 0 {
		return
	}
	initCount--
	if initCount == 0 {
		_ = portaudio.Terminate()
	}
}

// ─── Microphone ───────────────────────────────────────────────────────────────

// Microphone captures mono float samples from the default input device.
//
// PortAudio exposes no echo cancellation, noise suppression or gain control;
// those [audio.CaptureConfig] flags are accepted and ignored.
type Microphone struct{}

// NewMicrophone returns the default-device microphone.
func NewMicrophone() *Microphone { return &Microphone{} }

// Open implements [audio.Microphone]. The stream runs in blocking mode: a
// reader goroutine pulls each block into a reused buffer and hands it to
// onSamples. A read failure other than an input overflow stops delivery and is
// reported through cfg.OnError.
func (m *Microphone) Open(_ context.Context, cfg audio.CaptureConfig, onSamples func([]float32)) (audio.Capture, error) {
	if err := acquire(); err != nil {
		return nil, err
	}
	rate := cfg.SampleRate
	if rate <= 0 {
		rate = audio.InputSampleRate
	}

	in := make([]float32, framesPerBuffer)
	stream, err := portaudio.OpenDefaultStream(1, 0, float64(rate), framesPerBuffer, in)
	if err != nil {
		release()
		return nil, fmt.Errorf("portaudio: open input stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		release()
		return nil, fmt.Errorf("portaudio: start input stream: %w", err)
	}
	c := &capture{stream: stream, done: make(chan struct{})}
	go c.read(in, onSamples, cfg.OnError)
	return c, nil
}

type capture struct {
	once    sync.Once
	stream  *portaudio.Stream
	closing atomic.Bool
	done    chan struct{}
}

func (c *capture) read(in []float32, onSamples func([]float32), onError func(error)) {
	defer close(c.done)
	for !c.closing.Load() {
		err := c.stream.Read()
		if errors.Is(err, portaudio.InputOverflowed) {
			// Lost samples; the block is still valid.
			err = nil
		}
		if err != nil {
			if !c.closing.Load() && onError != nil {
				onError(fmt.Errorf("portaudio: read input stream: %w", err))
			}
			return
		}
		onSamples(in)
	}
}

func (c *capture) Close() error {
	var err error
	c.once.Do(func() {
		defer release()
		c.closing.Store(true)
		if stopErr := c.stream.Stop(); stopErr != nil {
			err = fmt.Errorf("portaudio: stop input stream: %w", stopErr)
		}
		<-c.done
		if closeErr := c.stream.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("portaudio: close input stream: %w", closeErr)
		}
	})
	return err
}

// ─── Speaker ──────────────────────────────────────────────────────────────────

// Speaker is an [audio.Output] whose clock is the default output device. The
// device callback pulls blocks from an embedded [graph.Renderer].
type Speaker struct {
	*graph.Renderer

	once   sync.Once
	stream *portaudio.Stream
}

// NewSpeaker opens the default output device at sampleRate and starts
// rendering.
func NewSpeaker(sampleRate int) (*Speaker, error) {
	if err := acquire(); err != nil {
		return nil, err
	}
	r := graph.New(sampleRate)
	stream, err := portaudio.OpenDefaultStream(0, 1, float64(r.SampleRate()), framesPerBuffer, r.Render)
	if err != nil {
		release()
		return nil, fmt.Errorf("portaudio: open output stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		release()
		return nil, fmt.Errorf("portaudio: start output stream: %w", err)
	}
	return &Speaker{Renderer: r, stream: stream}, nil
}

// Close stops the device and the renderer. Idempotent.
func (s *Speaker) Close() error {
	var err error
	s.once.Do(func() {
		defer release()
		if stopErr := s.stream.Stop(); stopErr != nil {
			err = fmt.Errorf("portaudio: stop output stream: %w", stopErr)
		}
		if closeErr := s.stream.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("portaudio: close output stream: %w", closeErr)
		}
		_ = s.Renderer.Close()
	})
	return err
}
