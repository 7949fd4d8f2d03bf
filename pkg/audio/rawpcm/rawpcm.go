// Package rawpcm provides a device-free [audio.Microphone] that streams
// little-endian 16-bit mono PCM from a file or reader at real-time pace.
// It backs the headless build and end-to-end tests.
package rawpcm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/didata-ai/didata/pkg/audio"
)

var _ audio.Microphone = (*Microphone)(nil)

// Microphone replays raw PCM as if it were being captured.
type Microphone struct {
	open  func() (io.ReadCloser, error)
	block time.Duration
	paced bool
}

// Option configures a [Microphone].
type Option func(*Microphone)

// WithBlock sets the duration of each delivered block. Default: 100 ms.
func WithBlock(d time.Duration) Option {
	return func(m *Microphone) {
		if d > 0 {
			m.block = d
		}
	}
}

// WithoutPacing delivers blocks as fast as they can be read.
func WithoutPacing() Option {
	return func(m *Microphone) { m.paced = false }
}

// FromFile returns a Microphone that reads path on every Open. A missing file
// surfaces as an Open error, the same way a denied device would.
func FromFile(path string, opts ...Option) *Microphone {
	return newMicrophone(func() (io.ReadCloser, error) { return os.Open(path) }, opts)
}

// FromReader returns a Microphone that streams r once. r is not closed.
func FromReader(r io.Reader, opts ...Option) *Microphone {
	return newMicrophone(func() (io.ReadCloser, error) { return io.NopCloser(r), nil }, opts)
}

func newMicrophone(open func() (io.ReadCloser, error), opts []Option) *Microphone {
	m := &Microphone{open: open, block: 100 * time.Millisecond, paced: true}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Open implements [audio.Microphone]. Samples are delivered from a background
// goroutine until the source is exhausted, ctx is cancelled, or the capture is
// closed. A read failure other than end of input is reported through
// cfg.OnError.
func (m *Microphone) Open(ctx context.Context, cfg audio.CaptureConfig, onSamples func([]float32)) (audio.Capture, error) {
	src, err := m.open()
	if err != nil {
		return nil, fmt.Errorf("rawpcm: open source: %w", err)
	}
	rate := cfg.SampleRate
	if rate <= 0 {
		rate = audio.InputSampleRate
	}
	n := int(int64(rate) * int64(m.block) / int64(time.Second))
	if n <= 0 {
		n = 1
	}

	ctx, cancel := context.WithCancel(ctx)
	c := &capture{cancel: cancel, src: src, done: make(chan struct{})}
	go c.run(ctx, n, m.block, m.paced, onSamples, cfg.OnError)
	return c, nil
}

type capture struct {
	cancel context.CancelFunc
	src    io.ReadCloser
	done   chan struct{}
	once   sync.Once
}

func (c *capture) run(ctx context.Context, n int, block time.Duration, paced bool, onSamples func([]float32), onError func(error)) {
	defer close(c.done)

	raw := make([]byte, n*2)
	var ticker *time.Ticker
	if paced {
		ticker = time.NewTicker(block)
		defer ticker.Stop()
	}
	for {
		if ticker != nil {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		} else if ctx.Err() != nil {
			return
		}

		got, err := io.ReadFull(c.src, raw)
		got -= got % 2
		if got > 0 {
			pcm, _ := audio.BytesToPCM16(raw[:got])
			onSamples(audio.PCM16ToFloat32(pcm))
		}
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || ctx.Err() != nil {
				return
			}
			if onError != nil {
				onError(fmt.Errorf("rawpcm: read source: %w", err))
			}
			return
		}
	}
}

// Close implements [audio.Capture]. It waits for the delivery goroutine so no
// samples arrive after Close returns.
func (c *capture) Close() error {
	var err error
	c.once.Do(func() {
		c.cancel()
		<-c.done
		err = c.src.Close()
	})
	return err
}
