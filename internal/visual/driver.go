package visual

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

const (
	// DefaultInterval is the frame cadence, about 60 fps.
	DefaultInterval = 16 * time.Millisecond

	// timeStep is how far the animation clock moves per frame.
	timeStep = 0.05
)

// Source returns the current input. It is polled once per frame.
type Source func() Input

// DriverOption configures a [Driver].
type DriverOption func(*Driver)

// WithInterval sets the frame cadence.
func WithInterval(d time.Duration) DriverOption {
	return func(dr *Driver) {
		if d > 0 {
			dr.interval = d
		}
	}
}

// WithCanvas sets the canvas size in pixels. Default 320x320.
func WithCanvas(width, height float64) DriverOption {
	return func(dr *Driver) { dr.width, dr.height = width, height }
}

// Driver advances the animation clock and computes frames from a Source.
// It only reads its source and never mutates tutor state.
type Driver struct {
	src      Source
	interval time.Duration
	width    float64
	height   float64

	mu sync.Mutex
	t  float64
}

// NewDriver returns a Driver polling src.
func NewDriver(src Source, opts ...DriverOption) *Driver {
	d := &Driver{src: src, interval: DefaultInterval, width: 320, height: 320}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Step advances the clock by one frame and returns the new frame.
func (d *Driver) Step() Frame {
	d.mu.Lock()
	d.t += timeStep
	t := d.t
	d.mu.Unlock()
	return Compute(d.src(), t, d.width, d.height)
}

// Run calls render with a fresh frame on every tick until ctx is done.
func (d *Driver) Run(ctx context.Context, render func(Frame)) error {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			render(d.Step())
		}
	}
}

// Meter draws f as a single-line ANSI truecolor bar of width cells, for
// terminals.
func Meter(f Frame, width int) string {
	if width <= 0 {
		return ""
	}
	filled := int(f.Intensity*float64(width) + 0.5)
	filled = min(max(filled, 1), width)
	return fmt.Sprintf("\x1b[38;2;%d;%d;%dm%s\x1b[0m%s",
		f.Color.R, f.Color.G, f.Color.B,
		strings.Repeat("█", filled),
		strings.Repeat("·", width-filled),
	)
}
