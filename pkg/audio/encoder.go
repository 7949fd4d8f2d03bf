package audio

import (
	"math"
	"sync"
)

// FrameEncoder turns a continuous stream of float samples into fixed-size
// PCM16 [Frame] values.
//
// Write runs on the capture device's callback path, so the per-sample work is
// limited to arithmetic on preallocated buffers. The only allocation is the
// copy handed to emit once per completed frame.
//
// FrameEncoder is safe for concurrent use, although a single writer is the
// expected pattern.
type FrameEncoder struct {
	mu   sync.Mutex
	size int
	buf  []float32
	n    int
	emit func(Frame)
}

// NewFrameEncoder returns an encoder emitting one frame per size samples.
// A non-positive size selects [DefaultFrameSize].
func NewFrameEncoder(size int, emit func(Frame)) *FrameEncoder {
	if size <= 0 {
		size = DefaultFrameSize
	}
	return &FrameEncoder{
		size: size,
		buf:  make([]float32, size),
		emit: emit,
	}
}

// Size returns the number of samples per emitted frame.
func (e *FrameEncoder) Size() int { return e.size }

// Write appends samples to the accumulator, emitting a frame each time the
// buffer fills. Frames are emitted synchronously, in order, outside the lock.
func (e *FrameEncoder) Write(samples []float32) {
	var ready []Frame

	e.mu.Lock()
	for len(samples) > 0 {
		c := copy(e.buf[e.n:], samples)
		e.n += c
		samples = samples[c:]
		if e.n == e.size {
			ready = append(ready, e.flushLocked())
		}
	}
	e.mu.Unlock()

	if e.emit == nil {
		return
	}
	for _, f := range ready {
		e.emit(f)
	}
}

// Reset discards any partially accumulated samples.
func (e *FrameEncoder) Reset() {
	e.mu.Lock()
	e.n = 0
	e.mu.Unlock()
}

// flushLocked converts the full accumulator into a frame. e.mu must be held.
func (e *FrameEncoder) flushLocked() Frame {
	pcm := make([]int16, e.size)
	var sumSquares float64
	for i, v := range e.buf {
		s := clamp(v)
		pcm[i] = toPCM16(s)
		sumSquares += float64(s) * float64(s)
	}
	e.n = 0
	return Frame{
		Samples: pcm,
		Volume:  math.Sqrt(sumSquares / float64(e.size)),
	}
}

func clamp(v float32) float32 {
	switch {
	case v > 1:
		return 1
	case v < -1:
		return -1
	case v != v: // NaN
		return 0
	}
	return v
}

// toPCM16 maps a clamped sample onto the asymmetric int16 range.
func toPCM16(s float32) int16 {
	if s < 0 {
		return int16(s * 32768)
	}
	return int16(s * 32767)
}
