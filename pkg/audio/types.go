package audio

import (
	"encoding/binary"
	"time"
)

const (
	// InputSampleRate is the capture rate the live model expects (16 kHz mono).
	InputSampleRate = 16000

	// OutputSampleRate is the rate of the audio the live model returns (24 kHz mono).
	OutputSampleRate = 24000

	// DefaultFrameSize is the number of samples accumulated per [Frame].
	DefaultFrameSize = 4096
)

// Frame is a fixed-size block of signed 16-bit samples produced by a
// [FrameEncoder], together with the RMS loudness of the block. Frames are
// ephemeral: they are handed to the transport and dropped.
type Frame struct {
	// Samples holds exactly the encoder's buffer size of mono PCM16 samples.
	Samples []int16

	// Volume is sqrt(mean(s^2)) over the clamped float samples of the block.
	Volume float64
}

// Bytes returns the frame's samples as little-endian PCM16.
func (f Frame) Bytes() []byte {
	out := make([]byte, len(f.Samples)*2)
	for i, s := range f.Samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

// Buffer is decoded mono audio ready for playback.
type Buffer struct {
	// Samples are normalised to [-1, 1).
	Samples []float32

	// SampleRate in Hz.
	SampleRate int
}

// Duration returns how long the buffer plays at its sample rate.
func (b Buffer) Duration() time.Duration {
	if b.SampleRate <= 0 {
		return 0
	}
	return SamplesDuration(int64(len(b.Samples)), b.SampleRate)
}

// SamplesDuration returns the duration of n samples at rate, truncated to the
// nanosecond. Summing per-buffer durations drifts; callers that lay buffers
// end to end should count samples and convert once.
func SamplesDuration(n int64, rate int) time.Duration {
	if rate <= 0 {
		return 0
	}
	r := int64(rate)
	return time.Duration(n/r)*time.Second + time.Duration(n%r*int64(time.Second)/r)
}
