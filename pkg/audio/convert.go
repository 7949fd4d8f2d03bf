package audio

import (
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// ErrDecode is matched by every [DecodeError] via errors.Is.
var ErrDecode = errors.New("audio: decode failed")

// DecodeError reports a single malformed or incompatible audio chunk. It is
// never fatal: the chunk is skipped and the pipeline continues.
type DecodeError struct {
	// Len is the length of the offending encoded payload.
	Len int
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("audio: decode chunk (%d bytes): %v", e.Len, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrDecode) match any DecodeError.
func (e *DecodeError) Is(target error) bool { return target == ErrDecode }

// Float32ToPCM16 clamps and converts float samples to PCM16 using the same
// mapping as the [FrameEncoder].
func Float32ToPCM16(samples []float32) []int16 {
	out := make([]int16, len(samples))
	for i, v := range samples {
		out[i] = toPCM16(clamp(v))
	}
	return out
}

// PCM16ToFloat32 normalises PCM16 samples to float32 by dividing by 32768.
func PCM16ToFloat32(samples []int16) []float32 {
	out := make([]float32, len(samples))
	for i, s := range samples {
		out[i] = float32(s) / 32768
	}
	return out
}

// BytesToPCM16 interprets b as little-endian PCM16. b must have even length.
func BytesToPCM16(b []byte) ([]int16, error) {
	if len(b)%2 != 0 {
		return nil, fmt.Errorf("odd byte count %d for 16-bit PCM", len(b))
	}
	out := make([]int16, len(b)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(b[i*2:]))
	}
	return out, nil
}

// EncodePCM16Base64 serialises PCM16 samples to the base64 wire format.
func EncodePCM16Base64(samples []int16) string {
	return base64.StdEncoding.EncodeToString(Frame{Samples: samples}.Bytes())
}

// DecodePCM16Base64 decodes a base64 PCM16 payload into a playback [Buffer]
// at sampleRate. Failures are reported as *[DecodeError].
func DecodePCM16Base64(data string, sampleRate int) (Buffer, error) {
	raw, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return Buffer{}, &DecodeError{Len: len(data), Err: err}
	}
	if len(raw) == 0 {
		return Buffer{}, &DecodeError{Len: len(data), Err: errors.New("empty payload")}
	}
	pcm, err := BytesToPCM16(raw)
	if err != nil {
		return Buffer{}, &DecodeError{Len: len(data), Err: err}
	}
	return Buffer{Samples: PCM16ToFloat32(pcm), SampleRate: sampleRate}, nil
}

// RMS returns sqrt(mean(s^2)) over samples, or 0 for an empty slice.
func RMS(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}
	return math.Sqrt(sum / float64(len(samples)))
}

// Resample converts mono float samples from srcRate to dstRate using linear
// interpolation. If the rates match, the input is returned unchanged.
func Resample(samples []float32, srcRate, dstRate int) []float32 {
	if srcRate <= 0 || dstRate <= 0 || srcRate == dstRate || len(samples) == 0 {
		return samples
	}
	dstLen := int(int64(len(samples)) * int64(dstRate) / int64(srcRate))
	if dstLen == 0 {
		return nil
	}

	out := make([]float32, dstLen)
	ratio := float64(srcRate) / float64(dstRate)
	for i := range dstLen {
		pos := float64(i) * ratio
		idx := int(pos)
		frac := float32(pos - float64(idx))

		s0 := samples[idx]
		s1 := s0
		if idx+1 < len(samples) {
			s1 = samples[idx+1]
		}
		out[i] = s0*(1-frac) + s1*frac
	}
	return out
}
