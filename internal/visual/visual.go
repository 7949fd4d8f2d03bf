// Package visual turns the tutor's audio signals and connection state into
// animation frames: a pulsing orb with reactive rings, coloured by who is
// speaking. [Compute] is a pure function of its inputs and the animation
// clock; [Driver] advances the clock and feeds a renderer.
package visual

import (
	"math"

	"github.com/didata-ai/didata/internal/audioio"
	"github.com/didata-ai/didata/internal/live"
)

// Mode is the connection state as the visualizer sees it.
type Mode int

const (
	ModeIdle Mode = iota
	ModeConnecting
	ModeConnected
	ModeError
)

// ModeOf maps a live controller state to a Mode.
func ModeOf(s live.State) Mode {
	switch s {
	case live.StateConnecting:
		return ModeConnecting
	case live.StateConnected:
		return ModeConnected
	case live.StateErrorPaused:
		return ModeError
	default:
		return ModeIdle
	}
}

// Input is everything a frame depends on besides the clock.
type Input struct {
	Mode         Mode
	UserSpeaking bool
	AISpeaking   bool
	UserVolume   float64
	AIVolume     float64
}

// InputFrom combines a status snapshot and audio signals.
func InputFrom(st live.Status, sig audioio.Signals) Input {
	return Input{
		Mode:         ModeOf(st.State),
		UserSpeaking: sig.UserSpeaking,
		AISpeaking:   sig.AISpeaking,
		UserVolume:   sig.UserVolume,
		AIVolume:     sig.AIVolume,
	}
}

// RGB is an 8-bit colour.
type RGB struct{ R, G, B uint8 }

// Palette.
var (
	ColorIdle       = RGB{100, 116, 139}
	ColorConnecting = RGB{255, 255, 255}
	ColorError      = RGB{239, 68, 68}
	ColorUser       = RGB{16, 185, 129}
	ColorAI         = RGB{14, 165, 233}
	ColorConnected  = RGB{56, 189, 248}
)

// Ring is one expanding circle.
type Ring struct {
	Radius    float64
	Alpha     float64
	LineWidth float64
}

// Point is a particle position relative to the centre.
type Point struct{ X, Y float64 }

// Frame is one rendered animation step. Geometry is in pixels for a canvas
// of the size passed to [Compute].
type Frame struct {
	Color      RGB
	Intensity  float64 // clamped to [0.05, 1]
	Rings      []Ring
	CoreRadius float64
	Particles  []Point // only while someone speaks
}

const (
	minIntensity  = 0.05
	particleCount = 8
)

// Compute renders the frame for in at animation time t on a canvas of
// width by height pixels. Priority: connecting, error, user speaking, AI
// speaking, connected idle, idle.
func Compute(in Input, t, width, height float64) Frame {
	color, volume := ColorIdle, 0.0
	switch {
	case in.Mode == ModeConnecting:
		color, volume = ColorConnecting, (math.Sin(t)+1)*0.2
	case in.Mode == ModeError:
		color, volume = ColorError, 0.1
	case in.UserSpeaking:
		color, volume = ColorUser, in.UserVolume
	case in.AISpeaking:
		color, volume = ColorAI, in.AIVolume
	case in.Mode == ModeConnected:
		color, volume = ColorConnected, 0.05+math.Sin(t*0.5)*0.02
	}

	intensity := math.Min(1, math.Max(minIntensity, volume))
	f := Frame{
		Color:      color,
		Intensity:  intensity,
		CoreRadius: 30 + intensity*20,
	}

	half := math.Min(width, height) / 2
	n := 3 + int(math.Floor(intensity*5))
	f.Rings = make([]Ring, n)
	for i := range n {
		fi := float64(i)
		radius := 40 + fi*15 + intensity*100*(math.Sin(t+fi)*0.5+0.5)
		alpha := 0.0
		if half > 0 {
			alpha = math.Max(0, 1-radius/half)
		}
		f.Rings[i] = Ring{Radius: radius, Alpha: alpha, LineWidth: 2 + intensity*4}
	}

	if in.UserSpeaking || in.AISpeaking {
		orbit := 60 + intensity*80
		f.Particles = make([]Point, particleCount)
		for j := range particleCount {
			angle := t*2 + float64(j)*(2*math.Pi/particleCount)
			f.Particles[j] = Point{X: math.Cos(angle) * orbit, Y: math.Sin(angle) * orbit}
		}
	}
	return f
}
