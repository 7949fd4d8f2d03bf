package visual_test

import (
	"context"
	"math"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/didata-ai/didata/internal/audioio"
	"github.com/didata-ai/didata/internal/live"
	"github.com/didata-ai/didata/internal/visual"
)

func TestCompute_ColorPriority(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   visual.Input
		want visual.RGB
	}{
		{"idle", visual.Input{}, visual.ColorIdle},
		{"connecting beats speech", visual.Input{Mode: visual.ModeConnecting, UserSpeaking: true}, visual.ColorConnecting},
		{"error beats speech", visual.Input{Mode: visual.ModeError, AISpeaking: true}, visual.ColorError},
		{"user beats ai", visual.Input{Mode: visual.ModeConnected, UserSpeaking: true, AISpeaking: true}, visual.ColorUser},
		{"ai", visual.Input{Mode: visual.ModeConnected, AISpeaking: true}, visual.ColorAI},
		{"connected idle", visual.Input{Mode: visual.ModeConnected}, visual.ColorConnected},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := visual.Compute(tt.in, 1, 320, 320).Color; got != tt.want {
				t.Fatalf("Color = %v; want %v", got, tt.want)
			}
		})
	}
}

func TestCompute_IntensityAndRings(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name          string
		in            visual.Input
		wantIntensity float64
		wantRings     int
	}{
		{"floor", visual.Input{}, 0.05, 3},
		{"error", visual.Input{Mode: visual.ModeError}, 0.1, 3},
		{"loud user", visual.Input{UserSpeaking: true, UserVolume: 3}, 1, 8},
		{"half ai", visual.Input{AISpeaking: true, AIVolume: 0.5}, 0.5, 5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			f := visual.Compute(tt.in, 0, 320, 320)
			if math.Abs(f.Intensity-tt.wantIntensity) > 1e-9 {
				t.Fatalf("Intensity = %v; want %v", f.Intensity, tt.wantIntensity)
			}
			if len(f.Rings) != tt.wantRings {
				t.Fatalf("rings = %d; want %d", len(f.Rings), tt.wantRings)
			}
			for _, r := range f.Rings {
				if r.Alpha < 0 || r.Alpha > 1 {
					t.Fatalf("ring alpha %v out of range", r.Alpha)
				}
			}
		})
	}
}

func TestCompute_ParticlesOnlyWhileSpeaking(t *testing.T) {
	t.Parallel()
	if n := len(visual.Compute(visual.Input{Mode: visual.ModeConnected}, 0, 320, 320).Particles); n != 0 {
		t.Fatalf("particles = %d while silent", n)
	}
	if n := len(visual.Compute(visual.Input{AISpeaking: true, AIVolume: 0.3}, 0, 320, 320).Particles); n != 8 {
		t.Fatalf("particles = %d while speaking; want 8", n)
	}
}

func TestCompute_ConnectingPulses(t *testing.T) {
	t.Parallel()
	in := visual.Input{Mode: visual.ModeConnecting}
	low := visual.Compute(in, -math.Pi/2, 320, 320).Intensity
	high := visual.Compute(in, math.Pi/2, 320, 320).Intensity
	if low != 0.05 || math.Abs(high-0.4) > 1e-9 {
		t.Fatalf("pulse range = [%v, %v]; want [0.05, 0.4]", low, high)
	}
}

func TestInputFrom(t *testing.T) {
	t.Parallel()
	in := visual.InputFrom(
		live.Status{State: live.StateErrorPaused},
		audioio.Signals{UserSpeaking: true, UserVolume: 0.7},
	)
	if in.Mode != visual.ModeError || !in.UserSpeaking || in.UserVolume != 0.7 {
		t.Fatalf("InputFrom = %+v", in)
	}
}

func TestDriver_AdvancesClock(t *testing.T) {
	t.Parallel()
	d := visual.NewDriver(func() visual.Input { return visual.Input{Mode: visual.ModeConnecting} })
	a, b := d.Step(), d.Step()
	if a.Intensity == b.Intensity {
		t.Fatal("consecutive connecting frames are identical; clock not advancing")
	}
}

func TestDriver_Run(t *testing.T) {
	t.Parallel()
	d := visual.NewDriver(func() visual.Input { return visual.Input{} }, visual.WithInterval(time.Millisecond))
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	var frames atomic.Int32
	err := d.Run(ctx, func(visual.Frame) { frames.Add(1) })
	if err == nil {
		t.Fatal("Run returned nil after context end")
	}
	if frames.Load() == 0 {
		t.Fatal("no frames rendered")
	}
}

func TestMeter(t *testing.T) {
	t.Parallel()
	f := visual.Compute(visual.Input{UserSpeaking: true, UserVolume: 0.5}, 0, 320, 320)
	m := visual.Meter(f, 10)
	if !strings.HasPrefix(m, "\x1b[38;2;16;185;129m") {
		t.Fatalf("Meter colour prefix wrong: %q", m)
	}
	if strings.Count(m, "█")+strings.Count(m, "·") != 10 {
		t.Fatalf("Meter width wrong: %q", m)
	}
	if visual.Meter(f, 0) != "" {
		t.Fatal("zero-width meter not empty")
	}
}
