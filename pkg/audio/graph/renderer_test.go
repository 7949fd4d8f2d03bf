package graph_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/didata-ai/didata/pkg/audio"
	"github.com/didata-ai/didata/pkg/audio/graph"
)

func constant(n int, v float32) audio.Buffer {
	s := make([]float32, n)
	for i := range s {
		s[i] = v
	}
	return audio.Buffer{Samples: s, SampleRate: 1000}
}

func TestRenderer_ClockAdvances(t *testing.T) {
	t.Parallel()

	r := graph.New(1000)
	if got := r.Now(); got != 0 {
		t.Fatalf("Now = %v; want 0", got)
	}
	r.Render(make([]float32, 250))
	if got := r.Now(); got != 250*time.Millisecond {
		t.Fatalf("Now = %v; want 250ms", got)
	}
}

func TestRenderer_BackToBackVoicesAreGapless(t *testing.T) {
	t.Parallel()

	r := graph.New(1000)
	a := constant(30, 0.25)
	b := constant(30, 0.5)

	if _, err := r.Play(a, 0, nil); err != nil {
		t.Fatalf("Play a: %v", err)
	}
	if _, err := r.Play(b, a.Duration(), nil); err != nil {
		t.Fatalf("Play b: %v", err)
	}

	out := make([]float32, 80)
	r.Render(out)
	for i := range 30 {
		if out[i] != 0.25 {
			t.Fatalf("out[%d] = %v; want 0.25", i, out[i])
		}
	}
	for i := 30; i < 60; i++ {
		if out[i] != 0.5 {
			t.Fatalf("out[%d] = %v; want 0.5", i, out[i])
		}
	}
	for i := 60; i < 80; i++ {
		if out[i] != 0 {
			t.Fatalf("out[%d] = %v; want 0", i, out[i])
		}
	}
}

func TestRenderer_NonIntegralRateRoundTrip(t *testing.T) {
	t.Parallel()

	r := graph.New(audio.OutputSampleRate)
	a := audio.Buffer{Samples: make([]float32, 1), SampleRate: audio.OutputSampleRate}
	b := audio.Buffer{Samples: []float32{1}, SampleRate: audio.OutputSampleRate}
	_, _ = r.Play(a, 0, nil)
	_, _ = r.Play(b, a.Duration(), nil)

	out := make([]float32, 3)
	r.Render(out)
	if out[1] != 1 {
		t.Fatalf("out = %v; want second voice at index 1", out)
	}
}

func TestRenderer_EndCallbacks(t *testing.T) {
	t.Parallel()

	r := graph.New(1000)
	var ended atomic.Int32
	_, _ = r.Play(constant(10, 0.1), 0, func() {
		ended.Add(1)
		// Callbacks run unlocked and may re-enter the renderer.
		_ = r.Now()
	})

	r.Render(make([]float32, 5))
	if got := ended.Load(); got != 0 {
		t.Fatalf("ended = %d after half the voice; want 0", got)
	}
	r.Render(make([]float32, 5))
	if got := ended.Load(); got != 1 {
		t.Fatalf("ended = %d; want 1", got)
	}
	r.Render(make([]float32, 5))
	if got := ended.Load(); got != 1 {
		t.Fatalf("ended = %d after extra block; want 1", got)
	}
}

func TestRenderer_StopSuppressesEnd(t *testing.T) {
	t.Parallel()

	r := graph.New(1000)
	var ended atomic.Int32
	v, _ := r.Play(constant(10, 0.1), 0, func() { ended.Add(1) })
	v.Stop()

	out := make([]float32, 20)
	r.Render(out)
	if got := ended.Load(); got != 0 {
		t.Fatalf("ended = %d; want 0", got)
	}
	if out[0] != 0 {
		t.Fatalf("out[0] = %v; want silence after Stop", out[0])
	}
}

func TestRenderer_PastStartClampsToNow(t *testing.T) {
	t.Parallel()

	r := graph.New(1000)
	r.Render(make([]float32, 100))
	_, _ = r.Play(constant(1, 0.75), 0, nil)

	out := make([]float32, 2)
	r.Render(out)
	if out[0] != 0.75 {
		t.Fatalf("out[0] = %v; want 0.75", out[0])
	}
}

func TestRenderer_LevelAndClipping(t *testing.T) {
	t.Parallel()

	r := graph.New(1000)
	_, _ = r.Play(constant(10, 0.8), 0, nil)
	_, _ = r.Play(constant(10, 0.8), 0, nil)

	out := make([]float32, 10)
	r.Render(out)
	if out[0] != 1 {
		t.Fatalf("out[0] = %v; want clipped to 1", out[0])
	}
	if got := r.Level(); got != 1 {
		t.Fatalf("Level = %v; want 1", got)
	}

	r.Render(out)
	if got := r.Level(); got != 0 {
		t.Fatalf("Level on silence = %v; want 0", got)
	}
}

func TestRenderer_Resamples(t *testing.T) {
	t.Parallel()

	r := graph.New(2000)
	buf := audio.Buffer{Samples: make([]float32, 100), SampleRate: 1000}
	var ended atomic.Int32
	_, _ = r.Play(buf, 0, func() { ended.Add(1) })

	r.Render(make([]float32, 199))
	if ended.Load() != 0 {
		t.Fatal("voice ended early; resampled length should be 200")
	}
	r.Render(make([]float32, 1))
	if ended.Load() != 1 {
		t.Fatal("voice did not end at 200 samples")
	}
}

func TestRenderer_Close(t *testing.T) {
	t.Parallel()

	r := graph.New(1000)
	if err := r.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := r.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if _, err := r.Play(constant(1, 0), 0, nil); !errors.Is(err, graph.ErrClosed) {
		t.Fatalf("Play after Close err = %v; want ErrClosed", err)
	}
}

func TestRenderer_Drive(t *testing.T) {
	t.Parallel()

	r := graph.New(1000)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	var blocks atomic.Int32
	go func() {
		defer close(done)
		r.Drive(ctx, 5*time.Millisecond, func([]float32) { blocks.Add(1) })
	}()

	deadline := time.Now().Add(2 * time.Second)
	for blocks.Load() < 3 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	cancel()
	<-done

	if blocks.Load() < 3 {
		t.Fatalf("blocks = %d; want at least 3", blocks.Load())
	}
	if r.Now() < 15*time.Millisecond {
		t.Fatalf("Now = %v; want >= 15ms", r.Now())
	}
}
