package playback_test

import (
	"encoding/base64"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/didata-ai/didata/pkg/audio"
	"github.com/didata-ai/didata/pkg/audio/mock"
	"github.com/didata-ai/didata/pkg/audio/playback"
)

// chunk returns a base64 PCM16 payload of n silent samples.
func chunk(n int) string {
	return base64.StdEncoding.EncodeToString(make([]byte, n*2))
}

// dur returns the playback duration of n samples at the output rate.
func dur(n int) time.Duration {
	return time.Duration(n) * time.Second / audio.OutputSampleRate
}

type activityLog struct {
	mu     sync.Mutex
	events []bool
}

func (a *activityLog) record(active bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, active)
}

func (a *activityLog) get() []bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]bool, len(a.events))
	copy(out, a.events)
	return out
}

func TestScheduler_GaplessSequence(t *testing.T) {
	t.Parallel()

	out := mock.NewOutput()
	s := playback.New(out)
	defer s.Close()

	sizes := []int{2400, 4800, 1200}
	for _, n := range sizes {
		if err := s.Enqueue(chunk(n)); err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
	}

	voices := out.Voices()
	if len(voices) != len(sizes) {
		t.Fatalf("voices = %d; want %d", len(voices), len(sizes))
	}
	for i := 1; i < len(voices); i++ {
		if voices[i].Start != voices[i-1].End {
			t.Fatalf("voice %d start = %v; want %v (previous end)", i, voices[i].Start, voices[i-1].End)
		}
	}
	want := dur(2400) + dur(4800) + dur(1200)
	if got := s.NextStart(); got != want {
		t.Fatalf("NextStart = %v; want %v", got, want)
	}
	if got := s.Pending(); got != 3 {
		t.Fatalf("Pending = %d; want 3", got)
	}
}

func TestScheduler_ClampsToNowAfterIdle(t *testing.T) {
	t.Parallel()

	out := mock.NewOutput()
	s := playback.New(out)
	defer s.Close()

	if err := s.Enqueue(chunk(2400)); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	out.Advance(time.Second)
	if s.Active() {
		t.Fatal("Active = true after the only chunk ended; want false")
	}

	if err := s.Enqueue(chunk(2400)); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	voices := out.Voices()
	if got := voices[1].Start; got != time.Second {
		t.Fatalf("second voice start = %v; want %v", got, time.Second)
	}
	if got := s.NextStart(); got != time.Second+dur(2400) {
		t.Fatalf("NextStart = %v; want %v", got, time.Second+dur(2400))
	}
}

func TestScheduler_DecodeErrorSkipsChunk(t *testing.T) {
	t.Parallel()

	out := mock.NewOutput()
	s := playback.New(out)
	defer s.Close()

	if err := s.Enqueue(chunk(100)); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	before := s.NextStart()

	for _, bad := range []string{"!!!not base64", "", base64.StdEncoding.EncodeToString([]byte{1, 2, 3})} {
		err := s.Enqueue(bad)
		if !errors.Is(err, audio.ErrDecode) {
			t.Fatalf("Enqueue(%q) err = %v; want ErrDecode", bad, err)
		}
	}
	if got := s.NextStart(); got != before {
		t.Fatalf("NextStart = %v; want %v (unchanged)", got, before)
	}
	if got := len(out.Voices()); got != 1 {
		t.Fatalf("voices = %d; want 1", got)
	}

	// Later chunks still play.
	if err := s.Enqueue(chunk(100)); err != nil {
		t.Fatalf("Enqueue after decode error: %v", err)
	}
	if got := s.Pending(); got != 2 {
		t.Fatalf("Pending = %d; want 2", got)
	}
}

func TestScheduler_Interrupt(t *testing.T) {
	t.Parallel()

	out := mock.NewOutput()
	s := playback.New(out)
	defer s.Close()

	var log activityLog
	s.OnActivity(log.record)

	for range 3 {
		if err := s.Enqueue(chunk(2400)); err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
	}
	s.Interrupt()

	for i, v := range out.Voices() {
		if !v.Stopped() {
			t.Fatalf("voice %d not stopped", i)
		}
	}
	if s.Active() {
		t.Fatal("Active = true after Interrupt; want false")
	}
	if got := s.NextStart(); got != 0 {
		t.Fatalf("NextStart = %v; want 0", got)
	}
	if got := s.Level(); got != 0 {
		t.Fatalf("Level = %v; want 0", got)
	}

	// Stopped voices never report a natural end.
	out.Advance(time.Second)
	got := log.get()
	if len(got) != 2 || got[0] != true || got[1] != false {
		t.Fatalf("activity = %v; want [true false]", got)
	}
}

func TestScheduler_InterruptWhenIdle(t *testing.T) {
	t.Parallel()

	out := mock.NewOutput()
	s := playback.New(out)
	defer s.Close()

	var log activityLog
	s.OnActivity(log.record)
	s.Interrupt()
	if got := log.get(); len(got) != 0 {
		t.Fatalf("activity = %v; want none", got)
	}
}

func TestScheduler_ActivityTransitions(t *testing.T) {
	t.Parallel()

	out := mock.NewOutput()
	s := playback.New(out)
	defer s.Close()

	var log activityLog
	s.OnActivity(log.record)

	_ = s.Enqueue(chunk(2400))
	_ = s.Enqueue(chunk(2400))
	out.Advance(dur(2400))
	if !s.Active() {
		t.Fatal("Active = false with one chunk still playing; want true")
	}
	out.Advance(dur(2400))

	got := log.get()
	if len(got) != 2 || got[0] != true || got[1] != false {
		t.Fatalf("activity = %v; want [true false]", got)
	}
}

func TestScheduler_LevelSampling(t *testing.T) {
	t.Parallel()

	out := mock.NewOutput()
	out.SetLevel(0.5)
	s := playback.New(out, playback.WithLevelInterval(time.Millisecond))
	defer s.Close()

	levels := make(chan float64, 64)
	s.OnLevel(func(l float64) {
		select {
		case levels <- l:
		default:
		}
	})

	if err := s.Enqueue(chunk(2400)); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	select {
	case l := <-levels:
		if l != 0.5 {
			t.Fatalf("level = %v; want 0.5", l)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a level sample")
	}

	out.Advance(time.Second)
	if got := s.Level(); got != 0 {
		t.Fatalf("Level after idle = %v; want 0", got)
	}
}

func TestScheduler_PlayError(t *testing.T) {
	t.Parallel()

	out := mock.NewOutput()
	out.PlayErr = errors.New("device gone")
	s := playback.New(out)
	defer s.Close()

	if err := s.Enqueue(chunk(10)); err == nil {
		t.Fatal("Enqueue err = nil; want device error")
	}
	if got := s.NextStart(); got != 0 {
		t.Fatalf("NextStart = %v; want 0", got)
	}
}

func TestScheduler_Close(t *testing.T) {
	t.Parallel()

	out := mock.NewOutput()
	s := playback.New(out)
	_ = s.Enqueue(chunk(10))

	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if err := s.Enqueue(chunk(10)); !errors.Is(err, playback.ErrClosed) {
		t.Fatalf("Enqueue after Close err = %v; want ErrClosed", err)
	}
	if out.CallCountClose != 0 {
		t.Fatalf("output closed %d times; want 0", out.CallCountClose)
	}
}

func TestScheduler_OddChunksDoNotDrift(t *testing.T) {
	t.Parallel()

	out := mock.NewOutput()
	s := playback.New(out)
	defer s.Close()

	// 7 samples at 24 kHz is 291666.66ns; truncating per chunk would lose
	// 2/3 ns per chunk.
	const n, count = 7, 20000
	buf := audio.Buffer{Samples: make([]float32, n), SampleRate: audio.OutputSampleRate}
	for range count {
		if err := s.Schedule(buf); err != nil {
			t.Fatalf("Schedule: %v", err)
		}
	}

	for i, p := range out.Plays {
		want := audio.SamplesDuration(int64(i*n), audio.OutputSampleRate)
		if p.At != want {
			t.Fatalf("chunk %d at = %v; want %v", i, p.At, want)
		}
	}
	want := audio.SamplesDuration(n*count, audio.OutputSampleRate)
	if got := s.NextStart(); got != want {
		t.Fatalf("NextStart = %v; want %v", got, want)
	}
}

func TestScheduler_NoLevelAfterInterrupt(t *testing.T) {
	t.Parallel()

	out := mock.NewOutput()
	out.SetLevel(0.8)
	s := playback.New(out, playback.WithLevelInterval(time.Millisecond))
	defer s.Close()

	var (
		mu     sync.Mutex
		levels []float64
	)
	first := make(chan struct{}, 1)
	s.OnLevel(func(l float64) {
		// A slow consumer widens the window between sampling and delivery.
		time.Sleep(5 * time.Millisecond)
		mu.Lock()
		levels = append(levels, l)
		mu.Unlock()
		if l > 0 {
			select {
			case first <- struct{}{}:
			default:
			}
		}
	})

	for range 20 {
		if err := s.Enqueue(chunk(24000)); err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
		select {
		case <-first:
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for a level sample")
		}
		s.Interrupt()

		mu.Lock()
		last := levels[len(levels)-1]
		mu.Unlock()
		if last != 0 {
			t.Fatalf("last level after Interrupt = %v; want 0", last)
		}
	}

	time.Sleep(20 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	if last := levels[len(levels)-1]; last != 0 {
		t.Fatalf("last level after settling = %v; want 0", last)
	}
}
