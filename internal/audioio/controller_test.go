package audioio_test

import (
	"context"
	"encoding/base64"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/didata-ai/didata/internal/audioio"
	"github.com/didata-ai/didata/pkg/audio"
	"github.com/didata-ai/didata/pkg/audio/mock"
)

type outputs struct {
	mu    sync.Mutex
	made  []*mock.Output
	err   error
	calls int
}

func (o *outputs) factory() (audio.Output, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.calls++
	if o.err != nil {
		return nil, o.err
	}
	out := mock.NewOutput()
	o.made = append(o.made, out)
	return out, nil
}

func (o *outputs) last() *mock.Output {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.made) == 0 {
		return nil
	}
	return o.made[len(o.made)-1]
}

func newController(t *testing.T, mic *mock.Microphone, outs *outputs) *audioio.Controller {
	t.Helper()
	c := audioio.New(mic, outs.factory, audioio.WithFrameSize(4))
	t.Cleanup(c.ResetAudioState)
	return c
}

func chunk(n int) string {
	return base64.StdEncoding.EncodeToString(make([]byte, n*2))
}

func TestStartInput_WiresEncoder(t *testing.T) {
	t.Parallel()

	mic := &mock.Microphone{}
	c := newController(t, mic, &outputs{})

	var frames []audio.Frame
	if err := c.StartInput(context.Background(), func(f audio.Frame) { frames = append(frames, f) }); err != nil {
		t.Fatalf("StartInput: %v", err)
	}
	if !c.InputActive() {
		t.Fatal("InputActive = false; want true")
	}

	cfg := mic.Configs[0]
	if cfg.SampleRate != 16000 || cfg.Channels != 1 {
		t.Errorf("capture config = %+v; want 16 kHz mono", cfg)
	}
	if !cfg.EchoCancellation || !cfg.NoiseSuppression || !cfg.AutoGainControl {
		t.Errorf("capture config = %+v; want all processing hints on", cfg)
	}

	mic.Emit([]float32{0.1, 0.1, 0.1})
	if len(frames) != 0 {
		t.Fatalf("frames = %d before the buffer filled; want 0", len(frames))
	}
	mic.Emit([]float32{0.1, 0.1, 0.1, 0.1, 0.1})
	if len(frames) != 2 {
		t.Fatalf("frames = %d; want 2", len(frames))
	}

	s := c.Signals()
	if !s.UserSpeaking {
		t.Error("UserSpeaking = false; want true for RMS 0.1")
	}
	if s.UserVolume < 0.49 || s.UserVolume > 0.51 {
		t.Errorf("UserVolume = %v; want ~0.5", s.UserVolume)
	}
}

func TestStartInput_DisplayVolumeClamped(t *testing.T) {
	t.Parallel()

	mic := &mock.Microphone{}
	c := newController(t, mic, &outputs{})
	_ = c.StartInput(context.Background(), nil)

	mic.Emit([]float32{0.9, -0.9, 0.9, -0.9})
	if got := c.Signals().UserVolume; got != 1 {
		t.Fatalf("UserVolume = %v; want 1", got)
	}

	mic.Emit([]float32{0.001, 0.001, 0.001, 0.001})
	if c.Signals().UserSpeaking {
		t.Fatal("UserSpeaking = true below threshold; want false")
	}
}

func TestStartInput_MicrophoneError(t *testing.T) {
	t.Parallel()

	denied := errors.New("permission denied")
	mic := &mock.Microphone{OpenErr: denied}
	c := newController(t, mic, &outputs{})

	err := c.StartInput(context.Background(), nil)
	var merr *audioio.MicrophoneAccessError
	if !errors.As(err, &merr) {
		t.Fatalf("err = %v; want *MicrophoneAccessError", err)
	}
	if !errors.Is(err, denied) {
		t.Errorf("err does not wrap the device cause")
	}
	if merr.UserMessage() != audioio.MicrophoneErrorText {
		t.Errorf("UserMessage = %q", merr.UserMessage())
	}
	if c.InputActive() {
		t.Error("InputActive = true after failure; want false")
	}
	if c.Signals().Err == nil {
		t.Error("Signals().Err = nil; want stored error")
	}

	// A later attempt is not blocked by the failed one.
	mic.OpenErr = nil
	if err := c.StartInput(context.Background(), nil); err != nil {
		t.Fatalf("retry StartInput: %v", err)
	}
}

func TestStartInput_NoopWhileRunning(t *testing.T) {
	t.Parallel()

	mic := &mock.Microphone{}
	c := newController(t, mic, &outputs{})
	_ = c.StartInput(context.Background(), nil)
	_ = c.StartInput(context.Background(), nil)
	if mic.CallCountOpen != 1 {
		t.Fatalf("Open calls = %d; want 1", mic.CallCountOpen)
	}
}

func TestStopInput_Idempotent(t *testing.T) {
	t.Parallel()

	mic := &mock.Microphone{}
	c := newController(t, mic, &outputs{})

	c.StopInput() // before start

	var frames int
	_ = c.StartInput(context.Background(), func(audio.Frame) { frames++ })
	mic.Emit([]float32{0.5, 0.5, 0.5, 0.5})
	c.StopInput()
	c.StopInput()

	if !mic.Captures()[0].Closed() {
		t.Fatal("capture not closed")
	}
	if got := mic.Captures()[0].CallCountClose; got != 1 {
		t.Fatalf("capture closed %d times; want 1", got)
	}
	if mic.Emit([]float32{0.5, 0.5, 0.5, 0.5}) {
		t.Fatal("samples still routed after StopInput")
	}
	if frames != 1 {
		t.Fatalf("frames = %d; want 1", frames)
	}
	s := c.Signals()
	if s.UserSpeaking || s.UserVolume != 0 {
		t.Fatalf("user signals = %+v; want cleared", s)
	}
}

func TestPlayAudioChunk_LazyOutput(t *testing.T) {
	t.Parallel()

	outs := &outputs{}
	c := newController(t, &mock.Microphone{}, outs)
	if outs.calls != 0 {
		t.Fatal("output built before first chunk")
	}

	for range 3 {
		if err := c.PlayAudioChunk(chunk(2400)); err != nil {
			t.Fatalf("PlayAudioChunk: %v", err)
		}
	}
	if outs.calls != 1 {
		t.Fatalf("output factory calls = %d; want 1", outs.calls)
	}
	if !c.Signals().AISpeaking || !c.PlaybackActive() {
		t.Fatal("AI not speaking after chunks were scheduled")
	}

	outs.last().Advance(time.Second)
	if c.Signals().AISpeaking {
		t.Fatal("AISpeaking = true after all chunks ended")
	}
}

func TestPlayAudioChunk_DecodeError(t *testing.T) {
	t.Parallel()

	c := newController(t, &mock.Microphone{}, &outputs{})
	err := c.PlayAudioChunk("%%%")
	if !errors.Is(err, audio.ErrDecode) {
		t.Fatalf("err = %v; want ErrDecode", err)
	}
	var derr *audio.DecodeError
	if !errors.As(err, &derr) {
		t.Fatalf("err = %T; want *audio.DecodeError", err)
	}
	if c.Signals().AISpeaking {
		t.Fatal("AISpeaking = true after a skipped chunk")
	}
	if c.Signals().Err != nil {
		t.Fatal("decode errors must not surface as a stored error")
	}
}

func TestPlayAudioChunk_OutputError(t *testing.T) {
	t.Parallel()

	outs := &outputs{err: errors.New("no speaker")}
	c := newController(t, &mock.Microphone{}, outs)
	if err := c.PlayAudioChunk(chunk(10)); err == nil {
		t.Fatal("PlayAudioChunk err = nil; want output error")
	}
	if c.Signals().Err == nil {
		t.Fatal("Signals().Err = nil; want output error recorded")
	}
}

func TestStopAudioPlayback_Synchronous(t *testing.T) {
	t.Parallel()

	outs := &outputs{}
	c := newController(t, &mock.Microphone{}, outs)
	c.StopAudioPlayback() // no output yet

	_ = c.PlayAudioChunk(chunk(2400))
	_ = c.PlayAudioChunk(chunk(2400))
	c.StopAudioPlayback()

	if s := c.Signals(); s.AISpeaking || s.AIVolume != 0 {
		t.Fatalf("AI signals = %+v; want idle immediately", s)
	}
	for i, v := range outs.last().Voices() {
		if !v.Stopped() {
			t.Fatalf("voice %d still playing", i)
		}
	}
}

func TestResetAudioState_Idempotent(t *testing.T) {
	t.Parallel()

	mic := &mock.Microphone{OpenErr: errors.New("busy")}
	outs := &outputs{}
	c := newController(t, mic, outs)

	// Reset while idle.
	c.ResetAudioState()
	if got := c.Signals(); got != (audioio.Signals{}) {
		t.Fatalf("Signals after idle reset = %+v; want zero", got)
	}

	// Reach a messy state: stored error, running output.
	_ = c.StartInput(context.Background(), nil)
	mic.OpenErr = nil
	_ = c.StartInput(context.Background(), nil)
	mic.Emit([]float32{0.5, 0.5, 0.5, 0.5})
	_ = c.PlayAudioChunk(chunk(2400))

	var (
		mu       sync.Mutex
		notified []audioio.Signals
	)
	c.OnChange(func(s audioio.Signals) {
		mu.Lock()
		defer mu.Unlock()
		notified = append(notified, s)
	})

	c.ResetAudioState()
	first := c.Signals()
	c.ResetAudioState()
	second := c.Signals()

	if first != (audioio.Signals{}) || second != (audioio.Signals{}) {
		t.Fatalf("signals after resets = %+v / %+v; want zero", first, second)
	}
	if c.InputActive() || c.PlaybackActive() {
		t.Fatal("resources still active after reset")
	}
	if got := outs.last().CallCountClose; got != 1 {
		t.Fatalf("output closed %d times; want 1", got)
	}
	if got := mic.Captures()[0].CallCountClose; got != 1 {
		t.Fatalf("capture closed %d times; want 1", got)
	}
	mu.Lock()
	last := notified[len(notified)-1]
	mu.Unlock()
	if last != (audioio.Signals{}) {
		t.Fatalf("last notification = %+v; want zero signals", last)
	}

	// Output is rebuilt lazily afterwards.
	if err := c.PlayAudioChunk(chunk(10)); err != nil {
		t.Fatalf("PlayAudioChunk after reset: %v", err)
	}
	if outs.calls != 2 {
		t.Fatalf("output factory calls = %d; want 2", outs.calls)
	}
}

func TestStartInput_StreamFailure(t *testing.T) {
	t.Parallel()

	mic := &mock.Microphone{}
	c := newController(t, mic, &outputs{})

	failures := make(chan error, 1)
	c.OnInputError(func(err error) { failures <- err })
	if err := c.StartInput(context.Background(), nil); err != nil {
		t.Fatalf("StartInput: %v", err)
	}

	unplugged := errors.New("device unplugged")
	if !mic.Fail(unplugged) {
		t.Fatal("Fail reported no open capture")
	}

	select {
	case err := <-failures:
		var merr *audioio.MicrophoneAccessError
		if !errors.As(err, &merr) || !errors.Is(err, unplugged) {
			t.Fatalf("OnInputError(%v); want *MicrophoneAccessError wrapping %v", err, unplugged)
		}
	default:
		t.Fatal("OnInputError not called")
	}
	if c.InputActive() {
		t.Fatal("InputActive = true after the stream died")
	}
	if c.Signals().Err == nil {
		t.Fatal("Signals().Err = nil; want stream failure recorded")
	}

	capt := mic.Captures()[0]
	deadline := time.Now().Add(2 * time.Second)
	for !capt.Closed() && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if !capt.Closed() {
		t.Fatal("dead capture was not closed")
	}

	if err := c.StartInput(context.Background(), nil); err != nil {
		t.Fatalf("restart StartInput: %v", err)
	}
	if !c.InputActive() {
		t.Fatal("InputActive = false after restart")
	}
}

func TestStartInput_StaleFailureIgnored(t *testing.T) {
	t.Parallel()

	mic := &mock.Microphone{}
	c := newController(t, mic, &outputs{})

	var calls int
	c.OnInputError(func(error) { calls++ })
	if err := c.StartInput(context.Background(), nil); err != nil {
		t.Fatalf("StartInput: %v", err)
	}
	c.StopInput()

	// The device goroutine of the closed stream reports after teardown.
	mic.Configs[0].OnError(errors.New("late"))
	if calls != 0 || c.Signals().Err != nil {
		t.Fatalf("calls = %d, err = %v after stopped input; want none", calls, c.Signals().Err)
	}
}

// gatedOutputs blocks every factory call until release is closed.
type gatedOutputs struct {
	outputs
	entered chan struct{}
	release chan struct{}
}

func newGatedOutputs() *gatedOutputs {
	return &gatedOutputs{entered: make(chan struct{}, 4), release: make(chan struct{})}
}

func (g *gatedOutputs) factory() (audio.Output, error) {
	g.entered <- struct{}{}
	<-g.release
	return g.outputs.factory()
}

func TestPlayAudioChunk_OpensOutputWithoutBlockingController(t *testing.T) {
	t.Parallel()

	outs := newGatedOutputs()
	c := audioio.New(&mock.Microphone{}, outs.factory, audioio.WithFrameSize(4))
	t.Cleanup(c.ResetAudioState)

	errs := make(chan error, 2)
	go func() { errs <- c.PlayAudioChunk(chunk(240)) }()
	<-outs.entered
	go func() { errs <- c.PlayAudioChunk(chunk(240)) }()

	done := make(chan struct{})
	go func() {
		_ = c.Signals()
		_ = c.InputActive()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("controller blocked while the output device was opening")
	}

	close(outs.release)
	for range 2 {
		if err := <-errs; err != nil {
			t.Fatalf("PlayAudioChunk: %v", err)
		}
	}
	outs.mu.Lock()
	calls := outs.calls
	outs.mu.Unlock()
	if calls != 1 {
		t.Fatalf("output factory calls = %d; want 1", calls)
	}
	if got := len(outs.last().Plays); got != 2 {
		t.Fatalf("plays = %d; want 2 on the shared output", got)
	}
}

func TestPlayAudioChunk_ResetWhileOpening(t *testing.T) {
	t.Parallel()

	outs := newGatedOutputs()
	c := audioio.New(&mock.Microphone{}, outs.factory, audioio.WithFrameSize(4))
	t.Cleanup(c.ResetAudioState)

	errs := make(chan error, 1)
	go func() { errs <- c.PlayAudioChunk(chunk(240)) }()
	<-outs.entered

	c.ResetAudioState()
	close(outs.release)

	if err := <-errs; !errors.Is(err, audioio.ErrOutputReset) {
		t.Fatalf("PlayAudioChunk err = %v; want ErrOutputReset", err)
	}
	if got := outs.last().CallCountClose; got != 1 {
		t.Fatalf("orphaned output Close calls = %d; want 1", got)
	}
	if c.PlaybackActive() {
		t.Fatal("PlaybackActive = true after reset")
	}
}
