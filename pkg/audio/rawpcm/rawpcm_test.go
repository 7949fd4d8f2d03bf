package rawpcm_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/didata-ai/didata/pkg/audio"
	"github.com/didata-ai/didata/pkg/audio/rawpcm"
)

type collector struct {
	mu      sync.Mutex
	samples []float32
	calls   int
}

func (c *collector) add(s []float32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.samples = append(c.samples, s...)
	c.calls++
}

func (c *collector) snapshot() ([]float32, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]float32(nil), c.samples...), c.calls
}

func TestMicrophone_FromReader(t *testing.T) {
	t.Parallel()

	pcm := []int16{0, 16384, -16384, 32767, -32768}
	raw := audio.Frame{Samples: pcm}.Bytes()

	mic := rawpcm.FromReader(bytes.NewReader(raw), rawpcm.WithoutPacing(), rawpcm.WithBlock(125*time.Microsecond))
	var c collector
	capt, err := mic.Open(context.Background(), audio.CaptureConfig{SampleRate: 16000}, c.add)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		got, _ := c.snapshot()
		if len(got) == len(pcm) || time.Now().After(deadline) {
			break
		}
		time.Sleep(time.Millisecond)
	}
	if err := capt.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	got, calls := c.snapshot()
	want := audio.PCM16ToFloat32(pcm)
	if len(got) != len(want) {
		t.Fatalf("len(samples) = %d; want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("samples[%d] = %v; want %v", i, got[i], want[i])
		}
	}
	// 125µs at 16 kHz is 2 samples per block.
	if calls != 3 {
		t.Fatalf("calls = %d; want 3", calls)
	}
}

func TestMicrophone_FromFileMissing(t *testing.T) {
	t.Parallel()

	mic := rawpcm.FromFile(filepath.Join(t.TempDir(), "missing.pcm"))
	if _, err := mic.Open(context.Background(), audio.CaptureConfig{}, func([]float32) {}); err == nil {
		t.Fatal("Open err = nil; want error for missing file")
	}
}

func TestMicrophone_CloseStopsDelivery(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "long.pcm")
	if err := os.WriteFile(path, make([]byte, 16000*2*10), 0o600); err != nil {
		t.Fatal(err)
	}
	mic := rawpcm.FromFile(path, rawpcm.WithBlock(10*time.Millisecond))
	var c collector
	capt, err := mic.Open(context.Background(), audio.CaptureConfig{SampleRate: 16000}, c.add)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	time.Sleep(35 * time.Millisecond)
	if err := capt.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	_, before := c.snapshot()
	time.Sleep(30 * time.Millisecond)
	_, after := c.snapshot()
	if after != before {
		t.Fatalf("calls grew from %d to %d after Close", before, after)
	}
	if err := capt.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}

// failingReader yields its data and then fails with err.
type failingReader struct {
	data []byte
	err  error
}

func (r *failingReader) Read(p []byte) (int, error) {
	if len(r.data) == 0 {
		return 0, r.err
	}
	n := copy(p, r.data)
	r.data = r.data[n:]
	return n, nil
}

func TestMicrophone_ReadErrorReported(t *testing.T) {
	t.Parallel()

	errUnplugged := errors.New("device unplugged")
	raw := audio.Frame{Samples: []int16{100, 200, 300, 400}}.Bytes()
	mic := rawpcm.FromReader(&failingReader{data: raw, err: errUnplugged},
		rawpcm.WithoutPacing(), rawpcm.WithBlock(125*time.Microsecond))

	errs := make(chan error, 2)
	var c collector
	capt, err := mic.Open(context.Background(), audio.CaptureConfig{
		SampleRate: 16000,
		OnError:    func(err error) { errs <- err },
	}, c.add)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer capt.Close()

	select {
	case err := <-errs:
		if !errors.Is(err, errUnplugged) {
			t.Fatalf("OnError(%v); want %v", err, errUnplugged)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for OnError")
	}
	if got, _ := c.snapshot(); len(got) != 4 {
		t.Fatalf("len(samples) = %d; want 4 before the failure", len(got))
	}
}

func TestMicrophone_EndOfInputIsNotAnError(t *testing.T) {
	t.Parallel()

	raw := audio.Frame{Samples: []int16{1, 2, 3}}.Bytes()
	mic := rawpcm.FromReader(&failingReader{data: raw, err: io.EOF},
		rawpcm.WithoutPacing(), rawpcm.WithBlock(125*time.Microsecond))

	errs := make(chan error, 1)
	var c collector
	capt, err := mic.Open(context.Background(), audio.CaptureConfig{
		SampleRate: 16000,
		OnError:    func(err error) { errs <- err },
	}, c.add)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		if got, _ := c.snapshot(); len(got) == 3 || time.Now().After(deadline) {
			break
		}
		time.Sleep(time.Millisecond)
	}
	if err := capt.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	select {
	case err := <-errs:
		t.Fatalf("OnError(%v) on clean end of input", err)
	default:
	}
}
