//go:build !portaudio

package main

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"flag"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/didata-ai/didata/internal/audioio"
	"github.com/didata-ai/didata/pkg/audio"
	"github.com/didata-ai/didata/pkg/audio/graph"
	"github.com/didata-ai/didata/pkg/audio/rawpcm"
)

// deviceOptions replaces the sound card with files: microphone input is read
// from raw PCM16 and the tutor's voice is rendered in real time, optionally
// written out as raw PCM16 at [audio.OutputSampleRate].
type deviceOptions struct {
	input  *string
	output *string
}

func deviceFlags(fs *flag.FlagSet) *deviceOptions {
	return &deviceOptions{
		input:  fs.String("input", "", "raw PCM16 mono 16 kHz file used as the microphone (required without portaudio)"),
		output: fs.String("output", "", "write the tutor's voice as raw PCM16 mono 24 kHz to this file"),
	}
}

func (d *deviceOptions) open() (audio.Microphone, audioio.OutputFactory, error) {
	if *d.input == "" {
		return nil, nil, errors.New("no audio device: rebuild with -tags portaudio or pass -input")
	}
	newOutput := func() (audio.Output, error) {
		out, err := newFileOutput(*d.output)
		if err != nil {
			return nil, err
		}
		return out, nil
	}
	return rawpcm.FromFile(*d.input), newOutput, nil
}

// fileOutput drives a [graph.Renderer] on the wall clock.
type fileOutput struct {
	*graph.Renderer

	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
	file   *os.File
	w      *bufio.Writer
}

func newFileOutput(path string) (*fileOutput, error) {
	o := &fileOutput{
		Renderer: graph.New(audio.OutputSampleRate),
		done:     make(chan struct{}),
	}
	var sink func([]float32)
	if path != "" {
		f, err := os.Create(path)
		if err != nil {
			return nil, fmt.Errorf("open output: %w", err)
		}
		o.file, o.w = f, bufio.NewWriter(f)
		sink = o.write
	}

	ctx, cancel := context.WithCancel(context.Background())
	o.cancel = cancel
	go func() {
		defer close(o.done)
		o.Drive(ctx, 20*time.Millisecond, sink)
	}()
	return o, nil
}

func (o *fileOutput) write(block []float32) {
	_ = binary.Write(o.w, binary.LittleEndian, audio.Float32ToPCM16(block))
}

// Close stops rendering and flushes the file. Idempotent.
func (o *fileOutput) Close() error {
	var err error
	o.once.Do(func() {
		o.cancel()
		<-o.done
		_ = o.Renderer.Close()
		if o.file == nil {
			return
		}
		err = errors.Join(o.w.Flush(), o.file.Close())
	})
	return err
}
