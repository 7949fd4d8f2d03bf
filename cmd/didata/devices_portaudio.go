//go:build portaudio

package main

import (
	"flag"

	"github.com/didata-ai/didata/internal/audioio"
	"github.com/didata-ai/didata/pkg/audio"
	"github.com/didata-ai/didata/pkg/audio/portaudio"
)

// deviceOptions selects the sound card. The default devices are always used.
type deviceOptions struct{}

func deviceFlags(*flag.FlagSet) *deviceOptions { return &deviceOptions{} }

func (*deviceOptions) open() (audio.Microphone, audioio.OutputFactory, error) {
	newOutput := func() (audio.Output, error) {
		s, err := portaudio.NewSpeaker(audio.OutputSampleRate)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
	return portaudio.NewMicrophone(), newOutput, nil
}
