package audio

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"sync"

	"github.com/gordonklaus/portaudio"
	"github.com/youpy/go-wav"
)

const framesPerBuffer = 1024

// DevicePlayer renders WAV payloads on the default output device via
// PortAudio. The synthesis backend is asked for linear16 when this
// player is in use; other MIME types are skipped with an error so the
// queue moves on.
type DevicePlayer struct {
	mu      sync.Mutex
	started bool
}

func NewDevicePlayer() (*DevicePlayer, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPlaybackUnavailable, err)
	}
	return &DevicePlayer{started: true}, nil
}

func (p *DevicePlayer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.started {
		return nil
	}
	p.started = false
	return portaudio.Terminate()
}

func (p *DevicePlayer) Play(ctx context.Context, data []byte, mimeType string) error {
	if mimeType != "audio/wav" {
		return fmt.Errorf("device player cannot decode %s", mimeType)
	}

	reader := wav.NewReader(bytes.NewReader(data))
	format, err := reader.Format()
	if err != nil {
		return fmt.Errorf("failed to read WAV header: %w", err)
	}

	finished := make(chan struct{})
	var once sync.Once

	stream, err := portaudio.OpenDefaultStream(
		0,
		int(format.NumChannels),
		float64(format.SampleRate),
		framesPerBuffer,
		func(out []int16) {
			samples, err := reader.ReadSamples(uint32(len(out)))
			if err == io.EOF {
				for i := range out {
					out[i] = 0
				}
				once.Do(func() { close(finished) })
				return
			}
			if err != nil {
				log.Printf("error reading WAV samples: %v", err)
				once.Do(func() { close(finished) })
				return
			}
			for i := 0; i < len(samples) && i < len(out); i++ {
				out[i] = int16(samples[i].Values[0])
			}
			for i := len(samples); i < len(out); i++ {
				out[i] = 0
			}
		},
	)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPlaybackUnavailable, err)
	}
	defer stream.Close()

	if err := stream.Start(); err != nil {
		return fmt.Errorf("%w: %v", ErrPlaybackUnavailable, err)
	}

	select {
	case <-finished:
		err = stream.Stop()
	case <-ctx.Done():
		stream.Stop()
		err = ctx.Err()
	}
	return err
}
