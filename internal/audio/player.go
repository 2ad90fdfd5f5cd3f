package audio

import (
	"context"
	"errors"
)

// ErrPlaybackUnavailable reports that no audio output device could be
// used (the Go analog of a browser autoplay rejection). The queue logs
// it separately but otherwise skips the chunk like any playback error.
var ErrPlaybackUnavailable = errors.New("audio output unavailable")

// Player renders one decoded audio payload and returns when playback
// has finished or ctx is cancelled. Implementations must not retain the
// data slice after returning.
type Player interface {
	Play(ctx context.Context, data []byte, mimeType string) error
}

// PlayerFunc adapts a function to the Player interface.
type PlayerFunc func(ctx context.Context, data []byte, mimeType string) error

func (f PlayerFunc) Play(ctx context.Context, data []byte, mimeType string) error {
	return f(ctx, data, mimeType)
}
