//go:build !portaudio
// +build !portaudio

package audio

import (
	"context"
	"errors"
)

// ErrPortAudioUnavailable is returned when the binary was built without PortAudio
var ErrPortAudioUnavailable = errors.New("portaudio backend not available: rebuild with -tags portaudio")

// PortAudioSource stub when portaudio is not available
type PortAudioSource struct{}

// OpenPortAudio always fails in builds without the portaudio tag
func OpenPortAudio(_, _, _ int) (*PortAudioSource, error) {
	return nil, ErrPortAudioUnavailable
}

func (p *PortAudioSource) Read(_ context.Context, _ []int32) error {
	return ErrPortAudioUnavailable
}

func (p *PortAudioSource) Recover() error {
	return ErrPortAudioUnavailable
}

func (p *PortAudioSource) SampleRate() int {
	return 0
}

func (p *PortAudioSource) Close() error {
	return nil
}

// PortAudioAvailable reports whether this binary was built with PortAudio
func PortAudioAvailable() bool {
	return false
}
