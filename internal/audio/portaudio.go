//go:build portaudio
// +build portaudio

package audio

import (
	"context"
	"errors"
	"fmt"

	"github.com/gordonklaus/portaudio"
)

// PortAudioSource reads frames with PortAudio's blocking stream API. The
// stream's buffer is exactly one frame, so each Read is one stream read.
type PortAudioSource struct {
	stream     *portaudio.Stream
	buffer     []int32
	sampleRate int
}

// OpenPortAudio opens and starts a mono capture stream. deviceIndex -1
// selects the default input device.
func OpenPortAudio(deviceIndex, sampleRate, frameSize int) (*PortAudioSource, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("initializing portaudio: %w", err)
	}

	buffer := make([]int32, frameSize)

	var (
		stream *portaudio.Stream
		err    error
	)
	if deviceIndex < 0 {
		stream, err = portaudio.OpenDefaultStream(1, 0, float64(sampleRate), frameSize, buffer)
	} else {
		var devices []*portaudio.DeviceInfo
		devices, err = portaudio.Devices()
		if err == nil && deviceIndex >= len(devices) {
			err = fmt.Errorf("%w: index %d out of range (have %d devices)",
				ErrDeviceNotFound, deviceIndex, len(devices))
		}
		if err == nil {
			params := portaudio.LowLatencyParameters(devices[deviceIndex], nil)
			params.Input.Channels = 1
			params.SampleRate = float64(sampleRate)
			params.FramesPerBuffer = frameSize
			stream, err = portaudio.OpenStream(params, buffer)
		}
	}
	if err != nil {
		_ = portaudio.Terminate()
		return nil, fmt.Errorf("opening stream: %w", err)
	}

	if err := stream.Start(); err != nil {
		_ = stream.Close()
		_ = portaudio.Terminate()
		return nil, fmt.Errorf("starting stream: %w", err)
	}

	return &PortAudioSource{
		stream:     stream,
		buffer:     buffer,
		sampleRate: sampleRate,
	}, nil
}

// Read blocks for one frame. len(frame) must equal the frame size the
// stream was opened with.
func (p *PortAudioSource) Read(ctx context.Context, frame []int32) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(frame) != len(p.buffer) {
		return fmt.Errorf("frame length %d does not match stream buffer %d", len(frame), len(p.buffer))
	}
	if err := p.stream.Read(); err != nil {
		if errors.Is(err, portaudio.InputOverflowed) {
			return fmt.Errorf("%w: %w", ErrOverrun, err)
		}
		return fmt.Errorf("reading from stream: %w", err)
	}
	copy(frame, p.buffer)
	return nil
}

// Recover restarts the stream.
func (p *PortAudioSource) Recover() error {
	_ = p.stream.Stop()
	if err := p.stream.Start(); err != nil {
		return fmt.Errorf("%w: restart stream: %w", ErrRecoverFailed, err)
	}
	return nil
}

// SampleRate returns the stream's sample rate
func (p *PortAudioSource) SampleRate() int {
	return p.sampleRate
}

// Close stops the stream and releases PortAudio
func (p *PortAudioSource) Close() error {
	if p.stream != nil {
		_ = p.stream.Stop()
		_ = p.stream.Close()
		p.stream = nil
	}
	return portaudio.Terminate()
}

// PortAudioAvailable reports whether this binary was built with PortAudio
func PortAudioAvailable() bool {
	return true
}
