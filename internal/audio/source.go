// Package audio provides frame sources for the detector: live capture
// through malgo or PortAudio, and replay of WAV recordings.
//
// Every source delivers mono signed 32-bit samples. Narrower formats are
// scaled up so that full scale is always 2^31.
package audio

import (
	"context"
	"errors"
)

var (
	// ErrOverrun indicates samples were dropped because the reader fell behind
	ErrOverrun = errors.New("audio buffer overrun")
	// ErrDeviceStopped indicates the device stopped delivering samples
	ErrDeviceStopped = errors.New("audio device stopped")
	// ErrRecoverFailed indicates the source could not be brought back after a read error
	ErrRecoverFailed = errors.New("audio source recovery failed")
	// ErrClosed indicates the source has been closed
	ErrClosed = errors.New("audio source closed")
)

// FrameSource supplies fixed-size frames of samples in arrival order.
//
// Read blocks until frame is completely filled, ctx is done, or the source
// fails. A failed Read leaves the contents of frame undefined. After a
// failed Read the caller may call Recover to reset the source; if Recover
// returns an error the source is unusable. Replay sources return io.EOF
// once exhausted.
type FrameSource interface {
	Read(ctx context.Context, frame []int32) error
	Recover() error
	SampleRate() int
	Close() error
}

// scaleToInt32 widens a sample of the given bit depth to the 32-bit domain.
// 8-bit PCM is unsigned and is re-centred first.
func scaleToInt32(v int, bitDepth int) int32 {
	switch {
	case bitDepth == 8:
		return int32(v-128) << 24
	case bitDepth > 0 && bitDepth < 32:
		return int32(v) << (32 - bitDepth)
	default:
		return int32(v)
	}
}
