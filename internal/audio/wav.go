// internal/audio/wav.go
package audio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

var (
	// ErrInvalidWAV indicates the file is not a readable PCM WAV file
	ErrInvalidWAV = errors.New("invalid WAV file")
)

// WAVSource replays a PCM WAV recording as frames. Multi-channel files are
// mixed down to mono. A trailing partial frame is zero-padded; the next
// Read after it returns io.EOF.
type WAVSource struct {
	file       *os.File
	dec        *wav.Decoder
	buf        *audio.IntBuffer
	sampleRate int
	channels   int
	bitDepth   int
	pending    []int
	samples    []int // pending storage: carried partial sample frame + decoded block
	partial    []int
	eof        bool
	decodeErr  error
}

// OpenWAV opens path for replay.
func OpenWAV(path string) (*WAVSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open recording: %w", err)
	}

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		_ = f.Close()
		return nil, fmt.Errorf("%w: %s", ErrInvalidWAV, path)
	}

	// FwdToPCM positions the reader at the start of PCM data
	if err := dec.FwdToPCM(); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("%w: reading PCM data: %w", ErrInvalidWAV, err)
	}

	channels := int(dec.NumChans)
	bitDepth := int(dec.BitDepth)
	if channels < 1 || !decodableBitDepth(bitDepth) {
		_ = f.Close()
		return nil, fmt.Errorf("%w: %d channels at %d bits", ErrInvalidWAV, channels, bitDepth)
	}

	return &WAVSource{
		file:       f,
		dec:        dec,
		sampleRate: int(dec.SampleRate),
		channels:   channels,
		bitDepth:   bitDepth,
		buf: &audio.IntBuffer{
			Format: &audio.Format{NumChannels: channels, SampleRate: int(dec.SampleRate)},
			Data:   make([]int, 4096*channels),
		},
		samples: make([]int, 0, 4097*channels),
		partial: make([]int, 0, channels),
	}, nil
}

// decodableBitDepth reports whether the WAV decoder can unpack samples of
// the given width.
func decodableBitDepth(bits int) bool {
	switch bits {
	case 8, 16, 24, 32:
		return true
	}
	return false
}

// Read fills frame with the next len(frame) mono samples.
func (w *WAVSource) Read(ctx context.Context, frame []int32) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if w.eof {
		return io.EOF
	}

	filled := 0
	for filled < len(frame) {
		if len(w.pending) < w.channels {
			ok, err := w.fill()
			if err != nil {
				return err
			}
			if !ok {
				break
			}
			continue
		}

		frame[filled] = w.mixdown(w.pending[:w.channels])
		w.pending = w.pending[w.channels:]
		filled++
	}

	if filled == 0 {
		w.eof = true
		return io.EOF
	}
	if filled < len(frame) {
		clear(frame[filled:])
		w.eof = true
	}
	return nil
}

// fill decodes the next block into pending, keeping any partial sample
// frame left from the previous block in front so channels stay aligned.
// It returns false at end of data; a partial sample frame there is dropped.
func (w *WAVSource) fill() (bool, error) {
	w.partial = append(w.partial[:0], w.pending...)

	n, err := w.dec.PCMBuffer(w.buf)
	if err != nil {
		w.decodeErr = err
		return false, fmt.Errorf("decode recording: %w", err)
	}
	if n == 0 {
		w.pending = nil
		return false, nil
	}

	w.samples = append(w.samples[:0], w.partial...)
	w.samples = append(w.samples, w.buf.Data[:n]...)
	w.pending = w.samples
	return true, nil
}

func (w *WAVSource) mixdown(samples []int) int32 {
	if len(samples) == 1 {
		return scaleToInt32(samples[0], w.bitDepth)
	}
	var sum int64
	for _, s := range samples {
		sum += int64(scaleToInt32(s, w.bitDepth))
	}
	return int32(sum / int64(len(samples)))
}

// Recover fails once a decode error has occurred; otherwise there is
// nothing to restart.
func (w *WAVSource) Recover() error {
	if w.decodeErr != nil {
		return fmt.Errorf("%w: %w", ErrRecoverFailed, w.decodeErr)
	}
	return nil
}

// SampleRate returns the recording's sample rate
func (w *WAVSource) SampleRate() int {
	return w.sampleRate
}

// Channels returns the recording's channel count before mixdown
func (w *WAVSource) Channels() int {
	return w.channels
}

// Close closes the underlying file
func (w *WAVSource) Close() error {
	if w.file == nil {
		return nil
	}
	err := w.file.Close()
	w.file = nil
	return err
}
