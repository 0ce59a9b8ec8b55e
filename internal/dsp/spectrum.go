// internal/dsp/spectrum.go
package dsp

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/dsp/fourier"
)

// FloorEpsilon is added to a magnitude before the logarithm so that silence
// maps to a finite decibel value instead of -Inf.
const FloorEpsilon = 1e-10

// DefaultFullScale is the magnitude of a full-scale signed 32-bit sample.
const DefaultFullScale = 2147483648.0

var (
	// ErrInvalidFrameSize indicates frame size must be a power of two
	ErrInvalidFrameSize = errors.New("frame size must be a power of two and at least 2")
	// ErrInvalidSampleRate indicates sample rate must be positive
	ErrInvalidSampleRate = errors.New("sample rate must be positive")
	// ErrInvalidBand indicates the band limits are negative or inverted
	ErrInvalidBand = errors.New("band limits must satisfy 0 <= min <= max")
	// ErrInvalidFullScale indicates full scale must be positive
	ErrInvalidFullScale = errors.New("full scale must be positive")
)

// Reading is the band-restricted spectral peak of one frame.
type Reading struct {
	// PeakFrequency is the frequency of the strongest in-band bin in Hz,
	// truncated to an integer. Zero when no bin falls inside the band.
	PeakFrequency int
	// PeakMagnitudeDB is 20*log10(magnitude + FloorEpsilon) of that bin.
	PeakMagnitudeDB float64
}

// AnalyzerConfig holds configuration for the spectral analyzer.
// All values should come from the application config file.
type AnalyzerConfig struct {
	// FrameSize is the number of samples per frame (from config: frame_size)
	FrameSize int
	// SampleRate is the audio sample rate in Hz (from config: sample_rate)
	SampleRate int
	// MinFreq is the lower edge of the alarm band in Hz (from config: band_min_hz)
	MinFreq float64
	// MaxFreq is the upper edge of the alarm band in Hz (from config: band_max_hz)
	MaxFreq float64
	// FullScale is the sample magnitude that maps to 1.0 (from config: full_scale)
	FullScale float64
}

// Analyzer finds the strongest frequency inside a band using a real FFT.
// All buffers are allocated once in NewAnalyzer; Analyze does not allocate.
// An Analyzer is not safe for concurrent use.
type Analyzer struct {
	config AnalyzerConfig
	fft    *fourier.FFT
	in     []float64
	coeffs []complex128
	scale  float64 // Pre-computed: 1 / FullScale

	// Bin range covered by the band, inclusive. firstBin > lastBin when
	// the band contains no bin.
	firstBin int
	lastBin  int
}

// NewAnalyzer creates a spectral analyzer with the given configuration.
func NewAnalyzer(cfg AnalyzerConfig) (*Analyzer, error) {
	if cfg.FrameSize < 2 || cfg.FrameSize&(cfg.FrameSize-1) != 0 {
		return nil, ErrInvalidFrameSize
	}
	if cfg.SampleRate <= 0 {
		return nil, ErrInvalidSampleRate
	}
	if cfg.MinFreq < 0 || cfg.MinFreq > cfg.MaxFreq {
		return nil, ErrInvalidBand
	}
	if cfg.FullScale <= 0 {
		return nil, ErrInvalidFullScale
	}

	a := &Analyzer{
		config: cfg,
		fft:    fourier.NewFFT(cfg.FrameSize),
		in:     make([]float64, cfg.FrameSize),
		coeffs: make([]complex128, cfg.FrameSize/2+1),
		scale:  1 / cfg.FullScale,
	}
	a.firstBin, a.lastBin = a.bandBins()
	return a, nil
}

// bandBins returns the inclusive range of non-DC bins whose centre
// frequency lies in [MinFreq, MaxFreq].
func (a *Analyzer) bandBins() (first, last int) {
	first, last = 1, 0
	found := false
	for i := 1; i < len(a.coeffs); i++ {
		f := a.BinFrequency(i)
		if f < a.config.MinFreq || f > a.config.MaxFreq {
			continue
		}
		if !found {
			first = i
			found = true
		}
		last = i
	}
	return first, last
}

// Analyze computes the band peak of frame. The frame must hold exactly
// FrameSize samples; anything else is a programming error and panics.
func (a *Analyzer) Analyze(frame []int32) Reading {
	if len(frame) != a.config.FrameSize {
		panic(fmt.Sprintf("dsp: frame has %d samples, analyzer expects %d", len(frame), a.config.FrameSize))
	}

	for i, s := range frame {
		a.in[i] = float64(s) * a.scale
	}
	a.fft.Coefficients(a.coeffs, a.in)

	maxMagnitude := 0.0
	peakFrequency := 0
	for i := a.firstBin; i <= a.lastBin; i++ {
		c := a.coeffs[i]
		re, im := real(c), imag(c)
		magnitude := math.Sqrt(re*re + im*im)
		if magnitude > maxMagnitude {
			maxMagnitude = magnitude
			peakFrequency = int(a.BinFrequency(i))
		}
	}

	return Reading{
		PeakFrequency:   peakFrequency,
		PeakMagnitudeDB: ToDecibels(maxMagnitude),
	}
}

// BinFrequency returns the centre frequency of bin i in Hz.
func (a *Analyzer) BinFrequency(i int) float64 {
	return float64(i) * float64(a.config.SampleRate) / float64(a.config.FrameSize)
}

// BinWidth returns the frequency spacing between bins in Hz.
func (a *Analyzer) BinWidth() float64 {
	return a.BinFrequency(1)
}

// BandBins returns the number of bins inside the configured band.
func (a *Analyzer) BandBins() int {
	if a.lastBin < a.firstBin {
		return 0
	}
	return a.lastBin - a.firstBin + 1
}

// Config returns the current configuration
func (a *Analyzer) Config() AnalyzerConfig {
	return a.config
}

// ToDecibels converts a linear magnitude to decibels with the epsilon floor.
func ToDecibels(magnitude float64) float64 {
	return 20 * math.Log10(magnitude+FloorEpsilon)
}
