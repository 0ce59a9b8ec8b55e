// internal/dsp/level.go
package dsp

import "math"

// Level summarizes the loudness of one frame after removing DC offset.
type Level struct {
	// DCOffset is the mean sample value that was subtracted
	DCOffset int32
	// Peak is half the peak-to-peak amplitude of the corrected samples
	Peak int32
	// RMS of the corrected samples, normalized to full scale
	RMS float64
	// DB is 20*log10(RMS + FloorEpsilon)
	DB float64
}

// MeasureLevel computes the DC-corrected RMS level of frame.
// An empty frame measures as silence.
func MeasureLevel(frame []int32, fullScale float64) Level {
	if len(frame) == 0 || fullScale <= 0 {
		return Level{DB: ToDecibels(0)}
	}

	var sum int64
	for _, s := range frame {
		sum += int64(s)
	}
	dc := sum / int64(len(frame))

	minSample := int64(frame[0]) - dc
	maxSample := minSample
	var energy float64
	for _, s := range frame {
		corrected := int64(s) - dc
		if corrected < minSample {
			minSample = corrected
		}
		if corrected > maxSample {
			maxSample = corrected
		}
		v := float64(corrected) / fullScale
		energy += v * v
	}

	rms := math.Sqrt(energy / float64(len(frame)))
	return Level{
		DCOffset: int32(dc),
		Peak:     int32((maxSample - minSample) / 2),
		RMS:      rms,
		DB:       ToDecibels(rms),
	}
}

// Silent reports whether the level is at or below thresholdDB.
func (l Level) Silent(thresholdDB float64) bool {
	return l.DB <= thresholdDB
}
