// internal/dsp/classifier.go
package dsp

// Present reports whether a reading counts as the alarm tone being on:
// the band peak must exceed thresholdDB and a bin must have been found.
func Present(r Reading, thresholdDB float64) bool {
	return r.PeakMagnitudeDB > thresholdDB && r.PeakFrequency > 0
}
