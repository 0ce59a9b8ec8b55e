// Package monitor runs the detection loop: it pulls frames from a source,
// classifies them, steps the beep pattern machine, and reports detections
// and periodic status to a Sink.
package monitor

import (
	"context"
	"time"

	"github.com/ColonelBlimp/alarmwatch/internal/pattern"
)

// EventFireAlarm is the event type written for every detection.
const EventFireAlarm = "fire_alarm"

// DetectionEvent is emitted once per rising edge of the alarm verdict.
type DetectionEvent struct {
	ID          string
	Timestamp   time.Time
	Frequency   int
	MagnitudeDB float64
	BeepCount   int
}

// StatusSnapshot is the periodic view of the detector for dashboards.
type StatusSnapshot struct {
	Timestamp   time.Time
	Phase       pattern.Phase
	Frequency   int
	MagnitudeDB float64
	BeepCount   int
	Triggered   bool
}

// Sink receives detections and status snapshots. Implementations must not
// retain the values past the call.
type Sink interface {
	Detection(ctx context.Context, ev DetectionEvent) error
	Status(ctx context.Context, st StatusSnapshot) error
}
