// Package sink persists detections and status snapshots for the dashboard:
// an append-only JSONL event log with an atomically replaced status file,
// and an optional Redis fan-out.
package sink

import (
	"strconv"

	"github.com/ColonelBlimp/alarmwatch/internal/monitor"
)

// TimestampLayout is ISO-8601 with milliseconds and a zone offset.
const TimestampLayout = "2006-01-02T15:04:05.000Z07:00"

// Decibels marshals with one decimal place.
type Decibels float64

// MarshalJSON implements json.Marshaler.
func (d Decibels) MarshalJSON() ([]byte, error) {
	return strconv.AppendFloat(nil, float64(d), 'f', 1, 64), nil
}

// EventRecord is one line of the detection log.
type EventRecord struct {
	ID          string   `json:"id"`
	Timestamp   string   `json:"timestamp"`
	Event       string   `json:"event"`
	Frequency   int      `json:"frequency"`
	MagnitudeDB Decibels `json:"magnitude_db"`
	BeepCount   int      `json:"beep_count"`
}

// StatusRecord is the content of the status file.
type StatusRecord struct {
	Timestamp   string   `json:"timestamp"`
	State       string   `json:"state"`
	Frequency   int      `json:"frequency"`
	MagnitudeDB Decibels `json:"magnitude_db"`
	BeepCount   int      `json:"beep_count"`
	AlarmActive bool     `json:"alarm_active"`
}

// NewEventRecord converts a detection to its persisted form.
func NewEventRecord(ev monitor.DetectionEvent) EventRecord {
	return EventRecord{
		ID:          ev.ID,
		Timestamp:   ev.Timestamp.Format(TimestampLayout),
		Event:       monitor.EventFireAlarm,
		Frequency:   ev.Frequency,
		MagnitudeDB: Decibels(ev.MagnitudeDB),
		BeepCount:   ev.BeepCount,
	}
}

// NewStatusRecord converts a snapshot to its persisted form.
func NewStatusRecord(st monitor.StatusSnapshot) StatusRecord {
	return StatusRecord{
		Timestamp:   st.Timestamp.Format(TimestampLayout),
		State:       st.Phase.String(),
		Frequency:   st.Frequency,
		MagnitudeDB: Decibels(st.MagnitudeDB),
		BeepCount:   st.BeepCount,
		AlarmActive: st.Triggered,
	}
}
