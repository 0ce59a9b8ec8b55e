// Package pattern turns a per-frame "tone present" flag into a debounced
// beep count and a triggered verdict.
//
// The machine has three phases. A run of present frames is a beep when it
// lasts between MinBeepFrames and MaxBeepFrames; beeps separated by gaps of
// at most MaxGapFrames belong to the same pattern. RequiredBeeps beeps in
// one pattern trigger the alarm. Independently of the frame counters, a
// watchdog abandons any pattern that has not changed phase within
// InactivityTimeout of clock time.
package pattern

import (
	"errors"
	"time"
)

// Phase is the position of the machine within a beep pattern.
type Phase int

const (
	// Idle means no beep is in progress
	Idle Phase = iota
	// InBeep means the tone is currently on
	InBeep
	// InGap means the tone is off between two beeps of the same pattern
	InGap
)

// String returns the phase name used in status records.
func (p Phase) String() string {
	switch p {
	case Idle:
		return "idle"
	case InBeep:
		return "beep"
	case InGap:
		return "gap"
	default:
		return "unknown"
	}
}

// Defaults matching a standard three-pulse smoke alarm at ~85 ms frames.
const (
	DefaultMinBeepFrames     = 3
	DefaultMaxBeepFrames     = 15
	DefaultMaxGapFrames      = 30
	DefaultInactivityTimeout = 10 * time.Second
	DefaultRequiredBeeps     = 3
)

var (
	// ErrInvalidMinBeepFrames indicates min beep frames must be at least 1
	ErrInvalidMinBeepFrames = errors.New("min beep frames must be at least 1")
	// ErrInvalidMaxBeepFrames indicates max beep frames must not be below min
	ErrInvalidMaxBeepFrames = errors.New("max beep frames must not be less than min beep frames")
	// ErrInvalidMaxGapFrames indicates max gap frames must be at least 1
	ErrInvalidMaxGapFrames = errors.New("max gap frames must be at least 1")
	// ErrInvalidInactivityTimeout indicates the watchdog timeout must be positive
	ErrInvalidInactivityTimeout = errors.New("inactivity timeout must be positive")
	// ErrInvalidRequiredBeeps indicates required beeps must be at least 1
	ErrInvalidRequiredBeeps = errors.New("required beeps must be at least 1")
)

// Config holds the debounce parameters.
// All values should come from the application config file.
type Config struct {
	// MinBeepFrames is the shortest present run accepted as a beep (from config: min_beep_frames)
	MinBeepFrames int
	// MaxBeepFrames is the longest present run accepted as a beep (from config: max_beep_frames)
	MaxBeepFrames int
	// MaxGapFrames is the longest absent run between beeps (from config: max_gap_frames)
	MaxGapFrames int
	// InactivityTimeout bounds the time between phase transitions (from config: inactivity_timeout)
	InactivityTimeout time.Duration
	// RequiredBeeps is the number of beeps that triggers the alarm (from config: required_beeps)
	RequiredBeeps int
}

// DefaultConfig returns the standard smoke alarm parameters.
func DefaultConfig() Config {
	return Config{
		MinBeepFrames:     DefaultMinBeepFrames,
		MaxBeepFrames:     DefaultMaxBeepFrames,
		MaxGapFrames:      DefaultMaxGapFrames,
		InactivityTimeout: DefaultInactivityTimeout,
		RequiredBeeps:     DefaultRequiredBeeps,
	}
}

// Validate checks the parameters are usable.
func (c Config) Validate() error {
	if c.MinBeepFrames < 1 {
		return ErrInvalidMinBeepFrames
	}
	if c.MaxBeepFrames < c.MinBeepFrames {
		return ErrInvalidMaxBeepFrames
	}
	if c.MaxGapFrames < 1 {
		return ErrInvalidMaxGapFrames
	}
	if c.InactivityTimeout <= 0 {
		return ErrInvalidInactivityTimeout
	}
	if c.RequiredBeeps < 1 {
		return ErrInvalidRequiredBeeps
	}
	return nil
}

// State is the complete detector state. The zero value is Idle with no
// beeps, but LastTransition should be set to the session start so the
// watchdog measures from there.
type State struct {
	Phase Phase
	// BeepCount is the number of valid beeps in the current pattern
	BeepCount int
	// Frames counts consecutive frames in the current phase
	Frames int
	// LastTransition is when the phase last changed
	LastTransition time.Time
}

// Triggered reports whether the state holds enough beeps for an alarm.
func (s State) Triggered(cfg Config) bool {
	return s.BeepCount >= cfg.RequiredBeeps
}

// reset abandons the current pattern.
func (s State) reset(now time.Time) State {
	return State{Phase: Idle, LastTransition: now}
}

// Step is the transition function: it returns the state that follows s
// after observing present at time now. It never fails.
func Step(cfg Config, s State, present bool, now time.Time) State {
	// Watchdog runs before the phase logic
	if now.Sub(s.LastTransition) > cfg.InactivityTimeout {
		s = s.reset(now)
	}

	switch s.Phase {
	case Idle:
		if present {
			s.Phase = InBeep
			s.Frames = 1
			s.LastTransition = now
		}

	case InBeep:
		if present {
			s.Frames++
			if s.Frames > cfg.MaxBeepFrames {
				// Tone too long to be a beep
				s = s.reset(now)
			}
			break
		}
		if s.Frames >= cfg.MinBeepFrames {
			s.BeepCount++
			s.Phase = InGap
			s.Frames = 0
			s.LastTransition = now
		} else {
			// Tone too short, noise
			s = s.reset(now)
		}

	case InGap:
		if present {
			s.Phase = InBeep
			s.Frames = 1
			s.LastTransition = now
			break
		}
		s.Frames++
		if s.Frames > cfg.MaxGapFrames {
			s = s.reset(now)
		}
	}

	return s
}

// Machine owns one State for a monitoring session and applies Step to it.
// A Machine is not safe for concurrent use.
type Machine struct {
	config Config
	state  State
}

// NewMachine creates a machine in the Idle phase whose watchdog is
// measured from start.
func NewMachine(cfg Config, start time.Time) (*Machine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Machine{
		config: cfg,
		state:  State{Phase: Idle, LastTransition: start},
	}, nil
}

// Update feeds one frame's classification into the machine and returns the
// verdict. The verdict is a level: it stays true until the next reset.
func (m *Machine) Update(present bool, now time.Time) bool {
	m.state = Step(m.config, m.state, present, now)
	return m.state.Triggered(m.config)
}

// State returns a copy of the current state.
func (m *Machine) State() State {
	return m.state
}

// Phase returns the current phase
func (m *Machine) Phase() Phase {
	return m.state.Phase
}

// BeepCount returns the number of beeps in the current pattern
func (m *Machine) BeepCount() int {
	return m.state.BeepCount
}

// Triggered returns the current verdict without advancing the machine.
func (m *Machine) Triggered() bool {
	return m.state.Triggered(m.config)
}

// Reset abandons the current pattern in place.
func (m *Machine) Reset(now time.Time) {
	m.state = m.state.reset(now)
}

// Config returns the current configuration
func (m *Machine) Config() Config {
	return m.config
}
