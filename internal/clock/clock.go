// Package clock provides the time sources used by the detection pipeline.
//
// The pattern watchdog measures elapsed time between phase transitions. In
// production that is the system monotonic clock; offline replay advances a
// Stream clock by one frame duration per frame so the watchdog stays in
// proportion with the frame-counted debounce; tests drive a Manual clock.
package clock

import (
	"sync"
	"time"
)

// Clock reports the current time.
type Clock interface {
	Now() time.Time
}

// Ticker is implemented by clocks that advance once per consumed frame.
type Ticker interface {
	Tick()
}

// System is the process wall clock. time.Now carries a monotonic reading,
// so Sub between two System timestamps is immune to wall-clock steps.
type System struct{}

// Now returns time.Now().
func (System) Now() time.Time { return time.Now() }

// Manual is a clock that only moves when told to.
type Manual struct {
	mu  sync.Mutex
	now time.Time
}

// NewManual returns a Manual clock set to start.
func NewManual(start time.Time) *Manual {
	return &Manual{now: start}
}

// Now returns the current manual time.
func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Advance moves the clock forward by d.
func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = m.now.Add(d)
}

// Set moves the clock to t.
func (m *Manual) Set(t time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = t
}

// Stream derives time from the number of frames consumed. Each call to Tick
// advances the clock by one frame duration.
type Stream struct {
	start    time.Time
	frame    time.Duration
	mu       sync.Mutex
	consumed int64
}

// NewStream returns a Stream clock starting at start, advancing by frame
// per Tick.
func NewStream(start time.Time, frame time.Duration) *Stream {
	return &Stream{start: start, frame: frame}
}

// Now returns start + consumed*frame.
func (s *Stream) Now() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.start.Add(time.Duration(s.consumed) * s.frame)
}

// Tick records that one more frame has been consumed.
func (s *Stream) Tick() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.consumed++
}
