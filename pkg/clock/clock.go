package clock

import (
	"sync"
	"time"
)

// Clock supplies the current instant. Everything that needs "now" takes one
// so tests can pin time.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// System returns the wall clock in UTC.
func System() Clock {
	return systemClock{}
}

// Manual is a clock that only moves when told to
type Manual struct {
	mu  sync.RWMutex
	now time.Time
}

// NewManual creates a manual clock pinned at t
func NewManual(t time.Time) *Manual {
	return &Manual{now: t}
}

// Now returns the pinned instant
func (m *Manual) Now() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.now
}

// Set pins the clock to t
func (m *Manual) Set(t time.Time) {
	m.mu.Lock()
	m.now = t
	m.mu.Unlock()
}

// Advance moves the clock forward by d
func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	m.now = m.now.Add(d)
	m.mu.Unlock()
}

// FormatRFC3339 renders t the way stores and APIs expect it
func FormatRFC3339(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// ParseRFC3339 parses a timestamp written by FormatRFC3339
func ParseRFC3339(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}
