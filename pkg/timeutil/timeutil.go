// Package timeutil provides the service clock and calendar-day helpers.
// Streaks and activity dates are computed in the school's timezone, not UTC,
// so every "today" in the service goes through a Clock bound to that zone.
package timeutil

import (
	"sync"
	"time"
)

// DefaultZoneName is the timezone used when none is configured.
const DefaultZoneName = "Asia/Kolkata"

// IST is India Standard Time (UTC+5:30, no DST). Used when tzdata is unavailable.
var IST = time.FixedZone("IST", 5*60*60+30*60)

// LoadZone resolves a timezone name, falling back to IST for the default zone
// and to UTC for anything else that cannot be loaded.
func LoadZone(name string) (*time.Location, error) {
	if name == "" {
		name = DefaultZoneName
	}
	loc, err := time.LoadLocation(name)
	if err == nil {
		return loc, nil
	}
	if name == DefaultZoneName {
		return IST, nil
	}
	return time.UTC, err
}

// ══════════════════════════════════════════════════════════════════════════════
// CLOCK
// ══════════════════════════════════════════════════════════════════════════════

// Clock supplies the current time in the service timezone.
type Clock interface {
	Now() time.Time
	Location() *time.Location
}

// SystemClock reads the wall clock.
type SystemClock struct {
	loc *time.Location
}

// NewSystemClock creates a clock for the given location (UTC if nil).
func NewSystemClock(loc *time.Location) *SystemClock {
	if loc == nil {
		loc = time.UTC
	}
	return &SystemClock{loc: loc}
}

// Now returns the current time in the clock's location.
func (c *SystemClock) Now() time.Time {
	return time.Now().In(c.loc)
}

// Location returns the clock's timezone.
func (c *SystemClock) Location() *time.Location {
	return c.loc
}

// FixedClock returns a settable time. Intended for tests and CLI replays.
type FixedClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewFixedClock creates a clock frozen at t.
func NewFixedClock(t time.Time) *FixedClock {
	return &FixedClock{now: t}
}

// Now returns the frozen time.
func (c *FixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Location returns the location of the frozen time.
func (c *FixedClock) Location() *time.Location {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now.Location()
}

// Set moves the clock to t.
func (c *FixedClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

// Advance moves the clock forward by d.
func (c *FixedClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}
