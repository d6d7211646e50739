// Package session decides whether the exchange is in its regular trading session.
package session

import (
	"time"
	_ "time/tzdata"
)

// Clock abstracts wall-clock time so callers can be tested deterministically.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the real wall clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// Calendar reports whether the market is open at an instant.
type Calendar interface {
	IsOpen(t time.Time) bool
}

// Hours is a weekday session [Open, Close] in a fixed location, both ends inclusive.
// There is no holiday calendar.
type Hours struct {
	Location *time.Location
	Open     time.Duration // offset from local midnight
	Close    time.Duration
}

var newYork = mustLoad("America/New_York")

func mustLoad(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		panic(err)
	}
	return loc
}

// NewYorkHours is the regular US equities session, 09:30-16:00 America/New_York.
func NewYorkHours() Hours {
	return Hours{
		Location: newYork,
		Open:     9*time.Hour + 30*time.Minute,
		Close:    16 * time.Hour,
	}
}

// NewHours builds the regular session for a named time zone.
func NewHours(tz string) (Hours, error) {
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return Hours{}, err
	}
	h := NewYorkHours()
	h.Location = loc
	return h, nil
}

// IsOpen reports whether t falls on Mon-Fri within [Open, Close] local time.
func (h Hours) IsOpen(t time.Time) bool {
	local := t.In(h.Location)
	switch local.Weekday() {
	case time.Saturday, time.Sunday:
		return false
	}
	// wall-clock offset, not elapsed time, so DST days behave like any other
	since := time.Duration(local.Hour())*time.Hour +
		time.Duration(local.Minute())*time.Minute +
		time.Duration(local.Second())*time.Second +
		time.Duration(local.Nanosecond())
	return since >= h.Open && since <= h.Close
}

// IsOpen applies the default New York session.
func IsOpen(t time.Time) bool {
	return NewYorkHours().IsOpen(t)
}
