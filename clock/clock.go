// Package clock provides the sole source of "now" used by the scheduler
// (C1). Everything that reasons about target times, daylight windows, or
// deadlines reads through a Clock instead of calling time.Now() directly,
// so tests can drive the system through a fixed or stepped timeline.
package clock

import "time"

// Clock is the monotonic wall-clock abstraction every time-sensitive
// component depends on.
type Clock interface {
	// Now returns the current instant in the clock's configured location.
	Now() time.Time
}

// System is a Clock backed by time.Now(), converted to loc.
type System struct {
	loc *time.Location
}

// NewSystem returns a Clock that reports the real wall-clock time in loc.
// Scheduling reasons about local solar time (spec.md §9 "Timezones"), so
// every Clock carries an explicit location rather than relying on the
// process's default zone.
func NewSystem(loc *time.Location) *System {
	if loc == nil {
		loc = time.Local
	}
	return &System{loc: loc}
}

func (s *System) Now() time.Time {
	return time.Now().In(s.loc)
}

// Fake is a Clock with a value that only moves when told to, for
// deterministic tests of tick-driven logic.
type Fake struct {
	now time.Time
}

// NewFake returns a Fake clock initially reporting t.
func NewFake(t time.Time) *Fake {
	return &Fake{now: t}
}

func (f *Fake) Now() time.Time {
	return f.now
}

// Set moves the fake clock to t.
func (f *Fake) Set(t time.Time) {
	f.now = t
}

// Advance moves the fake clock forward by d.
func (f *Fake) Advance(d time.Duration) {
	f.now = f.now.Add(d)
}
