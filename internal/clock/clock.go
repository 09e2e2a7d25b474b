// Package clock provides a caller-supplied notion of "now" so that the
// Finder and its default search window are deterministic under test.
package clock

import "time"

// Clock returns the current instant. Production callers use Real(); tests
// use Fixed to pin "now" and drive the Finder's 24-hour default window
// against known data.
type Clock interface {
	Now() time.Time
}

// Real returns the system clock.
func Real() Clock { return realClock{} }

type realClock struct{}

func (realClock) Now() time.Time { return time.Now().UTC() }

// Fixed returns a Clock that always reports t.
func Fixed(t time.Time) Clock { return fixedClock{t: t} }

type fixedClock struct{ t time.Time }

func (f fixedClock) Now() time.Time { return f.t }
