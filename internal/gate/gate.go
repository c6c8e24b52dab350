// Package gate restricts pipeline runs to a daily time window.
package gate

import (
	"fmt"
	"time"
)

// Zone is the reference time zone for the run window. The window is defined
// in local wall-clock hours of this zone, not UTC offsets.
const Zone = "Europe/Rome"

// manualEvent is the scheduler event name that marks a manual invocation.
const manualEvent = "workflow_dispatch"

// Decision is the gate's verdict for one run.
type Decision struct {
	Proceed bool
	Reason  string
}

// Gate decides whether a run may proceed based on wall-clock time and
// override conditions.
type Gate struct {
	force     bool
	eventName string
	now       func() time.Time // injectable for tests
}

// New creates a gate. force bypasses the window check; eventName is the
// scheduler's event identifier (a manual dispatch also bypasses the check).
func New(force bool, eventName string) *Gate {
	return &Gate{
		force:     force,
		eventName: eventName,
		now:       time.Now,
	}
}

// Check evaluates the gate against the current time in the reference zone.
func (g *Gate) Check() (Decision, error) {
	if g.force {
		return Decision{Proceed: true, Reason: "force-run override"}, nil
	}
	if g.eventName == manualEvent {
		return Decision{Proceed: true, Reason: "manual trigger"}, nil
	}

	loc, err := time.LoadLocation(Zone)
	if err != nil {
		return Decision{}, fmt.Errorf("loading time zone %s: %w", Zone, err)
	}

	now := g.now().In(loc)
	if WithinWindow(now) {
		return Decision{Proceed: true, Reason: "inside run window"}, nil
	}
	return Decision{
		Proceed: false,
		Reason:  fmt.Sprintf("outside run window (%s 15:00-02:00), local hour %d", Zone, now.Hour()),
	}, nil
}

// WithinWindow reports whether t falls inside the daily run window:
// 15:00-23:59 or 00:00-02:59 local time, boundary hours inclusive.
// The window spans midnight.
func WithinWindow(t time.Time) bool {
	h := t.Hour()
	return (h >= 15 && h <= 23) || (h >= 0 && h <= 2)
}
