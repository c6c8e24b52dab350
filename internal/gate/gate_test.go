package gate

import (
	"testing"
	"time"
)

// TestWithinWindow checks every hour of the day against the run window
func TestWithinWindow(t *testing.T) {
	want := map[int]bool{
		0: true, 1: true, 2: true,
		3: false, 4: false, 5: false, 6: false, 7: false, 8: false,
		9: false, 10: false, 11: false, 12: false, 13: false, 14: false,
		15: true, 16: true, 17: true, 18: true, 19: true, 20: true,
		21: true, 22: true, 23: true,
	}

	loc, err := time.LoadLocation(Zone)
	if err != nil {
		t.Fatal(err)
	}

	for h := 0; h < 24; h++ {
		ts := time.Date(2024, 6, 15, h, 30, 0, 0, loc)
		if got := WithinWindow(ts); got != want[h] {
			t.Errorf("WithinWindow(hour=%d) = %v, want %v", h, got, want[h])
		}
	}
}

// TestWithinWindowBoundaries pins the inclusive boundary minutes
func TestWithinWindowBoundaries(t *testing.T) {
	loc, err := time.LoadLocation(Zone)
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		h, m int
		want bool
	}{
		{"window opens at 15:00", 15, 0, true},
		{"just before open", 14, 59, false},
		{"last evening minute", 23, 59, true},
		{"midnight", 0, 0, true},
		{"last window minute", 2, 59, true},
		{"just after close", 3, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := time.Date(2024, 6, 15, tt.h, tt.m, 0, 0, loc)
			if got := WithinWindow(ts); got != tt.want {
				t.Errorf("WithinWindow(%02d:%02d) = %v, want %v", tt.h, tt.m, got, tt.want)
			}
		})
	}
}

// TestCheckUsesZoneWallClock verifies the hour is evaluated in Europe/Rome,
// not in the time's original zone
func TestCheckUsesZoneWallClock(t *testing.T) {
	loc, err := time.LoadLocation(Zone)
	if err != nil {
		t.Fatal(err)
	}

	// 13:00 UTC in June is 15:00 in Rome (CEST): inside the window even
	// though the UTC hour is not.
	g := New(false, "")
	g.now = func() time.Time { return time.Date(2024, 6, 15, 13, 0, 0, 0, time.UTC) }

	d, err := g.Check()
	if err != nil {
		t.Fatal(err)
	}
	if !d.Proceed {
		t.Errorf("Check() at 13:00 UTC (15:00 %s) denied: %s", loc, d.Reason)
	}

	// 13:00 Rome time is outside the window.
	g.now = func() time.Time { return time.Date(2024, 6, 15, 13, 0, 0, 0, loc) }
	d, err = g.Check()
	if err != nil {
		t.Fatal(err)
	}
	if d.Proceed {
		t.Errorf("Check() at 13:00 local allowed: %s", d.Reason)
	}
}

// TestCheckOverrides verifies force-run and manual-trigger bypass the window
func TestCheckOverrides(t *testing.T) {
	outside := func() time.Time { return time.Date(2024, 6, 15, 8, 0, 0, 0, time.UTC) }

	tests := []struct {
		name      string
		force     bool
		eventName string
		want      bool
	}{
		{"no override, outside window", false, "", false},
		{"force-run", true, "", true},
		{"manual dispatch", false, "workflow_dispatch", true},
		{"scheduled event is not an override", false, "schedule", false},
		{"both overrides", true, "workflow_dispatch", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := New(tt.force, tt.eventName)
			g.now = outside
			d, err := g.Check()
			if err != nil {
				t.Fatal(err)
			}
			if d.Proceed != tt.want {
				t.Errorf("Check() proceed = %v, want %v (reason: %s)", d.Proceed, tt.want, d.Reason)
			}
		})
	}
}
