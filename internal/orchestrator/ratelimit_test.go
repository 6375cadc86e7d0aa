package orchestrator

import (
	"testing"
	"time"
)

func TestRateLimiterCapsMonitorsPerOwner(t *testing.T) {
	r := NewPrivateMonitorRateLimiter()
	for i := 0; i < maxPrivateMonitorsPerOwner; i++ {
		if !r.CanAddMonitor("owner-a") {
			t.Fatalf("expected monitor %d to be allowed", i)
		}
	}
	if r.CanAddMonitor("owner-a") {
		t.Fatal("expected the 11th monitor for the same owner to be rejected")
	}
}

func TestRateLimiterTracksOwnersIndependently(t *testing.T) {
	r := NewPrivateMonitorRateLimiter()
	for i := 0; i < maxPrivateMonitorsPerOwner; i++ {
		r.CanAddMonitor("owner-a")
	}
	if !r.CanAddMonitor("owner-b") {
		t.Fatal("a different owner should have its own budget")
	}
}

func TestRateLimiterCapsChecksPerHour(t *testing.T) {
	r := NewPrivateMonitorRateLimiter()
	for i := 0; i < maxPrivateChecksPerHour; i++ {
		if !r.CanCheck("owner-a") {
			t.Fatalf("expected check %d to be allowed", i)
		}
	}
	if r.CanCheck("owner-a") {
		t.Fatal("expected the 101st check this hour to be rejected")
	}
}

func TestRateLimiterResetsAfterHourElapses(t *testing.T) {
	r := NewPrivateMonitorRateLimiter()
	l := r.limitsFor("owner-a")
	l.checksThisHour = maxPrivateChecksPerHour
	l.hourStart = time.Now().Add(-2 * time.Hour)

	if !r.CanCheck("owner-a") {
		t.Fatal("expected check budget to reset once the hour has elapsed")
	}
}
