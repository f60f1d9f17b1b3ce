package session

import (
	"testing"
	"time"
)

func ticksUntil(m *idleMonitor, want idleEvent, max int) int {
	for i := 1; i <= max; i++ {
		if m.Tick() == want {
			return i
		}
	}
	return -1
}

func TestIdleMonitorWarnThenTimeout(t *testing.T) {
	m := newIdleMonitor(200*time.Millisecond, 500*time.Millisecond)

	warn := ticksUntil(m, idleWarn, 100)
	if warn != 2 {
		t.Errorf("warned at tick %d, want 2", warn)
	}
	stop := ticksUntil(m, idleTimeout, 100)
	if warn+stop != 5 {
		t.Errorf("timeout at tick %d, want 5", warn+stop)
	}
}

func TestIdleMonitorWarnsOnce(t *testing.T) {
	m := newIdleMonitor(100*time.Millisecond, time.Hour)

	warns := 0
	for i := 0; i < 50; i++ {
		if m.Tick() == idleWarn {
			warns++
		}
	}
	if warns != 1 {
		t.Errorf("warned %d times, want 1", warns)
	}
}

func TestIdleMonitorResetRestartsWindow(t *testing.T) {
	m := newIdleMonitor(300*time.Millisecond, 500*time.Millisecond)

	for i := 0; i < 4; i++ {
		if ev := m.Tick(); ev == idleTimeout {
			t.Fatalf("tick %d: timed out before window elapsed", i)
		}
	}
	m.Reset()
	for i := 0; i < 4; i++ {
		if ev := m.Tick(); ev == idleTimeout {
			t.Fatalf("timeout fired %d ticks after reset", i+1)
		}
	}
}
