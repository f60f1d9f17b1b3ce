package session

import "time"

const (
	tickInterval   = 100 * time.Millisecond
	displayEvery   = time.Second
	silenceWarnDur = 3 * time.Second
	silenceStopDur = 5 * time.Second
)

type idleEvent int

const (
	idleNone idleEvent = iota
	idleWarn
	idleTimeout
)

// idleMonitor counts ticks since the last finalized transcript. It warns
// once partway through the window and reports timeout when the window
// elapses without a final.
type idleMonitor struct {
	warnAt int
	stopAt int

	ticks  int
	warned bool
}

func newIdleMonitor(warn, stop time.Duration) *idleMonitor {
	return &idleMonitor{
		warnAt: int(warn / tickInterval),
		stopAt: int(stop / tickInterval),
	}
}

// Reset is called on every final transcript; the window starts over.
func (m *idleMonitor) Reset() {
	m.ticks = 0
	m.warned = false
}

func (m *idleMonitor) Tick() idleEvent {
	m.ticks++
	if m.ticks >= m.stopAt {
		return idleTimeout
	}
	if m.ticks >= m.warnAt && !m.warned {
		m.warned = true
		return idleWarn
	}
	return idleNone
}
