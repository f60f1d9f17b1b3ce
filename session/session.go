package session

import (
	"strings"
	"time"
)

type State int

const (
	StateIdle State = iota
	StateStarting
	StateListening
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStarting:
		return "starting"
	case StateListening:
		return "listening"
	case StateStopping:
		return "stopping"
	}
	return "unknown"
}

// StopReason says why a session ended. The first four are start or runtime
// failures; SilenceTimeout and UserStop are normal endings.
type StopReason int

const (
	ReasonNone StopReason = iota
	ReasonUserStop
	ReasonSilenceTimeout
	ReasonPermissionDenied
	ReasonDeviceUnavailable
	ReasonChannelInit
	ReasonChannelRuntime
)

func (r StopReason) String() string {
	switch r {
	case ReasonNone:
		return "none"
	case ReasonUserStop:
		return "user stop"
	case ReasonSilenceTimeout:
		return "silence timeout"
	case ReasonPermissionDenied:
		return "permission denied"
	case ReasonDeviceUnavailable:
		return "device unavailable"
	case ReasonChannelInit:
		return "channel init failed"
	case ReasonChannelRuntime:
		return "channel error"
	}
	return "unknown"
}

// Failure reports whether the session ended because something went wrong,
// as opposed to the user stopping it or the silence window expiring.
func (r StopReason) Failure() bool {
	switch r {
	case ReasonPermissionDenied, ReasonDeviceUnavailable, ReasonChannelInit, ReasonChannelRuntime:
		return true
	}
	return false
}

// Session is the single mutable value the controller owns. All fields are
// written by the controller's event loop only.
type Session struct {
	State      State
	StartedAt  time.Time
	SourceLang string
	TargetLang string
	Segments   []string // finalized transcript segments, receipt order
	Interim    string   // latest unconfirmed fragment, replaced wholesale
}

// FinalText joins the finalized segments with single spaces.
func (s *Session) FinalText() string {
	return strings.Join(s.Segments, " ")
}

func (s *Session) reset() {
	s.State = StateIdle
	s.StartedAt = time.Time{}
	s.Segments = nil
	s.Interim = ""
}
