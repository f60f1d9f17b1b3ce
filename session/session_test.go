package session

import "testing"

func TestFinalTextJoinsWithSingleSpaces(t *testing.T) {
	s := &Session{Segments: []string{"hola", "como estas", "adios"}}
	if got, want := s.FinalText(), "hola como estas adios"; got != want {
		t.Errorf("got %q, want %q", got, want)
	}

	empty := &Session{}
	if got := empty.FinalText(); got != "" {
		t.Errorf("got %q for no segments, want empty", got)
	}
}

func TestStopReasonFailure(t *testing.T) {
	failures := []StopReason{ReasonPermissionDenied, ReasonDeviceUnavailable, ReasonChannelInit, ReasonChannelRuntime}
	for _, r := range failures {
		if !r.Failure() {
			t.Errorf("%v should be a failure", r)
		}
	}
	for _, r := range []StopReason{ReasonNone, ReasonUserStop, ReasonSilenceTimeout} {
		if r.Failure() {
			t.Errorf("%v should not be a failure", r)
		}
	}
}
