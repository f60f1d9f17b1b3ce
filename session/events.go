package session

// Sink abstracts the display layer so the Bubble Tea TUI and tests receive
// the same session events. All methods except AudioLevel are called from the
// controller's event loop; AudioLevel arrives on the capture thread, so
// implementations must be safe to call concurrently.
type Sink interface {
	SessionStarting()
	SessionListening()
	SessionStopped(reason StopReason, err error)
	SessionTick(seconds float64)
	AudioLevel(level float64)
	StillListening() // silence warning ahead of the inactivity timeout
	Interim(text string)
	Final(seq int, text string)
	Translation(seq int, text string)
	PipelineError(seq int, stage string, err error)
}

// NopSink discards everything. Embed it to implement only the events a
// display cares about.
type NopSink struct{}

func (NopSink) SessionStarting()                 {}
func (NopSink) SessionListening()                {}
func (NopSink) SessionStopped(StopReason, error) {}
func (NopSink) SessionTick(float64)              {}
func (NopSink) AudioLevel(float64)               {}
func (NopSink) StillListening()                  {}
func (NopSink) Interim(string)                   {}
func (NopSink) Final(int, string)                {}
func (NopSink) Translation(int, string)          {}
func (NopSink) PipelineError(int, string, error) {}
