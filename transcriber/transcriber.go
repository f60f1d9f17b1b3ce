package transcriber

import (
	"context"
	"fmt"
	"os"
)

// EventKind tags the uniform event stream every backend emits. The session
// controller consumes only this stream; it never sees backend wire types.
type EventKind int

const (
	EventOpened EventKind = iota
	EventPartial
	EventFinal
	EventClosed
	EventError
)

func (k EventKind) String() string {
	switch k {
	case EventOpened:
		return "opened"
	case EventPartial:
		return "partial"
	case EventFinal:
		return "final"
	case EventClosed:
		return "closed"
	case EventError:
		return "error"
	}
	return "unknown"
}

type Event struct {
	Kind EventKind
	Text string
	Err  error
}

type Config struct {
	Language string // source language code, "" = auto-detect
}

// Session is one transcription channel. Feed never blocks the audio
// callback; Events delivers the tagged stream and is closed after the final
// Closed or Error event; Close is safe to call once per session.
type Session interface {
	Feed(pcm []byte)
	Events() <-chan Event
	Close() error
}

type Transcriber interface {
	Name() string
	NewSession(ctx context.Context, cfg Config) (Session, error)
}

// New selects a backend by name using the AssemblyAI key from the
// environment. "realtime" streams over a websocket; "batch" uploads the
// whole utterance and polls.
func New(provider string) (Transcriber, error) {
	key := os.Getenv("ASSEMBLYAI_API_KEY")
	if key == "" {
		return nil, fmt.Errorf("set ASSEMBLYAI_API_KEY environment variable")
	}
	switch provider {
	case "realtime":
		return NewRealtime(key), nil
	case "batch":
		return NewBatch(key), nil
	default:
		return nil, fmt.Errorf("unknown provider %q (use realtime or batch)", provider)
	}
}
