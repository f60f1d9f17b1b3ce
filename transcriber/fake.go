package transcriber

import (
	"context"
	"sync"
)

// FakeTranscriber hands out scripted sessions and counts opens and closes,
// so tests can assert that every session opened is eventually released.
type FakeTranscriber struct {
	mu         sync.Mutex
	openCount  int
	closeCount int
	dialErr    error
	sessions   []*FakeSession
}

func NewFake() *FakeTranscriber {
	return &FakeTranscriber{}
}

func (f *FakeTranscriber) Name() string { return "fake" }

func (f *FakeTranscriber) SetDialError(err error) {
	f.mu.Lock()
	f.dialErr = err
	f.mu.Unlock()
}

func (f *FakeTranscriber) NewSession(_ context.Context, cfg Config) (Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.dialErr != nil {
		return nil, f.dialErr
	}
	f.openCount++
	fs := &FakeSession{
		owner:  f,
		events: make(chan Event, 32),
	}
	f.sessions = append(f.sessions, fs)
	return fs, nil
}

func (f *FakeTranscriber) OpenCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.openCount
}

func (f *FakeTranscriber) CloseCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closeCount
}

// Session returns the i-th session handed out, for scripting events.
func (f *FakeTranscriber) Session(i int) *FakeSession {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sessions[i]
}

type FakeSession struct {
	owner  *FakeTranscriber
	events chan Event

	mu      sync.Mutex
	fed     int
	closed  bool
	onClose func(*FakeSession)
}

// SetOnClose installs a hook that runs during Close, before the Closed
// event. It can Emit trailing events, mimicking finals that surface while a
// channel drains.
func (s *FakeSession) SetOnClose(fn func(*FakeSession)) {
	s.mu.Lock()
	s.onClose = fn
	s.mu.Unlock()
}

func (s *FakeSession) Feed(pcm []byte) {
	s.mu.Lock()
	s.fed += len(pcm)
	s.mu.Unlock()
}

func (s *FakeSession) Events() <-chan Event { return s.events }

// Emit injects an event as if the backend produced it.
func (s *FakeSession) Emit(ev Event) {
	s.events <- ev
}

func (s *FakeSession) FedBytes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fed
}

func (s *FakeSession) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	onClose := s.onClose
	s.mu.Unlock()

	if onClose != nil {
		onClose(s)
	}

	s.owner.mu.Lock()
	s.owner.closeCount++
	s.owner.mu.Unlock()

	s.events <- Event{Kind: EventClosed}
	close(s.events)
	return nil
}
