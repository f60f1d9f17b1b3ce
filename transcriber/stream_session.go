package transcriber

import (
	"strings"
	"sync"
	"time"

	"parley/encoder"
	"parley/log"
)

const (
	streamChunkMs    = 200
	streamChunkBytes = encoder.SampleRate * encoder.Channels * (encoder.BitsPerSample / 8) * streamChunkMs / 1000
	streamTermWait   = 1000 * time.Millisecond
	streamDrainWait  = 2 * time.Second
)

// rawStreamChannel is the vendor-specific wire layer underneath a streaming
// session: binary PCM out, parsed transcript updates in.
type rawStreamChannel interface {
	Send(pcm []byte) error
	CloseSend() error // ask the server to terminate the turn
	Recv() (streamUpdate, error)
	Close() error
}

type streamUpdate struct {
	Began      bool
	Terminated bool
	Transcript string
	Final      bool
}

type streamSession struct {
	ws        rawStreamChannel
	audioCh   chan []byte
	events    chan Event
	startedAt time.Time
	connected chan struct{} // closed when the websocket is ready (or failed)

	sendDone       chan struct{}
	recvDone       chan struct{}
	terminated     chan struct{}
	terminatedOnce sync.Once

	feedBuf []byte
	feedMu  sync.Mutex

	mu      sync.Mutex
	err     error
	errOnce sync.Once
	closing bool
	opened  bool
	stats   streamStats
}

type streamStats struct {
	ConnectDur   time.Duration
	SentChunks   int
	SentBytes    uint64
	RecvMessages int
	RecvFinal    int
	RecvInterim  int
	SessionDur   time.Duration
}

func (s streamStats) audioDuration() float64 {
	return float64(s.SentBytes) / float64(encoder.SampleRate*encoder.Channels*(encoder.BitsPerSample/8))
}

func newStreamSession(dial func() (rawStreamChannel, error)) *streamSession {
	ss := &streamSession{
		audioCh:    make(chan []byte, 128),
		events:     make(chan Event, 16),
		startedAt:  time.Now(),
		sendDone:   make(chan struct{}),
		recvDone:   make(chan struct{}),
		terminated: make(chan struct{}),
		connected:  make(chan struct{}),
	}

	go func() {
		connectStart := time.Now()
		ws, err := dial()
		ss.mu.Lock()
		ss.stats.ConnectDur = time.Since(connectStart)
		ss.mu.Unlock()

		if err != nil {
			ss.errOnce.Do(func() {
				ss.mu.Lock()
				ss.err = err
				ss.mu.Unlock()
			})
			close(ss.sendDone)
			close(ss.recvDone)
			close(ss.connected)
			ss.events <- Event{Kind: EventError, Err: err}
			return
		}

		ss.ws = ws
		close(ss.connected)
		go ss.runSender()
		go ss.runReceiver()
	}()

	return ss
}

func (s *streamSession) Feed(pcm []byte) {
	s.mu.Lock()
	if s.err != nil || s.closing {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	s.feedMu.Lock()
	s.feedBuf = append(s.feedBuf, pcm...)
	var chunks [][]byte
	for len(s.feedBuf) >= streamChunkBytes {
		chunk := make([]byte, streamChunkBytes)
		copy(chunk, s.feedBuf[:streamChunkBytes])
		s.feedBuf = s.feedBuf[streamChunkBytes:]
		chunks = append(chunks, chunk)
	}
	s.feedMu.Unlock()

	for _, chunk := range chunks {
		s.audioCh <- chunk
	}
}

func (s *streamSession) Events() <-chan Event {
	return s.events
}

func (s *streamSession) Close() error {
	<-s.connected

	// Connection never came up: unblock any feeder and bail out.
	s.mu.Lock()
	if s.err != nil && s.ws == nil {
		connErr := s.err
		s.mu.Unlock()
		go func() {
			for range s.audioCh {
			}
		}()
		s.feedMu.Lock()
		s.feedBuf = nil
		s.feedMu.Unlock()
		close(s.audioCh)
		<-s.sendDone
		<-s.recvDone
		s.events <- Event{Kind: EventClosed}
		close(s.events)
		return connErr
	}
	s.mu.Unlock()

	// Flush remaining buffered PCM, then let the sender request termination.
	s.feedMu.Lock()
	if len(s.feedBuf) > 0 {
		tail := make([]byte, len(s.feedBuf))
		copy(tail, s.feedBuf)
		s.feedBuf = nil
		s.audioCh <- tail
	}
	s.feedMu.Unlock()
	close(s.audioCh)

	<-s.sendDone

	// Wait for the server's termination acknowledgment so trailing finals
	// from already-sent audio still arrive.
	select {
	case <-s.terminated:
	case <-time.After(streamTermWait):
	}

	s.mu.Lock()
	s.closing = true
	s.mu.Unlock()
	s.ws.Close()
	select {
	case <-s.recvDone:
	case <-time.After(streamDrainWait):
		log.Warn("stream receiver drain timeout")
	}

	s.mu.Lock()
	stats := s.stats
	stats.SessionDur = time.Since(s.startedAt)
	sessionErr := s.err
	s.mu.Unlock()

	log.StreamMetrics(log.StreamMetricsData{
		ConnectMs:    float64(stats.ConnectDur.Milliseconds()),
		TotalMs:      float64(stats.SessionDur.Milliseconds()),
		AudioS:       stats.audioDuration(),
		SentChunks:   stats.SentChunks,
		SentKB:       float64(stats.SentBytes) / 1024,
		RecvMessages: stats.RecvMessages,
		RecvFinal:    stats.RecvFinal,
		RecvInterim:  stats.RecvInterim,
	})

	s.events <- Event{Kind: EventClosed}
	close(s.events)
	return sessionErr
}

func (s *streamSession) runSender() {
	defer close(s.sendDone)
	for chunk := range s.audioCh {
		if err := s.ws.Send(chunk); err != nil {
			s.setErr(err)
			return
		}
		s.mu.Lock()
		s.stats.SentChunks++
		s.stats.SentBytes += uint64(len(chunk))
		s.mu.Unlock()
	}
	if err := s.ws.CloseSend(); err != nil {
		s.setErr(err)
	}
}

func (s *streamSession) runReceiver() {
	defer close(s.recvDone)
	for {
		update, err := s.ws.Recv()
		if err != nil {
			s.mu.Lock()
			closing := s.closing
			s.mu.Unlock()
			select {
			case <-s.terminated:
				// Server closed after acknowledging termination.
				return
			default:
			}
			if closing {
				return
			}
			s.setErr(err)
			s.events <- Event{Kind: EventError, Err: err}
			return
		}

		s.markOpened()

		if update.Terminated {
			s.terminatedOnce.Do(func() { close(s.terminated) })
			continue
		}
		if update.Began {
			continue
		}

		s.mu.Lock()
		s.stats.RecvMessages++
		if update.Final {
			s.stats.RecvFinal++
		} else {
			s.stats.RecvInterim++
		}
		s.mu.Unlock()

		transcript := strings.TrimSpace(update.Transcript)
		if transcript == "" {
			continue
		}

		kind := EventPartial
		if update.Final {
			kind = EventFinal
		}
		s.events <- Event{Kind: kind, Text: transcript}
	}
}

// markOpened emits Opened exactly once, on the first server message. The
// dial succeeding is not enough; the channel is active when it speaks.
func (s *streamSession) markOpened() {
	s.mu.Lock()
	opened := s.opened
	s.opened = true
	s.mu.Unlock()
	if !opened {
		s.events <- Event{Kind: EventOpened}
	}
}

func (s *streamSession) setErr(err error) {
	if err == nil {
		return
	}
	s.errOnce.Do(func() {
		s.mu.Lock()
		s.err = err
		s.mu.Unlock()
		if s.ws != nil {
			s.ws.Close()
		}
	})
}
