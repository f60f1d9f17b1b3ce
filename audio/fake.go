package audio

import (
	"sync"
	"time"
)

const (
	fakeFrameSize     = 1024
	fakeBytesPerFrame = 2 // 16-bit mono
)

// FakeContext replays a canned PCM buffer through the CaptureDevice
// interface so sessions can be driven without a microphone.
type FakeContext struct {
	pcm        []byte
	sampleRate int
	realtime   bool
	player     *FakePlayer

	mu       sync.Mutex
	opens    int
	closes   int
	startErr error
}

func NewFakeContext(pcm []byte, sampleRate int, realtime bool) *FakeContext {
	return &FakeContext{pcm: pcm, sampleRate: sampleRate, realtime: realtime, player: &FakePlayer{}}
}

func (f *FakeContext) Devices() ([]DeviceInfo, error) { return nil, nil }
func (f *FakeContext) Close()                         {}

func (f *FakeContext) NewCapture(_ *DeviceInfo, _ CaptureConfig) (CaptureDevice, error) {
	f.mu.Lock()
	f.opens++
	startErr := f.startErr
	f.mu.Unlock()
	return &FakeCapture{
		owner:      f,
		pcm:        f.pcm,
		sampleRate: f.sampleRate,
		realtime:   f.realtime,
		startErr:   startErr,
		audioDone:  make(chan struct{}),
	}, nil
}

// SetStartError makes subsequently created captures fail their Start call,
// as a busy or vanished device would.
func (f *FakeContext) SetStartError(err error) {
	f.mu.Lock()
	f.startErr = err
	f.mu.Unlock()
}

// CaptureOpens and CaptureCloses count device acquisitions and releases,
// for asserting they balance 1:1 per session.
func (f *FakeContext) CaptureOpens() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.opens
}

func (f *FakeContext) CaptureCloses() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closes
}

func (f *FakeContext) NewPlayback(int) (Player, error) { return f.player, nil }

// Player returns the shared fake player so tests can inspect what was played.
func (f *FakeContext) Player() *FakePlayer { return f.player }

type FakeCapture struct {
	owner      *FakeContext
	pcm        []byte
	sampleRate int
	realtime   bool
	startErr   error
	audioDone  chan struct{}

	mu       sync.Mutex
	cb       DataCallback
	stopCh   chan struct{}
	feedDone chan struct{}
}

// AudioDone closes once the canned audio has been fully delivered.
func (f *FakeCapture) AudioDone() <-chan struct{} { return f.audioDone }

func (f *FakeCapture) SetCallback(cb DataCallback) {
	f.mu.Lock()
	f.cb = cb
	f.mu.Unlock()
}

func (f *FakeCapture) ClearCallback() {
	f.mu.Lock()
	f.cb = nil
	f.mu.Unlock()
}

func (f *FakeCapture) DeviceName() string { return "fake" }

func (f *FakeCapture) feedChunk(cb DataCallback, pos, chunkBytes int) int {
	end := min(pos+chunkBytes, len(f.pcm))
	chunk := make([]byte, end-pos)
	copy(chunk, f.pcm[pos:end])
	cb(chunk, uint32(len(chunk)/fakeBytesPerFrame))
	return end
}

func (f *FakeCapture) Start() error {
	if f.startErr != nil {
		return f.startErr
	}
	f.stopCh = make(chan struct{})
	f.feedDone = make(chan struct{})
	// audioDone is NOT recreated here -- callers may already be waiting on it.
	// It's reset in Stop() for replay.

	chunkBytes := fakeFrameSize * fakeBytesPerFrame

	if !f.realtime {
		f.mu.Lock()
		cb := f.cb
		f.mu.Unlock()
		if cb != nil {
			for pos := 0; pos < len(f.pcm); {
				pos = f.feedChunk(cb, pos, chunkBytes)
			}
		}
		close(f.audioDone)

		go func() {
			defer close(f.feedDone)
			silence := make([]byte, chunkBytes)
			for {
				select {
				case <-f.stopCh:
					return
				case <-time.After(time.Millisecond):
				}
				f.mu.Lock()
				cb := f.cb
				f.mu.Unlock()
				if cb != nil {
					cb(silence, fakeFrameSize)
				}
			}
		}()
		return nil
	}

	interval := time.Duration(fakeFrameSize) * time.Second / time.Duration(f.sampleRate)
	go func() {
		defer close(f.feedDone)
		pos := 0
		silence := make([]byte, chunkBytes)
		audioFinished := false

		for {
			select {
			case <-f.stopCh:
				return
			default:
			}

			f.mu.Lock()
			cb := f.cb
			f.mu.Unlock()
			if cb == nil {
				time.Sleep(time.Millisecond)
				continue
			}

			if pos < len(f.pcm) {
				pos = f.feedChunk(cb, pos, chunkBytes)
			} else {
				if !audioFinished {
					audioFinished = true
					close(f.audioDone)
				}
				cb(silence, fakeFrameSize)
			}

			select {
			case <-f.stopCh:
				return
			case <-time.After(interval):
			}
		}
	}()

	return nil
}

func (f *FakeCapture) Stop() {
	if f.stopCh == nil {
		return // never started
	}
	select {
	case <-f.stopCh:
	default:
		close(f.stopCh)
	}
	if f.feedDone != nil {
		<-f.feedDone
	}
	f.audioDone = make(chan struct{}) // reset for replay
}

func (f *FakeCapture) Close() {
	if f.owner != nil {
		f.owner.mu.Lock()
		f.owner.closes++
		f.owner.mu.Unlock()
	}
}

// FakePlayer records playback requests instead of touching hardware.
type FakePlayer struct {
	mu     sync.Mutex
	played [][]byte
}

func (p *FakePlayer) Play(pcm []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	buf := make([]byte, len(pcm))
	copy(buf, pcm)
	p.played = append(p.played, buf)
	return nil
}

func (p *FakePlayer) Close() {}

func (p *FakePlayer) Played() [][]byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([][]byte, len(p.played))
	copy(out, p.played)
	return out
}
