package session

import (
	"context"
	"encoding/binary"
	"errors"
	"math"
	"sync"
	"time"

	"parley/audio"
	"parley/encoder"
	"parley/log"
	"parley/transcriber"
	"parley/translate"
	"parley/tts"
)

const defaultMaxRestarts = 2

type Config struct {
	SourceLang string // "" = auto-detect
	TargetLang string
	Device     *audio.DeviceInfo

	SilenceWarn time.Duration // 0 = default
	SilenceStop time.Duration // 0 = default
	MaxRestarts int           // 0 = default, negative = no restarts
}

type Deps struct {
	Audio       audio.Context
	Transcriber transcriber.Transcriber
	Translator  translate.Translator
	Synthesizer tts.Synthesizer
	Player      audio.Player
	Sink        Sink
}

// Controller owns the session lifecycle. Everything funnels through one
// event loop goroutine: public methods and background goroutines post
// messages, the loop applies them to the Session value, and the Sink hears
// about the results. No session state is touched outside the loop.
type Controller struct {
	cfg  Config
	deps Deps

	msgs chan any
	done chan struct{}

	rootCtx context.Context
	cancel  context.CancelFunc

	feed feedTarget

	// Event loop state. Never read or written outside Run.
	sess           Session
	gen            int // bumped on every return to Idle; stale results carry old values
	seq            int
	capture        audio.CaptureDevice
	channel        transcriber.Session
	restarts       int
	restartPending bool
	idle           *idleMonitor
	displayTicks   int
	stopReason     StopReason
	stopErr        error
	draining       bool // graceful stop: trailing finals still commit
	shuttingDown   bool
}

// Loop messages.
type (
	toggleMsg   struct{}
	startMsg    struct{}
	stopMsg     struct {
		reason StopReason
		err    error
	}
	shutdownMsg   struct{}
	startReadyMsg struct {
		gen     int
		capture audio.CaptureDevice
		channel transcriber.Session
	}
	startFailedMsg struct {
		gen    int
		reason StopReason
		err    error
	}
	channelMsg struct {
		gen int
		ev  transcriber.Event
	}
	channelDoneMsg struct {
		gen int
	}
	restartReadyMsg struct {
		gen     int
		channel transcriber.Session
		err     error
	}
)

func New(cfg Config, deps Deps) *Controller {
	ctx, cancel := context.WithCancel(context.Background())
	return &Controller{
		cfg:     cfg,
		deps:    deps,
		msgs:    make(chan any, 64),
		done:    make(chan struct{}),
		rootCtx: ctx,
		cancel:  cancel,
	}
}

// Run drives the event loop until Shutdown. Call it on its own goroutine.
func (c *Controller) Run() {
	defer close(c.done)
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()
	for {
		select {
		case m := <-c.msgs:
			if c.handle(m) {
				return
			}
		case <-ticker.C:
			c.tick()
		}
	}
}

func (c *Controller) Start()  { c.msgs <- startMsg{} }
func (c *Controller) Toggle() { c.msgs <- toggleMsg{} }

func (c *Controller) Stop() {
	c.msgs <- stopMsg{reason: ReasonUserStop}
}

// Shutdown stops any active session, waits for the loop to exit, and
// cancels in-flight pipeline calls.
func (c *Controller) Shutdown() {
	c.msgs <- shutdownMsg{}
	<-c.done
	c.cancel()
}

func (c *Controller) handle(m any) bool {
	switch m := m.(type) {
	case startMsg:
		if c.sess.State == StateIdle {
			c.startSession()
		}

	case toggleMsg:
		switch c.sess.State {
		case StateIdle:
			c.startSession()
		case StateStarting, StateListening:
			c.beginStop(ReasonUserStop, nil)
		}

	case stopMsg:
		c.beginStop(m.reason, m.err)

	case shutdownMsg:
		c.shuttingDown = true
		c.beginStop(ReasonUserStop, nil)

	case startReadyMsg:
		c.handleStartReady(m)

	case startFailedMsg:
		if m.gen == c.gen {
			c.gen++
			c.sess.reset()
			log.Errorf("session start failed (%s): %v", m.reason, m.err)
			c.deps.Sink.SessionStopped(m.reason, m.err)
		}

	case channelMsg:
		if m.gen == c.gen {
			c.handleChannelEvent(m.ev)
		}

	case channelDoneMsg:
		if m.gen == c.gen && c.sess.State == StateStopping {
			c.finishStop()
		}

	case restartReadyMsg:
		c.handleRestartReady(m)

	case pipelineMsg:
		c.handlePipelineResult(m)
	}

	return c.shuttingDown && c.sess.State == StateIdle
}

func (c *Controller) startSession() {
	c.sess = Session{
		State:      StateStarting,
		SourceLang: c.cfg.SourceLang,
		TargetLang: c.cfg.TargetLang,
	}
	c.seq = 0
	c.restarts = 0
	c.restartPending = false
	c.stopReason = ReasonNone
	c.stopErr = nil
	c.draining = false
	c.deps.Sink.SessionStarting()

	gen := c.gen
	go func() {
		dev, err := c.deps.Audio.NewCapture(c.cfg.Device, audio.CaptureConfig{
			SampleRate: encoder.SampleRate,
			Channels:   encoder.Channels,
		})
		if err != nil {
			reason := ReasonDeviceUnavailable
			if errors.Is(err, audio.ErrPermission) {
				reason = ReasonPermissionDenied
			}
			c.msgs <- startFailedMsg{gen: gen, reason: reason, err: err}
			return
		}
		ch, err := c.deps.Transcriber.NewSession(c.rootCtx, transcriber.Config{Language: c.cfg.SourceLang})
		if err != nil {
			dev.Close()
			c.msgs <- startFailedMsg{gen: gen, reason: ReasonChannelInit, err: err}
			return
		}
		c.msgs <- startReadyMsg{gen: gen, capture: dev, channel: ch}
	}()
}

func (c *Controller) handleStartReady(m startReadyMsg) {
	if m.gen != c.gen {
		m.capture.Close()
		go m.channel.Close()
		return
	}

	c.capture = m.capture
	c.channel = m.channel
	c.spawnForwarder(m.gen, m.channel)

	if c.sess.State == StateStopping {
		// Stop was requested while the resources were being acquired.
		c.closeChannelAsync()
		return
	}

	c.feed.Set(m.channel)
	sink := c.deps.Sink
	m.capture.SetCallback(func(data []byte, _ uint32) {
		sink.AudioLevel(audioLevel(data))
		c.feed.Feed(data)
	})
	if err := m.capture.Start(); err != nil {
		c.beginStop(ReasonDeviceUnavailable, err)
	}
}

func (c *Controller) spawnForwarder(gen int, ch transcriber.Session) {
	go func() {
		for ev := range ch.Events() {
			c.msgs <- channelMsg{gen: gen, ev: ev}
		}
		c.msgs <- channelDoneMsg{gen: gen}
	}()
}

func (c *Controller) handleChannelEvent(ev transcriber.Event) {
	switch ev.Kind {
	case transcriber.EventOpened:
		if c.sess.State != StateStarting {
			return // reopen after restart; already listening
		}
		c.sess.State = StateListening
		c.sess.StartedAt = time.Now()
		c.idle = c.newIdleMonitor()
		c.displayTicks = 0
		log.SessionStart(c.deps.Transcriber.Name(), c.sess.SourceLang, c.sess.TargetLang)
		c.deps.Sink.SessionListening()

	case transcriber.EventPartial:
		if c.sess.State != StateListening {
			return
		}
		c.sess.Interim = ev.Text
		c.deps.Sink.Interim(ev.Text)

	case transcriber.EventFinal:
		if c.sess.State == StateListening || (c.sess.State == StateStopping && c.draining) {
			c.commitFinal(ev.Text)
		}

	case transcriber.EventError:
		switch c.sess.State {
		case StateStarting:
			c.beginStop(ReasonChannelInit, ev.Err)
		case StateListening:
			c.beginStop(ReasonChannelRuntime, ev.Err)
		default:
			log.Errorf("channel error while %s: %v", c.sess.State, ev.Err)
		}

	case transcriber.EventClosed:
		if c.sess.State == StateListening && !c.restartPending {
			c.handleBenignClose()
		}
	}
}

// handleBenignClose reopens the channel when it ends without an error while
// we still want audio, up to a fixed number of attempts per session.
func (c *Controller) handleBenignClose() {
	old := c.channel
	c.channel = nil
	c.feed.Set(nil)
	if old != nil {
		go old.Close()
	}

	if c.restarts >= c.maxRestarts() {
		c.beginStop(ReasonChannelRuntime, errors.New("transcription channel keeps closing"))
		return
	}
	c.restarts++
	c.restartPending = true
	log.Warnf("transcription channel closed, reopening (attempt %d)", c.restarts)

	gen := c.gen
	go func() {
		ch, err := c.deps.Transcriber.NewSession(c.rootCtx, transcriber.Config{Language: c.cfg.SourceLang})
		c.msgs <- restartReadyMsg{gen: gen, channel: ch, err: err}
	}()
}

func (c *Controller) handleRestartReady(m restartReadyMsg) {
	if m.gen != c.gen {
		if m.channel != nil {
			go m.channel.Close()
		}
		return
	}
	c.restartPending = false

	if c.sess.State != StateListening {
		if m.channel != nil {
			go m.channel.Close()
		}
		return
	}
	if m.err != nil {
		c.beginStop(ReasonChannelRuntime, m.err)
		return
	}
	c.channel = m.channel
	c.feed.Set(m.channel)
	c.spawnForwarder(m.gen, m.channel)
}

func (c *Controller) commitFinal(text string) {
	c.sess.Interim = ""
	c.sess.Segments = append(c.sess.Segments, text)
	seq := c.seq
	c.seq++
	if c.idle != nil {
		c.idle.Reset()
	}
	c.deps.Sink.Final(seq, text)
	c.runPipeline(c.gen, seq, text)
}

func (c *Controller) beginStop(reason StopReason, err error) {
	switch c.sess.State {
	case StateIdle, StateStopping:
		return // stop on an idle session is a no-op

	case StateStarting:
		if c.capture == nil {
			// Resources are still being acquired; startReady/startFailed
			// will complete the stop.
			c.sess.State = StateStopping
			c.stopReason = reason
			c.stopErr = err
			return
		}
		// Capture and channel were already installed (a channel error
		// before Opened, or the capture failing to start); release them
		// like a live session's.
	}

	c.sess.State = StateStopping
	c.stopReason = reason
	c.stopErr = err
	c.draining = reason == ReasonUserStop

	if c.capture != nil {
		c.capture.ClearCallback()
		c.capture.Stop()
	}
	c.closeChannelAsync()
}

func (c *Controller) closeChannelAsync() {
	ch := c.channel
	if ch == nil {
		c.finishStop()
		return
	}
	go func() {
		// Close flushes buffered audio and drains trailing events; the
		// forwarder signals completion with channelDoneMsg.
		ch.Close()
	}()
}

func (c *Controller) finishStop() {
	if c.capture != nil {
		c.capture.ClearCallback()
		c.capture.Stop()
		c.capture.Close()
		c.capture = nil
	}
	c.channel = nil
	c.feed.Set(nil)

	var dur time.Duration
	if !c.sess.StartedAt.IsZero() {
		dur = time.Since(c.sess.StartedAt)
	}
	segments := len(c.sess.Segments)
	reason := c.stopReason
	err := c.stopErr

	c.gen++
	c.sess.reset()
	c.idle = nil

	log.SessionEnd(reason.String(), segments, dur)
	c.deps.Sink.SessionStopped(reason, err)
}

func (c *Controller) tick() {
	if c.sess.State != StateListening {
		return
	}
	c.displayTicks++
	if c.displayTicks%int(displayEvery/tickInterval) == 0 {
		c.deps.Sink.SessionTick(time.Since(c.sess.StartedAt).Seconds())
	}
	switch c.idle.Tick() {
	case idleWarn:
		c.deps.Sink.StillListening()
	case idleTimeout:
		c.beginStop(ReasonSilenceTimeout, nil)
	}
}

func (c *Controller) newIdleMonitor() *idleMonitor {
	warn := c.cfg.SilenceWarn
	if warn == 0 {
		warn = silenceWarnDur
	}
	stop := c.cfg.SilenceStop
	if stop == 0 {
		stop = silenceStopDur
	}
	return newIdleMonitor(warn, stop)
}

func (c *Controller) maxRestarts() int {
	if c.cfg.MaxRestarts < 0 {
		return 0
	}
	if c.cfg.MaxRestarts == 0 {
		return defaultMaxRestarts
	}
	return c.cfg.MaxRestarts
}

// feedTarget routes capture callbacks to the current transcription channel.
// The callback runs on the audio thread while the loop swaps channels on
// restart, hence the lock.
type feedTarget struct {
	mu sync.Mutex
	ch transcriber.Session
}

func (f *feedTarget) Set(ch transcriber.Session) {
	f.mu.Lock()
	f.ch = ch
	f.mu.Unlock()
}

func (f *feedTarget) Feed(pcm []byte) {
	f.mu.Lock()
	ch := f.ch
	f.mu.Unlock()
	if ch != nil {
		ch.Feed(pcm)
	}
}

func audioLevel(pcm []byte) float64 {
	n := len(pcm) / 2
	if n == 0 {
		return 0
	}
	var sum float64
	for i := 0; i+1 < len(pcm); i += 2 {
		s := float64(int16(binary.LittleEndian.Uint16(pcm[i:])))
		sum += s * s
	}
	return math.Sqrt(sum/float64(n)) / 32768
}
