package transcriber

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

type fakeRawChannel struct {
	mu        sync.Mutex
	sent      [][]byte
	closeSent bool
	updates   chan streamUpdate
	closeOnce sync.Once
}

func newFakeRawChannel(scripted ...streamUpdate) *fakeRawChannel {
	c := &fakeRawChannel{updates: make(chan streamUpdate, 16)}
	for _, u := range scripted {
		c.updates <- u
	}
	return c
}

func (c *fakeRawChannel) Send(pcm []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	buf := make([]byte, len(pcm))
	copy(buf, pcm)
	c.sent = append(c.sent, buf)
	return nil
}

func (c *fakeRawChannel) CloseSend() error {
	c.mu.Lock()
	c.closeSent = true
	c.mu.Unlock()
	c.updates <- streamUpdate{Terminated: true}
	c.closeOnce.Do(func() { close(c.updates) })
	return nil
}

func (c *fakeRawChannel) Recv() (streamUpdate, error) {
	u, ok := <-c.updates
	if !ok {
		return streamUpdate{}, errors.New("connection closed")
	}
	return u, nil
}

func (c *fakeRawChannel) Close() error {
	c.closeOnce.Do(func() { close(c.updates) })
	return nil
}

func (c *fakeRawChannel) sentBytes() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	total := 0
	for _, b := range c.sent {
		total += len(b)
	}
	return total
}

func collectEvents(t *testing.T, s Session) []Event {
	t.Helper()
	var got []Event
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-s.Events():
			if !ok {
				return got
			}
			got = append(got, ev)
		case <-timeout:
			t.Fatalf("timed out collecting events, got %v", got)
		}
	}
}

func TestStreamSessionPartialFinalOrder(t *testing.T) {
	raw := newFakeRawChannel(
		streamUpdate{Began: true},
		streamUpdate{Transcript: "hola", Final: false},
		streamUpdate{Transcript: "hola mundo", Final: true},
	)
	sess := newStreamSession(func() (rawStreamChannel, error) { return raw, nil })

	sess.Feed(make([]byte, streamChunkBytes))
	if err := sess.Close(); err != nil {
		t.Fatal(err)
	}

	got := collectEvents(t, sess)
	want := []EventKind{EventOpened, EventPartial, EventFinal, EventClosed}
	if len(got) != len(want) {
		t.Fatalf("got %d events %v, want %d", len(got), got, len(want))
	}
	for i, kind := range want {
		if got[i].Kind != kind {
			t.Errorf("event %d: got %s, want %s", i, got[i].Kind, kind)
		}
	}
	if got[1].Text != "hola" || got[2].Text != "hola mundo" {
		t.Errorf("unexpected transcripts: %q, %q", got[1].Text, got[2].Text)
	}
}

func TestStreamSessionFlushesTailOnClose(t *testing.T) {
	raw := newFakeRawChannel()
	sess := newStreamSession(func() (rawStreamChannel, error) { return raw, nil })

	// Less than one chunk: must still reach the wire during Close.
	sess.Feed(make([]byte, streamChunkBytes/2))
	if err := sess.Close(); err != nil {
		t.Fatal(err)
	}

	if got := raw.sentBytes(); got != streamChunkBytes/2 {
		t.Errorf("sent %d bytes, want %d", got, streamChunkBytes/2)
	}
	raw.mu.Lock()
	closeSent := raw.closeSent
	raw.mu.Unlock()
	if !closeSent {
		t.Error("expected termination request on the wire")
	}
}

func TestStreamSessionDialError(t *testing.T) {
	dialErr := errors.New("no route to host")
	sess := newStreamSession(func() (rawStreamChannel, error) { return nil, dialErr })

	ev := <-sess.Events()
	if ev.Kind != EventError {
		t.Fatalf("got %s, want error", ev.Kind)
	}
	if !errors.Is(ev.Err, dialErr) {
		t.Errorf("got %v, want %v", ev.Err, dialErr)
	}

	if err := sess.Close(); !errors.Is(err, dialErr) {
		t.Errorf("Close returned %v, want %v", err, dialErr)
	}
	got := collectEvents(t, sess)
	if len(got) != 1 || got[0].Kind != EventClosed {
		t.Errorf("got %v, want single Closed", got)
	}
}

func TestStreamSessionEmptyTranscriptSkipped(t *testing.T) {
	raw := newFakeRawChannel(
		streamUpdate{Began: true},
		streamUpdate{Transcript: "  ", Final: false},
		streamUpdate{Transcript: "done", Final: true},
	)
	sess := newStreamSession(func() (rawStreamChannel, error) { return raw, nil })
	if err := sess.Close(); err != nil {
		t.Fatal(err)
	}

	got := collectEvents(t, sess)
	for _, ev := range got {
		if ev.Kind == EventPartial {
			t.Errorf("blank transcript leaked as partial: %q", ev.Text)
		}
	}
}

func TestNewProviderDispatch(t *testing.T) {
	t.Setenv("ASSEMBLYAI_API_KEY", "k")

	for _, name := range []string{"realtime", "batch"} {
		tr, err := New(name)
		if err != nil {
			t.Fatalf("%s: %v", name, err)
		}
		if tr.Name() != name {
			t.Errorf("got %q, want %q", tr.Name(), name)
		}
	}

	if _, err := New("whisper"); err == nil {
		t.Error("expected error for unknown provider")
	}
}

func TestNewMissingKey(t *testing.T) {
	t.Setenv("ASSEMBLYAI_API_KEY", "")
	if _, err := New("realtime"); err == nil {
		t.Error("expected error without API key")
	}
}

func TestBatchSessionTranscribes(t *testing.T) {
	var uploads int
	mux := http.NewServeMux()
	mux.HandleFunc("/v2/upload", func(w http.ResponseWriter, r *http.Request) {
		uploads++
		json.NewEncoder(w).Encode(map[string]string{"upload_url": "https://cdn.example/a1"})
	})
	mux.HandleFunc("/v2/transcript", func(w http.ResponseWriter, r *http.Request) {
		var req map[string]any
		json.NewDecoder(r.Body).Decode(&req)
		if req["audio_url"] != "https://cdn.example/a1" {
			t.Errorf("unexpected audio_url %v", req["audio_url"])
		}
		if req["language_detection"] != true {
			t.Errorf("expected language_detection for auto-detect, got %v", req)
		}
		json.NewEncoder(w).Encode(batchTranscript{ID: "t1", Status: "queued"})
	})
	mux.HandleFunc("/v2/transcript/t1", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(batchTranscript{ID: "t1", Status: "completed", Text: "hello there"})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	b := NewBatch("key")
	b.baseURL = srv.URL
	b.pollInterval = 5 * time.Millisecond

	sess, err := b.NewSession(context.Background(), Config{})
	if err != nil {
		t.Fatal(err)
	}
	sess.Feed(make([]byte, 8192))
	if err := sess.Close(); err != nil {
		t.Fatal(err)
	}

	got := collectEvents(t, sess)
	want := []EventKind{EventOpened, EventFinal, EventClosed}
	if len(got) != len(want) {
		t.Fatalf("got %v, want kinds %v", got, want)
	}
	for i, kind := range want {
		if got[i].Kind != kind {
			t.Errorf("event %d: got %s, want %s", i, got[i].Kind, kind)
		}
	}
	if got[1].Text != "hello there" {
		t.Errorf("got %q, want %q", got[1].Text, "hello there")
	}
	if uploads != 1 {
		t.Errorf("got %d uploads, want 1", uploads)
	}
}

func TestBatchSessionEmptyAudioSkipsUpload(t *testing.T) {
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
	}))
	defer srv.Close()

	b := NewBatch("key")
	b.baseURL = srv.URL
	b.pollInterval = time.Millisecond

	sess, err := b.NewSession(context.Background(), Config{})
	if err != nil {
		t.Fatal(err)
	}
	if err := sess.Close(); err != nil {
		t.Fatal(err)
	}

	got := collectEvents(t, sess)
	for _, ev := range got {
		if ev.Kind == EventFinal {
			t.Errorf("unexpected final for empty audio: %q", ev.Text)
		}
	}
	if hits != 0 {
		t.Errorf("API hit %d times for empty audio", hits)
	}
}

func TestFakeSessionAccounting(t *testing.T) {
	f := NewFake()
	s1, err := f.NewSession(context.Background(), Config{})
	if err != nil {
		t.Fatal(err)
	}
	s2, err := f.NewSession(context.Background(), Config{})
	if err != nil {
		t.Fatal(err)
	}
	s1.Close()
	s2.Close()
	s2.Close() // idempotent

	if f.OpenCount() != 2 || f.CloseCount() != 2 {
		t.Errorf("got open=%d close=%d, want 2/2", f.OpenCount(), f.CloseCount())
	}
}
