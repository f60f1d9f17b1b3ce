package transcriber

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"parley/encoder"
	"parley/log"
	"parley/nettrace"
)

const (
	batchBaseURL      = "https://api.assemblyai.com"
	batchPollInterval = 3 * time.Second
	batchPollMax      = 30
)

// Batch records the whole utterance, FLAC-encodes it concurrently, and
// uploads it when the session closes. The transcript arrives as a single
// Final during close, so trailing speech is never lost; there are no
// partials on this path.
type Batch struct {
	apiKey       string
	client       *nettrace.Client
	baseURL      string
	pollInterval time.Duration
}

func NewBatch(apiKey string) *Batch {
	return &Batch{
		apiKey:       apiKey,
		client:       nettrace.NewClient(),
		baseURL:      batchBaseURL,
		pollInterval: batchPollInterval,
	}
}

func (b *Batch) Name() string { return "batch" }

func (b *Batch) NewSession(ctx context.Context, cfg Config) (Session, error) {
	enc, err := encoder.NewFlac()
	if err != nil {
		return nil, err
	}

	bs := &batchSession{
		backend:    b,
		ctx:        ctx,
		cfg:        cfg,
		encoder:    enc,
		events:     make(chan Event, 16),
		blockChan:  make(chan []int16, 64),
		encodeDone: make(chan struct{}),
	}

	go func() {
		defer close(bs.encodeDone)
		for block := range bs.blockChan {
			start := time.Now()
			bs.encoder.EncodeBlock(block)
			bs.encoder.AddEncodeTime(time.Since(start))
		}
	}()

	// No connection to wait for; the channel is usable as soon as the
	// encoder goroutine is running.
	bs.events <- Event{Kind: EventOpened}

	return bs, nil
}

type batchSession struct {
	backend    *Batch
	ctx        context.Context
	cfg        Config
	encoder    encoder.Encoder
	events     chan Event
	blockChan  chan []int16
	encodeDone chan struct{}
	sampleBuf  []int16
	bufMu      sync.Mutex
	closed     bool
	closeMu    sync.Mutex
}

func (bs *batchSession) Feed(pcm []byte) {
	bs.bufMu.Lock()
	for i := 0; i+1 < len(pcm); i += 2 {
		bs.sampleBuf = append(bs.sampleBuf, int16(binary.LittleEndian.Uint16(pcm[i:])))
	}
	var blocks [][]int16
	for len(bs.sampleBuf) >= encoder.BlockSize {
		block := make([]int16, encoder.BlockSize)
		copy(block, bs.sampleBuf[:encoder.BlockSize])
		bs.sampleBuf = bs.sampleBuf[encoder.BlockSize:]
		blocks = append(blocks, block)
	}
	bs.bufMu.Unlock()

	for _, block := range blocks {
		bs.blockChan <- block
	}
}

func (bs *batchSession) Events() <-chan Event {
	return bs.events
}

func (bs *batchSession) Close() error {
	bs.closeMu.Lock()
	if bs.closed {
		bs.closeMu.Unlock()
		return nil
	}
	bs.closed = true
	bs.closeMu.Unlock()

	// Flush remaining samples
	bs.bufMu.Lock()
	if len(bs.sampleBuf) > 0 {
		partial := make([]int16, len(bs.sampleBuf))
		copy(partial, bs.sampleBuf)
		bs.sampleBuf = nil
		bs.blockChan <- partial
	}
	bs.bufMu.Unlock()

	close(bs.blockChan)
	<-bs.encodeDone

	err := bs.transcribeAndEmit()
	if err != nil {
		bs.events <- Event{Kind: EventError, Err: err}
	}
	bs.events <- Event{Kind: EventClosed}
	close(bs.events)
	return err
}

func (bs *batchSession) transcribeAndEmit() error {
	if err := bs.encoder.Close(); err != nil {
		return err
	}
	audio := bs.encoder.Bytes()
	if bs.encoder.TotalFrames() == 0 {
		return nil
	}

	start := time.Now()
	text, err := bs.backend.transcribe(bs.ctx, audio, bs.cfg.Language)
	if err != nil {
		return err
	}

	audioDur := float64(bs.encoder.TotalFrames()) / float64(encoder.SampleRate)
	log.Infof("batch transcribed %.1fs audio (%.1f KB flac) in %dms",
		audioDur, float64(len(audio))/1024, time.Since(start).Milliseconds())

	text = strings.TrimSpace(text)
	if text != "" {
		bs.events <- Event{Kind: EventFinal, Text: text}
	}
	return nil
}

type batchTranscript struct {
	ID     string `json:"id"`
	Status string `json:"status"` // queued, processing, completed, error
	Text   string `json:"text"`
	Error  string `json:"error"`
}

func (b *Batch) transcribe(ctx context.Context, audio []byte, language string) (string, error) {
	uploadURL, err := b.upload(ctx, audio)
	if err != nil {
		return "", fmt.Errorf("upload audio: %w", err)
	}

	id, err := b.createTranscript(ctx, uploadURL, language)
	if err != nil {
		return "", fmt.Errorf("create transcript: %w", err)
	}

	for attempt := 0; attempt < batchPollMax; attempt++ {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(b.pollInterval):
		}

		tr, err := b.getTranscript(ctx, id)
		if err != nil {
			return "", err
		}
		switch tr.Status {
		case "completed":
			return tr.Text, nil
		case "error":
			return "", fmt.Errorf("transcription failed: %s", tr.Error)
		}
	}
	return "", fmt.Errorf("transcription timed out after %d polls", batchPollMax)
}

func (b *Batch) upload(ctx context.Context, audio []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+"/v2/upload", bytes.NewReader(audio))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", b.apiKey)
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := b.client.Do(req)
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("upload returned %d: %s", resp.StatusCode, excerpt(resp.Body))
	}

	var body struct {
		UploadURL string `json:"upload_url"`
	}
	if err := json.Unmarshal(resp.Body, &body); err != nil {
		return "", err
	}
	return body.UploadURL, nil
}

func (b *Batch) createTranscript(ctx context.Context, audioURL, language string) (string, error) {
	payload := map[string]any{"audio_url": audioURL}
	if language == "" {
		payload["language_detection"] = true
	} else {
		payload["language_code"] = language
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+"/v2/transcript", bytes.NewReader(data))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", b.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("transcript create returned %d: %s", resp.StatusCode, excerpt(resp.Body))
	}

	var tr batchTranscript
	if err := json.Unmarshal(resp.Body, &tr); err != nil {
		return "", err
	}
	return tr.ID, nil
}

func (b *Batch) getTranscript(ctx context.Context, id string) (batchTranscript, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.baseURL+"/v2/transcript/"+id, nil)
	if err != nil {
		return batchTranscript{}, err
	}
	req.Header.Set("Authorization", b.apiKey)

	resp, err := b.client.Do(req)
	if err != nil {
		return batchTranscript{}, err
	}
	if resp.StatusCode != http.StatusOK {
		return batchTranscript{}, fmt.Errorf("transcript poll returned %d: %s", resp.StatusCode, excerpt(resp.Body))
	}

	var tr batchTranscript
	if err := json.Unmarshal(resp.Body, &tr); err != nil {
		return batchTranscript{}, err
	}
	return tr, nil
}
