package transcriber

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"nhooyr.io/websocket"

	"parley/encoder"
	"parley/nettrace"
)

const (
	realtimeTokenURL = "https://streaming.assemblyai.com/v3/token"
	realtimeWsURL    = "wss://streaming.assemblyai.com/v3/ws"
	tokenExpirySecs  = 600
)

// Realtime streams PCM over the AssemblyAI Universal Streaming websocket and
// emits partials as the server revises the current turn.
type Realtime struct {
	apiKey string
	client *nettrace.Client
}

func NewRealtime(apiKey string) *Realtime {
	return &Realtime{apiKey: apiKey, client: nettrace.NewClient()}
}

func (r *Realtime) Name() string { return "realtime" }

func (r *Realtime) NewSession(ctx context.Context, cfg Config) (Session, error) {
	return newStreamSession(func() (rawStreamChannel, error) {
		return r.dial(ctx, cfg)
	}), nil
}

type realtimeMessage struct {
	Type       string `json:"type"` // Begin, Turn, Termination
	Transcript string `json:"transcript"`
	EndOfTurn  bool   `json:"end_of_turn"`
}

type realtimeChannel struct {
	conn   *websocket.Conn
	ctx    context.Context
	cancel context.CancelFunc
}

func (r *Realtime) dial(ctx context.Context, cfg Config) (rawStreamChannel, error) {
	token, err := r.mintToken(ctx)
	if err != nil {
		return nil, fmt.Errorf("mint streaming token: %w", err)
	}

	endpoint, err := url.Parse(realtimeWsURL)
	if err != nil {
		return nil, err
	}
	q := endpoint.Query()
	q.Set("sample_rate", fmt.Sprintf("%d", encoder.SampleRate))
	q.Set("token", token)
	if cfg.Language != "" {
		q.Set("language", cfg.Language)
	}
	endpoint.RawQuery = q.Encode()

	streamCtx, cancel := context.WithCancel(ctx)
	conn, _, err := websocket.Dial(streamCtx, endpoint.String(), nil)
	if err != nil {
		cancel()
		return nil, err
	}

	return &realtimeChannel{conn: conn, ctx: streamCtx, cancel: cancel}, nil
}

// mintToken trades the long-lived API key for a short-lived websocket token
// so the key never rides in a query string.
func (r *Realtime) mintToken(ctx context.Context) (string, error) {
	endpoint := fmt.Sprintf("%s?expires_in_seconds=%d", realtimeTokenURL, tokenExpirySecs)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", r.apiKey)

	resp, err := r.client.Do(req)
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("token endpoint returned %d: %s", resp.StatusCode, excerpt(resp.Body))
	}

	var body struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(resp.Body, &body); err != nil {
		return "", err
	}
	if body.Token == "" {
		return "", fmt.Errorf("token endpoint returned empty token")
	}
	return body.Token, nil
}

func (c *realtimeChannel) Send(pcm []byte) error {
	return c.conn.Write(c.ctx, websocket.MessageBinary, pcm)
}

func (c *realtimeChannel) CloseSend() error {
	return c.conn.Write(c.ctx, websocket.MessageText, []byte(`{"type":"Terminate"}`))
}

func (c *realtimeChannel) Recv() (streamUpdate, error) {
	_, data, err := c.conn.Read(c.ctx)
	if err != nil {
		return streamUpdate{}, err
	}

	var msg realtimeMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return streamUpdate{}, err
	}

	switch msg.Type {
	case "Begin":
		return streamUpdate{Began: true}, nil
	case "Termination":
		return streamUpdate{Terminated: true}, nil
	}
	return streamUpdate{Transcript: msg.Transcript, Final: msg.EndOfTurn}, nil
}

func (c *realtimeChannel) Close() error {
	c.cancel()
	return c.conn.Close(websocket.StatusNormalClosure, "")
}

func excerpt(body []byte) string {
	const max = 200
	if len(body) > max {
		body = body[:max]
	}
	return string(body)
}
