package translate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"parley/nettrace"
)

const googleBaseURL = "https://translation.googleapis.com/language/translate/v2"

// Translator turns a finalized transcript segment into the target language.
type Translator interface {
	Translate(ctx context.Context, text, source, target string) (string, error)
}

// Google calls the Translate v2 REST API with an API key.
type Google struct {
	apiKey  string
	client  *nettrace.Client
	baseURL string
}

func NewGoogle(apiKey string) *Google {
	return &Google{apiKey: apiKey, client: nettrace.NewClient(), baseURL: googleBaseURL}
}

// Warm primes the TLS connection so the first segment does not pay the
// handshake on top of translation latency.
func (g *Google) Warm() {
	g.client.WarmConnection(g.baseURL)
}

type googleResponse struct {
	Data struct {
		Translations []struct {
			TranslatedText string `json:"translatedText"`
		} `json:"translations"`
	} `json:"data"`
}

func (g *Google) Translate(ctx context.Context, text, source, target string) (string, error) {
	payload := map[string]any{
		"q":      text,
		"target": target,
		"format": "text",
	}
	if source != "" {
		payload["source"] = source
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"?key="+g.apiKey, bytes.NewReader(data))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("translate returned %d: %s", resp.StatusCode, excerpt(resp.Body))
	}

	var body googleResponse
	if err := json.Unmarshal(resp.Body, &body); err != nil {
		return "", err
	}
	if len(body.Data.Translations) == 0 {
		return "", fmt.Errorf("translate returned no translations")
	}
	return body.Data.Translations[0].TranslatedText, nil
}

func excerpt(body []byte) string {
	const max = 200
	if len(body) > max {
		body = body[:max]
	}
	return string(body)
}
