package tts

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"net/http"
	"strings"

	"parley/audio"
	"parley/nettrace"
)

// Synthesizer renders translated text as 16 kHz mono s16le PCM, ready for
// the playback device without further decoding.
type Synthesizer interface {
	Synthesize(ctx context.Context, text, lang string) ([]byte, error)
}

// Neural voice per target language. Unknown languages fall back to the
// Farsi voice.
var azureVoices = map[string]azureVoice{
	"en": {"en-US", "en-US-JennyNeural"},
	"es": {"es-ES", "es-ES-ElviraNeural"},
	"fr": {"fr-FR", "fr-FR-DeniseNeural"},
	"de": {"de-DE", "de-DE-KatjaNeural"},
	"fa": {"fa-IR", "fa-IR-FaridNeural"},
}

type azureVoice struct {
	Locale string
	Name   string
}

func voiceFor(lang string) azureVoice {
	if v, ok := azureVoices[strings.ToLower(lang)]; ok {
		return v
	}
	return azureVoices["fa"]
}

// Azure calls the Cognitive Services TTS endpoint. Output is requested as
// riff-16khz-16bit-mono-pcm and the WAV header is stripped so callers get
// raw samples.
type Azure struct {
	apiKey  string
	client  *nettrace.Client
	baseURL string
}

func NewAzure(apiKey, region string) *Azure {
	return &Azure{
		apiKey:  apiKey,
		client:  nettrace.NewClient(),
		baseURL: fmt.Sprintf("https://%s.tts.speech.microsoft.com/cognitiveservices/v1", region),
	}
}

// Warm primes the TLS connection ahead of the first synthesis request.
func (a *Azure) Warm() {
	a.client.WarmConnection(a.baseURL)
}

func (a *Azure) Synthesize(ctx context.Context, text, lang string) ([]byte, error) {
	voice := voiceFor(lang)
	ssml := buildSSML(text, voice)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL, strings.NewReader(ssml))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Ocp-Apim-Subscription-Key", a.apiKey)
	req.Header.Set("Content-Type", "application/ssml+xml")
	req.Header.Set("X-Microsoft-OutputFormat", "riff-16khz-16bit-mono-pcm")

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("tts returned %d (request %s): %s", resp.StatusCode,
			nettrace.FirstNonEmpty(resp.Header, "Apim-Request-Id", "X-Requestid"), excerpt(resp.Body))
	}

	if len(resp.Body) <= audio.WAVHeaderSize {
		return nil, fmt.Errorf("tts returned %d bytes, shorter than a wav header", len(resp.Body))
	}
	return resp.Body[audio.WAVHeaderSize:], nil
}

func buildSSML(text string, voice azureVoice) string {
	var escaped bytes.Buffer
	xml.EscapeText(&escaped, []byte(text))
	return fmt.Sprintf(
		`<speak version='1.0' xml:lang='%s'><voice xml:lang='%s' name='%s'>%s</voice></speak>`,
		voice.Locale, voice.Locale, voice.Name, escaped.String())
}

func excerpt(body []byte) string {
	const max = 200
	if len(body) > max {
		body = body[:max]
	}
	return string(body)
}
