package tts

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"parley/audio"
)

func TestVoiceFor(t *testing.T) {
	tests := []struct {
		lang string
		want string
	}{
		{"en", "en-US-JennyNeural"},
		{"ES", "es-ES-ElviraNeural"},
		{"de", "de-DE-KatjaNeural"},
		{"xx", "fa-IR-FaridNeural"},
		{"", "fa-IR-FaridNeural"},
	}
	for _, tt := range tests {
		if got := voiceFor(tt.lang).Name; got != tt.want {
			t.Errorf("voiceFor(%q) = %q, want %q", tt.lang, got, tt.want)
		}
	}
}

func TestBuildSSMLEscapes(t *testing.T) {
	ssml := buildSSML(`5 < 6 & "yes"`, voiceFor("en"))
	if strings.Contains(ssml, `5 < 6`) {
		t.Errorf("text not escaped: %s", ssml)
	}
	if !strings.Contains(ssml, "&lt;") || !strings.Contains(ssml, "&amp;") {
		t.Errorf("expected escaped entities, got %s", ssml)
	}
	if !strings.Contains(ssml, "en-US-JennyNeural") {
		t.Errorf("voice missing from ssml: %s", ssml)
	}
}

func TestAzureSynthesizeStripsHeader(t *testing.T) {
	pcm := []byte{1, 2, 3, 4, 5, 6}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Ocp-Apim-Subscription-Key") != "k1" {
			t.Errorf("missing subscription key")
		}
		if r.Header.Get("X-Microsoft-OutputFormat") != "riff-16khz-16bit-mono-pcm" {
			t.Errorf("unexpected output format %q", r.Header.Get("X-Microsoft-OutputFormat"))
		}
		body, _ := io.ReadAll(r.Body)
		if !strings.Contains(string(body), "<speak") {
			t.Errorf("expected ssml body, got %q", body)
		}
		w.Write(make([]byte, audio.WAVHeaderSize))
		w.Write(pcm)
	}))
	defer srv.Close()

	a := NewAzure("k1", "westus")
	a.baseURL = srv.URL

	got, err := a.Synthesize(context.Background(), "hello", "en")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != len(pcm) {
		t.Fatalf("got %d bytes, want %d", len(got), len(pcm))
	}
	for i := range pcm {
		if got[i] != pcm[i] {
			t.Fatalf("byte %d: got %d, want %d", i, got[i], pcm[i])
		}
	}
}

func TestAzureSynthesizeShortBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(make([]byte, 10))
	}))
	defer srv.Close()

	a := NewAzure("k1", "westus")
	a.baseURL = srv.URL

	if _, err := a.Synthesize(context.Background(), "hi", "en"); err == nil {
		t.Error("expected error for truncated response")
	}
}

func TestAzureSynthesizeAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	a := NewAzure("bad", "westus")
	a.baseURL = srv.URL

	if _, err := a.Synthesize(context.Background(), "hi", "en"); err == nil {
		t.Error("expected error on 401")
	}
}
