package audio

import (
	"errors"
	"testing"
)

func TestIsBluetooth(t *testing.T) {
	for _, tt := range []struct {
		name string
		want bool
	}{
		{"AirPods Pro", true},
		{"Sony WH-1000XM5", true},
		{"Jabra Elite 85t", true},
		{"Built-in Microphone", false},
		{"USB Audio Device", false},
		{"Headset (Bluetooth)", true},
	} {
		if got := IsBluetooth(tt.name); got != tt.want {
			t.Errorf("IsBluetooth(%q) = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestWrapPermission(t *testing.T) {
	err := wrapPermission(errors.New("pulse: access denied"))
	if !errors.Is(err, ErrPermission) {
		t.Errorf("expected ErrPermission for denied error, got %v", err)
	}
	err = wrapPermission(errors.New("no such device"))
	if errors.Is(err, ErrPermission) {
		t.Errorf("unexpected ErrPermission for %v", err)
	}
	if wrapPermission(nil) != nil {
		t.Error("wrapPermission(nil) should be nil")
	}
}

func TestFakeCaptureDelivery(t *testing.T) {
	pcm := make([]byte, fakeFrameSize*fakeBytesPerFrame*3)
	for i := range pcm {
		pcm[i] = byte(i)
	}
	ctx := NewFakeContext(pcm, 16000, false)
	cap, err := ctx.NewCapture(nil, CaptureConfig{SampleRate: 16000, Channels: 1})
	if err != nil {
		t.Fatalf("NewCapture: %v", err)
	}

	var got []byte
	cap.SetCallback(func(data []byte, _ uint32) {
		if len(got) < len(pcm) {
			got = append(got, data...)
		}
	})
	if err := cap.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	fake := cap.(*FakeCapture)
	<-fake.AudioDone()
	cap.Stop()

	if len(got) < len(pcm) {
		t.Fatalf("delivered %d bytes, want at least %d", len(got), len(pcm))
	}
	for i := range pcm {
		if got[i] != pcm[i] {
			t.Fatalf("byte %d = %d, want %d", i, got[i], pcm[i])
		}
	}
}

func TestFakePlayerRecords(t *testing.T) {
	p := &FakePlayer{}
	p.Play([]byte{1, 2, 3})
	p.Play([]byte{4, 5})
	played := p.Played()
	if len(played) != 2 {
		t.Fatalf("played %d buffers, want 2", len(played))
	}
	if len(played[0]) != 3 || len(played[1]) != 2 {
		t.Errorf("unexpected buffer sizes: %d, %d", len(played[0]), len(played[1]))
	}
}
