package audio

import (
	"errors"
	"strings"
)

// WAVHeaderSize is the size of a canonical RIFF header. Synthesized speech
// arrives as a RIFF-wrapped PCM payload; callers strip this before playback.
const WAVHeaderSize = 44

// ErrPermission marks capture failures caused by a denied microphone
// permission, so callers can distinguish them from a missing device.
var ErrPermission = errors.New("microphone permission denied")

var btKeywords = []string{
	"airpods", "beats", "bose", "wh-1000", "wf-1000",
	"sony wh-", "sony wf-",
	"jabra", "galaxy buds", "pixel buds", "powerbeats",
	"jbl ", "sennheiser momentum", "plantronics",
	"tozo", "anker soundcore", "skullcandy",
	"bluetooth", " bt ", " bt)", " bt]",
}

// IsBluetooth guesses from the device name. BT headset mics drop to a low
// bitrate codec while capturing, which hurts recognition accuracy.
func IsBluetooth(name string) bool {
	lower := strings.ToLower(name)
	for _, kw := range btKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

type DataCallback func(data []byte, frameCount uint32)

type CaptureConfig struct {
	SampleRate uint32
	Channels   uint32
}

type DeviceInfo struct {
	ID   string // opaque platform-specific identifier
	Name string
}

type Context interface {
	Devices() ([]DeviceInfo, error)
	NewCapture(device *DeviceInfo, config CaptureConfig) (CaptureDevice, error)
	NewPlayback(sampleRate int) (Player, error)
	Close()
}

type CaptureDevice interface {
	Start() error
	Stop()
	Close()
	SetCallback(cb DataCallback)
	ClearCallback()
	DeviceName() string
}

// Player renders mono s16le PCM. Play blocks until the buffer has drained.
type Player interface {
	Play(pcm []byte) error
	Close()
}

func wrapPermission(err error) error {
	if err == nil {
		return nil
	}
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "denied") || strings.Contains(msg, "permission") {
		return errors.Join(ErrPermission, err)
	}
	return err
}
