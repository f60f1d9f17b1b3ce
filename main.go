package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"runtime/debug"
	"syscall"
	"time"

	"parley/audio"
	"parley/encoder"
	"parley/log"
	"parley/session"
	"parley/transcriber"
	"parley/translate"
	"parley/tts"
)

var version = "dev"

func main() {
	run()
}

func deviceLineText(dev *audio.DeviceInfo) string {
	name := "system default"
	suffix := ""
	if dev != nil {
		name = dev.Name
		if audio.IsBluetooth(dev.Name) {
			suffix = " (BT!)"
		}
	}
	return "mic: " + name + suffix
}

func modeLineText(providerName, source, target string) string {
	src := source
	if src == "" {
		src = "auto"
	}
	return fmt.Sprintf("[%s → %s | %s]", src, target, providerName)
}

func run() {
	sourceFlag := flag.String("source", "", "Source language code (e.g., es). Empty = auto-detect")
	targetFlag := flag.String("target", "en", "Target language code (en, es, fr, de, fa)")
	providerFlag := flag.String("provider", "realtime", "Transcription backend: realtime or batch")
	setupFlag := flag.Bool("setup", false, "Select microphone device (otherwise uses system default)")
	deviceFlag := flag.String("device", "", "Use named microphone device")
	versionFlag := flag.Bool("version", false, "Print version and exit")
	logPathFlag := flag.String("logpath", "", "log directory path (default: OS-specific location, use ./ for current dir)")
	testFlag := flag.String("test", "", "Headless run against a WAV file instead of the microphone")
	flag.Parse()

	if *versionFlag {
		fmt.Printf("parley %s\n", version)
		os.Exit(0)
	}

	logPath, err := log.ResolveDir(*logPathFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to resolve log directory: %v\n", err)
		os.Exit(1)
	}
	log.SetDir(logPath)
	if err := log.EnsureDir(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not create log directory: %v\n", err)
	}

	crashPath := filepath.Join(log.Dir(), "crash_log.txt")
	crashFile, err := os.OpenFile(crashPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err == nil {
		fmt.Fprintf(crashFile, "\n=== Session %s [pid=%d] ===\n", time.Now().Format("2006-01-02 15:04:05"), os.Getpid())
		debug.SetCrashOutput(crashFile, debug.CrashOptions{})
	}

	if err := log.Init(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not init logging: %v\n", err)
	}
	defer log.Close()

	activeTranscriber, err := transcriber.New(*providerFlag)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}

	googleKey := os.Getenv("GOOGLE_API_KEY")
	if googleKey == "" {
		fmt.Println("Error: set GOOGLE_API_KEY environment variable")
		os.Exit(1)
	}
	translator := translate.NewGoogle(googleKey)

	azureKey := os.Getenv("AZURE_API_KEY")
	azureRegion := os.Getenv("AZURE_REGION")
	if azureKey == "" || azureRegion == "" {
		fmt.Println("Error: set AZURE_API_KEY and AZURE_REGION environment variables")
		os.Exit(1)
	}
	synth := tts.NewAzure(azureKey, azureRegion)

	// Prime TLS sessions so the first segment's pipeline is not handshake-bound.
	go translator.Warm()
	go synth.Warm()

	if *testFlag != "" {
		os.Exit(runTestMode(*testFlag, *sourceFlag, *targetFlag, activeTranscriber, translator, synth))
	}

	ctx, err := audio.NewContext()
	if err != nil {
		log.Errorf("audio context init error: %v", err)
		fmt.Printf("Error initializing audio context: %v\n", err)
		os.Exit(1)
	}
	defer ctx.Close()

	var selectedDevice *audio.DeviceInfo
	if *deviceFlag != "" {
		if devices, err := ctx.Devices(); err == nil {
			for i := range devices {
				if devices[i].Name == *deviceFlag {
					selectedDevice = &devices[i]
					break
				}
			}
		}
	} else if *setupFlag {
		selectedDevice, err = selectDevice(ctx)
		if err != nil {
			log.Warnf("device selection failed: %v", err)
			fmt.Printf("Warning: device selection failed: %v\n", err)
			fmt.Println("Falling back to default device")
			selectedDevice = nil
		}
	}

	player, err := ctx.NewPlayback(encoder.SampleRate)
	if err != nil {
		log.Errorf("playback init error: %v", err)
		fmt.Printf("Error initializing playback: %v\n", err)
		os.Exit(1)
	}
	defer player.Close()

	ctrl := session.New(session.Config{
		SourceLang: *sourceFlag,
		TargetLang: *targetFlag,
		Device:     selectedDevice,
	}, session.Deps{
		Audio:       ctx,
		Transcriber: activeTranscriber,
		Translator:  translator,
		Synthesizer: synth,
		Player:      player,
		Sink:        tuiSink{},
	})
	sessionCtrl = ctrl
	go ctrl.Run()

	tuiMu.Lock()
	tuiProgram = NewTUIProgram()
	tuiMu.Unlock()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		tuiProgram.Quit()
	}()

	go func() {
		<-tuiReady
		tuiSend(ModeLineMsg{Text: modeLineText(activeTranscriber.Name(), *sourceFlag, *targetFlag)})
		tuiSend(DeviceLineMsg{Text: deviceLineText(selectedDevice)})
		tuiSend(BluetoothWarningMsg{IsBT: selectedDevice != nil && audio.IsBluetooth(selectedDevice.Name)})
	}()

	if _, err := tuiProgram.Run(); err != nil {
		log.Errorf("TUI error: %v", err)
		fmt.Fprintf(os.Stderr, "TUI error: %v\n", err)
	}

	ctrl.Shutdown()
}

// stdoutSink drives the headless test mode: events go straight to stdout
// and done closes when the session ends.
type stdoutSink struct {
	session.NopSink
	done chan struct{}
}

func (s *stdoutSink) SessionListening() {
	fmt.Println("listening...")
}

func (s *stdoutSink) Final(seq int, text string) {
	fmt.Printf("#%d  %s\n", seq, text)
}

func (s *stdoutSink) Translation(seq int, text string) {
	fmt.Printf("#%d  → %s\n", seq, text)
}

func (s *stdoutSink) PipelineError(seq int, stage string, err error) {
	fmt.Printf("#%d  %s failed: %v\n", seq, stage, err)
}

func (s *stdoutSink) SessionStopped(reason session.StopReason, err error) {
	if err != nil {
		fmt.Printf("stopped: %s (%v)\n", reason, err)
	} else {
		fmt.Printf("stopped: %s\n", reason)
	}
	close(s.done)
}

// runTestMode replays a WAV file through a fake capture device and runs one
// full session against the real backends. The silence timeout ends it once
// the audio runs out.
func runTestMode(wavPath, source, target string, tr transcriber.Transcriber, translator translate.Translator, synth tts.Synthesizer) int {
	data, err := os.ReadFile(wavPath)
	if err != nil {
		fmt.Printf("Error reading file: %v\n", err)
		return 1
	}
	if len(data) <= audio.WAVHeaderSize {
		fmt.Println("Error: invalid WAV file")
		return 1
	}
	pcm := data[audio.WAVHeaderSize:]
	fmt.Printf("Replaying %.1fs of audio...\n", float64(len(pcm)/2)/float64(encoder.SampleRate))

	fakeCtx := audio.NewFakeContext(pcm, encoder.SampleRate, true)
	sink := &stdoutSink{done: make(chan struct{})}
	ctrl := session.New(session.Config{
		SourceLang: source,
		TargetLang: target,
	}, session.Deps{
		Audio:       fakeCtx,
		Transcriber: tr,
		Translator:  translator,
		Synthesizer: synth,
		Player:      fakeCtx.Player(),
		Sink:        sink,
	})
	go ctrl.Run()
	ctrl.Start()

	select {
	case <-sink.done:
	case <-time.After(5 * time.Minute):
		fmt.Println("Error: test run timed out")
		ctrl.Shutdown()
		return 1
	}
	ctrl.Shutdown()
	fmt.Printf("played %d synthesized utterances\n", len(fakeCtx.Player().Played()))
	return 0
}
