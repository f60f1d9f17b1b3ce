package main

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/atotto/clipboard"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"parley/session"
)

// TUI message types
type SessionStartingMsg struct{}
type SessionListeningMsg struct{}
type SessionStoppedMsg struct {
	Reason session.StopReason
	Err    error
}
type SessionTickMsg struct{ Seconds float64 }
type AudioLevelMsg struct{ Level float64 }
type StillListeningMsg struct{}
type InterimMsg struct{ Text string }
type FinalMsg struct {
	Seq  int
	Text string
}
type TranslationMsg struct {
	Seq  int
	Text string
}
type PipelineErrorMsg struct {
	Seq   int
	Stage string
	Err   error
}
type ModeLineMsg struct{ Text string }
type DeviceLineMsg struct{ Text string }
type BluetoothWarningMsg struct{ IsBT bool }
type tickMsg time.Time

type tuiState int

const (
	tuiStateIdle tuiState = iota
	tuiStateStarting
	tuiStateListening
)

const convWindow = 8 // conversation entries kept on screen

// convEntry is one finalized segment. Translated fills in whenever its
// pipeline result arrives, which may be out of segment order.
type convEntry struct {
	seq        int
	source     string
	translated string
	errText    string
}

type tuiModel struct {
	state         tuiState
	elapsed       float64
	audioLevel    float64
	warned        bool
	interim       string
	entries       []convEntry
	lastStop      string
	modeLine      string
	deviceLine    string
	btWarning     bool
	width, height int
}

var (
	tuiProgram   *tea.Program
	tuiMu        sync.Mutex
	tuiReady     = make(chan struct{})
	tuiReadyOnce sync.Once
)

// sessionCtrl is set by main before the program starts; key handlers post
// to its event loop, which is safe from any goroutine.
var sessionCtrl *session.Controller

var (
	statusLiveStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	statusIdleStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	warnStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("208"))
	interimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("245")).Italic(true)
	sourceStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("249"))
	translatedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("4"))
	seqStyle        = lipgloss.NewStyle().Foreground(lipgloss.Color("239"))
	errStyle        = lipgloss.NewStyle().Foreground(lipgloss.Color("160"))
	dimStyle        = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	helpStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("239"))
	helpBoldStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("239")).Bold(true)
	meterStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
)

func NewTUIProgram() *tea.Program {
	return tea.NewProgram(tuiModel{}, tea.WithAltScreen())
}

func tuiTick() tea.Cmd {
	return tea.Tick(60*time.Millisecond, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m tuiModel) Init() tea.Cmd {
	tuiReadyOnce.Do(func() { close(tuiReady) })
	return tuiTick()
}

func (m tuiModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			return m, tea.Quit
		case " ":
			if sessionCtrl != nil {
				sessionCtrl.Toggle()
			}
		case "c":
			if text := m.lastTranslation(); text != "" {
				clipboard.WriteAll(text)
			}
		}

	case tickMsg:
		return m, tuiTick()

	case SessionStartingMsg:
		m.state = tuiStateStarting
		m.elapsed = 0
		m.audioLevel = 0
		m.warned = false
		m.interim = ""
		m.entries = nil
		m.lastStop = ""

	case SessionListeningMsg:
		m.state = tuiStateListening

	case SessionStoppedMsg:
		m.state = tuiStateIdle
		m.audioLevel = 0
		m.interim = ""
		m.warned = false
		m.lastStop = msg.Reason.String()
		if msg.Err != nil {
			m.lastStop += ": " + msg.Err.Error()
		}

	case SessionTickMsg:
		m.elapsed = msg.Seconds

	case AudioLevelMsg:
		if m.state == tuiStateListening {
			m.audioLevel = m.audioLevel*0.6 + msg.Level*0.4
		}

	case StillListeningMsg:
		m.warned = true

	case InterimMsg:
		m.interim = msg.Text
		m.warned = false

	case FinalMsg:
		m.interim = ""
		m.warned = false
		m.entries = append(m.entries, convEntry{seq: msg.Seq, source: msg.Text})
		if len(m.entries) > convWindow {
			m.entries = m.entries[len(m.entries)-convWindow:]
		}

	case TranslationMsg:
		for i := range m.entries {
			if m.entries[i].seq == msg.Seq {
				m.entries[i].translated = msg.Text
			}
		}

	case PipelineErrorMsg:
		for i := range m.entries {
			if m.entries[i].seq == msg.Seq {
				m.entries[i].errText = fmt.Sprintf("%s failed: %v", msg.Stage, msg.Err)
			}
		}

	case ModeLineMsg:
		m.modeLine = msg.Text

	case DeviceLineMsg:
		m.deviceLine = msg.Text

	case BluetoothWarningMsg:
		m.btWarning = msg.IsBT
	}
	return m, nil
}

// lastTranslation returns the most recently arrived translation.
func (m tuiModel) lastTranslation() string {
	for i := len(m.entries) - 1; i >= 0; i-- {
		if m.entries[i].translated != "" {
			return m.entries[i].translated
		}
	}
	return ""
}

func (m tuiModel) View() string {
	if m.width == 0 || m.height == 0 {
		return "Loading..."
	}

	var b strings.Builder

	switch m.state {
	case tuiStateListening:
		b.WriteString(statusLiveStyle.Render(fmt.Sprintf("● LIVE %.0fs", m.elapsed)))
		b.WriteString("  " + renderMeter(m.audioLevel))
		if m.warned {
			b.WriteString("  " + warnStyle.Render("still listening..."))
		}
	case tuiStateStarting:
		b.WriteString(statusIdleStyle.Render("◌ CONNECTING"))
	default:
		b.WriteString(statusIdleStyle.Render("○ IDLE"))
		if m.lastStop != "" {
			b.WriteString("  " + dimStyle.Render("("+m.lastStop+")"))
		}
	}
	b.WriteString("\n")

	if m.modeLine != "" {
		b.WriteString(dimStyle.Render(m.modeLine) + "\n")
	}
	if m.deviceLine != "" {
		b.WriteString(dimStyle.Render(m.deviceLine) + "\n")
	}
	if m.btWarning {
		b.WriteString(warnStyle.Render("⚠ bluetooth mic: capture quality will suffer") + "\n")
	}
	b.WriteString("\n")

	wrapWidth := m.width - 4
	if wrapWidth < 20 {
		wrapWidth = 20
	}
	for _, e := range m.entries {
		b.WriteString(seqStyle.Render(fmt.Sprintf("#%d ", e.seq)))
		b.WriteString(sourceStyle.Render(e.source))
		b.WriteString("\n")
		switch {
		case e.errText != "":
			b.WriteString("   " + errStyle.Render(e.errText) + "\n")
		case e.translated != "":
			for _, line := range wrapText(e.translated, wrapWidth) {
				b.WriteString("   " + translatedStyle.Render(line) + "\n")
			}
		default:
			b.WriteString("   " + dimStyle.Render("...") + "\n")
		}
	}

	if m.interim != "" {
		b.WriteString(interimStyle.Render(m.interim) + "\n")
	}

	b.WriteString("\n")
	b.WriteString(helpBoldStyle.Render("space") + helpStyle.Render(" talk  "))
	b.WriteString(helpBoldStyle.Render("c") + helpStyle.Render(" copy  "))
	b.WriteString(helpBoldStyle.Render("ctrl+c") + helpStyle.Render(" quit  "))
	b.WriteString(helpStyle.Render("parley " + version))

	return b.String()
}

func renderMeter(level float64) string {
	const width = 12
	filled := int(level * 4 * width)
	if filled > width {
		filled = width
	}
	return meterStyle.Render(strings.Repeat("█", filled)) +
		dimStyle.Render(strings.Repeat("░", width-filled))
}

func wrapText(text string, width int) []string {
	if len(text) == 0 {
		return []string{""}
	}
	if width <= 0 {
		width = 1
	}

	var lines []string
	for len(text) > width {
		splitAt := width
		for i := width; i > 0; i-- {
			if text[i] == ' ' {
				splitAt = i
				break
			}
		}
		lines = append(lines, text[:splitAt])
		text = strings.TrimLeft(text[splitAt:], " ")
	}
	if len(text) > 0 {
		lines = append(lines, text)
	}
	return lines
}

func tuiSend(msg tea.Msg) {
	tuiMu.Lock()
	p := tuiProgram
	tuiMu.Unlock()
	if p != nil {
		p.Send(msg)
	}
}

// tuiSink bridges controller events into Bubble Tea messages. Program.Send
// is safe from any goroutine, including the audio callback.
type tuiSink struct{}

func (tuiSink) SessionStarting()  { tuiSend(SessionStartingMsg{}) }
func (tuiSink) SessionListening() { tuiSend(SessionListeningMsg{}) }
func (tuiSink) SessionStopped(reason session.StopReason, err error) {
	tuiSend(SessionStoppedMsg{Reason: reason, Err: err})
}
func (tuiSink) SessionTick(seconds float64) { tuiSend(SessionTickMsg{Seconds: seconds}) }
func (tuiSink) AudioLevel(level float64)    { tuiSend(AudioLevelMsg{Level: level}) }
func (tuiSink) StillListening()             { tuiSend(StillListeningMsg{}) }
func (tuiSink) Interim(text string)         { tuiSend(InterimMsg{Text: text}) }
func (tuiSink) Final(seq int, text string)  { tuiSend(FinalMsg{Seq: seq, Text: text}) }
func (tuiSink) Translation(seq int, text string) {
	tuiSend(TranslationMsg{Seq: seq, Text: text})
}
func (tuiSink) PipelineError(seq int, stage string, err error) {
	tuiSend(PipelineErrorMsg{Seq: seq, Stage: stage, Err: err})
}
