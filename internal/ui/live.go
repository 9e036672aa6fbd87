package ui

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/kalkanci/guvenlikkamerasi/internal/room"
	"github.com/kalkanci/guvenlikkamerasi/internal/session"
	"github.com/kalkanci/guvenlikkamerasi/internal/utils"
)

// Controller is the part of a Watcher the live view drives from the
// keyboard.
type Controller interface {
	Controls() room.Controls
	SetTorch(on bool) error
	SetCameraFacing(facing room.CameraFacing) error
	PushToTalkStart() error
	PushToTalkStop()
}

// LiveOptions configures a live view.
type LiveOptions struct {
	Role session.Role
	Room room.ID

	// Controller enables the torch, facing and push-to-talk keys. It is
	// nil on the camera side.
	Controller Controller

	// Recording names where received media is written, if anywhere.
	Recording string
}

type eventMsg session.Event

type closedMsg struct{}

type controlMsg struct {
	action string
	err    error
}

// Live is a terminal view of one session, redrawn on every event.
type Live struct {
	model   *liveModel
	program *tea.Program
}

// NewLive creates a live view reading events until the channel closes.
func NewLive(opts LiveOptions, events <-chan session.Event, programOpts ...tea.ProgramOption) *Live {
	model := newLiveModel(opts, events)
	return &Live{
		model:   model,
		program: tea.NewProgram(model, programOpts...),
	}
}

// Run blocks until the user quits or the session ends.
func (l *Live) Run() error {
	_, err := l.program.Run()
	return err
}

// Quit stops the view from another goroutine.
func (l *Live) Quit() {
	l.program.Quit()
}

type liveModel struct {
	opts    LiveOptions
	events  <-chan session.Event
	spinner spinner.Model

	last          session.Event
	seen          bool
	telemetry     *room.DeviceStatus
	controls      room.Controls
	talkRequested bool
	notice        string
	err           error
	ended         bool
	quitting      bool

	liveSince time.Time
	now       func() time.Time
}

func newLiveModel(opts LiveOptions, events <-chan session.Event) *liveModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = SpinnerStyle

	return &liveModel{
		opts:     opts,
		events:   events,
		spinner:  s,
		controls: room.Controls{CameraFacing: room.FacingEnvironment},
		now:      time.Now,
	}
}

func (m *liveModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.listenForUpdates())
}

func (m *liveModel) listenForUpdates() tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-m.events
		if !ok {
			return closedMsg{}
		}
		return eventMsg(ev)
	}
}

func (m *liveModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m, m.handleKey(msg.String())

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case eventMsg:
		m.apply(session.Event(msg))
		return m, m.listenForUpdates()

	case closedMsg:
		m.ended = true
		return m, tea.Quit

	case controlMsg:
		if msg.err != nil {
			m.err = msg.err
			if msg.action == "talk" {
				m.talkRequested = false
			}
		}
	}
	return m, nil
}

func (m *liveModel) apply(ev session.Event) {
	switch {
	case ev.Connected && !m.last.Connected:
		m.liveSince = m.now()
	case !ev.Connected:
		m.liveSince = time.Time{}
	}
	m.last = ev
	m.seen = true
	if ev.Telemetry != nil {
		m.telemetry = ev.Telemetry
	}
	if ev.Controls != nil {
		m.controls = *ev.Controls
	}
	if ev.RemoteTrack != nil {
		m.notice = fmt.Sprintf("Receiving %s", ev.RemoteTrack.Kind())
	}
	if ev.Err != nil {
		m.err = ev.Err
		if m.talkRequested && !ev.Talking {
			m.talkRequested = false
		}
	}
	if ev.Talking {
		m.talkRequested = true
	}
	if ev.State == session.StateConnected && ev.Err == nil {
		m.err = nil
	}
}

func (m *liveModel) handleKey(key string) tea.Cmd {
	switch key {
	case "q", "ctrl+c", "esc":
		m.quitting = true
		return tea.Quit
	}

	ctrl := m.opts.Controller
	if ctrl == nil {
		return nil
	}
	switch key {
	case "t":
		on := !m.controls.Torch
		m.controls.Torch = on
		m.controls.CameraFacing = room.FacingEnvironment
		return func() tea.Msg {
			return controlMsg{action: "torch", err: ctrl.SetTorch(on)}
		}
	case "f":
		facing := m.controls.CameraFacing.Opposite()
		m.controls.CameraFacing = facing
		return func() tea.Msg {
			return controlMsg{action: "facing", err: ctrl.SetCameraFacing(facing)}
		}
	case " ", "space":
		if m.talkRequested {
			m.talkRequested = false
			return func() tea.Msg {
				ctrl.PushToTalkStop()
				return controlMsg{action: "talk"}
			}
		}
		m.talkRequested = true
		return func() tea.Msg {
			return controlMsg{action: "talk", err: ctrl.PushToTalkStart()}
		}
	}
	return nil
}

func (m *liveModel) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder
	b.WriteString("\n")
	if m.opts.Role == session.RoleBroadcaster {
		b.WriteString(fmt.Sprintf("%s Camera  %s\n\n", IconCamera, BoldStyle.Foreground(Primary).Render(m.opts.Room.String())))
	} else {
		b.WriteString(fmt.Sprintf("%s Watching  %s\n\n", IconWatch, BoldStyle.Foreground(Primary).Render(m.opts.Room.String())))
	}

	b.WriteString(m.statusLine())
	b.WriteString("\n")

	if m.opts.Role == session.RoleBroadcaster {
		if m.last.RemoteAudioAvailable {
			b.WriteString(fmt.Sprintf("\n%s %s\n", IconSpeaker, TalkBadgeStyle.Render("TALKBACK")))
		}
	} else {
		b.WriteString("\n" + m.controlsLine() + "\n")
	}

	if m.opts.Recording != "" {
		b.WriteString(MutedStyle.Render(fmt.Sprintf("\n%s Recording to %s", IconRecord, m.opts.Recording)) + "\n")
	}
	if m.notice != "" {
		b.WriteString(MutedStyle.Render(m.notice) + "\n")
	}
	if m.err != nil {
		b.WriteString("\n" + FormatError(m.err) + "\n")
	}
	if m.ended {
		b.WriteString("\n" + MutedStyle.Render("Session closed") + "\n")
	}

	b.WriteString("\n")
	if m.opts.Controller != nil {
		b.WriteString(KeyHelp("t", "torch", "f", "flip camera", "space", "talk", "q", "quit"))
	} else {
		b.WriteString(KeyHelp("q", "quit"))
	}
	b.WriteString("\n")
	return b.String()
}

func (m *liveModel) statusLine() string {
	status := m.last.Status
	if !m.seen {
		if m.opts.Role == session.RoleBroadcaster {
			status = session.StatusPreparing
		} else {
			status = session.StatusJoining
		}
	}

	var badge string
	if m.last.Connected {
		badge = LiveBadgeStyle.Render("● " + session.StatusLive)
		if !m.liveSince.IsZero() {
			badge += " " + MutedStyle.Render(utils.FormatTimeDuration(m.now().Sub(m.liveSince)))
		}
	} else {
		badge = m.spinner.View() + " " + IdleBadgeStyle.Render("IDLE")
	}

	line := badge
	if status != "" && status != session.StatusLive {
		line += "  " + status
	}
	if m.opts.Role == session.RoleWatcher && m.telemetry != nil {
		line += "    " + Battery(m.telemetry)
	}
	return line
}

func (m *liveModel) controlsLine() string {
	torch := MutedStyle.Render("off")
	if m.controls.Torch {
		torch = WarningStyle.Render("on")
	}
	facing := m.controls.CameraFacing
	if !facing.Valid() {
		facing = room.FacingEnvironment
	}
	line := fmt.Sprintf("%s Torch %s   %s Camera %s", IconTorch, torch, IconFlip, facing)
	if m.last.Talking {
		line += "   " + IconMic + " " + TalkBadgeStyle.Render("TALKING")
	} else if m.talkRequested {
		line += "   " + IconMic + " " + MutedStyle.Render("opening microphone...")
	}
	return line
}

// Plain prints one line per status change, for terminals without a live
// view.
type Plain struct {
	Out io.Writer
	Now func() time.Time

	last string
}

// Show prints ev if it changes what a viewer would see.
func (p *Plain) Show(ev session.Event) {
	line := plainLine(ev)
	if line == p.last && ev.Err == nil && ev.RemoteTrack == nil {
		return
	}
	p.last = line

	now := time.Now
	if p.Now != nil {
		now = p.Now
	}
	stamp := now().Format("15:04:05")

	if ev.RemoteTrack != nil {
		fmt.Fprintf(p.Out, "%s receiving %s\n", stamp, ev.RemoteTrack.Kind())
	}
	if ev.Err != nil {
		fmt.Fprintf(p.Out, "%s error: %v\n", stamp, ev.Err)
	}
	fmt.Fprintf(p.Out, "%s %s\n", stamp, line)
}

func plainLine(ev session.Event) string {
	parts := []string{ev.State.String()}
	if ev.Status != "" {
		parts = append(parts, ev.Status)
	}
	if ev.Connected {
		parts = append(parts, "connected")
	}
	if ev.RemoteAudioAvailable {
		parts = append(parts, "talkback")
	}
	if ev.Talking {
		parts = append(parts, "talking")
	}
	if ev.Telemetry != nil {
		parts = append(parts, "battery "+BatteryText(ev.Telemetry))
		if ev.Telemetry.IsCharging {
			parts = append(parts, "charging")
		}
	}
	return strings.Join(parts, " | ")
}
