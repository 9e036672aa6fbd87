package ui

import (
	"bytes"
	"errors"
	"sync"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kalkanci/guvenlikkamerasi/internal/room"
	"github.com/kalkanci/guvenlikkamerasi/internal/session"
)

func level(n int) *room.DeviceStatus {
	return &room.DeviceStatus{BatteryLevel: &n}
}

func TestBattery(t *testing.T) {
	assert.Equal(t, "--", BatteryText(nil))
	assert.Equal(t, "--", BatteryText(&room.DeviceStatus{}))
	assert.Equal(t, "42%", BatteryText(level(42)))

	assert.Equal(t, Muted, BatteryColor(nil))
	assert.Equal(t, Muted, BatteryColor(level(0)))
	assert.Equal(t, Error, BatteryColor(level(19)))
	assert.Equal(t, Warning, BatteryColor(level(20)))
	assert.Equal(t, Warning, BatteryColor(level(49)))
	assert.Equal(t, Success, BatteryColor(level(50)))

	assert.Equal(t, IconBattery, BatteryIcon(nil))
	assert.Equal(t, IconBattery, BatteryIcon(level(80)))
	assert.Equal(t, IconLow, BatteryIcon(level(50)))
	charging := level(10)
	charging.IsCharging = true
	assert.Equal(t, IconCharging, BatteryIcon(charging))

	assert.Contains(t, Battery(level(42)), "42%")
}

func TestLastSeen(t *testing.T) {
	now := time.UnixMilli(10_000_000)
	assert.Equal(t, "--", LastSeen(0, now))
	assert.Equal(t, "just now", LastSeen(now.UnixMilli()+500, now))
	assert.Equal(t, "12s ago", LastSeen(now.Add(-12*time.Second).UnixMilli(), now))
	assert.Equal(t, "3m ago", LastSeen(now.Add(-3*time.Minute).UnixMilli(), now))
	assert.Equal(t, "2h ago", LastSeen(now.Add(-2*time.Hour).UnixMilli(), now))
}

func TestRoomsView(t *testing.T) {
	assert.Contains(t, RoomsView(nil, time.Now()), "No rooms")

	now := time.Now()
	view := RoomsView([]room.Summary{
		{ID: "cam-1", HasOffer: true, CallerCandidates: 3, Status: &room.DeviceStatus{BatteryLevel: level(77).BatteryLevel, LastOnline: now.Add(-5 * time.Second).UnixMilli()}},
		{ID: "cam-2", HasOffer: true, HasAnswer: true, CalleeCandidates: 1, Controls: &room.Controls{Torch: true, CameraFacing: room.FacingUser}},
		{ID: "empty"},
	}, now)

	assert.Contains(t, view, "cam-1")
	assert.Contains(t, view, "live")
	assert.Contains(t, view, "watched")
	assert.Contains(t, view, "idle")
	assert.Contains(t, view, "3 / 0")
	assert.Contains(t, view, "77%")
	assert.Contains(t, view, "5s ago")
	assert.Contains(t, view, "torch on, user")
	assert.Contains(t, view, "3 room(s)")
}

func TestRoomCard(t *testing.T) {
	view := RoomCardView("brave-otter-lamp-nine")
	assert.Contains(t, view, "brave-otter-lamp-nine")
	assert.Contains(t, view, "kamera watch brave-otter-lamp-nine")
}

type fakeController struct {
	mu       sync.Mutex
	torch    []bool
	facing   []room.CameraFacing
	talk     int
	stops    int
	talkErr  error
	controls room.Controls
}

func (c *fakeController) Controls() room.Controls {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.controls
}

func (c *fakeController) SetTorch(on bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.torch = append(c.torch, on)
	return nil
}

func (c *fakeController) SetCameraFacing(f room.CameraFacing) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.facing = append(c.facing, f)
	return nil
}

func (c *fakeController) PushToTalkStart() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.talk++
	return c.talkErr
}

func (c *fakeController) PushToTalkStop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stops++
}

func key(s string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

// press sends a key and runs the resulting command, feeding its message
// back into the model.
func press(t *testing.T, m *liveModel, k tea.KeyMsg) {
	t.Helper()
	_, cmd := m.Update(k)
	require.NotNil(t, cmd)
	m.Update(cmd())
}

func TestLiveWatcherKeys(t *testing.T) {
	ctrl := &fakeController{}
	m := newLiveModel(LiveOptions{Role: session.RoleWatcher, Room: "cam-1", Controller: ctrl}, nil)

	press(t, m, key("t"))
	press(t, m, key("t"))
	assert.Equal(t, []bool{true, false}, ctrl.torch)

	press(t, m, key("f"))
	press(t, m, key("f"))
	assert.Equal(t, []room.CameraFacing{room.FacingUser, room.FacingEnvironment}, ctrl.facing)

	press(t, m, tea.KeyMsg{Type: tea.KeySpace})
	assert.Equal(t, 1, ctrl.talk)
	assert.True(t, m.talkRequested)
	press(t, m, tea.KeyMsg{Type: tea.KeySpace})
	assert.Equal(t, 1, ctrl.stops)
	assert.False(t, m.talkRequested)

	_, cmd := m.Update(key("q"))
	require.NotNil(t, cmd)
	assert.Equal(t, tea.QuitMsg{}, cmd())
	assert.Empty(t, m.View())
}

func TestLiveTalkFailure(t *testing.T) {
	ctrl := &fakeController{talkErr: errors.New("no microphone")}
	m := newLiveModel(LiveOptions{Role: session.RoleWatcher, Room: "cam-1", Controller: ctrl}, nil)

	press(t, m, tea.KeyMsg{Type: tea.KeySpace})
	assert.False(t, m.talkRequested)
	assert.Contains(t, m.View(), "no microphone")
}

func TestLiveBroadcasterIgnoresControlKeys(t *testing.T) {
	m := newLiveModel(LiveOptions{Role: session.RoleBroadcaster, Room: "cam-1"}, nil)
	_, cmd := m.Update(key("t"))
	assert.Nil(t, cmd)
}

func TestLiveView(t *testing.T) {
	events := make(chan session.Event, 4)
	m := newLiveModel(LiveOptions{Role: session.RoleWatcher, Room: "cam-1", Controller: &fakeController{}}, events)

	assert.Contains(t, m.View(), session.StatusJoining)

	events <- session.Event{
		Role:      session.RoleWatcher,
		State:     session.StateConnected,
		Connected: true,
		Telemetry: level(15),
		Controls:  &room.Controls{Torch: true, CameraFacing: room.FacingUser},
		Talking:   true,
	}
	msg := m.listenForUpdates()()
	_, cmd := m.Update(msg)
	assert.NotNil(t, cmd)

	view := m.View()
	assert.Contains(t, view, "cam-1")
	assert.Contains(t, view, session.StatusLive)
	assert.Contains(t, view, "15%")
	assert.Contains(t, view, "Camera user")
	assert.Contains(t, view, "TALKING")

	close(events)
	msg = m.listenForUpdates()()
	assert.Equal(t, closedMsg{}, msg)
	_, cmd = m.Update(msg)
	require.NotNil(t, cmd)
	assert.Equal(t, tea.QuitMsg{}, cmd())
	assert.Contains(t, m.View(), "Session closed")
}

func TestLiveBroadcasterView(t *testing.T) {
	m := newLiveModel(LiveOptions{Role: session.RoleBroadcaster, Room: "cam-1", Recording: "rec"}, nil)
	m.apply(session.Event{Role: session.RoleBroadcaster, State: session.StateAwaitingRemote, Status: session.StatusWaiting})

	view := m.View()
	assert.Contains(t, view, "IDLE")
	assert.Contains(t, view, session.StatusWaiting)
	assert.NotContains(t, view, "TALKBACK")
	assert.Contains(t, view, "Recording to rec")

	m.apply(session.Event{Role: session.RoleBroadcaster, State: session.StateConnected, Status: session.StatusLive, Connected: true, RemoteAudioAvailable: true})
	view = m.View()
	assert.Contains(t, view, session.StatusLive)
	assert.Contains(t, view, "TALKBACK")
}

func TestPlain(t *testing.T) {
	var out bytes.Buffer
	p := &Plain{Out: &out, Now: func() time.Time { return time.Date(2024, 1, 1, 9, 30, 0, 0, time.UTC) }}

	waiting := session.Event{State: session.StateAwaitingRemote, Status: session.StatusWaiting}
	p.Show(waiting)
	p.Show(waiting)
	p.Show(session.Event{State: session.StateConnected, Status: session.StatusLive, Connected: true, Telemetry: level(60)})
	p.Show(session.Event{State: session.StateDegraded, Status: session.StatusCameraUnavailable, Err: errors.New("capture failed")})

	lines := bytes.Split(bytes.TrimSpace(out.Bytes()), []byte("\n"))
	require.Len(t, lines, 4)
	assert.Equal(t, "09:30:00 awaiting-remote | Waiting for connection...", string(lines[0]))
	assert.Equal(t, "09:30:00 connected | LIVE | connected | battery 60%", string(lines[1]))
	assert.Equal(t, "09:30:00 error: capture failed", string(lines[2]))
}
