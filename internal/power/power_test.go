package power

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func supply(t *testing.T, root, name string, attrs map[string]string) {
	t.Helper()
	dir := filepath.Join(root, name)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	for k, v := range attrs {
		require.NoError(t, os.WriteFile(filepath.Join(dir, k), []byte(v+"\n"), 0o644))
	}
}

func TestSysfsBattery(t *testing.T) {
	root := t.TempDir()
	supply(t, root, "BAT0", map[string]string{"type": "Battery", "capacity": "57", "status": "Discharging"})
	supply(t, root, "AC", map[string]string{"type": "Mains", "online": "0"})

	state, err := Sysfs{Root: root}.Read()
	require.NoError(t, err)
	require.NotNil(t, state.Level)
	assert.Equal(t, 57, *state.Level)
	assert.False(t, state.Charging)
}

func TestSysfsCharging(t *testing.T) {
	root := t.TempDir()
	supply(t, root, "BAT0", map[string]string{"type": "Battery", "capacity": "101", "status": "Not charging"})
	supply(t, root, "AC", map[string]string{"type": "Mains", "online": "1"})

	state, err := Sysfs{Root: root}.Read()
	require.NoError(t, err)
	assert.Equal(t, 100, *state.Level)
	assert.True(t, state.Charging)
}

func TestSysfsWithoutBattery(t *testing.T) {
	root := t.TempDir()
	supply(t, root, "AC", map[string]string{"type": "Mains", "online": "1"})

	state, err := Sysfs{Root: root}.Read()
	require.NoError(t, err)
	assert.Nil(t, state.Level)
	assert.False(t, state.Charging)

	state, err = Sysfs{Root: filepath.Join(root, "missing")}.Read()
	require.NoError(t, err)
	assert.Nil(t, state.Level)
}

type scripted struct {
	mu     sync.Mutex
	states []State
}

func (s *scripted) Read() (State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := s.states[0]
	if len(s.states) > 1 {
		s.states = s.states[1:]
	}
	return next, nil
}

func TestWatchReportsChangesOnly(t *testing.T) {
	level := func(v int) *int { return &v }
	src := &scripted{states: []State{
		{Level: level(50)},
		{Level: level(50)},
		{Level: level(49)},
		{Level: level(49), Charging: true},
	}}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	var got []State
	go Watch(ctx, src, time.Millisecond, func(s State) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, s)
	})

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 2
	}, time.Second, time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 49, *got[0].Level)
	assert.False(t, got[0].Charging)
	assert.True(t, got[1].Charging)
}

func TestStateEqual(t *testing.T) {
	a, b := 10, 10
	assert.True(t, State{}.Equal(State{}))
	assert.True(t, State{Level: &a}.Equal(State{Level: &b}))
	assert.False(t, State{Level: &a}.Equal(State{}))
	assert.False(t, State{Charging: true}.Equal(State{}))
}
