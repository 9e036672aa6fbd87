package mailbox

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recorder collects snapshots delivered to a watch.
type recorder struct {
	mu        sync.Mutex
	snapshots []Snapshot
}

func (r *recorder) record(s Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snapshots = append(r.snapshots, s)
}

func (r *recorder) all() []Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Snapshot(nil), r.snapshots...)
}

func (r *recorder) last() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.snapshots) == 0 {
		return Snapshot{}
	}
	return r.snapshots[len(r.snapshots)-1]
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.snapshots)
}

func waitCount(t *testing.T, r *recorder, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return r.count() >= n }, time.Second, 5*time.Millisecond)
}

func TestWatchDeliversCurrentValueFirst(t *testing.T) {
	ctx := context.Background()
	store := NewStore(nil)
	conn := store.Connect("a")

	require.NoError(t, conn.Set(ctx, "rooms/cam-1/offer", map[string]string{"type": "offer", "sdp": "v=0"}))

	var rec recorder
	unsubscribe, err := conn.Watch(ctx, "rooms/cam-1/offer", rec.record)
	require.NoError(t, err)
	defer unsubscribe()

	waitCount(t, &rec, 1)
	first := rec.all()[0]
	assert.True(t, first.Exists())
	var offer map[string]string
	require.NoError(t, first.Decode(&offer))
	assert.Equal(t, "v=0", offer["sdp"])
}

func TestWatchDeliversAbsentValue(t *testing.T) {
	store := NewStore(nil)
	conn := store.Connect("a")

	var rec recorder
	unsubscribe, err := conn.Watch(context.Background(), "rooms/missing/answer", rec.record)
	require.NoError(t, err)
	defer unsubscribe()

	waitCount(t, &rec, 1)
	assert.False(t, rec.last().Exists())
	assert.Error(t, rec.last().Decode(&struct{}{}))
}

func TestWatchSeesChangesBelowAndAbove(t *testing.T) {
	ctx := context.Background()
	store := NewStore(nil)
	conn := store.Connect("a")

	var room, candidates recorder
	u1, err := conn.Watch(ctx, "rooms/cam-1", room.record)
	require.NoError(t, err)
	defer u1()
	u2, err := conn.Watch(ctx, "rooms/cam-1/iceCandidates/caller", candidates.record)
	require.NoError(t, err)
	defer u2()
	waitCount(t, &room, 1)
	waitCount(t, &candidates, 1)

	_, err = conn.Push(ctx, "rooms/cam-1/iceCandidates/caller", map[string]string{"candidate": "c1"})
	require.NoError(t, err)
	waitCount(t, &room, 2)
	waitCount(t, &candidates, 2)

	// Removing the ancestor clears the descendant.
	require.NoError(t, conn.Remove(ctx, "rooms/cam-1"))
	waitCount(t, &candidates, 3)
	assert.False(t, candidates.last().Exists())
}

func TestWatchSkipsUnchangedValues(t *testing.T) {
	ctx := context.Background()
	store := NewStore(nil)
	conn := store.Connect("a")

	var rec recorder
	unsubscribe, err := conn.Watch(ctx, "rooms/cam-1/controls", rec.record)
	require.NoError(t, err)
	defer unsubscribe()
	waitCount(t, &rec, 1)

	// A sibling write does not touch the watched value.
	require.NoError(t, conn.Set(ctx, "rooms/cam-1/status", map[string]any{"lastOnline": 1}))
	controls := map[string]any{"torch": true, "cameraFacing": "environment"}
	require.NoError(t, conn.Set(ctx, "rooms/cam-1/controls", controls))
	require.NoError(t, conn.Set(ctx, "rooms/cam-1/controls", controls))
	waitCount(t, &rec, 2)

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 2, rec.count())
}

func TestPushKeysPreserveOrder(t *testing.T) {
	ctx := context.Background()
	store := NewStore(nil)
	conn := store.Connect("a")

	for _, c := range []string{"c1", "c2", "c3", "c4", "c5"} {
		_, err := conn.Push(ctx, "rooms/cam-1/iceCandidates/callee", map[string]string{"candidate": c})
		require.NoError(t, err)
	}

	snapshot, err := store.Get("rooms/cam-1/iceCandidates/callee")
	require.NoError(t, err)
	children, err := snapshot.Children()
	require.NoError(t, err)
	require.Len(t, children, 5)

	var got []string
	for _, child := range children {
		var v map[string]string
		require.NoError(t, child.Decode(&v))
		got = append(got, v["candidate"])
	}
	assert.Equal(t, []string{"c1", "c2", "c3", "c4", "c5"}, got)
}

func TestUpdateMergesFields(t *testing.T) {
	ctx := context.Background()
	store := NewStore(nil)
	conn := store.Connect("a")

	require.NoError(t, conn.Set(ctx, "rooms/cam-1/status", map[string]any{"batteryLevel": 80, "isCharging": false, "lastOnline": 1}))
	require.NoError(t, conn.Update(ctx, "rooms/cam-1/status", map[string]any{"lastOnline": 2}))

	snapshot, err := store.Get("rooms/cam-1/status")
	require.NoError(t, err)
	var status map[string]any
	require.NoError(t, snapshot.Decode(&status))
	assert.Equal(t, map[string]any{"batteryLevel": 80.0, "isCharging": false, "lastOnline": 2.0}, status)

	// Nil removes a field; relative paths reach deeper.
	require.NoError(t, conn.Update(ctx, "rooms/cam-1", map[string]any{"status/isCharging": nil, "controls/torch": true}))
	snapshot, err = store.Get("rooms/cam-1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"status":{"batteryLevel":80,"lastOnline":2},"controls":{"torch":true}}`, string(snapshot.Raw))
}

func TestRemovePrunesEmptyParents(t *testing.T) {
	ctx := context.Background()
	store := NewStore(nil)
	conn := store.Connect("a")

	require.NoError(t, conn.Set(ctx, "rooms/cam-1/answer/answer", map[string]string{"type": "answer"}))
	require.NoError(t, conn.Remove(ctx, "rooms/cam-1/answer/answer"))

	snapshot, err := store.Get("rooms")
	require.NoError(t, err)
	assert.False(t, snapshot.Exists())
}

func TestSetNilRemoves(t *testing.T) {
	ctx := context.Background()
	store := NewStore(nil)
	conn := store.Connect("a")

	require.NoError(t, conn.Set(ctx, "rooms/cam-1/offer", json.RawMessage(`{"type":"offer"}`)))
	require.NoError(t, conn.Set(ctx, "rooms/cam-1/offer", nil))

	snapshot, err := store.Get("rooms/cam-1/offer")
	require.NoError(t, err)
	assert.False(t, snapshot.Exists())
}

func TestInvalidPaths(t *testing.T) {
	ctx := context.Background()
	conn := NewStore(nil).Connect("a")

	for _, path := range []string{"rooms//x", "rooms/a.b", "rooms/$x", "rooms/[0]", "rooms/#"} {
		assert.ErrorIs(t, conn.Set(ctx, path, 1), ErrInvalidPath, path)
	}
	assert.ErrorIs(t, conn.OnDisconnectRemove(ctx, ""), ErrInvalidPath)
}

func TestDisconnectHooksRunOnClose(t *testing.T) {
	ctx := context.Background()
	store := NewStore(nil)
	broadcaster := store.Connect("broadcaster")
	watcher := store.Connect("watcher")

	require.NoError(t, broadcaster.Set(ctx, "rooms/cam-1/offer", map[string]string{"type": "offer"}))
	require.NoError(t, broadcaster.OnDisconnectRemove(ctx, "rooms/cam-1"))

	var rec recorder
	unsubscribe, err := watcher.Watch(ctx, "rooms/cam-1/offer", rec.record)
	require.NoError(t, err)
	defer unsubscribe()
	waitCount(t, &rec, 1)
	require.True(t, rec.last().Exists())

	require.NoError(t, broadcaster.Close())
	waitCount(t, &rec, 2)
	assert.False(t, rec.last().Exists())

	// Closed connections refuse further work.
	assert.ErrorIs(t, broadcaster.Set(ctx, "rooms/cam-1/offer", 1), ErrClosed)
	assert.NoError(t, broadcaster.Close())
}

func TestCloseStopsOwnWatches(t *testing.T) {
	ctx := context.Background()
	store := NewStore(nil)
	watcher := store.Connect("watcher")
	writer := store.Connect("writer")

	var rec recorder
	_, err := watcher.Watch(ctx, "rooms/cam-1", rec.record)
	require.NoError(t, err)
	waitCount(t, &rec, 1)

	require.NoError(t, watcher.Close())
	require.NoError(t, writer.Set(ctx, "rooms/cam-1/offer", 1))

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, rec.count())
}

func TestConnectMakesOwnersUnique(t *testing.T) {
	store := NewStore(nil)
	a := store.Connect("cam")
	b := store.Connect("cam")

	assert.NotEqual(t, a.Owner(), b.Owner())
	assert.Equal(t, 2, store.Connections())
	require.NoError(t, a.Close())
	assert.Equal(t, 1, store.Connections())
}

func TestReaperExpiresIdleRooms(t *testing.T) {
	ctx := context.Background()
	store := NewStore(nil)
	now := time.Unix(1_700_000_000, 0)
	store.now = func() time.Time { return now }
	conn := store.Connect("a")

	require.NoError(t, conn.Set(ctx, "rooms/stale/offer", 1))
	now = now.Add(10 * time.Minute)
	require.NoError(t, conn.Set(ctx, "rooms/fresh/offer", 1))

	reaper := NewReaper(store, 5*time.Minute, nil)
	assert.Equal(t, []string{"rooms/stale"}, reaper.Sweep())

	stale, err := store.Get("rooms/stale")
	require.NoError(t, err)
	assert.False(t, stale.Exists())
	fresh, err := store.Get("rooms/fresh")
	require.NoError(t, err)
	assert.True(t, fresh.Exists())

	assert.Empty(t, reaper.Sweep())
}

func TestSnapshotChildrenOfScalar(t *testing.T) {
	_, err := Snapshot{Path: "x", Raw: json.RawMessage(`1`)}.Children()
	assert.Error(t, err)

	children, err := Snapshot{Path: "x"}.Children()
	assert.NoError(t, err)
	assert.Empty(t, children)
}

func TestJoin(t *testing.T) {
	assert.Equal(t, "rooms/cam-1/offer", Join("rooms", "cam-1", "offer"))
	assert.Equal(t, "rooms/cam-1/offer", Join("/rooms/", "", "cam-1/offer/"))
	assert.Equal(t, "", Join())
}
