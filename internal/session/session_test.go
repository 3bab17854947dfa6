package session

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vdraw-app/vdraw/backend/internal/access"
	"github.com/vdraw-app/vdraw/backend/internal/channel"
	"github.com/vdraw-app/vdraw/backend/internal/localstate"
	"github.com/vdraw-app/vdraw/backend/internal/persist"
	"github.com/vdraw-app/vdraw/backend/internal/scene"
)

func el(id string, version int64, x float64) scene.Element {
	return scene.Element{ID: id, Version: version, Kind: scene.KindRectangle, X: x, Width: 10, Height: 10}
}

func openFlags(t *testing.T, name string) *localstate.Flags {
	t.Helper()
	flags, err := localstate.Open(filepath.Join(t.TempDir(), name+".db"))
	require.NoError(t, err)
	t.Cleanup(func() { flags.Close() })
	return flags
}

func startSession(t *testing.T, broker *channel.Broker, rec persist.RecordStore, roomID, peerID string, flags *localstate.Flags) *Session {
	t.Helper()
	s, err := New(Config{
		RoomID:      roomID,
		PeerID:      peerID,
		Channel:     broker.Join(roomID, peerID),
		Records:     rec,
		Flags:       flags,
		PersistOpts: []persist.Option{persist.WithDebounce(20 * time.Millisecond)},
	})
	require.NoError(t, err)
	require.NoError(t, s.Start(context.Background()))
	t.Cleanup(func() { s.Close() })
	return s
}

func TestAccessGateScenario(t *testing.T) {
	ctx := context.Background()
	broker := channel.NewBroker()
	rec := persist.NewMemory()

	hostFlags := openFlags(t, "host")
	require.NoError(t, hostFlags.SetHost("room-r"))
	host := startSession(t, broker, rec, "room-r", "h1", hostFlags)

	// The host bootstraps the room record on start.
	got, err := rec.GetScene(ctx, "room-r")
	require.NoError(t, err)
	require.NotNil(t, got)

	peer := startSession(t, broker, rec, "room-r", "p1", openFlags(t, "peer"))

	// No cached grant: held at locked-out, no scene data loaded.
	assert.Equal(t, access.LockedOut, peer.AccessState())
	assert.Equal(t, 0, peer.Store().Len())

	require.NoError(t, peer.RequestAccess(ctx))
	require.Eventually(t, func() bool {
		pending := host.PendingRequests()
		return len(pending) == 1 && pending[0] == "p1"
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, host.GrantAccess(ctx, "p1"))
	require.Eventually(t, func() bool {
		return peer.AccessState() == access.Granted
	}, time.Second, 5*time.Millisecond)
	assert.Empty(t, host.PendingRequests())
}

func TestDrawUpdatesPropagateBetweenPeers(t *testing.T) {
	broker := channel.NewBroker()
	rec := persist.NewMemory()

	hostFlags := openFlags(t, "host")
	require.NoError(t, hostFlags.SetHost("room-r"))
	host := startSession(t, broker, rec, "room-r", "h1", hostFlags)

	peerFlags := openFlags(t, "peer")
	require.NoError(t, peerFlags.SetGranted("room-r"))
	peer := startSession(t, broker, rec, "room-r", "p1", peerFlags)
	require.Equal(t, access.Granted, peer.AccessState())

	host.ApplyLocalChange([]scene.Element{el("e1", 1, 5)}, scene.ViewState{})

	require.Eventually(t, func() bool {
		got, ok := peer.Store().Get("e1")
		return ok && got.Version == 1
	}, time.Second, 5*time.Millisecond)

	// Concurrent edit on the peer wins by version, both sides converge.
	peer.ApplyLocalChange([]scene.Element{el("e1", 2, 42)}, scene.ViewState{})
	require.Eventually(t, func() bool {
		got, ok := host.Store().Get("e1")
		return ok && got.Version == 2 && got.X == 42
	}, time.Second, 5*time.Millisecond)
}

func TestLockedOutPeerIgnoresDrawUpdates(t *testing.T) {
	broker := channel.NewBroker()
	rec := persist.NewMemory()

	hostFlags := openFlags(t, "host")
	require.NoError(t, hostFlags.SetHost("room-r"))
	host := startSession(t, broker, rec, "room-r", "h1", hostFlags)

	peer := startSession(t, broker, rec, "room-r", "p1", openFlags(t, "peer"))

	host.ApplyLocalChange([]scene.Element{el("secret", 1, 0)}, scene.ViewState{})

	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, 0, peer.Store().Len(), "locked-out peer must not see scene data")
}

func TestTeacherCommandsReachFollowers(t *testing.T) {
	ctx := context.Background()
	broker := channel.NewBroker()
	rec := persist.NewMemory()

	hostFlags := openFlags(t, "host")
	require.NoError(t, hostFlags.SetHost("room-r"))
	host := startSession(t, broker, rec, "room-r", "h1", hostFlags)

	peerFlags := openFlags(t, "peer")
	require.NoError(t, peerFlags.SetGranted("room-r"))
	peer := startSession(t, broker, rec, "room-r", "p1", peerFlags)

	require.NoError(t, host.SetRoomLocked(ctx, true))
	require.Eventually(t, func() bool {
		return peer.RoomState().Locked()
	}, time.Second, 5*time.Millisecond)

	// The lock survives in the room record.
	info, err := rec.GetRoom(ctx, "room-r")
	require.NoError(t, err)
	require.NotNil(t, info)
	assert.True(t, info.IsLocked)

	// Locked followers can't edit; the host still can.
	peer.ApplyLocalChange([]scene.Element{el("blocked", 1, 0)}, scene.ViewState{})
	assert.Equal(t, 0, peer.Store().Len())
	host.ApplyLocalChange([]scene.Element{el("allowed", 1, 0)}, scene.ViewState{})
	assert.Equal(t, 1, host.Store().Len())

	require.NoError(t, host.SetFocusMode(ctx, true))
	require.Eventually(t, func() bool {
		return peer.RoomState().View().Focus
	}, time.Second, 5*time.Millisecond)

	// Non-hosts can't issue commands.
	assert.Error(t, peer.SetRoomLocked(ctx, true))
}

func TestGrantedPeerLoadsPersistedScene(t *testing.T) {
	ctx := context.Background()
	broker := channel.NewBroker()
	rec := persist.NewMemory()
	require.NoError(t, rec.UpsertScene(ctx, "room-r", scene.Scene{
		Elements: []scene.Element{el("existing", 3, 7)},
	}))

	hostFlags := openFlags(t, "host")
	require.NoError(t, hostFlags.SetHost("room-r"))
	host := startSession(t, broker, rec, "room-r", "h1", hostFlags)

	peer := startSession(t, broker, rec, "room-r", "p1", openFlags(t, "peer"))
	require.NoError(t, peer.RequestAccess(ctx))
	require.Eventually(t, func() bool {
		return len(host.PendingRequests()) == 1
	}, time.Second, 5*time.Millisecond)
	require.NoError(t, host.GrantAccess(ctx, "p1"))

	require.Eventually(t, func() bool {
		got, ok := peer.Store().Get("existing")
		return ok && got.Version == 3
	}, time.Second, 5*time.Millisecond)
}
