package persist

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vdraw-app/vdraw/backend/internal/scene"
)

func el(id string, version int64) scene.Element {
	return scene.Element{ID: id, Version: version, Kind: scene.KindEllipse, Width: 5, Height: 5}
}

func TestSceneRoundTripKeepsTombstones(t *testing.T) {
	ctx := context.Background()
	rec := NewMemory()

	store := scene.NewStore()
	s := NewSynchronizer(store, rec, "room-1")
	defer s.Close()

	tomb := el("b", 1)
	tomb.IsDeleted = true
	store.ApplyLocal([]scene.Element{el("a", 3), tomb}, scene.ViewState{})
	require.NoError(t, s.Flush(ctx))

	fresh := scene.NewStore()
	s2 := NewSynchronizer(fresh, rec, "room-1")
	defer s2.Close()
	sc, existed, err := s2.Load(ctx, false)
	require.NoError(t, err)
	require.True(t, existed)
	fresh.Load(sc)

	a, ok := fresh.Get("a")
	require.True(t, ok)
	assert.Equal(t, int64(3), a.Version)
	assert.False(t, a.IsDeleted)

	b, ok := fresh.Get("b")
	require.True(t, ok, "tombstones survive the round trip")
	assert.Equal(t, int64(1), b.Version)
	assert.True(t, b.IsDeleted)
}

func TestDebounceCollapsesEditBursts(t *testing.T) {
	rec := NewMemory()
	store := scene.NewStore()
	s := NewSynchronizer(store, rec, "room-1", WithDebounce(30*time.Millisecond))
	defer s.Close()

	for v := int64(1); v <= 20; v++ {
		store.ApplyLocal([]scene.Element{el("e", v)}, scene.ViewState{})
	}

	require.Eventually(t, func() bool {
		rec2, _ := rec.GetScene(context.Background(), "room-1")
		return rec2 != nil
	}, time.Second, 5*time.Millisecond)

	got, err := rec.GetScene(context.Background(), "room-1")
	require.NoError(t, err)
	require.Len(t, got.SceneData.Elements, 1)
	assert.Equal(t, int64(20), got.SceneData.Elements[0].Version, "latest state is what gets written")
}

func TestRemoteChangesAreNotRePersisted(t *testing.T) {
	rec := NewMemory()
	store := scene.NewStore()
	s := NewSynchronizer(store, rec, "room-1", WithDebounce(20*time.Millisecond))
	defer s.Close()

	store.ApplyRemote([]scene.Element{el("r", 2)}, scene.ViewState{})

	time.Sleep(80 * time.Millisecond)
	got, err := rec.GetScene(context.Background(), "room-1")
	require.NoError(t, err)
	assert.Nil(t, got, "remote merge must not schedule a write")
}

func TestPersistedViewStateIsSanitized(t *testing.T) {
	ctx := context.Background()
	rec := NewMemory()
	store := scene.NewStore()
	s := NewSynchronizer(store, rec, "room-1")
	defer s.Close()

	store.ApplyLocal([]scene.Element{el("a", 1)}, scene.ViewState{
		ViewBackgroundColor: "#222",
		Collaborators:       []scene.Collaborator{{PeerID: "p1", Name: "x"}},
	})
	require.NoError(t, s.Flush(ctx))

	got, err := rec.GetScene(ctx, "room-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Nil(t, got.SceneData.View.Collaborators)
	assert.Equal(t, "#222", got.SceneData.View.ViewBackgroundColor)
}

func TestLoadAbsentRoom(t *testing.T) {
	ctx := context.Background()
	rec := NewMemory()
	store := scene.NewStore()
	s := NewSynchronizer(store, rec, "new-room")
	defer s.Close()

	// Non-creator: empty scene, nothing written.
	sc, existed, err := s.Load(ctx, false)
	require.NoError(t, err)
	assert.False(t, existed)
	assert.Empty(t, sc.Elements)
	got, _ := rec.GetScene(ctx, "new-room")
	assert.Nil(t, got)

	// Creator: initial empty record upserted so joiners don't race.
	_, existed, err = s.Load(ctx, true)
	require.NoError(t, err)
	assert.False(t, existed)
	got, err = rec.GetScene(ctx, "new-room")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Empty(t, got.SceneData.Elements)
}
