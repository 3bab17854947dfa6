package scene

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rect(id string, version int64, x float64) Element {
	return Element{
		ID:      id,
		Version: version,
		Kind:    KindRectangle,
		X:       x,
		Y:       10,
		Width:   100,
		Height:  50,
		Style:   Style{StrokeColor: "#ffffff"},
	}
}

func TestApplyRemoteConvergesUnderReordering(t *testing.T) {
	v2 := rect("e", 2, 20)
	v3 := rect("e", 3, 30)

	orders := map[string][]Element{
		"in-order":  {v2, v3},
		"reversed":  {v3, v2},
		"only-last": {v3},
	}

	for name, deltas := range orders {
		t.Run(name, func(t *testing.T) {
			store := NewStore()
			for _, el := range deltas {
				store.ApplyRemote([]Element{el}, ViewState{})
			}
			got, ok := store.Get("e")
			require.True(t, ok)
			assert.Equal(t, int64(3), got.Version)
			assert.Equal(t, 30.0, got.X)
		})
	}
}

func TestApplyRemoteIsIdempotent(t *testing.T) {
	store := NewStore()
	delta := []Element{rect("a", 2, 5), rect("b", 1, 7)}

	store.ApplyRemote(delta, ViewState{})
	first := store.Snapshot()

	adopted := store.ApplyRemote(delta, ViewState{})
	assert.Empty(t, adopted, "re-delivered delta should be discarded")
	assert.Equal(t, first, store.Snapshot())
}

func TestApplyRemoteNeverRegressesLocalEdits(t *testing.T) {
	store := NewStore()
	store.ApplyLocal([]Element{rect("e", 5, 50)}, ViewState{})

	for _, v := range []int64{1, 4, 5} {
		adopted := store.ApplyRemote([]Element{rect("e", v, 99)}, ViewState{})
		assert.Empty(t, adopted, "version %d must not be adopted over local version 5", v)
	}

	got, _ := store.Get("e")
	assert.Equal(t, int64(5), got.Version)
	assert.Equal(t, 50.0, got.X)
}

func TestEqualVersionFirstReceivedWins(t *testing.T) {
	store := NewStore()
	first := rect("e", 2, 11)
	second := rect("e", 2, 22)

	store.ApplyRemote([]Element{first}, ViewState{})
	adopted := store.ApplyRemote([]Element{second}, ViewState{})

	assert.Empty(t, adopted)
	got, _ := store.Get("e")
	assert.Equal(t, 11.0, got.X)
}

func TestDeletesAreTombstonesNotRemovals(t *testing.T) {
	store := NewStore()
	store.ApplyLocal([]Element{rect("e", 1, 1)}, ViewState{})

	deleted := rect("e", 2, 1)
	deleted.IsDeleted = true
	store.ApplyRemote([]Element{deleted}, ViewState{})

	got, ok := store.Get("e")
	require.True(t, ok, "tombstoned element stays in the store")
	assert.True(t, got.IsDeleted)
	assert.Equal(t, 1, store.Len())

	// A later concurrent edit with a higher version revives it.
	revived := rect("e", 3, 2)
	adopted := store.ApplyRemote([]Element{revived}, ViewState{})
	require.Len(t, adopted, 1)
	got, _ = store.Get("e")
	assert.False(t, got.IsDeleted)
}

func TestChangeNotificationsCarryOrigin(t *testing.T) {
	store := NewStore()
	var origins []Origin
	store.Subscribe(func(c Change) {
		origins = append(origins, c.Origin)
	})

	store.ApplyLocal([]Element{rect("a", 1, 0)}, ViewState{})
	store.ApplyRemote([]Element{rect("b", 1, 0)}, ViewState{})
	// Stale remote: no adoption, no notification.
	store.ApplyRemote([]Element{rect("a", 1, 9)}, ViewState{})

	require.Equal(t, []Origin{OriginLocal, OriginRemote}, origins)
}

func TestLoadReplacesWholesaleAndPreservesOrder(t *testing.T) {
	store := NewStore()
	store.ApplyLocal([]Element{rect("old", 9, 0)}, ViewState{})

	tomb := rect("b", 1, 0)
	tomb.IsDeleted = true
	sc := Scene{
		Elements: []Element{rect("a", 3, 1), tomb},
		View:     ViewState{ViewBackgroundColor: "#121212"},
	}
	store.Load(sc)

	got := store.Snapshot()
	require.Len(t, got.Elements, 2)
	assert.Equal(t, "a", got.Elements[0].ID)
	assert.Equal(t, "b", got.Elements[1].ID)
	assert.True(t, got.Elements[1].IsDeleted)
	assert.Equal(t, int64(3), got.Elements[0].Version)
	assert.Equal(t, "#121212", got.View.ViewBackgroundColor)

	_, ok := store.Get("old")
	assert.False(t, ok)
}

func TestNewRemoteElementsAppendToZOrder(t *testing.T) {
	store := NewStore()
	store.ApplyLocal([]Element{rect("a", 1, 0)}, ViewState{})
	store.ApplyRemote([]Element{rect("b", 1, 0)}, ViewState{})

	sc := store.Snapshot()
	require.Len(t, sc.Elements, 2)
	assert.Equal(t, "a", sc.Elements[0].ID)
	assert.Equal(t, "b", sc.Elements[1].ID)
}

func TestSnapshotDoesNotAliasStoreMemory(t *testing.T) {
	store := NewStore()
	el := rect("f", 1, 0)
	el.Kind = KindFreehand
	el.Freehand = &FreehandDetail{Points: []Point{{X: 1, Y: 2}}}
	store.ApplyLocal([]Element{el}, ViewState{})

	sc := store.Snapshot()
	sc.Elements[0].Freehand.Points[0].X = 99

	got, _ := store.Get("f")
	assert.Equal(t, 1.0, got.Freehand.Points[0].X)
}

func TestSanitizedStripsCollaborators(t *testing.T) {
	v := ViewState{
		ViewBackgroundColor: "#000",
		Collaborators:       []Collaborator{{PeerID: "p1"}},
	}
	clean := v.Sanitized()
	assert.Nil(t, clean.Collaborators)
	assert.Equal(t, "#000", clean.ViewBackgroundColor)
}
