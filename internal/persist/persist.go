// Package persist durably stores the full scene per room so sessions survive
// reloads and new joiners can bootstrap without a live peer.
package persist

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/vdraw-app/vdraw/backend/internal/scene"
)

// Record is one persisted room scene.
type Record struct {
	ID        string      `json:"id"`
	SceneData scene.Scene `json:"scene_data"`
	UpdatedAt time.Time   `json:"updated_at"`
}

// RoomInfo is the room-level metadata kept alongside the scene.
type RoomInfo struct {
	ID        string    `json:"id"`
	IsLocked  bool      `json:"is_locked"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Stats summarizes the store for the relay's stats endpoint.
type Stats struct {
	RoomCount    int `json:"room_count"`
	DrawingCount int `json:"drawing_count"`
}

// RecordStore is the row-store contract the synchronizer relies on: upsert by
// room id (create-or-replace, never patch) and point lookup where absence is
// not an error, it signals a new room.
type RecordStore interface {
	UpsertScene(ctx context.Context, roomID string, sc scene.Scene) error
	// GetScene returns (nil, nil) when no record exists for the room.
	GetScene(ctx context.Context, roomID string) (*Record, error)

	SetRoomLocked(ctx context.Context, roomID string, locked bool) error
	GetRoom(ctx context.Context, roomID string) (*RoomInfo, error)
	ListRooms(ctx context.Context, limit, offset int) ([]RoomInfo, error)
	DeleteRoom(ctx context.Context, roomID string) error
	Stats(ctx context.Context) (Stats, error)

	Close() error
}

const defaultDebounce = 2 * time.Second

// Synchronizer debounces full-scene upserts so rapid edit bursts collapse
// into one write, and loads the scene at session start. Write failures are
// logged and swallowed; the next local edit retries whatever the latest state
// is by then.
type Synchronizer struct {
	store  *scene.Store
	rec    RecordStore
	roomID string
	delay  time.Duration

	mu     sync.Mutex
	timer  *time.Timer
	closed bool
}

// Option configures a Synchronizer.
type Option func(*Synchronizer)

// WithDebounce overrides the 2s write debounce (tests use a short one).
func WithDebounce(d time.Duration) Option {
	return func(s *Synchronizer) { s.delay = d }
}

// NewSynchronizer subscribes to the store and schedules a debounced save on
// every local-origin change. Remote-origin changes are not persisted: their
// author's own synchronizer already did.
func NewSynchronizer(store *scene.Store, rec RecordStore, roomID string, opts ...Option) *Synchronizer {
	s := &Synchronizer{
		store:  store,
		rec:    rec,
		roomID: roomID,
		delay:  defaultDebounce,
	}
	for _, opt := range opts {
		opt(s)
	}
	store.Subscribe(func(c scene.Change) {
		if c.Origin != scene.OriginLocal {
			return
		}
		s.schedule()
	})
	return s
}

// Load fetches the persisted scene. An absent record is a new room: the
// caller gets an empty scene and, when it is the room's creator, an initial
// record is upserted so other peers' loads don't race on creation.
func (s *Synchronizer) Load(ctx context.Context, asCreator bool) (scene.Scene, bool, error) {
	rec, err := s.rec.GetScene(ctx, s.roomID)
	if err != nil {
		return scene.Scene{}, false, err
	}
	if rec == nil {
		empty := scene.Scene{Elements: []scene.Element{}}
		if asCreator {
			if err := s.rec.UpsertScene(ctx, s.roomID, empty); err != nil {
				return scene.Scene{}, false, err
			}
		}
		return empty, false, nil
	}
	return rec.SceneData, true, nil
}

// Flush writes the current scene immediately, cancelling any pending timer.
func (s *Synchronizer) Flush(ctx context.Context) error {
	s.mu.Lock()
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.mu.Unlock()

	sc := s.store.Snapshot()
	sc.View = sc.View.Sanitized()
	return s.rec.UpsertScene(ctx, s.roomID, sc)
}

// Close stops any pending write. It does not flush; callers that want a final
// save do it explicitly.
func (s *Synchronizer) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

// schedule (re)arms the trailing-edge debounce timer.
func (s *Synchronizer) schedule() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if s.timer != nil {
		s.timer.Reset(s.delay)
		return
	}
	s.timer = time.AfterFunc(s.delay, func() {
		s.mu.Lock()
		s.timer = nil
		s.mu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.Flush(ctx); err != nil {
			log.Printf("persist: save failed for room %s: %v", s.roomID, err)
		}
	})
}
