package persist

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/vdraw-app/vdraw/backend/internal/scene"
)

// MemoryStore is an in-process RecordStore used by tests and throwaway
// sessions. Upsert semantics match the SQL stores.
type MemoryStore struct {
	mu       sync.Mutex
	drawings map[string]Record
	rooms    map[string]RoomInfo
}

func NewMemory() *MemoryStore {
	return &MemoryStore{
		drawings: make(map[string]Record),
		rooms:    make(map[string]RoomInfo),
	}
}

func (s *MemoryStore) Close() error { return nil }

func (s *MemoryStore) UpsertScene(ctx context.Context, roomID string, sc scene.Scene) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	s.ensureRoomLocked(roomID, now)

	// Deep copy via clone so callers can't mutate stored state.
	cp := scene.Scene{Elements: make([]scene.Element, 0, len(sc.Elements)), View: sc.View}
	for _, el := range sc.Elements {
		cp.Elements = append(cp.Elements, el.Clone())
	}
	s.drawings[roomID] = Record{ID: roomID, SceneData: cp, UpdatedAt: now}

	info := s.rooms[roomID]
	info.UpdatedAt = now
	s.rooms[roomID] = info
	return nil
}

func (s *MemoryStore) GetScene(ctx context.Context, roomID string) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.drawings[roomID]
	if !ok {
		return nil, nil
	}
	cp := rec
	cp.SceneData = scene.Scene{Elements: make([]scene.Element, 0, len(rec.SceneData.Elements)), View: rec.SceneData.View}
	for _, el := range rec.SceneData.Elements {
		cp.SceneData.Elements = append(cp.SceneData.Elements, el.Clone())
	}
	return &cp, nil
}

func (s *MemoryStore) SetRoomLocked(ctx context.Context, roomID string, locked bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	s.ensureRoomLocked(roomID, now)
	info := s.rooms[roomID]
	info.IsLocked = locked
	info.UpdatedAt = now
	s.rooms[roomID] = info
	return nil
}

func (s *MemoryStore) GetRoom(ctx context.Context, roomID string) (*RoomInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	info, ok := s.rooms[roomID]
	if !ok {
		return nil, nil
	}
	return &info, nil
}

func (s *MemoryStore) ListRooms(ctx context.Context, limit, offset int) ([]RoomInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	infos := make([]RoomInfo, 0, len(s.rooms))
	for _, info := range s.rooms {
		infos = append(infos, info)
	}
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].UpdatedAt.After(infos[j].UpdatedAt)
	})
	if offset >= len(infos) {
		return nil, nil
	}
	infos = infos[offset:]
	if limit > 0 && limit < len(infos) {
		infos = infos[:limit]
	}
	return infos, nil
}

func (s *MemoryStore) DeleteRoom(ctx context.Context, roomID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.drawings, roomID)
	delete(s.rooms, roomID)
	return nil
}

func (s *MemoryStore) Stats(ctx context.Context) (Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{RoomCount: len(s.rooms), DrawingCount: len(s.drawings)}, nil
}

func (s *MemoryStore) ensureRoomLocked(roomID string, now time.Time) {
	if _, ok := s.rooms[roomID]; !ok {
		s.rooms[roomID] = RoomInfo{ID: roomID, CreatedAt: now, UpdatedAt: now}
	}
}

var _ RecordStore = (*MemoryStore)(nil)
