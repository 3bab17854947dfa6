package relay

import (
	"context"
	"encoding/json"
	"log"
	"sync"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/vdraw-app/vdraw/backend/internal/channel"
)

// Bridge mirrors room traffic through Redis pub/sub so several relay
// instances can serve the same room. Frames are wrapped with the publishing
// instance's id; an instance drops its own frames on receive.
type Bridge struct {
	rdb        *redis.Client
	instanceID string
	deliver    func(roomID string, data []byte)

	mu   sync.Mutex
	subs map[string]*redis.PubSub
}

type bridgeFrame struct {
	Instance string          `json:"instance"`
	Data     json.RawMessage `json:"data"`
}

func NewBridge(rdb *redis.Client) *Bridge {
	return &Bridge{
		rdb:        rdb,
		instanceID: uuid.NewString(),
		subs:       make(map[string]*redis.PubSub),
	}
}

// Publish mirrors one accepted frame to the other instances.
func (b *Bridge) Publish(roomID string, data []byte) {
	frame, err := json.Marshal(bridgeFrame{Instance: b.instanceID, Data: data})
	if err != nil {
		return
	}
	if err := b.rdb.Publish(context.Background(), channel.RoomTopic(roomID), frame).Err(); err != nil {
		log.Printf("bridge: publish to %s failed: %v", roomID, err)
	}
}

// SubscribeRoom starts relaying the room's Redis topic into the local hub.
func (b *Bridge) SubscribeRoom(roomID string) {
	b.mu.Lock()
	if _, ok := b.subs[roomID]; ok {
		b.mu.Unlock()
		return
	}
	pubsub := b.rdb.Subscribe(context.Background(), channel.RoomTopic(roomID))
	b.subs[roomID] = pubsub
	b.mu.Unlock()

	go func() {
		for msg := range pubsub.Channel() {
			var frame bridgeFrame
			if err := json.Unmarshal([]byte(msg.Payload), &frame); err != nil {
				continue
			}
			if frame.Instance == b.instanceID {
				continue
			}
			if b.deliver != nil {
				b.deliver(roomID, frame.Data)
			}
		}
	}()
}

// UnsubscribeRoom stops relaying a room once it has no local clients.
func (b *Bridge) UnsubscribeRoom(roomID string) {
	b.mu.Lock()
	pubsub, ok := b.subs[roomID]
	if ok {
		delete(b.subs, roomID)
	}
	b.mu.Unlock()
	if ok {
		pubsub.Close()
	}
}

func (b *Bridge) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for roomID, pubsub := range b.subs {
		pubsub.Close()
		delete(b.subs, roomID)
	}
}
