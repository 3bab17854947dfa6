package channel

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"

	"github.com/redis/go-redis/v9"
)

// RoomTopic is the Redis channel name for a room.
func RoomTopic(roomID string) string {
	return "vdraw:room:" + roomID
}

// RedisChannel runs the room topic directly on Redis pub/sub, for peers that
// can reach Redis without going through a relay. Redis delivers publishes
// back to the publisher's own subscription, so frames from this peer id are
// filtered out on receive.
type RedisChannel struct {
	rdb    *redis.Client
	topic  string
	peerID string
	events chan Envelope

	pubsub *redis.PubSub
	once   sync.Once
}

// JoinRedis subscribes to a room topic on an existing Redis client.
func JoinRedis(ctx context.Context, rdb *redis.Client, roomID, peerID string) (*RedisChannel, error) {
	pubsub := rdb.Subscribe(ctx, RoomTopic(roomID))
	// Force the subscription onto the wire before the caller publishes.
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", RoomTopic(roomID), err)
	}

	c := &RedisChannel{
		rdb:    rdb,
		topic:  RoomTopic(roomID),
		peerID: peerID,
		events: make(chan Envelope, 64),
		pubsub: pubsub,
	}
	go c.receive()
	return c, nil
}

func (c *RedisChannel) Publish(ctx context.Context, env Envelope) error {
	if err := env.Validate(); err != nil {
		return err
	}
	if env.Sender == "" {
		env.Sender = c.peerID
	}
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}
	return c.rdb.Publish(ctx, c.topic, data).Err()
}

func (c *RedisChannel) Events() <-chan Envelope {
	return c.events
}

func (c *RedisChannel) Close() error {
	var err error
	c.once.Do(func() {
		err = c.pubsub.Close()
	})
	return err
}

func (c *RedisChannel) receive() {
	defer close(c.events)
	for msg := range c.pubsub.Channel() {
		var env Envelope
		if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
			log.Printf("channel: dropping malformed frame on %s: %v", c.topic, err)
			continue
		}
		if env.Validate() != nil || env.Sender == c.peerID {
			continue
		}
		select {
		case c.events <- env:
		default:
			// Best effort: a full subscriber loses the message.
		}
	}
}
