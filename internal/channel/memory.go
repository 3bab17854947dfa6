package channel

import (
	"context"
	"sync"
)

// Broker is an in-process pub/sub used by tests and single-process setups.
// It mirrors the production channel contract: no ordering across subscribers,
// no replay, and slow subscribers drop messages instead of blocking senders.
type Broker struct {
	mu    sync.Mutex
	rooms map[string]map[*memoryChannel]bool
}

func NewBroker() *Broker {
	return &Broker{rooms: make(map[string]map[*memoryChannel]bool)}
}

// Join subscribes a peer to a room topic.
func (b *Broker) Join(roomID, peerID string) Channel {
	ch := &memoryChannel{
		broker: b,
		roomID: roomID,
		peerID: peerID,
		events: make(chan Envelope, 64),
	}
	b.mu.Lock()
	if b.rooms[roomID] == nil {
		b.rooms[roomID] = make(map[*memoryChannel]bool)
	}
	b.rooms[roomID][ch] = true
	b.mu.Unlock()
	return ch
}

func (b *Broker) publish(roomID string, from *memoryChannel, env Envelope) {
	b.mu.Lock()
	subs := make([]*memoryChannel, 0, len(b.rooms[roomID]))
	for ch := range b.rooms[roomID] {
		if ch != from {
			subs = append(subs, ch)
		}
	}
	b.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch.events <- env:
		default:
			// Best effort: a full subscriber loses the message.
		}
	}
}

func (b *Broker) leave(roomID string, ch *memoryChannel) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if subs, ok := b.rooms[roomID]; ok {
		delete(subs, ch)
		if len(subs) == 0 {
			delete(b.rooms, roomID)
		}
	}
}

type memoryChannel struct {
	broker *Broker
	roomID string
	peerID string

	mu     sync.Mutex
	closed bool
	events chan Envelope
}

func (c *memoryChannel) Publish(ctx context.Context, env Envelope) error {
	if err := env.Validate(); err != nil {
		return err
	}
	if env.Sender == "" {
		env.Sender = c.peerID
	}
	c.broker.publish(c.roomID, c, env)
	return nil
}

func (c *memoryChannel) Events() <-chan Envelope {
	return c.events
}

func (c *memoryChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	c.broker.leave(c.roomID, c)
	close(c.events)
	return nil
}
