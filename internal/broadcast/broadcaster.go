// Package broadcast publishes scene deltas: only elements whose version
// increased since the last successful send, at a bounded rate.
package broadcast

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/vdraw-app/vdraw/backend/internal/channel"
	"github.com/vdraw-app/vdraw/backend/internal/scene"
)

const (
	// DefaultInterval paces broadcasts under normal network conditions.
	DefaultInterval = 30 * time.Millisecond
	// ConstrainedInterval is used when the embedder's connectivity probe
	// reports low bandwidth (roughly: downlink under 1.5 Mbps or save-data).
	ConstrainedInterval = 300 * time.Millisecond
)

// Broadcaster filters local changes down to the minimal delta and publishes
// it with a trailing-edge throttle: at most one send per interval, carrying
// whatever has accumulated when the interval elapses. Publish failures are
// swallowed — the persistence layer is the durability backstop and resync
// covers eventual convergence.
type Broadcaster struct {
	store *scene.Store
	ch    channel.Channel

	mu          sync.Mutex
	lastSent    map[string]int64
	interval    time.Duration
	constrained bool
	timer       *time.Timer
	closed      bool
}

// New subscribes to the store. Only local-origin changes schedule a send;
// remote-origin adoptions advance the last-sent map instead, so merged-in
// elements are never swept into a later delta and echoed back.
func New(store *scene.Store, ch channel.Channel) *Broadcaster {
	b := &Broadcaster{
		store:    store,
		ch:       ch,
		lastSent: make(map[string]int64),
		interval: DefaultInterval,
	}
	store.Subscribe(func(c scene.Change) {
		if c.Origin == scene.OriginRemote {
			b.markSent(c.Elements)
			return
		}
		b.schedule()
	})
	return b
}

// markSent records remote-adopted versions as already broadcast.
func (b *Broadcaster) markSent(elements []scene.Element) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, el := range elements {
		if el.Version > b.lastSent[el.ID] {
			b.lastSent[el.ID] = el.Version
		}
	}
}

// SetConstrained switches between the normal and low-bandwidth send interval.
// The new interval applies from the next scheduled send onward.
func (b *Broadcaster) SetConstrained(constrained bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.constrained = constrained
	if constrained {
		b.interval = ConstrainedInterval
	} else {
		b.interval = DefaultInterval
	}
}

// SetInterval overrides both intervals; tests use this to avoid sleeping.
func (b *Broadcaster) SetInterval(d time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.interval = d
}

// Flush sends the pending delta immediately. Returns true if anything was
// published.
func (b *Broadcaster) Flush(ctx context.Context) bool {
	b.mu.Lock()
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	b.mu.Unlock()
	return b.send(ctx)
}

func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
}

// schedule arms the throttle timer if it isn't already running. Changes that
// land while the timer is armed coalesce into the next send.
func (b *Broadcaster) schedule() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed || b.timer != nil {
		return
	}
	b.timer = time.AfterFunc(b.interval, func() {
		b.mu.Lock()
		b.timer = nil
		b.mu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		b.send(ctx)
	})
}

// send computes the delta against the last-sent versions and publishes it.
// The last-sent map advances for everything selected even when the publish
// fails: broadcast is best effort by contract, and retransmitting stale
// deltas later would only delay convergence past the next resync.
func (b *Broadcaster) send(ctx context.Context) bool {
	sc := b.store.Snapshot()

	b.mu.Lock()
	delta := make([]scene.Element, 0)
	for _, el := range sc.Elements {
		if el.Version > b.lastSent[el.ID] {
			b.lastSent[el.ID] = el.Version
			delta = append(delta, el)
		}
	}
	b.mu.Unlock()

	if len(delta) == 0 {
		return false
	}

	env, err := channel.NewEnvelope(channel.EventDrawUpdate, "", channel.DrawUpdate{
		Elements: delta,
		AppState: channel.DrawAppState{ViewBackgroundColor: sc.View.ViewBackgroundColor},
	})
	if err != nil {
		log.Printf("broadcast: encode delta: %v", err)
		return false
	}
	if err := b.ch.Publish(ctx, env); err != nil {
		log.Printf("broadcast: publish failed (%d elements): %v", len(delta), err)
	}
	return true
}
