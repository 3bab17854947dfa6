// Package presence forces a fresh load from durable storage whenever the
// live channel may have gone quiet: the broadcast channel has no replay, so
// anything missed while a tab was backgrounded or a connection was stale only
// exists in the persisted scene.
package presence

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/vdraw-app/vdraw/backend/internal/scene"
)

// Loader is the persistence load path the supervisor re-invokes. Satisfied by
// *persist.Synchronizer.
type Loader interface {
	Load(ctx context.Context, asCreator bool) (scene.Scene, bool, error)
}

// Supervisor reconciles missed edits by feeding the durable scene through the
// store's remote-merge path. That makes resync safe at any time: elements the
// local peer already advanced past are never regressed, their version is at
// least as high as what's stored.
type Supervisor struct {
	store  *scene.Store
	loader Loader

	// stale reports whether the live connection is currently unusable;
	// optional, used by Watch.
	stale func() bool

	mu     sync.Mutex
	wasOff bool
	stop   chan struct{}
	once   sync.Once
}

func NewSupervisor(store *scene.Store, loader Loader, stale func() bool) *Supervisor {
	return &Supervisor{
		store:  store,
		loader: loader,
		stale:  stale,
		stop:   make(chan struct{}),
	}
}

// VisibilityChanged is called by the embedder when the tab's foreground state
// flips. Regaining visibility triggers a resync.
func (s *Supervisor) VisibilityChanged(ctx context.Context, visible bool) {
	if visible {
		s.Resync(ctx)
	}
}

// Resync loads the persisted scene and merges it. Failures are logged and
// swallowed; the next trigger retries.
func (s *Supervisor) Resync(ctx context.Context) {
	sc, existed, err := s.loader.Load(ctx, false)
	if err != nil {
		log.Printf("presence: resync load failed: %v", err)
		return
	}
	if !existed {
		return
	}
	adopted := s.store.ApplyRemote(sc.Elements, sc.View)
	if len(adopted) > 0 {
		log.Printf("presence: resync caught up %d elements", len(adopted))
	}
}

// Watch polls the staleness probe and resyncs once on each recovery
// (stale → live transition). Runs until Stop.
func (s *Supervisor) Watch(interval time.Duration) {
	if s.stale == nil {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			off := s.stale()
			s.mu.Lock()
			recovered := s.wasOff && !off
			s.wasOff = off
			s.mu.Unlock()
			if recovered {
				ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				s.Resync(ctx)
				cancel()
			}
		}
	}
}

func (s *Supervisor) Stop() {
	s.once.Do(func() { close(s.stop) })
}
