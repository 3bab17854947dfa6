package scene

import (
	"sync"
)

// Origin tags every change notification with where the mutation came from.
// Subscribers that forward changes to the network must ignore OriginRemote,
// or remote data gets echoed back onto the channel.
type Origin int

const (
	OriginLocal Origin = iota
	OriginRemote
)

func (o Origin) String() string {
	if o == OriginRemote {
		return "remote"
	}
	return "local"
}

// Change is one store notification. Elements are post-merge copies of exactly
// the elements that changed, never the whole scene.
type Change struct {
	Origin   Origin
	Elements []Element
	View     ViewState
}

// Store owns the authoritative local copy of the scene. Local and remote
// mutations both flow through it, so subscribers always observe the highest
// known version of every element.
//
// Conflict policy is last-writer-wins per element, ordered by version number:
// an incoming element is adopted wholesale iff its version is strictly higher
// than the local copy's (or the id is unknown). Equal or lower versions are
// discarded silently; re-delivery of an unchanged element is normal under
// at-least-once delivery. The merge is commutative and idempotent under
// replay and reordering.
type Store struct {
	mu       sync.Mutex
	elements map[string]*Element
	order    []string // z-order: insertion order of ids
	view     ViewState
	subs     []func(Change)
}

func NewStore() *Store {
	return &Store{
		elements: make(map[string]*Element),
	}
}

// Subscribe registers a change listener. Listeners are invoked outside the
// store lock, on the goroutine that applied the change.
func (s *Store) Subscribe(fn func(Change)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs = append(s.subs, fn)
}

// ApplyLocal records a change reported by the local editing surface. Versions
// are assigned by the editor before this call; the store does not second-guess
// them. New ids are inserted, existing ids replaced wholesale. Always
// succeeds.
func (s *Store) ApplyLocal(elements []Element, view ViewState) {
	s.mu.Lock()
	changed := make([]Element, 0, len(elements))
	for _, in := range elements {
		el := in.Clone()
		if _, ok := s.elements[el.ID]; !ok {
			s.order = append(s.order, el.ID)
		}
		s.elements[el.ID] = &el
		changed = append(changed, el.Clone())
	}
	s.view = view
	subs := s.snapshotSubsLocked()
	s.mu.Unlock()

	s.notify(subs, Change{Origin: OriginLocal, Elements: changed, View: view})
}

// ApplyRemote merges a delta that arrived over the channel and returns the
// elements that were actually adopted. Stale and duplicate elements are
// discarded without error. Notifications for adopted elements carry
// OriginRemote so they are never re-broadcast or re-persisted.
func (s *Store) ApplyRemote(elements []Element, view ViewState) []Element {
	s.mu.Lock()
	adopted := make([]Element, 0, len(elements))
	for _, in := range elements {
		cur, ok := s.elements[in.ID]
		if ok && in.Version <= cur.Version {
			continue
		}
		el := in.Clone()
		if !ok {
			s.order = append(s.order, el.ID)
		}
		s.elements[el.ID] = &el
		adopted = append(adopted, el.Clone())
	}
	if len(adopted) == 0 {
		s.mu.Unlock()
		return nil
	}
	if view.ViewBackgroundColor != "" {
		s.view.ViewBackgroundColor = view.ViewBackgroundColor
	}
	viewNow := s.view
	subs := s.snapshotSubsLocked()
	s.mu.Unlock()

	s.notify(subs, Change{Origin: OriginRemote, Elements: adopted, View: viewNow})
	return adopted
}

// Load replaces the scene wholesale. Used once at session start and by the
// presence supervisor only indirectly (resync goes through ApplyRemote so
// local edits are never regressed).
func (s *Store) Load(sc Scene) {
	s.mu.Lock()
	s.elements = make(map[string]*Element, len(sc.Elements))
	s.order = make([]string, 0, len(sc.Elements))
	loaded := make([]Element, 0, len(sc.Elements))
	for _, in := range sc.Elements {
		el := in.Clone()
		s.elements[el.ID] = &el
		s.order = append(s.order, el.ID)
		loaded = append(loaded, el.Clone())
	}
	s.view = sc.View
	subs := s.snapshotSubsLocked()
	s.mu.Unlock()

	s.notify(subs, Change{Origin: OriginRemote, Elements: loaded, View: sc.View})
}

// Snapshot returns a deep copy of the scene in z-order.
func (s *Store) Snapshot() Scene {
	s.mu.Lock()
	defer s.mu.Unlock()
	sc := Scene{
		Elements: make([]Element, 0, len(s.order)),
		View:     s.view,
	}
	for _, id := range s.order {
		sc.Elements = append(sc.Elements, s.elements[id].Clone())
	}
	return sc
}

// Get returns a copy of one element by id.
func (s *Store) Get(id string) (Element, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	el, ok := s.elements[id]
	if !ok {
		return Element{}, false
	}
	return el.Clone(), true
}

// Len counts all elements, tombstones included.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.elements)
}

func (s *Store) snapshotSubsLocked() []func(Change) {
	subs := make([]func(Change), len(s.subs))
	copy(subs, s.subs)
	return subs
}

func (s *Store) notify(subs []func(Change), c Change) {
	for _, fn := range subs {
		fn(c)
	}
}
