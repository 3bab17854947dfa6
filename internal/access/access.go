// Package access implements the room join handshake: a non-host peer asks the
// host for entry over the broadcast channel and is held off scene data until
// granted.
//
// This is a UX gate, not a security boundary. Grants travel on the same open
// channel as everything else, the host designation is a client-local flag,
// and nothing is server-verified. A determined peer can self-grant; the
// design accepts that.
package access

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/vdraw-app/vdraw/backend/internal/channel"
	"github.com/vdraw-app/vdraw/backend/internal/localstate"
)

// State is the requester-side position in the handshake.
type State int

const (
	// LockedOut peers must not fetch or load scene data.
	LockedOut State = iota
	Requesting
	Granted
	Denied
)

func (s State) String() string {
	switch s {
	case Requesting:
		return "requesting"
	case Granted:
		return "granted"
	case Denied:
		return "denied"
	default:
		return "locked-out"
	}
}

// Requester drives the non-host side. A grant is cached in local state so
// future visits to the same room skip the handshake.
type Requester struct {
	peerID string
	roomID string
	ch     channel.Channel
	flags  *localstate.Flags

	mu       sync.Mutex
	state    State
	onChange func(State)
}

func NewRequester(ch channel.Channel, flags *localstate.Flags, roomID, peerID string) *Requester {
	r := &Requester{
		peerID: peerID,
		roomID: roomID,
		ch:     ch,
		flags:  flags,
		state:  LockedOut,
	}
	if flags != nil && flags.IsGranted(roomID) {
		r.state = Granted
	}
	return r
}

// OnChange registers a listener for state transitions. Invoked outside the
// lock.
func (r *Requester) OnChange(fn func(State)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onChange = fn
}

func (r *Requester) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Request publishes a request-access message. Valid from LockedOut and Denied
// (a denied peer may re-request); a no-op once granted.
func (r *Requester) Request(ctx context.Context) error {
	r.mu.Lock()
	if r.state == Granted {
		r.mu.Unlock()
		return nil
	}
	r.state = Requesting
	r.mu.Unlock()

	env, err := channel.NewEnvelope(channel.EventRequestAccess, r.peerID,
		channel.AccessRequest{RequesterID: r.peerID})
	if err != nil {
		return err
	}
	if err := r.ch.Publish(ctx, env); err != nil {
		return fmt.Errorf("send access request: %w", err)
	}
	return nil
}

// HandleDecision consumes a grant/deny envelope. Decisions targeted at other
// peers are ignored. Returns true when this peer just became Granted.
func (r *Requester) HandleDecision(env channel.Envelope) bool {
	var decision channel.AccessDecision
	if err := decodePayload(env, &decision); err != nil {
		return false
	}
	if decision.TargetID != r.peerID {
		return false
	}

	r.mu.Lock()
	var next State
	switch env.Event {
	case channel.EventGrantAccess:
		next = Granted
	case channel.EventDenyAccess:
		if r.state == Granted {
			// A grant is terminal for the session.
			r.mu.Unlock()
			return false
		}
		next = Denied
	default:
		r.mu.Unlock()
		return false
	}
	becameGranted := next == Granted && r.state != Granted
	r.state = next
	fn := r.onChange
	r.mu.Unlock()

	if becameGranted && r.flags != nil {
		r.flags.SetGranted(r.roomID)
	}
	if fn != nil {
		fn(next)
	}
	return becameGranted
}

// Host tracks pending join requests in memory. A page reload loses them;
// requesters just ask again.
type Host struct {
	peerID string
	ch     channel.Channel

	mu      sync.Mutex
	pending map[string]bool
	order   []string
}

func NewHost(ch channel.Channel, peerID string) *Host {
	return &Host{
		peerID:  peerID,
		ch:      ch,
		pending: make(map[string]bool),
	}
}

// HandleRequest records a requester id, deduplicated.
func (h *Host) HandleRequest(env channel.Envelope) {
	var req channel.AccessRequest
	if err := decodePayload(env, &req); err != nil || req.RequesterID == "" {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.pending[req.RequesterID] {
		h.pending[req.RequesterID] = true
		h.order = append(h.order, req.RequesterID)
	}
}

// Pending lists requester ids in arrival order.
func (h *Host) Pending() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]string, len(h.order))
	copy(out, h.order)
	return out
}

// Grant approves one requester and removes it from the pending set.
func (h *Host) Grant(ctx context.Context, requesterID string) error {
	return h.decide(ctx, channel.EventGrantAccess, requesterID)
}

// Deny rejects one requester and removes it from the pending set.
func (h *Host) Deny(ctx context.Context, requesterID string) error {
	return h.decide(ctx, channel.EventDenyAccess, requesterID)
}

func (h *Host) decide(ctx context.Context, event channel.Event, requesterID string) error {
	h.mu.Lock()
	delete(h.pending, requesterID)
	for i, id := range h.order {
		if id == requesterID {
			h.order = append(h.order[:i], h.order[i+1:]...)
			break
		}
	}
	h.mu.Unlock()

	env, err := channel.NewEnvelope(event, h.peerID, channel.AccessDecision{TargetID: requesterID})
	if err != nil {
		return err
	}
	return h.ch.Publish(ctx, env)
}

func decodePayload(env channel.Envelope, dst any) error {
	if len(env.Payload) == 0 {
		return fmt.Errorf("empty payload")
	}
	return json.Unmarshal(env.Payload, dst)
}
