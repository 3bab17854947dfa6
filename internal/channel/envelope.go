// Package channel is the topic-based broadcast abstraction the sync engine
// runs on. Delivery is best effort: messages may be dropped, duplicated, or
// reordered, and there is no replay for peers that were offline. Durable
// catch-up is the persistence layer's job, not the channel's.
package channel

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/vdraw-app/vdraw/backend/internal/scene"
)

// Event names the message types carried on a room topic.
type Event string

const (
	EventDrawUpdate     Event = "draw-update"
	EventRequestAccess  Event = "request-access"
	EventGrantAccess    Event = "grant-access"
	EventDenyAccess     Event = "deny-access"
	EventTeacherCommand Event = "teacher-command"
)

// Envelope is the wire frame for every channel message.
type Envelope struct {
	Event   Event           `json:"event"`
	Sender  string          `json:"sender,omitempty"`
	Payload json.RawMessage `json:"payload"`
}

// Validate rejects frames a relay should not fan out.
func (e Envelope) Validate() error {
	switch e.Event {
	case EventDrawUpdate, EventRequestAccess, EventGrantAccess, EventDenyAccess, EventTeacherCommand:
	default:
		return fmt.Errorf("unknown event %q", e.Event)
	}
	if len(e.Payload) == 0 {
		return fmt.Errorf("empty payload for event %q", e.Event)
	}
	return nil
}

// DrawAppState is the slice of view state that rides along with a delta.
type DrawAppState struct {
	ViewBackgroundColor string `json:"viewBackgroundColor,omitempty"`
}

// DrawUpdate carries the elements whose version increased since the sender's
// last broadcast. Receivers merge by id and version.
type DrawUpdate struct {
	Elements []scene.Element `json:"elements"`
	AppState DrawAppState    `json:"appState"`
}

// AccessRequest is a non-host asking to join a room.
type AccessRequest struct {
	RequesterID string `json:"requesterId"`
}

// AccessDecision is the host approving or rejecting one requester.
type AccessDecision struct {
	TargetID string `json:"targetId"`
}

// TeacherCommand is a host control toggle fanned out to every peer.
type TeacherCommand struct {
	Command string `json:"command"`
	Value   bool   `json:"value"`
}

const (
	CommandSetLock   = "set-lock"
	CommandSetFocus  = "set-focus"
	CommandSetEyesUp = "set-eyes-up"
)

// NewEnvelope marshals payload into a ready-to-publish frame.
func NewEnvelope(event Event, sender string, payload any) (Envelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("encode %s payload: %w", event, err)
	}
	return Envelope{Event: event, Sender: sender, Payload: data}, nil
}

// Channel is one peer's handle on a room topic. Events never includes the
// peer's own publishes.
type Channel interface {
	Publish(ctx context.Context, env Envelope) error
	Events() <-chan Envelope
	Close() error
}
