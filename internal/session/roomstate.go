package session

import (
	"sync"

	"github.com/vdraw-app/vdraw/backend/internal/channel"
)

// RoomState holds the session-scoped control flags that teacher commands
// toggle. It is injected into the session rather than living in ambient
// globals, and its lifetime is the session's.
type RoomState struct {
	mu     sync.Mutex
	isHost bool
	locked bool
	focus  bool
	eyesUp bool
}

// RoomStateView is an immutable snapshot handed to renderers.
type RoomStateView struct {
	IsHost bool
	// Locked means non-host peers must not edit (room-level lock, distinct
	// from per-element Locked).
	Locked bool
	// Focus means follower viewports track the host.
	Focus bool
	// EyesUp means follower screens are blacked out.
	EyesUp bool
}

func NewRoomState(isHost bool) *RoomState {
	return &RoomState{isHost: isHost}
}

func (r *RoomState) IsHost() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.isHost
}

func (r *RoomState) Locked() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.locked
}

func (r *RoomState) View() RoomStateView {
	r.mu.Lock()
	defer r.mu.Unlock()
	return RoomStateView{IsHost: r.isHost, Locked: r.locked, Focus: r.focus, EyesUp: r.eyesUp}
}

// Apply executes one teacher command. Unknown commands are ignored.
func (r *RoomState) Apply(cmd channel.TeacherCommand) {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch cmd.Command {
	case channel.CommandSetLock:
		r.locked = cmd.Value
	case channel.CommandSetFocus:
		r.focus = cmd.Value
	case channel.CommandSetEyesUp:
		r.eyesUp = cmd.Value
	}
}
