// Package session wires the sync engine together for one peer in one room:
// scene store, delta broadcaster, persistence synchronizer, access gate, and
// presence supervisor.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vdraw-app/vdraw/backend/internal/access"
	"github.com/vdraw-app/vdraw/backend/internal/broadcast"
	"github.com/vdraw-app/vdraw/backend/internal/channel"
	"github.com/vdraw-app/vdraw/backend/internal/localstate"
	"github.com/vdraw-app/vdraw/backend/internal/persist"
	"github.com/vdraw-app/vdraw/backend/internal/presence"
	"github.com/vdraw-app/vdraw/backend/internal/scene"
)

// Config assembles a session. Channel and Records are required; PeerID
// defaults to a fresh ephemeral id, which is the only identity a peer has.
type Config struct {
	RoomID  string
	PeerID  string
	Channel channel.Channel
	Records persist.RecordStore
	Flags   *localstate.Flags

	// PersistOpts tune the synchronizer (tests shorten the debounce).
	PersistOpts []persist.Option
}

// staleCheckInterval paces the supervisor's staleness polling.
const staleCheckInterval = 5 * time.Second

// Session is one peer's live attachment to a room.
type Session struct {
	roomID string
	peerID string

	store     *scene.Store
	ch        channel.Channel
	bc        *broadcast.Broadcaster
	sync      *persist.Synchronizer
	sup       *presence.Supervisor
	records   persist.RecordStore
	roomState *RoomState

	requester *access.Requester // nil on the host
	host      *access.Host      // nil on non-hosts

	mu     sync.Mutex
	joined bool // scene loaded and live sync active
	wg     sync.WaitGroup
}

// New builds the session but does not touch storage or the network; call
// Start.
func New(cfg Config) (*Session, error) {
	if cfg.RoomID == "" {
		return nil, fmt.Errorf("session: room id required")
	}
	if cfg.Channel == nil || cfg.Records == nil {
		return nil, fmt.Errorf("session: channel and record store required")
	}
	peerID := cfg.PeerID
	if peerID == "" {
		peerID = uuid.NewString()
	}

	isHost := cfg.Flags != nil && cfg.Flags.IsHost(cfg.RoomID)

	s := &Session{
		roomID:    cfg.RoomID,
		peerID:    peerID,
		store:     scene.NewStore(),
		ch:        cfg.Channel,
		records:   cfg.Records,
		roomState: NewRoomState(isHost),
	}
	s.bc = broadcast.New(s.store, s.ch)
	s.sync = persist.NewSynchronizer(s.store, cfg.Records, cfg.RoomID, cfg.PersistOpts...)

	var stale func() bool
	if ws, ok := cfg.Channel.(*channel.WSChannel); ok {
		stale = func() bool { return !ws.Connected() }
		ws.OnReconnect(func() {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if s.canViewScene() {
				s.sup.Resync(ctx)
			}
		})
	}
	s.sup = presence.NewSupervisor(s.store, s.sync, stale)

	if isHost {
		s.host = access.NewHost(s.ch, peerID)
	} else {
		s.requester = access.NewRequester(s.ch, cfg.Flags, cfg.RoomID, peerID)
	}
	return s, nil
}

// Start loads the scene (host and already-granted peers only; locked-out
// peers make no storage read at all) and begins consuming channel events.
func (s *Session) Start(ctx context.Context) error {
	if s.canViewScene() {
		if err := s.loadScene(ctx); err != nil {
			return err
		}
	}
	s.wg.Add(1)
	go s.run()

	// No-op unless the channel exposes a staleness probe; exits on Stop.
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.sup.Watch(staleCheckInterval)
	}()
	return nil
}

func (s *Session) PeerID() string { return s.peerID }
func (s *Session) RoomID() string { return s.roomID }

// Store exposes the scene store; the rendering surface subscribes to it.
func (s *Session) Store() *scene.Store { return s.store }

// RoomState exposes the injected control-flag state.
func (s *Session) RoomState() *RoomState { return s.roomState }

// Broadcaster exposes bandwidth controls (SetConstrained).
func (s *Session) Broadcaster() *broadcast.Broadcaster { return s.bc }

// AccessState reports the gate position; hosts are always Granted.
func (s *Session) AccessState() access.State {
	if s.host != nil {
		return access.Granted
	}
	return s.requester.State()
}

// Scene returns a snapshot of the local authoritative copy.
func (s *Session) Scene() scene.Scene { return s.store.Snapshot() }

// ApplyLocalChange is the entry point for the editing surface. Versions must
// already be incremented by the editor. Edits from non-hosts are dropped
// while the room lock is on; locked-out peers have nothing to edit yet.
func (s *Session) ApplyLocalChange(elements []scene.Element, view scene.ViewState) {
	if !s.canViewScene() {
		return
	}
	if s.roomState.Locked() && !s.roomState.IsHost() {
		return
	}
	s.store.ApplyLocal(elements, view)
}

// RequestAccess asks the host to let this peer in. No-op on the host.
func (s *Session) RequestAccess(ctx context.Context) error {
	if s.requester == nil {
		return nil
	}
	return s.requester.Request(ctx)
}

// PendingRequests lists requester ids awaiting a decision (host only).
func (s *Session) PendingRequests() []string {
	if s.host == nil {
		return nil
	}
	return s.host.Pending()
}

// GrantAccess approves one requester (host only).
func (s *Session) GrantAccess(ctx context.Context, requesterID string) error {
	if s.host == nil {
		return fmt.Errorf("session: not the host")
	}
	return s.host.Grant(ctx, requesterID)
}

// DenyAccess rejects one requester (host only).
func (s *Session) DenyAccess(ctx context.Context, requesterID string) error {
	if s.host == nil {
		return fmt.Errorf("session: not the host")
	}
	return s.host.Deny(ctx, requesterID)
}

// SetRoomLocked toggles the room-wide edit lock: applied locally, broadcast
// as a teacher command, and persisted on the room record (host only).
func (s *Session) SetRoomLocked(ctx context.Context, locked bool) error {
	return s.teacherCommand(ctx, channel.CommandSetLock, locked, true)
}

// SetFocusMode forces follower viewports to track the host (host only).
func (s *Session) SetFocusMode(ctx context.Context, on bool) error {
	return s.teacherCommand(ctx, channel.CommandSetFocus, on, false)
}

// SetEyesUp blacks out follower screens (host only).
func (s *Session) SetEyesUp(ctx context.Context, on bool) error {
	return s.teacherCommand(ctx, channel.CommandSetEyesUp, on, false)
}

// VisibilityChanged forwards tab foreground/background transitions to the
// presence supervisor.
func (s *Session) VisibilityChanged(ctx context.Context, visible bool) {
	if !s.canViewScene() {
		return
	}
	s.sup.VisibilityChanged(ctx, visible)
}

// Resync forces a reload-and-merge from durable storage.
func (s *Session) Resync(ctx context.Context) {
	if !s.canViewScene() {
		return
	}
	s.sup.Resync(ctx)
}

// Close flushes a final save for peers that were live, then tears down.
func (s *Session) Close() error {
	s.sup.Stop()
	s.bc.Close()
	s.sync.Close()
	if s.canViewScene() && s.isJoined() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := s.sync.Flush(ctx); err != nil {
			log.Printf("session: final save failed for room %s: %v", s.roomID, err)
		}
		cancel()
	}
	err := s.ch.Close()
	s.wg.Wait()
	return err
}

func (s *Session) teacherCommand(ctx context.Context, command string, value bool, persistLock bool) error {
	if s.host == nil {
		return fmt.Errorf("session: not the host")
	}
	cmd := channel.TeacherCommand{Command: command, Value: value}
	s.roomState.Apply(cmd)

	env, err := channel.NewEnvelope(channel.EventTeacherCommand, s.peerID, cmd)
	if err != nil {
		return err
	}
	if err := s.ch.Publish(ctx, env); err != nil {
		log.Printf("session: broadcast %s failed: %v", command, err)
	}
	if persistLock {
		if err := s.records.SetRoomLocked(ctx, s.roomID, value); err != nil {
			return fmt.Errorf("persist room lock: %w", err)
		}
	}
	return nil
}

func (s *Session) canViewScene() bool {
	if s.host != nil {
		return true
	}
	return s.requester.State() == access.Granted
}

func (s *Session) isJoined() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.joined
}

// loadScene is the one-time bootstrap from durable storage. The host counts
// as the creator, so an absent record gets initialized.
func (s *Session) loadScene(ctx context.Context) error {
	s.mu.Lock()
	if s.joined {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	sc, existed, err := s.sync.Load(ctx, s.host != nil)
	if err != nil {
		return fmt.Errorf("load scene for room %s: %w", s.roomID, err)
	}
	s.store.Load(sc)

	if info, err := s.records.GetRoom(ctx, s.roomID); err == nil && info != nil && info.IsLocked {
		s.roomState.Apply(channel.TeacherCommand{Command: channel.CommandSetLock, Value: true})
	}

	s.mu.Lock()
	s.joined = true
	s.mu.Unlock()
	if !existed {
		log.Printf("session: initialized empty scene for room %s", s.roomID)
	}
	return nil
}

// run dispatches channel events until the channel closes.
func (s *Session) run() {
	defer s.wg.Done()
	for env := range s.ch.Events() {
		switch env.Event {
		case channel.EventDrawUpdate:
			s.handleDrawUpdate(env)
		case channel.EventRequestAccess:
			if s.host != nil {
				s.host.HandleRequest(env)
			}
		case channel.EventGrantAccess, channel.EventDenyAccess:
			s.handleDecision(env)
		case channel.EventTeacherCommand:
			s.handleTeacherCommand(env)
		}
	}
}

func (s *Session) handleDrawUpdate(env channel.Envelope) {
	// Locked-out and denied peers never see scene data.
	if !s.canViewScene() || !s.isJoined() {
		return
	}
	var update channel.DrawUpdate
	if err := json.Unmarshal(env.Payload, &update); err != nil {
		log.Printf("session: dropping malformed draw-update: %v", err)
		return
	}
	s.store.ApplyRemote(update.Elements, scene.ViewState{
		ViewBackgroundColor: update.AppState.ViewBackgroundColor,
	})
}

func (s *Session) handleDecision(env channel.Envelope) {
	if s.requester == nil {
		return
	}
	if s.requester.HandleDecision(env) {
		// Just granted: bootstrap from storage and join live sync.
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.loadScene(ctx); err != nil {
			log.Printf("session: load after grant failed: %v", err)
		}
	}
}

func (s *Session) handleTeacherCommand(env channel.Envelope) {
	if s.host != nil {
		// Hosts originate commands; a remote one is another peer claiming
		// hostship. Advisory model: ignore it locally.
		return
	}
	var cmd channel.TeacherCommand
	if err := json.Unmarshal(env.Payload, &cmd); err != nil {
		return
	}
	s.roomState.Apply(cmd)
}
