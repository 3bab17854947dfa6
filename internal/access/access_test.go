package access

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vdraw-app/vdraw/backend/internal/channel"
	"github.com/vdraw-app/vdraw/backend/internal/localstate"
)

func openFlags(t *testing.T) *localstate.Flags {
	t.Helper()
	flags, err := localstate.Open(filepath.Join(t.TempDir(), "flags.db"))
	require.NoError(t, err)
	t.Cleanup(func() { flags.Close() })
	return flags
}

func drain(t *testing.T, ch channel.Channel) channel.Envelope {
	t.Helper()
	select {
	case env := <-ch.Events():
		return env
	case <-time.After(time.Second):
		t.Fatal("expected an envelope, got none")
		return channel.Envelope{}
	}
}

func TestHandshakeGrantPath(t *testing.T) {
	ctx := context.Background()
	broker := channel.NewBroker()
	hostCh := broker.Join("room-r", "host")
	peerCh := broker.Join("room-r", "p1")

	host := NewHost(hostCh, "host")
	peerFlags := openFlags(t)
	peer := NewRequester(peerCh, peerFlags, "room-r", "p1")

	// Fresh peer with no cached grant starts locked out.
	require.Equal(t, LockedOut, peer.State())

	require.NoError(t, peer.Request(ctx))
	assert.Equal(t, Requesting, peer.State())

	env := drain(t, hostCh)
	require.Equal(t, channel.EventRequestAccess, env.Event)
	host.HandleRequest(env)
	assert.Equal(t, []string{"p1"}, host.Pending())

	// Duplicate requests are deduplicated.
	host.HandleRequest(env)
	assert.Equal(t, []string{"p1"}, host.Pending())

	require.NoError(t, host.Grant(ctx, "p1"))
	assert.Empty(t, host.Pending())

	decision := drain(t, peerCh)
	require.Equal(t, channel.EventGrantAccess, decision.Event)
	assert.True(t, peer.HandleDecision(decision))
	assert.Equal(t, Granted, peer.State())

	// The grant is cached: a new requester for the same room skips the
	// handshake entirely.
	again := NewRequester(peerCh, peerFlags, "room-r", "p1")
	assert.Equal(t, Granted, again.State())
}

func TestHandshakeDenyThenRetry(t *testing.T) {
	ctx := context.Background()
	broker := channel.NewBroker()
	hostCh := broker.Join("room-r", "host")
	peerCh := broker.Join("room-r", "p2")

	host := NewHost(hostCh, "host")
	peer := NewRequester(peerCh, openFlags(t), "room-r", "p2")

	require.NoError(t, peer.Request(ctx))
	host.HandleRequest(drain(t, hostCh))
	require.NoError(t, host.Deny(ctx, "p2"))

	decision := drain(t, peerCh)
	assert.False(t, peer.HandleDecision(decision))
	assert.Equal(t, Denied, peer.State())

	// Denied is not terminal: the peer may ask again.
	require.NoError(t, peer.Request(ctx))
	assert.Equal(t, Requesting, peer.State())
}

func TestDecisionsForOtherPeersAreIgnored(t *testing.T) {
	ctx := context.Background()
	broker := channel.NewBroker()
	hostCh := broker.Join("room-r", "host")
	peerCh := broker.Join("room-r", "p3")

	host := NewHost(hostCh, "host")
	peer := NewRequester(peerCh, openFlags(t), "room-r", "p3")
	require.NoError(t, peer.Request(ctx))

	require.NoError(t, host.Grant(ctx, "somebody-else"))
	decision := drain(t, peerCh)
	assert.False(t, peer.HandleDecision(decision))
	assert.Equal(t, Requesting, peer.State())
}

func TestStateChangeCallback(t *testing.T) {
	broker := channel.NewBroker()
	peerCh := broker.Join("room-r", "p4")
	peer := NewRequester(peerCh, openFlags(t), "room-r", "p4")

	var seen []State
	peer.OnChange(func(s State) { seen = append(seen, s) })

	env, err := channel.NewEnvelope(channel.EventGrantAccess, "host",
		channel.AccessDecision{TargetID: "p4"})
	require.NoError(t, err)
	peer.HandleDecision(env)

	require.Equal(t, []State{Granted}, seen)
}
