package channel

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBrokerFanOutExcludesSender(t *testing.T) {
	broker := NewBroker()
	a := broker.Join("room", "a")
	b := broker.Join("room", "b")
	other := broker.Join("elsewhere", "c")

	env, err := NewEnvelope(EventRequestAccess, "a", AccessRequest{RequesterID: "a"})
	require.NoError(t, err)
	require.NoError(t, a.Publish(context.Background(), env))

	select {
	case got := <-b.Events():
		assert.Equal(t, EventRequestAccess, got.Event)
		assert.Equal(t, "a", got.Sender)
	case <-time.After(time.Second):
		t.Fatal("subscriber in same room received nothing")
	}

	select {
	case <-a.Events():
		t.Fatal("sender must not receive its own publish")
	case <-time.After(20 * time.Millisecond):
	}

	select {
	case <-other.Events():
		t.Fatal("other room must not receive the message")
	case <-time.After(20 * time.Millisecond):
	}
}

func TestPublishRejectsInvalidEnvelopes(t *testing.T) {
	broker := NewBroker()
	ch := broker.Join("room", "a")

	err := ch.Publish(context.Background(), Envelope{Event: "bogus", Payload: []byte(`{}`)})
	assert.Error(t, err)

	err = ch.Publish(context.Background(), Envelope{Event: EventDrawUpdate})
	assert.Error(t, err, "empty payload must be rejected")
}

func TestCloseLeavesRoom(t *testing.T) {
	broker := NewBroker()
	a := broker.Join("room", "a")
	b := broker.Join("room", "b")
	require.NoError(t, b.Close())

	env, err := NewEnvelope(EventTeacherCommand, "a", TeacherCommand{Command: CommandSetLock, Value: true})
	require.NoError(t, err)
	// Publishing after the peer left must not panic or block.
	require.NoError(t, a.Publish(context.Background(), env))

	_, open := <-b.Events()
	assert.False(t, open, "events channel closes on Close")
}

func TestEnvelopeValidate(t *testing.T) {
	valid, err := NewEnvelope(EventDrawUpdate, "p", DrawUpdate{})
	require.NoError(t, err)
	assert.NoError(t, valid.Validate())

	assert.Error(t, Envelope{Event: "nope", Payload: []byte(`{}`)}.Validate())
	assert.Error(t, Envelope{Event: EventGrantAccess}.Validate())
}
