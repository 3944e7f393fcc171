package netx

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"meshroom/internal/protocol"
)

func TestInprocAddressClaim(t *testing.T) {
	mesh := NewMesh()
	a := mesh.NewTransport()
	b := mesh.NewTransport()
	ctx := context.Background()

	require.NoError(t, a.Initialize(ctx, "room-x"))
	err := b.Initialize(ctx, "room-x")
	require.ErrorIs(t, err, protocol.ErrAddressTaken)

	// Releasing frees the address for the next claimant.
	require.NoError(t, a.Disconnect("test"))
	require.NoError(t, b.Initialize(ctx, "room-x"))
	assert.Equal(t, protocol.PeerAddress("room-x"), b.LocalAddress())
}

func TestInprocSendAndBroadcast(t *testing.T) {
	mesh := NewMesh()
	host := mesh.NewTransport()
	a := mesh.NewTransport()
	b := mesh.NewTransport()
	ctx := context.Background()

	require.NoError(t, host.Initialize(ctx, "h"))
	require.NoError(t, a.Initialize(ctx, "a"))
	require.NoError(t, b.Initialize(ctx, "b"))

	got := make(chan protocol.Event, 16)
	a.OnEvent(func(ev protocol.Event) { got <- ev })
	bGot := make(chan protocol.Event, 16)
	b.OnEvent(func(ev protocol.Event) { bGot <- ev })

	require.NoError(t, a.ConnectToPeer(ctx, "h", time.Second))

	ev := protocol.NewEvent(protocol.EvtHeartbeat, protocol.Heartbeat{ClientID: "c1"}, "h", "r1", 0)
	require.NoError(t, host.SendTo("a", ev))
	select {
	case recv := <-got:
		assert.Equal(t, protocol.EvtHeartbeat, recv.Type)
		assert.Equal(t, protocol.RoomID("r1"), recv.RoomID)
	case <-time.After(time.Second):
		t.Fatal("no delivery")
	}

	// Broadcast only reaches linked peers: a is linked, b is not.
	require.NoError(t, host.Broadcast(ev))
	select {
	case <-got:
	case <-time.After(time.Second):
		t.Fatal("linked peer missed the broadcast")
	}
	select {
	case <-bGot:
		t.Fatal("unlinked peer received a broadcast")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestInprocConnectTimeout(t *testing.T) {
	mesh := NewMesh()
	a := mesh.NewTransport()
	require.NoError(t, a.Initialize(context.Background(), "a"))

	err := a.ConnectToPeer(context.Background(), "missing", 30*time.Millisecond)
	require.ErrorIs(t, err, protocol.ErrConnectTimeout)
}

func TestInprocDisconnectNotifiesLinkedPeers(t *testing.T) {
	mesh := NewMesh()
	a := mesh.NewTransport()
	b := mesh.NewTransport()
	ctx := context.Background()
	require.NoError(t, a.Initialize(ctx, "a"))
	require.NoError(t, b.Initialize(ctx, "b"))

	changes := make(chan ConnChange, 16)
	b.OnConnectionChange(func(c ConnChange) { changes <- c })

	require.NoError(t, a.ConnectToPeer(ctx, "b", time.Second))
	select {
	case c := <-changes:
		assert.True(t, c.Connected)
		assert.Equal(t, protocol.PeerAddress("a"), c.Address)
	case <-time.After(time.Second):
		t.Fatal("no connect notification")
	}

	require.NoError(t, a.Disconnect("going away"))
	select {
	case c := <-changes:
		assert.False(t, c.Connected)
		assert.Equal(t, "going away", c.Reason)
	case <-time.After(time.Second):
		t.Fatal("no disconnect notification")
	}
	assert.Empty(t, b.ConnectedAddresses())
}

func TestInprocMute(t *testing.T) {
	mesh := NewMesh()
	a := mesh.NewTransport()
	b := mesh.NewTransport()
	ctx := context.Background()
	require.NoError(t, a.Initialize(ctx, "a"))
	require.NoError(t, b.Initialize(ctx, "b"))

	got := make(chan protocol.Event, 16)
	a.OnEvent(func(ev protocol.Event) { got <- ev })

	a.Mute(true)

	// The address stays registered, so claims still collide...
	err := mesh.NewTransport().Initialize(ctx, "a")
	require.ErrorIs(t, err, protocol.ErrAddressTaken)

	// ...but nothing gets in or out.
	ev := protocol.NewEvent(protocol.EvtHeartbeat, protocol.Heartbeat{}, "b", "r1", 0)
	require.NoError(t, b.SendTo("a", ev))
	select {
	case <-got:
		t.Fatal("muted transport received an event")
	case <-time.After(50 * time.Millisecond):
	}
	require.Error(t, b.ConnectToPeer(ctx, "a", 30*time.Millisecond))

	a.Mute(false)
	require.NoError(t, b.SendTo("a", ev))
	select {
	case <-got:
	case <-time.After(time.Second):
		t.Fatal("unmuted transport missed the event")
	}
}

func TestInprocUnsubscribe(t *testing.T) {
	mesh := NewMesh()
	a := mesh.NewTransport()
	b := mesh.NewTransport()
	ctx := context.Background()
	require.NoError(t, a.Initialize(ctx, "a"))
	require.NoError(t, b.Initialize(ctx, "b"))

	got := make(chan protocol.Event, 16)
	unsub := a.OnEvent(func(ev protocol.Event) { got <- ev })
	unsub()

	ev := protocol.NewEvent(protocol.EvtHeartbeat, protocol.Heartbeat{}, "b", "r1", 0)
	require.NoError(t, b.SendTo("a", ev))
	select {
	case <-got:
		t.Fatal("unsubscribed listener was invoked")
	case <-time.After(50 * time.Millisecond):
	}
}
