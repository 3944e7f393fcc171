package room

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"meshroom/internal/protocol"
	"meshroom/internal/store"
)

func newMemStore() *store.Store { return store.New(store.NewMemory()) }

func TestEventRelayDedup(t *testing.T) {
	r := NewEventRelay(10)
	msg := protocol.ChatMessage{ID: "m1", Kind: protocol.MsgUser, Body: "hi"}

	assert.True(t, r.Accept(msg))
	assert.False(t, r.Accept(msg), "second accept of the same id is rejected")
	assert.Len(t, r.Messages(), 1)

	// A different id with identical content is a different message.
	msg.ID = "m2"
	assert.True(t, r.Accept(msg))
	assert.Len(t, r.Messages(), 2)
}

func TestEventRelayBoundedLog(t *testing.T) {
	r := NewEventRelay(3)
	for i := 0; i < 5; i++ {
		r.Accept(protocol.ChatMessage{ID: fmt.Sprintf("m%d", i), Body: fmt.Sprintf("msg %d", i)})
	}
	got := r.Messages()
	require.Len(t, got, 3)
	assert.Equal(t, "m2", got[0].ID, "oldest entries are evicted first")
	assert.Equal(t, "m4", got[2].ID)
}

func TestEventRelaySubscribe(t *testing.T) {
	r := NewEventRelay(10)
	ch := r.Subscribe()

	r.Accept(protocol.ChatMessage{ID: "m1", Body: "hi"})
	select {
	case got := <-ch:
		assert.Equal(t, "m1", got.ID)
	default:
		t.Fatal("subscriber did not receive the message")
	}

	// Duplicates never reach subscribers.
	r.Accept(protocol.ChatMessage{ID: "m1", Body: "hi"})
	select {
	case got := <-ch:
		t.Fatalf("unexpected delivery: %v", got)
	default:
	}

	r.Unsubscribe(ch)
	_, open := <-ch
	assert.False(t, open, "unsubscribe closes the channel")
}

func TestIdentityPersistsAcrossLoads(t *testing.T) {
	st := newMemStore()
	id1, err := LoadIdentity(st, "Ada")
	require.NoError(t, err)
	assert.NotEmpty(t, id1.ClientID)
	assert.NotEmpty(t, id1.DevicePeerID)
	assert.Equal(t, "Ada", id1.DisplayName)

	id2, err := LoadIdentity(st, "")
	require.NoError(t, err)
	assert.Equal(t, id1.ClientID, id2.ClientID)
	assert.Equal(t, id1.DevicePeerID, id2.DevicePeerID)
	assert.Equal(t, "Ada", id2.DisplayName, "name persists when not overridden")

	id3, err := LoadIdentity(st, "Lady Ada")
	require.NoError(t, err)
	assert.Equal(t, id1.ClientID, id3.ClientID)
	assert.Equal(t, "Lady Ada", id3.DisplayName, "override rewrites the persisted name")
}

func TestIdentityDefaultName(t *testing.T) {
	id, err := LoadIdentity(newMemStore(), "")
	require.NoError(t, err)
	assert.Contains(t, id.DisplayName, "Player-")
}
