package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventEnvelopeRoundtrip(t *testing.T) {
	ev := NewEvent(EvtJoinRequest, JoinRequest{
		ClientID:    "c1",
		DisplayName: "Ada",
		AsSpectator: true,
	}, "mr-abc", "r1", 3)

	raw, err := Encode(ev)
	require.NoError(t, err)

	got, err := Decode(raw)
	require.NoError(t, err)
	assert.Equal(t, EvtJoinRequest, got.Type)
	assert.Equal(t, PeerAddress("mr-abc"), got.SenderAddress)
	assert.Equal(t, RoomID("r1"), got.RoomID)
	assert.Equal(t, HostEpoch(3), got.HostEpoch)

	req, err := DecodePayload[JoinRequest](got)
	require.NoError(t, err)
	assert.Equal(t, ClientID("c1"), req.ClientID)
	assert.Equal(t, "Ada", req.DisplayName)
	assert.True(t, req.AsSpectator)
}

func TestEventWireFieldNames(t *testing.T) {
	raw, err := Encode(NewEvent(EvtHeartbeat, Heartbeat{ClientID: "c1"}, "mr-abc", "r1", 0))
	require.NoError(t, err)

	var fields map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(raw, &fields))
	for _, key := range []string{"type", "payload", "senderAddress", "roomId", "timestamp", "hostEpoch"} {
		assert.Contains(t, fields, key)
	}
}

func TestDecodePayloadErrors(t *testing.T) {
	_, err := DecodePayload[JoinRequest](Event{Type: EvtJoinRequest})
	require.Error(t, err, "empty payload")

	_, err = DecodePayload[JoinRequest](Event{Type: EvtJoinRequest, Payload: []byte(`{broken`)})
	require.Error(t, err)
}

func TestDecodeRejectsGarbage(t *testing.T) {
	_, err := Decode([]byte(`not json`))
	require.Error(t, err)
}

func TestRoomAddress(t *testing.T) {
	assert.Equal(t, PeerAddress("mr-room-abc123"), RoomAddress("abc123"))
	assert.NotEqual(t, NewPeerAddress(), NewPeerAddress())
}
