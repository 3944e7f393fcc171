package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func metaFixture() RoomMetadata {
	return RoomMetadata{
		RoomID: "r1",
		Players: []Participant{
			{ClientID: "c1", PeerAddress: "a1", DisplayName: "Ada"},
			{ClientID: "c2", PeerAddress: "a2", DisplayName: "Bob"},
		},
		Spectators: []Participant{
			{ClientID: "c3", PeerAddress: "a3", DisplayName: "Cleo"},
		},
	}
}

func TestFindByClientID(t *testing.T) {
	m := metaFixture()

	p, spect, ok := m.FindByClientID("c1")
	require.True(t, ok)
	assert.False(t, spect)
	assert.Equal(t, "Ada", p.DisplayName)

	p, spect, ok = m.FindByClientID("c3")
	require.True(t, ok)
	assert.True(t, spect)
	assert.Equal(t, "Cleo", p.DisplayName)

	_, _, ok = m.FindByClientID("nope")
	assert.False(t, ok)
}

func TestFindByAddress(t *testing.T) {
	m := metaFixture()

	_, spect, ok := m.FindByAddress("a2")
	require.True(t, ok)
	assert.False(t, spect)

	_, spect, ok = m.FindByAddress("a3")
	require.True(t, ok)
	assert.True(t, spect)

	_, _, ok = m.FindByAddress("nope")
	assert.False(t, ok)
}

func TestRemoveClientID(t *testing.T) {
	m := metaFixture()
	assert.True(t, m.RemoveClientID("c3"))
	assert.Empty(t, m.Spectators)
	assert.False(t, m.RemoveClientID("c3"))
	assert.Len(t, m.Players, 2)
}

func TestRemoveAddress(t *testing.T) {
	m := metaFixture()
	p, ok := m.RemoveAddress("a1")
	require.True(t, ok)
	assert.Equal(t, ClientID("c1"), p.ClientID)
	assert.Len(t, m.Players, 1)

	_, ok = m.RemoveAddress("a1")
	assert.False(t, ok)
}

func TestOthers(t *testing.T) {
	m := metaFixture()
	others := m.Others("a1")
	require.Len(t, others, 2)
	for _, p := range others {
		assert.NotEqual(t, PeerAddress("a1"), p.PeerAddress)
	}
	assert.Len(t, m.Others(""), 3)
}

func TestSnapshotCloneIsIndependent(t *testing.T) {
	snap := RoomSnapshot{
		Metadata:  metaFixture(),
		GameState: []byte(`{"phase":"setup"}`),
		Version:   4,
	}
	cp := snap.Clone()

	cp.Metadata.Players[0].DisplayName = "changed"
	cp.Metadata.RemoveAddress("a2")
	cp.GameState[2] = 'X'
	cp.Version = 99

	assert.Equal(t, "Ada", snap.Metadata.Players[0].DisplayName)
	assert.Len(t, snap.Metadata.Players, 2)
	assert.Equal(t, json.RawMessage(`{"phase":"setup"}`), snap.GameState)
	assert.Equal(t, int64(4), snap.Version)
}

func TestGamePhase(t *testing.T) {
	assert.Equal(t, "setup", GamePhase(nil))
	assert.Equal(t, "setup", GamePhase([]byte(`{}`)))
	assert.Equal(t, "setup", GamePhase([]byte(`{"phase":""}`)))
	assert.Equal(t, "setup", GamePhase([]byte(`garbage`)))
	assert.Equal(t, "playing", GamePhase([]byte(`{"phase":"playing"}`)))
}
