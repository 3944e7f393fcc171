package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"meshroom/internal/protocol"
)

func kvBackends(t *testing.T) map[string]KV {
	t.Helper()
	db, err := OpenSQLite(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return map[string]KV{
		"memory": NewMemory(),
		"sqlite": db,
	}
}

func TestKVRoundtrip(t *testing.T) {
	for name, kv := range kvBackends(t) {
		t.Run(name, func(t *testing.T) {
			_, ok, err := kv.Get("missing")
			require.NoError(t, err)
			assert.False(t, ok)

			require.NoError(t, kv.Set("k", "v1"))
			v, ok, err := kv.Get("k")
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, "v1", v)

			require.NoError(t, kv.Set("k", "v2"))
			v, _, _ = kv.Get("k")
			assert.Equal(t, "v2", v, "set overwrites")

			require.NoError(t, kv.Delete("k"))
			_, ok, err = kv.Get("k")
			require.NoError(t, err)
			assert.False(t, ok)

			require.NoError(t, kv.Delete("k"), "deleting a missing key is fine")
		})
	}
}

func TestSQLiteSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	db, err := OpenSQLite(dir)
	require.NoError(t, err)
	require.NoError(t, db.Set("clientId", "abc123"))
	require.NoError(t, db.Close())

	db, err = OpenSQLite(dir)
	require.NoError(t, err)
	defer db.Close()
	v, ok, err := db.Get("clientId")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "abc123", v)
}

func TestStoreTypedAccessors(t *testing.T) {
	st := New(NewMemory())

	_, ok := st.ClientID()
	assert.False(t, ok)
	require.NoError(t, st.SetClientID("c1"))
	cid, ok := st.ClientID()
	require.True(t, ok)
	assert.Equal(t, protocol.ClientID("c1"), cid)

	require.NoError(t, st.SetRoomID("r1"))
	rid, ok := st.RoomID()
	require.True(t, ok)
	assert.Equal(t, protocol.RoomID("r1"), rid)

	snap := protocol.RoomSnapshot{
		Metadata: protocol.RoomMetadata{RoomID: "r1", HostClientID: "c1", MaxPlayers: 4},
		Version:  7,
	}
	require.NoError(t, st.SetSnapshot(snap))
	got, ok := st.Snapshot()
	require.True(t, ok)
	assert.Equal(t, int64(7), got.Version)
	assert.Equal(t, protocol.ClientID("c1"), got.Metadata.HostClientID)
}

func TestJoinPrefPerRoom(t *testing.T) {
	st := New(NewMemory())

	_, ok := st.JoinPref("r1")
	assert.False(t, ok)

	require.NoError(t, st.SetJoinPref("r1", true))
	require.NoError(t, st.SetJoinPref("r2", false))

	spect, ok := st.JoinPref("r1")
	require.True(t, ok)
	assert.True(t, spect)
	spect, ok = st.JoinPref("r2")
	require.True(t, ok)
	assert.False(t, spect)
}

func TestClearRoomKeepsIdentity(t *testing.T) {
	st := New(NewMemory())
	require.NoError(t, st.SetClientID("c1"))
	require.NoError(t, st.SetJoinPref("r1", true))
	require.NoError(t, st.SetRoomID("r1"))
	require.NoError(t, st.SetMetadata(protocol.RoomMetadata{RoomID: "r1"}))
	require.NoError(t, st.SetSnapshot(protocol.RoomSnapshot{Version: 1}))

	require.NoError(t, st.ClearRoom())

	_, ok := st.RoomID()
	assert.False(t, ok)
	_, ok = st.Metadata()
	assert.False(t, ok)
	_, ok = st.Snapshot()
	assert.False(t, ok)

	_, ok = st.ClientID()
	assert.True(t, ok, "identity survives leaving a room")
	_, ok = st.JoinPref("r1")
	assert.True(t, ok, "join preferences survive leaving a room")
}
