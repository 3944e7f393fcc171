package room

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"meshroom/internal/netx"
	"meshroom/internal/protocol"
)

func TestPresenceClassification(t *testing.T) {
	mesh := netx.NewMesh()
	host := newTestSession(t, mesh, "Hosty")
	createTestRoom(t, host)

	now := time.Now()
	timing := fastTiming()

	host.mu.Lock()
	host.snap.Metadata.Players = append(host.snap.Metadata.Players,
		protocol.Participant{ClientID: "fresh", PeerAddress: "a1", DisplayName: "Ada"},
		protocol.Participant{ClientID: "laggy", PeerAddress: "a2", DisplayName: "Bob"},
	)
	host.snap.Metadata.Spectators = append(host.snap.Metadata.Spectators,
		protocol.Participant{ClientID: "gone", PeerAddress: "a3", DisplayName: "Cleo"},
	)
	host.lastSeen["fresh"] = now.Add(-timing.ConnectedWindow / 2)
	host.lastSeen["laggy"] = now.Add(-timing.ConnectedWindow - timing.ReconnectingWindow/4)
	// "gone" never heartbeated; the host itself has an ancient heartbeat.
	host.lastSeen[host.ClientID()] = now.Add(-time.Hour)
	statuses := host.presenceStatusesLocked(now)
	host.mu.Unlock()

	assert.Equal(t, protocol.PresenceConnected, statuses["fresh"])
	assert.Equal(t, protocol.PresenceReconnecting, statuses["laggy"])
	assert.Equal(t, protocol.PresenceOffline, statuses["gone"])
	assert.Equal(t, protocol.PresenceConnected, statuses[host.ClientID()], "the host is always connected to itself")
	assert.Len(t, statuses, 4, "every seat is classified")
}

func TestPresenceBroadcastReachesPeers(t *testing.T) {
	mesh := netx.NewMesh()
	host := startTestSession(t, mesh, "Hosty")
	peer := startTestSession(t, mesh, "Ada")
	roomID := createTestRoom(t, host)
	joinTestRoom(t, peer, roomID, false)

	// Heartbeats flow peer -> host, presence flows host -> peer.
	require.Eventually(t, func() bool {
		return peer.Presence()[peer.ClientID()] == protocol.PresenceConnected &&
			peer.Presence()[host.ClientID()] == protocol.PresenceConnected
	}, 3*time.Second, 20*time.Millisecond)
}

func TestPresenceDegradesWithoutHeartbeats(t *testing.T) {
	mesh := netx.NewMesh()
	host := startTestSession(t, mesh, "Hosty")
	peer := startTestSession(t, mesh, "Ada")
	roomID := createTestRoom(t, host)
	joinTestRoom(t, peer, roomID, false)

	require.Eventually(t, func() bool {
		return host.Presence()[peer.ClientID()] == protocol.PresenceConnected
	}, 3*time.Second, 20*time.Millisecond)

	// Kill the peer without a leave notice: its seat stays, its status decays.
	peer.Close()

	require.Eventually(t, func() bool {
		return host.Presence()[peer.ClientID()] == protocol.PresenceOffline
	}, 3*time.Second, 20*time.Millisecond)

	snap, ok := host.Snapshot()
	require.True(t, ok)
	_, _, seated := snap.Metadata.FindByClientID(peer.ClientID())
	assert.True(t, seated, "silence marks a seat offline, it never unseats")
}
