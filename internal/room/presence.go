package room

import (
	"time"

	"meshroom/internal/protocol"
)

// Presence: the host classifies every seat by heartbeat recency and
// broadcasts the result each tick. That periodic broadcast doubles as the
// host's liveness beacon; peers answer with heartbeats on the same
// cadence.

func (s *Session) presenceTick(now time.Time) {
	s.mu.Lock()
	if s.role != RoleHost || s.snap == nil {
		s.mu.Unlock()
		return
	}
	if now.Sub(s.lastPresenceSent) < s.timing.PresenceTick {
		s.mu.Unlock()
		return
	}
	s.lastPresenceSent = now

	statuses := s.presenceStatusesLocked(now)
	s.presence = statuses
	ev := s.eventLocked(protocol.EvtPresenceUpdate, protocol.PresenceUpdate{Statuses: statuses})
	s.mu.Unlock()

	_ = s.tr.Broadcast(ev)
}

// presenceStatusesLocked assumes s.mu is held.
func (s *Session) presenceStatusesLocked(now time.Time) map[protocol.ClientID]protocol.PresenceStatus {
	statuses := make(map[protocol.ClientID]protocol.PresenceStatus)
	seats := append(append([]protocol.Participant{}, s.snap.Metadata.Players...), s.snap.Metadata.Spectators...)
	for _, seat := range seats {
		if seat.ClientID == s.id.ClientID {
			// the host is, by definition, connected to itself
			statuses[seat.ClientID] = protocol.PresenceConnected
			continue
		}
		last, ok := s.lastSeen[seat.ClientID]
		age := now.Sub(last)
		switch {
		case ok && age <= s.timing.ConnectedWindow:
			statuses[seat.ClientID] = protocol.PresenceConnected
		case ok && age <= s.timing.ReconnectingWindow:
			statuses[seat.ClientID] = protocol.PresenceReconnecting
		default:
			statuses[seat.ClientID] = protocol.PresenceOffline
		}
	}
	return statuses
}

func (s *Session) heartbeatTick(now time.Time) {
	s.mu.Lock()
	if s.role != RolePeer || s.snap == nil {
		s.mu.Unlock()
		return
	}
	if now.Sub(s.lastHeartbeatSent) < s.timing.PresenceTick {
		s.mu.Unlock()
		return
	}
	s.lastHeartbeatSent = now
	hostAddr := s.snap.Metadata.HostAddress
	ev := s.eventLocked(protocol.EvtHeartbeat, protocol.Heartbeat{ClientID: s.id.ClientID})
	s.mu.Unlock()

	_ = s.tr.SendTo(hostAddr, ev)
}
