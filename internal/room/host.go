package room

import (
	"fmt"
	"log"

	"meshroom/internal/protocol"
)

// Host request handling: active only while the local identity holds the
// room's public address. The host is the sole writer of room state; every
// accepted mutation bumps the snapshot version by one and is published to
// all peers.

func (s *Session) handleJoinRequest(ev protocol.Event) {
	req, err := protocol.DecodePayload[protocol.JoinRequest](ev)
	if err != nil {
		return
	}

	s.mu.Lock()
	if s.role != RoleHost || s.snap == nil {
		s.mu.Unlock()
		return
	}
	linked := make(map[protocol.PeerAddress]struct{})
	for _, a := range s.tr.ConnectedAddresses() {
		linked[a] = struct{}{}
	}
	res := applyJoin(s.snap, req, ev.SenderAddress, s.now().UnixMilli(), func(a protocol.PeerAddress) bool {
		_, ok := linked[a]
		return ok
	})
	if res.Changed {
		s.lastSeen[res.Seat.ClientID] = s.now()
		s.persistRoom()
	}
	snapEv := s.snapshotEventLocked()
	s.mu.Unlock()

	// Unicast the admitting snapshot even when nothing changed so join
	// retries always converge.
	_ = s.tr.SendTo(ev.SenderAddress, snapEv)
	if res.Changed {
		_ = s.tr.Broadcast(snapEv)
		log.Printf("host: seated %s (%s) v%d", req.DisplayName, res.Seat.ClientID, s.version())
	}
	if res.Note == NoteJoined {
		s.announce(NoteJoined, res.Seat.DisplayName)
	}
}

func (s *Session) handleLeaveNotice(ev protocol.Event) {
	if _, err := protocol.DecodePayload[protocol.LeaveNotice](ev); err != nil {
		return
	}

	s.mu.Lock()
	if s.role != RoleHost || s.snap == nil {
		s.mu.Unlock()
		return
	}
	res := applyLeave(s.snap, ev.SenderAddress)
	var snapEv protocol.Event
	if res.Changed {
		delete(s.lastSeen, res.Seat.ClientID)
		delete(s.presence, res.Seat.ClientID)
		s.persistRoom()
		snapEv = s.snapshotEventLocked()
	}
	s.mu.Unlock()

	if res.Changed {
		_ = s.tr.Broadcast(snapEv)
		s.announce(NoteLeft, res.Seat.DisplayName)
	}
}

func (s *Session) handleRoleChange(ev protocol.Event) {
	req, err := protocol.DecodePayload[protocol.RoleChangeRequest](ev)
	if err != nil {
		return
	}

	s.mu.Lock()
	if s.role != RoleHost || s.snap == nil {
		s.mu.Unlock()
		return
	}
	if protocol.GamePhase(s.snap.GameState) != "setup" {
		// Game underway; resend current state so the requester converges.
		snapEv := s.snapshotEventLocked()
		s.mu.Unlock()
		_ = s.tr.SendTo(ev.SenderAddress, snapEv)
		return
	}
	res := applyRoleChange(s.snap, ev.SenderAddress, req.AsSpectator)
	if res.Changed {
		s.persistRoom()
	}
	snapEv := s.snapshotEventLocked()
	s.mu.Unlock()

	if res.Changed {
		_ = s.tr.Broadcast(snapEv)
		s.announce(res.Note, res.Seat.DisplayName)
	} else {
		_ = s.tr.SendTo(ev.SenderAddress, snapEv)
	}
}

// handleHeartbeat records liveness for presence classification. Host-only
// bookkeeping; never mutates metadata.
func (s *Session) handleHeartbeat(ev protocol.Event) {
	hb, err := protocol.DecodePayload[protocol.Heartbeat](ev)
	if err != nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.role != RoleHost || s.snap == nil {
		return
	}
	cid := hb.ClientID
	if cid == "" {
		// pre-clientId sender: resolve the seat by address
		seat, _, ok := s.snap.Metadata.FindByAddress(ev.SenderAddress)
		if !ok {
			return
		}
		cid = seat.ClientID
	}
	s.lastSeen[cid] = s.now()
}

// announce emits a system chat message for a membership change.
func (s *Session) announce(note SystemNote, name string) {
	var body string
	switch note {
	case NoteJoined:
		body = fmt.Sprintf("%s joined", name)
	case NoteLeft:
		body = fmt.Sprintf("%s left", name)
	case NoteBecamePlayer:
		body = fmt.Sprintf("%s became a player", name)
	case NoteBecameSpect:
		body = fmt.Sprintf("%s became a spectator", name)
	default:
		return
	}
	msg := protocol.ChatMessage{
		ID:     protocol.NewMessageID(),
		Kind:   protocol.MsgSystem,
		Body:   body,
		SentAt: s.now().UnixMilli(),
	}
	s.relay.Accept(msg)

	s.mu.Lock()
	ev := s.eventLocked(protocol.EvtChatEvent, protocol.ChatEvent{Message: msg})
	s.mu.Unlock()
	_ = s.tr.Broadcast(ev)
}

func (s *Session) version() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.snap == nil {
		return 0
	}
	return s.snap.Version
}
