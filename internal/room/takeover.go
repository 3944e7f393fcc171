package room

import (
	"context"
	"log"
	"time"

	"meshroom/internal/protocol"
)

// Takeover: every non-host participant watches for host silence. After
// SuspectAfter without a snapshot or presence beacon from the host's
// address the peer first tries a lightweight heal (reconnect + re-join).
// Only a confirmed-down host — or total link loss — escalates to claiming
// the room's public address. The claim is optimistic and lock-free: the
// transport's address-taken rejection is the arbiter, so brief dual-claim
// attempts are expected and tolerated.

func (s *Session) takeoverTick(now time.Time) {
	s.mu.Lock()
	if s.role != RolePeer || !s.joinedOK || s.snap == nil {
		s.mu.Unlock()
		return
	}
	if now.Sub(s.joinedAt) < s.timing.JoinGrace {
		s.mu.Unlock()
		return
	}
	if now.Sub(s.lastTakeoverCheck) < s.timing.TakeoverTick {
		s.mu.Unlock()
		return
	}
	s.lastTakeoverCheck = now

	silence := now.Sub(s.lastHostSignal)
	if silence < s.timing.SuspectAfter {
		s.mu.Unlock()
		return
	}

	hostAddr := s.snap.Metadata.HostAddress
	confirmedDown := silence >= s.timing.ConfirmDownAfter
	noLinks := len(s.tr.ConnectedAddresses()) == 0

	if !confirmedDown && !noLinks {
		// Suspect only: the link may just have dropped.
		if !s.healing {
			s.healing = true
			s.mu.Unlock()
			go s.heal(hostAddr)
			return
		}
		s.mu.Unlock()
		return
	}

	if now.Sub(s.lastClaim) < s.timing.ClaimCooldown || s.takingOver {
		s.mu.Unlock()
		return
	}
	s.lastClaim = now
	s.takingOver = true
	s.mu.Unlock()

	go s.attemptTakeover()
}

// heal covers transient link loss without a full takeover: reconnect to
// the host address and re-announce, which the host answers idempotently.
func (s *Session) heal(hostAddr protocol.PeerAddress) {
	defer func() {
		s.mu.Lock()
		s.healing = false
		s.mu.Unlock()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), s.timing.TransferConnectTimeout)
	defer cancel()
	if err := s.tr.ConnectToPeer(ctx, hostAddr, s.timing.TransferConnectTimeout); err != nil {
		return
	}
	s.mu.Lock()
	req := s.eventLocked(protocol.EvtJoinRequest, protocol.JoinRequest{
		ClientID:    s.id.ClientID,
		DisplayName: s.id.DisplayName,
		AsSpectator: s.asSpectator,
	})
	s.mu.Unlock()
	_ = s.tr.SendTo(hostAddr, req)
}

func (s *Session) attemptTakeover() {
	defer func() {
		s.mu.Lock()
		s.takingOver = false
		s.mu.Unlock()
	}()

	// Final re-validation: a host signal may have arrived since the tick.
	s.mu.Lock()
	if s.role != RolePeer || s.snap == nil || s.now().Sub(s.lastHostSignal) < s.timing.SuspectAfter {
		s.mu.Unlock()
		return
	}
	base := s.snap.Clone()
	roomID := s.roomID
	wasSpectator := s.asSpectator
	prevAddr := s.tr.LocalAddress()
	s.mu.Unlock()

	roomAddr := protocol.RoomAddress(roomID)
	newEpoch := base.Metadata.HostEpoch + 1
	ctx := context.Background()

	// Claiming the public address is the only legitimate way to become
	// host. Exactly one transport identity at a time, so release ours
	// first; the window where we hold no address is why the claim cannot
	// be cancelled mid-flight.
	_ = s.tr.Disconnect("claiming host address")
	if err := s.tr.Initialize(ctx, roomAddr); err != nil {
		if !isAddressTaken(err) {
			log.Printf("takeover: claim failed: %v", err)
		}
		s.fallbackToPeer(ctx, prevAddr)
		if isAddressTaken(err) {
			// Someone holds the room address, so a live host exists;
			// reattach to it instead of claiming again.
			s.mu.Lock()
			if !s.healing {
				s.healing = true
				s.mu.Unlock()
				s.heal(roomAddr)
				return
			}
			s.mu.Unlock()
		}
		return
	}
	s.id.SetActive(roomAddr)
	log.Printf("takeover: claimed %s, epoch %d -> %d", roomAddr, base.Metadata.HostEpoch, newEpoch)

	seat, _, ok := base.Metadata.FindByClientID(s.id.ClientID)
	if !ok {
		seat = protocol.Participant{
			ClientID:    s.id.ClientID,
			DisplayName: s.id.DisplayName,
			JoinedAt:    s.now().UnixMilli(),
		}
	}

	provisional := base.Clone()
	applyHostTransform(&provisional, seat, wasSpectator, newEpoch, roomAddr)

	reqID := protocol.NewRequestID()
	now := s.now()
	s.mu.Lock()
	s.role = RoleHost
	snap := provisional.Clone()
	s.snap = &snap
	s.lastSeen = make(map[protocol.ClientID]time.Time)
	for _, p := range snap.Metadata.Others(roomAddr) {
		s.lastSeen[p.ClientID] = now
	}
	s.transferID = reqID
	s.candidates = []protocol.RoomSnapshot{provisional.Clone()}
	s.persistRoom()
	snapEv := s.snapshotEventLocked()
	others := snap.Metadata.Others(roomAddr)
	s.mu.Unlock()

	// State transfer: connect to every known participant, ask for its
	// snapshot, then hand it the provisional state. The freshly claimed
	// transport has no links yet, so the provisional snapshot travels by
	// unicast on each new link; the ask goes first so the reply carries
	// the peer's own state, not the provisional it is about to install.
	reqEv := protocol.NewEvent(protocol.EvtRequestState, protocol.RequestState{
		RequestID:       reqID,
		TargetHostEpoch: newEpoch,
		KnownVersion:    provisional.Version,
	}, roomAddr, roomID, newEpoch)
	for _, p := range others {
		go func(addr protocol.PeerAddress) {
			cctx, cancel := context.WithTimeout(ctx, s.timing.TransferConnectTimeout)
			defer cancel()
			if err := s.tr.ConnectToPeer(cctx, addr, s.timing.TransferConnectTimeout); err != nil {
				return
			}
			_ = s.tr.SendTo(addr, reqEv)
			_ = s.tr.SendTo(addr, snapEv)
		}(p.PeerAddress)
	}

	time.Sleep(s.timing.TransferCollectWindow)

	s.mu.Lock()
	candidates := s.candidates
	s.transferID = ""
	s.candidates = nil
	if s.role != RoleHost {
		// Demoted while collecting; the newer host's state already won.
		s.mu.Unlock()
		return
	}
	// Mutations accepted while collecting (a join admitted mid-takeover)
	// live only in the current snapshot; it competes as a candidate so the
	// final state never rolls back behind what was already published.
	if s.snap != nil {
		candidates = append(candidates, s.snap.Clone())
	}
	picked := pickFreshest(candidates)
	best := picked.Clone()
	applyHostTransform(&best, seat, wasSpectator, newEpoch, roomAddr)
	s.snap = &best
	s.asSpectator = wasSpectator
	s.persistRoom()
	finalEv := s.snapshotEventLocked()
	presEv := s.eventLocked(protocol.EvtPresenceUpdate, protocol.PresenceUpdate{Statuses: s.presenceStatusesLocked(s.now())})
	s.lastPresenceSent = s.now()
	s.mu.Unlock()

	_ = s.tr.Broadcast(finalEv)
	_ = s.tr.Broadcast(presEv)
	log.Printf("takeover: reconciled %d candidate(s), publishing v%d epoch %d", len(candidates), best.Version, newEpoch)
}

// fallbackToPeer restores a non-host transport identity after a failed
// claim: previous address first, then a fresh one. Either way the session
// stays a peer and the next tick retries.
func (s *Session) fallbackToPeer(ctx context.Context, prevAddr protocol.PeerAddress) {
	addr := prevAddr
	err := s.tr.Initialize(ctx, addr)
	if err != nil {
		addr = protocol.NewPeerAddress()
		err = s.tr.Initialize(ctx, addr)
	}
	if err != nil {
		log.Printf("takeover: could not restore peer address, staying offline: %v", err)
		return
	}
	s.id.SetActive(addr)
}
