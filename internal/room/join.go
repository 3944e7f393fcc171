package room

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"meshroom/internal/protocol"
)

// JoinRoom drives the outbound join handshake: connect to the room's
// public address, announce, and wait for an admitting snapshot. Up to
// Timing.JoinAttempts tries with linear backoff. The roomId is persisted
// before the first attempt so routing stays stable across retries.
func (s *Session) JoinRoom(ctx context.Context, roomID protocol.RoomID, asSpectator bool) (protocol.RoomSnapshot, error) {
	_ = s.st.SetRoomID(roomID)
	_ = s.st.SetJoinPref(roomID, asSpectator)
	s.mu.Lock()
	s.roomID = roomID
	s.asSpectator = asSpectator
	s.mu.Unlock()

	var lastErr error
	for attempt := 1; attempt <= s.timing.JoinAttempts; attempt++ {
		snap, err := s.joinAttempt(ctx, roomID, asSpectator)
		if err == nil {
			return snap, nil
		}
		lastErr = err
		log.Printf("join: attempt %d/%d for %s failed: %v", attempt, s.timing.JoinAttempts, roomID, err)
		select {
		case <-ctx.Done():
			return protocol.RoomSnapshot{}, ctx.Err()
		case <-time.After(time.Duration(attempt) * s.timing.JoinBackoff):
		}
	}
	return protocol.RoomSnapshot{}, fmt.Errorf("join %s: %w", roomID, lastErr)
}

func (s *Session) joinAttempt(ctx context.Context, roomID protocol.RoomID, asSpectator bool) (protocol.RoomSnapshot, error) {
	roomAddr := protocol.RoomAddress(roomID)

	if err := s.ensurePeerTransport(ctx, roomAddr); err != nil {
		return protocol.RoomSnapshot{}, err
	}
	if err := s.tr.ConnectToPeer(ctx, roomAddr, s.timing.ConnectTimeout); err != nil {
		return protocol.RoomSnapshot{}, err
	}

	admission := make(chan protocol.RoomSnapshot, 1)
	s.mu.Lock()
	s.admission = admission
	req := s.eventLocked(protocol.EvtJoinRequest, protocol.JoinRequest{
		ClientID:    s.id.ClientID,
		DisplayName: s.id.DisplayName,
		AsSpectator: asSpectator,
	})
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.admission = nil
		s.mu.Unlock()
	}()

	_ = s.tr.SendTo(roomAddr, req)

	// Keep resending: covers drops during join storms.
	resend := time.NewTicker(s.timing.JoinResend)
	defer resend.Stop()
	deadline := time.NewTimer(s.timing.AdmissionWait)
	defer deadline.Stop()

	for {
		select {
		case snap := <-admission:
			now := s.now()
			s.mu.Lock()
			s.role = RolePeer
			s.joinedOK = true
			s.joinedAt = now
			s.lastHostSignal = now
			s.mu.Unlock()
			log.Printf("join: admitted to %s (v%d, epoch %d)", roomID, snap.Version, snap.Metadata.HostEpoch)
			return snap, nil
		case <-resend.C:
			_ = s.tr.SendTo(roomAddr, req)
		case <-deadline.C:
			return protocol.RoomSnapshot{}, protocol.ErrJoinTimeout
		case <-ctx.Done():
			return protocol.RoomSnapshot{}, ctx.Err()
		}
	}
}

// ensurePeerTransport initializes the local transport identity for peer
// operation — never under the room's own address. An address-taken
// rejection (stale registration, another tab) recovers by minting a
// fresh address.
func (s *Session) ensurePeerTransport(ctx context.Context, roomAddr protocol.PeerAddress) error {
	if la := s.tr.LocalAddress(); la != "" {
		if la != roomAddr {
			return nil
		}
		_ = s.tr.Disconnect("releasing room address")
	}

	addr := s.id.DevicePeerID
	err := s.tr.Initialize(ctx, addr)
	if isAddressTaken(err) {
		addr = protocol.NewPeerAddress()
		err = s.tr.Initialize(ctx, addr)
	}
	if err != nil {
		return err
	}
	s.id.SetActive(addr)
	return nil
}

func isAddressTaken(err error) bool {
	return errors.Is(err, protocol.ErrAddressTaken)
}
