package room

import (
	"meshroom/internal/protocol"
)

// Pure reducers over RoomSnapshot. Only the participant holding the
// room's public address runs these (single-writer); every accepted
// mutation bumps Version by exactly one. Replaying any of them is safe.

// SystemNote names the membership change a reducer produced, for the
// host's system chat message. Empty means no announcement.
type SystemNote string

const (
	NoteJoined       SystemNote = "joined"
	NoteLeft         SystemNote = "left"
	NoteBecamePlayer SystemNote = "became_player"
	NoteBecameSpect  SystemNote = "became_spectator"
)

type applyResult struct {
	Changed  bool
	Replaced bool // seat moved for an existing clientId (reconnect, not a new join)
	Note     SystemNote
	Seat     protocol.Participant
}

// applyJoin admits or re-seats a requester. Seat resolution is by
// clientId first; only requests without a clientId (legacy snapshots)
// fall back to matching an unconnected seat by display name. connected
// reports whether an address currently has a live link.
func applyJoin(snap *protocol.RoomSnapshot, req protocol.JoinRequest, sender protocol.PeerAddress, now int64, connected func(protocol.PeerAddress) bool) applyResult {
	meta := &snap.Metadata

	clientID := req.ClientID
	var prior protocol.Participant
	priorSpectator := false
	havePrior := false

	if clientID != "" {
		prior, priorSpectator, havePrior = meta.FindByClientID(clientID)
	} else {
		// Legacy requester: adopt a disconnected seat with the same name.
		for _, p := range meta.Players {
			if p.DisplayName == req.DisplayName && !connected(p.PeerAddress) {
				prior, priorSpectator, havePrior = p, false, true
				break
			}
		}
		if !havePrior {
			for _, p := range meta.Spectators {
				if p.DisplayName == req.DisplayName && !connected(p.PeerAddress) {
					prior, priorSpectator, havePrior = p, true, true
					break
				}
			}
		}
		if havePrior {
			clientID = prior.ClientID
		} else {
			clientID = protocol.NewClientID()
		}
	}

	// Idempotent retry: exact seat already held, nothing to mutate.
	if havePrior && prior.PeerAddress == sender && priorSpectator == req.AsSpectator && prior.DisplayName == req.DisplayName {
		return applyResult{Changed: false, Seat: prior}
	}

	seat := protocol.Participant{
		ClientID:    clientID,
		PeerAddress: sender,
		DisplayName: req.DisplayName,
		JoinedAt:    now,
	}
	if havePrior {
		// last-tab-wins: the new admission replaces the old seat
		seat.JoinedAt = prior.JoinedAt
		meta.RemoveClientID(clientID)
	}

	asSpectator := req.AsSpectator
	if !asSpectator && len(meta.Players) >= meta.MaxPlayers {
		// room full: seat the requester as spectator instead
		asSpectator = true
	}
	if asSpectator {
		meta.Spectators = append(meta.Spectators, seat)
	} else {
		meta.Players = append(meta.Players, seat)
	}

	snap.Version++
	res := applyResult{Changed: true, Replaced: havePrior, Seat: seat}
	if !havePrior {
		res.Note = NoteJoined
	}
	return res
}

// applyLeave removes the seat held by the sender's address.
func applyLeave(snap *protocol.RoomSnapshot, sender protocol.PeerAddress) applyResult {
	seat, ok := snap.Metadata.RemoveAddress(sender)
	if !ok {
		return applyResult{}
	}
	snap.Version++
	return applyResult{Changed: true, Note: NoteLeft, Seat: seat}
}

// applyRoleChange moves the sender between players and spectators,
// respecting MaxPlayers. A player request against a full room leaves the
// requester where they are.
func applyRoleChange(snap *protocol.RoomSnapshot, sender protocol.PeerAddress, asSpectator bool) applyResult {
	meta := &snap.Metadata
	seat, isSpectator, ok := meta.FindByAddress(sender)
	if !ok || isSpectator == asSpectator {
		return applyResult{Seat: seat}
	}
	if !asSpectator && len(meta.Players) >= meta.MaxPlayers {
		return applyResult{Seat: seat}
	}
	meta.RemoveAddress(sender)
	note := NoteBecamePlayer
	if asSpectator {
		meta.Spectators = append(meta.Spectators, seat)
		note = NoteBecameSpect
	} else {
		meta.Players = append(meta.Players, seat)
	}
	snap.Version++
	return applyResult{Changed: true, Note: note, Seat: seat}
}

// applyHostTransform rewrites a snapshot around a new host: the old
// host's seat goes away, the new host is re-seated preserving its prior
// role, and the host identity fields plus epoch are fixed up. Used for
// the provisional takeover snapshot and re-applied to whichever candidate
// wins reconciliation.
func applyHostTransform(snap *protocol.RoomSnapshot, newHost protocol.Participant, wasSpectator bool, epoch protocol.HostEpoch, roomAddr protocol.PeerAddress) {
	meta := &snap.Metadata

	if meta.HostClientID != "" && meta.HostClientID != newHost.ClientID {
		meta.RemoveClientID(meta.HostClientID)
	}
	if meta.HostAddress != "" {
		meta.RemoveAddress(meta.HostAddress)
	}
	meta.RemoveClientID(newHost.ClientID)

	seat := newHost
	seat.PeerAddress = roomAddr
	if wasSpectator {
		meta.Spectators = append(meta.Spectators, seat)
	} else {
		meta.Players = append(meta.Players, seat)
	}

	meta.HostAddress = roomAddr
	meta.HostClientID = newHost.ClientID
	meta.HostName = newHost.DisplayName
	meta.HostEpoch = epoch
}

// pickFreshest returns the candidate with the strictly highest version;
// ties keep the earliest candidate, so the claimant's own provisional
// snapshot wins against equally fresh peers.
func pickFreshest(candidates []protocol.RoomSnapshot) protocol.RoomSnapshot {
	best := candidates[0]
	for _, c := range candidates[1:] {
		if c.Version > best.Version {
			best = c
		}
	}
	return best
}
