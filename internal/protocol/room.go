package protocol

import "encoding/json"

// Participant is one seat in the room. A clientId appears in exactly one
// of players or spectators.
type Participant struct {
	ClientID    ClientID    `json:"clientId"`
	PeerAddress PeerAddress `json:"peerAddress"`
	DisplayName string      `json:"displayName"`
	JoinedAt    int64       `json:"joinedAt"`
}

type RoomMetadata struct {
	RoomID       RoomID        `json:"roomId"`
	GameID       string        `json:"gameId"`
	HostAddress  PeerAddress   `json:"hostAddress"`
	HostClientID ClientID      `json:"hostClientId"`
	HostName     string        `json:"hostName"`
	HostEpoch    HostEpoch     `json:"hostEpoch"`
	Players      []Participant `json:"players"`
	Spectators   []Participant `json:"spectators"`
	CreatedAt    int64         `json:"createdAt"`
	MaxPlayers   int           `json:"maxPlayers"`
}

// RoomSnapshot is the full replicated room state exchanged wholesale.
// GameState stays an opaque blob so this layer never depends on game
// rules; only the "phase" field is ever peeked at.
type RoomSnapshot struct {
	Metadata    RoomMetadata    `json:"metadata"`
	GameState   json.RawMessage `json:"gameState,omitempty"`
	Version     int64           `json:"version"`
	LastEventID string          `json:"lastEventId,omitempty"`
}

type PresenceStatus string

const (
	PresenceConnected    PresenceStatus = "connected"
	PresenceReconnecting PresenceStatus = "reconnecting"
	PresenceOffline      PresenceStatus = "offline"
)

type MessageKind string

const (
	MsgSystem MessageKind = "system"
	MsgUser   MessageKind = "user"
	MsgMove   MessageKind = "move"
)

type ChatMessage struct {
	ID         string      `json:"id"`
	Kind       MessageKind `json:"kind"`
	SenderID   ClientID    `json:"senderId,omitempty"`
	SenderName string      `json:"senderName,omitempty"`
	Body       string      `json:"body"`
	SentAt     int64       `json:"sentAt"`
}

// GamePhase peeks at the phase field of the opaque game blob. Empty blob
// or missing field reports "setup" (a room with no game yet is freely
// reconfigurable).
func GamePhase(gameState json.RawMessage) string {
	if len(gameState) == 0 {
		return "setup"
	}
	var peek struct {
		Phase string `json:"phase"`
	}
	if err := json.Unmarshal(gameState, &peek); err != nil || peek.Phase == "" {
		return "setup"
	}
	return peek.Phase
}

// FindByClientID returns the seat for a clientId and whether it sits in
// spectators.
func (m *RoomMetadata) FindByClientID(id ClientID) (Participant, bool, bool) {
	for _, p := range m.Players {
		if p.ClientID == id {
			return p, false, true
		}
	}
	for _, p := range m.Spectators {
		if p.ClientID == id {
			return p, true, true
		}
	}
	return Participant{}, false, false
}

func (m *RoomMetadata) FindByAddress(addr PeerAddress) (Participant, bool, bool) {
	for _, p := range m.Players {
		if p.PeerAddress == addr {
			return p, false, true
		}
	}
	for _, p := range m.Spectators {
		if p.PeerAddress == addr {
			return p, true, true
		}
	}
	return Participant{}, false, false
}

func (m *RoomMetadata) RemoveClientID(id ClientID) bool {
	removed := false
	m.Players = filterSeats(m.Players, func(p Participant) bool {
		hit := p.ClientID == id
		removed = removed || hit
		return !hit
	})
	m.Spectators = filterSeats(m.Spectators, func(p Participant) bool {
		hit := p.ClientID == id
		removed = removed || hit
		return !hit
	})
	return removed
}

func (m *RoomMetadata) RemoveAddress(addr PeerAddress) (Participant, bool) {
	var removed Participant
	found := false
	keep := func(p Participant) bool {
		if !found && p.PeerAddress == addr {
			removed = p
			found = true
			return false
		}
		return true
	}
	m.Players = filterSeats(m.Players, keep)
	m.Spectators = filterSeats(m.Spectators, keep)
	return removed, found
}

// Others lists every seat except the given address.
func (m *RoomMetadata) Others(self PeerAddress) []Participant {
	out := make([]Participant, 0, len(m.Players)+len(m.Spectators))
	for _, p := range m.Players {
		if p.PeerAddress != self {
			out = append(out, p)
		}
	}
	for _, p := range m.Spectators {
		if p.PeerAddress != self {
			out = append(out, p)
		}
	}
	return out
}

func (m *RoomMetadata) Clone() RoomMetadata {
	cp := *m
	cp.Players = append([]Participant(nil), m.Players...)
	cp.Spectators = append([]Participant(nil), m.Spectators...)
	return cp
}

func (s *RoomSnapshot) Clone() RoomSnapshot {
	cp := *s
	cp.Metadata = s.Metadata.Clone()
	cp.GameState = append(json.RawMessage(nil), s.GameState...)
	return cp
}

func filterSeats(ss []Participant, keep func(Participant) bool) []Participant {
	out := ss[:0]
	for _, s := range ss {
		if keep(s) {
			out = append(out, s)
		}
	}
	return out
}
