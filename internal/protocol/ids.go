package protocol

import (
	"strings"

	"github.com/google/uuid"
)

// ClientID is the stable per-installation identity. It is minted once,
// persisted until an explicit reset, and survives transport address churn.
type ClientID string

// PeerAddress is a transport-level address. It changes across reconnects
// and re-initializations and must never be used as a participant identity.
type PeerAddress string

type RoomID string

const addrPrefix = "mr-"

func NewClientID() ClientID { return ClientID(uuid.NewString()) }

func NewRoomID() RoomID { return RoomID(strings.Split(uuid.NewString(), "-")[0]) }

// NewPeerAddress mints a fresh transport address for this device.
func NewPeerAddress() PeerAddress { return PeerAddress(addrPrefix + uuid.NewString()) }

// RoomAddress is the room's public address. Whoever currently holds the
// host role occupies it; claiming it is how a takeover commits.
func RoomAddress(id RoomID) PeerAddress { return PeerAddress(addrPrefix + "room-" + string(id)) }

// NewMessageID generates a globally unique chat/system message id.
func NewMessageID() string { return uuid.NewString() }

// NewRequestID generates a state-transfer request id.
func NewRequestID() string { return uuid.NewString() }
