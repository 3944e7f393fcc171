// Package relay implements the rendezvous hub the websocket transport
// speaks to. The hub owns the address namespace: registering an address
// that is already held is rejected, which is what resolves races for the
// room's public address.
package relay

import "meshroom/internal/protocol"

type FrameKind string

const (
	FrameRegister   FrameKind = "register"
	FrameRegistered FrameKind = "registered"
	FrameError      FrameKind = "error"
	FrameConnect    FrameKind = "connect"
	FrameConnected  FrameKind = "connected"
	FrameSend       FrameKind = "send"
	FrameBroadcast  FrameKind = "broadcast"
	FrameEvent      FrameKind = "event"
	FramePeerGone   FrameKind = "peer_gone"
)

const (
	ReasonAddressTaken    = "address_taken"
	ReasonPeerUnavailable = "peer_unavailable"
)

// Frame is the client<->hub envelope. Address names the frame's subject
// peer (registration target, newly linked peer, departed peer); Target
// addresses an outbound connect/send.
type Frame struct {
	Kind    FrameKind            `json:"kind"`
	Address protocol.PeerAddress `json:"address,omitempty"`
	Target  protocol.PeerAddress `json:"target,omitempty"`
	Reason  string               `json:"reason,omitempty"`
	Event   *protocol.Event      `json:"event,omitempty"`
}
