package netx

import (
	"context"
	"time"

	"meshroom/internal/protocol"
)

// ConnChange reports a peer link opening or closing.
type ConnChange struct {
	Address   protocol.PeerAddress
	Connected bool
	Reason    string
}

type EventListener func(protocol.Event)

type ConnListener func(ConnChange)

// Transport is the peer-link collaborator. Exactly one local address may
// be initialized at a time; re-initialization requires an explicit
// Disconnect first. Delivery is FIFO per link with no ordering across
// senders.
type Transport interface {
	// Initialize claims the given address. Fails with
	// protocol.ErrAddressTaken if another live participant holds it, or
	// protocol.ErrTransportUnavailable if the transport layer is down.
	Initialize(ctx context.Context, address protocol.PeerAddress) error

	// ConnectToPeer opens (or re-opens) a direct link to address.
	ConnectToPeer(ctx context.Context, address protocol.PeerAddress, timeout time.Duration) error

	// SendTo delivers one event to a specific address, best effort.
	SendTo(address protocol.PeerAddress, ev protocol.Event) error

	// Broadcast delivers one event to every connected peer, best effort.
	Broadcast(ev protocol.Event) error

	// OnEvent registers an inbound event listener; the returned func
	// unsubscribes it.
	OnEvent(fn EventListener) func()

	// OnConnectionChange registers a link state listener.
	OnConnectionChange(fn ConnListener) func()

	LocalAddress() protocol.PeerAddress

	ConnectedAddresses() []protocol.PeerAddress

	// Disconnect releases the local address and closes all links.
	Disconnect(reason string) error
}
