package netx

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"meshroom/internal/protocol"
	"meshroom/internal/relay"
)

const registerWait = 10 * time.Second

// Relay implements Transport against a relay hub. Each Initialize opens
// one websocket session that owns the registered address; Disconnect
// releases it at the hub, freeing it for the next claimant.
type Relay struct {
	hubURL string

	mu       sync.Mutex
	conn     *websocket.Conn
	addr     protocol.PeerAddress
	links    map[protocol.PeerAddress]struct{}
	waiters  map[protocol.PeerAddress][]chan error
	evtSubs  map[int]EventListener
	connSubs map[int]ConnListener
	nextSub  int
	regCh    chan error
	out      chan relay.Frame
	done     chan struct{}
}

// NewRelay points the transport at a hub, e.g. ws://host:port/ws.
func NewRelay(hubURL string) *Relay {
	return &Relay{
		hubURL:   hubURL,
		evtSubs:  make(map[int]EventListener),
		connSubs: make(map[int]ConnListener),
		waiters:  make(map[protocol.PeerAddress][]chan error),
	}
}

func (t *Relay) Initialize(ctx context.Context, address protocol.PeerAddress) error {
	t.mu.Lock()
	if t.conn != nil {
		t.mu.Unlock()
		return fmt.Errorf("transport already initialized as %s", t.addr)
	}
	t.mu.Unlock()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, t.hubURL, nil)
	if err != nil {
		return fmt.Errorf("dial hub: %w", protocol.ErrTransportUnavailable)
	}

	regCh := make(chan error, 1)
	out := make(chan relay.Frame, 256)
	done := make(chan struct{})

	t.mu.Lock()
	t.conn = conn
	t.addr = address
	t.links = make(map[protocol.PeerAddress]struct{})
	t.regCh = regCh
	t.out = out
	t.done = done
	t.mu.Unlock()

	go t.writePump(conn, out, done)
	go t.readPump(conn)

	out <- relay.Frame{Kind: relay.FrameRegister, Address: address}

	select {
	case err := <-regCh:
		if err != nil {
			t.teardown("register failed")
			return err
		}
		return nil
	case <-time.After(registerWait):
		t.teardown("register timeout")
		return fmt.Errorf("register %s: %w", address, protocol.ErrTransportUnavailable)
	case <-ctx.Done():
		t.teardown("register cancelled")
		return ctx.Err()
	}
}

func (t *Relay) readPump(conn *websocket.Conn) {
	for {
		var f relay.Frame
		if err := conn.ReadJSON(&f); err != nil {
			t.onClosed()
			return
		}
		t.onFrame(f)
	}
}

func (t *Relay) writePump(conn *websocket.Conn, out <-chan relay.Frame, done <-chan struct{}) {
	for {
		select {
		case <-done:
			return
		case f := <-out:
			if err := conn.WriteJSON(f); err != nil {
				return
			}
		}
	}
}

func (t *Relay) onFrame(f relay.Frame) {
	switch f.Kind {
	case relay.FrameRegistered:
		t.settleRegistration(nil)

	case relay.FrameError:
		if f.Reason == relay.ReasonAddressTaken {
			t.settleRegistration(protocol.ErrAddressTaken)
			return
		}
		if f.Target != "" {
			err := fmt.Errorf("connect %s: %w", f.Target, protocol.ErrConnectTimeout)
			t.mu.Lock()
			waiters := t.waiters[f.Target]
			delete(t.waiters, f.Target)
			t.mu.Unlock()
			for _, ch := range waiters {
				ch <- err
			}
		}

	case relay.FrameConnected:
		t.mu.Lock()
		_, existed := t.links[f.Address]
		t.links[f.Address] = struct{}{}
		waiters := t.waiters[f.Address]
		delete(t.waiters, f.Address)
		subs := t.connListeners()
		t.mu.Unlock()
		for _, ch := range waiters {
			ch <- nil
		}
		if !existed {
			for _, fn := range subs {
				fn(ConnChange{Address: f.Address, Connected: true})
			}
		}

	case relay.FramePeerGone:
		t.mu.Lock()
		_, existed := t.links[f.Address]
		delete(t.links, f.Address)
		subs := t.connListeners()
		t.mu.Unlock()
		if existed {
			for _, fn := range subs {
				fn(ConnChange{Address: f.Address, Connected: false, Reason: "peer gone"})
			}
		}

	case relay.FrameEvent:
		if f.Event == nil {
			return
		}
		t.mu.Lock()
		subs := make([]EventListener, 0, len(t.evtSubs))
		for _, fn := range t.evtSubs {
			subs = append(subs, fn)
		}
		t.mu.Unlock()
		for _, fn := range subs {
			fn(*f.Event)
		}
	}
}

func (t *Relay) settleRegistration(err error) {
	t.mu.Lock()
	ch := t.regCh
	t.regCh = nil
	t.mu.Unlock()
	if ch != nil {
		ch <- err
	}
}

func (t *Relay) onClosed() {
	t.settleRegistration(fmt.Errorf("hub connection closed: %w", protocol.ErrTransportUnavailable))
	t.mu.Lock()
	links := t.links
	t.links = make(map[protocol.PeerAddress]struct{})
	subs := t.connListeners()
	t.mu.Unlock()
	for addr := range links {
		for _, fn := range subs {
			fn(ConnChange{Address: addr, Connected: false, Reason: "hub closed"})
		}
	}
}

func (t *Relay) ConnectToPeer(ctx context.Context, address protocol.PeerAddress, timeout time.Duration) error {
	t.mu.Lock()
	if t.conn == nil {
		t.mu.Unlock()
		return protocol.ErrTransportUnavailable
	}
	if _, linked := t.links[address]; linked {
		t.mu.Unlock()
		return nil
	}
	ch := make(chan error, 1)
	t.waiters[address] = append(t.waiters[address], ch)
	out := t.out
	t.mu.Unlock()

	out <- relay.Frame{Kind: relay.FrameConnect, Target: address}

	select {
	case err := <-ch:
		return err
	case <-time.After(timeout):
		return fmt.Errorf("connect %s: %w", address, protocol.ErrConnectTimeout)
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *Relay) SendTo(address protocol.PeerAddress, ev protocol.Event) error {
	return t.send(relay.Frame{Kind: relay.FrameSend, Target: address, Event: &ev})
}

func (t *Relay) Broadcast(ev protocol.Event) error {
	return t.send(relay.Frame{Kind: relay.FrameBroadcast, Event: &ev})
}

func (t *Relay) send(f relay.Frame) error {
	t.mu.Lock()
	out := t.out
	ok := t.conn != nil
	t.mu.Unlock()
	if !ok {
		return protocol.ErrTransportUnavailable
	}
	select {
	case out <- f:
		return nil
	default:
		log.Printf("relay: send queue full, dropping %s", f.Kind)
		return nil
	}
}

func (t *Relay) OnEvent(fn EventListener) func() {
	t.mu.Lock()
	defer t.mu.Unlock()
	id := t.nextSub
	t.nextSub++
	t.evtSubs[id] = fn
	return func() {
		t.mu.Lock()
		delete(t.evtSubs, id)
		t.mu.Unlock()
	}
}

func (t *Relay) OnConnectionChange(fn ConnListener) func() {
	t.mu.Lock()
	defer t.mu.Unlock()
	id := t.nextSub
	t.nextSub++
	t.connSubs[id] = fn
	return func() {
		t.mu.Lock()
		delete(t.connSubs, id)
		t.mu.Unlock()
	}
}

func (t *Relay) LocalAddress() protocol.PeerAddress {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.addr
}

func (t *Relay) ConnectedAddresses() []protocol.PeerAddress {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]protocol.PeerAddress, 0, len(t.links))
	for addr := range t.links {
		out = append(out, addr)
	}
	return out
}

func (t *Relay) Disconnect(reason string) error {
	t.teardown(reason)
	return nil
}

func (t *Relay) teardown(reason string) {
	t.mu.Lock()
	conn := t.conn
	done := t.done
	t.conn = nil
	t.addr = ""
	t.links = make(map[protocol.PeerAddress]struct{})
	t.waiters = make(map[protocol.PeerAddress][]chan error)
	t.done = nil
	t.mu.Unlock()
	if done != nil {
		close(done)
	}
	if conn != nil {
		log.Printf("relay: disconnect (%s)", reason)
		_ = conn.Close()
	}
}

// connListeners assumes t.mu is held.
func (t *Relay) connListeners() []ConnListener {
	out := make([]ConnListener, 0, len(t.connSubs))
	for _, fn := range t.connSubs {
		out = append(out, fn)
	}
	return out
}

var _ Transport = (*Relay)(nil)
