package netx

import (
	"context"
	"fmt"
	"sync"
	"time"

	"meshroom/internal/protocol"
)

// Mesh is an in-process address registry connecting Inproc transports.
// Handy for multi-participant tests and single-process demos without
// sockets. Claiming an occupied address fails with ErrAddressTaken, which
// is the rejection the takeover race relies on.
type Mesh struct {
	mu    sync.Mutex
	nodes map[protocol.PeerAddress]*Inproc
}

func NewMesh() *Mesh {
	return &Mesh{nodes: make(map[protocol.PeerAddress]*Inproc)}
}

func (m *Mesh) NewTransport() *Inproc {
	return &Inproc{mesh: m}
}

func (m *Mesh) lookup(addr protocol.PeerAddress) *Inproc {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.nodes[addr]
}

// Inproc implements Transport over a shared Mesh.
type Inproc struct {
	mesh *Mesh

	mu       sync.Mutex
	addr     protocol.PeerAddress
	muted    bool
	links    map[protocol.PeerAddress]struct{}
	evtSubs  map[int]EventListener
	connSubs map[int]ConnListener
	nextSub  int
	inbox    chan protocol.Event
	done     chan struct{}
}

func (t *Inproc) Initialize(ctx context.Context, address protocol.PeerAddress) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.addr != "" {
		return fmt.Errorf("transport already initialized as %s", t.addr)
	}

	t.mesh.mu.Lock()
	if _, taken := t.mesh.nodes[address]; taken {
		t.mesh.mu.Unlock()
		return protocol.ErrAddressTaken
	}
	t.mesh.nodes[address] = t
	t.mesh.mu.Unlock()

	t.addr = address
	t.links = make(map[protocol.PeerAddress]struct{})
	if t.evtSubs == nil {
		t.evtSubs = make(map[int]EventListener)
		t.connSubs = make(map[int]ConnListener)
	}
	t.inbox = make(chan protocol.Event, 1024)
	t.done = make(chan struct{})
	go t.dispatch(t.inbox, t.done)
	return nil
}

func (t *Inproc) dispatch(inbox <-chan protocol.Event, done <-chan struct{}) {
	for {
		select {
		case <-done:
			return
		case ev := <-inbox:
			for _, fn := range t.eventListeners() {
				fn(ev)
			}
		}
	}
}

func (t *Inproc) ConnectToPeer(ctx context.Context, address protocol.PeerAddress, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		peer := t.mesh.lookup(address)
		if peer != nil && !peer.isMuted() {
			t.addLink(address)
			peer.addLink(t.LocalAddress())
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("connect %s: %w", address, protocol.ErrConnectTimeout)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func (t *Inproc) SendTo(address protocol.PeerAddress, ev protocol.Event) error {
	if t.isMuted() {
		return nil
	}
	peer := t.mesh.lookup(address)
	if peer == nil {
		return fmt.Errorf("send to %s: %w", address, protocol.ErrTransportUnavailable)
	}
	peer.deliver(ev)
	return nil
}

func (t *Inproc) Broadcast(ev protocol.Event) error {
	var firstErr error
	for _, addr := range t.ConnectedAddresses() {
		if err := t.SendTo(addr, ev); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (t *Inproc) OnEvent(fn EventListener) func() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.evtSubs == nil {
		t.evtSubs = make(map[int]EventListener)
		t.connSubs = make(map[int]ConnListener)
	}
	id := t.nextSub
	t.nextSub++
	t.evtSubs[id] = fn
	return func() {
		t.mu.Lock()
		delete(t.evtSubs, id)
		t.mu.Unlock()
	}
}

func (t *Inproc) OnConnectionChange(fn ConnListener) func() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.connSubs == nil {
		t.evtSubs = make(map[int]EventListener)
		t.connSubs = make(map[int]ConnListener)
	}
	id := t.nextSub
	t.nextSub++
	t.connSubs[id] = fn
	return func() {
		t.mu.Lock()
		delete(t.connSubs, id)
		t.mu.Unlock()
	}
}

func (t *Inproc) LocalAddress() protocol.PeerAddress {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.addr
}

func (t *Inproc) ConnectedAddresses() []protocol.PeerAddress {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]protocol.PeerAddress, 0, len(t.links))
	for addr := range t.links {
		out = append(out, addr)
	}
	return out
}

func (t *Inproc) Disconnect(reason string) error {
	t.mu.Lock()
	if t.addr == "" {
		t.mu.Unlock()
		return nil
	}
	addr := t.addr
	links := make([]protocol.PeerAddress, 0, len(t.links))
	for l := range t.links {
		links = append(links, l)
	}
	t.addr = ""
	t.links = nil
	close(t.done)
	t.mu.Unlock()

	t.mesh.mu.Lock()
	if t.mesh.nodes[addr] == t {
		delete(t.mesh.nodes, addr)
	}
	t.mesh.mu.Unlock()

	for _, l := range links {
		if peer := t.mesh.lookup(l); peer != nil {
			peer.dropLink(addr, reason)
		}
	}
	return nil
}

// Mute blackholes the transport without releasing its address. Simulates
// a wedged host that still holds the room's public address.
func (t *Inproc) Mute(muted bool) {
	t.mu.Lock()
	t.muted = muted
	t.mu.Unlock()
}

func (t *Inproc) isMuted() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.muted
}

func (t *Inproc) deliver(ev protocol.Event) {
	t.mu.Lock()
	if t.addr == "" || t.muted {
		t.mu.Unlock()
		return
	}
	inbox := t.inbox
	t.mu.Unlock()
	select {
	case inbox <- ev:
	default:
		// inbox full: drop, links are unreliable anyway
	}
}

func (t *Inproc) addLink(addr protocol.PeerAddress) {
	t.mu.Lock()
	if t.addr == "" || addr == "" {
		t.mu.Unlock()
		return
	}
	_, existed := t.links[addr]
	t.links[addr] = struct{}{}
	subs := t.connListeners()
	t.mu.Unlock()
	if !existed {
		for _, fn := range subs {
			fn(ConnChange{Address: addr, Connected: true})
		}
	}
}

func (t *Inproc) dropLink(addr protocol.PeerAddress, reason string) {
	t.mu.Lock()
	if t.addr == "" {
		t.mu.Unlock()
		return
	}
	_, existed := t.links[addr]
	delete(t.links, addr)
	subs := t.connListeners()
	t.mu.Unlock()
	if existed {
		for _, fn := range subs {
			fn(ConnChange{Address: addr, Connected: false, Reason: reason})
		}
	}
}

func (t *Inproc) eventListeners() []EventListener {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]EventListener, 0, len(t.evtSubs))
	for _, fn := range t.evtSubs {
		out = append(out, fn)
	}
	return out
}

// connListeners assumes t.mu is held.
func (t *Inproc) connListeners() []ConnListener {
	out := make([]ConnListener, 0, len(t.connSubs))
	for _, fn := range t.connSubs {
		out = append(out, fn)
	}
	return out
}

var _ Transport = (*Inproc)(nil)
