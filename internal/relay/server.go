package relay

import (
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"meshroom/internal/protocol"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxFrameSize   = 1 << 20
	sendQueueDepth = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Server is the relay hub. It registers one address per websocket
// connection and forwards event frames between linked peers. It holds no
// room state; all authority lives in the peers.
type Server struct {
	mu      sync.Mutex
	clients map[protocol.PeerAddress]*client
}

type client struct {
	srv   *Server
	conn  *websocket.Conn
	addr  protocol.PeerAddress
	links map[protocol.PeerAddress]struct{}
	out   chan Frame
	once  sync.Once
}

func NewServer() *Server {
	return &Server{clients: make(map[protocol.PeerAddress]*client)}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)
	return mux
}

func (s *Server) ListenAndServe(addr string) error {
	log.Printf("relay: listening on %s", addr)
	return http.ListenAndServe(addr, s.Handler())
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("relay: upgrade failed: %v", err)
		return
	}
	c := &client{
		srv:   s,
		conn:  conn,
		links: make(map[protocol.PeerAddress]struct{}),
		out:   make(chan Frame, sendQueueDepth),
	}
	go c.writePump()
	c.readPump()
}

func (c *client) readPump() {
	defer c.close()
	c.conn.SetReadLimit(maxFrameSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var f Frame
		if err := c.conn.ReadJSON(&f); err != nil {
			return
		}
		if c.addr == "" {
			if f.Kind != FrameRegister || f.Address == "" {
				return
			}
			if !c.srv.register(f.Address, c) {
				c.enqueue(Frame{Kind: FrameError, Address: f.Address, Reason: ReasonAddressTaken})
				return
			}
			c.addr = f.Address
			c.enqueue(Frame{Kind: FrameRegistered, Address: f.Address})
			log.Printf("relay: registered %s", f.Address)
			continue
		}
		c.srv.handleFrame(c, f)
	}
}

func (c *client) writePump() {
	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()
	for {
		select {
		case f, ok := <-c.out:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(f); err != nil {
				return
			}
		case <-ping.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *client) enqueue(f Frame) {
	select {
	case c.out <- f:
	default:
		// slow consumer: drop, links are best effort
	}
}

func (c *client) close() {
	c.once.Do(func() {
		_ = c.conn.Close()
		close(c.out)
		if c.addr != "" {
			c.srv.unregister(c)
		}
	})
}

func (s *Server) register(addr protocol.PeerAddress, c *client) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, taken := s.clients[addr]; taken {
		return false
	}
	s.clients[addr] = c
	return true
}

func (s *Server) unregister(c *client) {
	s.mu.Lock()
	if s.clients[c.addr] == c {
		delete(s.clients, c.addr)
	}
	var linked []*client
	for addr := range c.links {
		if peer, ok := s.clients[addr]; ok {
			delete(peer.links, c.addr)
			linked = append(linked, peer)
		}
	}
	s.mu.Unlock()

	for _, peer := range linked {
		peer.enqueue(Frame{Kind: FramePeerGone, Address: c.addr})
	}
	log.Printf("relay: released %s", c.addr)
}

func (s *Server) handleFrame(c *client, f Frame) {
	switch f.Kind {
	case FrameConnect:
		s.mu.Lock()
		peer, ok := s.clients[f.Target]
		if ok {
			c.links[f.Target] = struct{}{}
			peer.links[c.addr] = struct{}{}
		}
		s.mu.Unlock()
		if !ok {
			c.enqueue(Frame{Kind: FrameError, Target: f.Target, Reason: ReasonPeerUnavailable})
			return
		}
		c.enqueue(Frame{Kind: FrameConnected, Address: f.Target})
		peer.enqueue(Frame{Kind: FrameConnected, Address: c.addr})

	case FrameSend:
		if f.Event == nil {
			return
		}
		s.mu.Lock()
		peer, ok := s.clients[f.Target]
		s.mu.Unlock()
		if ok {
			peer.enqueue(Frame{Kind: FrameEvent, Address: c.addr, Event: f.Event})
		}

	case FrameBroadcast:
		if f.Event == nil {
			return
		}
		s.mu.Lock()
		peers := make([]*client, 0, len(c.links))
		for addr := range c.links {
			if peer, ok := s.clients[addr]; ok {
				peers = append(peers, peer)
			}
		}
		s.mu.Unlock()
		for _, peer := range peers {
			peer.enqueue(Frame{Kind: FrameEvent, Address: c.addr, Event: f.Event})
		}
	}
}
