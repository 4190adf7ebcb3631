// Package ws is the relay server's websocket transport: it accepts peer
// connections, tracks who is reachable and forwards addressed signaling
// envelopes between them. The relay never inspects SDP or candidates.
package ws

import (
	"errors"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/talkio/callkit/internal/domain"
)

var ErrBackpressure = errors.New("ws: backpressure")

// Conn wraps one peer's websocket with a bounded send queue.
type Conn struct {
	ws   *websocket.Conn
	send chan []byte

	mu     sync.RWMutex
	self   domain.PeerID
	closed bool
}

func newConn(ws *websocket.Conn, queue int) *Conn {
	return &Conn{ws: ws, send: make(chan []byte, queue)}
}

// TrySend enqueues a frame without blocking; a full queue is a slow client.
func (c *Conn) TrySend(frame []byte) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return errors.New("connection closed")
	}
	select {
	case c.send <- frame:
		return nil
	default:
		return ErrBackpressure
	}
}

func (c *Conn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	c.mu.Unlock()
	_ = c.ws.Close()
}

func (c *Conn) setSelf(id domain.PeerID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.self = id
}

func (c *Conn) Self() domain.PeerID {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.self
}

// Hub is the registry of joined peers.
type Hub struct {
	mu    sync.RWMutex
	peers map[domain.PeerID]*Conn
}

func NewHub() *Hub {
	return &Hub{peers: make(map[domain.PeerID]*Conn)}
}

// Bind registers conn under id. A previous connection for the same id is
// closed: last join wins.
func (h *Hub) Bind(id domain.PeerID, conn *Conn) {
	h.mu.Lock()
	prev := h.peers[id]
	h.peers[id] = conn
	h.mu.Unlock()

	if prev != nil && prev != conn {
		log.Warn().Str("module", "ws.hub").Str("peer", string(id)).Msg("replacing existing connection")
		prev.Close()
	}
	log.Info().Str("module", "ws.hub").Str("peer", string(id)).Msg("peer joined")
}

// Unbind removes id only if conn is still the registered connection.
func (h *Hub) Unbind(id domain.PeerID, conn *Conn) {
	h.mu.Lock()
	if h.peers[id] == conn {
		delete(h.peers, id)
	}
	h.mu.Unlock()
	log.Info().Str("module", "ws.hub").Str("peer", string(id)).Msg("peer left")
}

func (h *Hub) Get(id domain.PeerID) (*Conn, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	c, ok := h.peers[id]
	return c, ok
}

func (h *Hub) Peers() []domain.PeerID {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]domain.PeerID, 0, len(h.peers))
	for id := range h.peers {
		out = append(out, id)
	}
	return out
}
