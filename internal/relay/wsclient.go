package relay

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/talkio/callkit/internal/domain"
)

var ErrBackpressure = errors.New("relay: send queue full")

const (
	wsWriteDeadline = 5 * time.Second
	wsSendQueue     = 32
)

// WSClient connects a peer to the signaling relay server over a websocket.
// It implements Sender for the outbound half and hands inbound envelopes
// to the handler set via OnEnvelope.
type WSClient struct {
	self domain.PeerID
	conn *websocket.Conn
	send chan domain.Envelope

	mu      sync.RWMutex
	handler Handler
	closed  bool
}

// DialWS connects to the relay server at url and announces self with a
// join envelope.
func DialWS(ctx context.Context, url string, self domain.PeerID) (*WSClient, error) {
	if err := self.Validate(); err != nil {
		return nil, err
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}

	c := &WSClient{
		self: self,
		conn: conn,
		send: make(chan domain.Envelope, wsSendQueue),
	}
	go c.writePump()
	go c.readPump()

	if err := c.enqueue(domain.Envelope{Type: domain.MsgJoin, From: self}); err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}

// OnEnvelope sets the inbound handler. Envelopes arriving before a handler
// is set are dropped with a warning.
func (c *WSClient) OnEnvelope(h Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handler = h
}

func (c *WSClient) SendOffer(to domain.PeerID, sdp webrtc.SessionDescription) error {
	return c.enqueue(offerEnvelope(c.self, to, sdp))
}

func (c *WSClient) SendAnswer(to domain.PeerID, sdp webrtc.SessionDescription) error {
	return c.enqueue(answerEnvelope(c.self, to, sdp))
}

func (c *WSClient) SendCandidate(to domain.PeerID, ci webrtc.ICECandidateInit) error {
	return c.enqueue(candidateEnvelope(c.self, to, ci))
}

func (c *WSClient) enqueue(e domain.Envelope) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrClosed
	}
	select {
	case c.send <- e:
		return nil
	default:
		return ErrBackpressure
	}
}

func (c *WSClient) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	c.mu.Unlock()
	_ = c.conn.Close()
}

func (c *WSClient) writePump() {
	for e := range c.send {
		data, err := json.Marshal(e)
		if err != nil {
			log.Error().Err(err).Str("module", "relay.ws").Msg("writePump marshal")
			continue
		}
		if err := c.conn.SetWriteDeadline(time.Now().Add(wsWriteDeadline)); err != nil {
			log.Error().Err(err).Str("module", "relay.ws").Msg("writePump set deadline")
			return
		}
		if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			log.Error().Err(err).Str("module", "relay.ws").Msg("writePump write error")
			return
		}
	}
}

func (c *WSClient) readPump() {
	defer c.Close()
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			log.Info().Err(err).Str("module", "relay.ws").Str("self", string(c.self)).Msg("readPump done")
			return
		}
		var e domain.Envelope
		if err := json.Unmarshal(data, &e); err != nil {
			log.Error().Err(err).Str("module", "relay.ws").Msg("readPump bad json")
			continue
		}
		c.mu.RLock()
		h := c.handler
		c.mu.RUnlock()
		if h == nil {
			log.Warn().Str("module", "relay.ws").Str("type", string(e.Type)).Msg("no handler, dropping envelope")
			continue
		}
		h(e)
	}
}
