package relay

import (
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/talkio/callkit/internal/domain"
)

// Memory is an in-process relay hub: addressed, ordered, synchronous
// delivery. It backs tests and the loopback demo; production peers talk
// through the websocket relay instead.
type Memory struct {
	mu       sync.RWMutex
	handlers map[domain.PeerID]Handler
}

func NewMemory() *Memory {
	return &Memory{handlers: make(map[domain.PeerID]Handler)}
}

// Register binds h as the inbox of id, replacing any previous handler.
func (m *Memory) Register(id domain.PeerID, h Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[id] = h
}

func (m *Memory) Unregister(id domain.PeerID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.handlers, id)
}

// Deliver routes e to its destination handler. Delivery is synchronous so
// envelope order per destination matches send order.
func (m *Memory) Deliver(e domain.Envelope) error {
	m.mu.RLock()
	h, ok := m.handlers[e.To]
	m.mu.RUnlock()
	if !ok {
		log.Warn().Str("module", "relay").Str("to", string(e.To)).Str("type", string(e.Type)).Msg("deliver: unknown peer")
		return ErrPeerUnknown
	}
	h(e)
	return nil
}

// Bind returns a Sender that stamps outbound envelopes with from.
func (m *Memory) Bind(from domain.PeerID) Sender {
	return &memorySender{hub: m, from: from}
}

type memorySender struct {
	hub  *Memory
	from domain.PeerID
}

func (s *memorySender) SendOffer(to domain.PeerID, sdp webrtc.SessionDescription) error {
	return s.hub.Deliver(offerEnvelope(s.from, to, sdp))
}

func (s *memorySender) SendAnswer(to domain.PeerID, sdp webrtc.SessionDescription) error {
	return s.hub.Deliver(answerEnvelope(s.from, to, sdp))
}

func (s *memorySender) SendCandidate(to domain.PeerID, c webrtc.ICECandidateInit) error {
	return s.hub.Deliver(candidateEnvelope(s.from, to, c))
}
