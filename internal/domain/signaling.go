package domain

import "errors"

// MessageType tags a signaling envelope. The set mirrors what a call
// negotiation actually exchanges; anything else is relay housekeeping.
type MessageType string

const (
	MsgJoin      MessageType = "join"
	MsgOffer     MessageType = "offer"
	MsgAnswer    MessageType = "answer"
	MsgCandidate MessageType = "candidate"
	MsgBye       MessageType = "bye"
	MsgPing      MessageType = "ping"
	MsgPong      MessageType = "pong"
)

var ErrBadEnvelope = errors.New("bad signaling envelope")

// Envelope is the single wire shape carried by the signaling relay.
// Offer/Answer fill SDP; Candidate fills Candidate/SDPMid/SDPMLineIndex.
// Envelopes are transient: they exist only in transit, never persisted.
type Envelope struct {
	Type MessageType `json:"type"`
	From PeerID      `json:"from,omitempty"`
	To   PeerID      `json:"to,omitempty"`

	SDP string `json:"sdp,omitempty"`

	Candidate     string  `json:"candidate,omitempty"`
	SDPMid        *string `json:"sdpMid,omitempty"`
	SDPMLineIndex *uint16 `json:"sdpMLineIndex,omitempty"`
}

// Validate checks the fields the relay needs to route the envelope.
func (e *Envelope) Validate() error {
	switch e.Type {
	case MsgOffer, MsgAnswer:
		if e.SDP == "" || e.To == "" {
			return ErrBadEnvelope
		}
	case MsgCandidate:
		if e.Candidate == "" || e.To == "" {
			return ErrBadEnvelope
		}
	case MsgJoin, MsgBye, MsgPing, MsgPong:
	default:
		return ErrBadEnvelope
	}
	return nil
}
