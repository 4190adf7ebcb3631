// Package relay carries signaling envelopes between peers.
//
// The call core never reaches into a concrete transport: it is handed a
// Sender at session setup and pushes outbound negotiation messages through
// it. Inbound envelopes are delivered by whatever owns the transport and
// fed into the controller's ProcessOffer/ProcessAnswer/AddICECandidate.
package relay

import (
	"errors"

	"github.com/pion/webrtc/v4"

	"github.com/talkio/callkit/internal/domain"
)

var (
	ErrPeerUnknown = errors.New("relay: peer not registered")
	ErrClosed      = errors.New("relay: closed")
)

// Handler consumes envelopes delivered to one peer, in arrival order.
type Handler func(domain.Envelope)

// Sender is the outbound half of the signaling boundary.
type Sender interface {
	SendOffer(to domain.PeerID, sdp webrtc.SessionDescription) error
	SendAnswer(to domain.PeerID, sdp webrtc.SessionDescription) error
	SendCandidate(to domain.PeerID, c webrtc.ICECandidateInit) error
}

func offerEnvelope(from, to domain.PeerID, sdp webrtc.SessionDescription) domain.Envelope {
	return domain.Envelope{Type: domain.MsgOffer, From: from, To: to, SDP: sdp.SDP}
}

func answerEnvelope(from, to domain.PeerID, sdp webrtc.SessionDescription) domain.Envelope {
	return domain.Envelope{Type: domain.MsgAnswer, From: from, To: to, SDP: sdp.SDP}
}

func candidateEnvelope(from, to domain.PeerID, c webrtc.ICECandidateInit) domain.Envelope {
	return domain.Envelope{
		Type:          domain.MsgCandidate,
		From:          from,
		To:            to,
		Candidate:     c.Candidate,
		SDPMid:        c.SDPMid,
		SDPMLineIndex: c.SDPMLineIndex,
	}
}

// CandidateInit rebuilds the pion candidate from a candidate envelope.
func CandidateInit(e domain.Envelope) webrtc.ICECandidateInit {
	return webrtc.ICECandidateInit{
		Candidate:     e.Candidate,
		SDPMid:        e.SDPMid,
		SDPMLineIndex: e.SDPMLineIndex,
	}
}

// OfferDescription rebuilds the pion offer from an offer envelope.
func OfferDescription(e domain.Envelope) webrtc.SessionDescription {
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: e.SDP}
}

// AnswerDescription rebuilds the pion answer from an answer envelope.
func AnswerDescription(e domain.Envelope) webrtc.SessionDescription {
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: e.SDP}
}
