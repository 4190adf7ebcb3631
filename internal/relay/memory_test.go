package relay

import (
	"testing"

	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talkio/callkit/internal/domain"
)

func TestMemoryDeliversAddressed(t *testing.T) {
	hub := NewMemory()
	var gotA, gotB []domain.Envelope
	hub.Register("a", func(e domain.Envelope) { gotA = append(gotA, e) })
	hub.Register("b", func(e domain.Envelope) { gotB = append(gotB, e) })

	sender := hub.Bind("a")
	require.NoError(t, sender.SendOffer("b", webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0"}))

	require.Len(t, gotB, 1)
	assert.Empty(t, gotA)
	assert.Equal(t, domain.MsgOffer, gotB[0].Type)
	assert.Equal(t, domain.PeerID("a"), gotB[0].From)
	assert.Equal(t, "v=0", gotB[0].SDP)
}

func TestMemoryPreservesOrder(t *testing.T) {
	hub := NewMemory()
	var got []domain.MessageType
	hub.Register("b", func(e domain.Envelope) { got = append(got, e.Type) })

	sender := hub.Bind("a")
	require.NoError(t, sender.SendOffer("b", webrtc.SessionDescription{SDP: "o"}))
	mid := "0"
	idx := uint16(0)
	require.NoError(t, sender.SendCandidate("b", webrtc.ICECandidateInit{Candidate: "c1", SDPMid: &mid, SDPMLineIndex: &idx}))
	require.NoError(t, sender.SendCandidate("b", webrtc.ICECandidateInit{Candidate: "c2", SDPMid: &mid, SDPMLineIndex: &idx}))

	assert.Equal(t, []domain.MessageType{domain.MsgOffer, domain.MsgCandidate, domain.MsgCandidate}, got)
}

func TestMemoryUnknownPeer(t *testing.T) {
	hub := NewMemory()
	sender := hub.Bind("a")

	err := sender.SendAnswer("ghost", webrtc.SessionDescription{SDP: "v=0"})
	assert.ErrorIs(t, err, ErrPeerUnknown)
}

func TestMemoryUnregister(t *testing.T) {
	hub := NewMemory()
	var got int
	hub.Register("b", func(domain.Envelope) { got++ })
	hub.Unregister("b")

	err := hub.Bind("a").SendOffer("b", webrtc.SessionDescription{SDP: "v=0"})
	assert.ErrorIs(t, err, ErrPeerUnknown)
	assert.Zero(t, got)
}

func TestCandidateRoundTrip(t *testing.T) {
	mid := "audio"
	idx := uint16(0)
	in := webrtc.ICECandidateInit{Candidate: "candidate:1 1 udp 1 127.0.0.1 5000 typ host", SDPMid: &mid, SDPMLineIndex: &idx}

	e := candidateEnvelope("a", "b", in)
	out := CandidateInit(e)
	assert.Equal(t, in, out)
}
