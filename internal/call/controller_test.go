package call

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talkio/callkit/internal/domain"
	"github.com/talkio/callkit/internal/media"
	"github.com/talkio/callkit/internal/relay"
)

type grantedPerms struct{}

func (grantedPerms) MicrophoneGranted(context.Context) (bool, error) { return true, nil }

type deniedPerms struct{}

func (deniedPerms) MicrophoneGranted(context.Context) (bool, error) { return false, nil }

// testConfig keeps negotiation inside the process: host candidates only,
// recovery disabled so tests control every transition.
func testConfig() Config {
	return Config{}
}

func newTestController(hub *relay.Memory, self domain.PeerID) *Controller {
	acq := media.NewAcquirer(grantedPerms{}, media.NewSilenceBackend())
	return NewController(testConfig(), acq, hub.Bind(self))
}

// wirePeer glues a controller to its memory-relay inbox the way an
// application event loop would: offers are answered, answers applied,
// candidates trickled in.
func wirePeer(t *testing.T, hub *relay.Memory, ctrl *Controller, self domain.PeerID) {
	t.Helper()
	sender := hub.Bind(self)
	hub.Register(self, func(e domain.Envelope) {
		switch e.Type {
		case domain.MsgOffer:
			answer, err := ctrl.ProcessOffer(relay.OfferDescription(e))
			if err != nil {
				t.Errorf("process offer: %v", err)
				return
			}
			if err := sender.SendAnswer(e.From, answer); err != nil {
				t.Errorf("send answer: %v", err)
			}
		case domain.MsgAnswer:
			if err := ctrl.ProcessAnswer(relay.AnswerDescription(e)); err != nil {
				t.Errorf("process answer: %v", err)
			}
		case domain.MsgCandidate:
			if err := ctrl.AddICECandidate(relay.CandidateInit(e)); err != nil {
				t.Errorf("add candidate: %v", err)
			}
		}
	})
}

func TestInitializeHappyPath(t *testing.T) {
	hub := relay.NewMemory()
	c := newTestController(hub, "alice")
	defer c.Cleanup()

	var localUpdates atomic.Int32
	c.OnLocalStreamUpdate(func(*media.LocalStream) { localUpdates.Add(1) })

	err := c.Initialize(context.Background(), "bob", media.Constraints{Audio: true})
	require.NoError(t, err)

	assert.Equal(t, StateNew, c.ConnectionState())
	require.NotNil(t, c.LocalStream())
	require.Len(t, c.LocalStream().Tracks(), 1)
	assert.Equal(t, media.KindAudio, c.LocalStream().Tracks()[0].Kind())
	require.NotNil(t, c.RemoteStream())
	assert.Equal(t, 0, c.RemoteStream().Len(), "remote stream starts empty but allocated")
	assert.Equal(t, int32(1), localUpdates.Load())
}

func TestInitializePermissionDenied(t *testing.T) {
	hub := relay.NewMemory()
	acq := media.NewAcquirer(deniedPerms{}, media.NewSilenceBackend())
	c := NewController(testConfig(), acq, hub.Bind("alice"))

	err := c.Initialize(context.Background(), "bob", media.Constraints{Audio: true})
	require.ErrorIs(t, err, media.ErrPermissionDenied)

	assert.Nil(t, c.LocalStream(), "no partial resources after a failed initialize")
	assert.Nil(t, c.RemoteStream())
}

func TestInitializeDeviceFailureRollsBack(t *testing.T) {
	hub := relay.NewMemory()
	// the silence backend has no video device, so audio+video must fail
	acq := media.NewAcquirer(grantedPerms{}, media.NewSilenceBackend())
	c := NewController(testConfig(), acq, hub.Bind("alice"))

	err := c.Initialize(context.Background(), "bob", media.Constraints{Audio: true, Video: true})
	require.ErrorIs(t, err, media.ErrDeviceUnavailable)
	assert.Nil(t, c.LocalStream())
}

func TestInitializeWhileActive(t *testing.T) {
	hub := relay.NewMemory()
	c := newTestController(hub, "alice")
	defer c.Cleanup()

	require.NoError(t, c.Initialize(context.Background(), "bob", media.Constraints{Audio: true}))

	err := c.Initialize(context.Background(), "bob", media.Constraints{Audio: true})
	assert.ErrorIs(t, err, ErrAlreadyActive)
}

func TestCreateOfferWithoutSession(t *testing.T) {
	hub := relay.NewMemory()
	c := newTestController(hub, "alice")

	var errCount atomic.Int32
	c.OnError(func(error) { errCount.Add(1) })

	_, err := c.CreateOffer()
	require.ErrorIs(t, err, ErrNoActiveSession)
	assert.Equal(t, int32(1), errCount.Load(), "exactly one error notification")
}

func TestCandidateQueuedBeforeRemoteDescription(t *testing.T) {
	hub := relay.NewMemory()
	c := newTestController(hub, "alice")
	defer c.Cleanup()

	require.NoError(t, c.Initialize(context.Background(), "bob", media.Constraints{Audio: true}))

	mid := "0"
	idx := uint16(0)
	err := c.AddICECandidate(webrtc.ICECandidateInit{Candidate: "candidate:1 1 udp 2130706431 127.0.0.1 54321 typ host", SDPMid: &mid, SDPMLineIndex: &idx})
	require.NoError(t, err, "early candidates queue instead of failing")

	c.mu.Lock()
	queued := len(c.sess.pending)
	c.mu.Unlock()
	assert.Equal(t, 1, queued)
}

func TestMalformedCandidateRejected(t *testing.T) {
	hub := relay.NewMemory()
	a := newTestController(hub, "alice")
	b := newTestController(hub, "bob")
	defer a.Cleanup()
	defer b.Cleanup()

	require.NoError(t, a.Initialize(context.Background(), "bob", media.Constraints{Audio: true}))
	require.NoError(t, b.Initialize(context.Background(), "alice", media.Constraints{Audio: true}))

	offer, err := a.CreateOffer()
	require.NoError(t, err)
	_, err = b.ProcessOffer(offer)
	require.NoError(t, err)

	err = b.AddICECandidate(webrtc.ICECandidateInit{Candidate: "not a candidate"})
	require.ErrorIs(t, err, ErrCandidateFailed)
	assert.NotErrorIs(t, err, ErrNegotiationFailed, "a bad candidate is not a negotiation failure")
}

func TestCleanupIdempotent(t *testing.T) {
	hub := relay.NewMemory()
	c := newTestController(hub, "alice")

	require.NoError(t, c.Initialize(context.Background(), "bob", media.Constraints{Audio: true}))
	local := c.LocalStream()
	require.NotNil(t, local)

	c.Cleanup()
	assert.Equal(t, StateClosed, c.ConnectionState())
	for _, tr := range local.Tracks() {
		assert.True(t, tr.Stopped(), "every capture track must be released")
	}

	require.NotPanics(t, func() { c.Cleanup() })
	assert.Equal(t, StateClosed, c.ConnectionState())
}

func TestCleanupWithoutSession(t *testing.T) {
	hub := relay.NewMemory()
	c := newTestController(hub, "alice")

	require.NotPanics(t, func() { c.Cleanup() })
	assert.Equal(t, StateNew, c.ConnectionState())
}

func TestReinitializeAfterCleanup(t *testing.T) {
	hub := relay.NewMemory()
	c := newTestController(hub, "alice")
	defer c.Cleanup()

	require.NoError(t, c.Initialize(context.Background(), "bob", media.Constraints{Audio: true}))
	c.Cleanup()

	require.NoError(t, c.Initialize(context.Background(), "bob", media.Constraints{Audio: true}))
	assert.Equal(t, StateNew, c.ConnectionState())
}

func TestStaleOperationAfterCleanup(t *testing.T) {
	hub := relay.NewMemory()
	c := newTestController(hub, "alice")

	require.NoError(t, c.Initialize(context.Background(), "bob", media.Constraints{Audio: true}))
	c.mu.Lock()
	g := c.sess.gen
	c.mu.Unlock()

	c.Cleanup()
	assert.True(t, c.staleGen(g), "cleanup must invalidate the session generation")
}

func TestUnsubscribeTargetsSingleHandler(t *testing.T) {
	hub := relay.NewMemory()
	c := newTestController(hub, "alice")

	var first, second atomic.Int32
	reg := c.OnError(func(error) { first.Add(1) })
	c.OnError(func(error) { second.Add(1) })

	_, _ = c.CreateOffer() // no session -> one notification to both
	require.Equal(t, int32(1), first.Load())
	require.Equal(t, int32(1), second.Load())

	c.UnsubscribeError(reg)
	_, _ = c.CreateOffer()
	assert.Equal(t, int32(1), first.Load(), "removed handler stays silent")
	assert.Equal(t, int32(2), second.Load(), "remaining handler still fires")
}

func TestTwoControllersNegotiateAndConnect(t *testing.T) {
	if testing.Short() {
		t.Skip("full ICE negotiation")
	}

	hub := relay.NewMemory()
	a := newTestController(hub, "alice")
	b := newTestController(hub, "bob")
	defer a.Cleanup()
	defer b.Cleanup()

	wirePeer(t, hub, a, "alice")
	wirePeer(t, hub, b, "bob")

	require.NoError(t, a.Initialize(context.Background(), "bob", media.Constraints{Audio: true}))
	require.NoError(t, b.Initialize(context.Background(), "alice", media.Constraints{Audio: true}))

	var bRemoteUpdates atomic.Int32
	b.OnRemoteStreamUpdate(func(*media.RemoteStream) { bRemoteUpdates.Add(1) })

	offer, err := a.CreateOffer()
	require.NoError(t, err)
	require.NoError(t, hub.Bind("alice").SendOffer("bob", offer))

	require.Eventually(t, func() bool {
		return a.ConnectionState() == StateConnected && b.ConnectionState() == StateConnected
	}, 30*time.Second, 100*time.Millisecond, "both sides should reach Connected")

	require.Eventually(t, func() bool {
		return bRemoteUpdates.Load() >= 1
	}, 30*time.Second, 100*time.Millisecond, "remote stream update should fire")

	// one audio track from A means exactly one update on B
	time.Sleep(500 * time.Millisecond)
	assert.Equal(t, int32(1), bRemoteUpdates.Load())
	require.NotNil(t, b.RemoteStream())
	assert.Equal(t, 1, b.RemoteStream().Len())
	assert.Equal(t, webrtc.RTPCodecTypeAudio, b.RemoteStream().Tracks()[0].Kind())
}
