package call

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talkio/callkit/internal/domain"
	"github.com/talkio/callkit/internal/media"
)

// recordingSender captures outbound signaling instead of delivering it, so
// restart offers can be observed without a remote peer.
type recordingSender struct {
	mu     sync.Mutex
	offers []webrtc.SessionDescription
}

func (s *recordingSender) SendOffer(_ domain.PeerID, sdp webrtc.SessionDescription) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.offers = append(s.offers, sdp)
	return nil
}

func (s *recordingSender) SendAnswer(domain.PeerID, webrtc.SessionDescription) error { return nil }

func (s *recordingSender) SendCandidate(domain.PeerID, webrtc.ICECandidateInit) error { return nil }

func (s *recordingSender) offerCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.offers)
}

func newRecoveryController(t *testing.T, sender *recordingSender, policy RecoveryPolicy) (*Controller, uint64) {
	t.Helper()
	acq := media.NewAcquirer(grantedPerms{}, media.NewSilenceBackend())
	c := NewController(Config{Recovery: policy}, acq, sender)
	t.Cleanup(c.Cleanup)

	require.NoError(t, c.Initialize(context.Background(), "bob", media.Constraints{Audio: true}))

	c.mu.Lock()
	g := c.sess.gen
	c.mu.Unlock()
	return c, g
}

func fastRecovery() RecoveryPolicy {
	return RecoveryPolicy{
		MaxAttempts:     2,
		InitialInterval: time.Millisecond,
		MaxInterval:     5 * time.Millisecond,
	}
}

func TestRecoverySendsRestartOfferOnDisconnect(t *testing.T) {
	sender := &recordingSender{}
	c, g := newRecoveryController(t, sender, fastRecovery())

	c.handleConnectionState(g, webrtc.PeerConnectionStateConnecting)
	c.handleConnectionState(g, webrtc.PeerConnectionStateDisconnected)

	require.Eventually(t, func() bool {
		return sender.offerCount() >= 1
	}, 5*time.Second, 5*time.Millisecond, "a restart offer must reach the relay")
	assert.Equal(t, StateDisconnected, c.ConnectionState())
}

func TestRecoveryAbandonsAfterMaxAttempts(t *testing.T) {
	sender := &recordingSender{}
	c, g := newRecoveryController(t, sender, fastRecovery())

	var mu sync.Mutex
	var errs []error
	c.OnError(func(err error) {
		mu.Lock()
		errs = append(errs, err)
		mu.Unlock()
	})

	c.handleConnectionState(g, webrtc.PeerConnectionStateConnecting)
	c.handleConnectionState(g, webrtc.PeerConnectionStateDisconnected)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		for _, err := range errs {
			if errors.Is(err, ErrConnectionAbandoned) {
				return true
			}
		}
		return false
	}, 5*time.Second, 5*time.Millisecond, "exhausted recovery must surface abandonment")

	assert.Equal(t, 2, sender.offerCount(), "one restart offer per attempt")

	c.mu.Lock()
	recovering := c.sess.recovering
	c.mu.Unlock()
	assert.False(t, recovering, "the loop must release the recovering flag")
}

func TestRecoveryDisabledWhenNoAttempts(t *testing.T) {
	sender := &recordingSender{}
	c, g := newRecoveryController(t, sender, RecoveryPolicy{})

	c.handleConnectionState(g, webrtc.PeerConnectionStateConnecting)
	c.handleConnectionState(g, webrtc.PeerConnectionStateDisconnected)

	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, sender.offerCount(), "zero attempts means no restart traffic")
	assert.Equal(t, StateDisconnected, c.ConnectionState())
}
