package call

import (
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/talkio/callkit/internal/domain"
)

// recover drives the bounded ICE-restart loop for the session stamped g.
// Each attempt sends a restart offer to the remote peer through the relay;
// the loop ends when the session reconnects, dies, or the attempt budget is
// spent, in which case ErrConnectionAbandoned goes to the error channel.
func (c *Controller) recover(g uint64) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.cfg.Recovery.InitialInterval
	bo.MaxInterval = c.cfg.Recovery.MaxInterval
	bo.MaxElapsedTime = 0
	bo.Reset()

	for attempt := 1; attempt <= c.cfg.Recovery.MaxAttempts; attempt++ {
		pc, to, ok := c.recoveryTarget(g)
		if !ok {
			return
		}

		metricRecoveryAttempts.Inc()
		log.Info().Str("module", "call").Int("attempt", attempt).Str("peer", string(to)).Msg("ice restart")

		offer, err := pc.CreateOffer(&webrtc.OfferOptions{ICERestart: true})
		if err == nil {
			err = pc.SetLocalDescription(offer)
		}
		if err == nil {
			err = c.sender.SendOffer(to, offer)
		}
		if err != nil {
			if c.staleGen(g) {
				return
			}
			wrapped := fmt.Errorf("%w: ice restart: %v", ErrNegotiationFailed, err)
			countError(wrapped)
			log.Error().Err(err).Str("module", "call").Int("attempt", attempt).Msg("ice restart failed")
			c.errN.Notify(wrapped)
		}

		time.Sleep(bo.NextBackOff())
	}

	c.mu.Lock()
	if c.sess == nil || c.sess.gen != g {
		c.mu.Unlock()
		return
	}
	c.sess.recovering = false
	recovered := c.sess.machine.Current() == StateConnected
	c.mu.Unlock()
	if recovered {
		return
	}

	countError(ErrConnectionAbandoned)
	log.Warn().Str("module", "call").Int("attempts", c.cfg.Recovery.MaxAttempts).Msg("recovery abandoned")
	c.errN.Notify(ErrConnectionAbandoned)
}

// recoveryTarget snapshots the connection to restart, or reports that the
// loop should stop (session gone, replaced, or already recovered).
func (c *Controller) recoveryTarget(g uint64) (*webrtc.PeerConnection, domain.PeerID, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sess == nil || c.sess.gen != g {
		return nil, "", false
	}
	st := c.sess.machine.Current()
	if st != StateDisconnected && st != StateFailed {
		c.sess.recovering = false
		return nil, "", false
	}
	return c.sess.pc, c.sess.remote, true
}
