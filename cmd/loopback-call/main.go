// loopback-call negotiates a full audio session between two controllers in
// one process, wired through the in-memory relay. Useful as a smoke test for
// the whole negotiation path without a relay server or real devices.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/talkio/callkit/internal/call"
	"github.com/talkio/callkit/internal/domain"
	"github.com/talkio/callkit/internal/media"
	"github.com/talkio/callkit/internal/relay"
)

func newPeer(cfg call.Config, hub *relay.Memory, self domain.PeerID) *call.Controller {
	acq := media.NewAcquirer(media.StaticPermissions{Granted: true}, media.NewSilenceBackend())
	return call.NewController(cfg, acq, hub.Bind(self))
}

// wire pumps inbound envelopes into the controller the way an app's
// signaling loop would.
func wire(hub *relay.Memory, ctrl *call.Controller, self domain.PeerID) {
	sender := hub.Bind(self)
	hub.Register(self, func(e domain.Envelope) {
		switch e.Type {
		case domain.MsgOffer:
			answer, err := ctrl.ProcessOffer(relay.OfferDescription(e))
			if err != nil {
				log.Error().Err(err).Str("peer", string(self)).Msg("process offer")
				return
			}
			if err := sender.SendAnswer(e.From, answer); err != nil {
				log.Error().Err(err).Str("peer", string(self)).Msg("send answer")
			}
		case domain.MsgAnswer:
			if err := ctrl.ProcessAnswer(relay.AnswerDescription(e)); err != nil {
				log.Error().Err(err).Str("peer", string(self)).Msg("process answer")
			}
		case domain.MsgCandidate:
			if err := ctrl.AddICECandidate(relay.CandidateInit(e)); err != nil {
				log.Error().Err(err).Str("peer", string(self)).Msg("add candidate")
			}
		}
	})
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	// host candidates are enough inside one process
	cfg := call.DefaultConfig()
	cfg.ICEServers = nil

	hub := relay.NewMemory()
	alice := newPeer(cfg, hub, "alice")
	bob := newPeer(cfg, hub, "bob")
	defer alice.Cleanup()
	defer bob.Cleanup()

	wire(hub, alice, "alice")
	wire(hub, bob, "bob")

	for name, ctrl := range map[string]*call.Controller{"alice": alice, "bob": bob} {
		n := name
		ctrl.OnConnectionStateChange(func(s call.State) {
			log.Info().Str("peer", n).Str("state", string(s)).Msg("state change")
		})
		ctrl.OnRemoteStreamUpdate(func(rs *media.RemoteStream) {
			log.Info().Str("peer", n).Int("tracks", rs.Len()).Msg("remote stream update")
		})
		ctrl.OnError(func(err error) {
			log.Error().Err(err).Str("peer", n).Msg("call error")
		})
	}

	if err := alice.Initialize(ctx, "bob", media.Constraints{Audio: true}); err != nil {
		log.Fatal().Err(err).Msg("alice initialize")
	}
	if err := bob.Initialize(ctx, "alice", media.Constraints{Audio: true}); err != nil {
		log.Fatal().Err(err).Msg("bob initialize")
	}

	offer, err := alice.CreateOffer()
	if err != nil {
		log.Fatal().Err(err).Msg("create offer")
	}
	if err := hub.Bind("alice").SendOffer("bob", offer); err != nil {
		log.Fatal().Err(err).Msg("send offer")
	}

	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("shutting down")
			return
		case <-ticker.C:
			log.Info().
				Str("alice", string(alice.ConnectionState())).
				Str("bob", string(bob.ConnectionState())).
				Msg("session states")
		}
	}
}
