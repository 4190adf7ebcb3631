// Package call implements the peer-to-peer audio call session controller.
//
// A Controller owns at most one Session at a time: one peer connection, one
// local capture stream, one remote stream and one connection state. Signaling
// goes out through an injected relay.Sender; inbound signaling is fed in by
// the owner via ProcessOffer/ProcessAnswer/AddICECandidate.
package call

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/talkio/callkit/internal/domain"
	"github.com/talkio/callkit/internal/event"
	"github.com/talkio/callkit/internal/media"
	"github.com/talkio/callkit/internal/relay"
)

// RecoveryPolicy bounds the automatic ICE-restart loop. MaxAttempts == 0
// disables recovery entirely.
type RecoveryPolicy struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

type Config struct {
	// ICEServers are STUN/TURN URLs handed to the transport. Empty means
	// host candidates only.
	ICEServers []string
	Recovery   RecoveryPolicy
}

func DefaultConfig() Config {
	return Config{
		ICEServers: []string{"stun:stun.l.google.com:19302"},
		Recovery: RecoveryPolicy{
			MaxAttempts:     5,
			InitialInterval: 500 * time.Millisecond,
			MaxInterval:     5 * time.Second,
		},
	}
}

// session aggregates everything one negotiation owns. The generation stamp
// lets continuations that outlive Cleanup detect staleness and become no-ops.
type session struct {
	gen    uint64
	remote domain.PeerID

	pc           *webrtc.PeerConnection
	local        *media.LocalStream
	remoteStream *media.RemoteStream
	machine      *stateMachine

	// candidates that arrived before the remote description; replayed on set
	pending        []webrtc.ICECandidateInit
	haveRemoteDesc bool
	recovering     bool
}

// Controller orchestrates one audio call session. Construct with
// NewController; a single instance is owned by its caller, never shared
// process-wide.
type Controller struct {
	cfg      Config
	acquirer *media.Acquirer
	sender   relay.Sender

	mu           sync.Mutex
	gen          uint64
	initializing bool
	sess         *session
	state        State

	stateN  *event.Notifier[State]
	remoteN *event.Notifier[*media.RemoteStream]
	localN  *event.Notifier[*media.LocalStream]
	errN    *event.Notifier[error]
}

func NewController(cfg Config, acquirer *media.Acquirer, sender relay.Sender) *Controller {
	return &Controller{
		cfg:      cfg,
		acquirer: acquirer,
		sender:   sender,
		state:    StateNew,
		stateN:   event.NewNotifier[State](),
		remoteN:  event.NewNotifier[*media.RemoteStream](),
		localN:   event.NewNotifier[*media.LocalStream](),
		errN:     event.NewNotifier[error](),
	}
}

// Initialize acquires permission-gated media, creates the peer connection,
// attaches every local track and allocates the (empty) remote stream. On any
// failure every partially acquired resource is released: no partial session
// survives. A second Initialize while a session is active returns
// ErrAlreadyActive.
func (c *Controller) Initialize(ctx context.Context, remote domain.PeerID, constraints media.Constraints) error {
	if err := remote.Validate(); err != nil {
		return err
	}

	c.mu.Lock()
	if c.sess != nil || c.initializing {
		c.mu.Unlock()
		countError(ErrAlreadyActive)
		return ErrAlreadyActive
	}
	c.initializing = true
	c.gen++
	g := c.gen
	c.mu.Unlock()

	local, err := c.acquirer.Acquire(ctx, constraints)
	if err != nil {
		c.abortInit()
		countError(err)
		return err
	}

	pc, err := c.newPeerConnection()
	if err != nil {
		local.StopAll()
		c.abortInit()
		return fmt.Errorf("create peer connection: %w", err)
	}

	// tracks attach before any offer can exist
	for _, t := range local.Tracks() {
		if _, err := pc.AddTrack(t.Track()); err != nil {
			local.StopAll()
			_ = pc.Close()
			c.abortInit()
			return fmt.Errorf("add local track: %w", err)
		}
	}

	sess := &session{
		gen:          g,
		remote:       remote,
		pc:           pc,
		local:        local,
		remoteStream: media.NewRemoteStream(uuid.NewString()),
		machine:      newStateMachine(),
	}

	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		c.handleConnectionState(g, s)
	})
	pc.OnTrack(func(tr *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		c.handleRemoteTrack(g, tr)
	})
	pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if cand == nil {
			// gathering-complete sentinel, never forwarded
			return
		}
		c.handleLocalCandidate(g, cand.ToJSON())
	})

	c.mu.Lock()
	if c.gen != g {
		// Cleanup ran while we were suspended in acquisition
		c.initializing = false
		c.mu.Unlock()
		local.StopAll()
		_ = pc.Close()
		return ErrNoActiveSession
	}
	c.sess = sess
	c.state = StateNew
	c.initializing = false
	c.mu.Unlock()

	metricSessionsStarted.Inc()
	log.Info().Str("module", "call").Str("peer", string(remote)).Str("stream_id", local.ID()).Msg("session initialized")
	c.localN.Notify(local)
	return nil
}

func (c *Controller) abortInit() {
	c.mu.Lock()
	c.initializing = false
	c.mu.Unlock()
}

func (c *Controller) newPeerConnection() (*webrtc.PeerConnection, error) {
	me := &webrtc.MediaEngine{}
	if err := me.RegisterDefaultCodecs(); err != nil {
		return nil, err
	}
	se := webrtc.SettingEngine{}
	se.LoggerFactory = newPionLoggerFactory()
	api := webrtc.NewAPI(webrtc.WithMediaEngine(me), webrtc.WithSettingEngine(se))

	cfg := webrtc.Configuration{}
	if len(c.cfg.ICEServers) > 0 {
		cfg.ICEServers = []webrtc.ICEServer{{URLs: c.cfg.ICEServers}}
	}
	return api.NewPeerConnection(cfg)
}

// CreateOffer generates an SDP offer and sets it as the local description.
// The offer carries the audio section only, matching the attached tracks.
func (c *Controller) CreateOffer() (webrtc.SessionDescription, error) {
	pc, g, err := c.sessionHandle()
	if err != nil {
		return webrtc.SessionDescription{}, err
	}

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, c.negotiationErr(g, "create offer", err)
	}
	if err := pc.SetLocalDescription(offer); err != nil {
		return webrtc.SessionDescription{}, c.negotiationErr(g, "set local offer", err)
	}
	if c.staleGen(g) {
		return webrtc.SessionDescription{}, ErrNoActiveSession
	}
	return offer, nil
}

// ProcessOffer applies an inbound offer, generates the answer and sets it as
// the local description. Candidates queued before the offer are replayed.
func (c *Controller) ProcessOffer(remote webrtc.SessionDescription) (webrtc.SessionDescription, error) {
	pc, g, err := c.sessionHandle()
	if err != nil {
		return webrtc.SessionDescription{}, err
	}

	if err := pc.SetRemoteDescription(remote); err != nil {
		return webrtc.SessionDescription{}, c.negotiationErr(g, "set remote offer", err)
	}
	c.flushPending(g)

	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, c.negotiationErr(g, "create answer", err)
	}
	if err := pc.SetLocalDescription(answer); err != nil {
		return webrtc.SessionDescription{}, c.negotiationErr(g, "set local answer", err)
	}
	if c.staleGen(g) {
		return webrtc.SessionDescription{}, ErrNoActiveSession
	}
	return answer, nil
}

// ProcessAnswer applies an inbound answer to the pending local offer.
func (c *Controller) ProcessAnswer(remote webrtc.SessionDescription) error {
	pc, g, err := c.sessionHandle()
	if err != nil {
		return err
	}
	if err := pc.SetRemoteDescription(remote); err != nil {
		return c.negotiationErr(g, "set remote answer", err)
	}
	c.flushPending(g)
	return nil
}

// AddICECandidate applies a trickled remote candidate. Candidates arriving
// before the remote description is set are queued and replayed once it is.
func (c *Controller) AddICECandidate(ci webrtc.ICECandidateInit) error {
	c.mu.Lock()
	if c.sess == nil {
		c.mu.Unlock()
		c.noSession()
		return ErrNoActiveSession
	}
	if !c.sess.haveRemoteDesc {
		c.sess.pending = append(c.sess.pending, ci)
		c.mu.Unlock()
		return nil
	}
	pc := c.sess.pc
	g := c.sess.gen
	c.mu.Unlock()

	if err := pc.AddICECandidate(ci); err != nil {
		if c.staleGen(g) {
			return ErrNoActiveSession
		}
		wrapped := fmt.Errorf("%w: %v", ErrCandidateFailed, err)
		countError(wrapped)
		log.Error().Err(err).Str("module", "call").Msg("add ice candidate")
		return wrapped
	}
	return nil
}

// Cleanup stops every local track, closes the peer connection and moves the
// state to Closed. Idempotent: a second call is a no-op. It also invalidates
// the session generation so suspended operations resolve harmlessly.
func (c *Controller) Cleanup() {
	c.mu.Lock()
	if c.sess == nil {
		if c.initializing {
			// abort the in-flight Initialize
			c.gen++
		}
		c.mu.Unlock()
		return
	}
	c.gen++
	s := c.sess
	c.sess = nil
	_, _ = s.machine.Apply(StateClosed)
	c.state = StateClosed
	c.mu.Unlock()

	s.local.StopAll()
	if err := s.pc.Close(); err != nil {
		log.Error().Err(err).Str("module", "call").Msg("close peer connection")
	} else {
		log.Info().Str("module", "call").Str("peer", string(s.remote)).Msg("session closed")
	}

	metricSessionsClosed.Inc()
	metricStateTransitions.WithLabelValues(string(StateClosed)).Inc()
	c.stateN.Notify(StateClosed)
}

// LocalStream returns the current local capture stream, nil without a session.
func (c *Controller) LocalStream() *media.LocalStream {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sess == nil {
		return nil
	}
	return c.sess.local
}

// RemoteStream returns the current remote stream, nil without a session.
func (c *Controller) RemoteStream() *media.RemoteStream {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sess == nil {
		return nil
	}
	return c.sess.remoteStream
}

func (c *Controller) ConnectionState() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) OnConnectionStateChange(fn func(State)) event.Registration {
	return c.stateN.Subscribe(fn)
}

func (c *Controller) UnsubscribeConnectionStateChange(reg event.Registration) {
	c.stateN.Unsubscribe(reg)
}

func (c *Controller) OnRemoteStreamUpdate(fn func(*media.RemoteStream)) event.Registration {
	return c.remoteN.Subscribe(fn)
}

func (c *Controller) UnsubscribeRemoteStreamUpdate(reg event.Registration) {
	c.remoteN.Unsubscribe(reg)
}

func (c *Controller) OnLocalStreamUpdate(fn func(*media.LocalStream)) event.Registration {
	return c.localN.Subscribe(fn)
}

func (c *Controller) UnsubscribeLocalStreamUpdate(reg event.Registration) {
	c.localN.Unsubscribe(reg)
}

func (c *Controller) OnError(fn func(error)) event.Registration {
	return c.errN.Subscribe(fn)
}

func (c *Controller) UnsubscribeError(reg event.Registration) {
	c.errN.Unsubscribe(reg)
}

// sessionHandle snapshots the live peer connection and its generation, or
// reports the missing session on the error channel.
func (c *Controller) sessionHandle() (*webrtc.PeerConnection, uint64, error) {
	c.mu.Lock()
	if c.sess == nil {
		c.mu.Unlock()
		c.noSession()
		return nil, 0, ErrNoActiveSession
	}
	pc := c.sess.pc
	g := c.sess.gen
	c.mu.Unlock()
	return pc, g, nil
}

func (c *Controller) noSession() {
	countError(ErrNoActiveSession)
	c.errN.Notify(ErrNoActiveSession)
}

// staleGen reports whether g no longer names the live session.
func (c *Controller) staleGen(g uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sess == nil || c.sess.gen != g
}

func (c *Controller) negotiationErr(g uint64, op string, err error) error {
	if c.staleGen(g) {
		// the session died under us; the failure is expected noise
		return ErrNoActiveSession
	}
	wrapped := fmt.Errorf("%w: %s: %v", ErrNegotiationFailed, op, err)
	countError(wrapped)
	log.Error().Err(err).Str("module", "call").Str("op", op).Msg("negotiation error")
	return wrapped
}

// flushPending marks the remote description set and replays queued
// candidates in arrival order.
func (c *Controller) flushPending(g uint64) {
	c.mu.Lock()
	if c.sess == nil || c.sess.gen != g {
		c.mu.Unlock()
		return
	}
	c.sess.haveRemoteDesc = true
	queued := c.sess.pending
	c.sess.pending = nil
	pc := c.sess.pc
	c.mu.Unlock()

	for _, ci := range queued {
		if err := pc.AddICECandidate(ci); err != nil {
			wrapped := fmt.Errorf("%w: replay queued candidate: %v", ErrCandidateFailed, err)
			countError(wrapped)
			log.Error().Err(err).Str("module", "call").Msg("replay queued candidate")
			c.errN.Notify(wrapped)
		}
	}
}

// handleConnectionState reacts to transport state changes: updates the
// machine, notifies subscribers and kicks off recovery on Disconnected or
// Failed.
func (c *Controller) handleConnectionState(g uint64, ps webrtc.PeerConnectionState) {
	target, ok := stateFromPion(ps)
	if !ok {
		return
	}
	if target == StateClosed {
		// Closed is entered by Cleanup, not by the transport
		return
	}

	c.mu.Lock()
	if c.sess == nil || c.sess.gen != g {
		c.mu.Unlock()
		return
	}
	changed, err := c.sess.machine.Apply(target)
	if err != nil {
		c.mu.Unlock()
		log.Warn().Err(err).Str("module", "call").Str("state", string(target)).Msg("illegal transport transition")
		return
	}
	if !changed {
		c.mu.Unlock()
		return
	}
	c.state = target
	startRecovery := false
	switch target {
	case StateConnected:
		c.sess.recovering = false
	case StateDisconnected, StateFailed:
		if !c.sess.recovering && c.cfg.Recovery.MaxAttempts > 0 {
			c.sess.recovering = true
			startRecovery = true
		}
	}
	c.mu.Unlock()

	metricStateTransitions.WithLabelValues(string(target)).Inc()
	log.Info().Str("module", "call").Str("state", string(target)).Msg("connection state")
	c.stateN.Notify(target)
	if target == StateFailed {
		countError(ErrConnectionFailed)
		c.errN.Notify(ErrConnectionFailed)
	}
	if startRecovery {
		go c.recover(g)
	}
}

// handleRemoteTrack appends a transport-delivered track to the remote stream.
func (c *Controller) handleRemoteTrack(g uint64, tr *webrtc.TrackRemote) {
	c.mu.Lock()
	if c.sess == nil || c.sess.gen != g {
		c.mu.Unlock()
		return
	}
	rs := c.sess.remoteStream
	c.mu.Unlock()

	rs.AddTrack(tr)
	log.Info().Str("module", "call").Str("kind", tr.Kind().String()).Str("track_id", tr.ID()).Msg("remote track")
	c.remoteN.Notify(rs)
}

// handleLocalCandidate forwards a gathered candidate to the remote peer
// through the injected sender.
func (c *Controller) handleLocalCandidate(g uint64, ci webrtc.ICECandidateInit) {
	c.mu.Lock()
	if c.sess == nil || c.sess.gen != g {
		c.mu.Unlock()
		return
	}
	to := c.sess.remote
	c.mu.Unlock()

	if err := c.sender.SendCandidate(to, ci); err != nil {
		wrapped := fmt.Errorf("%w: %v", ErrSignalingForward, err)
		countError(wrapped)
		log.Error().Err(err).Str("module", "call").Str("peer", string(to)).Msg("forward candidate")
		c.errN.Notify(wrapped)
	}
}
