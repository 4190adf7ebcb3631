package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog/log"

	"github.com/talkio/callkit/internal/config"
	"github.com/talkio/callkit/internal/domain"
)

var metricForwarded = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "callkit",
	Subsystem: "relay",
	Name:      "envelopes_forwarded_total",
	Help:      "Signaling envelopes forwarded by type.",
}, []string{"type"})

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

const defaultPingPeriod = 54 * time.Second

// Controller owns the websocket signaling endpoint.
type Controller struct {
	Hub *Hub
	Cfg *config.Config
}

func NewController(hub *Hub, cfg *config.Config) *Controller {
	return &Controller{Hub: hub, Cfg: cfg}
}

// HandleSignal upgrades the request and runs the connection's pumps. The
// peer becomes routable once its join envelope arrives.
func (ctl *Controller) HandleSignal(ctx context.Context, c *gin.Context) {
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "ws").Msg("upgrade")
		return
	}
	ws.SetReadLimit(ctl.Cfg.ReadLimit)

	conn := newConn(ws, 32)
	ctx, cancel := context.WithCancel(ctx)

	go ctl.writePump(ctx, conn)
	go ctl.readPump(ctx, cancel, conn)
}

func (ctl *Controller) writePump(ctx context.Context, c *Conn) {
	period := ctl.Cfg.PingPeriod
	if period <= 0 {
		period = defaultPingPeriod
	}
	ping := time.NewTicker(period)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ping.C:
			if err := c.ws.SetWriteDeadline(time.Now().Add(5 * time.Second)); err != nil {
				log.Error().Err(err).Str("module", "ws").Msg("writePump set deadline")
				return
			}
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Info().Err(err).Str("module", "ws").Str("peer", string(c.Self())).Msg("writePump ping")
				return
			}
		case data, ok := <-c.send:
			if !ok {
				return
			}
			if err := c.ws.SetWriteDeadline(time.Now().Add(5 * time.Second)); err != nil {
				log.Error().Err(err).Str("module", "ws").Msg("writePump set deadline")
				return
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "ws").Msg("writePump write error")
				return
			}
		}
	}
}

func (ctl *Controller) readPump(ctx context.Context, cancel context.CancelFunc, c *Conn) {
	defer func() {
		if self := c.Self(); self != "" {
			ctl.Hub.Unbind(self, c)
		}
		cancel()
		c.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		default:
			_, data, err := c.ws.ReadMessage()
			if err != nil {
				log.Info().Err(err).Str("module", "ws").Str("peer", string(c.Self())).Msg("readPump done")
				return
			}
			ctl.handleEnvelope(c, data)
		}
	}
}

func (ctl *Controller) handleEnvelope(c *Conn, data []byte) {
	var e domain.Envelope
	if err := json.Unmarshal(data, &e); err != nil {
		log.Error().Err(err).Str("module", "ws").Msg("bad json")
		return
	}

	switch e.Type {
	case domain.MsgJoin:
		if err := e.From.Validate(); err != nil {
			log.Warn().Err(err).Str("module", "ws").Msg("join with bad peer id")
			return
		}
		c.setSelf(e.From)
		ctl.Hub.Bind(e.From, c)
	case domain.MsgPing:
		ctl.sendJSON(c, domain.Envelope{Type: domain.MsgPong})
	case domain.MsgOffer, domain.MsgAnswer, domain.MsgCandidate, domain.MsgBye:
		ctl.forward(c, e)
	default:
		log.Warn().Str("module", "ws").Str("type", string(e.Type)).Msg("unknown envelope")
	}
}

// forward stamps the sender and relays the envelope to its addressee.
func (ctl *Controller) forward(c *Conn, e domain.Envelope) {
	self := c.Self()
	if self == "" {
		log.Warn().Str("module", "ws").Str("type", string(e.Type)).Msg("forward before join")
		return
	}
	e.From = self
	if err := e.Validate(); err != nil {
		log.Warn().Err(err).Str("module", "ws").Str("from", string(self)).Msg("invalid envelope")
		return
	}

	dst, ok := ctl.Hub.Get(e.To)
	if !ok {
		log.Warn().Str("module", "ws").Str("to", string(e.To)).Str("type", string(e.Type)).Msg("forward: unknown peer")
		return
	}
	ctl.sendJSON(dst, e)
	metricForwarded.WithLabelValues(string(e.Type)).Inc()
}

func (ctl *Controller) sendJSON(c *Conn, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("module", "ws").Msg("sendJSON marshal")
		return
	}
	if err := c.TrySend(b); err != nil {
		log.Warn().Err(err).Str("module", "ws").Str("peer", string(c.Self())).Msg("sendJSON dropped")
	}
}
