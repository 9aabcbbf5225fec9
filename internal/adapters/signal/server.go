package signal

import (
	"context"
	"net/http"
	"time"

	"github.com/dkeye/Mesh/internal/app/orch"
	"github.com/dkeye/Mesh/internal/core"
	"github.com/dkeye/Mesh/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// ClientTokenKey is the gin context key carrying the caller's identity.
const ClientTokenKey = "client_token"

// ServerOptions configure the rendezvous side of the signaling channel.
type ServerOptions struct {
	Options
	JoinLimit  int
	JoinWindow time.Duration
}

type SignalWSController struct {
	Orch    *orch.Orchestrator
	Limiter *JoinRateLimiter
	opts    Options
}

func NewSignalWSController(o *orch.Orchestrator, opts ServerOptions) *SignalWSController {
	window := opts.JoinWindow
	if window <= 0 {
		window = 10 * time.Second
	}
	return &SignalWSController{
		Orch:    o,
		Limiter: NewJoinRateLimiter(opts.JoinLimit, window),
		opts:    opts.Options.withDefaults(),
	}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// HandleSignal upgrades the request and serves the caller until the socket
// closes, ctx ends, or the same identity connects again.
func (ctl *SignalWSController) HandleSignal(ctx context.Context, c *gin.Context) {
	id := domain.PeerID(c.GetString(ClientTokenKey))
	if id == "" {
		c.AbortWithStatus(http.StatusUnauthorized)
		return
	}
	logger := log.With().Str("module", "signal").Str("peer", string(id)).Logger()
	logger.Info().Msg("new WS connection")

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Error().Err(err).Msg("ws upgrade")
		return
	}

	conn := NewWsSignalConn(ws, ctl.opts, logger)
	peer := ctl.Orch.Registry.GetOrCreatePeer(id)
	sess := core.NewMemberSession(domain.NewMember(peer)).UpdateSignal(conn)
	ctx, cancel := context.WithCancel(ctx)
	// a reconnect under the same identity starts outside any room
	ctl.Orch.Leave(id)
	ctl.Orch.Registry.BindSignal(id, sess, cancel)

	go conn.writePump(ctx)
	go func() {
		defer cancel()
		err := conn.readPump(ctx, func(data []byte) { ctl.handleSignal(id, conn, data) })
		if err != nil {
			logger.Debug().Err(err).Msg("readPump closed")
		}
		if ctl.Orch.Disconnect(id, sess) {
			logger.Info().Msg("disconnected")
		}
	}()
}
