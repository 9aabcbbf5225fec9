package http

import (
	"context"
	"net/http"

	"github.com/dkeye/Mesh/internal/adapters/signal"
	"github.com/dkeye/Mesh/internal/app/orch"
	"github.com/dkeye/Mesh/internal/config"
	"github.com/dkeye/Mesh/internal/domain"
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

const (
	sessionName   = "MeshSessions"
	sessionPeer   = "peer_id"
	sessionMaxAge = 3600 * 24 * 7
)

// ClientTokenMiddleware gives every caller a stable identity kept in the
// signed session cookie. The rendezvous server is the only issuer.
func ClientTokenMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		s := sessions.Default(c)
		token, _ := s.Get(sessionPeer).(string)
		if token == "" {
			token = string(domain.NewPeerID())
			s.Set(sessionPeer, token)
			if err := s.Save(); err != nil {
				log.Error().Err(err).Str("module", "adapters.http").Msg("save session")
			}
		}
		c.Set(signal.ClientTokenKey, token)
		c.Next()
	}
}

func SetupRouter(ctx context.Context, cfg *config.Config, o *orch.Orchestrator) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	store := cookie.NewStore([]byte(cfg.Secret))
	store.Options(sessions.Options{Path: "/", MaxAge: sessionMaxAge, HttpOnly: true, SameSite: http.SameSiteLaxMode})
	r.Use(sessions.Sessions(sessionName, store))
	r.Use(ClientTokenMiddleware())

	r.Static("/static", cfg.StaticPath)
	r.GET("/", func(c *gin.Context) {
		c.File(cfg.StaticPath + "/index.html")
	})

	log.Info().Str("module", "adapters.http").Str("static", cfg.StaticPath).Msg("router setup")

	api := r.Group("/api")

	api.GET("/rooms", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"rooms": o.Rooms.List()})
	})

	api.GET("/rooms/:name", func(c *gin.Context) {
		room, ok := o.Rooms.Get(domain.RoomName(c.Param("name")))
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "room not found"})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"name":    room.Room().Name,
			"members": room.MembersSnapshot(),
		})
	})

	api.DELETE("/rooms/:name", func(c *gin.Context) {
		name := domain.RoomName(c.Param("name"))
		if _, ok := o.Rooms.Get(name); !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "room not found"})
			return
		}
		o.EvictRoom(name)
		log.Info().Str("module", "adapters.http").Str("room", string(name)).Msg("room evicted")
		c.Status(http.StatusNoContent)
	})

	ctrl := signal.NewSignalWSController(o, signal.ServerOptions{
		Options: signal.Options{
			ReadLimit:  cfg.ReadLimit,
			PingPeriod: cfg.PingPeriod,
			SendBuffer: cfg.SendBuffer,
		},
		JoinLimit:  cfg.JoinRateLimit,
		JoinWindow: cfg.JoinRateWindow,
	})
	api.GET("/ws/signal", func(c *gin.Context) {
		log.Debug().Str("module", "adapters.http").Str("peer", c.GetString(signal.ClientTokenKey)).Msg("ws signal endpoint hit")
		ctrl.HandleSignal(ctx, c)
	})

	return r
}
