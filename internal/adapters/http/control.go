package http

import (
	"errors"
	"net/http"

	"github.com/dkeye/Mesh/internal/app/conference"
	"github.com/dkeye/Mesh/internal/app/session"
	"github.com/dkeye/Mesh/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// Conference is what the control API drives; *conference.Coordinator
// satisfies it.
type Conference interface {
	Identity() (domain.PeerID, error)
	Peers() ([]domain.PeerID, error)
	SessionPhase(peer domain.PeerID) (session.Phase, bool, error)
	ToggleAudio() (bool, error)
	ToggleVideo() (bool, error)
	StartScreenShare() (bool, error)
	StopScreenShare() (bool, error)
	Sharing() (bool, error)
	Leave() error
}

type peerView struct {
	ID    domain.PeerID `json:"id"`
	Phase string        `json:"phase,omitempty"`
}

// SetupControlRouter exposes the local participant's controls.
func SetupControlRouter(conf Conference) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	api := r.Group("/api")

	api.GET("/peers", func(c *gin.Context) {
		self, err := conf.Identity()
		if err != nil {
			abort(c, err)
			return
		}
		ids, err := conf.Peers()
		if err != nil {
			abort(c, err)
			return
		}
		sharing, err := conf.Sharing()
		if err != nil {
			abort(c, err)
			return
		}
		peers := make([]peerView, 0, len(ids))
		for _, id := range ids {
			v := peerView{ID: id}
			if ph, ok, err := conf.SessionPhase(id); err == nil && ok {
				v.Phase = ph.String()
			}
			peers = append(peers, v)
		}
		c.JSON(http.StatusOK, gin.H{"self": self, "sharing": sharing, "peers": peers})
	})

	api.POST("/media/audio/toggle", func(c *gin.Context) {
		muted, err := conf.ToggleAudio()
		respond(c, err, gin.H{"muted": muted})
	})
	api.POST("/media/video/toggle", func(c *gin.Context) {
		muted, err := conf.ToggleVideo()
		respond(c, err, gin.H{"muted": muted})
	})
	api.POST("/screen/start", func(c *gin.Context) {
		sharing, err := conf.StartScreenShare()
		respond(c, err, gin.H{"sharing": sharing})
	})
	api.POST("/screen/stop", func(c *gin.Context) {
		was, err := conf.StopScreenShare()
		respond(c, err, gin.H{"stopped": was})
	})
	api.POST("/leave", func(c *gin.Context) {
		respond(c, conf.Leave(), gin.H{"left": true})
	})

	return r
}

func respond(c *gin.Context, err error, body gin.H) {
	if err != nil {
		abort(c, err)
		return
	}
	c.JSON(http.StatusOK, body)
}

func abort(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, conference.ErrStopped):
		status = http.StatusServiceUnavailable
	case errors.Is(err, conference.ErrNoTrack), errors.Is(err, conference.ErrNoDisplay):
		status = http.StatusConflict
	}
	log.Warn().Err(err).Str("module", "adapters.http").Str("path", c.FullPath()).Int("status", status).Msg("control request failed")
	c.AbortWithStatusJSON(status, gin.H{"error": err.Error()})
}
