// Package http exposes the local introspection server: liveness, Prometheus
// metrics and a state snapshot for debugging a running session. It is bound
// to localhost and carries no room data mutation endpoints.
package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/kotkoti/voiceroom/internal/config"
	"github.com/kotkoti/voiceroom/internal/session"
)

func SetupRouter(cfg *config.Config, sess *session.Coordinator, gatherer prometheus.Gatherer) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	r.GET("/state", func(c *gin.Context) {
		view := sess.Registry()
		c.JSON(http.StatusOK, gin.H{
			"room":         view.Room,
			"seats":        view.Seats,
			"participants": view.Participants,
			"pendingSeat":  view.PendingSeat,
			"role":         sess.Role(),
			"transport":    sess.TransportState().String(),
			"speakers":     sess.Speakers(),
		})
	})

	r.GET("/requests", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"requests": sess.PendingRequests()})
	})

	log.Info().Str("module", "adapters.http").Msg("debug router setup")
	return r
}
