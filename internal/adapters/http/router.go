package http

import (
	"context"
	"net/http"
	"slices"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/livecook/internal/adapters/signal"
	"github.com/dkeye/livecook/internal/app"
	"github.com/dkeye/livecook/internal/config"
	"github.com/dkeye/livecook/internal/domain"
	"github.com/dkeye/livecook/internal/metrics"
)

const guestSessionKey = "guest_id"

// GuestMiddleware keeps a stable guest id in the cookie session so clients
// that connect without a userId keep the same identity across reconnects.
func GuestMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		sess := sessions.Default(c)
		id, _ := sess.Get(guestSessionKey).(string)
		if id == "" {
			id = domain.NewGuestID()
			sess.Set(guestSessionKey, id)
			if err := sess.Save(); err != nil {
				log.Warn().Err(err).Str("module", "adapters.http").Msg("save guest session")
			}
		}
		c.Set(signal.GuestIDKey, id)
		c.Next()
	}
}

func corsConfig(cfg *config.Config) cors.Config {
	cc := cors.DefaultConfig()
	if len(cfg.AllowedOrigins) == 0 || slices.Contains(cfg.AllowedOrigins, "*") {
		cc.AllowAllOrigins = true
		return cc
	}
	cc.AllowOrigins = cfg.AllowedOrigins
	cc.AllowCredentials = true
	return cc
}

func SetupRouter(ctx context.Context, cfg *config.Config, orch *app.Orchestrator, m *metrics.Metrics) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())
	r.Use(cors.New(corsConfig(cfg)))

	store := cookie.NewStore([]byte(cfg.Secret))
	store.Options(sessions.Options{Path: "/", MaxAge: 3600 * 24 * 7, HttpOnly: true})
	r.Use(sessions.Sessions("LiveCookSessions", store))

	ctrl := signal.NewSignalWSController(orch, cfg, m)
	r.GET("/ws", GuestMiddleware(), func(c *gin.Context) {
		ctrl.HandleSignal(ctx, c)
	})

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(m.Handler()))

	registerAPI(r.Group("/api"), cfg, orch.Directory())

	log.Info().Str("module", "adapters.http").Str("mode", cfg.Mode).Msg("router setup")
	return r
}
