package http

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/dkeye/livecook/internal/config"
	"github.com/dkeye/livecook/internal/core"
	"github.com/dkeye/livecook/internal/domain"
)

func registerAPI(api *gin.RouterGroup, cfg *config.Config, dir core.SessionDirectory) {
	// GET /api/sessions: live sessions with their host and viewer counts
	api.GET("/sessions", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"sessions": dir.List()})
	})

	// GET /api/sessions/:id: one session
	api.GET("/sessions/:id", func(c *gin.Context) {
		info, ok := dir.Info(domain.SessionID(c.Param("id")))
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
			return
		}
		c.JSON(http.StatusOK, info)
	})

	// GET /api/sessions/:id/members: presence list
	api.GET("/sessions/:id/members", func(c *gin.Context) {
		members, ok := dir.Members(domain.SessionID(c.Param("id")))
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"members": members})
	})

	// GET /api/ice-servers: STUN/TURN list for building RTCPeerConnections
	api.GET("/ice-servers", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"iceServers": cfg.WebRTCICEServers()})
	})
}
