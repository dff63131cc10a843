// Package http is the local control and observer API: a UI drives the core
// through it and watches call and chat state on a socket.
package http

import (
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/coachrtc/internal/app/orch"
)

type API struct {
	Client *orch.Client
}

func SetupRouter(mode string, client *orch.Client) *gin.Engine {
	if mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	a := &API{Client: client}
	api := r.Group("/api")
	api.GET("/state", a.state)
	api.PUT("/identity", a.setIdentity)

	api.POST("/calls", a.startCall)
	api.POST("/calls/media", a.toggleMedia)
	api.POST("/calls/:id/accept", a.acceptCall)
	api.POST("/calls/:id/reject", a.rejectCall)
	api.POST("/calls/:id/end", a.endCall)

	api.GET("/rooms", a.listRooms)
	api.POST("/rooms/:id/join", a.joinRoom)
	api.DELETE("/rooms/:id", a.leaveRoom)
	api.GET("/rooms/:id/messages", a.messages)
	api.POST("/rooms/:id/messages", a.sendText)
	api.POST("/rooms/:id/media", a.sendMedia)
	api.POST("/rooms/:id/read", a.markRead)
	api.POST("/rooms/:id/history/older", a.loadOlder)

	api.GET("/events", a.events)

	log.Info().Str("module", "adapters.http").Str("mode", mode).Msg("router setup")
	return r
}
