package http

import (
	nethttp "net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/coachrtc/internal/app/call"
)

const eventsWriteWait = 10 * time.Second

var upgrader = websocket.Upgrader{
	// the API listens on localhost for a local UI
	CheckOrigin: func(r *nethttp.Request) bool { return true },
}

type callEvent struct {
	Type string        `json:"type"`
	Call call.Snapshot `json:"call"`
}

type roomEvent struct {
	Type string   `json:"type"`
	Room roomView `json:"room"`
}

// events streams call snapshots and room changes of the current identity.
// The socket closes when the identity changes; the UI reconnects.
func (a *API) events(c *gin.Context) {
	m, ok := a.machine(c)
	if !ok {
		return
	}
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Warn().Err(err).Str("module", "adapters.http").Msg("events upgrade")
		return
	}
	logger := log.With().Str("module", "adapters.http").Str("remote", c.ClientIP()).Logger()
	logger.Info().Msg("observer connected")

	snaps, cancelSnaps := m.Subscribe()
	rooms, cancelRooms := a.Client.Store().Subscribe()
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}()
	defer func() {
		cancelSnaps()
		cancelRooms()
		_ = ws.Close()
		logger.Info().Msg("observer disconnected")
	}()

	write := func(v any) bool {
		_ = ws.SetWriteDeadline(time.Now().Add(eventsWriteWait))
		return ws.WriteJSON(v) == nil
	}
	if cur, ok := m.Current(); ok && !write(callEvent{Type: "call", Call: call.Snapshot{Call: cur}}) {
		return
	}
	for {
		select {
		case s, ok := <-snaps:
			if !ok {
				_ = write(gin.H{"type": "identity_changed"})
				return
			}
			if !write(callEvent{Type: "call", Call: s}) {
				return
			}
		case id, ok := <-rooms:
			if !ok {
				return
			}
			if !write(roomEvent{Type: "room", Room: a.roomView(id)}) {
				return
			}
		case <-closed:
			return
		case <-c.Request.Context().Done():
			return
		}
	}
}
