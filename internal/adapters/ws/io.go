package ws

import (
	"time"

	"github.com/gorilla/websocket"

	"github.com/dkeye/coachrtc/internal/core"
)

func (c *Channel) writePump(conn *wsConn) {
	ticker := time.NewTicker(c.opts.PingPeriod)
	defer ticker.Stop()
	for {
		select {
		case data, ok := <-conn.send:
			if !ok {
				return
			}
			if err := conn.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteWait)); err != nil {
				c.log.Error().Err(err).Msg("writePump set deadline")
				conn.Close()
				return
			}
			if err := conn.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.log.Error().Err(err).Msg("writePump write error")
				conn.Close()
				return
			}
		case <-ticker.C:
			if err := conn.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.opts.WriteWait)); err != nil {
				c.log.Debug().Err(err).Msg("writePump ping")
				conn.Close()
				return
			}
		}
	}
}

// readPump returns the error that ended the connection.
func (c *Channel) readPump(conn *wsConn) error {
	ws := conn.conn
	ws.SetReadLimit(c.opts.ReadLimit)
	_ = ws.SetReadDeadline(time.Now().Add(c.opts.PongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(c.opts.PongWait))
	})

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			return err
		}
		_ = ws.SetReadDeadline(time.Now().Add(c.opts.PongWait))

		frame, err := core.ParseFrame(data)
		if err != nil {
			c.log.Warn().Err(err).Int("bytes", len(data)).Msg("dropping malformed frame")
			continue
		}
		c.opts.Handler(core.Event{Kind: core.EventFrame, Frame: frame})
	}
}
