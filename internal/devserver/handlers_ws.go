package devserver

import (
	"github.com/gin-gonic/gin"

	"github.com/dkeye/coachrtc/internal/core"
	"github.com/dkeye/coachrtc/internal/domain"
)

func (s *Server) upgrade(c *gin.Context, channel string) (*peerConn, bool) {
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.Warn().Err(err).Str("channel", channel).Msg("ws upgrade")
		return nil, false
	}
	conn := newPeerConn(ws, identityOf(c), s.cfg.SendBuffer, s.log.With().Str("channel", channel).Logger())
	go conn.writePump()
	return conn, true
}

// presenceSocket is receive-only for the client: whatever it sends is ignored.
func (s *Server) presenceSocket(c *gin.Context) {
	conn, ok := s.upgrade(c, channelPresence)
	if !ok {
		return
	}
	s.hub.AttachPresence(conn)
	conn.log.Info().Msg("presence connected")
	go func() {
		conn.readPump(nil)
		s.hub.DetachPresence(conn)
		conn.log.Info().Msg("presence disconnected")
	}()
}

func (s *Server) signalingSocket(c *gin.Context) {
	me := identityOf(c)
	id := domain.CallID(c.Param("id"))
	call, ok := s.calls.get(id)
	if !ok {
		c.JSON(callStatus(ErrCallNotFound), gin.H{"detail": ErrCallNotFound.Error()})
		return
	}
	if !call.has(me.ID) {
		c.JSON(callStatus(ErrNotInCall), gin.H{"detail": ErrNotInCall.Error()})
		return
	}
	peer := call.other(me.ID)

	conn, ok := s.upgrade(c, channelSignaling)
	if !ok {
		return
	}
	s.hub.JoinCall(id, conn)
	conn.log.Info().Str("call_id", string(id)).Msg("signaling connected")
	go func() {
		conn.readPump(func(data []byte) { s.relay(id, me.ID, peer, data) })
		s.hub.LeaveCall(id, conn)
		conn.log.Info().Str("call_id", string(id)).Msg("signaling disconnected")
	}()
}

// relay forwards negotiation frames verbatim and drops everything else.
func (s *Server) relay(id domain.CallID, from, to domain.UserID, data []byte) {
	f, err := core.ParseFrame(data)
	if err != nil {
		s.log.Warn().Err(err).Str("call_id", string(id)).Msg("bad signaling frame")
		return
	}
	switch f.Type {
	case core.FrameCallOffer, core.FrameCallAnswer, core.FrameCallICE:
	default:
		s.log.Debug().Str("type", string(f.Type)).Msg("ignoring signaling frame")
		return
	}
	if _, live := s.calls.get(id); !live {
		return
	}
	if err := s.hub.Relay(id, to, data); err != nil {
		s.log.Warn().Err(err).Str("call_id", string(id)).Str("from", string(from)).Str("type", string(f.Type)).Msg("relay failed")
	}
}

func (s *Server) chatSocket(c *gin.Context) {
	room, ok := s.roomFor(c, domain.RoomID(c.Param("room")))
	if !ok {
		return
	}
	conn, ok := s.upgrade(c, channelChat)
	if !ok {
		return
	}
	s.hub.JoinChat(room.ID, conn)
	conn.log.Info().Str("room_id", string(room.ID)).Msg("chat connected")
	go func() {
		conn.readPump(nil)
		s.hub.LeaveChat(room.ID, conn)
		conn.log.Info().Str("room_id", string(room.ID)).Msg("chat disconnected")
	}()
}
