package devserver

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/dkeye/coachrtc/internal/core"
	"github.com/dkeye/coachrtc/internal/domain"
)

type callNotice struct {
	Type    core.FrameType `json:"type"`
	Payload callPayload    `json:"payload"`
}

type callPayload struct {
	CallID     domain.CallID `json:"call_id"`
	RoomID     domain.RoomID `json:"room_id,omitempty"`
	CallerID   domain.UserID `json:"caller_id,omitempty"`
	CallerRole domain.Role   `json:"caller_role,omitempty"`
}

func callStatus(err error) int {
	switch {
	case errors.Is(err, ErrCallNotFound), errors.Is(err, ErrRoomNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrNotInCall):
		return http.StatusForbidden
	case errors.Is(err, ErrUserBusy), errors.Is(err, domain.ErrCallState):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

func (s *Server) startCall(c *gin.Context) {
	me := identityOf(c)
	room, err := s.store.Room(c.Request.Context(), domain.RoomID(c.Param("room")))
	if err != nil {
		c.JSON(callStatus(err), gin.H{"detail": err.Error()})
		return
	}
	if !room.Has(me.ID) {
		c.JSON(http.StatusForbidden, gin.H{"detail": "not a participant of this room"})
		return
	}
	call, err := s.calls.start(room, me, s.cfg.Clock.Now())
	if err != nil {
		c.JSON(callStatus(err), gin.H{"detail": err.Error()})
		return
	}

	s.log.Info().Str("call_id", string(call.ID)).Str("caller", string(call.Caller)).Str("callee", string(call.Callee)).Msg("call started")
	s.hub.Notify(call.Callee, callNotice{
		Type: core.FrameIncomingCall,
		Payload: callPayload{
			CallID:     call.ID,
			RoomID:     call.RoomID,
			CallerID:   call.Caller,
			CallerRole: call.CallerRole,
		},
	})
	c.JSON(http.StatusCreated, gin.H{"id": call.ID, "call_id": call.ID, "room_id": call.RoomID, "status": call.Status})
}

func (s *Server) acceptCall(c *gin.Context) {
	me := identityOf(c)
	call, err := s.calls.accept(domain.CallID(c.Param("id")), me.ID)
	if err != nil {
		c.JSON(callStatus(err), gin.H{"detail": err.Error()})
		return
	}
	s.log.Info().Str("call_id", string(call.ID)).Msg("call accepted")
	s.hub.Notify(call.Caller, callNotice{
		Type:    core.FrameCallAccepted,
		Payload: callPayload{CallID: call.ID, RoomID: call.RoomID},
	})
	c.JSON(http.StatusOK, gin.H{"call_id": call.ID, "room_id": call.RoomID, "status": call.Status})
}

func (s *Server) endCall(c *gin.Context) {
	me := identityOf(c)
	call, err := s.calls.end(domain.CallID(c.Param("id")), me.ID)
	if err != nil {
		c.JSON(callStatus(err), gin.H{"detail": err.Error()})
		return
	}
	s.log.Info().Str("call_id", string(call.ID)).Str("by", string(me.ID)).Msg("call ended")
	notice := callNotice{Type: core.FrameCallEnded, Payload: callPayload{CallID: call.ID, RoomID: call.RoomID}}
	s.hub.Notify(call.other(me.ID), notice)
	s.hub.DropCall(call.ID, notice)
	c.JSON(http.StatusOK, gin.H{"call_id": call.ID, "status": call.Status})
}
