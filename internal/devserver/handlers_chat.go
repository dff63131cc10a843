package devserver

import (
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/dkeye/coachrtc/internal/core"
	"github.com/dkeye/coachrtc/internal/domain"
)

type chatPush struct {
	Type    core.FrameType `json:"type"`
	Payload domain.Message `json:"payload"`
}

type messagePage struct {
	Results  []domain.Message `json:"results"`
	Next     *string          `json:"next"`
	Previous *string          `json:"previous"`
}

// roomFor loads the room and checks the caller belongs to it.
func (s *Server) roomFor(c *gin.Context, id domain.RoomID) (domain.ChatRoom, bool) {
	room, err := s.store.Room(c.Request.Context(), id)
	if err != nil {
		c.JSON(callStatus(err), gin.H{"detail": err.Error()})
		return domain.ChatRoom{}, false
	}
	if !room.Has(identityOf(c).ID) {
		c.JSON(http.StatusForbidden, gin.H{"detail": "not a participant of this room"})
		return domain.ChatRoom{}, false
	}
	return room, true
}

func (s *Server) listRooms(c *gin.Context) {
	rooms, err := s.store.RoomsOf(c.Request.Context(), identityOf(c).ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"detail": err.Error()})
		return
	}
	if rooms == nil {
		rooms = []domain.ChatRoom{}
	}
	c.JSON(http.StatusOK, rooms)
}

func pageLink(room domain.RoomID, offset int) *string {
	link := fmt.Sprintf("/api/chat/rooms/%s/messages/?cursor=%d", url.PathEscape(string(room)), offset)
	return &link
}

// listMessages pages backwards from the newest message. The cursor is the
// number of newer messages to skip.
func (s *Server) listMessages(c *gin.Context) {
	room, ok := s.roomFor(c, domain.RoomID(c.Param("room")))
	if !ok {
		return
	}
	offset := 0
	if cur := c.Query("cursor"); cur != "" {
		n, err := strconv.Atoi(cur)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"detail": "bad cursor"})
			return
		}
		offset = n
	}
	msgs, more, err := s.store.Messages(c.Request.Context(), room.ID, offset, s.cfg.PageSize)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"detail": err.Error()})
		return
	}
	page := messagePage{Results: msgs}
	if page.Results == nil {
		page.Results = []domain.Message{}
	}
	if more {
		page.Next = pageLink(room.ID, offset+s.cfg.PageSize)
	}
	if offset > 0 {
		page.Previous = pageLink(room.ID, max(0, offset-s.cfg.PageSize))
	}
	c.JSON(http.StatusOK, page)
}

func (s *Server) newMessage(me domain.Identity, room domain.RoomID, typ domain.MessageType) domain.Message {
	return domain.Message{
		ID:         domain.MessageID(uuid.NewString()),
		RoomID:     room,
		SenderID:   me.ID,
		SenderRole: me.Role,
		Type:       typ,
		CreatedAt:  s.cfg.Clock.Now().UTC(),
	}
}

// publish stores m and pushes it to everyone watching the room.
func (s *Server) publish(c *gin.Context, m domain.Message) {
	if err := s.store.AddMessage(c.Request.Context(), m); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"detail": err.Error()})
		return
	}
	s.hub.BroadcastChat(m.RoomID, chatPush{Type: core.FrameMessage, Payload: m})
	c.JSON(http.StatusCreated, m)
}

func (s *Server) sendText(c *gin.Context) {
	me := identityOf(c)
	if !s.limiter.Allow(me.ID) {
		c.JSON(http.StatusTooManyRequests, gin.H{"detail": "slow down"})
		return
	}
	var in struct {
		RoomID domain.RoomID `json:"room_id"`
		Text   string        `json:"text"`
	}
	if err := c.ShouldBindJSON(&in); err != nil || in.Text == "" {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "room_id and text are required"})
		return
	}
	room, ok := s.roomFor(c, in.RoomID)
	if !ok {
		return
	}
	m := s.newMessage(me, room.ID, domain.MessageText)
	m.Text = in.Text
	s.publish(c, m)
}

func (s *Server) sendMedia(c *gin.Context) {
	me := identityOf(c)
	if !s.limiter.Allow(me.ID) {
		c.JSON(http.StatusTooManyRequests, gin.H{"detail": "slow down"})
		return
	}
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.cfg.MaxUpload)

	typ := domain.MessageType(c.PostForm("type"))
	if !typ.Media() {
		c.JSON(http.StatusBadRequest, gin.H{"detail": domain.ErrMessageTypeWrong.Error()})
		return
	}
	room, ok := s.roomFor(c, domain.RoomID(c.PostForm("room_id")))
	if !ok {
		return
	}
	fh, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "file is required"})
		return
	}
	f, err := fh.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": err.Error()})
		return
	}
	data, err := io.ReadAll(f)
	_ = f.Close()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": err.Error()})
		return
	}

	m := s.newMessage(me, room.ID, typ)
	m.MediaURL = "/media/" + s.media.put(data)
	if d := c.PostForm("duration_sec"); d != "" {
		if m.DurationSec, err = strconv.ParseFloat(d, 64); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"detail": "bad duration_sec"})
			return
		}
	}
	s.publish(c, m)
}
