package http

import (
	"errors"
	nethttp "net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/dkeye/coachrtc/internal/app/call"
	"github.com/dkeye/coachrtc/internal/app/chat"
	"github.com/dkeye/coachrtc/internal/auth"
	"github.com/dkeye/coachrtc/internal/core"
	"github.com/dkeye/coachrtc/internal/domain"
)

type stateView struct {
	Identity *domain.Identity `json:"identity"`
	Presence core.ConnState   `json:"presence"`
	Call     *domain.Call     `json:"call"`
	Engine   *call.Stats      `json:"engine,omitempty"`
	Rooms    []domain.RoomID  `json:"rooms"`
}

func (a *API) state(c *gin.Context) {
	view := stateView{
		Presence: a.Client.PresenceState(),
		Rooms:    a.Client.OpenRooms(),
	}
	if id, ok := a.Client.Identity(); ok {
		view.Identity = &id
	}
	if m, err := a.Client.Calls(); err == nil {
		if cur, ok := m.Current(); ok {
			view.Call = &cur
		}
	}
	if e, ok := a.Client.Engine(); ok {
		st := e.Stats()
		view.Engine = &st
	}
	c.JSON(nethttp.StatusOK, view)
}

// setIdentity takes id and role from the token claims when they are omitted.
func (a *API) setIdentity(c *gin.Context) {
	var in struct {
		Token  string `json:"token"`
		UserID string `json:"user_id"`
		Role   string `json:"role"`
	}
	if err := c.ShouldBindJSON(&in); err != nil {
		c.AbortWithStatusJSON(nethttp.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	id := domain.Identity{ID: domain.UserID(in.UserID), Token: in.Token}
	if in.Role != "" {
		role, err := domain.ParseRole(in.Role)
		if err != nil {
			fail(c, err)
			return
		}
		id.Role = role
	}
	if id.ID == "" || id.Role == "" {
		claims, err := auth.Peek(in.Token)
		if err != nil {
			fail(c, err)
			return
		}
		if id.ID == "" {
			id.ID = claims.ID
		}
		if id.Role == "" {
			id.Role = claims.Role
		}
	}
	if err := a.Client.SetIdentity(id); err != nil {
		fail(c, err)
		return
	}
	c.JSON(nethttp.StatusOK, id)
}

func (a *API) machine(c *gin.Context) (*call.Machine, bool) {
	m, err := a.Client.Calls()
	if err != nil {
		fail(c, err)
		return nil, false
	}
	return m, true
}

func (a *API) startCall(c *gin.Context) {
	var in struct {
		RoomID domain.RoomID `json:"room_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&in); err != nil {
		c.AbortWithStatusJSON(nethttp.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	m, ok := a.machine(c)
	if !ok {
		return
	}
	started, err := m.StartCall(c.Request.Context(), in.RoomID)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(nethttp.StatusCreated, started)
}

func (a *API) callAction(c *gin.Context, fn func(*call.Machine, domain.CallID) error) {
	m, ok := a.machine(c)
	if !ok {
		return
	}
	if err := fn(m, domain.CallID(c.Param("id"))); err != nil {
		fail(c, err)
		return
	}
	c.Status(nethttp.StatusNoContent)
}

func (a *API) acceptCall(c *gin.Context) {
	a.callAction(c, func(m *call.Machine, id domain.CallID) error { return m.Accept(c.Request.Context(), id) })
}

func (a *API) rejectCall(c *gin.Context) {
	a.callAction(c, func(m *call.Machine, id domain.CallID) error { return m.Reject(c.Request.Context(), id) })
}

func (a *API) endCall(c *gin.Context) {
	a.callAction(c, func(m *call.Machine, id domain.CallID) error { return m.End(c.Request.Context(), id) })
}

func (a *API) toggleMedia(c *gin.Context) {
	var in struct {
		Audio *bool `json:"audio"`
		Video *bool `json:"video"`
	}
	if err := c.ShouldBindJSON(&in); err != nil {
		c.AbortWithStatusJSON(nethttp.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	m, ok := a.machine(c)
	if !ok {
		return
	}
	if in.Audio != nil {
		if err := m.ToggleAudio(*in.Audio); err != nil {
			fail(c, err)
			return
		}
	}
	if in.Video != nil {
		if err := m.ToggleVideo(*in.Video); err != nil {
			fail(c, err)
			return
		}
	}
	c.Status(nethttp.StatusNoContent)
}

func (a *API) listRooms(c *gin.Context) {
	rooms, err := a.Client.Rooms(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(nethttp.StatusOK, rooms)
}

type roomView struct {
	ID       domain.RoomID    `json:"id"`
	Open     bool             `json:"open"`
	HasOlder bool             `json:"has_older"`
	Unread   int              `json:"unread"`
	Messages []domain.Message `json:"messages"`
}

func (a *API) roomView(id domain.RoomID) roomView {
	v := roomView{ID: id, Messages: a.Client.Store().Messages(id)}
	if me, ok := a.Client.Identity(); ok {
		v.Unread = a.Client.Store().Unread(id, me.ID)
	}
	if r, ok := a.Client.Room(id); ok {
		v.Open = r.State() == core.StateOpen
		v.HasOlder = r.HasOlder()
	}
	return v
}

func (a *API) joinRoom(c *gin.Context) {
	id := domain.RoomID(c.Param("id"))
	if _, err := a.Client.JoinRoom(c.Request.Context(), id); err != nil {
		fail(c, err)
		return
	}
	c.JSON(nethttp.StatusOK, a.roomView(id))
}

func (a *API) leaveRoom(c *gin.Context) {
	if !a.Client.LeaveRoom(domain.RoomID(c.Param("id"))) {
		c.AbortWithStatusJSON(nethttp.StatusNotFound, gin.H{"error": "room not joined"})
		return
	}
	c.Status(nethttp.StatusNoContent)
}

func (a *API) messages(c *gin.Context) {
	c.JSON(nethttp.StatusOK, a.roomView(domain.RoomID(c.Param("id"))))
}

var errRoomNotJoined = errors.New("room not joined")

func (a *API) room(c *gin.Context) (*chat.Room, bool) {
	r, ok := a.Client.Room(domain.RoomID(c.Param("id")))
	if !ok {
		c.AbortWithStatusJSON(nethttp.StatusNotFound, gin.H{"error": errRoomNotJoined.Error()})
	}
	return r, ok
}

func (a *API) sendText(c *gin.Context) {
	var in struct {
		Text string `json:"text"`
	}
	if err := c.ShouldBindJSON(&in); err != nil {
		c.AbortWithStatusJSON(nethttp.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	r, ok := a.room(c)
	if !ok {
		return
	}
	msg, err := r.SendText(c.Request.Context(), in.Text)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(nethttp.StatusCreated, msg)
}

func (a *API) sendMedia(c *gin.Context) {
	r, ok := a.room(c)
	if !ok {
		return
	}
	fh, err := c.FormFile("file")
	if err != nil {
		c.AbortWithStatusJSON(nethttp.StatusBadRequest, gin.H{"error": "file is required"})
		return
	}
	f, err := fh.Open()
	if err != nil {
		c.AbortWithStatusJSON(nethttp.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	defer func() { _ = f.Close() }()

	upload := domain.MediaUpload{
		RoomID:   r.ID(),
		Type:     domain.MessageType(c.PostForm("type")),
		FileName: fh.Filename,
		Content:  f,
	}
	if d := c.PostForm("duration_sec"); d != "" {
		if upload.DurationSec, err = strconv.ParseFloat(d, 64); err != nil {
			c.AbortWithStatusJSON(nethttp.StatusBadRequest, gin.H{"error": "bad duration_sec"})
			return
		}
	}
	msg, err := r.SendMedia(c.Request.Context(), upload)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(nethttp.StatusCreated, msg)
}

func (a *API) markRead(c *gin.Context) {
	sess, err := a.Client.Session()
	if err != nil {
		fail(c, err)
		return
	}
	n := a.Client.Store().MarkRead(domain.RoomID(c.Param("id")), sess.Clock().Now())
	c.JSON(nethttp.StatusOK, gin.H{"marked": n})
}

func (a *API) loadOlder(c *gin.Context) {
	r, ok := a.room(c)
	if !ok {
		return
	}
	n, err := r.LoadOlder(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(nethttp.StatusOK, gin.H{"loaded": n, "has_older": r.HasOlder()})
}
