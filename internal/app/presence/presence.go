// Package presence listens on the per-identity notification socket and turns
// call lifecycle frames into notices for the call machine.
package presence

import (
	"context"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/coachrtc/internal/adapters/ws"
	"github.com/dkeye/coachrtc/internal/app/session"
	"github.com/dkeye/coachrtc/internal/core"
	"github.com/dkeye/coachrtc/internal/domain"
)

type NoticeKind int

const (
	NoticeIncoming NoticeKind = iota + 1
	NoticeAccepted
	NoticeEnded
)

func (k NoticeKind) String() string {
	switch k {
	case NoticeIncoming:
		return "incoming"
	case NoticeAccepted:
		return "accepted"
	case NoticeEnded:
		return "ended"
	}
	return "unknown"
}

// Notice is one recognized presence event. CallID may be empty on
// CALL_ENDED, meaning whatever call is current.
type Notice struct {
	Kind       NoticeKind
	CallID     domain.CallID
	RoomID     domain.RoomID
	CallerRole domain.Role
}

type callPayload struct {
	CallID     domain.CallID `json:"call_id"`
	ID         domain.CallID `json:"id"`
	RoomID     domain.RoomID `json:"room_id"`
	CallerRole string        `json:"caller_role"`
}

// ParseNotice maps a frame to a notice; ok is false for frames presence
// does not handle.
func ParseNotice(f core.Frame) (Notice, bool, error) {
	var kind NoticeKind
	switch f.Type {
	case core.FrameIncomingCall:
		kind = NoticeIncoming
	case core.FrameCallAccepted:
		kind = NoticeAccepted
	case core.FrameCallEnded:
		kind = NoticeEnded
	default:
		return Notice{}, false, nil
	}
	var p callPayload
	if err := f.Decode(&p); err != nil {
		return Notice{}, false, err
	}
	n := Notice{Kind: kind, CallID: p.CallID, RoomID: p.RoomID}
	if n.CallID == "" {
		n.CallID = p.ID
	}
	if role, err := domain.ParseRole(p.CallerRole); err == nil {
		n.CallerRole = role
	}
	return n, true, nil
}

// Channel is receive-only. It reconnects like a chat room so notifications
// keep flowing across network blips.
type Channel struct {
	sess   *session.Session
	ch     *ws.Channel
	sink   func(Notice)
	log    zerolog.Logger
	ctx    context.Context
	cancel context.CancelFunc
}

func Open(ctx context.Context, sess *session.Session, sink func(Notice)) *Channel {
	ctx, cancel := context.WithCancel(ctx)
	c := &Channel{
		sess:   sess,
		sink:   sink,
		ctx:    ctx,
		cancel: cancel,
		log: log.With().
			Str("module", "app.presence").
			Str("user_id", string(sess.Identity.ID)).
			Str("role", string(sess.Identity.Role)).
			Logger(),
	}
	c.ch = ws.Open(ctx, sess.ChannelOptions(sess.PresenceURL(), "presence", true, c.handle))
	sess.Registry.Bind(session.PresenceKey, c, cancel)
	return c
}

func (c *Channel) State() core.ConnState { return c.ch.State() }

func (c *Channel) handle(ev core.Event) {
	switch ev.Kind {
	case core.EventOpened:
		c.log.Info().Msg("presence channel open")
	case core.EventErrored:
		c.log.Warn().Err(ev.Err).Msg("presence channel error")
	case core.EventFrame:
		n, ok, err := ParseNotice(ev.Frame)
		if err != nil {
			c.log.Warn().Err(err).Str("type", string(ev.Frame.Type)).Msg("bad presence payload")
			return
		}
		if !ok {
			c.log.Debug().Str("type", string(ev.Frame.Type)).Msg("ignoring frame")
			return
		}
		if c.ctx.Err() != nil {
			return
		}
		c.log.Info().Str("notice", n.Kind.String()).Str("call_id", string(n.CallID)).Msg("call notice")
		c.sink(n)
	}
}

func (c *Channel) Close() {
	c.cancel()
	c.ch.Close()
	c.sess.Registry.Unbind(session.PresenceKey, c)
}
