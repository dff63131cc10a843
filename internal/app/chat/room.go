package chat

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/coachrtc/internal/adapters/ws"
	"github.com/dkeye/coachrtc/internal/app/session"
	"github.com/dkeye/coachrtc/internal/core"
	"github.com/dkeye/coachrtc/internal/domain"
)

var ErrNoOlderHistory = errors.New("no older history")

// Room is the live chat channel of one room. Socket pushes and the results
// of this client's own sends land in the same Store.
type Room struct {
	id    domain.RoomID
	sess  *session.Session
	api   core.ChatAPI
	store *Store
	ch    *ws.Channel
	log   zerolog.Logger

	mu     sync.Mutex
	next   string
	loaded bool
	closed bool
	cancel context.CancelFunc
}

// Open starts the room channel and registers it with the session, closing
// any previous channel for the same room.
func Open(ctx context.Context, sess *session.Session, store *Store, id domain.RoomID) *Room {
	ctx, cancel := context.WithCancel(ctx)
	r := &Room{
		id:     id,
		sess:   sess,
		api:    sess.Backend,
		store:  store,
		cancel: cancel,
		log:    log.With().Str("module", "app.chat").Str("room_id", string(id)).Logger(),
	}
	r.ch = ws.Open(ctx, sess.ChannelOptions(sess.ChatURL(id), "chat", true, r.handle))
	sess.Registry.Bind(session.RoomKey(id), r, cancel)
	return r
}

func (r *Room) ID() domain.RoomID { return r.id }

func (r *Room) State() core.ConnState { return r.ch.State() }

func (r *Room) Messages() []domain.Message { return r.store.Messages(r.id) }

func (r *Room) handle(ev core.Event) {
	switch ev.Kind {
	case core.EventOpened:
		n := r.store.MarkRead(r.id, r.sess.Clock().Now())
		r.log.Info().Int("marked_read", n).Msg("chat channel open")
	case core.EventFrame:
		if ev.Frame.Type != core.FrameMessage {
			r.log.Debug().Str("type", string(ev.Frame.Type)).Msg("ignoring frame")
			return
		}
		var m domain.Message
		if err := ev.Frame.Decode(&m); err != nil {
			r.log.Warn().Err(err).Msg("bad message payload")
			return
		}
		if m.ID == "" {
			r.log.Warn().Msg("message without id")
			return
		}
		if m.RoomID == "" {
			m.RoomID = r.id
		}
		r.store.Merge(r.id, []domain.Message{m})
	case core.EventErrored:
		r.log.Warn().Err(ev.Err).Msg("chat channel error")
	case core.EventClosed:
		r.log.Debug().Msg("chat channel closed")
	}
}

// SendText posts the text over HTTP and merges the stored copy the backend
// returns, exactly like a socket push.
func (r *Room) SendText(ctx context.Context, text string) (domain.Message, error) {
	if text == "" {
		return domain.Message{}, domain.ErrMessageEmpty
	}
	m, err := r.api.SendText(ctx, r.id, text)
	if err != nil {
		return domain.Message{}, err
	}
	r.store.Merge(r.id, []domain.Message{m})
	return m, nil
}

func (r *Room) SendMedia(ctx context.Context, upload domain.MediaUpload) (domain.Message, error) {
	upload.RoomID = r.id
	m, err := r.api.SendMedia(ctx, upload)
	if err != nil {
		return domain.Message{}, err
	}
	r.store.Merge(r.id, []domain.Message{m})
	return m, nil
}

// LoadHistory fetches the latest page and remembers the cursor for LoadOlder.
func (r *Room) LoadHistory(ctx context.Context) (int, error) {
	page, err := r.api.Messages(ctx, r.id, "")
	if err != nil {
		return 0, err
	}
	r.store.Merge(r.id, page.Results)
	r.mu.Lock()
	r.next = page.Next
	r.loaded = true
	r.mu.Unlock()
	return len(page.Results), nil
}

// LoadOlder fetches the page behind the last cursor. Pages may land in any
// order; the store keeps the sequence sorted.
func (r *Room) LoadOlder(ctx context.Context) (int, error) {
	r.mu.Lock()
	cursor, loaded := r.next, r.loaded
	r.mu.Unlock()
	if !loaded {
		return r.LoadHistory(ctx)
	}
	if cursor == "" {
		return 0, ErrNoOlderHistory
	}
	page, err := r.api.Messages(ctx, r.id, cursor)
	if err != nil {
		return 0, err
	}
	r.store.Merge(r.id, page.Results)
	r.mu.Lock()
	r.next = page.Next
	r.mu.Unlock()
	return len(page.Results), nil
}

func (r *Room) HasOlder() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return !r.loaded || r.next != ""
}

func (r *Room) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	r.mu.Unlock()
	r.cancel()
	r.ch.Close()
	r.sess.Registry.Unbind(session.RoomKey(r.id), r)
}
