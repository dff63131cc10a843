// Package orch wires the per-identity components together: one session, its
// presence channel, the call machine and the chat rooms the user has open.
package orch

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/coachrtc/internal/app/call"
	"github.com/dkeye/coachrtc/internal/app/chat"
	"github.com/dkeye/coachrtc/internal/app/presence"
	"github.com/dkeye/coachrtc/internal/app/session"
	"github.com/dkeye/coachrtc/internal/core"
	"github.com/dkeye/coachrtc/internal/domain"
)

var ErrNoIdentity = errors.New("no identity set")

type Config struct {
	Settings   session.Settings
	Peers      core.PeerFactory
	Media      core.MediaSource
	AutoReject time.Duration
}

// Client is the composition root of the core for one process. Everything it
// holds belongs to the current identity and is rebuilt when it changes.
type Client struct {
	cfg  Config
	base context.Context
	log  zerolog.Logger

	mu       sync.RWMutex
	ctx      context.Context
	cancel   context.CancelFunc
	sess     *session.Session
	presence *presence.Channel
	calls    *call.Machine
	store    *chat.Store
	rooms    map[domain.RoomID]*chat.Room

	// written from the machine loop, which must never wait on mu
	engine atomic.Pointer[call.Engine]
}

func New(ctx context.Context, cfg Config) *Client {
	return &Client{
		cfg:   cfg,
		base:  ctx,
		log:   log.With().Str("module", "app.orch").Logger(),
		store: chat.NewStore(),
		rooms: make(map[domain.RoomID]*chat.Room),
	}
}

// SetIdentity switches the client to a new principal. Every channel, call
// and cached message of the previous one is dropped first.
func (c *Client) SetIdentity(id domain.Identity) error {
	id, err := domain.NewIdentity(id.ID, id.Role, id.Token)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.teardownLocked()

	ctx, cancel := context.WithCancel(c.base)
	sess := session.New(id, c.cfg.Settings)
	c.ctx, c.cancel, c.sess = ctx, cancel, sess
	c.store = chat.NewStore()
	c.rooms = make(map[domain.RoomID]*chat.Room)

	c.calls = call.NewMachine(ctx, call.Config{
		API:        sess.Backend,
		Role:       id.Role,
		Clock:      sess.Clock(),
		AutoReject: c.cfg.AutoReject,
		Engines: func(ctx context.Context, callID domain.CallID, isCaller bool) call.PeerSession {
			return c.startEngine(ctx, sess, callID, isCaller)
		},
	})
	c.presence = presence.Open(ctx, sess, c.calls.HandleNotice)

	c.log.Info().Str("user_id", string(id.ID)).Str("role", string(id.Role)).Msg("identity set")
	return nil
}

func (c *Client) startEngine(ctx context.Context, sess *session.Session, id domain.CallID, isCaller bool) call.PeerSession {
	e := call.StartEngine(ctx, sess, call.EngineConfig{
		CallID:   id,
		IsCaller: isCaller,
		Peers:    c.cfg.Peers,
		Media:    c.cfg.Media,
	})
	c.engine.Store(e)
	return e
}

func (c *Client) teardownLocked() {
	if c.sess == nil {
		return
	}
	c.log.Info().Str("user_id", string(c.sess.Identity.ID)).Msg("tearing down identity")
	// the machine goes first so a live call is ended at the backend
	c.calls.Close()
	c.presence.Close()
	for id, r := range c.rooms {
		r.Close()
		delete(c.rooms, id)
	}
	c.sess.Close()
	c.cancel()
	c.sess, c.presence, c.calls = nil, nil, nil
	c.engine.Store(nil)
}

func (c *Client) Identity() (domain.Identity, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.sess == nil {
		return domain.Identity{}, false
	}
	return c.sess.Identity, true
}

// Calls returns the call machine of the current identity.
func (c *Client) Calls() (*call.Machine, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.calls == nil {
		return nil, ErrNoIdentity
	}
	return c.calls, nil
}

// Engine returns the engine of the most recent call, if one was started.
func (c *Client) Engine() (*call.Engine, bool) {
	e := c.engine.Load()
	return e, e != nil
}

func (c *Client) PresenceState() core.ConnState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.presence == nil {
		return core.StateClosed
	}
	return c.presence.State()
}

func (c *Client) Store() *chat.Store {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.store
}

// Session exposes the live session; channel keys in its registry show what
// is currently open.
func (c *Client) Session() (*session.Session, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.sess == nil {
		return nil, ErrNoIdentity
	}
	return c.sess, nil
}

func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.teardownLocked()
}
