// Package ws implements the client side of the persistent socket channels:
// presence, per-room chat and per-call signaling.
package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/coachrtc/internal/core"
	"github.com/dkeye/coachrtc/internal/domain"
)

const (
	DefaultRetryDelay = 2 * time.Second
	DefaultWriteWait  = 10 * time.Second
	DefaultPongWait   = 60 * time.Second
	DefaultReadLimit  = 1 << 20
	DefaultSendBuffer = 32
)

type Dialer interface {
	DialContext(ctx context.Context, urlStr string, requestHeader http.Header) (*websocket.Conn, *http.Response, error)
}

type Options struct {
	URL string
	// Name labels the logical connection in logs and errors.
	Name string
	// Reconnect redials after RetryDelay whenever the connection drops
	// for a reason other than Close.
	Reconnect  bool
	RetryDelay time.Duration
	Handler    func(core.Event)

	Dialer     Dialer
	Clock      clock.Clock
	WriteWait  time.Duration
	PongWait   time.Duration
	PingPeriod time.Duration
	ReadLimit  int64
	SendBuffer int
}

func (o *Options) withDefaults() {
	if o.RetryDelay <= 0 {
		o.RetryDelay = DefaultRetryDelay
	}
	if o.Dialer == nil {
		o.Dialer = websocket.DefaultDialer
	}
	if o.Clock == nil {
		o.Clock = clock.New()
	}
	if o.WriteWait <= 0 {
		o.WriteWait = DefaultWriteWait
	}
	if o.PongWait <= 0 {
		o.PongWait = DefaultPongWait
	}
	if o.PingPeriod <= 0 || o.PingPeriod >= o.PongWait {
		o.PingPeriod = o.PongWait * 9 / 10
	}
	if o.ReadLimit <= 0 {
		o.ReadLimit = DefaultReadLimit
	}
	if o.SendBuffer <= 0 {
		o.SendBuffer = DefaultSendBuffer
	}
	if o.Handler == nil {
		o.Handler = func(core.Event) {}
	}
	if o.Name == "" {
		o.Name = "ws"
	}
}

// Channel keeps one logical socket connection alive. Events are delivered to
// Options.Handler in order from a single goroutine per connection attempt.
type Channel struct {
	opts   Options
	log    zerolog.Logger
	ctx    context.Context
	cancel context.CancelFunc

	// active gates every retry; it flips to false exactly once, in Close.
	active atomic.Bool

	mu      sync.Mutex
	state   core.ConnState
	conn    *wsConn
	retry   *clock.Timer
	retries int
}

// Open starts connecting in the background and returns immediately.
// Cancelling ctx has the same effect as Close.
func Open(ctx context.Context, opts Options) *Channel {
	opts.withDefaults()
	ctx, cancel := context.WithCancel(ctx)
	c := &Channel{
		opts:   opts,
		log:    log.With().Str("module", "adapters.ws").Str("channel", opts.Name).Logger(),
		ctx:    ctx,
		cancel: cancel,
		state:  core.StateConnecting,
	}
	c.active.Store(true)
	go func() {
		<-ctx.Done()
		c.Close()
	}()
	go c.connect()
	return c
}

func (c *Channel) State() core.ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Retries is the number of reconnect attempts made so far.
func (c *Channel) Retries() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.retries
}

// Send marshals v and queues it on the open connection. It never blocks and
// never panics; delivery is not guaranteed.
func (c *Channel) Send(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s frame: %w", c.opts.Name, err)
	}
	c.mu.Lock()
	conn := c.conn
	open := c.state == core.StateOpen
	c.mu.Unlock()
	if !open || conn == nil {
		return ErrNotOpen
	}
	return conn.TrySend(b)
}

// Close is idempotent. It cancels a pending retry and closes the current
// connection; no reconnect happens afterwards.
func (c *Channel) Close() {
	if !c.active.CompareAndSwap(true, false) {
		return
	}
	c.cancel()
	c.mu.Lock()
	if c.retry != nil {
		c.retry.Stop()
		c.retry = nil
	}
	conn := c.conn
	c.state = core.StateClosed
	c.mu.Unlock()
	if conn != nil {
		conn.Close()
	}
	c.log.Debug().Msg("closed")
}

func (c *Channel) connect() {
	if !c.active.Load() {
		return
	}
	ws, _, err := c.opts.Dialer.DialContext(c.ctx, c.opts.URL, nil)
	if err != nil {
		if !c.active.Load() {
			return
		}
		c.log.Warn().Err(err).Msg("dial failed")
		c.dropped(&domain.ConnectionError{Channel: c.opts.Name, Err: err})
		return
	}

	conn := newWsConn(ws, c.opts.SendBuffer)
	c.mu.Lock()
	if !c.active.Load() {
		c.mu.Unlock()
		conn.Close()
		return
	}
	c.conn = conn
	c.state = core.StateOpen
	c.mu.Unlock()

	c.log.Info().Int("retries", c.Retries()).Msg("connected")
	c.opts.Handler(core.Event{Kind: core.EventOpened})

	go c.writePump(conn)
	readErr := c.readPump(conn)
	conn.Close()

	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
	}
	c.mu.Unlock()

	if !c.active.Load() {
		c.opts.Handler(core.Event{Kind: core.EventClosed})
		return
	}
	c.log.Warn().Err(readErr).Msg("connection dropped")
	c.dropped(&domain.ConnectionError{Channel: c.opts.Name, Err: readErr})
}

// dropped reports an unexpected loss and schedules the next attempt. The
// retry timer is armed before the events go out so observers of Closed can
// rely on it.
func (c *Channel) dropped(err error) {
	c.mu.Lock()
	if c.opts.Reconnect && c.active.Load() {
		c.state = core.StateConnecting
		c.retry = c.opts.Clock.AfterFunc(c.opts.RetryDelay, c.redial)
	} else {
		c.state = core.StateClosed
	}
	c.mu.Unlock()

	c.opts.Handler(core.Event{Kind: core.EventErrored, Err: err})
	c.opts.Handler(core.Event{Kind: core.EventClosed, Err: err})
}

func (c *Channel) redial() {
	if !c.active.Load() {
		return
	}
	c.mu.Lock()
	c.retry = nil
	c.retries++
	c.mu.Unlock()
	c.log.Info().Dur("delay", c.opts.RetryDelay).Msg("reconnecting")
	c.connect()
}
