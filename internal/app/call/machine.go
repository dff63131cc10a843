package call

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/coachrtc/internal/app/presence"
	"github.com/dkeye/coachrtc/internal/core"
	"github.com/dkeye/coachrtc/internal/domain"
)

const (
	DefaultAutoReject = 30 * time.Second
	defaultEndTimeout = 10 * time.Second
)

var ErrMachineClosed = errors.New("call machine closed")

// PeerSession is what the machine needs from a running negotiation engine.
type PeerSession interface {
	Release()
	ToggleAudio(enabled bool) error
	ToggleVideo(enabled bool) error
	Done() <-chan struct{}
	Err() error
	Reason() domain.EndReason
}

type EngineFactory func(ctx context.Context, id domain.CallID, isCaller bool) PeerSession

// Snapshot is what observers see after every transition. The last snapshot
// of a call has Status ended; after it the machine holds no call.
type Snapshot struct {
	Call   domain.Call      `json:"call"`
	Reason domain.EndReason `json:"reason,omitempty"`
	Err    error            `json:"-"`
	Error  string           `json:"error,omitempty"`
}

type Config struct {
	API     core.CallAPI
	Engines EngineFactory
	Role    domain.Role
	Clock   clock.Clock
	// AutoReject ends an unanswered incoming call.
	AutoReject time.Duration
	EndTimeout time.Duration
}

// Machine is the single owner of the identity's call. Transitions run on one
// goroutine; HTTP requests and engine work never do.
type Machine struct {
	cfg    Config
	log    zerolog.Logger
	ctx    context.Context
	cancel context.CancelFunc
	inbox  chan func()
	done   chan struct{}
	once   sync.Once

	// owned by the loop goroutine
	call      *domain.Call
	gen       uint64
	peer      PeerSession
	timer     *clock.Timer
	deadline  time.Time
	starting  bool
	accepting bool
	rejecting bool
	early     map[domain.CallID]presence.NoticeKind
	subs      map[int]chan Snapshot
	nextSub   int

	mu  sync.RWMutex
	cur *domain.Call
}

func NewMachine(ctx context.Context, cfg Config) *Machine {
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	if cfg.AutoReject <= 0 {
		cfg.AutoReject = DefaultAutoReject
	}
	if cfg.EndTimeout <= 0 {
		cfg.EndTimeout = defaultEndTimeout
	}
	ctx, cancel := context.WithCancel(ctx)
	m := &Machine{
		cfg:    cfg,
		log:    log.With().Str("module", "app.call").Str("role", string(cfg.Role)).Logger(),
		ctx:    ctx,
		cancel: cancel,
		inbox:  make(chan func(), 64),
		done:   make(chan struct{}),
		subs:   make(map[int]chan Snapshot),
	}
	go m.loop()
	return m
}

func (m *Machine) loop() {
	for {
		select {
		case fn := <-m.inbox:
			fn()
		case <-m.done:
			return
		}
	}
}

func (m *Machine) post(fn func()) {
	select {
	case m.inbox <- fn:
	case <-m.done:
	}
}

// exec runs fn on the loop and waits for it.
func (m *Machine) exec(fn func()) error {
	finished := make(chan struct{})
	select {
	case m.inbox <- func() { fn(); close(finished) }:
	case <-m.done:
		return ErrMachineClosed
	}
	select {
	case <-finished:
		return nil
	case <-m.done:
		return ErrMachineClosed
	}
}

// Current returns the call in progress, if any.
func (m *Machine) Current() (domain.Call, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.cur == nil {
		return domain.Call{}, false
	}
	return *m.cur, true
}

// StartCall asks the backend to ring the room's other participant. The
// call exists locally only once the backend has accepted the request.
func (m *Machine) StartCall(ctx context.Context, room domain.RoomID) (domain.Call, error) {
	var err error
	if xerr := m.exec(func() {
		if m.call != nil || m.starting {
			err = domain.ErrCallInProgress
			return
		}
		m.starting = true
		m.early = make(map[domain.CallID]presence.NoticeKind)
	}); xerr != nil {
		return domain.Call{}, xerr
	}
	if err != nil {
		return domain.Call{}, err
	}

	started, reqErr := m.cfg.API.StartCall(ctx, room)

	var out domain.Call
	if xerr := m.exec(func() {
		m.starting = false
		early := m.early
		m.early = nil
		if reqErr != nil {
			return
		}
		m.gen++
		m.call = &domain.Call{
			ID:          started.ID,
			RoomID:      room,
			Status:      domain.CallRinging,
			Counterpart: m.cfg.Role.Counterpart(),
			IsCaller:    true,
		}
		m.log.Info().Str("call_id", string(started.ID)).Str("room_id", string(room)).Msg("ringing")
		m.publish()
		out = *m.call

		kind := early[started.ID]
		if kind == 0 {
			kind = early[""]
		}
		switch kind {
		case presence.NoticeEnded:
			m.terminate(domain.EndRemote, nil)
			out.Status = domain.CallEnded
		case presence.NoticeAccepted:
			m.onAccepted()
			out = *m.call
		}
	}); xerr != nil {
		return domain.Call{}, xerr
	}
	if reqErr != nil {
		m.log.Warn().Err(reqErr).Str("room_id", string(room)).Msg("start call failed")
		return domain.Call{}, reqErr
	}
	return out, nil
}

// Accept answers an incoming call. If the call ends while the request is in
// flight, no engine is started and ErrNoCall is returned.
func (m *Machine) Accept(ctx context.Context, id domain.CallID) error {
	var (
		err error
		gen uint64
	)
	if xerr := m.exec(func() {
		switch {
		case m.call == nil || m.call.ID != id:
			err = domain.ErrNoCall
		case m.call.Status != domain.CallIncoming || m.accepting || m.rejecting:
			err = domain.ErrCallState
		default:
			m.accepting = true
			m.stopTimer()
			gen = m.gen
		}
	}); xerr != nil {
		return xerr
	}
	if err != nil {
		return err
	}

	_, reqErr := m.cfg.API.AcceptCall(ctx, id)

	if xerr := m.exec(func() {
		if m.gen != gen || m.call == nil {
			err = domain.ErrNoCall
			return
		}
		m.accepting = false
		if reqErr != nil {
			m.armTimer(m.deadline.Sub(m.cfg.Clock.Now()))
			err = reqErr
			return
		}
		m.call.Status = domain.CallAccepted
		m.publish()
		m.activate()
	}); xerr != nil {
		return xerr
	}
	return err
}

// Reject declines an incoming call.
func (m *Machine) Reject(ctx context.Context, id domain.CallID) error {
	return m.end(ctx, id, domain.EndRejected, true)
}

// End hangs up the call in whatever state it is.
func (m *Machine) End(ctx context.Context, id domain.CallID) error {
	return m.end(ctx, id, domain.EndLocal, false)
}

func (m *Machine) end(ctx context.Context, id domain.CallID, reason domain.EndReason, incomingOnly bool) error {
	var (
		err error
		gen uint64
	)
	if xerr := m.exec(func() {
		switch {
		case m.call == nil || m.call.ID != id:
			err = domain.ErrNoCall
		case incomingOnly && (m.call.Status != domain.CallIncoming || m.accepting || m.rejecting):
			err = domain.ErrCallState
		default:
			gen = m.gen
			if incomingOnly {
				m.rejecting = true
				m.stopTimer()
			}
		}
	}); xerr != nil {
		return xerr
	}
	if err != nil {
		return err
	}

	reqErr := m.cfg.API.EndCall(ctx, id)

	if xerr := m.exec(func() {
		if m.gen != gen || m.call == nil {
			return
		}
		if reqErr != nil {
			if incomingOnly {
				m.rejecting = false
				m.armTimer(m.deadline.Sub(m.cfg.Clock.Now()))
			}
			return
		}
		m.terminate(reason, nil)
	}); xerr != nil {
		return xerr
	}
	if reqErr != nil {
		m.log.Warn().Err(reqErr).Str("call_id", string(id)).Msg("end call failed")
		return reqErr
	}
	return nil
}

// HandleNotice feeds a presence notice into the machine.
func (m *Machine) HandleNotice(n presence.Notice) {
	m.post(func() { m.onNotice(n) })
}

func (m *Machine) onNotice(n presence.Notice) {
	switch n.Kind {
	case presence.NoticeIncoming:
		if m.call != nil || m.starting {
			m.log.Info().Str("call_id", string(n.CallID)).Msg("busy, ignoring incoming call")
			return
		}
		counterpart := n.CallerRole
		if counterpart == "" {
			counterpart = m.cfg.Role.Counterpart()
		}
		m.gen++
		m.call = &domain.Call{
			ID:          n.CallID,
			RoomID:      n.RoomID,
			Status:      domain.CallIncoming,
			Counterpart: counterpart,
		}
		m.deadline = m.cfg.Clock.Now().Add(m.cfg.AutoReject)
		m.armTimer(m.cfg.AutoReject)
		m.log.Info().Str("call_id", string(n.CallID)).Msg("incoming call")
		m.publish()

	case presence.NoticeAccepted:
		// an accepted notice without an id refers to the call being placed
		if m.starting {
			if m.early[n.CallID] != presence.NoticeEnded {
				m.early[n.CallID] = presence.NoticeAccepted
			}
			return
		}
		if m.call == nil || (n.CallID != "" && m.call.ID != n.CallID) || !m.call.IsCaller || m.call.Status != domain.CallRinging {
			return
		}
		m.onAccepted()

	case presence.NoticeEnded:
		if m.starting && n.CallID != "" {
			m.early[n.CallID] = presence.NoticeEnded
			return
		}
		if m.call == nil || (n.CallID != "" && n.CallID != m.call.ID) {
			return
		}
		m.terminate(domain.EndRemote, nil)
	}
}

func (m *Machine) onAccepted() {
	m.call.Status = domain.CallAccepted
	m.publish()
	m.activate()
}

func (m *Machine) activate() {
	gen := m.gen
	ps := m.cfg.Engines(m.ctx, m.call.ID, m.call.IsCaller)
	m.peer = ps
	m.call.Status = domain.CallActive
	m.log.Info().Str("call_id", string(m.call.ID)).Msg("call active")
	m.publish()

	go func() {
		select {
		case <-ps.Done():
			m.post(func() { m.onEngineDone(gen, ps) })
		case <-m.done:
		}
	}()
}

func (m *Machine) onEngineDone(gen uint64, ps PeerSession) {
	if m.gen != gen || m.peer != ps || m.call == nil {
		return
	}
	m.peer = nil
	reason := ps.Reason()
	if reason == domain.EndFailed {
		m.endRemotely(m.call.ID)
	}
	m.terminate(reason, ps.Err())
}

func (m *Machine) armTimer(d time.Duration) {
	if d < 0 {
		d = 0
	}
	gen := m.gen
	m.timer = m.cfg.Clock.AfterFunc(d, func() {
		m.post(func() { m.onTimeout(gen) })
	})
}

func (m *Machine) stopTimer() {
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
}

func (m *Machine) onTimeout(gen uint64) {
	if m.gen != gen || m.call == nil || m.call.Status != domain.CallIncoming || m.accepting || m.rejecting {
		return
	}
	m.log.Info().Str("call_id", string(m.call.ID)).Dur("after", m.cfg.AutoReject).Msg("auto-rejecting unanswered call")
	m.endRemotely(m.call.ID)
	m.terminate(domain.EndTimeout, nil)
}

// endRemotely tells the backend the call is over without waiting for it.
func (m *Machine) endRemotely(id domain.CallID) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), m.cfg.EndTimeout)
		defer cancel()
		if err := m.cfg.API.EndCall(ctx, id); err != nil {
			m.log.Warn().Err(err).Str("call_id", string(id)).Msg("best-effort end failed")
		}
	}()
}

func (m *Machine) terminate(reason domain.EndReason, err error) {
	if m.call == nil {
		return
	}
	m.stopTimer()
	if m.peer != nil {
		ps := m.peer
		m.peer = nil
		go ps.Release()
	}
	final := *m.call
	final.Status = domain.CallEnded
	m.call = nil
	m.accepting = false
	m.rejecting = false
	m.gen++

	ev := m.log.Info()
	if err != nil {
		ev = m.log.Warn().Err(err)
	}
	ev.Str("call_id", string(final.ID)).Str("reason", string(reason)).Msg("call ended")

	snap := Snapshot{Call: final, Reason: reason, Err: err}
	if err != nil {
		snap.Error = err.Error()
	}
	m.broadcast(snap)
}

func (m *Machine) publish() {
	m.broadcast(Snapshot{Call: *m.call})
}

func (m *Machine) broadcast(s Snapshot) {
	m.mu.Lock()
	if m.call == nil {
		m.cur = nil
	} else {
		c := *m.call
		m.cur = &c
	}
	m.mu.Unlock()
	for id, ch := range m.subs {
		select {
		case ch <- s:
		default:
			m.log.Warn().Int("subscriber", id).Msg("subscriber slow, snapshot dropped")
		}
	}
}

// Subscribe streams snapshots until cancel is called or the machine closes.
func (m *Machine) Subscribe() (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, 32)
	var id int
	if err := m.exec(func() {
		id = m.nextSub
		m.nextSub++
		m.subs[id] = ch
	}); err != nil {
		close(ch)
		return ch, func() {}
	}
	return ch, func() {
		_ = m.exec(func() {
			if _, ok := m.subs[id]; ok {
				delete(m.subs, id)
				close(ch)
			}
		})
	}
}

func (m *Machine) ToggleAudio(enabled bool) error {
	return m.withPeer(func(ps PeerSession) error { return ps.ToggleAudio(enabled) })
}

func (m *Machine) ToggleVideo(enabled bool) error {
	return m.withPeer(func(ps PeerSession) error { return ps.ToggleVideo(enabled) })
}

func (m *Machine) withPeer(fn func(PeerSession) error) error {
	var ps PeerSession
	if err := m.exec(func() { ps = m.peer }); err != nil {
		return err
	}
	if ps == nil {
		return domain.ErrNoCall
	}
	return fn(ps)
}

// Close ends any call in progress, telling the backend best-effort, and
// stops the machine.
func (m *Machine) Close() {
	m.once.Do(func() {
		_ = m.exec(func() {
			if m.call != nil {
				m.endRemotely(m.call.ID)
				m.terminate(domain.EndLocal, nil)
			}
			for id, ch := range m.subs {
				delete(m.subs, id)
				close(ch)
			}
		})
		close(m.done)
		m.cancel()
	})
}
