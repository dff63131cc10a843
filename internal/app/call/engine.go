// Package call drives one call from ringing to teardown: the Machine owns
// the lifecycle, the Engine owns the peer connection while the call is active.
package call

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/coachrtc/internal/adapters/rtc"
	"github.com/dkeye/coachrtc/internal/adapters/ws"
	"github.com/dkeye/coachrtc/internal/app/session"
	"github.com/dkeye/coachrtc/internal/core"
	"github.com/dkeye/coachrtc/internal/domain"
)

var (
	ErrEngineClosed = errors.New("call engine released")
	ErrPeerNotReady = errors.New("peer connection not ready")
	errPeerClosed   = errors.New("peer connection closed")
)

type EngineConfig struct {
	CallID   domain.CallID
	IsCaller bool
	Peers    core.PeerFactory
	Media    core.MediaSource
	// Sink receives remote tracks; a fresh one is used when nil.
	Sink *rtc.RemoteSink
}

type Stats struct {
	OffersSent       int `json:"offers_sent"`
	AnswersSent      int `json:"answers_sent"`
	CandidatesSent   int `json:"candidates_sent"`
	CandidatesAdded  int `json:"candidates_added"`
	CandidatesQueued int `json:"candidates_queued"`
	ProtocolErrors   int `json:"protocol_errors"`
}

type offerFrame struct {
	Type  core.FrameType            `json:"type"`
	Offer webrtc.SessionDescription `json:"offer"`
}

type answerFrame struct {
	Type   core.FrameType            `json:"type"`
	Answer webrtc.SessionDescription `json:"answer"`
}

type iceFrame struct {
	Type      core.FrameType          `json:"type"`
	Candidate webrtc.ICECandidateInit `json:"candidate"`
}

// Engine negotiates one peer connection over the call's signaling socket.
// All negotiation steps run on its own loop goroutine, in arrival order.
type Engine struct {
	cfg    EngineConfig
	sess   *session.Session
	log    zerolog.Logger
	ctx    context.Context
	cancel context.CancelFunc
	inbox  chan func()
	done   chan struct{}
	ch     *ws.Channel

	// owned by the loop goroutine
	peer          core.MediaConnection
	media         core.LocalMedia
	pendingICE    []webrtc.ICECandidateInit
	offerSent     bool
	answerSent    bool
	answerApplied bool

	released atomic.Bool

	mu     sync.Mutex
	err    error
	reason domain.EndReason
	stats  Stats
}

// StartEngine opens the signaling channel and returns at once. Setup begins
// when the channel opens.
func StartEngine(ctx context.Context, sess *session.Session, cfg EngineConfig) *Engine {
	if cfg.Sink == nil {
		cfg.Sink = rtc.NewRemoteSink()
	}
	ctx, cancel := context.WithCancel(ctx)
	e := &Engine{
		cfg:    cfg,
		sess:   sess,
		ctx:    ctx,
		cancel: cancel,
		inbox:  make(chan func(), 64),
		done:   make(chan struct{}),
		log: log.With().
			Str("module", "app.call.engine").
			Str("call_id", string(cfg.CallID)).
			Bool("caller", cfg.IsCaller).
			Logger(),
	}
	sess.Registry.Bind(session.CallKey(cfg.CallID), e, nil)
	e.ch = ws.Open(ctx, sess.ChannelOptions(sess.CallURL(cfg.CallID), "signaling", false, func(ev core.Event) {
		e.post(func() { e.onEvent(ev) })
	}))
	go e.loop()
	return e
}

func (e *Engine) loop() {
	for {
		select {
		case fn := <-e.inbox:
			fn()
		case <-e.done:
			return
		}
	}
}

func (e *Engine) post(fn func()) {
	select {
	case e.inbox <- fn:
	case <-e.done:
	}
}

func (e *Engine) onEvent(ev core.Event) {
	switch ev.Kind {
	case core.EventOpened:
		e.setup()
	case core.EventFrame:
		e.onFrame(ev.Frame)
	case core.EventErrored:
		e.finish(domain.EndFailed, ev.Err)
	case core.EventClosed:
		if ev.Err != nil {
			e.finish(domain.EndFailed, ev.Err)
		}
	}
}

func (e *Engine) setup() {
	if e.peer != nil || e.released.Load() {
		return
	}
	media, err := e.cfg.Media.Acquire(e.ctx)
	if err != nil {
		e.finish(domain.EndFailed, &domain.MediaAcquisitionError{Err: err})
		return
	}
	e.media = media

	peer, err := e.cfg.Peers.NewPeer(e.cfg.CallID)
	if err != nil {
		e.finish(domain.EndFailed, fmt.Errorf("create peer: %w", err))
		return
	}
	e.peer = peer
	peer.OnICECandidate(e.sendCandidate)
	peer.OnTrack(func(ctx context.Context, track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		e.cfg.Sink.Consume(ctx, track)
	})
	peer.OnClosed(func() {
		if e.released.Load() {
			return
		}
		e.post(func() {
			e.finish(domain.EndFailed, &domain.ConnectionError{Channel: "peer", Err: errPeerClosed})
		})
	})
	if err := peer.Start(e.ctx); err != nil {
		e.finish(domain.EndFailed, fmt.Errorf("start peer: %w", err))
		return
	}
	for _, t := range media.Tracks() {
		if err := peer.AddLocalTrack(t); err != nil {
			e.finish(domain.EndFailed, fmt.Errorf("attach local track: %w", err))
			return
		}
	}
	e.log.Info().Int("tracks", len(media.Tracks())).Msg("local media attached")

	if e.cfg.IsCaller {
		e.sendOffer()
	}
}

func (e *Engine) sendOffer() {
	offer, err := e.peer.CreateOffer()
	if err != nil {
		e.finish(domain.EndFailed, err)
		return
	}
	if err := e.ch.Send(offerFrame{Type: core.FrameCallOffer, Offer: offer}); err != nil {
		e.finish(domain.EndFailed, &domain.ConnectionError{Channel: "signaling", Err: err})
		return
	}
	e.offerSent = true
	e.bump(func(s *Stats) { s.OffersSent++ })
	e.log.Info().Msg("offer sent")
}

// sendCandidate runs on the peer's goroutine.
func (e *Engine) sendCandidate(c webrtc.ICECandidateInit) {
	if e.released.Load() {
		return
	}
	if err := e.ch.Send(iceFrame{Type: core.FrameCallICE, Candidate: c}); err != nil {
		e.log.Warn().Err(err).Msg("send candidate")
		return
	}
	e.bump(func(s *Stats) { s.CandidatesSent++ })
}

func (e *Engine) onFrame(f core.Frame) {
	if e.released.Load() {
		return
	}
	switch f.Type {
	case core.FrameCallOffer:
		e.onOffer(f)
	case core.FrameCallAnswer:
		e.onAnswer(f)
	case core.FrameCallICE:
		e.onCandidate(f)
	case core.FrameCallEnded:
		e.log.Info().Msg("remote ended the call")
		e.finish(domain.EndRemote, nil)
	default:
		e.log.Debug().Str("type", string(f.Type)).Msg("ignoring frame")
	}
}

func (e *Engine) onOffer(f core.Frame) {
	switch {
	case e.cfg.IsCaller:
		e.protocol(f, "the caller never answers")
		return
	case e.answerSent:
		e.protocol(f, "already answered")
		return
	case e.peer == nil:
		e.protocol(f, "peer not ready")
		return
	}
	var p struct {
		Offer *webrtc.SessionDescription `json:"offer"`
	}
	if err := f.Decode(&p); err != nil || p.Offer == nil {
		e.protocol(f, "missing offer")
		return
	}
	answer, err := e.peer.ApplyOffer(*p.Offer)
	if err != nil {
		e.finish(domain.EndFailed, err)
		return
	}
	if err := e.ch.Send(answerFrame{Type: core.FrameCallAnswer, Answer: answer}); err != nil {
		e.finish(domain.EndFailed, &domain.ConnectionError{Channel: "signaling", Err: err})
		return
	}
	e.answerSent = true
	e.bump(func(s *Stats) { s.AnswersSent++ })
	e.log.Info().Msg("answer sent")
	e.flushCandidates()
}

func (e *Engine) onAnswer(f core.Frame) {
	switch {
	case !e.cfg.IsCaller:
		e.protocol(f, "the callee never offers")
		return
	case !e.offerSent:
		e.protocol(f, "answer before offer")
		return
	case e.answerApplied:
		e.protocol(f, "answer already applied")
		return
	}
	var p struct {
		Answer *webrtc.SessionDescription `json:"answer"`
	}
	if err := f.Decode(&p); err != nil || p.Answer == nil {
		e.protocol(f, "missing answer")
		return
	}
	if err := e.peer.ApplyAnswer(*p.Answer); err != nil {
		e.finish(domain.EndFailed, err)
		return
	}
	e.answerApplied = true
	e.log.Info().Msg("answer applied")
	e.flushCandidates()
}

// onCandidate queues candidates that arrive before the remote description.
func (e *Engine) onCandidate(f core.Frame) {
	var p struct {
		Candidate *webrtc.ICECandidateInit `json:"candidate"`
	}
	if err := f.Decode(&p); err != nil {
		e.protocol(f, "bad candidate")
		return
	}
	if p.Candidate == nil || p.Candidate.Candidate == "" {
		return
	}
	if e.peer == nil || !e.peer.HasRemoteDescription() {
		e.pendingICE = append(e.pendingICE, *p.Candidate)
		e.bump(func(s *Stats) { s.CandidatesQueued++ })
		return
	}
	e.addCandidate(*p.Candidate)
}

func (e *Engine) flushCandidates() {
	pending := e.pendingICE
	e.pendingICE = nil
	for _, c := range pending {
		e.addCandidate(c)
	}
}

func (e *Engine) addCandidate(c webrtc.ICECandidateInit) {
	if err := e.peer.AddICECandidate(c); err != nil {
		e.log.Warn().Err(err).Msg("add ice candidate")
		return
	}
	e.bump(func(s *Stats) { s.CandidatesAdded++ })
}

func (e *Engine) protocol(f core.Frame, reason string) {
	err := &domain.SignalingProtocolError{Frame: string(f.Type), Reason: reason}
	e.log.Warn().Err(err).Msg("dropping frame")
	e.bump(func(s *Stats) { s.ProtocolErrors++ })
}

func (e *Engine) bump(fn func(*Stats)) {
	e.mu.Lock()
	fn(&e.stats)
	e.mu.Unlock()
}

// finish releases everything exactly once, whatever triggered it.
func (e *Engine) finish(reason domain.EndReason, err error) {
	if e.released.Swap(true) {
		return
	}
	e.mu.Lock()
	e.reason, e.err = reason, err
	e.mu.Unlock()

	ev := e.log.Info()
	if err != nil {
		ev = e.log.Warn().Err(err)
	}
	ev.Str("reason", string(reason)).Msg("releasing peer session")

	e.cancel()
	e.ch.Close()
	if e.peer != nil {
		e.peer.Close()
	}
	if e.media != nil {
		e.media.Stop()
	}
	e.pendingICE = nil
	e.sess.Registry.Unbind(session.CallKey(e.cfg.CallID), e)
	close(e.done)
}

// Release ends the session locally and waits for cleanup. Safe to call from
// any goroutine, any number of times.
func (e *Engine) Release() {
	e.post(func() { e.finish(domain.EndLocal, nil) })
	<-e.done
}

func (e *Engine) Close() { e.Release() }

func (e *Engine) Done() <-chan struct{} { return e.done }

func (e *Engine) Err() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.err
}

func (e *Engine) Reason() domain.EndReason {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.reason
}

func (e *Engine) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stats
}

func (e *Engine) Remote() map[string]rtc.TrackStats { return e.cfg.Sink.Stats() }

func (e *Engine) ToggleAudio(enabled bool) error {
	return e.toggle(webrtc.RTPCodecTypeAudio, enabled)
}

func (e *Engine) ToggleVideo(enabled bool) error {
	return e.toggle(webrtc.RTPCodecTypeVideo, enabled)
}

func (e *Engine) toggle(kind webrtc.RTPCodecType, enabled bool) error {
	res := make(chan error, 1)
	e.post(func() {
		if e.peer == nil {
			res <- ErrPeerNotReady
			return
		}
		res <- e.peer.SetTrackEnabled(kind, enabled)
	})
	select {
	case err := <-res:
		return err
	case <-e.done:
		return ErrEngineClosed
	}
}
