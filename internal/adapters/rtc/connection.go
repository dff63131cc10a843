package rtc

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/coachrtc/internal/core"
	"github.com/dkeye/coachrtc/internal/domain"
)

const DefaultSTUN = "stun:stun.l.google.com:19302"

var ErrConnectionClosed = errors.New("peer connection closed")

func DefaultWebRTCConfig() webrtc.Configuration {
	return WebRTCConfig(nil)
}

func WebRTCConfig(stunURLs []string) webrtc.Configuration {
	if len(stunURLs) == 0 {
		stunURLs = []string{DefaultSTUN}
	}
	return webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{
			{URLs: stunURLs},
		},
	}
}

// NewAPI builds a webrtc API with the default codecs and interceptors.
func NewAPI() (*webrtc.API, error) {
	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("register codecs: %w", err)
	}
	registry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, registry); err != nil {
		return nil, fmt.Errorf("register interceptors: %w", err)
	}
	se := webrtc.SettingEngine{}
	se.SetICETimeouts(10*time.Second, 30*time.Second, 2*time.Second)
	return webrtc.NewAPI(
		webrtc.WithMediaEngine(mediaEngine),
		webrtc.WithInterceptorRegistry(registry),
		webrtc.WithSettingEngine(se),
	), nil
}

// Factory creates peer connections that share one API instance.
type Factory struct {
	api *webrtc.API
	cfg webrtc.Configuration
}

func NewFactory(stunURLs []string) (*Factory, error) {
	api, err := NewAPI()
	if err != nil {
		return nil, err
	}
	return &Factory{api: api, cfg: WebRTCConfig(stunURLs)}, nil
}

func (f *Factory) NewPeer(callID domain.CallID) (core.MediaConnection, error) {
	return NewWebRTCConnection(f.api, f.cfg, callID)
}

type localSender struct {
	sender *webrtc.RTPSender
	track  webrtc.TrackLocal
}

type WebRTCConnection struct {
	pc     *webrtc.PeerConnection
	callID domain.CallID
	log    zerolog.Logger
	cancel context.CancelFunc

	mu       sync.Mutex
	onICE    func(webrtc.ICECandidateInit)
	onTrack  func(ctx context.Context, track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver)
	onClosed func()
	senders  map[webrtc.RTPCodecType][]localSender

	closed       atomic.Bool
	closedNotice sync.Once
}

func NewWebRTCConnection(api *webrtc.API, cfg webrtc.Configuration, callID domain.CallID) (*WebRTCConnection, error) {
	pc, err := api.NewPeerConnection(cfg)
	if err != nil {
		return nil, fmt.Errorf("new peer connection: %w", err)
	}
	return &WebRTCConnection{
		pc:      pc,
		callID:  callID,
		log:     log.With().Str("module", "webrtc").Str("call_id", string(callID)).Logger(),
		senders: make(map[webrtc.RTPCodecType][]localSender),
	}, nil
}

func (c *WebRTCConnection) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	c.pc.OnICEConnectionStateChange(func(s webrtc.ICEConnectionState) {
		c.log.Info().Str("ice_state", s.String()).Msg("ICE state")
	})

	c.pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		c.log.Info().Str("peer_connection_state", s.String()).Msg("Peer state")
		if s == webrtc.PeerConnectionStateFailed ||
			s == webrtc.PeerConnectionStateClosed {
			cancel()
			c.notifyClosed()
		}
	})

	c.pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		c.mu.Lock()
		fn := c.onICE
		c.mu.Unlock()
		if cand != nil && fn != nil {
			fn(cand.ToJSON())
		}
	})

	c.pc.OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		c.log.Info().
			Str("kind", track.Kind().String()).
			Str("track_id", track.ID()).
			Str("stream_id", track.StreamID()).
			Msg("OnTrack received")
		c.mu.Lock()
		fn := c.onTrack
		c.mu.Unlock()
		if fn != nil {
			fn(ctx, track, receiver)
		}
	})

	return nil
}

// CreateOffer does not wait for gathering; candidates trickle through OnICECandidate.
func (c *WebRTCConnection) CreateOffer() (webrtc.SessionDescription, error) {
	offer, err := c.pc.CreateOffer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("create offer: %w", err)
	}
	if err := c.pc.SetLocalDescription(offer); err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("set local offer: %w", err)
	}
	return offer, nil
}

func (c *WebRTCConnection) ApplyOffer(offer webrtc.SessionDescription) (webrtc.SessionDescription, error) {
	if err := c.pc.SetRemoteDescription(offer); err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("set remote offer: %w", err)
	}
	answer, err := c.pc.CreateAnswer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("create answer: %w", err)
	}
	if err := c.pc.SetLocalDescription(answer); err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("set local answer: %w", err)
	}
	return answer, nil
}

func (c *WebRTCConnection) ApplyAnswer(answer webrtc.SessionDescription) error {
	if err := c.pc.SetRemoteDescription(answer); err != nil {
		return fmt.Errorf("set remote answer: %w", err)
	}
	return nil
}

func (c *WebRTCConnection) HasRemoteDescription() bool {
	return c.pc.RemoteDescription() != nil
}

func (c *WebRTCConnection) Close() {
	if !c.closed.CompareAndSwap(false, true) {
		return
	}
	if c.cancel != nil {
		c.cancel()
	}
	if err := c.pc.Close(); err != nil {
		c.log.Error().Err(err).Msg("close error")
	} else {
		c.log.Info().Msg("closed")
	}
	c.notifyClosed()
}

func (c *WebRTCConnection) IsClosed() bool { return c.closed.Load() }

func (c *WebRTCConnection) notifyClosed() {
	c.closedNotice.Do(func() {
		c.mu.Lock()
		fn := c.onClosed
		c.mu.Unlock()
		if fn != nil {
			fn()
		}
	})
}

func (c *WebRTCConnection) AddICECandidate(ci webrtc.ICECandidateInit) error {
	return c.pc.AddICECandidate(ci)
}

func (c *WebRTCConnection) LocalDescription() *webrtc.SessionDescription {
	return c.pc.LocalDescription()
}

func (c *WebRTCConnection) OnICECandidate(fn func(webrtc.ICECandidateInit)) {
	c.mu.Lock()
	c.onICE = fn
	c.mu.Unlock()
}

// OnTrack sets application-level callback for remote tracks.
func (c *WebRTCConnection) OnTrack(fn func(ctx context.Context, track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver)) {
	c.mu.Lock()
	c.onTrack = fn
	c.mu.Unlock()
}

// OnClosed sets application-level callback for cleanup tracks
func (c *WebRTCConnection) OnClosed(fn func()) {
	c.mu.Lock()
	c.onClosed = fn
	c.mu.Unlock()
}

// AddLocalTrack attaches a local track and drains RTCP for its sender.
func (c *WebRTCConnection) AddLocalTrack(track webrtc.TrackLocal) error {
	if c.closed.Load() {
		return ErrConnectionClosed
	}
	sender, err := c.pc.AddTrack(track)
	if err != nil {
		return fmt.Errorf("add %s track: %w", track.Kind(), err)
	}
	c.mu.Lock()
	c.senders[track.Kind()] = append(c.senders[track.Kind()], localSender{sender: sender, track: track})
	c.mu.Unlock()

	go func() {
		buf := make([]byte, 1500)
		for {
			if _, _, err := sender.Read(buf); err != nil {
				return
			}
		}
	}()
	return nil
}

// SetTrackEnabled swaps the sender's track for nil and back, which pauses
// sending without an SDP round trip.
func (c *WebRTCConnection) SetTrackEnabled(kind webrtc.RTPCodecType, enabled bool) error {
	if c.closed.Load() {
		return ErrConnectionClosed
	}
	c.mu.Lock()
	senders := append([]localSender(nil), c.senders[kind]...)
	c.mu.Unlock()
	for _, s := range senders {
		var track webrtc.TrackLocal
		if enabled {
			track = s.track
		}
		if err := s.sender.ReplaceTrack(track); err != nil {
			return fmt.Errorf("toggle %s: %w", kind, err)
		}
	}
	c.log.Info().Str("kind", kind.String()).Bool("enabled", enabled).Msg("track toggled")
	return nil
}
