// Package rtctest provides in-memory peer connections and media sources so
// call negotiation can be exercised without ICE or real devices.
package rtctest

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/dkeye/coachrtc/internal/core"
	"github.com/dkeye/coachrtc/internal/domain"
)

var ErrNoRemoteDescription = errors.New("remote description not set")

// Peer records every negotiation step it is asked to perform.
type Peer struct {
	CallID domain.CallID

	mu         sync.Mutex
	local      *webrtc.SessionDescription
	remote     *webrtc.SessionDescription
	offers     int
	answers    int
	candidates []webrtc.ICECandidateInit
	tracks     []webrtc.TrackLocal
	enabled    map[webrtc.RTPCodecType]bool
	closed     bool
	closes     int

	onICE    func(webrtc.ICECandidateInit)
	onClosed func()
}

func NewPeer(callID domain.CallID) *Peer {
	return &Peer{CallID: callID, enabled: make(map[webrtc.RTPCodecType]bool)}
}

func (p *Peer) Start(context.Context) error { return nil }

func (p *Peer) CreateOffer() (webrtc.SessionDescription, error) {
	p.mu.Lock()
	p.offers++
	offer := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: fmt.Sprintf("v=0 offer %s #%d", p.CallID, p.offers)}
	p.local = &offer
	p.mu.Unlock()
	p.gather()
	return offer, nil
}

func (p *Peer) ApplyOffer(offer webrtc.SessionDescription) (webrtc.SessionDescription, error) {
	p.mu.Lock()
	p.remote = &offer
	p.answers++
	answer := webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: fmt.Sprintf("v=0 answer %s #%d", p.CallID, p.answers)}
	p.local = &answer
	p.mu.Unlock()
	p.gather()
	return answer, nil
}

func (p *Peer) ApplyAnswer(answer webrtc.SessionDescription) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.remote = &answer
	return nil
}

func (p *Peer) HasRemoteDescription() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.remote != nil
}

// AddICECandidate fails without a remote description, like a real peer.
func (p *Peer) AddICECandidate(c webrtc.ICECandidateInit) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.remote == nil {
		return ErrNoRemoteDescription
	}
	p.candidates = append(p.candidates, c)
	return nil
}

func (p *Peer) OnICECandidate(fn func(webrtc.ICECandidateInit)) {
	p.mu.Lock()
	p.onICE = fn
	p.mu.Unlock()
}

func (p *Peer) OnTrack(func(context.Context, *webrtc.TrackRemote, *webrtc.RTPReceiver)) {}

func (p *Peer) OnClosed(fn func()) {
	p.mu.Lock()
	p.onClosed = fn
	p.mu.Unlock()
}

func (p *Peer) AddLocalTrack(t webrtc.TrackLocal) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tracks = append(p.tracks, t)
	p.enabled[t.Kind()] = true
	return nil
}

func (p *Peer) SetTrackEnabled(kind webrtc.RTPCodecType, enabled bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.enabled[kind] = enabled
	return nil
}

func (p *Peer) Close() {
	p.mu.Lock()
	p.closes++
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	fn := p.onClosed
	p.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func (p *Peer) IsClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// gather emits one host candidate asynchronously, the way a real peer
// reports candidates from its own goroutine.
func (p *Peer) gather() {
	p.mu.Lock()
	fn := p.onICE
	n := p.offers + p.answers
	p.mu.Unlock()
	if fn == nil {
		return
	}
	mid := "0"
	var idx uint16
	cand := webrtc.ICECandidateInit{
		Candidate:     fmt.Sprintf("candidate:%d 1 udp 2122260223 10.0.0.%d 50000 typ host", n, n),
		SDPMid:        &mid,
		SDPMLineIndex: &idx,
	}
	go fn(cand)
}

func (p *Peer) Offers() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.offers
}

func (p *Peer) Answers() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.answers
}

func (p *Peer) Remote() *webrtc.SessionDescription {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.remote
}

func (p *Peer) Candidates() []webrtc.ICECandidateInit {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]webrtc.ICECandidateInit(nil), p.candidates...)
}

func (p *Peer) Tracks() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.tracks)
}

func (p *Peer) Enabled(kind webrtc.RTPCodecType) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.enabled[kind]
}

func (p *Peer) Closes() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closes
}

// Factory hands out Peers and remembers them.
type Factory struct {
	Err error

	mu    sync.Mutex
	peers []*Peer
}

func (f *Factory) NewPeer(callID domain.CallID) (core.MediaConnection, error) {
	if f.Err != nil {
		return nil, f.Err
	}
	p := NewPeer(callID)
	f.mu.Lock()
	f.peers = append(f.peers, p)
	f.mu.Unlock()
	return p, nil
}

func (f *Factory) Peers() []*Peer {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*Peer(nil), f.peers...)
}

// Last returns the most recently created peer or nil.
func (f *Factory) Last() *Peer {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.peers) == 0 {
		return nil
	}
	return f.peers[len(f.peers)-1]
}

// Source hands out Media, or fails with Err.
type Source struct {
	Err error

	mu       sync.Mutex
	acquired int
	media    []*Media
}

func (s *Source) Acquire(context.Context) (core.LocalMedia, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.acquired++
	if s.Err != nil {
		return nil, s.Err
	}
	audio, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus}, "audio", "test")
	if err != nil {
		return nil, err
	}
	video, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}, "video", "test")
	if err != nil {
		return nil, err
	}
	m := &Media{tracks: []webrtc.TrackLocal{audio, video}}
	s.media = append(s.media, m)
	return m, nil
}

func (s *Source) Acquired() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.acquired
}

func (s *Source) Media() []*Media {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*Media(nil), s.media...)
}

type Media struct {
	tracks []webrtc.TrackLocal

	mu    sync.Mutex
	stops int
}

func (m *Media) Tracks() []webrtc.TrackLocal { return m.tracks }

func (m *Media) Stop() {
	m.mu.Lock()
	m.stops++
	m.mu.Unlock()
}

func (m *Media) Stops() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stops
}
