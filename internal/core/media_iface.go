package core

import (
	"context"

	"github.com/dkeye/coachrtc/internal/domain"
	"github.com/pion/webrtc/v4"
)

// MediaConnection is one peer connection of a call.
type MediaConnection interface {
	// Start configures internal callbacks and binds the connection lifetime to ctx.
	Start(ctx context.Context) error
	// Close stops all underlying media resources. Safe to call more than once.
	Close()
	IsClosed() bool
	// CreateOffer creates an offer and sets it as the local description.
	CreateOffer() (webrtc.SessionDescription, error)
	// ApplyOffer sets the remote offer and returns the local answer.
	ApplyOffer(webrtc.SessionDescription) (webrtc.SessionDescription, error)
	ApplyAnswer(webrtc.SessionDescription) error
	HasRemoteDescription() bool
	// AddICECandidate applies a remote ICE candidate.
	AddICECandidate(webrtc.ICECandidateInit) error
	// OnICECandidate sets a callback for newly gathered local ICE candidates.
	OnICECandidate(func(webrtc.ICECandidateInit))
	// OnTrack sets a callback that will be invoked when a new remote track arrives.
	OnTrack(func(ctx context.Context, track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver))
	// OnClosed sets a callback fired once the connection has failed or closed.
	OnClosed(func())
	AddLocalTrack(track webrtc.TrackLocal) error
	// SetTrackEnabled mutes or unmutes local tracks of one kind without renegotiation.
	SetTrackEnabled(kind webrtc.RTPCodecType, enabled bool) error
}

type PeerFactory interface {
	NewPeer(callID domain.CallID) (MediaConnection, error)
}

// LocalMedia is a set of acquired local tracks.
type LocalMedia interface {
	Tracks() []webrtc.TrackLocal
	Stop()
}

type MediaSource interface {
	Acquire(ctx context.Context) (LocalMedia, error)
}
