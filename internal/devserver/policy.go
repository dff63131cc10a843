package devserver

type BackpressureAction int

const (
	NoAction BackpressureAction = iota
	DropFrame
	KickPeer
)

// Policy decides what happens to a peer whose send queue is full.
type Policy interface {
	OnBackpressure(channel string, peer *peerConn) BackpressureAction
}

// SimplePolicy kicks slow signaling peers, whose missing frames would break
// negotiation anyway, and drops frames for everyone else.
type SimplePolicy struct{}

func (SimplePolicy) OnBackpressure(channel string, _ *peerConn) BackpressureAction {
	if channel == channelSignaling {
		return KickPeer
	}
	return DropFrame
}
