package domain

type CallStatus string

const (
	CallRinging  CallStatus = "ringing"
	CallIncoming CallStatus = "incoming"
	CallAccepted CallStatus = "accepted"
	CallActive   CallStatus = "active"
	CallEnded    CallStatus = "ended"
)

func (s CallStatus) Terminal() bool { return s == CallEnded }

// Call is the local view of one call between a member and a coach.
type Call struct {
	ID          CallID     `json:"call_id"`
	RoomID      RoomID     `json:"room_id"`
	Status      CallStatus `json:"status"`
	Counterpart Role       `json:"counterpart,omitempty"`
	IsCaller    bool       `json:"is_caller"`
}

// EndReason records what moved a call to ended.
type EndReason string

const (
	EndLocal    EndReason = "local"
	EndRejected EndReason = "rejected"
	EndTimeout  EndReason = "timeout"
	EndRemote   EndReason = "remote"
	EndFailed   EndReason = "failed"
)
