package core

// EventKind tags the variants of Event.
type EventKind int

const (
	EventOpened EventKind = iota + 1
	EventFrame
	EventClosed
	EventErrored
)

func (k EventKind) String() string {
	switch k {
	case EventOpened:
		return "opened"
	case EventFrame:
		return "frame"
	case EventClosed:
		return "closed"
	case EventErrored:
		return "errored"
	}
	return "unknown"
}

// Event is what a channel reports to its owner. Frame is set for
// EventFrame, Err for EventErrored and optionally for EventClosed.
type Event struct {
	Kind  EventKind
	Frame Frame
	Err   error
}

// ConnState is the observable state of a channel.
type ConnState string

const (
	StateConnecting ConnState = "connecting"
	StateOpen       ConnState = "open"
	StateClosed     ConnState = "closed"
)
