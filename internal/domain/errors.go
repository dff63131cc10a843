package domain

import (
	"errors"
	"fmt"
)

var (
	ErrCallInProgress = errors.New("call already in progress")
	ErrNoCall         = errors.New("no such call")
	ErrCallState      = errors.New("call is not in a state that allows this")
)

// ConnectionError is a socket-level failure. Chat and presence recover by
// reconnecting; on the signaling channel it is fatal to the call.
type ConnectionError struct {
	Channel string
	Err     error
}

func (e *ConnectionError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s connection closed", e.Channel)
	}
	return fmt.Sprintf("%s connection: %v", e.Channel, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// MediaAcquisitionError aborts call setup; it is never retried automatically.
type MediaAcquisitionError struct {
	Err error
}

func (e *MediaAcquisitionError) Error() string { return fmt.Sprintf("acquire media: %v", e.Err) }

func (e *MediaAcquisitionError) Unwrap() error { return e.Err }

// SignalingProtocolError describes a frame that arrived out of order.
// The frame is dropped and the connection is kept.
type SignalingProtocolError struct {
	Frame  string
	Reason string
}

func (e *SignalingProtocolError) Error() string {
	return fmt.Sprintf("unexpected %s: %s", e.Frame, e.Reason)
}

// RequestError is a failed backend request. Status is zero when the request
// never got a response.
type RequestError struct {
	Op     string
	Status int
	Body   string
	Err    error
}

func (e *RequestError) Error() string {
	switch {
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	case e.Body != "":
		return fmt.Sprintf("%s: status %d: %s", e.Op, e.Status, e.Body)
	}
	return fmt.Sprintf("%s: status %d", e.Op, e.Status)
}

func (e *RequestError) Unwrap() error { return e.Err }

func IsRequestError(err error) bool {
	var re *RequestError
	return errors.As(err, &re)
}
