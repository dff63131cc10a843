package core

import (
	"bytes"
	"encoding/json"
	"errors"
)

type FrameType string

const (
	FrameIncomingCall FrameType = "INCOMING_CALL"
	FrameCallAccepted FrameType = "CALL_ACCEPTED"
	FrameCallEnded    FrameType = "CALL_ENDED"
	FrameCallOffer    FrameType = "CALL_OFFER"
	FrameCallAnswer   FrameType = "CALL_ANSWER"
	FrameCallICE      FrameType = "CALL_ICE"
	FrameMessage      FrameType = "message"
)

var (
	ErrFrameNotJSON     = errors.New("frame is not a json object")
	ErrFrameMissingType = errors.New("frame has no type")
)

// Frame is one inbound envelope `{"type": ..., ...}`.
type Frame struct {
	Type FrameType
	Raw  json.RawMessage
}

func ParseFrame(data []byte) (Frame, error) {
	var env struct {
		Type FrameType `json:"type"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		return Frame{}, errors.Join(ErrFrameNotJSON, err)
	}
	if env.Type == "" {
		return Frame{}, ErrFrameMissingType
	}
	return Frame{Type: env.Type, Raw: append(json.RawMessage(nil), data...)}, nil
}

// Payload returns the nested "payload" object when present, otherwise the
// whole envelope. Servers put event fields in either place.
func (f Frame) Payload() json.RawMessage {
	var env struct {
		Payload json.RawMessage `json:"payload"`
	}
	if err := json.Unmarshal(f.Raw, &env); err == nil {
		p := bytes.TrimSpace(env.Payload)
		if len(p) > 0 && !bytes.Equal(p, []byte("null")) {
			return p
		}
	}
	return f.Raw
}

// Decode unmarshals Payload into v.
func (f Frame) Decode(v any) error {
	return json.Unmarshal(f.Payload(), v)
}
