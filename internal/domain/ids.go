package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Backend ids arrive as JSON numbers or strings; both decode to the same value.
type (
	UserID    string
	RoomID    string
	CallID    string
	MessageID string
)

func (id *UserID) UnmarshalJSON(b []byte) error    { return unmarshalID(b, (*string)(id)) }
func (id *RoomID) UnmarshalJSON(b []byte) error    { return unmarshalID(b, (*string)(id)) }
func (id *CallID) UnmarshalJSON(b []byte) error    { return unmarshalID(b, (*string)(id)) }
func (id *MessageID) UnmarshalJSON(b []byte) error { return unmarshalID(b, (*string)(id)) }

func unmarshalID(b []byte, dst *string) error {
	b = bytes.TrimSpace(b)
	switch {
	case len(b) == 0 || bytes.Equal(b, []byte("null")):
		*dst = ""
		return nil
	case b[0] == '"':
		return json.Unmarshal(b, dst)
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("id must be a string or a number: %w", err)
	}
	*dst = n.String()
	return nil
}
