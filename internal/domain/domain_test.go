package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIDsAcceptNumbersAndStrings(t *testing.T) {
	t.Parallel()

	var payload struct {
		Room RoomID    `json:"room_id"`
		Call CallID    `json:"call_id"`
		Msg  MessageID `json:"id"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"room_id":42,"call_id":"c-7","id":null}`), &payload))
	assert.Equal(t, RoomID("42"), payload.Room)
	assert.Equal(t, CallID("c-7"), payload.Call)
	assert.Equal(t, MessageID(""), payload.Msg)

	err := json.Unmarshal([]byte(`{"room_id":{"x":1}}`), &payload)
	require.Error(t, err)
}

func TestParseRoleAcceptsLegacyNames(t *testing.T) {
	t.Parallel()

	cases := map[string]Role{
		"member":  RoleMember,
		"user":    RoleMember,
		"Coach":   RoleCoach,
		"trainer": RoleCoach,
	}
	for in, want := range cases {
		got, err := ParseRole(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseRole("admin")
	assert.ErrorIs(t, err, ErrRoleUnknown)
	assert.Equal(t, RoleMember, RoleCoach.Counterpart())
	assert.Equal(t, RoleCoach, RoleMember.Counterpart())
}

func TestNewIdentityValidates(t *testing.T) {
	t.Parallel()

	_, err := NewIdentity("u1", RoleMember, "")
	assert.ErrorIs(t, err, ErrTokenEmpty)
	_, err = NewIdentity("", RoleMember, "tok")
	assert.ErrorIs(t, err, ErrUserIDEmpty)
	_, err = NewIdentity("u1", Role("guest"), "tok")
	assert.ErrorIs(t, err, ErrRoleUnknown)

	id, err := NewIdentity("u1", RoleCoach, "tok")
	require.NoError(t, err)
	assert.False(t, id.IsZero())
}

func TestRequestErrorUnwraps(t *testing.T) {
	t.Parallel()

	base := errors.New("dial refused")
	err := fmt.Errorf("start call: %w", &RequestError{Op: "start call", Err: base})
	assert.True(t, IsRequestError(err))
	assert.ErrorIs(t, err, base)

	status := &RequestError{Op: "end call", Status: 409, Body: "already ended"}
	assert.Equal(t, "end call: status 409: already ended", status.Error())
}

func TestChatRoomPeer(t *testing.T) {
	t.Parallel()

	room := ChatRoom{ID: "R42", MemberID: "m1", CoachID: "c1"}
	assert.True(t, room.Has("m1"))
	assert.False(t, room.Has("x"))
	assert.Equal(t, UserID("c1"), room.Peer("m1"))
	assert.Equal(t, UserID("m1"), room.Peer("c1"))
}
