// Package domain contains entities without transport logic, just meta-data
package domain

import (
	"errors"
	"strings"
)

const MaxUserIDLen = 64

var (
	ErrTokenEmpty     = errors.New("token empty")
	ErrUserIDEmpty    = errors.New("user id empty")
	ErrUserIDTooLong  = errors.New("user id too long")
	ErrRoleUnknown    = errors.New("unknown role")
	ErrIdentityAbsent = errors.New("no identity")
)

type Role string

const (
	RoleMember Role = "member"
	RoleCoach  Role = "coach"
)

// ParseRole also accepts the backend's legacy names "user" and "trainer".
func ParseRole(s string) (Role, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "member", "user":
		return RoleMember, nil
	case "coach", "trainer":
		return RoleCoach, nil
	}
	return "", ErrRoleUnknown
}

func (r Role) Valid() bool { return r == RoleMember || r == RoleCoach }

// Counterpart is the role on the other end of a call or room.
func (r Role) Counterpart() Role {
	if r == RoleCoach {
		return RoleMember
	}
	return RoleCoach
}

// Identity is the authenticated principal a session acts for.
// It never changes for the lifetime of the channels opened with it.
type Identity struct {
	ID    UserID `json:"id"`
	Role  Role   `json:"role"`
	Token string `json:"-"`
}

func NewIdentity(id UserID, role Role, token string) (Identity, error) {
	if token == "" {
		return Identity{}, ErrTokenEmpty
	}
	if id == "" {
		return Identity{}, ErrUserIDEmpty
	}
	if len(id) > MaxUserIDLen {
		return Identity{}, ErrUserIDTooLong
	}
	if !role.Valid() {
		return Identity{}, ErrRoleUnknown
	}
	return Identity{ID: id, Role: role, Token: token}, nil
}

func (i Identity) IsZero() bool { return i.Token == "" }
