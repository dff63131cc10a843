// Package session holds everything that is scoped to one authenticated
// identity: endpoints, transport settings and the channel registry.
package session

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/gorilla/websocket"

	"github.com/dkeye/coachrtc/internal/adapters/backend"
	"github.com/dkeye/coachrtc/internal/adapters/ws"
	"github.com/dkeye/coachrtc/internal/core"
	"github.com/dkeye/coachrtc/internal/domain"
)

// Endpoints are the backend's base URLs. Role specific socket bases win over
// WSBase when set.
type Endpoints struct {
	BackendURL   string
	WSBase       string
	MemberWSBase string
	CoachWSBase  string
}

type ChannelSettings struct {
	RetryDelay time.Duration
	PingPeriod time.Duration
	PongWait   time.Duration
	WriteWait  time.Duration
	ReadLimit  int64
}

type Settings struct {
	Endpoints      Endpoints
	Channels       ChannelSettings
	RequestTimeout time.Duration
	Dialer         ws.Dialer
	Clock          clock.Clock
}

type Session struct {
	Identity domain.Identity
	Settings Settings
	Backend  *backend.Client
	Registry *Registry
}

func New(id domain.Identity, s Settings) *Session {
	if s.Clock == nil {
		s.Clock = clock.New()
	}
	if s.Dialer == nil {
		s.Dialer = &websocket.Dialer{HandshakeTimeout: 10 * time.Second, Proxy: websocket.DefaultDialer.Proxy}
	}
	return &Session{
		Identity: id,
		Settings: s,
		Backend:  backend.New(s.Endpoints.BackendURL, id.Token, s.RequestTimeout),
		Registry: NewRegistry(),
	}
}

func (s *Session) Clock() clock.Clock { return s.Settings.Clock }

func (s *Session) wsBase() string {
	base := s.Settings.Endpoints.WSBase
	switch s.Identity.Role {
	case domain.RoleMember:
		if b := s.Settings.Endpoints.MemberWSBase; b != "" {
			base = b
		}
	case domain.RoleCoach:
		if b := s.Settings.Endpoints.CoachWSBase; b != "" {
			base = b
		}
	}
	return strings.TrimRight(base, "/")
}

func (s *Session) socketURL(path string) string {
	return fmt.Sprintf("%s%s?token=%s", s.wsBase(), path, url.QueryEscape(s.Identity.Token))
}

func (s *Session) PresenceURL() string { return s.socketURL("/ws/user/call/") }

func (s *Session) CallURL(id domain.CallID) string {
	return s.socketURL("/ws/calls/" + url.PathEscape(string(id)) + "/")
}

func (s *Session) ChatURL(id domain.RoomID) string {
	return s.socketURL("/ws/chat/" + url.PathEscape(string(id)) + "/")
}

// ChannelOptions fills transport settings shared by every channel.
func (s *Session) ChannelOptions(rawURL, name string, reconnect bool, h func(core.Event)) ws.Options {
	cs := s.Settings.Channels
	return ws.Options{
		URL:        rawURL,
		Name:       name,
		Reconnect:  reconnect,
		RetryDelay: cs.RetryDelay,
		Handler:    h,
		Dialer:     s.Settings.Dialer,
		Clock:      s.Settings.Clock,
		WriteWait:  cs.WriteWait,
		PongWait:   cs.PongWait,
		PingPeriod: cs.PingPeriod,
		ReadLimit:  cs.ReadLimit,
	}
}

// Close tears down every channel opened for this identity.
func (s *Session) Close() {
	s.Registry.CloseAll()
}
