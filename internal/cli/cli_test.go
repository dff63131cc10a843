package cli

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/coachrtc/internal/auth"
	"github.com/dkeye/coachrtc/internal/config"
	"github.com/dkeye/coachrtc/internal/domain"
)

func executeCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Chdir(t.TempDir())
	t.Setenv("CONFIG_ENV", "test")

	var stdout, stderr bytes.Buffer
	root := newRootCmd()
	root.SetOut(&stdout)
	root.SetErr(&stderr)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return stdout.String(), err
}

func TestVersion(t *testing.T) {
	out, err := executeCLI(t, "version")
	require.NoError(t, err)
	assert.Equal(t, Version+"\n", out)
}

func TestTokenMintsParseableToken(t *testing.T) {
	out, err := executeCLI(t, "token", "--secret", "s3cret", "--user", "7", "--role", "trainer", "--ttl", "1h")
	require.NoError(t, err)

	id, err := auth.NewIssuer("s3cret", time.Hour).Parse(strings.TrimSpace(out))
	require.NoError(t, err)
	assert.Equal(t, domain.UserID("7"), id.ID)
	assert.Equal(t, domain.RoleCoach, id.Role)
}

func TestTokenRequiresSecret(t *testing.T) {
	_, err := executeCLI(t, "token", "--user", "7", "--role", "coach")
	require.ErrorIs(t, err, errNoSecret)
}

func TestTokenRejectsUnknownRole(t *testing.T) {
	_, err := executeCLI(t, "token", "--secret", "s", "--user", "7", "--role", "admin")
	require.ErrorIs(t, err, domain.ErrRoleUnknown)
}

func TestConfiguredIdentity(t *testing.T) {
	t.Parallel()

	tok, err := auth.NewIssuer("s", time.Hour).Mint("101", domain.RoleMember)
	require.NoError(t, err)

	_, ok, err := configuredIdentity(config.IdentityConfig{})
	require.NoError(t, err)
	assert.False(t, ok)

	id, ok, err := configuredIdentity(config.IdentityConfig{Token: tok})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, domain.Identity{ID: "101", Role: domain.RoleMember, Token: tok}, id)

	id, ok, err = configuredIdentity(config.IdentityConfig{Token: "opaque", UserID: "9", Role: "coach"})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, domain.Identity{ID: "9", Role: domain.RoleCoach, Token: "opaque"}, id)

	_, _, err = configuredIdentity(config.IdentityConfig{Token: "opaque"})
	require.ErrorIs(t, err, auth.ErrInvalidToken)
}

func TestSessionSettingsFromConfig(t *testing.T) {
	t.Parallel()

	cfg := &config.Config{
		Backend: config.BackendConfig{BaseURL: "http://b/api", RequestTimeout: time.Second},
		WS:      config.WSConfig{BaseURL: "ws://b", CoachBaseURL: "ws://c", ReconnectDelay: 2 * time.Second, PingPeriod: 54 * time.Second},
	}
	s := sessionSettings(cfg)
	assert.Equal(t, "http://b/api", s.Endpoints.BackendURL)
	assert.Equal(t, "ws://c", s.Endpoints.CoachWSBase)
	assert.Equal(t, 2*time.Second, s.Channels.RetryDelay)
	assert.Equal(t, 60*time.Second, s.Channels.PongWait)
	assert.Equal(t, time.Second, s.RequestTimeout)
}

func TestSeedRooms(t *testing.T) {
	t.Parallel()

	rooms := seedRooms([]config.RoomConfig{{ID: "42", Title: "Prep", MemberID: "101", CoachID: "7"}})
	require.Len(t, rooms, 1)
	assert.Equal(t, domain.ChatRoom{ID: "42", Title: "Prep", MemberID: "101", CoachID: "7"}, rooms[0])
}
