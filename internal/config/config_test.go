package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Not parallel: Load reads the working directory and CONFIG_ENV.
func TestLoadDefaultsWithoutFile(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("CONFIG_ENV", "nope")

	cfg, err := Load(New())
	require.NoError(t, err)
	assert.Equal(t, "release", cfg.Mode)
	assert.Equal(t, 2*time.Second, cfg.WS.ReconnectDelay)
	assert.Equal(t, 30*time.Second, cfg.Call.AutoReject)
	assert.Equal(t, []string{"stun:stun.l.google.com:19302"}, cfg.Call.STUNURLs)
	assert.Equal(t, "synthetic", cfg.Call.Media)
}

func TestLoadFileAndEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "config"), 0o755))
	yaml := `
mode: debug
ws:
  base_url: ws://backend:9000
  reconnect_delay: 3s
devserver:
  rooms:
    - id: "R42"
      member_id: m1
      coach_id: c1
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config", "config.test.yaml"), []byte(yaml), 0o600))
	t.Chdir(dir)
	t.Setenv("CONFIG_ENV", "test")
	t.Setenv("COACHRTC_IDENTITY_TOKEN", "tok")
	t.Setenv("COACHRTC_CALL_AUTO_REJECT", "45s")

	cfg, err := Load(New())
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Mode)
	assert.Equal(t, "ws://backend:9000", cfg.WS.BaseURL)
	assert.Equal(t, 3*time.Second, cfg.WS.ReconnectDelay)
	assert.Equal(t, "tok", cfg.Identity.Token)
	assert.Equal(t, 45*time.Second, cfg.Call.AutoReject)
	require.Len(t, cfg.DevServer.Rooms, 1)
	assert.Equal(t, RoomConfig{ID: "R42", MemberID: "m1", CoachID: "c1"}, cfg.DevServer.Rooms[0])
}

func TestValidate(t *testing.T) {
	t.Parallel()

	cfg := Config{WS: WSConfig{ReconnectDelay: time.Second}, Call: CallConfig{AutoReject: time.Second}}
	assert.NoError(t, cfg.Validate())
	cfg.WS.ReconnectDelay = 0
	assert.ErrorIs(t, cfg.Validate(), ErrReconnectDelay)
	cfg.WS.ReconnectDelay = time.Second
	cfg.Call.AutoReject = -time.Second
	assert.ErrorIs(t, cfg.Validate(), ErrAutoReject)
}
