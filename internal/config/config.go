package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

const EnvPrefix = "COACHRTC"

type IdentityConfig struct {
	Token  string `mapstructure:"token"`
	UserID string `mapstructure:"user_id"`
	Role   string `mapstructure:"role"`
}

type BackendConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

type WSConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	MemberBaseURL  string        `mapstructure:"member_base_url"`
	CoachBaseURL   string        `mapstructure:"coach_base_url"`
	ReconnectDelay time.Duration `mapstructure:"reconnect_delay"`
	PingPeriod     time.Duration `mapstructure:"ping_period"`
	WriteWait      time.Duration `mapstructure:"write_wait"`
	ReadLimit      int64         `mapstructure:"read_limit"`
}

type CallConfig struct {
	AutoReject time.Duration `mapstructure:"auto_reject"`
	STUNURLs   []string      `mapstructure:"stun_urls"`
	// Media names the local capture source.
	Media string `mapstructure:"media"`
}

type APIConfig struct {
	Port int `mapstructure:"port"`
}

type RoomConfig struct {
	ID       string `mapstructure:"id"`
	Title    string `mapstructure:"title"`
	MemberID string `mapstructure:"member_id"`
	CoachID  string `mapstructure:"coach_id"`
}

type DevServerConfig struct {
	Port     int           `mapstructure:"port"`
	Secret   string        `mapstructure:"secret"`
	DBPath   string        `mapstructure:"db_path"`
	TokenTTL time.Duration `mapstructure:"token_ttl"`
	PageSize int           `mapstructure:"page_size"`
	Rooms    []RoomConfig  `mapstructure:"rooms"`
}

type Config struct {
	Mode      string          `mapstructure:"mode"`
	LogLevel  string          `mapstructure:"log_level"`
	Identity  IdentityConfig  `mapstructure:"identity"`
	Backend   BackendConfig   `mapstructure:"backend"`
	WS        WSConfig        `mapstructure:"ws"`
	Call      CallConfig      `mapstructure:"call"`
	API       APIConfig       `mapstructure:"api"`
	DevServer DevServerConfig `mapstructure:"devserver"`
}

// New returns a viper instance with defaults and COACHRTC_* environment
// overrides, ready for flag binding.
func New() *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("mode", "release")
	v.SetDefault("log_level", "info")
	v.SetDefault("identity.token", "")
	v.SetDefault("identity.user_id", "")
	v.SetDefault("identity.role", "")
	v.SetDefault("backend.base_url", "http://localhost:8000/api")
	v.SetDefault("backend.request_timeout", "15s")
	v.SetDefault("ws.base_url", "ws://localhost:8000")
	v.SetDefault("ws.member_base_url", "")
	v.SetDefault("ws.coach_base_url", "")
	v.SetDefault("ws.reconnect_delay", "2s")
	v.SetDefault("ws.ping_period", "54s")
	v.SetDefault("ws.write_wait", "10s")
	v.SetDefault("ws.read_limit", 1<<20)
	v.SetDefault("call.auto_reject", "30s")
	v.SetDefault("call.stun_urls", []string{"stun:stun.l.google.com:19302"})
	v.SetDefault("call.media", "synthetic")
	v.SetDefault("api.port", 8090)
	v.SetDefault("devserver.port", 8000)
	v.SetDefault("devserver.secret", "")
	v.SetDefault("devserver.db_path", "coachrtc-dev.db")
	v.SetDefault("devserver.token_ttl", "24h")
	v.SetDefault("devserver.page_size", 50)
	return v
}

// Load reads config/config.<CONFIG_ENV>.yaml into v when it exists and
// decodes the result. A missing file is not an error.
func Load(v *viper.Viper) (*Config, error) {
	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	fileName := fmt.Sprintf("config/config.%s.yaml", env)
	v.SetConfigFile(fileName)

	if err := v.ReadInConfig(); err != nil {
		log.Warn().Str("module", "config").Str("file", fileName).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", fileName).Msg("loaded config")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log.Info().Str("module", "config").Str("mode", cfg.Mode).Str("backend", cfg.Backend.BaseURL).Msg("config ready")
	return &cfg, nil
}

var (
	ErrReconnectDelay = errors.New("ws.reconnect_delay must be positive")
	ErrAutoReject     = errors.New("call.auto_reject must be positive")
)

func (c *Config) Validate() error {
	if c.WS.ReconnectDelay <= 0 {
		return ErrReconnectDelay
	}
	if c.Call.AutoReject <= 0 {
		return ErrAutoReject
	}
	return nil
}
