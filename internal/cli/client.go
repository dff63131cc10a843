package cli

import (
	"fmt"
	"net/http"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	api "github.com/dkeye/coachrtc/internal/adapters/http"
	"github.com/dkeye/coachrtc/internal/adapters/rtc"
	"github.com/dkeye/coachrtc/internal/app/orch"
	"github.com/dkeye/coachrtc/internal/app/session"
	"github.com/dkeye/coachrtc/internal/auth"
	"github.com/dkeye/coachrtc/internal/config"
	"github.com/dkeye/coachrtc/internal/domain"
)

func newClientCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "client",
		Short: "Run the client core behind a local control API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runClient(cmd, a.cfg)
		},
	}
	cmd.Flags().String("token", "", "bearer token of the signed-in user")
	cmd.Flags().Int("port", 0, "local API port")
	cmd.Flags().String("media", "", fmt.Sprintf("capture source %v", rtc.SourceNames()))
	_ = a.v.BindPFlag("identity.token", cmd.Flags().Lookup("token"))
	_ = a.v.BindPFlag("api.port", cmd.Flags().Lookup("port"))
	_ = a.v.BindPFlag("call.media", cmd.Flags().Lookup("media"))
	return cmd
}

func sessionSettings(cfg *config.Config) session.Settings {
	return session.Settings{
		Endpoints: session.Endpoints{
			BackendURL:   cfg.Backend.BaseURL,
			WSBase:       cfg.WS.BaseURL,
			MemberWSBase: cfg.WS.MemberBaseURL,
			CoachWSBase:  cfg.WS.CoachBaseURL,
		},
		Channels: session.ChannelSettings{
			RetryDelay: cfg.WS.ReconnectDelay,
			PingPeriod: cfg.WS.PingPeriod,
			PongWait:   cfg.WS.PingPeriod * 10 / 9,
			WriteWait:  cfg.WS.WriteWait,
			ReadLimit:  cfg.WS.ReadLimit,
		},
		RequestTimeout: cfg.Backend.RequestTimeout,
	}
}

// configuredIdentity builds the startup identity. User id and role fall back
// to the token's claims when not configured.
func configuredIdentity(c config.IdentityConfig) (domain.Identity, bool, error) {
	if c.Token == "" {
		return domain.Identity{}, false, nil
	}
	id := domain.UserID(c.UserID)
	var role domain.Role
	if c.Role != "" {
		r, err := domain.ParseRole(c.Role)
		if err != nil {
			return domain.Identity{}, false, err
		}
		role = r
	}
	if id == "" || role == "" {
		claimed, err := auth.Peek(c.Token)
		if err != nil {
			return domain.Identity{}, false, err
		}
		if id == "" {
			id = claimed.ID
		}
		if role == "" {
			role = claimed.Role
		}
	}
	ident, err := domain.NewIdentity(id, role, c.Token)
	if err != nil {
		return domain.Identity{}, false, err
	}
	return ident, true, nil
}

func runClient(cmd *cobra.Command, cfg *config.Config) error {
	ctx := cmd.Context()

	peers, err := rtc.NewFactory(cfg.Call.STUNURLs)
	if err != nil {
		return fmt.Errorf("webrtc: %w", err)
	}
	media, err := rtc.NewSource(cfg.Call.Media)
	if err != nil {
		return err
	}

	client := orch.New(ctx, orch.Config{
		Settings:   sessionSettings(cfg),
		Peers:      peers,
		Media:      media,
		AutoReject: cfg.Call.AutoReject,
	})
	defer client.Close()

	ident, ok, err := configuredIdentity(cfg.Identity)
	if err != nil {
		return fmt.Errorf("identity: %w", err)
	}
	if ok {
		if err := client.SetIdentity(ident); err != nil {
			return err
		}
	} else {
		log.Warn().Msg("no identity configured, waiting for PUT /api/identity")
	}

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.API.Port),
		Handler: api.SetupRouter(cfg.Mode, client),
	}
	return serve(ctx, "client api", srv)
}
