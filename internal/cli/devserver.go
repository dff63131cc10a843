package cli

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/dkeye/coachrtc/internal/config"
	"github.com/dkeye/coachrtc/internal/devserver"
	"github.com/dkeye/coachrtc/internal/domain"
)

var errNoSecret = errors.New("devserver.secret is required")

func newDevServerCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "devserver",
		Short: "Run a local stand-in for the coaching backend",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runDevServer(cmd, a.cfg)
		},
	}
	cmd.Flags().Int("port", 0, "listen port")
	cmd.Flags().String("db", "", "sqlite database path")
	cmd.Flags().String("secret", "", "token signing secret")
	_ = a.v.BindPFlag("devserver.port", cmd.Flags().Lookup("port"))
	_ = a.v.BindPFlag("devserver.db_path", cmd.Flags().Lookup("db"))
	_ = a.v.BindPFlag("devserver.secret", cmd.Flags().Lookup("secret"))
	return cmd
}

func seedRooms(rooms []config.RoomConfig) []domain.ChatRoom {
	out := make([]domain.ChatRoom, 0, len(rooms))
	for _, r := range rooms {
		out = append(out, domain.ChatRoom{
			ID:       domain.RoomID(r.ID),
			Title:    r.Title,
			MemberID: domain.UserID(r.MemberID),
			CoachID:  domain.UserID(r.CoachID),
		})
	}
	return out
}

func runDevServer(cmd *cobra.Command, cfg *config.Config) error {
	dc := cfg.DevServer
	if dc.Secret == "" {
		return errNoSecret
	}
	store, err := devserver.OpenStore(dc.DBPath)
	if err != nil {
		return err
	}
	defer store.Close()

	srv := devserver.New(devserver.Config{
		Mode:     cfg.Mode,
		Secret:   dc.Secret,
		TokenTTL: dc.TokenTTL,
		PageSize: dc.PageSize,
		Policy:   devserver.SimplePolicy{},
	}, store)
	if err := srv.SeedRooms(cmd.Context(), seedRooms(dc.Rooms)); err != nil {
		return err
	}

	return serve(cmd.Context(), "devserver", &http.Server{
		Addr:    fmt.Sprintf(":%d", dc.Port),
		Handler: srv.Router(),
	})
}
