// Package cli is the coachrtc command tree.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/dkeye/coachrtc/internal/config"
)

var Version = "dev"

const shutdownTimeout = 5 * time.Second

// app is shared by every subcommand. cfg is filled in PersistentPreRunE.
type app struct {
	v   *viper.Viper
	cfg *config.Config
}

func Execute(ctx context.Context) error {
	return newRootCmd().ExecuteContext(ctx)
}

func newRootCmd() *cobra.Command {
	a := &app{v: config.New()}
	rootCmd := &cobra.Command{
		Use:           "coachrtc",
		Short:         "Real-time calls and chat between members and coaches",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.load(cmd)
		},
	}
	rootCmd.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error)")
	_ = a.v.BindPFlag("log_level", rootCmd.PersistentFlags().Lookup("log-level"))

	rootCmd.AddCommand(
		newVersionCmd(),
		newClientCmd(a),
		newDevServerCmd(a),
		newTokenCmd(a),
	)
	return rootCmd
}

func (a *app) load(cmd *cobra.Command) error {
	setupLogging(cmd.ErrOrStderr(), "debug", "info")
	cfg, err := config.Load(a.v)
	if err != nil {
		return err
	}
	setupLogging(cmd.ErrOrStderr(), cfg.Mode, cfg.LogLevel)
	a.cfg = cfg
	return nil
}

// setupLogging writes human-friendly output in debug mode and JSON otherwise.
func setupLogging(out io.Writer, mode, level string) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	if mode == "debug" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: out})
	} else {
		log.Logger = zerolog.New(out).With().Timestamp().Logger()
	}
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
}

// serve runs srv until ctx is done, then shuts it down gracefully.
func serve(ctx context.Context, name string, srv *http.Server) error {
	errc := make(chan error, 1)
	go func() {
		log.Info().Str("addr", srv.Addr).Msgf("%s started", name)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err, ok := <-errc:
		if ok {
			return fmt.Errorf("%s: %w", name, err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Info().Msgf("shutting down %s", name)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
		return err
	}
	log.Info().Msgf("%s exited gracefully", name)
	return nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintln(cmd.OutOrStdout(), Version)
			return err
		},
	}
}
