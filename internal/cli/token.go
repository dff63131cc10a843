package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dkeye/coachrtc/internal/auth"
	"github.com/dkeye/coachrtc/internal/domain"
)

func newTokenCmd(a *app) *cobra.Command {
	var user, role string
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a devserver token for a user",
		RunE: func(cmd *cobra.Command, _ []string) error {
			dc := a.cfg.DevServer
			if dc.Secret == "" {
				return errNoSecret
			}
			r, err := domain.ParseRole(role)
			if err != nil {
				return err
			}
			tok, err := auth.NewIssuer(dc.Secret, dc.TokenTTL).Mint(domain.UserID(user), r)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), tok)
			return err
		},
	}
	cmd.Flags().StringVar(&user, "user", "", "user id")
	cmd.Flags().StringVar(&role, "role", "", "member or coach")
	cmd.Flags().String("secret", "", "token signing secret")
	cmd.Flags().Duration("ttl", 0, "token lifetime")
	_ = cmd.MarkFlagRequired("user")
	_ = cmd.MarkFlagRequired("role")
	_ = a.v.BindPFlag("devserver.secret", cmd.Flags().Lookup("secret"))
	_ = a.v.BindPFlag("devserver.token_ttl", cmd.Flags().Lookup("ttl"))
	return cmd
}
