package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/sunsreach/nerris/internal/config"
	"github.com/sunsreach/nerris/internal/services"
)

func newAdminTokenCommand() *cobra.Command {
	var (
		subject string
		ttl     time.Duration
	)
	cmd := &cobra.Command{
		Use:   "admin-token",
		Short: "Print a bearer token for the ops admin API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			owners := cfg.Owners()
			if subject == "" && len(owners) > 0 {
				subject = owners[0]
			}
			if !contains(owners, subject) {
				return fmt.Errorf("subject %q is not listed in OWNER_IDS", subject)
			}
			token, err := services.IssueAdminToken(cfg.JWTSecret, subject, ttl, time.Now())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "sub", "", "owner id to issue the token for (defaults to the first OWNER_IDS entry)")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	return cmd
}

func contains(list []string, val string) bool {
	for _, item := range list {
		if item == val {
			return true
		}
	}
	return false
}
