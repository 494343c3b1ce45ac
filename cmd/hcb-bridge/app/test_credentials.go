package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pcartwright81/Home-Assistant-Here-Comes-The-Bus/internal/app"
)

// ErrCredentialsRejected is returned when the service rejects the account
var ErrCredentialsRejected = errors.New("credentials rejected")

func newTestCredentialsCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "test-credentials",
		Short: "Check the configured school code and credentials",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}

			cfg, err := loadConfig(v)
			if err != nil {
				return err
			}

			ok, err := app.CheckCredentials(ctx, cfg, nil)
			if err != nil {
				return fmt.Errorf("failed to check credentials: %w", err)
			}
			if !ok {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "Credentials rejected")
				return ErrCredentialsRejected
			}

			_, err = fmt.Fprintln(cmd.OutOrStdout(), "Credentials accepted")
			return err
		},
	}
}
