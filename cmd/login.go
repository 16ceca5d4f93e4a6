// cmd/login.go
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/shotprep/internal/api"
	"github.com/xkilldash9x/shotprep/internal/config"
	"github.com/xkilldash9x/shotprep/internal/observability"
)

func newLoginCmd() *cobra.Command {
	var token, baseURL string
	loginCmd := &cobra.Command{
		Use:   "login",
		Short: "Store analytics API credentials",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := getConfigFromContext(ctx)
			if err != nil {
				return err
			}
			logger := observability.GetLogger().Named("login")
			return runLogin(ctx, cfg, logger, api.Credentials{Token: token, BaseURL: baseURL}, cmd.OutOrStdout())
		},
	}
	loginCmd.Flags().StringVar(&token, "token", "", "API token")
	loginCmd.Flags().StringVar(&baseURL, "base-url", "", "API base URL (defaults to api.base_url)")
	_ = loginCmd.MarkFlagRequired("token")
	return loginCmd
}

func runLogin(ctx context.Context, cfg *config.Config, logger *zap.Logger, creds api.Credentials, out io.Writer) error {
	creds.Token = strings.TrimSpace(creds.Token)
	creds.BaseURL = strings.TrimRight(strings.TrimSpace(creds.BaseURL), "/")
	if creds.Token == "" {
		return errors.New("--token must not be empty")
	}
	if creds.Expired(time.Now()) {
		return errors.New("token has already expired")
	}

	kv, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore(kv, logger)

	if err := api.SaveCredentials(ctx, kv, creds); err != nil {
		return fmt.Errorf("failed to save credentials: %w", err)
	}
	target := creds.BaseURL
	if target == "" {
		target = cfg.API().BaseURL
	}
	_, err = fmt.Fprintf(out, "Credentials saved for %s\n", target)
	return err
}
