package cmd

import (
	"context"
	"fmt"
	"net"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/shotprep/internal/background"
	"github.com/xkilldash9x/shotprep/internal/config"
	"github.com/xkilldash9x/shotprep/internal/messaging"
	"github.com/xkilldash9x/shotprep/internal/observability"
)

func newServeCmd() *cobra.Command {
	var (
		listen   string
		headless bool
		driver   string
	)
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the background host: browser, screenshot workflow and control API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := getConfigFromContext(ctx)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("listen") {
				cfg.SetServerListenAddr(listen)
			}
			if cmd.Flags().Changed("headless") {
				cfg.SetBrowserHeadless(headless)
			}
			if cmd.Flags().Changed("store") {
				cfg.SetStoreDriver(driver)
				if err := cfg.Validate(); err != nil {
					return err
				}
			}

			logger := observability.GetLogger().Named("serve")
			if v := getViperFromContext(ctx); v != nil {
				watchLogLevel(v, logger)
			}
			return runServe(ctx, cfg, logger, func(addr net.Addr) {
				fmt.Fprintf(cmd.OutOrStdout(), "shotprep listening on http://%s\n", addr)
			})
		},
	}
	serveCmd.Flags().StringVar(&listen, "listen", "", "control API listen address (overrides server.listen_addr)")
	serveCmd.Flags().BoolVar(&headless, "headless", true, "run the browser headless (overrides browser.headless)")
	serveCmd.Flags().StringVar(&driver, "store", "", "store driver: sqlite, postgres or memory (overrides store.driver)")
	return serveCmd
}

// runServe owns the state directory lock for the life of the daemon.
func runServe(ctx context.Context, cfg *config.Config, logger *zap.Logger, ready func(net.Addr)) error {
	lock, err := lockStateDir(cfg.StateDir())
	if err != nil {
		return err
	}
	defer unlockStateDir(lock, logger)

	rt, err := newRuntime(ctx, cfg, logger, nil)
	if err != nil {
		return err
	}
	defer rt.close()

	bridge := messaging.NewBridge(rt.router, logger)
	defer bridge.Close()

	host, err := background.NewHost(background.Options{
		Machine:   rt.machine,
		Directory: rt.clients.Directory,
		Browser:   rt.browser,
		Fetcher:   rt.fetcher,
		Capture:   cfg.Capture(),
		Logger:    logger,
	})
	if err != nil {
		return fmt.Errorf("failed to create background host: %w", err)
	}
	unsubscribe := rt.manager.Subscribe(host.OnTabEvent)
	defer unsubscribe()

	go func() {
		d, err := rt.machine.Rehydrate(ctx)
		if err != nil {
			logger.Warn("Resumed screenshot did not complete", zap.Stringer("action", d.Action), zap.Error(err))
			return
		}
		logger.Info("Screenshot progress checked", zap.Stringer("action", d.Action), zap.String("reason", d.Reason))
	}()

	serveErr := background.Serve(ctx, cfg.Server().ListenAddr, background.NewRouter(host, bridge), logger, ready)

	// An unfinished run keeps its checkpoint for the next start to rehydrate.
	closeCtx, cancel := context.WithTimeout(context.Background(), teardownTimeout)
	defer cancel()
	if err := host.Close(closeCtx); err != nil {
		logger.Warn("Background runs did not finish", zap.Error(err))
	}
	return serveErr
}
