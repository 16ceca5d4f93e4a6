// cmd/capture.go
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/shotprep/internal/background"
	"github.com/xkilldash9x/shotprep/internal/browser/session"
	"github.com/xkilldash9x/shotprep/internal/config"
	"github.com/xkilldash9x/shotprep/internal/observability"
	"github.com/xkilldash9x/shotprep/internal/screenshot"
)

func newCaptureCmd() *cobra.Command {
	var siteID, heatmapID int64
	captureCmd := &cobra.Command{
		Use:   "capture <url>",
		Short: "Open a page and run the full screenshot workflow for a heatmap",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if siteID <= 0 || heatmapID <= 0 {
				return errors.New("--site and --heatmap must be positive ids")
			}
			ctx := cmd.Context()
			cfg, err := getConfigFromContext(ctx)
			if err != nil {
				return err
			}
			logger := observability.GetLogger().Named("capture")
			return runCapture(ctx, cfg, logger, args[0], siteID, heatmapID, cmd.OutOrStdout())
		},
	}
	captureCmd.Flags().Int64Var(&siteID, "site", 0, "site id")
	captureCmd.Flags().Int64Var(&heatmapID, "heatmap", 0, "heatmap id")
	_ = captureCmd.MarkFlagRequired("site")
	_ = captureCmd.MarkFlagRequired("heatmap")
	return captureCmd
}

// printingTabs reports the heatmap view URL instead of opening it in the
// headless browser.
type printingTabs struct {
	screenshot.Tabs
	out io.Writer
}

func (p printingTabs) OpenURL(_ context.Context, url string) error {
	_, err := fmt.Fprintf(p.out, "Heatmap ready: %s\n", url)
	return err
}

func runCapture(ctx context.Context, cfg *config.Config, logger *zap.Logger, target string, siteID, heatmapID int64, out io.Writer) error {
	lock, err := lockStateDir(cfg.StateDir())
	if err != nil {
		return err
	}
	defer unlockStateDir(lock, logger)

	rt, err := newRuntime(ctx, cfg, logger, func(b *background.SessionBrowser) screenshot.Tabs {
		return printingTabs{Tabs: b, out: out}
	})
	if err != nil {
		return err
	}
	defer rt.close()

	// Fail before launching the browser when nobody is logged in.
	if _, err := rt.clients.Client(ctx); err != nil {
		return fmt.Errorf("run `shotprep login` first: %w", err)
	}

	tabID, err := rt.browser.OpenPage(ctx, target)
	if err != nil {
		return err
	}
	unsubscribe := rt.manager.Subscribe(func(ev session.Event) {
		rt.machine.CancelTab(context.Background(), ev.TabID)
	})
	defer unsubscribe()

	// Interrupts cancel the run so the page is restored before exit.
	stop := context.AfterFunc(ctx, func() {
		if err := rt.machine.Cancel(context.Background()); err != nil {
			logger.Warn("Failed to cancel screenshot", zap.Error(err))
		}
	})
	defer stop()

	err = rt.machine.Start(ctx, screenshot.Target{HeatmapID: heatmapID, SiteID: siteID, TabID: tabID})
	if err != nil {
		return fmt.Errorf("screenshot for heatmap %d failed: %w", heatmapID, err)
	}
	return nil
}
