// -- internal/screenshot/steps.go --
package screenshot

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/shotprep/internal/api"
	"github.com/xkilldash9x/shotprep/internal/messaging"
)

func (m *Machine) validate(ctx context.Context, client API, c Context) error {
	h, err := client.GetHeatmap(ctx, c.SiteID, c.HeatmapID)
	if err != nil {
		return fmt.Errorf("failed to load heatmap %d: %w", c.HeatmapID, err)
	}
	if h.CaptureManually != 1 {
		update := *h
		update.CaptureManually = 1
		if _, err := client.UpdateHeatmap(ctx, &update); err != nil {
			return fmt.Errorf("failed to switch heatmap %d to manual capture: %w", c.HeatmapID, err)
		}
		m.logger.Info("Heatmap switched to manual capture", zap.Int64("heatmap_id", c.HeatmapID))
	}
	if h.Status == api.StatusEnded {
		if err := client.ResumeHeatmap(ctx, c.SiteID, c.HeatmapID); err != nil {
			return fmt.Errorf("failed to resume heatmap %d: %w", c.HeatmapID, err)
		}
		m.logger.Info("Ended heatmap resumed", zap.Int64("heatmap_id", c.HeatmapID))
	}

	resp, err := m.send(ctx, c.TabID, messaging.GetStatus{})
	if err != nil {
		m.logger.Warn("Could not read page status", zap.Int("tab_id", c.TabID), zap.Error(err))
		return nil
	}
	if resp.Status != nil && resp.Status.InteractiveMode {
		m.bestEffort(ctx, c.TabID, messaging.ExitInteractiveMode{})
	}
	return nil
}

func (m *Machine) expand(ctx context.Context, c Context) error {
	m.bestEffort(ctx, c.TabID, messaging.ShowScanner{})
	resp, err := m.send(ctx, c.TabID, messaging.ExpandElements{})
	if err != nil {
		return fmt.Errorf("failed to expand page: %w", err)
	}
	m.logger.Info("Page expanded", zap.Int("tab_id", c.TabID), zap.Int("elements", resp.Count))
	return nil
}

func (m *Machine) capture(ctx context.Context, c Context) error {
	req := messaging.TriggerCapture{SiteID: c.SiteID, HeatmapID: c.HeatmapID}
	if _, err := m.send(ctx, c.TabID, req); err != nil {
		return fmt.Errorf("failed to trigger capture: %w", err)
	}
	return nil
}

func (m *Machine) verify(ctx context.Context, client API, c Context) error {
	ok, err := client.WaitForScreenshotCapture(ctx, c.SiteID, c.HeatmapID, m.cfg.VerifyAttempts, m.cfg.VerifyInterval)
	if err != nil {
		return fmt.Errorf("failed to verify screenshot: %w", err)
	}
	if !ok {
		return fmt.Errorf("%w after %d attempts", ErrVerifyTimeout, m.cfg.VerifyAttempts)
	}
	m.logger.Info("Screenshot confirmed", zap.Int64("heatmap_id", c.HeatmapID))
	return nil
}

// complete runs after the checkpoint is cleared. Everything here is
// presentation, so failures are only logged.
func (m *Machine) complete(ctx context.Context, client API, c Context) {
	anim := m.cfg.SuccessAnimation
	m.bestEffort(ctx, c.TabID, messaging.ShowBorderGlow{Variant: "success", DurationMs: int(anim / time.Millisecond)})
	if anim > 0 {
		t := time.NewTimer(anim)
		select {
		case <-ctx.Done():
		case <-t.C:
		}
		t.Stop()
	}

	viewURL, err := client.ViewURL(ctx, c.SiteID, c.HeatmapID)
	if err != nil {
		m.logger.Warn("Could not resolve heatmap view url", zap.Int64("heatmap_id", c.HeatmapID), zap.Error(err))
		return
	}
	if err := m.tabs.OpenURL(ctx, viewURL); err != nil {
		m.logger.Warn("Could not open heatmap view", zap.String("url", viewURL), zap.Error(err))
		return
	}
	m.logger.Info("Screenshot complete", zap.Int64("heatmap_id", c.HeatmapID), zap.String("view_url", viewURL))
}
