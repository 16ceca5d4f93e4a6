package page

import (
	"context"
	"fmt"
	"math"

	"go.uber.org/zap"

	"github.com/xkilldash9x/shotprep/internal/api"
	"github.com/xkilldash9x/shotprep/internal/messaging"
)

// triggerCapture hands the prepared document to the capture service.
func (a *Agent) triggerCapture(ctx context.Context, r messaging.TriggerCapture) error {
	if a.submitter == nil {
		return fmt.Errorf("no capture service is attached to this page")
	}
	if r.SiteID <= 0 || r.HeatmapID <= 0 {
		return fmt.Errorf("capture needs a site and heatmap id, got %d/%d", r.SiteID, r.HeatmapID)
	}
	if a.expansion == nil {
		a.logger.Warn("Capturing a page that was not expanded")
	}

	w, h := a.doc.Engine().Viewport()
	snap := api.Snapshot{
		URL:        a.doc.URL().String(),
		HTML:       a.cleanHTML(),
		Viewport:   api.Viewport{Width: int(math.Round(w)), Height: int(math.Round(h))},
		CapturedAt: a.now().UTC(),
	}
	if err := a.submitter.SubmitSnapshot(ctx, r.SiteID, r.HeatmapID, snap); err != nil {
		return fmt.Errorf("capture trigger failed: %w", err)
	}
	a.logger.Info("Capture submitted",
		zap.Int64("site_id", r.SiteID),
		zap.Int64("heatmap_id", r.HeatmapID),
		zap.Int("html_bytes", len(snap.HTML)))
	return nil
}
