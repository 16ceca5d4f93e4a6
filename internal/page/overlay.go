// -- internal/page/overlay.go --
package page

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/shotprep/internal/browser/dom"
	"github.com/xkilldash9x/shotprep/internal/messaging"
)

const (
	overlayAttr    = "data-shotprep-overlay"
	overlayScanner = "scanner"
	overlayGlow    = "border-glow"

	defaultGlowVariant = "success"
)

// Mirror reflects overlay changes onto a live tab. Markup is the overlay's
// outer HTML; id is the overlay kind.
type Mirror interface {
	ShowOverlay(ctx context.Context, id, markup string) error
	RemoveOverlay(ctx context.Context, id string) error
}

type overlay struct {
	el    *dom.Element
	timer *time.Timer
}

const scannerStyle = "position: fixed; inset: 0; z-index: 2147483647; pointer-events: none; " +
	"background: linear-gradient(180deg, rgba(59,130,246,0) 0%, rgba(59,130,246,0.18) 50%, rgba(59,130,246,0) 100%);"

var glowColors = map[string]string{
	"success": "rgba(34,197,94,0.85)",
	"error":   "rgba(239,68,68,0.85)",
	"info":    "rgba(59,130,246,0.85)",
}

func (a *Agent) overlayParent() *dom.Element {
	if body := a.doc.Body(); body != nil {
		return body
	}
	return a.doc.DocumentElement()
}

func (a *Agent) insertOverlay(ctx context.Context, kind string, el *dom.Element) error {
	parent := a.overlayParent()
	if parent == nil {
		return fmt.Errorf("document has no element to host the %s overlay", kind)
	}
	el.SetAttr(overlayAttr, kind)
	el.SetAttr("aria-hidden", "true")
	parent.AppendChild(el)
	a.overlays[kind] = &overlay{el: el}
	if a.mirror != nil {
		if err := a.mirror.ShowOverlay(ctx, kind, el.OuterHTML()); err != nil {
			a.logger.Warn("Overlay not mirrored to tab", zap.String("overlay", kind), zap.Error(err))
		}
	}
	return nil
}

func (a *Agent) showScanner(ctx context.Context) error {
	if a.overlays[overlayScanner] != nil {
		return nil
	}
	el := a.doc.CreateElement("div")
	el.SetAttr("style", scannerStyle)
	return a.insertOverlay(ctx, overlayScanner, el)
}

func (a *Agent) showBorderGlow(ctx context.Context, r messaging.ShowBorderGlow) error {
	variant := r.Variant
	if variant == "" {
		variant = defaultGlowVariant
	}
	color, ok := glowColors[variant]
	if !ok {
		return fmt.Errorf("unknown border glow variant %q", variant)
	}
	a.hideOverlay(ctx, overlayGlow)

	el := a.doc.CreateElement("div")
	el.SetAttr("class", "shotprep-glow shotprep-glow-"+variant)
	el.SetAttr("style", fmt.Sprintf(
		"position: fixed; inset: 0; z-index: 2147483647; pointer-events: none; box-shadow: inset 0 0 0 4px %s, inset 0 0 32px %s;",
		color, color))
	if err := a.insertOverlay(ctx, overlayGlow, el); err != nil {
		return err
	}
	if r.DurationMs > 0 {
		ov := a.overlays[overlayGlow]
		ov.timer = time.AfterFunc(time.Duration(r.DurationMs)*time.Millisecond, func() {
			a.mu.Lock()
			defer a.mu.Unlock()
			if a.overlays[overlayGlow] == ov {
				a.hideOverlay(context.Background(), overlayGlow)
			}
		})
	}
	return nil
}

// hideOverlay removes an overlay if present. Mirror failures are logged.
func (a *Agent) hideOverlay(ctx context.Context, kind string) {
	ov := a.overlays[kind]
	if ov == nil {
		return
	}
	delete(a.overlays, kind)
	if ov.timer != nil {
		ov.timer.Stop()
	}
	ov.el.Remove()
	if a.mirror != nil {
		if err := a.mirror.RemoveOverlay(ctx, kind); err != nil {
			a.logger.Warn("Overlay removal not mirrored to tab", zap.String("overlay", kind), zap.Error(err))
		}
	}
}
