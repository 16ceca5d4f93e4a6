package rules

import (
	"context"
	"math"
	"strings"

	"github.com/xkilldash9x/shotprep/internal/fixer"
)

const (
	IDHeight       = "height"
	IDOverflow     = "overflow"
	IDPosition     = "position"
	IDIframe       = "iframe"
	IDStickyHeader = "sticky-header"
	IDMedia        = "video-audio"
	IDCORS         = "cors-resources"
	IDRelativeURL  = "relative-url"
	IDFontCORS     = "font-cors"

	// MinIframeHeight is the fallback height for frames whose content
	// document cannot be measured.
	MinIframeHeight = 800.0
)

// HeightFixer expands vertically clipped elements to their scroll height.
type HeightFixer struct{ fixer.Meta }

func NewHeightFixer() *HeightFixer {
	return &HeightFixer{Meta: fixer.Meta{FixerID: IDHeight, FixerPriority: 10, FixerScope: fixer.ScopeElement}}
}

func (f *HeightFixer) ShouldApply(fc *fixer.Context) bool {
	return fc.ScrollHeight > fc.ClientHeight
}

func (f *HeightFixer) Apply(_ context.Context, fc *fixer.Context) (*fixer.Result, error) {
	backup := backupInline(fc.Element, "height", "min-height", "max-height")
	h := px(fc.ScrollHeight)
	important(fc.Element, "height", h)
	important(fc.Element, "min-height", h)
	important(fc.Element, "max-height", "none")
	return fixer.NewResult(f.ID(), 1, func() error { backup.restore(); return nil }), nil
}

// OverflowFixer makes clipping or scrolling containers overflow visibly.
type OverflowFixer struct{ fixer.Meta }

func NewOverflowFixer() *OverflowFixer {
	return &OverflowFixer{Meta: fixer.Meta{FixerID: IDOverflow, FixerPriority: 20, FixerScope: fixer.ScopeElement}}
}

func clipsOverflow(v string) bool {
	switch strings.TrimSpace(strings.ToLower(v)) {
	case "hidden", "scroll", "auto":
		return true
	}
	return false
}

func (f *OverflowFixer) ShouldApply(fc *fixer.Context) bool {
	return clipsOverflow(fc.Style.Get("overflow")) || clipsOverflow(fc.Style.Get("overflow-y"))
}

func (f *OverflowFixer) Apply(_ context.Context, fc *fixer.Context) (*fixer.Result, error) {
	backup := backupInline(fc.Element, "overflow", "overflow-y")
	important(fc.Element, "overflow", "visible")
	important(fc.Element, "overflow-y", "visible")
	return fixer.NewResult(f.ID(), 1, func() error { backup.restore(); return nil }), nil
}

// PositionFixer gives statically positioned elements a containing block for
// absolutely positioned overlays.
type PositionFixer struct{ fixer.Meta }

func NewPositionFixer() *PositionFixer {
	return &PositionFixer{Meta: fixer.Meta{FixerID: IDPosition, FixerPriority: 30, FixerScope: fixer.ScopeElement}}
}

func (f *PositionFixer) ShouldApply(fc *fixer.Context) bool {
	return fc.Style.Get("position") == "static"
}

func (f *PositionFixer) Apply(_ context.Context, fc *fixer.Context) (*fixer.Result, error) {
	backup := backupInline(fc.Element, "position")
	important(fc.Element, "position", "relative")
	return fixer.NewResult(f.ID(), 1, func() error { backup.restore(); return nil }), nil
}

// IframeFixer sizes an iframe to its content document. It supersedes the
// height and overflow fixers.
type IframeFixer struct{ fixer.Meta }

func NewIframeFixer() *IframeFixer {
	return &IframeFixer{Meta: fixer.Meta{
		FixerID:       IDIframe,
		FixerPriority: 100,
		FixerScope:    fixer.ScopeElement,
		ComposedIDs:   []string{IDHeight, IDOverflow},
	}}
}

func (f *IframeFixer) ShouldApply(fc *fixer.Context) bool {
	return fc.Element.TagName() == "iframe"
}

func (f *IframeFixer) Apply(_ context.Context, fc *fixer.Context) (*fixer.Result, error) {
	target, err := fc.Element.FrameContentHeight()
	if err != nil {
		target = math.Max(fc.ScrollHeight, MinIframeHeight)
	}
	backup := backupInline(fc.Element, "height", "min-height", "max-height", "overflow")
	h := px(target)
	important(fc.Element, "height", h)
	important(fc.Element, "min-height", h)
	important(fc.Element, "max-height", "none")
	important(fc.Element, "overflow", "visible")
	return fixer.NewResult(f.ID(), 1, func() error { backup.restore(); return nil }), nil
}
