package rules

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/xkilldash9x/shotprep/internal/browser/dom"
	"github.com/xkilldash9x/shotprep/internal/fixer"
	"github.com/xkilldash9x/shotprep/internal/fonts"
	"github.com/xkilldash9x/shotprep/internal/resources"
)

// tracker keeps the latest result of a global fixer so callers outside the
// pipeline can ask whether it is active and undo it.
type tracker struct {
	mu      sync.Mutex
	current *fixer.Result
	logger  *zap.Logger
}

// replace restores the previous result before storing next.
func (t *tracker) replace(next *fixer.Result) {
	t.mu.Lock()
	prev := t.current
	t.current = next
	t.mu.Unlock()
	if prev != nil {
		if _, err := prev.Restore(); err != nil {
			t.logger.Warn("Restoring previous application failed", zap.Error(err))
		}
	}
}

func (t *tracker) restorePrevious() {
	t.replace(nil)
}

// Active reports whether the last application is still in place.
func (t *tracker) Active() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.current != nil && t.current.Pending()
}

// RestoreCurrent undoes the last application, if any.
func (t *tracker) RestoreCurrent() (fixer.RestoreOutcome, error) {
	t.mu.Lock()
	cur := t.current
	t.current = nil
	t.mu.Unlock()
	if cur == nil {
		return fixer.AlreadyRestored, nil
	}
	return cur.Restore()
}

// Current returns the last result, or nil.
func (t *tracker) Current() *fixer.Result {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.current
}

// RelativeURLFixer rewrites relative resource URLs to absolute ones against
// the page location.
type RelativeURLFixer struct {
	fixer.Meta
	tracker
}

func NewRelativeURLFixer(logger *zap.Logger) *RelativeURLFixer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RelativeURLFixer{
		Meta:    fixer.Meta{FixerID: IDRelativeURL, FixerPriority: 10, FixerScope: fixer.ScopeGlobal},
		tracker: tracker{logger: logger.Named("relative_url_fixer")},
	}
}

func (f *RelativeURLFixer) ShouldApply(gc *fixer.GlobalContext) bool {
	return gc.Document != nil
}

func (f *RelativeURLFixer) Apply(_ context.Context, gc *fixer.GlobalContext) (*fixer.Result, error) {
	f.restorePrevious()
	conv := resources.ConvertRelativeURLs(resources.DetectRelativeURLs(gc.Document, nil))
	if conv.Count == 0 {
		return fixer.NotApplied(f.ID()), nil
	}
	res := fixer.NewResult(f.ID(), conv.Count, func() error { conv.Restore(); return nil })
	f.replace(res)
	f.logger.Debug("Relative URLs converted", zap.Int("count", conv.Count))
	return res, nil
}

// FontEmbedder injects data URI backed @font-face rules into a document.
type FontEmbedder interface {
	Embed(ctx context.Context, doc *dom.Document) (*fonts.Embedding, error)
}

// FontCORSFixer embeds the document's web fonts so they render without
// cross-origin requests.
type FontCORSFixer struct {
	fixer.Meta
	tracker
	embedder FontEmbedder
}

func NewFontCORSFixer(embedder FontEmbedder, logger *zap.Logger) *FontCORSFixer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FontCORSFixer{
		Meta:     fixer.Meta{FixerID: IDFontCORS, FixerPriority: 20, FixerScope: fixer.ScopeGlobal},
		tracker:  tracker{logger: logger.Named("font_cors_fixer")},
		embedder: embedder,
	}
}

func (f *FontCORSFixer) ShouldApply(gc *fixer.GlobalContext) bool {
	return f.embedder != nil && gc.Document != nil
}

func (f *FontCORSFixer) Apply(ctx context.Context, gc *fixer.GlobalContext) (*fixer.Result, error) {
	f.restorePrevious()
	emb, err := f.embedder.Embed(ctx, gc.Document)
	if err != nil {
		return nil, fmt.Errorf("embedding fonts: %w", err)
	}
	if emb == nil {
		return fixer.NotApplied(f.ID()), nil
	}
	if emb.Embedded == 0 {
		emb.Restore()
		f.logger.Debug("No font binaries could be fetched", zap.Int("faces", emb.Faces))
		return fixer.NotApplied(f.ID()), nil
	}
	res := fixer.NewResult(f.ID(), emb.Embedded, func() error { emb.Restore(); return nil })
	f.replace(res)
	f.logger.Debug("Fonts embedded", zap.Int("faces", emb.Faces), zap.Int("embedded", emb.Embedded))
	return res, nil
}
