// internal/fixer/pipeline.go
package fixer

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/shotprep/internal/browser/dom"
)

// Pipeline applies registered fixers to elements and documents.
type Pipeline struct {
	registry *Registry
	logger   *zap.Logger
}

// NewPipeline returns a pipeline over registry.
func NewPipeline(registry *Registry, logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{registry: registry, logger: logger.Named("pipeline")}
}

// Registry returns the catalog the pipeline draws from.
func (p *Pipeline) Registry() *Registry { return p.registry }

// ElementFixResult aggregates the fixers applied to one element.
type ElementFixResult struct {
	Element   *dom.Element
	Applied   []*Result
	Timestamp time.Time

	logger *zap.Logger
}

// AppliedIDs lists applied fixer ids in application order.
func (r *ElementFixResult) AppliedIDs() []string {
	ids := make([]string, len(r.Applied))
	for i, res := range r.Applied {
		ids[i] = res.FixerID
	}
	return ids
}

// RestoreAll undoes applied fixers in reverse order. Failures are logged and
// never stop the remaining restores. It returns how many results were
// restored by this call.
func (r *ElementFixResult) RestoreAll() int {
	return restoreLIFO(r.Applied, r.logger)
}

func restoreLIFO(applied []*Result, logger *zap.Logger) int {
	n := 0
	for i := len(applied) - 1; i >= 0; i-- {
		outcome, err := applied[i].Restore()
		if err != nil {
			logger.Error("Fixer restore failed", zap.String("fixer_id", applied[i].FixerID), zap.Error(err))
			continue
		}
		if outcome == Restored {
			n++
		}
	}
	return n
}

// ApplyFixers runs the element fixers against el in two phases. Composable
// fixers run first; each one that applies marks itself and every fixer it
// composes as handled. Base fixers not yet handled run second. Within a phase
// fixers run in ascending priority. A fixer that panics or errors is logged
// and skipped.
func (p *Pipeline) ApplyFixers(ctx context.Context, el *dom.Element) *ElementFixResult {
	result := &ElementFixResult{Element: el, Timestamp: time.Now(), logger: p.logger}
	fc := NewContext(el)
	handled := make(map[string]bool)

	run := func(f ElementFixer) {
		if handled[f.ID()] {
			return
		}
		res, ok := p.runElementFixer(ctx, f, fc)
		if !ok {
			return
		}
		result.Applied = append(result.Applied, res)
		handled[f.ID()] = true
		if c, isComposable := f.(Composable); isComposable && f.Kind() == KindComposable {
			for _, id := range c.Composes() {
				handled[id] = true
			}
		}
	}

	for _, f := range p.registry.ComposableElementFixers() {
		run(f)
	}
	for _, f := range p.registry.BaseElementFixers() {
		run(f)
	}

	if len(result.Applied) > 0 {
		p.logger.Debug("Element fixed",
			zap.String("tag", el.TagName()),
			zap.Strings("fixers", result.AppliedIDs()))
	}
	return result
}

func (p *Pipeline) runElementFixer(ctx context.Context, f ElementFixer, fc *Context) (*Result, bool) {
	should, err := guard(func() (bool, error) { return f.ShouldApply(fc), nil })
	if err != nil {
		p.logger.Error("Fixer predicate failed", zap.String("fixer_id", f.ID()), zap.Error(err))
		return nil, false
	}
	if !should {
		return nil, false
	}
	var res *Result
	_, err = guard(func() (bool, error) {
		var applyErr error
		res, applyErr = f.Apply(ctx, fc)
		return true, applyErr
	})
	if err != nil {
		p.logger.Error("Fixer apply failed", zap.String("fixer_id", f.ID()), zap.Error(err))
		discard(res)
		return nil, false
	}
	if res == nil || !res.Applied {
		return nil, false
	}
	if res.FixerID == "" {
		res.FixerID = f.ID()
	}
	return res, true
}

// GlobalFixResult aggregates the global fixers applied to a document.
type GlobalFixResult struct {
	Document  *dom.Document
	Applied   []*Result
	Timestamp time.Time

	logger *zap.Logger
}

// RestoreAll undoes applied global fixers in reverse order.
func (r *GlobalFixResult) RestoreAll() int {
	return restoreLIFO(r.Applied, r.logger)
}

// ApplyGlobalFixers runs every global fixer once against doc, with the same
// composition and failure rules as ApplyFixers.
func (p *Pipeline) ApplyGlobalFixers(ctx context.Context, doc *dom.Document) *GlobalFixResult {
	result := &GlobalFixResult{Document: doc, Timestamp: time.Now(), logger: p.logger}
	gc := &GlobalContext{Document: doc}
	handled := make(map[string]bool)

	run := func(f GlobalFixer) {
		if handled[f.ID()] {
			return
		}
		should, err := guard(func() (bool, error) { return f.ShouldApply(gc), nil })
		if err != nil {
			p.logger.Error("Global fixer predicate failed", zap.String("fixer_id", f.ID()), zap.Error(err))
			return
		}
		if !should {
			return
		}
		var res *Result
		_, err = guard(func() (bool, error) {
			var applyErr error
			res, applyErr = f.Apply(ctx, gc)
			return true, applyErr
		})
		if err != nil {
			p.logger.Error("Global fixer apply failed", zap.String("fixer_id", f.ID()), zap.Error(err))
			discard(res)
			return
		}
		if res == nil || !res.Applied {
			return
		}
		result.Applied = append(result.Applied, res)
		handled[f.ID()] = true
		if c, ok := f.(Composable); ok && f.Kind() == KindComposable {
			for _, id := range c.Composes() {
				handled[id] = true
			}
		}
	}

	for _, f := range p.registry.ComposableGlobalFixers() {
		run(f)
	}
	for _, f := range p.registry.BaseGlobalFixers() {
		run(f)
	}
	return result
}

// discard undoes whatever a failed Apply managed to change before failing.
func discard(res *Result) {
	if res != nil && res.Applied {
		_, _ = res.Restore()
	}
}

// guard converts a panic in fn into an error.
func guard(fn func() (bool, error)) (ok bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			ok, err = false, fmt.Errorf("panic: %v", r)
		}
	}()
	return fn()
}
