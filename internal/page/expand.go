package page

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/shotprep/internal/browser/dom"
	"github.com/xkilldash9x/shotprep/internal/fixer"
	"github.com/xkilldash9x/shotprep/internal/fixer/rules"
	"github.com/xkilldash9x/shotprep/internal/resources"
)

// expansion is everything one expandElements call applied.
type expansion struct {
	startedAt time.Time
	globals   *fixer.GlobalFixResult
	elements  []*fixer.ElementFixResult
}

func (e *expansion) fixedElements() int {
	n := 0
	for _, r := range e.elements {
		if len(r.Applied) > 0 {
			n++
		}
	}
	return n
}

func (e *expansion) pending() bool {
	for _, r := range e.elements {
		for _, res := range r.Applied {
			if res.Pending() {
				return true
			}
		}
	}
	if e.globals != nil {
		for _, res := range e.globals.Applied {
			if res.Pending() {
				return true
			}
		}
	}
	return false
}

// Elements that never render content of their own.
var skipTags = map[string]bool{
	"head": true, "script": true, "style": true, "link": true, "meta": true,
	"title": true, "noscript": true, "template": true, "base": true,
}

// Candidate reasons, reported in debug logs.
const (
	reasonScroll    = "scroll"
	reasonOverflow  = "overflow"
	reasonIframe    = "iframe"
	reasonHeader    = "fixed-header"
	reasonMedia     = "media"
	reasonLocked    = "locked"
	reasonCrossOrig = "cross-origin"
)

// candidates returns the elements expandElements fixes, in document order,
// with the first reason each was selected.
func (a *Agent) candidates() ([]*dom.Element, map[*dom.Element]string) {
	corsOwners := make(map[*dom.Element]bool)
	if root := a.doc.DocumentElement(); root != nil {
		for _, r := range resources.DetectCORSResources(root) {
			corsOwners[r.Element] = true
		}
	}
	locked := make(map[*dom.Element]bool, len(a.locks))
	for _, l := range a.locks {
		locked[l.el] = true
	}

	var out []*dom.Element
	reasons := make(map[*dom.Element]string)
	inHead := false
	for _, el := range a.doc.Elements() {
		if el.TagName() == "body" {
			inHead = false
		}
		if el.TagName() == "head" {
			inHead = true
		}
		if inHead || skipTags[el.TagName()] || isDecoration(el) {
			continue
		}
		reason := candidateReason(el, locked[el], corsOwners[el])
		if reason == "" {
			continue
		}
		out = append(out, el)
		reasons[el] = reason
	}
	return out, reasons
}

func candidateReason(el *dom.Element, locked, crossOrigin bool) string {
	switch el.TagName() {
	case "iframe":
		return reasonIframe
	case "video", "audio":
		return reasonMedia
	}
	if locked {
		return reasonLocked
	}
	if m := el.Metrics(); m.ScrollHeight > m.ClientHeight {
		return reasonScroll
	}
	cs := el.ComputedStyle()
	if clips(cs.Get("overflow")) || clips(cs.Get("overflow-y")) {
		return reasonOverflow
	}
	if pos := cs.Get("position"); (pos == "fixed" || pos == "sticky") && rules.IsHeaderLike(el) {
		return reasonHeader
	}
	if crossOrigin {
		return reasonCrossOrig
	}
	return ""
}

func clips(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "hidden", "scroll", "auto":
		return true
	}
	return false
}

func isDecoration(el *dom.Element) bool {
	return el.HasAttr(overlayAttr) || el.HasAttr(badgeAttr) || el.HasAttr(rules.PlaceholderAttr)
}

// expand applies the global fixers once and the element fixers to every
// candidate. A previous expansion is restored first. It returns the number
// of elements that were changed.
func (a *Agent) expand(ctx context.Context) int {
	if a.expansion != nil {
		a.logger.Debug("Restoring previous expansion before expanding again")
		a.restore()
	}
	exp := &expansion{startedAt: a.now()}
	exp.globals = a.pipeline.ApplyGlobalFixers(ctx, a.doc)

	cands, reasons := a.candidates()
	for _, el := range cands {
		if !el.Connected() {
			continue
		}
		res := a.pipeline.ApplyFixers(ctx, el)
		if len(res.Applied) == 0 {
			continue
		}
		exp.elements = append(exp.elements, res)
		a.logger.Debug("Candidate fixed",
			zap.String("path", el.UniquePath()),
			zap.String("reason", reasons[el]),
			zap.Strings("fixers", res.AppliedIDs()))
	}
	a.expansion = exp

	globalIDs := make([]string, 0, len(exp.globals.Applied))
	for _, r := range exp.globals.Applied {
		globalIDs = append(globalIDs, r.FixerID)
	}
	a.logger.Info("Elements expanded",
		zap.Int("candidates", len(cands)),
		zap.Int("fixed", len(exp.elements)),
		zap.Strings("global_fixers", globalIDs))
	return len(exp.elements)
}

// restore undoes the current expansion: element results newest first, then
// the global fixers. It returns how many fixer results were undone.
func (a *Agent) restore() int {
	exp := a.expansion
	a.expansion = nil
	n := 0
	if exp != nil {
		for i := len(exp.elements) - 1; i >= 0; i-- {
			n += exp.elements[i].RestoreAll()
		}
		if exp.globals != nil {
			n += exp.globals.RestoreAll()
		}
	}
	if a.globals != nil {
		for _, g := range []interface {
			ID() string
			RestoreCurrent() (fixer.RestoreOutcome, error)
		}{a.globals.FontCORS, a.globals.RelativeURL} {
			outcome, err := g.RestoreCurrent()
			if err != nil {
				a.logger.Warn("Global fixer restore failed", zap.String("fixer_id", g.ID()), zap.Error(err))
				continue
			}
			if outcome == fixer.Restored {
				n++
			}
		}
	}
	if exp != nil {
		a.logger.Info("Expansion restored", zap.Int("restored", n), zap.Duration("active_for", a.now().Sub(exp.startedAt)))
	}
	return n
}

func (a *Agent) fixesActive() bool {
	if a.expansion != nil && a.expansion.pending() {
		return true
	}
	return a.globals != nil && (a.globals.RelativeURL.Active() || a.globals.FontCORS.Active())
}
