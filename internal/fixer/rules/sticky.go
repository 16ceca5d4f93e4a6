// internal/fixer/rules/sticky.go
package rules

import (
	"context"
	"fmt"
	"strings"

	"github.com/xkilldash9x/shotprep/internal/browser/dom"
	"github.com/xkilldash9x/shotprep/internal/fixer"
)

// PlaceholderAttr marks the spacer left where a fixed header used to sit.
const PlaceholderAttr = "data-shotprep-placeholder"

var (
	headerTags       = map[string]bool{"header": true, "nav": true}
	headerRoles      = map[string]bool{"banner": true, "navigation": true}
	headerClassHints = []string{"header", "navbar", "nav", "sticky"}
)

// StickyHeaderFixer puts fixed and sticky headers back into the flow so they
// appear once at the top of a full-page capture. It supersedes the position
// fixer.
type StickyHeaderFixer struct{ fixer.Meta }

func NewStickyHeaderFixer() *StickyHeaderFixer {
	return &StickyHeaderFixer{Meta: fixer.Meta{
		FixerID:       IDStickyHeader,
		FixerPriority: 110,
		FixerScope:    fixer.ScopeElement,
		ComposedIDs:   []string{IDPosition},
	}}
}

// IsHeaderLike reports whether el looks like header or navigation chrome.
func IsHeaderLike(el *dom.Element) bool {
	if headerTags[el.TagName()] {
		return true
	}
	if headerRoles[strings.ToLower(strings.TrimSpace(el.GetAttr("role")))] {
		return true
	}
	class := strings.ToLower(el.GetAttr("class"))
	for _, hint := range headerClassHints {
		if strings.Contains(class, hint) {
			return true
		}
	}
	return false
}

func (f *StickyHeaderFixer) ShouldApply(fc *fixer.Context) bool {
	pos := fc.Style.Get("position")
	return (pos == "fixed" || pos == "sticky") && IsHeaderLike(fc.Element)
}

func (f *StickyHeaderFixer) Apply(_ context.Context, fc *fixer.Context) (*fixer.Result, error) {
	el := fc.Element
	wasFixed := fc.Style.Get("position") == "fixed"
	backup := backupInline(el, "position", "top", "bottom", "left", "right", "z-index", "width")

	var placeholder *dom.Element
	if wasFixed {
		if parent := el.Parent(); parent != nil {
			placeholder = fc.Document.CreateElement("div")
			placeholder.SetAttr(PlaceholderAttr, "true")
			placeholder.SetAttr("aria-hidden", "true")
			placeholder.SetAttr("style", fmt.Sprintf("width: %s; height: %s; visibility: hidden; pointer-events: none;",
				px(fc.Rect.Width), px(fc.Rect.Height)))
			parent.InsertBefore(placeholder, el)
		}
	}

	important(el, "position", "relative")
	for _, p := range []string{"top", "bottom", "left", "right", "z-index"} {
		el.SetStyleProperty(p, "")
	}
	important(el, "width", "auto")

	return fixer.NewResult(f.ID(), 1, func() error {
		if placeholder != nil {
			placeholder.Remove()
		}
		backup.restore()
		return nil
	}), nil
}
