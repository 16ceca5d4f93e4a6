// -- internal/page/lock.go --
package page

import (
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/shotprep/internal/browser/dom"
	"github.com/xkilldash9x/shotprep/internal/messaging"
)

const (
	lockedAttr = "data-shotprep-locked"
	badgeAttr  = "data-shotprep-badge"

	badgeStyle = "display: inline-block; padding: 2px 6px; border-radius: 4px; font: 600 11px/1.4 sans-serif; " +
		"color: #fff; background: #7c3aed; pointer-events: none;"
)

// lock is an element the user pinned for expansion.
type lock struct {
	selector string
	el       *dom.Element
	badge    *dom.Element
	at       time.Time
}

func (a *Agent) findLock(selector string, el *dom.Element) int {
	for i, l := range a.locks {
		if l.selector == selector || (el != nil && l.el == el) {
			return i
		}
	}
	return -1
}

func (a *Agent) resolve(selector string) (*dom.Element, error) {
	selector = strings.TrimSpace(selector)
	if selector == "" {
		return nil, fmt.Errorf("selector is required")
	}
	el, err := a.doc.QuerySelector(selector)
	if err != nil {
		return nil, fmt.Errorf("invalid selector %q: %w", selector, err)
	}
	if el == nil {
		return nil, fmt.Errorf("no element matches %q", selector)
	}
	return el, nil
}

// lockElement marks the element and places a badge in front of it. Locking
// an element twice is a no-op.
func (a *Agent) lockElement(selector string) error {
	el, err := a.resolve(selector)
	if err != nil {
		return err
	}
	if isDecoration(el) {
		return fmt.Errorf("%q matches a shotprep decoration", selector)
	}
	if a.findLock(selector, el) >= 0 {
		return nil
	}
	parent := el.Parent()
	if parent == nil {
		return fmt.Errorf("%q matches the document root", selector)
	}

	badge := a.doc.CreateElement("span")
	badge.SetAttr(badgeAttr, "")
	badge.SetAttr("aria-hidden", "true")
	badge.SetAttr("style", badgeStyle)
	badge.SetTextContent("locked")
	parent.InsertBefore(badge, el)
	el.SetAttr(lockedAttr, "")

	a.locks = append(a.locks, &lock{selector: strings.TrimSpace(selector), el: el, badge: badge, at: a.now().UTC()})
	a.logger.Debug("Element locked", zap.String("selector", selector), zap.String("path", el.UniquePath()))
	return nil
}

func (a *Agent) unlockElement(selector string) error {
	selector = strings.TrimSpace(selector)
	el, _ := a.doc.QuerySelector(selector)
	i := a.findLock(selector, el)
	if i < 0 {
		return fmt.Errorf("%q is not locked", selector)
	}
	l := a.locks[i]
	a.locks = append(a.locks[:i], a.locks[i+1:]...)
	l.badge.Remove()
	l.el.RemoveAttr(lockedAttr)
	a.logger.Debug("Element unlocked", zap.String("selector", selector))
	return nil
}

func (a *Agent) lockedElements() []messaging.LockedElement {
	out := make([]messaging.LockedElement, 0, len(a.locks))
	for _, l := range a.locks {
		out = append(out, messaging.LockedElement{Selector: l.selector, LockedAt: l.at})
	}
	return out
}

// cleanHTML renders the document with overlays, badges and lock markers
// taken out, then puts them back.
func (a *Agent) cleanHTML() string {
	type detached struct {
		el, parent *dom.Element
	}
	var overlays []detached
	if els, err := a.doc.QuerySelectorAll("[" + overlayAttr + "]"); err == nil {
		for _, el := range els {
			if p := el.Parent(); p != nil {
				overlays = append(overlays, detached{el: el, parent: p})
				el.Remove()
			}
		}
	}
	for _, l := range a.locks {
		l.badge.Remove()
		l.el.RemoveAttr(lockedAttr)
	}

	out := a.doc.HTML()

	for _, l := range a.locks {
		if p := l.el.Parent(); p != nil {
			p.InsertBefore(l.badge, l.el)
		}
		l.el.SetAttr(lockedAttr, "")
	}
	for _, d := range overlays {
		d.parent.AppendChild(d.el)
	}
	return out
}
