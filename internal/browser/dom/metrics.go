// internal/browser/dom/metrics.go
package dom

import (
	"math"
	"strconv"
	"strings"

	"golang.org/x/net/html"

	"github.com/xkilldash9x/shotprep/internal/browser/style"
)

// averageGlyphWidth is the fraction of the font size one character occupies
// when estimating line wrapping.
const averageGlyphWidth = 0.5

// Metrics returns the element's measurements. Live snapshot values are used
// when attached; otherwise the box is estimated from the cascade.
func (e *Element) Metrics() Metrics {
	if snap, ok := e.doc.snaps[e.node]; ok {
		return Metrics{ScrollHeight: snap.ScrollHeight, ClientHeight: snap.ClientHeight, Rect: snap.Rect}
	}
	est := &estimator{doc: e.doc, engine: e.doc.Engine()}
	width := est.width(e.node)
	content := est.contentHeight(e.node, width)
	client := est.boxHeight(e.node, width, content)
	return Metrics{
		ScrollHeight: math.Max(client, content),
		ClientHeight: client,
		Rect:         Rect{Width: width, Height: client},
	}
}

// FrameContentHeight returns the height of an iframe's own document. Only
// frames whose document is readable (a live same-origin frame, or srcdoc)
// report a height; everything else yields ErrCrossOriginFrame.
func (e *Element) FrameContentHeight() (float64, error) {
	if snap, ok := e.doc.snaps[e.node]; ok && snap.FrameHeight != nil {
		return *snap.FrameHeight, nil
	}
	if e.TagName() != "iframe" {
		return 0, ErrCrossOriginFrame
	}
	srcdoc, ok := e.Attr("srcdoc")
	if !ok {
		return 0, ErrCrossOriginFrame
	}
	vw, vh := e.doc.engine.Viewport()
	inner, err := ParseString(srcdoc, e.doc.pageURL.String(), WithViewport(vw, vh))
	if err != nil {
		return 0, ErrCrossOriginFrame
	}
	root := inner.DocumentElement()
	if root == nil {
		return 0, ErrCrossOriginFrame
	}
	return root.Metrics().ScrollHeight, nil
}

type estimator struct {
	doc    *Document
	engine *style.Engine
}

func (est *estimator) style(n *html.Node) style.ComputedStyle {
	if snap, ok := est.doc.snaps[n]; ok && len(snap.Computed) > 0 {
		return est.doc.Wrap(n).ComputedStyle()
	}
	return est.engine.Compute(n)
}

// width resolves the used width of n: a declared absolute width, or the
// width of the nearest ancestor, or the viewport.
func (est *estimator) width(n *html.Node) float64 {
	vw, vh := est.engine.Viewport()
	for cur := n; cur != nil && cur.Type == html.ElementNode; cur = cur.Parent {
		cs := est.style(cur)
		w := cs.Get("width")
		if w == "" || w == "auto" || strings.HasSuffix(w, "%") {
			continue
		}
		if px := style.ParseLengthWithUnits(w, cs.FontSize(), style.BaseFontSize, vw, vw, vh); px > 0 {
			return px
		}
	}
	return vw
}

// boxHeight is the used height of n given its content height: a declared
// absolute height or the content, clamped by min/max-height.
func (est *estimator) boxHeight(n *html.Node, width, content float64) float64 {
	cs := est.style(n)
	vw, vh := est.engine.Viewport()
	fs := cs.FontSize()

	h := content
	if px, ok := absoluteLength(cs.Get("height"), fs, vw, vh); ok {
		h = px
	} else if attr, ok := getAttr(n, "height"); ok {
		if v, err := strconv.ParseFloat(strings.TrimSuffix(attr, "px"), 64); err == nil {
			h = v
		}
	}
	if px, ok := absoluteLength(cs.Get("max-height"), fs, vw, vh); ok && h > px {
		h = px
	}
	if px, ok := absoluteLength(cs.Get("min-height"), fs, vw, vh); ok && h < px {
		h = px
	}
	return h
}

// contentHeight estimates the height of n's in-flow content.
func (est *estimator) contentHeight(n *html.Node, width float64) float64 {
	cs := est.style(n)
	lineHeight := cs.LineHeight()
	total := 0.0
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		switch c.Type {
		case html.TextNode:
			text := strings.TrimSpace(c.Data)
			if text == "" {
				continue
			}
			chars := float64(len([]rune(text)))
			perLine := math.Max(1, math.Floor(width/(cs.FontSize()*averageGlyphWidth)))
			total += math.Ceil(chars/perLine) * lineHeight
		case html.ElementNode:
			ccs := est.style(c)
			if ccs.Get("display") == "none" {
				continue
			}
			switch ccs.Get("position") {
			case "absolute", "fixed":
				continue
			}
			cw := est.width(c)
			total += est.boxHeight(c, cw, est.contentHeight(c, cw))
		}
	}
	return total
}

// absoluteLength parses a length that does not need a containing block.
func absoluteLength(v string, fontSize, vw, vh float64) (float64, bool) {
	v = strings.TrimSpace(v)
	if v == "" || v == "auto" || v == "none" || strings.HasSuffix(v, "%") || strings.Contains(v, "(") {
		return 0, false
	}
	if _, err := strconv.ParseFloat(v, 64); err == nil && v != "0" {
		return 0, false
	}
	return style.ParseLengthWithUnits(v, fontSize, style.BaseFontSize, 0, vw, vh), true
}
