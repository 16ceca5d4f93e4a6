package resources

import (
	"strings"

	"github.com/xkilldash9x/shotprep/internal/browser/dom"
)

// DetectedRelativeURL is one relative URL found in an attribute. Several
// entries can share an element and attribute (srcset candidates, layered
// backgrounds); they then share OriginalValue.
type DetectedRelativeURL struct {
	Element       *dom.Element
	Attribute     string
	OriginalValue string
	AbsoluteURL   string
	// CSSProperty is set when Attribute is "style".
	CSSProperty string
	// URLInValue is the relative URL as written inside OriginalValue.
	URLInValue string
}

// DetectRelativeURLs scans root and its descendants (the whole document when
// root is nil) for relative URLs in img[src], img/source[srcset],
// video[poster], source[src] and inline background images.
func DetectRelativeURLs(doc *dom.Document, root *dom.Element) []DetectedRelativeURL {
	var scope []*dom.Element
	if root == nil {
		scope = doc.Elements()
	} else {
		scope = root.Descendants()
	}

	var out []DetectedRelativeURL
	add := func(el *dom.Element, attr, original, rel, cssProp string) {
		if !IsRelativeURL(rel) {
			return
		}
		abs, err := doc.ResolveURL(rel)
		if err != nil || abs == strings.TrimSpace(rel) {
			return
		}
		out = append(out, DetectedRelativeURL{
			Element:       el,
			Attribute:     attr,
			OriginalValue: original,
			AbsoluteURL:   abs,
			CSSProperty:   cssProp,
			URLInValue:    rel,
		})
	}

	for _, el := range scope {
		tag := el.TagName()
		if tag == "img" || tag == "source" {
			if v, ok := el.Attr("src"); ok {
				add(el, "src", v, strings.TrimSpace(v), "")
			}
			if v, ok := el.Attr("srcset"); ok {
				for _, c := range ParseSrcset(v) {
					add(el, "srcset", v, c.URL, "")
				}
			}
		}
		if tag == "video" {
			if v, ok := el.Attr("poster"); ok {
				add(el, "poster", v, strings.TrimSpace(v), "")
			}
		}
		if prop, urls := backgroundImageURLs(el); len(urls) > 0 {
			original := el.GetAttr("style")
			for _, u := range urls {
				add(el, "style", original, u, prop)
			}
		}
	}
	return out
}

// attrKey identifies one element attribute.
type attrKey struct {
	el   *dom.Element
	attr string
}

// urlBatch is every detected URL living in one element attribute.
type urlBatch struct {
	key      attrKey
	original string
	rewrite  map[string]string
}

func batchByAttribute[T any](items []T, key func(T) attrKey, original func(T) string) ([]*urlBatch, map[attrKey]*urlBatch) {
	var order []*urlBatch
	index := make(map[attrKey]*urlBatch)
	for _, it := range items {
		k := key(it)
		b, ok := index[k]
		if !ok {
			b = &urlBatch{key: k, original: original(it), rewrite: make(map[string]string)}
			index[k] = b
			order = append(order, b)
		}
	}
	return order, index
}

// rewriteValue substitutes URLs inside one attribute value according to its kind.
func rewriteValue(attr, value string, rewrite map[string]string) string {
	switch attr {
	case "srcset":
		cands := ParseSrcset(value)
		for i, c := range cands {
			if next, ok := rewrite[c.URL]; ok {
				cands[i].URL = next
			}
		}
		return FormatSrcset(cands)
	case "style":
		return ReplaceCSSURLs(value, func(u string) (string, bool) {
			next, ok := rewrite[u]
			return next, ok
		})
	default:
		if next, ok := rewrite[strings.TrimSpace(value)]; ok {
			return next
		}
		return value
	}
}

// Conversion is an applied batch of attribute rewrites.
type Conversion struct {
	Count   int
	batches []*urlBatch
}

// Restore writes every batch's shared original value back, once per
// element attribute.
func (c *Conversion) Restore() {
	for i := len(c.batches) - 1; i >= 0; i-- {
		b := c.batches[i]
		b.key.el.SetAttr(b.key.attr, b.original)
	}
}

// ConvertRelativeURLs rewrites detected relative URLs to their absolute form.
// All URLs of one element attribute are rewritten together from the shared
// original value with a single attribute-level write; background images are
// written through the style attribute, never through declaration edits.
func ConvertRelativeURLs(detected []DetectedRelativeURL) *Conversion {
	batches, index := batchByAttribute(detected,
		func(d DetectedRelativeURL) attrKey { return attrKey{d.Element, d.Attribute} },
		func(d DetectedRelativeURL) string { return d.OriginalValue })

	conv := &Conversion{}
	for _, d := range detected {
		index[attrKey{d.Element, d.Attribute}].rewrite[d.URLInValue] = d.AbsoluteURL
	}
	converted := make(map[attrKey]bool)
	for _, b := range batches {
		next := rewriteValue(b.key.attr, b.original, b.rewrite)
		if next == b.original {
			continue
		}
		b.key.el.SetAttr(b.key.attr, next)
		conv.batches = append(conv.batches, b)
		converted[b.key] = true
	}
	for _, d := range detected {
		if converted[attrKey{d.Element, d.Attribute}] {
			conv.Count++
		}
	}
	return conv
}
