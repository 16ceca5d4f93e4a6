// internal/resources/cors.go
package resources

import (
	"strings"

	"github.com/xkilldash9x/shotprep/internal/browser/dom"
)

// ResourceType classifies a cross-origin resource by how it is consumed.
type ResourceType string

const (
	ResourceImage      ResourceType = "image"
	ResourceSVGUse     ResourceType = "svg-use"
	ResourcePoster     ResourceType = "video-poster"
	ResourceBackground ResourceType = "background-image"
)

// DetectedResource is a cross-origin binary resource referenced by an element.
type DetectedResource struct {
	Element       *dom.Element
	Attribute     string
	OriginalValue string
	// URL is the absolute URL to fetch (without any fragment).
	URL string
	// URLInValue is the reference as written in OriginalValue.
	URLInValue   string
	Fragment     string
	ResourceType ResourceType
	CSSProperty  string
	DataURI      string
}

// DetectCORSResources finds cross-origin img[src], SVG use[href],
// video[poster] and inline background images in root and its descendants.
func DetectCORSResources(root *dom.Element) []DetectedResource {
	base := root.Document().URL()
	var out []DetectedResource
	add := func(el *dom.Element, attr, original, ref string, typ ResourceType, cssProp string) {
		abs, ok := crossOriginURL(ref, base)
		if !ok {
			return
		}
		fetchURL, fragment := abs, ""
		if i := strings.IndexByte(abs, '#'); i >= 0 {
			fetchURL, fragment = abs[:i], abs[i+1:]
		}
		out = append(out, DetectedResource{
			Element:       el,
			Attribute:     attr,
			OriginalValue: original,
			URL:           fetchURL,
			URLInValue:    ref,
			Fragment:      fragment,
			ResourceType:  typ,
			CSSProperty:   cssProp,
		})
	}

	for _, el := range root.Descendants() {
		switch el.TagName() {
		case "img":
			if v, ok := el.Attr("src"); ok {
				add(el, "src", v, strings.TrimSpace(v), ResourceImage, "")
			}
		case "use":
			for _, attr := range []string{"href", "xlink:href"} {
				if v, ok := el.Attr(attr); ok {
					add(el, attr, v, strings.TrimSpace(v), ResourceSVGUse, "")
				}
			}
		case "video":
			if v, ok := el.Attr("poster"); ok {
				add(el, "poster", v, strings.TrimSpace(v), ResourcePoster, "")
			}
		}
		if prop, urls := backgroundImageURLs(el); len(urls) > 0 {
			original := el.GetAttr("style")
			for _, u := range urls {
				add(el, "style", original, u, ResourceBackground, prop)
			}
		}
	}
	return out
}

// UniqueURLs returns the distinct fetch URLs in first-seen order.
func UniqueURLs(resources []DetectedResource) []string {
	seen := make(map[string]bool)
	var out []string
	for _, r := range resources {
		if !seen[r.URL] {
			seen[r.URL] = true
			out = append(out, r.URL)
		}
	}
	return out
}

// ApplyDataURIs replaces every resource whose URL has a data URI and leaves
// the others untouched. The returned Conversion restores exactly the
// attributes that were written.
func ApplyDataURIs(resources []DetectedResource, dataURIs map[string]string) *Conversion {
	var embedded []DetectedResource
	for _, r := range resources {
		if uri, ok := dataURIs[r.URL]; ok && uri != "" {
			r.DataURI = uri
			embedded = append(embedded, r)
		}
	}

	batches, index := batchByAttribute(embedded,
		func(r DetectedResource) attrKey { return attrKey{r.Element, r.Attribute} },
		func(r DetectedResource) string { return r.OriginalValue })
	for _, r := range embedded {
		next := r.DataURI
		if r.Fragment != "" {
			next += "#" + r.Fragment
		}
		index[attrKey{r.Element, r.Attribute}].rewrite[r.URLInValue] = next
	}

	conv := &Conversion{}
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
	for _, r := range embedded {
		if converted[attrKey{r.Element, r.Attribute}] {
			conv.Count++
		}
	}
	return conv
}
