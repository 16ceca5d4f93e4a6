// browser/dom/stylesheets.go
package dom

import (
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// SheetKind distinguishes inline <style> sheets from <link> sheets.
type SheetKind int

const (
	SheetInline SheetKind = iota
	SheetLink
)

// StyleSheet is one stylesheet reachable from the document. Readable sheets
// carry their text; unreadable ones (cross-origin, or not loaded in memory)
// must be fetched by Href.
type StyleSheet struct {
	Kind     SheetKind
	Href     string
	Text     string
	Readable bool
	Owner    *Element
}

// StyleSheets lists the document's stylesheets in document order.
func (d *Document) StyleSheets() []StyleSheet {
	var out []StyleSheet
	walk(d.root, func(n *html.Node) {
		if n.Type != html.ElementNode {
			return
		}
		switch n.DataAtom {
		case atom.Style:
			if t, ok := getAttr(n, "type"); ok && t != "" && !strings.EqualFold(t, "text/css") {
				return
			}
			el := d.Wrap(n)
			out = append(out, StyleSheet{Kind: SheetInline, Text: el.TextContent(), Readable: true, Owner: el})
		case atom.Link:
			rel, _ := getAttr(n, "rel")
			if !hasToken(rel, "stylesheet") || hasToken(rel, "alternate") {
				return
			}
			href, _ := getAttr(n, "href")
			if strings.TrimSpace(href) == "" {
				return
			}
			abs, err := d.ResolveURL(href)
			if err != nil {
				return
			}
			sheet := StyleSheet{Kind: SheetLink, Href: abs, Owner: d.Wrap(n)}
			if snap, ok := d.sheets[n]; ok && snap.Readable {
				sheet.Readable = true
				sheet.Text = snap.Text
			}
			out = append(out, sheet)
		}
	})
	return out
}

func hasToken(list, token string) bool {
	for _, f := range strings.Fields(list) {
		if strings.EqualFold(f, token) {
			return true
		}
	}
	return false
}
