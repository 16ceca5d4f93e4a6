// browser/dom/document.go
package dom

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strconv"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/xkilldash9x/shotprep/internal/browser/parser"
	"github.com/xkilldash9x/shotprep/internal/browser/style"
)

// IndexAttr is the transient attribute a live snapshot uses to correlate
// serialized elements with their measurements. It is removed during Parse.
const IndexAttr = "data-shotprep-idx"

// ErrCrossOriginFrame is returned when an iframe's content document cannot be read.
var ErrCrossOriginFrame = errors.New("iframe content is not accessible")

// Document is an in-memory page: a parsed HTML tree plus whatever the live
// engine reported about it. It is not safe for concurrent use.
type Document struct {
	root    *html.Node
	pageURL *url.URL

	elements map[*html.Node]*Element
	pristine map[*html.Node]*pristineStyle
	snaps    map[*html.Node]*ElementSnapshot
	sheets   map[*html.Node]*SheetSnapshot
	media    MediaController

	engine        *style.Engine
	engineVersion int
	version       int
}

// Option configures Parse.
type Option func(*Document)

// WithSnapshot attaches live measurements. Elements are matched through IndexAttr.
func WithSnapshot(s *Snapshot) Option {
	return func(d *Document) {
		if s == nil {
			return
		}
		d.applySnapshot(s)
	}
}

// WithMediaController replaces the in-memory media controller.
func WithMediaController(mc MediaController) Option {
	return func(d *Document) {
		if mc != nil {
			d.media = mc
		}
	}
}

// WithViewport sets the viewport used for estimation and viewport units.
func WithViewport(width, height float64) Option {
	return func(d *Document) {
		d.engine.SetViewport(width, height)
	}
}

// Parse reads an HTML document. pageURL is the document's own location and
// serves as the base for relative URLs and origin checks.
func Parse(r io.Reader, pageURL string, opts ...Option) (*Document, error) {
	root, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("failed to parse html: %w", err)
	}
	u, err := url.Parse(pageURL)
	if err != nil {
		return nil, fmt.Errorf("invalid page url %q: %w", pageURL, err)
	}

	d := &Document{
		root:          root,
		pageURL:       u,
		elements:      make(map[*html.Node]*Element),
		pristine:      make(map[*html.Node]*pristineStyle),
		snaps:         make(map[*html.Node]*ElementSnapshot),
		sheets:        make(map[*html.Node]*SheetSnapshot),
		engine:        style.NewEngine(),
		engineVersion: -1,
	}
	d.media = NewMemoryMedia()
	for _, opt := range opts {
		opt(d)
	}
	if mm, ok := d.media.(*MemoryMedia); ok {
		for n, snap := range d.snaps {
			if snap.Media != nil {
				mm.Seed(d.Wrap(n), *snap.Media)
			}
		}
	}
	d.stripIndexAttrs()
	return d, nil
}

// ParseString is Parse over a string.
func ParseString(s, pageURL string, opts ...Option) (*Document, error) {
	return Parse(strings.NewReader(s), pageURL, opts...)
}

func (d *Document) applySnapshot(s *Snapshot) {
	byIndex := make(map[int]*html.Node)
	walk(d.root, func(n *html.Node) {
		if v, ok := getAttr(n, IndexAttr); ok {
			if idx, err := strconv.Atoi(v); err == nil {
				byIndex[idx] = n
			}
		}
	})
	for i := range s.Elements {
		es := s.Elements[i]
		if n, ok := byIndex[es.Index]; ok {
			d.snaps[n] = &es
		}
	}
	for i := range s.StyleSheets {
		sh := s.StyleSheets[i]
		if n, ok := byIndex[sh.OwnerIndex]; ok {
			d.sheets[n] = &sh
		}
	}
}

func (d *Document) stripIndexAttrs() {
	walk(d.root, func(n *html.Node) {
		removeAttr(n, IndexAttr)
	})
}

// URL returns the page location.
func (d *Document) URL() *url.URL { return d.pageURL }

// Origin returns scheme://host[:port] of the page.
func (d *Document) Origin() string {
	return Origin(d.pageURL)
}

// Origin formats the origin of u, or "" for URLs without a host.
func Origin(u *url.URL) string {
	if u == nil || u.Host == "" {
		return ""
	}
	return strings.ToLower(u.Scheme) + "://" + strings.ToLower(u.Host)
}

// ResolveURL resolves ref against the page location.
func (d *Document) ResolveURL(ref string) (string, error) {
	u, err := d.pageURL.Parse(strings.TrimSpace(ref))
	if err != nil {
		return "", err
	}
	return u.String(), nil
}

// Media returns the media controller serving this document.
func (d *Document) Media() MediaController { return d.media }

// Engine returns the style engine, refreshed with the document's current author sheets.
func (d *Document) Engine() *style.Engine {
	if d.engineVersion != d.version {
		d.engine.ResetAuthorSheets()
		for _, sheet := range d.StyleSheets() {
			if sheet.Readable {
				d.engine.AddAuthorSheet(parser.NewParser(sheet.Text).Parse())
			}
		}
		d.engineVersion = d.version
	}
	return d.engine
}

// touch records a structural change that may invalidate derived state.
func (d *Document) touch() { d.version++ }

// Wrap returns the Element for an element node, or nil.
func (d *Document) Wrap(n *html.Node) *Element {
	if n == nil || n.Type != html.ElementNode {
		return nil
	}
	if el, ok := d.elements[n]; ok {
		return el
	}
	el := &Element{node: n, doc: d}
	d.elements[n] = el
	return el
}

// DocumentElement returns the <html> element.
func (d *Document) DocumentElement() *Element {
	for c := d.root.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode {
			return d.Wrap(c)
		}
	}
	return nil
}

// Head returns the <head> element.
func (d *Document) Head() *Element { return d.findFirst(atom.Head) }

// Body returns the <body> element.
func (d *Document) Body() *Element { return d.findFirst(atom.Body) }

func (d *Document) findFirst(a atom.Atom) *Element {
	var found *html.Node
	walk(d.root, func(n *html.Node) {
		if found == nil && n.Type == html.ElementNode && n.DataAtom == a {
			found = n
		}
	})
	return d.Wrap(found)
}

// Elements returns every element in document order.
func (d *Document) Elements() []*Element {
	var out []*Element
	walk(d.root, func(n *html.Node) {
		if n.Type == html.ElementNode {
			out = append(out, d.Wrap(n))
		}
	})
	return out
}

// CreateElement returns a detached element.
func (d *Document) CreateElement(tag string) *Element {
	tag = strings.ToLower(tag)
	n := &html.Node{Type: html.ElementNode, Data: tag, DataAtom: atom.Lookup([]byte(tag))}
	return d.Wrap(n)
}

// QuerySelectorAll returns every element matching selector in document order.
func (d *Document) QuerySelectorAll(selector string) ([]*Element, error) {
	return d.querySelectorAll(d.root, selector, false)
}

// QuerySelector returns the first element matching selector, or nil.
func (d *Document) QuerySelector(selector string) (*Element, error) {
	els, err := d.querySelectorAll(d.root, selector, true)
	if err != nil || len(els) == 0 {
		return nil, err
	}
	return els[0], nil
}

func (d *Document) querySelectorAll(scope *html.Node, selector string, first bool) ([]*Element, error) {
	group, err := parser.ParseSelectorGroup(selector)
	if err != nil {
		return nil, err
	}
	engine := d.Engine()
	var out []*Element
	for c := scope.FirstChild; c != nil; c = c.NextSibling {
		walk(c, func(n *html.Node) {
			if first && len(out) > 0 {
				return
			}
			if n.Type == html.ElementNode && engine.Matches(n, group) {
				out = append(out, d.Wrap(n))
			}
		})
	}
	return out, nil
}

// Render writes the serialized document.
func (d *Document) Render(w io.Writer) error {
	return html.Render(w, d.root)
}

// HTML returns the serialized document.
func (d *Document) HTML() string {
	var buf bytes.Buffer
	_ = d.Render(&buf)
	return buf.String()
}

// walk visits n and its descendants in document order.
func walk(n *html.Node, fn func(*html.Node)) {
	fn(n)
	for c := n.FirstChild; c != nil; {
		next := c.NextSibling
		walk(c, fn)
		c = next
	}
}

// attrMatches compares an attribute against a key that may carry a namespace
// prefix ("xlink:href"), which the parser splits for foreign elements.
func attrMatches(a html.Attribute, key string) bool {
	if a.Namespace == "" {
		return a.Key == key
	}
	return a.Namespace+":"+a.Key == key
}

func getAttr(n *html.Node, key string) (string, bool) {
	for _, a := range n.Attr {
		if attrMatches(a, key) {
			return a.Val, true
		}
	}
	return "", false
}

func setAttr(n *html.Node, key, val string) {
	for i, a := range n.Attr {
		if attrMatches(a, key) {
			n.Attr[i].Val = val
			return
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Key: key, Val: val})
}

func removeAttr(n *html.Node, key string) bool {
	for i, a := range n.Attr {
		if attrMatches(a, key) {
			n.Attr = append(n.Attr[:i], n.Attr[i+1:]...)
			return true
		}
	}
	return false
}
