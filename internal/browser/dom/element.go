package dom

import (
	"bytes"
	"strings"

	"golang.org/x/net/html"

	"github.com/xkilldash9x/shotprep/internal/browser/parser"
	"github.com/xkilldash9x/shotprep/internal/browser/style"
)

// Element wraps an element node of a Document. Wrappers are cached, so two
// lookups of the same node return the same pointer.
type Element struct {
	node *html.Node
	doc  *Document
}

// Node exposes the underlying html node.
func (e *Element) Node() *html.Node { return e.node }

// Document returns the owning document.
func (e *Element) Document() *Document { return e.doc }

// TagName returns the lowercase tag name.
func (e *Element) TagName() string { return strings.ToLower(e.node.Data) }

// ID returns the id attribute.
func (e *Element) ID() string { return e.GetAttr("id") }

// Classes returns the class list.
func (e *Element) Classes() []string { return strings.Fields(e.GetAttr("class")) }

// Attr returns the attribute value and whether it is present.
func (e *Element) Attr(name string) (string, bool) { return getAttr(e.node, name) }

// GetAttr returns the attribute value, or "" when absent.
func (e *Element) GetAttr(name string) string {
	v, _ := getAttr(e.node, name)
	return v
}

// HasAttr reports whether the attribute is present.
func (e *Element) HasAttr(name string) bool {
	_, ok := getAttr(e.node, name)
	return ok
}

// SetAttr writes an attribute verbatim. Writing "style" this way bypasses
// declaration handling and becomes the new baseline for SetStyleProperty.
func (e *Element) SetAttr(name, value string) {
	setAttr(e.node, name, value)
	if name == "style" {
		delete(e.doc.pristine, e.node)
	}
}

// RemoveAttr removes an attribute if present.
func (e *Element) RemoveAttr(name string) {
	removeAttr(e.node, name)
	if name == "style" {
		delete(e.doc.pristine, e.node)
	}
}

// Parent returns the parent element, or nil at the root.
func (e *Element) Parent() *Element {
	if e.node.Parent == nil {
		return nil
	}
	return e.doc.Wrap(e.node.Parent)
}

// Children returns the element children.
func (e *Element) Children() []*Element {
	var out []*Element
	for c := e.node.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode {
			out = append(out, e.doc.Wrap(c))
		}
	}
	return out
}

// Descendants returns the element itself followed by every element below it.
func (e *Element) Descendants() []*Element {
	var out []*Element
	walk(e.node, func(n *html.Node) {
		if n.Type == html.ElementNode {
			out = append(out, e.doc.Wrap(n))
		}
	})
	return out
}

// Contains reports whether other is e or one of its descendants.
func (e *Element) Contains(other *Element) bool {
	for n := other.node; n != nil; n = n.Parent {
		if n == e.node {
			return true
		}
	}
	return false
}

// Connected reports whether the element is attached to its document.
func (e *Element) Connected() bool {
	for n := e.node; n != nil; n = n.Parent {
		if n == e.doc.root {
			return true
		}
	}
	return false
}

// QuerySelectorAll returns matching descendants (not including e).
func (e *Element) QuerySelectorAll(selector string) ([]*Element, error) {
	return e.doc.querySelectorAll(e.node, selector, false)
}

// Matches reports whether e matches selector.
func (e *Element) Matches(selector string) bool {
	group, err := parser.ParseSelectorGroup(selector)
	if err != nil {
		return false
	}
	return e.doc.Engine().Matches(e.node, group)
}

// InsertBefore inserts child before ref. A nil ref appends.
func (e *Element) InsertBefore(child, ref *Element) {
	if child.node.Parent != nil {
		child.node.Parent.RemoveChild(child.node)
	}
	var refNode *html.Node
	if ref != nil {
		refNode = ref.node
	}
	e.node.InsertBefore(child.node, refNode)
	e.doc.touch()
}

// AppendChild appends child.
func (e *Element) AppendChild(child *Element) { e.InsertBefore(child, nil) }

// Remove detaches the element. It is a no-op for detached elements.
func (e *Element) Remove() {
	if e.node.Parent == nil {
		return
	}
	e.node.Parent.RemoveChild(e.node)
	e.doc.touch()
}

// TextContent concatenates descendant text.
func (e *Element) TextContent() string {
	var b strings.Builder
	walk(e.node, func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
		}
	})
	return b.String()
}

// SetTextContent replaces all children with one text node.
func (e *Element) SetTextContent(text string) {
	for c := e.node.FirstChild; c != nil; {
		next := c.NextSibling
		e.node.RemoveChild(c)
		c = next
	}
	e.node.AppendChild(&html.Node{Type: html.TextNode, Data: text})
	e.doc.touch()
}

// OuterHTML serializes the element.
func (e *Element) OuterHTML() string {
	var buf bytes.Buffer
	_ = html.Render(&buf, e.node)
	return buf.String()
}

// ComputedStyle returns the element's resolved style. Live snapshot values
// take precedence; inline declarations changed since the snapshot override them.
func (e *Element) ComputedStyle() style.ComputedStyle {
	if snap, ok := e.doc.snaps[e.node]; ok && len(snap.Computed) > 0 {
		cs := make(style.ComputedStyle, len(snap.Computed))
		for k, v := range snap.Computed {
			cs[parser.Property(strings.ToLower(k))] = parser.Value(v)
		}
		if _, modified := e.doc.pristine[e.node]; modified {
			for _, decl := range e.inlineDeclarations() {
				cs[decl.Property] = decl.Value
			}
		}
		return cs
	}
	return e.doc.Engine().Compute(e.node)
}
