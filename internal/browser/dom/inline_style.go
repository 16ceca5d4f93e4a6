package dom

import (
	"strings"

	"github.com/xkilldash9x/shotprep/internal/browser/parser"
)

// pristineStyle is the style attribute of an element as it was before the
// first SetStyleProperty call since the last attribute-level write.
type pristineStyle struct {
	present bool
	raw     string
	decls   map[parser.Property]string
}

const importantSuffix = " !important"

func (e *Element) inlineDeclarations() []parser.Declaration {
	raw, ok := getAttr(e.node, "style")
	if !ok {
		return nil
	}
	return parser.ParseDeclarationList(raw)
}

// StyleProperty returns the inline value of a property, "" when unset.
// An important declaration is reported with a trailing " !important" so the
// value can be written back unchanged through SetStyleProperty.
func (e *Element) StyleProperty(property string) string {
	property = strings.ToLower(strings.TrimSpace(property))
	value := ""
	for _, decl := range e.inlineDeclarations() {
		if string(decl.Property) == property {
			value = string(decl.Value)
			if decl.Important {
				value += importantSuffix
			}
		}
	}
	return value
}

// SetStyleProperty sets or, for an empty value, removes one inline declaration.
// When the resulting declaration set equals the pristine one, the pristine
// attribute text is restored byte for byte (or the attribute removed if the
// element had none).
func (e *Element) SetStyleProperty(property, value string) {
	property = strings.ToLower(strings.TrimSpace(property))
	if property == "" {
		return
	}
	e.recordPristine()

	important := false
	value = strings.TrimSpace(value)
	if lower := strings.ToLower(value); strings.HasSuffix(lower, "!important") {
		important = true
		value = strings.TrimSpace(value[:len(value)-len("!important")])
	}

	decls := e.inlineDeclarations()
	out := decls[:0:0]
	replaced := false
	for _, decl := range decls {
		if string(decl.Property) != property {
			out = append(out, decl)
			continue
		}
		if replaced || value == "" {
			continue
		}
		out = append(out, parser.Declaration{Property: decl.Property, Value: parser.Value(value), Important: important})
		replaced = true
	}
	if !replaced && value != "" {
		out = append(out, parser.Declaration{Property: parser.Property(property), Value: parser.Value(value), Important: important})
	}

	p := e.doc.pristine[e.node]
	if sameDeclarations(out, p.decls) {
		if p.present {
			setAttr(e.node, "style", p.raw)
		} else {
			removeAttr(e.node, "style")
		}
		return
	}
	setAttr(e.node, "style", serializeDeclarations(out))
}

// RemoveStyleProperty is SetStyleProperty with an empty value.
func (e *Element) RemoveStyleProperty(property string) {
	e.SetStyleProperty(property, "")
}

func (e *Element) recordPristine() {
	if _, ok := e.doc.pristine[e.node]; ok {
		return
	}
	raw, present := getAttr(e.node, "style")
	p := &pristineStyle{present: present, raw: raw, decls: make(map[parser.Property]string)}
	for _, decl := range parser.ParseDeclarationList(raw) {
		p.decls[decl.Property] = declKey(decl)
	}
	e.doc.pristine[e.node] = p
}

func declKey(d parser.Declaration) string {
	if d.Important {
		return string(d.Value) + importantSuffix
	}
	return string(d.Value)
}

func sameDeclarations(decls []parser.Declaration, want map[parser.Property]string) bool {
	got := make(map[parser.Property]string, len(decls))
	for _, d := range decls {
		got[d.Property] = declKey(d)
	}
	if len(got) != len(want) {
		return false
	}
	for k, v := range want {
		if got[k] != v {
			return false
		}
	}
	return true
}

func serializeDeclarations(decls []parser.Declaration) string {
	parts := make([]string, 0, len(decls))
	for _, d := range decls {
		parts = append(parts, string(d.Property)+": "+declKey(d)+";")
	}
	return strings.Join(parts, " ")
}
