// File: internal/fixer/fixer.go
package fixer

import (
	"context"

	"github.com/xkilldash9x/shotprep/internal/browser/dom"
	"github.com/xkilldash9x/shotprep/internal/browser/style"
)

// Scope says whether a fixer targets one element or the whole document.
type Scope string

const (
	ScopeElement Scope = "element"
	ScopeGlobal  Scope = "global"
)

// Kind separates plain fixers from composable ones, which supersede the
// fixers they list in Composes when they apply.
type Kind int

const (
	KindBase Kind = iota
	KindComposable
)

func (k Kind) String() string {
	if k == KindComposable {
		return "composable"
	}
	return "base"
}

// Fixer is the descriptor shared by every rule.
type Fixer interface {
	ID() string
	// Priority orders fixers; lower runs first.
	Priority() int
	Scope() Scope
	Kind() Kind
}

// ElementFixer mutates a single element.
type ElementFixer interface {
	Fixer
	ShouldApply(fc *Context) bool
	Apply(ctx context.Context, fc *Context) (*Result, error)
}

// GlobalFixer mutates the whole document once.
type GlobalFixer interface {
	Fixer
	ShouldApply(gc *GlobalContext) bool
	Apply(ctx context.Context, gc *GlobalContext) (*Result, error)
}

// Composable is implemented by fixers of KindComposable.
type Composable interface {
	Composes() []string
}

// Meta implements the descriptor half of Fixer for embedding.
type Meta struct {
	FixerID       string
	FixerPriority int
	FixerScope    Scope
	ComposedIDs   []string
}

func (m Meta) ID() string         { return m.FixerID }
func (m Meta) Priority() int      { return m.FixerPriority }
func (m Meta) Scope() Scope       { return m.FixerScope }
func (m Meta) Composes() []string { return m.ComposedIDs }

// Kind is composable exactly when the fixer declares what it composes.
func (m Meta) Kind() Kind {
	if len(m.ComposedIDs) > 0 {
		return KindComposable
	}
	return KindBase
}

// Context is the per-element snapshot taken once per ApplyFixers call. Every
// fixer in a pass sees these starting measurements, even after earlier
// fixers have changed the element.
type Context struct {
	Element      *dom.Element
	Document     *dom.Document
	Style        style.ComputedStyle
	ScrollHeight float64
	ClientHeight float64
	Rect         dom.Rect
}

// NewContext measures el.
func NewContext(el *dom.Element) *Context {
	m := el.Metrics()
	return &Context{
		Element:      el,
		Document:     el.Document(),
		Style:        el.ComputedStyle(),
		ScrollHeight: m.ScrollHeight,
		ClientHeight: m.ClientHeight,
		Rect:         m.Rect,
	}
}

// GlobalContext is the input of global fixers.
type GlobalContext struct {
	Document *dom.Document
}
