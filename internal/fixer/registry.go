// internal/fixer/registry.go
package fixer

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

var (
	// ErrDuplicateFixer means an id was registered twice.
	ErrDuplicateFixer = errors.New("fixer already registered")
	// ErrInvalidFixer means a fixer's descriptor is unusable.
	ErrInvalidFixer = errors.New("invalid fixer")
)

// Registry is the catalog of known fixers. Fixers are add-only; Clear
// exists for reinitialization and tests.
type Registry struct {
	mu     sync.RWMutex
	byID   map[string]Fixer
	order  []Fixer
	sorted []Fixer
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{byID: make(map[string]Fixer)}
}

// Register adds f. The fixer must implement ElementFixer or GlobalFixer
// matching its scope.
func (r *Registry) Register(f Fixer) error {
	if f == nil || f.ID() == "" {
		return fmt.Errorf("%w: missing id", ErrInvalidFixer)
	}
	switch f.Scope() {
	case ScopeElement:
		if _, ok := f.(ElementFixer); !ok {
			return fmt.Errorf("%w: %s has element scope but is not an ElementFixer", ErrInvalidFixer, f.ID())
		}
	case ScopeGlobal:
		if _, ok := f.(GlobalFixer); !ok {
			return fmt.Errorf("%w: %s has global scope but is not a GlobalFixer", ErrInvalidFixer, f.ID())
		}
	default:
		return fmt.Errorf("%w: %s has unknown scope %q", ErrInvalidFixer, f.ID(), f.Scope())
	}
	if f.Kind() == KindComposable {
		if _, ok := f.(Composable); !ok {
			return fmt.Errorf("%w: %s is composable but does not list composed fixers", ErrInvalidFixer, f.ID())
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byID[f.ID()]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateFixer, f.ID())
	}
	r.byID[f.ID()] = f
	r.order = append(r.order, f)
	r.sorted = nil
	return nil
}

// MustRegister is Register for startup wiring; it panics on error.
func (r *Registry) MustRegister(fixers ...Fixer) {
	for _, f := range fixers {
		if err := r.Register(f); err != nil {
			panic(err)
		}
	}
}

// Get returns the fixer with id.
func (r *Registry) Get(id string) (Fixer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.byID[id]
	return f, ok
}

// Len returns the number of registered fixers.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// AllSorted returns every fixer by ascending priority, ties in registration
// order. The slice is cached until the next Register and must not be modified.
func (r *Registry) AllSorted() []Fixer {
	r.mu.RLock()
	sorted := r.sorted
	r.mu.RUnlock()
	if sorted != nil {
		return sorted
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sorted == nil {
		s := make([]Fixer, len(r.order))
		copy(s, r.order)
		sort.SliceStable(s, func(i, j int) bool { return s[i].Priority() < s[j].Priority() })
		r.sorted = s
	}
	return r.sorted
}

// ElementFixers returns element-scope fixers by priority.
func (r *Registry) ElementFixers() []ElementFixer {
	var out []ElementFixer
	for _, f := range r.AllSorted() {
		if ef, ok := f.(ElementFixer); ok && f.Scope() == ScopeElement {
			out = append(out, ef)
		}
	}
	return out
}

// GlobalFixers returns global-scope fixers by priority.
func (r *Registry) GlobalFixers() []GlobalFixer {
	var out []GlobalFixer
	for _, f := range r.AllSorted() {
		if gf, ok := f.(GlobalFixer); ok && f.Scope() == ScopeGlobal {
			out = append(out, gf)
		}
	}
	return out
}

// ComposableElementFixers returns the element fixers of KindComposable.
func (r *Registry) ComposableElementFixers() []ElementFixer {
	return filterKind(r.ElementFixers(), KindComposable)
}

// BaseElementFixers returns the element fixers of KindBase.
func (r *Registry) BaseElementFixers() []ElementFixer {
	return filterKind(r.ElementFixers(), KindBase)
}

// ComposableGlobalFixers returns the global fixers of KindComposable.
func (r *Registry) ComposableGlobalFixers() []GlobalFixer {
	return filterKind(r.GlobalFixers(), KindComposable)
}

// BaseGlobalFixers returns the global fixers of KindBase.
func (r *Registry) BaseGlobalFixers() []GlobalFixer {
	return filterKind(r.GlobalFixers(), KindBase)
}

func filterKind[F Fixer](in []F, k Kind) []F {
	var out []F
	for _, f := range in {
		if f.Kind() == k {
			out = append(out, f)
		}
	}
	return out
}

// Clear removes every fixer.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID = make(map[string]Fixer)
	r.order = nil
	r.sorted = nil
}
