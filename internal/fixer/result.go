// internal/fixer/result.go
package fixer

import (
	"fmt"
	"sync"
)

// RestoreOutcome reports what a Restore call did.
type RestoreOutcome int

const (
	Restored RestoreOutcome = iota
	AlreadyRestored
)

func (o RestoreOutcome) String() string {
	if o == AlreadyRestored {
		return "already_restored"
	}
	return "restored"
}

// Result is an applied mutation bundled with its undo. Restore runs the undo
// at most once; later calls report AlreadyRestored.
type Result struct {
	FixerID string
	Applied bool
	Count   int

	mu      sync.Mutex
	restore func() error
	done    bool
}

// NewResult records an applied fixer. restore may be nil.
func NewResult(fixerID string, count int, restore func() error) *Result {
	return &Result{FixerID: fixerID, Applied: true, Count: count, restore: restore}
}

// NotApplied records a fixer that changed nothing.
func NotApplied(fixerID string) *Result {
	return &Result{FixerID: fixerID, done: true}
}

// Pending reports whether the result is applied and not yet restored.
func (r *Result) Pending() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.Applied && !r.done
}

// Restore undoes the mutation. A panicking undo is converted to an error and
// still counts as the one permitted run.
func (r *Result) Restore() (outcome RestoreOutcome, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.done {
		return AlreadyRestored, nil
	}
	r.done = true
	if r.restore == nil {
		return Restored, nil
	}
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("restore of %s panicked: %v", r.FixerID, p)
		}
	}()
	if err := r.restore(); err != nil {
		return Restored, fmt.Errorf("restore of %s failed: %w", r.FixerID, err)
	}
	return Restored, nil
}
