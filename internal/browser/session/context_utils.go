// File: internal/browser/session/context_utils.go
package session

import (
	"context"
	"time"
)

// CombineContext returns a context carrying tabCtx's values (the CDP target)
// that ends when either tabCtx or opCtx ends. chromedp actions need the tab
// values; the operation's deadline comes from the caller.
func CombineContext(tabCtx, opCtx context.Context) (context.Context, context.CancelFunc) {
	combined, cancel := context.WithCancel(tabCtx)
	stop := context.AfterFunc(opCtx, cancel)
	return combined, func() {
		stop()
		cancel()
	}
}

// detached keeps a parent's values but never ends.
type detached struct{ context.Context }

func (detached) Deadline() (time.Time, bool) { return time.Time{}, false }
func (detached) Done() <-chan struct{}       { return nil }
func (detached) Err() error                  { return nil }

// Detach returns a context with ctx's values that outlives ctx. Cleanup on a
// tab uses it when the operation context is already gone.
func Detach(ctx context.Context) context.Context {
	return detached{ctx}
}
