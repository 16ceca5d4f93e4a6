// internal/page/agent.go
package page

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/shotprep/internal/api"
	"github.com/xkilldash9x/shotprep/internal/browser/dom"
	"github.com/xkilldash9x/shotprep/internal/fixer"
	"github.com/xkilldash9x/shotprep/internal/fixer/rules"
	"github.com/xkilldash9x/shotprep/internal/messaging"
)

// Submitter uploads a prepared document to the capture service.
type Submitter interface {
	SubmitSnapshot(ctx context.Context, siteID, heatmapID int64, snap api.Snapshot) error
}

// Options configures an Agent. Pipeline is required.
type Options struct {
	Pipeline  *fixer.Pipeline
	Globals   *rules.Set
	Submitter Submitter
	// Mirror reflects overlays onto a live tab. Nil means the document has none.
	Mirror Mirror
	Logger *zap.Logger
	Now    func() time.Time
}

// Agent serves the page side of the messaging contract for one document. It
// is safe for concurrent use; requests are handled one at a time.
type Agent struct {
	mu sync.Mutex

	doc       *dom.Document
	pipeline  *fixer.Pipeline
	globals   *rules.Set
	submitter Submitter
	mirror    Mirror
	logger    *zap.Logger
	now       func() time.Time

	expansion   *expansion
	overlays    map[string]*overlay
	locks       []*lock
	interactive bool
}

var _ messaging.Handler = (*Agent)(nil)

// New creates an agent for doc.
func New(doc *dom.Document, opts Options) (*Agent, error) {
	if doc == nil {
		return nil, fmt.Errorf("page agent requires a document")
	}
	if opts.Pipeline == nil {
		return nil, fmt.Errorf("page agent requires a fixer pipeline")
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Agent{
		doc:       doc,
		pipeline:  opts.Pipeline,
		globals:   opts.Globals,
		submitter: opts.Submitter,
		mirror:    opts.Mirror,
		logger:    logger.Named("page_agent").With(zap.String("url", doc.URL().String())),
		now:       now,
		overlays:  make(map[string]*overlay),
	}, nil
}

// Document returns the document the agent operates on.
func (a *Agent) Document() *dom.Document { return a.doc }

// Handle dispatches one request.
func (a *Agent) Handle(ctx context.Context, req messaging.Request) messaging.Response {
	a.mu.Lock()
	defer a.mu.Unlock()

	switch r := req.(type) {
	case messaging.GetStatus:
		st := a.status()
		return messaging.Response{Success: true, Status: &st}
	case messaging.ExpandElements:
		return messaging.Response{Success: true, Count: a.expand(ctx)}
	case messaging.Restore:
		return messaging.Response{Success: true, Count: a.restore()}
	case messaging.ShowScanner:
		return a.result(a.showScanner(ctx))
	case messaging.HideScanner:
		a.hideOverlay(ctx, overlayScanner)
		return messaging.OK()
	case messaging.ShowBorderGlow:
		return a.result(a.showBorderGlow(ctx, r))
	case messaging.EnterInteractiveMode:
		a.interactive = true
		return messaging.OK()
	case messaging.ExitInteractiveMode:
		a.interactive = false
		return messaging.OK()
	case messaging.GetLockedElements:
		return messaging.Response{Success: true, Locked: a.lockedElements()}
	case messaging.LockElement:
		return a.result(a.lockElement(r.Selector))
	case messaging.UnlockElement:
		return a.result(a.unlockElement(r.Selector))
	case messaging.TriggerCapture:
		return a.result(a.triggerCapture(ctx, r))
	}
	return messaging.Fail(fmt.Errorf("%w: %s", messaging.ErrUnknownAction, req.Action()))
}

func (a *Agent) result(err error) messaging.Response {
	if err != nil {
		a.logger.Warn("Page request failed", zap.Error(err))
		return messaging.Fail(err)
	}
	return messaging.OK()
}

func (a *Agent) status() messaging.PageStatus {
	st := messaging.PageStatus{
		URL:             a.doc.URL().String(),
		InteractiveMode: a.interactive,
		LockedCount:     len(a.locks),
		ScannerVisible:  a.overlays[overlayScanner] != nil,
	}
	if a.expansion != nil {
		st.Expanded = true
		st.ExpandedCount = a.expansion.fixedElements()
	}
	st.FixesActive = a.fixesActive()
	return st
}

// HTML serializes the document without the agent's own decorations.
func (a *Agent) HTML() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cleanHTML()
}

// Close restores the document and drops overlays.
func (a *Agent) Close(ctx context.Context) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.restore()
	for kind := range a.overlays {
		a.hideOverlay(ctx, kind)
	}
}
