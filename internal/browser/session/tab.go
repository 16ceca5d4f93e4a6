// internal/browser/session/tab.go
package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/inspector"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/shotprep/internal/browser/dom"
)

// Tab is one page in the managed browser.
type Tab struct {
	id      int
	ctx     context.Context
	cancel  context.CancelFunc
	manager *Manager
	logger  *zap.Logger

	mu         sync.Mutex
	url        string
	navigating bool
	closeOnce  sync.Once
}

// ID is the manager-assigned tab id.
func (t *Tab) ID() int { return t.id }

// URL is the last committed main-frame URL.
func (t *Tab) URL() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.url
}

func (t *Tab) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := CombineContext(t.ctx, ctx)
	defer cancel()
	return chromedp.Run(runCtx, actions...)
}

// Navigate loads targetURL and waits for the body plus the configured
// post-load wait. Navigations started here do not produce EventNavigated.
func (t *Tab) Navigate(ctx context.Context, targetURL string) error {
	cfg := t.manager.cfg
	timeout := cfg.NavigationTimeout
	if timeout <= 0 {
		timeout = defaultNavigationTimeout
	}
	navCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	t.mu.Lock()
	t.navigating = true
	t.mu.Unlock()
	defer func() {
		t.mu.Lock()
		t.navigating = false
		t.mu.Unlock()
	}()

	actions := []chromedp.Action{
		chromedp.Navigate(targetURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
	}
	if cfg.PostLoadWait > 0 {
		actions = append(actions, chromedp.Sleep(cfg.PostLoadWait))
	}
	var current string
	actions = append(actions, chromedp.Location(&current))
	if err := t.run(navCtx, actions...); err != nil {
		return fmt.Errorf("failed to navigate to %s: %w", targetURL, err)
	}
	t.mu.Lock()
	t.url = current
	t.mu.Unlock()
	return nil
}

// Evaluate runs script in the page and decodes its result into res, which
// may be nil. Promises are awaited.
func (t *Tab) Evaluate(ctx context.Context, script string, res interface{}) error {
	return t.run(ctx, chromedp.Evaluate(script, res, func(p *runtime.EvaluateParams) *runtime.EvaluateParams {
		return p.WithAwaitPromise(true)
	}))
}

// Snapshot measures the live document.
func (t *Tab) Snapshot(ctx context.Context) (*dom.Snapshot, error) {
	var snap dom.Snapshot
	if err := t.Evaluate(ctx, snapshotScript, &snap); err != nil {
		return nil, fmt.Errorf("failed to snapshot tab %d: %w", t.id, err)
	}
	t.logger.Debug("Page snapshot taken",
		zap.Int("elements", len(snap.Elements)),
		zap.Int("stylesheets", len(snap.StyleSheets)),
		zap.Int("html_bytes", len(snap.HTML)))
	return &snap, nil
}

// Document snapshots the tab and parses it. Media elements of the returned
// document are controlled in the live tab.
func (t *Tab) Document(ctx context.Context) (*dom.Document, error) {
	snap, err := t.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return dom.ParseString(snap.HTML, snap.URL,
		dom.WithViewport(snap.Viewport.Width, snap.Viewport.Height),
		dom.WithMediaController(&liveMedia{tab: t}),
		dom.WithSnapshot(snap))
}

// ShowOverlay inserts markup into the live page, replacing an overlay with
// the same id.
func (t *Tab) ShowOverlay(ctx context.Context, id, markup string) error {
	var ok bool
	if err := t.Evaluate(ctx, showOverlayScript(id, markup), &ok); err != nil {
		return fmt.Errorf("failed to show %s overlay: %w", id, err)
	}
	if !ok {
		return fmt.Errorf("overlay %s has no element markup", id)
	}
	return nil
}

// RemoveOverlay removes an overlay from the live page if present.
func (t *Tab) RemoveOverlay(ctx context.Context, id string) error {
	var removed bool
	if err := t.Evaluate(ctx, removeOverlayScript(id), &removed); err != nil {
		return fmt.Errorf("failed to remove %s overlay: %w", id, err)
	}
	return nil
}

// onEvent runs on the chromedp event goroutine and must not block.
func (t *Tab) onEvent(ev interface{}) {
	switch e := ev.(type) {
	case *page.EventFrameNavigated:
		if e.Frame == nil || e.Frame.ParentID != "" {
			return
		}
		t.mu.Lock()
		own := t.navigating
		t.url = e.Frame.URL
		t.mu.Unlock()
		if !own {
			t.manager.emit(Event{TabID: t.id, Kind: EventNavigated, URL: e.Frame.URL})
		}
	case *inspector.EventDetached, *inspector.EventTargetCrashed:
		t.logger.Warn("Tab went away", zap.String("reason", fmt.Sprintf("%T", e)))
		go t.manager.forget(t.id)
	}
}

func (t *Tab) close() error {
	var err error
	t.closeOnce.Do(func() {
		ctx, cancel := context.WithTimeout(Detach(t.ctx), closeTimeout)
		defer cancel()
		done := make(chan error, 1)
		go func() { done <- chromedp.Cancel(t.ctx) }()
		select {
		case err = <-done:
		case <-ctx.Done():
			err = fmt.Errorf("timed out closing tab %d", t.id)
		}
		t.cancel()
	})
	return err
}

// liveMedia drives media elements of a tab's document through the page.
// Elements are addressed by their snapshot index.
type liveMedia struct {
	tab *Tab
}

var _ dom.MediaController = (*liveMedia)(nil)

const mediaCallTimeout = 5 * time.Second

func snapshotIndex(el *dom.Element) (int, error) {
	snap, ok := el.Snapshot()
	if !ok {
		return 0, fmt.Errorf("<%s> was not part of the tab snapshot", el.TagName())
	}
	return snap.Index, nil
}

func (m *liveMedia) eval(ctx context.Context, script string, res interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, mediaCallTimeout)
	defer cancel()
	return m.tab.Evaluate(ctx, script, res)
}

func (m *liveMedia) State(ctx context.Context, el *dom.Element) (dom.MediaState, error) {
	idx, err := snapshotIndex(el)
	if err != nil {
		return dom.MediaState{}, err
	}
	var st *dom.MediaState
	if err := m.eval(ctx, mediaStateScript(idx), &st); err != nil {
		return dom.MediaState{}, err
	}
	if st == nil {
		return dom.MediaState{}, fmt.Errorf("media element %d is gone", idx)
	}
	return *st, nil
}

func (m *liveMedia) Pause(ctx context.Context, el *dom.Element) error {
	idx, err := snapshotIndex(el)
	if err != nil {
		return err
	}
	var found bool
	return m.eval(ctx, mediaPauseScript(idx), &found)
}

func (m *liveMedia) Play(ctx context.Context, el *dom.Element) error {
	idx, err := snapshotIndex(el)
	if err != nil {
		return err
	}
	var rejection string
	if err := m.eval(ctx, mediaPlayScript(idx), &rejection); err != nil {
		return err
	}
	switch rejection {
	case "":
		return nil
	case "NotAllowedError":
		return dom.ErrPlaybackBlocked
	}
	return fmt.Errorf("play() rejected with %s", rejection)
}

func (m *liveMedia) Seek(ctx context.Context, el *dom.Element, at float64) error {
	idx, err := snapshotIndex(el)
	if err != nil {
		return err
	}
	var found bool
	return m.eval(ctx, mediaSeekScript(idx, at), &found)
}
