// browser/session/manager.go
package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/shotprep/internal/config"
)

const (
	defaultNavigationTimeout = 60 * time.Second
	closeTimeout             = 15 * time.Second
)

// ErrTabNotFound is returned for operations on a tab the manager does not own.
var ErrTabNotFound = errors.New("tab not found")

// EventKind classifies tab lifecycle events.
type EventKind int

const (
	// EventNavigated fires when a tab's main frame commits a navigation the
	// manager did not start.
	EventNavigated EventKind = iota + 1
	// EventClosed fires when a tab goes away, whoever closed it.
	EventClosed
)

func (k EventKind) String() string {
	switch k {
	case EventNavigated:
		return "navigated"
	case EventClosed:
		return "closed"
	}
	return "unknown"
}

// Event is a tab lifecycle notification.
type Event struct {
	TabID int
	Kind  EventKind
	URL   string
}

// Manager owns one headless browser and the tabs opened in it. The browser
// is launched on the first Open.
type Manager struct {
	cfg    config.BrowserConfig
	logger *zap.Logger

	initOnce      sync.Once
	initErr       error
	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc

	mu      sync.Mutex
	tabs    map[int]*Tab
	nextID  int
	subs    map[int]func(Event)
	nextSub int
	closed  bool
}

// NewManager creates a manager. Nothing is launched until a tab is opened.
func NewManager(cfg config.BrowserConfig, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Manager{
		cfg:    cfg,
		logger: logger.Named("browser_manager"),
		tabs:   make(map[int]*Tab),
		subs:   make(map[int]func(Event)),
	}
	m.logger.Info("Browser manager created (initialization deferred).")
	return m
}

// allocatorFlags returns the command line switches for the browser process.
// Entries of cfg.Args may be "name" or "name=value", with or without dashes.
func allocatorFlags(cfg config.BrowserConfig) map[string]interface{} {
	w, h := cfg.ViewportSize()
	flags := map[string]interface{}{
		"no-sandbox":               true,
		"disable-gpu":              true,
		"disable-dev-shm-usage":    true,
		"no-first-run":             true,
		"no-default-browser-check": true,
		"hide-scrollbars":          true,
		"mute-audio":               true,
		"window-size":              fmt.Sprintf("%d,%d", w, h),
	}
	if cfg.Headless {
		flags["headless"] = "new"
	}
	for _, arg := range cfg.Args {
		arg = strings.TrimLeft(strings.TrimSpace(arg), "-")
		if arg == "" {
			continue
		}
		if key, value, found := strings.Cut(arg, "="); found {
			flags[key] = value
		} else {
			flags[arg] = true
		}
	}
	return flags
}

func allocatorOptions(cfg config.BrowserConfig) []chromedp.ExecAllocatorOption {
	flags := allocatorFlags(cfg)
	names := make([]string, 0, len(flags))
	for name := range flags {
		names = append(names, name)
	}
	sort.Strings(names)
	opts := make([]chromedp.ExecAllocatorOption, 0, len(names))
	for _, name := range names {
		opts = append(opts, chromedp.Flag(name, flags[name]))
	}
	return opts
}

func (m *Manager) initialize() error {
	m.initOnce.Do(func() {
		m.logger.Info("Launching browser.", zap.Bool("headless", m.cfg.Headless))
		allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), allocatorOptions(m.cfg)...)
		browserCtx, browserCancel := chromedp.NewContext(allocCtx,
			chromedp.WithErrorf(m.logger.Sugar().Errorf),
			chromedp.WithLogf(m.logger.Sugar().Debugf))
		// The first Run starts the browser; its context must be the long lived one.
		if err := chromedp.Run(browserCtx); err != nil {
			browserCancel()
			allocCancel()
			m.initErr = fmt.Errorf("failed to launch browser: %w", err)
			return
		}
		m.allocCancel = allocCancel
		m.browserCtx = browserCtx
		m.browserCancel = browserCancel
		m.logger.Info("Browser launched.")
	})
	return m.initErr
}

// Open creates a tab, loads targetURL in it and waits for the document to
// settle.
func (m *Manager) Open(ctx context.Context, targetURL string) (*Tab, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, fmt.Errorf("browser manager is shut down")
	}
	m.mu.Unlock()

	if err := m.initialize(); err != nil {
		return nil, err
	}

	tabCtx, tabCancel := chromedp.NewContext(m.browserCtx)
	if err := chromedp.Run(tabCtx); err != nil {
		tabCancel()
		return nil, fmt.Errorf("failed to create tab: %w", err)
	}

	m.mu.Lock()
	m.nextID++
	t := &Tab{
		id:      m.nextID,
		ctx:     tabCtx,
		cancel:  tabCancel,
		manager: m,
		logger:  m.logger.Named("tab").With(zap.Int("tab_id", m.nextID)),
	}
	m.tabs[t.id] = t
	m.mu.Unlock()

	chromedp.ListenTarget(tabCtx, t.onEvent)

	w, h := m.cfg.ViewportSize()
	if err := t.run(ctx, chromedp.EmulateViewport(int64(w), int64(h))); err != nil {
		_ = m.Close(t.id)
		return nil, fmt.Errorf("failed to set viewport: %w", err)
	}
	if err := t.Navigate(ctx, targetURL); err != nil {
		_ = m.Close(t.id)
		return nil, err
	}
	m.logger.Info("Tab opened.", zap.Int("tab_id", t.id), zap.String("url", targetURL))
	return t, nil
}

// Tab returns an open tab.
func (m *Manager) Tab(id int) (*Tab, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tabs[id]
	return t, ok
}

// TabExists reports whether the tab is still open.
func (m *Manager) TabExists(id int) bool {
	_, ok := m.Tab(id)
	return ok
}

// Close closes a tab. Closing an unknown tab returns ErrTabNotFound.
func (m *Manager) Close(id int) error {
	m.mu.Lock()
	t, ok := m.tabs[id]
	delete(m.tabs, id)
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %d", ErrTabNotFound, id)
	}
	err := t.close()
	m.emit(Event{TabID: id, Kind: EventClosed, URL: t.URL()})
	return err
}

// forget drops a tab the browser closed on its own.
func (m *Manager) forget(id int) {
	m.mu.Lock()
	t, ok := m.tabs[id]
	delete(m.tabs, id)
	m.mu.Unlock()
	if ok {
		t.cancel()
		m.emit(Event{TabID: id, Kind: EventClosed, URL: t.URL()})
	}
}

// Subscribe registers fn for tab events. Callbacks run on their own
// goroutine and must not block for long.
func (m *Manager) Subscribe(fn func(Event)) (unsubscribe func()) {
	m.mu.Lock()
	m.nextSub++
	id := m.nextSub
	m.subs[id] = fn
	m.mu.Unlock()
	return func() {
		m.mu.Lock()
		delete(m.subs, id)
		m.mu.Unlock()
	}
}

func (m *Manager) emit(ev Event) {
	m.mu.Lock()
	subs := make([]func(Event), 0, len(m.subs))
	for _, fn := range m.subs {
		subs = append(subs, fn)
	}
	m.mu.Unlock()
	m.logger.Debug("Tab event", zap.Int("tab_id", ev.TabID), zap.Stringer("kind", ev.Kind), zap.String("url", ev.URL))
	for _, fn := range subs {
		go fn(ev)
	}
}

// Shutdown closes every tab and the browser.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	ids := make([]int, 0, len(m.tabs))
	for id := range m.tabs {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for _, id := range ids {
			if err := m.Close(id); err != nil {
				m.logger.Warn("Error closing tab during shutdown.", zap.Int("tab_id", id), zap.Error(err))
			}
		}
	}()
	select {
	case <-done:
	case <-ctx.Done():
		m.logger.Warn("Timeout waiting for tabs to close. Proceeding with forceful shutdown.", zap.Error(ctx.Err()))
	}

	if m.browserCancel != nil {
		m.browserCancel()
		m.allocCancel()
	}
	m.logger.Info("Browser manager shutdown complete.")
	return nil
}
