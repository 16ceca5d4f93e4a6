// internal/background/browser.go
package background

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/shotprep/internal/browser/session"
	"github.com/xkilldash9x/shotprep/internal/fetch"
	"github.com/xkilldash9x/shotprep/internal/messaging"
	"github.com/xkilldash9x/shotprep/internal/page"
)

const attachTimeout = 30 * time.Second

type attachedAgent struct {
	agent      *page.Agent
	unregister func()
}

// SessionBrowser opens tabs in the managed browser and attaches a page agent
// to each page tab. Tabs connected over the bridge count as open too.
type SessionBrowser struct {
	manager   *session.Manager
	router    *messaging.Router
	fetcher   *fetch.Fetcher
	submitter page.Submitter
	logger    *zap.Logger

	mu          sync.Mutex
	agents      map[int]*attachedAgent
	unsubscribe func()
}

var _ Browser = (*SessionBrowser)(nil)

// NewSessionBrowser wires manager tabs into router.
func NewSessionBrowser(manager *session.Manager, router *messaging.Router, fetcher *fetch.Fetcher, submitter page.Submitter, logger *zap.Logger) *SessionBrowser {
	if logger == nil {
		logger = zap.NewNop()
	}
	b := &SessionBrowser{
		manager:   manager,
		router:    router,
		fetcher:   fetcher,
		submitter: submitter,
		logger:    logger.Named("session_browser"),
		agents:    make(map[int]*attachedAgent),
	}
	b.unsubscribe = manager.Subscribe(b.onEvent)
	return b
}

// TabExists reports whether the tab is open in the browser or connected over
// the bridge.
func (b *SessionBrowser) TabExists(tabID int) bool {
	return b.manager.TabExists(tabID) || b.router.Has(tabID)
}

// OpenURL opens a plain tab.
func (b *SessionBrowser) OpenURL(ctx context.Context, url string) error {
	_, err := b.manager.Open(ctx, url)
	return err
}

// OpenPage opens url and attaches a page agent to the tab.
func (b *SessionBrowser) OpenPage(ctx context.Context, url string) (int, error) {
	tab, err := b.manager.Open(ctx, url)
	if err != nil {
		return 0, err
	}
	if err := b.attach(ctx, tab); err != nil {
		if cerr := b.manager.Close(tab.ID()); cerr != nil {
			b.logger.Warn("Failed to close tab after attach failure", zap.Int("tab_id", tab.ID()), zap.Error(cerr))
		}
		return 0, err
	}
	return tab.ID(), nil
}

// CloseTab detaches the tab's agent and closes the tab.
func (b *SessionBrowser) CloseTab(tabID int) error {
	b.detach(tabID)
	return b.manager.Close(tabID)
}

func (b *SessionBrowser) attach(ctx context.Context, tab *session.Tab) error {
	doc, err := tab.Document(ctx)
	if err != nil {
		return err
	}
	pipeline, set, err := page.NewPipeline(b.fetcher, b.logger)
	if err != nil {
		return err
	}
	agent, err := page.New(doc, page.Options{
		Pipeline:  pipeline,
		Globals:   set,
		Submitter: b.submitter,
		Mirror:    tab,
		Logger:    b.logger,
	})
	if err != nil {
		return fmt.Errorf("failed to create page agent: %w", err)
	}
	unregister := b.router.Register(tab.ID(), agent)

	b.mu.Lock()
	prev := b.agents[tab.ID()]
	b.agents[tab.ID()] = &attachedAgent{agent: agent, unregister: unregister}
	b.mu.Unlock()
	if prev != nil {
		prev.unregister()
	}
	b.logger.Debug("Page agent attached", zap.Int("tab_id", tab.ID()), zap.String("url", tab.URL()))
	return nil
}

func (b *SessionBrowser) detach(tabID int) *attachedAgent {
	b.mu.Lock()
	a := b.agents[tabID]
	delete(b.agents, tabID)
	b.mu.Unlock()
	if a != nil {
		a.unregister()
	}
	return a
}

// onEvent keeps agents in step with their tabs. A navigated tab gets a fresh
// agent for the new document.
func (b *SessionBrowser) onEvent(ev session.Event) {
	switch ev.Kind {
	case session.EventClosed:
		b.detach(ev.TabID)
	case session.EventNavigated:
		if b.detach(ev.TabID) == nil {
			return
		}
		tab, ok := b.manager.Tab(ev.TabID)
		if !ok {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), attachTimeout)
		defer cancel()
		if err := b.attach(ctx, tab); err != nil {
			b.logger.Warn("Failed to re-attach page agent", zap.Int("tab_id", ev.TabID), zap.Error(err))
		}
	}
}

// Close restores and detaches every agent.
func (b *SessionBrowser) Close(ctx context.Context) {
	b.unsubscribe()
	b.mu.Lock()
	ids := make([]int, 0, len(b.agents))
	for id := range b.agents {
		ids = append(ids, id)
	}
	b.mu.Unlock()
	for _, id := range ids {
		if a := b.detach(id); a != nil {
			a.agent.Close(ctx)
		}
	}
}
