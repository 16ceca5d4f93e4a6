// cmd/runtime.go
package cmd

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/shotprep/internal/background"
	"github.com/xkilldash9x/shotprep/internal/browser/session"
	"github.com/xkilldash9x/shotprep/internal/config"
	"github.com/xkilldash9x/shotprep/internal/fetch"
	"github.com/xkilldash9x/shotprep/internal/messaging"
	"github.com/xkilldash9x/shotprep/internal/screenshot"
	"github.com/xkilldash9x/shotprep/internal/store"
)

const teardownTimeout = 15 * time.Second

// runtime holds the collaborators shared by serve and capture.
type runtime struct {
	cfg     *config.Config
	logger  *zap.Logger
	kv      store.Closer
	manager *session.Manager
	router  *messaging.Router
	fetcher *fetch.Fetcher
	clients *background.CredentialClients
	browser *background.SessionBrowser
	machine *screenshot.Machine
}

// newRuntime opens the store and the browser and builds the screenshot machine.
// tabs overrides the machine's tab collaborator when non-nil.
func newRuntime(ctx context.Context, cfg *config.Config, logger *zap.Logger, tabs func(*background.SessionBrowser) screenshot.Tabs) (*runtime, error) {
	kv, err := openStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	rt := &runtime{
		cfg:     cfg,
		logger:  logger,
		kv:      kv,
		manager: session.NewManager(cfg.Browser(), logger),
		router:  messaging.NewRouter(logger),
		fetcher: fetch.New(cfg.Fetch(), logger),
	}
	rt.clients = background.NewCredentialClients(kv, cfg.API(), nil, logger)
	rt.browser = background.NewSessionBrowser(rt.manager, rt.router, rt.fetcher, rt.clients, logger)

	var machineTabs screenshot.Tabs = rt.browser
	if tabs != nil {
		machineTabs = tabs(rt.browser)
	}
	rt.machine, err = screenshot.New(screenshot.Options{
		Clients:   rt.clients.Screenshot,
		Messenger: rt.router,
		Tabs:      machineTabs,
		Store:     kv,
		Config:    cfg.Capture(),
		Logger:    logger,
	})
	if err != nil {
		rt.close()
		return nil, fmt.Errorf("failed to create screenshot machine: %w", err)
	}
	return rt, nil
}

// close tears the runtime down in reverse order of construction.
func (rt *runtime) close() {
	ctx, cancel := context.WithTimeout(context.Background(), teardownTimeout)
	defer cancel()

	rt.browser.Close(ctx)
	if err := rt.manager.Shutdown(ctx); err != nil {
		rt.logger.Warn("Browser shutdown failed", zap.Error(err))
	}
	closeStore(rt.kv, rt.logger)
}
