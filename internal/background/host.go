package background

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/xkilldash9x/shotprep/internal/api"
	"github.com/xkilldash9x/shotprep/internal/browser/session"
	"github.com/xkilldash9x/shotprep/internal/config"
	"github.com/xkilldash9x/shotprep/internal/fetch"
	"github.com/xkilldash9x/shotprep/internal/screenshot"
)

const heatmapCacheTTL = 60 * time.Second

// ErrBadRequest marks requests rejected before any work is done.
var ErrBadRequest = errors.New("bad request")

// Directory is the part of the analytics client used outside the capture
// workflow.
type Directory interface {
	ListHeatmaps(ctx context.Context, siteID int64) ([]api.Heatmap, error)
	ResolveSite(ctx context.Context, pageURL string) (*api.Site, error)
}

// Browser opens tabs for the host.
type Browser interface {
	screenshot.Tabs
	// OpenPage opens url with a page agent attached and returns the tab id.
	OpenPage(ctx context.Context, url string) (int, error)
	// CloseTab closes a tab opened by OpenPage.
	CloseTab(tabID int) error
}

// Fetcher downloads resources on behalf of pages.
type Fetcher interface {
	FetchResources(ctx context.Context, reqs []fetch.ResourceRequest) (*fetch.BatchResult, error)
	FetchCSSText(ctx context.Context, urls []string) ([]fetch.CSSTextResult, error)
}

// Machine is the capture workflow the host drives.
type Machine interface {
	Begin(ctx context.Context, target screenshot.Target) (func() error, error)
	BeginRetry(ctx context.Context) (func() error, error)
	Cancel(ctx context.Context) error
	CancelTab(ctx context.Context, tabID int) bool
	Status() screenshot.Status
}

var _ Machine = (*screenshot.Machine)(nil)

// Options configures a Host.
type Options struct {
	Machine   Machine
	Directory func(ctx context.Context) (Directory, error)
	Browser   Browser
	Fetcher   Fetcher
	Capture   config.CaptureConfig
	Logger    *zap.Logger
	Now       func() time.Time
}

type cachedHeatmaps struct {
	heatmaps  []api.Heatmap
	fetchedAt time.Time
}

// Host serves the background actions. Captures run on their own goroutine;
// Close waits for them.
type Host struct {
	machine   Machine
	directory func(ctx context.Context) (Directory, error)
	browser   Browser
	fetcher   Fetcher
	capture   config.CaptureConfig
	logger    *zap.Logger
	now       func() time.Time

	cacheMu sync.Mutex
	cache   map[int64]cachedHeatmaps
	flight  singleflight.Group

	runs sync.WaitGroup
}

// NewHost creates a host.
func NewHost(opts Options) (*Host, error) {
	if opts.Machine == nil || opts.Directory == nil || opts.Browser == nil || opts.Fetcher == nil {
		return nil, fmt.Errorf("background host requires machine, directory, browser and fetcher")
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Host{
		machine:   opts.Machine,
		directory: opts.Directory,
		browser:   opts.Browser,
		fetcher:   opts.Fetcher,
		capture:   opts.Capture,
		logger:    logger.Named("background"),
		now:       now,
		cache:     make(map[int64]cachedHeatmaps),
	}, nil
}

// Dispatch handles one background request. The returned value is a Reply,
// CORSReply or CSSTextReply.
func (h *Host) Dispatch(ctx context.Context, req Request) (any, error) {
	switch r := req.(type) {
	case ExecuteScreenshot:
		return h.executeScreenshot(ctx, r)
	case RetryScreenshot:
		return h.retryScreenshot()
	case CancelScreenshot:
		if err := h.machine.Cancel(ctx); err != nil {
			return nil, err
		}
		return h.status(), nil
	case FetchHeatmaps:
		return h.fetchHeatmaps(ctx, r)
	case ResolveSite:
		return h.resolveSite(ctx, r)
	case OpenSettings:
		return h.open(ctx, h.capture.SettingsURL, "settings")
	case OpenBugReport:
		return h.open(ctx, h.capture.BugReportURL, "bug report")
	case FetchCORSResources:
		res, err := h.fetcher.FetchResources(ctx, r.Requests)
		if err != nil {
			return nil, err
		}
		return CORSReply{Success: true, CORSResults: res.Results, TotalSizeBytes: res.TotalSizeBytes}, nil
	case FetchCSSText:
		res, err := h.fetcher.FetchCSSText(ctx, r.URLs)
		if err != nil {
			return nil, err
		}
		return CSSTextReply{Success: true, CSSTextResults: res}, nil
	}
	return nil, fmt.Errorf("%w: unknown action %T", ErrBadRequest, req)
}

func (h *Host) status() Reply {
	st := h.machine.Status()
	return Reply{Success: true, Screenshot: &st}
}

func (h *Host) executeScreenshot(ctx context.Context, r ExecuteScreenshot) (any, error) {
	if r.HeatmapID <= 0 || r.SiteID <= 0 {
		return nil, fmt.Errorf("%w: heatmapId and siteId are required", ErrBadRequest)
	}
	if r.TabID <= 0 && r.URL == "" {
		return nil, fmt.Errorf("%w: tabId or url is required", ErrBadRequest)
	}
	if st := h.machine.Status(); st.Step != screenshot.StepIdle {
		return nil, screenshot.ErrNotIdle
	}

	tabID, opened := r.TabID, false
	if tabID <= 0 {
		id, err := h.browser.OpenPage(ctx, r.URL)
		if err != nil {
			return nil, fmt.Errorf("failed to open %s: %w", r.URL, err)
		}
		tabID, opened = id, true
	} else if !h.browser.TabExists(tabID) {
		return nil, fmt.Errorf("%w: tab %d is not open", ErrBadRequest, tabID)
	}

	target := screenshot.Target{HeatmapID: r.HeatmapID, SiteID: r.SiteID, TabID: tabID}
	run, err := h.machine.Begin(context.WithoutCancel(ctx), target)
	if err != nil {
		if opened {
			if cerr := h.browser.CloseTab(tabID); cerr != nil {
				h.logger.Warn("Failed to close tab for rejected capture", zap.Int("tab_id", tabID), zap.Error(cerr))
			}
		}
		return nil, err
	}
	h.goRun("start", run)
	reply := h.status()
	reply.TabID = tabID
	return reply, nil
}

func (h *Host) retryScreenshot() (any, error) {
	st := h.machine.Status()
	if st.Step != screenshot.StepError {
		return nil, screenshot.ErrNotInError
	}
	if st.RetryCount >= h.capture.MaxRetries && h.capture.MaxRetries > 0 {
		return nil, fmt.Errorf("%w: %d retries", screenshot.ErrRetryLimit, st.RetryCount)
	}
	run, err := h.machine.BeginRetry(context.Background())
	if err != nil {
		return nil, err
	}
	h.goRun("retry", run)
	return h.status(), nil
}

// goRun executes a claimed workflow run on its own goroutine.
func (h *Host) goRun(what string, run func() error) {
	h.runs.Add(1)
	go func() {
		defer h.runs.Done()
		if err := run(); err != nil && !errors.Is(err, screenshot.ErrCancelled) {
			h.logger.Warn("Screenshot run ended with error", zap.String("run", what), zap.Error(err))
		}
	}()
}

func (h *Host) fetchHeatmaps(ctx context.Context, r FetchHeatmaps) (any, error) {
	if r.SiteID <= 0 {
		return nil, fmt.Errorf("%w: siteId is required", ErrBadRequest)
	}
	if !r.ForceRefresh {
		h.cacheMu.Lock()
		entry, ok := h.cache[r.SiteID]
		h.cacheMu.Unlock()
		if ok && h.now().Sub(entry.fetchedAt) < heatmapCacheTTL {
			return Reply{Success: true, Heatmaps: entry.heatmaps, Cached: true}, nil
		}
	}

	v, err, _ := h.flight.Do(strconv.FormatInt(r.SiteID, 10), func() (interface{}, error) {
		dir, err := h.directory(ctx)
		if err != nil {
			return nil, err
		}
		list, err := dir.ListHeatmaps(ctx, r.SiteID)
		if err != nil {
			return nil, err
		}
		h.cacheMu.Lock()
		h.cache[r.SiteID] = cachedHeatmaps{heatmaps: list, fetchedAt: h.now()}
		h.cacheMu.Unlock()
		return list, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list heatmaps for site %d: %w", r.SiteID, err)
	}
	return Reply{Success: true, Heatmaps: v.([]api.Heatmap)}, nil
}

func (h *Host) resolveSite(ctx context.Context, r ResolveSite) (any, error) {
	if r.URL == "" {
		return nil, fmt.Errorf("%w: url is required", ErrBadRequest)
	}
	dir, err := h.directory(ctx)
	if err != nil {
		return nil, err
	}
	site, err := dir.ResolveSite(ctx, r.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve site for %s: %w", r.URL, err)
	}
	return Reply{Success: true, Site: site}, nil
}

func (h *Host) open(ctx context.Context, target, what string) (any, error) {
	if target == "" {
		return nil, fmt.Errorf("no %s url configured", what)
	}
	if err := h.browser.OpenURL(ctx, target); err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", what, err)
	}
	return Reply{Success: true}, nil
}

// OnTabEvent cancels the capture when its tab navigates away or closes.
func (h *Host) OnTabEvent(ev session.Event) {
	if h.machine.CancelTab(context.Background(), ev.TabID) {
		h.logger.Info("Screenshot cancelled by tab event", zap.Int("tab_id", ev.TabID), zap.Stringer("event", ev.Kind))
	}
}

// Close waits for running captures to return.
func (h *Host) Close(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		h.runs.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
