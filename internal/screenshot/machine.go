// internal/screenshot/machine.go
package screenshot

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/shotprep/internal/api"
	"github.com/xkilldash9x/shotprep/internal/config"
	"github.com/xkilldash9x/shotprep/internal/messaging"
	"github.com/xkilldash9x/shotprep/internal/store"
)

// API is the part of the analytics client the workflow uses.
type API interface {
	GetHeatmap(ctx context.Context, siteID, heatmapID int64) (*api.Heatmap, error)
	UpdateHeatmap(ctx context.Context, h *api.Heatmap) (*api.Heatmap, error)
	ResumeHeatmap(ctx context.Context, siteID, heatmapID int64) error
	WaitForScreenshotCapture(ctx context.Context, siteID, heatmapID int64, attempts int, delay time.Duration) (bool, error)
	ViewURL(ctx context.Context, siteID, heatmapID int64) (string, error)
}

var _ API = (*api.Client)(nil)

// ClientFactory builds an API client from the stored credentials. It returns
// api.ErrNoCredentials when none are usable.
type ClientFactory func(ctx context.Context) (API, error)

// Tabs is the browser surface the workflow needs.
type Tabs interface {
	TabExists(tabID int) bool
	OpenURL(ctx context.Context, url string) error
}

// Options configures a Machine.
type Options struct {
	Clients   ClientFactory
	Messenger messaging.Messenger
	Tabs      Tabs
	Store     store.KV
	Config    config.CaptureConfig
	Logger    *zap.Logger
	Now       func() time.Time
}

// Status is a point-in-time view of the machine.
type Status struct {
	Step       Step      `json:"step"`
	Processing bool      `json:"processing"`
	HeatmapID  int64     `json:"heatmapId,omitempty"`
	SiteID     int64     `json:"siteId,omitempty"`
	TabID      int       `json:"tabId,omitempty"`
	StartTime  time.Time `json:"startTime,omitempty"`
	Error      string    `json:"error,omitempty"`
	RetryCount int       `json:"retryCount,omitempty"`
}

// Machine runs one capture workflow at a time and checkpoints every
// transition so a restarted process can pick it up.
type Machine struct {
	clients   ClientFactory
	messenger messaging.Messenger
	tabs      Tabs
	kv        store.KV
	cfg       config.CaptureConfig
	logger    *zap.Logger
	now       func() time.Time

	mu      sync.Mutex
	step    Step
	current *Context
	gen     uint64
	stop    context.CancelFunc
}

// New builds an idle machine. Call Rehydrate to pick up a checkpoint.
func New(opts Options) (*Machine, error) {
	if opts.Clients == nil || opts.Messenger == nil || opts.Tabs == nil || opts.Store == nil {
		return nil, fmt.Errorf("screenshot machine requires clients, messenger, tabs and store")
	}
	cfg := opts.Config
	if cfg.VerifyAttempts <= 0 {
		cfg.VerifyAttempts = 50
	}
	if cfg.VerifyInterval <= 0 {
		cfg.VerifyInterval = 300 * time.Millisecond
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = defaultStaleAfter
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Machine{
		clients:   opts.Clients,
		messenger: opts.Messenger,
		tabs:      opts.Tabs,
		kv:        opts.Store,
		cfg:       cfg,
		logger:    logger.Named("screenshot"),
		now:       now,
		step:      StepIdle,
	}, nil
}

// Status returns the current step and context.
func (m *Machine) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := Status{Step: m.step, Processing: m.step.Visible()}
	if c := m.current; c != nil {
		st.HeatmapID, st.SiteID, st.TabID = c.HeatmapID, c.SiteID, c.TabID
		st.StartTime, st.Error, st.RetryCount = c.StartTime, c.Error, c.RetryCount
	}
	return st
}

// Start runs a capture of target from validating until the machine is idle
// again or has failed. The machine must be idle.
func (m *Machine) Start(ctx context.Context, target Target) error {
	run, err := m.Begin(ctx, target)
	if err != nil {
		return err
	}
	return run()
}

// Begin claims the idle machine for target and returns the run to execute.
// The machine leaves idle before Begin returns, so a second Begin fails with
// ErrNotIdle even if the first run has not been executed yet.
func (m *Machine) Begin(ctx context.Context, target Target) (func() error, error) {
	if err := target.validate(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	if m.step != StepIdle {
		m.mu.Unlock()
		return nil, ErrNotIdle
	}
	m.current = &Context{Target: target, StartTime: m.now()}
	runCtx, gen := m.claim(ctx, StepValidating)
	m.mu.Unlock()

	m.logger.Info("Screenshot started",
		zap.Int64("heatmap_id", target.HeatmapID),
		zap.Int64("site_id", target.SiteID),
		zap.Int("tab_id", target.TabID))
	return func() error { return m.run(runCtx, gen, StepValidating) }, nil
}

// Retry re-runs a failed capture from validating.
func (m *Machine) Retry(ctx context.Context) error {
	run, err := m.BeginRetry(ctx)
	if err != nil {
		return err
	}
	return run()
}

// BeginRetry claims a failed machine for another attempt and returns the run.
func (m *Machine) BeginRetry(ctx context.Context) (func() error, error) {
	m.mu.Lock()
	if m.step != StepError || m.current == nil {
		m.mu.Unlock()
		return nil, ErrNotInError
	}
	if m.current.RetryCount >= m.cfg.MaxRetries {
		n := m.current.RetryCount
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: %d retries", ErrRetryLimit, n)
	}
	m.current.RetryCount++
	m.current.Error = ""
	n := m.current.RetryCount
	runCtx, gen := m.claim(ctx, StepValidating)
	m.mu.Unlock()

	m.logger.Info("Retrying screenshot", zap.Int("retry", n))
	return func() error { return m.run(runCtx, gen, StepValidating) }, nil
}

// Cancel stops the workflow from any state, restores the page best-effort
// and resets to idle.
func (m *Machine) Cancel(ctx context.Context) error {
	m.mu.Lock()
	c := m.current
	from := m.step
	m.gen++
	if m.stop != nil {
		m.stop()
		m.stop = nil
	}
	m.step = StepIdle
	m.current = nil
	m.mu.Unlock()

	if c != nil {
		m.logger.Info("Cancelling screenshot", zap.Stringer("from", from), zap.Int("tab_id", c.TabID))
		m.bestEffort(ctx, c.TabID, messaging.Restore{})
	}
	return m.persist(ctx, nil, StepIdle)
}

// CancelTab cancels the workflow if it is running against tabID.
func (m *Machine) CancelTab(ctx context.Context, tabID int) bool {
	m.mu.Lock()
	match := m.current != nil && m.current.TabID == tabID
	m.mu.Unlock()
	if !match {
		return false
	}
	if err := m.Cancel(ctx); err != nil {
		m.logger.Warn("Failed to clear progress after tab went away", zap.Error(err))
	}
	return true
}

// Rehydrate applies the persisted checkpoint. A resumed workflow runs to
// completion before Rehydrate returns.
func (m *Machine) Rehydrate(ctx context.Context) (Decision, error) {
	p, err := LoadProgress(ctx, m.kv)
	if err != nil {
		m.logger.Warn("Discarding unreadable screenshot progress", zap.Error(err))
		return Decision{Action: ResumeReset, Step: StepIdle, Reason: "unreadable checkpoint"}, m.persist(ctx, nil, StepIdle)
	}
	env := Env{Now: m.now(), StaleAfter: m.cfg.StaleAfter}
	if p != nil {
		env.TabExists = m.tabs.TabExists(p.TabID)
		if _, err := m.clients(ctx); err == nil {
			env.HasCredentials = true
		} else if !errors.Is(err, api.ErrNoCredentials) {
			m.logger.Warn("Could not build api client", zap.Error(err))
		}
	}
	d := DecideResume(p, env)
	if d.Action != ResumeNone {
		m.logger.Info("Screenshot progress found",
			zap.Stringer("action", d.Action),
			zap.Stringer("step", d.Step),
			zap.String("reason", d.Reason))
	}

	switch d.Action {
	case ResumeReset:
		return d, m.persist(ctx, nil, StepIdle)
	case ResumeCancel:
		m.mu.Lock()
		if m.step == StepIdle {
			m.current = p.context()
		}
		m.mu.Unlock()
		return d, m.Cancel(ctx)
	case ResumeRun:
		m.mu.Lock()
		if m.step != StepIdle {
			m.mu.Unlock()
			return d, ErrNotIdle
		}
		m.current = p.context()
		runCtx, gen := m.claim(ctx, d.Step)
		m.mu.Unlock()
		return d, m.run(runCtx, gen, d.Step)
	}
	return d, nil
}

// claim starts a new run generation at step. m.mu must be held.
func (m *Machine) claim(ctx context.Context, step Step) (context.Context, uint64) {
	m.gen++
	m.step = step
	runCtx, cancel := context.WithCancel(ctx)
	m.stop = cancel
	return runCtx, m.gen
}

func (m *Machine) release(gen uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.gen == gen && m.stop != nil {
		m.stop()
		m.stop = nil
	}
}

// enter moves the run to step and checkpoints it. It returns false when the
// run was superseded by Cancel.
func (m *Machine) enter(ctx context.Context, gen uint64, step Step) (Context, bool) {
	m.mu.Lock()
	if m.gen != gen || m.current == nil {
		m.mu.Unlock()
		return Context{}, false
	}
	m.step = step
	c := *m.current
	m.mu.Unlock()

	m.logger.Debug("Screenshot step", zap.Stringer("step", step), zap.Int64("heatmap_id", c.HeatmapID))
	if err := m.persist(ctx, &c, step); err != nil {
		m.logger.Error("Failed to persist screenshot progress", zap.Stringer("step", step), zap.Error(err))
	}
	return c, true
}

func (m *Machine) persist(ctx context.Context, c *Context, step Step) error {
	// Checkpoints survive a cancelled run context.
	return saveProgress(context.WithoutCancel(ctx), m.kv, c, step)
}

func (m *Machine) run(ctx context.Context, gen uint64, from Step) error {
	defer m.release(gen)

	var client API
	for step := from; step != StepIdle; step = step.next() {
		c, ok := m.enter(ctx, gen, step)
		if !ok {
			return ErrCancelled
		}
		if client == nil {
			var err error
			if client, err = m.clients(ctx); err != nil {
				return m.fail(ctx, gen, c, fmt.Errorf("failed to create api client: %w", err))
			}
		}
		if err := m.execute(ctx, client, c, step); err != nil {
			return m.fail(ctx, gen, c, err)
		}
	}

	m.mu.Lock()
	if m.gen != gen {
		m.mu.Unlock()
		return ErrCancelled
	}
	m.step = StepIdle
	m.current = nil
	m.mu.Unlock()
	if err := m.persist(ctx, nil, StepIdle); err != nil {
		m.logger.Error("Failed to clear screenshot progress", zap.Error(err))
	}
	return nil
}

func (m *Machine) fail(ctx context.Context, gen uint64, c Context, cause error) error {
	m.mu.Lock()
	if m.gen != gen {
		m.mu.Unlock()
		return ErrCancelled
	}
	m.step = StepError
	m.current.Error = cause.Error()
	failed := *m.current
	m.mu.Unlock()

	m.logger.Error("Screenshot failed", zap.Int64("heatmap_id", c.HeatmapID), zap.Error(cause))
	if err := m.persist(ctx, &failed, StepError); err != nil {
		m.logger.Error("Failed to persist screenshot progress", zap.Stringer("step", StepError), zap.Error(err))
	}
	m.bestEffort(context.WithoutCancel(ctx), c.TabID, messaging.HideScanner{})
	return cause
}

func (m *Machine) execute(ctx context.Context, client API, c Context, step Step) error {
	switch step {
	case StepValidating:
		return m.validate(ctx, client, c)
	case StepExpanding:
		return m.expand(ctx, c)
	case StepCapturing:
		return m.capture(ctx, c)
	case StepVerifying:
		return m.verify(ctx, client, c)
	case StepRestoring:
		m.bestEffort(ctx, c.TabID, messaging.Restore{})
		return nil
	case StepComplete:
		m.complete(ctx, client, c)
		return nil
	}
	return fmt.Errorf("unexpected step %q", step)
}

// send delivers req to the tab and folds an unsuccessful response into the
// error.
func (m *Machine) send(ctx context.Context, tabID int, req messaging.Request) (messaging.Response, error) {
	resp, err := m.messenger.Send(ctx, tabID, req)
	if err != nil {
		return resp, err
	}
	return resp, resp.Err()
}

func (m *Machine) bestEffort(ctx context.Context, tabID int, req messaging.Request) {
	if _, err := m.send(ctx, tabID, req); err != nil {
		m.logger.Warn("Page request failed", zap.String("action", string(req.Action())), zap.Int("tab_id", tabID), zap.Error(err))
	}
}
