// File: internal/screenshot/state.go
package screenshot

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/xkilldash9x/shotprep/internal/store"
)

var (
	// ErrNotIdle is returned by Start while another capture is in flight.
	ErrNotIdle = errors.New("a screenshot is already in progress")
	// ErrRetryLimit is returned by Retry once the retry budget is spent.
	ErrRetryLimit = errors.New("screenshot retry limit reached")
	// ErrNotInError is returned by Retry when there is nothing to retry.
	ErrNotInError = errors.New("screenshot is not in the error state")
	// ErrVerifyTimeout means the API never confirmed the screenshot.
	ErrVerifyTimeout = errors.New("screenshot was not confirmed in time")
	// ErrCancelled is returned by a run that was cancelled underneath.
	ErrCancelled = errors.New("screenshot cancelled")
)

// Step is a state of the capture workflow.
type Step string

const (
	StepIdle       Step = "idle"
	StepValidating Step = "validating"
	StepExpanding  Step = "expanding"
	StepCapturing  Step = "capturing"
	StepVerifying  Step = "verifying"
	StepRestoring  Step = "restoring"
	StepComplete   Step = "complete"
	StepError      Step = "error"
)

func (s Step) String() string { return string(s) }

// Visible reports whether the step is persisted as in-flight progress.
func (s Step) Visible() bool {
	switch s {
	case StepValidating, StepExpanding, StepCapturing, StepVerifying:
		return true
	}
	return false
}

func (s Step) next() Step {
	switch s {
	case StepValidating:
		return StepExpanding
	case StepExpanding:
		return StepCapturing
	case StepCapturing:
		return StepVerifying
	case StepVerifying:
		return StepRestoring
	case StepRestoring:
		return StepComplete
	}
	return StepIdle
}

// Store keys of the persisted progress.
const (
	KeyProgress       = "screenshotInProgress"
	KeyIsProcessing   = "isProcessing"
	KeyProcessingStep = "processingStep"
)

// Target identifies what to capture and where.
type Target struct {
	HeatmapID int64 `json:"heatmapId"`
	SiteID    int64 `json:"siteId"`
	TabID     int   `json:"tabId"`
}

func (t Target) validate() error {
	if t.HeatmapID <= 0 || t.SiteID <= 0 {
		return fmt.Errorf("heatmap and site ids are required")
	}
	if t.TabID <= 0 {
		return fmt.Errorf("tab id is required")
	}
	return nil
}

// Context is the in-flight capture.
type Context struct {
	Target
	StartTime  time.Time
	Error      string
	RetryCount int
}

// Progress is the persisted checkpoint of a capture.
type Progress struct {
	HeatmapID  int64     `json:"heatmapId"`
	TabID      int       `json:"tabId"`
	SiteID     int64     `json:"siteId"`
	Step       Step      `json:"step"`
	StartTime  time.Time `json:"startTime"`
	Error      string    `json:"error,omitempty"`
	RetryCount int       `json:"retryCount,omitempty"`
}

func progressOf(c *Context, step Step) Progress {
	return Progress{
		HeatmapID:  c.HeatmapID,
		TabID:      c.TabID,
		SiteID:     c.SiteID,
		Step:       step,
		StartTime:  c.StartTime,
		Error:      c.Error,
		RetryCount: c.RetryCount,
	}
}

func (p Progress) context() *Context {
	return &Context{
		Target:     Target{HeatmapID: p.HeatmapID, SiteID: p.SiteID, TabID: p.TabID},
		StartTime:  p.StartTime,
		Error:      p.Error,
		RetryCount: p.RetryCount,
	}
}

// LoadProgress reads the checkpoint. A missing record yields (nil, nil).
func LoadProgress(ctx context.Context, kv store.KV) (*Progress, error) {
	var p Progress
	if err := store.GetJSON(ctx, kv, KeyProgress, &p); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &p, nil
}

// saveProgress writes the checkpoint for visible steps and clears it
// otherwise. The flat flags always follow the record.
func saveProgress(ctx context.Context, kv store.KV, c *Context, step Step) error {
	if c == nil || !step.Visible() {
		if err := kv.Delete(ctx, KeyProgress); err != nil && !errors.Is(err, store.ErrNotFound) {
			return err
		}
		if err := store.SetJSON(ctx, kv, KeyIsProcessing, false); err != nil {
			return err
		}
		return store.SetJSON(ctx, kv, KeyProcessingStep, nil)
	}
	if err := store.SetJSON(ctx, kv, KeyProgress, progressOf(c, step)); err != nil {
		return err
	}
	if err := store.SetJSON(ctx, kv, KeyIsProcessing, true); err != nil {
		return err
	}
	return store.SetJSON(ctx, kv, KeyProcessingStep, step)
}

// ResumeAction is what to do with a persisted checkpoint.
type ResumeAction int

const (
	// ResumeNone means nothing was persisted.
	ResumeNone ResumeAction = iota
	// ResumeReset discards the checkpoint.
	ResumeReset
	// ResumeCancel cleans up the page and discards the checkpoint.
	ResumeCancel
	// ResumeRun continues the workflow at Decision.Step.
	ResumeRun
)

func (a ResumeAction) String() string {
	switch a {
	case ResumeNone:
		return "none"
	case ResumeReset:
		return "reset"
	case ResumeCancel:
		return "cancel"
	case ResumeRun:
		return "resume"
	}
	return "unknown"
}

// Env is what the process knows when it starts up.
type Env struct {
	Now            time.Time
	StaleAfter     time.Duration
	TabExists      bool
	HasCredentials bool
}

// Decision is the outcome of DecideResume.
type Decision struct {
	Action ResumeAction
	Step   Step
	Reason string
}

const defaultStaleAfter = 5 * time.Minute

// DecideResume maps a checkpoint and the current environment to the
// machine's first move. Steps whose page side effect may be half done
// (expanding, capturing) resume at verifying so the capture is never
// triggered twice.
func DecideResume(p *Progress, env Env) Decision {
	if p == nil {
		return Decision{Action: ResumeNone, Step: StepIdle}
	}
	if !p.Step.Visible() {
		return Decision{Action: ResumeReset, Step: StepIdle, Reason: fmt.Sprintf("step %q is not resumable", p.Step)}
	}
	stale := env.StaleAfter
	if stale <= 0 {
		stale = defaultStaleAfter
	}
	if env.Now.Sub(p.StartTime) > stale {
		return Decision{Action: ResumeReset, Step: StepIdle, Reason: "checkpoint is stale"}
	}
	if !env.TabExists {
		return Decision{Action: ResumeCancel, Step: StepIdle, Reason: "tab no longer exists"}
	}
	if !env.HasCredentials {
		return Decision{Action: ResumeCancel, Step: StepIdle, Reason: "no api credentials"}
	}
	switch p.Step {
	case StepExpanding, StepCapturing:
		return Decision{Action: ResumeRun, Step: StepVerifying, Reason: "verify instead of repeating a page side effect"}
	}
	return Decision{Action: ResumeRun, Step: p.Step}
}
