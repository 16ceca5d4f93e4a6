package screenshot

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDecideResume(t *testing.T) {
	now := time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC)
	ready := Env{Now: now, TabExists: true, HasCredentials: true}
	at := func(step Step, age time.Duration) *Progress {
		return &Progress{HeatmapID: 42, SiteID: 3, TabID: 7, Step: step, StartTime: now.Add(-age)}
	}

	tests := []struct {
		name   string
		p      *Progress
		env    Env
		action ResumeAction
		step   Step
	}{
		{"nothing persisted", nil, ready, ResumeNone, StepIdle},
		{"stale", at(StepVerifying, 5*time.Minute+time.Second), ready, ResumeReset, StepIdle},
		{"exactly at the threshold", at(StepVerifying, 5*time.Minute), ready, ResumeRun, StepVerifying},
		{"stale wins over a closed tab", at(StepCapturing, time.Hour), Env{Now: now}, ResumeReset, StepIdle},
		{"tab gone", at(StepVerifying, time.Minute), Env{Now: now, HasCredentials: true}, ResumeCancel, StepIdle},
		{"no credentials", at(StepVerifying, time.Minute), Env{Now: now, TabExists: true}, ResumeCancel, StepIdle},
		{"validating re-runs", at(StepValidating, time.Minute), ready, ResumeRun, StepValidating},
		{"expanding jumps to verifying", at(StepExpanding, time.Minute), ready, ResumeRun, StepVerifying},
		{"capturing jumps to verifying", at(StepCapturing, time.Minute), ready, ResumeRun, StepVerifying},
		{"verifying re-runs", at(StepVerifying, time.Minute), ready, ResumeRun, StepVerifying},
		{"non-progress step", at(StepRestoring, time.Minute), ready, ResumeReset, StepIdle},
		{"custom staleness", at(StepVerifying, 2*time.Minute), Env{Now: now, StaleAfter: time.Minute, TabExists: true, HasCredentials: true}, ResumeReset, StepIdle},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := DecideResume(tt.p, tt.env)
			assert.Equal(t, tt.action, d.Action, d.Reason)
			assert.Equal(t, tt.step, d.Step)
		})
	}
}

func TestStepVisibility(t *testing.T) {
	for _, s := range []Step{StepValidating, StepExpanding, StepCapturing, StepVerifying} {
		assert.True(t, s.Visible(), s)
	}
	for _, s := range []Step{StepIdle, StepRestoring, StepComplete, StepError} {
		assert.False(t, s.Visible(), s)
	}
	assert.Equal(t, StepIdle, StepComplete.next())
	assert.Equal(t, "resume", ResumeRun.String())
}
