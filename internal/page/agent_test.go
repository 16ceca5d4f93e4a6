// internal/page/agent_test.go
package page

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/shotprep/internal/api"
	"github.com/xkilldash9x/shotprep/internal/browser/dom"
	"github.com/xkilldash9x/shotprep/internal/fixer/rules"
	"github.com/xkilldash9x/shotprep/internal/messaging"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const pageURL = "https://shop.example.com/catalog/index.html"

const shopHTML = `<html><head><title>Shop</title></head><body>
<header id="top" data-shotprep-idx="0" style="position: fixed; top: 0">Nav</header>
<div id="feed" data-shotprep-idx="1">Items</div>
<iframe id="frame" data-shotprep-idx="2" src="https://ads.example.net/unit"></iframe>
<p id="plain">Hello</p>
<img id="logo" src="/img/logo.png">
</body></html>`

func shopSnapshot() *dom.Snapshot {
	return &dom.Snapshot{Elements: []dom.ElementSnapshot{
		{Index: 0, ScrollHeight: 64, ClientHeight: 64, Rect: dom.Rect{Width: 1366, Height: 64}},
		{Index: 1, ScrollHeight: 2400, ClientHeight: 300, Rect: dom.Rect{Width: 1366, Height: 300}},
		{Index: 2, ScrollHeight: 150, ClientHeight: 150},
	}}
}

type mockSubmitter struct{ mock.Mock }

func (m *mockSubmitter) SubmitSnapshot(ctx context.Context, siteID, heatmapID int64, snap api.Snapshot) error {
	return m.Called(ctx, siteID, heatmapID, snap).Error(0)
}

type mockMirror struct{ mock.Mock }

func (m *mockMirror) ShowOverlay(ctx context.Context, id, markup string) error {
	return m.Called(ctx, id, markup).Error(0)
}

func (m *mockMirror) RemoveOverlay(ctx context.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}

func newAgent(t *testing.T, opts Options) *Agent {
	t.Helper()
	doc, err := dom.ParseString(shopHTML, pageURL, dom.WithSnapshot(shopSnapshot()), dom.WithViewport(1366, 768))
	require.NoError(t, err)

	pipeline, set, err := NewPipeline(nil, zaptest.NewLogger(t))
	require.NoError(t, err)
	opts.Pipeline = pipeline
	opts.Globals = set
	opts.Logger = zaptest.NewLogger(t)
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Date(2026, 5, 1, 9, 30, 0, 0, time.UTC) }
	}
	a, err := New(doc, opts)
	require.NoError(t, err)
	return a
}

func send(t *testing.T, a *Agent, req messaging.Request) messaging.Response {
	t.Helper()
	return a.Handle(context.Background(), req)
}

func TestNewValidation(t *testing.T) {
	_, err := New(nil, Options{})
	assert.Error(t, err)
	doc, err := dom.ParseString("<p>x</p>", pageURL)
	require.NoError(t, err)
	_, err = New(doc, Options{})
	assert.ErrorContains(t, err, "fixer pipeline")
}

func TestCandidates(t *testing.T) {
	a := newAgent(t, Options{})
	cands, reasons := a.candidates()

	byID := map[string]string{}
	for _, el := range cands {
		byID[el.ID()] = reasons[el]
	}
	assert.Equal(t, map[string]string{
		"top":   reasonHeader,
		"feed":  reasonScroll,
		"frame": reasonIframe,
	}, byID)
}

func TestExpandAndRestore(t *testing.T) {
	a := newAgent(t, Options{})
	before := a.Document().HTML()

	resp := send(t, a, messaging.ExpandElements{})
	require.True(t, resp.Success, resp.Error)
	assert.Equal(t, 3, resp.Count)

	doc := a.Document()
	feed, _ := doc.QuerySelector("#feed")
	assert.Equal(t, "2400px !important", feed.StyleProperty("height"))
	frame, _ := doc.QuerySelector("#frame")
	assert.Equal(t, "800px !important", frame.StyleProperty("height"))
	top, _ := doc.QuerySelector("#top")
	assert.Equal(t, "relative !important", top.StyleProperty("position"))
	logo, _ := doc.QuerySelector("#logo")
	assert.Equal(t, "https://shop.example.com/img/logo.png", logo.GetAttr("src"))
	placeholders, err := doc.QuerySelectorAll("[" + rules.PlaceholderAttr + "]")
	require.NoError(t, err)
	assert.Len(t, placeholders, 1)

	st := send(t, a, messaging.GetStatus{}).Status
	require.NotNil(t, st)
	assert.True(t, st.Expanded)
	assert.True(t, st.FixesActive)
	assert.Equal(t, 3, st.ExpandedCount)
	assert.Equal(t, pageURL, st.URL)

	expanded := doc.HTML()
	resp = send(t, a, messaging.ExpandElements{})
	require.True(t, resp.Success)
	assert.Equal(t, 3, resp.Count)
	assert.Equal(t, expanded, doc.HTML(), "expanding twice applies the same fixes once")

	resp = send(t, a, messaging.Restore{})
	require.True(t, resp.Success)
	assert.Equal(t, 6, resp.Count)
	assert.Equal(t, before, doc.HTML())

	st = send(t, a, messaging.GetStatus{}).Status
	assert.False(t, st.Expanded)
	assert.False(t, st.FixesActive)

	resp = send(t, a, messaging.Restore{})
	assert.True(t, resp.Success)
	assert.Zero(t, resp.Count)
}

func TestLocks(t *testing.T) {
	a := newAgent(t, Options{})
	doc := a.Document()
	before := doc.HTML()

	assert.False(t, send(t, a, messaging.LockElement{Selector: "#missing"}).Success)
	assert.False(t, send(t, a, messaging.LockElement{Selector: "  "}).Success)
	assert.False(t, send(t, a, messaging.UnlockElement{Selector: "#plain"}).Success)

	require.True(t, send(t, a, messaging.LockElement{Selector: "#plain"}).Success)
	require.True(t, send(t, a, messaging.LockElement{Selector: "#plain"}).Success)

	locked := send(t, a, messaging.GetLockedElements{}).Locked
	require.Len(t, locked, 1)
	assert.Equal(t, "#plain", locked[0].Selector)
	assert.Equal(t, time.Date(2026, 5, 1, 9, 30, 0, 0, time.UTC), locked[0].LockedAt)
	assert.Contains(t, doc.HTML(), badgeAttr)
	assert.Equal(t, 1, send(t, a, messaging.GetStatus{}).Status.LockedCount)

	_, reasons := a.candidates()
	plain, _ := doc.QuerySelector("#plain")
	assert.Equal(t, reasonLocked, reasons[plain])

	clean := a.HTML()
	assert.NotContains(t, clean, badgeAttr)
	assert.NotContains(t, clean, lockedAttr)
	assert.Equal(t, before, clean)
	assert.Contains(t, doc.HTML(), badgeAttr, "decorations are back after serialization")

	require.True(t, send(t, a, messaging.UnlockElement{Selector: "#plain"}).Success)
	assert.Empty(t, send(t, a, messaging.GetLockedElements{}).Locked)
	assert.Equal(t, before, doc.HTML())
}

func TestOverlaysMirrored(t *testing.T) {
	mirror := &mockMirror{}
	isScanner := mock.MatchedBy(func(s string) bool { return strings.Contains(s, `data-shotprep-overlay="scanner"`) })
	mirror.On("ShowOverlay", mock.Anything, overlayScanner, isScanner).Return(nil).Once()
	mirror.On("RemoveOverlay", mock.Anything, overlayScanner).Return(errors.New("tab closed")).Once()

	a := newAgent(t, Options{Mirror: mirror})
	before := a.Document().HTML()

	require.True(t, send(t, a, messaging.ShowScanner{}).Success)
	require.True(t, send(t, a, messaging.ShowScanner{}).Success)
	assert.True(t, send(t, a, messaging.GetStatus{}).Status.ScannerVisible)
	assert.Contains(t, a.Document().HTML(), overlayAttr)

	resp := send(t, a, messaging.HideScanner{})
	assert.True(t, resp.Success, "mirror failures are best effort")
	assert.False(t, send(t, a, messaging.GetStatus{}).Status.ScannerVisible)
	assert.Equal(t, before, a.Document().HTML())
	mirror.AssertExpectations(t)
}

func TestBorderGlow(t *testing.T) {
	a := newAgent(t, Options{})

	assert.False(t, send(t, a, messaging.ShowBorderGlow{Variant: "sparkles"}).Success)

	require.True(t, send(t, a, messaging.ShowBorderGlow{DurationMs: 20}).Success)
	glow, err := a.Document().QuerySelector(".shotprep-glow-success")
	require.NoError(t, err)
	require.NotNil(t, glow)

	require.Eventually(t, func() bool {
		return !strings.Contains(a.HTML(), "shotprep-glow") && !strings.Contains(a.Document().HTML(), "shotprep-glow")
	}, 2*time.Second, 5*time.Millisecond)
}

func TestInteractiveMode(t *testing.T) {
	a := newAgent(t, Options{})
	require.True(t, send(t, a, messaging.EnterInteractiveMode{}).Success)
	assert.True(t, send(t, a, messaging.GetStatus{}).Status.InteractiveMode)
	require.True(t, send(t, a, messaging.ExitInteractiveMode{}).Success)
	assert.False(t, send(t, a, messaging.GetStatus{}).Status.InteractiveMode)
}

func TestTriggerCapture(t *testing.T) {
	sub := &mockSubmitter{}
	var got api.Snapshot
	sub.On("SubmitSnapshot", mock.Anything, int64(3), int64(42), mock.AnythingOfType("api.Snapshot")).
		Run(func(args mock.Arguments) { got = args.Get(3).(api.Snapshot) }).
		Return(nil).Once()
	sub.On("SubmitSnapshot", mock.Anything, int64(3), int64(43), mock.Anything).
		Return(errors.New("HTTP 503")).Once()

	a := newAgent(t, Options{Submitter: sub})
	require.True(t, send(t, a, messaging.ShowScanner{}).Success)
	require.True(t, send(t, a, messaging.ExpandElements{}).Success)

	resp := send(t, a, messaging.TriggerCapture{SiteID: 3, HeatmapID: 42})
	require.True(t, resp.Success, resp.Error)
	assert.Equal(t, pageURL, got.URL)
	assert.Equal(t, api.Viewport{Width: 1366, Height: 768}, got.Viewport)
	assert.Contains(t, got.HTML, "2400px !important")
	assert.NotContains(t, got.HTML, overlayAttr)
	assert.Contains(t, a.Document().HTML(), overlayAttr, "scanner stays on the page")

	resp = send(t, a, messaging.TriggerCapture{SiteID: 3, HeatmapID: 43})
	assert.False(t, resp.Success)
	assert.Contains(t, resp.Error, "capture trigger failed")

	assert.False(t, send(t, a, messaging.TriggerCapture{}).Success)
	sub.AssertExpectations(t)

	noService := newAgent(t, Options{})
	assert.Contains(t, send(t, noService, messaging.TriggerCapture{SiteID: 3, HeatmapID: 42}).Error, "no capture service")
}

func TestAgentBehindRouter(t *testing.T) {
	a := newAgent(t, Options{})
	router := messaging.NewRouter(zaptest.NewLogger(t))
	unregister := router.Register(7, a)
	defer unregister()

	resp, err := router.Send(context.Background(), 7, messaging.ExpandElements{})
	require.NoError(t, err)
	assert.Equal(t, 3, resp.Count)

	a.Close(context.Background())
	st := send(t, a, messaging.GetStatus{}).Status
	assert.False(t, st.Expanded)
}
