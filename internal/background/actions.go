// internal/background/actions.go
package background

import (
	"github.com/xkilldash9x/shotprep/internal/api"
	"github.com/xkilldash9x/shotprep/internal/fetch"
	"github.com/xkilldash9x/shotprep/internal/screenshot"
)

// Action names a background request.
type Action string

const (
	ActionExecuteScreenshot  Action = "executeScreenshot"
	ActionRetryScreenshot    Action = "retryScreenshot"
	ActionCancelScreenshot   Action = "cancelScreenshot"
	ActionFetchHeatmaps      Action = "fetchHeatmaps"
	ActionResolveSite        Action = "resolveSite"
	ActionOpenSettings       Action = "openSettings"
	ActionOpenBugReport      Action = "openBugReport"
	ActionFetchCORSResources Action = "fetchCorsResources"
	ActionFetchCSSText       Action = "fetchCssText"
)

// Request is one of the background request variants below.
type Request interface {
	Action() Action
}

// ExecuteScreenshot starts a capture. Without a tab id, URL is opened in a
// new tab first.
type ExecuteScreenshot struct {
	HeatmapID int64  `json:"heatmapId"`
	SiteID    int64  `json:"siteId"`
	TabID     int    `json:"tabId,omitempty"`
	URL       string `json:"url,omitempty"`
}

type (
	RetryScreenshot  struct{}
	CancelScreenshot struct{}
	OpenSettings     struct{}
	OpenBugReport    struct{}
)

// FetchHeatmaps lists a site's heatmaps, from cache unless ForceRefresh.
type FetchHeatmaps struct {
	SiteID       int64 `json:"siteId"`
	ForceRefresh bool  `json:"forceRefresh"`
}

// ResolveSite finds the tracked site for a page URL.
type ResolveSite struct {
	URL string `json:"url"`
}

// FetchCORSResources downloads resources as data URIs.
type FetchCORSResources struct {
	Requests []fetch.ResourceRequest `json:"requests"`
}

// FetchCSSText downloads stylesheet text.
type FetchCSSText struct {
	URLs []string `json:"urls"`
}

func (ExecuteScreenshot) Action() Action  { return ActionExecuteScreenshot }
func (RetryScreenshot) Action() Action    { return ActionRetryScreenshot }
func (CancelScreenshot) Action() Action   { return ActionCancelScreenshot }
func (FetchHeatmaps) Action() Action      { return ActionFetchHeatmaps }
func (ResolveSite) Action() Action        { return ActionResolveSite }
func (OpenSettings) Action() Action       { return ActionOpenSettings }
func (OpenBugReport) Action() Action      { return ActionOpenBugReport }
func (FetchCORSResources) Action() Action { return ActionFetchCORSResources }
func (FetchCSSText) Action() Action       { return ActionFetchCSSText }

// Reply is the JSON answer to background requests other than the fetches.
type Reply struct {
	Success    bool               `json:"success"`
	Error      string             `json:"error,omitempty"`
	Screenshot *screenshot.Status `json:"screenshot,omitempty"`
	Heatmaps   []api.Heatmap      `json:"heatmaps,omitempty"`
	Cached     bool               `json:"cached,omitempty"`
	Site       *api.Site          `json:"site,omitempty"`
	TabID      int                `json:"tabId,omitempty"`
	Bridges    int                `json:"bridgeConnections,omitempty"`
}

// CORSReply answers FetchCORSResources.
type CORSReply struct {
	Success        bool                   `json:"success"`
	CORSResults    []fetch.ResourceResult `json:"corsResults"`
	TotalSizeBytes int64                  `json:"totalSizeBytes"`
}

// CSSTextReply answers FetchCSSText.
type CSSTextReply struct {
	Success        bool                  `json:"success"`
	CSSTextResults []fetch.CSSTextResult `json:"cssTextResults"`
}
