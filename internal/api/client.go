// internal/api/client.go
package api

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/shotprep/internal/browser/network"
	"github.com/xkilldash9x/shotprep/internal/config"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ErrStatus classifies non-2xx responses; the concrete error is a *StatusError.
var ErrStatus = errors.New("unexpected api status")

// StatusError carries the failing response.
type StatusError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s %s: HTTP %d", e.Method, e.Path, e.StatusCode)
	}
	return fmt.Sprintf("%s %s: HTTP %d: %s", e.Method, e.Path, e.StatusCode, e.Body)
}

func (e *StatusError) Is(target error) bool { return target == ErrStatus }

// Heatmap lifecycle states.
const (
	StatusActive = "active"
	StatusEnded  = "ended"
)

// Heatmap is the remote capture resource.
type Heatmap struct {
	ID              int64  `json:"id"`
	SiteID          int64  `json:"site_id"`
	Name            string `json:"name"`
	URL             string `json:"url,omitempty"`
	Status          string `json:"status"`
	CaptureManually int    `json:"capture_manually"`
	HasScreenshot   bool   `json:"has_screenshot"`
	ViewURL         string `json:"view_url,omitempty"`
}

// Site is a tracked website.
type Site struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
	URL  string `json:"url"`
}

// Viewport is the size the page was captured at.
type Viewport struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Snapshot is a prepared page uploaded for rendering.
type Snapshot struct {
	URL        string    `json:"url"`
	HTML       string    `json:"html"`
	Viewport   Viewport  `json:"viewport"`
	CapturedAt time.Time `json:"captured_at"`
}

// Client talks to the analytics REST API.
type Client struct {
	baseURL    *url.URL
	token      string
	tokenParam string
	http       *http.Client
	logger     *zap.Logger
}

// NewClient builds a client for creds. The credentials' base URL wins over
// cfg.BaseURL. A nil httpClient uses the shared decompressing client.
func NewClient(creds Credentials, cfg config.APIConfig, httpClient *http.Client, logger *zap.Logger) (*Client, error) {
	if creds.Token == "" {
		return nil, ErrNoCredentials
	}
	raw := creds.BaseURL
	if raw == "" {
		raw = cfg.BaseURL
	}
	base, err := url.Parse(strings.TrimRight(raw, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid api base url %q", raw)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if httpClient == nil {
		ncfg := network.NewClientConfig()
		if cfg.Timeout > 0 {
			ncfg.RequestTimeout = cfg.Timeout
		}
		ncfg.FollowRedirects = true
		ncfg.Logger = logger
		httpClient = network.NewClient(ncfg)
	}
	param := cfg.TokenParam
	if param == "" {
		param = "token"
	}
	return &Client{baseURL: base, token: creds.Token, tokenParam: param, http: httpClient, logger: logger.Named("api")}, nil
}

func heatmapPath(siteID, heatmapID int64) string {
	return "/api/v1/sites/" + strconv.FormatInt(siteID, 10) + "/heatmaps/" + strconv.FormatInt(heatmapID, 10)
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, in, out any) error {
	u := *c.baseURL
	u.Path = c.baseURL.Path + path
	u.RawQuery = query.Encode()

	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to encode %s %s: %w", method, path, err)
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return fmt.Errorf("failed to build %s %s: %w", method, path, err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s failed: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &StatusError{Method: method, Path: path, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(snippet))}
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s %s: %w", method, path, err)
	}
	return nil
}

// GetHeatmap fetches one heatmap.
func (c *Client) GetHeatmap(ctx context.Context, siteID, heatmapID int64) (*Heatmap, error) {
	var h Heatmap
	if err := c.do(ctx, http.MethodGet, heatmapPath(siteID, heatmapID), nil, nil, &h); err != nil {
		return nil, err
	}
	return &h, nil
}

// UpdateHeatmap writes h back.
func (c *Client) UpdateHeatmap(ctx context.Context, h *Heatmap) (*Heatmap, error) {
	var out Heatmap
	if err := c.do(ctx, http.MethodPut, heatmapPath(h.SiteID, h.ID), nil, h, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ResumeHeatmap reopens an ended heatmap.
func (c *Client) ResumeHeatmap(ctx context.Context, siteID, heatmapID int64) error {
	return c.do(ctx, http.MethodPost, heatmapPath(siteID, heatmapID)+"/resume", nil, nil, nil)
}

// ListHeatmaps returns the heatmaps of a site.
func (c *Client) ListHeatmaps(ctx context.Context, siteID int64) ([]Heatmap, error) {
	var out struct {
		Heatmaps []Heatmap `json:"heatmaps"`
	}
	path := "/api/v1/sites/" + strconv.FormatInt(siteID, 10) + "/heatmaps"
	if err := c.do(ctx, http.MethodGet, path, nil, nil, &out); err != nil {
		return nil, err
	}
	return out.Heatmaps, nil
}

// ResolveSite finds the site tracking pageURL.
func (c *Client) ResolveSite(ctx context.Context, pageURL string) (*Site, error) {
	var s Site
	if err := c.do(ctx, http.MethodGet, "/api/v1/sites/resolve", url.Values{"url": {pageURL}}, nil, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// SubmitSnapshot uploads a prepared page as the heatmap's screenshot source.
func (c *Client) SubmitSnapshot(ctx context.Context, siteID, heatmapID int64, snap Snapshot) error {
	if snap.CapturedAt.IsZero() {
		snap.CapturedAt = time.Now().UTC()
	}
	return c.do(ctx, http.MethodPost, heatmapPath(siteID, heatmapID)+"/screenshot", nil, snap, nil)
}

// WaitForScreenshotCapture polls until the heatmap reports a screenshot. It
// returns false when attempts run out and an error when a poll fails.
func (c *Client) WaitForScreenshotCapture(ctx context.Context, siteID, heatmapID int64, attempts int, delay time.Duration) (bool, error) {
	for i := 0; i < attempts; i++ {
		h, err := c.GetHeatmap(ctx, siteID, heatmapID)
		if err != nil {
			return false, err
		}
		if h.HasScreenshot {
			c.logger.Debug("Screenshot confirmed", zap.Int64("heatmap_id", heatmapID), zap.Int("attempt", i+1))
			return true, nil
		}
		if i == attempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-time.After(delay):
		}
	}
	return false, nil
}

// ViewURL returns the heatmap's view page with the token removed.
func (c *Client) ViewURL(ctx context.Context, siteID, heatmapID int64) (string, error) {
	h, err := c.GetHeatmap(ctx, siteID, heatmapID)
	if err != nil {
		return "", err
	}
	if h.ViewURL == "" {
		return "", fmt.Errorf("heatmap %d has no view url", heatmapID)
	}
	return StripToken(h.ViewURL, c.tokenParam), nil
}

// StripToken removes the param query parameter from rawURL. Unparsable input
// is returned unchanged.
func StripToken(rawURL, param string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	q := u.Query()
	if !q.Has(param) {
		return rawURL
	}
	q.Del(param)
	u.RawQuery = q.Encode()
	return u.String()
}
