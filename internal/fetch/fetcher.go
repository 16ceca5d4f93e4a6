// internal/fetch/fetcher.go
package fetch

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"path"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/shotprep/internal/browser/network"
	"github.com/xkilldash9x/shotprep/internal/config"
)

// ErrTooLarge is reported for responses above the configured byte cap.
var ErrTooLarge = errors.New("resource exceeds size limit")

// ResourceRequest asks for one URL to be embedded as a data URI.
type ResourceRequest struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// ResourceResult is the outcome for one ResourceRequest.
type ResourceResult struct {
	ID      string `json:"id"`
	URL     string `json:"url"`
	Success bool   `json:"success"`
	DataURI string `json:"dataUri,omitempty"`
	Error   string `json:"error,omitempty"`
}

// BatchResult is the answer to a fetchCorsResources request.
type BatchResult struct {
	Results        []ResourceResult `json:"corsResults"`
	TotalSizeBytes int64            `json:"totalSizeBytes"`
}

// CSSTextResult is the outcome for one stylesheet URL.
type CSSTextResult struct {
	URL     string `json:"url"`
	Success bool   `json:"success"`
	CSSText string `json:"cssText,omitempty"`
	Error   string `json:"error,omitempty"`
}

// NewRequests builds one request per URL with a fresh correlation id.
func NewRequests(urls []string) []ResourceRequest {
	reqs := make([]ResourceRequest, 0, len(urls))
	for _, u := range urls {
		reqs = append(reqs, ResourceRequest{ID: uuid.NewString(), URL: u})
	}
	return reqs
}

// DataURIs maps each successfully fetched URL to its data URI.
func DataURIs(results []ResourceResult) map[string]string {
	out := make(map[string]string)
	for _, r := range results {
		if r.Success && r.DataURI != "" {
			out[r.URL] = r.DataURI
		}
	}
	return out
}

// Fetcher downloads page resources outside the page's origin restrictions.
// Batches run with bounded concurrency behind a shared rate limiter; each
// distinct URL is downloaded once per batch.
type Fetcher struct {
	client      *http.Client
	limiter     *rate.Limiter
	concurrency int
	maxBytes    int64
	logger      *zap.Logger
}

// New builds a Fetcher over the shared decompressing HTTP client.
func New(cfg config.FetchConfig, logger *zap.Logger) *Fetcher {
	clientCfg := network.NewClientConfig()
	clientCfg.UserAgent = cfg.UserAgent
	if cfg.Timeout > 0 {
		clientCfg.RequestTimeout = cfg.Timeout
	}
	clientCfg.MaxConnsPerHost = cfg.Concurrency
	clientCfg.Logger = logger
	return NewWithClient(cfg, network.NewClient(clientCfg), logger)
}

// NewWithClient builds a Fetcher over an existing client.
func NewWithClient(cfg config.FetchConfig, client *http.Client, logger *zap.Logger) *Fetcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 6
	}
	limit := rate.Inf
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = concurrency
	}
	return &Fetcher{
		client:      client,
		limiter:     rate.NewLimiter(limit, burst),
		concurrency: concurrency,
		maxBytes:    cfg.MaxResourceBytes,
		logger:      logger.Named("fetch"),
	}
}

type download struct {
	body        []byte
	contentType string
	err         error
}

// FetchResources downloads every requested URL and encodes it as a data URI.
// Failures are reported per request; the returned error is non-nil only when
// ctx ends before the batch completes.
func (f *Fetcher) FetchResources(ctx context.Context, reqs []ResourceRequest) (*BatchResult, error) {
	downloads, err := f.downloadAll(ctx, uniqueRequestURLs(reqs))
	if err != nil {
		return nil, err
	}

	out := &BatchResult{Results: make([]ResourceResult, 0, len(reqs))}
	counted := make(map[string]bool)
	for _, r := range reqs {
		res := ResourceResult{ID: r.ID, URL: r.URL}
		d := downloads[r.URL]
		if d.err != nil {
			res.Error = d.err.Error()
		} else {
			res.Success = true
			res.DataURI = EncodeDataURI(d.contentType, r.URL, d.body)
			if !counted[r.URL] {
				counted[r.URL] = true
				out.TotalSizeBytes += int64(len(d.body))
			}
		}
		out.Results = append(out.Results, res)
	}
	f.logger.Debug("Resource batch fetched",
		zap.Int("requests", len(reqs)),
		zap.Int("unique", len(downloads)),
		zap.Int64("total_bytes", out.TotalSizeBytes))
	return out, nil
}

// FetchCSSText downloads stylesheet text for each URL.
func (f *Fetcher) FetchCSSText(ctx context.Context, urls []string) ([]CSSTextResult, error) {
	unique := make([]string, 0, len(urls))
	seen := make(map[string]bool)
	for _, u := range urls {
		if !seen[u] {
			seen[u] = true
			unique = append(unique, u)
		}
	}
	downloads, err := f.downloadAll(ctx, unique)
	if err != nil {
		return nil, err
	}
	out := make([]CSSTextResult, 0, len(urls))
	for _, u := range urls {
		d := downloads[u]
		res := CSSTextResult{URL: u}
		if d.err != nil {
			res.Error = d.err.Error()
		} else {
			res.Success = true
			res.CSSText = string(d.body)
		}
		out = append(out, res)
	}
	return out, nil
}

func uniqueRequestURLs(reqs []ResourceRequest) []string {
	seen := make(map[string]bool)
	var out []string
	for _, r := range reqs {
		if !seen[r.URL] {
			seen[r.URL] = true
			out = append(out, r.URL)
		}
	}
	return out
}

func (f *Fetcher) downloadAll(ctx context.Context, urls []string) (map[string]download, error) {
	var mu sync.Mutex
	out := make(map[string]download, len(urls))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(f.concurrency)
	for _, u := range urls {
		g.Go(func() error {
			if err := f.limiter.Wait(gctx); err != nil {
				return err
			}
			body, ct, err := f.get(gctx, u)
			if err != nil {
				f.logger.Debug("Resource fetch failed", zap.String("url", u), zap.Error(err))
			}
			mu.Lock()
			out[u] = download{body: body, contentType: ct, err: err}
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("resource batch interrupted: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("resource batch interrupted: %w", err)
	}
	return out, nil
}

func (f *Fetcher) get(ctx context.Context, raw string) ([]byte, string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, "", fmt.Errorf("invalid url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, raw, nil)
	if err != nil {
		return nil, "", err
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, "", fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	if f.maxBytes > 0 && resp.ContentLength > f.maxBytes {
		return nil, "", fmt.Errorf("%w: %d bytes", ErrTooLarge, resp.ContentLength)
	}
	reader := io.Reader(resp.Body)
	if f.maxBytes > 0 {
		reader = io.LimitReader(resp.Body, f.maxBytes+1)
	}
	body, err := io.ReadAll(reader)
	if err != nil {
		return nil, "", fmt.Errorf("failed to read body: %w", err)
	}
	if f.maxBytes > 0 && int64(len(body)) > f.maxBytes {
		return nil, "", fmt.Errorf("%w: more than %d bytes", ErrTooLarge, f.maxBytes)
	}
	return body, resp.Header.Get("Content-Type"), nil
}

// fontTypes covers extensions that servers commonly mislabel.
var fontTypes = map[string]string{
	".woff2": "font/woff2",
	".woff":  "font/woff",
	".ttf":   "font/ttf",
	".otf":   "font/otf",
	".eot":   "application/vnd.ms-fontobject",
	".svg":   "image/svg+xml",
}

// EncodeDataURI builds a base64 data URI. The media type comes from the
// response header, then the URL's extension, then content sniffing.
func EncodeDataURI(contentType, rawURL string, body []byte) string {
	mediaType := ""
	if contentType != "" {
		if mt, _, err := mime.ParseMediaType(contentType); err == nil {
			mediaType = mt
		}
	}
	if mediaType == "" || mediaType == "application/octet-stream" || mediaType == "text/plain" {
		ext := ""
		if u, err := url.Parse(rawURL); err == nil {
			ext = strings.ToLower(path.Ext(u.Path))
		}
		if t, ok := fontTypes[ext]; ok {
			mediaType = t
		} else if mediaType == "" {
			mediaType, _, _ = strings.Cut(http.DetectContentType(body), ";")
		}
	}
	return "data:" + mediaType + ";base64," + base64.StdEncoding.EncodeToString(body)
}
