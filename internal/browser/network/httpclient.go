package network

import (
	"crypto/tls"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"
)

const (
	DefaultDialTimeout           = 15 * time.Second
	DefaultKeepAliveInterval     = 30 * time.Second
	DefaultTLSHandshakeTimeout   = 10 * time.Second
	DefaultResponseHeaderTimeout = 30 * time.Second
	DefaultRequestTimeout        = 60 * time.Second

	DefaultMaxIdleConns        = 100
	DefaultMaxIdleConnsPerHost = 10
	DefaultMaxConnsPerHost     = 8
	DefaultIdleConnTimeout     = 90 * time.Second
)

// SecureMinTLSVersion is the lowest TLS version accepted by default.
const SecureMinTLSVersion = tls.VersionTLS12

// ClientConfig configures the HTTP client shared by the resource fetcher and
// the analytics API client.
type ClientConfig struct {
	RequestTimeout     time.Duration
	UserAgent          string
	MaxConnsPerHost    int
	InsecureSkipVerify bool
	// FollowRedirects is false for callers that must see 3xx responses.
	FollowRedirects bool
	Logger          *zap.Logger
}

// NewClientConfig returns defaults suited to fetching page resources.
func NewClientConfig() *ClientConfig {
	return &ClientConfig{
		RequestTimeout:  DefaultRequestTimeout,
		MaxConnsPerHost: DefaultMaxConnsPerHost,
		FollowRedirects: true,
		Logger:          zap.NewNop(),
	}
}

// NewHTTPTransport builds the base transport. Decompression is left to
// CompressionMiddleware so brotli is handled alongside gzip and deflate.
func NewHTTPTransport(cfg *ClientConfig) *http.Transport {
	if cfg == nil {
		cfg = NewClientConfig()
	}
	dialer := &net.Dialer{
		Timeout:   DefaultDialTimeout,
		KeepAlive: DefaultKeepAliveInterval,
	}
	maxPerHost := cfg.MaxConnsPerHost
	if maxPerHost <= 0 {
		maxPerHost = DefaultMaxConnsPerHost
	}
	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		TLSClientConfig:       configureTLS(cfg),
		TLSHandshakeTimeout:   DefaultTLSHandshakeTimeout,
		MaxIdleConns:          DefaultMaxIdleConns,
		MaxIdleConnsPerHost:   DefaultMaxIdleConnsPerHost,
		MaxConnsPerHost:       maxPerHost,
		IdleConnTimeout:       DefaultIdleConnTimeout,
		ResponseHeaderTimeout: DefaultResponseHeaderTimeout,
		DisableCompression:    true,
		ForceAttemptHTTP2:     true,
	}
}

// NewClient returns an http.Client that decodes compressed responses and
// stamps the configured User-Agent.
func NewClient(cfg *ClientConfig) *http.Client {
	if cfg == nil {
		cfg = NewClientConfig()
	}
	var rt http.RoundTripper = NewCompressionMiddleware(NewHTTPTransport(cfg))
	if cfg.UserAgent != "" {
		rt = &userAgentTransport{next: rt, userAgent: cfg.UserAgent}
	}
	client := &http.Client{
		Transport: rt,
		Timeout:   cfg.RequestTimeout,
	}
	if !cfg.FollowRedirects {
		client.CheckRedirect = func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		}
	}
	return client
}

type userAgentTransport struct {
	next      http.RoundTripper
	userAgent string
}

func (t *userAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Header.Get("User-Agent") == "" {
		req = req.Clone(req.Context())
		req.Header.Set("User-Agent", t.userAgent)
	}
	return t.next.RoundTrip(req)
}

func configureTLS(cfg *ClientConfig) *tls.Config {
	tlsConfig := &tls.Config{
		MinVersion:         SecureMinTLSVersion,
		NextProtos:         []string{"h2", "http/1.1"},
		ClientSessionCache: tls.NewLRUClientSessionCache(256),
		InsecureSkipVerify: cfg.InsecureSkipVerify, //nolint:gosec // opt-in for self-signed staging hosts
	}
	if cfg.InsecureSkipVerify && cfg.Logger != nil {
		cfg.Logger.Warn("TLS certificate verification is disabled for resource fetches")
	}
	return tlsConfig
}
