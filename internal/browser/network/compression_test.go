// browser/network/compression_test.go
package network

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"compress/zlib"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/andybalholm/brotli"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const payload = "@font-face { font-family: Brand; src: url(brand.woff2) format('woff2') }"

func encode(t *testing.T, enc string, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	var w io.WriteCloser
	switch enc {
	case "gzip":
		w = gzip.NewWriter(&buf)
	case "br":
		w = brotli.NewWriter(&buf)
	case "deflate-zlib":
		w = zlib.NewWriter(&buf)
	case "deflate-raw":
		fw, err := flate.NewWriter(&buf, flate.DefaultCompression)
		require.NoError(t, err)
		w = fw
	default:
		t.Fatalf("unknown encoding %q", enc)
	}
	_, err := w.Write(data)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func TestCompressionMiddlewareDecodes(t *testing.T) {
	tests := []struct {
		name   string
		encode string
		header string
	}{
		{"gzip", "gzip", "gzip"},
		{"brotli", "br", "br"},
		{"zlib deflate", "deflate-zlib", "deflate"},
		{"raw deflate", "deflate-raw", "deflate"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body := encode(t, tt.encode, []byte(payload))
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, AcceptEncoding, r.Header.Get("Accept-Encoding"))
				w.Header().Set("Content-Encoding", tt.header)
				_, _ = w.Write(body)
			}))
			defer srv.Close()

			client := NewClient(nil)
			resp, err := client.Get(srv.URL)
			require.NoError(t, err)
			defer resp.Body.Close()

			got, err := io.ReadAll(resp.Body)
			require.NoError(t, err)
			assert.Equal(t, payload, string(got))
			assert.True(t, resp.Uncompressed)
			assert.Empty(t, resp.Header.Get("Content-Encoding"))
			assert.Equal(t, int64(-1), resp.ContentLength)
		})
	}
}

func TestDecompressResponseLayered(t *testing.T) {
	// gzip applied first, then brotli: decoding must undo brotli first.
	inner := encode(t, "gzip", []byte(payload))
	outer := encode(t, "br", inner)
	resp := &http.Response{
		Header: http.Header{"Content-Encoding": []string{"gzip, br"}},
		Body:   io.NopCloser(bytes.NewReader(outer)),
	}
	require.NoError(t, DecompressResponse(resp))
	got, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, payload, string(got))
	assert.NoError(t, resp.Body.Close())
	assert.NoError(t, resp.Body.Close(), "second close is a no-op")
}

func TestDecompressResponseRejectsUnknown(t *testing.T) {
	resp := &http.Response{
		Header: http.Header{"Content-Encoding": []string{"compress"}},
		Body:   io.NopCloser(strings.NewReader("x")),
	}
	assert.Error(t, DecompressResponse(resp))

	plain := &http.Response{Header: http.Header{}, Body: io.NopCloser(strings.NewReader("x"))}
	require.NoError(t, DecompressResponse(plain))
	assert.False(t, plain.Uncompressed)
}

func TestCompressionMiddlewareBadGzip(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Encoding", "gzip")
		_, _ = w.Write([]byte("not gzip at all"))
	}))
	defer srv.Close()

	_, err := NewClient(nil).Get(srv.URL)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "gzip")
}

func TestClientUserAgentAndRedirects(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/old" {
			http.Redirect(w, r, "/new", http.StatusFound)
			return
		}
		_, _ = io.WriteString(w, r.Header.Get("User-Agent"))
	}))
	defer srv.Close()

	cfg := NewClientConfig()
	cfg.UserAgent = "shotprep-test/1.0"
	resp, err := NewClient(cfg).Get(srv.URL + "/old")
	require.NoError(t, err)
	got, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, "shotprep-test/1.0", string(got))

	cfg.FollowRedirects = false
	resp, err = NewClient(cfg).Get(srv.URL + "/old")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusFound, resp.StatusCode)
}

func TestConfigureTLSDefaults(t *testing.T) {
	tlsCfg := configureTLS(NewClientConfig())
	assert.Equal(t, uint16(SecureMinTLSVersion), tlsCfg.MinVersion)
	assert.False(t, tlsCfg.InsecureSkipVerify)
	assert.Equal(t, []string{"h2", "http/1.1"}, tlsCfg.NextProtos)
	assert.NotNil(t, tlsCfg.ClientSessionCache)
}
