// -- internal/fetch/fetcher_test.go --
package fetch

import (
	"context"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/shotprep/internal/config"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		goleak.IgnoreTopFunction("internal/poll.runtime_pollWait"),
		goleak.IgnoreTopFunction("net/http.(*persistConn).readLoop"),
		goleak.IgnoreTopFunction("net/http.(*persistConn).writeLoop"),
	)
}

func testConfig() config.FetchConfig {
	return config.FetchConfig{
		Concurrency:      4,
		MaxResourceBytes: 64,
		Timeout:          5 * time.Second,
		UserAgent:        "shotprep-test",
	}
}

type fixtureServer struct {
	*httptest.Server
	hits map[string]*int32
}

func newFixtureServer(t *testing.T) *fixtureServer {
	t.Helper()
	fs := &fixtureServer{hits: map[string]*int32{}}
	for _, p := range []string{"/a.png", "/font.woff2", "/big.bin", "/missing", "/site.css"} {
		var n int32
		fs.hits[p] = &n
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/a.png", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(fs.hits["/a.png"], 1)
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write([]byte("PNGDATA"))
	})
	mux.HandleFunc("/font.woff2", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(fs.hits["/font.woff2"], 1)
		w.Header().Set("Content-Type", "application/octet-stream")
		_, _ = w.Write([]byte("wOF2"))
	})
	mux.HandleFunc("/big.bin", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(fs.hits["/big.bin"], 1)
		_, _ = w.Write([]byte(strings.Repeat("x", 200)))
	})
	mux.HandleFunc("/missing", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(fs.hits["/missing"], 1)
		http.NotFound(w, r)
	})
	mux.HandleFunc("/site.css", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(fs.hits["/site.css"], 1)
		assert.Equal(t, "shotprep-test", r.Header.Get("User-Agent"))
		w.Header().Set("Content-Type", "text/css")
		_, _ = w.Write([]byte("@import url(more.css);"))
	})
	fs.Server = httptest.NewServer(mux)
	t.Cleanup(fs.Close)
	return fs
}

func TestFetchResources(t *testing.T) {
	srv := newFixtureServer(t)
	f := New(testConfig(), zaptest.NewLogger(t))

	reqs := []ResourceRequest{
		{ID: "1", URL: srv.URL + "/a.png"},
		{ID: "2", URL: srv.URL + "/a.png"},
		{ID: "3", URL: srv.URL + "/font.woff2"},
		{ID: "4", URL: srv.URL + "/big.bin"},
		{ID: "5", URL: srv.URL + "/missing"},
		{ID: "6", URL: "ftp://example.com/a.png"},
	}
	res, err := f.FetchResources(context.Background(), reqs)
	require.NoError(t, err)
	require.Len(t, res.Results, len(reqs))

	byID := map[string]ResourceResult{}
	for _, r := range res.Results {
		byID[r.ID] = r
	}
	pngURI := "data:image/png;base64," + base64.StdEncoding.EncodeToString([]byte("PNGDATA"))
	assert.True(t, byID["1"].Success)
	assert.Equal(t, pngURI, byID["1"].DataURI)
	assert.Equal(t, pngURI, byID["2"].DataURI)
	assert.Equal(t, int32(1), atomic.LoadInt32(srv.hits["/a.png"]), "identical urls are fetched once")

	assert.True(t, strings.HasPrefix(byID["3"].DataURI, "data:font/woff2;base64,"))

	assert.False(t, byID["4"].Success)
	assert.Contains(t, byID["4"].Error, "size limit")
	assert.False(t, byID["5"].Success)
	assert.Contains(t, byID["5"].Error, "404")
	assert.False(t, byID["6"].Success)

	assert.Equal(t, int64(len("PNGDATA")+len("wOF2")), res.TotalSizeBytes)

	uris := DataURIs(res.Results)
	assert.Len(t, uris, 2)
	assert.Equal(t, pngURI, uris[srv.URL+"/a.png"])
}

func TestFetchCSSText(t *testing.T) {
	srv := newFixtureServer(t)
	f := New(testConfig(), zaptest.NewLogger(t))

	res, err := f.FetchCSSText(context.Background(), []string{srv.URL + "/site.css", srv.URL + "/missing", srv.URL + "/site.css"})
	require.NoError(t, err)
	require.Len(t, res, 3)
	assert.True(t, res[0].Success)
	assert.Equal(t, "@import url(more.css);", res[0].CSSText)
	assert.False(t, res[1].Success)
	assert.Equal(t, res[0], res[2])
	assert.Equal(t, int32(1), atomic.LoadInt32(srv.hits["/site.css"]))
}

func TestFetchResourcesCancelled(t *testing.T) {
	srv := newFixtureServer(t)
	f := New(testConfig(), zaptest.NewLogger(t))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := f.FetchResources(ctx, NewRequests([]string{srv.URL + "/a.png"}))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNewRequestsAssignsIDs(t *testing.T) {
	reqs := NewRequests([]string{"https://a.example/1", "https://a.example/1"})
	require.Len(t, reqs, 2)
	assert.NotEmpty(t, reqs[0].ID)
	assert.NotEqual(t, reqs[0].ID, reqs[1].ID)
}

func TestEncodeDataURI(t *testing.T) {
	assert.Equal(t, "data:text/css;base64,YQ==", EncodeDataURI("text/css; charset=utf-8", "https://x/a.css", []byte("a")))
	assert.Equal(t, "data:font/woff;base64,YQ==", EncodeDataURI("", "https://x/f.woff?v=1", []byte("a")))
	assert.True(t, strings.HasPrefix(EncodeDataURI("", "https://x/blob", []byte("<html></html>")), "data:text/html;base64,"))
}
