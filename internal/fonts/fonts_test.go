// internal/fonts/fonts_test.go
package fonts

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/shotprep/internal/browser/dom"
	"github.com/xkilldash9x/shotprep/internal/fetch"
)

const pageURL = "https://shop.example.com/index.html"

type mockCSSFetcher struct{ mock.Mock }

func (m *mockCSSFetcher) FetchCSSText(ctx context.Context, urls []string) ([]fetch.CSSTextResult, error) {
	args := m.Called(ctx, urls)
	res, _ := args.Get(0).([]fetch.CSSTextResult)
	return res, args.Error(1)
}

type mockResourceFetcher struct{ mock.Mock }

func (m *mockResourceFetcher) FetchResources(ctx context.Context, reqs []fetch.ResourceRequest) (*fetch.BatchResult, error) {
	args := m.Called(ctx, reqs)
	res, _ := args.Get(0).(*fetch.BatchResult)
	return res, args.Error(1)
}

func mustPage(t *testing.T) *url.URL {
	t.Helper()
	u, err := url.Parse(pageURL)
	require.NoError(t, err)
	return u
}

const twoFaces = `
/* brand faces */
@font-face {
  font-family: "Brand Sans";
  font-weight: 400;
  font-style: normal;
  src: url("fonts/brand-400.woff2") format("woff2");
}
@media screen {
  .x { color: red }
  @font-face {
    font-family: 'Brand Sans';
    font-weight: 700;
    font-display: swap;
    src: local("Brand Sans Bold"), url(https://cdn.example.org/brand-700.woff2) format('woff2');
  }
}`

func TestExtractFontFacesFromCSSText(t *testing.T) {
	faces := ExtractFontFacesFromCSSText(twoFaces, "https://shop.example.com/css/site.css", mustPage(t))
	require.Len(t, faces, 2)

	assert.Equal(t, "Brand Sans", faces[0].Family)
	assert.Equal(t, "400", faces[0].Weight)
	assert.Equal(t, "normal", faces[0].Style)
	assert.Equal(t, SourceFetched, faces[0].SourceType)
	assert.True(t, strings.HasPrefix(faces[0].OriginalCSS, "@font-face"))

	want := []FontURL{{URL: "https://shop.example.com/css/fonts/brand-400.woff2", Format: "woff2"}}
	if diff := cmp.Diff(want, faces[0].URLs); diff != "" {
		t.Errorf("first face urls (-want +got):\n%s", diff)
	}

	assert.Equal(t, "700", faces[1].Weight)
	assert.Equal(t, "swap", faces[1].Display)
	want = []FontURL{{URL: "https://cdn.example.org/brand-700.woff2", Format: "woff2", IsCrossOrigin: true}}
	if diff := cmp.Diff(want, faces[1].URLs); diff != "" {
		t.Errorf("second face urls (-want +got):\n%s", diff)
	}
}

func TestParseSrc(t *testing.T) {
	got := ParseSrc(`local(Foo), url(a.woff2) format("woff2"), url('b.woff'), url("data:font/woff2;base64,AAAA") format(woff2)`)
	want := []SrcEntry{
		{URL: "a.woff2", Format: "woff2"},
		{URL: "b.woff"},
		{URL: "data:font/woff2;base64,AAAA", Format: "woff2"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("ParseSrc (-want +got):\n%s", diff)
	}
}

func TestFontFaceBlocksIgnoreBracesInStrings(t *testing.T) {
	css := `@font-face { font-family: "a}b"; src: url(x.woff) } .y { content: "{" }`
	blocks := fontFaceBlocks(css)
	require.Len(t, blocks, 1)
	assert.Contains(t, blocks[0].body, "url(x.woff)")
}

func TestGenerateFontFaceCSSFallsBackToOriginalURL(t *testing.T) {
	faces := ExtractFontFacesFromCSSText(twoFaces, "https://shop.example.com/css/site.css", mustPage(t))
	css := GenerateFontFaceCSS(faces, map[string]string{
		"https://shop.example.com/css/fonts/brand-400.woff2": "data:font/woff2;base64,QUJD",
	})

	assert.Equal(t, 2, strings.Count(css, "@font-face"))
	assert.Contains(t, css, `src: url("data:font/woff2;base64,QUJD") format("woff2");`)
	assert.Contains(t, css, `src: url("https://cdn.example.org/brand-700.woff2") format("woff2");`)
	assert.Contains(t, css, "font-weight: 700;")
	assert.Contains(t, css, "font-display: swap;")

	// Generated text parses back into the same faces.
	again := ExtractFontFacesFromCSSText(css, "https://shop.example.com/x.css", mustPage(t))
	require.Len(t, again, 2)
	assert.Equal(t, "Brand Sans", again[1].Family)
}

func TestGenerateFontFaceCSSEscapesFamily(t *testing.T) {
	css := `@font-face { font-family: "Emoji \"X\""; src: url(e.woff2) }
		@font-face { font-family: "A\a0 B"; src: url(b.woff) format("woff") }`
	faces := ExtractFontFacesFromCSSText(css, "https://shop.example.com/css/site.css", mustPage(t))
	require.Len(t, faces, 2)
	assert.Equal(t, `Emoji "X"`, faces[0].Family)
	assert.Equal(t, "A\u00a0B", faces[1].Family)

	out := GenerateFontFaceCSS(faces, nil)
	assert.Contains(t, out, `font-family: "Emoji \"X\"";`)
	assert.Contains(t, out, `font-family: "A\a0 B";`)

	again := ExtractFontFacesFromCSSText(out, "https://shop.example.com/x.css", mustPage(t))
	require.Len(t, again, 2)
	assert.Equal(t, faces[0].Family, again[0].Family)
	assert.Equal(t, faces[1].Family, again[1].Family)
}

func TestExtractImports(t *testing.T) {
	css := `@import url("a.css"); @import 'b.css' screen; /* @import "c.css"; */ @import url(d.css);`
	assert.Equal(t, []string{"a.css", "b.css", "d.css"}, ExtractImports(css))
}

func TestDetectorWalksAllStylesheets(t *testing.T) {
	snap := &dom.Snapshot{StyleSheets: []dom.SheetSnapshot{{
		OwnerIndex: 1, Href: "https://shop.example.com/css/same.css", Readable: true,
		Text: `@import "nested/one.css"; @font-face { font-family: Same; src: url(same.woff2) }`,
	}}}
	src := `<html><head>
		<style>@font-face { font-family: Inline; src: url(/f/inline.woff) format("woff") }</style>
		<link rel="stylesheet" href="/css/same.css" data-shotprep-idx="1">
		<link rel="stylesheet" href="https://cdn.example.org/cdn.css">
	</head><body></body></html>`
	doc, err := dom.ParseString(src, pageURL, dom.WithSnapshot(snap))
	require.NoError(t, err)

	fetcher := &mockCSSFetcher{}
	fetcher.On("FetchCSSText", mock.Anything, []string{
		"https://shop.example.com/css/nested/one.css",
		"https://cdn.example.org/cdn.css",
	}).Return([]fetch.CSSTextResult{
		{URL: "https://shop.example.com/css/nested/one.css", Success: false, Error: "HTTP 404"},
		{URL: "https://cdn.example.org/cdn.css", Success: true,
			CSSText: `@import url(deep.css); @font-face { font-family: Cdn; src: url(cdn.woff2) }`},
	}, nil).Once()
	fetcher.On("FetchCSSText", mock.Anything, []string{"https://cdn.example.org/deep.css"}).
		Return([]fetch.CSSTextResult{{URL: "https://cdn.example.org/deep.css", Success: true,
			// A cycle back to an already visited sheet must not be fetched again.
			CSSText: `@import "cdn.css"; @font-face { font-family: Deep; src: url(deep.woff2) }`}}, nil).Once()

	faces, err := NewDetector(fetcher, zaptest.NewLogger(t)).Detect(context.Background(), doc)
	require.NoError(t, err)
	fetcher.AssertExpectations(t)

	var got []string
	for _, f := range faces {
		got = append(got, f.Family+"|"+string(f.SourceType)+"|"+f.URLs[0].URL)
	}
	assert.Equal(t, []string{
		"Inline|inline-style|https://shop.example.com/f/inline.woff",
		"Same|stylesheet|https://shop.example.com/css/same.woff2",
		"Cdn|stylesheet|https://cdn.example.org/cdn.woff2",
		"Deep|import|https://cdn.example.org/deep.woff2",
	}, got)
}

func TestDetectorWithoutFetcher(t *testing.T) {
	doc, err := dom.ParseString(`<link rel="stylesheet" href="https://cdn.example.org/cdn.css">
		<style>@font-face { font-family: A; src: url(a.woff) }</style>`, pageURL)
	require.NoError(t, err)
	faces, err := NewDetector(nil, nil).Detect(context.Background(), doc)
	require.NoError(t, err)
	require.Len(t, faces, 1)
	assert.Equal(t, "A", faces[0].Family)
}

func TestEmbedderInjectsAndRestores(t *testing.T) {
	doc, err := dom.ParseString(`<html><head><style>
		@font-face { font-family: A; font-weight: 400; src: url(/a.woff2) format("woff2") }
		@font-face { font-family: A; font-weight: 700; src: url(/b.woff2) format("woff2") }
	</style></head><body>x</body></html>`, pageURL)
	require.NoError(t, err)
	before := doc.HTML()

	fetcher := &mockResourceFetcher{}
	fetcher.On("FetchResources", mock.Anything, mock.MatchedBy(func(reqs []fetch.ResourceRequest) bool {
		return len(reqs) == 2 && reqs[0].URL == "https://shop.example.com/a.woff2"
	})).Return(&fetch.BatchResult{Results: []fetch.ResourceResult{
		{ID: "1", URL: "https://shop.example.com/a.woff2", Success: true, DataURI: "data:font/woff2;base64,QQ=="},
		{ID: "2", URL: "https://shop.example.com/b.woff2", Success: false, Error: "HTTP 500"},
	}}, nil)

	embedder := NewEmbedder(NewDetector(nil, nil), fetcher, zaptest.NewLogger(t))
	emb, err := embedder.Embed(context.Background(), doc)
	require.NoError(t, err)
	require.NotNil(t, emb)
	assert.Equal(t, 2, emb.Faces)
	assert.Equal(t, 1, emb.Embedded)

	styles, err := doc.QuerySelectorAll("style[" + StyleMarker + "]")
	require.NoError(t, err)
	require.Len(t, styles, 1)
	text := styles[0].TextContent()
	assert.Contains(t, text, "data:font/woff2;base64,QQ==")
	assert.Contains(t, text, "https://shop.example.com/b.woff2")

	emb.Restore()
	emb.Restore()
	assert.Equal(t, before, doc.HTML())
}

func TestEmbedderNoFonts(t *testing.T) {
	doc, err := dom.ParseString(`<p>plain</p>`, pageURL)
	require.NoError(t, err)
	emb, err := NewEmbedder(NewDetector(nil, nil), &mockResourceFetcher{}, nil).Embed(context.Background(), doc)
	require.NoError(t, err)
	assert.Nil(t, emb)
}

func TestEmbedderFetchError(t *testing.T) {
	doc, err := dom.ParseString(`<style>@font-face { font-family: A; src: url(/a.woff2) }</style>`, pageURL)
	require.NoError(t, err)
	fetcher := &mockResourceFetcher{}
	fetcher.On("FetchResources", mock.Anything, mock.Anything).Return(nil, errors.New("context canceled"))
	_, err = NewEmbedder(NewDetector(nil, nil), fetcher, nil).Embed(context.Background(), doc)
	assert.Error(t, err)
}
