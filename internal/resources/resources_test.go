// File: internal/resources/resources_test.go
package resources

import (
	"net/url"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/shotprep/internal/browser/dom"
)

const pageURL = "https://shop.example.com/products/index.html"

func mustParse(t *testing.T, src string) *dom.Document {
	t.Helper()
	doc, err := dom.ParseString(src, pageURL)
	require.NoError(t, err)
	return doc
}

func TestIsRelativeURL(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"", false},
		{"   ", false},
		{"http://a.example/x.png", false},
		{"HTTPS://a.example/x.png", false},
		{"//cdn.example/x.png", false},
		{"data:image/png;base64,AAAA", false},
		{"blob:https://shop.example.com/1234", false},
		{"#section", false},
		{"img/a.png", true},
		{"/img/a.png", true},
		{"../a.png", true},
		{"?v=2", true},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, IsRelativeURL(tt.in), "%q", tt.in)
	}
}

func TestIsCrossOrigin(t *testing.T) {
	base, err := url.Parse(pageURL)
	require.NoError(t, err)

	assert.True(t, IsCrossOrigin("https://cdn.example.org/a.png", base))
	assert.True(t, IsCrossOrigin("//cdn.example.org/a.png", base))
	assert.True(t, IsCrossOrigin("http://shop.example.com/a.png", base), "scheme is part of the origin")
	assert.False(t, IsCrossOrigin("/a.png", base))
	assert.False(t, IsCrossOrigin("https://SHOP.example.com/a.png", base))
	assert.False(t, IsCrossOrigin("data:image/png;base64,AAAA", base))
	assert.False(t, IsCrossOrigin("blob:https://cdn.example.org/1", base))
	assert.False(t, IsCrossOrigin("#frag", base))
	assert.False(t, IsCrossOrigin("https://[::1", base))
}

func TestParseSrcset(t *testing.T) {
	got := ParseSrcset(" a.png 1x, b.png 2x,c.png, data:image/png;base64,AA,BB 3x")
	want := []SrcsetCandidate{
		{URL: "a.png", Descriptor: "1x"},
		{URL: "b.png", Descriptor: "2x"},
		{URL: "c.png"},
		{URL: "data:image/png;base64,AA,BB", Descriptor: "3x"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("ParseSrcset mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, "a.png 1x, b.png 2x", FormatSrcset(got[:2]))
}

func TestReplaceCSSURLsKeepsQuoting(t *testing.T) {
	in := `url("a.png"), url('b.png'), url(c.png), url(keep.png)`
	out := ReplaceCSSURLs(in, func(u string) (string, bool) {
		if u == "keep.png" {
			return "", false
		}
		return "/x/" + u, true
	})
	assert.Equal(t, `url("/x/a.png"), url('/x/b.png'), url(/x/c.png), url(keep.png)`, out)
	assert.Equal(t, []string{"a.png", "b.png", "c.png", "keep.png"}, ExtractCSSURLs(in))
}

const relativePage = `<html><head></head><body>
<img id="logo" src="img/logo.png">
<img id="abs" src="https://shop.example.com/abs.png">
<picture><source id="src" srcset="a-1x.webp 1x, a-2x.webp 2x"><img id="pic" src="a.png" srcset="a-1x.png 1x, https://cdn.example.org/a-2x.png 2x"></picture>
<video id="v" poster="/posters/v.jpg"><source src="clip.mp4"></video>
<div id="bg" style="color: red; background-image: url('/bg/one.png'), url(two.png)">x</div>
<a href="relative/link.html">not scanned</a>
</body></html>`

func TestDetectRelativeURLs(t *testing.T) {
	doc := mustParse(t, relativePage)
	detected := DetectRelativeURLs(doc, nil)

	type row struct {
		ID, Attribute, URLInValue, AbsoluteURL, CSSProperty string
	}
	var got []row
	for _, d := range detected {
		got = append(got, row{d.Element.ID(), d.Attribute, d.URLInValue, d.AbsoluteURL, d.CSSProperty})
	}
	want := []row{
		{"logo", "src", "img/logo.png", "https://shop.example.com/products/img/logo.png", ""},
		{"src", "srcset", "a-1x.webp", "https://shop.example.com/products/a-1x.webp", ""},
		{"src", "srcset", "a-2x.webp", "https://shop.example.com/products/a-2x.webp", ""},
		{"pic", "src", "a.png", "https://shop.example.com/products/a.png", ""},
		{"pic", "srcset", "a-1x.png", "https://shop.example.com/products/a-1x.png", ""},
		{"v", "poster", "/posters/v.jpg", "https://shop.example.com/posters/v.jpg", ""},
		{"", "src", "clip.mp4", "https://shop.example.com/products/clip.mp4", ""},
		{"bg", "style", "/bg/one.png", "https://shop.example.com/bg/one.png", "background-image"},
		{"bg", "style", "two.png", "https://shop.example.com/products/two.png", "background-image"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("DetectRelativeURLs mismatch (-want +got):\n%s", diff)
	}
}

func TestConvertRelativeURLsRoundTrip(t *testing.T) {
	doc := mustParse(t, relativePage)
	before := doc.HTML()

	conv := ConvertRelativeURLs(DetectRelativeURLs(doc, nil))
	assert.Equal(t, 9, conv.Count)

	after := doc.HTML()
	assert.Contains(t, after, `srcset="https://shop.example.com/products/a-1x.webp 1x, https://shop.example.com/products/a-2x.webp 2x"`)
	assert.Contains(t, after, `url('https://shop.example.com/bg/one.png'), url(https://shop.example.com/products/two.png)`)
	assert.Contains(t, after, `href="relative/link.html"`)

	conv.Restore()
	assert.Equal(t, before, doc.HTML())
}

func TestConvertRelativeURLsScopedToSubtree(t *testing.T) {
	doc := mustParse(t, `<div id="a"><img src="in.png"></div><img id="out" src="out.png">`)
	root, err := doc.QuerySelector("#a")
	require.NoError(t, err)

	detected := DetectRelativeURLs(doc, root)
	require.Len(t, detected, 1)
	assert.Equal(t, "in.png", detected[0].URLInValue)
}

func TestBatchedAttributeRestoredOnce(t *testing.T) {
	doc := mustParse(t, `<img id="i" srcset="a.png 1x, b.png 2x, c.png 3x">`)
	el, err := doc.QuerySelector("#i")
	require.NoError(t, err)

	detected := DetectRelativeURLs(doc, nil)
	require.Len(t, detected, 3)
	for _, d := range detected {
		assert.Equal(t, "a.png 1x, b.png 2x, c.png 3x", d.OriginalValue)
	}

	conv := ConvertRelativeURLs(detected)
	require.Len(t, conv.batches, 1, "one batch per element attribute")

	// A later write must survive a restore of a different attribute.
	el.SetAttr("alt", "changed")
	conv.Restore()
	assert.Equal(t, "a.png 1x, b.png 2x, c.png 3x", el.GetAttr("srcset"))
	assert.Equal(t, "changed", el.GetAttr("alt"))
}

const corsPage = `<html><body>
<img id="a" src="https://cdn.example.org/a.png">
<img id="b" src="https://cdn.example.org/a.png">
<img id="local" src="/local.png">
<img id="data" src="data:image/png;base64,AAAA">
<svg><use id="u" href="https://icons.example.net/sprite.svg#cart"></use></svg>
<video id="v" poster="https://media.example.net/p.jpg"></video>
<div id="bg" style="background: url(https://cdn.example.org/bg.png) no-repeat">x</div>
</body></html>`

func TestDetectCORSResources(t *testing.T) {
	doc := mustParse(t, corsPage)
	found := DetectCORSResources(doc.Body())

	type row struct {
		ID       string
		Attr     string
		URL      string
		Fragment string
		Type     ResourceType
	}
	var got []row
	for _, r := range found {
		got = append(got, row{r.Element.ID(), r.Attribute, r.URL, r.Fragment, r.ResourceType})
	}
	want := []row{
		{"a", "src", "https://cdn.example.org/a.png", "", ResourceImage},
		{"b", "src", "https://cdn.example.org/a.png", "", ResourceImage},
		{"u", "href", "https://icons.example.net/sprite.svg", "cart", ResourceSVGUse},
		{"v", "poster", "https://media.example.net/p.jpg", "", ResourcePoster},
		{"bg", "style", "https://cdn.example.org/bg.png", "", ResourceBackground},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("DetectCORSResources mismatch (-want +got):\n%s", diff)
	}

	assert.Equal(t, []string{
		"https://cdn.example.org/a.png",
		"https://icons.example.net/sprite.svg",
		"https://media.example.net/p.jpg",
		"https://cdn.example.org/bg.png",
	}, UniqueURLs(found))
}

func TestApplyDataURIsPartialSuccess(t *testing.T) {
	doc := mustParse(t, corsPage)
	before := doc.HTML()
	found := DetectCORSResources(doc.Body())

	conv := ApplyDataURIs(found, map[string]string{
		"https://cdn.example.org/a.png":        "data:image/png;base64,QUFB",
		"https://icons.example.net/sprite.svg": "data:image/svg+xml;base64,U1ZH",
	})
	assert.Equal(t, 3, conv.Count)

	get := func(sel, attr string) string {
		el, err := doc.QuerySelector(sel)
		require.NoError(t, err)
		return el.GetAttr(attr)
	}
	assert.Equal(t, "data:image/png;base64,QUFB", get("#a", "src"))
	assert.Equal(t, "data:image/png;base64,QUFB", get("#b", "src"))
	assert.Equal(t, "data:image/svg+xml;base64,U1ZH#cart", get("#u", "href"))
	assert.Equal(t, "https://media.example.net/p.jpg", get("#v", "poster"), "failed fetch keeps its url")
	assert.Contains(t, get("#bg", "style"), "https://cdn.example.org/bg.png")

	conv.Restore()
	assert.Equal(t, before, doc.HTML())
}

func TestApplyDataURIsNothingFetched(t *testing.T) {
	doc := mustParse(t, corsPage)
	before := doc.HTML()
	conv := ApplyDataURIs(DetectCORSResources(doc.Body()), nil)
	assert.Zero(t, conv.Count)
	conv.Restore()
	assert.Equal(t, before, doc.HTML())
}
