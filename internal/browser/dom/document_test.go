// internal/browser/dom/document_test.go
package dom

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const pageURL = "https://shop.example.com/products/index.html"

func mustParse(t *testing.T, src string, opts ...Option) *Document {
	t.Helper()
	doc, err := ParseString(src, pageURL, opts...)
	require.NoError(t, err)
	return doc
}

func mustQuery(t *testing.T, doc *Document, selector string) *Element {
	t.Helper()
	el, err := doc.QuerySelector(selector)
	require.NoError(t, err)
	require.NotNil(t, el, "no element for %q", selector)
	return el
}

func TestParseAndQuery(t *testing.T) {
	doc := mustParse(t, `<div id="a" class="x"><p class="x">1</p><p>2</p></div>`)

	els, err := doc.QuerySelectorAll(".x")
	require.NoError(t, err)
	require.Len(t, els, 2)
	assert.Equal(t, "div", els[0].TagName())
	assert.Equal(t, "p", els[1].TagName())

	div := mustQuery(t, doc, "#a")
	assert.Same(t, div, doc.Wrap(div.Node()), "wrappers are cached")
	assert.True(t, div.Contains(els[1]))
	assert.True(t, els[1].Matches("div > p"))
	assert.Len(t, div.Children(), 2)

	_, err = doc.QuerySelectorAll("")
	assert.Error(t, err)
	assert.Equal(t, "https://shop.example.com", doc.Origin())

	abs, err := doc.ResolveURL("../img/a.png")
	require.NoError(t, err)
	assert.Equal(t, "https://shop.example.com/img/a.png", abs)
}

func TestSnapshotIsAttachedAndIndexStripped(t *testing.T) {
	frame := 1200.0
	snap := &Snapshot{
		Elements: []ElementSnapshot{
			{Index: 3, ScrollHeight: 900, ClientHeight: 300, Rect: Rect{Width: 500, Height: 300},
				Computed: map[string]string{"overflow-y": "hidden", "position": "static"}},
			{Index: 4, FrameHeight: &frame},
		},
		StyleSheets: []SheetSnapshot{{OwnerIndex: 2, Href: "https://shop.example.com/a.css", Readable: true, Text: ".x{}"}},
	}
	src := `<html><head><link rel="stylesheet" href="/a.css" data-shotprep-idx="2"></head>
		<body><div id="box" data-shotprep-idx="3">x</div><iframe id="f" data-shotprep-idx="4"></iframe></body></html>`
	doc := mustParse(t, src, WithSnapshot(snap))

	assert.NotContains(t, doc.HTML(), IndexAttr)

	box := mustQuery(t, doc, "#box")
	m := box.Metrics()
	assert.Equal(t, 900.0, m.ScrollHeight)
	assert.Equal(t, 300.0, m.ClientHeight)
	assert.Equal(t, "hidden", box.ComputedStyle().Get("overflow-y"))

	h, err := mustQuery(t, doc, "#f").FrameContentHeight()
	require.NoError(t, err)
	assert.Equal(t, 1200.0, h)

	sheets := doc.StyleSheets()
	require.Len(t, sheets, 1)
	assert.True(t, sheets[0].Readable)
	assert.Equal(t, ".x{}", sheets[0].Text)
}

func TestSetStylePropertyRoundTrip(t *testing.T) {
	tests := []struct {
		name  string
		src   string
		props map[string]string
	}{
		{"absent attribute", `<div id="t">x</div>`, map[string]string{"height": "500px", "max-height": "none"}},
		{"existing declarations", `<div id="t" style="color:red;HEIGHT: 10px ;">x</div>`, map[string]string{"height": "500px", "overflow": "visible"}},
		{"important value", `<div id="t" style="height: 10px !important">x</div>`, map[string]string{"height": "99px"}},
		{"empty attribute", `<div id="t" style="">x</div>`, map[string]string{"position": "relative"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc := mustParse(t, tt.src)
			before := doc.HTML()
			el := mustQuery(t, doc, "#t")

			originals := map[string]string{}
			for prop, val := range tt.props {
				originals[prop] = el.StyleProperty(prop)
				el.SetStyleProperty(prop, val)
			}
			for prop, val := range tt.props {
				assert.Equal(t, val, el.StyleProperty(prop))
			}
			assert.NotEqual(t, before, doc.HTML())

			for prop, orig := range originals {
				el.SetStyleProperty(prop, orig)
			}
			assert.Equal(t, before, doc.HTML())
		})
	}
}

func TestStylePropertyReportsImportant(t *testing.T) {
	doc := mustParse(t, `<div id="t" style="height: 10px !important">x</div>`)
	el := mustQuery(t, doc, "#t")
	assert.Equal(t, "10px !important", el.StyleProperty("height"))
	assert.Equal(t, "", el.StyleProperty("width"))
}

func TestSetAttrResetsStyleBaseline(t *testing.T) {
	doc := mustParse(t, `<div id="t" style="background-image: url(a.png)">x</div>`)
	el := mustQuery(t, doc, "#t")

	el.SetAttr("style", "background-image: url(https://shop.example.com/products/a.png)")
	rewritten := doc.HTML()
	el.SetStyleProperty("height", "40px")
	el.SetStyleProperty("height", "")
	assert.Equal(t, rewritten, doc.HTML())
}

func TestComputedStyleFromCascade(t *testing.T) {
	doc := mustParse(t, `<head><style>.panel { overflow: hidden; position: sticky }</style></head>
		<body><div id="t" class="panel" style="position: fixed">x</div></body>`)
	cs := mustQuery(t, doc, "#t").ComputedStyle()
	assert.Equal(t, "hidden", cs.Get("overflow-y"))
	assert.Equal(t, "fixed", cs.Get("position"))

	// A style element inserted later takes part in the cascade.
	styleEl := doc.CreateElement("style")
	styleEl.SetTextContent("#t { overflow-y: scroll }")
	doc.Head().AppendChild(styleEl)
	assert.Equal(t, "scroll", mustQuery(t, doc, "#t").ComputedStyle().Get("overflow-y"))
}

func TestEstimatedMetrics(t *testing.T) {
	long := ""
	for i := 0; i < 200; i++ {
		long += "lorem ipsum dolor sit amet "
	}
	doc := mustParse(t, `<div id="clip" style="height: 100px; width: 400px; overflow: hidden"><p>`+long+`</p></div>
		<div id="free" style="width: 400px"><p>short</p></div>`)

	clip := mustQuery(t, doc, "#clip").Metrics()
	assert.Equal(t, 100.0, clip.ClientHeight)
	assert.Greater(t, clip.ScrollHeight, clip.ClientHeight)

	free := mustQuery(t, doc, "#free").Metrics()
	assert.Equal(t, free.ScrollHeight, free.ClientHeight)
}

func TestFrameContentHeight(t *testing.T) {
	doc := mustParse(t, `<iframe id="same" srcdoc="<div style='height: 640px'></div>"></iframe>
		<iframe id="other" src="https://ads.example.net/frame"></iframe><div id="div"></div>`)

	h, err := mustQuery(t, doc, "#same").FrameContentHeight()
	require.NoError(t, err)
	assert.Equal(t, 640.0, h)

	_, err = mustQuery(t, doc, "#other").FrameContentHeight()
	assert.ErrorIs(t, err, ErrCrossOriginFrame)
	_, err = mustQuery(t, doc, "#div").FrameContentHeight()
	assert.ErrorIs(t, err, ErrCrossOriginFrame)
}

func TestStyleSheetsListing(t *testing.T) {
	doc := mustParse(t, `<head>
		<style>@font-face { font-family: A; src: url(a.woff2) }</style>
		<link rel="stylesheet" href="https://cdn.example.org/site.css">
		<link rel="alternate stylesheet" href="/alt.css">
		<link rel="icon" href="/favicon.ico">
		<style type="text/template">ignored</style>
	</head>`)
	sheets := doc.StyleSheets()
	require.Len(t, sheets, 2)
	assert.Equal(t, SheetInline, sheets[0].Kind)
	assert.True(t, sheets[0].Readable)
	assert.Equal(t, SheetLink, sheets[1].Kind)
	assert.False(t, sheets[1].Readable)
	assert.Equal(t, "https://cdn.example.org/site.css", sheets[1].Href)
}

func TestUniquePath(t *testing.T) {
	doc := mustParse(t, `<div id="main"><ul><li>a</li><li><span>b</span></li></ul></div><p>c</p><p>d</p>`)
	for _, el := range doc.Elements() {
		path := el.UniquePath()
		found, err := doc.QuerySelectorAll(path)
		require.NoError(t, err, path)
		require.Len(t, found, 1, path)
		assert.Same(t, el, found[0], path)
	}
	assert.Equal(t, "#main > ul:nth-of-type(1) > li:nth-of-type(2) > span:nth-of-type(1)",
		mustQuery(t, doc, "span").UniquePath())
}

func TestStructureMutations(t *testing.T) {
	doc := mustParse(t, `<div id="parent"><p id="child">x</p></div>`)
	before := doc.HTML()
	parent := mustQuery(t, doc, "#parent")
	child := mustQuery(t, doc, "#child")

	placeholder := doc.CreateElement("div")
	placeholder.SetAttr("data-placeholder", "true")
	parent.InsertBefore(placeholder, child)
	assert.True(t, placeholder.Connected())
	assert.Contains(t, doc.HTML(), `<div data-placeholder="true"></div><p id="child">`)

	placeholder.Remove()
	placeholder.Remove()
	assert.False(t, placeholder.Connected())
	assert.Equal(t, before, doc.HTML())
}

func TestMemoryMedia(t *testing.T) {
	ctx := context.Background()
	doc := mustParse(t, `<video id="v" src="movie.mp4" autoplay></video><audio id="a"></audio>`)
	mm, ok := doc.Media().(*MemoryMedia)
	require.True(t, ok)

	video := mustQuery(t, doc, "#v")
	st, err := mm.State(ctx, video)
	require.NoError(t, err)
	assert.False(t, st.Paused)
	assert.Equal(t, HaveMetadata, st.ReadyState)

	require.NoError(t, mm.Pause(ctx, video))
	require.NoError(t, mm.Seek(ctx, video, 12.5))
	st, _ = mm.State(ctx, video)
	assert.True(t, st.Paused)
	assert.Equal(t, 12.5, st.CurrentTime)

	audio := mustQuery(t, doc, "#a")
	st, _ = mm.State(ctx, audio)
	assert.True(t, st.Paused)
	assert.Equal(t, 0, st.ReadyState)

	mm.BlockPlay = true
	assert.ErrorIs(t, mm.Play(ctx, video), ErrPlaybackBlocked)
}
