package parser

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(prop, val string, important bool) Declaration {
	return Declaration{Property: Property(prop), Value: Value(val), Important: important}
}

func s(tag, id string, classes []string, attrs []AttributeSelector) SimpleSelector {
	return SimpleSelector{TagName: tag, ID: id, Classes: classes, Attributes: attrs}
}

func TestParseSimpleSelectors(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected SimpleSelector
	}{
		{"Tag", "div", s("div", "", nil, nil)},
		{"ID", "#main", s("", "main", nil, nil)},
		{"Multiple Classes", ".btn.primary", s("", "", []string{"btn", "primary"}, nil)},
		{"Universal", "*", s("*", "", nil, nil)},
		{"Attr Presence", "[poster]", s("", "", nil, []AttributeSelector{{Name: "poster"}})},
		{"Attr Exact", `[role="banner"]`, s("", "", nil, []AttributeSelector{{Name: "role", Operator: "=", Value: "banner"}})},
		{"Attr Starts With", `[src^="http"]`, s("", "", nil, []AttributeSelector{{Name: "src", Operator: "^=", Value: "http"}})},
		{"Mixed", `img.hero[srcset]`, s("img", "", []string{"hero"}, []AttributeSelector{{Name: "srcset"}})},
		{"Pseudo Class", "li:first-child", SimpleSelector{TagName: "li", PseudoClasses: []string{"first-child"}}},
		{"Pseudo Element", "p::before", SimpleSelector{TagName: "p", PseudoElement: "before"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			group, err := ParseSelectorGroup(tt.input)
			require.NoError(t, err)
			require.Len(t, group, 1)
			require.NotEmpty(t, group[0].Selectors)
			assert.Equal(t, tt.expected, group[0].Selectors[0].SimpleSelector)
		})
	}
}

func TestParseSelectorGroupCombinators(t *testing.T) {
	group, err := ParseSelectorGroup("header > nav a, video + .caption, h2 ~ p")
	require.NoError(t, err)
	require.Len(t, group, 3)

	first := group[0].Selectors
	require.Len(t, first, 3)
	assert.Equal(t, CombinatorNone, first[0].Combinator)
	assert.Equal(t, CombinatorChild, first[1].Combinator)
	assert.Equal(t, CombinatorDescendant, first[2].Combinator)
	assert.Equal(t, CombinatorAdjacentSibling, group[1].Selectors[1].Combinator)
	assert.Equal(t, CombinatorGeneralSibling, group[2].Selectors[1].Combinator)

	_, err = ParseSelectorGroup("   ")
	assert.Error(t, err)
}

func TestSpecificity(t *testing.T) {
	tests := []struct {
		selector string
		a, b, c  int
	}{
		{"div", 0, 0, 1},
		{"#nav .item", 1, 1, 0},
		{"header.sticky[role=banner]", 0, 2, 1},
		{"ul li:first-child", 0, 1, 2},
		{"*", 0, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.selector, func(t *testing.T) {
			group, err := ParseSelectorGroup(tt.selector)
			require.NoError(t, err)
			a, b, c := group[0].CalculateSpecificity()
			assert.Equal(t, []int{tt.a, tt.b, tt.c}, []int{a, b, c})
		})
	}
}

func TestParseRuleSets(t *testing.T) {
	css := `
		/* comment */
		.panel { overflow: hidden; height: 200px !important; }
		header, nav { position: sticky; top: 0 }
		.broken { color }
	`
	sheet := NewParser(css).Parse()
	require.Len(t, sheet.Rules, 2)

	assert.Equal(t, []Declaration{
		d("overflow", "hidden", false),
		d("height", "200px", true),
	}, sheet.Rules[0].Declarations)
	assert.Len(t, sheet.Rules[1].SelectorGroups[0], 2)
}

func TestParseValuesWithParentheses(t *testing.T) {
	css := `.hero { background-image: url(data:image/png;base64,AAAA), url("a;b.png"); color: red }`
	sheet := NewParser(css).Parse()
	require.Len(t, sheet.Rules, 1)
	assert.Equal(t, []Declaration{
		d("background-image", `url(data:image/png;base64,AAAA), url("a;b.png")`, false),
		d("color", "red", false),
	}, sheet.Rules[0].Declarations)
}

func TestParseAtRules(t *testing.T) {
	css := `
		@charset "utf-8";
		@import url("https://fonts.example.com/css?family=Inter") screen;
		@import 'local.css';
		@font-face {
			font-family: "Inter";
			font-weight: 400;
			src: url(/fonts/inter-400.woff2) format("woff2");
		}
		@media (min-width: 600px) {
			.wide { overflow: auto }
			@supports (display: grid) {
				@font-face { font-family: Nested; src: url(nested.woff2); }
			}
		}
		@keyframes spin { from { opacity: 0 } to { opacity: 1 } }
		.after { height: 10px }
	`
	sheet := NewParser(css).Parse()

	names := make([]string, 0, len(sheet.AtRules))
	for _, ar := range sheet.AtRules {
		names = append(names, ar.Name)
	}
	assert.Equal(t, []string{"charset", "import", "import", "font-face", "media", "keyframes"}, names)
	assert.Equal(t, []string{"https://fonts.example.com/css?family=Inter", "local.css"}, sheet.Imports())

	faces := sheet.FontFaces()
	require.Len(t, faces, 2)
	assert.Contains(t, faces[0].Declarations, d("font-weight", "400", false))
	assert.Contains(t, faces[0].Raw, "inter-400.woff2")
	assert.Contains(t, faces[1].Declarations, d("font-family", "Nested", false))

	media := sheet.AtRules[4]
	require.NotNil(t, media.Body)
	assert.Equal(t, "(min-width: 600px)", media.Prelude)
	require.Len(t, media.Body.Rules, 1)

	// Rules after an opaque block still parse.
	require.Len(t, sheet.Rules, 1)
	assert.Equal(t, d("height", "10px", false), sheet.Rules[0].Declarations[0])
}

func TestParseDeclarationList(t *testing.T) {
	decls := ParseDeclarationList(`height: 100px; overflow-y:hidden;; background-image: url("x.png") !important`)
	assert.Equal(t, []Declaration{
		d("height", "100px", false),
		d("overflow-y", "hidden", false),
		d("background-image", `url("x.png")`, true),
	}, decls)
	assert.Empty(t, ParseDeclarationList("   "))
}

func TestImportURL(t *testing.T) {
	assert.Equal(t, "a.css", ImportURL(`url(a.css)`))
	assert.Equal(t, "b.css", ImportURL(`url('b.css') print`))
	assert.Equal(t, "c.css", ImportURL(`"c.css"`))
	assert.Equal(t, "", ImportURL(`nonsense`))
}

func TestUnescapeString(t *testing.T) {
	tests := map[string]string{
		`plain`:          "plain",
		`Emoji \"X\"`:    `Emoji "X"`,
		`A\a0 B`:         "A\u00a0B",
		`\1F600`:         "\U0001F600",
		`\0`:             "\uFFFD",
		`back\\slash`:    `back\slash`,
		"line\\\ncont":   "linecont",
		`trailing\`:      "trailing",
		`\000041 \41\42`: "AAB",
	}
	for in, want := range tests {
		assert.Equal(t, want, UnescapeString(in), in)
	}
}

func TestQuoteString(t *testing.T) {
	assert.Equal(t, `"Brand Sans"`, QuoteString("Brand Sans"))
	assert.Equal(t, `"Emoji \"X\""`, QuoteString(`Emoji "X"`))
	assert.Equal(t, `"a\\b"`, QuoteString(`a\b`))
	assert.Equal(t, `"A\a0 B"`, QuoteString("A\u00a0B"))
	assert.Equal(t, `"tab\9 "`, QuoteString("tab\t"))

	for _, s := range []string{`Emoji "X"`, "A\u00a0B", "x\x7fy", `a\b`, "日本語"} {
		assert.Equal(t, s, UnescapeString(Unquote(QuoteString(s))), s)
	}
}
