package fonts

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/xkilldash9x/shotprep/internal/browser/dom"
	"github.com/xkilldash9x/shotprep/internal/browser/parser"
)

// SourceType records where a @font-face rule was found.
type SourceType string

const (
	SourceInline   SourceType = "inline-style"
	SourceLink     SourceType = "stylesheet"
	SourceFetched  SourceType = "fetched-stylesheet"
	SourceImported SourceType = "import"
)

// FontURL is one url() entry of a src descriptor.
type FontURL struct {
	// URL is absolute, resolved against the stylesheet that declared it.
	URL           string
	Format        string
	IsCrossOrigin bool
}

// FontFace is a discovered @font-face rule. Every face is embedded, whatever
// its origin: the renderer loads the page from another origin, so same-origin
// fonts become cross-origin there too.
type FontFace struct {
	Family       string
	Weight       string
	Style        string
	Display      string
	UnicodeRange string
	URLs         []FontURL
	OriginalCSS  string
	SourceType   SourceType
	SourceURL    string
}

var srcPattern = regexp.MustCompile(`(?i)url\(\s*(?:"([^"]*)"|'([^']*)'|([^)"'\s]*))\s*\)(?:\s*format\(\s*(?:"([^"]*)"|'([^']*)'|([^)"'\s]*))\s*\))?`)

// SrcEntry is a raw (url, format) pair from a src descriptor.
type SrcEntry struct {
	URL    string
	Format string
}

// ParseSrc extracts the url() entries of a src descriptor. local() entries
// are skipped.
func ParseSrc(src string) []SrcEntry {
	var out []SrcEntry
	for _, m := range srcPattern.FindAllStringSubmatch(src, -1) {
		u := parser.UnescapeString(m[1] + m[2] + m[3])
		if u == "" {
			continue
		}
		out = append(out, SrcEntry{URL: u, Format: parser.UnescapeString(m[4] + m[5] + m[6])})
	}
	return out
}

// location is the stylesheet a rule came from.
type location struct {
	sourceType SourceType
	sheetURL   string
	base       *url.URL
	page       *url.URL
}

func newFace(decls []parser.Declaration, raw string, loc location) (FontFace, bool) {
	face := FontFace{
		OriginalCSS: strings.TrimSpace(raw),
		SourceType:  loc.sourceType,
		SourceURL:   loc.sheetURL,
	}
	var src string
	for _, d := range decls {
		v := strings.TrimSpace(string(d.Value))
		switch d.Property {
		case "font-family":
			face.Family = parser.UnescapeString(parser.Unquote(v))
		case "font-weight":
			face.Weight = v
		case "font-style":
			face.Style = v
		case "font-display":
			face.Display = v
		case "unicode-range":
			face.UnicodeRange = v
		case "src":
			src = v
		}
	}
	if face.Family == "" || src == "" {
		return FontFace{}, false
	}
	for _, e := range ParseSrc(src) {
		face.URLs = append(face.URLs, resolveFontURL(e, loc))
	}
	return face, len(face.URLs) > 0
}

func resolveFontURL(e SrcEntry, loc location) FontURL {
	fu := FontURL{URL: e.URL, Format: e.Format}
	if strings.HasPrefix(strings.ToLower(e.URL), "data:") {
		return fu
	}
	if loc.base != nil {
		if abs, err := loc.base.Parse(e.URL); err == nil {
			fu.URL = abs.String()
			fu.IsCrossOrigin = dom.Origin(abs) != dom.Origin(loc.page)
		}
	}
	return fu
}

// ExtractFontFacesFromCSSText scans raw stylesheet text for @font-face
// blocks, including ones nested in @media or @supports. Relative font URLs
// resolve against sheetURL; cross-origin flags compare against page.
func ExtractFontFacesFromCSSText(cssText, sheetURL string, page *url.URL) []FontFace {
	loc := location{sourceType: SourceFetched, sheetURL: sheetURL, page: page}
	if base, err := url.Parse(sheetURL); err == nil && base.IsAbs() {
		loc.base = base
	} else {
		loc.base = page
	}
	return extractFromText(cssText, loc)
}

func extractFromText(cssText string, loc location) []FontFace {
	var out []FontFace
	for _, block := range fontFaceBlocks(cssText) {
		if face, ok := newFace(parser.ParseDeclarationList(block.body), block.raw, loc); ok {
			out = append(out, face)
		}
	}
	return out
}

type textBlock struct {
	raw  string
	body string
}

var fontFaceKeyword = regexp.MustCompile(`(?i)@font-face\s*\{`)

// fontFaceBlocks finds @font-face blocks by brace depth so that nested
// braces and at-rules never cut a block short. Comments and quoted strings
// are skipped while counting.
func fontFaceBlocks(css string) []textBlock {
	css = stripComments(css)
	var out []textBlock
	pos := 0
	for pos < len(css) {
		loc := fontFaceKeyword.FindStringIndex(css[pos:])
		if loc == nil {
			break
		}
		start := pos + loc[0]
		open := pos + loc[1] - 1
		end := matchBrace(css, open)
		if end < 0 {
			break
		}
		out = append(out, textBlock{raw: css[start : end+1], body: css[open+1 : end]})
		pos = end + 1
	}
	return out
}

// matchBrace returns the index of the brace closing the one at open, or -1.
func matchBrace(s string, open int) int {
	depth := 0
	for i := open; i < len(s); i++ {
		switch c := s[i]; c {
		case '"', '\'':
			j := i + 1
			for j < len(s) && s[j] != c {
				if s[j] == '\\' {
					j++
				}
				j++
			}
			i = j
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

func stripComments(s string) string {
	if !strings.Contains(s, "/*") {
		return s
	}
	var b strings.Builder
	for {
		i := strings.Index(s, "/*")
		if i < 0 {
			b.WriteString(s)
			break
		}
		b.WriteString(s[:i])
		j := strings.Index(s[i+2:], "*/")
		if j < 0 {
			break
		}
		s = s[i+2+j+2:]
	}
	return b.String()
}

var importPattern = regexp.MustCompile(`(?i)@import\s+(?:url\(\s*(?:"([^"]*)"|'([^']*)'|([^)"'\s]*))\s*\)|"([^"]*)"|'([^']*)')`)

// ExtractImports returns the @import targets in raw stylesheet text.
func ExtractImports(cssText string) []string {
	var out []string
	for _, m := range importPattern.FindAllStringSubmatch(stripComments(cssText), -1) {
		if u := m[1] + m[2] + m[3] + m[4] + m[5]; u != "" {
			out = append(out, u)
		}
	}
	return out
}
