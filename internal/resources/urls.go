// internal/resources/urls.go
package resources

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/xkilldash9x/shotprep/internal/browser/dom"
)

// IsRelativeURL reports whether u needs resolving against the page location.
// Absolute http(s), protocol-relative, data:, blob:, fragment-only and blank
// values are not relative.
func IsRelativeURL(u string) bool {
	u = strings.TrimSpace(u)
	if u == "" {
		return false
	}
	lower := strings.ToLower(u)
	switch {
	case strings.HasPrefix(lower, "http://"), strings.HasPrefix(lower, "https://"):
		return false
	case strings.HasPrefix(lower, "//"):
		return false
	case strings.HasPrefix(lower, "data:"), strings.HasPrefix(lower, "blob:"):
		return false
	case strings.HasPrefix(lower, "#"):
		return false
	}
	return true
}

// IsCrossOrigin reports whether raw, resolved against base, points to a
// different http(s) origin. data:, blob:, fragment-only and unparsable values
// are never cross-origin.
func IsCrossOrigin(raw string, base *url.URL) bool {
	abs, ok := crossOriginURL(raw, base)
	return ok && abs != ""
}

// crossOriginURL resolves raw and returns the absolute URL when it is cross-origin.
func crossOriginURL(raw string, base *url.URL) (string, bool) {
	raw = strings.TrimSpace(raw)
	lower := strings.ToLower(raw)
	if raw == "" || strings.HasPrefix(lower, "data:") || strings.HasPrefix(lower, "blob:") || strings.HasPrefix(raw, "#") {
		return "", false
	}
	u, err := base.Parse(raw)
	if err != nil {
		return "", false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", false
	}
	if dom.Origin(u) == dom.Origin(base) {
		return "", false
	}
	return u.String(), true
}

// SrcsetCandidate is one entry of a srcset attribute.
type SrcsetCandidate struct {
	URL        string
	Descriptor string
}

// ParseSrcset splits a srcset value into its candidates. URLs may contain
// commas (data URIs); a candidate ends at whitespace after the URL, or at a
// trailing comma glued to it.
func ParseSrcset(v string) []SrcsetCandidate {
	var out []SrcsetCandidate
	i := 0
	for i < len(v) {
		for i < len(v) && (isSpace(v[i]) || v[i] == ',') {
			i++
		}
		if i >= len(v) {
			break
		}
		start := i
		for i < len(v) && !isSpace(v[i]) {
			i++
		}
		rawURL := v[start:i]
		if trimmed := strings.TrimRight(rawURL, ","); trimmed != rawURL {
			out = append(out, SrcsetCandidate{URL: trimmed})
			continue
		}
		descStart := i
		depth := 0
		for i < len(v) {
			c := v[i]
			if c == '(' {
				depth++
			} else if c == ')' && depth > 0 {
				depth--
			} else if c == ',' && depth == 0 {
				break
			}
			i++
		}
		out = append(out, SrcsetCandidate{URL: rawURL, Descriptor: strings.TrimSpace(v[descStart:i])})
		if i < len(v) {
			i++
		}
	}
	return out
}

// FormatSrcset serializes candidates.
func FormatSrcset(cands []SrcsetCandidate) string {
	parts := make([]string, 0, len(cands))
	for _, c := range cands {
		if c.Descriptor != "" {
			parts = append(parts, c.URL+" "+c.Descriptor)
		} else {
			parts = append(parts, c.URL)
		}
	}
	return strings.Join(parts, ", ")
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == '\f'
}

var cssURLPattern = regexp.MustCompile(`(?i)url\(\s*(?:"([^"]*)"|'([^']*)'|([^)"'\s]*))\s*\)`)

// ExtractCSSURLs returns the URLs referenced through url() in a CSS value, in order.
func ExtractCSSURLs(value string) []string {
	var out []string
	for _, m := range cssURLPattern.FindAllStringSubmatch(value, -1) {
		u := m[1] + m[2] + m[3]
		if u != "" {
			out = append(out, u)
		}
	}
	return out
}

// ReplaceCSSURLs rewrites every url() token whose URL has a replacement,
// keeping its quoting. Other text is left untouched.
func ReplaceCSSURLs(text string, replace func(u string) (string, bool)) string {
	return cssURLPattern.ReplaceAllStringFunc(text, func(token string) string {
		m := cssURLPattern.FindStringSubmatch(token)
		u := m[1] + m[2] + m[3]
		next, ok := replace(u)
		if !ok {
			return token
		}
		switch {
		case m[1] != "":
			return `url("` + next + `")`
		case m[2] != "":
			return `url('` + next + `')`
		default:
			return `url(` + next + `)`
		}
	})
}

// backgroundImageURLs returns the URLs used by background-image (or the
// background shorthand) in an inline style attribute.
func backgroundImageURLs(el *dom.Element) (prop string, urls []string) {
	for _, p := range []string{"background-image", "background"} {
		v := el.StyleProperty(p)
		if v == "" {
			continue
		}
		if found := ExtractCSSURLs(v); len(found) > 0 {
			return p, found
		}
	}
	return "", nil
}
