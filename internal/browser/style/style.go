// internal/browser/style/style.go
package style

import (
	"sort"
	"strconv"
	"strings"

	"golang.org/x/net/html"

	"github.com/xkilldash9x/shotprep/internal/browser/parser"
)

const (
	BaseFontSize      = 16.0 // Default root font size.
	DefaultLineHeight = 1.2  // Multiplier for 'line-height: normal'.
)

// DefaultUserAgentCSS is the minimal user agent sheet. Only properties that
// influence clipping, positioning and block sizing are declared.
const DefaultUserAgentCSS = `
html, body, div, p, h1, h2, h3, h4, h5, h6, ul, ol, li, form, header, footer,
section, article, nav, main, aside, figure, blockquote, pre, table, address, dl, dd, dt {
    display: block;
}
head, script, style, link, meta, title, template, noscript { display: none; }
li { display: list-item; }
img, video, iframe, canvas, svg, input, button, select, textarea, audio { display: inline-block; }
iframe { width: 300px; height: 150px; }
video { width: 300px; height: 150px; }
audio { width: 300px; height: 54px; }
textarea { overflow: auto; }
select { overflow: hidden; }
h1 { font-size: 2em; }
h2 { font-size: 1.5em; }
`

// inherited lists the properties propagated from parent to child when not set.
var inherited = map[parser.Property]bool{
	"font-size":   true,
	"line-height": true,
	"visibility":  true,
	"color":       true,
}

// initialValues are reported for properties nothing in the cascade set.
var initialValues = map[parser.Property]string{
	"position":   "static",
	"overflow":   "visible",
	"overflow-x": "visible",
	"overflow-y": "visible",
	"height":     "auto",
	"min-height": "auto",
	"max-height": "none",
	"width":      "auto",
	"top":        "auto",
	"bottom":     "auto",
	"left":       "auto",
	"right":      "auto",
	"z-index":    "auto",
	"display":    "inline",
	"visibility": "visible",
	"font-size":  "16px",
}

// Engine computes styles for nodes of one document.
type Engine struct {
	userAgentSheets []parser.StyleSheet
	authorSheets    []parser.StyleSheet
	viewportWidth   float64
	viewportHeight  float64
}

// NewEngine creates a styling engine preloaded with the user agent sheet.
func NewEngine() *Engine {
	uaSheet := parser.NewParser(DefaultUserAgentCSS).Parse()
	return &Engine{
		userAgentSheets: []parser.StyleSheet{uaSheet},
		viewportWidth:   1366,
		viewportHeight:  768,
	}
}

// AddAuthorSheet adds a stylesheet provided by the page author.
func (se *Engine) AddAuthorSheet(sheet parser.StyleSheet) {
	se.authorSheets = append(se.authorSheets, sheet)
}

// ResetAuthorSheets drops every author sheet, typically before re-reading a
// document whose <style> elements changed.
func (se *Engine) ResetAuthorSheets() {
	se.authorSheets = nil
}

// SetViewport sets the dimensions used for viewport-relative units.
func (se *Engine) SetViewport(width, height float64) {
	se.viewportWidth = width
	se.viewportHeight = height
}

// Viewport returns the configured viewport.
func (se *Engine) Viewport() (float64, float64) {
	return se.viewportWidth, se.viewportHeight
}

// ComputedStyle is the resolved value of every property the cascade produced for one element.
type ComputedStyle map[parser.Property]parser.Value

// Get returns the value of the property, falling back to its initial value.
func (cs ComputedStyle) Get(property string) string {
	if v, ok := cs[parser.Property(property)]; ok {
		return string(v)
	}
	return initialValues[parser.Property(property)]
}

// Clone copies the map so callers can keep a stable snapshot.
func (cs ComputedStyle) Clone() ComputedStyle {
	out := make(ComputedStyle, len(cs))
	for k, v := range cs {
		out[k] = v
	}
	return out
}

type StyleOrigin int

const (
	OriginUserAgent StyleOrigin = iota
	OriginAuthor
	OriginInline
)

type DeclarationWithContext struct {
	Declaration parser.Declaration
	Specificity struct{ A, B, C int }
	Origin      StyleOrigin
	Order       int
}

// Compute resolves the style of node including inherited properties from its ancestors.
func (se *Engine) Compute(node *html.Node) ComputedStyle {
	own := se.CalculateStyles(node)
	if node.Parent == nil || node.Parent.Type != html.ElementNode {
		if _, ok := own["display"]; !ok {
			own["display"] = parser.Value(defaultDisplay(node))
		}
		return own
	}
	parent := se.Compute(node.Parent)
	for prop := range inherited {
		if v, ok := own[prop]; !ok || v == "inherit" {
			if pv, ok := parent[prop]; ok {
				own[prop] = pv
			}
		}
	}
	if _, ok := own["display"]; !ok {
		own["display"] = parser.Value(defaultDisplay(node))
	}
	return own
}

// CalculateStyles runs the cascade for node over the user agent sheets, the
// author sheets and the node's style attribute. Inheritance is not applied.
func (se *Engine) CalculateStyles(node *html.Node) ComputedStyle {
	var declarations []DeclarationWithContext
	order := 0

	processSheets := func(sheets []parser.StyleSheet, origin StyleOrigin) {
		for _, sheet := range sheets {
			for _, rule := range sheet.Rules {
				for _, selectorGroup := range rule.SelectorGroups {
					matching, ok := se.matches(node, selectorGroup)
					if !ok {
						continue
					}
					a, b, c := matching.CalculateSpecificity()
					for _, decl := range rule.Declarations {
						declarations = append(declarations, DeclarationWithContext{
							Declaration: decl,
							Specificity: struct{ A, B, C int }{a, b, c},
							Origin:      origin,
							Order:       order,
						})
						order++
					}
					break
				}
			}
		}
	}

	processSheets(se.userAgentSheets, OriginUserAgent)
	processSheets(se.authorSheets, OriginAuthor)

	for _, attr := range node.Attr {
		if attr.Key != "style" {
			continue
		}
		for _, decl := range parser.ParseDeclarationList(attr.Val) {
			declarations = append(declarations, DeclarationWithContext{
				Declaration: decl,
				Specificity: struct{ A, B, C int }{1, 0, 0},
				Origin:      OriginInline,
				Order:       order,
			})
			order++
		}
	}

	sort.SliceStable(declarations, func(i, j int) bool {
		d1, d2 := declarations[i], declarations[j]
		p1, p2 := calculateCascadePriority(d1), calculateCascadePriority(d2)
		if p1 != p2 {
			return p1 < p2
		}
		s1, s2 := d1.Specificity, d2.Specificity
		if s1.A != s2.A {
			return s1.A < s2.A
		}
		if s1.B != s2.B {
			return s1.B < s2.B
		}
		if s1.C != s2.C {
			return s1.C < s2.C
		}
		return d1.Order < d2.Order
	})

	styles := make(ComputedStyle)
	for _, declCtx := range declarations {
		expandInto(styles, declCtx.Declaration.Property, declCtx.Declaration.Value)
	}
	return styles
}

// expandInto writes a declaration, expanding the shorthands whose longhands
// the fixers read. A later longhand overrides an earlier shorthand and vice versa.
func expandInto(styles ComputedStyle, prop parser.Property, val parser.Value) {
	styles[prop] = val
	switch prop {
	case "overflow":
		parts := strings.Fields(string(val))
		switch len(parts) {
		case 1:
			styles["overflow-x"], styles["overflow-y"] = parser.Value(parts[0]), parser.Value(parts[0])
		case 2:
			styles["overflow-x"], styles["overflow-y"] = parser.Value(parts[0]), parser.Value(parts[1])
		}
	case "inset":
		parts := strings.Fields(string(val))
		if len(parts) == 0 {
			return
		}
		sides := expand1To4(parts)
		styles["top"], styles["right"], styles["bottom"], styles["left"] = sides[0], sides[1], sides[2], sides[3]
	}
}

func expand1To4(parts []string) [4]parser.Value {
	v := func(i int) parser.Value { return parser.Value(parts[i]) }
	switch len(parts) {
	case 1:
		return [4]parser.Value{v(0), v(0), v(0), v(0)}
	case 2:
		return [4]parser.Value{v(0), v(1), v(0), v(1)}
	case 3:
		return [4]parser.Value{v(0), v(1), v(2), v(1)}
	default:
		return [4]parser.Value{v(0), v(1), v(2), v(3)}
	}
}

func calculateCascadePriority(d DeclarationWithContext) int {
	isImportant := d.Declaration.Important
	switch d.Origin {
	case OriginUserAgent:
		if isImportant {
			return 5
		}
		return 1
	case OriginAuthor:
		if isImportant {
			return 4
		}
		return 2
	case OriginInline:
		if isImportant {
			return 4
		}
		return 3
	}
	return 0
}

// Matches reports whether node matches any selector in group.
func (se *Engine) Matches(node *html.Node, group parser.SelectorGroup) bool {
	_, ok := se.matches(node, group)
	return ok
}

func (se *Engine) matches(node *html.Node, group parser.SelectorGroup) (*parser.ComplexSelector, bool) {
	if node.Type != html.ElementNode {
		return nil, false
	}
	for i := range group {
		complexSelector := group[i]
		currentIndex := len(complexSelector.Selectors) - 1
		if currentIndex < 0 {
			continue
		}
		if se.recursiveMatch(node, complexSelector, currentIndex) {
			return &complexSelector, true
		}
	}
	return nil, false
}

func (se *Engine) recursiveMatch(node *html.Node, complexSelector parser.ComplexSelector, index int) bool {
	if node == nil || index < 0 || node.Type != html.ElementNode {
		return false
	}
	current := complexSelector.Selectors[index]
	if !se.matchesSimple(node, current.SimpleSelector) {
		return false
	}
	if index == 0 {
		return true
	}
	nextIndex := index - 1
	switch current.Combinator {
	case parser.CombinatorDescendant:
		for parent := node.Parent; parent != nil; parent = parent.Parent {
			if se.recursiveMatch(parent, complexSelector, nextIndex) {
				return true
			}
		}
		return false
	case parser.CombinatorChild:
		return se.recursiveMatch(node.Parent, complexSelector, nextIndex)
	case parser.CombinatorAdjacentSibling:
		return se.recursiveMatch(previousElementSibling(node), complexSelector, nextIndex)
	case parser.CombinatorGeneralSibling:
		for sibling := previousElementSibling(node); sibling != nil; sibling = previousElementSibling(sibling) {
			if se.recursiveMatch(sibling, complexSelector, nextIndex) {
				return true
			}
		}
		return false
	case parser.CombinatorNone:
		return true
	}
	return false
}

func previousElementSibling(node *html.Node) *html.Node {
	for sibling := node.PrevSibling; sibling != nil; sibling = sibling.PrevSibling {
		if sibling.Type == html.ElementNode {
			return sibling
		}
	}
	return nil
}

func nextElementSibling(node *html.Node) *html.Node {
	for sibling := node.NextSibling; sibling != nil; sibling = sibling.NextSibling {
		if sibling.Type == html.ElementNode {
			return sibling
		}
	}
	return nil
}

// typeIndex is the 1-based position of node among its siblings with the same tag.
func typeIndex(node *html.Node) int {
	index := 1
	for prev := node.PrevSibling; prev != nil; prev = prev.PrevSibling {
		if prev.Type == html.ElementNode && prev.Data == node.Data {
			index++
		}
	}
	return index
}

func (se *Engine) matchesSimple(node *html.Node, selector parser.SimpleSelector) bool {
	if selector.PseudoElement != "" {
		return false
	}
	if selector.TagName != "" && selector.TagName != "*" && strings.ToLower(node.Data) != selector.TagName {
		return false
	}
	if selector.ID != "" && attrValue(node, "id") != selector.ID {
		return false
	}
	if len(selector.Classes) > 0 {
		nodeClasses := strings.Fields(attrValue(node, "class"))
		for _, required := range selector.Classes {
			if !containsString(nodeClasses, required) {
				return false
			}
		}
	}
	for _, attrSel := range selector.Attributes {
		if !matchesAttribute(node, attrSel) {
			return false
		}
	}
	for _, pseudo := range selector.PseudoClasses {
		if !se.matchesPseudo(node, pseudo) {
			return false
		}
	}
	return true
}

func (se *Engine) matchesPseudo(node *html.Node, pseudo string) bool {
	switch {
	case pseudo == "first-child":
		return previousElementSibling(node) == nil
	case pseudo == "last-child":
		return nextElementSibling(node) == nil
	case pseudo == "only-child":
		return previousElementSibling(node) == nil && nextElementSibling(node) == nil
	case pseudo == "root":
		return node.Parent != nil && node.Parent.Type == html.DocumentNode
	case pseudo == "empty":
		for c := node.FirstChild; c != nil; c = c.NextSibling {
			if c.Type == html.ElementNode || (c.Type == html.TextNode && c.Data != "") {
				return false
			}
		}
		return true
	case strings.HasPrefix(pseudo, "nth-of-type(") && strings.HasSuffix(pseudo, ")"):
		n, err := strconv.Atoi(strings.TrimSpace(pseudo[len("nth-of-type(") : len(pseudo)-1]))
		if err != nil {
			return false
		}
		return typeIndex(node) == n
	case strings.HasPrefix(pseudo, "not(") && strings.HasSuffix(pseudo, ")"):
		inner, err := parser.ParseSelectorGroup(pseudo[4 : len(pseudo)-1])
		if err != nil {
			return false
		}
		return !se.Matches(node, inner)
	}
	// Dynamic states (:hover, :focus, ...) never match a static snapshot.
	return false
}

func matchesAttribute(node *html.Node, sel parser.AttributeSelector) bool {
	var actualValue string
	found := false
	for _, attr := range node.Attr {
		if strings.EqualFold(attr.Key, sel.Name) {
			actualValue = attr.Val
			found = true
			break
		}
	}

	switch sel.Operator {
	case "":
		return found
	case "=":
		return found && actualValue == sel.Value
	case "~=":
		return found && containsString(strings.Fields(actualValue), sel.Value)
	case "|=":
		return found && (actualValue == sel.Value || strings.HasPrefix(actualValue, sel.Value+"-"))
	case "^=":
		return found && sel.Value != "" && strings.HasPrefix(actualValue, sel.Value)
	case "$=":
		return found && sel.Value != "" && strings.HasSuffix(actualValue, sel.Value)
	case "*=":
		return found && sel.Value != "" && strings.Contains(actualValue, sel.Value)
	default:
		return false
	}
}

func attrValue(node *html.Node, key string) string {
	for _, attr := range node.Attr {
		if attr.Key == key {
			return attr.Val
		}
	}
	return ""
}

func containsString(list []string, want string) bool {
	for _, s := range list {
		if s == want {
			return true
		}
	}
	return false
}

func defaultDisplay(node *html.Node) string {
	if node.Type != html.ElementNode {
		return "inline"
	}
	switch strings.ToLower(node.Data) {
	case "html", "body", "div", "p", "h1", "h2", "h3", "h4", "h5", "h6",
		"ul", "ol", "form", "header", "footer", "section", "article", "nav", "main", "aside":
		return "block"
	case "li":
		return "list-item"
	case "table":
		return "table"
	case "img", "video", "iframe", "input", "button", "textarea", "select":
		return "inline-block"
	default:
		return "inline"
	}
}

// ParseLengthWithUnits converts a CSS length to pixels. Percentages resolve
// against referenceDimension. Unresolvable values yield 0.
func ParseLengthWithUnits(value string, parentFontSize, rootFontSize, referenceDimension, viewportWidth, viewportHeight float64) float64 {
	value = strings.TrimSpace(strings.ToLower(value))
	if value == "" || value == "auto" || value == "normal" || value == "none" {
		return 0.0
	}

	parseNumeric := func(s, suffix string) (float64, bool) {
		v, err := strconv.ParseFloat(strings.TrimSuffix(s, suffix), 64)
		return v, err == nil
	}

	switch {
	case strings.HasSuffix(value, "%"):
		if percent, ok := parseNumeric(value, "%"); ok {
			return referenceDimension * (percent / 100.0)
		}
	case strings.HasSuffix(value, "px"):
		if px, ok := parseNumeric(value, "px"); ok {
			return px
		}
	case strings.HasSuffix(value, "rem"):
		if v, ok := parseNumeric(value, "rem"); ok {
			return v * rootFontSize
		}
	case strings.HasSuffix(value, "em"):
		if v, ok := parseNumeric(value, "em"); ok {
			return v * parentFontSize
		}
	case strings.HasSuffix(value, "vmin"):
		if v, ok := parseNumeric(value, "vmin"); ok {
			return min(viewportWidth, viewportHeight) * (v / 100.0)
		}
	case strings.HasSuffix(value, "vmax"):
		if v, ok := parseNumeric(value, "vmax"); ok {
			return max(viewportWidth, viewportHeight) * (v / 100.0)
		}
	case strings.HasSuffix(value, "vw"):
		if v, ok := parseNumeric(value, "vw"); ok {
			return viewportWidth * (v / 100.0)
		}
	case strings.HasSuffix(value, "vh"):
		if v, ok := parseNumeric(value, "vh"); ok {
			return viewportHeight * (v / 100.0)
		}
	}
	if v, err := strconv.ParseFloat(value, 64); err == nil {
		return v
	}
	return 0.0
}

// ParseAbsoluteLength converts a length that does not depend on context (px or unitless).
func ParseAbsoluteLength(value string) float64 {
	return ParseLengthWithUnits(value, BaseFontSize, BaseFontSize, 0, 0, 0)
}

// FontSize returns the computed font size in pixels.
func (cs ComputedStyle) FontSize() float64 {
	fs := ParseAbsoluteLength(cs.Get("font-size"))
	if fs <= 0 {
		return BaseFontSize
	}
	return fs
}

// LineHeight returns the used line height in pixels.
func (cs ComputedStyle) LineHeight() float64 {
	fs := cs.FontSize()
	v := strings.TrimSpace(cs.Get("line-height"))
	if v == "" || v == "normal" {
		return fs * DefaultLineHeight
	}
	if n, err := strconv.ParseFloat(v, 64); err == nil {
		return n * fs
	}
	if px := ParseLengthWithUnits(v, fs, BaseFontSize, fs, 0, 0); px > 0 {
		return px
	}
	return fs * DefaultLineHeight
}
