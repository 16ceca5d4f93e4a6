// browser/parser/css.go
package parser

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Property represents a CSS property (e.g., "overflow-y").
type Property string

// Value represents a CSS value (e.g., "hidden").
type Value string

// Declaration is a key-value pair (e.g., overflow: hidden).
type Declaration struct {
	Property  Property
	Value     Value
	Important bool
}

// RuleSet represents a set of declarations applied by one or more selector groups.
type RuleSet struct {
	SelectorGroups []SelectorGroup
	Declarations   []Declaration
}

// AtRule is an at-rule such as @font-face, @import or @media.
//
// Descriptor blocks (@font-face, @page) carry Declarations. Conditional group
// rules (@media, @supports, @layer, @document) carry a nested StyleSheet in Body.
// Statement rules (@import, @charset) have neither and only a Prelude.
// Raw holds the exact source text of the rule.
type AtRule struct {
	Name         string
	Prelude      string
	Declarations []Declaration
	Body         *StyleSheet
	Raw          string
}

// StyleSheet is the parsed CSSOM. Rules holds the style rules in source order,
// AtRules the at-rules in source order.
type StyleSheet struct {
	Rules   []RuleSet
	AtRules []AtRule
}

// FontFaces returns every @font-face rule in the sheet, including the ones
// nested inside conditional group rules, in source order.
func (s StyleSheet) FontFaces() []AtRule {
	var out []AtRule
	for _, ar := range s.AtRules {
		switch {
		case ar.Name == "font-face":
			out = append(out, ar)
		case ar.Body != nil:
			out = append(out, ar.Body.FontFaces()...)
		}
	}
	return out
}

// Imports returns the URLs referenced by top-level @import rules.
func (s StyleSheet) Imports() []string {
	var out []string
	for _, ar := range s.AtRules {
		if ar.Name != "import" {
			continue
		}
		if u := ImportURL(ar.Prelude); u != "" {
			out = append(out, u)
		}
	}
	return out
}

// ImportURL extracts the target URL from an @import prelude, which can be
// either url(...) or a bare quoted string, optionally followed by media queries.
func ImportURL(prelude string) string {
	p := strings.TrimSpace(prelude)
	if strings.HasPrefix(strings.ToLower(p), "url(") {
		end := strings.IndexByte(p, ')')
		if end < 0 {
			return ""
		}
		return Unquote(strings.TrimSpace(p[4:end]))
	}
	if p != "" && (p[0] == '"' || p[0] == '\'') {
		end := strings.IndexByte(p[1:], p[0])
		if end < 0 {
			return ""
		}
		return p[1 : end+1]
	}
	return ""
}

// Unquote strips one pair of matching single or double quotes.
func Unquote(s string) string {
	if len(s) >= 2 && (s[0] == '"' || s[0] == '\'') && s[len(s)-1] == s[0] {
		return s[1 : len(s)-1]
	}
	return s
}

// UnescapeString resolves CSS escapes in the body of a string or identifier.
// Hex escapes take up to six digits and swallow one following whitespace;
// an escaped newline is a line continuation.
func UnescapeString(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c != '\\' {
			b.WriteByte(c)
			continue
		}
		i++
		if i >= len(s) {
			break
		}
		if s[i] == '\n' {
			continue
		}
		j := i
		for j < len(s) && j-i < 6 && isHexDigit(s[j]) {
			j++
		}
		if j == i {
			r, size := utf8.DecodeRuneInString(s[i:])
			b.WriteRune(r)
			i += size - 1
			continue
		}
		n, _ := strconv.ParseUint(s[i:j], 16, 32)
		r := rune(n)
		if r == 0 || r > unicode.MaxRune || (r >= 0xD800 && r <= 0xDFFF) {
			r = utf8.RuneError
		}
		b.WriteRune(r)
		if j < len(s) && (s[j] == ' ' || s[j] == '\t' || s[j] == '\n') {
			j++
		}
		i = j - 1
	}
	return b.String()
}

// QuoteString serializes s as a double-quoted CSS string. Control and
// non-printable runes are written as hex escapes.
func QuoteString(s string) string {
	var b strings.Builder
	b.Grow(len(s) + 2)
	b.WriteByte('"')
	for _, r := range s {
		switch {
		case r == 0:
			b.WriteRune(utf8.RuneError)
		case r == '"' || r == '\\':
			b.WriteByte('\\')
			b.WriteRune(r)
		case r == ' ':
			b.WriteRune(r)
		case unicode.IsControl(r) || !unicode.IsPrint(r):
			fmt.Fprintf(&b, "\\%x ", r)
		default:
			b.WriteRune(r)
		}
	}
	b.WriteByte('"')
	return b.String()
}

func isHexDigit(c byte) bool {
	return ('0' <= c && c <= '9') || ('a' <= c && c <= 'f') || ('A' <= c && c <= 'F')
}

// SelectorGroup represents a comma-separated list of selectors (e.g., "h1, h2 .title").
type SelectorGroup []ComplexSelector

// ComplexSelector represents a sequence of simple selectors joined by combinators (e.g., "div > p").
type ComplexSelector struct {
	Selectors []SimpleSelectorWithCombinator
}

// SimpleSelectorWithCombinator pairs a simple selector with its preceding combinator.
type SimpleSelectorWithCombinator struct {
	Combinator     Combinator
	SimpleSelector SimpleSelector
}

// SimpleSelector represents the core components of a selector.
type SimpleSelector struct {
	TagName       string
	ID            string
	Classes       []string
	Attributes    []AttributeSelector
	PseudoClasses []string
	// PseudoElement is set for ::before and friends. Such selectors never
	// match an element node.
	PseudoElement string
}

// AttributeSelector represents a CSS attribute selector like `[href]` or `[target="_blank"]`.
type AttributeSelector struct {
	Name     string
	Operator string // "", "=", "~=", "|=", "^=", "$=", "*="
	Value    string
}

// Combinator defines the relationship between simple selectors.
type Combinator int

const (
	CombinatorNone            Combinator = iota // first selector
	CombinatorDescendant                        // space
	CombinatorChild                             // >
	CombinatorAdjacentSibling                   // +
	CombinatorGeneralSibling                    // ~
)

// CalculateSpecificity sums the specificity of every compound in the selector.
func (cs ComplexSelector) CalculateSpecificity() (int, int, int) {
	a, b, c := 0, 0, 0
	for _, s := range cs.Selectors {
		sa, sb, sc := s.SimpleSelector.CalculateSpecificity()
		a += sa
		b += sb
		c += sc
	}
	return a, b, c
}

// CalculateSpecificity calculates for a simple selector.
func (s SimpleSelector) CalculateSpecificity() (a, b, c int) {
	if s.ID != "" {
		a = 1
	}
	b = len(s.Classes) + len(s.Attributes) + len(s.PseudoClasses)
	if s.TagName != "" && s.TagName != "*" {
		c = 1
	}
	if s.PseudoElement != "" {
		c++
	}
	return a, b, c
}

// IsValid checks if the selector has at least one component.
func (s SimpleSelector) IsValid() bool {
	return s.TagName != "" || s.ID != "" || len(s.Classes) > 0 || len(s.Attributes) > 0 ||
		len(s.PseudoClasses) > 0 || s.PseudoElement != ""
}

// ParseSelectorGroup parses a standalone selector list as accepted by querySelectorAll.
func ParseSelectorGroup(selector string) (SelectorGroup, error) {
	p := NewParser(selector)
	groups := p.parseSelectorGroups()
	p.consumeWhitespace()
	if len(groups) == 0 || !p.eof() {
		return nil, fmt.Errorf("invalid selector %q", selector)
	}
	return groups[0], nil
}

// ParseDeclarationList parses the body of a style attribute ("a: b; c: d").
func ParseDeclarationList(text string) []Declaration {
	p := NewParser(text)
	var decls []Declaration
	for {
		p.consumeWhitespace()
		if p.eof() {
			break
		}
		if p.startsWith("/*") {
			p.skipComment()
			continue
		}
		if p.currentChar() == '}' || p.currentChar() == ';' {
			p.consumeChar()
			continue
		}
		prop, val, important := p.parseDeclaration()
		if prop != "" && val != "" {
			decls = append(decls, Declaration{
				Property:  Property(strings.ToLower(prop)),
				Value:     Value(val),
				Important: important,
			})
		}
	}
	return decls
}

// Parser holds the state of the CSS parser.
type Parser struct {
	input string
	pos   int
}

func NewParser(input string) *Parser {
	return &Parser{input: input, pos: 0}
}

// Parse analyzes the input CSS string and builds a StyleSheet.
func (p *Parser) Parse() StyleSheet {
	return p.parseRules(false)
}

// parseRules parses rules until EOF, or until the closing brace of the
// enclosing block when nested is true. The closing brace is consumed.
func (p *Parser) parseRules(nested bool) StyleSheet {
	var sheet StyleSheet
	for {
		p.consumeWhitespace()
		if p.eof() {
			break
		}
		if nested && p.currentChar() == '}' {
			p.consumeChar()
			break
		}
		if p.startsWith("/*") {
			p.skipComment()
			continue
		}
		// <!-- and --> are allowed at the top level of a style element.
		if p.startsWith("<!--") {
			p.consumeN(4)
			continue
		}
		if p.startsWith("-->") {
			p.consumeN(3)
			continue
		}

		if p.currentChar() == '@' {
			if ar, ok := p.parseAtRule(); ok {
				sheet.AtRules = append(sheet.AtRules, ar)
			}
			continue
		}

		selectorGroups := p.parseSelectorGroups()
		if len(selectorGroups) == 0 {
			p.skipTo('{', '}')
			if !p.eof() && p.currentChar() == '{' {
				p.consumeChar()
				p.skipBlock('{', '}')
			}
			continue
		}

		declarations, err := p.parseDeclarations()
		if err != nil {
			p.skipTo('{', '}')
			if !p.eof() && p.currentChar() == '{' {
				p.consumeChar()
				p.skipBlock('{', '}')
			}
			continue
		}
		if len(declarations) > 0 {
			sheet.Rules = append(sheet.Rules, RuleSet{SelectorGroups: selectorGroups, Declarations: declarations})
		}
	}
	return sheet
}

// parseAtRule parses an at-rule starting at '@'.
func (p *Parser) parseAtRule() (AtRule, bool) {
	start := p.pos
	p.consumeChar() // '@'
	name := strings.ToLower(p.parseIdentifier())

	preludeStart := p.pos
	for !p.eof() {
		ch := p.currentChar()
		if ch == '{' || ch == ';' || ch == '}' {
			break
		}
		if ch == '"' || ch == '\'' {
			p.skipQuotedString(ch)
			continue
		}
		if ch == '(' {
			p.consumeChar()
			p.skipBlock('(', ')')
			continue
		}
		p.pos++
	}
	ar := AtRule{Name: name, Prelude: strings.TrimSpace(p.input[preludeStart:p.pos])}

	if p.eof() || p.currentChar() == '}' {
		ar.Raw = p.input[start:p.pos]
		return ar, name != ""
	}
	if p.currentChar() == ';' {
		p.consumeChar()
		ar.Raw = p.input[start:p.pos]
		return ar, name != ""
	}

	// Block form.
	switch name {
	case "font-face", "page", "counter-style", "property", "font-palette-values":
		decls, _ := p.parseDeclarations()
		ar.Declarations = decls
	case "media", "supports", "layer", "document", "-moz-document", "container", "scope":
		p.consumeChar() // '{'
		body := p.parseRules(true)
		ar.Body = &body
	default:
		// @keyframes and unknown at-rules are kept opaque.
		p.consumeChar()
		p.skipBlock('{', '}')
	}
	ar.Raw = p.input[start:p.pos]
	return ar, name != ""
}

// parseSelectorGroups parses a comma-separated list of complex selectors.
func (p *Parser) parseSelectorGroups() []SelectorGroup {
	var selectorGroup SelectorGroup
	for {
		p.consumeWhitespace()
		if p.eof() || p.currentChar() == '{' {
			break
		}
		complex := p.parseComplexSelector()
		if len(complex.Selectors) > 0 {
			selectorGroup = append(selectorGroup, complex)
		}

		p.consumeWhitespace()
		if p.eof() || p.currentChar() == '{' {
			break
		}
		if p.currentChar() == ',' {
			p.consumeChar()
			continue
		}
		break
	}
	if len(selectorGroup) > 0 {
		return []SelectorGroup{selectorGroup}
	}
	return nil
}

// parseComplexSelector parses a sequence of simple selectors and combinators.
func (p *Parser) parseComplexSelector() ComplexSelector {
	var complexSelector ComplexSelector
	combinator := CombinatorNone

	for {
		p.consumeWhitespace()
		if p.eof() || p.currentChar() == '{' || p.currentChar() == ',' || p.currentChar() == '}' {
			break
		}

		before := p.pos
		simple, err := p.parseSimpleSelector()
		if err != nil {
			if p.pos == before {
				p.consumeChar()
			}
			p.skipTo(' ', '>', '+', '~', ',', '{')
			continue
		}
		complexSelector.Selectors = append(complexSelector.Selectors, SimpleSelectorWithCombinator{
			Combinator:     combinator,
			SimpleSelector: simple,
		})

		p.consumeWhitespace()
		if p.eof() || p.currentChar() == '{' || p.currentChar() == ',' || p.currentChar() == '}' {
			break
		}

		switch p.currentChar() {
		case '>':
			combinator = CombinatorChild
			p.consumeChar()
		case '+':
			combinator = CombinatorAdjacentSibling
			p.consumeChar()
		case '~':
			combinator = CombinatorGeneralSibling
			p.consumeChar()
		default:
			combinator = CombinatorDescendant
		}
	}
	return complexSelector
}

// parseSimpleSelector parses a compound selector (e.g., div#id.a[b]:first-child).
func (p *Parser) parseSimpleSelector() (SimpleSelector, error) {
	selector := SimpleSelector{}

	if !p.eof() {
		ch := p.currentChar()
		if ch == '*' {
			p.consumeChar()
			selector.TagName = "*"
		} else if isValidIdentifierStart(ch) {
			selector.TagName = strings.ToLower(p.parseIdentifier())
		}
	}

loop:
	for !p.eof() {
		switch p.currentChar() {
		case '#':
			p.consumeChar()
			selector.ID = p.parseIdentifier()
		case '.':
			p.consumeChar()
			selector.Classes = append(selector.Classes, p.parseIdentifier())
		case '[':
			p.consumeChar()
			attr, err := p.parseAttributeSelector()
			if err != nil {
				return selector, err
			}
			selector.Attributes = append(selector.Attributes, attr)
		case ':':
			p.consumeChar()
			if !p.eof() && p.currentChar() == ':' {
				p.consumeChar()
				selector.PseudoElement = strings.ToLower(p.parseIdentifier())
				continue
			}
			name := strings.ToLower(p.parseIdentifier())
			if !p.eof() && p.currentChar() == '(' {
				argStart := p.pos
				p.consumeChar()
				p.skipBlock('(', ')')
				name += p.input[argStart:p.pos]
			}
			switch name {
			case "before", "after", "first-line", "first-letter":
				selector.PseudoElement = name
			default:
				selector.PseudoClasses = append(selector.PseudoClasses, name)
			}
		default:
			break loop
		}
	}

	if !selector.IsValid() {
		return selector, fmt.Errorf("invalid simple selector")
	}
	return selector, nil
}

// parseAttributeSelector parses the contents of `[...]` for an attribute selector.
func (p *Parser) parseAttributeSelector() (AttributeSelector, error) {
	p.consumeWhitespace()
	name := strings.ToLower(p.parseIdentifier())
	p.consumeWhitespace()

	if p.eof() {
		return AttributeSelector{}, fmt.Errorf("unexpected EOF in attribute selector")
	}
	if p.currentChar() == ']' {
		p.consumeChar()
		return AttributeSelector{Name: name}, nil
	}

	var operator strings.Builder
	operator.WriteByte(p.consumeChar())
	if !p.eof() && p.currentChar() == '=' {
		operator.WriteByte(p.consumeChar())
	}
	p.consumeWhitespace()

	var value string
	if p.currentChar() == '"' || p.currentChar() == '\'' {
		quote := p.currentChar()
		p.consumeChar()
		start := p.pos
		for !p.eof() && p.currentChar() != quote {
			p.pos++
		}
		value = p.input[start:p.pos]
		if !p.eof() {
			p.consumeChar()
		}
	} else {
		value = p.parseIdentifier()
	}
	p.consumeWhitespace()
	// Case-sensitivity flags ([a="b" i]) are accepted and ignored.
	if !p.eof() && (p.currentChar() == 'i' || p.currentChar() == 's') {
		p.consumeChar()
		p.consumeWhitespace()
	}

	if p.eof() || p.currentChar() != ']' {
		return AttributeSelector{}, fmt.Errorf("expected ']' to close attribute selector")
	}
	p.consumeChar()

	return AttributeSelector{Name: name, Operator: operator.String(), Value: value}, nil
}

// parseDeclarations parses the content within { ... }.
func (p *Parser) parseDeclarations() ([]Declaration, error) {
	p.consumeWhitespace()
	if p.eof() || p.currentChar() != '{' {
		return nil, fmt.Errorf("expected '{' at start of declarations")
	}
	p.consumeChar()

	var declarations []Declaration
	for {
		p.consumeWhitespace()
		if p.eof() || p.currentChar() == '}' {
			break
		}
		if p.startsWith("/*") {
			p.skipComment()
			continue
		}
		if p.currentChar() == ';' {
			p.consumeChar()
			continue
		}

		property, value, important := p.parseDeclaration()
		if property != "" && value != "" {
			declarations = append(declarations, Declaration{
				Property:  Property(strings.ToLower(property)),
				Value:     Value(value),
				Important: important,
			})
		}
	}

	if !p.eof() && p.currentChar() == '}' {
		p.consumeChar()
	}
	return declarations, nil
}

// parseDeclaration parses a single 'property: value;' pair.
func (p *Parser) parseDeclaration() (prop, val string, important bool) {
	if !isValidIdentifierStart(p.currentChar()) {
		p.skipTo(';', '}')
		if !p.eof() && p.currentChar() == ';' {
			p.consumeChar()
		}
		return
	}
	prop = p.parseIdentifier()
	p.consumeWhitespace()

	if p.eof() || p.currentChar() != ':' {
		p.skipTo(';', '}')
		if !p.eof() && p.currentChar() == ';' {
			p.consumeChar()
		}
		return
	}
	p.consumeChar()
	p.consumeWhitespace()

	val = p.parseValue()

	lower := strings.ToLower(val)
	if idx := strings.LastIndex(lower, "!important"); idx >= 0 && strings.TrimSpace(lower[idx+len("!important"):]) == "" {
		important = true
		val = strings.TrimSpace(val[:idx])
	}

	p.consumeWhitespace()
	if !p.eof() && p.currentChar() == ';' {
		p.consumeChar()
	}
	return
}

// parseValue reads a CSS value until a delimiter, honoring quotes and parentheses
// so that `url(data:...;base64,...)` stays intact.
func (p *Parser) parseValue() string {
	start := p.pos
	for !p.eof() {
		ch := p.currentChar()
		if ch == ';' || ch == '}' {
			break
		}
		if ch == '"' || ch == '\'' {
			p.skipQuotedString(ch)
			continue
		}
		if ch == '(' {
			p.consumeChar()
			p.skipParenthesized()
			continue
		}
		p.pos++
	}
	return strings.TrimSpace(p.input[start:p.pos])
}

// skipParenthesized consumes up to and including the ')' matching an already
// consumed '(' while treating quoted strings as opaque.
func (p *Parser) skipParenthesized() {
	depth := 1
	for !p.eof() {
		ch := p.currentChar()
		switch ch {
		case '"', '\'':
			p.skipQuotedString(ch)
			continue
		case '(':
			depth++
		case ')':
			depth--
			if depth == 0 {
				p.consumeChar()
				return
			}
		}
		p.pos++
	}
}

// --- Lexer-like Helpers ---

func (p *Parser) eof() bool {
	return p.pos >= len(p.input)
}

func (p *Parser) currentChar() byte {
	if p.eof() {
		return 0
	}
	return p.input[p.pos]
}

func (p *Parser) consumeChar() byte {
	ch := p.currentChar()
	if !p.eof() {
		p.pos++
	}
	return ch
}

func (p *Parser) consumeN(n int) {
	p.pos += n
	if p.pos > len(p.input) {
		p.pos = len(p.input)
	}
}

func (p *Parser) consumeWhitespace() {
	for !p.eof() && isWhitespace(p.currentChar()) {
		p.pos++
	}
}

func (p *Parser) startsWith(s string) bool {
	if p.pos+len(s) > len(p.input) {
		return false
	}
	return p.input[p.pos:p.pos+len(s)] == s
}

func (p *Parser) skipComment() {
	p.pos += 2
	endIndex := strings.Index(p.input[p.pos:], "*/")
	if endIndex == -1 {
		p.pos = len(p.input)
	} else {
		p.pos += endIndex + 2
	}
}

func (p *Parser) skipTo(targets ...byte) {
	for !p.eof() {
		ch := p.currentChar()
		for _, target := range targets {
			if ch == target {
				return
			}
		}
		p.pos++
	}
}

// skipBlock consumes through the close byte matching an already consumed open byte.
func (p *Parser) skipBlock(open, close byte) {
	depth := 1
	for !p.eof() {
		c := p.currentChar()
		if c == '"' || c == '\'' {
			p.skipQuotedString(c)
			continue
		}
		if p.startsWith("/*") {
			p.skipComment()
			continue
		}
		p.pos++
		if c == open {
			depth++
		} else if c == close {
			depth--
			if depth == 0 {
				return
			}
		}
	}
}

func (p *Parser) skipQuotedString(quote byte) {
	p.consumeChar()
	for !p.eof() {
		ch := p.consumeChar()
		if ch == '\\' {
			p.consumeChar()
		} else if ch == quote {
			return
		}
	}
}

func (p *Parser) parseIdentifier() string {
	start := p.pos
	for !p.eof() {
		ch := p.currentChar()
		if ch == '\\' && p.pos+1 < len(p.input) {
			p.pos += 2
			continue
		}
		if !isValidIdentifierChar(ch) {
			break
		}
		p.pos++
	}
	return p.input[start:p.pos]
}

func isWhitespace(ch byte) bool {
	return ch == ' ' || ch == '\t' || ch == '\n' || ch == '\r' || ch == '\f'
}

func isValidIdentifierStart(ch byte) bool {
	return (ch >= 'a' && ch <= 'z') || (ch >= 'A' && ch <= 'Z') || ch == '_' || ch == '-' || ch >= 0x80
}

func isValidIdentifierChar(ch byte) bool {
	return isValidIdentifierStart(ch) || (ch >= '0' && ch <= '9')
}
