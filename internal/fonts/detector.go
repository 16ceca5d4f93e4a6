// internal/fonts/detector.go
package fonts

import (
	"context"
	"net/url"

	"go.uber.org/zap"

	"github.com/xkilldash9x/shotprep/internal/browser/dom"
	"github.com/xkilldash9x/shotprep/internal/browser/parser"
	"github.com/xkilldash9x/shotprep/internal/fetch"
)

// CSSTextFetcher downloads stylesheet text the page itself may not read.
type CSSTextFetcher interface {
	FetchCSSText(ctx context.Context, urls []string) ([]fetch.CSSTextResult, error)
}

// Detector collects @font-face rules from every stylesheet reachable from a
// document: inline sheets, readable linked sheets, opaque linked sheets
// fetched through the proxy, and @import chains of any depth.
type Detector struct {
	fetcher CSSTextFetcher
	logger  *zap.Logger
}

// NewDetector returns a Detector. A nil fetcher limits detection to
// readable sheets.
func NewDetector(fetcher CSSTextFetcher, logger *zap.Logger) *Detector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Detector{fetcher: fetcher, logger: logger.Named("fonts")}
}

type pendingSheet struct {
	url        string
	sourceType SourceType
}

// Detect returns the document's font faces in discovery order. Stylesheets
// that cannot be fetched are logged and skipped; the error is non-nil only
// when ctx is cancelled.
func (d *Detector) Detect(ctx context.Context, doc *dom.Document) ([]FontFace, error) {
	page := doc.URL()
	visited := make(map[string]bool)
	var faces []FontFace
	var queue []pendingSheet

	enqueue := func(ref string, base *url.URL, typ SourceType) {
		abs, err := base.Parse(ref)
		if err != nil {
			return
		}
		u := abs.String()
		if !visited[u] {
			visited[u] = true
			queue = append(queue, pendingSheet{url: u, sourceType: typ})
		}
	}

	for _, sheet := range doc.StyleSheets() {
		if !sheet.Readable {
			enqueue(sheet.Href, page, SourceLink)
			continue
		}
		loc := location{sourceType: SourceInline, base: page, page: page}
		if sheet.Kind == dom.SheetLink {
			visited[sheet.Href] = true
			loc.sourceType = SourceLink
			loc.sheetURL = sheet.Href
			if base, err := url.Parse(sheet.Href); err == nil {
				loc.base = base
			}
		}
		parsed := parser.NewParser(sheet.Text).Parse()
		for _, rule := range parsed.FontFaces() {
			if face, ok := newFace(rule.Declarations, rule.Raw, loc); ok {
				faces = append(faces, face)
			}
		}
		// Imported sheets are never held in memory, so they always go through the proxy.
		for _, imp := range parsed.Imports() {
			enqueue(imp, loc.base, SourceImported)
		}
	}

	for len(queue) > 0 {
		batch := queue
		queue = nil
		if d.fetcher == nil {
			d.logger.Debug("No stylesheet fetcher configured, skipping opaque stylesheets", zap.Int("count", len(batch)))
			break
		}
		urls := make([]string, len(batch))
		for i, p := range batch {
			urls[i] = p.url
		}
		results, err := d.fetcher.FetchCSSText(ctx, urls)
		if err != nil {
			if ctx.Err() != nil {
				return faces, ctx.Err()
			}
			d.logger.Warn("Stylesheet fetch failed", zap.Error(err), zap.Int("count", len(urls)))
			break
		}
		byURL := make(map[string]fetch.CSSTextResult, len(results))
		for _, r := range results {
			byURL[r.URL] = r
		}
		for _, p := range batch {
			r, ok := byURL[p.url]
			if !ok || !r.Success {
				d.logger.Debug("Stylesheet unavailable", zap.String("url", p.url), zap.String("error", r.Error))
				continue
			}
			base, _ := url.Parse(p.url)
			loc := location{sourceType: p.sourceType, sheetURL: p.url, base: base, page: page}
			faces = append(faces, extractFromText(r.CSSText, loc)...)
			for _, imp := range ExtractImports(r.CSSText) {
				enqueue(imp, base, SourceImported)
			}
		}
	}

	d.logger.Debug("Font faces detected", zap.Int("count", len(faces)))
	return faces, nil
}
