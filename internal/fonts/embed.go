// -- internal/fonts/embed.go --
package fonts

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/xkilldash9x/shotprep/internal/browser/dom"
	"github.com/xkilldash9x/shotprep/internal/browser/parser"
	"github.com/xkilldash9x/shotprep/internal/fetch"
)

// StyleMarker marks the <style> element holding embedded font faces.
const StyleMarker = "data-shotprep-fonts"

// ResourceFetcher downloads binaries and returns them as data URIs.
type ResourceFetcher interface {
	FetchResources(ctx context.Context, reqs []fetch.ResourceRequest) (*fetch.BatchResult, error)
}

// FontURLs returns the distinct non-data URLs referenced by faces.
func FontURLs(faces []FontFace) []string {
	seen := make(map[string]bool)
	var out []string
	for _, f := range faces {
		for _, u := range f.URLs {
			if strings.HasPrefix(strings.ToLower(u.URL), "data:") || seen[u.URL] {
				continue
			}
			seen[u.URL] = true
			out = append(out, u.URL)
		}
	}
	return out
}

// GenerateFontFaceCSS writes one @font-face rule per face. Each source uses
// its data URI when one was fetched and the original URL otherwise, so a
// failed download degrades the rule instead of dropping it.
func GenerateFontFaceCSS(faces []FontFace, dataURIs map[string]string) string {
	var b strings.Builder
	for _, f := range faces {
		if len(f.URLs) == 0 {
			continue
		}
		srcs := make([]string, 0, len(f.URLs))
		for _, u := range f.URLs {
			target := u.URL
			if uri, ok := dataURIs[u.URL]; ok && uri != "" {
				target = uri
			}
			src := "url(" + parser.QuoteString(target) + ")"
			if u.Format != "" {
				src += " format(" + parser.QuoteString(u.Format) + ")"
			}
			srcs = append(srcs, src)
		}
		b.WriteString("@font-face {\n")
		fmt.Fprintf(&b, "  font-family: %s;\n", parser.QuoteString(f.Family))
		fmt.Fprintf(&b, "  src: %s;\n", strings.Join(srcs, ", "))
		writeDescriptor(&b, "font-weight", f.Weight)
		writeDescriptor(&b, "font-style", f.Style)
		writeDescriptor(&b, "font-display", f.Display)
		writeDescriptor(&b, "unicode-range", f.UnicodeRange)
		b.WriteString("}\n")
	}
	return b.String()
}

func writeDescriptor(b *strings.Builder, name, value string) {
	if value != "" {
		fmt.Fprintf(b, "  %s: %s;\n", name, value)
	}
}

// InjectStyle appends a marked <style> element with css to the document head
// (or the root element when there is none) and returns it.
func InjectStyle(doc *dom.Document, css string) *dom.Element {
	el := doc.CreateElement("style")
	el.SetAttr(StyleMarker, "true")
	el.SetTextContent(css)
	parent := doc.Head()
	if parent == nil {
		parent = doc.DocumentElement()
	}
	parent.AppendChild(el)
	return el
}

// Embedding is an applied font embedding.
type Embedding struct {
	Faces    int
	Embedded int
	style    *dom.Element
}

// Restore removes the injected style element. It is safe to call repeatedly.
func (e *Embedding) Restore() {
	if e.style != nil {
		e.style.Remove()
		e.style = nil
	}
}

// Embedder detects a document's fonts, fetches their binaries and injects
// replacement @font-face rules that reference data URIs.
type Embedder struct {
	detector *Detector
	fetcher  ResourceFetcher
	logger   *zap.Logger
}

// NewEmbedder wires a detector to a resource fetcher.
func NewEmbedder(detector *Detector, fetcher ResourceFetcher, logger *zap.Logger) *Embedder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Embedder{detector: detector, fetcher: fetcher, logger: logger.Named("font_embedder")}
}

// Embed returns nil when the document declares no fonts.
func (e *Embedder) Embed(ctx context.Context, doc *dom.Document) (*Embedding, error) {
	faces, err := e.detector.Detect(ctx, doc)
	if err != nil {
		return nil, fmt.Errorf("font detection failed: %w", err)
	}
	if len(faces) == 0 {
		return nil, nil
	}

	dataURIs := map[string]string{}
	if urls := FontURLs(faces); len(urls) > 0 && e.fetcher != nil {
		batch, err := e.fetcher.FetchResources(ctx, fetch.NewRequests(urls))
		if err != nil {
			return nil, fmt.Errorf("font fetch failed: %w", err)
		}
		dataURIs = fetch.DataURIs(batch.Results)
		e.logger.Debug("Font binaries fetched",
			zap.Int("requested", len(urls)),
			zap.Int("fetched", len(dataURIs)),
			zap.Int64("bytes", batch.TotalSizeBytes))
	}

	css := GenerateFontFaceCSS(faces, dataURIs)
	return &Embedding{
		Faces:    len(faces),
		Embedded: len(dataURIs),
		style:    InjectStyle(doc, css),
	}, nil
}
