package rules

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/xkilldash9x/shotprep/internal/fetch"
	"github.com/xkilldash9x/shotprep/internal/fixer"
	"github.com/xkilldash9x/shotprep/internal/resources"
)

// ResourceFetcher converts remote binaries to data URIs.
type ResourceFetcher interface {
	FetchResources(ctx context.Context, reqs []fetch.ResourceRequest) (*fetch.BatchResult, error)
}

// CORSFixer inlines cross-origin images, SVG use targets, posters and
// background images of a subtree as data URIs. It runs before the layout
// fixers.
type CORSFixer struct {
	fixer.Meta
	fetcher ResourceFetcher
	logger  *zap.Logger
}

func NewCORSFixer(fetcher ResourceFetcher, logger *zap.Logger) *CORSFixer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CORSFixer{
		Meta:    fixer.Meta{FixerID: IDCORS, FixerPriority: 5, FixerScope: fixer.ScopeElement},
		fetcher: fetcher,
		logger:  logger.Named("cors_fixer"),
	}
}

func (f *CORSFixer) ShouldApply(fc *fixer.Context) bool {
	return f.fetcher != nil && len(resources.DetectCORSResources(fc.Element)) > 0
}

func (f *CORSFixer) Apply(ctx context.Context, fc *fixer.Context) (*fixer.Result, error) {
	detected := resources.DetectCORSResources(fc.Element)
	if len(detected) == 0 {
		return fixer.NotApplied(f.ID()), nil
	}
	urls := resources.UniqueURLs(detected)
	batch, err := f.fetcher.FetchResources(ctx, fetch.NewRequests(urls))
	if err != nil {
		return nil, fmt.Errorf("fetching %d cross-origin resources: %w", len(urls), err)
	}

	conv := resources.ApplyDataURIs(detected, fetch.DataURIs(batch.Results))
	f.logger.Debug("Cross-origin resources inlined",
		zap.Int("detected", len(detected)),
		zap.Int("unique_urls", len(urls)),
		zap.Int("converted", conv.Count))
	if conv.Count == 0 {
		return fixer.NotApplied(f.ID()), nil
	}
	return fixer.NewResult(f.ID(), conv.Count, func() error { conv.Restore(); return nil }), nil
}
