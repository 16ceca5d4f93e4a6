// File: internal/page/pipeline.go
package page

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/xkilldash9x/shotprep/internal/fetch"
	"github.com/xkilldash9x/shotprep/internal/fixer"
	"github.com/xkilldash9x/shotprep/internal/fixer/rules"
	"github.com/xkilldash9x/shotprep/internal/fonts"
)

// NewPipeline registers every fixer against a fresh registry. Global fixers
// keep per-document state, so each agent gets its own pipeline. A nil
// fetcher disables the fixers that download resources.
func NewPipeline(fetcher *fetch.Fetcher, logger *zap.Logger) (*fixer.Pipeline, *rules.Set, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	deps := rules.Deps{Logger: logger}
	if fetcher != nil {
		deps.Fetcher = fetcher
		deps.Embedder = fonts.NewEmbedder(fonts.NewDetector(fetcher, logger), fetcher, logger)
	}
	reg := fixer.NewRegistry()
	set, err := rules.Register(reg, deps)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to register fixers: %w", err)
	}
	return fixer.NewPipeline(reg, logger), set, nil
}
