package rules

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/xkilldash9x/shotprep/internal/fixer"
)

// Deps are the collaborators of the fixers that reach beyond the document.
// A nil Fetcher disables the CORS fixer and a nil Embedder the font fixer.
type Deps struct {
	Fetcher  ResourceFetcher
	Embedder FontEmbedder
	Logger   *zap.Logger
}

// Set gives direct access to the global fixers registered by Register.
type Set struct {
	RelativeURL *RelativeURLFixer
	FontCORS    *FontCORSFixer
}

// Globals lists the global fixers in priority order.
func (s *Set) Globals() []fixer.GlobalFixer {
	return []fixer.GlobalFixer{s.RelativeURL, s.FontCORS}
}

// Register adds every built-in fixer to reg.
func Register(reg *fixer.Registry, deps Deps) (*Set, error) {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	set := &Set{
		RelativeURL: NewRelativeURLFixer(logger),
		FontCORS:    NewFontCORSFixer(deps.Embedder, logger),
	}
	all := []fixer.Fixer{
		NewCORSFixer(deps.Fetcher, logger),
		NewHeightFixer(),
		NewOverflowFixer(),
		NewPositionFixer(),
		NewIframeFixer(),
		NewStickyHeaderFixer(),
		NewMediaFixer(logger),
		set.RelativeURL,
		set.FontCORS,
	}
	for _, f := range all {
		if err := reg.Register(f); err != nil {
			return nil, fmt.Errorf("registering fixer %q: %w", f.ID(), err)
		}
	}
	return set, nil
}
