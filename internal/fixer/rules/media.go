// fixer/rules/media.go
package rules

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/xkilldash9x/shotprep/internal/browser/dom"
	"github.com/xkilldash9x/shotprep/internal/fixer"
)

// MediaFixer freezes <video> and <audio> elements on a meaningful frame.
type MediaFixer struct {
	fixer.Meta
	logger *zap.Logger
}

func NewMediaFixer(logger *zap.Logger) *MediaFixer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MediaFixer{
		Meta: fixer.Meta{
			FixerID:       IDMedia,
			FixerPriority: 120,
			FixerScope:    fixer.ScopeElement,
			ComposedIDs:   []string{IDHeight},
		},
		logger: logger.Named("media_fixer"),
	}
}

func (f *MediaFixer) ShouldApply(fc *fixer.Context) bool {
	tag := fc.Element.TagName()
	return tag == "video" || tag == "audio"
}

func (f *MediaFixer) Apply(ctx context.Context, fc *fixer.Context) (*fixer.Result, error) {
	el := fc.Element
	media := fc.Document.Media()
	st, err := media.State(ctx, el)
	if err != nil {
		return nil, fmt.Errorf("reading media state: %w", err)
	}

	wasPlaying := !st.Paused
	if wasPlaying {
		if err := media.Pause(ctx, el); err != nil {
			return nil, fmt.Errorf("pausing media: %w", err)
		}
	}
	if el.TagName() == "video" && !el.HasAttr("poster") && st.ReadyState >= dom.HaveMetadata {
		if err := media.Seek(ctx, el, 0); err != nil {
			f.logger.Warn("Could not seek video to first frame", zap.Error(err))
		}
	}

	restoreCtx := context.WithoutCancel(ctx)
	return fixer.NewResult(f.ID(), 1, func() error {
		if err := media.Seek(restoreCtx, el, st.CurrentTime); err != nil {
			return fmt.Errorf("seeking back to %.2fs: %w", st.CurrentTime, err)
		}
		if !wasPlaying {
			return nil
		}
		if err := media.Play(restoreCtx, el); err != nil {
			if errors.Is(err, dom.ErrPlaybackBlocked) {
				f.logger.Warn("Playback not resumed", zap.Error(err))
				return nil
			}
			return fmt.Errorf("resuming playback: %w", err)
		}
		return nil
	}), nil
}
