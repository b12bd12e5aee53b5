package pipeline

import (
	"context"
	"fmt"

	"github.com/rbright/notecap/internal/capture"
	"github.com/rbright/notecap/internal/media"
	"github.com/rbright/notecap/internal/recognize"
)

// variant is the per-mode half of a run: how the artifact becomes a payload
// and which provider reads it.
type variant interface {
	preprocess(ctx context.Context, path string) ([]byte, error)
	recognize(ctx context.Context, payload []byte) (string, bool, error)
	// stopsOnStart means the artifact is ready as soon as capture starts.
	stopsOnStart() bool
}

type voiceVariant struct {
	prep   Preprocessor
	client recognize.Client
}

func (voiceVariant) stopsOnStart() bool { return false }

func (v voiceVariant) preprocess(ctx context.Context, path string) ([]byte, error) {
	return v.prep.PrepareAudio(ctx, path)
}

func (v voiceVariant) recognize(ctx context.Context, payload []byte) (string, bool, error) {
	return v.client.Transcribe(ctx, payload)
}

type photoVariant struct {
	prep     Preprocessor
	client   recognize.Client
	maxWidth int
}

func (photoVariant) stopsOnStart() bool { return true }

func (v photoVariant) preprocess(ctx context.Context, path string) ([]byte, error) {
	return v.prep.PrepareImage(ctx, path, v.maxWidth)
}

func (v photoVariant) recognize(ctx context.Context, payload []byte) (string, bool, error) {
	return v.client.Transcribe(ctx, payload)
}

func (c *Controller) variantFor(mode capture.Mode) (variant, error) {
	switch mode {
	case capture.ModeVoice:
		if c.speech == nil {
			return nil, fmt.Errorf("speech recognition is not configured")
		}
		return voiceVariant{prep: c.prep, client: c.speech}, nil
	case capture.ModePhoto:
		if c.ocr == nil {
			return nil, fmt.Errorf("text detection is not configured")
		}
		maxWidth := c.maxWidth
		if maxWidth <= 0 {
			maxWidth = media.DefaultMaxWidth
		}
		return photoVariant{prep: c.prep, client: c.ocr, maxWidth: maxWidth}, nil
	default:
		return nil, fmt.Errorf("unknown capture mode %q", mode)
	}
}
