package synthesizer

import (
	"context"
	"io"
)

type Synthesizer interface {
	// CreateSpeech streams synthesized audio for text, encoded as format (e.g. "mp3").
	// Caller closes the returned body.
	CreateSpeech(ctx context.Context, text string, format string) (audioOutput io.ReadCloser, err error)
}
