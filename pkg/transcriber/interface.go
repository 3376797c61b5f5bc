package transcriber

import (
	"context"
	"io"
)

type Transcriber interface {
	// SendAudio transcribes input, fileName only needs the right extension for the service to detect the container.
	SendAudio(ctx context.Context, input io.Reader, fileName string) (result string, err error)
}
