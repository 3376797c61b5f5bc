package transcriber

import (
	"context"
	"io"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/sashabaranov/go-openai"
)

const DefaultModel = "gpt-4o-transcribe"

type openAIWhisper struct {
	client *openai.Client
	model  string
}

func NewOpenAIWhisper(client *openai.Client, model string) Transcriber {
	if model == "" {
		model = DefaultModel
	}
	return &openAIWhisper{
		client: client,
		model:  model,
	}
}

func (o *openAIWhisper) SendAudio(ctx context.Context, input io.Reader, fileName string) (result string, err error) {
	startTime := time.Now()
	req := openai.AudioRequest{
		Model:    o.model,
		Reader:   input,
		FilePath: fileName,
	}

	log.Debug().Str("model", req.Model).Str("file_name", fileName).Msg("create transcription request")
	resp, err := o.client.CreateTranscription(ctx, req)
	if err != nil {
		err = errors.Wrap(err, "cannot create transcription")
		return
	}

	result = resp.Text
	log.Debug().Str("transcription", result).Dur("time_elapsed", time.Since(startTime)).Msg("received transcription")
	return
}
