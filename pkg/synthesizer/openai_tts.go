package synthesizer

import (
	"context"
	"io"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/sashabaranov/go-openai"
)

const (
	DefaultModel  = "gpt-4o-mini-tts"
	DefaultVoice  = "alloy"
	DefaultFormat = "mp3"
)

type openAITTS struct {
	client *openai.Client
	model  string
	voice  string
}

func NewOpenAITTS(client *openai.Client, model string, voice string) Synthesizer {
	if model == "" {
		model = DefaultModel
	}
	if voice == "" {
		voice = DefaultVoice
	}
	return &openAITTS{
		client: client,
		model:  model,
		voice:  voice,
	}
}

func (o *openAITTS) CreateSpeech(ctx context.Context, text string, format string) (io.ReadCloser, error) {
	if format == "" {
		format = DefaultFormat
	}
	requestStart := time.Now()
	log.Debug().Int("input_length", len(text)).Str("model", o.model).Str("voice", o.voice).Str("format", format).Msg("create speech request")

	resp, err := o.client.CreateSpeech(ctx, openai.CreateSpeechRequest{
		Model:          openai.SpeechModel(o.model),
		Input:          text,
		Voice:          openai.SpeechVoice(o.voice),
		ResponseFormat: openai.SpeechResponseFormat(format),
	})
	if err != nil {
		return nil, errors.Wrap(err, "cannot create speech")
	}

	log.Debug().Dur("request_time", time.Since(requestStart)).Str("content_type", resp.Header().Get("Content-Type")).Msg("speech response started")
	return resp, nil
}
