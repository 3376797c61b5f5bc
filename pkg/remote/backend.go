package remote

import (
	"net/http"

	"github.com/petrzlen/voice-qa/pkg/agent"
	"github.com/petrzlen/voice-qa/pkg/synthesizer"
	"github.com/petrzlen/voice-qa/pkg/transcriber"
	"github.com/sashabaranov/go-openai"
)

// Backend bundles the three hosted operations reachable with one credential.
type Backend struct {
	Transcriber transcriber.Transcriber
	Agent       agent.ChatAgent
	Synthesizer synthesizer.Synthesizer
}

// BackendFactory builds a Backend for an API key. It is only called once a key is present.
type BackendFactory func(apiKey string) Backend

// Options selects the hosted models, empty values fall back to each worker's default.
type Options struct {
	BaseURL            string
	TranscriptionModel string
	ChatModel          string
	SpeechModel        string
	SpeechVoice        string
	HTTPClient         *http.Client
}

func NewOpenAIBackendFactory(opts Options) BackendFactory {
	return func(apiKey string) Backend {
		cfg := openai.DefaultConfig(apiKey)
		if opts.BaseURL != "" {
			cfg.BaseURL = opts.BaseURL
		}
		if opts.HTTPClient != nil {
			cfg.HTTPClient = opts.HTTPClient
		}
		client := openai.NewClientWithConfig(cfg)

		return Backend{
			Transcriber: transcriber.NewOpenAIWhisper(client, opts.TranscriptionModel),
			Agent:       agent.NewOpenAIChatAgent(client, opts.ChatModel),
			Synthesizer: synthesizer.NewOpenAITTS(client, opts.SpeechModel, opts.SpeechVoice),
		}
	}
}
