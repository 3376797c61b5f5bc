package agent

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/sashabaranov/go-openai"
)

const DefaultModel = "gpt-4.1-mini"

type openaiChatAgent struct {
	client *openai.Client
	model  string
}

func NewOpenAIChatAgent(client *openai.Client, model string) ChatAgent {
	if model == "" {
		model = DefaultModel
	}
	return &openaiChatAgent{client: client, model: model}
}

// RunPrompt returns the generated text verbatim, or "" when the service returned no choices.
func (o *openaiChatAgent) RunPrompt(ctx context.Context, prompt string) (result string, err error) {
	startTime := time.Now()

	chatRequest := openai.ChatCompletionRequest{
		Model: o.model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleUser,
				Content: prompt,
			},
		},
	}
	log.Info().Str("prompt", prompt).Str("model", chatRequest.Model).Msg("executeChatRequest")

	resp, err := o.client.CreateChatCompletion(ctx, chatRequest)
	if err != nil {
		err = errors.Wrap(err, "cannot create chat completion")
		return
	}
	if len(resp.Choices) == 0 {
		log.Warn().Str("model", chatRequest.Model).Msg("chat completion returned no choices")
		return
	}

	result = resp.Choices[0].Message.Content
	log.Info().Dur("time_elapsed", time.Since(startTime)).Int("total_tokens", resp.Usage.TotalTokens).Msgf("Full response received: %s", result)
	return
}
