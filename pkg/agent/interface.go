package agent

import "context"

// ChatAgent answers a single prompt, without any conversation history.
type ChatAgent interface {
	RunPrompt(ctx context.Context, prompt string) (result string, err error)
}
