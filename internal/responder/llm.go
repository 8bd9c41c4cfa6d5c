package responder

import (
	"context"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/immanencer/ratimint/internal/config"
)

// Turn is one conversation turn prepared for the completion request.
// At most one turn per request carries an image.
type Turn struct {
	Assistant bool
	Content   string
	ImageURL  string
}

// Completer is the language-model capability. Implementations must treat a
// returned error as retryable by the caller; the responder substitutes a
// fallback reply and keeps going.
type Completer interface {
	Complete(ctx context.Context, system string, turns []Turn) (string, error)
}

// OpenAIClient talks to any OpenAI-compatible completion endpoint
// (OpenRouter by default).
type OpenAIClient struct {
	client      openai.Client
	model       string
	temperature float64
}

func NewOpenAIClient(cfg config.ProviderConfig, model string) (*OpenAIClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("responder: OPENAI_API_KEY or OPENROUTER_API_KEY is required")
	}

	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.Referer != "" {
		opts = append(opts, option.WithHeader("HTTP-Referer", cfg.Referer))
	}
	if cfg.AppName != "" {
		opts = append(opts, option.WithHeader("X-Title", cfg.AppName))
	}

	return &OpenAIClient{
		client:      openai.NewClient(opts...),
		model:       model,
		temperature: 0.8,
	}, nil
}

func (c *OpenAIClient) Complete(ctx context.Context, system string, turns []Turn) (string, error) {
	msgs := make([]openai.ChatCompletionMessageParamUnion, 0, len(turns)+1)
	msgs = append(msgs, openai.SystemMessage(system))

	for _, turn := range turns {
		switch {
		case turn.Assistant:
			// Assistant turns are text only; the completions API has no
			// assistant image part.
			msgs = append(msgs, openai.AssistantMessage(turn.Content))
		case turn.ImageURL != "":
			parts := []openai.ChatCompletionContentPartUnionParam{
				openai.TextContentPart(turn.Content),
				openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{URL: turn.ImageURL}),
			}
			msgs = append(msgs, openai.UserMessage(parts))
		default:
			msgs = append(msgs, openai.UserMessage(turn.Content))
		}
	}

	completion, err := c.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:       c.model,
		Messages:    msgs,
		Temperature: openai.Float(c.temperature),
	})
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(completion.Choices) == 0 {
		return "", fmt.Errorf("chat completion returned no choices")
	}
	return completion.Choices[0].Message.Content, nil
}
