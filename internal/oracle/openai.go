package oracle

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
)

// chatService defines minimal interface for chat completions.
type chatService interface {
	Create(ctx context.Context, params openai.ChatCompletionNewParams) (openai.ChatCompletion, error)
}

// completionsAdapter adapts the SDK completions service to chatService.
type completionsAdapter struct {
	svc *openai.ChatCompletionService
}

func (a completionsAdapter) Create(ctx context.Context, params openai.ChatCompletionNewParams) (openai.ChatCompletion, error) {
	resp, err := a.svc.New(ctx, params)
	if err != nil {
		return openai.ChatCompletion{}, err
	}
	return *resp, nil
}

// OpenAIValidator validates answers with OpenAI chat completions in JSON mode.
type OpenAIValidator struct {
	chat chatService
	opts Opts
}

// NewOpenAIValidator creates a validator. An API key is required.
func NewOpenAIValidator(opts ...Option) (*OpenAIValidator, error) {
	o := applyOptions(DefaultOpenAIModel, opts)
	if o.APIKey == "" {
		return nil, fmt.Errorf("OpenAI API key not set")
	}
	client := openai.NewClient(option.WithAPIKey(o.APIKey))
	slog.Debug("OpenAIValidator created", "model", o.Model)
	return &OpenAIValidator{chat: completionsAdapter{svc: &client.Chat.Completions}, opts: o}, nil
}

// Provider implements Validator.
func (v *OpenAIValidator) Provider() string {
	return ProviderOpenAI
}

// Validate implements Validator.
func (v *OpenAIValidator) Validate(ctx context.Context, req Request) (Verdict, error) {
	params := openai.ChatCompletionNewParams{
		Model: openai.ChatModel(v.opts.Model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(buildUserPrompt(req)),
		},
		Temperature:         openai.Float(v.opts.Temperature),
		MaxCompletionTokens: openai.Int(int64(v.opts.MaxTokens)),
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
		},
	}
	resp, err := v.chat.Create(ctx, params)
	if err != nil {
		return Verdict{}, fault(ProviderOpenAI, err)
	}
	if len(resp.Choices) == 0 {
		return Verdict{}, fault(ProviderOpenAI, ErrNoReply)
	}
	verdict, err := decodeVerdict(resp.Choices[0].Message.Content)
	if err != nil {
		return Verdict{}, fault(ProviderOpenAI, err)
	}
	slog.Debug("OpenAIValidator Validate succeeded", "phase", req.Phase, "complete", verdict.Complete)
	return verdict, nil
}
