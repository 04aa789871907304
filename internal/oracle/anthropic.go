package oracle

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// messageService defines minimal interface for the messages API.
type messageService interface {
	Create(ctx context.Context, params anthropic.MessageNewParams) (*anthropic.Message, error)
}

type messagesAdapter struct {
	svc *anthropic.MessageService
}

func (a messagesAdapter) Create(ctx context.Context, params anthropic.MessageNewParams) (*anthropic.Message, error) {
	return a.svc.New(ctx, params)
}

// AnthropicValidator validates answers with the Anthropic messages API.
type AnthropicValidator struct {
	messages messageService
	opts     Opts
}

// NewAnthropicValidator creates a validator. An API key is required.
func NewAnthropicValidator(opts ...Option) (*AnthropicValidator, error) {
	o := applyOptions(DefaultAnthropicModel, opts)
	if o.APIKey == "" {
		return nil, fmt.Errorf("Anthropic API key not set")
	}
	client := anthropic.NewClient(option.WithAPIKey(o.APIKey))
	slog.Debug("AnthropicValidator created", "model", o.Model)
	return &AnthropicValidator{messages: messagesAdapter{svc: &client.Messages}, opts: o}, nil
}

// Provider implements Validator.
func (v *AnthropicValidator) Provider() string {
	return ProviderAnthropic
}

// Validate implements Validator.
func (v *AnthropicValidator) Validate(ctx context.Context, req Request) (Verdict, error) {
	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(v.opts.Model),
		MaxTokens:   int64(v.opts.MaxTokens),
		Temperature: anthropic.Float(v.opts.Temperature),
		System: []anthropic.TextBlockParam{{
			Text: systemPrompt,
			Type: "text",
		}},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(buildUserPrompt(req))),
		},
	}
	resp, err := v.messages.Create(ctx, params)
	if err != nil {
		return Verdict{}, fault(ProviderAnthropic, err)
	}
	if resp == nil || len(resp.Content) == 0 {
		return Verdict{}, fault(ProviderAnthropic, ErrNoReply)
	}
	var text strings.Builder
	for i := range resp.Content {
		block := &resp.Content[i]
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	verdict, err := decodeVerdict(text.String())
	if err != nil {
		return Verdict{}, fault(ProviderAnthropic, err)
	}
	slog.Debug("AnthropicValidator Validate succeeded", "phase", req.Phase, "complete", verdict.Complete)
	return verdict, nil
}
