package reasoning

import (
	"context"
	"errors"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/echofix/echofix/internal/models"
)

// AnthropicProvider is the primary reasoning tier.
type AnthropicProvider struct {
	api   *anthropic.Client
	model anthropic.Model
}

// NewAnthropicProvider creates the primary provider with the given API key and model.
func NewAnthropicProvider(apiKey, model string) *AnthropicProvider {
	opts := []option.RequestOption{}
	if apiKey != "" {
		opts = append(opts, option.WithAPIKey(apiKey))
	}
	client := anthropic.NewClient(opts...)
	return &AnthropicProvider{
		api:   &client,
		model: anthropic.Model(model),
	}
}

func (p *AnthropicProvider) Name() string { return "anthropic" }

func (p *AnthropicProvider) SynthesizeTicket(ctx context.Context, insight *models.Insight, items []*models.FeedbackItem) (*models.Ticket, *models.PatchPlan, error) {
	systemPrompt, userPrompt := buildTicketPrompt(insight, items)
	text, err := p.complete(ctx, systemPrompt, userPrompt, 4096)
	if err != nil {
		return nil, nil, err
	}
	return parseTicketPayload(text)
}

func (p *AnthropicProvider) GenerateFileFix(ctx context.Context, ticket *models.Ticket, path, current string) (string, error) {
	systemPrompt, userPrompt := buildFixPrompt(ticket, path, current)
	text, err := p.complete(ctx, systemPrompt, userPrompt, 8192)
	if err != nil {
		return "", err
	}
	return stripMarkdownFences(text), nil
}

func (p *AnthropicProvider) complete(ctx context.Context, systemPrompt, userPrompt string, maxTokens int64) (string, error) {
	msg, err := p.api.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     p.model,
		MaxTokens: maxTokens,
		System: []anthropic.TextBlockParam{
			{Text: systemPrompt},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(userPrompt)),
		},
	})
	if err != nil {
		var apiErr *anthropic.Error
		if errors.As(err, &apiErr) && (apiErr.StatusCode == 429 || apiErr.StatusCode == 402) {
			return "", fmt.Errorf("%w: %v", ErrQuotaExhausted, err)
		}
		return "", fmt.Errorf("anthropic API call: %w", err)
	}

	// Extract text from response
	var text string
	for _, block := range msg.Content {
		if block.Type == "text" {
			text = block.Text
			break
		}
	}
	if text == "" {
		return "", fmt.Errorf("no text content in API response")
	}
	return text, nil
}
