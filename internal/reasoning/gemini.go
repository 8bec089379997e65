package reasoning

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/genai"

	"github.com/echofix/echofix/internal/models"
)

// GeminiProvider is the secondary reasoning tier, tried when the primary
// provider fails or runs out of quota.
type GeminiProvider struct {
	client *genai.Client
	model  string
}

// NewGeminiProvider creates the secondary provider.
func NewGeminiProvider(ctx context.Context, apiKey, model string) (*GeminiProvider, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	return &GeminiProvider{client: client, model: model}, nil
}

func (p *GeminiProvider) Name() string { return "gemini" }

func (p *GeminiProvider) SynthesizeTicket(ctx context.Context, insight *models.Insight, items []*models.FeedbackItem) (*models.Ticket, *models.PatchPlan, error) {
	systemPrompt, userPrompt := buildTicketPrompt(insight, items)
	text, err := p.complete(ctx, systemPrompt, userPrompt)
	if err != nil {
		return nil, nil, err
	}
	return parseTicketPayload(text)
}

func (p *GeminiProvider) GenerateFileFix(ctx context.Context, ticket *models.Ticket, path, current string) (string, error) {
	systemPrompt, userPrompt := buildFixPrompt(ticket, path, current)
	text, err := p.complete(ctx, systemPrompt, userPrompt)
	if err != nil {
		return "", err
	}
	return stripMarkdownFences(text), nil
}

func (p *GeminiProvider) complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	resp, err := p.client.Models.GenerateContent(ctx, p.model,
		genai.Text(userPrompt),
		&genai.GenerateContentConfig{
			SystemInstruction: genai.NewContentFromText(systemPrompt, genai.RoleUser),
		})
	if err != nil {
		var apiErr genai.APIError
		if errors.As(err, &apiErr) && (apiErr.Code == 429 || apiErr.Code == 403) {
			return "", fmt.Errorf("%w: %v", ErrQuotaExhausted, err)
		}
		return "", fmt.Errorf("gemini API call: %w", err)
	}

	text := resp.Text()
	if text == "" {
		return "", fmt.Errorf("no text content in API response")
	}
	return text, nil
}
