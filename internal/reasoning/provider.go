// Package reasoning wraps the LLM providers used to synthesize tickets and
// generate file fixes. Providers share one interface so the pipeline can walk
// an ordered fallback chain without caring which vendor answers.
package reasoning

import (
	"context"
	"errors"

	"github.com/echofix/echofix/internal/models"
)

// ErrQuotaExhausted signals the provider rejected the call for quota or rate
// reasons. The caller should try the next provider in the chain instead of
// retrying this one.
var ErrQuotaExhausted = errors.New("reasoning: provider quota exhausted")

// Provider is a reasoning capability.
type Provider interface {
	Name() string
	// SynthesizeTicket turns an insight and its member feedback into a
	// structured ticket plus a patch plan.
	SynthesizeTicket(ctx context.Context, insight *models.Insight, items []*models.FeedbackItem) (*models.Ticket, *models.PatchPlan, error)
	// GenerateFileFix returns a complete replacement for one file. current
	// may be empty when the file does not exist yet.
	GenerateFileFix(ctx context.Context, ticket *models.Ticket, path, current string) (string, error)
}
