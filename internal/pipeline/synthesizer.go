package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/echofix/echofix/internal/models"
	"github.com/echofix/echofix/internal/reasoning"
	"github.com/echofix/echofix/internal/store"
)

// ErrAlreadyClaimed is returned when another worker holds the insight.
var ErrAlreadyClaimed = errors.New("pipeline: insight already claimed")

// Synthesizer turns a pending insight into a structured ticket by walking
// the provider chain in order.
type Synthesizer struct {
	store     store.Store
	providers []reasoning.Provider
}

// NewSynthesizer builds a Synthesizer. providers are tried in order; placing
// the deterministic provider last guarantees the step terminates.
func NewSynthesizer(st store.Store, providers ...reasoning.Provider) *Synthesizer {
	return &Synthesizer{store: st, providers: providers}
}

// Analyze claims the insight (pending -> analyzing), synthesizes a ticket
// and patch plan, and stores them with status ready. If every provider
// fails, the insight drops back to pending so a later run can retry. The
// claim is conditional, so concurrent callers race safely.
func (s *Synthesizer) Analyze(ctx context.Context, insightID string) (*models.Insight, error) {
	claimed, err := s.store.ClaimInsightForAnalysis(ctx, insightID)
	if err != nil {
		return nil, err
	}
	if !claimed {
		return nil, ErrAlreadyClaimed
	}

	insight, err := s.store.GetInsight(ctx, insightID)
	if err != nil {
		return nil, err
	}

	items, err := s.store.ListInsightItems(ctx, insightID)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		s.release(ctx, insight)
		return nil, fmt.Errorf("insight %s has no member items", insightID)
	}

	var lastErr error
	for _, provider := range s.providers {
		ticket, patchPlan, err := provider.SynthesizeTicket(ctx, insight, items)
		if err != nil {
			lastErr = err
			s.log(ctx, insightID, models.LogWarn, "synthesize",
				fmt.Sprintf("provider %s failed: %v", provider.Name(), err),
				map[string]any{"provider": provider.Name()})
			continue
		}

		insight.Ticket = ticket
		insight.PatchPlan = patchPlan
		insight.Priority = ticket.Priority
		insight.Status = models.InsightReady
		if err := s.store.UpdateInsight(ctx, insight); err != nil {
			return nil, err
		}
		s.log(ctx, insightID, models.LogInfo, "synthesize",
			fmt.Sprintf("ticket synthesized by %s", provider.Name()),
			map[string]any{"provider": provider.Name(), "priority": string(ticket.Priority)})
		return insight, nil
	}

	s.release(ctx, insight)
	s.log(ctx, insightID, models.LogError, "synthesize",
		fmt.Sprintf("all providers failed: %v", lastErr), nil)
	return nil, fmt.Errorf("synthesize ticket: %w", lastErr)
}

// release puts a claimed insight back to pending so it stays retryable.
func (s *Synthesizer) release(ctx context.Context, insight *models.Insight) {
	insight.Status = models.InsightPending
	_ = s.store.UpdateInsight(ctx, insight)
}

func (s *Synthesizer) log(ctx context.Context, insightID string, level models.LogLevel, step, message string, metadata map[string]any) {
	_ = s.store.AppendExecutionLog(ctx, &models.ExecutionLogEntry{
		InsightID: insightID,
		Level:     level,
		StepName:  step,
		Message:   message,
		Metadata:  metadata,
	})
}
