package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/echofix/echofix/internal/models"
	"github.com/echofix/echofix/internal/source"
	"github.com/echofix/echofix/internal/store"
)

// RefreshResult summarizes one score refresh pass.
type RefreshResult struct {
	Checked   int `json:"checked"`
	Promoted  int `json:"promoted"`
	Throttled int `json:"throttled"`
	Errors    int `json:"errors"`
}

// Refresher re-queries the source for updated scores on PENDING items and
// promotes the ones that clear the threshold.
type Refresher struct {
	store store.Store
	src   source.Source
	cfg   Config
	now   func() time.Time
}

// NewRefresher builds a Refresher.
func NewRefresher(st store.Store, src source.Source, cfg Config) *Refresher {
	return &Refresher{store: st, src: src, cfg: cfg, now: time.Now}
}

// RefreshScores walks PENDING items up to limit. Items checked within the
// refresh interval are throttled without any network call. A rate-limit
// response aborts the pass; remaining items wait for the next run.
func (r *Refresher) RefreshScores(ctx context.Context, limit int) (*RefreshResult, error) {
	items, err := r.store.ListFeedbackItems(ctx, store.FeedbackFilter{
		Status: models.FeedbackPending,
		Limit:  limit,
	})
	if err != nil {
		return nil, err
	}

	result := &RefreshResult{}
	for _, item := range items {
		now := r.now().UTC()
		if item.LastScoreCheckAt != nil && now.Sub(*item.LastScoreCheckAt) < r.cfg.RefreshInterval {
			result.Throttled++
			continue
		}

		score, err := r.src.FetchScore(ctx, item.Permalink, item.ExternalID)
		if err != nil {
			if errors.Is(err, source.ErrRateLimited) {
				result.Errors++
				return result, nil
			}
			result.Errors++
			continue
		}

		result.Checked++
		item.Score = score
		item.LastScoreCheckAt = &now
		if score >= r.cfg.MinScore {
			item.Status = models.FeedbackReady
			result.Promoted++
		}
		if err := r.store.UpdateFeedbackItem(ctx, item); err != nil {
			return result, err
		}
	}
	return result, nil
}
