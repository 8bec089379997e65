package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/echofix/echofix/internal/models"
	"github.com/echofix/echofix/internal/source"
	"github.com/echofix/echofix/internal/store"
)

// IngestResult summarizes one ingest run.
type IngestResult struct {
	Fetched int `json:"fetched"`
	Created int `json:"created"`
	Updated int `json:"updated"`
	Ready   int `json:"ready"`
}

// Ingester pulls threads from the feedback source into the store.
type Ingester struct {
	store store.Store
	src   source.Source
	cfg   Config
}

// NewIngester builds an Ingester.
func NewIngester(st store.Store, src source.Source, cfg Config) *Ingester {
	return &Ingester{store: st, src: src, cfg: cfg}
}

// Ingest fetches a thread and upserts its post and comments. Items arriving
// at or above the score threshold start READY; the rest start PENDING and
// wait for the refresher. Re-ingesting is idempotent: items are keyed by
// external ID and never duplicated or demoted.
func (i *Ingester) Ingest(ctx context.Context, threadURL string, maxItems int) (*IngestResult, error) {
	items, err := i.src.FetchThread(ctx, threadURL, maxItems)
	if err != nil {
		return nil, fmt.Errorf("fetch thread: %w", err)
	}

	result := &IngestResult{Fetched: len(items)}
	now := time.Now().UTC()
	for _, item := range items {
		if item.Score >= i.cfg.MinScore {
			item.Status = models.FeedbackReady
		} else {
			item.Status = models.FeedbackPending
		}
		item.LastScoreCheckAt = &now

		created, err := i.store.UpsertFeedbackItem(ctx, item)
		if err != nil {
			return nil, err
		}
		if created {
			result.Created++
		} else {
			result.Updated++
		}
		if item.Status == models.FeedbackReady {
			result.Ready++
		}
	}
	return result, nil
}
