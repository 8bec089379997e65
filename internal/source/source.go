// Package source abstracts the feedback source (Reddit) behind a small
// capability interface so the pipeline can run against fakes in tests and in
// demo mode.
package source

import (
	"context"
	"errors"

	"github.com/echofix/echofix/internal/models"
)

// ErrNotFound is returned when a thread or entry does not exist upstream.
var ErrNotFound = errors.New("source: not found")

// ErrRateLimited is returned when the source throttles us. Callers should
// back off and retry on the next scheduled run.
var ErrRateLimited = errors.New("source: rate limited")

// Source is the feedback source capability.
type Source interface {
	// FetchThread returns the post and up to maxItems-1 comments for a
	// thread URL or permalink.
	FetchThread(ctx context.Context, threadURL string, maxItems int) ([]*models.FeedbackItem, error)
	// FetchScore returns the current engagement score for a single entry.
	FetchScore(ctx context.Context, permalink, externalID string) (int, error)
	// PostReply posts a reply under the given entry and returns the new
	// reply's external ID.
	PostReply(ctx context.Context, parentExternalID, text string) (string, error)
}
