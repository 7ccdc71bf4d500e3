package streamer

import (
	"context"
	"fmt"
	"time"

	"github.com/fiffu/feedrelay/lib/models"
)

// Upstream opens filter streams over a set of account ids.
type Upstream interface {
	Open(ctx context.Context, follow []string) (Stream, error)
}

// Stream is one open filter stream. Next blocks until an event arrives or
// the stream fails; after Close, Next returns an error.
type Stream interface {
	Next(ctx context.Context) (*models.StreamEvent, error)
	Close() error
}

// RateLimitError is returned by Open or Next when the upstream asks us to back off.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("upstream rate limited, retry after %s", e.RetryAfter)
}
