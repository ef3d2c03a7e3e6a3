package crawler

import (
	"context"
	"io"
	"time"
)

// RunStore persists audit runs and their page results.
type RunStore interface {
	CreateRun(ctx context.Context, run AuditRun) error
	SaveRun(ctx context.Context, run AuditRun) error
	GetRun(ctx context.Context, runID string) (AuditRun, error)
	ListRuns(ctx context.Context, query ListQuery) ([]AuditRun, int, error)
	DeleteRun(ctx context.Context, runID string) error
}

// BlobStore writes report artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Publisher pushes run completion events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// ReportArchiver stores the export of a finished run and returns its URI.
type ReportArchiver interface {
	Archive(ctx context.Context, run AuditRun) (string, error)
}

// Locker grants single-writer access to a run across workers and processes.
type Locker interface {
	TryLock(ctx context.Context, key string) (unlock func(context.Context) error, ok bool, err error)
}

// Fetcher performs a single HTTP attempt for a URL.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (FetchResponse, error)
}

// Extractor parses a fetched document into structured page data.
type Extractor interface {
	Extract(pageURL string, body []byte, crawlImages bool) (PageFields, error)
}

// Throttle bounds the request rate against a host across all runs.
type Throttle interface {
	Wait(ctx context.Context, url string) error
}

// RobotsPolicy reports whether a URL may be fetched by the given user agent.
type RobotsPolicy interface {
	Allowed(ctx context.Context, rawURL string, userAgent string) bool
}

// Sleeper pauses for a duration, returning early when ctx ends.
type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}

// Queue provides enqueue/dequeue semantics for runs waiting to execute.
type Queue interface {
	Enqueue(ctx context.Context, item QueueItem) error
	Dequeue(ctx context.Context) (QueueItem, error)
}

// QueueItem hands a run to a worker. Attempts counts how often the item was
// put back because the run lock was held.
type QueueItem struct {
	RunID     string
	Resume    bool
	Submitted int64
	Attempts  int
}
