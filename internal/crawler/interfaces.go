package crawler

import (
	"context"
	"errors"
	"io"
	"net/url"
	"time"
)

// ErrNotFound is returned by stores when a lookup matches nothing.
var ErrNotFound = errors.New("not found")

// HTTPClient issues requests against the target site. Relative paths resolve
// against the client's base URL; absolute URLs are used as-is.
type HTTPClient interface {
	Get(ctx context.Context, path string, params url.Values) (Response, error)
	Post(ctx context.Context, path string, body any) (Response, error)
	SetProxy(rawURL string) error
	SetUserAgent(userAgent string)
}

// DiscoveryClient runs a web search on a secondary engine.
type DiscoveryClient interface {
	// Query builds the engine query restricted to the target site's profiles.
	Query(keyword string) string
	Search(ctx context.Context, query string, maxResults int) ([]string, error)
	// Blocked reports whether the last Search hit a captcha or block page.
	Blocked() bool
}

// Governor paces requests and absorbs rate-limit and challenge signals.
type Governor interface {
	Acquire(ctx context.Context, class RequestClass)
	// ReportResponse returns true when the response was a block signal; the
	// caller has already waited out the cooldown and should abandon the operation.
	ReportResponse(ctx context.Context, resp Response) bool
}

// Store is the durable profile and history store.
type Store interface {
	// FindFresh reports whether a profile whose id or permalink equals key was
	// discovered at or after since.
	FindFresh(ctx context.Context, key string, since time.Time) (bool, error)
	UpsertProfile(ctx context.Context, record ProfileRecord) error
	// ListStale returns profiles discovered before the cutoff.
	ListStale(ctx context.Context, before time.Time) ([]ProfileRecord, error)
	InsertHistory(ctx context.Context, mark HistoryMark) error
	// LatestHistory returns ErrNotFound when no run has completed yet.
	LatestHistory(ctx context.Context) (HistoryMark, error)
	Close()
}

// RecentCache is an optional fast path in front of the Store.
type RecentCache interface {
	Seen(ctx context.Context, key string) (bool, error)
	Mark(ctx context.Context, key string, ttl time.Duration) error
}

// OutputSurface is the append-only delimited output file.
type OutputSurface interface {
	Contains(id string) (bool, error)
	Append(record ProfileRecord) error
	Replace(record ProfileRecord) error
	Rotate() error
	Path() string
}

// BlobStore writes artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Publisher pushes notifications to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// Sleeper blocks for a duration or until ctx is done.
type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration)
}

// IDGenerator produces run IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}

// Hasher computes digests for change tracking.
type Hasher interface {
	Hash(data []byte) (string, error)
}
