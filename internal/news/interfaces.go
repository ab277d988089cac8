package news

import (
	"context"
	"io"
	"time"
)

// MetadataSource returns the current page of candidate stubs. Implementations
// degrade to an empty slice on failure instead of returning an error.
type MetadataSource interface {
	Fetch(ctx context.Context) []ArticleStub
}

// SessionFactory acquires rendering sessions.
type SessionFactory interface {
	Acquire(ctx context.Context) (Session, error)
}

// Session is one scoped rendering resource. Close must be called exactly once
// by whoever acquired it.
type Session interface {
	Resolve(ctx context.Context, url string) (Resolution, error)
	Close() error
}

// Normalizer merges a stub with resolved content into an Article.
type Normalizer interface {
	Normalize(stub ArticleStub, content string) (Article, error)
}

// Enricher attaches sentiment and topics. It must not mutate its input.
type Enricher interface {
	Enrich(ctx context.Context, article Article) (Article, error)
}

// Index is the queryable article store keyed by DocumentID.
type Index interface {
	Upsert(ctx context.Context, article Article) error
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
	Get(ctx context.Context, id string) (Article, error)
	Search(ctx context.Context, query Query) ([]Article, error)
	Count(ctx context.Context) (int64, error)
}

// Publisher pushes indexing events to a topic.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Locker guards against overlapping runs across processes.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (release func(context.Context) error, err error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run identifiers.
type IDGenerator interface {
	NewID() (string, error)
}
