// Package news defines the core types shared across the ingestion pipeline.
package news

import (
	"errors"
	"time"
)

// Sentinel errors shared by pipeline components.
var (
	// ErrRejected marks a stub that failed validation during normalization.
	ErrRejected = errors.New("rejected input")
	// ErrNoContent marks a stub whose page yielded no article text.
	ErrNoContent = errors.New("no content")
	// ErrContentNotLocated indicates no article container was found in the rendered page.
	ErrContentNotLocated = errors.New("content not located")
	// ErrSessionAcquire indicates a rendering session could not be created.
	ErrSessionAcquire = errors.New("rendering session acquisition failed")
	// ErrNotFound is returned by index lookups for unknown document identifiers.
	ErrNotFound = errors.New("document not found")
	// ErrLocked is returned when another process holds the run lock.
	ErrLocked = errors.New("run lock held elsewhere")
)

// Sentiment is the enrichment label attached to an Article.
type Sentiment string

// Sentiment values.
const (
	SentimentPositive Sentiment = "positive"
	SentimentNegative Sentiment = "negative"
	SentimentNeutral  Sentiment = "neutral"
	SentimentUnknown  Sentiment = "unknown"
)

// Valid reports whether s is one of the known labels.
func (s Sentiment) Valid() bool {
	switch s {
	case SentimentPositive, SentimentNegative, SentimentNeutral, SentimentUnknown:
		return true
	default:
		return false
	}
}

// ArticleStub is feed-provided metadata prior to content resolution.
// PubDate is kept raw; parsing it is the normalizer's job.
type ArticleStub struct {
	Title       string   `json:"title"`
	Link        string   `json:"link"`
	Description string   `json:"description"`
	PubDate     string   `json:"pubDate"`
	Category    []string `json:"category"`
}

// Article is the durable unit written to the index.
type Article struct {
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Content     string    `json:"content"`
	PublishDate time.Time `json:"publish_date"`
	Category    []string  `json:"category"`
	Link        string    `json:"link"`
	Sentiment   Sentiment `json:"sentiment"`
	Topics      []string  `json:"topics,omitempty"`
}

// ID returns the document identifier derived from the article link.
func (a Article) ID() string {
	return DocumentID(a.Link)
}

// Clone returns a deep copy so enrichment never mutates the caller's slices.
func (a Article) Clone() Article {
	out := a
	out.Category = append([]string(nil), a.Category...)
	if a.Topics != nil {
		out.Topics = append([]string(nil), a.Topics...)
	}
	return out
}

// Resolution is the outcome of rendering one article page.
type Resolution struct {
	URL      string
	FinalURL string
	HTML     string
	Text     string
	Duration time.Duration
}

// Query describes a free-text search over the index.
type Query struct {
	Text  string
	Limit int
}

// DefaultSearchLimit bounds searches that do not set a limit.
const (
	DefaultSearchLimit = 20
	MaxSearchLimit     = 100
)

// EffectiveLimit clamps the query limit into [1, MaxSearchLimit].
func (q Query) EffectiveLimit() int {
	switch {
	case q.Limit <= 0:
		return DefaultSearchLimit
	case q.Limit > MaxSearchLimit:
		return MaxSearchLimit
	default:
		return q.Limit
	}
}

// IndexedEvent is published after an article is written to the index.
type IndexedEvent struct {
	RunID       string    `json:"run_id"`
	DocumentID  string    `json:"doc_id"`
	Link        string    `json:"link"`
	Title       string    `json:"title"`
	PublishDate time.Time `json:"publish_date"`
	Sentiment   Sentiment `json:"sentiment"`
	ArchiveURI  string    `json:"archive_uri,omitempty"`
	IndexedAt   time.Time `json:"indexed_at"`
}

// MessageKey keys events by document so updates to one article stay ordered
// within a partition.
func (e IndexedEvent) MessageKey() string {
	return e.DocumentID
}
