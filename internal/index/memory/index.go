// Package memory provides an in-process news.Index for tests and local runs.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/JakeFAU/realtime-news-indexer/internal/news"
)

// Index stores articles in a map keyed by document ID.
type Index struct {
	mu   sync.RWMutex
	docs map[string]news.Article
}

// New constructs an empty Index.
func New() *Index {
	return &Index{docs: make(map[string]news.Article)}
}

// Upsert inserts or replaces the article under its document ID.
func (i *Index) Upsert(ctx context.Context, article news.Article) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	i.mu.Lock()
	defer i.mu.Unlock()
	i.docs[article.ID()] = article.Clone()
	return nil
}

// DeleteOlderThan removes articles published strictly before cutoff.
func (i *Index) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	i.mu.Lock()
	defer i.mu.Unlock()
	var deleted int64
	for id, doc := range i.docs {
		if doc.PublishDate.Before(cutoff) {
			delete(i.docs, id)
			deleted++
		}
	}
	return deleted, nil
}

// Get returns the article stored under id.
func (i *Index) Get(ctx context.Context, id string) (news.Article, error) {
	if err := ctx.Err(); err != nil {
		return news.Article{}, err
	}
	i.mu.RLock()
	defer i.mu.RUnlock()
	doc, ok := i.docs[id]
	if !ok {
		return news.Article{}, news.ErrNotFound
	}
	return doc.Clone(), nil
}

// Search matches q.Text case-insensitively against title, description and
// content, newest first. An empty text lists the newest articles.
func (i *Index) Search(ctx context.Context, q news.Query) ([]news.Article, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	needle := strings.ToLower(strings.TrimSpace(q.Text))
	i.mu.RLock()
	matches := make([]news.Article, 0, len(i.docs))
	for _, doc := range i.docs {
		if needle == "" || matchesText(doc, needle) {
			matches = append(matches, doc.Clone())
		}
	}
	i.mu.RUnlock()

	sort.Slice(matches, func(a, b int) bool {
		if !matches[a].PublishDate.Equal(matches[b].PublishDate) {
			return matches[a].PublishDate.After(matches[b].PublishDate)
		}
		return matches[a].ID() < matches[b].ID()
	})
	if limit := q.EffectiveLimit(); len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}

// Count reports the number of stored articles.
func (i *Index) Count(ctx context.Context) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	i.mu.RLock()
	defer i.mu.RUnlock()
	return int64(len(i.docs)), nil
}

// Close is a no-op.
func (i *Index) Close() error { return nil }

func matchesText(doc news.Article, needle string) bool {
	for _, field := range []string{doc.Title, doc.Description, doc.Content} {
		if strings.Contains(strings.ToLower(field), needle) {
			return true
		}
	}
	return false
}
