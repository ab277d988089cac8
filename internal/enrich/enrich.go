// Package enrich provides the optional sentiment/topic stage. Every
// implementation is best-effort: callers wrap them in Guard so a failure
// leaves the article valid with an unknown sentiment.
package enrich

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-news-indexer/internal/news"
)

// Noop leaves the article untouched apart from defaulting the sentiment.
type Noop struct{}

// Enrich returns a copy with sentiment defaulted to unknown.
func (Noop) Enrich(_ context.Context, article news.Article) (news.Article, error) {
	out := article.Clone()
	if !out.Sentiment.Valid() {
		out.Sentiment = news.SentimentUnknown
	}
	return out, nil
}

// Guard absorbs errors and panics from the wrapped enricher.
type Guard struct {
	inner  news.Enricher
	logger *zap.Logger
}

// NewGuard wraps inner; a nil inner behaves like Noop.
func NewGuard(inner news.Enricher, logger *zap.Logger) *Guard {
	if inner == nil {
		inner = Noop{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Guard{inner: inner, logger: logger}
}

// Enrich never returns an error. On failure the original article comes back
// with SentimentUnknown.
func (g *Guard) Enrich(ctx context.Context, article news.Article) (out news.Article, err error) {
	fallback := article.Clone()
	fallback.Sentiment = news.SentimentUnknown

	defer func() {
		if r := recover(); r != nil {
			g.logger.Warn("enrichment panicked", zap.String("url", article.Link), zap.Any("panic", r))
			out, err = fallback, nil
		}
	}()

	enriched, enrichErr := g.inner.Enrich(ctx, article.Clone())
	if enrichErr != nil {
		g.logger.Warn("enrichment failed", zap.String("url", article.Link), zap.Error(enrichErr))
		return fallback, nil
	}
	if !enriched.Sentiment.Valid() {
		g.logger.Warn("enrichment produced invalid sentiment",
			zap.String("url", article.Link),
			zap.String("sentiment", string(enriched.Sentiment)),
		)
		enriched.Sentiment = news.SentimentUnknown
	}
	if err := sameRecord(article, enriched); err != nil {
		g.logger.Warn("enrichment altered base record", zap.String("url", article.Link), zap.Error(err))
		return fallback, nil
	}
	return enriched, nil
}

func sameRecord(base, enriched news.Article) error {
	switch {
	case base.Link != enriched.Link:
		return fmt.Errorf("link changed to %q", enriched.Link)
	case base.Content != enriched.Content:
		return fmt.Errorf("content changed")
	case !base.PublishDate.Equal(enriched.PublishDate):
		return fmt.Errorf("publish date changed")
	default:
		return nil
	}
}
