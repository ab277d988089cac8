package resolver

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-news-indexer/internal/news"
)

// Static is a news.SessionFactory that fetches pages without executing
// JavaScript. It suits feeds whose articles are server-rendered and hosts
// without a Chrome binary.
type Static struct {
	cfg       Config
	extractor *Extractor
	limiters  *domainLimiters
	logger    *zap.Logger
}

// NewStatic creates an HTTP-only session factory.
func NewStatic(cfg Config, logger *zap.Logger) *Static {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg = cfg.withDefaults()
	return &Static{
		cfg:       cfg,
		extractor: NewExtractor(cfg.ContainerSelectors, cfg.PruneTags, cfg.PruneClasses),
		limiters:  newDomainLimiters(cfg.DomainQPS),
		logger:    logger,
	}
}

// Acquire returns a session backed by its own collector.
func (f *Static) Acquire(ctx context.Context) (news.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", news.ErrSessionAcquire, err)
	}
	c := colly.NewCollector(colly.Async(false), colly.AllowURLRevisit())
	c.IgnoreRobotsTxt = true
	if f.cfg.UserAgent != "" {
		c.UserAgent = f.cfg.UserAgent
	}
	c.SetRequestTimeout(f.cfg.NavigationTimeout)
	return &staticSession{factory: f, collector: c}, nil
}

type staticSession struct {
	factory   *Static
	collector *colly.Collector

	mu     sync.Mutex
	closed bool
}

func (s *staticSession) Resolve(ctx context.Context, rawURL string) (news.Resolution, error) {
	res, err := s.resolve(ctx, rawURL)
	if err != nil {
		s.factory.logger.Warn("content resolution failed", zap.String("url", rawURL), zap.Error(err))
		return news.Resolution{}, fmt.Errorf("%w: %w", news.ErrNoContent, err)
	}
	return res, nil
}

func (s *staticSession) resolve(ctx context.Context, rawURL string) (news.Resolution, error) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return news.Resolution{}, errors.New("session closed")
	}
	if err := s.factory.limiters.wait(ctx, rawURL); err != nil {
		return news.Resolution{}, fmt.Errorf("render rate limit: %w", err)
	}

	var (
		page     []byte
		finalURL string
		fetchErr error
	)
	collector := s.collector.Clone()
	collector.OnResponse(func(r *colly.Response) {
		page = append([]byte(nil), r.Body...)
		finalURL = r.Request.URL.String()
	})
	collector.OnError(func(r *colly.Response, err error) {
		if r != nil && r.StatusCode != 0 {
			fetchErr = fmt.Errorf("status %d: %w", r.StatusCode, err)
			return
		}
		fetchErr = err
	})

	start := time.Now()
	done := make(chan error, 1)
	go func() { done <- collector.Visit(rawURL) }()
	select {
	case <-ctx.Done():
		return news.Resolution{}, fmt.Errorf("fetch canceled: %w", ctx.Err())
	case err := <-done:
		if fetchErr != nil {
			return news.Resolution{}, fmt.Errorf("fetch page: %w", fetchErr)
		}
		if err != nil {
			return news.Resolution{}, fmt.Errorf("fetch page: %w", err)
		}
	}

	text, err := s.factory.extractor.Extract(string(page))
	if err != nil {
		return news.Resolution{}, err
	}
	if text == "" {
		return news.Resolution{}, errors.New("article container is empty")
	}
	return news.Resolution{
		URL:      rawURL,
		FinalURL: finalURL,
		HTML:     string(page),
		Text:     text,
		Duration: time.Since(start),
	}, nil
}

func (s *staticSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
