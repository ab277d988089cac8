// Package resolver turns article URLs into extracted body text, either by
// driving headless Chrome through chromedp or by a plain HTTP fetch.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/JakeFAU/realtime-news-indexer/internal/news"
)

// Config controls rendering and extraction.
type Config struct {
	UserAgent string
	// Headless runs Chrome without a window; false is only useful for debugging.
	Headless          bool
	StartTimeout      time.Duration
	NavigationTimeout time.Duration
	// WaitTimeout bounds the wait for a content-bearing element.
	WaitTimeout time.Duration
	// SettleDelay gives client-side rendering time to finish after the element appears.
	SettleDelay time.Duration
	// DomainQPS throttles renders per host; 0 disables throttling.
	DomainQPS          float64
	ContainerSelectors []string
	PruneTags          []string
	PruneClasses       []string
}

func (c Config) withDefaults() Config {
	if c.StartTimeout <= 0 {
		c.StartTimeout = 30 * time.Second
	}
	if c.NavigationTimeout <= 0 {
		c.NavigationTimeout = 30 * time.Second
	}
	if c.WaitTimeout <= 0 {
		c.WaitTimeout = 10 * time.Second
	}
	if c.SettleDelay < 0 {
		c.SettleDelay = 0
	}
	return c
}

// Browser is a news.SessionFactory that launches one Chrome process per session.
type Browser struct {
	cfg       Config
	extractor *Extractor
	limiters  *domainLimiters
	logger    *zap.Logger
}

// NewBrowser creates a chromedp-backed session factory.
func NewBrowser(cfg Config, logger *zap.Logger) *Browser {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg = cfg.withDefaults()
	return &Browser{
		cfg:       cfg,
		extractor: NewExtractor(cfg.ContainerSelectors, cfg.PruneTags, cfg.PruneClasses),
		limiters:  newDomainLimiters(cfg.DomainQPS),
		logger:    logger,
	}
}

// Acquire launches a browser process. Failures wrap news.ErrSessionAcquire and
// leave no process behind.
func (b *Browser) Acquire(ctx context.Context) (news.Session, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", b.cfg.Headless),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
	)
	if b.cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(b.cfg.UserAgent))
	}
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)
	teardown := func() {
		browserCancel()
		allocCancel()
	}

	// The first Run allocates the browser and ties its lifetime to browserCtx,
	// so it must not carry a deadline; bound it from the outside instead.
	started := make(chan error, 1)
	go func() { started <- chromedp.Run(browserCtx) }()

	timer := time.NewTimer(b.cfg.StartTimeout)
	defer timer.Stop()
	select {
	case err := <-started:
		if err != nil {
			teardown()
			return nil, fmt.Errorf("%w: start browser: %w", news.ErrSessionAcquire, err)
		}
	case <-ctx.Done():
		teardown()
		<-started
		return nil, fmt.Errorf("%w: %w", news.ErrSessionAcquire, ctx.Err())
	case <-timer.C:
		teardown()
		<-started
		return nil, fmt.Errorf("%w: browser start exceeded %s", news.ErrSessionAcquire, b.cfg.StartTimeout)
	}

	s := &Session{
		cfg:        b.cfg,
		extractor:  b.extractor,
		limiters:   b.limiters,
		logger:     b.logger,
		browserCtx: browserCtx,
	}
	s.closeFn = func() error {
		err := chromedp.Cancel(browserCtx)
		teardown()
		if err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("close browser: %w", err)
		}
		return nil
	}
	b.logger.Debug("rendering session acquired")
	return s, nil
}

// Session owns one browser process; each Resolve opens and closes a tab.
type Session struct {
	cfg        Config
	extractor  *Extractor
	limiters   *domainLimiters
	logger     *zap.Logger
	browserCtx context.Context

	closeOnce sync.Once
	closeFn   func() error
	closeErr  error
	closed    bool
	mu        sync.Mutex
}

// Resolve renders rawURL and returns the extracted article text. Every failure
// is logged and wraps news.ErrNoContent.
func (s *Session) Resolve(ctx context.Context, rawURL string) (news.Resolution, error) {
	res, err := s.resolve(ctx, rawURL)
	if err != nil {
		s.logger.Warn("content resolution failed", zap.String("url", rawURL), zap.Error(err))
		return news.Resolution{}, fmt.Errorf("%w: %w", news.ErrNoContent, err)
	}
	return res, nil
}

func (s *Session) resolve(ctx context.Context, rawURL string) (news.Resolution, error) {
	if s.isClosed() {
		return news.Resolution{}, errors.New("session closed")
	}
	if err := s.limiters.wait(ctx, rawURL); err != nil {
		return news.Resolution{}, fmt.Errorf("render rate limit: %w", err)
	}

	tabCtx, cancelTab := chromedp.NewContext(s.browserCtx)
	defer cancelTab()
	budget := s.cfg.NavigationTimeout + s.cfg.WaitTimeout + s.cfg.SettleDelay
	taskCtx, cancelTask := context.WithTimeout(tabCtx, budget)
	defer cancelTask()
	stop := context.AfterFunc(ctx, cancelTask)
	defer stop()

	start := time.Now()
	var page, finalURL string
	tasks := chromedp.Tasks{}
	if s.cfg.UserAgent != "" {
		tasks = append(tasks, emulation.SetUserAgentOverride(s.cfg.UserAgent))
	}
	tasks = append(tasks,
		bounded(s.cfg.NavigationTimeout, chromedp.Navigate(rawURL)),
		bounded(s.cfg.WaitTimeout, chromedp.WaitReady(s.extractor.WaitSelector(), chromedp.ByQuery)),
		chromedp.Sleep(s.cfg.SettleDelay),
		chromedp.Location(&finalURL),
		chromedp.OuterHTML("html", &page, chromedp.ByQuery),
	)
	if err := chromedp.Run(taskCtx, tasks); err != nil {
		return news.Resolution{}, fmt.Errorf("chromedp run: %w", err)
	}

	text, err := s.extractor.Extract(page)
	if err != nil {
		return news.Resolution{}, err
	}
	if text == "" {
		return news.Resolution{}, errors.New("article container is empty")
	}
	if finalURL == "" {
		finalURL = rawURL
	}
	return news.Resolution{
		URL:      rawURL,
		FinalURL: finalURL,
		HTML:     page,
		Text:     text,
		Duration: time.Since(start),
	}, nil
}

// Close terminates the browser process. It is safe to call more than once;
// only the first call does work.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
		if s.closeFn != nil {
			s.closeErr = s.closeFn()
		}
		s.logger.Info("rendering session closed")
	})
	return s.closeErr
}

func (s *Session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// bounded runs action under its own deadline inside the task context.
func bounded(d time.Duration, action chromedp.Action) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		stepCtx, cancel := context.WithTimeout(ctx, d)
		defer cancel()
		return action.Do(stepCtx)
	})
}

type domainLimiters struct {
	qps      float64
	limiters sync.Map
}

func newDomainLimiters(qps float64) *domainLimiters {
	return &domainLimiters{qps: qps}
}

func (d *domainLimiters) wait(ctx context.Context, rawURL string) error {
	if d == nil || d.qps <= 0 {
		return nil
	}
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("parse render url: %w", err)
	}
	host := strings.ToLower(parsed.Host)
	val, _ := d.limiters.LoadOrStore(host, rate.NewLimiter(rate.Limit(d.qps), 1))
	limiter, ok := val.(*rate.Limiter)
	if !ok {
		return fmt.Errorf("unexpected limiter type %T", val)
	}
	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("wait limiter: %w", err)
	}
	return nil
}
