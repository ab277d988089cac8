// Package pipeline sequences one ingestion run: fetch stubs, resolve each
// page, normalize, enrich and upsert, then optionally sweep expired articles.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-news-indexer/internal/enrich"
	"github.com/JakeFAU/realtime-news-indexer/internal/metrics"
	"github.com/JakeFAU/realtime-news-indexer/internal/news"
	"github.com/JakeFAU/realtime-news-indexer/internal/retention"
)

// Config controls run behavior.
type Config struct {
	// Workers is the number of rendering sessions, and so the resolution parallelism.
	Workers       int
	RunTimeout    time.Duration
	SweepAfterRun bool
	LockKey       string
	LockTTL       time.Duration
	Topic         string
	ArchivePrefix string
	ContentType   string
}

// Sweeper is the retention stage run after ingestion when enabled.
type Sweeper interface {
	Sweep(ctx context.Context) (retention.Result, error)
}

// Deps are the collaborators of an Orchestrator. Enricher, Sweeper,
// Publisher, Archive and Locker are optional.
type Deps struct {
	Source     news.MetadataSource
	Sessions   news.SessionFactory
	Normalizer news.Normalizer
	Enricher   news.Enricher
	Index      news.Index
	Sweeper    Sweeper
	Publisher  news.Publisher
	Archive    news.BlobStore
	Locker     news.Locker
	Clock      news.Clock
	IDs        news.IDGenerator
	// Tracer defaults to the global OpenTelemetry provider.
	Tracer trace.Tracer
}

const tracerName = "github.com/JakeFAU/realtime-news-indexer/internal/pipeline"

// Orchestrator runs the ingestion pipeline.
type Orchestrator struct {
	deps   Deps
	cfg    Config
	logger *zap.Logger

	// running serializes runs within one process; the Locker covers the fleet.
	running sync.Mutex
}

// New validates deps and constructs an Orchestrator.
func New(deps Deps, cfg Config, logger *zap.Logger) (*Orchestrator, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	switch {
	case deps.Source == nil:
		return nil, errors.New("pipeline: metadata source is required")
	case deps.Sessions == nil:
		return nil, errors.New("pipeline: session factory is required")
	case deps.Normalizer == nil:
		return nil, errors.New("pipeline: normalizer is required")
	case deps.Index == nil:
		return nil, errors.New("pipeline: index is required")
	case deps.Clock == nil:
		return nil, errors.New("pipeline: clock is required")
	case deps.IDs == nil:
		return nil, errors.New("pipeline: id generator is required")
	}
	if deps.Tracer == nil {
		deps.Tracer = otel.Tracer(tracerName)
	}
	if deps.Enricher != nil {
		deps.Enricher = enrich.NewGuard(deps.Enricher, logger)
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.LockKey == "" {
		cfg.LockKey = "newsindexer:run"
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 15 * time.Minute
	}
	if cfg.ContentType == "" {
		cfg.ContentType = "text/html; charset=utf-8"
	}
	return &Orchestrator{deps: deps, cfg: cfg, logger: logger}, nil
}

// Run executes one pipeline run. Per-stub failures are counted in the report
// and never returned. The error is non-nil only when the run could not
// proceed: another holder owns the run lock (news.ErrLocked), no rendering
// session could be acquired (news.ErrSessionAcquire), or the run was canceled.
func (o *Orchestrator) Run(ctx context.Context) (Report, error) {
	ctx, span := o.deps.Tracer.Start(ctx, "pipeline.run")
	defer span.End()

	report, err := o.run(ctx)
	span.SetAttributes(
		attribute.String("run_id", report.RunID),
		attribute.String("status", string(report.Status)),
		attribute.Int("fetched", report.Fetched),
		attribute.Int("indexed", report.Indexed),
		attribute.Int("skipped", report.SkippedTotal()),
	)
	if err != nil && !errors.Is(err, news.ErrLocked) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return report, err
}

func (o *Orchestrator) run(ctx context.Context) (Report, error) {
	o.running.Lock()
	defer o.running.Unlock()

	report := Report{StartedAt: o.deps.Clock.Now().UTC(), Skipped: map[string]int{}}
	runID, err := o.deps.IDs.NewID()
	if err != nil {
		return o.finish(report, StatusFailed, fmt.Errorf("generate run id: %w", err))
	}
	report.RunID = runID
	logger := o.logger.With(zap.String("run_id", runID))

	if o.cfg.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.cfg.RunTimeout)
		defer cancel()
	}

	if o.deps.Locker != nil {
		release, err := o.deps.Locker.TryLock(ctx, o.cfg.LockKey, o.cfg.LockTTL)
		if err != nil {
			if errors.Is(err, news.ErrLocked) {
				logger.Info("run skipped; lock held elsewhere", zap.String("lock_key", o.cfg.LockKey))
				return o.finish(report, StatusSkipped, err)
			}
			logger.Error("acquire run lock failed", zap.Error(err))
			return o.finish(report, StatusFailed, fmt.Errorf("acquire run lock: %w", err))
		}
		defer func() {
			releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()
			if err := release(releaseCtx); err != nil {
				logger.Warn("release run lock failed", zap.Error(err))
			}
		}()
	}

	stubs := o.deps.Source.Fetch(ctx)
	report.Fetched = len(stubs)
	metrics.ObserveStubs(len(stubs))
	logger.Info("fetched article stubs", zap.Int("count", len(stubs)))

	if len(stubs) > 0 {
		if err := o.ingest(ctx, logger, runID, stubs, &report); err != nil {
			logger.Error("run aborted", zap.Error(err))
			return o.finish(report, StatusFailed, err)
		}
	}

	if ctx.Err() != nil {
		return o.finish(report, StatusCanceled, fmt.Errorf("run canceled: %w", ctx.Err()))
	}

	if o.cfg.SweepAfterRun && o.deps.Sweeper != nil {
		res, err := o.deps.Sweeper.Sweep(ctx)
		if err != nil {
			logger.Warn("post-run sweep failed", zap.Error(err))
		}
		report.Swept = res.Deleted
	}

	status := StatusSucceeded
	if report.SkippedTotal() > 0 {
		status = StatusPartial
	}
	report = o.stamp(report, status)
	logger.Info("run complete",
		zap.String("status", string(report.Status)),
		zap.Int("fetched", report.Fetched),
		zap.Int("indexed", report.Indexed),
		zap.Int("skipped", report.SkippedTotal()),
		zap.Int64("swept", report.Swept),
		zap.Duration("duration", report.Duration),
	)
	return report, nil
}

func (o *Orchestrator) finish(report Report, status Status, err error) (Report, error) {
	report = o.stamp(report, status)
	if err != nil {
		report.Error = err.Error()
	}
	return report, err
}

func (o *Orchestrator) stamp(report Report, status Status) Report {
	report.Status = status
	report.FinishedAt = o.deps.Clock.Now().UTC()
	report.Duration = report.FinishedAt.Sub(report.StartedAt)
	metrics.ObserveRun(string(status), report.Duration)
	return report
}

// ingest acquires every worker's session up front, fans the stubs out, and
// releases each session exactly once before returning.
func (o *Orchestrator) ingest(
	ctx context.Context,
	logger *zap.Logger,
	runID string,
	stubs []news.ArticleStub,
	report *Report,
) error {
	workers := min(o.cfg.Workers, len(stubs))
	sessions := make([]news.Session, 0, workers)
	defer func() {
		for _, s := range sessions {
			if err := s.Close(); err != nil {
				logger.Warn("rendering session release failed", zap.Error(err))
			}
			metrics.DecOpenSessions()
		}
		if len(sessions) > 0 {
			logger.Info("rendering sessions released", zap.Int("sessions", len(sessions)))
		}
	}()
	for range workers {
		session, err := o.deps.Sessions.Acquire(ctx)
		if err != nil {
			if !errors.Is(err, news.ErrSessionAcquire) {
				err = fmt.Errorf("%w: %w", news.ErrSessionAcquire, err)
			}
			return err
		}
		sessions = append(sessions, session)
		metrics.IncOpenSessions()
	}
	report.Sessions = len(sessions)

	jobs := make(chan news.ArticleStub)
	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	for _, session := range sessions {
		wg.Add(1)
		go func(s news.Session) {
			defer wg.Done()
			for stub := range jobs {
				outcome := SkipCanceled
				if ctx.Err() == nil {
					outcome = o.processStub(ctx, logger, runID, s, stub)
				}
				mu.Lock()
				if outcome == outcomeIndexed {
					report.Indexed++
				} else {
					report.skip(outcome)
				}
				mu.Unlock()
			}
		}(session)
	}

	dispatched := 0
dispatch:
	for _, stub := range stubs {
		select {
		case <-ctx.Done():
			break dispatch
		case jobs <- stub:
			dispatched++
		}
	}
	close(jobs)
	wg.Wait()

	for range len(stubs) - dispatched {
		report.skip(SkipCanceled)
	}
	return nil
}

const outcomeIndexed = "indexed"

// processStub carries one stub through resolve, normalize, enrich and upsert.
// It never panics and returns either outcomeIndexed or a skip reason.
func (o *Orchestrator) processStub(
	ctx context.Context,
	logger *zap.Logger,
	runID string,
	session news.Session,
	stub news.ArticleStub,
) (outcome string) {
	itemLogger := logger.With(zap.String("url", stub.Link))
	ctx, span := o.deps.Tracer.Start(ctx, "pipeline.process_stub",
		trace.WithAttributes(attribute.String("url", stub.Link)))
	defer func() {
		if r := recover(); r != nil {
			itemLogger.Error("stub processing panicked", zap.Any("panic", r))
			outcome = SkipPanic
			span.SetStatus(codes.Error, "panic")
		}
		metrics.ObserveItem(stub.Link, metricOutcome(outcome))
		span.SetAttributes(attribute.String("outcome", outcome))
		span.End()
	}()

	res, err := session.Resolve(ctx, stub.Link)
	if err != nil {
		itemLogger.Warn("stub skipped", zap.String("reason", SkipNoContent), zap.Error(err))
		return SkipNoContent
	}
	metrics.ObserveResolve(stub.Link, res.Duration)

	article, err := o.deps.Normalizer.Normalize(stub, res.Text)
	if err != nil {
		itemLogger.Warn("stub skipped", zap.String("reason", SkipRejected), zap.Error(err))
		return SkipRejected
	}

	if o.deps.Enricher != nil {
		// Guard never fails.
		article, _ = o.deps.Enricher.Enrich(ctx, article)
	}

	archiveURI := o.archive(ctx, itemLogger, article, res)

	if err := o.deps.Index.Upsert(ctx, article); err != nil {
		itemLogger.Warn("stub skipped", zap.String("reason", SkipIndexFailed), zap.Error(err))
		return SkipIndexFailed
	}
	itemLogger.Debug("article indexed", zap.String("doc_id", article.ID()))

	o.publish(ctx, itemLogger, news.IndexedEvent{
		RunID:       runID,
		DocumentID:  article.ID(),
		Link:        article.Link,
		Title:       article.Title,
		PublishDate: article.PublishDate,
		Sentiment:   article.Sentiment,
		ArchiveURI:  archiveURI,
		IndexedAt:   o.deps.Clock.Now().UTC(),
	})
	return outcomeIndexed
}

func (o *Orchestrator) archive(ctx context.Context, logger *zap.Logger, article news.Article, res news.Resolution) string {
	if o.deps.Archive == nil || res.HTML == "" {
		return ""
	}
	path := article.ID() + ".html"
	if prefix := strings.Trim(o.cfg.ArchivePrefix, "/"); prefix != "" {
		path = prefix + "/" + path
	}
	uri, err := o.deps.Archive.PutObject(ctx, path, o.cfg.ContentType, strings.NewReader(res.HTML))
	if err != nil {
		logger.Warn("archive rendered page failed", zap.String("path", path), zap.Error(err))
		return ""
	}
	return uri
}

func (o *Orchestrator) publish(ctx context.Context, logger *zap.Logger, event news.IndexedEvent) {
	if o.deps.Publisher == nil || o.cfg.Topic == "" {
		return
	}
	if _, err := o.deps.Publisher.Publish(ctx, o.cfg.Topic, event); err != nil {
		logger.Warn("publish indexed event failed", zap.String("topic", o.cfg.Topic), zap.Error(err))
	}
}

func metricOutcome(outcome string) string {
	switch outcome {
	case outcomeIndexed:
		return metrics.OutcomeIndexed
	case SkipRejected:
		return metrics.OutcomeRejected
	case SkipNoContent:
		return metrics.OutcomeNoContent
	default:
		return metrics.OutcomeFailed
	}
}
