package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-news-indexer/internal/config"
	"github.com/JakeFAU/realtime-news-indexer/internal/metrics"
	"github.com/JakeFAU/realtime-news-indexer/internal/news"
	"github.com/JakeFAU/realtime-news-indexer/internal/pipeline"
	"github.com/JakeFAU/realtime-news-indexer/internal/retention"
)

// Runner triggers a pipeline run.
type Runner interface {
	Run(ctx context.Context) (pipeline.Report, error)
}

// SweepRunner triggers a retention sweep.
type SweepRunner interface {
	Sweep(ctx context.Context) (retention.Result, error)
}

// Reader is the read side of the article index.
type Reader interface {
	Get(ctx context.Context, id string) (news.Article, error)
	Search(ctx context.Context, query news.Query) ([]news.Article, error)
	Count(ctx context.Context) (int64, error)
}

// Server wires HTTP handlers to the orchestrator, sweeper, and index.
type Server struct {
	router  chi.Router
	runner  Runner
	sweeper SweepRunner
	index   Reader
	logger  *zap.Logger
}

const (
	readTimeout  = 60 * time.Second
	readyTimeout = 5 * time.Second
)

// NewServer constructs a Server with middleware and routes.
func NewServer(
	runner Runner,
	sweeper SweepRunner,
	index Reader,
	auth config.AuthConfig,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		runner:  runner,
		sweeper: sweeper,
		index:   index,
		logger:  logger,
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(metrics.Middleware)

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		if auth.Enabled {
			r.Use(apiKeyMiddleware(auth.APIKey))
		}
		// Runs are bounded by pipeline.run_timeout rather than the request budget.
		r.Post("/runs", s.triggerRun)
		r.Post("/sweeps", s.triggerSweep)
		r.Group(func(r chi.Router) {
			r.Use(timeoutMiddleware(readTimeout))
			r.Get("/articles", s.searchArticles)
			r.Get("/articles/{id}", s.getArticle)
		})
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
	defer cancel()
	count, err := s.index.Count(ctx)
	if err != nil {
		s.logger.Warn("index not ready", zap.Error(err))
		s.writeError(w, http.StatusServiceUnavailable, "index unavailable")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"status": "ready", "documents": count})
}

func (s *Server) triggerRun(w http.ResponseWriter, r *http.Request) {
	report, err := s.runner.Run(r.Context())
	status := http.StatusOK
	switch {
	case err == nil:
	case errors.Is(err, news.ErrLocked):
		status = http.StatusConflict
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		status = http.StatusServiceUnavailable
	default:
		status = http.StatusInternalServerError
	}
	if err != nil {
		s.logger.Warn("triggered run did not complete", zap.String("run_id", report.RunID), zap.Error(err))
	}
	s.writeJSON(w, status, report)
}

func (s *Server) triggerSweep(w http.ResponseWriter, r *http.Request) {
	res, err := s.sweeper.Sweep(r.Context())
	if err != nil {
		s.logger.Error("triggered sweep failed", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "sweep failed")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"cutoff":  res.Cutoff,
		"deleted": res.Deleted,
	})
}

func (s *Server) searchArticles(w http.ResponseWriter, r *http.Request) {
	query := news.Query{Text: r.URL.Query().Get("q")}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			s.writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		query.Limit = limit
	}
	articles, err := s.index.Search(r.Context(), query)
	if err != nil {
		s.logger.Error("search failed", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "search failed")
		return
	}
	if articles == nil {
		articles = []news.Article{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"articles": articles, "count": len(articles)})
}

func (s *Server) getArticle(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	article, err := s.index.Get(r.Context(), id)
	if errors.Is(err, news.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "article not found")
		return
	}
	if err != nil {
		s.logger.Error("get article failed", zap.String("doc_id", id), zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "lookup failed")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"id": article.ID(), "article": article})
}

type requestIDKey struct{}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequestID returns the request ID stored by the middleware, if any.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func loggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			logger.Info("request completed",
				zap.String("request_id", RequestID(r.Context())),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.status),
				zap.Int64("duration_ms", time.Since(start).Milliseconds()),
			)
		})
	}
}

func recoverMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered",
						zap.String("request_id", RequestID(r.Context())),
						zap.Any("error", rec),
					)
					writeJSON(logger, w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	if err != nil {
		return n, fmt.Errorf("write response: %w", err)
	}
	return n, nil
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rw.ResponseWriter.(http.Hijacker); ok {
		conn, buf, err := h.Hijack()
		if err != nil {
			return nil, nil, fmt.Errorf("hijack connection: %w", err)
		}
		return conn, buf, nil
	}
	return nil, nil, errors.New("hijacker not supported")
}

func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = r.URL.Query().Get("api_key")
			}
			if key != expected {
				writeJSON(zap.NewNop(), w, http.StatusForbidden, map[string]string{"error": "unauthorized"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	writeJSON(s.logger, w, status, payload)
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(s.logger, w, status, map[string]string{"error": msg})
}

func writeJSON(logger *zap.Logger, w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logger.Error("write JSON failed", zap.Error(err))
	}
}
