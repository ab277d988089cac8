package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-news-indexer/internal/config"
	"github.com/JakeFAU/realtime-news-indexer/internal/index/memory"
	"github.com/JakeFAU/realtime-news-indexer/internal/news"
	"github.com/JakeFAU/realtime-news-indexer/internal/pipeline"
	"github.com/JakeFAU/realtime-news-indexer/internal/retention"
)

func TestServer_Healthz(t *testing.T) {
	t.Parallel()

	rec := serve(t, newTestServer(t), http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestServer_ReadyzCountsDocuments(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, article("https://news.example/a", "Monsoon arrives", time.Now()))
	rec := serve(t, srv, http.MethodGet, "/readyz", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"status":"ready","documents":1}`, rec.Body.String())
}

func TestServer_ReadyzIndexDown(t *testing.T) {
	t.Parallel()

	srv := NewServer(&fakeRunner{}, &fakeSweeper{}, failingReader{}, config.AuthConfig{}, zap.NewNop())
	rec := serve(t, srv, http.MethodGet, "/readyz", nil)

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.Contains(t, rec.Body.String(), "index unavailable")
}

func TestServer_Metrics(t *testing.T) {
	t.Parallel()

	rec := serve(t, newTestServer(t), http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "newsindexer_")
}

func TestServer_TriggerRun(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{name: "succeeded", wantStatus: http.StatusOK},
		{name: "locked", err: fmt.Errorf("acquire: %w", news.ErrLocked), wantStatus: http.StatusConflict},
		{name: "canceled", err: context.Canceled, wantStatus: http.StatusServiceUnavailable},
		{name: "failed", err: errors.New("acquire session"), wantStatus: http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			runner := &fakeRunner{
				report: pipeline.Report{RunID: "run-1", Status: pipeline.StatusSucceeded, Fetched: 2, Indexed: 2},
				err:    tt.err,
			}
			srv := NewServer(runner, &fakeSweeper{}, memory.New(), config.AuthConfig{}, zap.NewNop())
			rec := serve(t, srv, http.MethodPost, "/v1/runs", nil)

			require.Equal(t, tt.wantStatus, rec.Code)
			var report pipeline.Report
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
			require.Equal(t, "run-1", report.RunID)
			require.Equal(t, int32(1), runner.calls.Load())
		})
	}
}

func TestServer_TriggerSweep(t *testing.T) {
	t.Parallel()

	cutoff := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	srv := NewServer(&fakeRunner{}, &fakeSweeper{res: retention.Result{Cutoff: cutoff, Deleted: 4}},
		memory.New(), config.AuthConfig{}, zap.NewNop())

	rec := serve(t, srv, http.MethodPost, "/v1/sweeps", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"cutoff":"2024-05-01T00:00:00Z","deleted":4}`, rec.Body.String())

	failing := NewServer(&fakeRunner{}, &fakeSweeper{err: errors.New("cluster down")},
		memory.New(), config.AuthConfig{}, zap.NewNop())
	rec = serve(t, failing, http.MethodPost, "/v1/sweeps", nil)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestServer_SearchArticles(t *testing.T) {
	t.Parallel()

	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	srv := newTestServer(t,
		article("https://news.example/a", "Monsoon arrives early", now.Add(-time.Hour)),
		article("https://news.example/b", "Monsoon floods coast", now),
		article("https://news.example/c", "Budget passes", now),
	)

	rec := serve(t, srv, http.MethodGet, "/v1/articles?q=monsoon&limit=1", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Articles []news.Article `json:"articles"`
		Count    int            `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, 1, body.Count)
	require.Equal(t, "Monsoon floods coast", body.Articles[0].Title)

	rec = serve(t, srv, http.MethodGet, "/v1/articles?q=nothing", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"articles":[],"count":0}`, rec.Body.String())
}

func TestServer_SearchArticlesBadLimit(t *testing.T) {
	t.Parallel()

	rec := serve(t, newTestServer(t), http.MethodGet, "/v1/articles?limit=abc", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_GetArticle(t *testing.T) {
	t.Parallel()

	a := article("https://news.example/a", "Monsoon arrives", time.Now().UTC())
	srv := newTestServer(t, a)

	rec := serve(t, srv, http.MethodGet, "/v1/articles/"+a.ID(), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "Monsoon arrives")

	rec = serve(t, srv, http.MethodGet, "/v1/articles/missing", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_APIKeyMiddleware(t *testing.T) {
	t.Parallel()

	srv := NewServer(&fakeRunner{}, &fakeSweeper{}, memory.New(),
		config.AuthConfig{Enabled: true, APIKey: "secret"}, zap.NewNop())

	rec := serve(t, srv, http.MethodGet, "/v1/articles", nil)
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = serve(t, srv, http.MethodGet, "/v1/articles", map[string]string{"X-API-Key": "secret"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = serve(t, srv, http.MethodGet, "/v1/articles?api_key=secret", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	// Probes stay open for the orchestrator.
	rec = serve(t, srv, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestServer_RecoversFromPanics(t *testing.T) {
	t.Parallel()

	srv := NewServer(panicRunner{}, &fakeSweeper{}, memory.New(), config.AuthConfig{}, zap.NewNop())
	rec := serve(t, srv, http.MethodPost, "/v1/runs", nil)

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.Contains(t, rec.Body.String(), "internal server error")
}

func TestRequestIDMiddlewareSetsHeader(t *testing.T) {
	t.Parallel()

	rec := serve(t, newTestServer(t), http.MethodGet, "/healthz", nil)
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	rec = serve(t, newTestServer(t), http.MethodGet, "/healthz", map[string]string{"X-Request-ID": "abc"})
	require.Equal(t, "abc", rec.Header().Get("X-Request-ID"))
}

func TestResponseWriterHijackBehavior(t *testing.T) {
	t.Parallel()

	rw := &responseWriter{ResponseWriter: httptest.NewRecorder()}
	if _, _, err := rw.Hijack(); err == nil || err.Error() != "hijacker not supported" {
		t.Fatalf("expected unsupported hijacker error, got %v", err)
	}

	h := &hijackableRecorder{ResponseRecorder: httptest.NewRecorder()}
	rw = &responseWriter{ResponseWriter: h}
	conn, buf, err := rw.Hijack()
	if err != nil {
		t.Fatalf("expected successful hijack, got %v", err)
	}
	if err := conn.Close(); err != nil {
		t.Fatalf("close hijacked conn: %v", err)
	}
	if err := h.CloseClient(); err != nil {
		t.Fatalf("close hijacked client: %v", err)
	}
	if buf == nil {
		t.Fatal("expected buf to be non-nil")
	}
}

// --- helpers/fakes ---

type fakeRunner struct {
	report pipeline.Report
	err    error
	calls  atomic.Int32
}

func (f *fakeRunner) Run(context.Context) (pipeline.Report, error) {
	f.calls.Add(1)
	return f.report, f.err
}

type panicRunner struct{}

func (panicRunner) Run(context.Context) (pipeline.Report, error) {
	panic("boom")
}

type fakeSweeper struct {
	res retention.Result
	err error
}

func (f *fakeSweeper) Sweep(context.Context) (retention.Result, error) {
	return f.res, f.err
}

type failingReader struct{}

func (failingReader) Get(context.Context, string) (news.Article, error) {
	return news.Article{}, errors.New("down")
}

func (failingReader) Search(context.Context, news.Query) ([]news.Article, error) {
	return nil, errors.New("down")
}

func (failingReader) Count(context.Context) (int64, error) {
	return 0, errors.New("down")
}

type hijackableRecorder struct {
	*httptest.ResponseRecorder
	client net.Conn
}

func (h *hijackableRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	server, client := net.Pipe()
	h.client = client
	return server, bufio.NewReadWriter(bufio.NewReader(client), bufio.NewWriter(client)), nil
}

func (h *hijackableRecorder) CloseClient() error {
	if h.client != nil {
		if err := h.client.Close(); err != nil {
			return fmt.Errorf("close hijacker client: %w", err)
		}
	}
	return nil
}

func article(link, title string, published time.Time) news.Article {
	return news.Article{
		Title:       title,
		Description: title,
		Content:     title + " body",
		PublishDate: published,
		Link:        link,
		Sentiment:   news.SentimentUnknown,
	}
}

func newTestServer(t *testing.T, docs ...news.Article) *Server {
	t.Helper()
	idx := memory.New()
	for _, doc := range docs {
		require.NoError(t, idx.Upsert(context.Background(), doc))
	}
	return NewServer(&fakeRunner{}, &fakeSweeper{}, idx, config.AuthConfig{}, zap.NewNop())
}

func serve(t *testing.T, srv *Server, method, target string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}
