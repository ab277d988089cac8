package elastic

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/realtime-news-indexer/internal/news"
)

// fakeCluster implements the handful of endpoints Index uses.
type fakeCluster struct {
	mu         sync.Mutex
	docs       map[string]news.Article
	created    bool
	lastSearch map[string]any
	lastQuery  map[string]string
}

func newFakeCluster(t *testing.T) (*fakeCluster, *Index) {
	t.Helper()
	fc := &fakeCluster{docs: map[string]news.Article{}, lastQuery: map[string]string{}}
	srv := httptest.NewServer(fc)
	t.Cleanup(srv.Close)
	idx, err := New(Config{URL: srv.URL, Index: "articles"})
	require.NoError(t, err)
	return fc, idx
}

func (fc *fakeCluster) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	w.Header().Set("X-Elastic-Product", "Elasticsearch")
	w.Header().Set("Content-Type", "application/json")
	for k, v := range r.URL.Query() {
		fc.lastQuery[k] = v[0]
	}

	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	switch {
	case len(parts) == 1 && r.Method == http.MethodHead:
		if !fc.created {
			w.WriteHeader(http.StatusNotFound)
		}
	case len(parts) == 1 && r.Method == http.MethodPut:
		fc.created = true
		_, _ = w.Write([]byte(`{"acknowledged":true}`))
	case len(parts) == 3 && parts[1] == "_doc" && (r.Method == http.MethodPut || r.Method == http.MethodPost):
		var doc news.Article
		if err := json.NewDecoder(r.Body).Decode(&doc); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		fc.docs[parts[2]] = doc
		_, _ = w.Write([]byte(`{"result":"created"}`))
	case len(parts) == 3 && parts[1] == "_doc" && r.Method == http.MethodGet:
		doc, ok := fc.docs[parts[2]]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"found":false}`))
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"found": true, "_id": parts[2], "_source": doc})
	case len(parts) == 2 && parts[1] == "_delete_by_query":
		var body struct {
			Query struct {
				Range struct {
					PublishDate struct {
						LT time.Time `json:"lt"`
					} `json:"publish_date"`
				} `json:"range"`
			} `json:"query"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		deleted := 0
		for id, doc := range fc.docs {
			if doc.PublishDate.Before(body.Query.Range.PublishDate.LT) {
				delete(fc.docs, id)
				deleted++
			}
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"deleted": deleted, "failures": []any{}})
	case len(parts) == 2 && parts[1] == "_search":
		fc.lastSearch = map[string]any{}
		_ = json.NewDecoder(r.Body).Decode(&fc.lastSearch)
		docs := make([]news.Article, 0, len(fc.docs))
		for _, doc := range fc.docs {
			docs = append(docs, doc)
		}
		sort.Slice(docs, func(a, b int) bool { return docs[a].PublishDate.After(docs[b].PublishDate) })
		hits := make([]map[string]any, 0, len(docs))
		for _, doc := range docs {
			hits = append(hits, map[string]any{"_id": doc.ID(), "_source": doc})
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"hits": map[string]any{"hits": hits}})
	case len(parts) == 2 && parts[1] == "_count":
		_ = json.NewEncoder(w).Encode(map[string]any{"count": len(fc.docs)})
	default:
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"unexpected request"}`))
	}
}

func sample(link, title string, published time.Time) news.Article {
	return news.Article{
		Title:       title,
		Content:     "content " + title,
		PublishDate: published,
		Category:    []string{},
		Link:        link,
		Sentiment:   news.SentimentUnknown,
	}
}

func TestUpsertTwiceKeepsOneDocument(t *testing.T) {
	t.Parallel()

	fc, idx := newFakeCluster(t)
	ctx := context.Background()
	published := time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)

	require.NoError(t, idx.Upsert(ctx, sample("https://example.com/a", "v1", published)))
	updated := sample("https://example.com/a", "v2", published)
	updated.Content = "updated"
	require.NoError(t, idx.Upsert(ctx, updated))

	count, err := idx.Count(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, count)

	got, err := idx.Get(ctx, "example.com_a")
	require.NoError(t, err)
	assert.Equal(t, "updated", got.Content)
	assert.True(t, published.Equal(got.PublishDate))

	fc.mu.Lock()
	_, ok := fc.docs["example.com_a"]
	fc.mu.Unlock()
	assert.True(t, ok)
}

func TestGetMissing(t *testing.T) {
	t.Parallel()

	_, idx := newFakeCluster(t)
	_, err := idx.Get(context.Background(), "example.com_nope")
	require.ErrorIs(t, err, news.ErrNotFound)
}

func TestDeleteOlderThanBoundary(t *testing.T) {
	t.Parallel()

	fc, idx := newFakeCluster(t)
	ctx := context.Background()
	cutoff := time.Date(2025, 6, 3, 0, 0, 0, 0, time.UTC)
	require.NoError(t, idx.Upsert(ctx, sample("https://example.com/before", "before", cutoff.Add(-time.Second))))
	require.NoError(t, idx.Upsert(ctx, sample("https://example.com/at", "at", cutoff)))
	require.NoError(t, idx.Upsert(ctx, sample("https://example.com/after", "after", cutoff.Add(time.Second))))

	deleted, err := idx.DeleteOlderThan(ctx, cutoff)
	require.NoError(t, err)
	assert.EqualValues(t, 1, deleted)

	fc.mu.Lock()
	defer fc.mu.Unlock()
	assert.Len(t, fc.docs, 2)
	assert.NotContains(t, fc.docs, "example.com_before")
	assert.Equal(t, "proceed", fc.lastQuery["conflicts"])
}

func TestSearchBuildsQuery(t *testing.T) {
	t.Parallel()

	fc, idx := newFakeCluster(t)
	ctx := context.Background()
	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, idx.Upsert(ctx, sample("https://example.com/1", "older", base)))
	require.NoError(t, idx.Upsert(ctx, sample("https://example.com/2", "newer", base.Add(time.Hour))))

	got, err := idx.Search(ctx, news.Query{Text: "monsoon", Limit: 500})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "newer", got[0].Title)

	fc.mu.Lock()
	defer fc.mu.Unlock()
	assert.EqualValues(t, news.MaxSearchLimit, fc.lastSearch["size"])
	query, ok := fc.lastSearch["query"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, query, "multi_match")
}

func TestSearchEmptyTextMatchesAll(t *testing.T) {
	t.Parallel()

	fc, idx := newFakeCluster(t)
	_, err := idx.Search(context.Background(), news.Query{})
	require.NoError(t, err)

	fc.mu.Lock()
	defer fc.mu.Unlock()
	query, ok := fc.lastSearch["query"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, query, "match_all")
	assert.EqualValues(t, news.DefaultSearchLimit, fc.lastSearch["size"])
}

func TestEnsureIndexCreatesOnce(t *testing.T) {
	t.Parallel()

	fc, idx := newFakeCluster(t)
	require.NoError(t, idx.EnsureIndex(context.Background()))
	require.NoError(t, idx.EnsureIndex(context.Background()))

	fc.mu.Lock()
	defer fc.mu.Unlock()
	assert.True(t, fc.created)
}

func TestServerErrorsSurface(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("X-Elastic-Product", "Elasticsearch")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"type":"mapper_parsing_exception"}}`))
	}))
	t.Cleanup(srv.Close)
	idx, err := New(Config{URL: srv.URL})
	require.NoError(t, err)

	err = idx.Upsert(context.Background(), sample("https://example.com/a", "a", time.Now()))
	require.ErrorContains(t, err, "index article")
	_, err = idx.DeleteOlderThan(context.Background(), time.Now())
	require.ErrorContains(t, err, "delete by query")
	_, err = idx.Count(context.Background())
	require.ErrorContains(t, err, "count articles")
}

func TestNewRequiresURL(t *testing.T) {
	t.Parallel()

	_, err := New(Config{})
	require.ErrorContains(t, err, "index.url is required")
}
