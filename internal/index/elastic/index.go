// Package elastic provides an Elasticsearch-backed news.Index.
package elastic

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"

	"github.com/JakeFAU/realtime-news-indexer/internal/news"
)

// Config describes the cluster and target index.
type Config struct {
	URL      string
	Index    string
	Username string
	Password string
	// Refresh makes writes visible to search before the call returns.
	Refresh bool
	// Transport overrides the HTTP transport (primarily for testing).
	Transport http.RoundTripper
}

// Index stores articles as documents whose _id is the document ID.
type Index struct {
	client *elasticsearch.Client
	index  string
	cfg    Config
}

// New constructs an Index. It does not contact the cluster.
func New(cfg Config) (*Index, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("index.url is required")
	}
	if cfg.Index == "" {
		cfg.Index = "articles"
	}
	client, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: []string{cfg.URL},
		Username:  cfg.Username,
		Password:  cfg.Password,
		Transport: cfg.Transport,
	})
	if err != nil {
		return nil, fmt.Errorf("create elasticsearch client: %w", err)
	}
	return &Index{client: client, index: cfg.Index, cfg: cfg}, nil
}

// Close is a no-op; the client holds no long-lived resources beyond its transport.
func (i *Index) Close() error { return nil }

const mapping = `{
  "mappings": {
    "properties": {
      "title":        {"type": "text"},
      "description":  {"type": "text"},
      "content":      {"type": "text"},
      "publish_date": {"type": "date"},
      "category":     {"type": "keyword"},
      "link":         {"type": "keyword"},
      "sentiment":    {"type": "keyword"},
      "topics":       {"type": "keyword"}
    }
  }
}`

// EnsureIndex creates the index with its mapping when it does not exist.
func (i *Index) EnsureIndex(ctx context.Context) error {
	res, err := i.client.Indices.Exists([]string{i.index}, i.client.Indices.Exists.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("check index: %w", err)
	}
	drain(res)
	if res.StatusCode == http.StatusOK {
		return nil
	}
	if res.StatusCode != http.StatusNotFound {
		return fmt.Errorf("check index: unexpected status %d", res.StatusCode)
	}
	res, err = i.client.Indices.Create(i.index,
		i.client.Indices.Create.WithContext(ctx),
		i.client.Indices.Create.WithBody(strings.NewReader(mapping)),
	)
	if err != nil {
		return fmt.Errorf("create index: %w", err)
	}
	defer drain(res)
	if res.IsError() {
		return fmt.Errorf("create index: %s", res.String())
	}
	return nil
}

// Upsert writes the article under its document ID, replacing any previous version.
func (i *Index) Upsert(ctx context.Context, article news.Article) error {
	body, err := json.Marshal(article)
	if err != nil {
		return fmt.Errorf("marshal article: %w", err)
	}
	opts := []func(*esapi.IndexRequest){
		i.client.Index.WithContext(ctx),
		i.client.Index.WithDocumentID(article.ID()),
	}
	if i.cfg.Refresh {
		opts = append(opts, i.client.Index.WithRefresh("true"))
	}
	res, err := i.client.Index(i.index, bytes.NewReader(body), opts...)
	if err != nil {
		return fmt.Errorf("index article: %w", err)
	}
	defer drain(res)
	if res.IsError() {
		return fmt.Errorf("index article: %s", res.String())
	}
	return nil
}

// DeleteOlderThan removes documents whose publish_date is strictly before cutoff.
func (i *Index) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	query := map[string]any{
		"query": map[string]any{
			"range": map[string]any{
				"publish_date": map[string]any{"lt": cutoff.UTC().Format(time.RFC3339Nano)},
			},
		},
	}
	body, err := json.Marshal(query)
	if err != nil {
		return 0, fmt.Errorf("marshal delete query: %w", err)
	}
	res, err := i.client.DeleteByQuery([]string{i.index}, bytes.NewReader(body),
		i.client.DeleteByQuery.WithContext(ctx),
		i.client.DeleteByQuery.WithConflicts("proceed"),
		i.client.DeleteByQuery.WithRefresh(true),
	)
	if err != nil {
		return 0, fmt.Errorf("delete by query: %w", err)
	}
	defer drain(res)
	if res.IsError() {
		return 0, fmt.Errorf("delete by query: %s", res.String())
	}
	var out struct {
		Deleted int64 `json:"deleted"`
	}
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return 0, fmt.Errorf("decode delete response: %w", err)
	}
	return out.Deleted, nil
}

// Get returns the article stored under id.
func (i *Index) Get(ctx context.Context, id string) (news.Article, error) {
	res, err := i.client.Get(i.index, id, i.client.Get.WithContext(ctx))
	if err != nil {
		return news.Article{}, fmt.Errorf("get article: %w", err)
	}
	defer drain(res)
	if res.StatusCode == http.StatusNotFound {
		return news.Article{}, news.ErrNotFound
	}
	if res.IsError() {
		return news.Article{}, fmt.Errorf("get article: %s", res.String())
	}
	var out struct {
		Found  bool         `json:"found"`
		Source news.Article `json:"_source"`
	}
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return news.Article{}, fmt.Errorf("decode get response: %w", err)
	}
	if !out.Found {
		return news.Article{}, news.ErrNotFound
	}
	return out.Source, nil
}

// Search runs a multi_match query over the text fields, newest first. An
// empty text lists the newest articles.
func (i *Index) Search(ctx context.Context, q news.Query) ([]news.Article, error) {
	var match map[string]any
	if text := strings.TrimSpace(q.Text); text == "" {
		match = map[string]any{"match_all": map[string]any{}}
	} else {
		match = map[string]any{
			"multi_match": map[string]any{
				"query":  text,
				"fields": []string{"title^2", "description", "content"},
			},
		}
	}
	body, err := json.Marshal(map[string]any{
		"size":  q.EffectiveLimit(),
		"query": match,
		"sort":  []any{map[string]any{"publish_date": map[string]any{"order": "desc"}}},
	})
	if err != nil {
		return nil, fmt.Errorf("marshal search: %w", err)
	}
	res, err := i.client.Search(
		i.client.Search.WithContext(ctx),
		i.client.Search.WithIndex(i.index),
		i.client.Search.WithBody(bytes.NewReader(body)),
	)
	if err != nil {
		return nil, fmt.Errorf("search articles: %w", err)
	}
	defer drain(res)
	if res.IsError() {
		return nil, fmt.Errorf("search articles: %s", res.String())
	}
	var out struct {
		Hits struct {
			Hits []struct {
				Source news.Article `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}
	articles := make([]news.Article, 0, len(out.Hits.Hits))
	for _, hit := range out.Hits.Hits {
		articles = append(articles, hit.Source)
	}
	return articles, nil
}

// Count reports the number of documents in the index.
func (i *Index) Count(ctx context.Context) (int64, error) {
	res, err := i.client.Count(i.client.Count.WithContext(ctx), i.client.Count.WithIndex(i.index))
	if err != nil {
		return 0, fmt.Errorf("count articles: %w", err)
	}
	defer drain(res)
	if res.IsError() {
		return 0, fmt.Errorf("count articles: %s", res.String())
	}
	var out struct {
		Count int64 `json:"count"`
	}
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return 0, fmt.Errorf("decode count response: %w", err)
	}
	return out.Count, nil
}

func drain(res *esapi.Response) {
	if res == nil || res.Body == nil {
		return
	}
	_, _ = io.Copy(io.Discard, res.Body)
	_ = res.Body.Close()
}
