// Package feed implements the metadata source client for the news feed API.
package feed

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-news-indexer/internal/news"
)

// keyPlaceholder marks where the API key goes in the base URL template.
const keyPlaceholder = "{}"

var sensitiveParams = []string{"apikey", "api_key", "key", "token"}

// Config controls the feed client.
type Config struct {
	// BaseURL is the endpoint template, e.g. https://newsdata.io/api/1/latest?apikey={}&country=in.
	BaseURL   string
	APIKey    string
	Headers   map[string]string
	UserAgent string
	Timeout   time.Duration
	// MaxItems bounds the number of stubs returned per fetch; 0 means no bound.
	MaxItems int
}

// Client fetches one page of article stubs per call.
type Client struct {
	cfg           Config
	endpoint      string
	baseCollector *colly.Collector
	logger        *zap.Logger
}

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

type feedResponse struct {
	Status  string          `json:"status"`
	Results json.RawMessage `json:"results"`
}

// New builds a Client. The endpoint is derived once from the template and key.
func New(cfg Config, logger *zap.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, errors.New("feed base url is required")
	}
	endpoint := strings.ReplaceAll(cfg.BaseURL, keyPlaceholder, url.QueryEscape(cfg.APIKey))
	parsed, err := url.Parse(endpoint)
	if err != nil || parsed.Host == "" {
		return nil, fmt.Errorf("invalid feed url %q", RedactURL(endpoint))
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	c := colly.NewCollector(colly.Async(false), colly.AllowURLRevisit())
	c.IgnoreRobotsTxt = true
	c.WithTransport(newHTTPTransport())

	return &Client{
		cfg:           cfg,
		endpoint:      endpoint,
		baseCollector: c,
		logger:        logger,
	}, nil
}

// Fetch returns the stubs from the feed's current response page. Transport,
// status, and decoding failures are logged and yield an empty slice.
func (c *Client) Fetch(ctx context.Context) []news.ArticleStub {
	stubs, err := c.fetch(ctx)
	if err != nil {
		c.logger.Error("feed fetch failed", zap.String("url", RedactURL(c.endpoint)), zap.Error(err))
		return []news.ArticleStub{}
	}
	c.logger.Info("fetched feed stubs", zap.Int("count", len(stubs)))
	return stubs
}

func (c *Client) fetch(ctx context.Context) ([]news.ArticleStub, error) {
	var (
		body     []byte
		fetchErr error
	)
	collector := c.baseCollector.Clone()
	if c.cfg.UserAgent != "" {
		collector.UserAgent = c.cfg.UserAgent
	}
	collector.SetRequestTimeout(c.cfg.Timeout)
	c.configureHooks(collector, &body, &fetchErr)

	if err := runCollector(ctx, collector, c.endpoint, &fetchErr); err != nil {
		return nil, err
	}
	return c.decode(body)
}

func (c *Client) configureHooks(hooks collectorHooks, body *[]byte, fetchErr *error) {
	hooks.OnRequest(func(r *colly.Request) {
		r.Headers.Set("Accept", "application/json")
		for key, value := range c.cfg.Headers {
			r.Headers.Set(key, value)
		}
	})
	hooks.OnResponse(func(r *colly.Response) {
		*body = append([]byte(nil), r.Body...)
	})
	hooks.OnError(func(r *colly.Response, err error) {
		if r != nil && r.StatusCode != 0 {
			*fetchErr = fmt.Errorf("feed returned status %d: %w", r.StatusCode, err)
			return
		}
		*fetchErr = err
	})
}

// decode reads the results array item by item so one malformed entry does not
// discard the page. A missing or non-array results field means zero stubs.
func (c *Client) decode(body []byte) ([]news.ArticleStub, error) {
	var resp feedResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode feed body: %w", err)
	}
	if strings.EqualFold(resp.Status, "error") {
		return nil, fmt.Errorf("feed reported error: %s", strings.TrimSpace(string(resp.Results)))
	}
	raw := bytes.TrimSpace(resp.Results)
	if len(raw) == 0 || raw[0] != '[' {
		return []news.ArticleStub{}, nil
	}
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, fmt.Errorf("decode feed results: %w", err)
	}
	stubs := make([]news.ArticleStub, 0, len(items))
	for i, item := range items {
		if c.cfg.MaxItems > 0 && len(stubs) >= c.cfg.MaxItems {
			break
		}
		var stub news.ArticleStub
		if err := json.Unmarshal(item, &stub); err != nil {
			c.logger.Warn("skipping undecodable feed item", zap.Int("index", i), zap.Error(err))
			continue
		}
		stubs = append(stubs, stub)
	}
	return stubs, nil
}

func runCollector(ctx context.Context, collector *colly.Collector, target string, fetchErr *error) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(target)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("feed fetch canceled: %w", ctx.Err())
	case err := <-done:
		if *fetchErr != nil {
			return fmt.Errorf("feed response failed: %w", *fetchErr)
		}
		if err != nil {
			return fmt.Errorf("feed visit failed: %w", err)
		}
		return nil
	}
}

// RedactURL hides credential query parameters so the endpoint can be logged.
func RedactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "<unparseable url>"
	}
	q := u.Query()
	changed := false
	for _, key := range sensitiveParams {
		if q.Has(key) {
			q.Set(key, "REDACTED")
			changed = true
		}
	}
	if changed {
		u.RawQuery = q.Encode()
	}
	return u.String()
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          10,
		IdleConnTimeout:       90 * time.Second,
	}
}
