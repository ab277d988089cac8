// Package normalize turns feed stubs plus resolved text into validated articles.
package normalize

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/JakeFAU/realtime-news-indexer/internal/news"
)

// timestampLayouts are tried in order. Layouts without a zone are read as UTC,
// which is how the feed reports pubDate.
var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04",
	"2006-01-02T15:04",
	time.RFC1123Z,
	time.RFC1123,
	"2006-01-02",
}

// Normalizer validates stubs and builds immutable Article records.
type Normalizer struct{}

// New returns a Normalizer.
func New() *Normalizer {
	return &Normalizer{}
}

// Normalize merges stub metadata with resolved content. Any validation failure
// wraps news.ErrRejected.
func (n *Normalizer) Normalize(stub news.ArticleStub, content string) (news.Article, error) {
	title := strings.TrimSpace(stub.Title)
	if title == "" {
		return news.Article{}, rejected("missing title")
	}
	link, err := CanonicalLink(stub.Link)
	if err != nil {
		return news.Article{}, err
	}
	published, err := ParseTimestamp(stub.PubDate)
	if err != nil {
		return news.Article{}, err
	}
	body := strings.TrimSpace(content)
	if body == "" {
		return news.Article{}, rejected("empty content")
	}
	return news.Article{
		Title:       title,
		Description: strings.TrimSpace(stub.Description),
		Content:     body,
		PublishDate: published,
		Category:    cleanCategories(stub.Category),
		Link:        link,
		Sentiment:   news.SentimentUnknown,
	}, nil
}

// CanonicalLink validates an absolute http(s) URL and returns it with a
// lowercase scheme and host and without a fragment.
func CanonicalLink(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", rejected("missing link")
	}
	u, err := url.Parse(trimmed)
	if err != nil {
		return "", rejected(fmt.Sprintf("malformed link %q", trimmed))
	}
	u.Scheme = strings.ToLower(u.Scheme)
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", rejected(fmt.Sprintf("link %q is not an absolute http(s) URL", trimmed))
	}
	if u.Hostname() == "" || u.User != nil {
		return "", rejected(fmt.Sprintf("link %q has no valid host", trimmed))
	}
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""
	u.RawFragment = ""
	return u.String(), nil
}

// ParseTimestamp parses the feed's publish date and normalizes it to UTC.
func ParseTimestamp(raw string) (time.Time, error) {
	value := strings.TrimSpace(raw)
	if value == "" {
		return time.Time{}, rejected("missing publish timestamp")
	}
	for _, layout := range timestampLayouts {
		if ts, err := time.Parse(layout, value); err == nil {
			return ts.UTC(), nil
		}
	}
	return time.Time{}, rejected(fmt.Sprintf("unparseable publish timestamp %q", value))
}

func cleanCategories(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]struct{}, len(in))
	for _, c := range in {
		label := strings.TrimSpace(c)
		if label == "" {
			continue
		}
		if _, dup := seen[label]; dup {
			continue
		}
		seen[label] = struct{}{}
		out = append(out, label)
	}
	return out
}

func rejected(reason string) error {
	return fmt.Errorf("%w: %s", news.ErrRejected, reason)
}
