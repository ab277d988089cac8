// Package postgres provides a Postgres-backed news.Index.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/realtime-news-indexer/internal/news"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the Postgres connection pool used for article rows.
type Config struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Close()
}

// Index stores articles in a single table keyed by document ID.
type Index struct {
	pool  pool
	table string
}

// New connects to Postgres using cfg.
func New(ctx context.Context, cfg Config) (*Index, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("index.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	idx, err := NewWithPool(p, cfg.Table)
	if err != nil {
		p.Close()
		return nil, err
	}
	return idx, nil
}

// NewWithPool constructs an Index from an existing pool (primarily for testing).
func NewWithPool(p pool, table string) (*Index, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = "articles"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &Index{pool: p, table: table}, nil
}

// Close releases the underlying pool resources.
func (i *Index) Close() error {
	if i == nil || i.pool == nil {
		return nil
	}
	i.pool.Close()
	return nil
}

// EnsureSchema creates the article table and its publish date index.
func (i *Index) EnsureSchema(ctx context.Context) error {
	ddl := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %[1]s (
	id           TEXT PRIMARY KEY,
	title        TEXT NOT NULL,
	description  TEXT NOT NULL DEFAULT '',
	content      TEXT NOT NULL,
	publish_date TIMESTAMPTZ NOT NULL,
	category     TEXT[] NOT NULL DEFAULT '{}',
	link         TEXT NOT NULL,
	sentiment    TEXT NOT NULL DEFAULT 'unknown',
	topics       TEXT[] NOT NULL DEFAULT '{}',
	indexed_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS %[1]s_publish_date_idx ON %[1]s (publish_date)`, i.table)
	if _, err := i.pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// Upsert inserts the article or replaces the row with the same document ID.
func (i *Index) Upsert(ctx context.Context, article news.Article) error {
	query := fmt.Sprintf(`
INSERT INTO %s (
	id,
	title,
	description,
	content,
	publish_date,
	category,
	link,
	sentiment,
	topics
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9
)
ON CONFLICT (id) DO UPDATE SET
	title = EXCLUDED.title,
	description = EXCLUDED.description,
	content = EXCLUDED.content,
	publish_date = EXCLUDED.publish_date,
	category = EXCLUDED.category,
	link = EXCLUDED.link,
	sentiment = EXCLUDED.sentiment,
	topics = EXCLUDED.topics,
	indexed_at = now()`, i.table)

	args := []any{
		article.ID(),
		article.Title,
		article.Description,
		article.Content,
		article.PublishDate.UTC(),
		nonNil(article.Category),
		article.Link,
		string(article.Sentiment),
		nonNil(article.Topics),
	}
	if _, err := i.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("upsert article: %w", err)
	}
	return nil
}

// DeleteOlderThan removes rows published strictly before cutoff.
func (i *Index) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	query := fmt.Sprintf(`DELETE FROM %s WHERE publish_date < $1`, i.table)
	tag, err := i.pool.Exec(ctx, query, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("delete expired articles: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Get returns the article stored under id.
func (i *Index) Get(ctx context.Context, id string) (news.Article, error) {
	query := fmt.Sprintf(`
SELECT title, description, content, publish_date, category, link, sentiment, topics
FROM %s
WHERE id = $1`, i.table)
	article, err := scanArticle(i.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return news.Article{}, news.ErrNotFound
		}
		return news.Article{}, fmt.Errorf("get article: %w", err)
	}
	return article, nil
}

// Search matches q.Text case-insensitively against title, description and
// content, newest first.
func (i *Index) Search(ctx context.Context, q news.Query) ([]news.Article, error) {
	query := fmt.Sprintf(`
SELECT title, description, content, publish_date, category, link, sentiment, topics
FROM %s
WHERE $1 = ''
	OR strpos(lower(title), lower($1)) > 0
	OR strpos(lower(description), lower($1)) > 0
	OR strpos(lower(content), lower($1)) > 0
ORDER BY publish_date DESC, id
LIMIT $2`, i.table)
	rows, err := i.pool.Query(ctx, query, q.Text, q.EffectiveLimit())
	if err != nil {
		return nil, fmt.Errorf("search articles: %w", err)
	}
	defer rows.Close()

	var out []news.Article
	for rows.Next() {
		article, err := scanArticle(rows)
		if err != nil {
			return nil, fmt.Errorf("scan article row: %w", err)
		}
		out = append(out, article)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate article rows: %w", err)
	}
	return out, nil
}

// Count reports the number of stored articles.
func (i *Index) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := i.pool.QueryRow(ctx, fmt.Sprintf(`SELECT count(*) FROM %s`, i.table)).Scan(&n); err != nil {
		return 0, fmt.Errorf("count articles: %w", err)
	}
	return n, nil
}

func scanArticle(row pgx.Row) (news.Article, error) {
	var (
		article   news.Article
		sentiment string
	)
	err := row.Scan(
		&article.Title,
		&article.Description,
		&article.Content,
		&article.PublishDate,
		&article.Category,
		&article.Link,
		&sentiment,
		&article.Topics,
	)
	if err != nil {
		return news.Article{}, err
	}
	article.Sentiment = news.Sentiment(sentiment)
	article.PublishDate = article.PublishDate.UTC()
	if len(article.Topics) == 0 {
		article.Topics = nil
	}
	return article, nil
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
