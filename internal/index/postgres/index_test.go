package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/realtime-news-indexer/internal/news"
)

var columns = []string{"title", "description", "content", "publish_date", "category", "link", "sentiment", "topics"}

func newMockIndex(t *testing.T) (*Index, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	idx, err := NewWithPool(mock, "articles")
	require.NoError(t, err)
	return idx, mock
}

func TestUpsertWritesRowKeyedByDocumentID(t *testing.T) {
	t.Parallel()

	idx, mock := newMockIndex(t)
	published := time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)
	article := news.Article{
		Title:       "Monsoon arrives",
		Description: "early rain",
		Content:     "Heavy rain reached the coast.",
		PublishDate: published,
		Link:        "https://example.com/news/monsoon",
		Sentiment:   news.SentimentUnknown,
	}

	mock.ExpectExec("INSERT INTO articles").
		WithArgs(
			"example.com_news_monsoon",
			article.Title,
			article.Description,
			article.Content,
			published,
			[]string{},
			article.Link,
			"unknown",
			[]string{},
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, idx.Upsert(context.Background(), article))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertWrapsErrors(t *testing.T) {
	t.Parallel()

	idx, mock := newMockIndex(t)
	mock.ExpectExec("INSERT INTO articles").
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnError(errors.New("connection reset"))

	err := idx.Upsert(context.Background(), news.Article{Link: "https://example.com/a"})
	require.ErrorContains(t, err, "upsert article")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteOlderThanReturnsRowsAffected(t *testing.T) {
	t.Parallel()

	idx, mock := newMockIndex(t)
	cutoff := time.Date(2025, 6, 3, 0, 0, 0, 0, time.UTC)
	mock.ExpectExec(`DELETE FROM articles WHERE publish_date < \$1`).
		WithArgs(cutoff).
		WillReturnResult(pgxmock.NewResult("DELETE", 3))

	deleted, err := idx.DeleteOlderThan(context.Background(), cutoff)
	require.NoError(t, err)
	assert.EqualValues(t, 3, deleted)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGet(t *testing.T) {
	t.Parallel()

	idx, mock := newMockIndex(t)
	published := time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)
	mock.ExpectQuery("SELECT title, description, content").
		WithArgs("example.com_a").
		WillReturnRows(pgxmock.NewRows(columns).
			AddRow("A", "", "body", published, []string{"top"}, "https://example.com/a", "positive", []string{}))
	mock.ExpectQuery("SELECT title, description, content").
		WithArgs("example.com_missing").
		WillReturnError(pgx.ErrNoRows)

	got, err := idx.Get(context.Background(), "example.com_a")
	require.NoError(t, err)
	assert.Equal(t, "A", got.Title)
	assert.Equal(t, news.SentimentPositive, got.Sentiment)
	assert.Equal(t, []string{"top"}, got.Category)
	assert.Nil(t, got.Topics)

	_, err = idx.Get(context.Background(), "example.com_missing")
	require.ErrorIs(t, err, news.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSearchClampsLimit(t *testing.T) {
	t.Parallel()

	idx, mock := newMockIndex(t)
	newer := time.Date(2025, 6, 2, 8, 0, 0, 0, time.UTC)
	older := newer.Add(-24 * time.Hour)
	mock.ExpectQuery("SELECT title, description, content").
		WithArgs("rain", news.MaxSearchLimit).
		WillReturnRows(pgxmock.NewRows(columns).
			AddRow("Rain B", "", "b", newer, []string{}, "https://example.com/b", "unknown", []string{}).
			AddRow("Rain A", "", "a", older, []string{}, "https://example.com/a", "unknown", []string{"rain"}))

	got, err := idx.Search(context.Background(), news.Query{Text: "rain", Limit: 5000})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "Rain B", got[0].Title)
	assert.Equal(t, []string{"rain"}, got[1].Topics)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCount(t *testing.T) {
	t.Parallel()

	idx, mock := newMockIndex(t)
	mock.ExpectQuery(`SELECT count\(\*\) FROM articles`).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(int64(7)))

	n, err := idx.Count(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 7, n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnsureSchema(t *testing.T) {
	t.Parallel()

	idx, mock := newMockIndex(t)
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS articles").
		WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))

	require.NoError(t, idx.EnsureSchema(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNewWithPoolValidation(t *testing.T) {
	t.Parallel()

	_, err := NewWithPool(nil, "articles")
	require.Error(t, err)

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	_, err = NewWithPool(mock, "articles; DROP TABLE x")
	require.ErrorContains(t, err, "invalid table name")

	idx, err := NewWithPool(mock, "")
	require.NoError(t, err)
	assert.Equal(t, "articles", idx.table)
}

func TestNewRequiresDSN(t *testing.T) {
	t.Parallel()

	_, err := New(context.Background(), Config{})
	require.ErrorContains(t, err, "index.dsn is required")
}
