package news

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDocumentID(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name string
		link string
		want string
	}{
		{"https", "https://example.com/world/story-1", "example.com_world_story-1"},
		{"http", "http://example.com/a/b", "example.com_a_b"},
		{"mixed case scheme", "HTTPS://example.com/a", "example.com_a"},
		{"query kept", "https://example.com/a?id=7", "example.com_a?id=7"},
		{"trailing slash", "https://example.com/", "example.com_"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.want, DocumentID(tc.link))
		})
	}
}

func TestDocumentIDDeterministicAndDistinct(t *testing.T) {
	t.Parallel()

	a := DocumentID("https://example.com/a")
	require.Equal(t, a, DocumentID("https://example.com/a"))
	require.NotEqual(t, a, DocumentID("https://example.com/b"))
	require.Equal(t, a, Article{Link: "https://example.com/a"}.ID())
}

func TestDocumentIDLongLinkIsBounded(t *testing.T) {
	t.Parallel()

	base := "https://example.com/" + strings.Repeat("segment/", 100)
	first := DocumentID(base + "one")
	second := DocumentID(base + "two")

	require.LessOrEqual(t, len(first), maxDocumentIDBytes)
	require.NotEqual(t, first, second)
	require.Contains(t, first, "~")
	require.Equal(t, first, DocumentID(base+"one"))
}

func TestSentimentValid(t *testing.T) {
	t.Parallel()

	for _, s := range []Sentiment{SentimentPositive, SentimentNegative, SentimentNeutral, SentimentUnknown} {
		assert.True(t, s.Valid(), s)
	}
	assert.False(t, Sentiment("mixed").Valid())
	assert.False(t, Sentiment("").Valid())
}

func TestArticleCloneIsDeep(t *testing.T) {
	t.Parallel()

	orig := Article{
		Title:       "t",
		Category:    []string{"world"},
		Topics:      []string{"x"},
		PublishDate: time.Unix(0, 0).UTC(),
	}
	clone := orig.Clone()
	clone.Category[0] = "sports"
	clone.Topics[0] = "y"

	assert.Equal(t, "world", orig.Category[0])
	assert.Equal(t, "x", orig.Topics[0])
}

func TestQueryEffectiveLimit(t *testing.T) {
	t.Parallel()

	assert.Equal(t, DefaultSearchLimit, Query{}.EffectiveLimit())
	assert.Equal(t, 5, Query{Limit: 5}.EffectiveLimit())
	assert.Equal(t, MaxSearchLimit, Query{Limit: 10_000}.EffectiveLimit())
}
