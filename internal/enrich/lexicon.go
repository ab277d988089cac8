package enrich

import (
	"context"
	"sort"
	"strings"
	"unicode"

	"github.com/JakeFAU/realtime-news-indexer/internal/news"
)

const maxTopics = 3

var (
	positiveWords = wordSet(
		"gain", "gains", "growth", "win", "wins", "won", "record", "boost", "surge", "rally",
		"success", "successful", "improve", "improves", "improved", "recovery", "celebrate",
		"peace", "agreement", "approve", "approved", "rise", "rises", "strong", "profit",
	)
	negativeWords = wordSet(
		"loss", "losses", "crash", "fall", "falls", "fell", "decline", "kill", "killed", "dead",
		"death", "war", "attack", "crisis", "fraud", "fire", "flood", "protest", "injured",
		"arrest", "arrested", "slump", "weak", "collapse", "ban",
	)
	stopWords = wordSet(
		"the", "and", "for", "with", "that", "this", "from", "have", "will", "said", "says",
		"after", "over", "into", "about", "their", "they", "what", "when", "where", "which",
		"while", "were", "been", "more", "than", "amid", "news", "today",
	)
)

// Lexicon scores sentiment with fixed word lists and picks topics from the
// most frequent title and description terms.
type Lexicon struct{}

// Enrich returns a copy with sentiment and topics populated.
func (Lexicon) Enrich(ctx context.Context, article news.Article) (news.Article, error) {
	if err := ctx.Err(); err != nil {
		return news.Article{}, err
	}
	out := article.Clone()

	score := 0
	for _, w := range tokens(article.Title + " " + article.Description + " " + article.Content) {
		if _, ok := positiveWords[w]; ok {
			score++
		}
		if _, ok := negativeWords[w]; ok {
			score--
		}
	}
	switch {
	case score > 0:
		out.Sentiment = news.SentimentPositive
	case score < 0:
		out.Sentiment = news.SentimentNegative
	default:
		out.Sentiment = news.SentimentNeutral
	}
	out.Topics = topTerms(article.Title+" "+article.Description, maxTopics)
	return out, nil
}

func topTerms(text string, n int) []string {
	counts := map[string]int{}
	var order []string
	for _, w := range tokens(text) {
		if len(w) < 4 {
			continue
		}
		if _, stop := stopWords[w]; stop {
			continue
		}
		if counts[w] == 0 {
			order = append(order, w)
		}
		counts[w]++
	}
	// stable keeps first-seen order between equal counts
	sort.SliceStable(order, func(i, j int) bool { return counts[order[i]] > counts[order[j]] })
	if len(order) > n {
		order = order[:n]
	}
	return order
}

func tokens(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

func wordSet(words ...string) map[string]struct{} {
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		set[w] = struct{}{}
	}
	return set
}
