package resolver

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"

	"github.com/JakeFAU/realtime-news-indexer/internal/news"
)

// Default extraction heuristics.
var (
	DefaultContainerSelectors = []string{"article", "div.article-content"}
	DefaultPruneTags          = []string{"aside", "div", "section"}
	DefaultPruneClasses       = []string{"ad", "advertisement", "recommended", "related"}
)

// alwaysPruned never contributes article text.
const alwaysPruned = "script, style, noscript, template, iframe"

// Extractor locates the main article container and returns its text with
// non-content subtrees removed.
type Extractor struct {
	containers   []string
	pruneTags    string
	pruneClasses map[string]struct{}
}

// NewExtractor builds an Extractor; empty arguments fall back to the defaults.
func NewExtractor(containers, pruneTags, pruneClasses []string) *Extractor {
	if len(containers) == 0 {
		containers = DefaultContainerSelectors
	}
	if len(pruneTags) == 0 {
		pruneTags = DefaultPruneTags
	}
	if len(pruneClasses) == 0 {
		pruneClasses = DefaultPruneClasses
	}
	classes := make(map[string]struct{}, len(pruneClasses))
	for _, c := range pruneClasses {
		classes[strings.ToLower(strings.TrimSpace(c))] = struct{}{}
	}
	return &Extractor{
		containers:   append([]string(nil), containers...),
		pruneTags:    strings.Join(pruneTags, ", "),
		pruneClasses: classes,
	}
}

// WaitSelector is the CSS selector a renderer should wait on before extracting.
func (e *Extractor) WaitSelector() string {
	return strings.Join(e.containers, ", ")
}

// Extract returns the article text from a rendered page. It fails with
// news.ErrContentNotLocated when no container selector matches.
func (e *Extractor) Extract(page string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(page))
	if err != nil {
		return "", fmt.Errorf("parse rendered html: %w", err)
	}

	var container *goquery.Selection
	for _, selector := range e.containers {
		if found := doc.Find(selector).First(); found.Length() > 0 {
			container = found
			break
		}
	}
	if container == nil {
		return "", news.ErrContentNotLocated
	}

	container.Find(alwaysPruned).Remove()
	container.Find(e.pruneTags).FilterFunction(func(_ int, s *goquery.Selection) bool {
		return e.hasPrunedClass(s)
	}).Remove()

	return collectText(container.Nodes), nil
}

func (e *Extractor) hasPrunedClass(s *goquery.Selection) bool {
	class, ok := s.Attr("class")
	if !ok {
		return false
	}
	for _, token := range strings.Fields(strings.ToLower(class)) {
		if _, hit := e.pruneClasses[token]; hit {
			return true
		}
	}
	return false
}

// collectText joins the trimmed text nodes under nodes with single spaces.
func collectText(nodes []*html.Node) string {
	var parts []string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			if text := strings.Join(strings.Fields(n.Data), " "); text != "" {
				parts = append(parts, text)
			}
			return
		}
		for child := n.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
	}
	for _, n := range nodes {
		walk(n)
	}
	return strings.Join(parts, " ")
}
