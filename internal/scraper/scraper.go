package scraper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
)

// ErrArticleUnavailable is returned when an article page cannot be fetched or
// yields no usable text. Callers fall back to the feed snippet.
var ErrArticleUnavailable = errors.New("article unavailable")

const (
	// MaxArticleRunes bounds the extracted article text.
	MaxArticleRunes = 30000
	minSelectorText = 120
	maxBodyBytes    = 5 << 20
	userAgent       = "Mozilla/5.0 (compatible; ottpulse/1.0; +https://github.com/deusflow/ottpulse)"
)

// Article containers, tried in order. The first with enough text wins.
var contentSelectors = []string{
	"article",
	".article-content",
	".content",
	".story",
	"#article-body",
}

// Noise removed before text is collected.
const noiseSelectors = "script, style, noscript, iframe, nav, header, footer, aside, form, .share, .social, .related, .advertisement, .ad"

type Scraper struct {
	client *http.Client
}

// New returns a scraper. A nil client gets a 15 second timeout.
func New(client *http.Client) *Scraper {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &Scraper{client: client}
}

// ExtractArticle fetches url and returns its main text.
func (s *Scraper) ExtractArticle(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrArticleUnavailable, err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: loading page: %v", ErrArticleUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("%w: HTTP %d", ErrArticleUnavailable, resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return "", fmt.Errorf("%w: parsing HTML: %v", ErrArticleUnavailable, err)
	}

	text := extractContent(doc)
	if text == "" {
		return "", fmt.Errorf("%w: no text", ErrArticleUnavailable)
	}
	return text, nil
}

func extractContent(doc *goquery.Document) string {
	doc.Find(noiseSelectors).Remove()

	for _, selector := range contentSelectors {
		text := cleanText(doc.Find(selector).First().Text())
		if utf8.RuneCountInString(text) > minSelectorText {
			return truncateRunes(text, MaxArticleRunes)
		}
	}
	return truncateRunes(cleanText(doc.Find("body").Text()), MaxArticleRunes)
}

// HTMLToText converts an HTML fragment, such as a feed description, to plain
// text with whitespace collapsed. Input that is not HTML is returned cleaned.
func HTMLToText(fragment string) string {
	if !strings.ContainsAny(fragment, "<&") {
		return cleanText(fragment)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(fragment))
	if err != nil {
		return cleanText(fragment)
	}
	doc.Find("script, style").Remove()
	return cleanText(doc.Text())
}

func cleanText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func truncateRunes(s string, n int) string {
	if n <= 0 {
		return s
	}
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}
