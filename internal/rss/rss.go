package rss

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/deusflow/ottpulse/internal/logger"
	"github.com/deusflow/ottpulse/internal/metrics"
	"github.com/deusflow/ottpulse/internal/movies"
	"github.com/deusflow/ottpulse/internal/retry"
	"github.com/deusflow/ottpulse/internal/scraper"
)

// ErrSourceUnavailable wraps every per-feed failure.
var ErrSourceUnavailable = errors.New("feed source unavailable")

const (
	DefaultItemsPerFeed = 6
	DefaultConcurrency  = 6
	// MaxSnippetRunes bounds the plain-text snippet kept per item.
	MaxSnippetRunes = 1000
)

// FeedsConfig is YAML config structure
// feeds:
//   - url: https://...
//     lang: tamil
type FeedsConfig struct {
	Feeds []struct {
		URL  string `yaml:"url"`
		Lang string `yaml:"lang"`
	} `yaml:"feeds"`
}

// LoadFeeds reads the feed list from a YAML file. Entries without a URL are
// skipped; an unknown lang means Mixed.
func LoadFeeds(path string) ([]movies.FeedSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var cfg FeedsConfig
	dec := yaml.NewDecoder(f)
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}

	sources := make([]movies.FeedSource, 0, len(cfg.Feeds))
	for _, feed := range cfg.Feeds {
		url := strings.TrimSpace(feed.URL)
		if url == "" {
			continue
		}
		sources = append(sources, movies.FeedSource{URL: url, Language: movies.ParseLanguage(feed.Lang)})
	}
	if len(sources) == 0 {
		return nil, fmt.Errorf("no feeds configured in %s", path)
	}
	return sources, nil
}

type Options struct {
	ItemsPerFeed int
	Concurrency  int
	Retry        retry.RetryConfig
	Client       *http.Client
	Metrics      *metrics.Metrics
}

type Fetcher struct {
	opts Options
	now  func() time.Time
}

func NewFetcher(opts Options) *Fetcher {
	if opts.ItemsPerFeed <= 0 {
		opts.ItemsPerFeed = DefaultItemsPerFeed
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultConcurrency
	}
	if opts.Retry.MaxAttempts == 0 {
		opts.Retry = retry.Default
	}
	if opts.Client == nil {
		opts.Client = &http.Client{Timeout: 20 * time.Second}
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.Global
	}
	return &Fetcher{opts: opts, now: time.Now}
}

// FetchAll downloads every source with bounded concurrency. A failing source
// contributes no items and never affects the others. Sources not yet started
// when ctx is done are skipped. Items come back in configuration order.
func (f *Fetcher) FetchAll(ctx context.Context, sources []movies.FeedSource) []movies.RawItem {
	results := make([][]movies.RawItem, len(sources))

	var g errgroup.Group
	g.SetLimit(f.opts.Concurrency)

	okCount := 0
	started := 0
	for i, src := range sources {
		if ctx.Err() != nil {
			logger.Warn("Cycle budget exhausted, skipping remaining feeds", "skipped", len(sources)-i)
			break
		}
		started++
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			items, err := f.FetchFeed(ctx, src)
			if err != nil {
				logger.Warn("Feed failed", "feed", src.URL, "error", err)
				f.opts.Metrics.IncrementSourcesFailed()
				return nil
			}
			results[i] = items
			logger.Debug("Loaded feed", "feed", src.URL, "items", len(items))
			return nil
		})
	}
	_ = g.Wait()

	var all []movies.RawItem
	for _, items := range results {
		if items != nil {
			okCount++
		}
		all = append(all, items...)
	}

	f.opts.Metrics.AddItemsFetched(len(all))
	logger.Info("Processed RSS feeds", "ok", okCount, "started", started, "total", len(sources), "items", len(all))
	return all
}

// FetchFeed downloads and parses one source, retrying transient failures.
func (f *Fetcher) FetchFeed(ctx context.Context, src movies.FeedSource) ([]movies.RawItem, error) {
	var feed *gofeed.Feed
	err := retry.WithRetry(ctx, f.opts.Retry, func() error {
		var err error
		feed, err = f.fetchOnce(ctx, src.URL)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrSourceUnavailable, src.URL, err)
	}

	fetchedAt := f.now()
	items := make([]movies.RawItem, 0, f.opts.ItemsPerFeed)
	for _, it := range feed.Items {
		if len(items) == f.opts.ItemsPerFeed {
			break
		}
		if it == nil || strings.TrimSpace(it.Title) == "" {
			continue
		}
		items = append(items, movies.RawItem{
			Title:       strings.Join(strings.Fields(it.Title), " "),
			Link:        strings.TrimSpace(it.Link),
			PublishedAt: publishedAt(it, fetchedAt),
			Snippet:     snippet(it),
			Source:      src,
		})
	}
	return items, nil
}

func (f *Fetcher) fetchOnce(ctx context.Context, url string) (*gofeed.Feed, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", "ottpulse/1.0 (+https://github.com/deusflow/ottpulse)")

	resp, err := f.opts.Client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("HTTP %d", resp.StatusCode)
	}

	// gofeed parsers keep per-document state, so each fetch gets its own.
	return gofeed.NewParser().Parse(resp.Body)
}

func publishedAt(it *gofeed.Item, fallback time.Time) time.Time {
	switch {
	case it.PublishedParsed != nil:
		return *it.PublishedParsed
	case it.UpdatedParsed != nil:
		return *it.UpdatedParsed
	default:
		return fallback
	}
}

func snippet(it *gofeed.Item) string {
	raw := it.Description
	if strings.TrimSpace(raw) == "" {
		raw = it.Content
	}
	text := []rune(scraper.HTMLToText(raw))
	if len(text) > MaxSnippetRunes {
		text = text[:MaxSnippetRunes]
	}
	return string(text)
}
