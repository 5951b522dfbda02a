// Package enrich turns raw feed items into enriched items using article text
// and an LLM extractor. Enrichment never fails: any problem yields a degraded
// item built from the feed data alone.
package enrich

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/deusflow/ottpulse/internal/cache"
	"github.com/deusflow/ottpulse/internal/extract"
	"github.com/deusflow/ottpulse/internal/logger"
	"github.com/deusflow/ottpulse/internal/metrics"
	"github.com/deusflow/ottpulse/internal/movies"
	"github.com/deusflow/ottpulse/internal/ratelimit"
)

const DefaultConcurrency = 4

// ArticleFetcher returns the main text of an article page.
type ArticleFetcher interface {
	ExtractArticle(ctx context.Context, url string) (string, error)
}

type Options struct {
	Extractor   extract.Extractor // nil disables extraction
	Articles    ArticleFetcher    // nil means snippets only
	Limiter     *ratelimit.Limiter
	Cache       *cache.Cache[extract.Extraction]
	Classifier  movies.Classifier
	Concurrency int
	CallTimeout time.Duration
	Metrics     *metrics.Metrics
}

// Result is the outcome of enriching one item. Err explains why an item was
// degraded and is informational only.
type Result struct {
	Item     movies.EnrichedItem
	Degraded bool
	Err      error
}

type Enricher struct {
	opts Options
}

func New(opts Options) *Enricher {
	if opts.Classifier == nil {
		opts.Classifier = movies.DefaultClassifier
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultConcurrency
	}
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = 60 * time.Second
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.Global
	}
	return &Enricher{opts: opts}
}

// Enrich enriches one item.
func (e *Enricher) Enrich(ctx context.Context, raw movies.RawItem) (res Result) {
	res.Item = baseItem(raw)

	defer func() {
		if r := recover(); r != nil {
			res = Result{Item: baseItem(raw), Degraded: true, Err: fmt.Errorf("%w: panic: %v", extract.ErrExtraction, r)}
		}
		res.Item = e.classify(res.Item)
		if res.Degraded {
			e.opts.Metrics.IncrementDegraded()
			logger.Debug("Item degraded", "link", raw.Link, "error", res.Err)
		} else {
			e.opts.Metrics.IncrementItemsEnriched()
		}
	}()

	hash := movies.SeenKey(raw)
	if e.opts.Cache != nil && hash != "" {
		if ex, ok := e.opts.Cache.Get(hash); ok {
			if e.opts.Limiter != nil {
				e.opts.Limiter.RecordCacheHit()
			}
			res.Item = apply(res.Item, ex)
			return res
		}
	}

	ex, err := e.extract(ctx, raw)
	if err != nil {
		res.Degraded = true
		res.Err = err
		return res
	}

	if e.opts.Cache != nil && hash != "" {
		e.opts.Cache.Set(hash, ex)
	}
	res.Item = apply(res.Item, ex)
	return res
}

func (e *Enricher) extract(ctx context.Context, raw movies.RawItem) (extract.Extraction, error) {
	if e.opts.Extractor == nil {
		return extract.Extraction{}, extract.ErrDisabled
	}
	if err := ctx.Err(); err != nil {
		return extract.Extraction{}, err
	}
	if e.opts.Limiter != nil {
		if err := e.opts.Limiter.Acquire(ctx); err != nil {
			return extract.Extraction{}, err
		}
	}

	text := raw.Snippet
	if e.opts.Articles != nil && raw.Link != "" {
		article, err := e.opts.Articles.ExtractArticle(ctx, raw.Link)
		if err != nil {
			logger.Debug("Article unavailable, using snippet", "link", raw.Link, "error", err)
		} else {
			text = article
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, e.opts.CallTimeout)
	defer cancel()
	return e.opts.Extractor.Extract(callCtx, extract.Request{Title: raw.Title, Link: raw.Link, Text: text})
}

// EnrichAll enriches items with bounded concurrency. Results keep input order.
func (e *Enricher) EnrichAll(ctx context.Context, items []movies.RawItem) []Result {
	results := make([]Result, len(items))

	var g errgroup.Group
	g.SetLimit(e.opts.Concurrency)
	for i, raw := range items {
		g.Go(func() error {
			results[i] = e.Enrich(ctx, raw)
			return nil
		})
	}
	_ = g.Wait()

	degraded := 0
	for _, r := range results {
		if r.Degraded {
			degraded++
		}
	}
	logger.Info("Enrichment finished", "items", len(items), "degraded", degraded)
	return results
}

// Items strips results down to their items.
func Items(results []Result) []movies.EnrichedItem {
	out := make([]movies.EnrichedItem, len(results))
	for i, r := range results {
		out[i] = r.Item
	}
	return out
}

// baseItem is the degraded form of raw: original title, snippet as synopsis,
// no cast or genre, score 0.
func baseItem(raw movies.RawItem) movies.EnrichedItem {
	return movies.EnrichedItem{
		Key:         movies.Normalize(raw.Title),
		Title:       raw.Title,
		Link:        raw.Link,
		Language:    raw.Source.Language,
		Category:    raw.Source.Language.Category(),
		Cast:        []string{},
		Genre:       []string{},
		Synopsis:    raw.Snippet,
		Score:       0,
		PublishedAt: raw.PublishedAt,
	}
}

func apply(item movies.EnrichedItem, ex extract.Extraction) movies.EnrichedItem {
	if ex.Title != "" {
		item.Title = ex.Title
	}
	if ex.Cast != nil {
		item.Cast = ex.Cast
	}
	if len(item.Cast) > movies.MaxCast {
		item.Cast = item.Cast[:movies.MaxCast]
	}
	if ex.Genre != nil {
		item.Genre = ex.Genre
	}
	if ex.Synopsis != "" {
		item.Synopsis = ex.Synopsis
	}
	item.Director = ex.Director
	item.OTT = ex.OTT
	item.Score = movies.SanitizeScore(ex.Score)
	return item
}

// classify resolves items from Mixed feeds using their text.
func (e *Enricher) classify(item movies.EnrichedItem) movies.EnrichedItem {
	if item.Language == "" {
		item.Language = movies.Mixed
	}
	if item.Language == movies.Mixed {
		text := strings.Join([]string{item.Title, item.Synopsis, strings.Join(item.Genre, " ")}, " ")
		item.Language = e.opts.Classifier.Classify(text)
	}
	item.Category = item.Language.Category()
	return item
}
