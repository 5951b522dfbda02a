package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/deusflow/ottpulse/internal/app"
	"github.com/deusflow/ottpulse/internal/cache"
	"github.com/deusflow/ottpulse/internal/config"
	"github.com/deusflow/ottpulse/internal/enrich"
	"github.com/deusflow/ottpulse/internal/extract"
	"github.com/deusflow/ottpulse/internal/gemini"
	"github.com/deusflow/ottpulse/internal/logger"
	"github.com/deusflow/ottpulse/internal/metrics"
	"github.com/deusflow/ottpulse/internal/openai"
	"github.com/deusflow/ottpulse/internal/ratelimit"
	"github.com/deusflow/ottpulse/internal/retry"
	"github.com/deusflow/ottpulse/internal/rss"
	"github.com/deusflow/ottpulse/internal/scraper"
	"github.com/deusflow/ottpulse/internal/selector"
	"github.com/deusflow/ottpulse/internal/storage"
)

type pipeline struct {
	app      *app.App
	provider extract.Provider
	cache    *cache.Cache[extract.Extraction]
	limiter  *ratelimit.Limiter
}

func (p *pipeline) Close() {
	p.cache.Close()
	if g, ok := p.provider.(*gemini.Client); ok {
		g.Close()
	}
}

// newProvider returns nil when extraction is disabled.
func newProvider(ctx context.Context, cfg *config.Config) (extract.Provider, error) {
	switch cfg.Provider() {
	case config.ProviderGemini:
		c, err := gemini.NewClient(ctx, cfg.GeminiAPIKey, cfg.GeminiModel)
		if err != nil {
			return nil, err
		}
		return c, nil
	case config.ProviderOpenAI:
		c, err := openai.NewClient(cfg.OpenAIAPIKey, cfg.OpenAIModel, cfg.OpenAIBaseURL)
		if err != nil {
			return nil, err
		}
		return c, nil
	default:
		return nil, nil
	}
}

// newPipeline wires the digest cycle. sender may be nil for dry runs.
func newPipeline(ctx context.Context, cfg *config.Config, store storage.Store, sender app.Sender, dryRun bool, out io.Writer) (*pipeline, error) {
	sources, err := rss.LoadFeeds(cfg.FeedsConfigPath)
	if err != nil {
		return nil, fmt.Errorf("%w: feeds: %w", config.ErrConfiguration, err)
	}

	client := &http.Client{Timeout: cfg.RequestTimeout}
	fetcher := rss.NewFetcher(rss.Options{
		ItemsPerFeed: cfg.ItemsPerFeed,
		Concurrency:  cfg.FetchConcurrency,
		Retry:        retry.RetryConfig{MaxAttempts: cfg.RetryAttempts, Delay: cfg.RetryDelay, Backoff: true},
		Client:       client,
	})

	provider, err := newProvider(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", config.ErrConfiguration, err)
	}
	var (
		extractor extract.Extractor
		writer    extract.Writer
	)
	if provider != nil {
		extractor, writer = provider, provider
		logger.Info("Extraction provider ready", "provider", provider.Name())
	} else {
		logger.Warn("No extraction provider configured, items will be degraded")
	}

	limiter := ratelimit.New(cfg.ExtractionRPS, cfg.MaxExtractionRequests)
	extractions := cache.New[extract.Extraction](time.Duration(cfg.CacheTTLHours) * time.Hour)

	enricher := enrich.New(enrich.Options{
		Extractor:   extractor,
		Articles:    scraper.New(client),
		Limiter:     limiter,
		Cache:       extractions,
		Concurrency: cfg.EnrichConcurrency,
		CallTimeout: 2 * cfg.RequestTimeout,
	})

	a := app.New(app.Options{
		Sources:  sources,
		Fetcher:  fetcher,
		Enricher: enricher,
		Writer:   writer,
		Sender:   sender,
		Store:    store,
		Limiter:  limiter,
		Selection: selector.Options{
			Quotas: selector.Quotas{
				Regional:      cfg.QuotaRegional,
				International: cfg.QuotaInternational,
				Korean:        cfg.QuotaKorean,
			},
			Backfill: cfg.Backfill,
		},
		Budget:   cfg.CycleBudget,
		Location: cfg.Location,
		DryRun:   dryRun,
		Output:   out,
		Metrics:  metrics.Global,
	})

	logger.Info("Pipeline ready", "feeds", len(sources), "store", store.Stats().Backend)
	return &pipeline{app: a, provider: provider, cache: extractions, limiter: limiter}, nil
}
