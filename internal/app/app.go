// Package app runs the weekly digest cycle and schedules it.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/deusflow/ottpulse/internal/enrich"
	"github.com/deusflow/ottpulse/internal/extract"
	"github.com/deusflow/ottpulse/internal/format"
	"github.com/deusflow/ottpulse/internal/logger"
	"github.com/deusflow/ottpulse/internal/metrics"
	"github.com/deusflow/ottpulse/internal/movies"
	"github.com/deusflow/ottpulse/internal/ratelimit"
	"github.com/deusflow/ottpulse/internal/selector"
	"github.com/deusflow/ottpulse/internal/storage"
)

// ErrAlreadyRunning is returned when a cycle is requested while one runs.
var ErrAlreadyRunning = errors.New("digest cycle already running")

// MaxReviewWords caps the title-of-the-week review.
const MaxReviewWords = 55

type State int32

const (
	StateIdle State = iota
	StateRunning
	StateFailedThisCycle
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateFailedThisCycle:
		return "failed_this_cycle"
	default:
		return "idle"
	}
}

type Fetcher interface {
	FetchAll(ctx context.Context, sources []movies.FeedSource) []movies.RawItem
}

type Enricher interface {
	EnrichAll(ctx context.Context, items []movies.RawItem) []enrich.Result
}

type Sender interface {
	SendDigest(ctx context.Context, text string) error
}

type Options struct {
	Sources  []movies.FeedSource
	Fetcher  Fetcher
	Enricher Enricher
	Writer   extract.Writer // optional; deterministic text is used without it
	Sender   Sender
	Store    storage.Store
	Limiter  *ratelimit.Limiter

	Selection selector.Options
	// Budget bounds fetching and enrichment. Delivery is not cut short by it.
	Budget   time.Duration
	Location *time.Location

	// DryRun writes the digest to Output instead of sending it and leaves
	// the seen-link cache untouched.
	DryRun bool
	Output io.Writer

	Metrics *metrics.Metrics
}

// Report describes one finished cycle.
type Report struct {
	RunID     string
	Fetched   int
	Fresh     int
	Degraded  int
	Picks     int
	Digest    string
	Delivered bool
	Duration  time.Duration
}

type App struct {
	opts    Options
	running atomic.Bool
	state   atomic.Int32
	wg      sync.WaitGroup
	now     func() time.Time
}

func New(opts Options) *App {
	if opts.Budget <= 0 {
		opts.Budget = 10 * time.Minute
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.Global
	}
	if opts.Selection.Quotas == (selector.Quotas{}) {
		opts.Selection.Quotas = selector.DefaultQuotas
	}
	return &App{opts: opts, now: time.Now}
}

func (a *App) State() State { return State(a.state.Load()) }

// Status is the scheduler view served on /status.
type Status struct {
	State     string    `json:"state"`
	Backend   string    `json:"backend"`
	SeenLinks int       `json:"seen_links"`
	Users     int       `json:"registered_users"`
	LastRun   time.Time `json:"last_successful_cycle"`
}

func (a *App) Status() Status {
	st := Status{State: a.State().String()}
	if a.opts.Store != nil {
		s := a.opts.Store.Stats()
		st.Backend = s.Backend
		st.SeenLinks = s.SeenLinks
		st.Users = s.Users
		st.LastRun = s.LastRun
	}
	return st
}

func (a *App) acquire() bool {
	if a.running.CompareAndSwap(false, true) {
		return true
	}
	a.opts.Metrics.IncrementCyclesSkipped()
	logger.Warn("Digest cycle already running, trigger skipped")
	return false
}

func (a *App) release() { a.running.Store(false) }

// RunCycle runs one cycle synchronously.
func (a *App) RunCycle(ctx context.Context) (Report, error) {
	if !a.acquire() {
		return Report{}, ErrAlreadyRunning
	}
	defer a.release()
	return a.run(ctx)
}

// Trigger starts a cycle in the background and returns immediately.
func (a *App) Trigger(ctx context.Context) error {
	if !a.acquire() {
		return ErrAlreadyRunning
	}
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		defer a.release()
		if _, err := a.run(ctx); err != nil {
			logger.Error("Digest cycle failed", "error", err)
		}
	}()
	return nil
}

// Wait blocks until triggered cycles have finished.
func (a *App) Wait() { a.wg.Wait() }

// Schedule triggers a cycle every interval until ctx is done.
func (a *App) Schedule(ctx context.Context, interval time.Duration, runOnStart bool) error {
	if interval <= 0 {
		return fmt.Errorf("invalid digest interval %v", interval)
	}
	logger.Info("Scheduler started", "interval", interval, "run_on_start", runOnStart)
	if runOnStart {
		a.Trigger(ctx)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			a.Wait()
			return ctx.Err()
		case <-ticker.C:
			a.Trigger(ctx)
		}
	}
}

func (a *App) run(ctx context.Context) (Report, error) {
	start := a.now()
	report := Report{RunID: uuid.NewString()}
	log := logger.With("run", report.RunID)

	a.state.Store(int32(StateRunning))
	a.opts.Metrics.IncrementCyclesStarted()
	if a.opts.Limiter != nil {
		a.opts.Limiter.ResetCycle()
	}
	log.Info("Digest cycle started", "sources", len(a.opts.Sources), "dry_run", a.opts.DryRun)

	budgetCtx, cancel := context.WithTimeout(ctx, a.opts.Budget)
	defer cancel()

	raw := a.opts.Fetcher.FetchAll(budgetCtx, a.opts.Sources)
	report.Fetched = len(raw)

	unique := movies.Dedupe(raw)
	a.opts.Metrics.AddDuplicatesFiltered(len(raw) - len(unique))

	fresh := a.filterProcessed(unique)
	report.Fresh = len(fresh)
	log.Info("Items collected", "fetched", len(raw), "unique", len(unique), "fresh", len(fresh))

	results := a.opts.Enricher.EnrichAll(budgetCtx, fresh)
	for _, r := range results {
		if r.Degraded {
			report.Degraded++
		}
	}
	items := enrich.Items(results)

	sel := selector.Select(items, a.opts.Selection)
	sel.Summary = a.summary(budgetCtx, sel, items)
	sel.Review = a.review(budgetCtx, sel.TitleOfWeek)
	report.Picks = len(sel.All())

	report.Digest = format.Format(sel, start, a.opts.Location)

	if a.opts.DryRun {
		if a.opts.Output != nil {
			fmt.Fprintln(a.opts.Output, report.Digest)
		}
		report.Duration = a.now().Sub(start)
		a.state.Store(int32(StateIdle))
		log.Info("Dry run finished", "picks", report.Picks, "degraded", report.Degraded)
		return report, nil
	}

	if err := a.opts.Sender.SendDigest(ctx, report.Digest); err != nil {
		report.Duration = a.now().Sub(start)
		a.state.Store(int32(StateFailedThisCycle))
		a.opts.Metrics.IncrementDeliveryFailures()
		a.opts.Metrics.SetError(err.Error())
		log.Error("Digest delivery failed", "error", err)
		return report, err
	}
	report.Delivered = true
	a.opts.Metrics.IncrementDigestsSent()

	hashes := make([]string, 0, len(fresh))
	for _, it := range fresh {
		if key := movies.SeenKey(it); key != "" {
			hashes = append(hashes, key)
		}
	}
	finished := a.now()
	if a.opts.Store != nil {
		a.opts.Store.MarkProcessed(hashes...)
		a.opts.Store.SetLastRun(finished)
		if err := a.opts.Store.Save(ctx); err != nil {
			log.Warn("Failed to persist state, keeping it in memory", "error", err)
		}
	}

	report.Duration = finished.Sub(start)
	a.opts.Metrics.RecordProcessingTime(report.Duration)
	a.opts.Metrics.SetLastRun(finished)
	a.state.Store(int32(StateIdle))
	log.Info("Digest cycle finished", "picks", report.Picks, "degraded", report.Degraded, "duration", report.Duration)
	return report, nil
}

func (a *App) filterProcessed(items []movies.RawItem) []movies.RawItem {
	if a.opts.Store == nil {
		return items
	}
	out := make([]movies.RawItem, 0, len(items))
	for _, it := range items {
		if key := movies.SeenKey(it); key != "" && a.opts.Store.IsProcessed(key) {
			continue
		}
		out = append(out, it)
	}
	a.opts.Metrics.AddSeenFiltered(len(items) - len(out))
	return out
}

// allowWrite reports whether a writer call fits the extraction budget.
func (a *App) allowWrite(ctx context.Context) bool {
	if a.opts.Writer == nil {
		return false
	}
	if a.opts.Limiter == nil {
		return ctx.Err() == nil
	}
	return a.opts.Limiter.Acquire(ctx) == nil
}

func (a *App) summary(ctx context.Context, sel selector.Selection, items []movies.EnrichedItem) string {
	if picks := sel.All(); len(picks) > 0 && a.allowWrite(ctx) {
		text, err := a.opts.Writer.Summarize(ctx, picks)
		if err == nil && strings.TrimSpace(text) != "" {
			return text
		}
		logger.Warn("Summary generation failed, using fallback", "error", err)
	}
	return FallbackSummary(items)
}

func (a *App) review(ctx context.Context, tow *movies.EnrichedItem) string {
	if tow == nil {
		return ""
	}
	if a.allowWrite(ctx) {
		text, err := a.opts.Writer.Review(ctx, *tow)
		if err == nil && strings.TrimSpace(text) != "" {
			return extract.LimitWords(text, MaxReviewWords)
		}
		logger.Warn("Review generation failed, using fallback", "error", err)
	}
	return extract.LimitWords(FallbackReview(*tow), MaxReviewWords)
}

// FallbackSummary is "N titles scanned. Top languages: A (n), B (m)."
func FallbackSummary(items []movies.EnrichedItem) string {
	counts := make(map[movies.Language]int)
	for _, it := range items {
		if it.Language != "" && it.Language != movies.Mixed {
			counts[it.Language]++
		}
	}
	langs := make([]movies.Language, 0, len(counts))
	for l := range counts {
		langs = append(langs, l)
	}
	sort.Slice(langs, func(i, j int) bool {
		if counts[langs[i]] != counts[langs[j]] {
			return counts[langs[i]] > counts[langs[j]]
		}
		return langs[i] < langs[j]
	})
	if len(langs) > 3 {
		langs = langs[:3]
	}

	text := fmt.Sprintf("%d titles scanned.", len(items))
	if len(langs) == 0 {
		return text
	}
	parts := make([]string, len(langs))
	for i, l := range langs {
		parts[i] = fmt.Sprintf("%s (%d)", l, counts[l])
	}
	return text + " Top languages: " + strings.Join(parts, ", ") + "."
}

// FallbackReview is "<title> - <genre>: <synopsis>".
func FallbackReview(it movies.EnrichedItem) string {
	head := it.Title
	if len(it.Genre) > 0 {
		head += " - " + strings.Join(it.Genre, ", ")
	}
	if it.Synopsis == "" {
		return head
	}
	return head + ": " + it.Synopsis
}
