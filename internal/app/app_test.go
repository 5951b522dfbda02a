package app

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/deusflow/ottpulse/internal/enrich"
	"github.com/deusflow/ottpulse/internal/extract"
	"github.com/deusflow/ottpulse/internal/metrics"
	"github.com/deusflow/ottpulse/internal/movies"
	"github.com/deusflow/ottpulse/internal/storage"
)

type fakeFetcher struct{ items []movies.RawItem }

func (f fakeFetcher) FetchAll(ctx context.Context, sources []movies.FeedSource) []movies.RawItem {
	return append([]movies.RawItem(nil), f.items...)
}

type scoreExtractor struct{}

func (scoreExtractor) Extract(ctx context.Context, req extract.Request) (extract.Extraction, error) {
	return extract.Parse(`{"score":7,"genre":["Drama"],"synopsis":"A quiet drama."}`)
}

type fakeSender struct {
	mu      sync.Mutex
	err     error
	texts   []string
	entered chan struct{}
	release chan struct{}
}

func (s *fakeSender) SendDigest(ctx context.Context, text string) error {
	if s.entered != nil {
		s.entered <- struct{}{}
	}
	if s.release != nil {
		<-s.release
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.texts = append(s.texts, text)
	return s.err
}

func (s *fakeSender) sent() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.texts...)
}

type fakeWriter struct{ err error }

func (w fakeWriter) Summarize(ctx context.Context, picks []movies.EnrichedItem) (string, error) {
	return "Model summary of the week.", w.err
}

func (w fakeWriter) Review(ctx context.Context, item movies.EnrichedItem) (string, error) {
	return "Model review of " + item.Title + ".", w.err
}

func feedItems() []movies.RawItem {
	src := movies.FeedSource{URL: "https://feed/tamil", Language: movies.Tamil}
	at := time.Date(2026, 10, 15, 0, 0, 0, 0, time.UTC)
	return []movies.RawItem{
		{Title: "Leo – Official Trailer", Link: "https://x/leo", PublishedAt: at, Source: src},
		{Title: "Leo — First Look", Link: "https://x/leo-2", PublishedAt: at, Source: src},
		{Title: "Jailer", Link: "https://x/jailer", PublishedAt: at, Source: src},
	}
}

type fixture struct {
	app     *App
	store   *storage.FileStore
	sender  *fakeSender
	metrics *metrics.Metrics
}

func newFixture(t *testing.T, mutate func(*Options)) fixture {
	t.Helper()
	m := metrics.New()
	store := storage.OpenFileStore(filepath.Join(t.TempDir(), "db.json"), 100)
	sender := &fakeSender{}
	opts := Options{
		Fetcher:  fakeFetcher{items: feedItems()},
		Enricher: enrich.New(enrich.Options{Extractor: scoreExtractor{}, Metrics: m}),
		Sender:   sender,
		Store:    store,
		Metrics:  m,
	}
	if mutate != nil {
		mutate(&opts)
	}
	return fixture{app: New(opts), store: store, sender: sender, metrics: m}
}

func TestRunCycleDeliversAndMarksLinks(t *testing.T) {
	f := newFixture(t, nil)

	report, err := f.app.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	if !report.Delivered || report.Fetched != 3 || report.Fresh != 2 || report.Picks != 2 {
		t.Errorf("unexpected report %+v", report)
	}
	if report.RunID == "" {
		t.Error("missing run id")
	}
	if len(f.sender.sent()) != 1 {
		t.Fatalf("sent %d digests, want exactly 1", len(f.sender.sent()))
	}
	for _, link := range []string{"https://x/leo", "https://x/jailer"} {
		if !f.store.IsProcessed(movies.LinkHash(link)) {
			t.Errorf("%s not marked processed", link)
		}
	}
	if f.store.Stats().LastRun.IsZero() {
		t.Error("last run not recorded")
	}
	if f.app.State() != StateIdle {
		t.Errorf("state = %s, want idle", f.app.State())
	}

	stats := f.metrics.GetStats()
	if stats["digests_sent"] != int64(1) || stats["duplicates_filtered"] != int64(1) || stats["cycles_succeeded"] != int64(1) {
		t.Errorf("unexpected metrics %v", stats)
	}

	// Everything is seen now; the next digest has only placeholders.
	report, err = f.app.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("second RunCycle: %v", err)
	}
	if report.Fresh != 0 || report.Picks != 0 {
		t.Errorf("second report %+v", report)
	}
	if f.metrics.GetStats()["seen_filtered"] != int64(2) {
		t.Errorf("seen_filtered = %v", f.metrics.GetStats()["seen_filtered"])
	}
	if !strings.Contains(f.sender.sent()[1], "No pick available this week.") {
		t.Errorf("expected placeholder digest, got:\n%s", f.sender.sent()[1])
	}
}

func TestRunCycleSendFailureKeepsLinksUnprocessed(t *testing.T) {
	f := newFixture(t, nil)
	f.sender.err = errors.New("telegram down")

	_, err := f.app.RunCycle(context.Background())
	if err == nil {
		t.Fatal("expected delivery error")
	}
	if f.app.State() != StateFailedThisCycle {
		t.Errorf("state = %s", f.app.State())
	}
	if f.store.IsProcessed(movies.LinkHash("https://x/leo")) {
		t.Error("links must stay unprocessed when the send fails")
	}
	if !f.store.Stats().LastRun.IsZero() {
		t.Error("last run must not advance on failure")
	}
	if f.metrics.Healthy() || f.metrics.GetStats()["delivery_failures"] != int64(1) {
		t.Errorf("unexpected metrics %v", f.metrics.GetStats())
	}

	// The process keeps going: the next cycle may succeed.
	f.sender.err = nil
	if _, err := f.app.RunCycle(context.Background()); err != nil {
		t.Fatalf("retry cycle: %v", err)
	}
	if f.app.State() != StateIdle || !f.store.IsProcessed(movies.LinkHash("https://x/leo")) {
		t.Error("recovery cycle did not complete")
	}
}

func TestRunCycleDryRun(t *testing.T) {
	var out bytes.Buffer
	f := newFixture(t, func(o *Options) {
		o.Sender = nil
		o.DryRun = true
		o.Output = &out
	})

	report, err := f.app.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	if report.Delivered {
		t.Error("dry run must not deliver")
	}
	if !strings.Contains(out.String(), "Jailer") {
		t.Errorf("digest not printed:\n%s", out.String())
	}
	if f.store.IsProcessed(movies.LinkHash("https://x/jailer")) {
		t.Error("dry run must not mark links")
	}
}

func TestRunCycleUsesWriter(t *testing.T) {
	f := newFixture(t, func(o *Options) { o.Writer = fakeWriter{} })
	report, err := f.app.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	if !strings.Contains(report.Digest, "Model summary of the week.") || !strings.Contains(report.Digest, "Model review of") {
		t.Errorf("writer output missing:\n%s", report.Digest)
	}
}

func TestRunCycleWriterFailureFallsBack(t *testing.T) {
	f := newFixture(t, func(o *Options) { o.Writer = fakeWriter{err: extract.ErrExtraction} })
	report, err := f.app.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	if !strings.Contains(report.Digest, "2 titles scanned. Top languages: Tamil (2).") {
		t.Errorf("fallback summary missing:\n%s", report.Digest)
	}
	if !strings.Contains(report.Digest, "Drama: A quiet drama.") {
		t.Errorf("fallback review missing:\n%s", report.Digest)
	}
}

func TestRunCycleLinklessItemsAreTrackedByTitle(t *testing.T) {
	src := movies.FeedSource{URL: "https://feed/tamil", Language: movies.Tamil}
	fetcher := &fakeFetcher{items: []movies.RawItem{{Title: "Leo", Source: src}}}
	f := newFixture(t, func(o *Options) { o.Fetcher = fetcher })

	report, err := f.app.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("first RunCycle: %v", err)
	}
	if report.Fresh != 1 || !report.Delivered {
		t.Fatalf("first report %+v", report)
	}

	fetcher.items = []movies.RawItem{{Title: "Jailer", Source: src}}
	report, err = f.app.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("second RunCycle: %v", err)
	}
	if report.Fresh != 1 || report.Picks != 1 {
		t.Errorf("a different link-less title must stay fresh, got %+v", report)
	}
	if !strings.Contains(f.sender.sent()[1], "Jailer") {
		t.Errorf("Jailer missing from digest:\n%s", f.sender.sent()[1])
	}

	fetcher.items = []movies.RawItem{{Title: "Leo | Review", Source: src}}
	report, err = f.app.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("third RunCycle: %v", err)
	}
	if report.Fresh != 0 {
		t.Errorf("an already sent link-less title should be filtered, got %+v", report)
	}
}

type wordyWriter struct{ fakeWriter }

func (wordyWriter) Review(ctx context.Context, item movies.EnrichedItem) (string, error) {
	return strings.Repeat("word ", 80), nil
}

func TestReviewIsCappedAtMaxWords(t *testing.T) {
	tow := &movies.EnrichedItem{Title: "Leo", Synopsis: strings.Repeat("long ", 90)}

	withWriter := newFixture(t, func(o *Options) { o.Writer = wordyWriter{} })
	if got := len(strings.Fields(withWriter.app.review(context.Background(), tow))); got != MaxReviewWords {
		t.Errorf("writer review has %d words, want %d", got, MaxReviewWords)
	}

	fallback := newFixture(t, nil)
	if got := len(strings.Fields(fallback.app.review(context.Background(), tow))); got != MaxReviewWords {
		t.Errorf("fallback review has %d words, want %d", got, MaxReviewWords)
	}
}

func TestTriggerSkipsWhileRunning(t *testing.T) {
	f := newFixture(t, nil)
	f.sender.entered = make(chan struct{})
	f.sender.release = make(chan struct{})

	if err := f.app.Trigger(context.Background()); err != nil {
		t.Fatalf("Trigger: %v", err)
	}
	<-f.sender.entered

	if f.app.State() != StateRunning {
		t.Errorf("state = %s, want running", f.app.State())
	}
	if err := f.app.Trigger(context.Background()); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("Trigger while running = %v", err)
	}
	if _, err := f.app.RunCycle(context.Background()); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("RunCycle while running = %v", err)
	}

	close(f.sender.release)
	f.app.Wait()

	if got := f.metrics.GetStats()["cycles_skipped"]; got != int64(2) {
		t.Errorf("cycles_skipped = %v", got)
	}
	if got := f.metrics.GetStats()["cycles_started"]; got != int64(1) {
		t.Errorf("cycles_started = %v", got)
	}
	if f.app.State() != StateIdle {
		t.Errorf("state = %s, want idle", f.app.State())
	}
}

func TestScheduleRunsOnStartAndStops(t *testing.T) {
	f := newFixture(t, nil)
	f.sender.entered = make(chan struct{}, 10)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.app.Schedule(ctx, time.Hour, true) }()

	select {
	case <-f.sender.entered:
	case <-time.After(5 * time.Second):
		t.Fatal("run on start did not send a digest")
	}
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Schedule returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Schedule did not stop")
	}
}

func TestScheduleRejectsBadInterval(t *testing.T) {
	f := newFixture(t, nil)
	if err := f.app.Schedule(context.Background(), 0, false); err == nil {
		t.Error("expected error for zero interval")
	}
}

func TestStatus(t *testing.T) {
	f := newFixture(t, nil)
	if _, err := f.app.RunCycle(context.Background()); err != nil {
		t.Fatal(err)
	}
	st := f.app.Status()
	if st.State != "idle" || st.Backend != "file" || st.SeenLinks != 2 || st.LastRun.IsZero() {
		t.Errorf("unexpected status %+v", st)
	}
}

func TestFallbackSummary(t *testing.T) {
	items := []movies.EnrichedItem{
		{Language: movies.Hindi}, {Language: movies.Hindi},
		{Language: movies.Korean}, {Language: movies.English},
		{Language: movies.Tamil}, {Language: movies.Mixed},
	}
	want := "6 titles scanned. Top languages: Hindi (2), English (1), Korean (1)."
	if got := FallbackSummary(items); got != want {
		t.Errorf("FallbackSummary = %q, want %q", got, want)
	}
	if got := FallbackSummary(nil); got != "0 titles scanned." {
		t.Errorf("empty summary = %q", got)
	}
}

func TestFallbackReview(t *testing.T) {
	tests := []struct {
		item movies.EnrichedItem
		want string
	}{
		{movies.EnrichedItem{Title: "Leo", Genre: []string{"Action", "Thriller"}, Synopsis: "A past returns."}, "Leo - Action, Thriller: A past returns."},
		{movies.EnrichedItem{Title: "Leo", Synopsis: "A past returns."}, "Leo: A past returns."},
		{movies.EnrichedItem{Title: "Leo"}, "Leo"},
	}
	for _, tt := range tests {
		if got := FallbackReview(tt.item); got != tt.want {
			t.Errorf("FallbackReview = %q, want %q", got, tt.want)
		}
	}
}
