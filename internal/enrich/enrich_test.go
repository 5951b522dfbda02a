package enrich

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/deusflow/ottpulse/internal/cache"
	"github.com/deusflow/ottpulse/internal/extract"
	"github.com/deusflow/ottpulse/internal/metrics"
	"github.com/deusflow/ottpulse/internal/movies"
	"github.com/deusflow/ottpulse/internal/ratelimit"
)

// fakeExtractor replies with a canned model response run through Parse.
type fakeExtractor struct {
	reply func(req extract.Request) string
	calls atomic.Int32
}

func (f *fakeExtractor) Extract(ctx context.Context, req extract.Request) (extract.Extraction, error) {
	f.calls.Add(1)
	return extract.Parse(f.reply(req))
}

type fakeArticles map[string]string

func (f fakeArticles) ExtractArticle(ctx context.Context, url string) (string, error) {
	if text, ok := f[url]; ok {
		return text, nil
	}
	return "", errors.New("article unavailable")
}

func rawItem(title, link string, lang movies.Language) movies.RawItem {
	return movies.RawItem{
		Title:       title,
		Link:        link,
		Snippet:     "Snippet for " + title,
		PublishedAt: time.Date(2026, 10, 15, 0, 0, 0, 0, time.UTC),
		Source:      movies.FeedSource{URL: "https://feed", Language: lang},
	}
}

func TestEnrichNonJSONDegrades(t *testing.T) {
	m := metrics.New()
	e := New(Options{
		Extractor: &fakeExtractor{reply: func(extract.Request) string { return "I cannot process this" }},
		Metrics:   m,
	})

	raw := rawItem("Leo – Official Trailer", "https://x/leo", movies.Tamil)
	res := e.Enrich(context.Background(), raw)

	if !res.Degraded || !errors.Is(res.Err, extract.ErrExtraction) {
		t.Fatalf("expected degraded result with ErrExtraction, got %+v", res)
	}
	want := movies.EnrichedItem{
		Key:         "leo",
		Title:       raw.Title,
		Link:        raw.Link,
		Language:    movies.Tamil,
		Category:    movies.Regional,
		Cast:        []string{},
		Genre:       []string{},
		Synopsis:    raw.Snippet,
		PublishedAt: raw.PublishedAt,
	}
	if diff := cmp.Diff(want, res.Item); diff != "" {
		t.Errorf("degraded item mismatch (-want +got):\n%s", diff)
	}
	if m.GetStats()["extractions_degraded"] != int64(1) {
		t.Errorf("degraded counter = %v", m.GetStats()["extractions_degraded"])
	}
}

func TestEnrichUsesArticleText(t *testing.T) {
	var gotText string
	fx := &fakeExtractor{reply: func(req extract.Request) string {
		gotText = req.Text
		return `{"title":"Leo","cast":["Vijay","Trisha","Sanjay Dutt","Arjun","Gautham","Mysskin"],"genre":["Action"],"synopsis":"A cafe owner's past catches up.","ott":"Netflix","score":8}`
	}}
	e := New(Options{
		Extractor: fx,
		Articles:  fakeArticles{"https://x/leo": "Full article text."},
		Metrics:   metrics.New(),
	})

	res := e.Enrich(context.Background(), rawItem("Leo OTT release date", "https://x/leo", movies.Tamil))
	if res.Degraded {
		t.Fatalf("unexpected degrade: %v", res.Err)
	}
	if gotText != "Full article text." {
		t.Errorf("extractor got text %q, want article text", gotText)
	}
	if res.Item.Title != "Leo" || res.Item.Score != 8 || res.Item.OTT != "Netflix" {
		t.Errorf("unexpected item %+v", res.Item)
	}
	if len(res.Item.Cast) != movies.MaxCast {
		t.Errorf("cast len = %d, want %d", len(res.Item.Cast), movies.MaxCast)
	}
	if res.Item.Key != "leo ott release date" {
		t.Errorf("key = %q, should come from the feed title", res.Item.Key)
	}
}

func TestEnrichFallsBackToSnippet(t *testing.T) {
	var gotText string
	fx := &fakeExtractor{reply: func(req extract.Request) string {
		gotText = req.Text
		return `{"title":"Jawan","score":7}`
	}}
	e := New(Options{Extractor: fx, Articles: fakeArticles{}, Metrics: metrics.New()})

	raw := rawItem("Jawan", "https://x/jawan", movies.Hindi)
	res := e.Enrich(context.Background(), raw)
	if res.Degraded {
		t.Fatalf("unexpected degrade: %v", res.Err)
	}
	if gotText != raw.Snippet {
		t.Errorf("extractor got %q, want snippet", gotText)
	}
	if res.Item.Synopsis != raw.Snippet {
		t.Errorf("missing synopsis should fall back to snippet, got %q", res.Item.Synopsis)
	}
}

func TestEnrichCacheAvoidsSecondCall(t *testing.T) {
	fx := &fakeExtractor{reply: func(extract.Request) string { return `{"title":"Kalki","score":9}` }}
	c := cache.New[extract.Extraction](time.Hour)
	defer c.Close()
	limiter := ratelimit.New(0, 0)
	e := New(Options{Extractor: fx, Cache: c, Limiter: limiter, Metrics: metrics.New()})

	raw := rawItem("Kalki 2898 AD", "https://x/kalki", movies.Telugu)
	first := e.Enrich(context.Background(), raw)
	second := e.Enrich(context.Background(), raw)

	if fx.calls.Load() != 1 {
		t.Errorf("extractor called %d times, want 1", fx.calls.Load())
	}
	if diff := cmp.Diff(first.Item, second.Item); diff != "" {
		t.Errorf("cached item differs (-first +second):\n%s", diff)
	}
	if limiter.GetStats()["cache_hits"] != 1 {
		t.Errorf("cache hit not recorded: %v", limiter.GetStats())
	}
}

func TestEnrichCacheKeepsLinklessItemsApart(t *testing.T) {
	fx := &fakeExtractor{reply: func(req extract.Request) string {
		return fmt.Sprintf(`{"synopsis":"About %s.","score":6}`, req.Title)
	}}
	c := cache.New[extract.Extraction](time.Hour)
	defer c.Close()
	e := New(Options{Extractor: fx, Cache: c, Metrics: metrics.New()})

	vikram := e.Enrich(context.Background(), rawItem("Vikram", "", movies.Tamil))
	kaithi := e.Enrich(context.Background(), rawItem("Kaithi", "", movies.Tamil))

	if fx.calls.Load() != 2 {
		t.Errorf("extractor called %d times, want 2", fx.calls.Load())
	}
	if vikram.Item.Synopsis != "About Vikram." || kaithi.Item.Synopsis != "About Kaithi." {
		t.Errorf("synopses = %q, %q", vikram.Item.Synopsis, kaithi.Item.Synopsis)
	}

	again := e.Enrich(context.Background(), rawItem("Vikram", "", movies.Tamil))
	if fx.calls.Load() != 2 || again.Item.Synopsis != "About Vikram." {
		t.Errorf("repeat link-less item should hit the cache, calls=%d synopsis=%q", fx.calls.Load(), again.Item.Synopsis)
	}
}

func TestEnrichBudgetExhaustedDegrades(t *testing.T) {
	fx := &fakeExtractor{reply: func(extract.Request) string { return `{"score":5}` }}
	e := New(Options{Extractor: fx, Limiter: ratelimit.New(0, 1), Metrics: metrics.New()})

	first := e.Enrich(context.Background(), rawItem("A", "https://x/a", movies.English))
	second := e.Enrich(context.Background(), rawItem("B", "https://x/b", movies.English))

	if first.Degraded {
		t.Errorf("first item should be enriched: %v", first.Err)
	}
	if !second.Degraded || !errors.Is(second.Err, ratelimit.ErrBudgetExhausted) {
		t.Errorf("second item should degrade on budget, got %+v", second)
	}
}

func TestEnrichDisabled(t *testing.T) {
	e := New(Options{Metrics: metrics.New()})
	res := e.Enrich(context.Background(), rawItem("A", "https://x/a", movies.Korean))
	if !res.Degraded || !errors.Is(res.Err, extract.ErrDisabled) {
		t.Errorf("expected disabled degrade, got %+v", res)
	}
	if res.Item.Category != movies.KoreanPicks {
		t.Errorf("category = %s", res.Item.Category)
	}
}

type panicExtractor struct{}

func (panicExtractor) Extract(context.Context, extract.Request) (extract.Extraction, error) {
	panic("boom")
}

func TestEnrichRecoversPanics(t *testing.T) {
	e := New(Options{Extractor: panicExtractor{}, Metrics: metrics.New()})
	res := e.Enrich(context.Background(), rawItem("A", "https://x/a", movies.Hindi))
	if !res.Degraded || res.Item.Score != 0 {
		t.Errorf("expected degraded result, got %+v", res)
	}
}

func TestEnrichClassifiesMixedItems(t *testing.T) {
	fx := &fakeExtractor{reply: func(extract.Request) string {
		return `{"title":"Queen of Tears","genre":["K-drama","Romance"],"score":7}`
	}}
	e := New(Options{Extractor: fx, Metrics: metrics.New()})

	res := e.Enrich(context.Background(), rawItem("This week on Netflix", "https://x/q", movies.Mixed))
	if res.Item.Language != movies.Korean || res.Item.Category != movies.KoreanPicks {
		t.Errorf("got %s/%s, want Korean", res.Item.Language, res.Item.Category)
	}

	plain := e.Enrich(context.Background(), rawItem("Streaming roundup", "https://x/r", movies.Mixed))
	if plain.Item.Category != movies.General {
		t.Errorf("unclassifiable item category = %s, want general", plain.Item.Category)
	}
}

func TestEnrichAllKeepsOrder(t *testing.T) {
	fx := &fakeExtractor{reply: func(req extract.Request) string {
		time.Sleep(time.Duration(rand.Intn(5)) * time.Millisecond)
		return fmt.Sprintf(`{"title":%q,"score":5}`, req.Title)
	}}
	e := New(Options{Extractor: fx, Concurrency: 3, Metrics: metrics.New()})

	var items []movies.RawItem
	var want []string
	for i := 0; i < 12; i++ {
		title := fmt.Sprintf("Title %02d", i)
		items = append(items, rawItem(title, fmt.Sprintf("https://x/%d", i), movies.English))
		want = append(want, title)
	}

	results := e.EnrichAll(context.Background(), items)
	var got []string
	for _, it := range Items(results) {
		got = append(got, it.Title)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("order mismatch (-want +got):\n%s", diff)
	}
}

func TestEnrichCancelledContextDegrades(t *testing.T) {
	fx := &fakeExtractor{reply: func(extract.Request) string { return `{"score":5}` }}
	e := New(Options{Extractor: fx, Metrics: metrics.New()})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res := e.Enrich(ctx, rawItem("A", "https://x/a", movies.English))
	if !res.Degraded || fx.calls.Load() != 0 {
		t.Errorf("expected degrade without calling extractor, got %+v calls=%d", res, fx.calls.Load())
	}
}
