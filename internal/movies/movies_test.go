package movies

import (
	"math"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"Movie X – Official Trailer", "movie x"},
		{"Movie X — First Look", "movie x"},
		{"Leo | Filmibeat", "leo"},
		{"  Jawan  Box Office ", "jawan box office"},
		{"Kantara–Chapter 1", "kantara–chapter 1"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := Normalize(tt.input); got != tt.want {
			t.Errorf("Normalize(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestNormalizeDashVariantsCollide(t *testing.T) {
	a := Normalize("Movie X – Official Trailer")
	b := Normalize("Movie X — First Look")
	if a != b {
		t.Fatalf("expected equal keys, got %q and %q", a, b)
	}
}

func TestDedupeFirstSeenWins(t *testing.T) {
	old := time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)
	newer := old.Add(48 * time.Hour)

	items := []RawItem{
		{Title: "Movie X – Official Trailer", Link: "https://a/1", PublishedAt: old},
		{Title: "Other Film", Link: "https://a/2", PublishedAt: old},
		{Title: "Movie X — First Look", Link: "https://a/3", PublishedAt: newer},
		{Title: "other film | Filmibeat", Link: "https://a/4", PublishedAt: newer},
		{Title: "   ", Link: "https://a/5"},
		{Title: "Third", Link: "https://a/6"},
	}

	got := Dedupe(items)
	var links []string
	for _, it := range got {
		links = append(links, it.Link)
	}
	want := []string{"https://a/1", "https://a/2", "https://a/6"}
	if diff := cmp.Diff(want, links); diff != "" {
		t.Errorf("Dedupe() links mismatch (-want +got):\n%s", diff)
	}
}

func TestDedupeNoDuplicateKeys(t *testing.T) {
	titles := []string{"A", "a", "A – x", "B", "b | y", "C — z", "c", "D"}
	var items []RawItem
	for _, title := range titles {
		items = append(items, RawItem{Title: title})
	}
	seen := map[string]bool{}
	for _, it := range Dedupe(items) {
		k := Normalize(it.Title)
		if seen[k] {
			t.Fatalf("duplicate key %q in output", k)
		}
		seen[k] = true
	}
	if len(seen) != 4 {
		t.Errorf("expected 4 distinct keys, got %d", len(seen))
	}
}

func TestLinkHash(t *testing.T) {
	a := LinkHash("https://example.com/post-1")
	b := LinkHash("https://example.com/post-2")
	if a == b {
		t.Error("different links should produce different hashes")
	}
	if a != LinkHash("https://example.com/post-1/") {
		t.Error("trailing slash should not change the hash")
	}
	if len(a) != 16 {
		t.Errorf("expected 16-char hash, got %d", len(a))
	}
	if LinkHash("") != "" || LinkHash("  ") != "" {
		t.Error("blank links should not hash")
	}
}

func TestSeenKey(t *testing.T) {
	linked := RawItem{Title: "Leo", Link: "https://example.com/leo"}
	if SeenKey(linked) != LinkHash(linked.Link) {
		t.Error("linked items should be keyed by their link")
	}

	leo := SeenKey(RawItem{Title: "Leo – Official Trailer"})
	jailer := SeenKey(RawItem{Title: "Jailer"})
	if leo == "" || jailer == "" || leo == jailer {
		t.Errorf("link-less items need distinct keys, got %q and %q", leo, jailer)
	}
	if leo != SeenKey(RawItem{Title: "leo | Teaser"}) {
		t.Error("link-less key should follow the normalized title")
	}
	if SeenKey(RawItem{}) != "" {
		t.Error("an item without link or title has no key")
	}
}

func TestSanitizeScore(t *testing.T) {
	tests := []struct {
		in   float64
		want float64
	}{
		{7.5, 7.5},
		{0, 0},
		{10, 10},
		{10.1, 0},
		{-1, 0},
		{math.NaN(), 0},
		{math.Inf(1), 0},
	}
	for _, tt := range tests {
		if got := SanitizeScore(tt.in); got != tt.want {
			t.Errorf("SanitizeScore(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestLanguageCategory(t *testing.T) {
	tests := []struct {
		lang Language
		want Category
	}{
		{Tamil, Regional},
		{Hindi, Regional},
		{English, International},
		{Korean, KoreanPicks},
		{Mixed, General},
		{ParseLanguage("Multi"), General},
		{ParseLanguage(" malayalam "), Regional},
	}
	for _, tt := range tests {
		if got := tt.lang.Category(); got != tt.want {
			t.Errorf("%s.Category() = %s, want %s", tt.lang, got, tt.want)
		}
	}
}

func TestDefaultClassifier(t *testing.T) {
	tests := []struct {
		text string
		want Language
	}{
		{"New Tamil thriller streams on Prime Video this Friday", Tamil},
		{"Squid Game season 3: the Korean drama returns", Korean},
		{"Bollywood star announces OTT debut", Hindi},
		{"Big week for streaming releases", Mixed},
		{"", Mixed},
	}
	for _, tt := range tests {
		if got := DefaultClassifier.Classify(tt.text); got != tt.want {
			t.Errorf("Classify(%q) = %s, want %s", tt.text, got, tt.want)
		}
	}
}
