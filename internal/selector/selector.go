// Package selector ranks enriched items and picks the weekly digest.
package selector

import (
	"slices"

	"github.com/deusflow/ottpulse/internal/movies"
)

// MaxHeadlines is the number of headline titles in a digest.
const MaxHeadlines = 5

// Quotas is the number of picks per category.
type Quotas struct {
	Regional      int
	International int
	Korean        int
}

var DefaultQuotas = Quotas{Regional: 6, International: 4, Korean: 2}

// For returns the quota of c. General has none.
func (q Quotas) For(c movies.Category) int {
	switch c {
	case movies.Regional:
		return q.Regional
	case movies.International:
		return q.International
	case movies.KoreanPicks:
		return q.Korean
	default:
		return 0
	}
}

type Options struct {
	Quotas Quotas
	// Backfill fills short categories from unclassified (General) items.
	Backfill bool
}

// Selection is the content of one digest.
type Selection struct {
	Picks       map[movies.Category][]movies.EnrichedItem
	Quotas      Quotas
	TitleOfWeek *movies.EnrichedItem
	Review      string
	Summary     string
	Headlines   []string
	Scanned     int
}

// Shortfall is how many picks c is missing against its quota.
func (s Selection) Shortfall(c movies.Category) int {
	if n := s.Quotas.For(c) - len(s.Picks[c]); n > 0 {
		return n
	}
	return 0
}

// All returns every pick in digest order.
func (s Selection) All() []movies.EnrichedItem {
	var all []movies.EnrichedItem
	for _, c := range movies.PickCategories {
		all = append(all, s.Picks[c]...)
	}
	return all
}

// Rank returns a copy of items sorted by score descending, then by most
// recent publication. Untrusted scores are sanitized first. Equal items keep
// their input order.
func Rank(items []movies.EnrichedItem) []movies.EnrichedItem {
	ranked := make([]movies.EnrichedItem, len(items))
	for i, it := range items {
		it.Score = movies.SanitizeScore(it.Score)
		if it.Key == "" {
			it.Key = movies.Normalize(it.Title)
		}
		ranked[i] = it
	}
	slices.SortStableFunc(ranked, compare)
	return ranked
}

func compare(a, b movies.EnrichedItem) int {
	switch {
	case a.Score > b.Score:
		return -1
	case a.Score < b.Score:
		return 1
	case a.PublishedAt.After(b.PublishedAt):
		return -1
	case a.PublishedAt.Before(b.PublishedAt):
		return 1
	default:
		return 0
	}
}

// Select partitions items by category, ranks each partition and takes up to
// the quota from each. No normalized key is ever picked twice.
func Select(items []movies.EnrichedItem, opts Options) Selection {
	ranked := Rank(items)

	partitions := make(map[movies.Category][]movies.EnrichedItem)
	for _, it := range ranked {
		c := it.Category
		if c == "" {
			c = it.Language.Category()
		}
		partitions[c] = append(partitions[c], it)
	}

	sel := Selection{
		Picks:   make(map[movies.Category][]movies.EnrichedItem),
		Quotas:  opts.Quotas,
		Scanned: len(items),
	}
	used := make(map[string]bool)

	take := func(c movies.Category, pool []movies.EnrichedItem) {
		for _, it := range pool {
			if len(sel.Picks[c]) >= opts.Quotas.For(c) {
				return
			}
			if it.Key == "" || used[it.Key] {
				continue
			}
			used[it.Key] = true
			sel.Picks[c] = append(sel.Picks[c], it)
		}
	}

	for _, c := range movies.PickCategories {
		take(c, partitions[c])
	}
	if opts.Backfill {
		for _, c := range movies.PickCategories {
			take(c, partitions[movies.General])
		}
	}

	sel.TitleOfWeek = titleOfWeek(sel.All())
	sel.Headlines = headlines(ranked, MaxHeadlines)
	return sel
}

// titleOfWeek is the highest scored pick, ties going to the most recent.
func titleOfWeek(picks []movies.EnrichedItem) *movies.EnrichedItem {
	if len(picks) == 0 {
		return nil
	}
	best := picks[0]
	for _, it := range picks[1:] {
		if compare(it, best) < 0 {
			best = it
		}
	}
	return &best
}

func headlines(ranked []movies.EnrichedItem, n int) []string {
	seen := make(map[string]bool)
	var out []string
	for _, it := range ranked {
		if len(out) == n {
			break
		}
		if seen[it.Key] {
			continue
		}
		seen[it.Key] = true
		out = append(out, it.Title)
	}
	return out
}
