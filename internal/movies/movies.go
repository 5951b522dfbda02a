// Package movies holds the digest domain types shared by every pipeline stage.
package movies

import (
	"math"
	"strings"
	"time"
)

// Language is the language a feed (or an item from a Mixed feed) is about.
type Language string

const (
	Hindi     Language = "Hindi"
	Tamil     Language = "Tamil"
	Telugu    Language = "Telugu"
	Kannada   Language = "Kannada"
	Malayalam Language = "Malayalam"
	English   Language = "English"
	Korean    Language = "Korean"
	Mixed     Language = "Mixed"
)

// ParseLanguage maps a config value to a Language. Unknown values (including
// the "Multi" tag used by some feed lists) fall back to Mixed.
func ParseLanguage(s string) Language {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "hindi", "bollywood":
		return Hindi
	case "tamil":
		return Tamil
	case "telugu":
		return Telugu
	case "kannada":
		return Kannada
	case "malayalam":
		return Malayalam
	case "english", "hollywood":
		return English
	case "korean":
		return Korean
	default:
		return Mixed
	}
}

// Category is the quota bucket a language belongs to.
type Category string

const (
	Regional      Category = "regional"
	International Category = "international"
	KoreanPicks   Category = "korean"
	// General holds unclassified items. It has no quota of its own and only
	// feeds backfill.
	General Category = "general"
)

// PickCategories lists the quota categories in digest order.
var PickCategories = []Category{Regional, International, KoreanPicks}

// Category returns the quota bucket for l.
func (l Language) Category() Category {
	switch l {
	case Hindi, Tamil, Telugu, Kannada, Malayalam:
		return Regional
	case English:
		return International
	case Korean:
		return KoreanPicks
	default:
		return General
	}
}

// FeedSource is one configured RSS feed.
type FeedSource struct {
	URL      string
	Language Language
}

// RawItem is a feed entry before enrichment.
type RawItem struct {
	Title       string
	Link        string
	PublishedAt time.Time
	Snippet     string
	Source      FeedSource
}

// EnrichedItem is a RawItem after article extraction and LLM enrichment.
type EnrichedItem struct {
	Key         string // NormalizedKey of the original feed title
	Title       string
	Link        string
	Language    Language
	Category    Category
	Cast        []string
	Director    string
	Genre       []string
	Synopsis    string
	OTT         string
	Score       float64
	PublishedAt time.Time
}

// MaxCast caps the number of cast names kept per item.
const MaxCast = 5

// MaxScore is the top of the relevance scale.
const MaxScore = 10

// SanitizeScore returns s when it is a finite number in [0, MaxScore] and 0
// otherwise. Scores come from model output and are not trusted.
func SanitizeScore(s float64) float64 {
	if math.IsNaN(s) || math.IsInf(s, 0) || s < 0 || s > MaxScore {
		return 0
	}
	return s
}
