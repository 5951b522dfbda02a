package movies

import (
	"regexp"
	"strings"
	"sync"

	"github.com/abadojack/whatlanggo"
)

// Classifier assigns a language to an item that came from a Mixed feed.
// Classification is best effort; Mixed is the documented fallback.
type Classifier interface {
	Classify(text string) Language
}

// ClassifierFunc adapts a function to Classifier.
type ClassifierFunc func(text string) Language

func (f ClassifierFunc) Classify(text string) Language { return f(text) }

// Keyword hints, checked in order. Korean goes first so "Korean remake of a
// Hindi film" lands in the Korean bucket.
var languageKeywords = []struct {
	lang     Language
	keywords []string
}{
	{Korean, []string{"korean", "k-drama", "kdrama", "k drama", "hallyu"}},
	{Tamil, []string{"tamil", "kollywood"}},
	{Telugu, []string{"telugu", "tollywood"}},
	{Malayalam, []string{"malayalam", "mollywood"}},
	{Kannada, []string{"kannada", "sandalwood"}},
	{Hindi, []string{"hindi", "bollywood"}},
	{English, []string{"hollywood", "english"}},
}

// Scripts whatlanggo can detect reliably on short text. Latin text is not
// mapped: English prose about a film says nothing about the film's language.
var scriptLanguages = map[whatlanggo.Lang]Language{
	whatlanggo.Hin: Hindi,
	whatlanggo.Tam: Tamil,
	whatlanggo.Tel: Telugu,
	whatlanggo.Kan: Kannada,
	whatlanggo.Mal: Malayalam,
	whatlanggo.Kor: Korean,
}

// DefaultClassifier matches language keywords first and falls back to script
// detection.
var DefaultClassifier Classifier = ClassifierFunc(classify)

func classify(text string) Language {
	if strings.TrimSpace(text) == "" {
		return Mixed
	}
	for _, lk := range languageKeywords {
		if containsAny(text, lk.keywords) {
			return lk.lang
		}
	}
	info := whatlanggo.Detect(text)
	if lang, ok := scriptLanguages[info.Lang]; ok && info.IsReliable() {
		return lang
	}
	return Mixed
}

var wordRegexps sync.Map // keyword -> *regexp.Regexp

// containsAny reports whether text contains any keyword. Phrases match as
// substrings; single words match on word boundaries so "tamil" does not hit
// "tamilnadu-based" by accident but "english" still hits "English-language".
func containsAny(text string, keywords []string) bool {
	text = strings.ToLower(text)
	for _, k := range keywords {
		k = strings.ToLower(strings.TrimSpace(k))
		if k == "" {
			continue
		}
		if strings.Contains(k, " ") {
			if strings.Contains(text, k) {
				return true
			}
			continue
		}
		re, ok := wordRegexps.Load(k)
		if !ok {
			re, _ = wordRegexps.LoadOrStore(k, regexp.MustCompile(`\b`+regexp.QuoteMeta(k)+`\b`))
		}
		if re.(*regexp.Regexp).MatchString(text) {
			return true
		}
	}
	return false
}
