package extract

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/deusflow/ottpulse/internal/movies"
)

// MaxPromptText bounds the article text sent to a provider.
const MaxPromptText = 6000

const SystemPrompt = `You extract movie and web-series metadata from entertainment news.
Return ONLY one JSON object with exactly these fields:
{"title": "", "cast": [], "director": "", "genre": [], "synopsis": "", "ott": "", "score": 0}
- cast: at most 5 names, leads first
- synopsis: 1-2 sentences, no spoilers
- ott: streaming platform if mentioned, else ""
- score: 0-10, how worth recommending this title is for a weekly OTT digest
If unsure, use empty strings/arrays and a low score.`

// Prompt renders the user message of an extraction call.
func Prompt(req Request) string {
	text := strings.Join(strings.Fields(req.Text), " ")
	if utf8.RuneCountInString(text) > MaxPromptText {
		runes := []rune(text)
		trimmed := string(runes[:MaxPromptText])
		if idx := strings.LastIndex(trimmed, ". "); idx > MaxPromptText/5 {
			trimmed = trimmed[:idx+1]
		}
		text = trimmed + " [TRUNCATED]"
	}
	return fmt.Sprintf("Title: %s\nURL: %s\nArticle:\n%s\n\nReturn the JSON object.", req.Title, req.Link, text)
}

// SummaryPrompt asks for the weekly overview.
func SummaryPrompt(picks []movies.EnrichedItem) string {
	var b strings.Builder
	b.WriteString("Write a short summary (under 80 words, plain text, no markdown) of this week's OTT releases in India: ")
	b.WriteString("trends, language performance and platform activity.\n\nTitles:\n")
	for _, p := range picks {
		fmt.Fprintf(&b, "- %s (%s)", p.Title, p.Language)
		if len(p.Genre) > 0 {
			fmt.Fprintf(&b, " [%s]", strings.Join(p.Genre, ", "))
		}
		if p.OTT != "" {
			fmt.Fprintf(&b, " on %s", p.OTT)
		}
		b.WriteString("\n")
	}
	return b.String()
}

// ReviewPrompt asks for the critic review of the title of the week.
func ReviewPrompt(item movies.EnrichedItem) string {
	return fmt.Sprintf(`You are an international film critic. Write an honest, spoiler-free, 50-word review of %q.
Single paragraph, plain text, end with a one-sentence verdict.
Known details: language %s; genre %s; director %s; cast %s; synopsis: %s`,
		item.Title, item.Language, strings.Join(item.Genre, ", "), item.Director,
		strings.Join(item.Cast, ", "), item.Synopsis)
}

// LimitWords trims s to at most n words.
func LimitWords(s string, n int) string {
	words := strings.Fields(s)
	if len(words) <= n {
		return strings.Join(words, " ")
	}
	return strings.Join(words[:n], " ")
}

var (
	disclaimerLine   = regexp.MustCompile(`(?im)^\s*(note|disclaimer)\s*:.*$`)
	disclaimerInline = regexp.MustCompile(`(?i)[\(\[]\s*(note|disclaimer)\s*:[^\)\]]*[\)\]]`)
	codeFence        = regexp.MustCompile("```[a-zA-Z]*")
)

// SanitizeText strips model disclaimers, code fences and markdown emphasis
// from free text so it can be embedded in the digest.
func SanitizeText(s string) string {
	s = disclaimerInline.ReplaceAllString(s, "")
	s = disclaimerLine.ReplaceAllString(s, "")
	s = codeFence.ReplaceAllString(s, "")
	s = strings.NewReplacer("**", "", "__", "").Replace(s)
	return strings.Join(strings.Fields(s), " ")
}
