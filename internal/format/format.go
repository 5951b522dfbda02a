// Package format renders a digest selection as a Telegram HTML message.
package format

import (
	"fmt"
	"html"
	"strconv"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/deusflow/ottpulse/internal/movies"
	"github.com/deusflow/ottpulse/internal/selector"
)

// MaxMessageUnits is Telegram's message limit in UTF-16 code units.
const MaxMessageUnits = 4096

// Budgets in runes, measured before escaping.
const (
	MaxSynopsisRunes = 180
	MaxHeadlineRunes = 120
	MaxReviewRunes   = 400
	MaxSummaryRunes  = 600
	maxTitleRunes    = 150
	maxCastNames     = 3
)

const NoPickPlaceholder = "No pick available this week."

type section struct {
	category movies.Category
	emoji    string
	name     string
}

var sections = []section{
	{movies.Regional, "🇮🇳", "Regional"},
	{movies.International, "🌍", "International"},
	{movies.KoreanPicks, "🇰🇷", "Korean"},
}

// Format renders sel. It is pure: the same selection, time and location
// always give the same text.
func Format(sel selector.Selection, now time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	var b strings.Builder

	b.WriteString("🎬 <b>OTT Pulse: Weekly Digest</b>\n")
	fmt.Fprintf(&b, "<i>Week of %s</i>\n\n", now.In(loc).Format("2 Jan 2006"))

	if summary := clean(sel.Summary, MaxSummaryRunes); summary != "" {
		b.WriteString("📝 <b>This Week</b>\n")
		b.WriteString(summary)
		b.WriteString("\n\n")
	}

	b.WriteString("🏆 <b>Title of the Week</b>\n")
	if sel.TitleOfWeek == nil {
		b.WriteString(NoPickPlaceholder)
		b.WriteString("\n\n")
	} else {
		tow := sel.TitleOfWeek
		fmt.Fprintf(&b, "<b>%s</b>%s\n", linkOrText(tow.Title, tow.Link), details(*tow))
		if review := clean(sel.Review, MaxReviewRunes); review != "" {
			fmt.Fprintf(&b, "<i>%s</i>\n", review)
		}
		b.WriteString("\n")
	}

	for _, s := range sections {
		quota := sel.Quotas.For(s.category)
		if quota <= 0 {
			continue
		}
		picks := sel.Picks[s.category]
		fmt.Fprintf(&b, "%s <b>%s Picks (%d/%d)</b>\n", s.emoji, s.name, len(picks), quota)
		if len(picks) < quota {
			fmt.Fprintf(&b, "⚠️ Not enough %s titles this week (%d of %d).\n", s.name, len(picks), quota)
		}
		for i, it := range picks {
			writePick(&b, i+1, it)
		}
		b.WriteString("\n")
	}

	if len(sel.Headlines) > 0 {
		b.WriteString("📰 <b>Top Headlines</b>\n")
		for _, h := range sel.Headlines {
			if h = clean(h, MaxHeadlineRunes); h != "" {
				fmt.Fprintf(&b, "• %s\n", h)
			}
		}
		b.WriteString("\n")
	}

	fmt.Fprintf(&b, "<i>%d titles scanned</i> #OTT #WeeklyDigest", sel.Scanned)

	return truncateLines(b.String(), MaxMessageUnits)
}

func writePick(b *strings.Builder, n int, it movies.EnrichedItem) {
	fmt.Fprintf(b, "%d. <b>%s</b>%s\n", n, linkOrText(it.Title, it.Link), details(it))

	var meta []string
	if len(it.Genre) > 0 {
		meta = append(meta, "🎭 "+clean(strings.Join(it.Genre, ", "), 80))
	}
	if it.OTT != "" {
		meta = append(meta, "📺 "+clean(it.OTT, 40))
	}
	if len(it.Cast) > 0 {
		cast := it.Cast
		if len(cast) > maxCastNames {
			cast = cast[:maxCastNames]
		}
		meta = append(meta, "👥 "+clean(strings.Join(cast, ", "), 100))
	}
	if len(meta) > 0 {
		fmt.Fprintf(b, "   %s\n", strings.Join(meta, " | "))
	}
	if syn := clean(it.Synopsis, MaxSynopsisRunes); syn != "" {
		fmt.Fprintf(b, "   <i>%s</i>\n", syn)
	}
}

// details renders " · Language · ⭐ score" for the parts that are known.
func details(it movies.EnrichedItem) string {
	var parts []string
	if it.Language != "" && it.Language != movies.Mixed {
		parts = append(parts, html.EscapeString(string(it.Language)))
	}
	if s := movies.SanitizeScore(it.Score); s > 0 {
		parts = append(parts, "⭐ "+strconv.FormatFloat(s, 'f', -1, 64)+"/10")
	}
	if len(parts) == 0 {
		return ""
	}
	return " · " + strings.Join(parts, " · ")
}

func linkOrText(title, link string) string {
	text := clean(title, maxTitleRunes)
	if text == "" {
		text = "Untitled"
	}
	link = strings.TrimSpace(link)
	if !strings.HasPrefix(link, "https://") && !strings.HasPrefix(link, "http://") {
		return text
	}
	if strings.ContainsFunc(link, unicode.IsControl) {
		return text
	}
	return fmt.Sprintf(`<a href="%s">%s</a>`, html.EscapeString(link), text)
}

// clean strips control characters, collapses whitespace onto one line,
// truncates to max runes and escapes for Telegram HTML.
func clean(s string, max int) string {
	s = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) || r == utf8.RuneError {
			return ' '
		}
		return r
	}, s)
	s = strings.Join(strings.Fields(s), " ")
	return html.EscapeString(truncate(s, max))
}

// truncate cuts s to at most max runes, ending with an ellipsis when cut.
func truncate(s string, max int) string {
	if max <= 0 || utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	cut := strings.TrimRightFunc(string(runes[:max-1]), unicode.IsSpace)
	return cut + "…"
}

// truncateLines keeps whole lines so no HTML tag is split. max is counted in
// UTF-16 code units of the HTML source, the unit Telegram uses for the parsed
// text. Markup and entities only shrink when parsed, so a source within max
// always fits.
func truncateLines(s string, max int) string {
	if utf16Len(s) <= max {
		return s
	}
	const marker = "\n…"
	limit := max - utf16Len(marker)
	cut, units := len(s), 0
	for i, r := range s {
		units += utf16RuneLen(r)
		if units > limit {
			cut = i
			break
		}
	}
	head := s[:cut]
	if idx := strings.LastIndex(head, "\n"); idx > 0 {
		head = head[:idx]
	}
	return strings.TrimRight(head, "\n") + marker
}

func utf16Len(s string) int {
	n := 0
	for _, r := range s {
		n += utf16RuneLen(r)
	}
	return n
}

func utf16RuneLen(r rune) int {
	if r >= 0x10000 {
		return 2
	}
	return 1
}
