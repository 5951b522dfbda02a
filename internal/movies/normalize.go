package movies

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"
)

var titleSuffixes = []*regexp.Regexp{
	regexp.MustCompile(`\s+–.*$`),
	regexp.MustCompile(`\s+—.*$`),
	regexp.MustCompile(`\|.*$`),
}

// Normalize derives the deduplication key of a feed title: trailing
// " – suffix", " — suffix" and "| suffix" fragments are removed and the rest
// is trimmed and lower-cased.
func Normalize(title string) string {
	for _, re := range titleSuffixes {
		title = re.ReplaceAllString(title, "")
	}
	title = strings.Join(strings.Fields(title), " ")
	return strings.ToLower(title)
}

// Dedupe keeps the first item for every NormalizedKey, preserving input
// order. Items whose key is empty are dropped.
func Dedupe(items []RawItem) []RawItem {
	seen := make(map[string]struct{}, len(items))
	out := make([]RawItem, 0, len(items))
	for _, it := range items {
		key := Normalize(it.Title)
		if key == "" {
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, it)
	}
	return out
}

// LinkHash hashes an article link. It returns "" when link is blank.
func LinkHash(link string) string {
	link = strings.TrimSpace(link)
	link = strings.TrimSuffix(link, "/")
	if link == "" {
		return ""
	}
	return shortHash(link)
}

// SeenKey is the identifier stored in the seen-link cache and used for the
// extraction cache. Items without a link fall back to their NormalizedKey.
// It returns "" when the item has neither.
func SeenKey(it RawItem) string {
	if h := LinkHash(it.Link); h != "" {
		return h
	}
	if key := Normalize(it.Title); key != "" {
		return shortHash("title:" + key)
	}
	return ""
}

func shortHash(s string) string {
	h := sha256.Sum256([]byte(s))
	return hex.EncodeToString(h[:])[:16]
}
