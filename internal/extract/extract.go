// Package extract defines the structured movie-metadata extraction contract
// shared by the LLM providers, and the tolerant parser for their output.
package extract

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/deusflow/ottpulse/internal/movies"
)

var (
	// ErrExtraction wraps every provider or parse failure.
	ErrExtraction = errors.New("extraction failed")
	// ErrDisabled is reported when no provider is configured.
	ErrDisabled = errors.New("extraction disabled")
)

// Request is the payload of one extraction call.
type Request struct {
	Title string
	Link  string
	Text  string // article text, or the feed snippet when the article is unavailable
}

// Extraction is the declared response schema.
type Extraction struct {
	Title    string
	Cast     []string
	Director string
	Genre    []string
	Synopsis string
	OTT      string
	Score    float64
}

// Extractor turns article text into an Extraction.
type Extractor interface {
	Extract(ctx context.Context, req Request) (Extraction, error)
}

// Writer produces the free-text parts of a digest.
type Writer interface {
	// Summarize writes a short overview of the week's picks.
	Summarize(ctx context.Context, picks []movies.EnrichedItem) (string, error)
	// Review writes a short critic review of the title of the week.
	Review(ctx context.Context, item movies.EnrichedItem) (string, error)
}

// Provider is an LLM backend that can do both.
type Provider interface {
	Extractor
	Writer
	Name() string
}

// Parse decodes the first JSON object found in text. Prose before the object
// and anything after it are ignored, as are unknown fields. Missing fields
// take zero values; a score that is not a number in [0,10] becomes 0.
func Parse(text string) (Extraction, error) {
	idx := strings.Index(text, "{")
	if idx < 0 {
		return Extraction{}, fmt.Errorf("%w: no JSON object in response %q", ErrExtraction, clip(text, 120))
	}

	var fields map[string]json.RawMessage
	dec := json.NewDecoder(strings.NewReader(text[idx:]))
	if err := dec.Decode(&fields); err != nil {
		return Extraction{}, fmt.Errorf("%w: decode response: %v", ErrExtraction, err)
	}

	ex := Extraction{
		Title:    stringField(fields["title"]),
		Cast:     listField(fields["cast"]),
		Director: stringField(fields["director"]),
		Genre:    listField(fields["genre"]),
		Synopsis: stringField(fields["synopsis"]),
		OTT:      stringField(fields["ott"]),
		Score:    scoreField(fields["score"]),
	}
	if ex.Synopsis == "" {
		ex.Synopsis = stringField(fields["short_synopsis"])
	}
	if len(ex.Cast) > movies.MaxCast {
		ex.Cast = ex.Cast[:movies.MaxCast]
	}
	return ex, nil
}

func stringField(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	return strings.Join(strings.Fields(s), " ")
}

// listField accepts an array of strings or a single comma separated string.
func listField(raw json.RawMessage) []string {
	out := []string{}
	if len(raw) == 0 {
		return out
	}
	var list []any
	if err := json.Unmarshal(raw, &list); err != nil {
		if s := stringField(raw); s != "" {
			for _, part := range strings.Split(s, ",") {
				list = append(list, part)
			}
		}
	}
	for _, v := range list {
		s, ok := v.(string)
		if !ok {
			continue
		}
		if s = strings.Join(strings.Fields(s), " "); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func scoreField(raw json.RawMessage) float64 {
	if len(raw) == 0 {
		return 0
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return movies.SanitizeScore(f)
	}
	if s := stringField(raw); s != "" {
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return movies.SanitizeScore(f)
		}
	}
	return 0
}

func clip(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
