package model

import (
	"fmt"
	"strings"
)

// SourceCategory is the kind of material a research pass targets.
//
//nolint:recvcheck // UnmarshalText needs a pointer receiver, the rest are value receivers.
type SourceCategory string

const (
	// SourceYouTube targets video transcripts, talks and video summaries.
	SourceYouTube SourceCategory = "YOUTUBE"
	// SourceArticle targets news, documentation and expert blogs.
	SourceArticle SourceCategory = "ARTICLE"
	// SourcePaper targets published research papers and preprints.
	SourcePaper SourceCategory = "PAPER"
)

// AllSourceCategories returns every category in a stable order.
func AllSourceCategories() []SourceCategory {
	return []SourceCategory{SourceYouTube, SourceArticle, SourcePaper}
}

// Valid reports whether c is a known source category.
func (c SourceCategory) Valid() bool {
	switch c {
	case SourceYouTube, SourceArticle, SourcePaper:
		return true
	}
	return false
}

// UnmarshalText parses a source category from env or JSON input.
func (c *SourceCategory) UnmarshalText(text []byte) error {
	v := SourceCategory(strings.ToUpper(strings.TrimSpace(string(text))))
	if !v.Valid() {
		return fmt.Errorf("invalid source category %q", string(text))
	}
	*c = v
	return nil
}

// Source is one citation collected during research. The JSON field names
// match what downstream renderers and the trigger API expect.
type Source struct {
	Title    string         `json:"title"`
	URI      string         `json:"uri"`
	Category SourceCategory `json:"type"`
}

// SearchConstraints narrows where research is allowed to look.
type SearchConstraints struct {
	PreferredDomains  []string         `json:"preferredDomains,omitempty"`
	ExcludedDomains   []string         `json:"excludedDomains,omitempty"`
	Focus             string           `json:"focusDescription,omitempty"`
	AllowedCategories []SourceCategory `json:"allowedSourceTypes,omitempty"`
}

// Normalize fills in defaults and drops unusable entries. An empty or
// missing category list means every category is allowed, so a zero value
// is always safe to use.
func (c *SearchConstraints) Normalize() {
	if c == nil {
		return
	}
	if len(c.AllowedCategories) == 0 {
		c.AllowedCategories = AllSourceCategories()
	} else {
		seen := make(map[SourceCategory]struct{}, len(c.AllowedCategories))
		kept := c.AllowedCategories[:0]
		for _, cat := range c.AllowedCategories {
			if !cat.Valid() {
				continue
			}
			if _, dup := seen[cat]; dup {
				continue
			}
			seen[cat] = struct{}{}
			kept = append(kept, cat)
		}
		if len(kept) == 0 {
			kept = AllSourceCategories()
		}
		c.AllowedCategories = kept
	}
	c.PreferredDomains = cleanDomains(c.PreferredDomains)
	c.ExcludedDomains = cleanDomains(c.ExcludedDomains)
	c.Focus = strings.TrimSpace(c.Focus)
}

func cleanDomains(domains []string) []string {
	if len(domains) == 0 {
		return nil
	}
	kept := domains[:0]
	for _, d := range domains {
		d = strings.ToLower(strings.TrimSpace(d))
		if d == "" {
			continue
		}
		kept = append(kept, d)
	}
	if len(kept) == 0 {
		return nil
	}
	return kept
}

// ResearchResult is the merged outcome of all research passes for a topic.
type ResearchResult struct {
	Content string   `json:"content"`
	Sources []Source `json:"sources"`
}

// DedupeSources removes sources that share a URI, keeping the first
// occurrence so earlier passes take precedence.
func DedupeSources(sources []Source) []Source {
	if len(sources) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(sources))
	out := make([]Source, 0, len(sources))
	for _, s := range sources {
		if _, dup := seen[s.URI]; dup {
			continue
		}
		seen[s.URI] = struct{}{}
		out = append(out, s)
	}
	return out
}
