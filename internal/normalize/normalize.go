// Package normalize canonicalizes article fields: dates in UTC, bounded
// text lengths, clean tag lists and tracking-free URLs.
package normalize

import (
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"periscope/internal/core"
	"periscope/internal/textutil"
)

// UntitledArticle replaces empty titles.
const UntitledArticle = "Untitled Article"

// Limits bounds field lengths in characters.
type Limits struct {
	Title   int
	Author  int
	Tag     int
	MaxTags int
	Content int
}

// DefaultLimits returns the standard field limits.
func DefaultLimits() Limits {
	return Limits{
		Title:   500,
		Author:  200,
		Tag:     50,
		MaxTags: 20,
		Content: 50000,
	}
}

// trackingParams are dropped from URLs in addition to every utm_* parameter.
var trackingParams = map[string]bool{
	"fbclid":   true,
	"gclid":    true,
	"ref":      true,
	"source":   true,
	"campaign": true,
}

// Normalizer applies the field rules. It is safe for concurrent use.
type Normalizer struct {
	limits Limits
	log    zerolog.Logger
	now    func() time.Time
}

// New creates a Normalizer. Zero limits take their defaults.
func New(limits Limits, log zerolog.Logger) *Normalizer {
	def := DefaultLimits()
	if limits.Title <= 0 {
		limits.Title = def.Title
	}
	if limits.Author <= 0 {
		limits.Author = def.Author
	}
	if limits.Tag <= 0 {
		limits.Tag = def.Tag
	}
	if limits.MaxTags <= 0 {
		limits.MaxTags = def.MaxTags
	}
	if limits.Content <= 0 {
		limits.Content = def.Content
	}
	return &Normalizer{
		limits: limits,
		log:    log.With().Str("component", "normalizer").Logger(),
		now:    time.Now,
	}
}

// Normalize returns a normalized copy of article. It never fails.
func (n *Normalizer) Normalize(article core.Article) core.Article {
	out := article.Clone()

	out.PublishedAt = n.date(article)
	out.Title = n.Title(article.Title)
	out.Author = n.Author(article.Author)
	out.Tags = n.Tags(article.Tags)
	out.Content = n.Content(article.Content)

	canonical, err := CanonicalURL(article.URL)
	if err != nil {
		n.log.Debug().Err(err).Str("url", article.URL).Msg("keeping unparsable URL as is")
	}
	out.URL = canonical

	return out
}

func (n *Normalizer) date(a core.Article) *time.Time {
	if a.PublishedAt != nil {
		t := a.PublishedAt.UTC()
		return &t
	}
	t := a.FetchTimestamp
	if t.IsZero() {
		n.log.Debug().Str("url", a.URL).Msg("no publish date or fetch timestamp, using current time")
		t = n.now()
	}
	t = t.UTC()
	return &t
}

// Title collapses whitespace and bounds the length.
func (n *Normalizer) Title(title string) string {
	title = textutil.CollapseWhitespace(title)
	if title == "" {
		return UntitledArticle
	}
	return textutil.TruncateAtWord(title, n.limits.Title, "...")
}

// Author collapses whitespace, title-cases and bounds the length.
func (n *Normalizer) Author(author string) string {
	author = textutil.CollapseWhitespace(author)
	if author == "" {
		return ""
	}
	// cases.Caser is stateful, so build one per call.
	author = cases.Title(language.Und).String(author)
	return textutil.TruncateAtWord(author, n.limits.Author, "...")
}

// Tags lowercases, trims, bounds and deduplicates tags in first-seen order.
func (n *Normalizer) Tags(tags []string) []string {
	out := make([]string, 0, len(tags))
	seen := make(map[string]bool, len(tags))
	for _, tag := range tags {
		tag = strings.ToLower(strings.TrimSpace(tag))
		if tag == "" {
			continue
		}
		if r := []rune(tag); len(r) > n.limits.Tag {
			tag = strings.TrimSpace(string(r[:n.limits.Tag]))
		}
		if seen[tag] {
			continue
		}
		seen[tag] = true
		out = append(out, tag)
		if len(out) == n.limits.MaxTags {
			break
		}
	}
	return out
}

// Content bounds the body length, cutting at a word boundary.
func (n *Normalizer) Content(content string) string {
	return textutil.TruncateAtWord(content, n.limits.Content, "")
}

// CanonicalURL strips tracking parameters, sorts the query, drops the
// fragment, lowercases the host and upgrades http to https. Applying it
// twice yields the same URL. Unparsable input is returned unchanged along
// with the parse error.
func CanonicalURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	u, err := url.Parse(raw)
	if err != nil {
		return raw, err
	}
	if u.Scheme == "" || u.Host == "" {
		return raw, nil
	}

	u.Scheme = strings.ToLower(u.Scheme)
	if u.Scheme == "http" {
		u.Scheme = "https"
	}
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""
	u.RawFragment = ""

	query := u.Query()
	for key := range query {
		k := strings.ToLower(key)
		if strings.HasPrefix(k, "utm_") || trackingParams[k] {
			delete(query, key)
		}
	}
	// Encode sorts by key.
	u.RawQuery = query.Encode()
	u.ForceQuery = false

	return u.String(), nil
}
