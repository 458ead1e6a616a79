// Package sources fetches external feeds and turns their items into Articles.
// A Registry selects the Fetcher for a URL by its detected source type.
package sources

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"periscope/internal/core"
)

// Fetcher is implemented by every source type.
type Fetcher interface {
	SourceType() core.SourceType
	// ValidateURL rejects URLs this fetcher cannot handle.
	ValidateURL(rawURL string) error
	// FetchContent never returns an error: failures are reported through
	// FetchResult.Success and ErrorMessage.
	FetchContent(ctx context.Context, rawURL string) core.FetchResult
	SourceInfo(ctx context.Context, rawURL string) (core.SourceInfo, error)
}

// Constructor builds a Fetcher.
type Constructor func() Fetcher

// Registry maps source types to fetcher constructors.
type Registry struct {
	mu           sync.RWMutex
	constructors map[core.SourceType]Constructor
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{constructors: make(map[core.SourceType]Constructor)}
}

// Register adds or replaces the constructor for t.
func (r *Registry) Register(t core.SourceType, c Constructor) {
	r.mu.Lock()
	r.constructors[t] = c
	r.mu.Unlock()
}

// Types lists the registered source types.
func (r *Registry) Types() []core.SourceType {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]core.SourceType, 0, len(r.constructors))
	for t := range r.constructors {
		out = append(out, t)
	}
	return out
}

// Fetcher builds the fetcher registered for t.
func (r *Registry) Fetcher(t core.SourceType) (Fetcher, error) {
	r.mu.RLock()
	c, ok := r.constructors[t]
	r.mu.RUnlock()
	if !ok {
		return nil, core.NonRetryable(core.KindConfiguration, "source registry",
			fmt.Errorf("no fetcher registered for source type %q", t))
	}
	return c(), nil
}

// ForURL detects the source type of rawURL and builds its fetcher.
func (r *Registry) ForURL(rawURL string) (Fetcher, error) {
	t, err := DetectSourceType(rawURL)
	if err != nil {
		return nil, err
	}
	return r.Fetcher(t)
}

var feedTokens = []string{"rss", "feed", "atom", ".xml", ".rss", ".atom"}

// DetectSourceType inspects the URL path and query for syndication hints.
// It returns RSS when no strong signal exists and an error for malformed URLs.
func DetectSourceType(rawURL string) (core.SourceType, error) {
	t, _, err := detect(rawURL)
	return t, err
}

// detect also reports whether the URL carried an explicit feed hint.
func detect(rawURL string) (core.SourceType, bool, error) {
	u, err := ParseSourceURL(rawURL)
	if err != nil {
		return "", false, err
	}
	hint := strings.ToLower(u.Path + "?" + u.RawQuery)
	for _, tok := range feedTokens {
		if strings.Contains(hint, tok) {
			return core.SourceTypeRSS, true, nil
		}
	}
	return core.SourceTypeRSS, false, nil
}

// ParseSourceURL parses rawURL and requires an http(s) scheme and a host.
func ParseSourceURL(rawURL string) (*url.URL, error) {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return nil, invalidURL(rawURL, "empty URL")
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, invalidURL(rawURL, err.Error())
	}
	if u.Scheme == "" {
		return nil, invalidURL(rawURL, "missing scheme")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, invalidURL(rawURL, fmt.Sprintf("unsupported scheme %q", u.Scheme))
	}
	if u.Host == "" {
		return nil, invalidURL(rawURL, "missing host")
	}
	return u, nil
}

func invalidURL(rawURL, reason string) error {
	return core.NonRetryable(core.KindValidation, "parse source url",
		fmt.Errorf("invalid URL %q: %s", rawURL, reason))
}

// DefaultRegistry returns a registry with the RSS fetcher wired to client.
func DefaultRegistry(client TextFetcher, opts RSSOptions) *Registry {
	r := NewRegistry()
	r.Register(core.SourceTypeRSS, func() Fetcher { return NewRSSFetcher(client, opts) })
	return r
}
