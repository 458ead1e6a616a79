package sources

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"
	"github.com/rs/zerolog"

	"periscope/internal/core"
)

// DefaultMaxArticles caps the items taken from one feed.
const DefaultMaxArticles = 50

// TextFetcher downloads a document body. *httpclient.Client implements it.
type TextFetcher interface {
	FetchText(ctx context.Context, url string) (string, error)
}

// RSSOptions configures an RSSFetcher.
type RSSOptions struct {
	MaxArticles int
	Logger      zerolog.Logger
	Now         func() time.Time
}

// RSSFetcher parses RSS, Atom and JSON feeds.
type RSSFetcher struct {
	client      TextFetcher
	maxArticles int
	log         zerolog.Logger
	now         func() time.Time
}

// NewRSSFetcher creates a feed fetcher using client for transport.
func NewRSSFetcher(client TextFetcher, opts RSSOptions) *RSSFetcher {
	if opts.MaxArticles <= 0 {
		opts.MaxArticles = DefaultMaxArticles
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &RSSFetcher{
		client:      client,
		maxArticles: opts.MaxArticles,
		log:         opts.Logger.With().Str("component", "rss").Logger(),
		now:         opts.Now,
	}
}

func (f *RSSFetcher) SourceType() core.SourceType { return core.SourceTypeRSS }

// ValidateURL requires an absolute http(s) URL.
func (f *RSSFetcher) ValidateURL(rawURL string) error {
	_, err := ParseSourceURL(rawURL)
	return err
}

// FetchContent downloads and parses the feed at rawURL.
func (f *RSSFetcher) FetchContent(ctx context.Context, rawURL string) (result core.FetchResult) {
	fetchedAt := f.now().UTC()
	result = core.FetchResult{
		SourceInfo: core.SourceInfo{URL: rawURL, Type: core.SourceTypeRSS},
		Articles:   []core.Article{},
	}

	defer func() {
		if r := recover(); r != nil {
			f.log.Error().Str("url", rawURL).Interface("panic", r).Msg("unexpected failure while fetching feed")
			result.Success = false
			result.Articles = []core.Article{}
			result.ErrorMessage = fmt.Sprintf("unexpected error: %v", r)
		}
	}()

	if _, strong, err := detect(rawURL); err != nil {
		result.ErrorMessage = err.Error()
		return result
	} else if !strong {
		f.log.Debug().Str("url", rawURL).Msg("no feed hint in URL, parsing as feed anyway")
	}

	feed, err := f.fetchFeed(ctx, rawURL)
	if err != nil {
		result.ErrorMessage = describeFetchError(err)
		f.log.Warn().Str("url", rawURL).Err(err).Msg("feed fetch failed")
		return result
	}

	result.SourceInfo = infoFromFeed(rawURL, feed)
	base := feedBase(rawURL, feed)

	for _, item := range feed.Items {
		if len(result.Articles) >= f.maxArticles {
			break
		}
		if item == nil {
			continue
		}
		article, ok := f.articleFromItem(item, base, fetchedAt)
		if !ok {
			continue
		}
		article.Metadata[core.MetaSourceURL] = rawURL
		result.Articles = append(result.Articles, article)
	}

	result.Success = true
	f.log.Debug().Str("url", rawURL).Int("articles", len(result.Articles)).Msg("feed fetched")
	return result
}

// SourceInfo fetches the feed and returns its title and description.
func (f *RSSFetcher) SourceInfo(ctx context.Context, rawURL string) (core.SourceInfo, error) {
	if err := f.ValidateURL(rawURL); err != nil {
		return core.SourceInfo{}, err
	}
	feed, err := f.fetchFeed(ctx, rawURL)
	if err != nil {
		return core.SourceInfo{}, err
	}
	return infoFromFeed(rawURL, feed), nil
}

var errEmptyBody = errors.New("empty response body")

func (f *RSSFetcher) fetchFeed(ctx context.Context, rawURL string) (*gofeed.Feed, error) {
	body, err := f.client.FetchText(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(body) == "" {
		return nil, errEmptyBody
	}
	feed, err := gofeed.NewParser().ParseString(body)
	if err != nil {
		return nil, fmt.Errorf("parse feed: %w", err)
	}
	return feed, nil
}

func (f *RSSFetcher) articleFromItem(item *gofeed.Item, base *url.URL, fetchedAt time.Time) (core.Article, bool) {
	link := resolveLink(base, firstNonEmpty(item.Link, linkFromLinks(item.Links), guidLink(item.GUID)))
	if link == "" {
		return core.Article{}, false
	}

	body := item.Content
	if strings.TrimSpace(body) == "" {
		body = item.Description
	}

	article := core.Article{
		Title:          CleanText(item.Title),
		URL:            link,
		Content:        CleanText(body),
		Author:         CleanText(authorName(item)),
		Tags:           cleanTags(item.Categories),
		AITopics:       []string{},
		Metadata:       map[string]any{},
		FetchTimestamp: fetchedAt,
	}

	switch {
	case item.PublishedParsed != nil:
		t := item.PublishedParsed.UTC()
		article.PublishedAt = &t
	case item.UpdatedParsed != nil:
		t := item.UpdatedParsed.UTC()
		article.PublishedAt = &t
	case item.Published != "" || item.Updated != "":
		// present but unparsable
		t := fetchedAt
		article.PublishedAt = &t
		article.Metadata[core.MetaDateInferred] = true
	}

	return article, true
}

func infoFromFeed(rawURL string, feed *gofeed.Feed) core.SourceInfo {
	return core.SourceInfo{
		URL:         rawURL,
		Type:        core.SourceTypeRSS,
		Title:       CleanText(feed.Title),
		Description: CleanText(feed.Description),
	}
}

func feedBase(rawURL string, feed *gofeed.Feed) *url.URL {
	if feed.Link != "" {
		if u, err := url.Parse(feed.Link); err == nil && u.IsAbs() {
			return u
		}
	}
	u, _ := url.Parse(rawURL)
	return u
}

func resolveLink(base *url.URL, link string) string {
	link = strings.TrimSpace(link)
	if link == "" {
		return ""
	}
	u, err := url.Parse(link)
	if err != nil {
		return ""
	}
	if !u.IsAbs() && base != nil {
		u = base.ResolveReference(u)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return ""
	}
	return u.String()
}

func linkFromLinks(links []string) string {
	for _, l := range links {
		if strings.TrimSpace(l) != "" {
			return l
		}
	}
	return ""
}

func guidLink(guid string) string {
	if strings.HasPrefix(guid, "http://") || strings.HasPrefix(guid, "https://") {
		return guid
	}
	return ""
}

func authorName(item *gofeed.Item) string {
	for _, a := range item.Authors {
		if a != nil && strings.TrimSpace(a.Name) != "" {
			return a.Name
		}
	}
	if item.Author != nil {
		return item.Author.Name
	}
	return ""
}

func cleanTags(categories []string) []string {
	tags := make([]string, 0, len(categories))
	for _, c := range categories {
		if c = CleanText(c); c != "" {
			tags = append(tags, c)
		}
	}
	return tags
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func describeFetchError(err error) string {
	switch {
	case errors.Is(err, errEmptyBody):
		return "feed returned an empty body"
	case isTimeout(err):
		return "timeout while fetching feed"
	case errors.Is(err, core.ErrValidation):
		return fmt.Sprintf("invalid source: %v", err)
	default:
		return fmt.Sprintf("failed to fetch feed: %v", err)
	}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ce *core.Error
	if errors.As(err, &ce) && ce.Kind == core.KindTimeout {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
