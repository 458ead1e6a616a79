package integration

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"periscope/internal/cache"
	"periscope/internal/config"
	"periscope/internal/core"
	"periscope/internal/delivery"
	"periscope/internal/pipeline"
)

func feedServer(t *testing.T) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var hits atomic.Int32
	body := func(topic string) string {
		return strings.Repeat(fmt.Sprintf("A practical look at %s in production systems. ", topic), 6)
	}
	feed := fmt.Sprintf(`<?xml version="1.0"?>
<rss version="2.0"><channel>
<title>Engineering Weekly</title><link>https://weekly.example.com/</link><description>weekly</description>
<item><title>Scaling Golang services</title><link>/golang-services</link><description>%s</description><author>ada@example.com (Ada)</author><pubDate>Tue, 04 Jun 2024 09:00:00 GMT</pubDate></item>
<item><title>Sourdough for beginners</title><link>/sourdough</link><description>%s</description><pubDate>Tue, 04 Jun 2024 10:00:00 GMT</pubDate></item>
<item><title>Spam</title><link>/spam</link><description>buy now</description></item>
</channel></rss>`, body("golang"), body("baking"))

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		switch r.URL.Path {
		case "/feed.xml":
			w.Header().Set("Content-Type", "application/rss+xml")
			_, _ = w.Write([]byte(feed))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

func testConfig(outputDir string) *config.Config {
	return &config.Config{
		Fetch: config.Fetch{MaxArticles: 20},
		Pipeline: config.Pipeline{
			FetchConcurrency: 2,
			BatchConcurrency: 2,
		},
		Summarizer: config.Summarizer{DefaultStyle: "brief"},
		Delivery:   config.Delivery{Method: "file", OutputDir: outputDir, Theme: "minimal"},
	}
}

func testUser(feedURL string) core.DigestUserConfig {
	return core.DigestUserConfig{
		UserID:       "ada",
		Email:        "ada@example.com",
		Timezone:     "Europe/London",
		SummaryStyle: core.SummaryStyleBrief,
		Sources: []core.ContentSourceConfig{
			{URL: feedURL, Name: "Weekly", Type: core.SourceTypeRSS, Active: true},
			{URL: strings.Replace(feedURL, "feed.xml", "missing.xml", 1), Name: "Gone", Type: core.SourceTypeRSS, Active: true},
		},
		InterestProfile: core.InterestProfile{
			Keywords:           []string{"golang", "services"},
			RelevanceThreshold: 10,
			BoostFactor:        1.0,
		},
	}
}

func openStore(t *testing.T, dir string) cache.Cache {
	t.Helper()
	c, closeFn, err := cache.Open(context.Background(), cache.Options{Backend: "sqlite", Directory: dir, Logger: zerolog.Nop()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = closeFn() })
	return c
}

// TestDigestRunEndToEnd drives the whole pipeline over HTTP without AI:
// feed fetch, filtering, keyword relevance, rendering and file delivery.
func TestDigestRunEndToEnd(t *testing.T) {
	ctx := context.Background()
	srv, hits := feedServer(t)
	outDir := t.TempDir()
	store := openStore(t, t.TempDir())

	p, err := pipeline.NewBuilder(testConfig(outDir)).
		WithCache(store).
		WithLogger(zerolog.Nop()).
		Build()
	require.NoError(t, err)

	summary, err := p.Run(ctx, testUser(srv.URL+"/feed.xml"), pipeline.RunOptions{RunID: "e2e"})
	require.NoError(t, err)

	assert.Equal(t, 3, summary.ArticlesFetched)
	assert.Equal(t, 2, summary.ArticlesProcessed, "the short item is rejected by validation")
	assert.Equal(t, 1, summary.ArticlesRelevant)
	assert.Equal(t, 1, summary.Groups)
	assert.True(t, summary.DigestSent)
	assert.Zero(t, summary.TotalAICalls)
	require.Len(t, summary.ErrorMessages, 1)
	assert.Contains(t, summary.ErrorMessages[0], "missing.xml")

	files, err := filepath.Glob(filepath.Join(outDir, "*_ada_example.com.*"))
	require.NoError(t, err)
	require.Len(t, files, 2, "expected html and text bodies")

	var text string
	for _, f := range files {
		if strings.HasSuffix(f, ".txt") {
			data, err := os.ReadFile(f)
			require.NoError(t, err)
			text = string(data)
		}
	}
	assert.Contains(t, text, "To: ada@example.com")
	assert.Contains(t, text, "Scaling Golang services")
	assert.NotContains(t, text, "Sourdough")
	assert.Contains(t, text, srv.URL+"/golang-services", "relative links resolve against the feed URL")

	st, ok, err := delivery.LoadStatus(ctx, store, "e2e")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, st.Sent)
	assert.Equal(t, 1, st.Groups)
	assert.Equal(t, summary.Subject, st.Subject)

	assert.EqualValues(t, 2, hits.Load())
}

// TestDigestRunResumesAcrossProcesses reopens the SQLite cache the way a
// second invocation would. Only the failed source is fetched again and the
// digest is not sent twice.
func TestDigestRunResumesAcrossProcesses(t *testing.T) {
	ctx := context.Background()
	srv, hits := feedServer(t)
	outDir := t.TempDir()
	cacheDir := t.TempDir()
	user := testUser(srv.URL + "/feed.xml")

	run := func() *pipeline.RunSummary {
		store, closeFn, err := cache.Open(ctx, cache.Options{Backend: "sqlite", Directory: cacheDir, Logger: zerolog.Nop()})
		require.NoError(t, err)
		defer func() { _ = closeFn() }()

		p, err := pipeline.NewBuilder(testConfig(outDir)).WithCache(store).WithLogger(zerolog.Nop()).Build()
		require.NoError(t, err)
		summary, err := p.Run(ctx, user, pipeline.RunOptions{RunID: "nightly"})
		require.NoError(t, err)
		return summary
	}

	first := run()
	fetchedAfterFirst := hits.Load()
	second := run()

	assert.Equal(t, fetchedAfterFirst+1, hits.Load(), "only the failed source is retried")
	assert.Equal(t, first.Subject, second.Subject)
	assert.True(t, second.DigestSent)

	deliver, ok := second.Stage(pipeline.StageDeliver)
	require.True(t, ok)
	assert.True(t, deliver.Resumed)

	files, err := filepath.Glob(filepath.Join(outDir, "*.html"))
	require.NoError(t, err)
	assert.Len(t, files, 1, "digest must be delivered exactly once")
}

func TestDryRunWritesNothing(t *testing.T) {
	srv, _ := feedServer(t)
	outDir := t.TempDir()

	p, err := pipeline.NewBuilder(testConfig(outDir)).WithLogger(zerolog.Nop()).Build()
	require.NoError(t, err)

	summary, err := p.Run(context.Background(), testUser(srv.URL+"/feed.xml"), pipeline.RunOptions{DryRun: true})
	require.NoError(t, err)
	assert.False(t, summary.DigestSent)
	assert.Equal(t, 1, summary.Groups)

	entries, err := os.ReadDir(outDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}
