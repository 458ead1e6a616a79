// Package clustering groups articles covering the same story. A model
// compares every pair of articles; pairs above the similarity threshold
// become edges of a graph whose connected components are the groups.
package clustering

import (
	"context"
	"fmt"
	"slices"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"periscope/internal/cache"
	"periscope/internal/core"
	"periscope/internal/llm"
	"periscope/internal/textutil"
)

const (
	// DefaultThreshold is the minimum confidence for an edge.
	DefaultThreshold = 0.7
	// DefaultConcurrency bounds in-flight pair comparisons.
	DefaultConcurrency = 4
	// DefaultCacheTTL is how long pair comparisons stay cached.
	DefaultCacheTTL = 24 * time.Hour

	maxPromptChars = 1500
)

const similaritySystemPrompt = `You decide whether two news articles cover the same story.
Return a confidence between 0 and 1 using this rubric:
- 0.9 to 1.0: near-duplicates, the same story reported almost identically
- 0.7 to 0.9: the same story or event from different sources
- 0.5 to 0.7: related stories sharing a subject
- 0.3 to 0.5: loosely related, same broad area
- below 0.3: unrelated
Also give one sentence of reasoning and the topics both articles share.`

var similaritySchema = llm.Object(map[string]*llm.Schema{
	"confidence": llm.Number("probability the articles cover the same story", 0, 1),
	"reasoning":  llm.String("one sentence"),
	"topics":     llm.StringList("topics shared by both articles"),
})

// Comparison is the model's verdict on one pair of articles.
type Comparison struct {
	Confidence float64  `json:"confidence"`
	Reasoning  string   `json:"reasoning"`
	Topics     []string `json:"topics"`
}

// Stats counts the work done by one DetectSimilarity call.
type Stats struct {
	Comparisons int
	CacheHits   int
	Failures    int
	Edges       int
}

// Options configures a Detector.
type Options struct {
	Threshold   float64
	Concurrency int
	CacheTTL    time.Duration
	Logger      zerolog.Logger
	Now         func() time.Time
}

// Detector builds article groups.
type Detector struct {
	agent       llm.Agent
	cache       cache.Cache
	threshold   float64
	concurrency int
	cacheTTL    time.Duration
	log         zerolog.Logger
	now         func() time.Time
}

// NewDetector creates a Detector. Without a provider no pairs are compared
// and every article forms its own group. c may be nil.
func NewDetector(provider llm.Provider, c cache.Cache, opts Options) *Detector {
	if opts.Threshold <= 0 || opts.Threshold > 1 {
		opts.Threshold = DefaultThreshold
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultConcurrency
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = DefaultCacheTTL
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	d := &Detector{
		cache:       c,
		threshold:   opts.Threshold,
		concurrency: opts.Concurrency,
		cacheTTL:    opts.CacheTTL,
		log:         opts.Logger.With().Str("component", "similarity").Logger(),
		now:         opts.Now,
	}
	if provider != nil {
		d.agent = provider.CreateAgent(similaritySchema, similaritySystemPrompt)
	}
	return d
}

// PairKey is the cache key of an unordered URL pair.
func PairKey(urlA, urlB string) string {
	pair := []string{urlA, urlB}
	slices.Sort(pair)
	return "similarity:" + textutil.ShortHash(pair...)
}

// Compare judges one pair. The bool reports a cache hit. Failures are
// returned as zero confidence and are not cached.
func (d *Detector) Compare(ctx context.Context, a, b core.Article) (Comparison, bool, error) {
	key := PairKey(a.URL, b.URL)
	if d.cache != nil {
		var cached Comparison
		if hit, _ := cache.GetJSON(ctx, d.cache, key, &cached); hit {
			return cached, true, nil
		}
	}
	if d.agent == nil {
		return Comparison{}, false, fmt.Errorf("no similarity model configured")
	}

	var c Comparison
	if err := d.agent.Run(ctx, comparePrompt(a, b), &c); err != nil {
		return Comparison{}, false, err
	}
	c.Confidence = textutil.Clamp(c.Confidence, 0, 1)

	if d.cache != nil {
		if err := cache.SetJSON(ctx, d.cache, key, c, d.cacheTTL); err != nil {
			d.log.Debug().Err(err).Str("key", key).Msg("similarity cache write failed")
		}
	}
	return c, false, nil
}

// DetectSimilarity groups articles. Every input article ends up in exactly
// one group; within a group the article that appears first in the input is
// the primary. Only context cancellation is returned as an error.
func (d *Detector) DetectSimilarity(ctx context.Context, articles []core.Article) ([]core.ArticleGroup, Stats, error) {
	var stats Stats
	if len(articles) == 0 {
		return []core.ArticleGroup{}, stats, nil
	}

	var graph [][]int
	var err error
	if d.agent == nil {
		d.log.Debug().Msg("no similarity model configured, every article forms its own group")
		graph = make([][]int, len(articles))
	} else if graph, stats, err = d.buildGraph(ctx, articles); err != nil {
		return nil, stats, err
	}

	components := connectedComponents(graph, len(articles))
	groups := make([]core.ArticleGroup, 0, len(components))
	created := d.now().UTC()
	for _, comp := range components {
		groups = append(groups, buildGroup(articles, comp, created))
	}

	d.log.Debug().
		Int("articles", len(articles)).
		Int("edges", stats.Edges).
		Int("groups", len(groups)).
		Msg("similarity graph built")
	return groups, stats, nil
}

// buildGraph compares every unordered pair concurrently and returns an
// adjacency list with neighbors in ascending order.
func (d *Detector) buildGraph(ctx context.Context, articles []core.Article) ([][]int, Stats, error) {
	type pair struct{ i, j int }
	var pairs []pair
	for i := range articles {
		for j := i + 1; j < len(articles); j++ {
			pairs = append(pairs, pair{i, j})
		}
	}

	similar := make([]bool, len(pairs))
	var comparisons, hits, failures atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.concurrency)
	for idx, p := range pairs {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			c, hit, err := d.Compare(gctx, articles[p.i], articles[p.j])
			comparisons.Add(1)
			switch {
			case err != nil:
				failures.Add(1)
				d.log.Warn().Err(err).
					Str("a", articles[p.i].URL).
					Str("b", articles[p.j].URL).
					Msg("similarity comparison failed, treating as unrelated")
			case hit:
				hits.Add(1)
			}
			similar[idx] = err == nil && c.Confidence >= d.threshold
			return nil
		})
	}
	err := g.Wait()

	stats := Stats{
		Comparisons: int(comparisons.Load()),
		CacheHits:   int(hits.Load()),
		Failures:    int(failures.Load()),
	}
	if err == nil {
		err = ctx.Err()
	}
	if err != nil {
		return nil, stats, err
	}

	graph := make([][]int, len(articles))
	for idx, p := range pairs {
		if !similar[idx] {
			continue
		}
		graph[p.i] = append(graph[p.i], p.j)
		graph[p.j] = append(graph[p.j], p.i)
		stats.Edges++
	}
	for i := range graph {
		slices.Sort(graph[i])
	}
	return graph, stats, nil
}

// connectedComponents runs an iterative depth-first search from each
// unvisited node in input order. Each component lists its root first.
func connectedComponents(graph [][]int, n int) [][]int {
	visited := make([]bool, n)
	var components [][]int
	for root := 0; root < n; root++ {
		if visited[root] {
			continue
		}
		var comp []int
		stack := []int{root}
		visited[root] = true
		for len(stack) > 0 {
			node := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			comp = append(comp, node)
			// Push in reverse so lower indices are visited first.
			for k := len(graph[node]) - 1; k >= 0; k-- {
				next := graph[node][k]
				if !visited[next] {
					visited[next] = true
					stack = append(stack, next)
				}
			}
		}
		components = append(components, comp)
	}
	return components
}

func buildGroup(articles []core.Article, comp []int, created time.Time) core.ArticleGroup {
	urls := make([]string, 0, len(comp))
	topicSet := make(map[string]bool)
	similar := make([]core.Article, 0, len(comp)-1)

	for k, idx := range comp {
		a := articles[idx]
		urls = append(urls, a.URL)
		for _, t := range a.AITopics {
			topicSet[t] = true
		}
		if k > 0 {
			similar = append(similar, a.Clone())
		}
	}

	topics := make([]string, 0, len(topicSet))
	for t := range topicSet {
		topics = append(topics, t)
	}
	slices.Sort(topics)

	return core.ArticleGroup{
		PrimaryArticle:  articles[comp[0]].Clone(),
		SimilarArticles: similar,
		CommonTopics:    topics,
		GroupID:         GroupID(urls),
		CreatedAt:       created,
	}
}

// GroupID hashes the sorted member URLs, so it does not depend on order.
func GroupID(urls []string) string {
	sorted := slices.Clone(urls)
	slices.Sort(sorted)
	return textutil.ShortHash(sorted...)
}

func comparePrompt(a, b core.Article) string {
	return fmt.Sprintf("Article A\nTitle: %s\n%s\n\nArticle B\nTitle: %s\n%s",
		a.Title, textutil.TruncateAtWord(a.Content, maxPromptChars, "..."),
		b.Title, textutil.TruncateAtWord(b.Content, maxPromptChars, "..."))
}
