package clustering

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/rs/zerolog"

	"periscope/internal/cache"
	"periscope/internal/core"
	"periscope/test/mocks"
)

func articles(n int) []core.Article {
	out := make([]core.Article, n)
	for i := range out {
		out[i] = core.Article{
			Title:    fmt.Sprintf("Story %d", i),
			URL:      fmt.Sprintf("https://example.com/%d", i),
			Content:  "content",
			AITopics: []string{fmt.Sprintf("topic-%d", i), "shared"},
		}
	}
	return out
}

func constant(conf float64) *mocks.MockProvider {
	return mocks.NewMockProvider(func(string, string) (any, error) {
		return map[string]any{"confidence": conf, "reasoning": "r", "topics": []string{}}, nil
	})
}

// pairsProvider marks the listed title pairs as similar.
func pairsProvider(similar ...[2]int) *mocks.MockProvider {
	return mocks.NewMockProvider(func(_, prompt string) (any, error) {
		for _, p := range similar {
			a := fmt.Sprintf("Title: Story %d\n", p[0])
			b := fmt.Sprintf("Title: Story %d\n", p[1])
			if strings.Contains(prompt, a) && strings.Contains(prompt, b) {
				return map[string]any{"confidence": 0.95, "reasoning": "same", "topics": []string{}}, nil
			}
		}
		return map[string]any{"confidence": 0.1, "reasoning": "different", "topics": []string{}}, nil
	})
}

func newDetector(p *mocks.MockProvider, c cache.Cache) *Detector {
	return NewDetector(p, c, Options{Logger: zerolog.Nop(), Now: func() time.Time { return time.Unix(0, 0) }})
}

func TestAllSimilarFormOneGroup(t *testing.T) {
	groups, stats, err := newDetector(constant(0.9), nil).DetectSimilarity(context.Background(), articles(4))
	if err != nil {
		t.Fatalf("DetectSimilarity() error = %v", err)
	}
	if len(groups) != 1 || len(groups[0].SimilarArticles) != 3 {
		t.Fatalf("Expected 1 group with 3 similar articles, got %d groups", len(groups))
	}
	if groups[0].PrimaryArticle.URL != "https://example.com/0" {
		t.Errorf("Expected first article as primary, got %s", groups[0].PrimaryArticle.URL)
	}
	want := []string{"shared", "topic-0", "topic-1", "topic-2", "topic-3"}
	if diff := cmp.Diff(want, groups[0].CommonTopics); diff != "" {
		t.Errorf("CommonTopics mismatch (-want +got):\n%s", diff)
	}
	if stats.Comparisons != 6 || stats.Edges != 6 {
		t.Errorf("Expected 6 comparisons and edges, got %+v", stats)
	}
}

func TestNoneSimilarFormSingletons(t *testing.T) {
	groups, _, err := newDetector(constant(0.2), nil).DetectSimilarity(context.Background(), articles(4))
	if err != nil {
		t.Fatalf("DetectSimilarity() error = %v", err)
	}
	if len(groups) != 4 {
		t.Fatalf("Expected 4 groups, got %d", len(groups))
	}
	for i, g := range groups {
		if len(g.SimilarArticles) != 0 {
			t.Errorf("Group %d has %d similar articles", i, len(g.SimilarArticles))
		}
		if g.PrimaryArticle.URL != fmt.Sprintf("https://example.com/%d", i) {
			t.Errorf("Groups out of input order at %d", i)
		}
	}
}

func TestThresholdIsInclusive(t *testing.T) {
	groups, _, _ := newDetector(constant(0.7), nil).DetectSimilarity(context.Background(), articles(2))
	if len(groups) != 1 {
		t.Errorf("Expected confidence 0.7 to link articles, got %d groups", len(groups))
	}
}

func TestTransitiveComponents(t *testing.T) {
	// 0-2 and 2-4 link; 1-3 link; 5 alone.
	p := pairsProvider([2]int{0, 2}, [2]int{2, 4}, [2]int{1, 3})
	groups, _, err := newDetector(p, nil).DetectSimilarity(context.Background(), articles(6))
	if err != nil {
		t.Fatalf("DetectSimilarity() error = %v", err)
	}
	var got [][]string
	for _, g := range groups {
		members := []string{g.PrimaryArticle.Title}
		for _, a := range g.SimilarArticles {
			members = append(members, a.Title)
		}
		got = append(got, members)
	}
	want := [][]string{
		{"Story 0", "Story 2", "Story 4"},
		{"Story 1", "Story 3"},
		{"Story 5"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Groups mismatch (-want +got):\n%s", diff)
	}
}

func TestSingleArticle(t *testing.T) {
	p := constant(0.9)
	in := articles(1)
	groups, _, _ := newDetector(p, nil).DetectSimilarity(context.Background(), in)
	if len(groups) != 1 || len(groups[0].SimilarArticles) != 0 {
		t.Fatalf("Expected one singleton group, got %+v", groups)
	}
	if diff := cmp.Diff([]string{"shared", "topic-0"}, groups[0].CommonTopics); diff != "" {
		t.Errorf("CommonTopics mismatch: %s", diff)
	}
	if p.Calls() != 0 {
		t.Error("Expected no comparisons for a single article")
	}
}

func TestComparisonFailureIsNotSimilar(t *testing.T) {
	groups, stats, err := newDetector(mocks.FailingProvider(), nil).DetectSimilarity(context.Background(), articles(3))
	if err != nil {
		t.Fatalf("DetectSimilarity() error = %v", err)
	}
	if len(groups) != 3 || stats.Failures != 3 {
		t.Errorf("Expected 3 singleton groups and 3 failures, got %d groups %+v", len(groups), stats)
	}
}

func TestComparisonsAreCached(t *testing.T) {
	c := cache.NewMemory()
	p := constant(0.9)
	d := newDetector(p, c)

	if _, _, err := d.DetectSimilarity(context.Background(), articles(3)); err != nil {
		t.Fatal(err)
	}
	_, stats, err := d.DetectSimilarity(context.Background(), articles(3))
	if err != nil {
		t.Fatal(err)
	}
	if p.Calls() != 3 || stats.CacheHits != 3 {
		t.Errorf("Expected 3 model calls and 3 hits on rerun, got %d calls %+v", p.Calls(), stats)
	}
	if ok, _ := c.Exists(context.Background(), PairKey("https://example.com/1", "https://example.com/0")); !ok {
		t.Error("Expected pair cached under the order-independent key")
	}
}

func TestGroupIDIsOrderIndependent(t *testing.T) {
	urls := []string{"https://a", "https://b", "https://c"}
	if GroupID(urls) != GroupID([]string{"https://c", "https://a", "https://b"}) {
		t.Error("Expected GroupID invariant under permutation")
	}
	if len(GroupID(urls)) != 16 {
		t.Errorf("Expected 16 hex chars, got %q", GroupID(urls))
	}
	if urls[0] != "https://a" {
		t.Error("GroupID reordered its input")
	}

	in := articles(3)
	rev := []core.Article{in[2], in[0], in[1]}
	g1, _, _ := newDetector(constant(0.9), nil).DetectSimilarity(context.Background(), in)
	g2, _, _ := newDetector(constant(0.9), nil).DetectSimilarity(context.Background(), rev)
	if g1[0].GroupID != g2[0].GroupID {
		t.Error("Expected identical group ids for permuted input")
	}
}

func TestPairKeyIsSymmetric(t *testing.T) {
	if PairKey("x", "y") != PairKey("y", "x") {
		t.Error("Expected symmetric pair key")
	}
	if !strings.HasPrefix(PairKey("x", "y"), "similarity:") {
		t.Error("Expected similarity prefix")
	}
}

func TestCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, _, err := newDetector(constant(0.9), nil).DetectSimilarity(ctx, articles(3)); err == nil {
		t.Error("Expected error for cancelled context")
	}
}

func TestWithoutProviderEveryArticleIsAlone(t *testing.T) {
	d := NewDetector(nil, nil, Options{Logger: zerolog.Nop()})
	groups, stats, err := d.DetectSimilarity(context.Background(), articles(3))
	if err != nil {
		t.Fatalf("DetectSimilarity() error = %v", err)
	}
	if len(groups) != 3 || stats.Comparisons != 0 || stats.Failures != 0 {
		t.Errorf("Expected 3 singleton groups without comparisons, got %d groups %+v", len(groups), stats)
	}
}
