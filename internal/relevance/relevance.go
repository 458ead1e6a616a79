// Package relevance scores articles against a user's interest profile in
// three stages: keyword matching, an optional semantic assessment and
// recency/quality boosts.
package relevance

import (
	"context"
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"periscope/internal/cache"
	"periscope/internal/core"
	"periscope/internal/llm"
	"periscope/internal/textutil"
)

const (
	maxKeywordScore  = 60
	maxSemanticScore = 30.0
	maxTemporalBoost = 5
	qualityBoost     = 5

	// Semantic scoring runs only in the ambiguous band below this score.
	semanticCeiling = 55
	semanticFloor   = 15

	qualityBoostMin = 80
	freshnessWindow = 24 * time.Hour

	// DefaultCacheTTL is how long scores stay cached.
	DefaultCacheTTL = 24 * time.Hour

	maxPromptChars = 4000
)

// Weights are the points awarded per matched keyword by location.
type Weights struct {
	Title   int
	Content int
	Tag     int
}

// DefaultWeights returns title 10, content 6, tag 4.
func DefaultWeights() Weights {
	return Weights{Title: 10, Content: 6, Tag: 4}
}

// Options configures a Scorer.
type Options struct {
	Weights         Weights
	SemanticEnabled bool
	CacheTTL        time.Duration
	Logger          zerolog.Logger
	Now             func() time.Time
}

// Scorer computes RelevanceResults, caching them per profile and URL.
type Scorer struct {
	weights  Weights
	agent    llm.Agent // nil disables the semantic stage
	cache    cache.Cache
	cacheTTL time.Duration
	log      zerolog.Logger
	now      func() time.Time
}

const semanticSystemPrompt = `You judge how relevant an article is to a reader's interests.
Score from 0 (unrelated) to 30 (squarely on topic), considering synonyms and
closely related concepts, not just literal keyword overlap.
Give a one sentence reasoning.`

var semanticSchema = llm.Object(map[string]*llm.Schema{
	"score":     llm.Number("relevance from 0 to 30", 0, maxSemanticScore),
	"reasoning": llm.String("one sentence"),
})

type semanticVerdict struct {
	Score     float64 `json:"score"`
	Reasoning string  `json:"reasoning"`
}

// NewScorer creates a scorer. provider and c may be nil.
func NewScorer(provider llm.Provider, c cache.Cache, opts Options) *Scorer {
	if opts.Weights == (Weights{}) {
		opts.Weights = DefaultWeights()
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = DefaultCacheTTL
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	s := &Scorer{
		weights:  opts.Weights,
		cache:    c,
		cacheTTL: opts.CacheTTL,
		log:      opts.Logger.With().Str("component", "relevance").Logger(),
		now:      opts.Now,
	}
	if opts.SemanticEnabled && provider != nil {
		s.agent = provider.CreateAgent(semanticSchema, semanticSystemPrompt)
	}
	return s
}

// Score rates article against profile. The bool reports a cache hit.
func (s *Scorer) Score(ctx context.Context, article core.Article, profile core.InterestProfile) (core.RelevanceResult, bool) {
	if len(profile.Keywords) == 0 {
		return core.RelevanceResult{
			MatchedKeywords: []string{},
			PassesThreshold: true,
			Reasoning:       "no interest keywords configured",
		}, false
	}

	key := CacheKey(profile, article.URL)
	if s.cache != nil {
		var cached core.RelevanceResult
		hit, err := cache.GetJSON(ctx, s.cache, key, &cached)
		if err != nil {
			s.log.Debug().Err(err).Str("key", key).Msg("relevance cache read failed")
		}
		if hit {
			return cached, true
		}
	}

	res := s.compute(ctx, article, profile)

	// A fallback semantic score is not worth keeping past this run.
	if s.cache != nil && !res.Degraded {
		if err := cache.SetJSON(ctx, s.cache, key, res, s.cacheTTL); err != nil {
			s.log.Debug().Err(err).Str("key", key).Msg("relevance cache write failed")
		}
	}
	return res, false
}

func (s *Scorer) compute(ctx context.Context, article core.Article, profile core.InterestProfile) core.RelevanceResult {
	kw, matched, where := s.KeywordScore(article, profile.Keywords)

	var semantic float64
	var semanticReason string
	degraded := false
	if s.shouldScoreSemantically(kw, profile.BoostFactor) {
		var err error
		semantic, semanticReason, err = s.semanticScore(ctx, article, profile.Keywords)
		if err != nil {
			s.log.Warn().Err(err).Str("url", article.URL).Msg("semantic relevance failed")
			degraded = true
		}
	}

	temporal := TemporalBoost(article.PublishedAt, s.now())

	qb := 0
	if q, ok := article.QualityScore(); ok && len(matched) > 0 && q >= qualityBoostMin {
		qb = qualityBoost
	}

	sum := float64(kw) + semantic + float64(temporal) + float64(qb)
	final := textutil.Clamp(int(math.Round(sum*profile.BoostFactor)), 0, 100)

	return core.RelevanceResult{
		KeywordScore:    kw,
		SemanticScore:   semantic,
		TemporalBoost:   temporal,
		QualityBoost:    qb,
		FinalScore:      final,
		MatchedKeywords: matched,
		PassesThreshold: final >= profile.RelevanceThreshold,
		Reasoning:       reasoning(where, semanticReason, temporal, qb),
		Degraded:        degraded,
	}
}

// shouldScoreSemantically skips the model for clear hits and clear misses
// unless the user boosted their profile.
func (s *Scorer) shouldScoreSemantically(keywordScore int, boost float64) bool {
	if s.agent == nil {
		return false
	}
	return keywordScore < semanticCeiling && (keywordScore > semanticFloor || boost > 1.0)
}

// KeywordScore matches each keyword against title, then content, then tags.
// A keyword matches a field when every one of its tokens occurs there; the
// first matching field wins. The total is capped at 60.
func (s *Scorer) KeywordScore(article core.Article, keywords []string) (int, []string, map[string]string) {
	title := textutil.TokenSet(article.Title)
	content := textutil.TokenSet(article.Content)
	tags := make(map[string]struct{})
	for _, tag := range article.Tags {
		for tok := range textutil.TokenSet(tag) {
			tags[tok] = struct{}{}
		}
	}

	score := 0
	matched := []string{}
	where := make(map[string]string)
	for _, kw := range keywords {
		tokens := textutil.Tokenize(kw)
		if len(tokens) == 0 {
			continue
		}
		switch {
		case containsAll(title, tokens):
			score += s.weights.Title
			where[kw] = "title"
		case containsAll(content, tokens):
			score += s.weights.Content
			where[kw] = "content"
		case containsAll(tags, tokens):
			score += s.weights.Tag
			where[kw] = "tags"
		default:
			continue
		}
		matched = append(matched, kw)
	}
	return textutil.Clamp(score, 0, maxKeywordScore), matched, where
}

func containsAll(set map[string]struct{}, tokens []string) bool {
	for _, t := range tokens {
		if _, ok := set[t]; !ok {
			return false
		}
	}
	return true
}

// semanticScore returns 0 and the agent error when the model call fails.
func (s *Scorer) semanticScore(ctx context.Context, article core.Article, keywords []string) (float64, string, error) {
	prompt := fmt.Sprintf("Reader interests: %s\n\nTitle: %s\nTopics: %s\n\n%s",
		strings.Join(keywords, ", "), article.Title, strings.Join(article.AITopics, ", "),
		textutil.TruncateAtWord(article.Content, maxPromptChars, "..."))

	var v semanticVerdict
	if err := s.agent.Run(ctx, prompt, &v); err != nil {
		return 0, "", err
	}
	return textutil.Clamp(v.Score, 0, maxSemanticScore), v.Reasoning, nil
}

// TemporalBoost decays linearly from 5 for a brand new article to 0 at 24
// hours. Future dates count as new; a missing date earns nothing.
func TemporalBoost(published *time.Time, now time.Time) int {
	if published == nil {
		return 0
	}
	age := now.Sub(*published)
	if age < 0 {
		age = 0
	}
	if age >= freshnessWindow {
		return 0
	}
	ratio := 1 - age.Hours()/freshnessWindow.Hours()
	return textutil.Clamp(int(math.Round(maxTemporalBoost*ratio)), 0, maxTemporalBoost)
}

// ProfileHash identifies a profile independently of keyword order.
func ProfileHash(p core.InterestProfile) string {
	keywords := slices.Clone(p.Keywords)
	slices.Sort(keywords)
	return textutil.ShortHash(
		strings.Join(keywords, "\x1f"),
		strconv.Itoa(p.RelevanceThreshold),
		strconv.FormatFloat(p.BoostFactor, 'f', -1, 64),
	)
}

// CacheKey is the cache key of a profile/article pair. Identical profiles
// share entries across users.
func CacheKey(p core.InterestProfile, articleURL string) string {
	return "relevance:" + ProfileHash(p) + ":" + textutil.ShortHash(articleURL)
}

func reasoning(where map[string]string, semantic string, temporal, qb int) string {
	var parts []string
	if len(where) == 0 {
		parts = append(parts, "no keyword matches")
	} else {
		keys := make([]string, 0, len(where))
		for k := range where {
			keys = append(keys, k)
		}
		slices.Sort(keys)
		matches := make([]string, len(keys))
		for i, k := range keys {
			matches[i] = k + " (" + where[k] + ")"
		}
		parts = append(parts, "matched "+strings.Join(matches, ", "))
	}
	if semantic != "" {
		parts = append(parts, "semantic: "+semantic)
	}
	if temporal > 0 {
		parts = append(parts, fmt.Sprintf("fresh +%d", temporal))
	}
	if qb > 0 {
		parts = append(parts, fmt.Sprintf("high quality +%d", qb))
	}
	return strings.Join(parts, "; ")
}
