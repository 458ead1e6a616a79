package pipeline

import (
	"context"

	"periscope/internal/clustering"
	"periscope/internal/core"
	"periscope/internal/sources"
)

// SourceResolver selects the fetcher for a source URL
type SourceResolver interface {
	ForURL(rawURL string) (sources.Fetcher, error)
}

// ContentValidator rejects empty, short and spam articles
type ContentValidator interface {
	Validate(ctx context.Context, article core.Article) core.ValidationResult
}

// ArticleNormalizer cleans article fields and canonicalizes URLs
type ArticleNormalizer interface {
	Normalize(article core.Article) core.Article
}

// QualityScorer rates article quality on a 0-100 scale
type QualityScorer interface {
	Score(ctx context.Context, article core.Article) core.ContentQualityResult
}

// TopicExtractor derives short topic labels from an article.
// degraded reports a failed model call.
type TopicExtractor interface {
	Extract(ctx context.Context, article core.Article) (topics []string, degraded bool)
}

// RelevanceScorer rates an article against an interest profile.
// The bool reports a cache hit.
type RelevanceScorer interface {
	Score(ctx context.Context, article core.Article, profile core.InterestProfile) (core.RelevanceResult, bool)
}

// SummarySession summarizes articles with one fixed system prompt
type SummarySession interface {
	Summarize(ctx context.Context, article core.Article) (summary string, degraded bool)
	SystemPrompt() string
	CustomPromptAccepted() bool
	GuardReason() string
}

// SessionFactory prepares a summary session for a user's style and
// custom instructions
type SessionFactory func(ctx context.Context, style core.SummaryStyle, customPrompt string) SummarySession

// SimilarityDetector groups articles covering the same story
type SimilarityDetector interface {
	DetectSimilarity(ctx context.Context, articles []core.Article) ([]core.ArticleGroup, clustering.Stats, error)
}

// DigestAssembler renders the selected groups into a payload
type DigestAssembler interface {
	Assemble(user core.DigestUserConfig, groups []core.ArticleGroup, relevance map[string]core.RelevanceResult) (core.DigestPayload, error)
}

// AIMeter counts model calls. *llm.Metered implements it.
type AIMeter interface {
	Calls() int64
	Errors() int64
}
