// Package quality scores articles from their metadata and, optionally, an
// AI assessment of the writing.
package quality

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"periscope/internal/core"
	"periscope/internal/llm"
	"periscope/internal/textutil"
)

// Metadata point values.
const (
	authorPoints     = 10
	datePoints       = 10
	tagPoints        = 5
	longContentBonus = 15 // content > 500 chars
	extraLongBonus   = 10 // content > 1000 chars
)

// Neutral AI sub-scores used when the assessment fails.
const (
	fallbackWriting         = 10
	fallbackInformativeness = 10
	fallbackCredibility     = 5
)

const maxPromptChars = 6000

const qualitySystemPrompt = `You are an editor rating articles for a personal news digest.
Score the article on three axes:
- writing_quality (0-20): clarity, structure, grammar.
- informativeness (0-20): facts, depth and novelty for a general technical reader.
- credibility (0-10): sourcing, balance and absence of sensationalism.
Add one or two sentences of reasoning.`

var qualitySchema = llm.Object(map[string]*llm.Schema{
	"writing_quality": llm.Integer("clarity and structure", 0, 20),
	"informativeness": llm.Integer("depth and usefulness", 0, 20),
	"credibility":     llm.Integer("trustworthiness", 0, 10),
	"reasoning":       llm.String("short justification"),
})

type assessment struct {
	WritingQuality  int    `json:"writing_quality"`
	Informativeness int    `json:"informativeness"`
	Credibility     int    `json:"credibility"`
	Reasoning       string `json:"reasoning"`
}

// Scorer computes ContentQualityResults.
type Scorer struct {
	agent llm.Agent // nil when AI scoring is disabled
	log   zerolog.Logger
}

// NewScorer creates a scorer. AI scoring is used only when enabled and a
// provider is given.
func NewScorer(provider llm.Provider, aiEnabled bool, log zerolog.Logger) *Scorer {
	s := &Scorer{log: log.With().Str("component", "quality").Logger()}
	if aiEnabled && provider != nil {
		s.agent = provider.CreateAgent(qualitySchema, qualitySystemPrompt)
	}
	return s
}

// Score assesses the article. AI failures fall back to neutral sub-scores.
func (s *Scorer) Score(ctx context.Context, article core.Article) core.ContentQualityResult {
	breakdown := core.QualityBreakdown{
		HasAuthor:      strings.TrimSpace(article.Author) != "",
		HasPublishDate: article.PublishedAt != nil,
		HasTags:        len(article.Tags) > 0,
		ContentLength:  len([]rune(article.Content)),
	}
	meta := MetadataScore(breakdown)

	if s.agent == nil {
		return core.ContentQualityResult{
			MetadataScore: meta,
			QualityScore:  textutil.Clamp(meta*2, 0, 100),
			Breakdown:     breakdown,
		}
	}

	breakdown.AIScoringEnabled = true
	degraded := false
	var a assessment
	if err := s.agent.Run(ctx, qualityPrompt(article), &a); err != nil {
		degraded = true
		s.log.Warn().Err(err).Str("url", article.URL).Msg("AI quality scoring failed, using neutral scores")
		a = assessment{
			WritingQuality:  fallbackWriting,
			Informativeness: fallbackInformativeness,
			Credibility:     fallbackCredibility,
			Reasoning:       fmt.Sprintf("AI scoring unavailable: %v", err),
		}
	}
	breakdown.WritingQuality = textutil.Clamp(a.WritingQuality, 0, 20)
	breakdown.Informativeness = textutil.Clamp(a.Informativeness, 0, 20)
	breakdown.Credibility = textutil.Clamp(a.Credibility, 0, 10)
	breakdown.AIReasoning = a.Reasoning

	ai := breakdown.WritingQuality + breakdown.Informativeness + breakdown.Credibility
	return core.ContentQualityResult{
		MetadataScore:  meta,
		AIContentScore: ai,
		QualityScore:   textutil.Clamp(meta+ai, 0, 100),
		Breakdown:      breakdown,
		Degraded:       degraded,
	}
}

// Annotate returns a copy of article with res stored in its metadata.
func Annotate(article core.Article, res core.ContentQualityResult) core.Article {
	out := article.Clone()
	out.Metadata[core.MetaQualityScore] = res.QualityScore
	out.Metadata[core.MetaQualityBreakdown] = res.Breakdown
	return out
}

// MetadataScore returns the 0-50 score derived from article metadata.
func MetadataScore(b core.QualityBreakdown) int {
	score := 0
	if b.HasAuthor {
		score += authorPoints
	}
	if b.HasPublishDate {
		score += datePoints
	}
	if b.HasTags {
		score += tagPoints
	}
	if b.ContentLength > 500 {
		score += longContentBonus
	}
	if b.ContentLength > 1000 {
		score += extraLongBonus
	}
	return score
}

func qualityPrompt(a core.Article) string {
	return fmt.Sprintf("Title: %s\nAuthor: %s\nTags: %s\n\n%s",
		a.Title, a.Author, strings.Join(a.Tags, ", "),
		textutil.TruncateAtWord(a.Content, maxPromptChars, "..."))
}
