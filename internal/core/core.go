package core

import (
	"fmt"
	"maps"
	"slices"
	"time"
)

// SourceType identifies the syndication format of a content source.
type SourceType string

const (
	// SourceTypeRSS covers RSS, Atom and JSON feeds.
	SourceTypeRSS SourceType = "rss"
)

// SummaryStyle selects the length and format of generated summaries.
type SummaryStyle string

const (
	SummaryStyleBrief        SummaryStyle = "brief"
	SummaryStyleDetailed     SummaryStyle = "detailed"
	SummaryStyleBulletPoints SummaryStyle = "bullet_points"
)

// Valid reports whether the style is one of the supported styles.
func (s SummaryStyle) Valid() bool {
	switch s {
	case SummaryStyleBrief, SummaryStyleDetailed, SummaryStyleBulletPoints:
		return true
	}
	return false
}

// Metadata keys written by pipeline stages.
const (
	MetaQualityScore     = "quality_score"
	MetaQualityBreakdown = "quality_breakdown"
	MetaSourceURL        = "source_url"
	MetaDateInferred     = "published_at_inferred"
)

// Article is a single piece of content flowing through the pipeline.
// Stages treat it as a value: use Clone before changing any field.
type Article struct {
	Title          string         `json:"title"`                  // Article headline
	URL            string         `json:"url"`                    // Canonical URL after normalization
	Content        string         `json:"content"`                // Plain-text body
	Summary        string         `json:"summary,omitempty"`      // Generated summary
	PublishedAt    *time.Time     `json:"published_at,omitempty"` // Publish time, UTC after normalization
	Author         string         `json:"author,omitempty"`       // Byline
	Tags           []string       `json:"tags"`                   // Feed categories
	AITopics       []string       `json:"ai_topics"`              // Topics produced by the topic extractor
	Metadata       map[string]any `json:"metadata"`               // Stage annotations (quality score etc.)
	FetchTimestamp time.Time      `json:"fetch_timestamp"`        // When the source was fetched
}

// Clone returns a deep copy of the article.
func (a Article) Clone() Article {
	c := a
	if a.PublishedAt != nil {
		t := *a.PublishedAt
		c.PublishedAt = &t
	}
	c.Tags = slices.Clone(a.Tags)
	c.AITopics = slices.Clone(a.AITopics)
	c.Metadata = maps.Clone(a.Metadata)
	if c.Metadata == nil {
		c.Metadata = map[string]any{}
	}
	return c
}

// WithSummary returns a copy carrying the given summary.
func (a Article) WithSummary(summary string) Article {
	c := a.Clone()
	c.Summary = summary
	return c
}

// WithTopics returns a copy carrying the given AI topics.
func (a Article) WithTopics(topics []string) Article {
	c := a.Clone()
	c.AITopics = slices.Clone(topics)
	return c
}

// WithMetadata returns a copy with one metadata key set.
func (a Article) WithMetadata(key string, value any) Article {
	c := a.Clone()
	c.Metadata[key] = value
	return c
}

// QualityScore reads the quality score stored by the quality stage.
// The second result is false when the article has not been scored.
func (a Article) QualityScore() (int, bool) {
	switch v := a.Metadata[MetaQualityScore].(type) {
	case int:
		return v, true
	case float64:
		return int(v), true
	}
	return 0, false
}

// SourceInfo describes a feed.
type SourceInfo struct {
	URL         string     `json:"url"`
	Type        SourceType `json:"type"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
}

// FetchResult is the outcome of fetching one source.
type FetchResult struct {
	SourceInfo   SourceInfo `json:"source_info"`
	Articles     []Article  `json:"articles"`
	Success      bool       `json:"success"`
	ErrorMessage string     `json:"error_message,omitempty"`
}

// ValidationResult is the outcome of content validation.
type ValidationResult struct {
	IsEmpty    bool    `json:"is_empty"`
	IsTooShort bool    `json:"is_too_short"`
	IsSpam     bool    `json:"is_spam"`
	Confidence float64 `json:"confidence"`
	Message    string  `json:"message"`
	Degraded   bool    `json:"degraded,omitempty"` // spam check fell back after an AI failure
}

// IsValid reports whether none of the rejection flags is set.
func (v ValidationResult) IsValid() bool {
	return !v.IsEmpty && !v.IsTooShort && !v.IsSpam
}

// QualityBreakdown holds the individual quality components.
type QualityBreakdown struct {
	HasAuthor        bool   `json:"has_author"`
	HasPublishDate   bool   `json:"has_publish_date"`
	HasTags          bool   `json:"has_tags"`
	ContentLength    int    `json:"content_length"`
	WritingQuality   int    `json:"writing_quality"`  // 0-20
	Informativeness  int    `json:"informativeness"`  // 0-20
	Credibility      int    `json:"credibility"`      // 0-10
	AIReasoning      string `json:"ai_reasoning,omitempty"`
	AIScoringEnabled bool   `json:"ai_scoring_enabled"`
}

// ContentQualityResult is the combined quality assessment of an article.
type ContentQualityResult struct {
	MetadataScore  int              `json:"metadata_score"`   // 0-50
	AIContentScore int              `json:"ai_content_score"` // 0-50
	QualityScore   int              `json:"quality_score"`    // 0-100
	Breakdown      QualityBreakdown `json:"quality_breakdown"`
	Degraded       bool             `json:"degraded,omitempty"` // neutral AI sub-scores after a failure
}

// RelevanceResult is the relevance of one article to one interest profile.
type RelevanceResult struct {
	KeywordScore    int      `json:"keyword_score"`  // 0-60
	SemanticScore   float64  `json:"semantic_score"` // 0.0-30.0
	TemporalBoost   int      `json:"temporal_boost"` // 0-5
	QualityBoost    int      `json:"quality_boost"`  // 0-5
	FinalScore      int      `json:"final_score"`    // 0-100
	MatchedKeywords []string `json:"matched_keywords"`
	PassesThreshold bool     `json:"passes_threshold"`
	Reasoning       string   `json:"reasoning,omitempty"`
	Degraded        bool     `json:"degraded,omitempty"` // semantic score fell back to 0 after a failure
}

// InterestProfile is a user's keyword interests.
type InterestProfile struct {
	Keywords           []string `json:"keywords" yaml:"keywords"`
	RelevanceThreshold int      `json:"relevance_threshold" yaml:"relevance_threshold"`
	BoostFactor        float64  `json:"boost_factor" yaml:"boost_factor"`
}

// Validate checks the profile bounds.
func (p InterestProfile) Validate() error {
	if p.RelevanceThreshold < 0 || p.RelevanceThreshold > 100 {
		return NonRetryable(KindValidation, "interest profile",
			fmt.Errorf("relevance threshold %d out of range [0,100]", p.RelevanceThreshold))
	}
	if p.BoostFactor < 0.5 || p.BoostFactor > 2.0 {
		return NonRetryable(KindValidation, "interest profile",
			fmt.Errorf("boost factor %.2f out of range [0.5,2.0]", p.BoostFactor))
	}
	return nil
}

// ArticleGroup is a set of articles covering the same story.
type ArticleGroup struct {
	PrimaryArticle  Article   `json:"primary_article"`
	SimilarArticles []Article `json:"similar_articles"`
	CommonTopics    []string  `json:"common_topics"`
	GroupID         string    `json:"group_id"`
	CreatedAt       time.Time `json:"created_at"`
}

// Size returns the number of articles in the group.
func (g ArticleGroup) Size() int {
	return 1 + len(g.SimilarArticles)
}

// DigestPayload is the rendered digest handed to delivery.
type DigestPayload struct {
	UserID              string         `json:"user_id"`
	UserEmail           string         `json:"user_email"`
	Subject             string         `json:"subject"`
	ArticleGroups       []ArticleGroup `json:"article_groups"`
	HTMLBody            string         `json:"html_body"`
	TextBody            string         `json:"text_body"`
	GenerationTimestamp time.Time      `json:"generation_timestamp"`
	Metadata            map[string]any `json:"metadata"`
}

// ContentSourceConfig is one configured feed of a user.
type ContentSourceConfig struct {
	URL    string     `json:"url" yaml:"url"`
	Name   string     `json:"name" yaml:"name"`
	Type   SourceType `json:"type" yaml:"type"`
	Active bool       `json:"active" yaml:"active"`
}

// DigestUserConfig is the read-only per-run configuration of a user.
type DigestUserConfig struct {
	UserID          string                `json:"user_id" yaml:"user_id"`
	Email           string                `json:"email" yaml:"email"`
	Timezone        string                `json:"timezone" yaml:"timezone"`
	DeliveryTime    string                `json:"delivery_time" yaml:"delivery_time"`
	SummaryStyle    SummaryStyle          `json:"summary_style" yaml:"summary_style"`
	CustomPrompt    string                `json:"custom_prompt,omitempty" yaml:"custom_prompt"`
	Sources         []ContentSourceConfig `json:"sources" yaml:"sources"`
	InterestProfile InterestProfile       `json:"interest_profile" yaml:"interest_profile"`
}

// ActiveSources returns the sources flagged active.
func (c DigestUserConfig) ActiveSources() []ContentSourceConfig {
	var out []ContentSourceConfig
	for _, s := range c.Sources {
		if s.Active {
			out = append(out, s)
		}
	}
	return out
}

// Location resolves the user's timezone, falling back to UTC.
func (c DigestUserConfig) Location() *time.Location {
	if c.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Validate checks the fields the pipeline depends on.
func (c DigestUserConfig) Validate() error {
	if c.UserID == "" {
		return NonRetryable(KindConfiguration, "user config", fmt.Errorf("user id is required"))
	}
	if c.Email == "" {
		return NonRetryable(KindConfiguration, "user config", fmt.Errorf("email is required for user %s", c.UserID))
	}
	if c.SummaryStyle != "" && !c.SummaryStyle.Valid() {
		return NonRetryable(KindConfiguration, "user config", fmt.Errorf("unknown summary style %q", c.SummaryStyle))
	}
	return c.InterestProfile.Validate()
}
