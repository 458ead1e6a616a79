// Package validation decides whether an article's content is worth
// processing: non-empty, long enough and not spam.
package validation

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"periscope/internal/core"
	"periscope/internal/llm"
	"periscope/internal/textutil"
)

// DefaultMinLength is the minimum content length in characters.
const DefaultMinLength = 100

// maxPromptChars bounds the content sent to the spam classifier.
const maxPromptChars = 4000

const spamSystemPrompt = `You are a content moderation assistant for a news digest.
Decide whether the article below is spam: advertising disguised as news,
clickbait with no substance, SEO filler, scams or auto-generated junk.
Legitimate opinion pieces, announcements and short news items are not spam.
Respond with is_spam, a confidence between 0 and 1 and a short reasoning.`

// Options configures a Validator.
type Options struct {
	MinLength     int
	SpamDetection bool
	Logger        zerolog.Logger
}

// Validator runs the content checks in order and stops at the first failure.
type Validator struct {
	minLength     int
	spamDetection bool
	agent         llm.Agent
	log           zerolog.Logger
}

type spamVerdict struct {
	IsSpam     bool    `json:"is_spam"`
	Confidence float64 `json:"confidence"`
	Reasoning  string  `json:"reasoning"`
}

var spamSchema = llm.Object(map[string]*llm.Schema{
	"is_spam":    llm.Bool("true when the content is spam"),
	"confidence": llm.Number("confidence in the verdict", 0, 1),
	"reasoning":  llm.String("one sentence explaining the verdict"),
})

// New creates a Validator. provider may be nil when spam detection is off.
func New(provider llm.Provider, opts Options) *Validator {
	if opts.MinLength <= 0 {
		opts.MinLength = DefaultMinLength
	}
	v := &Validator{
		minLength:     opts.MinLength,
		spamDetection: opts.SpamDetection && provider != nil,
		log:           opts.Logger.With().Str("component", "validator").Logger(),
	}
	if v.spamDetection {
		v.agent = provider.CreateAgent(spamSchema, spamSystemPrompt)
	}
	return v
}

// Validate checks the article. It never returns an error: classifier
// failures are reported as "not spam" with zero confidence.
func (v *Validator) Validate(ctx context.Context, article core.Article) core.ValidationResult {
	content := strings.TrimSpace(article.Content)
	if content == "" {
		return core.ValidationResult{IsEmpty: true, Confidence: 1, Message: "content is empty"}
	}

	if n := len([]rune(content)); n < v.minLength {
		return core.ValidationResult{
			IsTooShort: true,
			Confidence: 1,
			Message:    fmt.Sprintf("content too short: %d < %d characters", n, v.minLength),
		}
	}

	if !v.spamDetection {
		return core.ValidationResult{Confidence: 1, Message: "content is valid"}
	}

	var verdict spamVerdict
	if err := v.agent.Run(ctx, spamPrompt(article), &verdict); err != nil {
		v.log.Warn().Err(err).Str("url", article.URL).Msg("spam detection failed, assuming not spam")
		return core.ValidationResult{Confidence: 0, Message: fmt.Sprintf("spam detection failed: %v", err), Degraded: true}
	}

	confidence := textutil.Clamp(verdict.Confidence, 0, 1)
	if verdict.IsSpam {
		return core.ValidationResult{
			IsSpam:     true,
			Confidence: confidence,
			Message:    "spam detected: " + verdict.Reasoning,
		}
	}
	return core.ValidationResult{Confidence: confidence, Message: "content is valid"}
}

func spamPrompt(a core.Article) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Title: %s\n", a.Title)
	if a.Author != "" {
		fmt.Fprintf(&b, "Author: %s\n", a.Author)
	}
	fmt.Fprintf(&b, "URL: %s\n\n", a.URL)
	b.WriteString(textutil.TruncateAtWord(a.Content, maxPromptChars, "..."))
	return b.String()
}
