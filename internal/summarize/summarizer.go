// Package summarize writes per-article summaries in the reader's chosen
// style, optionally shaped by a vetted custom instruction.
package summarize

import (
	"context"
	"strings"

	"github.com/rs/zerolog"

	"periscope/internal/core"
	"periscope/internal/llm"
	"periscope/internal/textutil"
)

const (
	// MinContentLength is the shortest content sent to the model.
	MinContentLength = 100
	// ExcerptLength bounds fallback excerpts.
	ExcerptLength = 200

	maxPromptChars = 8000
)

var summarySchema = llm.Object(map[string]*llm.Schema{
	"summary": llm.String("the summary text"),
})

type summaryOutput struct {
	Summary string `json:"summary"`
}

// Options configures a Summarizer.
type Options struct {
	DefaultStyle core.SummaryStyle
	// CustomPrompts enables user instructions. When false they are ignored.
	CustomPrompts bool
	// SafetyJudge runs the AI judge on custom instructions.
	SafetyJudge    bool
	JudgeThreshold float64
	Logger         zerolog.Logger
}

// Summarizer creates styled summarization sessions.
type Summarizer struct {
	provider      llm.Provider
	guard         *PromptGuard
	defaultStyle  core.SummaryStyle
	customPrompts bool
	log           zerolog.Logger
}

// New creates a Summarizer. provider may be nil, in which case every
// summary is an excerpt.
func New(provider llm.Provider, opts Options) *Summarizer {
	if !opts.DefaultStyle.Valid() {
		opts.DefaultStyle = core.SummaryStyleBrief
	}
	log := opts.Logger.With().Str("component", "summarizer").Logger()
	var judge llm.Provider
	if opts.SafetyJudge {
		judge = provider
	}
	return &Summarizer{
		provider:      provider,
		guard:         NewPromptGuard(judge, opts.JudgeThreshold, opts.Logger),
		defaultStyle:  opts.DefaultStyle,
		customPrompts: opts.CustomPrompts,
		log:           log,
	}
}

// Session summarizes articles with one fixed system prompt.
type Session struct {
	agent          llm.Agent
	system         string
	customAccepted bool
	guardReason    string
	log            zerolog.Logger
}

// NewSession vets the custom prompt once and prepares a session for style.
// An empty style uses the default.
func (s *Summarizer) NewSession(ctx context.Context, style core.SummaryStyle, customPrompt string) *Session {
	if !style.Valid() {
		style = s.defaultStyle
	}

	var custom, reason string
	if s.customPrompts && strings.TrimSpace(customPrompt) != "" {
		res := s.guard.Evaluate(ctx, customPrompt)
		reason = res.Reason
		if res.Accepted {
			custom = res.Prompt
		}
	}

	system := SystemPrompt(style, custom)
	sess := &Session{
		system:         system,
		customAccepted: custom != "",
		guardReason:    reason,
		log:            s.log,
	}
	if s.provider != nil {
		sess.agent = s.provider.CreateAgent(summarySchema, system)
	}
	return sess
}

// SystemPrompt returns the instructions the session sends to the model.
func (s *Session) SystemPrompt() string { return s.system }

// CustomPromptAccepted reports whether the user's instruction is in use.
func (s *Session) CustomPromptAccepted() bool { return s.customAccepted }

// GuardReason explains the custom prompt decision, empty when none was given.
func (s *Session) GuardReason() string { return s.guardReason }

// Summarize returns a summary of article. It never returns an empty string
// for an article with a title or content. degraded reports that the model
// failed and the excerpt was used in its place.
func (s *Session) Summarize(ctx context.Context, article core.Article) (summary string, degraded bool) {
	content := strings.TrimSpace(article.Content)
	if len([]rune(content)) < MinContentLength || s.agent == nil {
		return excerpt(article), false
	}

	var out summaryOutput
	if err := s.agent.Run(ctx, articlePrompt(article), &out); err != nil {
		s.log.Warn().Err(err).Str("url", article.URL).Msg("summarization failed, using excerpt")
		return excerpt(article), true
	}
	summary = strings.TrimSpace(out.Summary)
	if summary == "" {
		return excerpt(article), false
	}
	return summary, false
}

func excerpt(a core.Article) string {
	if e := textutil.Excerpt(a.Content, ExcerptLength); e != "" {
		return e
	}
	return textutil.CollapseWhitespace(a.Title)
}
