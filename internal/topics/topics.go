// Package topics extracts short topic phrases from article content.
package topics

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"periscope/internal/core"
	"periscope/internal/llm"
	"periscope/internal/textutil"
)

const (
	// DefaultMaxTopics is the number of topics kept per article.
	DefaultMaxTopics = 5
	// MinContentLength is the shortest content worth an extraction call.
	MinContentLength = 50

	maxPromptChars = 6000
	maxTopicChars  = 60
)

var topicSchema = llm.Object(map[string]*llm.Schema{
	"topics": llm.StringList("short topic phrases, most important first"),
})

type extraction struct {
	Topics []string `json:"topics"`
}

// Extractor asks the model for the main topics of an article.
type Extractor struct {
	agent     llm.Agent
	maxTopics int
	log       zerolog.Logger
}

// NewExtractor creates an Extractor returning at most maxTopics topics.
func NewExtractor(provider llm.Provider, maxTopics int, log zerolog.Logger) *Extractor {
	if maxTopics <= 0 {
		maxTopics = DefaultMaxTopics
	}
	system := fmt.Sprintf(`You tag articles for a news digest.
Return up to %d short topic phrases (one to three words each) that describe
what the article is about. Prefer specific technologies, companies, people
and events over generic words like "news" or "technology".`, maxTopics)

	e := &Extractor{maxTopics: maxTopics, log: log.With().Str("component", "topics").Logger()}
	if provider != nil {
		e.agent = provider.CreateAgent(topicSchema, system)
	}
	return e
}

// Extract returns the article's topics. Short content and model failures
// yield an empty list.
func (e *Extractor) Extract(ctx context.Context, article core.Article) (topics []string, degraded bool) {
	if e.agent == nil || len([]rune(strings.TrimSpace(article.Content))) < MinContentLength {
		return []string{}, false
	}

	prompt := fmt.Sprintf("Title: %s\n\n%s", article.Title,
		textutil.TruncateAtWord(article.Content, maxPromptChars, "..."))

	var out extraction
	if err := e.agent.Run(ctx, prompt, &out); err != nil {
		e.log.Warn().Err(err).Str("url", article.URL).Msg("topic extraction failed")
		return []string{}, true
	}
	return clean(out.Topics, e.maxTopics), false
}

// clean trims, drops empties, dedupes case-insensitively and caps the list.
func clean(raw []string, limit int) []string {
	out := make([]string, 0, min(len(raw), limit))
	seen := make(map[string]bool, len(raw))
	for _, t := range raw {
		t = textutil.CollapseWhitespace(t)
		t = strings.Trim(t, `"'.,;:`)
		if t == "" {
			continue
		}
		t = textutil.TruncateAtWord(t, maxTopicChars, "")
		key := strings.ToLower(t)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, t)
		if len(out) == limit {
			break
		}
	}
	return out
}
