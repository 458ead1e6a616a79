// Package render assembles the digest: it selects and orders article groups
// by relevance and renders the HTML and plain-text bodies.
package render

import (
	"bytes"
	"embed"
	htmltemplate "html/template"
	"slices"
	"strings"
	texttemplate "text/template"
	"time"

	"github.com/rs/zerolog"

	"periscope/internal/core"
	"periscope/internal/textutil"
)

//go:embed templates/*.tmpl
var templateFS embed.FS

const (
	htmlTemplateName = "digest.html.tmpl"
	textTemplateName = "digest.txt.tmpl"

	dateLayout     = "January 2, 2006"
	summaryExcerpt = 300
)

// SubjectPrefix starts every digest subject.
const SubjectPrefix = "Your Periscope Digest – "

// Options configures an Assembler.
type Options struct {
	// MaxGroups caps the groups in a digest; 0 means unlimited.
	MaxGroups int
	Theme     Theme
	// HTMLTemplate and TextTemplate override the embedded templates.
	HTMLTemplate string
	TextTemplate string
	Logger       zerolog.Logger
	Now          func() time.Time
}

// Assembler builds DigestPayloads.
type Assembler struct {
	html      *htmltemplate.Template
	text      *texttemplate.Template
	css       htmltemplate.CSS
	maxGroups int
	log       zerolog.Logger
	now       func() time.Time
}

var funcs = map[string]any{
	"join":   strings.Join,
	"repeat": strings.Repeat,
	"indent": indent,
}

// New parses the templates. Parse failures are render errors.
func New(opts Options) (*Assembler, error) {
	htmlSrc, textSrc := opts.HTMLTemplate, opts.TextTemplate
	if htmlSrc == "" {
		b, err := templateFS.ReadFile("templates/" + htmlTemplateName)
		if err != nil {
			return nil, core.NonRetryable(core.KindRender, "load html template", err)
		}
		htmlSrc = string(b)
	}
	if textSrc == "" {
		b, err := templateFS.ReadFile("templates/" + textTemplateName)
		if err != nil {
			return nil, core.NonRetryable(core.KindRender, "load text template", err)
		}
		textSrc = string(b)
	}

	h, err := htmltemplate.New(htmlTemplateName).Funcs(funcs).Parse(htmlSrc)
	if err != nil {
		return nil, core.NonRetryable(core.KindRender, "parse html template", err)
	}
	t, err := texttemplate.New(textTemplateName).Funcs(funcs).Parse(textSrc)
	if err != nil {
		return nil, core.NonRetryable(core.KindRender, "parse text template", err)
	}

	if opts.Theme == (Theme{}) {
		opts.Theme = DefaultTheme()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Assembler{
		html:      h,
		text:      t,
		css:       opts.Theme.CSS(),
		maxGroups: opts.MaxGroups,
		log:       opts.Logger.With().Str("component", "assembler").Logger(),
		now:       opts.Now,
	}, nil
}

// ScoredGroup is a group selected for the digest with its relevance.
type ScoredGroup struct {
	Group     core.ArticleGroup
	Relevance core.RelevanceResult
	Score     int
}

// Select keeps groups whose primary article passes its relevance threshold,
// or has no relevance result, and orders them by score, highest first.
// Ties keep their input order.
func Select(groups []core.ArticleGroup, relevance map[string]core.RelevanceResult) []ScoredGroup {
	out := make([]ScoredGroup, 0, len(groups))
	for _, g := range groups {
		r, ok := relevance[g.PrimaryArticle.URL]
		switch {
		case !ok:
			out = append(out, ScoredGroup{Group: g})
		case r.PassesThreshold:
			out = append(out, ScoredGroup{Group: g, Relevance: r, Score: r.FinalScore})
		}
	}
	slices.SortStableFunc(out, func(a, b ScoredGroup) int { return b.Score - a.Score })
	return out
}

// Subject formats the digest subject for a date in loc.
func Subject(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	return SubjectPrefix + t.In(loc).Format(dateLayout)
}

// Assemble selects, orders and renders groups for user. Any render failure
// is returned as a non-retryable error with no payload.
func (a *Assembler) Assemble(user core.DigestUserConfig, groups []core.ArticleGroup, relevance map[string]core.RelevanceResult) (core.DigestPayload, error) {
	start := time.Now()
	generated := a.now().UTC()
	loc := user.Location()

	selected := Select(groups, relevance)
	if a.maxGroups > 0 && len(selected) > a.maxGroups {
		selected = selected[:a.maxGroups]
	}

	view := digestView{
		Subject:   Subject(generated, loc),
		Date:      generated.In(loc).Format(dateLayout),
		Generated: generated.In(loc).Format("2006-01-02 15:04 MST"),
		UserEmail: user.Email,
		CSS:       a.css,
	}
	ordered := make([]core.ArticleGroup, 0, len(selected))
	for i, sg := range selected {
		view.Groups = append(view.Groups, newGroupView(i+1, sg, loc))
		view.ArticleCount += sg.Group.Size()
		ordered = append(ordered, sg.Group)
	}

	var html, text bytes.Buffer
	if err := a.html.Execute(&html, view); err != nil {
		return core.DigestPayload{}, core.NonRetryable(core.KindRender, "render html digest", err)
	}
	if err := a.text.Execute(&text, view); err != nil {
		return core.DigestPayload{}, core.NonRetryable(core.KindRender, "render text digest", err)
	}

	elapsed := time.Since(start)
	a.log.Debug().
		Int("groups", len(ordered)).
		Int("articles", view.ArticleCount).
		Dur("elapsed", elapsed).
		Msg("digest rendered")

	return core.DigestPayload{
		UserID:              user.UserID,
		UserEmail:           user.Email,
		Subject:             view.Subject,
		ArticleGroups:       ordered,
		HTMLBody:            html.String(),
		TextBody:            text.String(),
		GenerationTimestamp: generated,
		Metadata: map[string]any{
			"group_count":   len(ordered),
			"article_count": view.ArticleCount,
			"html_bytes":    html.Len(),
			"text_bytes":    text.Len(),
			"render_ms":     elapsed.Milliseconds(),
		},
	}, nil
}

type digestView struct {
	Subject      string
	Date         string
	Generated    string
	UserEmail    string
	CSS          htmltemplate.CSS
	ArticleCount int
	Groups       []groupView
}

type groupView struct {
	Rank    int
	Score   int
	Matched []string
	Topics  []string
	Primary articleView
	Similar []articleView
}

type articleView struct {
	Title     string
	URL       string
	Author    string
	Published string
	Summary   string
}

func newGroupView(rank int, sg ScoredGroup, loc *time.Location) groupView {
	g := groupView{
		Rank:    rank,
		Score:   sg.Score,
		Matched: sg.Relevance.MatchedKeywords,
		Topics:  sg.Group.CommonTopics,
		Primary: newArticleView(sg.Group.PrimaryArticle, loc),
	}
	for _, a := range sg.Group.SimilarArticles {
		g.Similar = append(g.Similar, newArticleView(a, loc))
	}
	return g
}

func newArticleView(a core.Article, loc *time.Location) articleView {
	v := articleView{
		Title:   a.Title,
		URL:     a.URL,
		Author:  a.Author,
		Summary: a.Summary,
	}
	if v.Summary == "" {
		v.Summary = textutil.Excerpt(a.Content, summaryExcerpt)
	}
	if a.PublishedAt != nil {
		v.Published = a.PublishedAt.In(loc).Format("Jan 2, 15:04")
	}
	return v
}

func indent(s, prefix string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	for i, l := range lines {
		lines[i] = prefix + strings.TrimSpace(l)
	}
	return strings.Join(lines, "\n")
}
