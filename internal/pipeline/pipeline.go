// Package pipeline orchestrates a digest run for one user: fetch, validate,
// normalize, score, extract topics, filter by relevance, summarize, group,
// render and deliver. Every stage runs as a workflow activity so a repeated
// run resumes from checkpoints and does not repeat AI work.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"periscope/internal/cache"
	"periscope/internal/core"
	"periscope/internal/delivery"
	"periscope/internal/workflow"
)

// Stage names.
const (
	StageFetch     = "fetch"
	StageValidate  = "validate"
	StageNormalize = "normalize"
	StageQuality   = "quality"
	StageTopics    = "topics"
	StageRelevance = "relevance"
	StageSummarize = "summarize"
	StageSimilar   = "similarity"
	StageAssemble  = "assemble"
	StageDeliver   = "deliver"
	StageStatus    = "record_status"
)

// Policies assigns a retry tier to each kind of stage.
type Policies struct {
	Fast     workflow.Policy
	Medium   workflow.Policy
	Long     workflow.Policy
	Delivery workflow.Policy
}

// DefaultPolicies returns the standard tiers.
func DefaultPolicies() Policies {
	return Policies{
		Fast:     workflow.Fast,
		Medium:   workflow.Medium,
		Long:     workflow.Long,
		Delivery: workflow.Delivery,
	}
}

// Config holds orchestration settings.
type Config struct {
	FetchConcurrency int
	BatchConcurrency int
	// ResultTTL bounds per-article cached AI results.
	ResultTTL time.Duration
	StatusTTL time.Duration
	Policies  Policies
}

// DefaultConfig returns sensible default configuration
func DefaultConfig() Config {
	return Config{
		FetchConcurrency: 8,
		BatchConcurrency: 4,
		ResultTTL:        24 * time.Hour,
		StatusTTL:        7 * 24 * time.Hour,
		Policies:         DefaultPolicies(),
	}
}

// Components are the collaborators of a Pipeline. Cache and Meter are
// optional; everything else is required.
type Components struct {
	Sources    SourceResolver
	Validator  ContentValidator
	Normalizer ArticleNormalizer
	Quality    QualityScorer
	Topics     TopicExtractor
	Relevance  RelevanceScorer
	Summaries  SessionFactory
	Similarity SimilarityDetector
	Assembler  DigestAssembler
	Sender     delivery.Sender
	Cache      cache.Cache
	Engine     *workflow.Engine
	Meter      AIMeter
	Logger     zerolog.Logger
}

// Pipeline orchestrates the end-to-end digest generation workflow
type Pipeline struct {
	sources    SourceResolver
	validator  ContentValidator
	normalizer ArticleNormalizer
	quality    QualityScorer
	topics     TopicExtractor
	relevance  RelevanceScorer
	summaries  SessionFactory
	similarity SimilarityDetector
	assembler  DigestAssembler
	sender     delivery.Sender
	cache      cache.Cache
	engine     *workflow.Engine
	meter      AIMeter

	config Config
	log    zerolog.Logger
	now    func() time.Time
}

// New creates a pipeline. Zero config values fall back to defaults.
func New(c Components, cfg Config) (*Pipeline, error) {
	required := []struct {
		name    string
		missing bool
	}{
		{"sources", c.Sources == nil},
		{"validator", c.Validator == nil},
		{"normalizer", c.Normalizer == nil},
		{"quality", c.Quality == nil},
		{"topics", c.Topics == nil},
		{"relevance", c.Relevance == nil},
		{"summaries", c.Summaries == nil},
		{"similarity", c.Similarity == nil},
		{"assembler", c.Assembler == nil},
		{"sender", c.Sender == nil},
	}
	for _, r := range required {
		if r.missing {
			return nil, core.NonRetryable(core.KindConfiguration, "build pipeline",
				fmt.Errorf("%s component is required", r.name))
		}
	}

	def := DefaultConfig()
	if cfg.FetchConcurrency <= 0 {
		cfg.FetchConcurrency = def.FetchConcurrency
	}
	if cfg.BatchConcurrency <= 0 {
		cfg.BatchConcurrency = def.BatchConcurrency
	}
	if cfg.ResultTTL <= 0 {
		cfg.ResultTTL = def.ResultTTL
	}
	if cfg.StatusTTL <= 0 {
		cfg.StatusTTL = def.StatusTTL
	}
	if cfg.Policies == (Policies{}) {
		cfg.Policies = def.Policies
	}

	engine := c.Engine
	if engine == nil {
		engine = workflow.NewEngine(c.Cache, workflow.Options{Logger: c.Logger})
	}

	return &Pipeline{
		sources:    c.Sources,
		validator:  c.Validator,
		normalizer: c.Normalizer,
		quality:    c.Quality,
		topics:     c.Topics,
		relevance:  c.Relevance,
		summaries:  c.Summaries,
		similarity: c.Similarity,
		assembler:  c.Assembler,
		sender:     c.Sender,
		cache:      c.Cache,
		engine:     engine,
		meter:      c.Meter,
		config:     cfg,
		log:        c.Logger.With().Str("component", "pipeline").Logger(),
		now:        time.Now,
	}, nil
}

// RunOptions configures one run.
type RunOptions struct {
	// RunID identifies the run; reusing an ID resumes its checkpoints.
	// A new UUID is generated when empty.
	RunID string
	// DryRun executes every stage except delivery.
	DryRun bool
}

// Run executes the digest workflow for user. On failure the returned error
// is a *RunError and the summary holds the partial metrics.
func (p *Pipeline) Run(ctx context.Context, user core.DigestUserConfig, opts RunOptions) (*RunSummary, error) {
	runID := opts.RunID
	if runID == "" {
		runID = uuid.NewString()
	}
	summary := newRunSummary(runID, user.UserID, opts.DryRun, p.now().UTC())
	log := p.log.With().Str("run_id", runID).Str("user_id", user.UserID).Logger()

	fail := func(stage string, err error) (*RunSummary, error) {
		summary.End = p.now().UTC()
		summary.addError("%s: %v", stage, err)
		summary.TotalErrors++
		log.Error().Err(err).Str("stage", stage).Msg("run failed")
		return summary, &RunError{Stage: stage, Summary: summary, Err: err}
	}

	if err := user.Validate(); err != nil {
		return fail("config", err)
	}
	log.Info().Int("sources", len(user.ActiveSources())).Bool("dry_run", opts.DryRun).Msg("run started")

	articles, err := p.fetchSources(ctx, runID, user.ActiveSources(), summary)
	if err != nil {
		return fail(StageFetch, err)
	}
	summary.ArticlesFetched = len(articles)

	if articles, err = p.validateArticles(ctx, articles, summary); err != nil {
		return fail(StageValidate, err)
	}
	if articles, err = p.normalizeArticles(ctx, articles, summary); err != nil {
		return fail(StageNormalize, err)
	}
	if articles, err = p.scoreQuality(ctx, articles, summary); err != nil {
		return fail(StageQuality, err)
	}
	if articles, err = p.extractTopics(ctx, articles, summary); err != nil {
		return fail(StageTopics, err)
	}
	summary.ArticlesProcessed = len(articles)

	scores, err := p.scoreRelevance(ctx, articles, user.InterestProfile, summary)
	if err != nil {
		return fail(StageRelevance, err)
	}
	relevant := passing(articles, scores)
	summary.ArticlesRelevant = len(relevant)

	if relevant, err = p.summarizeArticles(ctx, relevant, user, summary); err != nil {
		return fail(StageSummarize, err)
	}

	groups, err := p.groupSimilar(ctx, relevant, summary)
	if err != nil {
		return fail(StageSimilar, err)
	}

	payload, err := p.assemble(ctx, runID, user, groups, scores, summary)
	if err != nil {
		return fail(StageAssemble, err)
	}
	summary.Groups = len(payload.ArticleGroups)
	summary.Subject = payload.Subject

	status := delivery.Status{
		RunID:   runID,
		UserID:  user.UserID,
		Email:   user.Email,
		Subject: payload.Subject,
		DryRun:  opts.DryRun,
		Groups:  len(payload.ArticleGroups),
	}
	var deliverErr error
	switch {
	case opts.DryRun:
		status.Note = "dry run"
	case len(payload.ArticleGroups) == 0:
		status.Note = "no relevant articles"
		log.Info().Msg("nothing to deliver")
	default:
		sent, err := p.deliver(ctx, runID, user, payload, summary)
		status.Sent = sent
		summary.DigestSent = sent
		if err != nil {
			status.Error = err.Error()
			deliverErr = err
		}
	}
	status.At = p.now().UTC()
	p.recordStatus(ctx, status, summary)

	if deliverErr != nil {
		return fail(StageDeliver, deliverErr)
	}

	summary.End = p.now().UTC()
	log.Info().
		Int("fetched", summary.ArticlesFetched).
		Int("processed", summary.ArticlesProcessed).
		Int("relevant", summary.ArticlesRelevant).
		Int("groups", summary.Groups).
		Bool("sent", summary.DigestSent).
		Int64("ai_calls", summary.TotalAICalls).
		Int("errors", summary.TotalErrors).
		Msg("run completed")
	return summary, nil
}

func passing(articles []core.Article, scores map[string]core.RelevanceResult) []core.Article {
	out := make([]core.Article, 0, len(articles))
	for _, a := range articles {
		if r, ok := scores[a.URL]; ok && r.PassesThreshold {
			out = append(out, a)
		}
	}
	return out
}

// IsFatal reports whether err aborted a run without further retries.
func IsFatal(err error) bool {
	var re *RunError
	if !errors.As(err, &re) {
		return false
	}
	return !core.IsRetryable(re.Err)
}
