package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"periscope/internal/cache"
	"periscope/internal/clustering"
	"periscope/internal/config"
	"periscope/internal/core"
	"periscope/internal/delivery"
	"periscope/internal/httpclient"
	"periscope/internal/llm"
	"periscope/internal/normalize"
	"periscope/internal/quality"
	"periscope/internal/relevance"
	"periscope/internal/render"
	"periscope/internal/sources"
	"periscope/internal/summarize"
	"periscope/internal/topics"
	"periscope/internal/validation"
	"periscope/internal/workflow"
)

// Builder helps construct a fully configured Pipeline
type Builder struct {
	cfg      *config.Config
	provider llm.Provider
	cache    cache.Cache
	client   sources.TextFetcher
	sender   delivery.Sender
	log      zerolog.Logger
}

// NewBuilder creates a builder for cfg
func NewBuilder(cfg *config.Config) *Builder {
	return &Builder{cfg: cfg, log: zerolog.Nop()}
}

// WithProvider sets the model provider. Without one AI features are off.
func (b *Builder) WithProvider(p llm.Provider) *Builder {
	b.provider = p
	return b
}

// WithCache sets the result and checkpoint cache
func (b *Builder) WithCache(c cache.Cache) *Builder {
	b.cache = c
	return b
}

// WithHTTPClient overrides the feed transport
func (b *Builder) WithHTTPClient(c sources.TextFetcher) *Builder {
	b.client = c
	return b
}

// WithSender overrides the configured delivery method
func (b *Builder) WithSender(s delivery.Sender) *Builder {
	b.sender = s
	return b
}

// WithLogger sets the logger shared by all components
func (b *Builder) WithLogger(log zerolog.Logger) *Builder {
	b.log = log
	return b
}

// Build wires every component from the configuration
func (b *Builder) Build() (*Pipeline, error) {
	if b.cfg == nil {
		return nil, core.NonRetryable(core.KindConfiguration, "build pipeline", fmt.Errorf("configuration is required"))
	}
	cfg := b.cfg

	if b.cache == nil {
		b.cache = cache.NewMemory()
	}
	if b.client == nil {
		b.client = NewHTTPClient(cfg.Fetch, b.log)
	}
	if b.sender == nil {
		s, err := delivery.New(cfg.Delivery.Method, cfg.Delivery.OutputDir, b.log)
		if err != nil {
			return nil, err
		}
		b.sender = s
	}

	// Components treat a nil provider as "AI disabled".
	var ai llm.Provider
	var meter AIMeter
	if b.provider != nil && b.provider.Name() != llm.ProviderNone {
		m := llm.NewMetered(b.provider)
		ai, meter = m, m
	}

	assembler, err := render.New(render.Options{
		MaxGroups: cfg.Pipeline.MaxDigestGroups,
		Theme:     render.ThemeByName(cfg.Delivery.Theme),
		Logger:    b.log,
	})
	if err != nil {
		return nil, err
	}

	summarizer := summarize.New(ai, summarize.Options{
		DefaultStyle:   core.SummaryStyle(cfg.Summarizer.DefaultStyle),
		CustomPrompts:  cfg.Summarizer.CustomPrompts,
		SafetyJudge:    cfg.Summarizer.SafetyJudge,
		JudgeThreshold: cfg.Summarizer.SafetyJudgeThreshold,
		Logger:         b.log,
	})

	checkpointTTL := config.Duration(cfg.Cache.TTL.Checkpoints, workflow.DefaultCheckpointTTL)
	return New(Components{
		Sources: sources.DefaultRegistry(b.client, sources.RSSOptions{
			MaxArticles: cfg.Fetch.MaxArticles,
			Logger:      b.log,
		}),
		Validator: validation.New(ai, validation.Options{
			MinLength:     cfg.Pipeline.MinContentLength,
			SpamDetection: cfg.Pipeline.SpamDetection,
			Logger:        b.log,
		}),
		Normalizer: normalize.New(normalize.DefaultLimits(), b.log),
		Quality:    quality.NewScorer(ai, cfg.Pipeline.AIQualityScoring, b.log),
		Topics:     topics.NewExtractor(ai, cfg.Pipeline.MaxTopics, b.log),
		Relevance: relevance.NewScorer(ai, b.cache, relevance.Options{
			SemanticEnabled: cfg.Pipeline.SemanticScoring,
			CacheTTL:        config.Duration(cfg.Cache.TTL.Relevance, relevance.DefaultCacheTTL),
			Logger:          b.log,
		}),
		Summaries: func(ctx context.Context, style core.SummaryStyle, customPrompt string) SummarySession {
			return summarizer.NewSession(ctx, style, customPrompt)
		},
		Similarity: clustering.NewDetector(ai, b.cache, clustering.Options{
			Threshold:   cfg.Pipeline.SimilarityThreshold,
			Concurrency: cfg.Pipeline.BatchConcurrency,
			CacheTTL:    config.Duration(cfg.Cache.TTL.Similarity, clustering.DefaultCacheTTL),
			Logger:      b.log,
		}),
		Assembler: assembler,
		Sender:    b.sender,
		Cache:     b.cache,
		Engine:    workflow.NewEngine(b.cache, workflow.Options{CheckpointTTL: checkpointTTL, Logger: b.log}),
		Meter:     meter,
		Logger:    b.log,
	}, Config{
		FetchConcurrency: cfg.Pipeline.FetchConcurrency,
		BatchConcurrency: cfg.Pipeline.BatchConcurrency,
		ResultTTL:        config.Duration(cfg.Cache.TTL.Relevance, relevance.DefaultCacheTTL),
	})
}

// NewHTTPClient builds the feed transport from fetch settings.
func NewHTTPClient(cfg config.Fetch, log zerolog.Logger) *httpclient.Client {
	var limiter *rate.Limiter
	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}
	return httpclient.New(httpclient.Options{
		Timeout:    config.Duration(cfg.Timeout, httpclient.DefaultTimeout),
		MaxRetries: cfg.MaxRetries,
		RetryDelay: config.Duration(cfg.RetryDelay, httpclient.DefaultRetryDelay),
		UserAgent:  cfg.UserAgent,
		Limiter:    limiter,
		Logger:     &log,
	})
}

// NewProvider builds the configured model backend.
func NewProvider(ctx context.Context, cfg config.AI) (llm.Provider, error) {
	baseURL := ""
	if cfg.Provider == llm.ProviderOpenAI {
		baseURL = cfg.OpenAI.BaseURL
	}
	return llm.NewProvider(ctx, llm.Settings{
		Provider:    cfg.Provider,
		APIKey:      cfg.APIKey(),
		Model:       cfg.Model(),
		BaseURL:     baseURL,
		Temperature: cfg.Gemini.Temperature,
		Timeout:     config.Duration(cfg.Timeout, 60*time.Second),
	})
}
