package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"periscope/internal/cache"
	"periscope/internal/core"
	"periscope/internal/delivery"
	"periscope/internal/quality"
	"periscope/internal/relevance"
	"periscope/internal/textutil"
	"periscope/internal/workflow"
)

// fetchSources fetches every active source concurrently. A failing source
// contributes no articles and an error entry.
func (p *Pipeline) fetchSources(ctx context.Context, runID string, srcs []core.ContentSourceConfig, summary *RunSummary) ([]core.Article, error) {
	st := p.beginStage(StageFetch)

	results := make([]core.FetchResult, len(srcs))
	reports := make([]workflow.Report, len(srcs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.config.FetchConcurrency)
	for i, src := range srcs {
		g.Go(func() error {
			res, report, err := workflow.Execute(gctx, p.engine, workflow.Activity[core.FetchResult]{
				Name:   StageFetch,
				Key:    runID + ":" + textutil.ShortHash(src.URL),
				Policy: p.config.Policies.Medium,
				Run: func(ctx context.Context) (core.FetchResult, error) {
					return p.fetchOne(ctx, src.URL)
				},
			})
			reports[i] = report
			if err != nil {
				if cerr := gctx.Err(); cerr != nil {
					return cerr
				}
				name := src.Name
				if name == "" {
					name = src.URL
				}
				st.errs.Add(1)
				summary.addError("source %s: %v", name, err)
				p.log.Warn().Str("source", src.URL).Err(err).Msg("source failed")
				res = core.FetchResult{SourceInfo: core.SourceInfo{URL: src.URL, Type: src.Type}, Articles: []core.Article{}}
			}
			results[i] = res
			return nil
		})
	}
	err := g.Wait()

	attempts, resumed := 0, len(srcs) > 0
	for _, r := range reports {
		attempts += r.Attempts
		if r.FromCheckpoint {
			st.hits.Add(1)
		} else {
			resumed = false
		}
	}
	var articles []core.Article
	for _, r := range results {
		articles = append(articles, r.Articles...)
	}
	p.endStage(summary, st, len(srcs), attempts, resumed && err == nil)
	if err != nil {
		return nil, err
	}
	if articles == nil {
		articles = []core.Article{}
	}
	return articles, nil
}

func (p *Pipeline) fetchOne(ctx context.Context, rawURL string) (core.FetchResult, error) {
	fetcher, err := p.sources.ForURL(rawURL)
	if err != nil {
		return core.FetchResult{}, err
	}
	res := fetcher.FetchContent(ctx, rawURL)
	if err := ctx.Err(); err != nil {
		return core.FetchResult{}, err
	}
	if !res.Success {
		// The HTTP client has already retried transient failures.
		return core.FetchResult{}, core.NonRetryable(core.KindValidation, "fetch "+rawURL, errors.New(res.ErrorMessage))
	}
	return res, nil
}

func (p *Pipeline) validateArticles(ctx context.Context, articles []core.Article, summary *RunSummary) ([]core.Article, error) {
	st := p.beginStage(StageValidate)
	out, report, err := runBatch(ctx, p, st, summary, StageValidate, batchKey(articles), p.config.Policies.Long,
		func(ctx context.Context, at *attempt) ([]core.Article, error) {
			results, err := forEach(ctx, p.config.BatchConcurrency, articles, func(ctx context.Context, a core.Article) core.ValidationResult {
				return memo(ctx, p, at, "validation:"+textutil.ShortHash(a.Content), func(ctx context.Context) (core.ValidationResult, bool) {
					r := p.validator.Validate(ctx, a)
					return r, r.Degraded
				})
			})
			if err != nil {
				return nil, err
			}
			valid := make([]core.Article, 0, len(articles))
			for i, r := range results {
				if !r.IsValid() {
					p.log.Debug().Str("url", articles[i].URL).Str("reason", r.Message).Msg("article rejected")
					continue
				}
				valid = append(valid, articles[i])
			}
			return valid, nil
		})
	p.endStage(summary, st, len(articles), report.Attempts, report.FromCheckpoint)
	return out, err
}

// normalizeArticles normalizes every article and drops duplicates by
// canonical URL, keeping the first occurrence.
func (p *Pipeline) normalizeArticles(ctx context.Context, articles []core.Article, summary *RunSummary) ([]core.Article, error) {
	st := p.beginStage(StageNormalize)
	out, report, err := workflow.Execute(ctx, p.engine, workflow.Activity[[]core.Article]{
		Name:   StageNormalize,
		Key:    batchKey(articles),
		Policy: p.config.Policies.Fast,
		Run: func(context.Context) ([]core.Article, error) {
			seen := make(map[string]bool, len(articles))
			out := make([]core.Article, 0, len(articles))
			for _, a := range articles {
				n := p.normalizer.Normalize(a)
				if seen[n.URL] {
					p.log.Debug().Str("url", n.URL).Msg("dropping duplicate article")
					continue
				}
				seen[n.URL] = true
				out = append(out, n)
			}
			return out, nil
		},
	})
	p.endStage(summary, st, len(articles), report.Attempts, report.FromCheckpoint)
	return out, err
}

func (p *Pipeline) scoreQuality(ctx context.Context, articles []core.Article, summary *RunSummary) ([]core.Article, error) {
	st := p.beginStage(StageQuality)
	out, report, err := runBatch(ctx, p, st, summary, StageQuality, batchKey(articles), p.config.Policies.Long,
		func(ctx context.Context, at *attempt) ([]core.Article, error) {
			return forEach(ctx, p.config.BatchConcurrency, articles, func(ctx context.Context, a core.Article) core.Article {
				res := memo(ctx, p, at, "quality:"+textutil.ShortHash(a.URL, a.Content), func(ctx context.Context) (core.ContentQualityResult, bool) {
					r := p.quality.Score(ctx, a)
					return r, r.Degraded
				})
				return quality.Annotate(a, res)
			})
		})
	p.endStage(summary, st, len(articles), report.Attempts, report.FromCheckpoint)
	return out, err
}

func (p *Pipeline) extractTopics(ctx context.Context, articles []core.Article, summary *RunSummary) ([]core.Article, error) {
	st := p.beginStage(StageTopics)
	out, report, err := runBatch(ctx, p, st, summary, StageTopics, batchKey(articles), p.config.Policies.Long,
		func(ctx context.Context, at *attempt) ([]core.Article, error) {
			return forEach(ctx, p.config.BatchConcurrency, articles, func(ctx context.Context, a core.Article) core.Article {
				topics := memo(ctx, p, at, "topics:"+textutil.ShortHash(a.URL, a.Content), func(ctx context.Context) ([]string, bool) {
					return p.topics.Extract(ctx, a)
				})
				return a.WithTopics(topics)
			})
		})
	p.endStage(summary, st, len(articles), report.Attempts, report.FromCheckpoint)
	return out, err
}

func (p *Pipeline) scoreRelevance(ctx context.Context, articles []core.Article, profile core.InterestProfile, summary *RunSummary) (map[string]core.RelevanceResult, error) {
	st := p.beginStage(StageRelevance)
	out, report, err := runBatch(ctx, p, st, summary, StageRelevance, relevance.ProfileHash(profile)+":"+batchKey(articles), p.config.Policies.Long,
		func(ctx context.Context, at *attempt) (map[string]core.RelevanceResult, error) {
			results, err := forEach(ctx, p.config.BatchConcurrency, articles, func(ctx context.Context, a core.Article) core.RelevanceResult {
				res, hit := p.relevance.Score(ctx, a, profile)
				if hit {
					at.hits.Add(1)
				}
				if res.Degraded {
					at.degraded.Store(true)
				}
				return res
			})
			if err != nil {
				return nil, err
			}
			scores := make(map[string]core.RelevanceResult, len(articles))
			for i, r := range results {
				scores[articles[i].URL] = r
			}
			return scores, nil
		})
	p.endStage(summary, st, len(articles), report.Attempts, report.FromCheckpoint)
	return out, err
}

func (p *Pipeline) summarizeArticles(ctx context.Context, articles []core.Article, user core.DigestUserConfig, summary *RunSummary) ([]core.Article, error) {
	st := p.beginStage(StageSummarize)
	if len(articles) == 0 {
		p.endStage(summary, st, 0, 0, false)
		return []core.Article{}, nil
	}
	sess := p.summaries(ctx, user.SummaryStyle, user.CustomPrompt)
	if user.CustomPrompt != "" && !sess.CustomPromptAccepted() {
		st.errs.Add(1)
		summary.addError("custom prompt rejected: %s", sess.GuardReason())
	}
	system := sess.SystemPrompt()

	out, report, err := runBatch(ctx, p, st, summary, StageSummarize, textutil.ShortHash(system)+":"+batchKey(articles), p.config.Policies.Long,
		func(ctx context.Context, at *attempt) ([]core.Article, error) {
			return forEach(ctx, p.config.BatchConcurrency, articles, func(ctx context.Context, a core.Article) core.Article {
				text := memo(ctx, p, at, "summary:"+textutil.ShortHash(a.URL, a.Content, system), func(ctx context.Context) (string, bool) {
					return sess.Summarize(ctx, a)
				})
				return a.WithSummary(text)
			})
		})
	p.endStage(summary, st, len(articles), report.Attempts, report.FromCheckpoint)
	return out, err
}

func (p *Pipeline) groupSimilar(ctx context.Context, articles []core.Article, summary *RunSummary) ([]core.ArticleGroup, error) {
	st := p.beginStage(StageSimilar)
	out, report, err := runBatch(ctx, p, st, summary, StageSimilar, batchKey(articles), p.config.Policies.Long,
		func(ctx context.Context, at *attempt) ([]core.ArticleGroup, error) {
			groups, stats, err := p.similarity.DetectSimilarity(ctx, articles)
			at.hits.Add(int64(stats.CacheHits))
			if stats.Failures > 0 {
				at.errs.Add(int64(stats.Failures))
				at.degraded.Store(true)
				at.note(fmt.Sprintf("similarity: %d of %d comparisons failed", stats.Failures, stats.Comparisons))
			}
			return groups, err
		})
	p.endStage(summary, st, len(articles), report.Attempts, report.FromCheckpoint)
	return out, err
}

func (p *Pipeline) assemble(ctx context.Context, runID string, user core.DigestUserConfig, groups []core.ArticleGroup, scores map[string]core.RelevanceResult, summary *RunSummary) (core.DigestPayload, error) {
	st := p.beginStage(StageAssemble)
	out, report, err := workflow.Execute(ctx, p.engine, workflow.Activity[core.DigestPayload]{
		Name:   StageAssemble,
		Key:    runID,
		Policy: p.config.Policies.Fast,
		Run: func(context.Context) (core.DigestPayload, error) {
			return p.assembler.Assemble(user, groups, scores)
		},
	})
	p.endStage(summary, st, len(groups), report.Attempts, report.FromCheckpoint)
	return out, err
}

// deliver sends the digest once per run; the checkpoint prevents a resumed
// run from sending it again.
func (p *Pipeline) deliver(ctx context.Context, runID string, user core.DigestUserConfig, payload core.DigestPayload, summary *RunSummary) (bool, error) {
	st := p.beginStage(StageDeliver)
	sent, report, err := workflow.Execute(ctx, p.engine, workflow.Activity[bool]{
		Name:   StageDeliver,
		Key:    runID,
		Policy: p.config.Policies.Delivery,
		Run: func(ctx context.Context) (bool, error) {
			ok, err := p.sender.Send(ctx, user.Email, payload.Subject, payload.HTMLBody, payload.TextBody)
			if err != nil {
				return false, err
			}
			if !ok {
				return false, core.Retryable(core.KindTransient, "deliver", errors.New("delivery was not confirmed"))
			}
			return true, nil
		},
	})
	p.endStage(summary, st, 1, report.Attempts, report.FromCheckpoint)
	return sent, err
}

func (p *Pipeline) recordStatus(ctx context.Context, status delivery.Status, summary *RunSummary) {
	if p.cache == nil {
		return
	}
	st := p.beginStage(StageStatus)
	_, report, err := workflow.Execute(ctx, p.engine, workflow.Activity[bool]{
		Name:   StageStatus,
		Policy: p.config.Policies.Fast,
		Run: func(ctx context.Context) (bool, error) {
			return true, delivery.RecordStatus(ctx, p.cache, status, p.config.StatusTTL)
		},
	})
	if err != nil {
		st.errs.Add(1)
		summary.addError("record delivery status: %v", err)
	}
	p.endStage(summary, st, 1, report.Attempts, false)
}

// forEach applies fn to every article with at most limit in flight and
// returns the results in input order. It fails only when ctx ends.
func forEach[T any](ctx context.Context, limit int, articles []core.Article, fn func(context.Context, core.Article) T) ([]T, error) {
	out := make([]T, len(articles))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i, a := range articles {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			out[i] = fn(gctx, a)
			return gctx.Err()
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// attempt collects the counters of one activity attempt, so a retried
// activity reports only its final attempt.
type attempt struct {
	hits     atomic.Int64
	errs     atomic.Int64
	degraded atomic.Bool // some result is an AI fallback

	mu    sync.Mutex
	notes []string
}

func (a *attempt) note(msg string) {
	a.mu.Lock()
	a.notes = append(a.notes, msg)
	a.mu.Unlock()
}

// runBatch executes a batch stage as a checkpointed activity. A result that
// contains AI fallbacks is returned but not checkpointed, so the next run
// over the same articles asks the model again.
func runBatch[T any](ctx context.Context, p *Pipeline, st *stageRun, summary *RunSummary, name, key string, policy workflow.Policy, run func(context.Context, *attempt) (T, error)) (T, workflow.Report, error) {
	var last *attempt
	out, report, err := workflow.Execute(ctx, p.engine, workflow.Activity[T]{
		Name:   name,
		Key:    key,
		Policy: policy,
		Run: func(ctx context.Context) (T, error) {
			last = &attempt{}
			return run(ctx, last)
		},
		Checkpoint: func(T) bool { return !last.degraded.Load() },
	})
	if last != nil {
		st.hits.Add(last.hits.Load())
		st.errs.Add(last.errs.Load())
		for _, msg := range last.notes {
			summary.addError("%s", msg)
		}
		if err == nil && last.degraded.Load() {
			p.log.Info().Str("stage", name).Msg("stage used AI fallbacks, result not checkpointed")
		}
	}
	return out, report, err
}

// memo returns the cached value under key or computes and stores it.
// Degraded values and values computed after ctx ended are not stored,
// since both are neutral fallbacks rather than real results.
func memo[T any](ctx context.Context, p *Pipeline, at *attempt, key string, compute func(context.Context) (T, bool)) T {
	if p.cache != nil {
		var v T
		hit, err := cache.GetJSON(ctx, p.cache, key, &v)
		if err != nil {
			p.log.Debug().Err(err).Str("key", key).Msg("result cache read failed")
		}
		if hit {
			at.hits.Add(1)
			return v
		}
	}
	v, degraded := compute(ctx)
	if degraded {
		at.degraded.Store(true)
		return v
	}
	if p.cache != nil && ctx.Err() == nil {
		if err := cache.SetJSON(ctx, p.cache, key, v, p.config.ResultTTL); err != nil {
			p.log.Debug().Err(err).Str("key", key).Msg("result cache write failed")
		}
	}
	return v
}

// batchKey is a deterministic hash of a batch's inputs.
func batchKey(articles []core.Article) string {
	parts := make([]string, 0, 2*len(articles))
	for _, a := range articles {
		parts = append(parts, a.URL, textutil.ShortHash(a.Content, a.Summary, a.Title))
	}
	return textutil.ShortHash(parts...)
}
