package pipeline

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// StageMetrics records one stage of a run.
type StageMetrics struct {
	Name           string    `json:"name"`
	ProcessedCount int       `json:"processed_count"`
	CacheHits      int       `json:"cache_hits"`
	AICalls        int64     `json:"ai_calls"`
	ErrorsCount    int       `json:"errors_count"`
	Attempts       int       `json:"attempts"`
	Resumed        bool      `json:"resumed"` // served from a checkpoint
	Start          time.Time `json:"start_timestamp"`
	End            time.Time `json:"end_timestamp"`
}

// Duration is the stage wall-clock time.
func (m StageMetrics) Duration() time.Duration {
	return m.End.Sub(m.Start)
}

// RunSummary aggregates the metrics of one run.
type RunSummary struct {
	RunID             string         `json:"run_id"`
	UserID            string         `json:"user_id"`
	ArticlesFetched   int            `json:"articles_fetched"`
	ArticlesProcessed int            `json:"articles_processed"`
	ArticlesRelevant  int            `json:"articles_relevant"`
	Groups            int            `json:"groups"`
	Subject           string         `json:"subject,omitempty"`
	DigestSent        bool           `json:"digest_sent"`
	DryRun            bool           `json:"dry_run"`
	TotalAICalls      int64          `json:"total_ai_calls"`
	TotalErrors       int            `json:"total_errors"`
	ErrorMessages     []string       `json:"error_messages"`
	Stages            []StageMetrics `json:"stages"`
	Start             time.Time      `json:"start_timestamp"`
	End               time.Time      `json:"end_timestamp"`

	mu sync.Mutex
}

func newRunSummary(runID, userID string, dryRun bool, start time.Time) *RunSummary {
	return &RunSummary{
		RunID:         runID,
		UserID:        userID,
		DryRun:        dryRun,
		ErrorMessages: []string{},
		Stages:        []StageMetrics{},
		Start:         start,
	}
}

// Stage returns the metrics of the named stage.
func (s *RunSummary) Stage(name string) (StageMetrics, bool) {
	for _, m := range s.Stages {
		if m.Name == name {
			return m, true
		}
	}
	return StageMetrics{}, false
}

// addError records a non-fatal problem.
func (s *RunSummary) addError(format string, args ...any) {
	s.mu.Lock()
	s.ErrorMessages = append(s.ErrorMessages, fmt.Sprintf(format, args...))
	s.mu.Unlock()
}

func (s *RunSummary) addStage(m StageMetrics) {
	s.mu.Lock()
	s.Stages = append(s.Stages, m)
	s.TotalAICalls += m.AICalls
	s.TotalErrors += m.ErrorsCount
	s.mu.Unlock()
}

// RunError is returned when a run aborts. Summary holds the metrics
// collected up to the failure.
type RunError struct {
	Stage   string
	Summary *RunSummary
	Err     error
}

func (e *RunError) Error() string {
	return fmt.Sprintf("run %s failed at %s: %v", e.Summary.RunID, e.Stage, e.Err)
}

func (e *RunError) Unwrap() error { return e.Err }

// stageRun collects counters while a stage executes.
type stageRun struct {
	name      string
	start     time.Time
	aiBase    int64
	aiErrBase int64
	hits      atomic.Int64
	errs      atomic.Int64
}

func (p *Pipeline) beginStage(name string) *stageRun {
	st := &stageRun{name: name, start: p.now().UTC()}
	if p.meter != nil {
		st.aiBase = p.meter.Calls()
		st.aiErrBase = p.meter.Errors()
	}
	p.log.Debug().Str("stage", name).Msg("stage started")
	return st
}

func (p *Pipeline) endStage(summary *RunSummary, st *stageRun, processed, attempts int, resumed bool) StageMetrics {
	m := StageMetrics{
		Name:           st.name,
		ProcessedCount: processed,
		CacheHits:      int(st.hits.Load()),
		ErrorsCount:    int(st.errs.Load()),
		Attempts:       attempts,
		Resumed:        resumed,
		Start:          st.start,
		End:            p.now().UTC(),
	}
	if resumed {
		m.CacheHits = processed
	}
	if p.meter != nil {
		m.AICalls = p.meter.Calls() - st.aiBase
		m.ErrorsCount += int(p.meter.Errors() - st.aiErrBase)
	}
	summary.addStage(m)

	p.log.Info().
		Str("stage", m.Name).
		Int("processed", m.ProcessedCount).
		Int("cache_hits", m.CacheHits).
		Int64("ai_calls", m.AICalls).
		Int("errors", m.ErrorsCount).
		Bool("resumed", resumed).
		Dur("duration", m.Duration()).
		Msg("stage completed")
	return m
}
