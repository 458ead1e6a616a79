// Package workflow runs pipeline activities with per-attempt timeouts,
// tiered retry policies and cache-backed checkpoints, so a re-executed run
// resumes from the last completed stage instead of repeating work.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/sethvargo/go-retry"

	"periscope/internal/cache"
	"periscope/internal/core"
)

// DefaultCheckpointTTL is how long completed activity results are kept.
const DefaultCheckpointTTL = 48 * time.Hour

// Policy bounds one activity's execution.
type Policy struct {
	Name           string
	Timeout        time.Duration // per attempt
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// Retry tiers.
var (
	Fast     = Policy{Name: "fast", Timeout: 5 * time.Second, MaxAttempts: 3, InitialBackoff: 2 * time.Second, MaxBackoff: 10 * time.Second}
	Medium   = Policy{Name: "medium", Timeout: 30 * time.Second, MaxAttempts: 3, InitialBackoff: 5 * time.Second, MaxBackoff: 45 * time.Second}
	Long     = Policy{Name: "long", Timeout: 120 * time.Second, MaxAttempts: 2, InitialBackoff: 15 * time.Second, MaxBackoff: 120 * time.Second}
	Delivery = Policy{Name: "delivery", Timeout: 30 * time.Second, MaxAttempts: 4, InitialBackoff: 10 * time.Second, MaxBackoff: 2 * time.Minute}
)

// Backoff returns the exponential, capped schedule between attempts.
func (p Policy) Backoff() retry.Backoff {
	base := p.InitialBackoff
	if base <= 0 {
		base = time.Nanosecond
	}
	b := retry.NewExponential(base)
	if p.MaxBackoff > 0 {
		b = retry.WithCappedDuration(p.MaxBackoff, b)
	}
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	return retry.WithMaxRetries(uint64(attempts-1), b)
}

// Options configures an Engine.
type Options struct {
	CheckpointTTL time.Duration
	Logger        zerolog.Logger
}

// Engine executes activities. A nil cache disables checkpoints.
type Engine struct {
	cache cache.Cache
	ttl   time.Duration
	log   zerolog.Logger
}

// NewEngine creates an Engine storing checkpoints in c.
func NewEngine(c cache.Cache, opts Options) *Engine {
	if opts.CheckpointTTL <= 0 {
		opts.CheckpointTTL = DefaultCheckpointTTL
	}
	return &Engine{
		cache: c,
		ttl:   opts.CheckpointTTL,
		log:   opts.Logger.With().Str("component", "workflow").Logger(),
	}
}

// Activity is one unit of work. Key is the idempotency key; an empty key
// disables checkpointing. The result type must round-trip through JSON.
type Activity[T any] struct {
	Name   string
	Key    string
	Policy Policy
	Run    func(ctx context.Context) (T, error)
	// Checkpoint, when set, decides whether a successful result is stored.
	Checkpoint func(T) bool
}

// Report describes how an activity completed.
type Report struct {
	Attempts       int
	FromCheckpoint bool
	Checkpointed   bool
	Duration       time.Duration
}

// CheckpointKey is the cache key of an activity's stored result.
func CheckpointKey(name, key string) string {
	return "checkpoint:" + name + ":" + key
}

// Execute runs a, returning a stored checkpoint when one exists. Non-retryable
// errors abort at once; other failures are retried per the activity policy.
func Execute[T any](ctx context.Context, e *Engine, a Activity[T]) (T, Report, error) {
	var zero T
	start := time.Now()
	report := Report{}
	log := e.log.With().Str("activity", a.Name).Str("policy", a.Policy.Name).Logger()

	if a.Run == nil {
		return zero, report, core.NonRetryable(core.KindConfiguration, a.Name, errors.New("activity has no function"))
	}
	if err := ctx.Err(); err != nil {
		return zero, report, err
	}

	checkpointed := a.Key != "" && e.cache != nil
	if checkpointed {
		var stored T
		ok, err := cache.GetJSON(ctx, e.cache, CheckpointKey(a.Name, a.Key), &stored)
		if err != nil {
			log.Debug().Err(err).Msg("checkpoint lookup failed")
		} else if ok {
			report.FromCheckpoint = true
			report.Duration = time.Since(start)
			log.Debug().Str("key", a.Key).Msg("resumed from checkpoint")
			return stored, report, nil
		}
	}

	var result T
	err := retry.Do(ctx, a.Policy.Backoff(), func(ctx context.Context) error {
		report.Attempts++
		v, err := runAttempt(ctx, a)
		if err == nil {
			result = v
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !core.IsRetryable(err) {
			return err
		}
		log.Warn().Err(err).Int("attempt", report.Attempts).Int("max_attempts", a.Policy.MaxAttempts).Msg("activity attempt failed")
		return retry.RetryableError(err)
	})
	report.Duration = time.Since(start)
	if err != nil {
		log.Error().Err(err).Int("attempts", report.Attempts).Msg("activity failed")
		return zero, report, fmt.Errorf("activity %s: %w", a.Name, err)
	}

	if checkpointed && a.Checkpoint != nil && !a.Checkpoint(result) {
		log.Debug().Str("key", a.Key).Msg("result not checkpointed")
		checkpointed = false
	}
	if checkpointed {
		if err := cache.SetJSON(ctx, e.cache, CheckpointKey(a.Name, a.Key), result, e.ttl); err != nil {
			log.Warn().Err(err).Msg("failed to store checkpoint")
		} else {
			report.Checkpointed = true
		}
	}
	log.Debug().Int("attempts", report.Attempts).Dur("duration", report.Duration).Msg("activity completed")
	return result, report, nil
}

func runAttempt[T any](ctx context.Context, a Activity[T]) (T, error) {
	if a.Policy.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.Policy.Timeout)
		defer cancel()
	}
	v, err := a.Run(ctx)
	if err != nil && errors.Is(err, context.DeadlineExceeded) {
		var ce *core.Error
		if !errors.As(err, &ce) {
			err = core.Retryable(core.KindTimeout, a.Name, err)
		}
	}
	return v, err
}
