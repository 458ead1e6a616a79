package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/gofrs/flock"
	"github.com/spf13/cobra"

	"periscope/internal/cache"
	"periscope/internal/config"
	"periscope/internal/llm"
	"periscope/internal/logger"
	"periscope/internal/pipeline"
	"periscope/internal/textutil"
)

// NewRunCmd creates the digest run command
func NewRunCmd() *cobra.Command {
	var (
		userFile string
		runID    string
		dryRun   bool
		asJSON   bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Generate and deliver the digest for one user",
		Long: `Run the full pipeline for the user defined in a YAML file: fetch their
sources, filter and score articles, summarize and group them, then deliver
the digest. Re-running with the same --run-id resumes from checkpoints.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if userFile == "" {
				return fmt.Errorf("--user is required")
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runDigest(ctx, cmd, userFile, pipeline.RunOptions{RunID: runID, DryRun: dryRun}, asJSON)
		},
	}

	cmd.Flags().StringVarP(&userFile, "user", "u", "", "user definition (YAML)")
	cmd.Flags().StringVar(&runID, "run-id", "", "run identifier; reuse one to resume a failed run")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "run every stage except delivery")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the run summary as JSON")
	return cmd
}

func runDigest(ctx context.Context, cmd *cobra.Command, userFile string, opts pipeline.RunOptions, asJSON bool) error {
	cfg := config.Get()
	log := logger.WithComponent("run")

	user, err := LoadUserConfig(userFile)
	if err != nil {
		return err
	}

	lock, err := acquireRunLock(cfg.App.DataDir, user.UserID)
	if err != nil {
		return err
	}
	defer func() { _ = lock.Unlock() }()

	store, closeCache, err := cache.Open(ctx, cache.Options{
		Backend:   cfg.Cache.Backend,
		Directory: cfg.Cache.Directory,
		Logger:    log,
	})
	if err != nil {
		return err
	}
	defer func() {
		if err := closeCache(); err != nil {
			logger.Error("Failed to close cache", err)
		}
	}()

	provider, err := newProvider(ctx, cfg)
	if err != nil {
		return err
	}

	p, err := pipeline.NewBuilder(cfg).
		WithProvider(provider).
		WithCache(store).
		WithLogger(logger.Get()).
		Build()
	if err != nil {
		return err
	}

	summary, runErr := p.Run(ctx, user, opts)
	out := cmd.OutOrStdout()
	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(summary); err != nil {
			return err
		}
	} else if summary != nil {
		printRunSummary(out, summary)
	}

	if runErr != nil {
		var re *pipeline.RunError
		if errors.As(runErr, &re) && !pipeline.IsFatal(runErr) {
			return fmt.Errorf("%w (retry with --run-id %s to resume)", runErr, re.Summary.RunID)
		}
		return runErr
	}
	return nil
}

// newProvider builds the configured model backend. A missing key turns AI
// features off instead of failing the run.
func newProvider(ctx context.Context, cfg *config.Config) (llm.Provider, error) {
	if cfg.AI.Provider == llm.ProviderNone {
		return llm.Disabled{}, nil
	}
	if !cfg.AI.HasValidAPIKey() {
		logger.Warn("No valid API key configured, running without AI features", "provider", cfg.AI.Provider)
		return llm.Disabled{}, nil
	}
	return pipeline.NewProvider(ctx, cfg.AI)
}

// acquireRunLock prevents two concurrent runs for the same user.
func acquireRunLock(dataDir, userID string) (*flock.Flock, error) {
	dir := filepath.Join(dataDir, "locks")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create lock directory: %w", err)
	}
	lock := flock.New(filepath.Join(dir, textutil.ShortHash(userID)+".lock"))
	ok, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire run lock: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("another run for user %s is in progress", userID)
	}
	return lock, nil
}
