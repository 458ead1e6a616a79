package handlers

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"periscope/internal/cache"
	"periscope/internal/config"
	"periscope/internal/logger"
)

// NewCacheCmd creates the cache management command
func NewCacheCmd() *cobra.Command {
	cacheCmd := &cobra.Command{
		Use:   "cache",
		Short: "Manage the result and checkpoint cache",
		Long:  `Inspect, purge and clear the cache holding AI results, stage checkpoints and delivery records.`,
	}

	cacheCmd.AddCommand(newCacheStatsCmd())
	cacheCmd.AddCommand(newCachePurgeCmd())
	cacheCmd.AddCommand(newCacheClearCmd())

	return cacheCmd
}

type statser interface {
	Stats(ctx context.Context) (cache.Stats, error)
}

type purger interface {
	Purge(ctx context.Context) (int64, error)
}

func openCache(ctx context.Context) (cache.Cache, func() error, error) {
	cfg := config.Get()
	return cache.Open(ctx, cache.Options{
		Backend:   cfg.Cache.Backend,
		Directory: cfg.Cache.Directory,
		Logger:    logger.WithComponent("cache"),
	})
}

func newCacheStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show cache statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, closeCache, err := openCache(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = closeCache() }()

			s, ok := c.(statser)
			if !ok {
				return fmt.Errorf("cache backend does not report statistics")
			}
			stats, err := s.Stats(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to get cache statistics: %w", err)
			}

			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"Entries", "Expired", "Size"},
				[][]string{{
					strconv.Itoa(stats.Entries),
					strconv.Itoa(stats.Expired),
					fmt.Sprintf("%.2f KB", float64(stats.Bytes)/1024),
				}},
				1, 2, 3,
			))
			return nil
		},
	}
}

func newCachePurgeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "purge",
		Short: "Remove expired entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, closeCache, err := openCache(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = closeCache() }()

			p, ok := c.(purger)
			if !ok {
				fmt.Fprintln(cmd.OutOrStdout(), "Nothing to purge: expired entries are dropped on read")
				return nil
			}
			n, err := p.Purge(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to purge cache: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %d expired entries\n", n)
			return nil
		},
	}
}

func newCacheClearCmd() *cobra.Command {
	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Clear the cache",
		Long:  `Remove every cached result, checkpoint and delivery record.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			confirm, _ := cmd.Flags().GetBool("confirm")
			if !confirm {
				fmt.Fprint(cmd.OutOrStdout(), "This removes all cached results and checkpoints. Continue? [y/N]: ")
				var response string
				_, _ = fmt.Fscanln(cmd.InOrStdin(), &response)
				if response != "y" && response != "Y" && response != "yes" {
					fmt.Fprintln(cmd.OutOrStdout(), "Cache clear cancelled")
					return nil
				}
			}

			c, closeCache, err := openCache(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = closeCache() }()

			if _, err := c.Clear(cmd.Context()); err != nil {
				return fmt.Errorf("failed to clear cache: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), okStyle.Render("Cache cleared"))
			return nil
		},
	}

	clearCmd.Flags().Bool("confirm", false, "Skip confirmation prompt")
	return clearCmd
}
