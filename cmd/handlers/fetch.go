package handlers

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"periscope/internal/config"
	"periscope/internal/logger"
	"periscope/internal/pipeline"
	"periscope/internal/sources"
	"periscope/internal/textutil"
)

// NewFetchCmd creates the feed preview command
func NewFetchCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "fetch <url>",
		Short: "Fetch a feed and list its articles",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Get()
			client := pipeline.NewHTTPClient(cfg.Fetch, logger.Get())
			registry := sources.DefaultRegistry(client, sources.RSSOptions{
				MaxArticles: limit,
				Logger:      logger.Get(),
			})

			fetcher, err := registry.ForURL(args[0])
			if err != nil {
				return err
			}
			res := fetcher.FetchContent(cmd.Context(), args[0])
			if !res.Success {
				return fmt.Errorf("fetch failed: %s", res.ErrorMessage)
			}

			out := cmd.OutOrStdout()
			title := res.SourceInfo.Title
			if title == "" {
				title = args[0]
			}
			fmt.Fprintln(out, headlineStyle.Render(title))
			if res.SourceInfo.Description != "" {
				fmt.Fprintln(out, res.SourceInfo.Description)
			}

			rows := make([][]string, 0, len(res.Articles))
			for i, a := range res.Articles {
				published := ""
				if a.PublishedAt != nil {
					published = a.PublishedAt.Format("2006-01-02")
				}
				rows = append(rows, []string{
					strconv.Itoa(i + 1),
					textutil.TruncateAtWord(a.Title, 60, "..."),
					a.Author,
					published,
					strconv.Itoa(len([]rune(a.Content))),
				})
			}
			fmt.Fprintln(out, renderTable([]string{"#", "Title", "Author", "Published", "Chars"}, rows, 1, 5))
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum number of articles")
	return cmd
}

// NewDetectCmd creates the source type detection command
func NewDetectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "detect <url>",
		Short: "Detect the source type of a URL",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := sources.DetectSourceType(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), t)
			return nil
		},
	}
}
