package handlers

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"periscope/internal/pipeline"
)

var (
	headlineStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39"))
	okStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	warnStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	errorStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("196"))
)

func renderTable(headers []string, rows [][]string, rightAligned ...int) string {
	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)

	header := make(table.Row, len(headers))
	for i, h := range headers {
		header[i] = h
	}
	tw.AppendHeader(header)

	for _, row := range rows {
		r := make(table.Row, len(headers))
		for i := range headers {
			if i < len(row) {
				r[i] = row[i]
			}
		}
		tw.AppendRow(r)
	}

	configs := make([]table.ColumnConfig, 0, len(rightAligned))
	for _, col := range rightAligned {
		configs = append(configs, table.ColumnConfig{Number: col, Align: text.AlignRight, AlignHeader: text.AlignLeft})
	}
	tw.SetColumnConfigs(configs)
	return tw.Render()
}

// printRunSummary writes the run headline, stage table and any errors.
func printRunSummary(w io.Writer, s *pipeline.RunSummary) {
	status := okStyle.Render("digest sent")
	switch {
	case s.DryRun:
		status = warnStyle.Render("dry run, not delivered")
	case !s.DigestSent:
		status = warnStyle.Render("not delivered")
	}
	fmt.Fprintf(w, "%s %s\n", headlineStyle.Render("Periscope run "+s.RunID), status)
	if s.Subject != "" {
		fmt.Fprintf(w, "Subject: %s\n", s.Subject)
	}
	fmt.Fprintf(w, "Articles: %d fetched, %d processed, %d relevant in %d groups\n\n",
		s.ArticlesFetched, s.ArticlesProcessed, s.ArticlesRelevant, s.Groups)

	rows := make([][]string, 0, len(s.Stages))
	for _, m := range s.Stages {
		resumed := ""
		if m.Resumed {
			resumed = "yes"
		}
		rows = append(rows, []string{
			m.Name,
			strconv.Itoa(m.ProcessedCount),
			strconv.Itoa(m.CacheHits),
			strconv.FormatInt(m.AICalls, 10),
			strconv.Itoa(m.ErrorsCount),
			resumed,
			m.Duration().Round(time.Millisecond).String(),
		})
	}
	fmt.Fprintln(w, renderTable(
		[]string{"Stage", "Processed", "Cache hits", "AI calls", "Errors", "Resumed", "Duration"},
		rows, 2, 3, 4, 5, 7,
	))
	fmt.Fprintf(w, "AI calls: %d  Errors: %d\n", s.TotalAICalls, s.TotalErrors)

	if len(s.ErrorMessages) > 0 {
		fmt.Fprintln(w, errorStyle.Render("Errors:"))
		for _, msg := range s.ErrorMessages {
			fmt.Fprintf(w, "  - %s\n", strings.TrimSpace(msg))
		}
	}
}
