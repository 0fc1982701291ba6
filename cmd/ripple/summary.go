package main

import (
	"fmt"
	"io"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/ripplesched/ripple/internal/scheduler"
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Underline(true)
	okStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	failStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	blockedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	dimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
)

// printSummary renders the run summary and per-task results.
func printSummary(w io.Writer, sum scheduler.Summary, results map[string]scheduler.Result) {
	fmt.Fprintln(w, titleStyle.Render("Run summary"))
	fmt.Fprintf(w, "  %s  %s  %s\n",
		okStyle.Render(fmt.Sprintf("%d completed", sum.Completed)),
		failStyle.Render(fmt.Sprintf("%d failed", sum.Failed)),
		blockedStyle.Render(fmt.Sprintf("%d blocked", sum.Blocked)))
	fmt.Fprintf(w, "  elapsed %s, health score %.2f\n\n", sum.Elapsed.Round(time.Millisecond), sum.Score)

	for _, r := range sortedResults(results) {
		mark := okStyle.Render("ok  ")
		detail := dimStyle.Render(fmt.Sprintf("%s on %s", r.Duration.Round(time.Millisecond), r.AgentID))
		if !r.Success {
			mark = failStyle.Render("FAIL")
			detail = fmt.Sprintf("%s %s", dimStyle.Render(r.Reason), detail)
		}
		fmt.Fprintf(w, "  %s %-20s %s\n", mark, r.TaskID, detail)
	}
}
