package main

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"github.com/testpulse/testpulse/internal/errs"
	"github.com/testpulse/testpulse/internal/metrics"
	"github.com/testpulse/testpulse/pkg/types"
)

var (
	titleStyle  = lipgloss.NewStyle().Bold(true)
	headerStyle = lipgloss.NewStyle().Bold(true).Underline(true)
	passStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("2")) // green
	failStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("1")) // red
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("3")) // yellow
	dimStyle    = lipgloss.NewStyle().Faint(true)
)

// column widths of the collect table
var collectCols = []int{10, 36, 8, 8, 8, 8, 10, 6}

func row(widths []int, cells ...string) string {
	var sb strings.Builder
	for i, c := range cells {
		sb.WriteString(lipgloss.NewStyle().Width(widths[i]).MaxWidth(widths[i]).MaxHeight(1).Render(c))
		if i < len(cells)-1 {
			sb.WriteString(" ")
		}
	}
	return strings.TrimRight(sb.String(), " ") + "\n"
}

// formatDuration renders milliseconds as a Go duration rounded to the
// millisecond ("1.25s", "350ms").
func formatDuration(ms float64) string {
	return time.Duration(ms * float64(time.Millisecond)).Round(time.Millisecond).String()
}

func formatPercent(p float64) string {
	return fmt.Sprintf("%.1f%%", p)
}

// renderCollectSummary lists the collected results and any files that failed
// to parse.
func renderCollectSummary(results []types.NormalizedResult, failures []error) string {
	var sb strings.Builder

	sb.WriteString(titleStyle.Render(fmt.Sprintf("Collected %d report(s)", len(results))) + "\n\n")
	if len(results) > 0 {
		sb.WriteString(row(collectCols, headerStyle.Render("framework"), headerStyle.Render("source"),
			headerStyle.Render("tests"), headerStyle.Render("passed"), headerStyle.Render("failed"),
			headerStyle.Render("skipped"), headerStyle.Render("duration"), headerStyle.Render("status")))

		var total, passed, failed int
		for _, r := range results {
			status := passStyle.Render("PASS")
			if !r.Summary.Success {
				status = failStyle.Render("FAIL")
			}
			sb.WriteString(row(collectCols, string(r.Framework), r.Source,
				humanize.Comma(int64(r.Summary.TotalTests)), humanize.Comma(int64(r.Summary.PassedTests)),
				humanize.Comma(int64(r.Summary.FailedTests)), humanize.Comma(int64(r.Summary.SkippedTests)),
				formatDuration(r.Summary.DurationMs), status))
			total += r.Summary.TotalTests
			passed += r.Summary.PassedTests
			failed += r.Summary.FailedTests
		}
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s tests, %s passed, %s failed (%s)\n",
			humanize.Comma(int64(total)), passStyle.Render(humanize.Comma(int64(passed))),
			failStyle.Render(humanize.Comma(int64(failed))), formatPercent(types.Percent(passed, total))))
	}

	if len(failures) > 0 {
		sb.WriteString("\n" + warnStyle.Render(fmt.Sprintf("%d file(s) skipped:", len(failures))) + "\n")
		for _, err := range failures {
			var pe *errs.ParseError
			if errors.As(err, &pe) {
				sb.WriteString(fmt.Sprintf("  %s  %s\n", pe.Path, dimStyle.Render(pe.Err.Error())))
				continue
			}
			sb.WriteString("  " + err.Error() + "\n")
		}
	}
	return sb.String()
}

// renderReport prints an AggregatedReport as a terminal summary.
func renderReport(r metrics.AggregatedReport, now time.Time) string {
	var sb strings.Builder

	sb.WriteString(titleStyle.Render(fmt.Sprintf("Test report (%s)", r.TimeRange)) + "\n")
	sb.WriteString(dimStyle.Render(fmt.Sprintf("%s runs, generated %s",
		humanize.Comma(int64(r.TotalRuns)), humanize.RelTime(r.GeneratedAt, now, "ago", "from now"))) + "\n\n")

	if r.TotalRuns == 0 {
		sb.WriteString("No runs recorded in this window.\n")
		return sb.String()
	}

	sb.WriteString(fmt.Sprintf("Health     %s  %s\n",
		levelStyle(r.Health.Level).Render(fmt.Sprintf("%.0f", r.Health.Score)), r.Health.Level))
	sb.WriteString(fmt.Sprintf("Tests      %s total, %s passed, %s failed, %s skipped\n",
		humanize.Comma(int64(r.Overall.TotalTests)), humanize.Comma(int64(r.Overall.TotalPassed)),
		humanize.Comma(int64(r.Overall.TotalFailed)), humanize.Comma(int64(r.Overall.TotalSkipped))))
	sb.WriteString(fmt.Sprintf("Success    %s (%s)\n", formatPercent(r.Overall.SuccessRate), r.Trends.SuccessRateTrend))
	sb.WriteString(fmt.Sprintf("Duration   %s avg (%s)\n", formatDuration(r.Overall.AvgDuration), r.Trends.DurationTrend))
	if c := r.Overall.Coverage; c != nil {
		sb.WriteString(fmt.Sprintf("Coverage   %s lines, %s branches (%s)\n",
			formatPercent(c.Lines.Percentage), formatPercent(c.Branches.Percentage), r.Trends.CoverageTrend))
	}

	names := make([]string, 0, len(r.Frameworks))
	for fw := range r.Frameworks {
		names = append(names, fw)
	}
	sort.Strings(names)

	cols := []int{10, 6, 8, 9, 10, 16}
	sb.WriteString("\n" + row(cols, headerStyle.Render("framework"), headerStyle.Render("runs"),
		headerStyle.Render("tests"), headerStyle.Render("success"), headerStyle.Render("avg"),
		headerStyle.Render("last run")))
	for _, fw := range names {
		st := r.Frameworks[fw]
		sb.WriteString(row(cols, fw, humanize.Comma(int64(st.Runs)), humanize.Comma(int64(st.TotalTests)),
			formatPercent(st.SuccessRate), formatDuration(st.AvgDuration),
			humanize.RelTime(st.LastRun, now, "ago", "from now")))
	}

	if len(r.Recommendations) > 0 {
		sb.WriteString("\n" + titleStyle.Render("Recommendations") + "\n")
		for _, rec := range r.Recommendations {
			sb.WriteString(fmt.Sprintf("  %s %s\n", levelStyle(rec.Level).Render("["+rec.Level+"]"), rec.Title))
		}
	}
	return sb.String()
}

// levelStyle colours health levels and recommendation levels.
func levelStyle(level string) lipgloss.Style {
	switch level {
	case metrics.LevelExcellent, metrics.LevelGood, "info":
		return passStyle
	case metrics.LevelFair, "warning":
		return warnStyle
	default:
		return failStyle
	}
}
