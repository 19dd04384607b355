package cli

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/AbdouB/recall/internal/flow"
	"github.com/AbdouB/recall/internal/models"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
)

var (
	flowTitleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	flowLabelStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	flowBlockedStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("9"))
	flowOKStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
)

// flowCmd reports pipeline health across handoffs and lessons
var flowCmd = &cobra.Command{
	Use:   "flow",
	Short: "Pipeline health overview",
	Long: `Aggregate handoffs into flow statistics: status and phase breakdowns,
cycle time, completion rate, and handoffs stuck in blocked past the alert
threshold.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		threshold, _ := cmd.Flags().GetInt("blocked-threshold")
		if threshold <= 0 {
			threshold = cfg.BlockedThresholdDays
		}

		handoffs, issues, err := newHandoffStore().List()
		if err != nil {
			outputError(err)
			return err
		}
		for _, issue := range issues {
			logger.Warn("skipped malformed entry", "id", issue.ID, "line", issue.Line, "reason", issue.Reason)
		}
		lessons, _, err := newLessonStore().List()
		if err != nil {
			outputError(err)
			return err
		}

		stats := flow.Compute(handoffs, time.Now(), threshold)
		lessonStats := flow.LessonCounts(lessons)

		if outputText {
			fmt.Print(renderFlow(stats, lessonStats))
			return nil
		}
		outputResult(map[string]interface{}{"handoffs": stats, "lessons": lessonStats})
		return nil
	},
}

func renderFlow(stats flow.Stats, lessons flow.LessonStats) string {
	var b strings.Builder

	b.WriteString(flowTitleStyle.Render("Flow") + "\n\n")
	fmt.Fprintf(&b, "%s %d total, %d active, %d completed (%.0f%%)\n",
		flowLabelStyle.Render("handoffs:"),
		stats.Total, stats.ActiveCount, stats.CompletedCount, stats.CompletionRate*100)
	fmt.Fprintf(&b, "%s %.1f days avg cycle, %.1f days avg age\n",
		flowLabelStyle.Render("timing:  "), stats.AvgCycleDays, stats.AvgAgeDays)

	if len(stats.ByStatus) > 0 {
		b.WriteString(flowLabelStyle.Render("status:  "))
		b.WriteString(" " + countLine(statusCounts(stats.ByStatus)) + "\n")
	}
	if len(stats.ByPhase) > 0 {
		b.WriteString(flowLabelStyle.Render("phase:   "))
		b.WriteString(" " + countLine(phaseCounts(stats.ByPhase)) + "\n")
	}

	b.WriteString("\n")
	if len(stats.BlockedOverThreshold) == 0 {
		b.WriteString(flowOKStyle.Render("no handoffs blocked past threshold") + "\n")
	} else {
		b.WriteString(flowBlockedStyle.Render("blocked past threshold:") + "\n")
		for _, alert := range stats.BlockedOverThreshold {
			fmt.Fprintf(&b, "  [%s] %s — %d days\n", alert.ID, alert.Title, alert.DaysBlocked)
		}
	}

	fmt.Fprintf(&b, "\n%s %d total", flowLabelStyle.Render("lessons: "), lessons.Total)
	for _, level := range []models.Level{models.LevelSystem, models.LevelProject} {
		if n := lessons.ByLevel[level]; n > 0 {
			fmt.Fprintf(&b, ", %d %s", n, level)
		}
	}
	b.WriteString("\n")
	return b.String()
}

func statusCounts(m map[models.Status]int) map[string]int {
	out := make(map[string]int, len(m))
	for k, v := range m {
		out[string(k)] = v
	}
	return out
}

func phaseCounts(m map[models.Phase]int) map[string]int {
	out := make(map[string]int, len(m))
	for k, v := range m {
		out[string(k)] = v
	}
	return out
}

// countLine renders a count map as "k=v k=v" in stable key order
func countLine(m map[string]int) string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%d", k, m[k])
	}
	return strings.Join(parts, " ")
}

func init() {
	flowCmd.Flags().Int("blocked-threshold", 0, "Days blocked before alerting (default from config)")
	rootCmd.AddCommand(flowCmd)
}
