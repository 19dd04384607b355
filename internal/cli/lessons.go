package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/AbdouB/recall/internal/flow"
	"github.com/AbdouB/recall/internal/models"
	"github.com/AbdouB/recall/internal/scoring"
	"github.com/AbdouB/recall/internal/store"
	"github.com/spf13/cobra"
)

// lessonView is the JSON shape for one lesson across all lesson commands
type lessonView struct {
	ID       string  `json:"id"`
	Title    string  `json:"title"`
	Content  string  `json:"content,omitempty"`
	Level    string  `json:"level"`
	Category string  `json:"category"`
	Rating   string  `json:"rating"`
	Score    float64 `json:"score"`
	Uses     int     `json:"uses"`
	Velocity float64 `json:"velocity"`
	LastUsed string  `json:"last_used"`
	Source   string  `json:"source"`
}

func viewLesson(l *models.Lesson, withContent bool) lessonView {
	v := lessonView{
		ID:       l.ID,
		Title:    l.Title,
		Level:    string(l.Level),
		Category: string(l.Category),
		Rating:   l.Rating(),
		Score:    l.Score,
		Uses:     l.Uses,
		Velocity: l.Velocity,
		LastUsed: l.LastUsed.Format("2006-01-02"),
		Source:   string(l.Source),
	}
	if withContent {
		v.Content = l.Content
	}
	return v
}

// addCmd records a new lesson
var addCmd = &cobra.Command{
	Use:   "add [title] [content]",
	Short: "Record a new lesson",
	Long: `Record a new lesson at project or system level.

Examples:
  recall add "Use table tests" "Prefer table-driven tests for parsers"
  recall add --level system --category gotcha "CGO off by default" "Cross-compiles need CGO_ENABLED=1 for sqlite"`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		level, _ := cmd.Flags().GetString("level")
		category, _ := cmd.Flags().GetString("category")

		lesson, err := newLessonStore().Add(store.AddLessonInput{
			Level:    models.Level(level),
			Category: models.Category(category),
			Title:    args[0],
			Content:  args[1],
		}, time.Now())
		if err != nil {
			outputError(err)
			return err
		}
		outputResult(viewLesson(lesson, true))
		return nil
	},
}

// citeCmd marks a lesson as reused
var citeCmd = &cobra.Command{
	Use:   "cite [id]",
	Short: "Mark a lesson as reused, raising its velocity and maybe its score",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		lessons := newLessonStore()
		if err := lessons.Cite(args[0], time.Now()); err != nil {
			outputError(err)
			return err
		}
		lesson, err := lessons.Get(args[0])
		if err != nil {
			outputError(err)
			return err
		}
		outputResult(viewLesson(lesson, false))
		return nil
	},
}

// listCmd lists lessons, optionally filtered by level
var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List lessons",
	RunE: func(cmd *cobra.Command, args []string) error {
		level, _ := cmd.Flags().GetString("level")

		all, issues, err := newLessonStore().List()
		if err != nil {
			outputError(err)
			return err
		}
		for _, issue := range issues {
			logger.Warn("skipped malformed entry", "id", issue.ID, "line", issue.Line, "reason", issue.Reason)
		}

		var views []lessonView
		for _, l := range all {
			if level != "" && string(l.Level) != level {
				continue
			}
			views = append(views, viewLesson(l, false))
		}
		outputResult(map[string]interface{}{
			"count":   len(views),
			"lessons": views,
			"stats":   flow.LessonCounts(all),
		})
		return nil
	},
}

// showCmd prints one lesson in full
var showCmd = &cobra.Command{
	Use:   "show [id]",
	Short: "Show a lesson in full",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		lesson, err := newLessonStore().Get(args[0])
		if err != nil {
			outputError(err)
			return err
		}
		outputResult(viewLesson(lesson, true))
		return nil
	},
}

// editCmd updates a lesson's editable fields
var editCmd = &cobra.Command{
	Use:   "edit [id]",
	Short: "Edit a lesson's title, content or category",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var edit store.LessonEdit
		if cmd.Flags().Changed("title") {
			title, _ := cmd.Flags().GetString("title")
			edit.Title = &title
		}
		if cmd.Flags().Changed("content") {
			content, _ := cmd.Flags().GetString("content")
			edit.Content = &content
		}
		if cmd.Flags().Changed("category") {
			category, _ := cmd.Flags().GetString("category")
			c := models.Category(category)
			edit.Category = &c
		}

		lessons := newLessonStore()
		if err := lessons.Edit(args[0], edit); err != nil {
			outputError(err)
			return err
		}
		lesson, err := lessons.Get(args[0])
		if err != nil {
			outputError(err)
			return err
		}
		outputResult(viewLesson(lesson, true))
		return nil
	},
}

// demoteCmd lowers a lesson's score by one step
var demoteCmd = &cobra.Command{
	Use:   "demote [id]",
	Short: "Lower a lesson's score by one step",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		lessons := newLessonStore()
		if err := lessons.Demote(args[0]); err != nil {
			outputError(err)
			return err
		}
		lesson, err := lessons.Get(args[0])
		if err != nil {
			outputError(err)
			return err
		}
		outputResult(viewLesson(lesson, false))
		return nil
	},
}

// deleteCmd removes a lesson
var deleteCmd = &cobra.Command{
	Use:   "delete [id]",
	Short: "Delete a lesson",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := newLessonStore().Delete(args[0]); err != nil {
			outputError(err)
			return err
		}
		outputResult(map[string]string{"status": "deleted", "id": args[0]})
		return nil
	},
}

// decayCmd runs the velocity decay cycle
var decayCmd = &cobra.Command{
	Use:   "decay",
	Short: "Run the periodic velocity decay cycle",
	Long: `Halve every lesson's reuse velocity. Normally this runs automatically
once per interval at session start; --force runs it regardless of when it
last ran.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		force, _ := cmd.Flags().GetBool("force")
		changed, err := newLessonStore().Decay(store.DecayConfig{
			StateFile: cfg.DecayStatePath(),
			Interval:  time.Duration(cfg.DecayIntervalDays) * 24 * time.Hour,
			Force:     force,
		}, time.Now())
		if err != nil {
			outputError(err)
			return err
		}
		outputResult(map[string]interface{}{"status": "ok", "lessons_changed": changed})
		return nil
	},
}

// injectCmd ranks lessons against a query and prints the budgeted selection
var injectCmd = &cobra.Command{
	Use:   "inject [query]",
	Short: "Rank lessons against a query and print the injection set",
	Long: `Score every lesson against the query, sort by relevance, and keep the
top entries that fit the injection byte budget. With no query, ranking falls
back to recency and confidence alone.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		query := ""
		if len(args) == 1 {
			query = args[0]
		}

		all, issues, err := newLessonStore().List()
		if err != nil {
			outputError(err)
			return err
		}
		for _, issue := range issues {
			logger.Warn("skipped malformed entry", "id", issue.ID, "line", issue.Line, "reason", issue.Reason)
		}

		scorer := scoring.NewScorer(cfg.RecencyHalfLifeDays, cfg.QueryMaxLen)
		ranked := scorer.Rank(all, query, time.Now())
		packed := scoring.PackBudget(ranked, cfg.InjectBudgetBytes, func(l *models.Lesson) string {
			return fmt.Sprintf("- %s %s [%s]: %s\n", l.Rating(), l.Title, l.Category, l.Content)
		})

		if outputText {
			var b strings.Builder
			for _, r := range packed {
				fmt.Fprintf(&b, "- %s %s [%s]: %s\n", r.Lesson.Rating(), r.Lesson.Title, r.Lesson.Category, r.Lesson.Content)
			}
			fmt.Print(b.String())
			return nil
		}

		type rankedView struct {
			lessonView
			Relevance float64 `json:"relevance"`
		}
		views := make([]rankedView, len(packed))
		for i, r := range packed {
			views[i] = rankedView{lessonView: viewLesson(r.Lesson, true), Relevance: r.Score}
		}
		outputResult(map[string]interface{}{"count": len(views), "lessons": views})
		return nil
	},
}

func init() {
	addCmd.Flags().String("level", "project", "Lesson level: project or system")
	addCmd.Flags().String("category", "pattern", "Category: pattern, gotcha, preference, fact, tool, process")

	listCmd.Flags().String("level", "", "Filter by level: project or system")

	editCmd.Flags().String("title", "", "New title")
	editCmd.Flags().String("content", "", "New content")
	editCmd.Flags().String("category", "", "New category")

	decayCmd.Flags().Bool("force", false, "Run even if the interval has not elapsed")

	rootCmd.AddCommand(addCmd, citeCmd, listCmd, showCmd, editCmd, demoteCmd, deleteCmd, decayCmd, injectCmd)
}
