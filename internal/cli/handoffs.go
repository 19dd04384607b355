package cli

import (
	"time"

	"github.com/AbdouB/recall/internal/models"
	"github.com/AbdouB/recall/internal/store"
	"github.com/spf13/cobra"
)

// handoffView is the JSON shape for one handoff
type handoffView struct {
	ID          string      `json:"id"`
	Title       string      `json:"title"`
	Description string      `json:"description,omitempty"`
	Status      string      `json:"status"`
	Phase       string      `json:"phase"`
	Files       []string    `json:"files,omitempty"`
	Tried       []triedView `json:"tried,omitempty"`
	Next        string      `json:"next,omitempty"`
	Created     string      `json:"created"`
	Updated     string      `json:"updated"`
	Sessions    []string    `json:"sessions,omitempty"`
	Agent       string      `json:"agent,omitempty"`
	Archived    bool        `json:"archived,omitempty"`
}

type triedView struct {
	Outcome     string `json:"outcome"`
	Description string `json:"description"`
}

func viewHandoff(h *models.Handoff) handoffView {
	v := handoffView{
		ID:          h.ID,
		Title:       h.Title,
		Description: h.Description,
		Status:      string(h.Status),
		Phase:       string(h.Phase),
		Files:       h.Files,
		Next:        h.Next,
		Created:     h.Created.Format(time.RFC3339),
		Updated:     h.Updated.Format(time.RFC3339),
		Sessions:    h.Sessions,
		Agent:       h.Agent,
		Archived:    h.Archived,
	}
	for _, t := range h.Tried {
		v.Tried = append(v.Tried, triedView{Outcome: string(t.Outcome), Description: t.Description})
	}
	return v
}

// handoffCmd groups the work-item commands
var handoffCmd = &cobra.Command{
	Use:   "handoff",
	Short: "Manage in-progress work items across sessions",
}

var handoffAddCmd = &cobra.Command{
	Use:   "add [title]",
	Short: "Open a new handoff",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		desc, _ := cmd.Flags().GetString("desc")
		h, err := newHandoffStore().Add(args[0], desc, time.Now())
		if err != nil {
			outputError(err)
			return err
		}
		outputResult(viewHandoff(h))
		return nil
	},
}

var handoffListCmd = &cobra.Command{
	Use:   "list",
	Short: "List active handoffs",
	RunE: func(cmd *cobra.Command, args []string) error {
		all, _ := cmd.Flags().GetBool("all")

		handoffs, issues, err := newHandoffStore().List()
		if err != nil {
			outputError(err)
			return err
		}
		for _, issue := range issues {
			logger.Warn("skipped malformed entry", "id", issue.ID, "line", issue.Line, "reason", issue.Reason)
		}

		var views []handoffView
		for _, h := range handoffs {
			if !all && h.Status == models.StatusCompleted {
				continue
			}
			views = append(views, viewHandoff(h))
		}
		outputResult(map[string]interface{}{"count": len(views), "handoffs": views})
		return nil
	},
}

var handoffShowCmd = &cobra.Command{
	Use:   "show [id]",
	Short: "Show a handoff in full",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		h, err := newHandoffStore().Get(args[0])
		if err != nil {
			outputError(err)
			return err
		}
		outputResult(viewHandoff(h))
		return nil
	},
}

var handoffUpdateCmd = &cobra.Command{
	Use:   "update [id]",
	Short: "Update a handoff's fields or status",
	Long: `Update a handoff's metadata, and optionally move it through its
lifecycle with --status. Status changes are validated against the state
machine; an illegal transition is rejected, never coerced.

Examples:
  recall handoff update hf-0000001 --status in_progress
  recall handoff update hf-0000001 --next "wire the parser into the store"
  recall handoff update hf-0000001 --phase implementing --files "a.go,b.go"`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id := args[0]
		handoffs := newHandoffStore()
		now := time.Now()

		var edit store.HandoffEdit
		changed := false
		if cmd.Flags().Changed("desc") {
			desc, _ := cmd.Flags().GetString("desc")
			edit.Description = &desc
			changed = true
		}
		if cmd.Flags().Changed("next") {
			next, _ := cmd.Flags().GetString("next")
			edit.Next = &next
			changed = true
		}
		if cmd.Flags().Changed("agent") {
			agent, _ := cmd.Flags().GetString("agent")
			edit.Agent = &agent
			changed = true
		}
		if cmd.Flags().Changed("phase") {
			phase, _ := cmd.Flags().GetString("phase")
			p := models.Phase(phase)
			edit.Phase = &p
			changed = true
		}
		if cmd.Flags().Changed("files") {
			files, _ := cmd.Flags().GetStringSlice("files")
			edit.Files = files
			changed = true
		}
		if changed {
			if err := handoffs.Update(id, edit, now); err != nil {
				outputError(err)
				return err
			}
		}

		if cmd.Flags().Changed("status") {
			status, _ := cmd.Flags().GetString("status")
			if _, err := handoffs.Transition(id, models.Status(status), now); err != nil {
				outputError(err)
				return err
			}
		}

		h, err := handoffs.Get(id)
		if err != nil {
			outputError(err)
			return err
		}
		outputResult(viewHandoff(h))
		return nil
	},
}

var handoffTriedCmd = &cobra.Command{
	Use:   "tried [id] [outcome] [description]",
	Short: "Append an attempt to a handoff's tried log",
	Long: `Record what was attempted and how it went. Outcome is one of
fail, partial, success. The tried log is append-only.`,
	Args: cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		handoffs := newHandoffStore()
		if err := handoffs.AddTried(args[0], models.Outcome(args[1]), args[2], time.Now()); err != nil {
			outputError(err)
			return err
		}
		h, err := handoffs.Get(args[0])
		if err != nil {
			outputError(err)
			return err
		}
		outputResult(viewHandoff(h))
		return nil
	},
}

var handoffCompleteCmd = &cobra.Command{
	Use:   "complete [id]",
	Short: "Mark a handoff completed",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		result, err := newHandoffStore().Complete(args[0], time.Now())
		if err != nil {
			outputError(err)
			return err
		}
		outputResult(result)
		return nil
	},
}

var handoffArchiveCmd = &cobra.Command{
	Use:   "archive",
	Short: "Move old completed handoffs to the archive file",
	RunE: func(cmd *cobra.Command, args []string) error {
		days, _ := cmd.Flags().GetInt("older-than")
		if days <= 0 {
			days = cfg.ArchiveAfterDays
		}
		moved, err := newHandoffStore().Archive(time.Duration(days)*24*time.Hour, time.Now())
		if err != nil {
			outputError(err)
			return err
		}
		outputResult(map[string]interface{}{"status": "ok", "archived": moved})
		return nil
	},
}

var handoffLinkCmd = &cobra.Command{
	Use:   "link [session-id] [handoff-id]",
	Short: "Link a session to the handoff it is working on",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		sessionID, handoffID := args[0], args[1]
		now := time.Now()

		if err := newHandoffStore().LinkSession(handoffID, sessionID, now); err != nil {
			outputError(err)
			return err
		}
		if err := newSessionIndex().Set(sessionID, handoffID, now); err != nil {
			outputError(err)
			return err
		}
		outputResult(map[string]string{"session_id": sessionID, "handoff_id": handoffID})
		return nil
	},
}

var handoffCurrentCmd = &cobra.Command{
	Use:   "current [session-id]",
	Short: "Show which handoff a session is linked to",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := newSessionIndex().Get(args[0])
		if err != nil {
			outputError(err)
			return err
		}
		if id == "" {
			outputResult(map[string]interface{}{"session_id": args[0], "handoff_id": nil})
			return nil
		}
		h, err := newHandoffStore().Get(id)
		if err != nil {
			outputError(err)
			return err
		}
		outputResult(viewHandoff(h))
		return nil
	},
}

var handoffRebuildIndexCmd = &cobra.Command{
	Use:   "rebuild-index",
	Short: "Regenerate the session index from handoff back-references",
	RunE: func(cmd *cobra.Command, args []string) error {
		handoffs, _, err := newHandoffStore().List()
		if err != nil {
			outputError(err)
			return err
		}
		if err := newSessionIndex().Rebuild(handoffs, time.Now()); err != nil {
			outputError(err)
			return err
		}
		outputResult(map[string]string{"status": "ok"})
		return nil
	},
}

func init() {
	handoffAddCmd.Flags().String("desc", "", "Initial description")
	handoffListCmd.Flags().Bool("all", false, "Include completed handoffs")
	handoffUpdateCmd.Flags().String("desc", "", "New description")
	handoffUpdateCmd.Flags().String("next", "", "Next step for the following session")
	handoffUpdateCmd.Flags().String("agent", "", "Agent working the handoff")
	handoffUpdateCmd.Flags().String("phase", "", "Phase: research, planning, implementing, review")
	handoffUpdateCmd.Flags().StringSlice("files", nil, "Files involved")
	handoffUpdateCmd.Flags().String("status", "", "New status: not_started, in_progress, blocked, ready_for_review, completed")
	handoffArchiveCmd.Flags().Int("older-than", 0, "Archive completed handoffs idle for this many days (default from config)")

	handoffCmd.AddCommand(
		handoffAddCmd, handoffListCmd, handoffShowCmd, handoffUpdateCmd,
		handoffTriedCmd, handoffCompleteCmd, handoffArchiveCmd,
		handoffLinkCmd, handoffCurrentCmd, handoffRebuildIndexCmd,
	)
	rootCmd.AddCommand(handoffCmd)
}
