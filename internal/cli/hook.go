package cli

import (
	"os"

	"github.com/AbdouB/recall/internal/hooks"
	"github.com/spf13/cobra"
)

// hookCmd groups the host-event entry points. These commands are wired into
// the host's hook configuration, not typed by hand.
var hookCmd = &cobra.Command{
	Use:    "hook",
	Short:  "Host event entry points (reads event JSON from stdin)",
	Hidden: true,
}

// runHook wraps one hook invocation with the degradation contract: any
// failure logs, emits an empty payload, and exits zero. A broken hook must
// never break the host's pipeline.
func runHook(event string, fn func(*hooks.Engine, hooks.Input) (string, error)) error {
	in := hooks.ReadInput(os.Stdin)
	if in.CWD == "" {
		in.CWD = projectDir()
	}

	engine, err := hooks.NewEngine(cfg, in.CWD, logger)
	if err != nil {
		logger.Degraded(event, err)
		return hooks.WriteOutput(os.Stdout, hooks.Output{})
	}
	defer engine.Close()

	text, err := fn(engine, in)
	if err != nil {
		logger.Degraded(event, err)
		return hooks.WriteOutput(os.Stdout, hooks.Output{})
	}
	eventName := in.HookEventName
	if eventName == "" {
		eventName = event
	}
	return hooks.WriteOutput(os.Stdout, hooks.ContextOutput(eventName, text))
}

var hookSessionStartCmd = &cobra.Command{
	Use:   "session-start",
	Short: "Inject lessons and open work at session start",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runHook("session-start", func(e *hooks.Engine, in hooks.Input) (string, error) {
			return e.SessionStart(in)
		})
	},
}

var hookPromptCmd = &cobra.Command{
	Use:   "prompt",
	Short: "Inject lessons relevant to the user's prompt",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runHook("prompt", func(e *hooks.Engine, in hooks.Input) (string, error) {
			return e.Prompt(in)
		})
	},
}

var hookStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Extract and apply directives from the session transcript",
	RunE: func(cmd *cobra.Command, args []string) error {
		in := hooks.ReadInput(os.Stdin)
		if in.CWD == "" {
			in.CWD = projectDir()
		}

		engine, err := hooks.NewEngine(cfg, in.CWD, logger)
		if err != nil {
			logger.Degraded("stop", err)
			return hooks.WriteOutput(os.Stdout, hooks.Output{})
		}
		defer engine.Close()

		result, err := engine.Stop(in)
		if err != nil {
			logger.Degraded("stop", err)
			return hooks.WriteOutput(os.Stdout, hooks.Output{})
		}
		logger.Info("stop", "session_id", in.SessionID, "applied", result.Applied, "errors", len(result.Errors))
		outputResult(result)
		return nil
	},
}

func init() {
	hookCmd.AddCommand(hookSessionStartCmd, hookPromptCmd, hookStopCmd)
	rootCmd.AddCommand(hookCmd)
}
