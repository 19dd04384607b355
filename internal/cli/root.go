// Package cli provides the command-line interface for Recall
package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/AbdouB/recall/internal/config"
	"github.com/AbdouB/recall/internal/debuglog"
	"github.com/AbdouB/recall/internal/store"
	"github.com/spf13/cobra"
)

// Version is set from the main package at startup
var Version = "dev"

var (
	cfg        *config.Config
	logger     *debuglog.Logger
	outputText bool // --text flag for human-readable output (default is JSON for LLMs)
	verbose    bool
)

// rootCmd is the base command
var rootCmd = &cobra.Command{
	Use:   "recall",
	Short: "Knowledge retention engine for AI coding sessions",
	Long: `Recall - Knowledge Retention for AI Coding Sessions

Persist lessons and in-progress work across sessions, and inject the most
relevant ones back at the right moment.

Quick Start:
  recall add "title" "content"       # Record a lesson
  recall inject "query"              # Rank lessons against a query
  recall cite ls-0001                # Mark a lesson as reused
  recall handoff add "title"         # Open a work item for the next session
  recall handoff complete hf-0000001 # Close it out
  recall flow                        # Pipeline health overview

For more information, visit: https://github.com/AbdouB/recall`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "help" || cmd.Name() == "version" {
			return nil
		}

		var err error
		cfg, err = config.Load()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		level := cfg.DebugLevel
		if verbose && level < 2 {
			level = 2
		}
		logger = debuglog.Open(cfg.LogPath(), level)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			logger.Close()
		}
	},
}

// Execute runs the CLI
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&outputText, "text", false, "Human-readable text output (default is JSON for LLM consumption)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output")

	rootCmd.AddCommand(versionCmd)
}

// projectDir is the project root for record resolution. Store files live
// under .recall/ inside it.
func projectDir() string {
	cwd, err := os.Getwd()
	if err != nil {
		return "."
	}
	return cwd
}

func lockTimeout() time.Duration {
	return time.Duration(cfg.LockTimeoutMS) * time.Millisecond
}

func newLessonStore() *store.LessonStore {
	dir := projectDir()
	return store.NewLessonStore(cfg.ProjectLessonsPath(dir), cfg.SystemLessonsPath(), lockTimeout())
}

func newHandoffStore() *store.HandoffStore {
	dir := projectDir()
	return store.NewHandoffStore(cfg.HandoffsPath(dir), cfg.HandoffArchivePath(dir), lockTimeout())
}

func newSessionIndex() *store.SessionIndex {
	return store.NewSessionIndex(cfg.SessionIndexPath(), lockTimeout())
}

// outputResult outputs the result in the appropriate format
// Default is JSON (for LLMs), use --text for human-readable
func outputResult(result interface{}) {
	if outputText {
		fmt.Printf("%+v\n", result)
	} else {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		enc.Encode(result)
	}
}

// outputError outputs an error in the appropriate format
// Default is JSON (for LLMs), use --text for human-readable
func outputError(err error) {
	if outputText {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	} else {
		result := map[string]interface{}{
			"status": "error",
			"error":  err.Error(),
		}
		enc := json.NewEncoder(os.Stderr)
		enc.Encode(result)
	}
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("recall version %s\n", Version)
	},
}
