package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"foreman/internal/buildinfo"
	"foreman/internal/debug"
)

const (
	// ANSI color codes
	colorReset  = "\033[0m"
	colorBold   = "\033[1m"
	colorDim    = "\033[2m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"

	styleBoldCyan  = "\033[1;36m"
	styleBoldWhite = "\033[1;37m"
)

var rootCmd = &cobra.Command{
	Use:   "foreman",
	Short: "Delegate tickets to isolated worker agents",
	Long: styleBoldCyan + `foreman` + colorReset + ` v` + buildinfo.Current().Version + `

  Hand tasks off to AI worker agents, each running detached in its own
  git worktree on its own branch, coordinated through a ticket CLI.
  foreman polls process, ticket, and session activity to tell you when a
  worker finishes, fails, or goes quiet.

` + colorBold + `Getting Started:` + colorReset + `
  foreman delegate alice "Fix the flaky login test"
  foreman status                  Show all workers
  foreman watch                   Live worker view
  foreman comment alice "check auth_test.go first"
  foreman kill alice              Stop a worker, preserving its work`,

	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.CompletionOptions.HiddenDefaultCmd = true
	rootCmd.PersistentFlags().Bool("debug", false, "Enable verbose debug logging to ~/.foreman/debug/")

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		debugFlag, _ := cmd.Flags().GetBool("debug")
		if !debugFlag && !debug.ShouldEnableFromEnv() {
			return nil
		}
		logPath, err := debug.Init()
		if err != nil {
			return fmt.Errorf("initializing debug logger: %w", err)
		}
		fmt.Fprintf(os.Stderr, "%s[debug]%s logging to %s\n", colorDim, colorReset, logPath)
		bi := buildinfo.Current()
		debug.LogKV("cli", "foreman starting",
			"version", bi.Version,
			"commit", bi.Commit,
			"pid", os.Getpid(),
			"command", cmd.Name(),
			"args", args,
		)
		return nil
	}
}

// Execute runs the root command.
func Execute() {
	defer debug.Close()
	if err := rootCmd.Execute(); err != nil {
		debug.LogKV("cli", "exit with error", "error", err)
		fmt.Fprintf(os.Stderr, "%sError: %s%s\n", colorRed, err, colorReset)
		os.Exit(1)
	}
	debug.LogKV("cli", "exit success")
}
