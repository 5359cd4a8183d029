package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/agusx1211/corral/internal/buildinfo"
	"github.com/agusx1211/corral/internal/debug"
)

var rootCmd = &cobra.Command{
	Use:   "corral",
	Short: "Run and supervise coding agents",
	Long: styleTitle.Render("corral") + " v" + buildinfo.Current().Version + `

  Runs tasks through agent CLIs (claude, codex, gemini or any command),
  hosts interactive terminal sessions per agent and keeps an eye on the
  services those agents start.

` + styleBold.Render("Getting Started:") + `
  corral profile add --id alpha --runtime claude --cwd ~/src/app
  corral serve                              Start the scheduler and API
  corral task create "Fix the login bug" --agent alpha
  corral task list
  corral exec alpha "summarize README.md"   One-off run, no server needed`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.CompletionOptions.HiddenDefaultCmd = true
	rootCmd.PersistentFlags().Bool("debug", false, "Enable verbose debug logging to ~/.corral/debug/")
	rootCmd.PersistentFlags().String("config", "", "Path to config.json (default ~/.corral/config.json)")

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		debugFlag, _ := cmd.Flags().GetBool("debug")
		if !debugFlag && !debug.ShouldEnableFromEnv() {
			return nil
		}
		logPath, err := debug.Init()
		if err != nil {
			return fmt.Errorf("initializing debug logger: %w", err)
		}
		fmt.Fprintf(os.Stderr, "%s logging to %s\n", styleDim.Render("[debug]"), logPath)
		bi := buildinfo.Current()
		debug.LogKV("cli", "corral starting",
			"version", bi.Version,
			"commit", bi.CommitHash,
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
		debug.Logf("cli", "exit with error: %v", err)
		fmt.Fprintln(os.Stderr, styleError.Render("Error: "+err.Error()))
		debug.Close()
		os.Exit(1)
	}
	debug.Log("cli", "exit success")
}
