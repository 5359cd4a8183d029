package cli

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/agusx1211/corral/internal/agent"
	"github.com/agusx1211/corral/internal/stream"
)

var execCmd = &cobra.Command{
	Use:   "exec <agent> [prompt...]",
	Short: "Run one prompt through an agent and print the result",
	Long: `Run one prompt through an agent's runtime without the scheduler. The
prompt is read from stdin when no words follow the agent id.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runExec,
}

func init() {
	execCmd.Flags().String("cwd", "", "Working directory (default: the profile cwd)")
	execCmd.Flags().String("resume", "", "Runtime session id to continue")
	execCmd.Flags().Bool("json", false, "Print the full result as JSON")
	rootCmd.AddCommand(execCmd)
}

func runExec(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	prof, ok := cfg.Profile(args[0])
	if !ok {
		return fmt.Errorf("unknown agent %q", args[0])
	}

	input := strings.Join(args[1:], " ")
	if input == "" {
		data, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return fmt.Errorf("reading prompt: %w", err)
		}
		input = string(data)
	}
	if strings.TrimSpace(input) == "" {
		return fmt.Errorf("empty prompt")
	}

	cwd, _ := cmd.Flags().GetString("cwd")
	resume, _ := cmd.Flags().GetString("resume")
	opts := agent.Options{WorkDir: cwd, ResumeSessionID: resume}
	if isatty.IsTerminal(os.Stderr.Fd()) {
		opts.OnProgress = func(p stream.Progress) {
			fmt.Fprintf(os.Stderr, "\r\033[K%s %s", styleDim.Render(p.Elapsed.Round(time.Second).String()), truncate(p.Tail, 70))
		}
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	res := agent.NewEngine(cfg.Settings).Execute(ctx, prof, input, opts)
	if opts.OnProgress != nil {
		fmt.Fprint(os.Stderr, "\r\033[K")
	}

	out := cmd.OutOrStdout()
	if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
		if err := printJSON(out, res); err != nil {
			return err
		}
	} else if res.Text != "" {
		fmt.Fprintln(out, res.Text)
	}
	if res.SessionID != "" {
		fmt.Fprintln(os.Stderr, styleDim.Render("session: "+res.SessionID))
	}
	if !res.Success {
		return fmt.Errorf("%s: %s", res.ErrorKind, res.Error)
	}
	return nil
}
