package cli

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/charmbracelet/x/ansi"
	"github.com/spf13/cobra"

	"github.com/agusx1211/corral/internal/terminal"
)

var sessionCmd = &cobra.Command{
	Use:     "session",
	Aliases: []string{"sessions"},
	Short:   "Manage interactive agent terminals",
}

var sessionListCmd = &cobra.Command{
	Use:   "list",
	Short: "List live sessions",
	Args:  cobra.NoArgs,
	RunE:  runSessionList,
}

var sessionSpawnCmd = &cobra.Command{
	Use:   "spawn <agent> [command [args...]]",
	Short: "Start a terminal for an agent (a bare shell when no command is given)",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runSessionSpawn,
}

var sessionKillCmd = &cobra.Command{
	Use:   "kill <agent>",
	Short: "Terminate an agent's session",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionKill,
}

var sessionScrollbackCmd = &cobra.Command{
	Use:   "scrollback <agent>",
	Short: "Print a session's scrollback",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionScrollback,
}

func init() {
	sessionSpawnCmd.Flags().String("cwd", "", "Working directory (default: the profile cwd)")
	sessionSpawnCmd.Flags().Int("cols", terminal.DefaultCols, "Terminal width")
	sessionSpawnCmd.Flags().Int("rows", terminal.DefaultRows, "Terminal height")
	sessionScrollbackCmd.Flags().Bool("raw", false, "Keep escape sequences")

	addClientFlags(sessionCmd)
	sessionCmd.AddCommand(sessionListCmd, sessionSpawnCmd, sessionKillCmd, sessionScrollbackCmd)
	rootCmd.AddCommand(sessionCmd)
}

func runSessionList(cmd *cobra.Command, args []string) error {
	client, err := connect(cmd)
	if err != nil {
		return err
	}
	var list []terminal.SessionInfo
	if err := client.do(http.MethodGet, "/api/sessions", nil, &list); err != nil {
		return fmt.Errorf("listing sessions: %w", err)
	}
	now := time.Now()
	rows := make([][]string, 0, len(list))
	for _, s := range list {
		rows = append(rows, []string{
			s.AgentID,
			strconv.Itoa(s.PID),
			fmt.Sprintf("%dx%d", s.Cols, s.Rows),
			formatAge(s.StartedAt, now),
			truncate(orDash(s.Command), 40),
			s.Cwd,
		})
	}
	printTable(cmd.OutOrStdout(), []string{"AGENT", "PID", "SIZE", "UP", "COMMAND", "CWD"}, rows)
	return nil
}

func runSessionSpawn(cmd *cobra.Command, args []string) error {
	client, err := connect(cmd)
	if err != nil {
		return err
	}
	cwd, _ := cmd.Flags().GetString("cwd")
	cols, _ := cmd.Flags().GetInt("cols")
	rows, _ := cmd.Flags().GetInt("rows")
	req := map[string]any{"cwd": cwd, "cols": cols, "rows": rows}
	if len(args) > 1 {
		req["command"] = args[1]
		req["args"] = args[2:]
	}

	var res terminal.SpawnResult
	if err := client.do(http.MethodPost, "/api/sessions/"+url.PathEscape(args[0]), req, &res, http.StatusCreated); err != nil {
		return fmt.Errorf("spawning session: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Session for %s started (pid %d)\n", args[0], res.PID)
	return nil
}

func runSessionKill(cmd *cobra.Command, args []string) error {
	client, err := connect(cmd)
	if err != nil {
		return err
	}
	if err := client.do(http.MethodDelete, "/api/sessions/"+url.PathEscape(args[0]), nil, nil); err != nil {
		return fmt.Errorf("killing session: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Session for %s killed\n", args[0])
	return nil
}

func runSessionScrollback(cmd *cobra.Command, args []string) error {
	client, err := connect(cmd)
	if err != nil {
		return err
	}
	var resp struct {
		Data string `json:"data"`
	}
	if err := client.do(http.MethodGet, "/api/sessions/"+url.PathEscape(args[0])+"/scrollback", nil, &resp); err != nil {
		return fmt.Errorf("reading scrollback: %w", err)
	}
	out := resp.Data
	if raw, _ := cmd.Flags().GetBool("raw"); !raw {
		out = ansi.Strip(out)
	}
	fmt.Fprint(cmd.OutOrStdout(), out)
	return nil
}
