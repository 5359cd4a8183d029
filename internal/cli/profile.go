package cli

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/agusx1211/corral/internal/agent"
	"github.com/agusx1211/corral/internal/config"
	"github.com/agusx1211/corral/internal/detect"
)

var profileCmd = &cobra.Command{
	Use:     "profile",
	Aliases: []string{"profiles", "agent", "agents"},
	Short:   "Manage agent profiles",
}

var profileListCmd = &cobra.Command{
	Use:   "list",
	Short: "List agent profiles",
	Args:  cobra.NoArgs,
	RunE:  runProfileList,
}

var profileAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Add an agent profile",
	Args:  cobra.NoArgs,
	RunE:  runProfileAdd,
}

var profileDetectCmd = &cobra.Command{
	Use:   "detect",
	Short: "Find installed agent CLIs",
	Args:  cobra.NoArgs,
	RunE:  runProfileDetect,
}

var profileRemoveCmd = &cobra.Command{
	Use:     "remove <id>",
	Aliases: []string{"rm"},
	Short:   "Remove an agent profile",
	Args:    cobra.ExactArgs(1),
	RunE:    runProfileRemove,
}

func init() {
	profileListCmd.Flags().Bool("json", false, "Print profiles as JSON")

	f := profileAddCmd.Flags()
	f.String("id", "", "Profile id (required)")
	f.String("name", "", "Display name")
	f.String("runtime", "", "Runtime: "+strings.Join(agent.Kinds(), ", "))
	f.String("command", "", "Binary override (required for generic runtimes)")
	f.StringSlice("arg", nil, "Extra argument (repeatable)")
	f.String("model", "", "Model override")
	f.String("system-prompt", "", "System prompt")
	f.String("cwd", "", "Workspace directory")
	f.StringToString("env", nil, "Extra environment, KEY=VALUE")
	f.Bool("full-access", false, "Skip permission prompts")
	f.Bool("allow-interrupt", false, "Allow cancelling mid-task")
	f.Int("max-concurrent", 0, "Concurrent task cap (0 = default)")
	_ = profileAddCmd.MarkFlagRequired("id")
	_ = profileAddCmd.MarkFlagRequired("runtime")

	profileDetectCmd.Flags().Bool("json", false, "Print results as JSON")

	profileCmd.AddCommand(profileListCmd, profileAddCmd, profileRemoveCmd, profileDetectCmd)
	rootCmd.AddCommand(profileCmd)
}

func runProfileList(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
		return printJSON(cmd.OutOrStdout(), cfg.Profiles)
	}
	rows := make([][]string, 0, len(cfg.Profiles))
	for i := range cfg.Profiles {
		p := &cfg.Profiles[i]
		rows = append(rows, []string{
			p.ID,
			p.DisplayName(),
			p.Runtime,
			orDash(p.Model),
			strconv.Itoa(p.Concurrency(cfg.Settings.DefaultConcurrency)),
			orDash(p.Cwd),
		})
	}
	printTable(cmd.OutOrStdout(), []string{"ID", "NAME", "RUNTIME", "MODEL", "CAP", "CWD"}, rows)
	return nil
}

func runProfileAdd(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	f := cmd.Flags()
	var p config.Profile
	p.ID, _ = f.GetString("id")
	p.Name, _ = f.GetString("name")
	p.Runtime, _ = f.GetString("runtime")
	p.Command, _ = f.GetString("command")
	p.Args, _ = f.GetStringSlice("arg")
	p.Model, _ = f.GetString("model")
	p.SystemPrompt, _ = f.GetString("system-prompt")
	p.Cwd, _ = f.GetString("cwd")
	p.Env, _ = f.GetStringToString("env")
	p.FullAccess, _ = f.GetBool("full-access")
	p.AllowInterrupt, _ = f.GetBool("allow-interrupt")
	p.MaxConcurrent, _ = f.GetInt("max-concurrent")

	if _, ok := agent.Lookup(p.Runtime); !ok {
		return fmt.Errorf("unknown runtime %q (known: %s)", p.Runtime, strings.Join(agent.Kinds(), ", "))
	}
	if err := cfg.AddProfile(p); err != nil {
		return err
	}
	if err := cfg.Save(); err != nil {
		return fmt.Errorf("saving config: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Added profile %s (%s)\n", styleBold.Render(p.ID), p.Runtime)
	return nil
}

func runProfileRemove(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if !cfg.RemoveProfile(args[0]) {
		return fmt.Errorf("profile %q not found", args[0])
	}
	if err := cfg.Save(); err != nil {
		return fmt.Errorf("saving config: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Removed profile %s\n", args[0])
	return nil
}

func runProfileDetect(cmd *cobra.Command, args []string) error {
	found := detect.Scan(cmd.Context())
	if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
		return printJSON(cmd.OutOrStdout(), found)
	}
	w := cmd.OutOrStdout()
	if len(found) == 0 {
		fmt.Fprintln(w, styleDim.Render("No agent CLIs found on PATH."))
		return nil
	}
	rows := make([][]string, 0, len(found))
	for _, f := range found {
		rows = append(rows, []string{f.Runtime, f.Version, f.Path})
	}
	printTable(w, []string{"RUNTIME", "VERSION", "PATH"}, rows)
	fmt.Fprintln(w)
	fmt.Fprintln(w, styleDim.Render("Add one with: corral profile add --id <id> --runtime <runtime>"))
	return nil
}
