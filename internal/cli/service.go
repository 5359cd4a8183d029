package cli

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/agusx1211/corral/internal/services"
)

var serviceCmd = &cobra.Command{
	Use:     "service",
	Aliases: []string{"services", "svc"},
	Short:   "Inspect and control services started by agents",
}

var serviceListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tracked services and their health",
	Args:  cobra.NoArgs,
	RunE:  runServiceList,
}

var serviceScanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Reread every workspace's service manifest",
	Args:  cobra.NoArgs,
	RunE:  runServiceScan,
}

var serviceRestartCmd = &cobra.Command{
	Use:   "restart <name>",
	Short: "Kill and relaunch a service from its recorded command",
	Args:  cobra.ExactArgs(1),
	RunE:  runServiceRestart,
}

var serviceStopCmd = &cobra.Command{
	Use:   "stop <port>",
	Short: "Kill whatever listens on a port",
	Args:  cobra.ExactArgs(1),
	RunE:  runServiceStop,
}

func init() {
	serviceListCmd.Flags().StringP("agent", "a", "", "Only this agent's services")
	serviceListCmd.Flags().Bool("json", false, "Print services as JSON")
	serviceScanCmd.Flags().Bool("json", false, "Print services as JSON")

	addClientFlags(serviceCmd)
	serviceCmd.AddCommand(serviceListCmd, serviceScanCmd, serviceRestartCmd, serviceStopCmd)
	rootCmd.AddCommand(serviceCmd)
}

// scanLocally builds a one-shot registry from the profiles and probes it
// once.
func scanLocally(cmd *cobra.Command) ([]services.TrackedService, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	opts := services.OptionsFromSettings(cfg.Settings, nil)
	opts.FailureThreshold = 1
	opts.GraceWindow = time.Nanosecond
	reg := services.NewRegistry(opts)

	ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
	defer cancel()
	scanErr := reg.ScanProfiles(ctx, cfg.Profiles)
	reg.Check(ctx)
	return reg.List(), scanErr
}

func runServiceList(cmd *cobra.Command, args []string) error {
	agentID, _ := cmd.Flags().GetString("agent")
	var list []services.TrackedService

	client, err := connect(cmd)
	if err != nil {
		if server, _ := cmd.Flags().GetString("server"); server != "" {
			return err
		}
		list, err = scanLocally(cmd)
		if err != nil {
			return err
		}
		if agentID != "" {
			filtered := list[:0]
			for _, svc := range list {
				if svc.AgentID == agentID {
					filtered = append(filtered, svc)
				}
			}
			list = filtered
		}
	} else {
		path := "/api/services"
		if agentID != "" {
			path += "?agent=" + url.QueryEscape(agentID)
		}
		if err := client.do(http.MethodGet, path, nil, &list); err != nil {
			return fmt.Errorf("listing services: %w", err)
		}
	}
	return printServices(cmd, list)
}

func runServiceScan(cmd *cobra.Command, args []string) error {
	var list []services.TrackedService
	client, err := connect(cmd)
	if err != nil {
		if server, _ := cmd.Flags().GetString("server"); server != "" {
			return err
		}
		list, err = scanLocally(cmd)
		if err != nil {
			return err
		}
	} else if err := client.do(http.MethodPost, "/api/services/scan", nil, &list); err != nil {
		return fmt.Errorf("scanning services: %w", err)
	}
	return printServices(cmd, list)
}

func printServices(cmd *cobra.Command, list []services.TrackedService) error {
	if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
		return printJSON(cmd.OutOrStdout(), list)
	}
	now := time.Now()
	rows := make([][]string, 0, len(list))
	for _, svc := range list {
		health := "alive"
		if !svc.Alive {
			health = "dead"
		}
		rows = append(rows, []string{
			svc.Name,
			strconv.Itoa(svc.Port),
			svc.AgentID,
			statusBadge(health),
			strconv.Itoa(svc.Failures),
			formatAge(svc.StartedAt, now),
			truncate(svc.Command, 40),
		})
	}
	printTable(cmd.OutOrStdout(), []string{"NAME", "PORT", "AGENT", "HEALTH", "FAILS", "UP", "COMMAND"}, rows)
	return nil
}

func runServiceRestart(cmd *cobra.Command, args []string) error {
	client, err := connect(cmd)
	if err != nil {
		return err
	}
	if err := client.do(http.MethodPost, "/api/services/"+url.PathEscape(args[0])+"/restart", nil, nil); err != nil {
		return fmt.Errorf("restarting %s: %w", args[0], err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Restarted %s\n", args[0])
	return nil
}

func runServiceStop(cmd *cobra.Command, args []string) error {
	port, err := strconv.Atoi(args[0])
	if err != nil || port <= 0 || port > 65535 {
		return fmt.Errorf("invalid port %q", args[0])
	}
	client, err := connect(cmd)
	if err != nil {
		return err
	}
	if err := client.do(http.MethodPost, "/api/services/port/"+strconv.Itoa(port)+"/stop", nil, nil); err != nil {
		return fmt.Errorf("stopping port %d: %w", port, err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Stopped listeners on port %d\n", port)
	return nil
}
