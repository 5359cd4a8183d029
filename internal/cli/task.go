package cli

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/agusx1211/corral/internal/store"
)

var taskCmd = &cobra.Command{
	Use:     "task",
	Aliases: []string{"tasks"},
	Short:   "Create, inspect and cancel tasks",
}

var taskCreateCmd = &cobra.Command{
	Use:   "create <title>",
	Short: "Submit a task, optionally assigned to an agent",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runTaskCreate,
}

var taskListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tasks",
	Args:  cobra.NoArgs,
	RunE:  runTaskList,
}

var taskShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show one task with its result",
	Args:  cobra.ExactArgs(1),
	RunE:  runTaskShow,
}

var taskAssignCmd = &cobra.Command{
	Use:   "assign <id> <agent>",
	Short: "Assign a created task to an agent",
	Args:  cobra.ExactArgs(2),
	RunE:  runTaskAssign,
}

var taskCancelCmd = &cobra.Command{
	Use:   "cancel <id>",
	Short: "Cancel a task, stopping it if it is running",
	Args:  cobra.ExactArgs(1),
	RunE:  runTaskCancel,
}

func init() {
	taskCreateCmd.Flags().StringP("description", "d", "", "Task description")
	taskCreateCmd.Flags().StringP("agent", "a", "", "Agent to assign the task to")
	taskCreateCmd.Flags().Int("priority", 0, "Priority (higher runs first)")
	taskCreateCmd.Flags().StringSlice("tag", nil, "Tag (repeatable)")
	taskCreateCmd.Flags().Bool("json", false, "Print the task as JSON")

	taskListCmd.Flags().StringSlice("status", nil, "Filter by status (repeatable)")
	taskListCmd.Flags().StringP("agent", "a", "", "Filter by assigned agent")
	taskListCmd.Flags().String("tag", "", "Filter by tag")
	taskListCmd.Flags().Int("limit", 0, "Show at most N tasks")
	taskListCmd.Flags().Bool("json", false, "Print tasks as JSON")

	taskShowCmd.Flags().Bool("json", false, "Print the task as JSON")

	addClientFlags(taskCmd)
	taskCmd.AddCommand(taskCreateCmd, taskListCmd, taskShowCmd, taskAssignCmd, taskCancelCmd)
	rootCmd.AddCommand(taskCmd)
}

func runTaskCreate(cmd *cobra.Command, args []string) error {
	client, err := connect(cmd)
	if err != nil {
		return err
	}
	description, _ := cmd.Flags().GetString("description")
	agentID, _ := cmd.Flags().GetString("agent")
	priority, _ := cmd.Flags().GetInt("priority")
	tags, _ := cmd.Flags().GetStringSlice("tag")

	req := map[string]any{
		"title":       strings.Join(args, " "),
		"description": description,
		"assigned_to": agentID,
		"priority":    priority,
		"tags":        tags,
		"source":      string(store.SourceUser),
	}
	var task store.Task
	if err := client.do(http.MethodPost, "/api/tasks", req, &task, http.StatusCreated); err != nil {
		return fmt.Errorf("creating task: %w", err)
	}
	if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
		return printJSON(cmd.OutOrStdout(), task)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Created task %s %s\n", styleBold.Render(task.ID), statusBadge(string(task.Status)))
	return nil
}

// localStore opens the task store for read-only commands when no server is
// reachable. An explicit --server keeps the connection error.
func localStore(cmd *cobra.Command, connErr error) (*store.Store, error) {
	if server, _ := cmd.Flags().GetString("server"); strings.TrimSpace(server) != "" {
		return nil, connErr
	}
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	return openStore(cfg)
}

// listTasks asks the server, reading the store directly when none is
// running.
func listTasks(cmd *cobra.Command, f store.Filter) ([]*store.Task, error) {
	client, err := connect(cmd)
	if err != nil {
		s, lerr := localStore(cmd, err)
		if lerr != nil {
			return nil, lerr
		}
		return s.List(f)
	}

	q := url.Values{}
	for _, st := range f.Statuses {
		q.Add("status", string(st))
	}
	if f.AssignedTo != "" {
		q.Set("agent", f.AssignedTo)
	}
	if f.Tag != "" {
		q.Set("tag", f.Tag)
	}
	if f.Limit > 0 {
		q.Set("limit", strconv.Itoa(f.Limit))
	}
	path := "/api/tasks"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var tasks []*store.Task
	if err := client.do(http.MethodGet, path, nil, &tasks); err != nil {
		return nil, err
	}
	return tasks, nil
}

func runTaskList(cmd *cobra.Command, args []string) error {
	statuses, _ := cmd.Flags().GetStringSlice("status")
	agentID, _ := cmd.Flags().GetString("agent")
	tag, _ := cmd.Flags().GetString("tag")
	limit, _ := cmd.Flags().GetInt("limit")

	f := store.Filter{AssignedTo: agentID, Tag: tag, Limit: limit}
	for _, raw := range statuses {
		st := store.Status(strings.TrimSpace(raw))
		if !st.Valid() {
			return fmt.Errorf("invalid status %q", raw)
		}
		f.Statuses = append(f.Statuses, st)
	}

	tasks, err := listTasks(cmd, f)
	if err != nil {
		return fmt.Errorf("listing tasks: %w", err)
	}
	if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
		return printJSON(cmd.OutOrStdout(), tasks)
	}

	now := time.Now()
	rows := make([][]string, 0, len(tasks))
	for _, t := range tasks {
		rows = append(rows, []string{
			t.ID,
			statusBadge(string(t.Status)),
			strconv.Itoa(t.Priority),
			orDash(t.AssignedTo),
			truncate(t.Title, 48),
			formatAge(t.CreatedAt, now),
		})
	}
	printTable(cmd.OutOrStdout(), []string{"ID", "STATUS", "PRI", "AGENT", "TITLE", "AGE"}, rows)
	return nil
}

func getTask(cmd *cobra.Command, id string) (*store.Task, error) {
	client, err := connect(cmd)
	if err != nil {
		s, lerr := localStore(cmd, err)
		if lerr != nil {
			return nil, lerr
		}
		return s.Get(id)
	}
	var task store.Task
	if err := client.do(http.MethodGet, "/api/tasks/"+url.PathEscape(id), nil, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

func runTaskShow(cmd *cobra.Command, args []string) error {
	task, err := getTask(cmd, args[0])
	if err != nil {
		return fmt.Errorf("loading task: %w", err)
	}
	out := cmd.OutOrStdout()
	if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
		return printJSON(out, task)
	}

	printHeader(out, task.Title)
	printField(out, "ID", task.ID)
	printField(out, "Status", statusBadge(string(task.Status)))
	printField(out, "Agent", orDash(task.AssignedTo))
	printField(out, "Priority", strconv.Itoa(task.Priority))
	printField(out, "Source", string(task.Source))
	printField(out, "Created", task.CreatedAt.Local().Format(time.DateTime))
	if task.StartedAt != nil {
		printField(out, "Started", task.StartedAt.Local().Format(time.DateTime))
	}
	if task.CompletedAt != nil {
		printField(out, "Completed", task.CompletedAt.Local().Format(time.DateTime))
	}
	if task.Attempts > 0 {
		printField(out, "Attempts", strconv.Itoa(task.Attempts))
	}
	if len(task.Tags) > 0 {
		printField(out, "Tags", strings.Join(task.Tags, ", "))
	}
	if task.Description != "" {
		fmt.Fprintf(out, "\n%s\n", task.Description)
	}
	if task.Error != "" {
		fmt.Fprintf(out, "\n%s %s\n", styleError.Render("Error:"), task.Error)
	}
	if task.Result != "" {
		fmt.Fprintf(out, "\n%s\n%s\n", styleBold.Render("Result:"), task.Result)
	}
	return nil
}

func runTaskAssign(cmd *cobra.Command, args []string) error {
	client, err := connect(cmd)
	if err != nil {
		return err
	}
	var task store.Task
	path := "/api/tasks/" + url.PathEscape(args[0]) + "/assign"
	if err := client.do(http.MethodPost, path, map[string]string{"agent_id": args[1]}, &task); err != nil {
		return fmt.Errorf("assigning task: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Task %s assigned to %s\n", task.ID, task.AssignedTo)
	return nil
}

func runTaskCancel(cmd *cobra.Command, args []string) error {
	client, err := connect(cmd)
	if err != nil {
		return err
	}
	if err := client.do(http.MethodPost, "/api/tasks/"+url.PathEscape(args[0])+"/cancel", nil, nil); err != nil {
		return fmt.Errorf("cancelling task: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Task %s cancelled\n", args[0])
	return nil
}

func orDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}
