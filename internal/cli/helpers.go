package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"
	"github.com/spf13/cobra"

	"github.com/agusx1211/corral/internal/config"
	"github.com/agusx1211/corral/internal/store"
)

var (
	styleBold  = lipgloss.NewStyle().Bold(true)
	styleDim   = lipgloss.NewStyle().Faint(true)
	styleTitle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("6"))
	styleError = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("1"))
	styleOK    = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	styleWarn  = lipgloss.NewStyle().Foreground(lipgloss.Color("3"))
	styleInfo  = lipgloss.NewStyle().Foreground(lipgloss.Color("4"))
)

// loadConfig reads the file named by --config, or the default one.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	if strings.TrimSpace(path) == "" {
		return config.Load()
	}
	return config.LoadFrom(path)
}

func openStore(cfg *config.Config) (*store.Store, error) {
	s, err := store.New(cfg.DataDir())
	if err != nil {
		return nil, fmt.Errorf("opening task store: %w", err)
	}
	return s, nil
}

func printHeader(w io.Writer, title string) {
	fmt.Fprintf(w, "\n%s\n", styleTitle.Render(title))
	fmt.Fprintln(w, styleDim.Render(strings.Repeat("-", len(title)+2)))
}

func printField(w io.Writer, label, value string) {
	fmt.Fprintf(w, "  %s %s\n", styleBold.Render(fmt.Sprintf("%-12s", label+":")), value)
}

func statusStyle(status string) lipgloss.Style {
	switch status {
	case "completed", "alive":
		return styleOK
	case "running", "assigned":
		return styleWarn
	case "failed", "dead":
		return styleError
	case "created":
		return styleInfo
	default:
		return styleDim
	}
}

func statusBadge(status string) string {
	return statusStyle(status).Render("[" + status + "]")
}

// printTable writes an aligned table. Widths ignore escape sequences.
func printTable(w io.Writer, headers []string, rows [][]string) {
	if len(rows) == 0 {
		fmt.Fprintln(w, styleDim.Render("  (none)"))
		return
	}
	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = len(h)
	}
	for _, row := range rows {
		for i, cell := range row {
			if i < len(widths) {
				widths[i] = max(widths[i], ansi.StringWidth(cell))
			}
		}
	}

	var line strings.Builder
	line.WriteString("  ")
	for i, h := range headers {
		line.WriteString(styleBold.Render(pad(h, widths[i]+2)))
	}
	fmt.Fprintln(w, line.String())

	line.Reset()
	line.WriteString("  ")
	for _, wd := range widths {
		line.WriteString(strings.Repeat("-", wd+2))
	}
	fmt.Fprintln(w, styleDim.Render(line.String()))

	for _, row := range rows {
		line.Reset()
		line.WriteString("  ")
		for i, cell := range row {
			if i < len(widths) {
				line.WriteString(pad(cell, widths[i]+2))
			}
		}
		fmt.Fprintln(w, strings.TrimRight(line.String(), " "))
	}
}

func pad(s string, width int) string {
	if n := width - ansi.StringWidth(s); n > 0 {
		return s + strings.Repeat(" ", n)
	}
	return s
}

func truncate(s string, maxLen int) string {
	if ansi.StringWidth(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return ansi.Truncate(s, maxLen, "")
	}
	return ansi.Truncate(s, maxLen, "...")
}

func firstLine(s string) string {
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		return s[:idx]
	}
	return s
}

// formatAge renders how long ago t was, to the coarsest useful unit.
func formatAge(t time.Time, now time.Time) string {
	if t.IsZero() {
		return "-"
	}
	d := now.Sub(t)
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	case d < 48*time.Hour:
		return fmt.Sprintf("%dh", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd", int(d.Hours()/24))
	}
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
