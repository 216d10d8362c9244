package cmd

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/joescharf/bugflow/internal/models"
	"github.com/joescharf/bugflow/internal/output"
	"github.com/joescharf/bugflow/internal/report"
	"github.com/joescharf/bugflow/internal/store"
)

var reportFormat string

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Summaries and exports over all bugs",
}

var reportSLACmd = &cobra.Command{
	Use:   "sla",
	Short: "List bugs whose logged hours exceed the SLA budget",
	Long: `List every bug where the developer's resolution hours or the tester's
validation hours exceed the budget configured under sla.<role>.<priority>,
worst overrun first.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return reportSLARun()
	},
}

var reportExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export bugs as JSON, CSV, or Markdown",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return reportExportRun()
	},
}

func init() {
	reportSLACmd.Flags().StringVar(&reportFormat, "format", "table", "Output format: table, json, csv, markdown")
	reportExportCmd.Flags().StringVar(&reportFormat, "format", "json", "Output format: json, csv, markdown")

	reportCmd.AddCommand(reportSLACmd)
	reportCmd.AddCommand(reportExportCmd)
	rootCmd.AddCommand(reportCmd)
}

func reportSLARun() error {
	e, err := getEngine()
	if err != nil {
		return err
	}
	bugs, err := e.List(context.Background(), store.BugListFilter{})
	if err != nil {
		return err
	}
	breaches := report.SLABreaches(bugs, e.Policy().SLA)

	switch reportFormat {
	case "table":
		if len(breaches) == 0 {
			ui.Info("No bugs over their SLA budget.")
			return nil
		}
		table := ui.Table([]string{"ID", "Title", "Priority", "Role", "Assignee", "Logged", "Over"})
		for _, b := range breaches {
			_ = table.Append([]string{
				b.BugID,
				truncate(b.Title, 40),
				output.PriorityColor(string(b.Priority)),
				string(b.Role),
				dash(b.Assignee),
				output.HoursColor(b.Logged, b.Allowed),
				fmt.Sprintf("+%.1fh", b.Over()),
			})
		}
		_ = table.Render()
		return nil
	case "json":
		enc := json.NewEncoder(ui.Out)
		enc.SetIndent("", "  ")
		if breaches == nil {
			breaches = []report.Breach{}
		}
		return enc.Encode(breaches)
	case "csv":
		w := csv.NewWriter(ui.Out)
		_ = w.Write([]string{"BugID", "Title", "Priority", "Role", "Assignee", "Logged", "Allowed"})
		for _, b := range breaches {
			_ = w.Write([]string{b.BugID, b.Title, string(b.Priority), string(b.Role), b.Assignee,
				formatHours(b.Logged), formatHours(b.Allowed)})
		}
		w.Flush()
		return w.Error()
	case "markdown":
		fmt.Fprintln(ui.Out, "# SLA breaches")
		fmt.Fprintln(ui.Out)
		fmt.Fprintln(ui.Out, "| Bug | Title | Priority | Role | Logged | Allowed |")
		fmt.Fprintln(ui.Out, "|-----|-------|----------|------|--------|---------|")
		for _, b := range breaches {
			fmt.Fprintf(ui.Out, "| %s | %s | %s | %s | %s | %s |\n",
				b.BugID, b.Title, b.Priority, b.Role, formatHours(b.Logged), formatHours(b.Allowed))
		}
		return nil
	default:
		return fmt.Errorf("unknown format: %s", reportFormat)
	}
}

func reportExportRun() error {
	e, err := getEngine()
	if err != nil {
		return err
	}
	bugs, err := e.List(context.Background(), store.BugListFilter{})
	if err != nil {
		return err
	}

	switch reportFormat {
	case "json":
		enc := json.NewEncoder(ui.Out)
		enc.SetIndent("", "  ")
		if bugs == nil {
			bugs = []*models.Bug{}
		}
		return enc.Encode(bugs)
	case "csv":
		w := csv.NewWriter(ui.Out)
		_ = w.Write([]string{"ID", "Title", "Application", "Team", "Priority", "Status", "Developer", "Tester", "DevHours", "TestHours", "Created"})
		for _, b := range bugs {
			_ = w.Write([]string{
				b.ID, b.Title, b.Application, b.AssignedTeam, string(b.Priority), string(b.Status),
				b.AssignedTo.Developer, b.AssignedTo.Tester,
				optionalHours(b.DeveloperResolutionHours), optionalHours(b.TesterValidationHours),
				b.CreatedAt.Format("2006-01-02"),
			})
		}
		w.Flush()
		return w.Error()
	case "markdown":
		fmt.Fprintln(ui.Out, "# Bugs")
		fmt.Fprintln(ui.Out)
		fmt.Fprintln(ui.Out, "| ID | Title | Priority | Status | Team |")
		fmt.Fprintln(ui.Out, "|----|-------|----------|--------|------|")
		for _, b := range bugs {
			fmt.Fprintf(ui.Out, "| %s | %s | %s | %s | %s |\n", b.ID, b.Title, b.Priority, b.Status, b.AssignedTeam)
		}
		return nil
	default:
		return fmt.Errorf("unknown format: %s", reportFormat)
	}
}

func formatHours(h float64) string {
	return strconv.FormatFloat(h, 'f', -1, 64)
}

func optionalHours(h *float64) string {
	if h == nil {
		return ""
	}
	return formatHours(*h)
}
