package cmd

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/spf13/cobra"

	"github.com/joescharf/bugflow/internal/alert"
	"github.com/joescharf/bugflow/internal/models"
	"github.com/joescharf/bugflow/internal/output"
	"github.com/joescharf/bugflow/internal/store"
	"github.com/joescharf/bugflow/internal/workflow"
)

var (
	bugDesc        string
	bugApplication string
	bugTeam        string
	bugPriority    string
	bugStatus      string
	bugAssignee    string
	bugActive      bool
	bugPending     bool
	bugHoursFor    string
	jsonOut        bool
)

var bugCmd = &cobra.Command{
	Use:   "bug",
	Short: "Report and work bugs",
	Long:  "Report bugs and move them through their lifecycle.",
	RunE: func(cmd *cobra.Command, args []string) error {
		return bugListRun()
	},
}

var bugReportCmd = &cobra.Command{
	Use:   "report <title>",
	Short: "Report a new bug",
	Long: `Report a new bug. It starts in Open status.

Without --priority, a priority is suggested from the title and description
(by the Anthropic API when anthropic.api_key is set, otherwise by keyword).`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return bugReportRun(strings.Join(args, " "))
	},
}

var bugListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List bugs with live alerts",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return bugListRun()
	},
}

var bugShowCmd = &cobra.Command{
	Use:   "show <bug-id>",
	Short: "Show bug details",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return bugShowRun(args[0])
	},
}

var bugMoveCmd = &cobra.Command{
	Use:   "move <bug-id> <status>",
	Short: "Move a bug to its next status",
	Long: `Move a bug to one of its successor statuses.

Statuses may be given by label ("Fix In Progress") or slug (fix-in-progress).
A unique prefix is enough, e.g. "ready" for Ready For Closure.`,
	Args: cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return bugMoveRun(args[0], strings.Join(args[1:], " "))
	},
}

var bugAssignCmd = &cobra.Command{
	Use:   "assign <bug-id> <developer|tester> <email>",
	Short: "Assign the developer or tester of a bug",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		return bugAssignRun(args[0], args[1], args[2])
	},
}

var bugTeamCmd = &cobra.Command{
	Use:   "team <bug-id> <team>",
	Short: "Route a bug to a team",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return bugTeamRun(args[0], args[1])
	},
}

var bugHoursCmd = &cobra.Command{
	Use:   "hours <bug-id> <hours>",
	Short: "Log developer resolution or tester validation hours",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return bugHoursRun(args[0], args[1])
	},
}

var bugHistoryCmd = &cobra.Command{
	Use:   "history <bug-id>",
	Short: "Show the audit trail of a bug",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return bugHistoryRun(args[0])
	},
}

func init() {
	bugReportCmd.Flags().StringVar(&bugDesc, "desc", "", "Bug description")
	bugReportCmd.Flags().StringVar(&bugApplication, "app", "", "Affected application")
	bugReportCmd.Flags().StringVar(&bugTeam, "team", "", "Owning team, if known")
	bugReportCmd.Flags().StringVar(&bugPriority, "priority", "", "Priority: critical, high, medium, low (suggested when omitted)")

	bugListCmd.Flags().StringVar(&bugStatus, "status", "", "Filter by status")
	bugListCmd.Flags().StringVar(&bugPriority, "priority", "", "Filter by priority")
	bugListCmd.Flags().StringVar(&bugApplication, "app", "", "Filter by application")
	bugListCmd.Flags().StringVar(&bugTeam, "team", "", "Filter by team")
	bugListCmd.Flags().StringVar(&bugAssignee, "assignee", "", "Filter by developer or tester email")
	bugListCmd.Flags().BoolVar(&bugActive, "active", false, "Hide Closed and Duplicate bugs")
	bugListCmd.Flags().BoolVar(&bugPending, "pending", false, "Only bugs with pending requests")

	bugHoursCmd.Flags().StringVar(&bugHoursFor, "for", "", "developer or tester (default: your role)")

	for _, c := range []*cobra.Command{bugReportCmd, bugListCmd, bugShowCmd, bugHistoryCmd} {
		c.Flags().BoolVar(&jsonOut, "json", false, "Print JSON")
	}

	bugCmd.AddCommand(bugReportCmd)
	bugCmd.AddCommand(bugListCmd)
	bugCmd.AddCommand(bugShowCmd)
	bugCmd.AddCommand(bugMoveCmd)
	bugCmd.AddCommand(bugAssignCmd)
	bugCmd.AddCommand(bugTeamCmd)
	bugCmd.AddCommand(bugHoursCmd)
	bugCmd.AddCommand(bugHistoryCmd)
	rootCmd.AddCommand(bugCmd)
}

func bugReportRun(title string) error {
	e, err := getEngine()
	if err != nil {
		return err
	}
	u, err := requireUser()
	if err != nil {
		return err
	}
	ctx := context.Background()

	var prio models.Priority
	if bugPriority != "" {
		p, ok := models.ParsePriority(bugPriority)
		if !ok {
			return fmt.Errorf("unknown priority %q (use critical, high, medium or low)", bugPriority)
		}
		prio = p
	} else {
		prio, err = newClassifier().Classify(ctx, title, bugDesc)
		if err != nil {
			return err
		}
		ui.VerboseLog("Suggested priority: %s", prio)
	}

	if dryRun {
		ui.DryRunMsg("Would report %q with priority %s", title, prio)
		return nil
	}

	b, err := e.Report(ctx, workflow.NewBug{
		Title:       title,
		Description: bugDesc,
		Application: bugApplication,
		Team:        bugTeam,
		Priority:    prio,
	}, u)
	if err != nil {
		return err
	}
	if jsonOut {
		return ui.JSON(b)
	}
	ui.Success("Reported %s: %s [%s]", output.Cyan(b.ID), b.Title, output.PriorityColor(string(b.Priority)))
	return nil
}

func bugListRun() error {
	e, err := getEngine()
	if err != nil {
		return err
	}
	u, err := actingUser()
	if err != nil {
		return err
	}

	filter := store.BugListFilter{
		Application:     bugApplication,
		Team:            bugTeam,
		Assignee:        bugAssignee,
		Active:          bugActive,
		PendingRequests: bugPending,
	}
	if bugStatus != "" {
		if filter.Status, err = parseStatusArg(bugStatus); err != nil {
			return err
		}
	}
	if bugPriority != "" {
		p, ok := models.ParsePriority(bugPriority)
		if !ok {
			return fmt.Errorf("unknown priority %q", bugPriority)
		}
		filter.Priority = p
	}

	views, err := e.Board(context.Background(), filter, u)
	if err != nil {
		return err
	}
	if jsonOut {
		return ui.JSON(views)
	}
	if len(views) == 0 {
		ui.Info("No bugs found.")
		return nil
	}
	printBoard(views, e.Now())
	return nil
}

// printBoard renders bug views as a table. Favorites are starred.
func printBoard(views []workflow.BugView, now time.Time) {
	table := ui.Table([]string{"", "ID", "Title", "Priority", "Status", "Team", "Developer", "Unassigned", "Stale", "Age"})
	for _, v := range views {
		star := ""
		if v.Favorite {
			star = output.Yellow("*")
		}
		_ = table.Append([]string{
			star,
			v.ID,
			truncate(v.Title, 40),
			output.PriorityColor(string(v.Priority)),
			output.StatusColor(string(v.Status)),
			v.AssignedTeam,
			dash(v.AssignedTo.Developer),
			output.AlertColor(v.Alerts.Unassigned.String()),
			output.AlertColor(v.Alerts.Stale.String()),
			formatAge(now.Sub(v.CreatedAt)),
		})
	}
	_ = table.Render()
}

func bugShowRun(id string) error {
	e, err := getEngine()
	if err != nil {
		return err
	}
	u, err := actingUser()
	if err != nil {
		return err
	}
	ctx := context.Background()

	b, err := e.Get(ctx, id)
	if err != nil {
		return err
	}
	v, err := e.View(ctx, b, u)
	if err != nil {
		return err
	}
	if jsonOut {
		return ui.JSON(v)
	}

	star := ""
	if v.Favorite {
		star = " " + output.Yellow("*")
	}
	fmt.Fprintf(ui.Out, "%s  %s%s\n", output.Cyan(b.ID), b.Title, star)
	fmt.Fprintf(ui.Out, "  Status:      %s %s\n", output.StatusColor(string(b.Status)), output.Progress(string(b.Status)))
	fmt.Fprintf(ui.Out, "  Priority:    %s\n", output.PriorityColor(string(b.Priority)))
	fmt.Fprintf(ui.Out, "  Application: %s\n", dash(b.Application))
	fmt.Fprintf(ui.Out, "  Team:        %s\n", b.AssignedTeam)
	fmt.Fprintf(ui.Out, "  Developer:   %s\n", dash(b.AssignedTo.Developer))
	fmt.Fprintf(ui.Out, "  Tester:      %s\n", dash(b.AssignedTo.Tester))
	if b.Description != "" {
		fmt.Fprintf(ui.Out, "  Desc:        %s\n", b.Description)
	}
	sla := e.Policy().SLA
	if b.DeveloperResolutionHours != nil {
		allowed, _ := sla.Allowed(models.RoleDeveloper, b.Priority)
		fmt.Fprintf(ui.Out, "  Dev hours:   %s\n", output.HoursColor(*b.DeveloperResolutionHours, allowed))
	}
	if b.TesterValidationHours != nil {
		allowed, _ := sla.Allowed(models.RoleTester, b.Priority)
		fmt.Fprintf(ui.Out, "  Test hours:  %s\n", output.HoursColor(*b.TesterValidationHours, allowed))
	}
	fmt.Fprintf(ui.Out, "  Alerts:      unassigned %s, stale %s\n",
		output.AlertColor(v.Alerts.Unassigned.String()), output.AlertColor(v.Alerts.Stale.String()))
	if v.Alerts.CriticalClosure > alert.None {
		fmt.Fprintf(ui.Out, "  Closure:     %s (critical awaiting closure)\n", output.AlertColor(v.Alerts.CriticalClosure.String()))
	}
	fmt.Fprintf(ui.Out, "  Reported:    %s by %s\n", b.CreatedAt.Local().Format(time.RFC3339), dash(b.ReportedBy))
	if b.StatusLastUpdated != nil {
		fmt.Fprintf(ui.Out, "  Updated:     %s\n", b.StatusLastUpdated.Local().Format(time.RFC3339))
	}
	if b.Reopened {
		fmt.Fprintf(ui.Out, "  Reopened:    yes\n")
	}
	if moves := workflow.Successors(b.Status); len(moves) > 0 {
		names := make([]string, len(moves))
		for i, s := range moves {
			names[i] = string(s)
		}
		fmt.Fprintf(ui.Out, "  Next:        %s\n", strings.Join(names, ", "))
	}

	if reqs := b.Requests(); len(reqs) > 0 {
		fmt.Fprintln(ui.Out)
		printRequests(reqs)
	}
	return nil
}

func bugMoveRun(id, statusArg string) error {
	e, err := getEngine()
	if err != nil {
		return err
	}
	u, err := requireUser()
	if err != nil {
		return err
	}
	target, err := parseStatusArg(statusArg)
	if err != nil {
		return err
	}
	if err := workflow.CheckTransition(u, target); err != nil {
		return err
	}

	if dryRun {
		ui.DryRunMsg("Would move %s to %s", id, target)
		return nil
	}

	b, err := e.RequestTransition(context.Background(), id, target, u)
	if err != nil {
		return err
	}
	ui.Success("%s is now %s", output.Cyan(b.ID), output.StatusColor(string(b.Status)))
	return nil
}

func bugAssignRun(id, roleArg, email string) error {
	e, err := getEngine()
	if err != nil {
		return err
	}
	u, err := requireUser()
	if err != nil {
		return err
	}
	if !workflow.MayManage(u.Role) {
		return workflow.Forbidden("assign", "role %q may not assign bugs", u.Role)
	}
	role, err := parseWorkRole(roleArg)
	if err != nil {
		return err
	}

	if dryRun {
		ui.DryRunMsg("Would assign %s %s to %s", role, email, id)
		return nil
	}

	b, err := e.Assign(context.Background(), id, role, email, u)
	if err != nil {
		return err
	}
	ui.Success("%s %s is now %s", output.Cyan(b.ID), role, b.AssignedTo.Get(role))
	return nil
}

func bugTeamRun(id, team string) error {
	e, err := getEngine()
	if err != nil {
		return err
	}
	u, err := requireUser()
	if err != nil {
		return err
	}
	if !workflow.MayManage(u.Role) {
		return workflow.Forbidden("team", "role %q may not route bugs", u.Role)
	}

	if dryRun {
		ui.DryRunMsg("Would route %s to team %s", id, team)
		return nil
	}

	b, err := e.AssignTeam(context.Background(), id, team, u)
	if err != nil {
		return err
	}
	ui.Success("%s routed to %s", output.Cyan(b.ID), b.AssignedTeam)
	return nil
}

func bugHoursRun(id, hoursArg string) error {
	e, err := getEngine()
	if err != nil {
		return err
	}
	u, err := requireUser()
	if err != nil {
		return err
	}
	hours, err := strconv.ParseFloat(hoursArg, 64)
	if err != nil {
		return fmt.Errorf("invalid hours %q", hoursArg)
	}
	role := u.Role
	if bugHoursFor != "" {
		if role, err = parseWorkRole(bugHoursFor); err != nil {
			return err
		}
	}
	if !workflow.MayLogHours(u.Role, role) {
		return workflow.Forbidden("hours", "role %q may not log %s hours", u.Role, role)
	}

	if dryRun {
		ui.DryRunMsg("Would log %g %s hours on %s", hours, role, id)
		return nil
	}

	b, err := e.LogHours(context.Background(), id, role, hours, u)
	if err != nil {
		return err
	}
	allowed, _ := e.Policy().SLA.Allowed(role, b.Priority)
	ui.Success("%s %s hours: %s", output.Cyan(b.ID), role, output.HoursColor(hours, allowed))
	return nil
}

func bugHistoryRun(id string) error {
	e, err := getEngine()
	if err != nil {
		return err
	}
	events, err := e.History(context.Background(), id)
	if err != nil {
		return err
	}
	if jsonOut {
		return ui.JSON(events)
	}
	if len(events) == 0 {
		ui.Info("No history for %s.", strings.ToUpper(id))
		return nil
	}

	table := ui.Table([]string{"When", "Event", "Change", "By"})
	for _, ev := range events {
		change := ev.Detail
		if ev.Kind == models.EventStatusChange {
			change = fmt.Sprintf("%s -> %s", ev.FromStatus, ev.ToStatus)
		}
		by := ev.Actor
		if ev.ActorRole != "" {
			by = fmt.Sprintf("%s (%s)", ev.Actor, ev.ActorRole)
		}
		_ = table.Append([]string{
			ev.CreatedAt.Local().Format("2006-01-02 15:04"),
			strings.ReplaceAll(string(ev.Kind), "_", " "),
			truncate(change, 60),
			by,
		})
	}
	_ = table.Render()
	return nil
}

// parseStatusArg resolves a status by label, slug or unique prefix.
func parseStatusArg(v string) (models.Status, error) {
	if st, ok := models.ParseStatus(v); ok {
		return st, nil
	}
	want := slug(v)
	if want == "" {
		return "", fmt.Errorf("status is required")
	}
	var matches []models.Status
	for _, st := range models.Statuses {
		s := slug(string(st))
		if s == want {
			return st, nil
		}
		if strings.HasPrefix(s, want) {
			matches = append(matches, st)
		}
	}
	if len(matches) == 1 {
		return matches[0], nil
	}
	if len(matches) > 1 {
		return "", fmt.Errorf("ambiguous status %q", v)
	}
	return "", fmt.Errorf("unknown status %q", v)
}

// slug lowercases s and drops everything but letters and digits.
func slug(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func parseWorkRole(v string) (models.Role, error) {
	role, ok := models.ParseRole(v)
	if !ok || !role.WorkRole() {
		return "", fmt.Errorf("role must be developer or tester, got %q", v)
	}
	return role, nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

// formatAge renders a duration as its largest whole unit.
func formatAge(d time.Duration) string {
	switch {
	case d < time.Minute:
		return "now"
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	case d < 48*time.Hour:
		return fmt.Sprintf("%dh", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd", int(d.Hours()/24))
	}
}
