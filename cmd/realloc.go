package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/joescharf/bugflow/internal/models"
	"github.com/joescharf/bugflow/internal/output"
	"github.com/joescharf/bugflow/internal/store"
	"github.com/joescharf/bugflow/internal/workflow"
)

var reallocTo string

var reallocCmd = &cobra.Command{
	Use:   "realloc",
	Short: "Request and review reallocations",
	Long: `Developers and testers ask to hand their slot on a bug to someone else;
team leads and admins approve or reject the request.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return requestListRun(models.RequestKindReallocation)
	},
}

var reallocRequestCmd = &cobra.Command{
	Use:   "request <bug-id> <reason>",
	Short: "Ask to be reallocated off a bug",
	Long:  "File a reallocation request for your role (--role developer or tester). The reason must be 10-100 characters.",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return reallocRequestRun(args[0], strings.Join(args[1:], " "))
	},
}

var reallocResolveCmd = &cobra.Command{
	Use:   "resolve <bug-id> <request-id> <approve|reject>",
	Short: "Approve or reject a reallocation request",
	Long:  "Approve (with --to, the new assignee) or reject a pending reallocation request.",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		return reallocResolveRun(args[0], args[1], args[2])
	},
}

var reallocListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List pending reallocation requests",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return requestListRun(models.RequestKindReallocation)
	},
}

func init() {
	reallocResolveCmd.Flags().StringVar(&reallocTo, "to", "", "New assignee email (required to approve)")

	reallocCmd.AddCommand(reallocRequestCmd)
	reallocCmd.AddCommand(reallocResolveCmd)
	reallocCmd.AddCommand(reallocListCmd)
	rootCmd.AddCommand(reallocCmd)
}

func reallocRequestRun(id, reason string) error {
	e, err := getEngine()
	if err != nil {
		return err
	}
	u, err := requireUser()
	if err != nil {
		return err
	}
	if !workflow.MayRequestReallocation(u.Role) {
		return workflow.Forbidden("request reallocation", "role %q cannot be reallocated", u.Role)
	}

	if dryRun {
		ui.DryRunMsg("Would request %s reallocation on %s", u.Role, id)
		return nil
	}

	b, err := e.RequestReallocation(context.Background(), id, u.Role, u.Email, reason)
	if err != nil {
		return err
	}
	req, err := workflow.LatestRequest(b, models.RequestKindReallocation, u.Email)
	if err != nil {
		return err
	}
	ui.Success("Reallocation requested on %s (request %s)", output.Cyan(b.ID), req.ID)
	return nil
}

func reallocResolveRun(id, reqID, decision string) error {
	e, err := getEngine()
	if err != nil {
		return err
	}
	u, err := requireUser()
	if err != nil {
		return err
	}
	if !workflow.MayResolve(u.Role) {
		return workflow.Forbidden("resolve reallocation", "role %q may not resolve requests", u.Role)
	}
	action, ok := models.ParseDecision(decision)
	if !ok {
		return fmt.Errorf("decision must be approve or reject, got %q", decision)
	}

	if dryRun {
		ui.DryRunMsg("Would mark request %s on %s %s", reqID, id, action)
		return nil
	}

	b, err := e.ResolveReallocation(context.Background(), id, reqID, action, reallocTo, u)
	if err != nil {
		return err
	}
	if action == models.RequestApproved {
		ui.Success("Approved: %s developer %s, tester %s", output.Cyan(b.ID), dash(b.AssignedTo.Developer), dash(b.AssignedTo.Tester))
		return nil
	}
	ui.Success("Rejected request %s on %s", reqID, output.Cyan(b.ID))
	return nil
}

// requestListRun lists pending requests of one kind across all bugs.
func requestListRun(kind models.RequestKind) error {
	e, err := getEngine()
	if err != nil {
		return err
	}
	bugs, err := e.List(context.Background(), store.BugListFilter{PendingRequests: true})
	if err != nil {
		return err
	}

	table := ui.Table([]string{"Bug", "Request", "Role", "By", "Reason", "Filed"})
	n := 0
	for _, b := range bugs {
		for _, r := range workflow.PendingRequests(b) {
			if r.Kind != kind {
				continue
			}
			n++
			_ = table.Append([]string{
				b.ID, r.ID, string(r.Role), r.RequestedBy, truncate(r.Reason, 50),
				r.RequestedAt.Local().Format("2006-01-02 15:04"),
			})
		}
	}
	if n == 0 {
		ui.Info("No pending %s requests.", kind)
		return nil
	}
	_ = table.Render()
	return nil
}

// printRequests renders every request on a bug, newest decisions included.
func printRequests(reqs []*models.Request) {
	table := ui.Table([]string{"Request", "Kind", "Role", "By", "Status", "Reviewed by", "Reason"})
	for _, r := range reqs {
		status := string(r.Status)
		switch r.Status {
		case models.RequestPending:
			status = output.Yellow(status)
		case models.RequestApproved:
			status = output.Green(status)
		case models.RequestRejected:
			status = output.Red(status)
		}
		_ = table.Append([]string{
			r.ID, string(r.Kind), string(r.Role), r.RequestedBy, status, dash(r.ReviewedBy), truncate(r.Reason, 40),
		})
	}
	_ = table.Render()
}
