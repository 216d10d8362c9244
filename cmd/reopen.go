package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/joescharf/bugflow/internal/models"
	"github.com/joescharf/bugflow/internal/output"
	"github.com/joescharf/bugflow/internal/workflow"
)

var reopenCmd = &cobra.Command{
	Use:   "reopen",
	Short: "Request and review reopening closed bugs",
	RunE: func(cmd *cobra.Command, args []string) error {
		return requestListRun(models.RequestKindReopen)
	},
}

var reopenRequestCmd = &cobra.Command{
	Use:   "request <bug-id> <reason>",
	Short: "Ask for a closed bug to be reopened",
	Long:  "File a reopen request on a Closed bug. The reason must be 10-100 characters.",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return reopenRequestRun(args[0], strings.Join(args[1:], " "))
	},
}

var reopenResolveCmd = &cobra.Command{
	Use:   "resolve <bug-id> <request-id> <approve|reject>",
	Short: "Approve or reject a reopen request",
	Long:  "Approving moves the bug back to Assigned, or Open if it has no developer.",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		return reopenResolveRun(args[0], args[1], args[2])
	},
}

var reopenListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List pending reopen requests",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return requestListRun(models.RequestKindReopen)
	},
}

func init() {
	reopenCmd.AddCommand(reopenRequestCmd)
	reopenCmd.AddCommand(reopenResolveCmd)
	reopenCmd.AddCommand(reopenListCmd)
	rootCmd.AddCommand(reopenCmd)
}

func reopenRequestRun(id, reason string) error {
	e, err := getEngine()
	if err != nil {
		return err
	}
	u, err := requireUser()
	if err != nil {
		return err
	}
	if !workflow.MayRequestReopen(u.Role) {
		return workflow.Forbidden("request reopen", "role %q may not request a reopen", u.Role)
	}

	if dryRun {
		ui.DryRunMsg("Would request reopening %s", id)
		return nil
	}

	b, err := e.RequestReopen(context.Background(), id, u, reason)
	if err != nil {
		return err
	}
	req, err := workflow.LatestRequest(b, models.RequestKindReopen, u.Email)
	if err != nil {
		return err
	}
	ui.Success("Reopen requested on %s (request %s)", output.Cyan(b.ID), req.ID)
	return nil
}

func reopenResolveRun(id, reqID, decision string) error {
	e, err := getEngine()
	if err != nil {
		return err
	}
	u, err := requireUser()
	if err != nil {
		return err
	}
	if !workflow.MayResolve(u.Role) {
		return workflow.Forbidden("resolve reopen", "role %q may not resolve requests", u.Role)
	}
	action, ok := models.ParseDecision(decision)
	if !ok {
		return fmt.Errorf("decision must be approve or reject, got %q", decision)
	}

	if dryRun {
		ui.DryRunMsg("Would mark reopen request %s on %s %s", reqID, id, action)
		return nil
	}

	b, err := e.ResolveReopen(context.Background(), id, reqID, action, u)
	if err != nil {
		return err
	}
	if action == models.RequestApproved {
		ui.Success("Reopened %s, now %s", output.Cyan(b.ID), output.StatusColor(string(b.Status)))
		return nil
	}
	ui.Success("Rejected reopen request %s; %s stays %s", reqID, output.Cyan(b.ID), output.StatusColor(string(b.Status)))
	return nil
}
