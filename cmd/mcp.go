package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/joescharf/bugflow/internal/mcp"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start MCP stdio server",
	Long: `Start an MCP (Model Context Protocol) server on stdio so assistants can
work bugs natively. Configure in an MCP client with:

  {
    "mcpServers": {
      "bugflow": { "command": "bugflow", "args": ["mcp"] }
    }
  }

Every mutating tool takes actor_email and actor_role.

Available tools: bug_list, bug_show, bug_history, bug_report, bug_transition,
bug_log_hours, bug_request_reallocation, bug_resolve_reallocation,
bug_request_reopen, bug_resolve_reopen, bug_alerts, bug_toggle_favorite`,
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := getEngine()
		if err != nil {
			return err
		}
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		return mcp.NewServer(e, newClassifier(), buildVersion).ServeStdio(ctx)
	},
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}
