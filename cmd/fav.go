package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/joescharf/bugflow/internal/output"
	"github.com/joescharf/bugflow/internal/store"
	"github.com/joescharf/bugflow/internal/workflow"
)

var favCmd = &cobra.Command{
	Use:     "fav",
	Aliases: []string{"star"},
	Short:   "Star bugs so they list first",
	RunE: func(cmd *cobra.Command, args []string) error {
		return favListRun()
	},
}

var favToggleCmd = &cobra.Command{
	Use:   "toggle <bug-id>",
	Short: "Star or unstar a bug",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return favToggleRun(args[0])
	},
}

var favListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List your starred bugs",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return favListRun()
	},
}

func init() {
	favCmd.AddCommand(favToggleCmd)
	favCmd.AddCommand(favListCmd)
	rootCmd.AddCommand(favCmd)
}

func favToggleRun(id string) error {
	e, err := getEngine()
	if err != nil {
		return err
	}
	u, err := requireUser()
	if err != nil {
		return err
	}
	on, err := e.ToggleFavorite(context.Background(), id, u)
	if err != nil {
		return err
	}
	if on {
		ui.Success("Starred %s", output.Cyan(id))
	} else {
		ui.Success("Unstarred %s", output.Cyan(id))
	}
	return nil
}

func favListRun() error {
	e, err := getEngine()
	if err != nil {
		return err
	}
	u, err := requireUser()
	if err != nil {
		return err
	}
	views, err := e.Board(context.Background(), store.BugListFilter{}, u)
	if err != nil {
		return err
	}
	var starred []workflow.BugView
	for _, v := range views {
		if v.Favorite {
			starred = append(starred, v)
		}
	}
	if len(starred) == 0 {
		ui.Info("No starred bugs. Use 'bugflow fav toggle <bug-id>'.")
		return nil
	}
	printBoard(starred, e.Now())
	return nil
}
