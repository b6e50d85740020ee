package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dshills/assetsync/internal/project"
)

var initCmd = &cobra.Command{
	Use:   "init <dir> <name>",
	Short: "Create a new project",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := project.Create(cmd.Context(), args[0], args[1],
			project.WithConfig(cfg.ProjectConfig()))
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "created project %q in %s\n", args[1], p.Path())
		return p.Close(context.WithoutCancel(cmd.Context()))
	},
}
