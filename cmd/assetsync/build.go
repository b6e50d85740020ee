package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dshills/assetsync/internal/project"
	"github.com/dshills/assetsync/internal/resource"
)

var buildCmd = &cobra.Command{
	Use:   "build <project> <resource>",
	Short: "Run the build commands of a resource",
	Args:  cobra.ExactArgs(2),
	RunE:  runBuild,
}

func runBuild(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	p, err := project.Open(ctx, args[0], project.WithConfig(cfg.ProjectConfig()))
	if err != nil {
		return err
	}
	defer func() { _ = p.Close(context.WithoutCancel(ctx)) }()

	err = p.BuildResource(ctx, args[1])
	var buildErr *resource.BuildCommandError
	if errors.As(err, &buildErr) && buildErr.OutputChannelID != "" {
		if lines, ok := p.Outputs().Lines(buildErr.OutputChannelID); ok {
			for _, line := range lines {
				fmt.Fprintf(cmd.ErrOrStderr(), "[%s] %s\n", line.Stream, line.Content)
			}
		}
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "built %s\n", args[1])
	return nil
}
