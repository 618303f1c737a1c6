package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

type checkOpts struct {
	*rootOpts
}

func newCheck(parent *rootOpts) *checkOpts {
	return &checkOpts{rootOpts: parent}
}

func (opts *checkOpts) Command() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Check for an updated revision now, rather than waiting for the next poll.",
		RunE:  opts.RunE,
	}
}

func (opts *checkOpts) RunE(cmd *cobra.Command, args []string) error {
	if len(args) != 0 {
		return errorWantedNoArgs
	}
	ctx, cancel := opts.context()
	defer cancel()

	started, err := opts.API.Check(ctx)
	if err != nil {
		return err
	}
	if started {
		fmt.Fprintln(cmd.OutOrStdout(), "check started")
	} else {
		fmt.Fprintln(cmd.OutOrStdout(), "already busy; not started")
	}
	return nil
}
