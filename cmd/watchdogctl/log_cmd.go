package main

import (
	"github.com/spf13/cobra"

	"github.com/fluxcd/watchdog/pkg/revision"
)

type logOpts struct {
	*rootOpts
}

func newLog(parent *rootOpts) *logOpts {
	return &logOpts{rootOpts: parent}
}

func (opts *logOpts) Command() *cobra.Command {
	return &cobra.Command{
		Use:     "log <revision>",
		Short:   "Print the transcript of a deployment.",
		Example: makeExample("watchdogctl log abcd123"),
		RunE:    opts.RunE,
	}
}

func (opts *logOpts) RunE(cmd *cobra.Command, args []string) error {
	if len(args) != 1 {
		return newUsageError("expected exactly one argument, the revision")
	}
	ctx, cancel := opts.context()
	defer cancel()

	body, err := opts.API.Transcript(ctx, revision.ID(args[0]))
	if err != nil {
		return err
	}
	_, err = cmd.OutOrStdout().Write(body)
	return err
}
