package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/fluxcd/watchdog/pkg/event"
	"github.com/fluxcd/watchdog/pkg/transcript"
)

type watchOpts struct {
	*rootOpts
	progress bool
}

func newWatch(parent *rootOpts) *watchOpts {
	return &watchOpts{rootOpts: parent}
}

func (opts *watchOpts) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Follow the watchdog's events as they happen.",
		RunE:  opts.RunE,
	}
	cmd.Flags().BoolVar(&opts.progress, "progress", true, "include output from deployment steps")
	return cmd
}

func (opts *watchOpts) RunE(cmd *cobra.Command, args []string) error {
	if len(args) != 0 {
		return errorWantedNoArgs
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		c := make(chan os.Signal, 1)
		signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(c)
		select {
		case <-c:
			cancel()
		case <-ctx.Done():
		}
	}()
	return opts.watch(ctx, cmd)
}

func (opts *watchOpts) watch(ctx context.Context, cmd *cobra.Command) error {
	out := cmd.OutOrStdout()
	return opts.API.Watch(ctx, func(e event.Event) {
		if e.Type == event.Progress && !opts.progress {
			return
		}
		fmt.Fprintln(out, transcript.Line(e))
	})
}
