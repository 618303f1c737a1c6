package main

import (
	"fmt"
	"sort"
	"time"

	"github.com/spf13/cobra"
)

type deploymentsOpts struct {
	*rootOpts
	outputFormat string
}

func newDeployments(parent *rootOpts) *deploymentsOpts {
	return &deploymentsOpts{rootOpts: parent}
}

func (opts *deploymentsOpts) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "deployments",
		Short: "List the deployments there are transcripts for, newest first.",
		RunE:  opts.RunE,
	}
	cmd.Flags().StringVarP(&opts.outputFormat, "output", "o", "tab", "output format (tab|yaml|json)")
	return cmd
}

func (opts *deploymentsOpts) RunE(cmd *cobra.Command, args []string) error {
	if len(args) != 0 {
		return errorWantedNoArgs
	}
	switch opts.outputFormat {
	case "tab", "yaml", "json":
	default:
		return errorInvalidOutputFormat
	}

	ctx, cancel := opts.context()
	defer cancel()

	deployments, err := opts.API.Deployments(ctx)
	if err != nil {
		return err
	}
	sort.SliceStable(deployments, func(i, j int) bool {
		return deployments[i].Updated.After(deployments[j].Updated)
	})

	out := cmd.OutOrStdout()
	switch opts.outputFormat {
	case "yaml":
		return outputYAML(out, deployments)
	case "json":
		return outputJSON(out, deployments)
	}

	w := newTabwriter(out)
	defer w.Flush()
	fmt.Fprintln(w, "REVISION\tUPDATED\tSIZE")
	for _, d := range deployments {
		fmt.Fprintf(w, "%s\t%s\t%d\n", d.Revision, d.Updated.UTC().Format(time.RFC3339), d.Size)
	}
	return nil
}
