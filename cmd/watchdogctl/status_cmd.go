package main

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v2"

	"github.com/fluxcd/watchdog/pkg/api"
)

type statusOpts struct {
	*rootOpts
	outputFormat string
}

func newStatus(parent *rootOpts) *statusOpts {
	return &statusOpts{rootOpts: parent}
}

func (opts *statusOpts) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show what the watchdog is doing.",
		Example: makeExample(
			"watchdogctl status",
			"watchdogctl status --output yaml",
		),
		RunE: opts.RunE,
	}
	cmd.Flags().StringVarP(&opts.outputFormat, "output", "o", "tab", "output format (tab|yaml|json)")
	return cmd
}

func (opts *statusOpts) RunE(cmd *cobra.Command, args []string) error {
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

	status, err := opts.API.Status(ctx)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	switch opts.outputFormat {
	case "yaml":
		return outputYAML(out, status)
	case "json":
		return outputJSON(out, status)
	}
	outputStatusTab(out, status)
	return nil
}

func outputStatusTab(out io.Writer, s api.Status) {
	w := newTabwriter(out)
	defer w.Flush()
	fmt.Fprintf(w, "HOSTNAME\t%s\n", s.Hostname)
	fmt.Fprintf(w, "STATUS\t%s\n", s.Text())
	fmt.Fprintf(w, "PHASE\t%s\n", s.Phase)
	fmt.Fprintf(w, "LAST DEPLOYED\t%s\n", orNone(string(s.LastDeployed)))
	lastCheck := "never"
	if !s.LastCheck.IsZero() {
		lastCheck = s.LastCheck.UTC().Format(time.RFC3339)
	}
	fmt.Fprintf(w, "LAST CHECK\t%s\n", lastCheck)
	fmt.Fprintf(w, "CHECKS\t%d\n", s.Checks)
	if s.LastError != "" {
		fmt.Fprintf(w, "LAST ERROR\t%s\n", s.LastError)
	}
	if s.RetryPending {
		fmt.Fprintf(w, "RETRY\tpending\n")
	}
	if s.CleaningUp {
		fmt.Fprintf(w, "CLEANUP\tin progress\n")
	}
}

// yaml.v2 doesn't know about json tags, so go via a map to keep the
// same field names in both formats.
func outputYAML(out io.Writer, v interface{}) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	var fields interface{}
	if err := yaml.Unmarshal(b, &fields); err != nil {
		return err
	}
	b, err = yaml.Marshal(fields)
	if err != nil {
		return err
	}
	_, err = out.Write(b)
	return err
}

func outputJSON(out io.Writer, v interface{}) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func orNone(s string) string {
	if s == "" {
		return "(none)"
	}
	return s
}
