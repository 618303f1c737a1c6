package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/fluxcd/watchdog/pkg/api"
	"github.com/fluxcd/watchdog/pkg/event"
	transport "github.com/fluxcd/watchdog/pkg/http"
	"github.com/fluxcd/watchdog/pkg/http/client"
)

const EnvVariableURL = "WATCHDOG_URL"

var version string

// apiClient is the API, plus the event stream.
type apiClient interface {
	api.Server
	Watch(ctx context.Context, h event.Handler) error
}

type rootOpts struct {
	URL     string
	Timeout time.Duration
	API     apiClient
}

func newRoot() *rootOpts {
	return &rootOpts{}
}

var rootLongHelp = strings.TrimSpace(`
watchdogctl talks to a watchdog, which keeps a host running the latest
revision of its code.

Workflow:
  watchdogctl status              # What's it doing?
  watchdogctl check               # Check for an update now, rather than waiting.
  watchdogctl watch               # Follow along.
  watchdogctl deployments         # Which revisions have been deployed?
  watchdogctl log abcd123         # How did deploying abcd123 go?
`)

func (opts *rootOpts) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:               "watchdogctl",
		Long:              rootLongHelp,
		SilenceUsage:      true,
		SilenceErrors:     false,
		PersistentPreRunE: opts.PersistentPreRunE,
	}
	cmd.PersistentFlags().StringVarP(&opts.URL, "url", "u", "http://localhost:8080",
		fmt.Sprintf("base URL of the watchdog; you can also set the environment variable %s", EnvVariableURL))
	cmd.PersistentFlags().DurationVar(&opts.Timeout, "timeout", 30*time.Second, "global command timeout")

	cmd.AddCommand(
		newVersionCommand(),
		newStatus(opts).Command(),
		newCheck(opts).Command(),
		newDeployments(opts).Command(),
		newLog(opts).Command(),
		newWatch(opts).Command(),
	)
	return cmd
}

func (opts *rootOpts) PersistentPreRunE(cmd *cobra.Command, _ []string) error {
	if opts.API != nil {
		return nil
	}
	url := os.Getenv(EnvVariableURL)
	if cmd.Flags().Changed("url") || url == "" {
		url = opts.URL
	}
	if version == "" {
		version = "unversioned"
	}
	opts.API = client.New(&http.Client{}, transport.NewAPIRouter(), url, "watchdogctl/"+version)
	return nil
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Output the version of watchdogctl",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) != 0 {
				return errorWantedNoArgs
			}
			if version == "" {
				version = "unversioned"
			}
			fmt.Fprintln(cmd.OutOrStdout(), version)
			return nil
		},
	}
}

// context is bounded by --timeout. Watching isn't; it goes on until
// interrupted.
func (opts *rootOpts) context() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), opts.Timeout)
}

func makeExample(examples ...string) string {
	var buf strings.Builder
	for _, ex := range examples {
		fmt.Fprintf(&buf, "  %s\n", ex)
	}
	return strings.TrimSuffix(buf.String(), "\n")
}
