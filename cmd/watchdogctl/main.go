package main

import (
	"os"

	"github.com/pkg/errors"

	fluxerr "github.com/fluxcd/watchdog/pkg/errors"
	"github.com/fluxcd/watchdog/pkg/http/httperror"
)

func main() {
	rootCmd := newRoot().Command()
	cmd, err := rootCmd.ExecuteC()
	if err == nil {
		return
	}

	var apiErr *fluxerr.Error
	var httpErr *httperror.APIError
	switch {
	case errors.As(err, new(usageError)):
		cmd.Println("")
		cmd.Println(cmd.UsageString())
	case errors.As(err, &apiErr) && apiErr.Help != "":
		cmd.Println("")
		cmd.Print(apiErr.Help)
	case errors.As(err, &httpErr) && httpErr.IsUnavailable():
		cmd.Println("The watchdog could not be reached; is it running, and is --url right?")
	case errors.As(err, &httpErr) && httpErr.IsRateLimited():
		cmd.Println("Too many requests; wait a moment and try again.")
	}
	os.Exit(1)
}
