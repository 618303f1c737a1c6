// Package httperror is for failed responses that don't carry one of
// the watchdog's own errors.
package httperror

import (
	"fmt"
	"net/http"
	"strings"
)

// APIError is a non-2xx response from something other than the
// watchdog's API, e.g., a proxy in front of the daemon.
type APIError struct {
	StatusCode int
	Status     string
	Body       string
}

func (err *APIError) Error() string {
	body := strings.TrimSpace(err.Body)
	if body == "" {
		return err.Status
	}
	return fmt.Sprintf("%s: %s", err.Status, body)
}

// IsUnavailable is true when whatever answered couldn't get through
// to the watchdog.
func (err *APIError) IsUnavailable() bool {
	switch err.StatusCode {
	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}

func (err *APIError) IsRateLimited() bool {
	return err.StatusCode == http.StatusTooManyRequests
}
