package http

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"path"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"

	fluxerr "github.com/fluxcd/watchdog/pkg/errors"
)

// NewAPIRouter gives the routes of the watchdog's API, without any
// handlers, so that both the server and the client can use it.
func NewAPIRouter() *mux.Router {
	r := mux.NewRouter()

	// These are for people, and for GitHub.
	r.NewRoute().Name(StatusText).Methods("GET").Path("/")
	r.NewRoute().Name(Check).Methods("GET", "POST").Path("/check")
	r.NewRoute().Name(Transcript).Methods("GET").Path("/{revision:[0-9A-Za-z]+}.txt")

	r.NewRoute().Name(Ping).Methods("GET").Path("/v1/ping")
	r.NewRoute().Name(Version).Methods("GET").Path("/v1/version")
	r.NewRoute().Name(Status).Methods("GET").Path("/v1/status")
	r.NewRoute().Name(Deployments).Methods("GET").Path("/v1/deployments")
	r.NewRoute().Name(Events).Methods("GET").Path("/v1/events")

	r.NewRoute().Name(Metrics).Methods("GET").Path("/metrics")
	return r
}

// ImplementsServer verifies that a given router has a handler for
// every route in the API.
func ImplementsServer(router *mux.Router) error {
	return NewAPIRouter().Walk(func(r *mux.Route, _ *mux.Router, _ []*mux.Route) error {
		route := router.Get(r.GetName())
		if route == nil {
			return fmt.Errorf("no route by name %q in router", r.GetName())
		}
		if route.GetHandler() == nil {
			return fmt.Errorf("no handler for route %q in router", r.GetName())
		}
		return nil
	})
}

// MakeURL constructs the URL for the named route, relative to the
// endpoint. pathVars fill in the route's variables; queryParams are
// key, value pairs for the query string.
func MakeURL(endpoint string, router *mux.Router, routeName string, pathVars []string, queryParams ...string) (*url.URL, error) {
	if len(queryParams)%2 != 0 {
		return nil, errors.New("query parameters must come in key, value pairs")
	}

	endpointURL, err := url.Parse(endpoint)
	if err != nil {
		return nil, errors.Wrapf(err, "parsing endpoint %s", endpoint)
	}
	route := router.Get(routeName)
	if route == nil {
		return nil, errors.New("no route with name " + routeName)
	}
	routeURL, err := route.URLPath(pathVars...)
	if err != nil {
		return nil, errors.Wrapf(err, "retrieving route path %s", routeName)
	}

	v := url.Values{}
	for i := 0; i < len(queryParams); i += 2 {
		v.Add(queryParams[i], queryParams[i+1])
	}

	endpointURL.Path = path.Join(endpointURL.Path, routeURL.Path)
	endpointURL.RawQuery = v.Encode()
	return endpointURL, nil
}

const (
	contentTypeJSON = "application/json; charset=utf-8"
	contentTypeText = "text/plain; charset=utf-8"
)

func write(w http.ResponseWriter, code int, contentType string, body []byte) {
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(code)
	w.Write(body)
}

// WriteError writes an error as JSON for clients that ask for it, e.g.,
// watchdogctl. Anyone else gets text: the help, if they sent an Accept
// header, or the bare error if they didn't (e.g., curl).
func WriteError(w http.ResponseWriter, r *http.Request, code int, err error) {
	if r.Header.Get("Accept") == "" {
		write(w, code, contentTypeText, []byte(err.Error()))
		return
	}
	if negotiateContentType(r, []string{"application/json", "text/plain"}) == "application/json" {
		body, encodeErr := json.Marshal(err)
		if encodeErr != nil {
			write(w, http.StatusInternalServerError, contentTypeText,
				[]byte(fmt.Sprintf("Error encoding error response: %s\n\nOriginal error: %s", encodeErr, err)))
			return
		}
		write(w, code, contentTypeJSON, body)
		return
	}
	text := err.Error()
	if fe, ok := err.(*fluxerr.Error); ok && fe.Help != "" {
		text = fe.Help
	}
	write(w, code, contentTypeText, []byte(text))
}

func JSONResponse(w http.ResponseWriter, r *http.Request, result interface{}) {
	body, err := json.Marshal(result)
	if err != nil {
		ErrorResponse(w, r, err)
		return
	}
	write(w, http.StatusOK, contentTypeJSON, body)
}

// TextResponse writes plain text, e.g., for the status line or a
// transcript.
func TextResponse(w http.ResponseWriter, r *http.Request, text []byte) {
	write(w, http.StatusOK, contentTypeText, text)
}

// ErrorResponse writes an error with a status code according to its
// type; errors without a type are the server's.
func ErrorResponse(w http.ResponseWriter, r *http.Request, err error) {
	var apiErr *fluxerr.Error
	if !errors.As(err, &apiErr) {
		apiErr = fluxerr.Unexplained(err)
	}
	code := http.StatusInternalServerError
	switch apiErr.Type {
	case fluxerr.Missing:
		code = http.StatusNotFound
	case fluxerr.User:
		code = http.StatusUnprocessableEntity
	}
	WriteError(w, r, code, apiErr)
}
