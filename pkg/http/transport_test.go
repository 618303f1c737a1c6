package http

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	fluxerr "github.com/fluxcd/watchdog/pkg/errors"
)

func TestMakeURL(t *testing.T) {
	router := NewAPIRouter()

	u, err := MakeURL("http://localhost:8080/watchdog", router, Transcript, []string{"revision", "abcd123"})
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8080/watchdog/abcd123.txt", u.String())

	u, err = MakeURL("http://localhost:8080", router, Status, nil, "verbose", "true")
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8080/v1/status?verbose=true", u.String())

	_, err = MakeURL("http://localhost:8080", router, "Nonesuch", nil)
	assert.Error(t, err)

	// the revision pattern on the route rejects anything else
	_, err = MakeURL("http://localhost:8080", router, Transcript, []string{"revision", "../etc/passwd"})
	assert.Error(t, err)
}

func TestImplementsServer(t *testing.T) {
	router := NewAPIRouter()
	assert.Error(t, ImplementsServer(router))

	router.Walk(func(r *mux.Route, _ *mux.Router, _ []*mux.Route) error {
		r.HandlerFunc(func(http.ResponseWriter, *http.Request) {})
		return nil
	})
	assert.NoError(t, ImplementsServer(router))
}

func TestErrorResponse(t *testing.T) {
	for _, tc := range []struct {
		err    error
		accept string
		code   int
		body   string
	}{
		{
			err:    errors.Wrap(&fluxerr.Error{Type: fluxerr.Missing, Help: "no such transcript", Err: errors.New("not found")}, "opening"),
			accept: "text/plain",
			code:   http.StatusNotFound,
			body:   "no such transcript",
		},
		{
			err:  errors.New("disk on fire"),
			code: http.StatusInternalServerError,
			body: "disk on fire",
		},
		{
			err:    &fluxerr.Error{Type: fluxerr.User, Help: "bad", Err: errors.New("bad request")},
			accept: "application/json",
			code:   http.StatusUnprocessableEntity,
			body:   `{"type":"user","help":"bad","error":"bad request"}`,
		},
	} {
		r := httptest.NewRequest("GET", "/v1/status", nil)
		if tc.accept != "" {
			r.Header.Set("Accept", tc.accept)
		}
		w := httptest.NewRecorder()
		ErrorResponse(w, r, tc.err)
		assert.Equal(t, tc.code, w.Code)
		assert.Equal(t, tc.body, w.Body.String())
	}
}
