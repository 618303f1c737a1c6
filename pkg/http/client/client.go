package client

import (
	"context"
	"encoding/json"
	"io/ioutil"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"

	"github.com/fluxcd/watchdog/pkg/api"
	fluxerr "github.com/fluxcd/watchdog/pkg/errors"
	"github.com/fluxcd/watchdog/pkg/event"
	transport "github.com/fluxcd/watchdog/pkg/http"
	"github.com/fluxcd/watchdog/pkg/http/httperror"
	"github.com/fluxcd/watchdog/pkg/http/websocket"
	"github.com/fluxcd/watchdog/pkg/revision"
)

const maxErrorBody = 64 * 1024

type Client struct {
	client    *http.Client
	router    *mux.Router
	endpoint  string
	userAgent string
}

var _ api.Server = &Client{}

func New(c *http.Client, router *mux.Router, endpoint, userAgent string) *Client {
	return &Client{
		client:    c,
		router:    router,
		endpoint:  endpoint,
		userAgent: userAgent,
	}
}

func (c *Client) Ping(ctx context.Context) error {
	_, err := c.do(ctx, "GET", transport.Ping, nil)
	return err
}

func (c *Client) Version(ctx context.Context) (string, error) {
	var v string
	err := c.Get(ctx, &v, transport.Version, nil)
	return v, err
}

func (c *Client) Status(ctx context.Context) (api.Status, error) {
	var res api.Status
	err := c.Get(ctx, &res, transport.Status, nil)
	return res, err
}

func (c *Client) Check(ctx context.Context) (bool, error) {
	resp, err := c.do(ctx, "POST", transport.Check, nil)
	if err != nil {
		return false, err
	}
	started, err := strconv.ParseBool(resp.Header.Get(transport.CheckStartedHeader))
	if err != nil {
		return false, errors.Wrapf(err, "reading %s header", transport.CheckStartedHeader)
	}
	return started, nil
}

func (c *Client) Deployments(ctx context.Context) ([]api.Deployment, error) {
	var res []api.Deployment
	err := c.Get(ctx, &res, transport.Deployments, nil)
	return res, err
}

func (c *Client) Transcript(ctx context.Context, rev revision.ID) ([]byte, error) {
	resp, err := c.do(ctx, "GET", transport.Transcript, []string{"revision", string(rev)})
	if err != nil {
		return nil, err
	}
	return resp.body, nil
}

// Watch streams the daemon's events to the handler, until the
// context is done or the connection is lost.
func (c *Client) Watch(ctx context.Context, h event.Handler) error {
	u, err := transport.MakeURL(c.endpoint, c.router, transport.Events, nil)
	if err != nil {
		return errors.Wrap(err, "constructing URL")
	}
	ws, err := websocket.Dial(ctx, c.client, c.userAgent, u)
	if err != nil {
		return errors.Wrap(err, "connecting to event stream")
	}
	go func() {
		<-ctx.Done()
		ws.Close()
	}()
	for {
		e, err := ws.Receive()
		if err != nil {
			if ctx.Err() != nil || websocket.IsClosed(err) {
				return nil
			}
			return errors.Wrap(err, "reading event stream")
		}
		h(e)
	}
}

// --- Request helpers

// Get executes a get request against the watchdog; it unmarshals the
// response into dest, if not nil.
func (c *Client) Get(ctx context.Context, dest interface{}, route string, pathVars []string, queryParams ...string) error {
	resp, err := c.do(ctx, "GET", route, pathVars, queryParams...)
	if err != nil {
		return err
	}
	if dest != nil && len(resp.body) > 0 {
		if err := json.Unmarshal(resp.body, dest); err != nil {
			return errors.Wrap(err, "decoding response from server")
		}
	}
	return nil
}

type response struct {
	*http.Response
	body []byte
}

func (c *Client) do(ctx context.Context, method, route string, pathVars []string, queryParams ...string) (*response, error) {
	u, err := transport.MakeURL(c.endpoint, c.router, route, pathVars, queryParams...)
	if err != nil {
		return nil, errors.Wrap(err, "constructing URL")
	}

	req, err := http.NewRequest(method, u.String(), nil)
	if err != nil {
		return nil, errors.Wrapf(err, "constructing request %s", u)
	}
	req = req.WithContext(ctx)
	req.Header.Set("Accept", "application/json")
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	return c.executeRequest(req)
}

func (c *Client) executeRequest(req *http.Request) (*response, error) {
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "executing HTTP request")
	}
	defer resp.Body.Close()
	body, err := ioutil.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "reading response body")
	}

	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated, http.StatusNoContent, http.StatusAccepted:
		return &response{Response: resp, body: body}, nil
	default:
		// Use the content type to discriminate between `fluxerr.Error`,
		// and any old error
		if strings.HasPrefix(resp.Header.Get(http.CanonicalHeaderKey("Content-Type")), "application/json") {
			var niceError fluxerr.Error
			if err := json.Unmarshal(body, &niceError); err != nil {
				return nil, errors.Wrap(err, "decoding response body of error")
			}
			// just in case it's JSON but not one of our own errors
			if niceError.Err != nil {
				return nil, &niceError
			}
		}
		if len(body) > maxErrorBody {
			body = body[:maxErrorBody]
		}
		return nil, &httperror.APIError{
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
			Body:       string(body),
		}
	}
}
