package daemon

import (
	"net/http"
	"strconv"

	"github.com/go-kit/kit/log"
	"github.com/google/go-github/v28/github"
	"github.com/gorilla/mux"
	stdprometheus "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/weaveworks/common/middleware"
	"golang.org/x/time/rate"

	"github.com/fluxcd/watchdog/pkg/api"
	"github.com/fluxcd/watchdog/pkg/event"
	transport "github.com/fluxcd/watchdog/pkg/http"
	"github.com/fluxcd/watchdog/pkg/http/websocket"
	fluxmetrics "github.com/fluxcd/watchdog/pkg/metrics"
	"github.com/fluxcd/watchdog/pkg/revision"
)

var (
	requestDuration = stdprometheus.NewHistogramVec(stdprometheus.HistogramOpts{
		Namespace: "watchdog",
		Name:      "request_duration_seconds",
		Help:      "Time (in seconds) spent serving HTTP requests.",
		Buckets:   stdprometheus.DefBuckets,
	}, []string{fluxmetrics.LabelMethod, fluxmetrics.LabelRoute, "status_code", "ws"})
)

func init() {
	stdprometheus.MustRegister(requestDuration)
}

const (
	DefaultCheckRate  = rate.Limit(1)
	DefaultCheckBurst = 10
)

// Server is what the daemon gives the HTTP API: the API proper,
// and its stream of events.
type Server interface {
	api.Server
	Subscribe(name string, h event.Handler) (unsubscribe func())
}

type HandlerOptions struct {
	// WebhookSecret, if set, is used to check the signature of GitHub
	// webhook deliveries.
	WebhookSecret []byte
	// CheckRate and CheckBurst limit requests to /check.
	CheckRate  rate.Limit
	CheckBurst int
	Logger     log.Logger
}

// NewRouter gives the API router, with anything not in the API
// answered with a 404 the client can explain.
func NewRouter() *mux.Router {
	r := transport.NewAPIRouter()
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		transport.WriteError(w, r, http.StatusNotFound, transport.MakeAPINotFound(r.URL.Path))
	})
	return r
}

func NewHandler(s Server, r *mux.Router, opts HandlerOptions) http.Handler {
	if opts.CheckRate == 0 {
		opts.CheckRate = DefaultCheckRate
	}
	if opts.CheckBurst == 0 {
		opts.CheckBurst = DefaultCheckBurst
	}
	if opts.Logger == nil {
		opts.Logger = log.NewNopLogger()
	}
	handle := HTTPServer{
		server:  s,
		secret:  opts.WebhookSecret,
		limiter: rate.NewLimiter(opts.CheckRate, opts.CheckBurst),
		logger:  opts.Logger,
	}

	r.Get(transport.StatusText).HandlerFunc(handle.StatusText)
	r.Get(transport.Check).HandlerFunc(handle.Check)
	r.Get(transport.Transcript).HandlerFunc(handle.Transcript)

	r.Get(transport.Ping).HandlerFunc(handle.Ping)
	r.Get(transport.Version).HandlerFunc(handle.Version)
	r.Get(transport.Status).HandlerFunc(handle.Status)
	r.Get(transport.Deployments).HandlerFunc(handle.Deployments)
	r.Get(transport.Events).HandlerFunc(handle.Events)

	r.Get(transport.Metrics).Handler(promhttp.Handler())

	return middleware.Instrument{
		RouteMatcher: r,
		Duration:     requestDuration,
	}.Wrap(r)
}

type HTTPServer struct {
	server  Server
	secret  []byte
	limiter *rate.Limiter
	logger  log.Logger
}

func (s HTTPServer) StatusText(w http.ResponseWriter, r *http.Request) {
	status, err := s.server.Status(r.Context())
	if err != nil {
		transport.ErrorResponse(w, r, err)
		return
	}
	transport.TextResponse(w, r, []byte(status.Text()))
}

// Check asks for a check for updates. It's what a GitHub webhook
// calls, as well as anyone impatient; either way the answer is "ok",
// since a check that's already underway will do just as well.
func (s HTTPServer) Check(w http.ResponseWriter, r *http.Request) {
	if !s.limiter.Allow() {
		transport.WriteError(w, r, http.StatusTooManyRequests, transport.ErrorTooManyRequests)
		return
	}

	if r.Method == "POST" && github.WebHookType(r) != "" {
		if err := s.webhook(r); err != nil {
			s.logger.Log("err", err)
			transport.WriteError(w, r, http.StatusUnauthorized, transport.ErrorBadSignature)
			return
		}
	}

	started, err := s.server.Check(r.Context())
	if err != nil {
		transport.ErrorResponse(w, r, err)
		return
	}
	s.logger.Log("info", "check requested", "started", started)
	w.Header().Set(transport.CheckStartedHeader, strconv.FormatBool(started))
	transport.TextResponse(w, r, []byte("ok"))
}

// webhook vets a GitHub delivery, if there's a secret to do it with.
func (s HTTPServer) webhook(r *http.Request) error {
	if len(s.secret) == 0 {
		return nil
	}
	payload, err := github.ValidatePayload(r, s.secret)
	if err != nil {
		return err
	}
	hook, err := github.ParseWebHook(github.WebHookType(r), payload)
	if err != nil {
		// Signed, but not a kind of event we know; still worth a
		// check.
		s.logger.Log("warning", "unparsed webhook", "type", github.WebHookType(r), "err", err)
		return nil
	}
	switch hook := hook.(type) {
	case *github.PushEvent:
		s.logger.Log("info", "push webhook", "ref", hook.GetRef(), "after", hook.GetAfter())
	case *github.PingEvent:
		s.logger.Log("info", "ping webhook", "hook", hook.GetHookID())
	}
	return nil
}

func (s HTTPServer) Transcript(w http.ResponseWriter, r *http.Request) {
	rev := revision.ID(mux.Vars(r)["revision"])
	text, err := s.server.Transcript(r.Context(), rev)
	if err != nil {
		transport.ErrorResponse(w, r, err)
		return
	}
	transport.TextResponse(w, r, text)
}

func (s HTTPServer) Ping(w http.ResponseWriter, r *http.Request) {
	if err := s.server.Ping(r.Context()); err != nil {
		transport.ErrorResponse(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s HTTPServer) Version(w http.ResponseWriter, r *http.Request) {
	version, err := s.server.Version(r.Context())
	if err != nil {
		transport.ErrorResponse(w, r, err)
		return
	}
	transport.JSONResponse(w, r, version)
}

func (s HTTPServer) Status(w http.ResponseWriter, r *http.Request) {
	status, err := s.server.Status(r.Context())
	if err != nil {
		transport.ErrorResponse(w, r, err)
		return
	}
	transport.JSONResponse(w, r, status)
}

func (s HTTPServer) Deployments(w http.ResponseWriter, r *http.Request) {
	deployments, err := s.server.Deployments(r.Context())
	if err != nil {
		transport.ErrorResponse(w, r, err)
		return
	}
	transport.JSONResponse(w, r, deployments)
}

// WebsocketSubscriber is the name every event stream client
// subscribes under, so the queue metric has one series for all of
// them.
const WebsocketSubscriber = "websocket"

// Events streams events to the client until it goes away.
func (s HTTPServer) Events(w http.ResponseWriter, r *http.Request) {
	ws, err := websocket.Accept(w, r)
	if err != nil {
		// Accept has already written an error response.
		s.logger.Log("err", err)
		return
	}
	defer ws.Close()

	failed := make(chan struct{})
	var failedOnce bool
	unsubscribe := s.server.Subscribe(WebsocketSubscriber, func(e event.Event) {
		if failedOnce {
			return
		}
		if err := ws.Send(e); err != nil {
			failedOnce = true
			close(failed)
		}
	})
	defer unsubscribe()

	// Nothing is expected from the client; reading is how its going
	// away, and pongs, get noticed.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, err := ws.Receive(); err != nil {
				return
			}
		}
	}()

	select {
	case <-gone:
	case <-failed:
	case <-r.Context().Done():
	}
}
