package daemon

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io/ioutil"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/fluxcd/watchdog/pkg/api"
	fluxerr "github.com/fluxcd/watchdog/pkg/errors"
	"github.com/fluxcd/watchdog/pkg/event"
	transport "github.com/fluxcd/watchdog/pkg/http"
	"github.com/fluxcd/watchdog/pkg/http/websocket"
	"github.com/fluxcd/watchdog/pkg/revision"
)

type mockServer struct {
	mu         sync.Mutex
	checks     int
	status     api.Status
	transcript map[revision.ID]string
	bus        *event.Bus
	subscribed chan struct{}
	subscriber string
}

func newMockServer() *mockServer {
	return &mockServer{
		status:     api.Status{Hostname: "login.dev.example.org", Phase: api.PhaseIdle},
		transcript: map[revision.ID]string{"abcd123": "deployment of abcd123 begins\n"},
		bus:        event.NewBus(),
		subscribed: make(chan struct{}, 1),
	}
}

func (m *mockServer) Ping(context.Context) error { return nil }

func (m *mockServer) Version(context.Context) (string, error) { return "1.0.0", nil }

func (m *mockServer) Status(context.Context) (api.Status, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status, nil
}

func (m *mockServer) Check(context.Context) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checks++
	return m.checks == 1, nil
}

func (m *mockServer) checkCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.checks
}

func (m *mockServer) Deployments(context.Context) ([]api.Deployment, error) {
	return []api.Deployment{{Revision: "abcd123", Size: 29}}, nil
}

func (m *mockServer) Transcript(ctx context.Context, rev revision.ID) ([]byte, error) {
	text, ok := m.transcript[rev]
	if !ok {
		return nil, &fluxerr.Error{Type: fluxerr.Missing, Help: "no transcript for " + string(rev) + "\n", Err: errors.New("not found")}
	}
	return []byte(text), nil
}

func (m *mockServer) Subscribe(name string, h event.Handler) func() {
	unsubscribe := m.bus.Subscribe(name, h)
	m.mu.Lock()
	m.subscriber = name
	m.mu.Unlock()
	m.subscribed <- struct{}{}
	return unsubscribe
}

func serve(t *testing.T, m *mockServer, opts HandlerOptions) (*httptest.Server, func()) {
	srv := httptest.NewServer(NewHandler(m, NewRouter(), opts))
	return srv, func() {
		srv.Close()
		m.bus.Close()
	}
}

func get(t *testing.T, u string) (int, string) {
	resp, err := http.Get(u)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := ioutil.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(body)
}

func TestRouterImplementsServer(t *testing.T) {
	router := NewRouter()
	NewHandler(newMockServer(), router, HandlerOptions{})
	assert.NoError(t, transport.ImplementsServer(router))
}

func TestStatusText(t *testing.T) {
	m := newMockServer()
	srv, cleanup := serve(t, m, HandlerOptions{})
	defer cleanup()

	code, body := get(t, srv.URL+"/")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "idle", body)

	m.mu.Lock()
	m.status.Deploying = "abcd123"
	m.mu.Unlock()
	_, body = get(t, srv.URL+"/")
	assert.Equal(t, "deploying abcd123", body)
}

func TestCheck(t *testing.T) {
	m := newMockServer()
	srv, cleanup := serve(t, m, HandlerOptions{})
	defer cleanup()

	resp, err := http.Get(srv.URL + "/check")
	require.NoError(t, err)
	body, _ := ioutil.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", string(body))
	assert.Equal(t, "true", resp.Header.Get(transport.CheckStartedHeader))

	// a check that doesn't start is still ok
	resp, err = http.Post(srv.URL+"/check", "text/plain", nil)
	require.NoError(t, err)
	body, _ = ioutil.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", string(body))
	assert.Equal(t, "false", resp.Header.Get(transport.CheckStartedHeader))
	assert.Equal(t, 2, m.checkCount())
}

func TestCheckRateLimited(t *testing.T) {
	m := newMockServer()
	srv, cleanup := serve(t, m, HandlerOptions{CheckRate: rate.Every(time.Hour), CheckBurst: 2})
	defer cleanup()

	codes := []int{}
	for i := 0; i < 3; i++ {
		code, _ := get(t, srv.URL+"/check")
		codes = append(codes, code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)
	assert.Equal(t, 2, m.checkCount())
}

func sign(secret, payload []byte) string {
	mac := hmac.New(sha1.New, secret)
	mac.Write(payload)
	return "sha1=" + hex.EncodeToString(mac.Sum(nil))
}

func TestCheckWebhook(t *testing.T) {
	secret := []byte("s3cret")
	m := newMockServer()
	srv, cleanup := serve(t, m, HandlerOptions{WebhookSecret: secret})
	defer cleanup()

	payload := []byte(`{"ref":"refs/heads/dev","after":"abcd1234567890"}`)
	post := func(signature string) int {
		req, err := http.NewRequest("POST", srv.URL+"/check", bytes.NewReader(payload))
		require.NoError(t, err)
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-GitHub-Event", "push")
		req.Header.Set("X-Hub-Signature", signature)
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		resp.Body.Close()
		return resp.StatusCode
	}

	assert.Equal(t, http.StatusUnauthorized, post(sign([]byte("wrong"), payload)))
	assert.Equal(t, 0, m.checkCount())
	assert.Equal(t, http.StatusOK, post(sign(secret, payload)))
	assert.Equal(t, 1, m.checkCount())
}

func TestTranscript(t *testing.T) {
	m := newMockServer()
	srv, cleanup := serve(t, m, HandlerOptions{})
	defer cleanup()

	code, body := get(t, srv.URL+"/abcd123.txt")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "deployment of abcd123 begins\n", body)

	code, _ = get(t, srv.URL+"/fedcba9.txt")
	assert.Equal(t, http.StatusNotFound, code)

	code, _ = get(t, srv.URL+"/nonesuch/path")
	assert.Equal(t, http.StatusNotFound, code)
}

func TestStatusAndDeploymentsJSON(t *testing.T) {
	m := newMockServer()
	srv, cleanup := serve(t, m, HandlerOptions{})
	defer cleanup()

	_, body := get(t, srv.URL+"/v1/status")
	var status api.Status
	require.NoError(t, json.Unmarshal([]byte(body), &status))
	assert.Equal(t, "login.dev.example.org", status.Hostname)
	assert.Equal(t, api.PhaseIdle, status.Phase)

	_, body = get(t, srv.URL+"/v1/deployments")
	var deployments []api.Deployment
	require.NoError(t, json.Unmarshal([]byte(body), &deployments))
	require.Len(t, deployments, 1)
	assert.Equal(t, revision.ID("abcd123"), deployments[0].Revision)
}

func TestEvents(t *testing.T) {
	m := newMockServer()
	srv, cleanup := serve(t, m, HandlerOptions{})
	defer cleanup()

	u, _ := url.Parse(srv.URL + "/v1/events")
	ws, err := websocket.Dial(context.Background(), http.DefaultClient, "test", u)
	require.NoError(t, err)
	defer ws.Close()

	select {
	case <-m.subscribed:
	case <-time.After(5 * time.Second):
		t.Fatal("websocket handler never subscribed")
	}
	m.mu.Lock()
	assert.Equal(t, WebsocketSubscriber, m.subscriber)
	m.mu.Unlock()
	m.bus.Publish(event.Event{Type: event.DeploymentBegins, Revision: "abcd123"})

	e, err := ws.Receive()
	require.NoError(t, err)
	assert.Equal(t, event.DeploymentBegins, e.Type)
	assert.Equal(t, revision.ID("abcd123"), e.Revision)
}
