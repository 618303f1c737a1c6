package main

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fluxcd/watchdog/pkg/api"
	"github.com/fluxcd/watchdog/pkg/event"
	"github.com/fluxcd/watchdog/pkg/revision"
)

type stubAPI struct {
	status      api.Status
	started     bool
	deployments []api.Deployment
	transcripts map[revision.ID][]byte
	events      []event.Event
}

func (s *stubAPI) Ping(context.Context) error                 { return nil }
func (s *stubAPI) Version(context.Context) (string, error)    { return "v-test", nil }
func (s *stubAPI) Status(context.Context) (api.Status, error) { return s.status, nil }
func (s *stubAPI) Check(context.Context) (bool, error)        { return s.started, nil }
func (s *stubAPI) Deployments(context.Context) ([]api.Deployment, error) {
	return s.deployments, nil
}

func (s *stubAPI) Transcript(_ context.Context, rev revision.ID) ([]byte, error) {
	b, ok := s.transcripts[rev]
	if !ok {
		return nil, assert.AnError
	}
	return b, nil
}

func (s *stubAPI) Watch(_ context.Context, h event.Handler) error {
	for _, e := range s.events {
		h(e)
	}
	return nil
}

func run(t *testing.T, stub *stubAPI, args ...string) (string, error) {
	opts := newRoot()
	opts.API = stub
	cmd := opts.Command()
	out := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestStatus_Tab(t *testing.T) {
	out, err := run(t, &stubAPI{status: api.Status{
		Hostname:     "login.dev.example.org",
		Phase:        api.PhaseDeploying,
		Busy:         true,
		Deploying:    "abcd123",
		LastDeployed: "1234567",
		Checks:       3,
	}}, "status")
	require.NoError(t, err)
	assert.Contains(t, out, "deploying abcd123")
	assert.Contains(t, out, "1234567")
	assert.Contains(t, out, "never")
}

func TestStatus_YAML(t *testing.T) {
	out, err := run(t, &stubAPI{status: api.Status{
		Hostname: "login.dev.example.org",
		Phase:    api.PhaseIdle,
		Checks:   2,
	}}, "status", "--output", "yaml")
	require.NoError(t, err)
	assert.Contains(t, out, "hostname: login.dev.example.org")
	assert.Contains(t, out, "checks: 2")
	assert.Contains(t, out, "phase: idle")
}

func TestStatus_BadOutputFormat(t *testing.T) {
	_, err := run(t, &stubAPI{}, "status", "--output", "xml")
	assert.Equal(t, errorInvalidOutputFormat, err)
}

func TestStatus_NoArgs(t *testing.T) {
	_, err := run(t, &stubAPI{}, "status", "extra")
	assert.Equal(t, errorWantedNoArgs, err)
}

func TestCheck(t *testing.T) {
	out, err := run(t, &stubAPI{started: true}, "check")
	require.NoError(t, err)
	assert.Equal(t, "check started\n", out)

	out, err = run(t, &stubAPI{started: false}, "check")
	require.NoError(t, err)
	assert.Contains(t, out, "not started")
}

func TestDeployments_NewestFirst(t *testing.T) {
	now := time.Date(2020, 3, 1, 12, 0, 0, 0, time.UTC)
	out, err := run(t, &stubAPI{deployments: []api.Deployment{
		{Revision: "aaaaaaa", Size: 10, Updated: now.Add(-time.Hour)},
		{Revision: "bbbbbbb", Size: 20, Updated: now},
	}}, "deployments")
	require.NoError(t, err)
	assert.True(t, bytes.Index([]byte(out), []byte("bbbbbbb")) < bytes.Index([]byte(out), []byte("aaaaaaa")))
}

func TestLog(t *testing.T) {
	stub := &stubAPI{transcripts: map[revision.ID][]byte{
		"abcd123": []byte("2020-03-01T12:00:00Z: deployment_begins: abcd123\n"),
	}}
	out, err := run(t, stub, "log", "abcd123")
	require.NoError(t, err)
	assert.Equal(t, "2020-03-01T12:00:00Z: deployment_begins: abcd123\n", out)

	_, err = run(t, stub, "log")
	assert.IsType(t, usageError{}, err)

	_, err = run(t, stub, "log", "fffffff")
	assert.Error(t, err)
}

func TestWatch_HidesProgress(t *testing.T) {
	at := time.Date(2020, 3, 1, 12, 0, 0, 0, time.UTC)
	stub := &stubAPI{events: []event.Event{
		{Type: event.DeploymentBegins, Time: at, Revision: "abcd123"},
		{Type: event.Progress, Time: at, Message: "npm install"},
		{Type: event.DeploymentComplete, Time: at, Revision: "abcd123", Duration: 42 * time.Second},
	}}
	out, err := run(t, stub, "watch")
	require.NoError(t, err)
	assert.Contains(t, out, "npm install")

	out, err = run(t, stub, "watch", "--progress=false")
	require.NoError(t, err)
	assert.NotContains(t, out, "npm install")
	assert.Contains(t, out, "deployment_complete: abcd123 in 42.00s")
}

func TestVersion(t *testing.T) {
	version = "1.2.3"
	out, err := run(t, &stubAPI{}, "version")
	require.NoError(t, err)
	assert.Equal(t, "1.2.3\n", out)
}
