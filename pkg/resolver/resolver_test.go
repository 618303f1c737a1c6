package resolver

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"
	"time"

	"github.com/miekg/dns"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fluxcd/watchdog/pkg/revision"
)

// authority runs a nameserver on a loopback UDP port; handler answers
// queries, and returns false to give no answer at all.
func authority(t *testing.T, handler func(q dns.Question, m *dns.Msg) bool) (string, func()) {
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)

	started := make(chan struct{})
	srv := &dns.Server{
		PacketConn:        pc,
		NotifyStartedFunc: func() { close(started) },
		Handler: dns.HandlerFunc(func(w dns.ResponseWriter, req *dns.Msg) {
			m := new(dns.Msg)
			m.SetReply(req)
			m.Authoritative = true
			if handler(req.Question[0], m) {
				w.WriteMsg(m)
			}
		}),
	}
	go srv.ActivateAndServe()
	<-started
	return pc.LocalAddr().String(), func() { srv.Shutdown() }
}

func answerWith(ip string) func(dns.Question, *dns.Msg) bool {
	return func(q dns.Question, m *dns.Msg) bool {
		rr, err := dns.NewRR(fmt.Sprintf("%s 60 IN A %s", q.Name, ip))
		if err != nil {
			panic(err)
		}
		m.Answer = append(m.Answer, rr)
		return true
	}
}

func markerServer(t *testing.T, body string, gotHost *string) (*httptest.Server, int) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/ver.txt" {
			http.NotFound(w, r)
			return
		}
		if gotHost != nil {
			*gotHost = r.Host
		}
		fmt.Fprint(w, body)
	}))
	return srv, portOf(t, srv.URL)
}

func portOf(t *testing.T, rawurl string) int {
	u, err := url.Parse(rawurl)
	require.NoError(t, err)
	port, err := strconv.Atoi(u.Port())
	require.NoError(t, err)
	return port
}

func TestResolve_UpToDateHost(t *testing.T) {
	ns, stop := authority(t, answerWith("127.0.0.1"))
	defer stop()
	var host string
	marker, port := markerServer(t, "abcd123 2020-01-02T03:04:05Z\n", &host)
	defer marker.Close()

	r := New(FixedNameserver(ns), MarkerPort(port))
	rev, err := r.Resolve(context.Background(), "login.dev.example.org")
	require.NoError(t, err)
	assert.Equal(t, revision.ID("abcd123"), rev)
	assert.Equal(t, "login.dev.example.org", host)
}

func TestResolve_DNSTimeout(t *testing.T) {
	ns, stop := authority(t, func(dns.Question, *dns.Msg) bool { return false })
	defer stop()

	r := New(FixedNameserver(ns), DNSTimeout(200*time.Millisecond))
	started := time.Now()
	_, err := r.Resolve(context.Background(), "login.dev.example.org")
	require.Error(t, err)
	assert.True(t, time.Since(started) < 5*time.Second)

	var resErr *ResolutionError
	require.True(t, errors.As(err, &resErr), "expected a ResolutionError, got %T", err)
	assert.Contains(t, err.Error(), "timeout")
}

func TestResolve_NoAddress(t *testing.T) {
	ns, stop := authority(t, func(dns.Question, *dns.Msg) bool { return true })
	defer stop()

	r := New(FixedNameserver(ns))
	_, err := r.Resolve(context.Background(), "login.dev.example.org")
	var resErr *ResolutionError
	require.True(t, errors.As(err, &resErr))
	assert.Equal(t, ErrNoAddress, resErr.Err)
}

func TestResolve_NXDomain(t *testing.T) {
	ns, stop := authority(t, func(_ dns.Question, m *dns.Msg) bool {
		m.Rcode = dns.RcodeNameError
		return true
	})
	defer stop()

	_, err := New(FixedNameserver(ns)).Resolve(context.Background(), "nope.example.org")
	var resErr *ResolutionError
	require.True(t, errors.As(err, &resErr))
	assert.Contains(t, err.Error(), "NXDOMAIN")
}

func TestResolve_MalformedMarker(t *testing.T) {
	ns, stop := authority(t, answerWith("127.0.0.1"))
	defer stop()

	for _, body := range []string{"abcdef12 x", "", "   \n", "abc"} {
		marker, port := markerServer(t, body, nil)
		_, err := New(FixedNameserver(ns), MarkerPort(port)).Resolve(context.Background(), "login.dev.example.org")
		marker.Close()

		var protoErr *ProtocolError
		require.True(t, errors.As(err, &protoErr), "body %q: expected ProtocolError, got %v", body, err)
	}
}

func TestResolve_ConfiguredRevisionLength(t *testing.T) {
	ns, stop := authority(t, answerWith("127.0.0.1"))
	defer stop()
	marker, port := markerServer(t, "0123456789ab", nil)
	defer marker.Close()

	rev, err := New(FixedNameserver(ns), MarkerPort(port), RevisionLength(12)).Resolve(context.Background(), "login.example.org")
	require.NoError(t, err)
	assert.Equal(t, revision.ID("0123456789ab"), rev)
}

func TestResolve_MarkerNotFound(t *testing.T) {
	ns, stop := authority(t, answerWith("127.0.0.1"))
	defer stop()
	marker, port := markerServer(t, "abcd123", nil)
	defer marker.Close()

	_, err := New(FixedNameserver(ns), MarkerPort(port), MarkerPath("/missing.txt")).Resolve(context.Background(), "login.example.org")
	var protoErr *ProtocolError
	require.True(t, errors.As(err, &protoErr))
	assert.Contains(t, protoErr.Reason, "404")
}

func TestResolve_MarkerUnreachable(t *testing.T) {
	ns, stop := authority(t, answerWith("127.0.0.1"))
	defer stop()
	marker, port := markerServer(t, "abcd123", nil)
	marker.Close()

	_, err := New(FixedNameserver(ns), MarkerPort(port)).Resolve(context.Background(), "login.example.org")
	var resErr *ResolutionError
	require.True(t, errors.As(err, &resErr))
}

func TestResolve_TLSKeepsHostname(t *testing.T) {
	ns, stop := authority(t, answerWith("127.0.0.1"))
	defer stop()
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "fedcba9")
	}))
	defer srv.Close()

	pool := x509.NewCertPool()
	pool.AddCert(srv.Certificate())
	// The test certificate is issued for example.com.
	r := New(FixedNameserver(ns),
		MarkerScheme("https"),
		MarkerPort(portOf(t, srv.URL)),
		TLSConfig(&tls.Config{RootCAs: pool}))
	rev, err := r.Resolve(context.Background(), "example.com")
	require.NoError(t, err)
	assert.Equal(t, revision.ID("fedcba9"), rev)

	// A name the certificate doesn't cover fails validation.
	_, err = r.Resolve(context.Background(), "login.example.org")
	var resErr *ResolutionError
	require.True(t, errors.As(err, &resErr))
}

func TestParseMarker(t *testing.T) {
	rev, err := ParseMarker("h", []byte("  abcd123\tsomething"), 7)
	require.NoError(t, err)
	assert.Equal(t, revision.ID("abcd123"), rev)

	_, err = ParseMarker("h", []byte("abcd1234"), 7)
	assert.Error(t, err)
}

func TestProtocolError_Truncates(t *testing.T) {
	long := make([]byte, 500)
	for i := range long {
		long[i] = 'x'
	}
	_, err := ParseMarker("h", long, 7)
	require.Error(t, err)
	assert.True(t, len(err.Error()) < 200)
}
