package resolver

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"io/ioutil"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/miekg/dns"

	fluxmetrics "github.com/fluxcd/watchdog/pkg/metrics"
	"github.com/fluxcd/watchdog/pkg/revision"
)

const (
	defaultDNSTimeout    = 4 * time.Second
	defaultMarkerTimeout = 10 * time.Second
	defaultMarkerPath    = "/ver.txt"

	// More than enough for a revision and a timestamp; anything
	// bigger is not a version marker.
	maxMarkerSize = 64 * 1024
)

// Resolver finds out which revision a host is really serving. It
// looks up the host's address by asking its authoritative nameserver
// directly, so that no caching resolver can report a stale address
// just after a redeployment, then fetches the version marker from
// that address.
type Resolver struct {
	nameservers   Nameservers
	dnsTimeout    time.Duration
	markerTimeout time.Duration
	markerPath    string
	markerScheme  string
	markerPort    int
	length        int
	tlsConfig     *tls.Config
	logger        log.Logger
}

type Option interface {
	apply(*Resolver)
}

type optionFunc func(*Resolver)

func (f optionFunc) apply(r *Resolver) {
	f(r)
}

type DNSTimeout time.Duration

func (t DNSTimeout) apply(r *Resolver) {
	r.dnsTimeout = time.Duration(t)
}

// MarkerTimeout bounds the whole version marker request.
type MarkerTimeout time.Duration

func (t MarkerTimeout) apply(r *Resolver) {
	r.markerTimeout = time.Duration(t)
}

type MarkerPath string

func (p MarkerPath) apply(r *Resolver) {
	r.markerPath = string(p)
}

// MarkerScheme is "http" or "https".
type MarkerScheme string

func (s MarkerScheme) apply(r *Resolver) {
	r.markerScheme = string(s)
}

// MarkerPort overrides the default port for the scheme.
type MarkerPort int

func (p MarkerPort) apply(r *Resolver) {
	r.markerPort = int(p)
}

type RevisionLength int

func (l RevisionLength) apply(r *Resolver) {
	r.length = int(l)
}

func TLSConfig(c *tls.Config) Option {
	return optionFunc(func(r *Resolver) {
		r.tlsConfig = c
	})
}

func Logger(l log.Logger) Option {
	return optionFunc(func(r *Resolver) {
		r.logger = l
	})
}

func New(nameservers Nameservers, opts ...Option) *Resolver {
	r := &Resolver{
		nameservers:   nameservers,
		dnsTimeout:    defaultDNSTimeout,
		markerTimeout: defaultMarkerTimeout,
		markerPath:    defaultMarkerPath,
		markerScheme:  "http",
		length:        revision.DefaultLength,
		logger:        log.NewNopLogger(),
	}
	for _, opt := range opts {
		opt.apply(r)
	}
	return r
}

// Resolve returns the revision the host is currently serving. Errors
// are either a *ResolutionError or a *ProtocolError.
func (r *Resolver) Resolve(ctx context.Context, hostname string) (rev revision.ID, err error) {
	started := time.Now()
	defer func() {
		resolveDuration.With(
			fluxmetrics.LabelSuccess, fmt.Sprint(err == nil),
		).Observe(time.Since(started).Seconds())
	}()

	addr, err := r.Address(ctx, hostname)
	if err != nil {
		return revision.None, err
	}
	r.logger.Log("resolved", hostname, "address", addr)
	return r.fetchMarker(ctx, hostname, addr)
}

// Address returns the first A record for the hostname, as given by
// its authoritative nameserver.
func (r *Resolver) Address(ctx context.Context, hostname string) (string, error) {
	ns, err := r.nameservers.Nameserver(ctx, hostname)
	if err != nil {
		return "", &ResolutionError{Host: hostname, Err: fmt.Errorf("discovering nameserver: %s", err)}
	}

	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn(hostname), dns.TypeA)
	// We want the answer the authority has, not anything cached
	// along the way.
	m.RecursionDesired = false

	ctx, cancel := context.WithTimeout(ctx, r.dnsTimeout)
	defer cancel()
	c := &dns.Client{Net: "udp", Timeout: r.dnsTimeout}
	in, _, err := c.ExchangeContext(ctx, m, ns)
	if err != nil {
		if isTimeout(err) || ctx.Err() == context.DeadlineExceeded {
			return "", &ResolutionError{Host: hostname, Err: fmt.Errorf("timeout querying %s after %s", ns, r.dnsTimeout)}
		}
		return "", &ResolutionError{Host: hostname, Err: fmt.Errorf("querying %s: %s", ns, err)}
	}
	if in.Rcode != dns.RcodeSuccess {
		return "", &ResolutionError{Host: hostname, Err: fmt.Errorf("%s answered %s", ns, dns.RcodeToString[in.Rcode])}
	}
	for _, rr := range in.Answer {
		if a, ok := rr.(*dns.A); ok {
			return a.A.String(), nil
		}
	}
	return "", &ResolutionError{Host: hostname, Err: ErrNoAddress}
}

func (r *Resolver) fetchMarker(ctx context.Context, hostname, address string) (revision.ID, error) {
	ctx, cancel := context.WithTimeout(ctx, r.markerTimeout)
	defer cancel()

	client, url := r.markerClient(hostname, address)
	req, err := http.NewRequest("GET", url, nil)
	if err != nil {
		return revision.None, &ResolutionError{Host: hostname, Err: err}
	}
	req = req.WithContext(ctx)
	// For plain HTTP we dial the address, but still say who we're
	// asking for, in case the host serves more than one name.
	req.Host = hostname

	resp, err := client.Do(req)
	if err != nil {
		return revision.None, &ResolutionError{Host: hostname, Err: err}
	}
	defer resp.Body.Close()
	body, err := ioutil.ReadAll(io.LimitReader(resp.Body, maxMarkerSize))
	if err != nil {
		return revision.None, &ResolutionError{Host: hostname, Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		return revision.None, &ProtocolError{Host: hostname, Marker: truncate(string(body)), Reason: resp.Status}
	}
	return ParseMarker(hostname, body, r.length)
}

// markerClient returns a client and the URL to fetch. With TLS, the
// URL names the host, so that the certificate is checked against it,
// and the client dials the resolved address regardless.
func (r *Resolver) markerClient(hostname, address string) (*http.Client, string) {
	if r.markerScheme != "https" {
		return &http.Client{}, "http://" + r.hostPort(address, 0) + r.markerPath
	}
	target := net.JoinHostPort(address, strconv.Itoa(r.port(443)))
	dialer := &net.Dialer{}
	transport := &http.Transport{
		DialContext: func(ctx context.Context, network, _ string) (net.Conn, error) {
			return dialer.DialContext(ctx, network, target)
		},
		TLSClientConfig:   r.tlsConfig,
		DisableKeepAlives: true,
	}
	return &http.Client{Transport: transport}, "https://" + r.hostPort(hostname, 443) + r.markerPath
}

func (r *Resolver) port(def int) int {
	if r.markerPort != 0 {
		return r.markerPort
	}
	return def
}

func (r *Resolver) hostPort(host string, def int) string {
	if r.markerPort == 0 || r.markerPort == def {
		return host
	}
	return net.JoinHostPort(host, strconv.Itoa(r.markerPort))
}

// ParseMarker takes the revision from the content of a version
// marker. The first whitespace-separated token is the revision; it
// may be followed by e.g., a timestamp.
func ParseMarker(hostname string, body []byte, length int) (revision.ID, error) {
	fields := strings.Fields(string(body))
	if len(fields) == 0 {
		return revision.None, &ProtocolError{Host: hostname, Marker: truncate(string(body)), Reason: "empty"}
	}
	id := revision.ID(fields[0])
	if !id.Valid(length) {
		return revision.None, &ProtocolError{Host: hostname, Marker: truncate(string(body)), Reason: fmt.Sprintf("expected a revision of length %d", length)}
	}
	return id, nil
}

func isTimeout(err error) bool {
	if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
		return true
	}
	return false
}
