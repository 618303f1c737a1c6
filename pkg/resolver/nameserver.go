package resolver

import (
	"context"
	"net"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/route53"
	"github.com/aws/aws-sdk-go/service/route53/route53iface"
	"github.com/hashicorp/go-multierror"
	"github.com/miekg/dns"
	"github.com/pkg/errors"
)

const defaultDNSPort = 53

// Nameservers is a strategy for discovering which nameserver is
// authoritative for a hostname. It returns a `host:port` to send
// queries to.
type Nameservers interface {
	Nameserver(ctx context.Context, hostname string) (string, error)
}

// FixedNameserver always answers with the same nameserver; a missing
// port means 53.
type FixedNameserver string

func (f FixedNameserver) Nameserver(ctx context.Context, hostname string) (string, error) {
	if f == "" {
		return "", errors.New("no fixed nameserver configured")
	}
	return withPort(string(f), defaultDNSPort), nil
}

// Route53Nameservers asks the Route53 API for the delegation set of
// the zone containing the hostname, and uses the first nameserver in
// it.
type Route53Nameservers struct {
	API route53iface.Route53API
	// Port the nameservers listen on; zero means 53.
	Port int
	// LookupHost finds the address of the nameserver itself; nil means
	// the system resolver, which is fine for nameserver hostnames
	// since they rarely change.
	LookupHost func(ctx context.Context, host string) ([]string, error)
}

func (r *Route53Nameservers) Nameserver(ctx context.Context, hostname string) (string, error) {
	domain := dns.Fqdn(ParentDomain(hostname))
	zones, err := r.API.ListHostedZonesByNameWithContext(ctx, &route53.ListHostedZonesByNameInput{
		DNSName:  aws.String(domain),
		MaxItems: aws.String("1"),
	})
	if err != nil {
		return "", errors.Wrapf(err, "listing hosted zones for %s", domain)
	}
	var zoneID *string
	for _, z := range zones.HostedZones {
		if strings.EqualFold(aws.StringValue(z.Name), domain) {
			zoneID = z.Id
			break
		}
	}
	if zoneID == nil {
		return "", errors.Errorf("no hosted zone for %s", domain)
	}

	zone, err := r.API.GetHostedZoneWithContext(ctx, &route53.GetHostedZoneInput{Id: zoneID})
	if err != nil {
		return "", errors.Wrapf(err, "getting hosted zone %s", aws.StringValue(zoneID))
	}
	if zone.DelegationSet == nil || len(zone.DelegationSet.NameServers) == 0 {
		return "", errors.Errorf("hosted zone %s has no nameservers", domain)
	}
	ns := aws.StringValue(zone.DelegationSet.NameServers[0])

	lookup := r.LookupHost
	if lookup == nil {
		lookup = net.DefaultResolver.LookupHost
	}
	addrs, err := lookup(ctx, ns)
	if err != nil {
		return "", errors.Wrapf(err, "looking up nameserver %s", ns)
	}
	if len(addrs) == 0 {
		return "", errors.Errorf("nameserver %s has no address", ns)
	}
	port := r.Port
	if port == 0 {
		port = defaultDNSPort
	}
	return net.JoinHostPort(addrs[0], strconv.Itoa(port)), nil
}

// FallbackNameservers tries each strategy in turn, returning the
// first nameserver found.
type FallbackNameservers []Nameservers

func (f FallbackNameservers) Nameserver(ctx context.Context, hostname string) (string, error) {
	var result error
	for _, ns := range f {
		addr, err := ns.Nameserver(ctx, hostname)
		if err == nil {
			return addr, nil
		}
		result = multierror.Append(result, err)
	}
	if result == nil {
		return "", errors.New("no nameserver strategies configured")
	}
	return "", result
}

// ParentDomain strips the first label of the hostname, e.g.,
// `login.dev.anosrep.org` becomes `dev.anosrep.org`.
func ParentDomain(hostname string) string {
	hostname = strings.TrimSuffix(hostname, ".")
	parts := strings.SplitN(hostname, ".", 2)
	if len(parts) < 2 {
		return hostname
	}
	return parts[1]
}

func withPort(hostport string, port int) string {
	if _, _, err := net.SplitHostPort(hostport); err == nil {
		return hostport
	}
	return net.JoinHostPort(hostport, strconv.Itoa(port))
}
