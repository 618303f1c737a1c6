package provision

import (
	"context"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/route53"
	"github.com/aws/aws-sdk-go/service/route53/route53iface"
	"github.com/miekg/dns"
	"github.com/pkg/errors"
)

const defaultTTL = 60

// Route53Records keeps the A record of the hostname pointing at the
// latest instance.
type Route53Records struct {
	API route53iface.Route53API
	// ZoneID of the hosted zone; if empty, the zone of the hostname's
	// parent domain is looked up.
	ZoneID string
	TTL    int64
}

func (r *Route53Records) Update(ctx context.Context, hostname, address string) error {
	zoneID, err := r.zone(ctx, hostname)
	if err != nil {
		return err
	}
	ttl := r.TTL
	if ttl == 0 {
		ttl = defaultTTL
	}
	_, err = r.API.ChangeResourceRecordSetsWithContext(ctx, &route53.ChangeResourceRecordSetsInput{
		HostedZoneId: aws.String(zoneID),
		ChangeBatch: &route53.ChangeBatch{
			Comment: aws.String("watchdog deployment"),
			Changes: []*route53.Change{{
				Action: aws.String(route53.ChangeActionUpsert),
				ResourceRecordSet: &route53.ResourceRecordSet{
					Name:            aws.String(dns.Fqdn(hostname)),
					Type:            aws.String(route53.RRTypeA),
					TTL:             aws.Int64(ttl),
					ResourceRecords: []*route53.ResourceRecord{{Value: aws.String(address)}},
				},
			}},
		},
	})
	return errors.Wrapf(err, "updating A record of %s", hostname)
}

func (r *Route53Records) zone(ctx context.Context, hostname string) (string, error) {
	if r.ZoneID != "" {
		return r.ZoneID, nil
	}
	domain := strings.TrimSuffix(dns.Fqdn(hostname), ".")
	if i := strings.IndexByte(domain, '.'); i >= 0 {
		domain = domain[i+1:]
	}
	domain = dns.Fqdn(domain)
	out, err := r.API.ListHostedZonesByNameWithContext(ctx, &route53.ListHostedZonesByNameInput{
		DNSName:  aws.String(domain),
		MaxItems: aws.String("1"),
	})
	if err != nil {
		return "", errors.Wrapf(err, "listing hosted zones for %s", domain)
	}
	for _, z := range out.HostedZones {
		if strings.EqualFold(aws.StringValue(z.Name), domain) {
			return aws.StringValue(z.Id), nil
		}
	}
	return "", errors.Errorf("no hosted zone for %s", domain)
}
