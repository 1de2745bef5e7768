package probes

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"
)

// Resolver is the subset of *net.Resolver the DNS probe uses.
type Resolver interface {
	LookupHost(ctx context.Context, host string) ([]string, error)
	LookupMX(ctx context.Context, name string) ([]*net.MX, error)
	LookupNS(ctx context.Context, name string) ([]*net.NS, error)
}

type Records struct {
	Host        string   `json:"host"`
	Addresses   []string `json:"addresses"`
	MailServers []string `json:"mail_servers,omitempty"`
	NameServers []string `json:"name_servers,omitempty"`
	// NXDomain is set when the name does not exist, as opposed to a lookup
	// that failed.
	NXDomain bool `json:"nxdomain,omitempty"`
}

type DNSProber struct {
	resolver Resolver
	timeout  time.Duration
}

func NewDNSProber(resolver Resolver, timeout time.Duration) *DNSProber {
	if resolver == nil {
		resolver = net.DefaultResolver
	}
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &DNSProber{resolver: resolver, timeout: timeout}
}

// Resolve looks up addresses for host and MX/NS records for domain (the
// registered domain). MX and NS failures are not errors.
func (p *DNSProber) Resolve(ctx context.Context, host, domain string) (*Records, error) {
	ctx, cancel := withTimeout(ctx, p.timeout)
	defer cancel()

	rec := &Records{Host: host}
	addrs, err := p.resolver.LookupHost(ctx, host)
	if err != nil {
		var dnsErr *net.DNSError
		if errors.As(err, &dnsErr) && dnsErr.IsNotFound {
			rec.NXDomain = true
			return rec, nil
		}
		return nil, fmt.Errorf("resolve %s: %w", host, err)
	}
	rec.Addresses = addrs
	if domain == "" {
		return rec, nil
	}
	if mx, err := p.resolver.LookupMX(ctx, domain); err == nil {
		for _, m := range mx {
			rec.MailServers = append(rec.MailServers, strings.TrimSuffix(m.Host, "."))
		}
	}
	if ns, err := p.resolver.LookupNS(ctx, domain); err == nil {
		for _, n := range ns {
			rec.NameServers = append(rec.NameServers, strings.TrimSuffix(n.Host, "."))
		}
	}
	return rec, nil
}
