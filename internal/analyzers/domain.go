package analyzers

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/Elara-Tanmoy/elara-mvp-final-sub011/internal/policy"
	"github.com/Elara-Tanmoy/elara-mvp-final-sub011/internal/probes"
	"github.com/Elara-Tanmoy/elara-mvp-final-sub011/internal/scanner"
)

// DomainAge penalises recently registered domains.
type DomainAge struct {
	base
	namedHost
	rdap RegistrationLookup
	now  func() time.Time
}

func NewDomainAge(rdap RegistrationLookup, now func() time.Time) *DomainAge {
	if now == nil {
		now = time.Now
	}
	return &DomainAge{base: base{category: CategoryDomainAge, max: 30}, rdap: rdap, now: now}
}

func (d *DomainAge) Analyze(ctx context.Context, a *scanner.Artifact) (*scanner.CategoryResult, error) {
	b := d.builder()
	reg, err := d.rdap.Lookup(ctx, a.RegisteredDomain)
	if err != nil {
		if errors.Is(err, probes.ErrNoRegistration) {
			return b.Unavailable("registration date not published").Result(), nil
		}
		return b.Unavailable("registration lookup failed").Result(), nil
	}
	age := reg.AgeDays(d.now())
	ev := map[string]interface{}{"domain": reg.Domain, "age_days": age, "registered": reg.Registered.Format(time.DateOnly)}
	if reg.Registrar != "" {
		ev["registrar"] = reg.Registrar
	}
	switch {
	case age < 7:
		b.Add(scanner.SeverityHigh, 25, fmt.Sprintf("domain registered %d days ago", age), ev)
	case age < 30:
		b.Add(scanner.SeverityMedium, 15, fmt.Sprintf("domain registered %d days ago", age), ev)
	case age < 90:
		b.Add(scanner.SeverityLow, 8, fmt.Sprintf("domain registered %d days ago", age), ev)
	case age >= 365:
		b.Info("established domain", ev)
	default:
		b.Info(fmt.Sprintf("domain is %d days old", age), ev)
	}
	for _, s := range reg.Status {
		if strings.Contains(strings.ToLower(strings.ReplaceAll(s, " ", "")), "hold") {
			b.Add(scanner.SeverityMedium, 5, "domain is on registry hold", map[string]interface{}{"status": s})
			break
		}
	}
	return b.Result(), nil
}

// TLDReputation checks the top-level domain against the denylist.
type TLDReputation struct {
	base
	namedHost
	suspicious policy.Set
	trusted    policy.Set
}

func NewTLDReputation(p *policy.Policy) *TLDReputation {
	return &TLDReputation{
		base:       base{category: CategoryTLDReputation, max: 15},
		suspicious: policy.NewSet(p.SuspiciousTLDs),
		trusted:    policy.NewSet(p.TrustedTLDs),
	}
}

func (t *TLDReputation) Analyze(_ context.Context, a *scanner.Artifact) (*scanner.CategoryResult, error) {
	b := t.builder()
	top := tld(a.Host)
	ev := map[string]interface{}{"tld": top}
	switch {
	case t.suspicious.Has(top):
		b.Add(scanner.SeverityHigh, 15, "suspicious top-level domain ."+top, ev)
	case t.trusted.Has(top):
		b.Info("common top-level domain ."+top, ev)
	default:
		b.Info("top-level domain ."+top+" not rated", ev)
	}
	return b.Result(), nil
}

// IPHost flags URLs that use an IP literal instead of a hostname.
type IPHost struct {
	base
	urlOnly
}

func NewIPHost() *IPHost {
	return &IPHost{base: base{category: CategoryIPHost, max: 20}}
}

func (h *IPHost) Analyze(_ context.Context, a *scanner.Artifact) (*scanner.CategoryResult, error) {
	b := h.builder()
	ip := net.ParseIP(a.Host)
	if ip == nil {
		return b.Result(), nil
	}
	ev := map[string]interface{}{"ip": a.Host}
	b.Add(scanner.SeverityHigh, 15, "URL uses a raw IP address", ev)
	if ip.IsPrivate() || ip.IsLoopback() || ip.IsLinkLocalUnicast() || ip.IsUnspecified() {
		b.Add(scanner.SeverityMedium, 5, "URL points at a private or local address", ev)
	}
	return b.Result(), nil
}

// DNSRecords inspects address, mail and name server records.
type DNSRecords struct {
	base
	namedHost
	dns RecordResolver
}

func NewDNSRecords(dns RecordResolver) *DNSRecords {
	return &DNSRecords{base: base{category: CategoryDNSRecords, max: 15}, dns: dns}
}

func (d *DNSRecords) Analyze(ctx context.Context, a *scanner.Artifact) (*scanner.CategoryResult, error) {
	b := d.builder()
	rec, err := d.dns.Resolve(ctx, a.Host, a.RegisteredDomain)
	if err != nil {
		return b.Unavailable("dns resolution failed").Result(), nil
	}
	if rec.NXDomain {
		return b.Add(scanner.SeverityMedium, 10, "host does not resolve", map[string]interface{}{"host": a.Host}).Result(), nil
	}
	if len(rec.Addresses) == 0 {
		b.Add(scanner.SeverityMedium, 8, "host has no address records", nil)
	} else {
		b.Info("host resolves", map[string]interface{}{"addresses": limit(rec.Addresses, 5)})
	}
	for _, addr := range rec.Addresses {
		if ip := net.ParseIP(addr); ip != nil && (ip.IsPrivate() || ip.IsLoopback()) {
			b.Add(scanner.SeverityMedium, 5, "public name resolves to a private address", map[string]interface{}{"address": addr})
			break
		}
	}
	if len(rec.MailServers) == 0 {
		b.Add(scanner.SeverityLow, 3, "domain publishes no mail servers", nil)
	}
	if len(rec.NameServers) == 0 {
		b.Add(scanner.SeverityLow, 2, "domain name servers not found", nil)
	}
	return b.Result(), nil
}
