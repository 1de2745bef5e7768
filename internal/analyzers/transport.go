package analyzers

import (
	"context"
	"fmt"
	"time"

	"github.com/Elara-Tanmoy/elara-mvp-final-sub011/internal/scanner"
)

// TransportSecurity checks that the URL uses TLS with a sound certificate.
type TransportSecurity struct {
	base
	urlOnly
	probe CertificateProbe
	now   func() time.Time
}

func NewTransportSecurity(probe CertificateProbe, now func() time.Time) *TransportSecurity {
	if now == nil {
		now = time.Now
	}
	return &TransportSecurity{base: base{category: CategoryTransport, max: 25}, probe: probe, now: now}
}

func (t *TransportSecurity) Analyze(ctx context.Context, a *scanner.Artifact) (*scanner.CategoryResult, error) {
	b := t.builder()
	if a.URL.Scheme != "https" {
		return b.Add(scanner.SeverityHigh, 20, "no TLS: page is served over plain HTTP", nil).Result(), nil
	}
	if t.probe == nil {
		return b.Unavailable("tls probe not configured").Result(), nil
	}
	cert, err := t.probe.Probe(ctx, a.Host, a.URL.Port())
	if err != nil {
		return b.Unavailable("tls handshake failed").Result(), nil
	}
	now := t.now()
	ev := map[string]interface{}{
		"issuer":    cert.Issuer,
		"subject":   cert.Subject,
		"not_after": cert.NotAfter.Format(time.DateOnly),
		"version":   cert.Version,
	}
	switch {
	case cert.SelfSigned:
		b.Add(scanner.SeverityHigh, 20, "certificate is self-signed", ev)
	case cert.Expired(now):
		b.Add(scanner.SeverityHigh, 20, "certificate has expired", ev)
	case !cert.Valid:
		ev["error"] = cert.VerifyError
		b.Add(scanner.SeverityHigh, 20, "certificate does not verify", ev)
	default:
		b.Info("certificate verified", ev)
	}
	if age := cert.AgeDays(now); age < 7 {
		b.Add(scanner.SeverityMedium, 5, fmt.Sprintf("certificate issued %d days ago", age), ev)
	}
	if cert.Version == "TLS 1.0" || cert.Version == "TLS 1.1" {
		b.Add(scanner.SeverityLow, 5, "server negotiated an obsolete TLS version", ev)
	}
	return b.Result(), nil
}
