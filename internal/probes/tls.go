package probes

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
	"time"
)

type Certificate struct {
	Host        string    `json:"host"`
	Subject     string    `json:"subject"`
	Issuer      string    `json:"issuer"`
	NotBefore   time.Time `json:"not_before"`
	NotAfter    time.Time `json:"not_after"`
	SelfSigned  bool      `json:"self_signed"`
	Valid       bool      `json:"valid"`
	VerifyError string    `json:"verify_error,omitempty"`
	Version     string    `json:"version"`
}

func (c Certificate) Expired(now time.Time) bool { return now.After(c.NotAfter) }

// AgeDays is the time since the certificate was issued, in whole days.
func (c Certificate) AgeDays(now time.Time) int {
	return int(now.Sub(c.NotBefore).Hours() / 24)
}

type TLSOptions struct {
	Timeout      time.Duration
	AllowPrivate bool
	// Roots overrides the system pool, for tests.
	Roots *x509.CertPool
}

// TLSProber completes a handshake without trusting it and verifies the chain
// separately, so a bad certificate is reported rather than hidden behind a
// connection error.
type TLSProber struct {
	opts TLSOptions
}

func NewTLSProber(opts TLSOptions) *TLSProber {
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	return &TLSProber{opts: opts}
}

func (p *TLSProber) Probe(ctx context.Context, host, port string) (*Certificate, error) {
	if port == "" {
		port = "443"
	}
	ctx, cancel := withTimeout(ctx, p.opts.Timeout)
	defer cancel()

	dialer := &tls.Dialer{
		NetDialer: guardedDialer(p.opts.Timeout, p.opts.AllowPrivate),
		Config: &tls.Config{
			ServerName:         host,
			InsecureSkipVerify: true, // chain is verified below
			MinVersion:         tls.VersionTLS10,
		},
	}
	conn, err := dialer.DialContext(ctx, "tcp", net.JoinHostPort(host, port))
	if err != nil {
		return nil, fmt.Errorf("tls dial %s: %w", host, err)
	}
	defer conn.Close()

	state := conn.(*tls.Conn).ConnectionState()
	if len(state.PeerCertificates) == 0 {
		return nil, fmt.Errorf("tls %s: no peer certificate", host)
	}
	leaf := state.PeerCertificates[0]
	cert := &Certificate{
		Host:       host,
		Subject:    leaf.Subject.CommonName,
		Issuer:     leaf.Issuer.CommonName,
		NotBefore:  leaf.NotBefore,
		NotAfter:   leaf.NotAfter,
		SelfSigned: bytes.Equal(leaf.RawIssuer, leaf.RawSubject),
		Version:    tls.VersionName(state.Version),
	}
	intermediates := x509.NewCertPool()
	for _, c := range state.PeerCertificates[1:] {
		intermediates.AddCert(c)
	}
	_, verr := leaf.Verify(x509.VerifyOptions{
		DNSName:       host,
		Roots:         p.opts.Roots,
		Intermediates: intermediates,
	})
	if verr != nil {
		cert.VerifyError = verr.Error()
	} else {
		cert.Valid = true
	}
	return cert, nil
}
