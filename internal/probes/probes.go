// Package probes wraps the network lookups analyzers depend on: RDAP
// registration data, TLS certificates, DNS records and HTTP page fetches.
// Every probe bounds its own work with a timeout and reports failure as an
// error; callers turn that into a degraded finding.
package probes

import (
	"context"
	"errors"
	"fmt"
	"net"
	"syscall"
	"time"
)

var ErrBlockedAddress = errors.New("address not allowed")

// Cache is the persistence the RDAP client needs. storage.Bucket satisfies it.
type Cache interface {
	Get(key string) ([]byte, error)
	PutWithTTL(key string, value []byte, ttl time.Duration) error
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

// isPublic reports whether ip is routable on the public internet.
func isPublic(ip net.IP) bool {
	return !(ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() ||
		ip.IsUnspecified() || ip.IsMulticast() || ip.IsInterfaceLocalMulticast())
}

// guardedDialer refuses connections to non-public addresses unless
// allowPrivate is set. The check runs after resolution so DNS rebinding to
// an internal address is caught too.
func guardedDialer(timeout time.Duration, allowPrivate bool) *net.Dialer {
	d := &net.Dialer{Timeout: timeout, KeepAlive: 30 * time.Second}
	if allowPrivate {
		return d
	}
	d.Control = func(_, address string, _ syscall.RawConn) error {
		host, _, err := net.SplitHostPort(address)
		if err != nil {
			return err
		}
		ip := net.ParseIP(host)
		if ip == nil || !isPublic(ip) {
			return fmt.Errorf("%w: %s", ErrBlockedAddress, host)
		}
		return nil
	}
	return d
}
