package probes

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"
)

const DefaultRDAPBaseURL = "https://rdap.org/domain/"

var ErrNoRegistration = errors.New("registration date not published")

type Registration struct {
	Domain     string    `json:"domain"`
	Registered time.Time `json:"registered"`
	Expires    time.Time `json:"expires,omitempty"`
	Registrar  string    `json:"registrar,omitempty"`
	Status     []string  `json:"status,omitempty"`
}

// AgeDays is the registration age at now, in whole days.
func (r Registration) AgeDays(now time.Time) int {
	if r.Registered.IsZero() {
		return -1
	}
	return int(now.Sub(r.Registered).Hours() / 24)
}

type RDAPOptions struct {
	BaseURL   string
	Timeout   time.Duration
	UserAgent string
	CacheTTL  time.Duration
}

// RDAPClient looks up domain registration data. Concurrent lookups for the
// same domain share one request, and answers are cached when a Cache is set.
type RDAPClient struct {
	opts   RDAPOptions
	http   *http.Client
	cache  Cache
	flight singleflight.Group
}

func NewRDAPClient(opts RDAPOptions, client *http.Client, cache Cache) *RDAPClient {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultRDAPBaseURL
	}
	if !strings.HasSuffix(opts.BaseURL, "/") {
		opts.BaseURL += "/"
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = 24 * time.Hour
	}
	if client == nil {
		client = &http.Client{}
	}
	return &RDAPClient{opts: opts, http: client, cache: cache}
}

func (c *RDAPClient) Lookup(ctx context.Context, domain string) (*Registration, error) {
	domain = strings.ToLower(strings.TrimSuffix(domain, "."))
	if domain == "" {
		return nil, fmt.Errorf("domain is required")
	}
	if reg, ok := c.cached(domain); ok {
		return reg, nil
	}
	ch := c.flight.DoChan(domain, func() (interface{}, error) {
		// Detached from the first caller so one cancelled scan does not fail
		// the others waiting on the same domain.
		lookupCtx, cancel := withTimeout(context.WithoutCancel(ctx), c.opts.Timeout)
		defer cancel()
		reg, err := c.fetch(lookupCtx, domain)
		if err != nil {
			return nil, err
		}
		c.store(reg)
		return reg, nil
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		reg := *res.Val.(*Registration)
		return &reg, nil
	}
}

func (c *RDAPClient) fetch(ctx context.Context, domain string) (*Registration, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.opts.BaseURL+domain, nil)
	if err != nil {
		return nil, fmt.Errorf("build rdap request: %w", err)
	}
	req.Header.Set("Accept", "application/rdap+json, application/json")
	if c.opts.UserAgent != "" {
		req.Header.Set("User-Agent", c.opts.UserAgent)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("rdap request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("rdap: domain %s not found", domain)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("rdap: unexpected status %s", resp.Status)
	}
	var doc rdapDomain
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode rdap: %w", err)
	}
	return doc.registration(domain)
}

func (c *RDAPClient) cached(domain string) (*Registration, bool) {
	if c.cache == nil {
		return nil, false
	}
	raw, err := c.cache.Get(domain)
	if err != nil {
		return nil, false
	}
	var reg Registration
	if err := json.Unmarshal(raw, &reg); err != nil {
		return nil, false
	}
	return &reg, true
}

func (c *RDAPClient) store(reg *Registration) {
	if c.cache == nil {
		return
	}
	raw, err := json.Marshal(reg)
	if err != nil {
		return
	}
	_ = c.cache.PutWithTTL(reg.Domain, raw, c.opts.CacheTTL)
}

type rdapDomain struct {
	LDHName string      `json:"ldhName"`
	Status  []string    `json:"status"`
	Events  []rdapEvent `json:"events"`
	Entity  []rdapParty `json:"entities"`
}

type rdapEvent struct {
	Action string `json:"eventAction"`
	Date   string `json:"eventDate"`
}

type rdapParty struct {
	Roles []string          `json:"roles"`
	VCard []json.RawMessage `json:"vcardArray"`
}

func (d rdapDomain) registration(domain string) (*Registration, error) {
	reg := &Registration{Domain: domain, Status: d.Status}
	for _, ev := range d.Events {
		ts, err := time.Parse(time.RFC3339, ev.Date)
		if err != nil {
			continue
		}
		switch strings.ToLower(ev.Action) {
		case "registration":
			reg.Registered = ts.UTC()
		case "expiration":
			reg.Expires = ts.UTC()
		}
	}
	for _, e := range d.Entity {
		for _, role := range e.Roles {
			if role == "registrar" {
				reg.Registrar = vcardName(e.VCard)
			}
		}
	}
	if reg.Registered.IsZero() {
		return nil, fmt.Errorf("%w for %s", ErrNoRegistration, domain)
	}
	return reg, nil
}

// vcardName pulls the "fn" property out of a jCard array.
func vcardName(card []json.RawMessage) string {
	if len(card) < 2 {
		return ""
	}
	var props [][]interface{}
	if err := json.Unmarshal(card[1], &props); err != nil {
		return ""
	}
	for _, p := range props {
		if len(p) >= 4 {
			if name, ok := p[0].(string); ok && name == "fn" {
				if v, ok := p[3].(string); ok {
					return v
				}
			}
		}
	}
	return ""
}
