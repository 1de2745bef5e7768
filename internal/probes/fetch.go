package probes

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/sync/singleflight"
)

type Hop struct {
	URL    string `json:"url"`
	Status int    `json:"status"`
}

// Page is a fetched document. It is shared between concurrent callers and
// must be treated as read-only.
type Page struct {
	RequestURL string      `json:"request_url"`
	FinalURL   *url.URL    `json:"-"`
	StatusCode int         `json:"status_code"`
	Header     http.Header `json:"-"`
	Body       []byte      `json:"-"`
	Truncated  bool        `json:"truncated"`
	Redirects  []Hop       `json:"redirects,omitempty"`
}

type FetchOptions struct {
	Timeout      time.Duration
	MaxBodyBytes int64
	MaxRedirects int
	UserAgent    string
	AllowPrivate bool
}

// Fetcher downloads pages for content analyzers. Analyzers of one scan ask
// for the same URL at the same time; those requests are coalesced.
type Fetcher struct {
	opts   FetchOptions
	client *http.Client
	flight singleflight.Group
}

var errTooManyRedirects = errors.New("too many redirects")

func NewFetcher(opts FetchOptions) *Fetcher {
	if opts.Timeout <= 0 {
		opts.Timeout = 8 * time.Second
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 2 << 20
	}
	if opts.MaxRedirects <= 0 {
		opts.MaxRedirects = 10
	}
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           guardedDialer(opts.Timeout, opts.AllowPrivate).DialContext,
		TLSHandshakeTimeout:   opts.Timeout,
		ResponseHeaderTimeout: opts.Timeout,
		MaxIdleConns:          50,
		IdleConnTimeout:       30 * time.Second,
	}
	return &Fetcher{
		opts: opts,
		client: &http.Client{
			Transport: transport,
			// Redirects are followed by hand so every hop is recorded.
			CheckRedirect: func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse },
		},
	}
}

func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (*Page, error) {
	ch := f.flight.DoChan(rawURL, func() (interface{}, error) {
		fetchCtx, cancel := withTimeout(context.WithoutCancel(ctx), f.opts.Timeout)
		defer cancel()
		return f.fetch(fetchCtx, rawURL)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Page), nil
	}
}

func (f *Fetcher) fetch(ctx context.Context, rawURL string) (*Page, error) {
	current, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse url: %w", err)
	}
	page := &Page{RequestURL: rawURL}
	for hops := 0; ; hops++ {
		if hops > f.opts.MaxRedirects {
			return nil, fmt.Errorf("fetch %s: %w", rawURL, errTooManyRedirects)
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, current.String(), nil)
		if err != nil {
			return nil, fmt.Errorf("build request: %w", err)
		}
		if f.opts.UserAgent != "" {
			req.Header.Set("User-Agent", f.opts.UserAgent)
		}
		req.Header.Set("Accept", "text/html,application/xhtml+xml;q=0.9,*/*;q=0.5")
		resp, err := f.client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("fetch %s: %w", current, err)
		}
		if isRedirect(resp.StatusCode) {
			loc := resp.Header.Get("Location")
			resp.Body.Close()
			if loc == "" {
				return nil, fmt.Errorf("fetch %s: redirect without location", current)
			}
			next, err := current.Parse(loc)
			if err != nil {
				return nil, fmt.Errorf("fetch %s: bad redirect: %w", current, err)
			}
			page.Redirects = append(page.Redirects, Hop{URL: current.String(), Status: resp.StatusCode})
			current = next
			continue
		}
		body, err := io.ReadAll(io.LimitReader(resp.Body, f.opts.MaxBodyBytes+1))
		resp.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", current, err)
		}
		if int64(len(body)) > f.opts.MaxBodyBytes {
			body = body[:f.opts.MaxBodyBytes]
			page.Truncated = true
		}
		page.FinalURL = current
		page.StatusCode = resp.StatusCode
		page.Header = resp.Header
		page.Body = body
		return page, nil
	}
}

func isRedirect(code int) bool {
	switch code {
	case http.StatusMovedPermanently, http.StatusFound, http.StatusSeeOther,
		http.StatusTemporaryRedirect, http.StatusPermanentRedirect:
		return true
	}
	return false
}
