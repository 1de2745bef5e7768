package analyzers

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
	"golang.org/x/net/publicsuffix"

	"github.com/Elara-Tanmoy/elara-mvp-final-sub011/internal/policy"
	"github.com/Elara-Tanmoy/elara-mvp-final-sub011/internal/scanner"
)

// Content analyzers share one fetch per URL: the fetcher coalesces
// concurrent identical requests.

var (
	obfuscationPattern = regexp.MustCompile(`(?i)\b(eval|unescape|atob|escape)\s*\(|string\.fromcharcode|document\.write\s*\(\s*unescape|\\x[0-9a-f]{2}(\\x[0-9a-f]{2}){20,}`)
	longBlobPattern    = regexp.MustCompile(`[A-Za-z0-9+/=]{400,}`)
	hiddenStyle        = regexp.MustCompile(`(?i)display\s*:\s*none|visibility\s*:\s*hidden`)
)

// PageContent parses the fetched document for phishing kit traits.
type PageContent struct {
	base
	urlOnly
	policy  *policy.Policy
	fetcher PageFetcher
}

func NewPageContent(p *policy.Policy, fetcher PageFetcher) *PageContent {
	return &PageContent{base: base{category: CategoryPageContent, max: 40}, policy: p, fetcher: fetcher}
}

type pageStats struct {
	title         string
	hidden        int
	hiddenFrames  int
	passwordForms []string
	scripts       []string
	resources     int
	external      int
	metaRefresh   bool
}

func (pc *PageContent) Analyze(ctx context.Context, a *scanner.Artifact) (*scanner.CategoryResult, error) {
	b := pc.builder()
	page, err := pc.fetcher.Fetch(ctx, a.URL.String())
	if err != nil {
		return b.Unavailable("could not analyze page: fetch failed").Result(), nil
	}
	doc, err := html.Parse(bytes.NewReader(page.Body))
	if err != nil {
		return b.Unavailable("could not analyze page: unparseable document").Result(), nil
	}
	final := page.FinalURL
	if final == nil {
		final = a.URL
	}
	stats := collect(doc, final)

	if stats.hidden >= 5 {
		b.Add(scanner.SeverityLow, 5, fmt.Sprintf("%d hidden elements", stats.hidden), nil)
	}
	if stats.hiddenFrames > 0 {
		b.Add(scanner.SeverityMedium, 8, "invisible iframe", map[string]interface{}{"count": stats.hiddenFrames})
	}
	pageDomain := registrable(final.Hostname())
	for _, action := range stats.passwordForms {
		target, err := final.Parse(action)
		if err != nil {
			continue
		}
		ev := map[string]interface{}{"action": target.String()}
		switch {
		case final.Scheme != "https" || target.Scheme == "http":
			b.Add(scanner.SeverityHigh, 15, "password form submits without TLS", ev)
		case registrable(target.Hostname()) != pageDomain:
			b.Add(scanner.SeverityHigh, 12, "password form posts to another domain", ev)
		default:
			b.Add(scanner.SeverityLow, 3, "page collects a password", ev)
		}
	}
	obfuscated := 0
	for _, s := range stats.scripts {
		if obfuscationPattern.MatchString(s) || longBlobPattern.MatchString(s) {
			obfuscated++
		}
	}
	if obfuscated > 0 {
		b.Add(scanner.SeverityMedium, min(5*obfuscated, 15), "obfuscated script", map[string]interface{}{"scripts": obfuscated})
	}
	if stats.resources >= 10 {
		ratio := float64(stats.external) / float64(stats.resources)
		if ratio > 0.7 {
			b.Add(scanner.SeverityMedium, 8, fmt.Sprintf("%.0f%% of resources load from other domains", ratio*100), map[string]interface{}{
				"external": stats.external, "total": stats.resources,
			})
		}
	}
	if stats.metaRefresh {
		b.Add(scanner.SeverityLow, 4, "meta refresh redirect", nil)
	}
	if title := strings.ToLower(stats.title); title != "" {
		owner, owned := pc.policy.BrandFor(pageDomain)
		for _, brand := range pc.policy.Brands {
			if owned && owner.Name == brand.Name {
				continue
			}
			if containsWord(title, brand.Name) && len(stats.passwordForms) > 0 {
				b.Add(scanner.SeverityHigh, 10, fmt.Sprintf("login page titled %q on a non-%s domain", stats.title, brand.Name), nil)
				break
			}
		}
	}
	if page.Truncated {
		b.Info("page body truncated", nil)
	}
	return b.Result(), nil
}

func collect(doc *html.Node, pageURL *url.URL) pageStats {
	var st pageStats
	host := registrable(pageURL.Hostname())
	countResource := func(raw string) {
		raw = strings.TrimSpace(raw)
		if raw == "" || strings.HasPrefix(raw, "#") || strings.HasPrefix(raw, "data:") || strings.HasPrefix(raw, "javascript:") {
			return
		}
		u, err := pageURL.Parse(raw)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
			return
		}
		st.resources++
		if registrable(u.Hostname()) != host {
			st.external++
		}
	}
	var walk func(n *html.Node, form *html.Node)
	walk = func(n *html.Node, form *html.Node) {
		if n.Type == html.ElementNode {
			switch n.DataAtom {
			case atom.Form:
				form = n
			case atom.Title:
				if n.FirstChild != nil && st.title == "" {
					st.title = strings.TrimSpace(n.FirstChild.Data)
				}
			case atom.Script:
				if src := attr(n, "src"); src != "" {
					countResource(src)
				} else if n.FirstChild != nil {
					st.scripts = append(st.scripts, n.FirstChild.Data)
				}
			case atom.Img, atom.Iframe:
				countResource(attr(n, "src"))
				if n.DataAtom == atom.Iframe && (attr(n, "width") == "0" || attr(n, "height") == "0" || hiddenStyle.MatchString(attr(n, "style"))) {
					st.hiddenFrames++
				}
			case atom.Link, atom.A:
				countResource(attr(n, "href"))
			case atom.Meta:
				if strings.EqualFold(attr(n, "http-equiv"), "refresh") {
					st.metaRefresh = true
				}
			case atom.Input:
				if strings.EqualFold(attr(n, "type"), "password") {
					action := ""
					if form != nil {
						action = attr(form, "action")
					}
					st.passwordForms = append(st.passwordForms, action)
				}
			}
			if n.DataAtom != atom.Input && (hasAttr(n, "hidden") || hiddenStyle.MatchString(attr(n, "style"))) {
				st.hidden++
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c, form)
		}
	}
	walk(doc, nil)
	return st
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if strings.EqualFold(a.Key, key) {
			return a.Val
		}
	}
	return ""
}

func hasAttr(n *html.Node, key string) bool {
	for _, a := range n.Attr {
		if strings.EqualFold(a.Key, key) {
			return true
		}
	}
	return false
}

func registrable(host string) string {
	host = strings.ToLower(host)
	if d, err := publicsuffix.EffectiveTLDPlusOne(host); err == nil {
		return d
	}
	return host
}

// SecurityHeaders checks the response for common hardening headers.
type SecurityHeaders struct {
	base
	urlOnly
	fetcher PageFetcher
}

func NewSecurityHeaders(fetcher PageFetcher) *SecurityHeaders {
	return &SecurityHeaders{base: base{category: CategorySecurityHeaders, max: 10}, fetcher: fetcher}
}

func (s *SecurityHeaders) Analyze(ctx context.Context, a *scanner.Artifact) (*scanner.CategoryResult, error) {
	b := s.builder()
	page, err := s.fetcher.Fetch(ctx, a.URL.String())
	if err != nil {
		return b.Unavailable("could not analyze headers: fetch failed").Result(), nil
	}
	h := page.Header
	final := page.FinalURL
	if final != nil && final.Scheme == "https" && h.Get("Strict-Transport-Security") == "" {
		b.Add(scanner.SeverityLow, 3, "missing Strict-Transport-Security", nil)
	}
	csp := h.Get("Content-Security-Policy")
	if csp == "" {
		b.Add(scanner.SeverityLow, 4, "missing Content-Security-Policy", nil)
	}
	if h.Get("X-Frame-Options") == "" && !strings.Contains(csp, "frame-ancestors") {
		b.Add(scanner.SeverityLow, 3, "page can be framed by any site", nil)
	}
	return b.Result(), nil
}

// RedirectChain scores how the fetched URL got to its final destination.
type RedirectChain struct {
	base
	urlOnly
	fetcher    PageFetcher
	shorteners policy.Set
}

func NewRedirectChain(p *policy.Policy, fetcher PageFetcher) *RedirectChain {
	return &RedirectChain{base: base{category: CategoryRedirectChain, max: 15}, fetcher: fetcher, shorteners: policy.NewSet(p.URLShorteners)}
}

func (r *RedirectChain) Analyze(ctx context.Context, a *scanner.Artifact) (*scanner.CategoryResult, error) {
	b := r.builder()
	page, err := r.fetcher.Fetch(ctx, a.URL.String())
	if err != nil {
		return b.Unavailable("could not follow redirects: fetch failed").Result(), nil
	}
	hops := page.Redirects
	if len(hops) == 0 {
		return b.Info("no redirects", nil).Result(), nil
	}
	chain := make([]string, 0, len(hops)+1)
	for _, h := range hops {
		chain = append(chain, h.URL)
	}
	ev := map[string]interface{}{"chain": limit(chain, 10)}
	if len(hops) > 3 {
		b.Add(scanner.SeverityMedium, 6, fmt.Sprintf("%d redirects", len(hops)), ev)
	}
	if page.FinalURL != nil {
		origin := registrable(a.Host)
		final := registrable(page.FinalURL.Hostname())
		if final != origin {
			b.Add(scanner.SeverityMedium, 6, "redirects to another domain", map[string]interface{}{"from": origin, "to": final})
		}
		if a.URL.Scheme == "https" && page.FinalURL.Scheme == "http" {
			b.Add(scanner.SeverityMedium, 5, "redirect downgrades to plain HTTP", ev)
		}
	}
	if r.shorteners.Has(a.Host) || r.shorteners.Has(a.RegisteredDomain) {
		b.Add(scanner.SeverityLow, 3, "shortened link", ev)
	}
	return b.Result(), nil
}
