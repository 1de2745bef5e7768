package analyzers

import (
	"context"
	"fmt"
	"strings"

	"github.com/Elara-Tanmoy/elara-mvp-final-sub011/internal/policy"
	"github.com/Elara-Tanmoy/elara-mvp-final-sub011/internal/scanner"
)

// URLPattern scores lexical tricks in the URL itself.
type URLPattern struct {
	base
	urlOnly
	policy  *policy.Policy
	trusted policy.Set
}

func NewURLPattern(p *policy.Policy) *URLPattern {
	return &URLPattern{base: base{category: CategoryURLPattern, max: 30}, policy: p, trusted: policy.NewSet(p.TrustedTLDs)}
}

func (u *URLPattern) Analyze(_ context.Context, a *scanner.Artifact) (*scanner.CategoryResult, error) {
	b := u.builder()
	raw := a.URL.String()

	if a.URL.User != nil {
		b.Add(scanner.SeverityHigh, 10, "URL embeds credentials before the host (@ trick)", map[string]interface{}{"userinfo": a.URL.User.Username()})
	}
	switch n := len(raw); {
	case n > 150:
		b.Add(scanner.SeverityMedium, 8, fmt.Sprintf("very long URL (%d characters)", n), nil)
	case n > 75:
		b.Add(scanner.SeverityLow, 4, fmt.Sprintf("long URL (%d characters)", n), nil)
	}
	if port := a.URL.Port(); port != "" && port != "80" && port != "443" {
		b.Add(scanner.SeverityLow, 5, "non-standard port "+port, nil)
	}

	subs := subdomainLabels(a.Host, a.RegisteredDomain)
	if len(subs) >= 3 {
		b.Add(scanner.SeverityMedium, 5, fmt.Sprintf("%d subdomain levels", len(subs)), map[string]interface{}{"host": a.Host})
	}
	for _, label := range subs {
		if u.trusted.Has(label) {
			b.Add(scanner.SeverityHigh, 12, "subdomain imitates a domain suffix", map[string]interface{}{"label": label, "host": a.Host})
			break
		}
	}
	if hyphens := strings.Count(a.Host, "-"); hyphens >= 3 {
		b.Add(scanner.SeverityLow, 5, fmt.Sprintf("%d hyphens in host", hyphens), nil)
	}

	lexical := strings.ToLower(strings.Join(tokens(strings.TrimSuffix(a.Host, "."+tld(a.Host))), " ") + " " +
		strings.NewReplacer("/", " ", "?", " ", "&", " ", "=", " ").Replace(a.URL.EscapedPath()+"?"+a.URL.RawQuery))
	if hits := matchPhrases(lexical, u.policy.PhishingPathKeywords); len(hits) > 0 {
		points := 6
		if len(hits) >= 3 {
			points = 12
		}
		b.Add(scanner.SeverityMedium, points, "phishing keywords in URL", map[string]interface{}{"keywords": limit(hits, 8)})
	}

	path := strings.ToLower(a.URL.Path)
	owner, owned := u.policy.BrandFor(a.RegisteredDomain)
	for _, brand := range u.policy.Brands {
		if owned && owner.Name == brand.Name {
			continue
		}
		if _, ok := matchBrand(words(path), brand); ok {
			b.Add(scanner.SeverityHigh, 10, fmt.Sprintf("brand %q named in the path of an unrelated site", brand.Name), map[string]interface{}{"brand": brand.Name})
			break
		}
	}
	if encoded := strings.Count(raw, "%"); encoded >= 10 {
		b.Add(scanner.SeverityLow, 5, "heavily percent-encoded URL", map[string]interface{}{"escapes": encoded})
	}
	return b.Result(), nil
}
