// Package analyzers holds the concrete category analyzers and the builder
// that assembles them from a policy.
package analyzers

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"golang.org/x/time/rate"

	"github.com/Elara-Tanmoy/elara-mvp-final-sub011/internal/policy"
	"github.com/Elara-Tanmoy/elara-mvp-final-sub011/internal/probes"
	"github.com/Elara-Tanmoy/elara-mvp-final-sub011/internal/scanner"
	"github.com/Elara-Tanmoy/elara-mvp-final-sub011/internal/threatintel"
)

const (
	CategoryThreatIntel       = "threat_intel"
	CategoryDomainAge         = "domain_age"
	CategoryTLDReputation     = "tld_reputation"
	CategoryIPHost            = "ip_host"
	CategoryBrand             = "brand_impersonation"
	CategoryTransport         = "transport_security"
	CategoryURLPattern        = "url_pattern"
	CategoryHosting           = "hosting_reputation"
	CategoryIDNHomograph      = "idn_homograph"
	CategoryDNSRecords        = "dns_records"
	CategoryPageContent       = "page_content"
	CategorySecurityHeaders   = "security_headers"
	CategoryRedirectChain     = "redirect_chain"
	CategorySocialEngineering = "social_engineering"
	CategoryConversation      = "conversation_patterns"
	CategoryFile              = "file_characteristics"
)

// Categories lists every analyzer in registration order, gate first.
var Categories = []string{
	CategoryThreatIntel,
	CategoryDomainAge,
	CategoryTLDReputation,
	CategoryIPHost,
	CategoryBrand,
	CategoryTransport,
	CategoryURLPattern,
	CategoryHosting,
	CategoryIDNHomograph,
	CategoryDNSRecords,
	CategoryPageContent,
	CategorySecurityHeaders,
	CategoryRedirectChain,
	CategorySocialEngineering,
	CategoryConversation,
	CategoryFile,
}

type RegistrationLookup interface {
	Lookup(ctx context.Context, domain string) (*probes.Registration, error)
}

type CertificateProbe interface {
	Probe(ctx context.Context, host, port string) (*probes.Certificate, error)
}

type RecordResolver interface {
	Resolve(ctx context.Context, host, domain string) (*probes.Records, error)
}

type PageFetcher interface {
	Fetch(ctx context.Context, rawURL string) (*probes.Page, error)
}

// Deps are the external evidence sources. A nil source disables the
// analyzers that need it.
type Deps struct {
	Threats threatintel.Lookup
	RDAP    RegistrationLookup
	TLS     CertificateProbe
	DNS     RecordResolver
	Fetcher PageFetcher
	Now     func() time.Time
}

type RateLimit struct {
	PerSecond float64
	Burst     int
}

type Options struct {
	// Enabled restricts the set of categories. Empty enables all.
	Enabled    []string
	RateLimits map[string]RateLimit
}

// Build constructs the gate and the fan-out analyzers for a policy. The
// result is immutable and meant to be installed with Registry.Replace.
func Build(p *policy.Policy, deps Deps, opts Options) (scanner.Analyzer, []scanner.Analyzer, error) {
	if p == nil {
		return nil, nil, fmt.Errorf("policy is required")
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	enabled := map[string]bool{}
	for _, name := range opts.Enabled {
		name = strings.TrimSpace(name)
		if !known(name) {
			return nil, nil, fmt.Errorf("unknown analyzer %q", name)
		}
		enabled[name] = true
	}
	for name := range opts.RateLimits {
		if !known(name) {
			return nil, nil, fmt.Errorf("rate limit for unknown analyzer %q", name)
		}
	}
	want := func(name string) bool { return len(enabled) == 0 || enabled[name] }

	candidates := []scanner.Analyzer{}
	add := func(a scanner.Analyzer, ok bool) {
		if ok && want(a.Category()) {
			candidates = append(candidates, a)
		}
	}
	add(NewDomainAge(deps.RDAP, deps.Now), deps.RDAP != nil)
	add(NewTLDReputation(p), true)
	add(NewIPHost(), true)
	add(NewBrandImpersonation(p), true)
	add(NewTransportSecurity(deps.TLS, deps.Now), true)
	add(NewURLPattern(p), true)
	add(NewHostingReputation(p), true)
	add(NewIDNHomograph(p), true)
	add(NewDNSRecords(deps.DNS), deps.DNS != nil)
	add(NewPageContent(p, deps.Fetcher), deps.Fetcher != nil)
	add(NewSecurityHeaders(deps.Fetcher), deps.Fetcher != nil)
	add(NewRedirectChain(p, deps.Fetcher), deps.Fetcher != nil)
	add(NewSocialEngineering(p), true)
	add(NewConversationPatterns(p), true)
	add(NewFileCharacteristics(p), true)

	list := make([]scanner.Analyzer, 0, len(candidates))
	for _, a := range candidates {
		list = append(list, limited(a, opts.RateLimits))
	}
	var gate scanner.Analyzer
	if deps.Threats != nil && want(CategoryThreatIntel) {
		gate = limited(NewThreatIntel(deps.Threats), opts.RateLimits)
	}
	return gate, list, nil
}

func limited(a scanner.Analyzer, limits map[string]RateLimit) scanner.Analyzer {
	l, ok := limits[a.Category()]
	if !ok || l.PerSecond <= 0 {
		return a
	}
	burst := l.Burst
	if burst <= 0 {
		burst = 1
	}
	return scanner.RateLimited(a, rate.NewLimiter(rate.Limit(l.PerSecond), burst))
}

func known(name string) bool {
	for _, c := range Categories {
		if c == name {
			return true
		}
	}
	return false
}

// base carries the fixed identity every analyzer declares at construction.
type base struct {
	category string
	max      int
}

func (b base) Category() string { return b.category }
func (b base) MaxScore() int    { return b.max }

func (b base) builder() *scanner.Builder {
	return scanner.NewBuilder(b.category, b.max)
}

// urlOnly is embedded by analyzers that inspect a URL host.
type urlOnly struct{}

func (urlOnly) Accepts(a *scanner.Artifact) bool { return a.IsURL() }

// namedHost is embedded by analyzers that need a DNS name, not an IP.
type namedHost struct{}

func (namedHost) Accepts(a *scanner.Artifact) bool {
	return a.IsURL() && !a.IsIPHost() && a.RegisteredDomain != ""
}

// matchPhrases returns the phrases found in text on word boundaries. text
// must already be lower case.
func matchPhrases(text string, phrases []string) []string {
	var out []string
	for _, p := range phrases {
		if containsWord(text, p) {
			out = append(out, p)
		}
	}
	return out
}

func containsWord(text, phrase string) bool {
	if phrase == "" {
		return false
	}
	for start := 0; start < len(text); {
		i := strings.Index(text[start:], phrase)
		if i < 0 {
			return false
		}
		i += start
		end := i + len(phrase)
		if boundaryBefore(text, i) && boundaryAfter(text, end) {
			return true
		}
		start = i + 1
	}
	return false
}

// boundaryBefore reports whether the rune ending at byte offset i is not
// part of a word.
func boundaryBefore(text string, i int) bool {
	if i <= 0 {
		return true
	}
	r, _ := utf8.DecodeLastRuneInString(text[:i])
	return !isWordRune(r)
}

// boundaryAfter reports whether the rune starting at byte offset i is not
// part of a word.
func boundaryAfter(text string, i int) bool {
	if i >= len(text) {
		return true
	}
	r, _ := utf8.DecodeRuneInString(text[i:])
	return !isWordRune(r)
}

func isWordRune(r rune) bool {
	return r != utf8.RuneError && (unicode.IsLetter(r) || unicode.IsDigit(r))
}

// subdomainLabels returns the labels of host left of the registered domain.
func subdomainLabels(host, registered string) []string {
	if registered == "" || host == registered {
		return nil
	}
	rest := strings.TrimSuffix(host, "."+registered)
	if rest == host {
		return nil
	}
	return strings.Split(rest, ".")
}

// secondLevel returns the registrable label: "paypal" for "paypal.co.uk".
func secondLevel(registered string) string {
	if i := strings.Index(registered, "."); i > 0 {
		return registered[:i]
	}
	return registered
}

func tld(host string) string {
	host = strings.TrimSuffix(host, ".")
	if i := strings.LastIndex(host, "."); i >= 0 {
		return host[i+1:]
	}
	return host
}

func tokens(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return r == '-' || r == '.' || r == '_'
	})
}

func limit(list []string, n int) []string {
	if len(list) <= n {
		return list
	}
	return list[:n]
}
