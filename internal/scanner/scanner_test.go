package scanner

import (
	"context"
	"errors"
	"strings"
	"testing"

	"golang.org/x/time/rate"
)

func TestBuilderCapsScore(t *testing.T) {
	res := NewBuilder("brand", 40).
		Add(SeverityHigh, 30, "looks like paypal", map[string]interface{}{"brand": "paypal"}).
		Add(SeverityMedium, 25, "brand in path", nil).
		Add(SeverityLow, -5, "ignored", nil).
		Result()
	if res.Score != 40 {
		t.Fatalf("expected capped score 40, got %d", res.Score)
	}
	if len(res.Findings) != 3 || res.Findings[2].Points != 0 {
		t.Fatalf("expected negative points clamped, got %+v", res.Findings)
	}
	if res.Status != StatusFail {
		t.Fatalf("expected fail status, got %s", res.Status)
	}
	if res.MaxSeverity() != SeverityHigh {
		t.Fatalf("expected high max severity, got %s", res.MaxSeverity())
	}
}

func TestBuilderStatusAndDegraded(t *testing.T) {
	if got := NewBuilder("x", 20).Add(SeverityLow, 5, "minor", nil).Result().Status; got != StatusWarning {
		t.Fatalf("expected warning, got %s", got)
	}
	res := NewBuilder("page_content", 40).Unavailable("fetch failed").Result()
	if res.Score != 0 || res.Status != StatusPass || !res.Degraded {
		t.Fatalf("expected zero-score degraded result, got %+v", res)
	}
	if res.MaxSeverity() != SeverityInfo {
		t.Fatalf("zero-point findings must not raise severity")
	}
}

func TestNewURLArtifactNormalises(t *testing.T) {
	a, err := NewURLArtifact("  PayPa1-Secure-Login.xyz ")
	if err != nil {
		t.Fatalf("artifact: %v", err)
	}
	if a.URL.Scheme != "https" || a.Host != "paypa1-secure-login.xyz" {
		t.Fatalf("unexpected normalisation: %s %s", a.URL.Scheme, a.Host)
	}
	if a.RegisteredDomain != "paypa1-secure-login.xyz" {
		t.Fatalf("unexpected registered domain %q", a.RegisteredDomain)
	}

	sub, err := NewURLArtifact("http://login.accounts.example.co.uk/verify")
	if err != nil {
		t.Fatalf("artifact: %v", err)
	}
	if sub.RegisteredDomain != "example.co.uk" {
		t.Fatalf("expected eTLD+1, got %q", sub.RegisteredDomain)
	}

	ip, err := NewURLArtifact("http://192.168.1.10/login")
	if err != nil {
		t.Fatalf("artifact: %v", err)
	}
	if !ip.IsIPHost() || ip.RegisteredDomain != "" {
		t.Fatalf("expected ip host without registered domain")
	}

	idn, err := NewURLArtifact("https://раypal.com/")
	if err != nil {
		t.Fatalf("artifact: %v", err)
	}
	if !strings.HasPrefix(idn.Host, "xn--") {
		t.Fatalf("expected punycode host, got %q", idn.Host)
	}
}

func TestNewURLArtifactRejects(t *testing.T) {
	for _, raw := range []string{"", "   ", "ftp://example.com", "javascript://alert(1)", "https://"} {
		if _, err := NewURLArtifact(raw); !errors.Is(err, ErrInvalidArtifact) {
			t.Fatalf("expected %q to be rejected, got %v", raw, err)
		}
	}
}

func TestNewFileArtifact(t *testing.T) {
	a, err := NewFileArtifact("../../invoice.pdf.exe", "Application/Octet-Stream", []byte("MZ"))
	if err != nil {
		t.Fatalf("file: %v", err)
	}
	if a.File.Name != "invoice.pdf.exe" || a.File.MIMEType != "application/octet-stream" || a.File.Size != 2 {
		t.Fatalf("unexpected file %+v", a.File)
	}
	if len(a.File.SHA256) != 64 {
		t.Fatalf("expected sha256 hex digest")
	}
	if _, err := NewFileArtifact("empty.txt", "text/plain", nil); !errors.Is(err, ErrInvalidArtifact) {
		t.Fatalf("expected empty file to be rejected")
	}
}

func TestLineParser(t *testing.T) {
	conv := LineParser{}.Parse("Mom: hi honey\nthis is my new number\nMe: who is this?\nhttps://example.com: not a sender\n")
	if len(conv.Messages) != 2 {
		t.Fatalf("expected two messages, got %+v", conv.Messages)
	}
	if conv.Messages[0].Text != "hi honey this is my new number" {
		t.Fatalf("expected continuation line to join, got %q", conv.Messages[0].Text)
	}
	if conv.Messages[1].Sender != "Me" || conv.Messages[1].Text != "who is this? https://example.com: not a sender" {
		t.Fatalf("url line must not start a message, got %+v", conv.Messages[1])
	}
	if conv.Metadata["participants"] != "2" {
		t.Fatalf("expected two participants, got %q", conv.Metadata["participants"])
	}
}

func TestPlainTextExtractor(t *testing.T) {
	text, conf := PlainTextExtractor{}.Extract(context.Background(), []byte(" hello "), "text/plain")
	if text != "hello" || conf != 1 {
		t.Fatalf("unexpected extraction %q %v", text, conf)
	}
	text, conf = PlainTextExtractor{}.Extract(context.Background(), []byte{0x89, 'P', 'N', 'G'}, "image/png")
	if text != "" || conf != 0 {
		t.Fatalf("expected no text from image")
	}
}

func TestRegistryRejectsDuplicatesAndSnapshots(t *testing.T) {
	reg := NewRegistry()
	if err := reg.SetGate(&fakeAnalyzer{category: "threat_intel", max: 50}); err != nil {
		t.Fatalf("gate: %v", err)
	}
	if err := reg.Register(&fakeAnalyzer{category: "a", max: 10}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := reg.Register(&fakeAnalyzer{category: "a", max: 10}); err == nil {
		t.Fatalf("expected duplicate to be rejected")
	}
	if err := reg.Register(&fakeAnalyzer{category: "threat_intel", max: 10}); err == nil {
		t.Fatalf("expected gate name clash to be rejected")
	}
	snap := reg.Snapshot()
	if err := reg.Replace(nil, []Analyzer{&fakeAnalyzer{category: "b", max: 5}}); err != nil {
		t.Fatalf("replace: %v", err)
	}
	if snap.Gate == nil || len(snap.Analyzers) != 1 || snap.Analyzers[0].Category() != "a" {
		t.Fatalf("snapshot changed after replace")
	}
	if names := reg.List(); len(names) != 1 || names[0] != "b" {
		t.Fatalf("unexpected list %v", names)
	}
	if _, err := reg.Get("a"); err == nil {
		t.Fatalf("expected replaced analyzer to be gone")
	}
}

func TestRateLimitedReportsUnavailable(t *testing.T) {
	inner := &fakeAnalyzer{category: "dns_records", max: 15, points: 15}
	limited := RateLimited(inner, rate.NewLimiter(0, 0))
	res, err := limited.Analyze(context.Background(), &Artifact{})
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if !res.Degraded || res.Score != 0 || inner.calls.Load() != 0 {
		t.Fatalf("expected degraded result without calling analyzer")
	}
	if RateLimited(inner, nil) != Analyzer(inner) {
		t.Fatalf("nil limiter must return the analyzer unchanged")
	}
}
