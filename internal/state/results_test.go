package state

import (
	"fmt"
	"testing"
	"time"

	"github.com/Elara-Tanmoy/elara-mvp-final-sub011/internal/scanner"
	"github.com/Elara-Tanmoy/elara-mvp-final-sub011/internal/scoring"
)

func result(id string, kind scanner.ArtifactKind, findings ...scanner.Finding) *scanner.ScanResult {
	return &scanner.ScanResult{
		ID:         id,
		Artifact:   scanner.ArtifactRef{Kind: kind, Target: "target-" + id},
		Categories: []scanner.CategoryResult{{Category: "url_pattern", Findings: findings}},
		RiskLevel:  scoring.LevelLow,
		FinishedAt: time.Now(),
	}
}

func TestResultCacheKeepsLimit(t *testing.T) {
	cache := NewResultCache(3)
	for i := 0; i < 5; i++ {
		cache.Add(result(fmt.Sprintf("s%d", i), scanner.KindURL))
	}
	history := cache.History()
	if len(history) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(history))
	}
	if history[0].ID != "s4" || history[2].ID != "s2" {
		t.Fatalf("expected newest first, got %s..%s", history[0].ID, history[2].ID)
	}
	if _, ok := cache.Get("s0"); ok {
		t.Fatalf("expected evicted scan to be gone")
	}
	if got, ok := cache.Get("s3"); !ok || got.ID != "s3" {
		t.Fatalf("expected s3 to be cached")
	}
}

func TestResultCacheLatestPerKind(t *testing.T) {
	cache := NewResultCache(10)
	cache.Add(result("u1", scanner.KindURL))
	cache.Add(result("f1", scanner.KindFile))
	cache.Add(result("u2", scanner.KindURL))

	latest := cache.Latest()
	if len(latest) != 2 {
		t.Fatalf("expected one summary per kind, got %d", len(latest))
	}
	if latest[0].ID != "u2" || latest[1].ID != "f1" {
		t.Fatalf("unexpected latest order: %+v", latest)
	}
}

func TestFindingsHistoryFiltersSeverity(t *testing.T) {
	cache := NewResultCache(10)
	cache.Add(result("a", scanner.KindURL,
		scanner.Finding{Category: "url_pattern", Severity: scanner.SeverityLow, Points: 4, Message: "long url"},
		scanner.Finding{Category: "url_pattern", Severity: scanner.SeverityHigh, Points: 12, Message: "tld in subdomain", Evidence: map[string]interface{}{"label": "com", "count": 1}},
		scanner.Finding{Category: "url_pattern", Severity: scanner.SeverityInfo, Message: "note"},
	))

	all := cache.FindingsHistory(scanner.SeverityInfo)
	if len(all) != 2 {
		t.Fatalf("expected zero-point notes to be skipped, got %d", len(all))
	}
	high := cache.FindingsHistory(scanner.SeverityMedium)
	if len(high) != 1 || high[0].Message != "tld in subdomain" {
		t.Fatalf("expected only the high finding, got %+v", high)
	}
	if high[0].Evidence["label"] != "com" || len(high[0].Evidence) != 1 {
		t.Fatalf("expected string evidence only, got %+v", high[0].Evidence)
	}
}
