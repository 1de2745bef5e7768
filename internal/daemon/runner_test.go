package daemon

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Elara-Tanmoy/elara-mvp-final-sub011/internal/config"
	"github.com/Elara-Tanmoy/elara-mvp-final-sub011/internal/logging"
	"github.com/Elara-Tanmoy/elara-mvp-final-sub011/internal/policy"
	"github.com/Elara-Tanmoy/elara-mvp-final-sub011/internal/scanner"
	"github.com/Elara-Tanmoy/elara-mvp-final-sub011/internal/scoring"
	"github.com/Elara-Tanmoy/elara-mvp-final-sub011/internal/storage"
	"github.com/Elara-Tanmoy/elara-mvp-final-sub011/internal/threatintel"
)

func TestHandleSignalsCallsReloadOnSIGHUP(t *testing.T) {
	runner := &Runner{logger: logging.Discard()}
	sigCh := make(chan os.Signal, 1)
	var reloadCalled atomic.Bool

	done := make(chan struct{})
	go func() {
		runner.handleSignals(sigCh, func() {}, func() { reloadCalled.Store(true) })
		close(done)
	}()

	sigCh <- syscall.SIGHUP
	close(sigCh)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("handleSignals did not return after closing channel")
	}

	if !reloadCalled.Load() {
		t.Fatalf("expected reload to be called on SIGHUP")
	}
}

func TestHandleSignalsCancelsOnSIGTERM(t *testing.T) {
	runner := &Runner{logger: logging.Discard()}
	sigCh := make(chan os.Signal, 1)
	var cancelled atomic.Bool
	sigCh <- syscall.SIGTERM
	runner.handleSignals(sigCh, func() { cancelled.Store(true) }, nil)
	if !cancelled.Load() {
		t.Fatalf("expected SIGTERM to cancel the daemon context")
	}
}

func offlineConfig() config.Config {
	cfg := config.Default()
	cfg.Probes.Offline = true
	cfg.Alerting.Enabled = true
	cfg.ThreatIntel.RunOnStart = false
	return cfg
}

func newTestApp(t *testing.T, cfg config.Config) *App {
	t.Helper()
	store, err := storage.NewInMemoryStore()
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	app, err := NewApp(cfg, logging.Discard(), store)
	if err != nil {
		t.Fatalf("build app: %v", err)
	}
	t.Cleanup(func() { _ = app.Close() })
	return app
}

func TestServiceScanRecordsResult(t *testing.T) {
	app := newTestApp(t, offlineConfig())

	artifact, err := scanner.NewURLArtifact("http://192.168.4.20/paypal/login.php")
	if err != nil {
		t.Fatalf("artifact: %v", err)
	}
	res, err := app.Service.Scan(context.Background(), artifact)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if res.ID == "" || res.Verdict == nil {
		t.Fatalf("expected id and verdict, got %+v", res)
	}
	if res.Verdict.Source != "template" {
		t.Fatalf("expected template verdict without a narrator, got %q", res.Verdict.Source)
	}
	if _, ok := app.Recent.Get(res.ID); !ok {
		t.Fatalf("expected result in recent cache")
	}
	stored, err := app.Results.Get(res.ID)
	if err != nil {
		t.Fatalf("expected persisted result: %v", err)
	}
	if stored.TotalScore != res.TotalScore {
		t.Fatalf("stored score %d != %d", stored.TotalScore, res.TotalScore)
	}
	if _, ok := res.Category("ip_host"); !ok {
		t.Fatalf("expected the ip_host analyzer to run offline")
	}
}

func TestServiceRejectsOversizedFile(t *testing.T) {
	cfg := offlineConfig()
	cfg.Scan.MaxFileBytes = 8
	app := newTestApp(t, cfg)

	artifact, err := scanner.NewFileArtifact("note.txt", "text/plain", []byte("0123456789abcdef"))
	if err != nil {
		t.Fatalf("artifact: %v", err)
	}
	if _, err := app.Service.Scan(context.Background(), artifact); !errors.Is(err, scanner.ErrInvalidArtifact) {
		t.Fatalf("expected invalid artifact error, got %v", err)
	}
	if len(app.Recent.History()) != 0 {
		t.Fatalf("expected nothing recorded")
	}
}

func TestThreatFeedJobShortCircuitsScans(t *testing.T) {
	feed := filepath.Join(t.TempDir(), "blocklist.txt")
	if err := os.WriteFile(feed, []byte("# local blocklist\npaypa1-secure.com\n"), 0o600); err != nil {
		t.Fatalf("write feed: %v", err)
	}
	cfg := offlineConfig()
	cfg.ThreatIntel.Enabled = true
	cfg.ThreatIntel.CacheDir = t.TempDir()
	cfg.ThreatIntel.Sources = []threatintel.SourceConfig{{
		ID:       "local",
		URL:      "file://" + feed,
		Format:   threatintel.FormatLines,
		Severity: scanner.SeverityCritical,
	}}
	app := newTestApp(t, cfg)

	if err := app.Scheduler.RunOnce(context.Background(), jobThreatIntel); err != nil {
		t.Fatalf("feed job: %v", err)
	}
	if app.Index.Len() != 1 {
		t.Fatalf("expected one indicator, got %d", app.Index.Len())
	}

	artifact, err := scanner.NewURLArtifact("https://login.paypa1-secure.com/verify")
	if err != nil {
		t.Fatalf("artifact: %v", err)
	}
	res, err := app.Service.Scan(context.Background(), artifact)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if !res.ShortCircuited || res.RiskLevel != scoring.LevelCritical {
		t.Fatalf("expected critical short circuit, got short=%v level=%s", res.ShortCircuited, res.RiskLevel)
	}
	if len(res.Categories) != 1 {
		t.Fatalf("expected only the gate category, got %d", len(res.Categories))
	}

	status, err := app.Updater.Status()
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if status.Sources["local"].Indicators != 1 {
		t.Fatalf("expected source status to be recorded, got %+v", status.Sources)
	}
}

func TestRetentionJobPrunesOldResults(t *testing.T) {
	cfg := offlineConfig()
	cfg.Storage.RetentionDays = 30
	app := newTestApp(t, cfg)

	old := &scanner.ScanResult{
		ID:         "old",
		Artifact:   scanner.ArtifactRef{Kind: scanner.KindURL, Target: "https://a.example/"},
		StartedAt:  time.Now().AddDate(0, 0, -60),
		FinishedAt: time.Now().AddDate(0, 0, -60),
	}
	fresh := &scanner.ScanResult{
		ID:         "fresh",
		Artifact:   scanner.ArtifactRef{Kind: scanner.KindURL, Target: "https://b.example/"},
		StartedAt:  time.Now(),
		FinishedAt: time.Now(),
	}
	for _, r := range []*scanner.ScanResult{old, fresh} {
		if err := app.Results.Save(r); err != nil {
			t.Fatalf("save: %v", err)
		}
	}
	if err := app.Scheduler.RunOnce(context.Background(), jobRetentionPrune); err != nil {
		t.Fatalf("prune job: %v", err)
	}
	if _, err := app.Results.Get("old"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected old result to be pruned, got %v", err)
	}
	if _, err := app.Results.Get("fresh"); err != nil {
		t.Fatalf("expected fresh result to remain: %v", err)
	}
}

func TestApplyPolicySwapsAnalyzers(t *testing.T) {
	app := newTestApp(t, offlineConfig())
	before := app.Registry.List()

	p, err := policy.Default()
	if err != nil {
		t.Fatalf("default policy: %v", err)
	}
	p.Version = "test-2"
	p.SuspiciousTLDs = append(p.SuspiciousTLDs, "example")
	if err := app.ApplyPolicy(p); err != nil {
		t.Fatalf("apply policy: %v", err)
	}
	if got := app.Registry.List(); len(got) != len(before) {
		t.Fatalf("expected the same analyzer set, got %v -> %v", before, got)
	}
	if app.Policy().Version != "test-2" {
		t.Fatalf("expected applied policy to be current")
	}

	artifact, err := scanner.NewURLArtifact("https://shop.example/")
	if err != nil {
		t.Fatalf("artifact: %v", err)
	}
	res, err := app.Service.Scan(context.Background(), artifact)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	tld, ok := res.Category("tld_reputation")
	if !ok || tld.Score == 0 {
		t.Fatalf("expected the new suspicious tld to score, got %+v", tld)
	}
}

func TestPolicyScaleDrivesClassification(t *testing.T) {
	p, err := policy.Default()
	if err != nil {
		t.Fatalf("default policy: %v", err)
	}
	p.AggregateScale = scoring.ScalePercentage
	data, err := yaml.Marshal(p)
	if err != nil {
		t.Fatalf("encode policy: %v", err)
	}
	path := filepath.Join(t.TempDir(), "policy.yaml")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("write policy: %v", err)
	}
	cfg := offlineConfig()
	cfg.Policy.Path = path
	app := newTestApp(t, cfg)

	artifact, err := scanner.NewURLArtifact("http://192.168.4.20/paypal/login.php")
	if err != nil {
		t.Fatalf("artifact: %v", err)
	}
	res, err := app.Service.Scan(context.Background(), artifact)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if res.Scale != scoring.ScalePercentage {
		t.Fatalf("expected percentage scale from policy, got %s", res.Scale)
	}
	classifier, err := app.Policy().Classifier()
	if err != nil {
		t.Fatalf("classifier: %v", err)
	}
	want, err := classifier.Classify(scoring.ScalePercentage, res.TotalScore, res.MaxScore)
	if err != nil {
		t.Fatalf("classify: %v", err)
	}
	if res.RiskLevel != want {
		t.Fatalf("expected %s for %d/%d, got %s", want, res.TotalScore, res.MaxScore, res.RiskLevel)
	}

	reverted, err := policy.Default()
	if err != nil {
		t.Fatalf("default policy: %v", err)
	}
	if err := app.ApplyPolicy(reverted); err != nil {
		t.Fatalf("apply policy: %v", err)
	}
	res, err = app.Service.Scan(context.Background(), artifact)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if res.Scale != scoring.ScaleAbsolute || app.Engine.Scale() != scoring.ScaleAbsolute {
		t.Fatalf("expected reload to restore the absolute scale, got %s", res.Scale)
	}
}

func TestOpenRequiresDBPath(t *testing.T) {
	cfg := offlineConfig()
	cfg.Storage.DBPath = ""
	if _, err := Open(cfg, logging.Discard()); err == nil {
		t.Fatalf("expected missing db path to fail")
	}
}
