package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/fatih/color"

	"github.com/Elara-Tanmoy/elara-mvp-final-sub011/internal/cli"
	"github.com/Elara-Tanmoy/elara-mvp-final-sub011/internal/scanner"
	"github.com/Elara-Tanmoy/elara-mvp-final-sub011/internal/scoring"
)

func TestMaybePrettyJSON(t *testing.T) {
	raw := []byte(`{"a":1}`)
	if got := maybePrettyJSON(raw, false); string(got) != string(raw) {
		t.Fatalf("expected raw passthrough, got %s", got)
	}
	if got := maybePrettyJSON(raw, true); !strings.Contains(string(got), "\n  \"a\": 1") {
		t.Fatalf("expected indented output, got %s", got)
	}
	text := []byte("elara_scans_total 3\n")
	if got := maybePrettyJSON(text, true); string(got) != string(text) {
		t.Fatalf("expected non-JSON to pass through, got %s", got)
	}
}

func TestLoadEnvFileRestores(t *testing.T) {
	t.Setenv("ELARA_TEST_EXISTING", "before")
	path := filepath.Join(t.TempDir(), "elara.env")
	content := "# comment\nELARA_TEST_EXISTING=after\nELARA_TEST_NEW=\"quoted\"\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}

	restore, err := loadEnvFile(path)
	if err != nil {
		t.Fatalf("load env file: %v", err)
	}
	if os.Getenv("ELARA_TEST_EXISTING") != "after" || os.Getenv("ELARA_TEST_NEW") != "quoted" {
		t.Fatalf("expected env file values to be applied")
	}
	restore()
	if os.Getenv("ELARA_TEST_EXISTING") != "before" {
		t.Fatalf("expected existing value to be restored")
	}
	if _, ok := os.LookupEnv("ELARA_TEST_NEW"); ok {
		t.Fatalf("expected new key to be unset")
	}
}

func TestLoadEnvFileExportAndInlineComments(t *testing.T) {
	path := filepath.Join(t.TempDir(), "elara.env")
	content := "export ELARA_TEST_EXPORTED=one\nELARA_TEST_COMMENTED=two # trailing comment\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}
	restore, err := loadEnvFile(path)
	if err != nil {
		t.Fatalf("load env file: %v", err)
	}
	defer restore()
	if got := os.Getenv("ELARA_TEST_EXPORTED"); got != "one" {
		t.Fatalf("expected export prefix to be stripped, got %q", got)
	}
	if got := os.Getenv("ELARA_TEST_COMMENTED"); got != "two" {
		t.Fatalf("expected inline comment to be dropped, got %q", got)
	}
}

func TestLoadEnvFileMissing(t *testing.T) {
	if _, err := loadEnvFile(filepath.Join(t.TempDir(), "absent.env")); err == nil {
		t.Fatalf("expected missing env file to fail")
	}
}

func TestRenderResult(t *testing.T) {
	color.NoColor = true
	res := &scanner.ScanResult{
		ID:         "abc",
		Artifact:   scanner.ArtifactRef{Kind: scanner.KindURL, Target: "https://paypa1.com/login"},
		RiskLevel:  scoring.LevelHigh,
		TotalScore: 55,
		MaxScore:   120,
		Percentage: 45.8,
		Scale:      scoring.ScaleAbsolute,
		Categories: []scanner.CategoryResult{
			{Category: "tld_reputation", MaxScore: 15},
			{Category: "brand_impersonation", Score: 30, MaxScore: 30, Findings: []scanner.Finding{
				{Category: "brand_impersonation", Severity: scanner.SeverityHigh, Points: 30, Message: "lookalike of paypal.com"},
			}},
		},
		Failures: []scanner.Failure{{Category: "domain_age", Reason: scanner.FailureTimeout}},
		Verdict:  &scanner.Verdict{Simple: "This link looks dangerous.", Recommendation: "Do not sign in.", SafetyTips: []string{"Type the address yourself."}},
		Duration: 1500 * time.Millisecond,
	}
	var out bytes.Buffer
	renderResult(&out, res)
	got := out.String()
	for _, want := range []string{"HIGH", "score 55/120", "lookalike of paypal.com", "Do not sign in.", "domain_age (timeout)", "scan abc in 1.5s"} {
		if !strings.Contains(got, want) {
			t.Fatalf("expected %q in report:\n%s", want, got)
		}
	}
	if strings.Contains(got, "tld_reputation") {
		t.Fatalf("expected zero-score categories to be hidden:\n%s", got)
	}
}

func TestRunCtlRejectsUnknownCommands(t *testing.T) {
	client := cli.NewClient("http://127.0.0.1:1", "")
	if _, err := runCtl(context.Background(), client, "bogus", ""); err == nil {
		t.Fatalf("expected unknown command to fail")
	}
	if _, err := runCtl(context.Background(), client, "scan", ""); err == nil {
		t.Fatalf("expected scan without id to fail")
	}
	if _, err := runCtl(context.Background(), client, "feeds", "purge"); err == nil {
		t.Fatalf("expected unknown feeds command to fail")
	}
}

func TestLocalScanCommand(t *testing.T) {
	color.NoColor = true
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs([]string{
		"scan", "http://10.0.0.5/secure-login",
		"--offline", "--json",
		"--config", filepath.Join(t.TempDir(), "missing.json"),
	})
	if err := root.Execute(); err != nil {
		t.Fatalf("scan command: %v", err)
	}
	if !strings.Contains(out.String(), `"target":"http://10.0.0.5/secure-login"`) {
		t.Fatalf("expected JSON result, got %s", out.String())
	}
}

func TestValidateCommandReportsErrors(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(`{"scan":{"analyzers":["crystal_ball"]}}`), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	root := newRootCmd()
	root.SetOut(&bytes.Buffer{})
	root.SetArgs([]string{"validate", "--config", path})
	if err := root.Execute(); err == nil {
		t.Fatalf("expected unknown analyzer to fail validation")
	}
}
