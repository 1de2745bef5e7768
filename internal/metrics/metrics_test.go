package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Elara-Tanmoy/elara-mvp-final-sub011/internal/scanner"
	"github.com/Elara-Tanmoy/elara-mvp-final-sub011/internal/scoring"
)

func TestCollectorCountsScanEvents(t *testing.T) {
	c := New()
	c.OnEvent(scanner.Event{Type: scanner.EventAnalyzerDone, Category: "domain_age", Elapsed: 20 * time.Millisecond})
	c.OnEvent(scanner.Event{Type: scanner.EventAnalyzerFailed, Category: "page_content", Reason: scanner.FailureTimeout, Elapsed: time.Second})
	c.OnEvent(scanner.Event{Type: scanner.EventAnalyzerFailed, Category: "page_content", Reason: scanner.FailureTimeout})
	c.OnEvent(scanner.Event{Type: scanner.EventPhase, Phase: scanner.PhaseTimedOut})
	c.OnEvent(scanner.Event{Type: scanner.EventScanDone, Kind: scanner.KindURL, Level: scoring.LevelHigh, Score: 60, Elapsed: 2 * time.Second})
	c.OnEvent(scanner.Event{Type: scanner.EventPhase, Phase: scanner.PhaseShortCircuit})

	assert.Equal(t, 1.0, testutil.ToFloat64(c.scans.WithLabelValues("url", "high")))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.analyzerFailures.WithLabelValues("page_content", "timeout")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.batchTimeouts))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.shortCircuits))
	assert.Equal(t, 2, testutil.CollectAndCount(c.analyzerDuration))
}

func TestCollectorFeedAndAlertCounters(t *testing.T) {
	c := New()
	c.SetIndicators(42)
	c.FeedRefreshed("urlhaus", true)
	c.FeedRefreshed("urlhaus", false)
	c.AlertSent("webhook", false)

	assert.Equal(t, 42.0, testutil.ToFloat64(c.feedIndicators))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.feedRefreshes.WithLabelValues("urlhaus", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.alerts.WithLabelValues("webhook", "error")))
}

func TestHandlerExposesMetrics(t *testing.T) {
	c := New()
	c.OnEvent(scanner.Event{Type: scanner.EventScanDone, Kind: scanner.KindFile, Level: scoring.LevelSafe})

	srv := httptest.NewServer(c.Handler())
	defer srv.Close()
	resp, err := srv.Client().Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(body), `elara_scans_total{kind="file",risk_level="safe"} 1`))
	assert.Contains(t, string(body), "go_goroutines")
}
