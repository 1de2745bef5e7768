package alerting

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/Elara-Tanmoy/elara-mvp-final-sub011/internal/config"
	"github.com/Elara-Tanmoy/elara-mvp-final-sub011/internal/logging"
	"github.com/Elara-Tanmoy/elara-mvp-final-sub011/internal/scanner"
	"github.com/Elara-Tanmoy/elara-mvp-final-sub011/internal/scoring"
)

const maxAlertFindings = 5

type Alert struct {
	ID             string               `json:"id"`
	Timestamp      time.Time            `json:"timestamp"`
	ScanID         string               `json:"scan_id"`
	Kind           scanner.ArtifactKind `json:"kind"`
	Target         string               `json:"target"`
	RiskLevel      scoring.RiskLevel    `json:"risk_level"`
	Score          int                  `json:"score"`
	MaxScore       int                  `json:"max_score"`
	ShortCircuited bool                 `json:"short_circuited"`
	Findings       []scanner.Finding    `json:"findings,omitempty"`
	Summary        string               `json:"summary,omitempty"`
	Reason         string               `json:"reason"`
}

type Channel interface {
	Name() string
	Send(ctx context.Context, alert Alert) error
}

// Engine fans alerts out to channels. Alerts for the same target and level
// are suppressed inside the dedup window, and failed deliveries are retried
// with exponential backoff.
type Engine struct {
	logger       *logging.Logger
	channels     []Channel
	minLevel     scoring.RiskLevel
	dedupWindow  time.Duration
	retryMax     int
	retryBackoff time.Duration
	onDelivery   func(channel string, ok bool)

	mu       sync.Mutex
	lastSeen map[string]time.Time
	wg       sync.WaitGroup
}

func New(logger *logging.Logger, cfg config.AlertingConfig) *Engine {
	return &Engine{
		logger:       logger,
		minLevel:     cfg.MinLevel(),
		dedupWindow:  cfg.DedupWindowDuration(),
		retryMax:     cfg.RetryMax,
		retryBackoff: cfg.RetryBackoffDuration(),
		lastSeen:     make(map[string]time.Time),
	}
}

func (e *Engine) Register(channel Channel) {
	e.channels = append(e.channels, channel)
}

// OnDelivery installs a hook called once per channel delivery outcome.
func (e *Engine) OnDelivery(fn func(channel string, ok bool)) {
	e.onDelivery = fn
}

// Notify raises an alert for a finished scan at or above the engine
// threshold. Delivery runs in the background; Wait blocks until it is done.
func (e *Engine) Notify(result *scanner.ScanResult) bool {
	if result == nil || !result.RiskLevel.AtLeast(e.minLevel) {
		return false
	}
	alert := FromResult(result)
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.Send(context.Background(), alert)
	}()
	return true
}

func (e *Engine) Wait() { e.wg.Wait() }

func (e *Engine) Send(ctx context.Context, alert Alert) {
	if alert.ID == "" {
		alert.ID = fingerprint(alert)
	}
	if alert.Timestamp.IsZero() {
		alert.Timestamp = time.Now().UTC()
	}

	if e.isThrottled(alert.ID) {
		e.logger.Debug("alert throttled", logging.F("alert_id", alert.ID), logging.F("target", alert.Target))
		return
	}

	for _, ch := range e.channels {
		err := e.deliver(ctx, ch, alert)
		if e.onDelivery != nil {
			e.onDelivery(ch.Name(), err == nil)
		}
		if err != nil {
			e.logger.Error("alert delivery failed",
				logging.F("channel", ch.Name()),
				logging.F("alert_id", alert.ID),
				logging.F("error", err.Error()),
			)
		}
	}
}

func (e *Engine) deliver(ctx context.Context, ch Channel, alert Alert) error {
	backoff := e.retryBackoff
	var err error
	for attempt := 0; attempt <= e.retryMax; attempt++ {
		if err = ch.Send(ctx, alert); err == nil {
			return nil
		}
		if attempt == e.retryMax {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	return err
}

func (e *Engine) isThrottled(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	now := time.Now()
	for key, seen := range e.lastSeen {
		if now.Sub(seen) >= e.dedupWindow {
			delete(e.lastSeen, key)
		}
	}
	if last, ok := e.lastSeen[id]; ok && now.Sub(last) < e.dedupWindow {
		return true
	}
	e.lastSeen[id] = now
	return false
}

// FromResult builds an alert carrying the strongest findings of a scan.
func FromResult(result *scanner.ScanResult) Alert {
	alert := Alert{
		ScanID:         result.ID,
		Kind:           result.Artifact.Kind,
		Target:         result.Artifact.Target,
		RiskLevel:      result.RiskLevel,
		Score:          result.TotalScore,
		MaxScore:       result.MaxScore,
		ShortCircuited: result.ShortCircuited,
		Reason:         fmt.Sprintf("risk level %s (%d points)", result.RiskLevel, result.TotalScore),
	}
	if result.ShortCircuited {
		alert.Reason = "known threat: " + alert.Reason
	}
	if result.Verdict != nil {
		alert.Summary = result.Verdict.Simple
	}
	for _, c := range result.Categories {
		for _, f := range c.Findings {
			if f.Points > 0 {
				alert.Findings = append(alert.Findings, f)
			}
		}
	}
	sort.SliceStable(alert.Findings, func(i, j int) bool { return alert.Findings[i].Points > alert.Findings[j].Points })
	if len(alert.Findings) > maxAlertFindings {
		alert.Findings = alert.Findings[:maxAlertFindings]
	}
	return alert
}

func fingerprint(alert Alert) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s|%s|%s", alert.Kind, alert.Target, alert.RiskLevel)
	return hex.EncodeToString(h.Sum(nil))
}
