package state

import (
	"sync"
	"time"

	"github.com/Elara-Tanmoy/elara-mvp-final-sub011/internal/scanner"
	"github.com/Elara-Tanmoy/elara-mvp-final-sub011/internal/scoring"
)

type ResultSummary struct {
	ID             string               `json:"id"`
	Kind           scanner.ArtifactKind `json:"kind"`
	Target         string               `json:"target"`
	RiskLevel      scoring.RiskLevel    `json:"risk_level"`
	TotalScore     int                  `json:"total_score"`
	MaxScore       int                  `json:"max_score"`
	ShortCircuited bool                 `json:"short_circuited"`
	TimedOut       bool                 `json:"timed_out"`
	Findings       int                  `json:"findings"`
	Failures       int                  `json:"failures"`
	FinishedAt     time.Time            `json:"finished_at"`
	Duration       time.Duration        `json:"duration"`
}

// ResultCache keeps the most recent scans in memory for the API. Durable
// history lives in storage.ResultsStore.
type ResultCache struct {
	mu      sync.RWMutex
	latest  map[scanner.ArtifactKind]*scanner.ScanResult
	history []*scanner.ScanResult
	limit   int
}

func NewResultCache(limit int) *ResultCache {
	if limit <= 0 {
		limit = 50
	}
	return &ResultCache{
		latest: make(map[scanner.ArtifactKind]*scanner.ScanResult),
		limit:  limit,
	}
}

func (c *ResultCache) Add(result *scanner.ScanResult) {
	if result == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.latest[result.Artifact.Kind] = result
	c.history = append(c.history, result)
	if len(c.history) > c.limit {
		c.history = c.history[len(c.history)-c.limit:]
	}
}

func (c *ResultCache) Get(id string) (*scanner.ScanResult, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for i := len(c.history) - 1; i >= 0; i-- {
		if c.history[i].ID == id {
			return c.history[i], true
		}
	}
	return nil, false
}

// Latest returns the newest scan of each artifact kind.
func (c *ResultCache) Latest() []ResultSummary {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]ResultSummary, 0, len(c.latest))
	for _, kind := range []scanner.ArtifactKind{scanner.KindURL, scanner.KindConversation, scanner.KindFile} {
		if res, ok := c.latest[kind]; ok {
			out = append(out, summarize(res))
		}
	}
	return out
}

// History returns summaries newest first.
func (c *ResultCache) History() []ResultSummary {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]ResultSummary, 0, len(c.history))
	for i := len(c.history) - 1; i >= 0; i-- {
		out = append(out, summarize(c.history[i]))
	}
	return out
}

type FindingSummary struct {
	ScanID     string            `json:"scan_id"`
	Target     string            `json:"target"`
	Category   string            `json:"category"`
	Severity   scanner.Severity  `json:"severity"`
	Message    string            `json:"message"`
	Points     int               `json:"points"`
	OccurredAt time.Time         `json:"occurred_at"`
	Evidence   map[string]string `json:"evidence,omitempty"`
}

// FindingsHistory flattens scoring findings of recent scans, newest first.
// Findings below minSeverity and zero-point notes are left out.
func (c *ResultCache) FindingsHistory(minSeverity scanner.Severity) []FindingSummary {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := []FindingSummary{}
	for i := len(c.history) - 1; i >= 0; i-- {
		res := c.history[i]
		for _, cat := range res.Categories {
			for _, finding := range cat.Findings {
				if finding.Points <= 0 || finding.Severity.Rank() < minSeverity.Rank() {
					continue
				}
				evidence := map[string]string{}
				for k, v := range finding.Evidence {
					if s, ok := v.(string); ok {
						evidence[k] = s
					}
				}
				out = append(out, FindingSummary{
					ScanID:     res.ID,
					Target:     res.Artifact.Target,
					Category:   finding.Category,
					Severity:   finding.Severity,
					Message:    finding.Message,
					Points:     finding.Points,
					OccurredAt: res.FinishedAt,
					Evidence:   evidence,
				})
			}
		}
	}
	return out
}

func summarize(res *scanner.ScanResult) ResultSummary {
	return ResultSummary{
		ID:             res.ID,
		Kind:           res.Artifact.Kind,
		Target:         res.Artifact.Target,
		RiskLevel:      res.RiskLevel,
		TotalScore:     res.TotalScore,
		MaxScore:       res.MaxScore,
		ShortCircuited: res.ShortCircuited,
		TimedOut:       res.TimedOut,
		Findings:       res.FindingCount(),
		Failures:       len(res.Failures),
		FinishedAt:     res.FinishedAt,
		Duration:       res.Duration,
	}
}
