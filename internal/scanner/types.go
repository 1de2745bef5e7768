package scanner

import (
	"time"

	"github.com/Elara-Tanmoy/elara-mvp-final-sub011/internal/scoring"
)

type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

func (s Severity) Rank() int {
	switch s {
	case SeverityInfo:
		return 0
	case SeverityLow:
		return 1
	case SeverityMedium:
		return 2
	case SeverityHigh:
		return 3
	case SeverityCritical:
		return 4
	default:
		return -1
	}
}

// Finding is one atomic piece of evidence. It is a value: analyzers build it
// once and never touch it again.
type Finding struct {
	Category string                 `json:"category"`
	Severity Severity               `json:"severity"`
	Message  string                 `json:"message"`
	Points   int                    `json:"points"`
	Evidence map[string]interface{} `json:"evidence,omitempty"`
}

type Status string

const (
	StatusPass    Status = "pass"
	StatusWarning Status = "warning"
	StatusFail    Status = "fail"
)

// CategoryResult is the bounded output of one analyzer. Build it with
// Builder so Score is always min(sum of points, MaxScore).
type CategoryResult struct {
	Category string    `json:"category"`
	Score    int       `json:"score"`
	MaxScore int       `json:"max_score"`
	Findings []Finding `json:"findings"`
	Status   Status    `json:"status"`
	Degraded bool      `json:"degraded,omitempty"`
}

func (c CategoryResult) MaxSeverity() Severity {
	worst := SeverityInfo
	for _, f := range c.Findings {
		if f.Points > 0 && f.Severity.Rank() > worst.Rank() {
			worst = f.Severity
		}
	}
	return worst
}

type FailureReason string

const (
	FailureTimeout   FailureReason = "timeout"
	FailureError     FailureReason = "error"
	FailurePanic     FailureReason = "panic"
	FailureAbandoned FailureReason = "abandoned"
)

// Failure records an analyzer that contributed nothing to the scan.
type Failure struct {
	Category string        `json:"category"`
	Reason   FailureReason `json:"reason"`
	Error    string        `json:"error,omitempty"`
}

type Verdict struct {
	Simple         string   `json:"simple"`
	Technical      string   `json:"technical"`
	Recommendation string   `json:"recommendation"`
	SafetyTips     []string `json:"safety_tips"`
	Source         string   `json:"source"`
	Fallback       []string `json:"fallback,omitempty"`
}

type ScanResult struct {
	ID                string            `json:"id"`
	Artifact          ArtifactRef       `json:"artifact"`
	Categories        []CategoryResult  `json:"categories"`
	Failures          []Failure         `json:"failures,omitempty"`
	TotalScore        int               `json:"total_score"`
	MaxScore          int               `json:"max_score"`
	AttemptedMaxScore int               `json:"attempted_max_score"`
	Percentage        float64           `json:"percentage"`
	Scale             scoring.Scale     `json:"scale"`
	RiskLevel         scoring.RiskLevel `json:"risk_level"`
	ShortCircuited    bool              `json:"short_circuited"`
	TimedOut          bool              `json:"timed_out"`
	Verdict           *Verdict          `json:"verdict,omitempty"`
	StartedAt         time.Time         `json:"started_at"`
	FinishedAt        time.Time         `json:"finished_at"`
	Duration          time.Duration     `json:"duration"`
}

func (r *ScanResult) Category(name string) (CategoryResult, bool) {
	for _, c := range r.Categories {
		if c.Category == name {
			return c, true
		}
	}
	return CategoryResult{}, false
}

func (r *ScanResult) FindingCount() int {
	n := 0
	for _, c := range r.Categories {
		n += len(c.Findings)
	}
	return n
}
