package scanner

// Builder accumulates findings for one category and produces a capped
// CategoryResult.
type Builder struct {
	category string
	max      int
	findings []Finding
	degraded bool
}

func NewBuilder(category string, maxScore int) *Builder {
	if maxScore < 0 {
		maxScore = 0
	}
	return &Builder{category: category, max: maxScore}
}

// Add records a finding. Negative points are treated as zero.
func (b *Builder) Add(severity Severity, points int, message string, evidence map[string]interface{}) *Builder {
	if points < 0 {
		points = 0
	}
	var ev map[string]interface{}
	if len(evidence) > 0 {
		ev = make(map[string]interface{}, len(evidence))
		for k, v := range evidence {
			ev[k] = v
		}
	}
	b.findings = append(b.findings, Finding{
		Category: b.category,
		Severity: severity,
		Message:  message,
		Points:   points,
		Evidence: ev,
	})
	return b
}

// Info records a zero-point informational finding.
func (b *Builder) Info(message string, evidence map[string]interface{}) *Builder {
	return b.Add(SeverityInfo, 0, message, evidence)
}

// Unavailable marks the category as degraded: the evidence source could not
// be reached, so a zero score here is not a pass.
func (b *Builder) Unavailable(reason string) *Builder {
	b.degraded = true
	return b.Info("check unavailable: "+reason, nil)
}

func (b *Builder) Result() *CategoryResult {
	sum := 0
	for _, f := range b.findings {
		sum += f.Points
	}
	score := min(sum, b.max)
	findings := make([]Finding, len(b.findings))
	copy(findings, b.findings)
	return &CategoryResult{
		Category: b.category,
		Score:    score,
		MaxScore: b.max,
		Findings: findings,
		Status:   deriveStatus(score, b.max),
		Degraded: b.degraded,
	}
}

func deriveStatus(score, max int) Status {
	switch {
	case score <= 0 || max <= 0:
		return StatusPass
	case score*2 < max:
		return StatusWarning
	default:
		return StatusFail
	}
}
