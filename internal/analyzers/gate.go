package analyzers

import (
	"context"
	"sort"

	"github.com/Elara-Tanmoy/elara-mvp-final-sub011/internal/scanner"
	"github.com/Elara-Tanmoy/elara-mvp-final-sub011/internal/threatintel"
)

var severityPoints = map[scanner.Severity]int{
	scanner.SeverityCritical: 50,
	scanner.SeverityHigh:     40,
	scanner.SeverityMedium:   25,
	scanner.SeverityLow:      10,
}

// ThreatIntel is the priority gate: any positive score ends the scan.
type ThreatIntel struct {
	base
	lookup threatintel.Lookup
}

func NewThreatIntel(lookup threatintel.Lookup) *ThreatIntel {
	return &ThreatIntel{base: base{category: CategoryThreatIntel, max: 50}, lookup: lookup}
}

func (t *ThreatIntel) Accepts(*scanner.Artifact) bool { return true }

func (t *ThreatIntel) Analyze(ctx context.Context, a *scanner.Artifact) (*scanner.CategoryResult, error) {
	b := t.builder()
	match, err := t.lookup.Check(ctx, a)
	if err != nil {
		return b.Unavailable("threat lookup failed").Result(), nil
	}
	if !match.IsThreat {
		return b.Info("no known-threat indicators matched", nil).Result(), nil
	}
	values := make([]string, 0, len(match.Indicators))
	sources := map[string]bool{}
	for _, ind := range match.Indicators {
		values = append(values, string(ind.Type)+":"+ind.Value)
		sources[ind.Source] = true
	}
	names := make([]string, 0, len(sources))
	for s := range sources {
		names = append(names, s)
	}
	sort.Strings(names)
	b.Add(match.MaxSeverity, severityPoints[match.MaxSeverity], "matched known threat indicator", map[string]interface{}{
		"indicators": limit(values, 10),
		"sources":    names,
	})
	return b.Result(), nil
}
