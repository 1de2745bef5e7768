package scoring

import (
	"errors"
	"fmt"
	"sort"
)

// Scale names the scoring scale a set of category results was produced under.
// Results from different scales are not comparable and must be classified
// with the strategy registered for their own scale.
type Scale string

const (
	// ScaleAbsolute classifies the raw summed score against fixed cutoffs.
	ScaleAbsolute Scale = "absolute"
	// ScalePercentage classifies score/max of the collected categories.
	ScalePercentage Scale = "percentage"
	// ScaleGate classifies a short-circuited known-threat result on the
	// gate's own narrow scale.
	ScaleGate Scale = "gate"
)

var ErrUnknownScale = errors.New("unknown scoring scale")

// Band maps a lower bound to a level. The bound is a raw score for absolute
// strategies and a percentage (0-100) for percentage strategies.
type Band struct {
	Level RiskLevel `json:"level" yaml:"level"`
	Min   float64   `json:"min" yaml:"min"`
}

type Strategy interface {
	Scale() Scale
	Classify(score, max int) RiskLevel
}

type AbsoluteStrategy struct {
	scale Scale
	bands []Band
}

func NewAbsolute(scale Scale, bands []Band) (*AbsoluteStrategy, error) {
	sorted, err := sortBands(bands)
	if err != nil {
		return nil, err
	}
	return &AbsoluteStrategy{scale: scale, bands: sorted}, nil
}

func (s *AbsoluteStrategy) Scale() Scale { return s.scale }

func (s *AbsoluteStrategy) Classify(score, _ int) RiskLevel {
	return pick(s.bands, float64(score))
}

type PercentageStrategy struct {
	scale Scale
	bands []Band
}

func NewPercentage(scale Scale, bands []Band) (*PercentageStrategy, error) {
	sorted, err := sortBands(bands)
	if err != nil {
		return nil, err
	}
	for _, b := range sorted {
		if b.Min < 0 || b.Min > 100 {
			return nil, fmt.Errorf("percentage band %s out of range: %v", b.Level, b.Min)
		}
	}
	return &PercentageStrategy{scale: scale, bands: sorted}, nil
}

func (s *PercentageStrategy) Scale() Scale { return s.scale }

func (s *PercentageStrategy) Classify(score, max int) RiskLevel {
	if max <= 0 {
		return LevelSafe
	}
	return pick(s.bands, Percent(score, max))
}

// Classifier dispatches to the strategy registered for a declared scale.
type Classifier struct {
	strategies map[Scale]Strategy
}

func NewClassifier(strategies ...Strategy) *Classifier {
	c := &Classifier{strategies: make(map[Scale]Strategy, len(strategies))}
	for _, s := range strategies {
		c.strategies[s.Scale()] = s
	}
	return c
}

func (c *Classifier) Classify(scale Scale, score, max int) (RiskLevel, error) {
	s, ok := c.strategies[scale]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownScale, scale)
	}
	return s.Classify(score, max), nil
}

func (c *Classifier) Has(scale Scale) bool {
	_, ok := c.strategies[scale]
	return ok
}

// DefaultAbsoluteBands are cutoffs on the raw aggregate score.
func DefaultAbsoluteBands() []Band {
	return []Band{
		{Level: LevelLow, Min: 15},
		{Level: LevelMedium, Min: 30},
		{Level: LevelHigh, Min: 50},
		{Level: LevelCritical, Min: 80},
	}
}

// DefaultPercentageBands are cutoffs on score as a percentage of max.
func DefaultPercentageBands() []Band {
	return []Band{
		{Level: LevelLow, Min: 15},
		{Level: LevelMedium, Min: 30},
		{Level: LevelHigh, Min: 50},
		{Level: LevelCritical, Min: 75},
	}
}

// DefaultGateBands classify a known-threat match on the gate's own cap.
func DefaultGateBands() []Band {
	return []Band{
		{Level: LevelLow, Min: 1},
		{Level: LevelMedium, Min: 30},
		{Level: LevelHigh, Min: 60},
		{Level: LevelCritical, Min: 90},
	}
}

// DefaultClassifier registers all three scales with the default bands.
func DefaultClassifier() *Classifier {
	abs, _ := NewAbsolute(ScaleAbsolute, DefaultAbsoluteBands())
	pct, _ := NewPercentage(ScalePercentage, DefaultPercentageBands())
	gate, _ := NewPercentage(ScaleGate, DefaultGateBands())
	return NewClassifier(abs, pct, gate)
}

func sortBands(bands []Band) ([]Band, error) {
	out := make([]Band, 0, len(bands))
	seen := map[RiskLevel]bool{}
	for _, b := range bands {
		if b.Level.Rank() < 0 {
			return nil, fmt.Errorf("unknown risk level %q in band", b.Level)
		}
		if seen[b.Level] {
			return nil, fmt.Errorf("duplicate band for %s", b.Level)
		}
		seen[b.Level] = true
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Level.Rank() > out[j].Level.Rank() })
	for i := 1; i < len(out); i++ {
		if out[i].Min > out[i-1].Min {
			return nil, fmt.Errorf("band %s (min %v) exceeds higher band %s (min %v)", out[i].Level, out[i].Min, out[i-1].Level, out[i-1].Min)
		}
	}
	return out, nil
}

func pick(sorted []Band, value float64) RiskLevel {
	for _, b := range sorted {
		if value >= b.Min {
			return b.Level
		}
	}
	return LevelSafe
}
