package scoring

import (
	"fmt"
	"strings"
)

type RiskLevel string

const (
	LevelSafe     RiskLevel = "safe"
	LevelLow      RiskLevel = "low"
	LevelMedium   RiskLevel = "medium"
	LevelHigh     RiskLevel = "high"
	LevelCritical RiskLevel = "critical"
)

var levelRank = map[RiskLevel]int{
	LevelSafe:     0,
	LevelLow:      1,
	LevelMedium:   2,
	LevelHigh:     3,
	LevelCritical: 4,
}

// Rank orders levels from safe (0) to critical (4). Unknown levels rank -1.
func (l RiskLevel) Rank() int {
	if r, ok := levelRank[l]; ok {
		return r
	}
	return -1
}

func (l RiskLevel) AtLeast(other RiskLevel) bool {
	return l.Rank() >= other.Rank()
}

func ParseRiskLevel(value string) (RiskLevel, error) {
	level := RiskLevel(strings.ToLower(strings.TrimSpace(value)))
	if level.Rank() < 0 {
		return "", fmt.Errorf("unknown risk level %q", value)
	}
	return level, nil
}

// Levels lists all levels from lowest to highest.
func Levels() []RiskLevel {
	return []RiskLevel{LevelSafe, LevelLow, LevelMedium, LevelHigh, LevelCritical}
}
