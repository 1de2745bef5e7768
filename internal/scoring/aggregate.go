package scoring

// Entry is one collected category: its capped score and its cap.
type Entry struct {
	Score    int
	MaxScore int
}

type Totals struct {
	Score             int     `json:"score"`
	MaxScore          int     `json:"max_score"`
	AttemptedMaxScore int     `json:"attempted_max_score"`
	Percentage        float64 `json:"percentage"`
}

// Aggregate sums collected scores and caps. Categories are already capped by
// their analyzers, so nothing is renormalised here. attemptedMax is the sum of
// caps of every analyzer that was launched, including ones that failed.
func Aggregate(entries []Entry, attemptedMax int) Totals {
	totals := Totals{AttemptedMaxScore: attemptedMax}
	for _, e := range entries {
		totals.Score += e.Score
		totals.MaxScore += e.MaxScore
	}
	if totals.AttemptedMaxScore < totals.MaxScore {
		totals.AttemptedMaxScore = totals.MaxScore
	}
	totals.Percentage = Percent(totals.Score, totals.MaxScore)
	return totals
}

func Percent(score, max int) float64 {
	if max <= 0 {
		return 0
	}
	return float64(score) * 100 / float64(max)
}
