package main

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/fatih/color"

	"github.com/Elara-Tanmoy/elara-mvp-final-sub011/internal/scanner"
	"github.com/Elara-Tanmoy/elara-mvp-final-sub011/internal/scoring"
)

var levelColors = map[scoring.RiskLevel]*color.Color{
	scoring.LevelSafe:     color.New(color.FgGreen, color.Bold),
	scoring.LevelLow:      color.New(color.FgGreen),
	scoring.LevelMedium:   color.New(color.FgYellow, color.Bold),
	scoring.LevelHigh:     color.New(color.FgRed, color.Bold),
	scoring.LevelCritical: color.New(color.FgHiRed, color.Bold, color.ReverseVideo),
}

func levelColor(level scoring.RiskLevel) *color.Color {
	if c, ok := levelColors[level]; ok {
		return c
	}
	return color.New(color.Reset)
}

// renderResult prints a human-readable report: verdict first, then the
// categories that scored, then failures.
func renderResult(w io.Writer, res *scanner.ScanResult) {
	dim := color.New(color.Faint)
	bold := color.New(color.Bold)

	fmt.Fprintf(w, "%s %s\n", bold.Sprint("Target:"), res.Artifact.Target)
	fmt.Fprintf(w, "%s %s  %s\n",
		bold.Sprint("Risk:"),
		levelColor(res.RiskLevel).Sprint(strings.ToUpper(string(res.RiskLevel))),
		dim.Sprintf("score %d/%d (%.0f%%, %s scale)", res.TotalScore, res.MaxScore, res.Percentage, res.Scale),
	)
	if res.ShortCircuited {
		color.New(color.FgRed).Fprintln(w, "Matched a known threat; remaining checks were skipped.")
	}
	if res.TimedOut {
		color.New(color.FgYellow).Fprintln(w, "Some checks did not finish in time; the score covers completed checks only.")
	}

	if v := res.Verdict; v != nil {
		fmt.Fprintln(w)
		fmt.Fprintln(w, v.Simple)
		if v.Recommendation != "" {
			fmt.Fprintf(w, "\n%s %s\n", bold.Sprint("What to do:"), v.Recommendation)
		}
		for _, tip := range v.SafetyTips {
			fmt.Fprintf(w, "  - %s\n", tip)
		}
	}

	cats := append([]scanner.CategoryResult(nil), res.Categories...)
	sort.SliceStable(cats, func(i, j int) bool { return cats[i].Score > cats[j].Score })
	printed := false
	for _, cat := range cats {
		if cat.Score == 0 {
			continue
		}
		if !printed {
			fmt.Fprintf(w, "\n%s\n", bold.Sprint("Signals:"))
			printed = true
		}
		fmt.Fprintf(w, "  %s %s\n", cat.Category, dim.Sprintf("%d/%d", cat.Score, cat.MaxScore))
		for _, f := range cat.Findings {
			if f.Points == 0 {
				continue
			}
			fmt.Fprintf(w, "    %s %s\n", severityTag(f.Severity), f.Message)
		}
	}

	if len(res.Failures) > 0 {
		fmt.Fprintf(w, "\n%s\n", bold.Sprint("Unavailable checks:"))
		for _, f := range res.Failures {
			fmt.Fprintf(w, "  %s %s\n", f.Category, dim.Sprintf("(%s)", f.Reason))
		}
	}
	fmt.Fprintln(w, dim.Sprintf("\nscan %s in %s", res.ID, res.Duration.Round(time.Millisecond)))
}

func severityTag(s scanner.Severity) string {
	tag := "[" + string(s) + "]"
	switch s {
	case scanner.SeverityCritical, scanner.SeverityHigh:
		return color.RedString(tag)
	case scanner.SeverityMedium:
		return color.YellowString(tag)
	default:
		return color.CyanString(tag)
	}
}
