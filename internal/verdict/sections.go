package verdict

import (
	"bufio"
	"strings"
)

type section string

const (
	sectionSummary        section = "summary"
	sectionTechnical      section = "technical"
	sectionRecommendation section = "recommendation"
	sectionTips           section = "safety_tips"
)

var allSections = []section{sectionSummary, sectionTechnical, sectionRecommendation, sectionTips}

var headerAliases = map[string]section{
	"summary":            sectionSummary,
	"simple":             sectionSummary,
	"simple explanation": sectionSummary,
	"verdict":            sectionSummary,
	"technical":          sectionTechnical,
	"technical details":  sectionTechnical,
	"technical analysis": sectionTechnical,
	"details":            sectionTechnical,
	"recommendation":     sectionRecommendation,
	"recommendations":    sectionRecommendation,
	"what to do":         sectionRecommendation,
	"safety tips":        sectionTips,
	"tips":               sectionTips,
	"how to stay safe":   sectionTips,
}

// parseSections splits narrator output on header lines such as "SUMMARY:",
// "## Technical details" or "**Recommendation**". Text on the header line
// after a colon belongs to the section. Each section opens once; a later line
// that looks like the header of an already opened section ("Details: ...")
// is body text of the current section. Empty sections are dropped.
func parseSections(text string) map[section]string {
	out := map[section]string{}
	opened := map[section]bool{}
	var (
		current section
		body    strings.Builder
	)
	flush := func() {
		if current != "" {
			if s := strings.TrimSpace(body.String()); s != "" {
				out[current] = s
			}
		}
		body.Reset()
	}
	sc := bufio.NewScanner(strings.NewReader(text))
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		line := sc.Text()
		if sec, rest, ok := header(line); ok && !opened[sec] {
			flush()
			opened[sec] = true
			current = sec
			body.WriteString(rest)
			body.WriteString("\n")
			continue
		}
		if current != "" {
			body.WriteString(line)
			body.WriteString("\n")
		}
	}
	flush()
	return out
}

func header(line string) (section, string, bool) {
	trimmed := strings.TrimSpace(line)
	trimmed = strings.TrimLeft(trimmed, "#* ")
	name, rest := trimmed, ""
	if i := strings.Index(trimmed, ":"); i >= 0 {
		name, rest = trimmed[:i], trimmed[i+1:]
	}
	name = strings.ToLower(strings.Trim(strings.TrimSpace(name), "*_ "))
	sec, ok := headerAliases[name]
	if !ok {
		return "", "", false
	}
	return sec, strings.TrimSpace(strings.TrimLeft(rest, "*_ ")), true
}

// parseTips reads a bullet or numbered list. Lines that are not list items
// are treated as one tip each.
func parseTips(text string) []string {
	var tips []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		line = strings.TrimLeft(line, "-*•")
		if i := strings.IndexAny(line, ".)"); i > 0 && i <= 3 && isDigits(line[:i]) {
			line = line[i+1:]
		}
		if line = strings.TrimSpace(line); line != "" {
			tips = append(tips, line)
		}
	}
	return tips
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}
