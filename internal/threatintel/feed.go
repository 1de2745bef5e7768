package threatintel

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"net"
	"regexp"
	"strings"

	"github.com/Elara-Tanmoy/elara-mvp-final-sub011/internal/scanner"
)

type Format string

const (
	// FormatLines is one indicator per line; the type is inferred. Hosts
	// files ("0.0.0.0 bad.example") are accepted.
	FormatLines Format = "lines"
	// FormatCSV has a header row with type, value and optional severity
	// columns.
	FormatCSV Format = "csv"
)

var sha256Pattern = regexp.MustCompile(`^[a-fA-F0-9]{64}$`)

// ParseFeed reads indicators from r. Unparseable lines are skipped.
func ParseFeed(r io.Reader, format Format, source string, severity scanner.Severity) ([]Indicator, error) {
	if severity.Rank() < 0 {
		severity = scanner.SeverityHigh
	}
	switch format {
	case FormatLines, "":
		return parseLines(r, source, severity)
	case FormatCSV:
		return parseCSV(r, source, severity)
	default:
		return nil, fmt.Errorf("unknown feed format %q", format)
	}
}

func parseLines(r io.Reader, source string, severity scanner.Severity) ([]Indicator, error) {
	var out []Indicator
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "!") {
			continue
		}
		if i := strings.Index(line, " #"); i >= 0 {
			line = strings.TrimSpace(line[:i])
		}
		fields := strings.Fields(line)
		value := fields[0]
		if len(fields) >= 2 && isSinkhole(fields[0]) {
			value = fields[1]
		}
		t, ok := inferType(value)
		if !ok {
			continue
		}
		out = append(out, Indicator{Type: t, Value: value, Severity: severity, Source: source})
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read feed %s: %w", source, err)
	}
	return out, nil
}

func parseCSV(r io.Reader, source string, severity scanner.Severity) ([]Indicator, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.Comment = '#'
	cr.TrimLeadingSpace = true
	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read feed %s header: %w", source, err)
	}
	col := map[string]int{}
	for i, h := range header {
		col[strings.ToLower(strings.TrimSpace(h))] = i
	}
	valueCol, ok := col["value"]
	if !ok {
		return nil, fmt.Errorf("feed %s: csv header needs a value column", source)
	}
	typeCol, hasType := col["type"]
	sevCol, hasSev := col["severity"]

	var out []Indicator
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read feed %s: %w", source, err)
		}
		if valueCol >= len(rec) {
			continue
		}
		ind := Indicator{Value: strings.TrimSpace(rec[valueCol]), Severity: severity, Source: source}
		if hasType && typeCol < len(rec) && rec[typeCol] != "" {
			ind.Type = IndicatorType(strings.ToLower(strings.TrimSpace(rec[typeCol])))
		} else if t, ok := inferType(ind.Value); ok {
			ind.Type = t
		}
		if hasSev && sevCol < len(rec) {
			if s := scanner.Severity(strings.ToLower(strings.TrimSpace(rec[sevCol]))); s.Rank() >= 0 {
				ind.Severity = s
			}
		}
		if ind.Value == "" || ind.Type == "" {
			continue
		}
		out = append(out, ind)
	}
	return out, nil
}

func inferType(value string) (IndicatorType, bool) {
	switch {
	case strings.Contains(value, "://"):
		return TypeURL, true
	case sha256Pattern.MatchString(value):
		return TypeSHA256, true
	case net.ParseIP(value) != nil:
		return TypeIP, true
	case strings.Contains(value, ".") && !strings.ContainsAny(value, "/ @"):
		return TypeDomain, true
	}
	return "", false
}

func isSinkhole(field string) bool {
	return field == "0.0.0.0" || field == "127.0.0.1" || field == "::"
}
