// Package threatintel keeps the known-bad indicator index behind the
// priority gate and the feed updater that refreshes it.
package threatintel

import (
	"context"
	"net"
	"net/url"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/Elara-Tanmoy/elara-mvp-final-sub011/internal/scanner"
)

type IndicatorType string

const (
	TypeDomain IndicatorType = "domain"
	TypeURL    IndicatorType = "url"
	TypeIP     IndicatorType = "ip"
	TypeSHA256 IndicatorType = "sha256"
)

type Indicator struct {
	Type     IndicatorType    `json:"type"`
	Value    string           `json:"value"`
	Severity scanner.Severity `json:"severity"`
	Source   string           `json:"source"`
}

// Match is the answer of a known-threat lookup.
type Match struct {
	IsThreat    bool             `json:"is_threat"`
	Indicators  []Indicator      `json:"indicators,omitempty"`
	MaxSeverity scanner.Severity `json:"max_severity,omitempty"`
}

// Lookup is what the gate analyzer consumes.
type Lookup interface {
	Check(ctx context.Context, a *scanner.Artifact) (Match, error)
}

// Index is an in-memory indicator set. Replace swaps the whole set so
// lookups never see a half-loaded feed.
type Index struct {
	mu      sync.RWMutex
	entries map[IndicatorType]map[string]Indicator
}

func NewIndex() *Index {
	return &Index{entries: emptyEntries()}
}

func emptyEntries() map[IndicatorType]map[string]Indicator {
	return map[IndicatorType]map[string]Indicator{
		TypeDomain: {},
		TypeURL:    {},
		TypeIP:     {},
		TypeSHA256: {},
	}
}

// Replace installs a new indicator set. Duplicate values keep the most
// severe entry.
func (x *Index) Replace(indicators []Indicator) {
	next := emptyEntries()
	for _, ind := range indicators {
		addTo(next, ind)
	}
	x.mu.Lock()
	x.entries = next
	x.mu.Unlock()
}

func (x *Index) Add(indicators ...Indicator) {
	x.mu.Lock()
	defer x.mu.Unlock()
	for _, ind := range indicators {
		addTo(x.entries, ind)
	}
}

func addTo(entries map[IndicatorType]map[string]Indicator, ind Indicator) {
	ind.Value = normaliseValue(ind.Type, ind.Value)
	bucket, ok := entries[ind.Type]
	if !ok || ind.Value == "" {
		return
	}
	if prev, exists := bucket[ind.Value]; exists && prev.Severity.Rank() >= ind.Severity.Rank() {
		return
	}
	bucket[ind.Value] = ind
}

func (x *Index) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	n := 0
	for _, bucket := range x.entries {
		n += len(bucket)
	}
	return n
}

// Check matches the artifact URL, its host and parent domains, an IP host,
// the file digest and any URLs found in extracted text.
func (x *Index) Check(ctx context.Context, a *scanner.Artifact) (Match, error) {
	if err := ctx.Err(); err != nil {
		return Match{}, err
	}
	x.mu.RLock()
	defer x.mu.RUnlock()

	seen := map[string]bool{}
	var hits []Indicator
	hit := func(t IndicatorType, value string) {
		ind, ok := x.entries[t][normaliseValue(t, value)]
		if !ok || seen[string(t)+"|"+ind.Value] {
			return
		}
		seen[string(t)+"|"+ind.Value] = true
		hits = append(hits, ind)
	}
	checkURL := func(u *url.URL) {
		hit(TypeURL, u.String())
		host := strings.ToLower(u.Hostname())
		if net.ParseIP(host) != nil {
			hit(TypeIP, host)
			return
		}
		for _, d := range parentDomains(host) {
			hit(TypeDomain, d)
		}
	}

	if a.URL != nil {
		checkURL(a.URL)
	}
	if a.File != nil && a.File.SHA256 != "" {
		hit(TypeSHA256, a.File.SHA256)
	}
	for _, raw := range ExtractURLs(a.Text) {
		if u, err := url.Parse(raw); err == nil && u.Host != "" {
			checkURL(u)
		}
	}

	m := Match{Indicators: hits, MaxSeverity: scanner.SeverityInfo}
	for _, ind := range hits {
		m.IsThreat = true
		if ind.Severity.Rank() > m.MaxSeverity.Rank() {
			m.MaxSeverity = ind.Severity
		}
	}
	sort.SliceStable(m.Indicators, func(i, j int) bool {
		return m.Indicators[i].Severity.Rank() > m.Indicators[j].Severity.Rank()
	})
	return m, nil
}

var urlPattern = regexp.MustCompile(`(?i)\bhttps?://[^\s<>"'()]+`)

// ExtractURLs returns http(s) URLs found in free text, trailing punctuation
// trimmed.
func ExtractURLs(text string) []string {
	if text == "" {
		return nil
	}
	found := urlPattern.FindAllString(text, -1)
	out := make([]string, 0, len(found))
	for _, f := range found {
		out = append(out, strings.TrimRight(f, ".,;:!?"))
	}
	return out
}

// parentDomains lists host and each parent down to two labels:
// a.b.example.com -> [a.b.example.com b.example.com example.com].
func parentDomains(host string) []string {
	host = strings.TrimSuffix(host, ".")
	labels := strings.Split(host, ".")
	var out []string
	for i := 0; i+2 <= len(labels); i++ {
		out = append(out, strings.Join(labels[i:], "."))
	}
	if len(out) == 0 && host != "" {
		out = append(out, host)
	}
	return out
}

func normaliseValue(t IndicatorType, value string) string {
	value = strings.TrimSpace(value)
	switch t {
	case TypeDomain, TypeIP, TypeSHA256:
		return strings.TrimSuffix(strings.ToLower(value), ".")
	case TypeURL:
		u, err := url.Parse(value)
		if err != nil || u.Host == "" {
			return ""
		}
		u.Scheme = strings.ToLower(u.Scheme)
		u.Host = strings.ToLower(u.Host)
		u.Fragment = ""
		if u.Path == "" {
			u.Path = "/"
		}
		return u.String()
	}
	return ""
}
