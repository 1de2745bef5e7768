package analyzers

import (
	"context"
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/net/idna"

	"github.com/Elara-Tanmoy/elara-mvp-final-sub011/internal/policy"
	"github.com/Elara-Tanmoy/elara-mvp-final-sub011/internal/scanner"
	"github.com/Elara-Tanmoy/elara-mvp-final-sub011/internal/similarity"
)

var leet = strings.NewReplacer("0", "o", "1", "l", "3", "e", "4", "a", "5", "s", "7", "t", "$", "s", "vv", "w", "rn", "m")

// BrandImpersonation detects hosts that contain or resemble a brand they do
// not belong to.
type BrandImpersonation struct {
	base
	namedHost
	policy *policy.Policy
}

func NewBrandImpersonation(p *policy.Policy) *BrandImpersonation {
	return &BrandImpersonation{base: base{category: CategoryBrand, max: 40}, policy: p}
}

func (bi *BrandImpersonation) Analyze(_ context.Context, a *scanner.Artifact) (*scanner.CategoryResult, error) {
	b := bi.builder()
	owner, owned := bi.policy.BrandFor(a.RegisteredDomain)
	labels := tokens(strings.TrimSuffix(a.Host, "."+tld(a.Host)))
	for _, brand := range bi.policy.Brands {
		if owned && owner.Name == brand.Name {
			continue
		}
		if token, ok := matchBrand(labels, brand); ok {
			b.Add(scanner.SeverityHigh, 25, fmt.Sprintf("host contains brand %q it does not belong to", brand.Name), map[string]interface{}{
				"brand": brand.Name, "token": token, "host": a.Host,
			})
			continue
		}
		if token, score, ok := bi.lookalike(labels, brand.Name); ok {
			b.Add(scanner.SeverityHigh, 30, fmt.Sprintf("host resembles brand %q", brand.Name), map[string]interface{}{
				"brand": brand.Name, "token": token, "similarity": score,
			})
		}
	}
	if owned {
		b.Info("domain belongs to "+owner.Name, map[string]interface{}{"domain": a.RegisteredDomain})
	}
	return b.Result(), nil
}

func matchBrand(tokens []string, brand policy.Brand) (string, bool) {
	for _, t := range tokens {
		if brand.Matches(t) {
			return t, true
		}
	}
	return "", false
}

// words splits s on anything that is not a letter or digit.
func words(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

func (bi *BrandImpersonation) lookalike(labels []string, brand string) (string, float64, bool) {
	for _, l := range labels {
		if l == brand {
			continue
		}
		if leet.Replace(l) == brand {
			return l, 1, true
		}
		if score := similarity.Ratio(l, brand); score > bi.policy.SimilarityThreshold {
			return l, score, true
		}
	}
	return "", 0, false
}

// HostingReputation flags free hosting and shortener domains.
type HostingReputation struct {
	base
	namedHost
	policy *policy.Policy
}

func NewHostingReputation(p *policy.Policy) *HostingReputation {
	return &HostingReputation{base: base{category: CategoryHosting, max: 25}, policy: p}
}

func (h *HostingReputation) Analyze(_ context.Context, a *scanner.Artifact) (*scanner.CategoryResult, error) {
	b := h.builder()
	provider := ""
	for _, fh := range h.policy.FreeHosting {
		if a.Host == fh || strings.HasSuffix(a.Host, "."+fh) {
			provider = fh
			break
		}
	}
	if provider != "" {
		b.Add(scanner.SeverityMedium, 15, "site is on free hosting", map[string]interface{}{"provider": provider})
		site := strings.TrimSuffix(a.Host, "."+provider)
		for _, brand := range h.policy.Brands {
			if _, ok := matchBrand(words(site), brand); ok {
				b.Add(scanner.SeverityHigh, 10, fmt.Sprintf("brand %q on free hosting", brand.Name), map[string]interface{}{"brand": brand.Name})
				break
			}
		}
	}
	for _, s := range h.policy.URLShorteners {
		if a.Host == s || a.RegisteredDomain == s {
			b.Add(scanner.SeverityLow, 5, "link shortener hides the destination", map[string]interface{}{"shortener": s})
			break
		}
	}
	return b.Result(), nil
}

var confusables = map[rune]rune{
	'а': 'a', 'е': 'e', 'о': 'o', 'р': 'p', 'с': 'c', 'х': 'x', 'у': 'y', 'і': 'i', 'ӏ': 'l', 'ј': 'j', 'ѕ': 's', 'ԁ': 'd',
	'α': 'a', 'ο': 'o', 'ν': 'v', 'ρ': 'p', 'τ': 't', 'ι': 'i', 'κ': 'k',
}

// IDNHomograph inspects punycode labels for mixed scripts and look-alike
// characters.
type IDNHomograph struct {
	base
	namedHost
	policy *policy.Policy
}

func NewIDNHomograph(p *policy.Policy) *IDNHomograph {
	return &IDNHomograph{base: base{category: CategoryIDNHomograph, max: 20}, policy: p}
}

func (h *IDNHomograph) Analyze(_ context.Context, a *scanner.Artifact) (*scanner.CategoryResult, error) {
	b := h.builder()
	for _, label := range strings.Split(a.Host, ".") {
		if !strings.HasPrefix(label, "xn--") {
			continue
		}
		decoded, err := idna.Punycode.ToUnicode(label)
		if err != nil {
			b.Add(scanner.SeverityMedium, 5, "malformed punycode label", map[string]interface{}{"label": label})
			continue
		}
		ev := map[string]interface{}{"label": label, "unicode": decoded}
		b.Add(scanner.SeverityLow, 5, "internationalised domain label", ev)
		if mixedScripts(decoded) {
			b.Add(scanner.SeverityHigh, 10, "label mixes Latin with look-alike scripts", ev)
		}
		skeleton := fold(decoded)
		for _, brand := range h.policy.Brands {
			if _, ok := matchBrand(words(skeleton), brand); ok {
				b.Add(scanner.SeverityCritical, 15, fmt.Sprintf("label spoofs brand %q with look-alike characters", brand.Name), ev)
				break
			}
		}
	}
	return b.Result(), nil
}

func mixedScripts(s string) bool {
	var latin, other bool
	for _, r := range s {
		switch {
		case unicode.Is(unicode.Latin, r):
			latin = true
		case unicode.Is(unicode.Cyrillic, r), unicode.Is(unicode.Greek, r):
			other = true
		}
	}
	return latin && other
}

func fold(s string) string {
	var sb strings.Builder
	for _, r := range s {
		if c, ok := confusables[r]; ok {
			r = c
		}
		sb.WriteRune(r)
	}
	return sb.String()
}
