// Package policy holds the tunable scoring tables: brand lists, keyword sets,
// TLD and hosting lists, similarity threshold and risk bands. The engine and
// analyzers treat them as read-only data; a reload builds a new Policy.
package policy

import (
	"bytes"
	_ "embed"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/Elara-Tanmoy/elara-mvp-final-sub011/internal/scoring"
)

//go:embed default.yaml
var defaultPolicy []byte

type Policy struct {
	Version             string        `yaml:"version"`
	SimilarityThreshold float64       `yaml:"similarity_threshold"`
	AggregateScale      scoring.Scale `yaml:"aggregate_scale"`
	Bands               Bands         `yaml:"bands"`

	Brands               []Brand           `yaml:"brands"`
	SuspiciousTLDs       []string          `yaml:"suspicious_tlds"`
	TrustedTLDs          []string          `yaml:"trusted_tlds"`
	FreeHosting          []string          `yaml:"free_hosting"`
	URLShorteners        []string          `yaml:"url_shorteners"`
	PhishingPathKeywords []string          `yaml:"phishing_path_keywords"`
	SocialEngineering    SocialEngineering `yaml:"social_engineering"`
	Conversation         ConversationRules `yaml:"conversation"`
	Files                FileRules         `yaml:"files"`
}

type Bands struct {
	Absolute   []scoring.Band `yaml:"absolute"`
	Percentage []scoring.Band `yaml:"percentage"`
	Gate       []scoring.Band `yaml:"gate"`
}

type Brand struct {
	Name    string   `yaml:"name"`
	Domains []string `yaml:"domains"`
	// Match is "substring" (default) or "token". Brands that are also common
	// words ("apple", "chase") should use token so "pineapple" or
	// "purchase" do not count.
	Match string `yaml:"match,omitempty"`
}

const (
	MatchSubstring = "substring"
	MatchToken     = "token"
)

// minSubstringBrand is the shortest brand name matched inside a longer token.
const minSubstringBrand = 4

// Matches reports whether a single host label, path segment or word names
// the brand. In substring mode the brand must sit at the start or end of
// token ("paypalsecure", "securepaypal").
func (b Brand) Matches(token string) bool {
	if token == b.Name {
		return true
	}
	if b.Match == MatchToken || len(b.Name) < minSubstringBrand {
		return false
	}
	return strings.HasPrefix(token, b.Name) || strings.HasSuffix(token, b.Name)
}

type SocialEngineering struct {
	Urgency    []string `yaml:"urgency"`
	Credential []string `yaml:"credential"`
	Payment    []string `yaml:"payment"`
}

type ConversationRules struct {
	MoneyRequest   []string `yaml:"money_request"`
	GiftCard       []string `yaml:"gift_card"`
	PlatformSwitch []string `yaml:"platform_switch"`
	Impersonation  []string `yaml:"impersonation"`
}

type FileRules struct {
	ExecutableExtensions []string `yaml:"executable_extensions"`
	MacroExtensions      []string `yaml:"macro_extensions"`
	DocumentExtensions   []string `yaml:"document_extensions"`
}

// Default returns the embedded policy.
func Default() (*Policy, error) {
	p, err := Parse(defaultPolicy)
	if err != nil {
		return nil, fmt.Errorf("embedded policy: %w", err)
	}
	return p, nil
}

// Load reads a policy file. An empty path yields the embedded default.
func Load(path string) (*Policy, error) {
	if strings.TrimSpace(path) == "" {
		return Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read policy: %w", err)
	}
	p, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("policy %s: %w", path, err)
	}
	return p, nil
}

// Parse decodes YAML strictly, normalises list entries and validates.
func Parse(data []byte) (*Policy, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	var p Policy
	if err := dec.Decode(&p); err != nil {
		return nil, fmt.Errorf("decode policy: %w", err)
	}
	p.normalise()
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

func (p *Policy) Validate() error {
	var errs []string
	if p.SimilarityThreshold <= 0 || p.SimilarityThreshold > 1 {
		errs = append(errs, "similarity_threshold must be in (0, 1]")
	}
	switch p.AggregateScale {
	case scoring.ScaleAbsolute, scoring.ScalePercentage:
	default:
		errs = append(errs, fmt.Sprintf("aggregate_scale must be absolute or percentage, got %q", p.AggregateScale))
	}
	if len(p.Bands.Gate) == 0 {
		errs = append(errs, "bands.gate is required")
	}
	if _, err := p.Classifier(); err != nil {
		errs = append(errs, err.Error())
	}
	seen := map[string]bool{}
	for i, b := range p.Brands {
		if b.Name == "" {
			errs = append(errs, fmt.Sprintf("brands[%d].name is required", i))
			continue
		}
		if seen[b.Name] {
			errs = append(errs, fmt.Sprintf("brand %q listed twice", b.Name))
		}
		seen[b.Name] = true
		if len(b.Domains) == 0 {
			errs = append(errs, fmt.Sprintf("brand %q has no domains", b.Name))
		}
		switch b.Match {
		case MatchSubstring, MatchToken:
		default:
			errs = append(errs, fmt.Sprintf("brand %q match must be substring or token, got %q", b.Name, b.Match))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("policy validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

// Classifier builds the strategies declared by the bands. Empty band lists
// are skipped, except that the aggregate scale must be present.
func (p *Policy) Classifier() (*scoring.Classifier, error) {
	var strategies []scoring.Strategy
	if len(p.Bands.Absolute) > 0 {
		s, err := scoring.NewAbsolute(scoring.ScaleAbsolute, p.Bands.Absolute)
		if err != nil {
			return nil, fmt.Errorf("bands.absolute: %w", err)
		}
		strategies = append(strategies, s)
	}
	if len(p.Bands.Percentage) > 0 {
		s, err := scoring.NewPercentage(scoring.ScalePercentage, p.Bands.Percentage)
		if err != nil {
			return nil, fmt.Errorf("bands.percentage: %w", err)
		}
		strategies = append(strategies, s)
	}
	if len(p.Bands.Gate) > 0 {
		s, err := scoring.NewPercentage(scoring.ScaleGate, p.Bands.Gate)
		if err != nil {
			return nil, fmt.Errorf("bands.gate: %w", err)
		}
		strategies = append(strategies, s)
	}
	c := scoring.NewClassifier(strategies...)
	if !c.Has(p.AggregateScale) {
		return nil, fmt.Errorf("no bands for aggregate scale %q", p.AggregateScale)
	}
	return c, nil
}

// BrandFor returns the brand owning a registered domain, if any.
func (p *Policy) BrandFor(registered string) (Brand, bool) {
	for _, b := range p.Brands {
		for _, d := range b.Domains {
			if d == registered {
				return b, true
			}
		}
	}
	return Brand{}, false
}

func (p *Policy) normalise() {
	for i := range p.Brands {
		p.Brands[i].Name = lower(p.Brands[i].Name)
		p.Brands[i].Domains = lowerAll(p.Brands[i].Domains)
		p.Brands[i].Match = lower(p.Brands[i].Match)
		if p.Brands[i].Match == "" {
			p.Brands[i].Match = MatchSubstring
		}
	}
	p.SuspiciousTLDs = trimDots(lowerAll(p.SuspiciousTLDs))
	p.TrustedTLDs = trimDots(lowerAll(p.TrustedTLDs))
	p.FreeHosting = lowerAll(p.FreeHosting)
	p.URLShorteners = lowerAll(p.URLShorteners)
	p.PhishingPathKeywords = lowerAll(p.PhishingPathKeywords)
	p.SocialEngineering.Urgency = lowerAll(p.SocialEngineering.Urgency)
	p.SocialEngineering.Credential = lowerAll(p.SocialEngineering.Credential)
	p.SocialEngineering.Payment = lowerAll(p.SocialEngineering.Payment)
	p.Conversation.MoneyRequest = lowerAll(p.Conversation.MoneyRequest)
	p.Conversation.GiftCard = lowerAll(p.Conversation.GiftCard)
	p.Conversation.PlatformSwitch = lowerAll(p.Conversation.PlatformSwitch)
	p.Conversation.Impersonation = lowerAll(p.Conversation.Impersonation)
	p.Files.ExecutableExtensions = trimDots(lowerAll(p.Files.ExecutableExtensions))
	p.Files.MacroExtensions = trimDots(lowerAll(p.Files.MacroExtensions))
	p.Files.DocumentExtensions = trimDots(lowerAll(p.Files.DocumentExtensions))
	if p.AggregateScale == "" {
		p.AggregateScale = scoring.ScaleAbsolute
	}
}

func lower(s string) string { return strings.ToLower(strings.TrimSpace(s)) }

func lowerAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = lower(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func trimDots(in []string) []string {
	for i, s := range in {
		in[i] = strings.TrimPrefix(s, ".")
	}
	return in
}

// Set is a lookup over a normalised string list.
type Set map[string]struct{}

func NewSet(items []string) Set {
	s := make(Set, len(items))
	for _, item := range items {
		s[item] = struct{}{}
	}
	return s
}

func (s Set) Has(item string) bool {
	_, ok := s[item]
	return ok
}
