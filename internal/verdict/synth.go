// Package verdict writes the human-readable verdict for a scan: one narrator
// call when available, deterministic templates for anything it cannot
// provide.
package verdict

import (
	"context"
	"strings"
	"text/template"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/Elara-Tanmoy/elara-mvp-final-sub011/internal/logging"
	"github.com/Elara-Tanmoy/elara-mvp-final-sub011/internal/scanner"
)

const (
	SourceNarrator = "narrator"
	SourceTemplate = "template"
	SourceThreat   = "threat_template"
)

var promptTemplate = template.Must(template.New("prompt").Parse(`A {{.Kind}} was scanned for scam and phishing risk.
Target: {{.Target}}
Risk level: {{.Level}} ({{.Score}} of {{.Max}} points)
{{- if .Findings}}
Findings:
{{- range .Findings}}
- [{{.Severity}}] {{.Category}}: {{.Message}} (+{{.Points}})
{{- end}}
{{- end}}
{{- if .Unassessed}}
Not assessed: {{.Unassessed}}
{{- end}}

Write:
SUMMARY: two sentences for a non-technical reader.
TECHNICAL: the evidence in one short paragraph.
RECOMMENDATION: what the reader should do now.
SAFETY TIPS: three short bullet points.
`))

type promptData struct {
	Kind       scanner.ArtifactKind
	Target     string
	Level      string
	Score      int
	Max        int
	Findings   []scanner.Finding
	Unassessed string
}

type Options struct {
	// Timeout bounds the narrator call. Keep it below the caller's budget.
	Timeout time.Duration
	// RatePerSecond and Burst size the narrator token bucket. Zero disables
	// limiting.
	RatePerSecond float64
	Burst         int
}

// Synthesizer implements scanner.Synthesizer.
type Synthesizer struct {
	narrator Narrator
	opts     Options
	limiter  *rate.Limiter
	logger   *logging.Logger
	tracer   trace.Tracer
}

func New(narrator Narrator, opts Options, logger *logging.Logger) *Synthesizer {
	if opts.Timeout <= 0 {
		opts.Timeout = 6 * time.Second
	}
	if logger == nil {
		logger = logging.Discard()
	}
	s := &Synthesizer{
		narrator: narrator,
		opts:     opts,
		logger:   logger,
		tracer:   otel.Tracer("github.com/Elara-Tanmoy/elara-mvp-final-sub011/internal/verdict"),
	}
	if opts.RatePerSecond > 0 {
		burst := opts.Burst
		if burst <= 0 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(opts.RatePerSecond), burst)
	}
	return s
}

// Synthesize asks the narrator once and fills every missing or malformed
// section from templates keyed by risk level and artifact kind.
func (s *Synthesizer) Synthesize(ctx context.Context, a *scanner.Artifact, result *scanner.ScanResult) *scanner.Verdict {
	kind := a.Presentation()
	sections := s.narrate(ctx, a, result)

	v := &scanner.Verdict{Source: SourceTemplate}
	fb := fallbackFor(result.RiskLevel, kind)
	use := func(sec section, fallbackText string) string {
		if text, ok := sections[sec]; ok {
			v.Source = SourceNarrator
			return text
		}
		v.Fallback = append(v.Fallback, string(sec))
		return fallbackText
	}
	v.Simple = use(sectionSummary, fb.summary)
	v.Technical = use(sectionTechnical, technicalSummary(result))
	v.Recommendation = use(sectionRecommendation, fb.recommendation)
	if text, ok := sections[sectionTips]; ok && len(parseTips(text)) > 0 {
		v.Source = SourceNarrator
		v.SafetyTips = parseTips(text)
	} else {
		v.Fallback = append(v.Fallback, string(sectionTips))
		v.SafetyTips = tipsFor(result.RiskLevel, kind)
	}
	if v.Source == SourceTemplate {
		v.Fallback = nil
	}
	return v
}

// FromGate builds the verdict for a known-threat short circuit without
// calling the narrator.
func (s *Synthesizer) FromGate(a *scanner.Artifact, result *scanner.ScanResult) *scanner.Verdict {
	severity := scanner.SeverityHigh
	if len(result.Categories) > 0 {
		severity = result.Categories[0].MaxSeverity()
	}
	tpl, ok := gateTemplates[severity]
	if !ok {
		tpl = gateTemplates[scanner.SeverityHigh]
	}
	return &scanner.Verdict{
		Simple:         tpl.summary,
		Technical:      technicalSummary(result),
		Recommendation: tpl.recommendation,
		SafetyTips:     tipsFor(result.RiskLevel, a.Presentation()),
		Source:         SourceThreat,
	}
}

func (s *Synthesizer) narrate(ctx context.Context, a *scanner.Artifact, result *scanner.ScanResult) map[section]string {
	if s.narrator == nil {
		return nil
	}
	if s.limiter != nil && !s.limiter.Allow() {
		s.logger.Debug("narrator rate limited", logging.F("scan_id", result.ID))
		return nil
	}
	prompt, err := buildPrompt(a, result)
	if err != nil {
		s.logger.Warn("build narrator prompt failed", logging.F("error", err))
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
	defer cancel()
	ctx, span := s.tracer.Start(ctx, "verdict.narrate", trace.WithAttributes(attribute.String("scan.id", result.ID)))
	defer span.End()

	type reply struct {
		text string
		err  error
	}
	done := make(chan reply, 1)
	go func() {
		text, err := s.narrator.Query(ctx, prompt)
		done <- reply{text: text, err: err}
	}()
	var r reply
	select {
	case r = <-done:
	case <-ctx.Done():
		r.err = ctx.Err()
	}
	if r.err != nil {
		span.RecordError(r.err)
		span.SetStatus(codes.Error, "narrator")
		s.logger.Warn("narrator unavailable, using templates", logging.F("scan_id", result.ID), logging.F("error", r.err))
		return nil
	}
	sections := parseSections(r.text)
	span.SetAttributes(attribute.Int("verdict.sections", len(sections)))
	return sections
}

func buildPrompt(a *scanner.Artifact, result *scanner.ScanResult) (string, error) {
	data := promptData{
		Kind:   a.Presentation(),
		Target: result.Artifact.Target,
		Level:  string(result.RiskLevel),
		Score:  result.TotalScore,
		Max:    result.MaxScore,
	}
	for _, c := range result.Categories {
		for _, f := range c.Findings {
			if f.Points > 0 {
				data.Findings = append(data.Findings, f)
			}
		}
	}
	var names []string
	for _, f := range result.Failures {
		names = append(names, f.Category)
	}
	data.Unassessed = strings.Join(names, ", ")

	var sb strings.Builder
	if err := promptTemplate.Execute(&sb, data); err != nil {
		return "", err
	}
	return sb.String(), nil
}
