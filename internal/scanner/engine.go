package scanner

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Elara-Tanmoy/elara-mvp-final-sub011/internal/scoring"
)

const tracerName = "github.com/Elara-Tanmoy/elara-mvp-final-sub011/internal/scanner"

type Options struct {
	GateTimeout     time.Duration
	AnalyzerTimeout time.Duration
	BatchTimeout    time.Duration
	PrepareTimeout  time.Duration
	// Scale is the initial scale aggregate (non short-circuited) results
	// are classified under; SetScoring replaces it. Gate short-circuits
	// always use scoring.ScaleGate.
	Scale scoring.Scale
}

func DefaultOptions() Options {
	return Options{
		GateTimeout:     3 * time.Second,
		AnalyzerTimeout: 8 * time.Second,
		BatchTimeout:    30 * time.Second,
		PrepareTimeout:  10 * time.Second,
		Scale:           scoring.ScaleAbsolute,
	}
}

func (o Options) withDefaults() Options {
	def := DefaultOptions()
	if o.GateTimeout <= 0 {
		o.GateTimeout = def.GateTimeout
	}
	if o.AnalyzerTimeout <= 0 {
		o.AnalyzerTimeout = def.AnalyzerTimeout
	}
	if o.BatchTimeout <= 0 {
		o.BatchTimeout = def.BatchTimeout
	}
	if o.PrepareTimeout <= 0 {
		o.PrepareTimeout = def.PrepareTimeout
	}
	if o.Scale == "" {
		o.Scale = def.Scale
	}
	return o
}

// Engine coordinates one scan at a time per call and keeps no per-scan state,
// so Scan may be called concurrently.
type Engine struct {
	registry   *Registry
	rules      atomic.Pointer[riskRules]
	opts       Options
	synth      Synthesizer
	extractor  Extractor
	parser     ConversationParser
	observers  observers
	tracer     trace.Tracer
}

// riskRules pairs the bands with the aggregate scale so a reload swaps both
// at once.
type riskRules struct {
	classifier *scoring.Classifier
	scale      scoring.Scale
}

type EngineOption func(*Engine)

func WithSynthesizer(s Synthesizer) EngineOption {
	return func(e *Engine) { e.synth = s }
}

func WithExtractor(x Extractor) EngineOption {
	return func(e *Engine) { e.extractor = x }
}

func WithParser(p ConversationParser) EngineOption {
	return func(e *Engine) { e.parser = p }
}

func WithObserver(o Observer) EngineOption {
	return func(e *Engine) {
		if o != nil {
			e.observers = append(e.observers, o)
		}
	}
}

func NewEngine(registry *Registry, classifier *scoring.Classifier, opts Options, options ...EngineOption) (*Engine, error) {
	if registry == nil {
		return nil, fmt.Errorf("registry is required")
	}
	e := &Engine{
		registry:  registry,
		opts:      opts.withDefaults(),
		extractor: PlainTextExtractor{},
		parser:    LineParser{},
		tracer:    otel.Tracer(tracerName),
	}
	for _, opt := range options {
		opt(e)
	}
	if err := e.SetScoring(classifier, e.opts.Scale); err != nil {
		return nil, err
	}
	return e, nil
}

// SetClassifier swaps the risk bands used by later scans and keeps the
// current aggregate scale.
func (e *Engine) SetClassifier(c *scoring.Classifier) error {
	return e.SetScoring(c, e.Scale())
}

// SetScoring swaps the risk bands and the aggregate scale used by later
// scans. Scans already running keep the pair they started with.
func (e *Engine) SetScoring(c *scoring.Classifier, scale scoring.Scale) error {
	if c == nil {
		return fmt.Errorf("classifier is required")
	}
	switch scale {
	case scoring.ScaleAbsolute, scoring.ScalePercentage:
	default:
		return fmt.Errorf("%w: %q cannot classify aggregate results", scoring.ErrUnknownScale, scale)
	}
	for _, s := range []scoring.Scale{scale, scoring.ScaleGate} {
		if !c.Has(s) {
			return fmt.Errorf("%w: classifier lacks %q", scoring.ErrUnknownScale, s)
		}
	}
	e.rules.Store(&riskRules{classifier: c, scale: scale})
	return nil
}

// Scale reports the scale aggregate results are currently classified under.
func (e *Engine) Scale() scoring.Scale {
	if r := e.rules.Load(); r != nil {
		return r.scale
	}
	return e.opts.Scale
}

func (e *Engine) Options() Options { return e.opts }

// Scan assesses one artifact. File artifacts are prepared in place (Text and
// Conversation are filled) before any analyzer sees them. The only errors
// returned are contract violations; analyzer failures are recorded in the
// result.
func (e *Engine) Scan(ctx context.Context, a *Artifact) (*ScanResult, error) {
	if a == nil {
		return nil, fmt.Errorf("%w: artifact is nil", ErrInvalidArtifact)
	}
	if err := a.Validate(); err != nil {
		return nil, err
	}
	rules := e.rules.Load()

	result := &ScanResult{ID: uuid.NewString(), StartedAt: time.Now().UTC()}
	ctx, span := e.tracer.Start(ctx, "scanner.Scan", trace.WithAttributes(
		attribute.String("scan.id", result.ID),
		attribute.String("artifact.kind", string(a.Kind)),
	))
	defer span.End()

	if a.Kind == KindFile {
		e.prepare(ctx, a)
	}
	result.Artifact = a.Ref()
	snap := e.registry.Snapshot()
	ev := func(evt Event) {
		evt.ScanID = result.ID
		evt.Kind = result.Artifact.Kind
		e.observers.publish(evt)
	}
	ev(Event{Type: EventPhase, Phase: PhaseIdle})

	var (
		collected []CategoryResult
		failures  []Failure
		attempted int
	)

	if snap.Gate != nil && snap.Gate.Accepts(a) {
		ev(Event{Type: EventPhase, Phase: PhaseGateRunning})
		attempted += snap.Gate.MaxScore()
		out := e.runAnalyzer(ctx, snap.Gate, a, e.opts.GateTimeout)
		e.report(ev, out)
		switch {
		case out.failure != nil:
			failures = append(failures, *out.failure)
		case out.result.Score > 0:
			ev(Event{Type: EventPhase, Phase: PhaseShortCircuit})
			span.SetAttributes(attribute.Bool("scan.short_circuit", true))
			return e.finishGate(ctx, a, result, out.result, failures, rules.classifier, ev)
		default:
			collected = append(collected, *out.result)
		}
	}

	eligible := make([]Analyzer, 0, len(snap.Analyzers))
	for _, an := range snap.Analyzers {
		if an.Accepts(a) {
			eligible = append(eligible, an)
			attempted += an.MaxScore()
		}
	}

	ev(Event{Type: EventPhase, Phase: PhaseFanOut})
	outcomes, timedOut := e.fanOut(ctx, a, eligible)
	for i, out := range outcomes {
		if out == nil {
			failures = append(failures, Failure{Category: eligible[i].Category(), Reason: FailureAbandoned, Error: "batch deadline exceeded"})
			ev(Event{Type: EventAnalyzerFailed, Category: eligible[i].Category(), Reason: FailureAbandoned})
			continue
		}
		e.report(ev, *out)
		if out.failure != nil {
			failures = append(failures, *out.failure)
			continue
		}
		collected = append(collected, *out.result)
	}
	if timedOut {
		result.TimedOut = true
		ev(Event{Type: EventPhase, Phase: PhaseTimedOut})
		span.AddEvent("batch deadline exceeded")
	}

	ev(Event{Type: EventPhase, Phase: PhaseAggregating})
	entries := make([]scoring.Entry, 0, len(collected))
	for _, c := range collected {
		entries = append(entries, scoring.Entry{Score: c.Score, MaxScore: c.MaxScore})
	}
	totals := scoring.Aggregate(entries, attempted)
	level, err := rules.classifier.Classify(rules.scale, totals.Score, totals.MaxScore)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "classify")
		return nil, err
	}
	result.Categories = collected
	result.Failures = failures
	result.TotalScore = totals.Score
	result.MaxScore = totals.MaxScore
	result.AttemptedMaxScore = totals.AttemptedMaxScore
	result.Percentage = totals.Percentage
	result.Scale = rules.scale
	result.RiskLevel = level

	if e.synth != nil {
		ev(Event{Type: EventPhase, Phase: PhaseSynthesizing})
		result.Verdict = e.synth.Synthesize(ctx, a, result)
	}
	e.finish(result, span, ev)
	return result, nil
}

func (e *Engine) finishGate(ctx context.Context, a *Artifact, result *ScanResult, gate *CategoryResult, failures []Failure, classifier *scoring.Classifier, ev func(Event)) (*ScanResult, error) {
	level, err := classifier.Classify(scoring.ScaleGate, gate.Score, gate.MaxScore)
	if err != nil {
		return nil, err
	}
	result.Categories = []CategoryResult{*gate}
	result.Failures = failures
	result.TotalScore = gate.Score
	result.MaxScore = gate.MaxScore
	result.AttemptedMaxScore = gate.MaxScore
	result.Percentage = scoring.Percent(gate.Score, gate.MaxScore)
	result.Scale = scoring.ScaleGate
	result.RiskLevel = level
	result.ShortCircuited = true
	if e.synth != nil {
		result.Verdict = e.synth.FromGate(a, result)
	}
	e.finish(result, trace.SpanFromContext(ctx), ev)
	return result, nil
}

func (e *Engine) finish(result *ScanResult, span trace.Span, ev func(Event)) {
	result.FinishedAt = time.Now().UTC()
	result.Duration = result.FinishedAt.Sub(result.StartedAt)
	span.SetAttributes(
		attribute.Int("scan.score", result.TotalScore),
		attribute.Int("scan.max_score", result.MaxScore),
		attribute.String("scan.risk_level", string(result.RiskLevel)),
		attribute.Int("scan.failures", len(result.Failures)),
	)
	ev(Event{Type: EventPhase, Phase: PhaseDone})
	ev(Event{
		Type:     EventScanDone,
		Phase:    PhaseDone,
		Score:    result.TotalScore,
		MaxScore: result.MaxScore,
		Level:    result.RiskLevel,
		Elapsed:  result.Duration,
	})
}

func (e *Engine) report(ev func(Event), out outcome) {
	if out.failure != nil {
		ev(Event{Type: EventAnalyzerFailed, Category: out.failure.Category, Reason: out.failure.Reason, Err: out.failure.Error, Elapsed: out.elapsed})
		return
	}
	ev(Event{Type: EventAnalyzerDone, Category: out.result.Category, Score: out.result.Score, MaxScore: out.result.MaxScore, Elapsed: out.elapsed})
}

// fanOut runs every analyzer concurrently and returns outcomes in input
// order. A nil entry means the analyzer was still running when the batch
// deadline passed; its goroutine is abandoned and its late send lands in the
// buffered channel.
func (e *Engine) fanOut(ctx context.Context, a *Artifact, analyzers []Analyzer) ([]*outcome, bool) {
	slots := make([]*outcome, len(analyzers))
	if len(analyzers) == 0 {
		return slots, false
	}
	if ctx.Err() != nil {
		return slots, true
	}
	batchCtx, cancel := context.WithTimeout(ctx, e.opts.BatchTimeout)
	defer cancel()

	results := make(chan indexedOutcome, len(analyzers))
	for i, an := range analyzers {
		go func(i int, an Analyzer) {
			results <- indexedOutcome{index: i, out: e.runAnalyzer(batchCtx, an, a, e.opts.AnalyzerTimeout)}
		}(i, an)
	}

	pending := len(analyzers)
	for pending > 0 {
		select {
		case r := <-results:
			slots[r.index] = &r.out
			pending--
		case <-batchCtx.Done():
			drain(slots, results, pending)
			return slots, true
		}
	}
	// Analyzers can observe the deadline before the coordinator does.
	for _, out := range slots {
		if out.failure != nil && out.failure.Reason == FailureAbandoned {
			return slots, true
		}
	}
	return slots, false
}

// drain picks up outcomes that were already delivered when the deadline hit.
func drain(slots []*outcome, results <-chan indexedOutcome, pending int) {
	for ; pending > 0; pending-- {
		select {
		case r := <-results:
			slots[r.index] = &r.out
		default:
			return
		}
	}
}

type indexedOutcome struct {
	index int
	out   outcome
}

type outcome struct {
	result  *CategoryResult
	failure *Failure
	elapsed time.Duration
}

// runAnalyzer executes one analyzer under its own deadline. It returns as
// soon as the deadline passes even if the analyzer ignores ctx; a result that
// arrives after the deadline is discarded.
func (e *Engine) runAnalyzer(parent context.Context, an Analyzer, a *Artifact, timeout time.Duration) outcome {
	category := an.Category()
	runCtx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()
	runCtx, span := e.tracer.Start(runCtx, "scanner.analyzer", trace.WithAttributes(attribute.String("analyzer.category", category)))
	defer span.End()

	started := time.Now()
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- failed(category, FailurePanic, fmt.Sprintf("%v\n%s", r, debug.Stack()))
			}
		}()
		res, err := an.Analyze(runCtx, a)
		done <- e.check(an, res, err)
	}()

	var out outcome
	select {
	case out = <-done:
		if runCtx.Err() != nil {
			out = e.expired(parent, category, runCtx.Err())
		}
	case <-runCtx.Done():
		out = e.expired(parent, category, runCtx.Err())
	}
	out.elapsed = time.Since(started)
	if out.failure != nil {
		span.SetStatus(codes.Error, string(out.failure.Reason))
		span.SetAttributes(attribute.String("analyzer.failure", string(out.failure.Reason)))
	} else {
		span.SetAttributes(attribute.Int("analyzer.score", out.result.Score))
	}
	return out
}

func (e *Engine) expired(parent context.Context, category string, err error) outcome {
	if parent.Err() != nil {
		return failed(category, FailureAbandoned, parent.Err().Error())
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return failed(category, FailureTimeout, "analyzer deadline exceeded")
	}
	return failed(category, FailureAbandoned, err.Error())
}

// check enforces the CategoryResult contract on analyzer output.
func (e *Engine) check(an Analyzer, res *CategoryResult, err error) outcome {
	category := an.Category()
	switch {
	case err != nil:
		return failed(category, FailureError, err.Error())
	case res == nil:
		return failed(category, FailureError, "analyzer returned no result")
	case res.Category != category:
		return failed(category, FailureError, fmt.Sprintf("result category %q does not match analyzer", res.Category))
	case res.Score < 0 || res.Score > res.MaxScore:
		return failed(category, FailureError, fmt.Sprintf("score %d outside [0, %d]", res.Score, res.MaxScore))
	case res.MaxScore != an.MaxScore():
		return failed(category, FailureError, fmt.Sprintf("max score %d differs from declared %d", res.MaxScore, an.MaxScore()))
	}
	return outcome{result: res}
}

func failed(category string, reason FailureReason, msg string) outcome {
	return outcome{failure: &Failure{Category: category, Reason: reason, Error: msg}}
}

// prepare extracts text and parses a conversation from file content. The
// artifact is only written from this goroutine.
func (e *Engine) prepare(ctx context.Context, a *Artifact) {
	if a.File == nil || a.Text != "" || e.extractor == nil {
		return
	}
	prepCtx, cancel := context.WithTimeout(ctx, e.opts.PrepareTimeout)
	defer cancel()

	type extracted struct {
		text       string
		confidence float64
	}
	done := make(chan extracted, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- extracted{}
			}
		}()
		text, conf := e.extractor.Extract(prepCtx, a.File.Data, a.File.MIMEType)
		done <- extracted{text: text, confidence: conf}
	}()

	select {
	case got := <-done:
		a.Text, a.TextConfidence = got.text, got.confidence
	case <-prepCtx.Done():
		return
	}
	if a.Text != "" && e.parser != nil {
		conv := e.parser.Parse(a.Text)
		a.Conversation = &conv
	}
}
