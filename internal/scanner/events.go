package scanner

import (
	"time"

	"github.com/Elara-Tanmoy/elara-mvp-final-sub011/internal/scoring"
)

type Phase string

const (
	PhaseIdle         Phase = "idle"
	PhaseGateRunning  Phase = "gate_running"
	PhaseShortCircuit Phase = "short_circuit"
	PhaseFanOut       Phase = "fan_out_running"
	PhaseAggregating  Phase = "aggregating"
	PhaseSynthesizing Phase = "synthesizing"
	PhaseDone         Phase = "done"
	PhaseTimedOut     Phase = "timed_out"
)

type EventType string

const (
	EventPhase          EventType = "phase"
	EventAnalyzerDone   EventType = "analyzer_done"
	EventAnalyzerFailed EventType = "analyzer_failed"
	EventScanDone       EventType = "scan_done"
)

// Event is published by the coordinator goroutine of one scan. Fields that do
// not apply to the event type are left zero.
type Event struct {
	Type     EventType
	ScanID   string
	Kind     ArtifactKind
	Phase    Phase
	Category string
	Score    int
	MaxScore int
	Reason   FailureReason
	Err      string
	Level    scoring.RiskLevel
	Elapsed  time.Duration
	At       time.Time
}

// Observer receives scan events. OnEvent runs on the scan's coordinator
// goroutine and must not block.
type Observer interface {
	OnEvent(Event)
}

type ObserverFunc func(Event)

func (f ObserverFunc) OnEvent(e Event) { f(e) }

type observers []Observer

func (o observers) publish(e Event) {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	for _, obs := range o {
		obs.OnEvent(e)
	}
}
