package scanner

import (
	"fmt"
	"sync"
)

// Registry holds the gate and the ordered analyzer set. Scans take a
// Snapshot, so a policy reload that calls Replace never affects a scan that
// is already running.
type Registry struct {
	mu        sync.RWMutex
	gate      Analyzer
	analyzers []Analyzer
	index     map[string]Analyzer
}

type Snapshot struct {
	Gate      Analyzer
	Analyzers []Analyzer
}

func NewRegistry() *Registry {
	return &Registry{index: make(map[string]Analyzer)}
}

// SetGate installs the priority gate. A nil gate disables short-circuiting.
func (r *Registry) SetGate(a Analyzer) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if a != nil {
		if a.Category() == "" {
			return fmt.Errorf("gate category is required")
		}
		if _, exists := r.index[a.Category()]; exists {
			return fmt.Errorf("analyzer %q already registered", a.Category())
		}
	}
	r.gate = a
	return nil
}

func (r *Registry) Register(a Analyzer) error {
	if a == nil {
		return fmt.Errorf("analyzer is nil")
	}
	name := a.Category()
	if name == "" {
		return fmt.Errorf("analyzer category is required")
	}
	if a.MaxScore() < 0 {
		return fmt.Errorf("analyzer %q has negative max score", name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.index[name]; exists || (r.gate != nil && r.gate.Category() == name) {
		return fmt.Errorf("analyzer %q already registered", name)
	}
	r.index[name] = a
	r.analyzers = append(r.analyzers, a)
	return nil
}

// Replace swaps the whole set atomically.
func (r *Registry) Replace(gate Analyzer, analyzers []Analyzer) error {
	next := NewRegistry()
	if err := next.SetGate(gate); err != nil {
		return err
	}
	for _, a := range analyzers {
		if err := next.Register(a); err != nil {
			return err
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.gate = next.gate
	r.analyzers = next.analyzers
	r.index = next.index
	return nil
}

func (r *Registry) Get(name string) (Analyzer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.gate != nil && r.gate.Category() == name {
		return r.gate, nil
	}
	a, ok := r.index[name]
	if !ok {
		return nil, fmt.Errorf("analyzer %q not found", name)
	}
	return a, nil
}

// List returns category names in registration order, gate first.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.analyzers)+1)
	if r.gate != nil {
		out = append(out, r.gate.Category())
	}
	for _, a := range r.analyzers {
		out = append(out, a.Category())
	}
	return out
}

func (r *Registry) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	analyzers := make([]Analyzer, len(r.analyzers))
	copy(analyzers, r.analyzers)
	return Snapshot{Gate: r.gate, Analyzers: analyzers}
}
