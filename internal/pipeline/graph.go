package pipeline

import (
	"errors"
	"fmt"
	"slices"

	"repairbot/internal/turn"
)

// End is the terminal pseudo-stage.
const End = "__end__"

// DefaultMaxSteps bounds a run so a mis-wired loop cannot spin forever.
const DefaultMaxSteps = 64

// EdgeKind distinguishes unconditional from predicate-selected transitions.
type EdgeKind string

const (
	EdgeDirect      EdgeKind = "direct"
	EdgeConditional EdgeKind = "conditional"
)

// Selector picks the next stage name from the merged state.
type Selector func(turn.State) string

// Transition is one row of the transition table.
type Transition struct {
	From       string
	Kind       EdgeKind
	Successors []string
}

type rule struct {
	kind       EdgeKind
	successors []string
	selector   Selector
}

// Builder assembles a Graph. Methods record the first error and Build
// reports every problem found.
type Builder struct {
	stages map[string]Stage
	order  []string
	entry  string
	rules  map[string]rule
	errs   []error
}

// NewBuilder returns an empty builder.
func NewBuilder() *Builder {
	return &Builder{
		stages: make(map[string]Stage),
		rules:  make(map[string]rule),
	}
}

// AddStage registers a stage under its Name.
func (b *Builder) AddStage(s Stage) *Builder {
	name := s.Name()
	switch {
	case name == "" || name == End:
		b.errs = append(b.errs, fmt.Errorf("invalid stage name %q", name))
	case b.stages[name] != nil:
		b.errs = append(b.errs, fmt.Errorf("duplicate stage %q", name))
	default:
		b.stages[name] = s
		b.order = append(b.order, name)
	}
	return b
}

// SetEntry sets the first stage.
func (b *Builder) SetEntry(name string) *Builder {
	b.entry = name
	return b
}

// AddEdge adds an unconditional transition.
func (b *Builder) AddEdge(from, to string) *Builder {
	return b.addRule(from, rule{kind: EdgeDirect, successors: []string{to}})
}

// AddConditionalEdges adds a transition whose target is chosen by sel from
// the fixed successor set. Selecting anything else fails the run.
func (b *Builder) AddConditionalEdges(from string, sel Selector, successors ...string) *Builder {
	if sel == nil || len(successors) == 0 {
		b.errs = append(b.errs, fmt.Errorf("conditional edge from %q needs a selector and successors", from))
		return b
	}
	return b.addRule(from, rule{kind: EdgeConditional, successors: slices.Clone(successors), selector: sel})
}

func (b *Builder) addRule(from string, r rule) *Builder {
	if _, dup := b.rules[from]; dup {
		b.errs = append(b.errs, fmt.Errorf("stage %q already has an outgoing rule", from))
		return b
	}
	b.rules[from] = r
	return b
}

// Option configures a built Graph.
type Option func(*Graph)

// WithMaxSteps overrides DefaultMaxSteps. Values < 1 are ignored.
func WithMaxSteps(n int) Option {
	return func(g *Graph) {
		if n > 0 {
			g.maxSteps = n
		}
	}
}

// WithObserver adds a stage observer.
func WithObserver(o Observer) Option {
	return func(g *Graph) {
		g.observers = append(g.observers, o)
	}
}

// Build validates the graph: entry set and registered, every edge endpoint
// registered, every stage with exactly one outgoing rule.
func (b *Builder) Build(opts ...Option) (*Graph, error) {
	errs := slices.Clone(b.errs)

	if b.entry == "" {
		errs = append(errs, errors.New("entry stage not set"))
	} else if b.stages[b.entry] == nil {
		errs = append(errs, fmt.Errorf("entry %q: %w", b.entry, ErrUnknownStage))
	}

	for _, name := range b.order {
		if _, ok := b.rules[name]; !ok {
			errs = append(errs, fmt.Errorf("stage %q has no outgoing rule", name))
		}
	}
	for from, r := range b.rules {
		if b.stages[from] == nil {
			errs = append(errs, fmt.Errorf("edge from %q: %w", from, ErrUnknownStage))
		}
		for _, to := range r.successors {
			if to != End && b.stages[to] == nil {
				errs = append(errs, fmt.Errorf("edge %q -> %q: %w", from, to, ErrUnknownStage))
			}
		}
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("%w: %w", ErrInvalidGraph, errors.Join(errs...))
	}

	g := &Graph{
		stages:   b.stages,
		order:    slices.Clone(b.order),
		entry:    b.entry,
		rules:    b.rules,
		maxSteps: DefaultMaxSteps,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// Graph is an immutable, validated stage graph. It is safe for concurrent
// runs; all per-turn data lives in the state passed to Run.
type Graph struct {
	stages    map[string]Stage
	order     []string
	entry     string
	rules     map[string]rule
	maxSteps  int
	observers []Observer
}

// Entry returns the first stage name.
func (g *Graph) Entry() string { return g.entry }

// Stage returns a registered stage by name.
func (g *Graph) Stage(name string) (Stage, bool) {
	s, ok := g.stages[name]
	return s, ok
}

// Transitions returns the transition table in stage registration order.
func (g *Graph) Transitions() []Transition {
	out := make([]Transition, 0, len(g.order))
	for _, name := range g.order {
		r := g.rules[name]
		out = append(out, Transition{From: name, Kind: r.kind, Successors: slices.Clone(r.successors)})
	}
	return out
}

// next resolves the successor of from given the merged state.
func (g *Graph) next(from string, st turn.State) (string, error) {
	r := g.rules[from]
	if r.kind == EdgeDirect {
		return r.successors[0], nil
	}
	to := r.selector(st)
	if !slices.Contains(r.successors, to) {
		return "", fmt.Errorf("selector chose %q, allowed %v: %w", to, r.successors, ErrUnknownStage)
	}
	return to, nil
}
