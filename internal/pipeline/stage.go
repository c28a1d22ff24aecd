// Package pipeline runs a turn through an explicit graph of stages.
//
// Each stage declares the turn.State fields it reads and writes, receives a
// private copy of the state, and returns a partial turn.Update. The engine
// merges updates in order and follows the transition table to the next
// stage until it reaches End.
package pipeline

import (
	"context"
	"slices"

	"repairbot/internal/turn"
)

// Stage is one step of the pipeline.
type Stage interface {
	Name() string
	Reads() []turn.Field
	Writes() []turn.Field
	Run(ctx context.Context, st turn.State) (turn.Update, error)
}

// Finalizer is implemented by stages that must still run once the turn's
// context is done, such as recording usage and persisting the reply. They
// get a context that keeps the turn's values but is never cancelled.
type Finalizer interface {
	Finalizes() bool
}

// StageFunc adapts a function to the Stage interface.
type StageFunc struct {
	StageName   string
	ReadFields  []turn.Field
	WriteFields []turn.Field
	Fn          func(ctx context.Context, st turn.State) (turn.Update, error)
	// Final marks the stage as a Finalizer.
	Final bool
}

func (s StageFunc) Name() string         { return s.StageName }
func (s StageFunc) Reads() []turn.Field  { return s.ReadFields }
func (s StageFunc) Writes() []turn.Field { return s.WriteFields }
func (s StageFunc) Finalizes() bool      { return s.Final }

func (s StageFunc) Run(ctx context.Context, st turn.State) (turn.Update, error) {
	return s.Fn(ctx, st)
}

// undeclaredWrites returns the fields set by u that the stage did not
// declare.
func undeclaredWrites(s Stage, u turn.Update) []turn.Field {
	declared := s.Writes()
	var bad []turn.Field
	for _, f := range u.Fields() {
		if !slices.Contains(declared, f) {
			bad = append(bad, f)
		}
	}
	return bad
}

func isFinalizer(s Stage) bool {
	f, ok := s.(Finalizer)
	return ok && f.Finalizes()
}
