package pipeline

import (
	"errors"
	"fmt"

	"repairbot/internal/turn"
)

var (
	// ErrUnknownStage is returned when an edge or selector names a stage
	// that is not registered or not among its declared successors.
	ErrUnknownStage = errors.New("unknown stage")

	// ErrContractViolation is returned when a stage writes a field it did
	// not declare, or an assembly step runs before routing.
	ErrContractViolation = errors.New("stage contract violation")

	// ErrTooManySteps is returned when a run exceeds the step guard.
	ErrTooManySteps = errors.New("too many pipeline steps")

	// ErrInvalidGraph is returned by Build.
	ErrInvalidGraph = errors.New("invalid pipeline graph")

	// ErrStagePanic wraps a recovered panic.
	ErrStagePanic = errors.New("stage panicked")
)

// StageError reports a failed run. Snapshot is the cumulative state at the
// moment of failure, before the failing stage's update (if any) was merged.
type StageError struct {
	Stage    string
	Snapshot turn.State
	Err      error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage %s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}
