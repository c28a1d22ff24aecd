package pipeline

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"repairbot/internal/logging"
	"repairbot/internal/turn"
)

// Run executes the graph from its entry stage and returns the final state.
// The input state is never modified. Once ctx is done only Finalizer stages
// still run. On failure the returned error is a
// *StageError carrying the state accumulated so far.
func (g *Graph) Run(ctx context.Context, in turn.State) (turn.State, error) {
	log := logging.Get(logging.CategoryPipeline).With("turn_id", in.TurnID)
	timer := logging.StartTimer(logging.CategoryPipeline, "turn "+in.TurnID)
	defer timer.Stop()

	state := in.Clone()
	current := g.entry

	for steps := 0; current != End; steps++ {
		fail := func(err error) (turn.State, error) {
			log.Warnw("turn failed", "stage", current, "error", err)
			return state, &StageError{Stage: current, Snapshot: state.Clone(), Err: err}
		}

		if steps >= g.maxSteps {
			return fail(fmt.Errorf("%w: limit %d", ErrTooManySteps, g.maxSteps))
		}

		stage := g.stages[current]
		stageCtx := ctx
		if isFinalizer(stage) {
			stageCtx = context.WithoutCancel(ctx)
		} else if err := ctx.Err(); err != nil {
			return fail(err)
		}

		Emit(ctx, Event{Type: EventStatus, Stage: current})
		for _, o := range g.observers {
			o.StageStarted(ctx, current)
		}

		start := time.Now()
		upd, err := runStage(stageCtx, stage, state.Clone())
		elapsed := time.Since(start)
		for _, o := range g.observers {
			o.StageFinished(ctx, current, elapsed, err)
		}
		if err != nil {
			return fail(err)
		}

		if bad := undeclaredWrites(stage, upd); len(bad) > 0 {
			return fail(fmt.Errorf("%w: wrote undeclared fields %v", ErrContractViolation, bad))
		}
		state.Apply(upd)
		log.Debugw("stage done", "stage", current, "fields", upd.Fields(), "elapsed", elapsed)

		next, err := g.next(current, state)
		if err != nil {
			return fail(err)
		}
		current = next
	}

	return state, nil
}

// runStage calls the stage and turns a panic into an error.
func runStage(ctx context.Context, s Stage, st turn.State) (upd turn.Update, err error) {
	defer func() {
		if r := recover(); r != nil {
			logging.Get(logging.CategoryPipeline).Errorf("stage %s panicked: %v\n%s", s.Name(), r, debug.Stack())
			upd = turn.Update{}
			err = fmt.Errorf("%w: %v", ErrStagePanic, r)
		}
	}()
	return s.Run(ctx, st)
}
