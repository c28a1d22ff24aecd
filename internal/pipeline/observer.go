package pipeline

import (
	"context"
	"time"

	"repairbot/internal/logging"
)

// LogObserver logs every stage boundary and warns about slow stages.
type LogObserver struct {
	Slow time.Duration
}

func (o LogObserver) StageStarted(_ context.Context, stage string) {
	logging.PipelineDebug("stage %s started", stage)
}

func (o LogObserver) StageFinished(_ context.Context, stage string, elapsed time.Duration, err error) {
	log := logging.Get(logging.CategoryPipeline)
	switch {
	case err != nil:
		log.Warnw("stage failed", "stage", stage, "elapsed", elapsed, "error", err)
	case o.Slow > 0 && elapsed > o.Slow:
		log.Warnw("stage slow", "stage", stage, "elapsed", elapsed, "threshold", o.Slow)
	default:
		log.Debugw("stage finished", "stage", stage, "elapsed", elapsed)
	}
}
