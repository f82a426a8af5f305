package jobs

import (
	"context"
	"log/slog"

	"github.com/riverqueue/river"
)

// SweepSessionsArgs is the periodic job that times out stale work sessions.
type SweepSessionsArgs struct{}

func (SweepSessionsArgs) Kind() string { return "sweep_stale_sessions" }

// SessionSweeper is implemented by the timeclock service.
type SessionSweeper interface {
	SweepStale(ctx context.Context) (int, error)
}

type SweepSessionsWorker struct {
	river.WorkerDefaults[SweepSessionsArgs]
	timeclock SessionSweeper
	logger    *slog.Logger
}

func NewSweepSessionsWorker(timeclock SessionSweeper, logger *slog.Logger) *SweepSessionsWorker {
	return &SweepSessionsWorker{timeclock: timeclock, logger: logger}
}

func (w *SweepSessionsWorker) Work(ctx context.Context, job *river.Job[SweepSessionsArgs]) error {
	swept, err := w.timeclock.SweepStale(ctx)
	if err != nil {
		return err
	}
	if swept > 0 {
		w.logger.Info("stale session sweep finished", "swept", swept)
	}
	return nil
}
