package jobs

import (
	"context"
	"log/slog"

	"github.com/riverqueue/river"
)

// SyncChannelsArgs is the periodic job that mirrors ledger state for every
// open channel and runs the discrepancy monitor.
type SyncChannelsArgs struct{}

func (SyncChannelsArgs) Kind() string { return "sync_channels" }

// ChannelSyncer is implemented by the ledger observer.
type ChannelSyncer interface {
	SyncAll(ctx context.Context) error
}

type SyncChannelsWorker struct {
	river.WorkerDefaults[SyncChannelsArgs]
	observer ChannelSyncer
	logger   *slog.Logger
}

func NewSyncChannelsWorker(observer ChannelSyncer, logger *slog.Logger) *SyncChannelsWorker {
	return &SyncChannelsWorker{observer: observer, logger: logger}
}

func (w *SyncChannelsWorker) Work(ctx context.Context, job *river.Job[SyncChannelsArgs]) error {
	return w.observer.SyncAll(ctx)
}
