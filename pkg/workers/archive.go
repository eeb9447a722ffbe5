package workers

import (
	"context"
	"time"

	"github.com/coterie-games/townsquare/pkg/log"
	"github.com/coterie-games/townsquare/pkg/queue"
	"github.com/coterie-games/townsquare/pkg/repositories"
)

const (
	// DefaultArchiveInterval is how often queued records are flushed to
	// the repository.
	DefaultArchiveInterval = 5 * time.Second
)

// ArchiveWorker drains chat and session records produced by sessions
// and writes them to the repository, off the hot broadcast path.
type ArchiveWorker struct {
	repository   repositories.Repository
	archiveQueue queue.Queue
	interval     time.Duration
}

type NewArchiveWorkerOptions struct {
	Repository   repositories.Repository
	ArchiveQueue queue.Queue
	Interval     time.Duration
}

func NewArchiveWorker(opts NewArchiveWorkerOptions) *ArchiveWorker {
	interval := opts.Interval
	if interval <= 0 {
		interval = DefaultArchiveInterval
	}
	return &ArchiveWorker{
		repository:   opts.Repository,
		archiveQueue: opts.ArchiveQueue,
		interval:     interval,
	}
}

func (w *ArchiveWorker) Start(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			// Final flush so records queued during shutdown are kept.
			w.Flush(context.Background())
			return
		case <-ticker.C:
			w.Flush(ctx)
		}
	}
}

// Flush writes all pending records to the repository.
func (w *ArchiveWorker) Flush(ctx context.Context) {
	items, err := w.archiveQueue.ReadAllMessages()
	if err != nil {
		log.Error("Failed to read archive records: %v", err)
		return
	}
	for _, item := range items {
		switch rec := item.(type) {
		case repositories.ChatRecord:
			if err := w.repository.SaveChatMessage(ctx, rec); err != nil {
				log.Error("Failed to save chat message: %v", err)
			}
		case repositories.SessionRecord:
			if err := w.repository.SaveSessionEvent(ctx, rec); err != nil {
				log.Error("Failed to save session event: %v", err)
			}
		default:
			log.Error("Unknown archive record type: %T", item)
		}
	}
}
