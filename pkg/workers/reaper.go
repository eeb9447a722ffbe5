package workers

import (
	"context"
	"time"

	"github.com/coterie-games/townsquare/pkg/log"
	"github.com/coterie-games/townsquare/pkg/rooms"
	"github.com/coterie-games/townsquare/pkg/sessions"
)

const (
	// DefaultStaleThreshold is how long a player may go without an
	// accepted update before being reaped.
	DefaultStaleThreshold = 5 * time.Minute
	// DefaultReapInterval is how often the sweep runs.
	DefaultReapInterval = 5 * time.Minute
)

// StaleSessionReaper evicts players whose last accepted update exceeds
// the staleness threshold, through the same teardown path as an
// ordinary disconnect. It is the backstop for connections that died
// without ever delivering a close event.
type StaleSessionReaper struct {
	registry  *rooms.Registry
	threshold time.Duration
	interval  time.Duration
	now       func() time.Time
}

type NewStaleSessionReaperOptions struct {
	Registry  *rooms.Registry
	Threshold time.Duration
	Interval  time.Duration
	// Now defaults to time.Now.
	Now func() time.Time
}

func NewStaleSessionReaper(opts NewStaleSessionReaperOptions) *StaleSessionReaper {
	threshold := opts.Threshold
	if threshold <= 0 {
		threshold = DefaultStaleThreshold
	}
	interval := opts.Interval
	if interval <= 0 {
		interval = DefaultReapInterval
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &StaleSessionReaper{
		registry:  opts.Registry,
		threshold: threshold,
		interval:  interval,
		now:       now,
	}
}

func (w *StaleSessionReaper) Start(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.Sweep()
		}
	}
}

// Sweep runs one pass over every room and evicts stale players.
func (w *StaleSessionReaper) Sweep() {
	cutoff := w.now().Add(-w.threshold)
	reaped := 0
	for _, room := range w.registry.Rooms() {
		for _, occupant := range room.StaleOccupants(cutoff) {
			occupant.Evict(sessions.TeardownStale)
			reaped++
		}
	}
	if reaped > 0 {
		log.Info("Reaped %d stale sessions", reaped)
	}
}
