package sandbox

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/devcrew/devcrew/internal/common/logger"
)

// minReapInterval keeps a misconfigured GC interval from busy-looping.
const minReapInterval = 5 * time.Second

// Reaper periodically destroys idle sandboxes.
type Reaper struct {
	manager  *Manager
	interval time.Duration
	log      *logger.Logger

	stop chan struct{}
	done chan struct{}
}

// NewReaper builds a reaper over the manager using the configured GC
// interval, clamped to a sane minimum.
func NewReaper(manager *Manager, interval time.Duration, log *logger.Logger) *Reaper {
	if interval < minReapInterval {
		interval = minReapInterval
	}
	if log == nil {
		log = logger.Default()
	}
	return &Reaper{
		manager:  manager,
		interval: interval,
		log:      log.WithFields(zap.String("component", "sandbox_reaper")),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start launches the reap loop in its own goroutine.
func (r *Reaper) Start(ctx context.Context) {
	go r.loop(ctx)
}

func (r *Reaper) loop(ctx context.Context) {
	defer close(r.done)
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			reaped := r.manager.CleanupIdle(ctx, time.Now().UTC())
			if len(reaped) > 0 {
				r.log.Info("reaped idle sandboxes", zap.Strings("session_ids", reaped))
			}
		}
	}
}

// Stop signals the loop and waits for it to exit. Safe to call once.
func (r *Reaper) Stop() {
	close(r.stop)
	<-r.done
}
