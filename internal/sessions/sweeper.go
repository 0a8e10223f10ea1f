package sessions

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Sweeper periodically closes sessions whose roster has been empty past the
// idle timeout and evicts long-closed sessions so the registry does not grow
// without bound.
type Sweeper struct {
	registry *Registry
	logger   *zap.Logger
	interval time.Duration
	idle     time.Duration
	mu       sync.Mutex
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewSweeper creates an idle sweeper over the registry. intervalSec is how
// often the sweep runs, idleSec how long an empty session survives before it
// is closed.
func NewSweeper(registry *Registry, intervalSec, idleSec int, logger *zap.Logger) *Sweeper {
	if intervalSec <= 0 {
		intervalSec = 60
	}
	if idleSec <= 0 {
		idleSec = 1800
	}
	return &Sweeper{
		registry: registry,
		logger:   logger,
		interval: time.Duration(intervalSec) * time.Second,
		idle:     time.Duration(idleSec) * time.Second,
	}
}

// Start begins the sweep loop. Call Stop() to release resources; the sweeper
// may be started again afterwards.
func (w *Sweeper) Start() {
	w.mu.Lock()
	if w.cancel != nil {
		w.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	w.cancel = cancel
	w.done = done
	w.mu.Unlock()

	go w.run(ctx, done)
	w.logger.Info("session sweeper started",
		zap.Duration("interval", w.interval),
		zap.Duration("idle_timeout", w.idle),
	)
}

// Stop stops the sweep loop and waits for the current pass to finish.
func (w *Sweeper) Stop() {
	w.mu.Lock()
	if w.cancel == nil {
		w.mu.Unlock()
		return
	}
	cancel := w.cancel
	done := w.done
	w.cancel = nil
	w.done = nil
	w.mu.Unlock()

	cancel()
	<-done
	w.logger.Info("session sweeper stopped")
}

func (w *Sweeper) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			closed, evicted := w.registry.sweepIdle(time.Now(), w.idle)
			if len(closed) > 0 || len(evicted) > 0 {
				w.logger.Info("idle sweep",
					zap.Strings("closed", closed),
					zap.Strings("evicted", evicted),
				)
			}
		}
	}
}
