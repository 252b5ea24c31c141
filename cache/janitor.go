package cache

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// Janitor periodically sweeps a Protector's idle local locks so that
// long-running processes with high key cardinality do not accumulate mutexes
// without bound.
type Janitor struct {
	protector *Protector
	interval  time.Duration
	logger    *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	group  *errgroup.Group
}

// NewJanitor creates a Janitor sweeping protector every interval. A
// non-positive interval defaults to one minute.
func NewJanitor(protector *Protector, interval time.Duration, logger *slog.Logger) *Janitor {
	if interval <= 0 {
		interval = time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Janitor{
		protector: protector,
		interval:  interval,
		logger:    logger,
	}
}

// Start launches the sweep loop. The loop runs until ctx is cancelled or Stop
// is called. Starting a running Janitor is a no-op.
func (j *Janitor) Start(ctx context.Context) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	group, ctx := errgroup.WithContext(ctx)
	j.cancel = cancel
	j.group = group

	group.Go(func() error {
		ticker := time.NewTicker(j.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				// A tick can win the select race against cancellation.
				if ctx.Err() != nil {
					return nil
				}
				if removed := j.protector.Sweep(); removed > 0 {
					j.logger.Debug("swept idle cache locks", "removed", removed)
				}
			}
		}
	})
}

// Stop halts the sweep loop and waits for it to exit. Stopping a stopped
// Janitor is a no-op.
func (j *Janitor) Stop() {
	j.mu.Lock()
	cancel, group := j.cancel, j.group
	j.cancel, j.group = nil, nil
	j.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	_ = group.Wait()
}
