// Package worker runs the server's periodic background jobs.
package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// periodic runs tick on a fixed interval between Start and Stop
type periodic struct {
	name     string
	interval time.Duration
	tick     func(ctx context.Context)
	logger   *slog.Logger

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// Start begins the background loop. Starting a running worker is a no-op.
func (w *periodic) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return nil
	}
	w.running = true
	w.stopCh = make(chan struct{})
	w.doneCh = make(chan struct{})

	w.logger.Info(w.name+" started", "interval", w.interval)

	go w.run(ctx, w.stopCh, w.doneCh)
	return nil
}

// Stop stops the background loop and waits for an in-flight tick to finish
func (w *periodic) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	stopCh, doneCh := w.stopCh, w.doneCh
	w.mu.Unlock()

	close(stopCh)
	<-doneCh

	w.mu.Lock()
	w.running = false
	w.mu.Unlock()

	w.logger.Info(w.name + " stopped")
	return nil
}

// IsRunning returns whether the worker is currently running
func (w *periodic) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

func (w *periodic) run(ctx context.Context, stopCh <-chan struct{}, doneCh chan<- struct{}) {
	defer close(doneCh)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case <-ticker.C:
			w.tick(ctx)
		}
	}
}
