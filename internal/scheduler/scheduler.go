// Package scheduler runs tasks on a fixed interval with cancellable
// registrations.
package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"market-signal-engine-go/internal/clock"

	"go.uber.org/zap"
)

// Task is one scheduled unit of work. The context it receives carries the
// values of the scheduling context but is never cancelled by Cancel.
type Task func(ctx context.Context)

// Scheduler issues periodic triggers from a single clock.
type Scheduler struct {
	clock  clock.Clock
	logger *zap.Logger
}

// New creates a scheduler on clk.
func New(clk clock.Clock, logger *zap.Logger) *Scheduler {
	if clk == nil {
		clk = clock.New()
	}
	return &Scheduler{clock: clk, logger: logger.Named("scheduler")}
}

// CancellationToken controls one scheduled task.
type CancellationToken struct {
	stop chan struct{}
	done chan struct{}
	once sync.Once
}

// Cancel stops future triggers. A run already in progress completes; use
// Wait to block until it has.
func (t *CancellationToken) Cancel() {
	t.once.Do(func() { close(t.stop) })
}

// Done is closed once the schedule has stopped and no run is in progress.
func (t *CancellationToken) Done() <-chan struct{} { return t.done }

// Wait blocks until Done is closed.
func (t *CancellationToken) Wait() { <-t.done }

// Schedule runs task every interval, first after one full interval. Runs
// never overlap: ticks that arrive while a run is in progress are coalesced.
// Cancelling ctx has the same effect as Cancel.
func (s *Scheduler) Schedule(ctx context.Context, interval time.Duration, task Task) (*CancellationToken, error) {
	if interval <= 0 {
		return nil, errors.New("schedule interval must be positive")
	}
	if task == nil {
		return nil, errors.New("nil task")
	}

	token := &CancellationToken{stop: make(chan struct{}), done: make(chan struct{})}
	ticker := s.clock.NewTicker(interval)
	runCtx := context.WithoutCancel(ctx)

	go func() {
		defer close(token.done)
		defer ticker.Stop()
		s.logger.Debug("Schedule started", zap.Duration("interval", interval))
		for {
			select {
			case <-token.stop:
				s.logger.Debug("Schedule cancelled")
				return
			case <-ctx.Done():
				s.logger.Debug("Schedule context done")
				return
			case <-ticker.C():
				select {
				case <-token.stop:
					return
				default:
				}
				task(runCtx)
			}
		}
	}()
	return token, nil
}
