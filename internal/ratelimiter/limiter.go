// Package ratelimiter throttles and batches concurrent request volume.
// Calls are partitioned into capped batches, at most a configured number of
// batches run concurrently, and successive batch dispatches are spaced by a
// configured delay. Results always come back in input order.
package ratelimiter

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/easylayer/blockchain-provider/pkg/common/errs"
)

// ErrStopped rejects work submitted to (or still queued in) a limiter that
// has been stopped. Callers already awaiting always get this instead of
// hanging.
var ErrStopped = errors.New("rate limiter stopped")

const (
	DefaultMaxConcurrentRequests = 1
	DefaultMaxBatchSize          = 15
	DefaultRequestDelay          = time.Second
)

type Config struct {
	MaxConcurrentRequests int
	MaxBatchSize          int
	// RequestDelay spaces successive batch dispatch starts. Zero selects
	// the default; a negative value disables pacing entirely.
	RequestDelay time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxConcurrentRequests <= 0 {
		c.MaxConcurrentRequests = DefaultMaxConcurrentRequests
	}
	if c.MaxBatchSize <= 0 {
		c.MaxBatchSize = DefaultMaxBatchSize
	}
	if c.RequestDelay == 0 {
		c.RequestDelay = DefaultRequestDelay
	} else if c.RequestDelay < 0 {
		c.RequestDelay = 0
	}
	return c
}

// Limiter owns a private dispatch schedule; many logically-concurrent
// callers may submit through the same instance.
type Limiter struct {
	cfg Config

	sem chan struct{}

	mu           sync.Mutex
	lastDispatch time.Time
	dispatched   int64

	stopOnce sync.Once
	stopped  chan struct{}
}

func New(cfg Config) *Limiter {
	cfg = cfg.withDefaults()
	return &Limiter{
		cfg:     cfg,
		sem:     make(chan struct{}, cfg.MaxConcurrentRequests),
		stopped: make(chan struct{}),
	}
}

// Stop drains the limiter: queued batches are rejected with ErrStopped and
// no caller is left hanging. Idempotent.
func (l *Limiter) Stop() {
	l.stopOnce.Do(func() { close(l.stopped) })
}

// Stats returns dispatch counters for diagnostics.
func (l *Limiter) Stats() (dispatchedBatches int64, maxConcurrent, maxBatchSize int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.dispatched, l.cfg.MaxConcurrentRequests, l.cfg.MaxBatchSize
}

// Executor runs one batch of calls. It must return exactly one result per
// call, using the zero value for items that were unavailable.
type Executor[C, R any] func(ctx context.Context, batch []C) ([]R, error)

// Execute partitions calls into batches of at most MaxBatchSize, runs at
// most MaxConcurrentRequests batches concurrently with RequestDelay between
// successive dispatch starts, and flattens results back into input order
// regardless of batch completion order: results[i] always corresponds to
// calls[i].
func Execute[C, R any](ctx context.Context, l *Limiter, calls []C, exec Executor[C, R]) ([]R, error) {
	if len(calls) == 0 {
		return nil, nil
	}

	results := make([]R, len(calls))
	var wg sync.WaitGroup
	merr := &errs.MultiError{}

	for offset := 0; offset < len(calls); offset += l.cfg.MaxBatchSize {
		end := offset + l.cfg.MaxBatchSize
		if end > len(calls) {
			end = len(calls)
		}

		if err := l.acquire(ctx); err != nil {
			merr.Add(err)
			break
		}

		wg.Add(1)
		go func(offset int, batch []C) {
			defer wg.Done()
			defer func() { <-l.sem }()

			out, err := exec(ctx, batch)
			if err != nil {
				merr.Add(err)
				return
			}
			if len(out) != len(batch) {
				merr.Add(fmt.Errorf("executor returned %d results for %d calls", len(out), len(batch)))
				return
			}
			copy(results[offset:offset+len(batch)], out)
		}(offset, calls[offset:end])
	}

	wg.Wait()
	if err := merr.ErrorOrNil(); err != nil {
		return results, err
	}
	return results, nil
}

// acquire blocks until a concurrency slot is free and the inter-batch delay
// since the previous dispatch start has elapsed.
func (l *Limiter) acquire(ctx context.Context) error {
	select {
	case l.sem <- struct{}{}:
	case <-l.stopped:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}

	l.mu.Lock()
	var wait time.Duration
	if !l.lastDispatch.IsZero() {
		wait = l.cfg.RequestDelay - time.Since(l.lastDispatch)
	}
	if wait > 0 {
		l.mu.Unlock()
		timer := time.NewTimer(wait)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-l.stopped:
			<-l.sem
			return ErrStopped
		case <-ctx.Done():
			<-l.sem
			return ctx.Err()
		}
		l.mu.Lock()
	}
	l.lastDispatch = time.Now()
	l.dispatched++
	l.mu.Unlock()
	return nil
}
