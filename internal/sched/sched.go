// Package sched runs the periodic assignment loop and the delayed clustering
// trigger.
package sched

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// ClusterFunc runs batch clustering for one news date.
type ClusterFunc func(ctx context.Context, date time.Time) error

// AssignFunc runs one incremental assignment pass for one news date.
type AssignFunc func(ctx context.Context, date time.Time) error

// DelayedTrigger schedules clustering runs after a settling delay. A second
// trigger for the same date while one is pending resets the timer instead of
// stacking a duplicate run.
type DelayedTrigger struct {
	run ClusterFunc

	mu      sync.Mutex
	pending map[string]*time.Timer
}

// NewDelayedTrigger creates a trigger that invokes run when a date's delay
// elapses.
func NewDelayedTrigger(run ClusterFunc) *DelayedTrigger {
	return &DelayedTrigger{run: run, pending: make(map[string]*time.Timer)}
}

// ScheduleClustering arms (or re-arms) the clustering timer for a date.
func (t *DelayedTrigger) ScheduleClustering(ctx context.Context, date time.Time, delay time.Duration) {
	key := date.UTC().Format("2006-01-02")

	t.mu.Lock()
	defer t.mu.Unlock()

	if timer, ok := t.pending[key]; ok {
		timer.Stop()
		log.Debug().Str("news_date", key).Msg("Resetting pending clustering timer")
	}

	t.pending[key] = time.AfterFunc(delay, func() {
		t.mu.Lock()
		delete(t.pending, key)
		t.mu.Unlock()

		log.Info().Str("news_date", key).Msg("Settling delay elapsed, running clustering")
		if err := t.run(context.WithoutCancel(ctx), date); err != nil {
			log.Error().Err(err).Str("news_date", key).Msg("Triggered clustering failed")
		}
	})
}

// Stop cancels all pending timers.
func (t *DelayedTrigger) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for key, timer := range t.pending {
		timer.Stop()
		delete(t.pending, key)
	}
}

// AssignLoop runs assignment passes for the current date at a fixed interval
// until the context is cancelled. Errors are logged, never fatal; the next
// tick retries naturally.
func AssignLoop(ctx context.Context, interval time.Duration, run AssignFunc) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	log.Info().Dur("interval", interval).Msg("Incremental assignment loop started")
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Incremental assignment loop stopped")
			return
		case <-ticker.C:
			if err := run(ctx, time.Now().UTC()); err != nil {
				log.Error().Err(err).Msg("Assignment pass failed")
			}
		}
	}
}

// Retry calls fn up to attempts times with exponential backoff and jitter.
// It returns the last error if every attempt fails.
func Retry(ctx context.Context, attempts int, base time.Duration, fn func(ctx context.Context) error) error {
	if attempts < 1 {
		attempts = 1
	}
	var lastErr error
	for i := 0; i < attempts; i++ {
		if i > 0 {
			backoff := base << (i - 1)
			backoff += time.Duration(rand.Int63n(int64(base)))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
		}
		if lastErr = fn(ctx); lastErr == nil {
			return nil
		}
	}
	return lastErr
}
