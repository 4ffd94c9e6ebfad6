// Package coordinator tracks enrichment batch completion across concurrent
// workers and fires the batch clustering trigger exactly when the last batch
// of a news date reports in.
package coordinator

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/thebtf/topica/internal/metrics"
)

// CounterStore holds the per-date batch counters. Implementations must make
// IncrementCompleted atomic so concurrent workers observe a strictly
// increasing completed count.
type CounterStore interface {
	// InitBatch records the expected batch total for a date, clearing any
	// stale counters from an earlier dispatch.
	InitBatch(ctx context.Context, date time.Time, total int) error
	// IncrementCompleted bumps the completed count and returns the new
	// completed value alongside the expected total. found is false when no
	// total was ever recorded for the date.
	IncrementCompleted(ctx context.Context, date time.Time) (completed, total int, found bool, err error)
	// Delete removes both counters for the date.
	Delete(ctx context.Context, date time.Time) error
}

// Trigger receives the clustering request once all batches complete.
type Trigger interface {
	ScheduleClustering(ctx context.Context, date time.Time, delay time.Duration)
}

// Coordinator decides when a news date's enrichment is complete. The trigger
// fires at least once per completed dispatch: if two workers race past the
// total simultaneously, both may fire, and the full-replace semantics of
// batch clustering make the duplicate harmless.
type Coordinator struct {
	counters CounterStore
	trigger  Trigger
	delay    time.Duration
	metrics  *metrics.Metrics
}

// New creates a Coordinator. delay is the settling window between the last
// batch completing and clustering starting. m may be nil.
func New(counters CounterStore, trigger Trigger, delay time.Duration, m *metrics.Metrics) *Coordinator {
	return &Coordinator{counters: counters, trigger: trigger, delay: delay, metrics: m}
}

// BatchesDispatched records that the enrichment dispatcher split a date's
// work into total batches.
func (c *Coordinator) BatchesDispatched(ctx context.Context, date time.Time, total int) error {
	if err := c.counters.InitBatch(ctx, date, total); err != nil {
		return err
	}
	log.Info().Str("news_date", date.Format("2006-01-02")).
		Int("total_batches", total).Msg("Batch dispatch recorded")
	return nil
}

// BatchCompleted records one finished batch. When the completed count reaches
// the total, the counters are deleted and clustering is scheduled after the
// settling delay. A completion for a date with no recorded total is ignored:
// the counters were already consumed by an earlier trigger, or the process
// restarted and lost them, and either way there is nothing to count against.
func (c *Coordinator) BatchCompleted(ctx context.Context, date time.Time) error {
	completed, total, found, err := c.counters.IncrementCompleted(ctx, date)
	if err != nil {
		return err
	}
	if !found {
		log.Debug().Str("news_date", date.Format("2006-01-02")).
			Msg("Batch completion with no recorded total, ignoring")
		return nil
	}

	log.Debug().Str("news_date", date.Format("2006-01-02")).
		Int("completed", completed).Int("total", total).Msg("Batch completed")

	if completed < total {
		return nil
	}

	if err := c.counters.Delete(ctx, date); err != nil {
		log.Warn().Err(err).Str("news_date", date.Format("2006-01-02")).
			Msg("Failed to delete batch counters")
	}

	log.Info().Str("news_date", date.Format("2006-01-02")).
		Dur("delay", c.delay).Msg("All batches complete, scheduling clustering")
	c.metrics.TriggerFired(ctx)
	c.trigger.ScheduleClustering(ctx, date, c.delay)
	return nil
}
