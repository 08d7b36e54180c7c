package batch

import (
	"sync"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Statistics is an immutable view of a batch's accumulated outcomes.
type Statistics struct {
	Expected  int
	Succeeded int
	ValueSum  decimal.Decimal
	Failed    []string
}

// Unaccounted is the number of expected jobs that were neither recorded as a success nor as a
// failure. It is zero once a batch driven by Scheduler has drained.
func (s Statistics) Unaccounted() int {
	return s.Expected - s.Succeeded - len(s.Failed)
}

// Aggregator accumulates job outcomes. It is safe for concurrent use.
//
// Expected is fixed at construction and never reconciled against the recorded counts.
type Aggregator struct {
	mu        sync.Mutex
	expected  int
	succeeded int
	sum       decimal.Decimal
	failed    []string
}

// NewAggregator creates an aggregator expecting the given number of jobs.
func NewAggregator(expected int) *Aggregator {
	return &Aggregator{expected: expected, sum: decimal.Zero}
}

// RecordSuccess counts a successful job and adds its value to the running sum.
func (a *Aggregator) RecordSuccess(value decimal.Decimal) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.succeeded++
	a.sum = a.sum.Add(value)
}

// RecordFailure appends the identity of a failed job.
func (a *Aggregator) RecordFailure(id string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.failed = append(a.failed, id)
}

// Record dispatches a terminal outcome to RecordSuccess or RecordFailure.
func (a *Aggregator) Record(out Outcome) {
	if out.Succeeded() {
		a.RecordSuccess(out.Value)
		return
	}
	a.RecordFailure(out.ID)
}

// Snapshot returns a copy of the current statistics.
func (a *Aggregator) Snapshot() Statistics {
	a.mu.Lock()
	defer a.mu.Unlock()
	failed := make([]string, len(a.failed))
	copy(failed, a.failed)
	return Statistics{
		Expected:  a.expected,
		Succeeded: a.succeeded,
		ValueSum:  a.sum,
		Failed:    failed,
	}
}

// LogSummary writes the end-of-batch summary.
func (a *Aggregator) LogSummary(logger zerolog.Logger) {
	stats := a.Snapshot()
	logger.Info().
		Int("wallets", stats.Expected).
		Int("succeeded", stats.Succeeded).
		Str("claimed_total", stats.ValueSum.String()).
		Int("failed", len(stats.Failed)).
		Msg("claim process completed")

	if n := stats.Unaccounted(); n != 0 {
		logger.Warn().Int("unaccounted", n).Msg("outcome count does not match wallet count")
	}

	for _, id := range stats.Failed {
		logger.Warn().Str("wallet", id).Msg("wallet failed")
	}
}
