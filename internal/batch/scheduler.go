package batch

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"
)

// Job is a unit of work identified by ID, typically a wallet address.
type Job struct {
	ID   string
	Body Op
}

// SchedulerOptions tune a Scheduler.
type SchedulerOptions struct {
	Concurrency int
	StartJitter Range
	Shuffle     bool
	Retry       RetryPolicy
	// OnOutcome, when set, observes every terminal outcome before its worker slot is released.
	OnOutcome func(Outcome)
}

// Validate checks options before any scheduling begins.
func (o SchedulerOptions) Validate() error {
	if o.Concurrency < 1 {
		return fmt.Errorf("%w: concurrency must be at least 1 (got %d)", ErrConfig, o.Concurrency)
	}
	if err := o.StartJitter.Validate(); err != nil {
		return err
	}
	return o.Retry.Validate()
}

// Scheduler runs jobs with bounded parallelism and randomised submission delays.
type Scheduler struct {
	opts   SchedulerOptions
	rnd    RandomSource
	agg    *Aggregator
	logger zerolog.Logger
}

// NewScheduler validates opts and builds a Scheduler recording into agg.
func NewScheduler(opts SchedulerOptions, rnd RandomSource, agg *Aggregator, logger zerolog.Logger) (*Scheduler, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if agg == nil {
		return nil, fmt.Errorf("%w: aggregator is required", ErrConfig)
	}
	if rnd == nil {
		rnd = DefaultRandom()
	}
	return &Scheduler{
		opts:   opts,
		rnd:    rnd,
		agg:    agg,
		logger: logger.With().Str("component", "scheduler").Logger(),
	}, nil
}

// Run submits every job and blocks until all submitted jobs are terminal. Job failures are recorded
// in the aggregator and never returned. If ctx ends during submission, jobs not yet submitted are
// recorded as failures, running jobs are drained and ctx.Err() is returned.
func (s *Scheduler) Run(ctx context.Context, jobs []Job) error {
	if s.opts.Shuffle {
		jobs = Shuffle(s.rnd, jobs)
	}

	slots := semaphore.NewWeighted(int64(s.opts.Concurrency))
	var wg sync.WaitGroup

	for i, job := range jobs {
		delay := s.opts.StartJitter.Draw(s.rnd)
		s.logger.Debug().Str("id", job.ID).Dur("delay", delay).Msg("sleeping before submit")

		err := sleep(ctx, delay)
		if err == nil {
			err = slots.Acquire(ctx, 1)
		}
		if err != nil {
			s.abandon(jobs[i:], err)
			wg.Wait()
			return err
		}

		wg.Add(1)
		go func(job Job) {
			defer wg.Done()
			defer slots.Release(1)
			s.execute(ctx, job)
		}(job)
	}

	wg.Wait()
	return nil
}

func (s *Scheduler) execute(ctx context.Context, job Job) {
	logger := s.logger.With().Str("id", job.ID).Logger()
	logger.Debug().Msg("job started")

	out := s.opts.Retry.Run(ctx, job.ID, job.Body, logger)
	s.agg.Record(out)
	if s.opts.OnOutcome != nil {
		s.opts.OnOutcome(out)
	}

	if out.Succeeded() {
		logger.Info().Int("attempts", out.Attempts).Str("value", out.Value.String()).Msg("job finished")
		return
	}
	logger.Error().Err(out.Err).Int("attempts", out.Attempts).Msg("job failed")
}

func (s *Scheduler) abandon(jobs []Job, cause error) {
	s.logger.Warn().Err(cause).Int("remaining", len(jobs)).Msg("submission stopped")
	for _, job := range jobs {
		out := Outcome{ID: job.ID, Err: fmt.Errorf("not started: %w", cause)}
		s.agg.Record(out)
		if s.opts.OnOutcome != nil {
			s.opts.OnOutcome(out)
		}
	}
}
