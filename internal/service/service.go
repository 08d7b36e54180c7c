package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"lineaclaim/internal/alerting"
	"lineaclaim/internal/batch"
	"lineaclaim/internal/storage"
	"lineaclaim/internal/wallet"
)

// ErrLocked is returned when another process holds the run lock.
var ErrLocked = errors.New("another claim run holds the advisory lock")

const persistTimeout = 10 * time.Second

// JobSource turns wallets into batch jobs.
type JobSource interface {
	Jobs(wallets []wallet.Wallet) []batch.Job
}

// Options configure a batch run.
type Options struct {
	Mode        string
	Concurrency int
	StartJitter batch.Range
	Shuffle     bool
	Retry       batch.RetryPolicy
	LockKey     int64
}

// Report is the outcome of one run.
type Report struct {
	RunID     int64
	StartedAt time.Time
	Duration  time.Duration
	Stats     batch.Statistics
}

// Service orchestrates a claim run: scheduling, persistence and notification.
type Service struct {
	opts     Options
	source   JobSource
	store    storage.RunStore
	locker   storage.AdvisoryLocker
	notifier alerting.Notifier
	rnd      batch.RandomSource
	logger   zerolog.Logger
	now      func() time.Time
}

// New constructs the run service. store and notifier may be nil.
func New(opts Options, source JobSource, store storage.RunStore, notifier alerting.Notifier, rnd batch.RandomSource, logger zerolog.Logger) *Service {
	var locker storage.AdvisoryLocker
	if l, ok := store.(storage.AdvisoryLocker); ok {
		locker = l
	}

	return &Service{
		opts:     opts,
		source:   source,
		store:    store,
		locker:   locker,
		notifier: notifier,
		rnd:      rnd,
		logger:   logger.With().Str("component", "service").Logger(),
		now:      time.Now,
	}
}

// Run processes every wallet once and returns the run report. Wallet failures are part of the report;
// the error is non-nil only for configuration problems, a held lock, or cancellation.
func (s *Service) Run(ctx context.Context, wallets []wallet.Wallet) (Report, error) {
	unlock, proceed, err := s.acquireLock(ctx)
	if err != nil {
		return Report{}, err
	}
	if !proceed {
		return Report{}, ErrLocked
	}
	if unlock != nil {
		defer unlock()
	}

	agg := batch.NewAggregator(len(wallets))
	var runID int64

	sched, err := batch.NewScheduler(batch.SchedulerOptions{
		Concurrency: s.opts.Concurrency,
		StartJitter: s.opts.StartJitter,
		Shuffle:     s.opts.Shuffle,
		Retry:       s.opts.Retry,
		OnOutcome: func(out batch.Outcome) {
			s.recordResult(ctx, runID, out)
		},
	}, s.rnd, agg, s.logger)
	if err != nil {
		return Report{}, err
	}

	report := Report{StartedAt: s.now().UTC()}
	runID = s.startRun(ctx, len(wallets))
	report.RunID = runID

	s.logger.Info().Int64("run_id", runID).
		Int("wallets", len(wallets)).
		Int("threads", s.opts.Concurrency).
		Str("mode", s.opts.Mode).
		Msg("claim run started")

	runErr := sched.Run(ctx, s.source.Jobs(wallets))

	agg.LogSummary(s.logger)
	report.Stats = agg.Snapshot()
	report.Duration = s.now().Sub(report.StartedAt)

	s.finishRun(ctx, runID, report.Stats)
	s.notify(ctx, report, runErr != nil)

	return report, runErr
}

func (s *Service) startRun(ctx context.Context, expected int) int64 {
	if s.store == nil {
		return 0
	}
	run, err := s.store.StartRun(ctx, s.opts.Mode, expected)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to record run start; results will not be persisted")
		return 0
	}
	return run.ID
}

func (s *Service) recordResult(ctx context.Context, runID int64, out batch.Outcome) {
	if s.store == nil || runID == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()

	res := storage.WalletResult{
		RunID:    runID,
		Wallet:   out.ID,
		Success:  out.Succeeded(),
		Value:    out.Value,
		Attempts: out.Attempts,
	}
	if out.Err != nil {
		msg := out.Err.Error()
		res.Error = &msg
	}
	if err := s.store.RecordResult(ctx, res); err != nil {
		s.logger.Error().Err(err).Str("wallet", out.ID).Msg("failed to persist wallet result")
	}
}

func (s *Service) finishRun(ctx context.Context, runID int64, stats batch.Statistics) {
	if s.store == nil || runID == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()

	run := storage.Run{
		ID:           runID,
		Mode:         s.opts.Mode,
		Expected:     stats.Expected,
		Succeeded:    stats.Succeeded,
		ClaimedTotal: stats.ValueSum,
		Failed:       stats.Failed,
	}
	if err := s.store.FinishRun(ctx, run); err != nil {
		s.logger.Error().Err(err).Int64("run_id", runID).Msg("failed to finalise run")
	}
}

func (s *Service) notify(ctx context.Context, report Report, interrupted bool) {
	if s.notifier == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()

	note := alerting.Notification{
		RunID:        report.RunID,
		Mode:         s.opts.Mode,
		StartedAt:    report.StartedAt,
		Duration:     report.Duration,
		Expected:     report.Stats.Expected,
		Succeeded:    report.Stats.Succeeded,
		ClaimedTotal: report.Stats.ValueSum,
		Failed:       report.Stats.Failed,
		Interrupted:  interrupted,
	}
	if err := s.notifier.Notify(ctx, note); err != nil {
		s.logger.Error().Err(err).Msg("failed to dispatch run summary")
	}
}

func (s *Service) acquireLock(ctx context.Context) (func(), bool, error) {
	if s.opts.LockKey == 0 || s.locker == nil {
		return nil, true, nil
	}
	unlock, acquired, err := s.locker.TryAdvisoryLock(ctx, s.opts.LockKey)
	if err != nil {
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}
