package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
	// ErrRunNotFound is returned when a run id does not exist.
	ErrRunNotFound = errors.New("storage: run not found")
)

const (
	createRunsTableSQL = `CREATE TABLE IF NOT EXISTS claim_runs (
        id            BIGSERIAL PRIMARY KEY,
        started_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
        finished_at   TIMESTAMPTZ,
        mode          TEXT NOT NULL,
        expected      INTEGER NOT NULL,
        succeeded     INTEGER NOT NULL DEFAULT 0,
        claimed_total NUMERIC NOT NULL DEFAULT 0,
        failed        TEXT[] NOT NULL DEFAULT '{}'
    );`

	createResultsTableSQL = `CREATE TABLE IF NOT EXISTS claim_results (
        run_id      BIGINT NOT NULL REFERENCES claim_runs(id) ON DELETE CASCADE,
        wallet      TEXT NOT NULL,
        success     BOOLEAN NOT NULL,
        value       NUMERIC NOT NULL DEFAULT 0,
        attempts    INTEGER NOT NULL,
        error       TEXT,
        finished_at TIMESTAMPTZ NOT NULL DEFAULT now(),
        PRIMARY KEY (run_id, wallet)
    );`

	insertRunSQL = `INSERT INTO claim_runs (mode, expected)
    VALUES ($1, $2)
    RETURNING id, started_at;`

	upsertResultSQL = `INSERT INTO claim_results (
        run_id,
        wallet,
        success,
        value,
        attempts,
        error
    ) VALUES (
        $1,$2,$3,$4,$5,$6
    )
    ON CONFLICT (run_id, wallet) DO UPDATE
    SET
        success     = EXCLUDED.success,
        value       = EXCLUDED.value,
        attempts    = EXCLUDED.attempts,
        error       = EXCLUDED.error,
        finished_at = now();`

	finishRunSQL = `UPDATE claim_runs
    SET finished_at = now(), succeeded = $2, claimed_total = $3, failed = $4
    WHERE id = $1;`

	listRecentRunsSQL = `SELECT
        id,
        started_at,
        finished_at,
        mode,
        expected,
        succeeded,
        claimed_total::TEXT,
        failed
    FROM claim_runs
    ORDER BY started_at DESC
    LIMIT $1;`

	getRunSQL = `SELECT
        id,
        started_at,
        finished_at,
        mode,
        expected,
        succeeded,
        claimed_total::TEXT,
        failed
    FROM claim_runs
    WHERE id = $1;`

	listRunResultsSQL = `SELECT
        run_id,
        wallet,
        success,
        value::TEXT,
        attempts,
        error,
        finished_at
    FROM claim_results
    WHERE run_id = $1
    ORDER BY finished_at, wallet;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// RunStore defines operations for run history persistence.
type RunStore interface {
	EnsureSchema(ctx context.Context) error
	StartRun(ctx context.Context, mode string, expected int) (Run, error)
	RecordResult(ctx context.Context, result WalletResult) error
	FinishRun(ctx context.Context, run Run) error
	ListRecentRuns(ctx context.Context, limit int) ([]Run, error)
	GetRun(ctx context.Context, id int64) (Run, error)
	ListRunResults(ctx context.Context, runID int64) ([]WalletResult, error)
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

var (
	_ RunStore       = (*Store)(nil)
	_ AdvisoryLocker = (*Store)(nil)
)

// Store persists claim runs and their per-wallet results.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a release func.
func (s *Store) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_, _ = conn.Exec(ctxUnlock, advisoryUnlockSQL, key)
		conn.Release()
	}
	return unlock, true, nil
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// EnsureSchema creates the run history tables when missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	for _, stmt := range []string{createRunsTableSQL, createResultsTableSQL} {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// StartRun inserts a new run row and returns it with its id.
func (s *Store) StartRun(ctx context.Context, mode string, expected int) (Run, error) {
	pool, err := s.getPool()
	if err != nil {
		return Run{}, err
	}

	run := Run{Mode: mode, Expected: expected, ClaimedTotal: decimal.Zero}
	if err := pool.QueryRow(ctx, insertRunSQL, mode, expected).Scan(&run.ID, &run.StartedAt); err != nil {
		return Run{}, fmt.Errorf("start run: %w", err)
	}
	return run, nil
}

// RecordResult persists or replaces one wallet's outcome within a run.
func (s *Store) RecordResult(ctx context.Context, result WalletResult) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	var errMsg interface{}
	if result.Error != nil {
		errMsg = *result.Error
	}

	_, execErr := pool.Exec(ctx, upsertResultSQL,
		result.RunID,
		result.Wallet,
		result.Success,
		result.Value.String(),
		result.Attempts,
		errMsg,
	)
	if execErr != nil {
		return fmt.Errorf("record result: %w", execErr)
	}
	return nil
}

// FinishRun stores the final tallies of run.
func (s *Store) FinishRun(ctx context.Context, run Run) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	failed := run.Failed
	if failed == nil {
		failed = []string{}
	}
	cmdTag, execErr := pool.Exec(ctx, finishRunSQL, run.ID, run.Succeeded, run.ClaimedTotal.String(), failed)
	if execErr != nil {
		return fmt.Errorf("finish run: %w", execErr)
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrRunNotFound
	}
	return nil
}

// ListRecentRuns lists the most recent runs ordered by descending start time.
func (s *Store) ListRecentRuns(ctx context.Context, limit int) ([]Run, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentRunsSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent runs: %w", queryErr)
	}
	defer rows.Close()

	runs := make([]Run, 0, limit)
	for rows.Next() {
		run, scanErr := scanRun(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		runs = append(runs, run)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return runs, nil
}

// GetRun loads a single run by id.
func (s *Store) GetRun(ctx context.Context, id int64) (Run, error) {
	pool, err := s.getPool()
	if err != nil {
		return Run{}, err
	}

	run, scanErr := scanRun(pool.QueryRow(ctx, getRunSQL, id))
	if errors.Is(scanErr, pgx.ErrNoRows) {
		return Run{}, ErrRunNotFound
	}
	if scanErr != nil {
		return Run{}, fmt.Errorf("get run: %w", scanErr)
	}
	return run, nil
}

// ListRunResults lists wallet outcomes of a run in completion order.
func (s *Store) ListRunResults(ctx context.Context, runID int64) ([]WalletResult, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRunResultsSQL, runID)
	if queryErr != nil {
		return nil, fmt.Errorf("list run results: %w", queryErr)
	}
	defer rows.Close()

	results := make([]WalletResult, 0)
	for rows.Next() {
		var (
			res      WalletResult
			valueStr string
			errMsg   sql.NullString
		)
		if err := rows.Scan(
			&res.RunID,
			&res.Wallet,
			&res.Success,
			&valueStr,
			&res.Attempts,
			&errMsg,
			&res.FinishedAt,
		); err != nil {
			return nil, err
		}
		value, convErr := decimal.NewFromString(valueStr)
		if convErr != nil {
			return nil, fmt.Errorf("parse result value: %w", convErr)
		}
		res.Value = value
		if errMsg.Valid {
			msg := errMsg.String
			res.Error = &msg
		}
		results = append(results, res)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return results, nil
}

func scanRun(row pgx.Row) (Run, error) {
	var (
		run        Run
		finishedAt sql.NullTime
		totalStr   string
	)

	if err := row.Scan(
		&run.ID,
		&run.StartedAt,
		&finishedAt,
		&run.Mode,
		&run.Expected,
		&run.Succeeded,
		&totalStr,
		&run.Failed,
	); err != nil {
		return Run{}, err
	}

	total, err := decimal.NewFromString(totalStr)
	if err != nil {
		return Run{}, fmt.Errorf("parse claimed total: %w", err)
	}
	run.ClaimedTotal = total

	if finishedAt.Valid {
		ts := finishedAt.Time
		run.FinishedAt = &ts
	}
	return run, nil
}
