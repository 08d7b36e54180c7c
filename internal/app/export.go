package app

import (
	"context"
	"errors"
	"fmt"

	"lineaclaim/internal/report"
)

// Export renders a run's wallet results as CSV and/or PNG.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}

	opts.MaxPoints = a.Config.ResolveMaxPoints(opts.MaxPoints)

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot export")
	}
	if closeStore != nil {
		defer closeStore()
	}

	if opts.RunID == 0 {
		recent, err := store.ListRecentRuns(ctx, 1)
		if err != nil {
			return err
		}
		if len(recent) == 0 {
			return errors.New("no runs recorded yet")
		}
		opts.RunID = recent[0].ID
	}

	run, err := store.GetRun(ctx, opts.RunID)
	if err != nil {
		return fmt.Errorf("run %d: %w", opts.RunID, err)
	}

	results, err := store.ListRunResults(ctx, run.ID)
	if err != nil {
		return err
	}
	if len(results) == 0 {
		a.Logger.Info().Int64("run_id", run.ID).Msg("no wallet results recorded for run")
		return nil
	}

	a.Logger.Info().Int64("run_id", run.ID).Int("total", len(results)).Msg("exporting run results")

	if opts.CSVPath != "" {
		if err := report.WriteCSV(opts.CSVPath, results); err != nil {
			return err
		}
	}

	if opts.PNGPath != "" {
		charted := report.Downsample(results, opts.MaxPoints)
		if len(charted) < len(results) {
			a.Logger.Info().Int("charted", len(charted)).Msg("chart downsampled")
		}
		if err := report.WritePNG(opts.PNGPath, run, charted); err != nil {
			return err
		}
	}

	return nil
}
