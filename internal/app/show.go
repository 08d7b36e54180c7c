package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"

	"lineaclaim/internal/storage"
)

// Show prints recent claim runs.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot show runs")
	}
	if closeStore != nil {
		defer closeStore()
	}

	runs, err := store.ListRecentRuns(ctx, opts.Limit)
	if err != nil {
		return err
	}
	return writeRuns(a.Out, runs)
}

func writeRuns(out io.Writer, runs []storage.Run) error {
	if len(runs) == 0 {
		_, err := fmt.Fprintln(out, "no runs found")
		return err
	}

	writer := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Run\tStarted (UTC)\tDuration\tMode\tSucceeded\tClaimed\tFailed")

	for _, run := range runs {
		duration := "running"
		if run.Done() {
			duration = run.FinishedAt.Sub(run.StartedAt).Round(time.Second).String()
		}
		fmt.Fprintf(
			writer,
			"%d\t%s\t%s\t%s\t%d/%d\t%s\t%s\n",
			run.ID,
			run.StartedAt.UTC().Format(time.RFC3339),
			duration,
			run.Mode,
			run.Succeeded,
			run.Expected,
			formatDecimal(run.ClaimedTotal, 2),
			sanitizeInline(strings.Join(run.Failed, ",")),
		)
	}

	return writer.Flush()
}

func formatDecimal(d decimal.Decimal, places int32) string {
	return d.StringFixed(places)
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	return cleaned
}
