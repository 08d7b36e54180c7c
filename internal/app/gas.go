package app

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/shopspring/decimal"

	"lineaclaim/internal/gas"
)

// Gas prints the current fee estimate, or waits until it drops to opts.MaxGwei first.
func (a *App) Gas(ctx context.Context, opts GasOptions) error {
	if opts.MaxGwei < 0 {
		return fmt.Errorf("--max-gwei cannot be negative")
	}

	deps, err := a.dialChain(ctx)
	if err != nil {
		return err
	}
	defer deps.Close()

	threshold := decimal.NewFromFloat(opts.MaxGwei)
	if !threshold.IsZero() {
		a.Logger.Info().Str("max_gwei", threshold.String()).Msg("waiting for gas price")
	}

	started := time.Now()
	sample, err := deps.gate.WaitFor(ctx, threshold, opts.Timeout)
	if err != nil {
		return err
	}
	return writeSample(a.Out, sample, time.Since(started))
}

func writeSample(out io.Writer, sample gas.Sample, waited time.Duration) error {
	_, err := fmt.Fprintf(out, "gwei: %s\nmax_fee_per_gas: %s wei\nmax_priority_fee_per_gas: %s wei\nobserved_at: %s\nwaited: %s\n",
		sample.Gwei.String(),
		sample.MaxFeePerGas,
		sample.MaxPriorityFeePerGas,
		sample.ObservedAt.UTC().Format(time.RFC3339),
		waited.Round(time.Second),
	)
	return err
}
