package batch

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Op is a fallible unit of work producing a numeric value.
type Op func(ctx context.Context) (decimal.Decimal, error)

// Outcome is the terminal result of running an Op under a RetryPolicy.
type Outcome struct {
	ID       string
	Value    decimal.Decimal
	Err      error
	Attempts int
}

// Succeeded reports whether the outcome carries a value rather than an error.
func (o Outcome) Succeeded() bool { return o.Err == nil }

// RetryPolicy bounds the number of attempts and the pause between them.
type RetryPolicy struct {
	// MaxRetries is the number of attempts after the first one.
	MaxRetries int `mapstructure:"retries"`
	// Delay separates consecutive attempts.
	Delay time.Duration `mapstructure:"retry_delay"`
	// Multiplier grows Delay after every failed attempt. Values <= 1 keep it fixed.
	Multiplier float64 `mapstructure:"-"`
}

// Validate reports whether the policy can be used.
func (p RetryPolicy) Validate() error {
	if p.MaxRetries < 0 {
		return fmt.Errorf("%w: retries cannot be negative (%d)", ErrConfig, p.MaxRetries)
	}
	if p.Delay < 0 {
		return fmt.Errorf("%w: retry delay cannot be negative (%s)", ErrConfig, p.Delay)
	}
	return nil
}

// Run executes op until it succeeds, returns a permanent error, ctx ends, or MaxRetries+1 attempts
// have failed. Failure is returned as data in the Outcome and never panics out of Run.
func (p RetryPolicy) Run(ctx context.Context, id string, op Op, logger zerolog.Logger) Outcome {
	delay := p.Delay
	attempts := 0

	for {
		attempts++
		value, err := invoke(ctx, op)
		if err == nil {
			return Outcome{ID: id, Value: value, Attempts: attempts}
		}

		retriesLeft := p.MaxRetries - attempts + 1
		logger.Warn().Err(err).
			Str("id", id).
			Int("attempt", attempts).
			Int("retries_left", retriesLeft).
			Msg("attempt failed")

		if IsPermanent(err) {
			return Outcome{ID: id, Err: err, Attempts: attempts}
		}
		if retriesLeft <= 0 {
			return Outcome{
				ID:       id,
				Err:      fmt.Errorf("%w after %d attempts: %w", ErrRetryExhausted, attempts, err),
				Attempts: attempts,
			}
		}

		if sleepErr := sleep(ctx, delay); sleepErr != nil {
			return Outcome{
				ID:       id,
				Err:      fmt.Errorf("retry interrupted: %w (last error: %v)", sleepErr, err),
				Attempts: attempts,
			}
		}

		if p.Multiplier > 1 {
			delay = time.Duration(float64(delay) * p.Multiplier)
		}
	}
}

func invoke(ctx context.Context, op Op) (value decimal.Decimal, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return op(ctx)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
