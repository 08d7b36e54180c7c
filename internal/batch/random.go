package batch

import (
	"fmt"
	"math/rand"
	"time"
)

// RandomSource supplies the randomness used for start jitter and wallet shuffling.
type RandomSource interface {
	// Float64 returns a uniform value in [0, 1).
	Float64() float64
	// IntN returns a uniform value in [0, n).
	IntN(n int) int
}

type defaultRandom struct{}

// DefaultRandom returns a RandomSource backed by the runtime's global generator.
func DefaultRandom() RandomSource { return defaultRandom{} }

func (defaultRandom) Float64() float64 { return rand.Float64() }

func (defaultRandom) IntN(n int) int { return rand.Intn(n) }

// Range is a closed-open duration interval used for randomised delays.
type Range struct {
	Min time.Duration `mapstructure:"min"`
	Max time.Duration `mapstructure:"max"`
}

// Validate reports whether the range can be sampled.
func (r Range) Validate() error {
	if r.Min < 0 || r.Max < 0 {
		return fmt.Errorf("%w: delay range cannot be negative (min %s, max %s)", ErrConfig, r.Min, r.Max)
	}
	if r.Min > r.Max {
		return fmt.Errorf("%w: delay range min must be <= max (min %s, max %s)", ErrConfig, r.Min, r.Max)
	}
	return nil
}

// Draw picks a duration uniformly from [Min, Max). A degenerate range returns Min.
func (r Range) Draw(src RandomSource) time.Duration {
	span := r.Max - r.Min
	if span <= 0 {
		return r.Min
	}
	return r.Min + time.Duration(src.Float64()*float64(span))
}

// Shuffle returns a Fisher–Yates permutation of items. The input slice is left untouched.
func Shuffle[T any](src RandomSource, items []T) []T {
	out := make([]T, len(items))
	copy(out, items)
	for i := len(out) - 1; i > 0; i-- {
		j := src.IntN(i + 1)
		out[i], out[j] = out[j], out[i]
	}
	return out
}
