package gas

import (
	"context"
	"fmt"
	"math"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Sample is one observation of EIP-1559 fee parameters.
type Sample struct {
	MaxFeePerGas         *big.Int
	MaxPriorityFeePerGas *big.Int
	// Gwei is MaxFeePerGas expressed in whole gwei; thresholds are compared against it.
	Gwei       decimal.Decimal
	ObservedAt time.Time
}

// Sampler retrieves the current fee sample. Failures are expected to be transient.
type Sampler interface {
	FetchSample(ctx context.Context) (Sample, error)
}

// FeeReader is the subset of an Ethereum client the estimator needs.
type FeeReader interface {
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
}

const bpsDenominator = 10_000

const gweiExp int32 = -9

// FeeEstimator derives fee caps from the latest base fee and suggested tip, optionally boosting the tip.
type FeeEstimator struct {
	client   FeeReader
	boostPct float64
	logger   zerolog.Logger
}

// NewFeeEstimator builds a sampler over client. boostPct raises the priority fee by that percentage.
func NewFeeEstimator(client FeeReader, boostPct float64, logger zerolog.Logger) *FeeEstimator {
	return &FeeEstimator{
		client:   client,
		boostPct: math.Max(0, boostPct),
		logger:   logger.With().Str("component", "fee_estimator").Logger(),
	}
}

// FetchSample estimates maxFeePerGas and maxPriorityFeePerGas for the next block.
func (e *FeeEstimator) FetchSample(ctx context.Context) (Sample, error) {
	tip, err := e.client.SuggestGasTipCap(ctx)
	if err != nil {
		return Sample{}, fmt.Errorf("suggest gas tip cap: %w", err)
	}

	header, err := e.client.HeaderByNumber(ctx, nil)
	if err != nil {
		return Sample{}, fmt.Errorf("latest header: %w", err)
	}

	baseFee := header.BaseFee
	if baseFee == nil {
		baseFee, err = e.client.SuggestGasPrice(ctx)
		if err != nil {
			return Sample{}, fmt.Errorf("suggest gas price: %w", err)
		}
	}

	maxFee, boostedTip := BoostFees(baseFee, tip, e.boostPct)
	sample := Sample{
		MaxFeePerGas:         maxFee,
		MaxPriorityFeePerGas: boostedTip,
		Gwei:                 decimal.NewFromBigInt(maxFee, gweiExp).Truncate(0),
		ObservedAt:           time.Now().UTC(),
	}

	e.logger.Debug().
		Str("base_fee", baseFee.String()).
		Str("max_fee", maxFee.String()).
		Str("tip", boostedTip.String()).
		Msg("fee sample")
	return sample, nil
}

// BoostFees returns (maxFeePerGas, maxPriorityFeePerGas) given a base fee and suggested tip. The
// unboosted cap is 2*baseFee + tip; its headroom above baseFee + tip is kept when the tip is raised.
func BoostFees(baseFee, tip *big.Int, boostPct float64) (*big.Int, *big.Int) {
	bps := int64(math.Round(math.Max(0, boostPct) * 100))
	num := big.NewInt(bpsDenominator + bps)
	den := big.NewInt(bpsDenominator)

	boostedTip := new(big.Int).Mul(tip, num)
	boostedTip.Add(boostedTip, new(big.Int).Sub(den, big.NewInt(1)))
	boostedTip.Div(boostedTip, den)

	maxFee := new(big.Int).Mul(baseFee, big.NewInt(2))
	maxFee.Add(maxFee, tip)

	effective := new(big.Int).Add(baseFee, tip)
	headroom := new(big.Int)
	if maxFee.Cmp(effective) > 0 {
		headroom.Sub(maxFee, effective)
	}

	result := new(big.Int).Add(baseFee, boostedTip)
	result.Add(result, headroom)
	return result, boostedTip
}

var _ Sampler = (*FeeEstimator)(nil)
