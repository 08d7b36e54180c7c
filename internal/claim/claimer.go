package claim

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"lineaclaim/internal/batch"
	"lineaclaim/internal/chain"
	"lineaclaim/internal/config"
	"lineaclaim/internal/gas"
	"lineaclaim/internal/swap"
	"lineaclaim/internal/wallet"
)

// Airdrop is the claim contract surface used per wallet.
type Airdrop interface {
	HasClaimed(ctx context.Context, user common.Address) (bool, error)
	CalculateAllocation(ctx context.Context, user common.Address) (*big.Int, error)
	PackClaim() ([]byte, error)
}

// TokenBalance is the ERC-20 surface used after a claim.
type TokenBalance interface {
	BalanceOf(ctx context.Context, owner common.Address) (*big.Int, error)
	PackTransfer(recipient common.Address, amount *big.Int) ([]byte, error)
}

// GasWaiter blocks until fees drop below a threshold.
type GasWaiter interface {
	WaitFor(ctx context.Context, threshold decimal.Decimal, timeout time.Duration) (gas.Sample, error)
}

// Swapper exchanges claimed tokens.
type Swapper interface {
	Swap(ctx context.Context, params swap.Params) error
}

var (
	_ Airdrop      = (*chain.ClaimContract)(nil)
	_ TokenBalance = (*chain.Token)(nil)
	_ GasWaiter    = (*gas.Gate)(nil)
	_ Swapper      = (*swap.Odos)(nil)
)

// Options configure the per-wallet workflow.
type Options struct {
	Mode        config.Mode
	MaxGwei     decimal.Decimal
	WaitTimeout time.Duration
	ClaimDelay  batch.Range
	// Settle pauses after a confirmed claim before reading balances.
	Settle time.Duration
}

// Claimer runs the claim workflow for one wallet at a time and is safe for concurrent use.
type Claimer struct {
	opts        Options
	airdrop     Airdrop
	airdropAddr common.Address
	token       TokenBalance
	tokenAddr   common.Address
	sender      swap.TxSender
	gate        GasWaiter
	swapper     Swapper
	rnd         batch.RandomSource
	logger      zerolog.Logger

	mu      sync.Mutex
	claimed map[common.Address]decimal.Decimal
}

// Deps bundles the collaborators a Claimer drives.
type Deps struct {
	Airdrop        Airdrop
	AirdropAddress common.Address
	Token          TokenBalance
	TokenAddress   common.Address
	Sender         swap.TxSender
	Gate           GasWaiter
	// Swapper is required in claim_swap mode only.
	Swapper Swapper
	Random  batch.RandomSource
}

// New validates opts against deps and returns a Claimer.
func New(opts Options, deps Deps, logger zerolog.Logger) (*Claimer, error) {
	switch opts.Mode {
	case config.ModeClaim, config.ModeClaimWithdraw:
	case config.ModeClaimSwap:
		if deps.Swapper == nil {
			return nil, fmt.Errorf("%w: swapper is required for mode %s", batch.ErrConfig, opts.Mode)
		}
	default:
		return nil, fmt.Errorf("%w: unknown mode %q", batch.ErrConfig, opts.Mode)
	}
	if deps.Airdrop == nil || deps.Token == nil || deps.Sender == nil || deps.Gate == nil {
		return nil, fmt.Errorf("%w: claimer dependencies are incomplete", batch.ErrConfig)
	}
	if err := opts.ClaimDelay.Validate(); err != nil {
		return nil, err
	}
	rnd := deps.Random
	if rnd == nil {
		rnd = batch.DefaultRandom()
	}
	return &Claimer{
		opts:        opts,
		airdrop:     deps.Airdrop,
		airdropAddr: deps.AirdropAddress,
		token:       deps.Token,
		tokenAddr:   deps.TokenAddress,
		sender:      deps.Sender,
		gate:        deps.Gate,
		swapper:     deps.Swapper,
		rnd:         rnd,
		logger:      logger.With().Str("component", "claim").Logger(),
		claimed:     make(map[common.Address]decimal.Decimal),
	}, nil
}

// Jobs turns wallets into batch jobs keyed by address.
func (c *Claimer) Jobs(wallets []wallet.Wallet) []batch.Job {
	jobs := make([]batch.Job, 0, len(wallets))
	for _, w := range wallets {
		w := w
		jobs = append(jobs, batch.Job{
			ID: w.Address.Hex(),
			Body: func(ctx context.Context) (decimal.Decimal, error) {
				return c.ProcessWallet(ctx, w)
			},
		})
	}
	return jobs
}

// ProcessWallet claims, then swaps or withdraws depending on mode, then sleeps.
// The returned value is the allocation claimed by this process, zero when skipped.
func (c *Claimer) ProcessWallet(ctx context.Context, w wallet.Wallet) (decimal.Decimal, error) {
	logger := c.logger.With().Str("wallet", w.Address.Hex()).Logger()

	value, err := c.claim(ctx, w, logger)
	if err != nil {
		return decimal.Zero, err
	}
	// A confirmed claim stays counted even when the run is stopping.
	if ctxErr := ctx.Err(); ctxErr != nil && value.IsPositive() {
		logger.Warn().Err(ctxErr).Str("claimed", value.String()).Msg("interrupted after claim, follow-up skipped")
		return value, nil
	}

	switch c.opts.Mode {
	case config.ModeClaimSwap:
		err = c.swap(ctx, w, logger)
	case config.ModeClaimWithdraw:
		err = c.withdraw(ctx, w, logger)
	}
	if err != nil {
		return decimal.Zero, err
	}

	pause := c.opts.ClaimDelay.Draw(c.rnd)
	if pause > 0 {
		logger.Info().Dur("sleep", pause).Msg("sleeping before next wallet")
		timer := time.NewTimer(pause)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			if value.IsPositive() {
				return value, nil
			}
			return decimal.Zero, ctx.Err()
		case <-timer.C:
		}
	}
	return value, nil
}

func (c *Claimer) claim(ctx context.Context, w wallet.Wallet, logger zerolog.Logger) (decimal.Decimal, error) {
	done, err := c.airdrop.HasClaimed(ctx, w.Address)
	if err != nil {
		return decimal.Zero, fmt.Errorf("check claim status: %w", err)
	}
	if done {
		// A retry after a failed swap or withdraw still reports what this run claimed.
		if prior, ok := c.priorClaim(w.Address); ok {
			return prior, nil
		}
		logger.Info().Msg("already claimed, skipping")
		return decimal.Zero, nil
	}

	raw, err := c.airdrop.CalculateAllocation(ctx, w.Address)
	if err != nil {
		return decimal.Zero, fmt.Errorf("calculate allocation: %w", err)
	}
	if raw.Sign() == 0 {
		logger.Info().Msg("not eligible, skipping")
		return decimal.Zero, nil
	}
	allocation := chain.FormatUnits(raw)

	fees, err := c.gate.WaitFor(ctx, c.opts.MaxGwei, c.opts.WaitTimeout)
	if err != nil {
		return decimal.Zero, fmt.Errorf("wait for gas: %w", err)
	}

	data, err := c.airdrop.PackClaim()
	if err != nil {
		return decimal.Zero, batch.Permanent(err)
	}
	req := chain.TxRequest{
		To:                   c.airdropAddr,
		Data:                 data,
		MaxFeePerGas:         fees.MaxFeePerGas,
		MaxPriorityFeePerGas: fees.MaxPriorityFeePerGas,
	}
	if _, err := c.send(ctx, w.Key, req, fmt.Sprintf("Claim airdrop, allocation: %s", allocation)); err != nil {
		return decimal.Zero, err
	}

	c.mu.Lock()
	c.claimed[w.Address] = allocation
	c.mu.Unlock()

	if c.opts.Settle > 0 {
		timer := time.NewTimer(c.opts.Settle)
		select {
		case <-ctx.Done():
		case <-timer.C:
		}
		timer.Stop()
	}
	return allocation, nil
}

func (c *Claimer) swap(ctx context.Context, w wallet.Wallet, logger zerolog.Logger) error {
	balance, err := c.token.BalanceOf(ctx, w.Address)
	if err != nil {
		return fmt.Errorf("token balance: %w", err)
	}
	if balance.Sign() == 0 {
		logger.Info().Msg("no token balance to swap, skipping")
		return nil
	}
	return c.swapper.Swap(ctx, swap.Params{
		Key:      w.Key,
		TokenIn:  c.tokenAddr,
		TokenOut: swap.NativeToken,
		Amount:   balance,
	})
}

func (c *Claimer) withdraw(ctx context.Context, w wallet.Wallet, logger zerolog.Logger) error {
	if w.Withdraw == nil {
		return batch.Permanent(errors.New("withdraw address is not set"))
	}
	balance, err := c.token.BalanceOf(ctx, w.Address)
	if err != nil {
		return fmt.Errorf("token balance: %w", err)
	}
	if balance.Sign() == 0 {
		logger.Info().Msg("no token balance to withdraw, skipping")
		return nil
	}
	data, err := c.token.PackTransfer(*w.Withdraw, balance)
	if err != nil {
		return batch.Permanent(err)
	}
	label := fmt.Sprintf("Withdraw %s to %s", chain.FormatUnits(balance), w.Withdraw.Hex())
	_, err = c.send(ctx, w.Key, chain.TxRequest{To: c.tokenAddr, Data: data}, label)
	return err
}

func (c *Claimer) send(ctx context.Context, key *ecdsa.PrivateKey, req chain.TxRequest, label string) (*types.Receipt, error) {
	receipt, err := c.sender.Send(ctx, key, req, label)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", label, err)
	}
	return receipt, nil
}

func (c *Claimer) priorClaim(addr common.Address) (decimal.Decimal, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.claimed[addr]
	return v, ok
}

// Claimed returns the total claimed by this process so far.
func (c *Claimer) Claimed() decimal.Decimal {
	c.mu.Lock()
	defer c.mu.Unlock()
	total := decimal.Zero
	for _, v := range c.claimed {
		total = total.Add(v)
	}
	return total
}
