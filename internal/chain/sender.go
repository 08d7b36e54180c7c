package chain

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/rs/zerolog"

	"lineaclaim/internal/gas"
)

const defaultReceiptPoll = 2 * time.Second

// TxRequest describes a transaction to sign and broadcast.
type TxRequest struct {
	To    common.Address
	Data  []byte
	Value *big.Int
	// Gas is estimated when zero.
	Gas uint64
	// MaxFeePerGas and MaxPriorityFeePerGas are sampled when nil.
	MaxFeePerGas         *big.Int
	MaxPriorityFeePerGas *big.Int
}

// SenderOptions tune transaction submission.
type SenderOptions struct {
	ChainID        *big.Int
	ReceiptTimeout time.Duration
	ReceiptPoll    time.Duration
}

// Sender signs EIP-1559 transactions and waits for their receipts.
type Sender struct {
	backend Backend
	fees    gas.Sampler
	opts    SenderOptions
	logger  zerolog.Logger
}

// NewSender builds a sender. fees supplies caps for requests that leave them unset.
func NewSender(backend Backend, fees gas.Sampler, opts SenderOptions, logger zerolog.Logger) (*Sender, error) {
	if opts.ChainID == nil || opts.ChainID.Sign() <= 0 {
		return nil, errors.New("chain: chain id is required")
	}
	if opts.ReceiptTimeout <= 0 {
		opts.ReceiptTimeout = 3 * time.Minute
	}
	if opts.ReceiptPoll <= 0 {
		opts.ReceiptPoll = defaultReceiptPoll
	}
	return &Sender{
		backend: backend,
		fees:    fees,
		opts:    opts,
		logger:  logger.With().Str("component", "tx_sender").Logger(),
	}, nil
}

// Send signs req with key, broadcasts it and waits for a successful receipt.
func (s *Sender) Send(ctx context.Context, key *ecdsa.PrivateKey, req TxRequest, label string) (*types.Receipt, error) {
	from := crypto.PubkeyToAddress(key.PublicKey)
	logger := s.logger.With().Str("wallet", from.Hex()).Str("tx", label).Logger()

	value := req.Value
	if value == nil {
		value = new(big.Int)
	}

	maxFee, tip := req.MaxFeePerGas, req.MaxPriorityFeePerGas
	if maxFee == nil || tip == nil {
		sample, err := s.fees.FetchSample(ctx)
		if err != nil {
			return nil, fmt.Errorf("%s: fetch fees: %w", label, err)
		}
		maxFee, tip = sample.MaxFeePerGas, sample.MaxPriorityFeePerGas
	}

	nonce, err := s.backend.PendingNonceAt(ctx, from)
	if err != nil {
		return nil, fmt.Errorf("%s: nonce: %w", label, err)
	}

	gasLimit := req.Gas
	if gasLimit == 0 {
		to := req.To
		gasLimit, err = s.backend.EstimateGas(ctx, ethereum.CallMsg{
			From:      from,
			To:        &to,
			GasFeeCap: maxFee,
			GasTipCap: tip,
			Value:     value,
			Data:      req.Data,
		})
		if err != nil {
			return nil, fmt.Errorf("%s: estimate gas: %w", label, err)
		}
	}

	to := req.To
	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   s.opts.ChainID,
		Nonce:     nonce,
		GasTipCap: tip,
		GasFeeCap: maxFee,
		Gas:       gasLimit,
		To:        &to,
		Value:     value,
		Data:      req.Data,
	})

	signed, err := types.SignTx(tx, types.LatestSignerForChainID(s.opts.ChainID), key)
	if err != nil {
		return nil, fmt.Errorf("%s: sign: %w", label, err)
	}

	if err := s.backend.SendTransaction(ctx, signed); err != nil {
		return nil, fmt.Errorf("%s: send: %w", label, err)
	}
	logger.Info().Str("hash", signed.Hash().Hex()).Msg("transaction started")

	receipt, err := s.waitReceipt(ctx, signed.Hash())
	if err != nil {
		return nil, fmt.Errorf("%s: %s: %w", label, signed.Hash().Hex(), err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return nil, fmt.Errorf("%s: transaction %s reverted", label, signed.Hash().Hex())
	}

	logger.Info().Str("hash", signed.Hash().Hex()).Uint64("block", receipt.BlockNumber.Uint64()).Msg("transaction finished")
	return receipt, nil
}

func (s *Sender) waitReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opts.ReceiptTimeout)
	defer cancel()

	ticker := time.NewTicker(s.opts.ReceiptPoll)
	defer ticker.Stop()

	for {
		receipt, err := s.backend.TransactionReceipt(ctx, hash)
		if err == nil && receipt != nil {
			return receipt, nil
		}
		if err != nil && !errors.Is(err, ethereum.NotFound) {
			s.logger.Debug().Err(err).Str("hash", hash.Hex()).Msg("receipt lookup failed")
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("wait for receipt: %w", ctx.Err())
		case <-ticker.C:
		}
	}
}
