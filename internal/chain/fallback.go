package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/rs/zerolog"
)

// Backend is the slice of an Ethereum JSON-RPC client used by the claimer.
type Backend interface {
	ChainID(ctx context.Context) (*big.Int, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// Endpoint pairs an RPC URL with its client.
type Endpoint struct {
	URL    string
	Client Backend
}

// Fallback fans each call out to its endpoints in order and returns the first success.
type Fallback struct {
	endpoints []Endpoint
	timeout   time.Duration
	logger    zerolog.Logger
}

// NewFallback builds a fallback backend over endpoints. timeout bounds each per-endpoint call.
func NewFallback(endpoints []Endpoint, timeout time.Duration, logger zerolog.Logger) (*Fallback, error) {
	if len(endpoints) == 0 {
		return nil, errors.New("chain: at least one rpc endpoint is required")
	}
	return &Fallback{
		endpoints: endpoints,
		timeout:   timeout,
		logger:    logger.With().Str("component", "rpc_fallback").Logger(),
	}, nil
}

// Dial connects to every URL and returns a Fallback over them.
func Dial(ctx context.Context, urls []string, timeout time.Duration, logger zerolog.Logger) (*Fallback, error) {
	endpoints := make([]Endpoint, 0, len(urls))
	for _, url := range urls {
		client, err := ethclient.DialContext(ctx, url)
		if err != nil {
			for _, ep := range endpoints {
				ep.Client.(*ethclient.Client).Close()
			}
			return nil, fmt.Errorf("dial %s: %w", url, err)
		}
		endpoints = append(endpoints, Endpoint{URL: url, Client: client})
	}
	return NewFallback(endpoints, timeout, logger)
}

// Close releases clients that support it.
func (f *Fallback) Close() {
	for _, ep := range f.endpoints {
		if c, ok := ep.Client.(interface{ Close() }); ok {
			c.Close()
		}
	}
}

func call[T any](ctx context.Context, f *Fallback, method string, fn func(context.Context, Backend) (T, error)) (T, error) {
	var zero T
	errs := make([]error, 0, len(f.endpoints))

	for _, ep := range f.endpoints {
		if err := ctx.Err(); err != nil {
			return zero, err
		}

		callCtx, cancel := ctx, context.CancelFunc(func() {})
		if f.timeout > 0 {
			callCtx, cancel = context.WithTimeout(ctx, f.timeout)
		}
		res, err := fn(callCtx, ep.Client)
		cancel()
		if err == nil {
			return res, nil
		}

		if !errors.Is(err, ethereum.NotFound) {
			f.logger.Debug().Err(err).Str("rpc", ep.URL).Str("method", method).Msg("rpc call failed")
		}
		errs = append(errs, fmt.Errorf("%s: %w", ep.URL, err))
	}
	return zero, fmt.Errorf("%s failed on all endpoints: %w", method, errors.Join(errs...))
}

// ChainID implements Backend.
func (f *Fallback) ChainID(ctx context.Context) (*big.Int, error) {
	return call(ctx, f, "eth_chainId", func(ctx context.Context, b Backend) (*big.Int, error) {
		return b.ChainID(ctx)
	})
}

// CallContract implements Backend.
func (f *Fallback) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	return call(ctx, f, "eth_call", func(ctx context.Context, b Backend) ([]byte, error) {
		return b.CallContract(ctx, msg, blockNumber)
	})
}

// EstimateGas implements Backend.
func (f *Fallback) EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	return call(ctx, f, "eth_estimateGas", func(ctx context.Context, b Backend) (uint64, error) {
		return b.EstimateGas(ctx, msg)
	})
}

// PendingNonceAt implements Backend.
func (f *Fallback) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	return call(ctx, f, "eth_getTransactionCount", func(ctx context.Context, b Backend) (uint64, error) {
		return b.PendingNonceAt(ctx, account)
	})
}

// SuggestGasTipCap implements Backend.
func (f *Fallback) SuggestGasTipCap(ctx context.Context) (*big.Int, error) {
	return call(ctx, f, "eth_maxPriorityFeePerGas", func(ctx context.Context, b Backend) (*big.Int, error) {
		return b.SuggestGasTipCap(ctx)
	})
}

// SuggestGasPrice implements Backend.
func (f *Fallback) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	return call(ctx, f, "eth_gasPrice", func(ctx context.Context, b Backend) (*big.Int, error) {
		return b.SuggestGasPrice(ctx)
	})
}

// HeaderByNumber implements Backend.
func (f *Fallback) HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error) {
	return call(ctx, f, "eth_getBlockByNumber", func(ctx context.Context, b Backend) (*types.Header, error) {
		return b.HeaderByNumber(ctx, number)
	})
}

// SendTransaction implements Backend.
func (f *Fallback) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	_, err := call(ctx, f, "eth_sendRawTransaction", func(ctx context.Context, b Backend) (struct{}, error) {
		return struct{}{}, b.SendTransaction(ctx, tx)
	})
	return err
}

// TransactionReceipt implements Backend.
func (f *Fallback) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	return call(ctx, f, "eth_getTransactionReceipt", func(ctx context.Context, b Backend) (*types.Receipt, error) {
		return b.TransactionReceipt(ctx, txHash)
	})
}

var (
	_ Backend = (*Fallback)(nil)
	_ Backend = (*ethclient.Client)(nil)
)
