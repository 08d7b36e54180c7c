package swap

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"lineaclaim/internal/batch"
	"lineaclaim/internal/chain"
)

const (
	defaultBaseURL   = "https://api.odos.xyz"
	contractInfoPath = "/info/contract-info/v3/%d"
	quotePath        = "/sor/quote/v3"
	assemblePath     = "/sor/assemble"
)

// NativeToken is the pseudo-address Odos uses for the chain's native asset.
var NativeToken = common.Address{}

var supportedChains = []int64{1, 137, 42161, 10, 56, 8453, 43114, 250, 324, 534352, 34443, 59144, 5000, 130, 146, 252}

// TxSender signs and broadcasts transactions.
type TxSender interface {
	Send(ctx context.Context, key *ecdsa.PrivateKey, req chain.TxRequest, label string) (*types.Receipt, error)
}

// Options parameterise the Odos client.
type Options struct {
	BaseURL     string
	ChainID     int64
	SlippagePct float64
	Retry       batch.RetryPolicy
	Timeout     time.Duration
	UserAgent   string
}

// Params describe a single swap.
type Params struct {
	Key      *ecdsa.PrivateKey
	TokenIn  common.Address
	TokenOut common.Address
	Amount   *big.Int
	Label    string
}

// Odos swaps tokens through the Odos smart order router.
type Odos struct {
	opts    Options
	caller  chain.ContractCaller
	sender  TxSender
	client  *http.Client
	baseURL string
	logger  zerolog.Logger
}

// NewOdos builds an Odos client. caller reads allowances; sender submits approvals and swaps.
func NewOdos(opts Options, caller chain.ContractCaller, sender TxSender, logger zerolog.Logger) *Odos {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	if opts.Retry.Multiplier == 0 {
		opts.Retry.Multiplier = 1.5
	}
	return &Odos{
		opts:    opts,
		caller:  caller,
		sender:  sender,
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
		logger:  logger.With().Str("component", "odos").Logger(),
	}
}

// SupportedChains lists chain ids served by Odos.
func SupportedChains() []int64 {
	return slices.Clone(supportedChains)
}

// Supports reports whether chainID is served by Odos.
func Supports(chainID int64) bool {
	return slices.Contains(supportedChains, chainID)
}

// Swap executes params, retrying the whole quote/assemble/send sequence on failure.
func (o *Odos) Swap(ctx context.Context, params Params) error {
	if !Supports(o.opts.ChainID) {
		return fmt.Errorf("odos does not support chain %d", o.opts.ChainID)
	}
	if params.Amount == nil || params.Amount.Sign() <= 0 {
		return errors.New("swap amount must be positive")
	}

	from := crypto.PubkeyToAddress(params.Key.PublicKey)
	logger := o.logger.With().Str("wallet", from.Hex()).Logger()

	out := o.opts.Retry.Run(ctx, from.Hex(), func(ctx context.Context) (decimal.Decimal, error) {
		return decimal.Zero, o.execute(ctx, from, params)
	}, logger)
	return out.Err
}

func (o *Odos) execute(ctx context.Context, from common.Address, params Params) error {
	router, err := o.routerAddress(ctx)
	if err != nil {
		return err
	}

	if params.TokenIn != NativeToken {
		if err := o.approve(ctx, from, params, router); err != nil {
			return err
		}
	}

	quote, err := o.quote(ctx, quoteRequest{
		ChainID:              o.opts.ChainID,
		InputTokens:          []inputToken{{TokenAddress: params.TokenIn.Hex(), Amount: params.Amount.String()}},
		OutputTokens:         []outputToken{{TokenAddress: params.TokenOut.Hex(), Proportion: 1}},
		UserAddr:             from.Hex(),
		SlippageLimitPercent: o.opts.SlippagePct,
		Simple:               true,
	})
	if err != nil {
		return err
	}

	assembled, err := o.assemble(ctx, assembleRequest{UserAddr: from.Hex(), PathID: quote.PathID, Simulate: true})
	if err != nil {
		return err
	}

	if err := validateSimulation(assembled, params.TokenIn, params.TokenOut); err != nil {
		return err
	}

	req, err := assembled.Transaction.request()
	if err != nil {
		return err
	}

	label := params.Label
	if label == "" {
		label = fmt.Sprintf("Odos swap, amount: %s", chain.FormatUnits(params.Amount))
	}
	_, err = o.sender.Send(ctx, params.Key, req, label)
	return err
}

func (o *Odos) approve(ctx context.Context, owner common.Address, params Params, spender common.Address) error {
	token := chain.NewToken(params.TokenIn, o.caller)
	allowance, err := token.Allowance(ctx, owner, spender)
	if err != nil {
		return err
	}
	if allowance.Cmp(params.Amount) >= 0 {
		return nil
	}

	data, err := token.PackApprove(spender, params.Amount)
	if err != nil {
		return err
	}
	_, err = o.sender.Send(ctx, params.Key, chain.TxRequest{To: params.TokenIn, Data: data}, "Approve Odos router")
	return err
}

func (o *Odos) routerAddress(ctx context.Context) (common.Address, error) {
	var info contractInfo
	if err := o.do(ctx, http.MethodGet, fmt.Sprintf(contractInfoPath, o.opts.ChainID), nil, &info); err != nil {
		return common.Address{}, fmt.Errorf("contract info: %w", err)
	}
	if !common.IsHexAddress(info.RouterAddress) {
		return common.Address{}, fmt.Errorf("contract info: invalid router address %q", info.RouterAddress)
	}
	return common.HexToAddress(info.RouterAddress), nil
}

func (o *Odos) quote(ctx context.Context, req quoteRequest) (quoteResponse, error) {
	var res quoteResponse
	if err := o.do(ctx, http.MethodPost, quotePath, req, &res); err != nil {
		return quoteResponse{}, fmt.Errorf("quote: %w", err)
	}
	if res.PathID == "" {
		return quoteResponse{}, errors.New("quote: missing pathId")
	}
	return res, nil
}

func (o *Odos) assemble(ctx context.Context, req assembleRequest) (assembleResponse, error) {
	var res assembleResponse
	if err := o.do(ctx, http.MethodPost, assemblePath, req, &res); err != nil {
		return assembleResponse{}, fmt.Errorf("assemble: %w", err)
	}
	return res, nil
}

func (o *Odos) do(ctx context.Context, method, path string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, o.baseURL+path, body)
	if err != nil {
		return err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if ua := strings.TrimSpace(o.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	}

	resp, err := o.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return parseHTTPError(resp.StatusCode, raw)
	}
	return json.Unmarshal(raw, out)
}

func validateSimulation(res assembleResponse, tokenIn, tokenOut common.Address) error {
	sim := res.Simulation
	if sim == nil {
		return errors.New("simulation data is missing")
	}
	if !sim.IsSuccess {
		return fmt.Errorf("simulation failed for %s -> %s: %s", tokenIn.Hex(), tokenOut.Hex(), string(sim.SimulationError))
	}
	if len(sim.AmountsOut) > 0 && sim.AmountsOut[0].Sign() <= 0 {
		return fmt.Errorf("invalid simulation output amount: %s", sim.AmountsOut[0])
	}
	return nil
}

func parseHTTPError(status int, payload []byte) error {
	var apiErr struct {
		Detail  string `json:"detail"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(payload, &apiErr); err == nil {
		if apiErr.Detail != "" {
			return fmt.Errorf("odos api error (%d): %s", status, apiErr.Detail)
		}
		if apiErr.Message != "" {
			return fmt.Errorf("odos api error (%d): %s", status, apiErr.Message)
		}
	}
	if len(payload) > 0 {
		return fmt.Errorf("odos api error (%d): %s", status, strings.TrimSpace(string(payload)))
	}
	return fmt.Errorf("odos api error (%d)", status)
}

type contractInfo struct {
	RouterAddress string `json:"routerAddress"`
}

type inputToken struct {
	TokenAddress string `json:"tokenAddress"`
	Amount       string `json:"amount"`
}

type outputToken struct {
	TokenAddress string  `json:"tokenAddress"`
	Proportion   float64 `json:"proportion"`
}

type quoteRequest struct {
	ChainID              int64         `json:"chainId"`
	InputTokens          []inputToken  `json:"inputTokens"`
	OutputTokens         []outputToken `json:"outputTokens"`
	UserAddr             string        `json:"userAddr"`
	SlippageLimitPercent float64       `json:"slippageLimitPercent"`
	Simple               bool          `json:"simple"`
}

type quoteResponse struct {
	PathID      string   `json:"pathId"`
	OutAmounts  []string `json:"outAmounts"`
	GasEstimate float64  `json:"gasEstimate"`
}

type assembleRequest struct {
	UserAddr string `json:"userAddr"`
	PathID   string `json:"pathId"`
	Simulate bool   `json:"simulate"`
}

type assembledTx struct {
	Gas   uint64 `json:"gas"`
	Value string `json:"value"`
	To    string `json:"to"`
	From  string `json:"from"`
	Data  string `json:"data"`
}

func (t assembledTx) request() (chain.TxRequest, error) {
	if !common.IsHexAddress(t.To) {
		return chain.TxRequest{}, fmt.Errorf("assembled transaction has invalid to %q", t.To)
	}
	data, err := hexutil.Decode(t.Data)
	if err != nil {
		return chain.TxRequest{}, fmt.Errorf("assembled transaction data: %w", err)
	}
	value := new(big.Int)
	if t.Value != "" {
		if _, ok := value.SetString(t.Value, 0); !ok {
			return chain.TxRequest{}, fmt.Errorf("assembled transaction has invalid value %q", t.Value)
		}
	}
	return chain.TxRequest{To: common.HexToAddress(t.To), Data: data, Value: value, Gas: t.Gas}, nil
}

type simulation struct {
	IsSuccess       bool              `json:"isSuccess"`
	AmountsOut      []decimal.Decimal `json:"amountsOut"`
	SimulationError json.RawMessage   `json:"simulationError"`
}

type assembleResponse struct {
	Transaction assembledTx `json:"transaction"`
	Simulation  *simulation `json:"simulation"`
}
