package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

const (
	claimABIJSON = `[
{"inputs":[{"internalType":"address","name":"user","type":"address"}],"name":"hasClaimed","outputs":[{"internalType":"bool","name":"claimed","type":"bool"}],"stateMutability":"view","type":"function"},
{"inputs":[{"internalType":"address","name":"_account","type":"address"}],"name":"calculateAllocation","outputs":[{"internalType":"uint256","name":"tokenAllocation","type":"uint256"}],"stateMutability":"view","type":"function"},
{"inputs":[],"name":"claim","outputs":[],"stateMutability":"nonpayable","type":"function"}]`

	erc20ABIJSON = `[
{"inputs":[{"internalType":"address","name":"account","type":"address"}],"name":"balanceOf","outputs":[{"internalType":"uint256","name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
{"inputs":[{"internalType":"address","name":"owner","type":"address"},{"internalType":"address","name":"spender","type":"address"}],"name":"allowance","outputs":[{"internalType":"uint256","name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
{"inputs":[{"internalType":"address","name":"spender","type":"address"},{"internalType":"uint256","name":"amount","type":"uint256"}],"name":"approve","outputs":[{"internalType":"bool","name":"","type":"bool"}],"stateMutability":"nonpayable","type":"function"},
{"inputs":[{"internalType":"address","name":"recipient","type":"address"},{"internalType":"uint256","name":"amount","type":"uint256"}],"name":"transfer","outputs":[{"internalType":"bool","name":"","type":"bool"}],"stateMutability":"nonpayable","type":"function"}]`
)

var (
	claimABI abi.ABI
	erc20ABI abi.ABI
)

func init() {
	var err error
	claimABI, err = abi.JSON(strings.NewReader(claimABIJSON))
	if err != nil {
		panic("failed to parse claim ABI: " + err.Error())
	}
	erc20ABI, err = abi.JSON(strings.NewReader(erc20ABIJSON))
	if err != nil {
		panic("failed to parse ERC-20 ABI: " + err.Error())
	}
}

// ContractCaller executes read-only calls.
type ContractCaller interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// FormatUnits converts a raw 18-decimal token amount to a decimal.
func FormatUnits(raw *big.Int) decimal.Decimal {
	return decimal.NewFromBigInt(raw, -18)
}

func callView(ctx context.Context, caller ContractCaller, parsed abi.ABI, addr common.Address, method string, args ...interface{}) ([]interface{}, error) {
	payload, err := parsed.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}
	res, err := caller.CallContract(ctx, ethereum.CallMsg{To: &addr, Data: payload}, nil)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", method, err)
	}
	outputs, err := parsed.Unpack(method, res)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", method, err)
	}
	if len(outputs) != 1 {
		return nil, fmt.Errorf("unexpected %s response", method)
	}
	return outputs, nil
}

func bigOutput(outputs []interface{}, method string) (*big.Int, error) {
	v, ok := outputs[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("failed to decode %s output", method)
	}
	return v, nil
}

// ClaimContract binds the airdrop claim contract.
type ClaimContract struct {
	Address common.Address
	caller  ContractCaller
}

// NewClaimContract binds address through caller.
func NewClaimContract(address common.Address, caller ContractCaller) *ClaimContract {
	return &ClaimContract{Address: address, caller: caller}
}

// HasClaimed reports whether user already claimed.
func (c *ClaimContract) HasClaimed(ctx context.Context, user common.Address) (bool, error) {
	outputs, err := callView(ctx, c.caller, claimABI, c.Address, "hasClaimed", user)
	if err != nil {
		return false, err
	}
	claimed, ok := outputs[0].(bool)
	if !ok {
		return false, errors.New("failed to decode hasClaimed output")
	}
	return claimed, nil
}

// CalculateAllocation returns the raw token allocation of user.
func (c *ClaimContract) CalculateAllocation(ctx context.Context, user common.Address) (*big.Int, error) {
	outputs, err := callView(ctx, c.caller, claimABI, c.Address, "calculateAllocation", user)
	if err != nil {
		return nil, err
	}
	return bigOutput(outputs, "calculateAllocation")
}

// PackClaim encodes claim().
func (c *ClaimContract) PackClaim() ([]byte, error) {
	return claimABI.Pack("claim")
}

// Token binds an ERC-20 contract.
type Token struct {
	Address common.Address
	caller  ContractCaller
}

// NewToken binds address through caller.
func NewToken(address common.Address, caller ContractCaller) *Token {
	return &Token{Address: address, caller: caller}
}

// BalanceOf returns the raw balance of owner.
func (t *Token) BalanceOf(ctx context.Context, owner common.Address) (*big.Int, error) {
	outputs, err := callView(ctx, t.caller, erc20ABI, t.Address, "balanceOf", owner)
	if err != nil {
		return nil, err
	}
	return bigOutput(outputs, "balanceOf")
}

// Allowance returns how much spender may pull from owner.
func (t *Token) Allowance(ctx context.Context, owner, spender common.Address) (*big.Int, error) {
	outputs, err := callView(ctx, t.caller, erc20ABI, t.Address, "allowance", owner, spender)
	if err != nil {
		return nil, err
	}
	return bigOutput(outputs, "allowance")
}

// PackApprove encodes approve(spender, amount).
func (t *Token) PackApprove(spender common.Address, amount *big.Int) ([]byte, error) {
	return erc20ABI.Pack("approve", spender, amount)
}

// PackTransfer encodes transfer(recipient, amount).
func (t *Token) PackTransfer(recipient common.Address, amount *big.Int) ([]byte, error) {
	return erc20ABI.Pack("transfer", recipient, amount)
}
