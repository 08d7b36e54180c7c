package app

import (
	"bytes"
	"context"
	"errors"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"lineaclaim/internal/config"
	"lineaclaim/internal/gas"
	"lineaclaim/internal/storage"
	"lineaclaim/internal/wallet"
)

const testKey = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

type stubAirdrop struct {
	claimed map[common.Address]bool
	alloc   *big.Int
	err     error
}

func (s stubAirdrop) HasClaimed(ctx context.Context, user common.Address) (bool, error) {
	return s.claimed[user], s.err
}

func (s stubAirdrop) CalculateAllocation(ctx context.Context, user common.Address) (*big.Int, error) {
	return s.alloc, nil
}

func (s stubAirdrop) PackClaim() ([]byte, error) { return nil, nil }

type stubToken struct{ balance *big.Int }

func (s stubToken) BalanceOf(ctx context.Context, owner common.Address) (*big.Int, error) {
	return s.balance, nil
}

func (s stubToken) PackTransfer(recipient common.Address, amount *big.Int) ([]byte, error) {
	return nil, nil
}

func testApp(t *testing.T, cfg *config.Config) (*App, *bytes.Buffer) {
	t.Helper()
	var out bytes.Buffer
	a := NewApp(cfg, zerolog.Nop())
	a.Out = &out
	return a, &out
}

func TestWriteRuns(t *testing.T) {
	started := time.Date(2025, 9, 10, 12, 0, 0, 0, time.UTC)
	finished := started.Add(90 * time.Second)
	var buf bytes.Buffer
	err := writeRuns(&buf, []storage.Run{
		{ID: 2, StartedAt: started, FinishedAt: &finished, Mode: "claim", Expected: 3, Succeeded: 2, ClaimedTotal: decimal.RequireFromString("10.5"), Failed: []string{"0xdead"}},
		{ID: 3, StartedAt: started, Mode: "claim_swap", Expected: 1, ClaimedTotal: decimal.Zero},
	})
	if err != nil {
		t.Fatalf("writeRuns: %v", err)
	}
	out := buf.String()
	for _, want := range []string{"1m30s", "2/3", "10.50", "0xdead", "running"} {
		if !strings.Contains(out, want) {
			t.Fatalf("output missing %q:\n%s", want, out)
		}
	}

	buf.Reset()
	if err := writeRuns(&buf, nil); err != nil || !strings.Contains(buf.String(), "no runs found") {
		t.Fatalf("empty output = %q, %v", buf.String(), err)
	}
}

func TestScanWallets(t *testing.T) {
	wallets, err := wallet.Parse(strings.NewReader(testKey + "\n"))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	alloc := new(big.Int).Mul(big.NewInt(250), big.NewInt(1e18))
	statuses, err := scanWallets(context.Background(), wallets, stubAirdrop{alloc: alloc}, stubToken{balance: big.NewInt(0)}, 4)
	if err != nil {
		t.Fatalf("scanWallets: %v", err)
	}
	if len(statuses) != 1 || !statuses[0].Allocation.Equal(decimal.NewFromInt(250)) || statuses[0].Claimed {
		t.Fatalf("statuses = %+v", statuses)
	}

	var buf bytes.Buffer
	if err := writeStatuses(&buf, statuses); err != nil {
		t.Fatalf("writeStatuses: %v", err)
	}
	if !strings.Contains(buf.String(), "claimable wallets: 1, claimable total: 250.00") {
		t.Fatalf("unexpected output:\n%s", buf.String())
	}
}

func TestScanWalletsError(t *testing.T) {
	wallets, _ := wallet.Parse(strings.NewReader(testKey + "\n"))
	_, err := scanWallets(context.Background(), wallets, stubAirdrop{err: errors.New("rpc down")}, stubToken{}, 0)
	if err == nil || !strings.Contains(err.Error(), "rpc down") {
		t.Fatalf("expected rpc error, got %v", err)
	}
}

func TestWriteSample(t *testing.T) {
	var buf bytes.Buffer
	sample := gas.Sample{
		MaxFeePerGas:         big.NewInt(210),
		MaxPriorityFeePerGas: big.NewInt(10),
		Gwei:                 decimal.NewFromInt(0),
		ObservedAt:           time.Now(),
	}
	if err := writeSample(&buf, sample, 0); err != nil {
		t.Fatalf("writeSample: %v", err)
	}
	if !strings.Contains(buf.String(), "max_fee_per_gas: 210 wei") {
		t.Fatalf("unexpected output %q", buf.String())
	}
}

func TestLoadWalletsRequiresWithdrawAddress(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wallets.txt")
	if err := os.WriteFile(path, []byte(testKey+"\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg := &config.Config{Wallets: config.WalletsConfig{Path: path}, Batch: config.BatchConfig{Mode: config.ModeClaimWithdraw}}
	a, _ := testApp(t, cfg)
	if _, err := a.loadWallets(); err == nil || !strings.Contains(err.Error(), "withdraw address") {
		t.Fatalf("expected withdraw error, got %v", err)
	}

	cfg.Batch.Mode = config.ModeClaim
	wallets, err := a.loadWallets()
	if err != nil || len(wallets) != 1 {
		t.Fatalf("loadWallets = %d, %v", len(wallets), err)
	}
}

func TestExportRequiresOutput(t *testing.T) {
	a, _ := testApp(t, &config.Config{Export: config.ExportConfig{MaxDataPoints: 10}})
	if err := a.Export(context.Background(), ExportOptions{}); err == nil {
		t.Fatal("expected error without --csv/--png")
	}
	if err := a.Export(context.Background(), ExportOptions{CSVPath: "x.csv"}); err == nil || !strings.Contains(err.Error(), "database not configured") {
		t.Fatalf("expected database error, got %v", err)
	}
}

func TestShowRequiresDatabase(t *testing.T) {
	a, _ := testApp(t, &config.Config{})
	if err := a.Show(context.Background(), ShowOptions{Limit: 5}); err == nil {
		t.Fatal("expected database error")
	}
}

func TestNotifyTestDisabled(t *testing.T) {
	a, _ := testApp(t, &config.Config{})
	if err := a.NotifyTest(context.Background()); err == nil {
		t.Fatal("expected error when alerting is disabled")
	}
}

func TestRunRejectsSwapOnUnsupportedChain(t *testing.T) {
	cfg := &config.Config{
		Batch: config.BatchConfig{Mode: config.ModeClaimSwap},
		Chain: config.ChainConfig{ChainID: 999999},
	}
	a, _ := testApp(t, cfg)
	if err := a.Run(context.Background()); err == nil || !strings.Contains(err.Error(), "not supported") {
		t.Fatalf("expected unsupported chain error, got %v", err)
	}
}
