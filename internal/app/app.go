package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/big"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"lineaclaim/internal/alerting"
	"lineaclaim/internal/batch"
	"lineaclaim/internal/chain"
	"lineaclaim/internal/claim"
	"lineaclaim/internal/config"
	"lineaclaim/internal/gas"
	"lineaclaim/internal/logging"
	"lineaclaim/internal/service"
	"lineaclaim/internal/storage"
	"lineaclaim/internal/swap"
	"lineaclaim/internal/wallet"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
	// Out receives human-readable command output.
	Out io.Writer
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logging.Component(logger, "app"), Out: os.Stdout}
}

// chainDeps bundles the on-chain collaborators shared by commands.
type chainDeps struct {
	backend *chain.Fallback
	fees    *gas.FeeEstimator
	gate    *gas.Gate
	sender  *chain.Sender
	airdrop *chain.ClaimContract
	token   *chain.Token
}

func (d *chainDeps) Close() {
	if d.gate != nil {
		d.gate.Close()
	}
	if d.backend != nil {
		d.backend.Close()
	}
}

func (a *App) dialChain(ctx context.Context) (*chainDeps, error) {
	cfg := a.Config.Chain

	backend, err := chain.Dial(ctx, cfg.RPCURLs, cfg.RequestTimeout, a.Logger)
	if err != nil {
		return nil, err
	}

	chainID, err := backend.ChainID(ctx)
	if err != nil {
		backend.Close()
		return nil, fmt.Errorf("read chain id: %w", err)
	}
	if chainID.Int64() != cfg.ChainID {
		backend.Close()
		return nil, fmt.Errorf("rpc serves chain %s, expected %d", chainID, cfg.ChainID)
	}

	fees := gas.NewFeeEstimator(backend, a.Config.Gas.BoostPriorityFeePct, a.Logger)
	gate, err := gas.NewGate(fees, gas.GateOptions{
		PollInterval:   a.Config.Gas.PollInterval,
		DefaultTimeout: a.Config.Gas.WaitTimeout,
	}, a.Logger)
	if err != nil {
		backend.Close()
		return nil, err
	}

	sender, err := chain.NewSender(backend, fees, chain.SenderOptions{
		ChainID:        big.NewInt(cfg.ChainID),
		ReceiptTimeout: cfg.TxTimeout,
	}, a.Logger)
	if err != nil {
		gate.Close()
		backend.Close()
		return nil, err
	}

	return &chainDeps{
		backend: backend,
		fees:    fees,
		gate:    gate,
		sender:  sender,
		airdrop: chain.NewClaimContract(common.HexToAddress(cfg.ClaimContract), backend),
		token:   chain.NewToken(common.HexToAddress(cfg.TokenAddress), backend),
	}, nil
}

func (a *App) newNotifier() alerting.Notifier {
	if a.Config.Alerting.Enabled && a.Config.Alerting.Telegram.Enabled {
		cfg := a.Config.Alerting.Telegram
		return alerting.NewTelegramNotifier(cfg.BotToken, cfg.ChatID, cfg.APIBase, 10*time.Second, a.Logger)
	}
	return nil
}

func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	if a.Config.Database.DSN == "" {
		return nil, nil, nil
	}

	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}

	store := storage.NewStore(pool)
	if err := store.EnsureSchema(ctx); err != nil {
		store.Close()
		return nil, nil, err
	}
	closer := func() {
		store.Close()
	}
	return store, closer, nil
}

func (a *App) loadWallets() ([]wallet.Wallet, error) {
	wallets, err := wallet.Load(a.Config.Wallets.Path)
	if err != nil {
		return nil, err
	}
	if a.Config.Batch.Mode == config.ModeClaimWithdraw {
		if err := wallet.RequireWithdraw(wallets); err != nil {
			return nil, fmt.Errorf("mode %s: %w", config.ModeClaimWithdraw, err)
		}
	}
	return wallets, nil
}

// Run executes one claim batch over every configured wallet.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	mode := a.Config.Batch.Mode
	if mode == config.ModeClaimSwap && !swap.Supports(a.Config.Chain.ChainID) {
		return fmt.Errorf("mode %s: swaps are not supported on chain %d (supported: %v)", mode, a.Config.Chain.ChainID, swap.SupportedChains())
	}

	wallets, err := a.loadWallets()
	if err != nil {
		return err
	}

	deps, err := a.dialChain(ctx)
	if err != nil {
		return err
	}
	defer deps.Close()

	var swapper claim.Swapper
	if mode == config.ModeClaimSwap {
		swapCfg := a.Config.Swap
		swapper = swap.NewOdos(swap.Options{
			BaseURL:     swapCfg.BaseURL,
			ChainID:     a.Config.Chain.ChainID,
			SlippagePct: swapCfg.SlippagePct,
			Retry:       batch.RetryPolicy{MaxRetries: swapCfg.Retries, Delay: swapCfg.RetryDelay},
			Timeout:     swapCfg.RequestTimeout,
			UserAgent:   swapCfg.UserAgent,
		}, deps.backend, deps.sender, a.Logger)
	}

	claimer, err := claim.New(claim.Options{
		Mode:        mode,
		MaxGwei:     decimal.NewFromFloat(a.Config.Gas.MaxGwei),
		WaitTimeout: a.Config.Gas.WaitTimeout,
		ClaimDelay:  a.Config.Batch.ClaimDelay,
		Settle:      time.Second,
	}, claim.Deps{
		Airdrop:        deps.airdrop,
		AirdropAddress: common.HexToAddress(a.Config.Chain.ClaimContract),
		Token:          deps.token,
		TokenAddress:   common.HexToAddress(a.Config.Chain.TokenAddress),
		Sender:         deps.sender,
		Gate:           deps.gate,
		Swapper:        swapper,
	}, a.Logger)
	if err != nil {
		return err
	}

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	var runStore storage.RunStore
	if store == nil {
		a.Logger.Warn().Msg("database.dsn not configured; run history disabled")
	} else {
		runStore = store
	}
	if closeStore != nil {
		defer closeStore()
	}

	svc := service.New(service.Options{
		Mode:        string(mode),
		Concurrency: a.Config.Batch.Threads,
		StartJitter: a.Config.Batch.StartDelay,
		Shuffle:     a.Config.Batch.Shuffle,
		Retry:       a.Config.Batch.RetryPolicy(),
		LockKey:     a.Config.Database.AdvisoryLockKey,
	}, claimer, runStore, a.newNotifier(), nil, a.Logger)

	a.Logger.Info().Int("wallets", len(wallets)).Str("mode", string(mode)).Msg("starting claim run")
	report, err := svc.Run(ctx, wallets)
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("claim run terminated with error")
		return err
	}
	if err != nil {
		a.Logger.Warn().Int("failed", len(report.Stats.Failed)).Msg("claim run interrupted")
		return nil
	}

	a.Logger.Info().Int64("run_id", report.RunID).
		Dur("duration", report.Duration).
		Str("claimed_by_process", claimer.Claimed().String()).
		Msg("claim run finished")
	return nil
}

// ExportOptions hold parameters for exporting a run.
type ExportOptions struct {
	RunID     int64
	PNGPath   string
	CSVPath   string
	MaxPoints int
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Limit int
}

// GasOptions configure the gas command.
type GasOptions struct {
	// MaxGwei of zero prints the current estimate without waiting.
	MaxGwei float64
	Timeout time.Duration
}

// CheckOptions configure the read-only wallet scan.
type CheckOptions struct {
	Workers int
}
