package app

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"lineaclaim/internal/chain"
	"lineaclaim/internal/claim"
	"lineaclaim/internal/wallet"
)

// walletStatus is the read-only view of one wallet.
type walletStatus struct {
	Address    string
	Claimed    bool
	Allocation decimal.Decimal
	Balance    decimal.Decimal
	Withdraw   string
}

// Check prints claim status, allocation and token balance for every wallet without sending transactions.
func (a *App) Check(ctx context.Context, opts CheckOptions) error {
	wallets, err := a.loadWallets()
	if err != nil {
		return err
	}

	deps, err := a.dialChain(ctx)
	if err != nil {
		return err
	}
	defer deps.Close()

	statuses, err := scanWallets(ctx, wallets, deps.airdrop, deps.token, opts.Workers)
	if err != nil {
		return err
	}
	return writeStatuses(a.Out, statuses)
}

func scanWallets(ctx context.Context, wallets []wallet.Wallet, airdrop claim.Airdrop, token claim.TokenBalance, workers int) ([]walletStatus, error) {
	if workers < 1 {
		workers = 1
	}

	statuses := make([]walletStatus, len(wallets))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for i, w := range wallets {
		i, w := i, w
		g.Go(func() error {
			claimed, err := airdrop.HasClaimed(ctx, w.Address)
			if err != nil {
				return fmt.Errorf("%s: check claim status: %w", w.Address.Hex(), err)
			}
			allocation, err := airdrop.CalculateAllocation(ctx, w.Address)
			if err != nil {
				return fmt.Errorf("%s: calculate allocation: %w", w.Address.Hex(), err)
			}
			balance, err := token.BalanceOf(ctx, w.Address)
			if err != nil {
				return fmt.Errorf("%s: token balance: %w", w.Address.Hex(), err)
			}

			status := walletStatus{
				Address:    w.Address.Hex(),
				Claimed:    claimed,
				Allocation: chain.FormatUnits(allocation),
				Balance:    chain.FormatUnits(balance),
			}
			if w.Withdraw != nil {
				status.Withdraw = w.Withdraw.Hex()
			}
			statuses[i] = status
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return statuses, nil
}

func writeStatuses(out io.Writer, statuses []walletStatus) error {
	writer := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Wallet\tClaimed\tAllocation\tBalance\tWithdraw")

	total := decimal.Zero
	pending := 0
	for _, s := range statuses {
		fmt.Fprintf(writer, "%s\t%t\t%s\t%s\t%s\n",
			s.Address,
			s.Claimed,
			formatDecimal(s.Allocation, 2),
			formatDecimal(s.Balance, 2),
			s.Withdraw,
		)
		if !s.Claimed && s.Allocation.IsPositive() {
			total = total.Add(s.Allocation)
			pending++
		}
	}
	fmt.Fprintf(writer, "\nclaimable wallets: %d, claimable total: %s\n", pending, formatDecimal(total, 2))

	return writer.Flush()
}
