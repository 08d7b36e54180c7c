package storage

import (
	"time"

	"github.com/shopspring/decimal"
)

// Run is one batch execution over the wallet list.
type Run struct {
	ID           int64
	StartedAt    time.Time
	FinishedAt   *time.Time
	Mode         string
	Expected     int
	Succeeded    int
	ClaimedTotal decimal.Decimal
	Failed       []string
}

// Done reports whether the run has been finalised.
func (r Run) Done() bool { return r.FinishedAt != nil }

// WalletResult is the terminal outcome of one wallet within a run.
type WalletResult struct {
	RunID      int64
	Wallet     string
	Success    bool
	Value      decimal.Decimal
	Attempts   int
	Error      *string
	FinishedAt time.Time
}
