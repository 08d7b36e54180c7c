package wallet

import (
	"bufio"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// ErrNoWallets is returned when the wallet list is empty.
var ErrNoWallets = errors.New("no wallets found")

// Wallet is one account in the batch.
type Wallet struct {
	Key     *ecdsa.PrivateKey
	Address common.Address
	// Withdraw is the optional destination for claim_withdraw mode.
	Withdraw *common.Address
}

// Load reads wallets from a text file, one `privateKey[:withdrawAddress]` per line.
func Load(path string) ([]Wallet, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("read wallets %s: %w", path, err)
	}
	defer file.Close()

	wallets, err := Parse(file)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return wallets, nil
}

// Parse reads wallet entries from r. Blank lines are ignored; line numbers in errors are 1-based.
func Parse(r io.Reader) ([]Wallet, error) {
	scanner := bufio.NewScanner(r)
	var wallets []Wallet
	line := 0
	for scanner.Scan() {
		line++
		raw := strings.TrimSpace(scanner.Text())
		if raw == "" {
			continue
		}
		w, err := parseEntry(raw)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		wallets = append(wallets, w)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if len(wallets) == 0 {
		return nil, ErrNoWallets
	}
	return wallets, nil
}

func parseEntry(raw string) (Wallet, error) {
	keyHex, withdrawHex, _ := strings.Cut(raw, ":")
	keyHex = strings.TrimPrefix(strings.TrimSpace(keyHex), "0x")
	if len(keyHex) != 64 {
		return Wallet{}, errors.New("invalid private key")
	}

	key, err := crypto.HexToECDSA(keyHex)
	if err != nil {
		return Wallet{}, errors.New("invalid private key")
	}

	w := Wallet{Key: key, Address: crypto.PubkeyToAddress(key.PublicKey)}

	withdrawHex = strings.TrimSpace(withdrawHex)
	if withdrawHex != "" {
		if !common.IsHexAddress(withdrawHex) {
			return Wallet{}, fmt.Errorf("invalid withdraw address: %s", withdrawHex)
		}
		addr := common.HexToAddress(withdrawHex)
		w.Withdraw = &addr
	}
	return w, nil
}

// RequireWithdraw fails if any wallet lacks a withdraw address.
func RequireWithdraw(wallets []Wallet) error {
	var missing []string
	for _, w := range wallets {
		if w.Withdraw == nil {
			missing = append(missing, w.Address.Hex())
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("withdraw address is required for %d wallet(s): %s", len(missing), strings.Join(missing, ", "))
	}
	return nil
}
