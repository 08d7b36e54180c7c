package swap

import (
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/rs/zerolog"

	"lineaclaim/internal/batch"
	"lineaclaim/internal/chain"
)

const routerHex = "0x2d8879046f1559E53eb052E949e9544bCB72f414"

type allowanceCaller struct {
	allowance *big.Int
}

func (c allowanceCaller) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	uint256, _ := abi.NewType("uint256", "", nil)
	return abi.Arguments{{Type: uint256}}.Pack(c.allowance)
}

type recordingSender struct {
	mu     sync.Mutex
	labels []string
	reqs   []chain.TxRequest
}

func (s *recordingSender) Send(ctx context.Context, key *ecdsa.PrivateKey, req chain.TxRequest, label string) (*types.Receipt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.labels = append(s.labels, label)
	s.reqs = append(s.reqs, req)
	return &types.Receipt{Status: types.ReceiptStatusSuccessful}, nil
}

func odosServer(t *testing.T, simulation map[string]any, quoteCalls *atomic.Int32) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case strings.HasPrefix(r.URL.Path, "/info/contract-info/v3/59144"):
			_ = json.NewEncoder(w).Encode(map[string]any{"routerAddress": routerHex})
		case r.URL.Path == "/sor/quote/v3":
			quoteCalls.Add(1)
			var body map[string]any
			if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
				t.Errorf("decode quote body: %v", err)
			}
			if body["simple"] != true || body["chainId"] != float64(59144) {
				t.Errorf("unexpected quote payload %v", body)
			}
			_ = json.NewEncoder(w).Encode(map[string]any{"pathId": "path-1"})
		case r.URL.Path == "/sor/assemble":
			_ = json.NewEncoder(w).Encode(map[string]any{
				"transaction": map[string]any{
					"gas":   250000,
					"value": "0",
					"to":    routerHex,
					"data":  "0x83bd37f9",
				},
				"simulation": simulation,
			})
		default:
			w.WriteHeader(http.StatusNotFound)
			_ = json.NewEncoder(w).Encode(map[string]any{"detail": "not found"})
		}
	}))
}

func testKey(t *testing.T) *ecdsa.PrivateKey {
	t.Helper()
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	return key
}

func TestSwapApprovesAndSends(t *testing.T) {
	var quotes atomic.Int32
	srv := odosServer(t, map[string]any{"isSuccess": true, "amountsOut": []any{1234}}, &quotes)
	defer srv.Close()

	sender := &recordingSender{}
	odos := NewOdos(Options{BaseURL: srv.URL, ChainID: 59144, SlippagePct: 1, Timeout: time.Second},
		allowanceCaller{allowance: big.NewInt(0)}, sender, zerolog.Nop())

	token := common.HexToAddress("0x1789e0043623282D5DCc7F213d703C6D8BAfBB04")
	err := odos.Swap(context.Background(), Params{Key: testKey(t), TokenIn: token, TokenOut: NativeToken, Amount: big.NewInt(1e18)})
	if err != nil {
		t.Fatalf("Swap: %v", err)
	}

	if len(sender.reqs) != 2 {
		t.Fatalf("expected approve + swap, got %d transactions", len(sender.reqs))
	}
	if sender.reqs[0].To != token {
		t.Fatalf("approval should target the token, got %s", sender.reqs[0].To.Hex())
	}
	swapReq := sender.reqs[1]
	if swapReq.To != common.HexToAddress(routerHex) || swapReq.Gas != 250000 {
		t.Fatalf("unexpected swap request %+v", swapReq)
	}
	if len(swapReq.Data) != 4 {
		t.Fatalf("swap data = %x", swapReq.Data)
	}
}

func TestSwapSkipsApprovalWithAllowance(t *testing.T) {
	var quotes atomic.Int32
	srv := odosServer(t, map[string]any{"isSuccess": true, "amountsOut": []any{"5"}}, &quotes)
	defer srv.Close()

	sender := &recordingSender{}
	odos := NewOdos(Options{BaseURL: srv.URL, ChainID: 59144},
		allowanceCaller{allowance: big.NewInt(1e18)}, sender, zerolog.Nop())

	err := odos.Swap(context.Background(), Params{Key: testKey(t), TokenIn: common.HexToAddress("0x01"), Amount: big.NewInt(10)})
	if err != nil {
		t.Fatalf("Swap: %v", err)
	}
	if len(sender.reqs) != 1 {
		t.Fatalf("expected only the swap transaction, got %d", len(sender.reqs))
	}
}

func TestSwapRetriesFailedSimulation(t *testing.T) {
	var quotes atomic.Int32
	srv := odosServer(t, map[string]any{"isSuccess": false, "simulationError": map[string]any{"type": "revert"}}, &quotes)
	defer srv.Close()

	sender := &recordingSender{}
	odos := NewOdos(Options{
		BaseURL: srv.URL,
		ChainID: 59144,
		Retry:   batch.RetryPolicy{MaxRetries: 2, Delay: time.Millisecond},
	}, allowanceCaller{allowance: big.NewInt(1e18)}, sender, zerolog.Nop())

	err := odos.Swap(context.Background(), Params{Key: testKey(t), TokenIn: common.HexToAddress("0x01"), Amount: big.NewInt(10)})
	if err == nil || !strings.Contains(err.Error(), "simulation failed") {
		t.Fatalf("expected simulation failure, got %v", err)
	}
	if quotes.Load() != 3 {
		t.Fatalf("quote requested %d times, want 3", quotes.Load())
	}
	if len(sender.reqs) != 0 {
		t.Fatal("failed simulation must not send a transaction")
	}
}

func TestValidateSimulation(t *testing.T) {
	in, out := common.HexToAddress("0x01"), common.HexToAddress("0x02")
	if err := validateSimulation(assembleResponse{}, in, out); err == nil {
		t.Fatal("missing simulation should fail")
	}

	var res assembleResponse
	if err := json.Unmarshal([]byte(`{"simulation":{"isSuccess":true,"amountsOut":[0]}}`), &res); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if err := validateSimulation(res, in, out); err == nil {
		t.Fatal("zero output should fail")
	}
}

func TestSwapUnsupportedChain(t *testing.T) {
	odos := NewOdos(Options{ChainID: 999999}, allowanceCaller{}, &recordingSender{}, zerolog.Nop())
	if err := odos.Swap(context.Background(), Params{Key: testKey(t), Amount: big.NewInt(1)}); err == nil {
		t.Fatal("unsupported chain should fail")
	}
	if !Supports(59144) || Supports(999999) {
		t.Fatal("Supports mismatch")
	}
	if len(SupportedChains()) == 0 {
		t.Fatal("SupportedChains empty")
	}
}

func TestParseHTTPError(t *testing.T) {
	if err := parseHTTPError(422, []byte(`{"detail":"bad amount"}`)); !strings.Contains(err.Error(), "bad amount") {
		t.Fatalf("unexpected error %v", err)
	}
	if err := parseHTTPError(500, nil); err.Error() != "odos api error (500)" {
		t.Fatalf("unexpected error %v", err)
	}
}
