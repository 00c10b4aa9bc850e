package ledgerclient

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/evetabi/vault/internal/metrics"
)

// HTTPClient is the production Client, talking to an ICRC-1/ICRC-2 ledger
// canister through its HTTP gateway (spec.md §6). Grounded on the teacher's
// PriceService: a *http.Client with a fixed timeout, a context-aware
// doPost helper, and JSON (un)marshaling into small anonymous
// request/response structs per call.
type HTTPClient struct {
	client  *http.Client
	baseURL string
}

// NewHTTPClient builds an HTTPClient pointed at the ledger canister's base
// URL (e.g. "https://icp0.io/api/v2/canister/<canister-id>").
func NewHTTPClient(baseURL string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
	}
}

type wireAccount struct {
	Owner      string `json:"owner"`
	Subaccount string `json:"subaccount,omitempty"` // hex-encoded 32 bytes
}

func toWireAccount(a Account) wireAccount {
	w := wireAccount{Owner: a.Owner}
	if a.Subaccount != nil {
		w.Subaccount = hex.EncodeToString(a.Subaccount[:])
	}
	return w
}

type transferRequest struct {
	FromSubaccount string      `json:"from_subaccount,omitempty"`
	To             wireAccount `json:"to"`
	Amount         uint64      `json:"amount"`
	Fee            *uint64     `json:"fee,omitempty"`
	Memo           string      `json:"memo,omitempty"`
	CreatedAtTime  uint64      `json:"created_at_time"`
}

type transferFromRequest struct {
	SpenderSubaccount string      `json:"spender_subaccount,omitempty"`
	From              wireAccount `json:"from"`
	To                wireAccount `json:"to"`
	Amount            uint64      `json:"amount"`
	Fee               *uint64     `json:"fee,omitempty"`
	Memo              string      `json:"memo,omitempty"`
	CreatedAtTime     uint64      `json:"created_at_time"`
}

type transferResponse struct {
	BlockIndex *uint64            `json:"block_index"`
	Error      *wireTransferError `json:"error"`
}

type wireTransferError struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// Transfer implements Client.
func (c *HTTPClient) Transfer(ctx context.Context, args TransferArgs) (uint64, error) {
	req := transferRequest{
		To:            toWireAccount(args.To),
		Amount:        args.Amount,
		Fee:           args.Fee,
		CreatedAtTime: args.CreatedAtTime,
	}
	if args.FromSubaccount != nil {
		req.FromSubaccount = hex.EncodeToString(args.FromSubaccount[:])
	}
	if len(args.Memo) > 0 {
		req.Memo = hex.EncodeToString(args.Memo)
	}

	var resp transferResponse
	if err := c.doPost(ctx, "/icrc1_transfer", req, &resp); err != nil {
		// Transport-level failure: caller must treat as Uncertain
		// (spec.md §4.5's SysTransient/Unknown row).
		return 0, err
	}
	if resp.Error != nil {
		return 0, &TransferError{Kind: TransferErrorKind(resp.Error.Kind), Message: resp.Error.Message}
	}
	if resp.BlockIndex == nil {
		return 0, fmt.Errorf("ledgerclient: transfer response missing block_index")
	}
	return *resp.BlockIndex, nil
}

// TransferFrom implements Client.
func (c *HTTPClient) TransferFrom(ctx context.Context, args TransferFromArgs) (uint64, error) {
	req := transferFromRequest{
		From:          toWireAccount(args.From),
		To:            toWireAccount(args.To),
		Amount:        args.Amount,
		Fee:           args.Fee,
		CreatedAtTime: args.CreatedAtTime,
	}
	if args.SpenderSubaccount != nil {
		req.SpenderSubaccount = hex.EncodeToString(args.SpenderSubaccount[:])
	}
	if len(args.Memo) > 0 {
		req.Memo = hex.EncodeToString(args.Memo)
	}

	var resp transferResponse
	if err := c.doPost(ctx, "/icrc2_transfer_from", req, &resp); err != nil {
		return 0, err
	}
	if resp.Error != nil {
		return 0, &TransferError{Kind: TransferErrorKind(resp.Error.Kind), Message: resp.Error.Message}
	}
	if resp.BlockIndex == nil {
		return 0, fmt.Errorf("ledgerclient: transfer_from response missing block_index")
	}
	return *resp.BlockIndex, nil
}

// BalanceOf implements Client.
func (c *HTTPClient) BalanceOf(ctx context.Context, account Account) (uint64, error) {
	var resp struct {
		Balance uint64 `json:"balance"`
	}
	if err := c.doPost(ctx, "/icrc1_balance_of", toWireAccount(account), &resp); err != nil {
		return 0, err
	}
	return resp.Balance, nil
}

// doPost marshals body as JSON, posts it to baseURL+path, and unmarshals
// the response into out. Mirrors the teacher's doGet helper in
// internal/service/price_service.go, adapted to POST with a JSON body
// since ledger calls are RPCs rather than plain GETs.
func (c *HTTPClient) doPost(ctx context.Context, path string, body, out interface{}) error {
	defer metrics.ObserveLedgerCall(path, time.Now())

	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "evetabi-vault/1.0")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("http post %s: %w", path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("ledger canister %s: unexpected status %d: %s", path, resp.StatusCode, raw)
	}

	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("unmarshal response from %s: %w", path, err)
	}
	return nil
}
