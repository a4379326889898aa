package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/tolelom/tolsettle/core"
)

// Client calls a node's JSON-RPC endpoint.
type Client struct {
	url   string
	token string
	http  *http.Client
	seq   atomic.Uint64
}

// NewClient returns a Client for url. token is sent as a bearer token when
// non-empty.
func NewClient(url, token string) *Client {
	return &Client{url: url, token: token, http: &http.Client{Timeout: 15 * time.Second}}
}

// Call invokes method with params and decodes the result into out. A JSON-RPC
// error is returned as *Error; anything else is a transport failure.
// A null result leaves out untouched and reports found=false.
func (c *Client) Call(ctx context.Context, method string, params, out any) (found bool, err error) {
	if params == nil {
		params = struct{}{}
	}
	raw, err := json.Marshal(params)
	if err != nil {
		return false, fmt.Errorf("marshal params: %w", err)
	}
	body, err := json.Marshal(Request{JSONRPC: "2.0", ID: c.seq.Add(1), Method: method, Params: raw})
	if err != nil {
		return false, fmt.Errorf("marshal request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return false, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.token)
	}

	httpResp, err := c.http.Do(httpReq)
	if err != nil {
		return false, err
	}
	defer httpResp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(httpResp.Body, 8<<20))
	if err != nil {
		return false, fmt.Errorf("read response: %w", err)
	}
	var resp Response
	if err := json.Unmarshal(data, &resp); err != nil {
		return false, fmt.Errorf("decode response (http %d): %w", httpResp.StatusCode, err)
	}
	if resp.Error != nil {
		return false, resp.Error
	}
	if len(resp.Result) == 0 || string(resp.Result) == "null" {
		return false, nil
	}
	if out != nil {
		if err := json.Unmarshal(resp.Result, out); err != nil {
			return true, fmt.Errorf("decode result: %w", err)
		}
	}
	return true, nil
}

// SendTx submits a signed transaction and returns its id.
func (c *Client) SendTx(ctx context.Context, tx *core.Transaction) (string, error) {
	var out struct {
		TxID string `json:"tx_id"`
	}
	if _, err := c.Call(ctx, "sendTx", tx, &out); err != nil {
		return "", err
	}
	return out.TxID, nil
}

// GetReceipt returns the receipt for txID, or nil if the transaction has not
// been included yet.
func (c *Client) GetReceipt(ctx context.Context, txID string) (*core.Receipt, error) {
	var r core.Receipt
	ok, err := c.Call(ctx, "getReceipt", map[string]string{"tx_id": txID}, &r)
	if err != nil || !ok {
		return nil, err
	}
	return &r, nil
}

// GetSession returns the session with id, or nil if absent.
func (c *Client) GetSession(ctx context.Context, id uint64) (*core.Session, error) {
	var s core.Session
	ok, err := c.Call(ctx, "getSession", map[string]uint64{"session_id": id}, &s)
	if err != nil || !ok {
		return nil, err
	}
	return &s, nil
}

// GetBlockHeight returns the node's tip height.
func (c *Client) GetBlockHeight(ctx context.Context) (int64, error) {
	var h int64
	_, err := c.Call(ctx, "getBlockHeight", nil, &h)
	return h, err
}

// IsResultProcessed reports whether resultHash has already settled a session.
func (c *Client) IsResultProcessed(ctx context.Context, resultHash string) (bool, error) {
	var seen bool
	_, err := c.Call(ctx, "isResultProcessed", map[string]string{"result_hash": resultHash}, &seen)
	return seen, err
}

// Account is the getBalance result.
type Account struct {
	Address string `json:"address"`
	Balance uint64 `json:"balance"`
	Nonce   uint64 `json:"nonce"`
}

// GetAccount returns the native balance and next nonce of address.
func (c *Client) GetAccount(ctx context.Context, address string) (*Account, error) {
	var a Account
	if _, err := c.Call(ctx, "getBalance", map[string]string{"address": address}, &a); err != nil {
		return nil, err
	}
	return &a, nil
}
