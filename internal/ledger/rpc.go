package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/adamscao/certguard/pkg/digest"
)

const (
	methodStoreHash  = "ledger_storeHash"
	methodVerifyHash = "ledger_verifyHash"

	maxRPCResponseSize = 1 << 20
)

// RPCError is a JSON-RPC error object returned by the ledger gateway,
// e.g. a rejected or reverted transaction.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("ledger rpc error %d: %s", e.Code, e.Message)
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      string `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      string          `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *RPCError       `json:"error,omitempty"`
}

// RPC talks JSON-RPC 2.0 to a ledger gateway that fronts the hash registry contract
type RPC struct {
	url        string
	contract   string
	httpClient *http.Client
}

// NewRPC creates a JSON-RPC ledger client
func NewRPC(url, contractAddress string, httpClient *http.Client) *RPC {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &RPC{
		url:        url,
		contract:   contractAddress,
		httpClient: httpClient,
	}
}

// Store submits hashHex and waits for the gateway to return the transaction hash
func (c *RPC) Store(ctx context.Context, hashHex string) (string, error) {
	if !digest.Valid(hashHex) {
		return "", ErrInvalidHash
	}

	var txRef string
	if err := c.call(ctx, methodStoreHash, &txRef, c.contract, digest.Normalize(hashHex)); err != nil {
		return "", err
	}
	if txRef == "" {
		return "", fmt.Errorf("ledger returned an empty transaction reference")
	}

	return txRef, nil
}

// Verify asks the gateway whether hashHex is registered
func (c *RPC) Verify(ctx context.Context, hashHex string) (bool, error) {
	if !digest.Valid(hashHex) {
		return false, ErrInvalidHash
	}

	var stored bool
	if err := c.call(ctx, methodVerifyHash, &stored, c.contract, digest.Normalize(hashHex)); err != nil {
		return false, err
	}

	return stored, nil
}

// Address implements Client
func (c *RPC) Address() string {
	if c.contract != "" {
		return c.contract
	}
	return c.url
}

// Close implements Client
func (c *RPC) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

func (c *RPC) call(ctx context.Context, method string, out any, params ...any) error {
	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      uuid.NewString(),
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return fmt.Errorf("failed to encode rpc request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build rpc request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("%w: %w", ErrUnavailable, err)
		}
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxRPCResponseSize))
	if err != nil {
		return fmt.Errorf("%w: failed to read response: %v", ErrUnavailable, err)
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: http status %d", ErrUnavailable, resp.StatusCode)
	}

	var rpcResp rpcResponse
	if err := json.Unmarshal(data, &rpcResp); err != nil {
		return fmt.Errorf("%w: invalid rpc response: %v", ErrUnavailable, err)
	}

	if rpcResp.Error != nil {
		return rpcResp.Error
	}

	if len(rpcResp.Result) == 0 || string(bytes.TrimSpace(rpcResp.Result)) == "null" {
		return fmt.Errorf("%w: %s returned no result", ErrUnavailable, method)
	}

	if err := json.Unmarshal(rpcResp.Result, out); err != nil {
		return fmt.Errorf("failed to decode %s result: %w", method, err)
	}

	return nil
}
