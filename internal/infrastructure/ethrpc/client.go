package ethrpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"openscan/internal/domain"
)

// Client talks JSON-RPC to one EVM endpoint. It performs no retries; retry
// policy belongs to the indexing engine.
type Client struct {
	url        string
	httpClient *http.Client
	idCounter  uint64
}

type Config struct {
	URL     string
	Timeout time.Duration
}

func NewClient(cfg Config) (*Client, error) {
	if cfg.URL == "" {
		return nil, errors.New("rpc url is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		url:        cfg.URL,
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

// Block is the raw eth_getBlockByNumber result with full transactions.
type Block struct {
	Number        string        `json:"number"`
	Hash          string        `json:"hash"`
	ParentHash    string        `json:"parentHash"`
	Timestamp     string        `json:"timestamp"`
	Miner         string        `json:"miner"`
	GasUsed       string        `json:"gasUsed"`
	GasLimit      string        `json:"gasLimit"`
	BaseFeePerGas string        `json:"baseFeePerGas"`
	Size          string        `json:"size"`
	ExtraData     string        `json:"extraData"`
	Transactions  []Transaction `json:"transactions"`
}

// Transaction is a raw transaction object as embedded in a block.
type Transaction struct {
	Hash                 string  `json:"hash"`
	BlockNumber          string  `json:"blockNumber"`
	BlockHash            string  `json:"blockHash"`
	TransactionIndex     string  `json:"transactionIndex"`
	From                 string  `json:"from"`
	To                   *string `json:"to"`
	Value                string  `json:"value"`
	Nonce                string  `json:"nonce"`
	Gas                  string  `json:"gas"`
	GasPrice             string  `json:"gasPrice"`
	MaxFeePerGas         string  `json:"maxFeePerGas"`
	MaxPriorityFeePerGas string  `json:"maxPriorityFeePerGas"`
	Input                string  `json:"input"`
	Type                 string  `json:"type"`
}

// Receipt is the raw eth_getTransactionReceipt result.
type Receipt struct {
	TransactionHash   string  `json:"transactionHash"`
	BlockNumber       string  `json:"blockNumber"`
	BlockHash         string  `json:"blockHash"`
	TransactionIndex  string  `json:"transactionIndex"`
	Status            string  `json:"status"`
	GasUsed           string  `json:"gasUsed"`
	CumulativeGasUsed string  `json:"cumulativeGasUsed"`
	EffectiveGasPrice string  `json:"effectiveGasPrice"`
	ContractAddress   *string `json:"contractAddress"`
	LogsBloom         string  `json:"logsBloom"`
	Logs              []Log   `json:"logs"`
}

// Log is a raw log object as returned by eth_getLogs and in receipts.
type Log struct {
	Address          string   `json:"address"`
	Topics           []string `json:"topics"`
	Data             string   `json:"data"`
	BlockNumber      string   `json:"blockNumber"`
	BlockHash        string   `json:"blockHash"`
	TransactionHash  string   `json:"transactionHash"`
	TransactionIndex string   `json:"transactionIndex"`
	LogIndex         string   `json:"logIndex"`
	Removed          bool     `json:"removed"`
}

func (c *Client) ChainID(ctx context.Context) (uint64, error) {
	var result string
	if err := c.call(ctx, "eth_chainId", []any{}, &result); err != nil {
		return 0, err
	}
	return parseHexUint(result)
}

func (c *Client) LatestBlockNumber(ctx context.Context) (uint64, error) {
	var result string
	if err := c.call(ctx, "eth_blockNumber", []any{}, &result); err != nil {
		return 0, err
	}
	return parseHexUint(result)
}

// BlockByNumber fetches a block with full transaction objects. ok is false
// when the endpoint does not know the block yet.
func (c *Client) BlockByNumber(ctx context.Context, number uint64) (Block, bool, error) {
	var result *Block
	if err := c.call(ctx, "eth_getBlockByNumber", []any{formatHexUint(number), true}, &result); err != nil {
		return Block{}, false, err
	}
	if result == nil {
		return Block{}, false, nil
	}
	return *result, true, nil
}

// TransactionReceipt fetches the receipt for a transaction hash. ok is
// false when the endpoint has no receipt for the hash.
func (c *Client) TransactionReceipt(ctx context.Context, txHash string) (Receipt, bool, error) {
	var result *Receipt
	if err := c.call(ctx, "eth_getTransactionReceipt", []any{txHash}, &result); err != nil {
		return Receipt{}, false, err
	}
	if result == nil {
		return Receipt{}, false, nil
	}
	return *result, true, nil
}

// BlockLogs fetches all logs emitted in a single block.
func (c *Client) BlockLogs(ctx context.Context, number uint64) ([]Log, error) {
	filter := map[string]any{
		"fromBlock": formatHexUint(number),
		"toBlock":   formatHexUint(number),
	}
	var result []Log
	if err := c.call(ctx, "eth_getLogs", []any{filter}, &result); err != nil {
		return nil, err
	}
	return result, nil
}

// GasPrice returns the current gas price as a decimal string in wei.
func (c *Client) GasPrice(ctx context.Context) (string, error) {
	var result string
	if err := c.call(ctx, "eth_gasPrice", []any{}, &result); err != nil {
		return "", err
	}
	return parseHexBig(result)
}

// Syncing reports whether the endpoint is still syncing. A false JSON
// result means fully synced; any object result means syncing.
func (c *Client) Syncing(ctx context.Context) (bool, error) {
	var result json.RawMessage
	if err := c.call(ctx, "eth_syncing", []any{}, &result); err != nil {
		return false, err
	}
	return !bytes.Equal(bytes.TrimSpace(result), []byte("false")), nil
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      uint64          `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *rpcError       `json:"error"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (c *Client) call(ctx context.Context, method string, params []any, result any) error {
	id := atomic.AddUint64(&c.idCounter, 1)
	payload, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      id,
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", domain.ErrRPCUnavailable, method, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return fmt.Errorf("%w: %s: status %d", domain.ErrRPCUnavailable, method, resp.StatusCode)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: %s: status %d", domain.ErrRPCMalformed, method, resp.StatusCode)
	}

	var decoded rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return fmt.Errorf("%w: %s: %v", domain.ErrRPCMalformed, method, err)
	}
	if decoded.Error != nil {
		if serverTransient(decoded.Error.Code) {
			return fmt.Errorf("%w: %s: rpc error %d: %s", domain.ErrRPCUnavailable, method, decoded.Error.Code, decoded.Error.Message)
		}
		return fmt.Errorf("%w: %s: rpc error %d: %s", domain.ErrRPCMalformed, method, decoded.Error.Code, decoded.Error.Message)
	}
	if result == nil {
		return nil
	}
	if len(decoded.Result) == 0 {
		return fmt.Errorf("%w: %s: empty result", domain.ErrRPCMalformed, method)
	}
	if err := json.Unmarshal(decoded.Result, result); err != nil {
		return fmt.Errorf("%w: %s: %v", domain.ErrRPCMalformed, method, err)
	}
	return nil
}

// JSON-RPC server error codes (-32000..-32099) signal endpoint-side
// conditions such as overload and are worth retrying.
func serverTransient(code int) bool {
	return code <= -32000 && code >= -32099
}

func parseHexUint(value string) (uint64, error) {
	trimmed := strings.TrimPrefix(value, "0x")
	if trimmed == "" {
		return 0, fmt.Errorf("%w: empty hex value", domain.ErrRPCMalformed)
	}
	parsed, err := strconv.ParseUint(trimmed, 16, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q: %v", domain.ErrRPCMalformed, value, err)
	}
	return parsed, nil
}

func parseHexBig(value string) (string, error) {
	trimmed := strings.TrimPrefix(value, "0x")
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty hex value", domain.ErrRPCMalformed)
	}
	parsed, ok := new(big.Int).SetString(trimmed, 16)
	if !ok {
		return "", fmt.Errorf("%w: %q is not a hex quantity", domain.ErrRPCMalformed, value)
	}
	return parsed.String(), nil
}

func formatHexUint(value uint64) string {
	return fmt.Sprintf("0x%x", value)
}
