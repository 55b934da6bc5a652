package ethrpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"openscan/internal/domain"
)

func rpcServer(t *testing.T, handler func(method string, params []json.RawMessage) (any, *rpcError)) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ID     uint64            `json:"id"`
			Method string            `json:"method"`
			Params []json.RawMessage `json:"params"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
			return
		}
		result, rpcErr := handler(req.Method, req.Params)
		resp := map[string]any{"jsonrpc": "2.0", "id": req.ID}
		if rpcErr != nil {
			resp["error"] = rpcErr
		} else {
			resp["result"] = result
		}
		json.NewEncoder(w).Encode(resp)
	}))
}

func newTestClient(t *testing.T, url string) *Client {
	t.Helper()
	client, err := NewClient(Config{URL: url})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return client
}

func TestChainIDAndBlockNumber(t *testing.T) {
	server := rpcServer(t, func(method string, _ []json.RawMessage) (any, *rpcError) {
		switch method {
		case "eth_chainId":
			return "0xaa36a7", nil
		case "eth_blockNumber":
			return "0x68", nil
		}
		return nil, &rpcError{Code: -32601, Message: "method not found"}
	})
	defer server.Close()
	client := newTestClient(t, server.URL)

	chainID, err := client.ChainID(context.Background())
	if err != nil {
		t.Fatalf("ChainID: %v", err)
	}
	if chainID != 11155111 {
		t.Fatalf("chain id = %d, want 11155111", chainID)
	}

	head, err := client.LatestBlockNumber(context.Background())
	if err != nil {
		t.Fatalf("LatestBlockNumber: %v", err)
	}
	if head != 104 {
		t.Fatalf("head = %d, want 104", head)
	}
}

func TestBlockByNumber(t *testing.T) {
	server := rpcServer(t, func(method string, params []json.RawMessage) (any, *rpcError) {
		if method != "eth_getBlockByNumber" {
			return nil, &rpcError{Code: -32601, Message: "method not found"}
		}
		var number string
		var fullTxs bool
		json.Unmarshal(params[0], &number)
		json.Unmarshal(params[1], &fullTxs)
		if !fullTxs {
			return nil, &rpcError{Code: -32602, Message: "expected full transactions"}
		}
		if number != "0x68" {
			return nil, nil
		}
		return map[string]any{
			"number":     "0x68",
			"hash":       "0xabc",
			"parentHash": "0xab0",
			"timestamp":  "0x6553f100",
			"gasUsed":    "0x5208",
			"gasLimit":   "0x1c9c380",
			"transactions": []map[string]any{
				{"hash": "0x01", "blockNumber": "0x68", "blockHash": "0xabc", "transactionIndex": "0x0"},
			},
		}, nil
	})
	defer server.Close()
	client := newTestClient(t, server.URL)

	block, ok, err := client.BlockByNumber(context.Background(), 104)
	if err != nil {
		t.Fatalf("BlockByNumber: %v", err)
	}
	if !ok {
		t.Fatal("block 104 reported unavailable")
	}
	if block.Hash != "0xabc" || len(block.Transactions) != 1 {
		t.Fatalf("block = %s with %d txs", block.Hash, len(block.Transactions))
	}

	_, ok, err = client.BlockByNumber(context.Background(), 105)
	if err != nil {
		t.Fatalf("BlockByNumber(105): %v", err)
	}
	if ok {
		t.Fatal("unknown block reported available")
	}
}

func TestTransactionReceiptNullResult(t *testing.T) {
	server := rpcServer(t, func(method string, _ []json.RawMessage) (any, *rpcError) {
		return nil, nil
	})
	defer server.Close()
	client := newTestClient(t, server.URL)

	_, ok, err := client.TransactionReceipt(context.Background(), "0x01")
	if err != nil {
		t.Fatalf("TransactionReceipt: %v", err)
	}
	if ok {
		t.Fatal("missing receipt reported available")
	}
}

func TestBlockLogsFilter(t *testing.T) {
	server := rpcServer(t, func(method string, params []json.RawMessage) (any, *rpcError) {
		if method != "eth_getLogs" {
			return nil, &rpcError{Code: -32601, Message: "method not found"}
		}
		var filter map[string]string
		if err := json.Unmarshal(params[0], &filter); err != nil {
			t.Errorf("decode filter: %v", err)
		}
		if filter["fromBlock"] != "0x68" || filter["toBlock"] != "0x68" {
			t.Errorf("filter = %v, want single-block range 0x68", filter)
		}
		return []map[string]any{
			{"transactionHash": "0x01", "logIndex": "0x0", "address": "0xAB", "topics": []string{"0x02"}, "data": "0x"},
		}, nil
	})
	defer server.Close()
	client := newTestClient(t, server.URL)

	logs, err := client.BlockLogs(context.Background(), 104)
	if err != nil {
		t.Fatalf("BlockLogs: %v", err)
	}
	if len(logs) != 1 || logs[0].TransactionHash != "0x01" {
		t.Fatalf("logs = %+v", logs)
	}
}

func TestGasPriceDecimal(t *testing.T) {
	server := rpcServer(t, func(method string, _ []json.RawMessage) (any, *rpcError) {
		return "0x4a817c800", nil
	})
	defer server.Close()
	client := newTestClient(t, server.URL)

	price, err := client.GasPrice(context.Background())
	if err != nil {
		t.Fatalf("GasPrice: %v", err)
	}
	if price != "20000000000" {
		t.Fatalf("gas price = %s, want 20000000000", price)
	}
}

func TestSyncing(t *testing.T) {
	results := map[string]any{
		"false":  false,
		"object": map[string]any{"currentBlock": "0x10", "highestBlock": "0x68"},
	}
	for name, result := range results {
		server := rpcServer(t, func(string, []json.RawMessage) (any, *rpcError) {
			return result, nil
		})
		client := newTestClient(t, server.URL)
		syncing, err := client.Syncing(context.Background())
		server.Close()
		if err != nil {
			t.Fatalf("Syncing(%s): %v", name, err)
		}
		if want := name == "object"; syncing != want {
			t.Fatalf("Syncing(%s) = %v, want %v", name, syncing, want)
		}
	}
}

func TestServerErrorsAreTransient(t *testing.T) {
	for _, status := range []int{http.StatusTooManyRequests, http.StatusBadGateway, http.StatusServiceUnavailable} {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(status)
		}))
		client := newTestClient(t, server.URL)
		_, err := client.LatestBlockNumber(context.Background())
		server.Close()
		if !errors.Is(err, domain.ErrRPCUnavailable) {
			t.Fatalf("status %d: err = %v, want ErrRPCUnavailable", status, err)
		}
	}
}

func TestConnectionRefusedIsTransient(t *testing.T) {
	client := newTestClient(t, "http://127.0.0.1:1")
	_, err := client.LatestBlockNumber(context.Background())
	if !errors.Is(err, domain.ErrRPCUnavailable) {
		t.Fatalf("err = %v, want ErrRPCUnavailable", err)
	}
}

func TestRPCErrorClassification(t *testing.T) {
	cases := []struct {
		code     int
		sentinel error
	}{
		{-32000, domain.ErrRPCUnavailable},
		{-32005, domain.ErrRPCUnavailable},
		{-32099, domain.ErrRPCUnavailable},
		{-32601, domain.ErrRPCMalformed},
		{-32602, domain.ErrRPCMalformed},
		{-32700, domain.ErrRPCMalformed},
	}
	for _, tc := range cases {
		server := rpcServer(t, func(string, []json.RawMessage) (any, *rpcError) {
			return nil, &rpcError{Code: tc.code, Message: fmt.Sprintf("error %d", tc.code)}
		})
		client := newTestClient(t, server.URL)
		_, err := client.ChainID(context.Background())
		server.Close()
		if !errors.Is(err, tc.sentinel) {
			t.Fatalf("code %d: err = %v, want %v", tc.code, err, tc.sentinel)
		}
	}
}

func TestMalformedBodyIsFatal(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("not json"))
	}))
	defer server.Close()
	client := newTestClient(t, server.URL)

	_, err := client.LatestBlockNumber(context.Background())
	if !errors.Is(err, domain.ErrRPCMalformed) {
		t.Fatalf("err = %v, want ErrRPCMalformed", err)
	}
}
