package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"openscan/internal/application"
	"openscan/internal/config"
	"openscan/internal/domain"
)

type fakeStore struct {
	latest     domain.Block
	hasLatest  bool
	blocks     []domain.Block
	txs        []domain.Transaction
	receipt    domain.Receipt
	hasReceipt bool
	logs       []domain.Log
	stats      domain.NetworkStats
	hasStats   bool
	syncState  domain.SyncState
	pingErr    error

	lastTxFilter  application.TransactionQueryFilter
	lastLogFilter application.LogQueryFilter
}

func (f *fakeStore) LatestBlock(context.Context, uint64) (domain.Block, bool, error) {
	return f.latest, f.hasLatest, nil
}

func (f *fakeStore) QueryBlocks(context.Context, application.BlockQueryFilter) ([]domain.Block, error) {
	return f.blocks, nil
}

func (f *fakeStore) QueryTransactions(_ context.Context, filter application.TransactionQueryFilter) ([]domain.Transaction, error) {
	f.lastTxFilter = filter
	return f.txs, nil
}

func (f *fakeStore) ReceiptByTxHash(context.Context, uint64, string) (domain.Receipt, bool, error) {
	return f.receipt, f.hasReceipt, nil
}

func (f *fakeStore) QueryLogs(_ context.Context, filter application.LogQueryFilter) ([]domain.Log, error) {
	f.lastLogFilter = filter
	return f.logs, nil
}

func (f *fakeStore) NetworkStats(context.Context, uint64) (domain.NetworkStats, bool, error) {
	return f.stats, f.hasStats, nil
}

func (f *fakeStore) SyncState(context.Context, uint64) (domain.SyncState, bool, error) {
	return f.syncState, true, nil
}

func (f *fakeStore) BlockRange(context.Context, uint64) (uint64, uint64, bool, error) {
	return 0, 0, false, nil
}

func (f *fakeStore) Ping(context.Context) error { return f.pingErr }

type fakeRPC struct {
	head uint64
	err  error
}

func (f *fakeRPC) LatestBlockNumber(context.Context) (uint64, error) { return f.head, f.err }

func newTestServer(t *testing.T, store *fakeStore, rpc *fakeRPC) *Server {
	t.Helper()
	cfg := config.Config{Network: "sepolia", ChainID: 11155111}
	server, err := NewServer(cfg, store, rpc, nil, BuildInfo{Version: "test"})
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	return server
}

func doRequest(t *testing.T, server *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	recorder := httptest.NewRecorder()
	server.Handler().ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, path, nil))
	return recorder
}

func TestStatusEndpoint(t *testing.T) {
	store := &fakeStore{syncState: domain.SyncState{ChainID: 11155111, LastIndexedBlock: 150}}
	server := newTestServer(t, store, &fakeRPC{head: 200})

	recorder := doRequest(t, server, "/status")
	if recorder.Code != http.StatusOK {
		t.Fatalf("status = %d", recorder.Code)
	}

	var body map[string]any
	if err := json.Unmarshal(recorder.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["last_indexed_block"].(float64) != 150 || body["current_head"].(float64) != 200 {
		t.Fatalf("body = %v", body)
	}
	if body["blocks_behind"].(float64) != 50 || body["percent_synced"].(float64) != 75 {
		t.Fatalf("body = %v", body)
	}
	if body["synced"].(bool) {
		t.Fatal("reported synced while behind")
	}
	if body["network"] != "sepolia" {
		t.Fatalf("network = %v", body["network"])
	}
}

func TestStatusWithUnavailableRPC(t *testing.T) {
	store := &fakeStore{}
	server := newTestServer(t, store, &fakeRPC{err: errors.New("down")})

	recorder := doRequest(t, server, "/status")
	if recorder.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", recorder.Code)
	}
}

func TestLatestBlock(t *testing.T) {
	store := &fakeStore{}
	server := newTestServer(t, store, &fakeRPC{})

	if recorder := doRequest(t, server, "/blocks/latest"); recorder.Code != http.StatusNotFound {
		t.Fatalf("empty store status = %d, want 404", recorder.Code)
	}

	store.latest = domain.Block{ChainID: 11155111, Number: 104, Hash: "0xabc", TxCount: 2}
	store.hasLatest = true
	recorder := doRequest(t, server, "/blocks/latest")
	if recorder.Code != http.StatusOK {
		t.Fatalf("status = %d", recorder.Code)
	}
	var body blockView
	if err := json.Unmarshal(recorder.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Number != 104 || body.Hash != "0xabc" {
		t.Fatalf("body = %+v", body)
	}
}

func TestTransactionsFilterParsing(t *testing.T) {
	store := &fakeStore{}
	server := newTestServer(t, store, &fakeRPC{})

	recorder := doRequest(t, server, "/transactions?address=0xAB&direction=sent&status=1&from_block=10&to_block=20")
	if recorder.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", recorder.Code, recorder.Body.String())
	}
	filter := store.lastTxFilter
	if filter.Address != "0xab" || filter.Direction != "sent" {
		t.Fatalf("filter = %+v", filter)
	}
	if filter.Status == nil || *filter.Status != 1 {
		t.Fatalf("status filter = %v", filter.Status)
	}
	if filter.ChainID == nil || *filter.ChainID != 11155111 {
		t.Fatalf("chain filter = %v", filter.ChainID)
	}
	if *filter.FromBlock != 10 || *filter.ToBlock != 20 {
		t.Fatalf("range = %v..%v", filter.FromBlock, filter.ToBlock)
	}

	if recorder := doRequest(t, server, "/transactions?direction=sideways"); recorder.Code != http.StatusBadRequest {
		t.Fatalf("bad direction status = %d, want 400", recorder.Code)
	}
	if recorder := doRequest(t, server, "/transactions?status=7"); recorder.Code != http.StatusBadRequest {
		t.Fatalf("bad status param status = %d, want 400", recorder.Code)
	}
}

func TestReceiptsRequireTxHash(t *testing.T) {
	store := &fakeStore{}
	server := newTestServer(t, store, &fakeRPC{})

	if recorder := doRequest(t, server, "/receipts"); recorder.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", recorder.Code)
	}
	if recorder := doRequest(t, server, "/receipts?tx_hash=0x01"); recorder.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", recorder.Code)
	}

	store.receipt = domain.Receipt{TxHash: "0x01", Status: 1}
	store.hasReceipt = true
	recorder := doRequest(t, server, "/receipts?tx_hash=0x01")
	if recorder.Code != http.StatusOK {
		t.Fatalf("status = %d", recorder.Code)
	}
}

func TestLogsChainScope(t *testing.T) {
	store := &fakeStore{}
	server := newTestServer(t, store, &fakeRPC{})

	if recorder := doRequest(t, server, "/logs?topic0=0xDDF252AD&chain_id=1"); recorder.Code != http.StatusOK {
		t.Fatalf("status = %d", recorder.Code)
	}
	filter := store.lastLogFilter
	if filter.Topic0 != "0xddf252ad" {
		t.Fatalf("topic0 = %s", filter.Topic0)
	}
	if filter.ChainID == nil || *filter.ChainID != 1 {
		t.Fatalf("chain override = %v", filter.ChainID)
	}
}

func TestReadyz(t *testing.T) {
	store := &fakeStore{}
	server := newTestServer(t, store, &fakeRPC{head: 10})
	if recorder := doRequest(t, server, "/readyz"); recorder.Code != http.StatusOK {
		t.Fatalf("status = %d", recorder.Code)
	}

	store.pingErr = errors.New("db down")
	if recorder := doRequest(t, server, "/readyz"); recorder.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", recorder.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	store := &fakeStore{}
	server := newTestServer(t, store, &fakeRPC{})

	observer := server.MetricsObserver()
	observer.OnLatestBlock(105)
	observer.OnBlockIndexed(104, 2, 3)
	observer.OnBlockSkipped(103)

	recorder := doRequest(t, server, "/metrics")
	if recorder.Code != http.StatusOK {
		t.Fatalf("status = %d", recorder.Code)
	}
	body := recorder.Body.String()
	for _, line := range []string{
		"openscan_latest_block 105",
		"openscan_last_indexed_block 104",
		"openscan_blocks_indexed_total 1",
		"openscan_blocks_skipped_total 1",
		"openscan_transactions_indexed_total 2",
		"openscan_logs_indexed_total 3",
		"openscan_block_lag 1",
	} {
		if !strings.Contains(body, line) {
			t.Fatalf("metrics missing %q:\n%s", line, body)
		}
	}
}
