package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"openscan/internal/application"
	"openscan/internal/domain"
)

func testRepository(t *testing.T) *Repository {
	t.Helper()
	repo, err := NewRepository(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("NewRepository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo
}

func unit(chainID, number uint64) (domain.Block, []domain.Transaction, []domain.Receipt, []domain.Log) {
	block := domain.Block{
		ChainID:    chainID,
		Number:     number,
		Hash:       blockHash(number),
		ParentHash: blockHash(number - 1),
		Timestamp:  1700000000 + number*12,
		Miner:      "0xaa",
		GasUsed:    21000,
		GasLimit:   30000000,
		TxCount:    1,
	}
	tx := domain.Transaction{
		ChainID:     chainID,
		Hash:        txHash(number),
		BlockNumber: number,
		BlockHash:   block.Hash,
		From:        "0xf0",
		To:          "0xf1",
		Value:       "1000000000000000000",
		Gas:         21000,
		GasPrice:    "20000000000",
		TxType:      2,
	}
	receipt := domain.Receipt{
		ChainID:           chainID,
		TxHash:            tx.Hash,
		BlockNumber:       number,
		BlockHash:         block.Hash,
		Status:            1,
		GasUsed:           21000,
		CumulativeGasUsed: 21000,
		EffectiveGasPrice: "20000000000",
		LogsBloom:         "0x00",
	}
	log := domain.Log{
		ChainID:     chainID,
		TxHash:      tx.Hash,
		LogIndex:    0,
		BlockNumber: number,
		BlockHash:   block.Hash,
		Address:     "0xc0",
		Topics:      []string{"0xddf252ad", "0x01"},
		Data:        "0x01",
	}
	return block, []domain.Transaction{tx}, []domain.Receipt{receipt}, []domain.Log{log}
}

func blockHash(number uint64) string { return "0x" + string(rune('a'+number%26)) + "block" }

func txHash(number uint64) string { return "0x" + string(rune('a'+number%26)) + "tx" }

func mustUpsert(t *testing.T, repo *Repository, chainID, number uint64) {
	t.Helper()
	block, txs, receipts, logs := unit(chainID, number)
	if err := repo.UpsertBlock(context.Background(), block, txs, receipts, logs); err != nil {
		t.Fatalf("UpsertBlock(%d): %v", number, err)
	}
}

func TestUpsertBlockStoresFullUnit(t *testing.T) {
	repo := testRepository(t)
	ctx := context.Background()
	mustUpsert(t, repo, 1, 100)

	block, ok, err := repo.BlockByNumber(ctx, 1, 100)
	if err != nil || !ok {
		t.Fatalf("BlockByNumber: ok=%v err=%v", ok, err)
	}
	if block.Hash != blockHash(100) || block.TxCount != 1 {
		t.Fatalf("block = %+v", block)
	}

	chainID := uint64(1)
	txs, err := repo.QueryTransactions(ctx, application.TransactionQueryFilter{ChainID: &chainID})
	if err != nil {
		t.Fatalf("QueryTransactions: %v", err)
	}
	if len(txs) != 1 || txs[0].Hash != txHash(100) {
		t.Fatalf("txs = %+v", txs)
	}
	if txs[0].Value != "1000000000000000000" {
		t.Fatalf("value = %s", txs[0].Value)
	}

	receipt, ok, err := repo.ReceiptByTxHash(ctx, 1, txHash(100))
	if err != nil || !ok {
		t.Fatalf("ReceiptByTxHash: ok=%v err=%v", ok, err)
	}
	if receipt.Status != 1 || receipt.GasUsed != 21000 {
		t.Fatalf("receipt = %+v", receipt)
	}

	logs, err := repo.QueryLogs(ctx, application.LogQueryFilter{ChainID: &chainID})
	if err != nil {
		t.Fatalf("QueryLogs: %v", err)
	}
	if len(logs) != 1 || len(logs[0].Topics) != 2 {
		t.Fatalf("logs = %+v", logs)
	}
}

func TestUpsertBlockDuplicateLeavesUnitIntact(t *testing.T) {
	repo := testRepository(t)
	ctx := context.Background()
	mustUpsert(t, repo, 1, 100)

	block, txs, receipts, logs := unit(1, 100)
	block.Miner = "0xchanged"
	err := repo.UpsertBlock(ctx, block, txs, receipts, logs)
	if !errors.Is(err, domain.ErrDuplicateBlock) {
		t.Fatalf("err = %v, want ErrDuplicateBlock", err)
	}

	stored, _, err := repo.BlockByNumber(ctx, 1, 100)
	if err != nil {
		t.Fatalf("BlockByNumber: %v", err)
	}
	if stored.Miner != "0xaa" {
		t.Fatalf("duplicate write mutated the stored block: miner = %s", stored.Miner)
	}
}

func TestChainsAreIsolated(t *testing.T) {
	repo := testRepository(t)
	ctx := context.Background()
	mustUpsert(t, repo, 1, 100)
	mustUpsert(t, repo, 11155111, 100)

	chainID := uint64(11155111)
	blocks, err := repo.QueryBlocks(ctx, application.BlockQueryFilter{ChainID: &chainID})
	if err != nil {
		t.Fatalf("QueryBlocks: %v", err)
	}
	if len(blocks) != 1 || blocks[0].ChainID != 11155111 {
		t.Fatalf("blocks = %+v", blocks)
	}
}

func TestSyncStateMonotonic(t *testing.T) {
	repo := testRepository(t)
	ctx := context.Background()

	_, ok, err := repo.SyncState(ctx, 1)
	if err != nil {
		t.Fatalf("SyncState: %v", err)
	}
	if ok {
		t.Fatal("sync state reported before any write")
	}

	if err := repo.SetSyncState(ctx, 1, 104); err != nil {
		t.Fatalf("SetSyncState(104): %v", err)
	}
	// A stale writer must not move the cursor backwards.
	if err := repo.SetSyncState(ctx, 1, 99); err != nil {
		t.Fatalf("SetSyncState(99): %v", err)
	}

	state, ok, err := repo.SyncState(ctx, 1)
	if err != nil || !ok {
		t.Fatalf("SyncState: ok=%v err=%v", ok, err)
	}
	if state.LastIndexedBlock != 104 {
		t.Fatalf("cursor = %d, want 104", state.LastIndexedBlock)
	}
}

func TestTransactionDirectionFilter(t *testing.T) {
	repo := testRepository(t)
	ctx := context.Background()
	mustUpsert(t, repo, 1, 100)

	chainID := uint64(1)
	sent, err := repo.QueryTransactions(ctx, application.TransactionQueryFilter{
		ChainID: &chainID, Address: "0xF0", Direction: "sent",
	})
	if err != nil {
		t.Fatalf("QueryTransactions(sent): %v", err)
	}
	if len(sent) != 1 {
		t.Fatalf("sent = %d, want 1", len(sent))
	}

	received, err := repo.QueryTransactions(ctx, application.TransactionQueryFilter{
		ChainID: &chainID, Address: "0xf0", Direction: "received",
	})
	if err != nil {
		t.Fatalf("QueryTransactions(received): %v", err)
	}
	if len(received) != 0 {
		t.Fatalf("received = %d, want 0", len(received))
	}
}

func TestLogTopicFilter(t *testing.T) {
	repo := testRepository(t)
	ctx := context.Background()
	mustUpsert(t, repo, 1, 100)

	chainID := uint64(1)
	logs, err := repo.QueryLogs(ctx, application.LogQueryFilter{ChainID: &chainID, Topic0: "0xddf252ad"})
	if err != nil {
		t.Fatalf("QueryLogs: %v", err)
	}
	if len(logs) != 1 {
		t.Fatalf("logs = %d, want 1", len(logs))
	}

	logs, err = repo.QueryLogs(ctx, application.LogQueryFilter{ChainID: &chainID, Topic0: "0xother"})
	if err != nil {
		t.Fatalf("QueryLogs: %v", err)
	}
	if len(logs) != 0 {
		t.Fatalf("logs = %d, want 0", len(logs))
	}
}

func TestBlockRangeAndLatest(t *testing.T) {
	repo := testRepository(t)
	ctx := context.Background()

	_, _, ok, err := repo.BlockRange(ctx, 1)
	if err != nil {
		t.Fatalf("BlockRange: %v", err)
	}
	if ok {
		t.Fatal("range reported on empty store")
	}

	for n := uint64(100); n <= 103; n++ {
		mustUpsert(t, repo, 1, n)
	}
	min, max, ok, err := repo.BlockRange(ctx, 1)
	if err != nil || !ok {
		t.Fatalf("BlockRange: ok=%v err=%v", ok, err)
	}
	if min != 100 || max != 103 {
		t.Fatalf("range = [%d, %d], want [100, 103]", min, max)
	}

	latest, ok, err := repo.LatestBlock(ctx, 1)
	if err != nil || !ok {
		t.Fatalf("LatestBlock: ok=%v err=%v", ok, err)
	}
	if latest.Number != 103 {
		t.Fatalf("latest = %d, want 103", latest.Number)
	}
}

func TestNetworkStatsUpsert(t *testing.T) {
	repo := testRepository(t)
	ctx := context.Background()

	stats := domain.NetworkStats{ChainID: 1, HeadBlock: 104, GasPrice: "20000000000", IsSyncing: false, LastUpdated: 1700000000}
	if err := repo.UpsertNetworkStats(ctx, stats); err != nil {
		t.Fatalf("UpsertNetworkStats: %v", err)
	}
	stats.HeadBlock = 105
	if err := repo.UpsertNetworkStats(ctx, stats); err != nil {
		t.Fatalf("UpsertNetworkStats(update): %v", err)
	}

	stored, ok, err := repo.NetworkStats(ctx, 1)
	if err != nil || !ok {
		t.Fatalf("NetworkStats: ok=%v err=%v", ok, err)
	}
	if stored.HeadBlock != 105 {
		t.Fatalf("head = %d, want 105", stored.HeadBlock)
	}
}
