package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"openscan/internal/domain"
	"openscan/internal/infrastructure/ethrpc"
	"openscan/internal/normalizer"
)

// ChainSource is the RPC surface the engine needs. Implementations perform
// no retries; the engine applies its RetryPolicy around every call.
type ChainSource interface {
	ChainID(ctx context.Context) (uint64, error)
	LatestBlockNumber(ctx context.Context) (uint64, error)
	BlockByNumber(ctx context.Context, number uint64) (ethrpc.Block, bool, error)
	TransactionReceipt(ctx context.Context, txHash string) (ethrpc.Receipt, bool, error)
	GasPrice(ctx context.Context) (string, error)
	Syncing(ctx context.Context) (bool, error)
}

// Store is the storage gateway. UpsertBlock writes the full write unit
// atomically and reports domain.ErrDuplicateBlock when the block number is
// already indexed for the chain.
type Store interface {
	UpsertBlock(ctx context.Context, block domain.Block, txs []domain.Transaction, receipts []domain.Receipt, logs []domain.Log) error
	SyncState(ctx context.Context, chainID uint64) (domain.SyncState, bool, error)
	SetSyncState(ctx context.Context, chainID uint64, block uint64) error
	UpsertNetworkStats(ctx context.Context, stats domain.NetworkStats) error
}

// StreamWriter publishes committed write units downstream. Publishing is
// best-effort and never fails the unit of work.
type StreamWriter interface {
	PublishBlockUnit(ctx context.Context, block domain.Block, txs []domain.Transaction, receipts []domain.Receipt, logs []domain.Log) error
}

type Observer interface {
	OnLatestBlock(block uint64)
	OnBlockIndexed(block uint64, txCount, logCount int)
	OnBlockSkipped(block uint64)
}

// State of one engine instance. Stopped is reached only on shutdown;
// Faulted only when a transient error class survived every retry budget.
type State string

const (
	StateIdle        State = "idle"
	StateBackfilling State = "backfilling"
	StatePolling     State = "polling"
	StateStopped     State = "stopped"
	StateFaulted     State = "faulted"
)

// ErrBlockUnavailable means the endpoint does not have the requested block
// yet. The poll loop waits for the next cycle; an explicit backfill range
// surfaces it.
var ErrBlockUnavailable = errors.New("block unavailable")

type EngineConfig struct {
	// Confirmations is the depth below the head the engine trails to avoid
	// indexing blocks that may still be replaced. Zero indexes to the head.
	Confirmations uint64
	PollInterval  time.Duration
	BackfillSize  uint64
	// ReceiptWorkers bounds the concurrent receipt fetches per block.
	ReceiptWorkers int
	Retry          RetryPolicy
	// MaxConsecutiveFailures is the number of failed poll cycles tolerated
	// before the engine faults.
	MaxConsecutiveFailures int
}

// Engine owns one chain's cursor and performs fetch, normalize and write
// sequentially for that chain. Run one instance per network.
type Engine struct {
	source   ChainSource
	store    Store
	stream   StreamWriter
	observer Observer
	clock    Clock
	cfg      EngineConfig

	mu      sync.Mutex
	state   State
	chainID uint64
	gaps    []uint64
}

type BackfillRequest struct {
	// Count of latest blocks to index; ignored when Start and End are set.
	Count uint64
	Start *uint64
	End   *uint64
}

type RunOptions struct {
	// InitialBackfill, when set, runs before the poll loop starts.
	InitialBackfill *BackfillRequest
}

// SyncStatus is the status surface reported to operators and the API.
type SyncStatus struct {
	ChainID          uint64 `json:"chain_id"`
	LastIndexedBlock uint64 `json:"last_indexed_block"`
	CurrentHead      uint64 `json:"current_head"`
	BlocksBehind     uint64 `json:"blocks_behind"`
	PercentSynced    uint64 `json:"percent_synced"`
	Synced           bool   `json:"synced"`
	State            State  `json:"state"`
}

func NewEngine(source ChainSource, store Store, stream StreamWriter, observer Observer, clock Clock, cfg EngineConfig) (*Engine, error) {
	if source == nil || store == nil {
		return nil, errors.New("engine dependencies must not be nil")
	}
	if clock == nil {
		clock = SystemClock{}
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 12 * time.Second
	}
	if cfg.BackfillSize == 0 {
		cfg.BackfillSize = 100
	}
	if cfg.ReceiptWorkers <= 0 {
		cfg.ReceiptWorkers = 4
	}
	if cfg.MaxConsecutiveFailures <= 0 {
		cfg.MaxConsecutiveFailures = 5
	}
	return &Engine{
		source: source,
		store:  store,
		stream: stream,
		// observer may be nil
		observer: observer,
		clock:    clock,
		cfg:      cfg,
		state:    StateIdle,
	}, nil
}

func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

func (e *Engine) setState(s State) {
	e.mu.Lock()
	e.state = s
	e.mu.Unlock()
}

// Gaps returns the block numbers skipped because of data-integrity
// failures, for operator attention.
func (e *Engine) Gaps() []uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]uint64, len(e.gaps))
	copy(out, e.gaps)
	return out
}

func (e *Engine) recordGap(block uint64) {
	e.mu.Lock()
	e.gaps = append(e.gaps, block)
	e.mu.Unlock()
}

func (e *Engine) resolveChainID(ctx context.Context) (uint64, error) {
	e.mu.Lock()
	cached := e.chainID
	e.mu.Unlock()
	if cached != 0 {
		return cached, nil
	}

	var chainID uint64
	err := e.cfg.Retry.Do(ctx, e.clock, "eth_chainId", func() error {
		var err error
		chainID, err = e.source.ChainID(ctx)
		return err
	})
	if err != nil {
		return 0, err
	}
	e.mu.Lock()
	e.chainID = chainID
	e.mu.Unlock()
	return chainID, nil
}

// confirmedHead returns the highest block the engine is willing to index.
func (e *Engine) confirmedHead(ctx context.Context) (uint64, error) {
	var head uint64
	err := e.cfg.Retry.Do(ctx, e.clock, "eth_blockNumber", func() error {
		var err error
		head, err = e.source.LatestBlockNumber(ctx)
		return err
	})
	if err != nil {
		return 0, err
	}
	if e.observer != nil {
		e.observer.OnLatestBlock(head)
	}
	if head < e.cfg.Confirmations {
		return 0, nil
	}
	return head - e.cfg.Confirmations, nil
}

// Backfill indexes a bounded historical range once: either the latest
// req.Count blocks or the explicit [Start, End] range. Already-indexed
// blocks are no-ops, so re-running a backfill is safe.
func (e *Engine) Backfill(ctx context.Context, req BackfillRequest) error {
	chainID, err := e.resolveChainID(ctx)
	if err != nil {
		return e.fault(err)
	}

	var start, end uint64
	if req.Start != nil && req.End != nil {
		start, end = *req.Start, *req.End
		if start > end {
			return fmt.Errorf("invalid range: start %d > end %d", start, end)
		}
	} else {
		count := req.Count
		if count == 0 {
			count = e.cfg.BackfillSize
		}
		head, err := e.confirmedHead(ctx)
		if err != nil {
			return e.fault(err)
		}
		end = head
		if head+1 > count {
			start = head - count + 1
		}
	}

	e.setState(StateBackfilling)
	slog.Info("backfill starting", "chain_id", chainID, "from", start, "to", end)

	if err := e.indexRange(ctx, chainID, start, end); err != nil {
		if errors.Is(err, context.Canceled) {
			e.setState(StateStopped)
			return err
		}
		return e.fault(err)
	}
	e.setState(StateIdle)
	slog.Info("backfill complete", "chain_id", chainID, "from", start, "to", end)
	return nil
}

// Run performs an optional initial backfill and then polls for new blocks
// until ctx is cancelled. Transient failures never terminate the loop; the
// engine faults only after MaxConsecutiveFailures whole cycles fail.
func (e *Engine) Run(ctx context.Context, opts RunOptions) error {
	chainID, err := e.resolveChainID(ctx)
	if err != nil {
		return e.fault(err)
	}

	if opts.InitialBackfill != nil {
		if err := e.Backfill(ctx, *opts.InitialBackfill); err != nil {
			return err
		}
	}

	e.setState(StatePolling)
	slog.Info("continuous sync starting", "chain_id", chainID, "poll_interval", e.cfg.PollInterval)

	consecutiveFailures := 0
	for {
		if err := e.syncCycle(ctx, chainID); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				e.setState(StateStopped)
				return err
			}
			consecutiveFailures++
			slog.Error("sync cycle failed",
				"chain_id", chainID,
				"consecutive_failures", consecutiveFailures,
				"max", e.cfg.MaxConsecutiveFailures,
				"err", err,
			)
			if consecutiveFailures >= e.cfg.MaxConsecutiveFailures {
				return e.fault(err)
			}
		} else {
			consecutiveFailures = 0
		}

		select {
		case <-ctx.Done():
			e.setState(StateStopped)
			return ctx.Err()
		case <-e.clock.After(e.cfg.PollInterval):
		}
	}
}

// SyncOnce runs a single catch-up cycle, for cron-style operation.
func (e *Engine) SyncOnce(ctx context.Context) error {
	chainID, err := e.resolveChainID(ctx)
	if err != nil {
		return err
	}
	return e.syncCycle(ctx, chainID)
}

func (e *Engine) syncCycle(ctx context.Context, chainID uint64) error {
	head, err := e.confirmedHead(ctx)
	if err != nil {
		return err
	}

	var start uint64
	state, ok, err := e.loadSyncState(ctx, chainID)
	if err != nil {
		return err
	}
	if ok {
		start = state.LastIndexedBlock + 1
	} else {
		// Nothing indexed yet: begin at the confirmed head and follow the
		// chain forward from there.
		start = head
	}

	if start > head {
		slog.Debug("up to date", "chain_id", chainID, "head", head)
	} else {
		if err := e.indexRange(ctx, chainID, start, head); err != nil {
			if errors.Is(err, ErrBlockUnavailable) {
				// Head raced ahead of the endpoint's state; next cycle
				// picks the block up.
				return nil
			}
			return err
		}
	}

	e.refreshNetworkStats(ctx, chainID, head)
	return nil
}

// indexRange processes blocks in ascending order, one write unit at a
// time. The cursor never moves past a block whose write failed, so a crash
// mid-range resumes from the last committed block plus one.
func (e *Engine) indexRange(ctx context.Context, chainID, from, to uint64) error {
	for number := from; number <= to; number++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		err := e.indexBlock(ctx, chainID, number)
		switch {
		case err == nil:
		case errors.Is(err, domain.ErrDuplicateBlock):
			slog.Debug("block already indexed", "chain_id", chainID, "block", number)
		case errors.Is(err, domain.ErrNormalization) || errors.Is(err, domain.ErrRPCMalformed):
			// Data-integrity failure: skip this block, record the gap and
			// keep going rather than aborting the whole range.
			e.recordGap(number)
			if e.observer != nil {
				e.observer.OnBlockSkipped(number)
			}
			slog.Error("skipping block after data-integrity failure",
				"chain_id", chainID, "block", number, "err", err)
		default:
			return err
		}

		if err := e.advanceCursor(ctx, chainID, number); err != nil {
			return err
		}
	}
	return nil
}

// indexBlock runs one unit of work: fetch block and transactions, fetch
// receipts with bounded fan-out, normalize, write atomically.
func (e *Engine) indexBlock(ctx context.Context, chainID, number uint64) error {
	var (
		raw ethrpc.Block
		ok  bool
	)
	err := e.cfg.Retry.Do(ctx, e.clock, "eth_getBlockByNumber", func() error {
		var err error
		raw, ok, err = e.source.BlockByNumber(ctx, number)
		return err
	})
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: block %d", ErrBlockUnavailable, number)
	}

	block, txs, err := normalizer.Block(chainID, raw)
	if err != nil {
		return err
	}

	receipts, logs, err := e.fetchReceipts(ctx, chainID, txs)
	if err != nil {
		return err
	}

	err = e.cfg.Retry.Do(ctx, e.clock, "upsert_block", func() error {
		return e.store.UpsertBlock(ctx, block, txs, receipts, logs)
	})
	if err != nil {
		return err
	}

	if e.stream != nil {
		if err := e.stream.PublishBlockUnit(ctx, block, txs, receipts, logs); err != nil {
			slog.Warn("stream publish failed", "chain_id", chainID, "block", number, "err", err)
		}
	}
	if e.observer != nil {
		e.observer.OnBlockIndexed(number, len(txs), len(logs))
	}
	slog.Info("indexed block",
		"chain_id", chainID,
		"block", number,
		"txs", len(txs),
		"logs", len(logs),
	)
	return nil
}

// fetchReceipts pulls receipts for every transaction with a bounded worker
// pool. The fetches are read-only and independent, but all results are
// collected before the write so the unit stays atomic.
func (e *Engine) fetchReceipts(ctx context.Context, chainID uint64, txs []domain.Transaction) ([]domain.Receipt, []domain.Log, error) {
	if len(txs) == 0 {
		return nil, nil, nil
	}

	type result struct {
		index   int
		receipt domain.Receipt
		logs    []domain.Log
		err     error
	}

	workers := e.cfg.ReceiptWorkers
	if workers > len(txs) {
		workers = len(txs)
	}
	jobs := make(chan int)
	results := make(chan result, len(txs))

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				receipt, logs, err := e.fetchReceipt(ctx, chainID, txs[i])
				results <- result{index: i, receipt: receipt, logs: logs, err: err}
			}
		}()
	}

	go func() {
		defer close(jobs)
		for i := range txs {
			select {
			case <-ctx.Done():
				return
			case jobs <- i:
			}
		}
	}()

	go func() {
		wg.Wait()
		close(results)
	}()

	receipts := make([]domain.Receipt, len(txs))
	var firstErr error
	collected := 0
	logsByTx := make([][]domain.Log, len(txs))
	for res := range results {
		collected++
		if res.err != nil {
			if firstErr == nil {
				firstErr = res.err
			}
			continue
		}
		receipts[res.index] = res.receipt
		logsByTx[res.index] = res.logs
	}
	if firstErr != nil {
		return nil, nil, firstErr
	}
	if collected != len(txs) {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		return nil, nil, fmt.Errorf("%w: %d of %d receipts fetched", domain.ErrRPCUnavailable, collected, len(txs))
	}

	var logs []domain.Log
	for _, txLogs := range logsByTx {
		logs = append(logs, txLogs...)
	}
	sort.Slice(logs, func(a, b int) bool {
		if logs[a].TxIndex == logs[b].TxIndex {
			return logs[a].LogIndex < logs[b].LogIndex
		}
		return logs[a].TxIndex < logs[b].TxIndex
	})
	return receipts, logs, nil
}

func (e *Engine) fetchReceipt(ctx context.Context, chainID uint64, tx domain.Transaction) (domain.Receipt, []domain.Log, error) {
	var (
		raw ethrpc.Receipt
		ok  bool
	)
	err := e.cfg.Retry.Do(ctx, e.clock, "eth_getTransactionReceipt", func() error {
		var err error
		raw, ok, err = e.source.TransactionReceipt(ctx, tx.Hash)
		return err
	})
	if err != nil {
		return domain.Receipt{}, nil, err
	}
	if !ok {
		return domain.Receipt{}, nil, fmt.Errorf("%w: no receipt for mined tx %s", domain.ErrNormalization, tx.Hash)
	}
	return normalizer.Receipt(chainID, tx.Hash, raw)
}

// advanceCursor moves the durable cursor to number. The gateways keep the
// cursor monotonic, so a concurrent or repeated call can never move it
// backwards.
func (e *Engine) advanceCursor(ctx context.Context, chainID, number uint64) error {
	return e.cfg.Retry.Do(ctx, e.clock, "set_sync_state", func() error {
		return e.store.SetSyncState(ctx, chainID, number)
	})
}

func (e *Engine) loadSyncState(ctx context.Context, chainID uint64) (domain.SyncState, bool, error) {
	var (
		state domain.SyncState
		ok    bool
	)
	err := e.cfg.Retry.Do(ctx, e.clock, "get_sync_state", func() error {
		var err error
		state, ok, err = e.store.SyncState(ctx, chainID)
		return err
	})
	return state, ok, err
}

// refreshNetworkStats is best-effort; failures are logged and never affect
// the sync cycle outcome.
func (e *Engine) refreshNetworkStats(ctx context.Context, chainID, head uint64) {
	gasPrice, err := e.source.GasPrice(ctx)
	if err != nil {
		slog.Debug("gas price fetch failed", "chain_id", chainID, "err", err)
		return
	}
	syncing, err := e.source.Syncing(ctx)
	if err != nil {
		slog.Debug("syncing check failed", "chain_id", chainID, "err", err)
		return
	}
	stats := domain.NetworkStats{
		ChainID:     chainID,
		HeadBlock:   head,
		GasPrice:    gasPrice,
		IsSyncing:   syncing,
		LastUpdated: e.clock.Now().Unix(),
	}
	if err := e.store.UpsertNetworkStats(ctx, stats); err != nil {
		slog.Debug("network stats update failed", "chain_id", chainID, "err", err)
	}
}

// Status reports the sync status surface. It reads the cursor and the head
// directly so it works regardless of engine state.
func (e *Engine) Status(ctx context.Context) (SyncStatus, error) {
	chainID, err := e.resolveChainID(ctx)
	if err != nil {
		return SyncStatus{}, err
	}
	state, _, err := e.store.SyncState(ctx, chainID)
	if err != nil {
		return SyncStatus{}, err
	}
	head, err := e.source.LatestBlockNumber(ctx)
	if err != nil {
		return SyncStatus{}, err
	}

	status := SyncStatus{
		ChainID:          chainID,
		LastIndexedBlock: state.LastIndexedBlock,
		CurrentHead:      head,
		State:            e.State(),
	}
	if head > state.LastIndexedBlock {
		status.BlocksBehind = head - state.LastIndexedBlock
	}
	status.PercentSynced = percentSynced(state.LastIndexedBlock, head)
	status.Synced = status.BlocksBehind == 0
	return status, nil
}

func percentSynced(last, head uint64) uint64 {
	if head == 0 {
		return 0
	}
	pct := last * 100 / head
	if pct > 100 {
		return 100
	}
	return pct
}

func (e *Engine) fault(err error) error {
	e.setState(StateFaulted)
	return err
}
