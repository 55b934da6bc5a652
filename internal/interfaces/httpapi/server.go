package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"openscan/internal/application"
	"openscan/internal/config"
	"openscan/internal/domain"
)

// ChainStore is the read surface the API serves from storage.
type ChainStore interface {
	LatestBlock(ctx context.Context, chainID uint64) (domain.Block, bool, error)
	QueryBlocks(ctx context.Context, filter application.BlockQueryFilter) ([]domain.Block, error)
	QueryTransactions(ctx context.Context, filter application.TransactionQueryFilter) ([]domain.Transaction, error)
	ReceiptByTxHash(ctx context.Context, chainID uint64, txHash string) (domain.Receipt, bool, error)
	QueryLogs(ctx context.Context, filter application.LogQueryFilter) ([]domain.Log, error)
	NetworkStats(ctx context.Context, chainID uint64) (domain.NetworkStats, bool, error)
	SyncState(ctx context.Context, chainID uint64) (domain.SyncState, bool, error)
	BlockRange(ctx context.Context, chainID uint64) (uint64, uint64, bool, error)
	Ping(ctx context.Context) error
}

type RPCStatus interface {
	LatestBlockNumber(ctx context.Context) (uint64, error)
}

type BuildInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"build_time"`
}

type Server struct {
	cfg       config.Config
	store     ChainStore
	rpc       RPCStatus
	metrics   *Metrics
	buildInfo BuildInfo
}

func NewServer(cfg config.Config, store ChainStore, rpc RPCStatus, metrics *Metrics, buildInfo BuildInfo) (*Server, error) {
	if store == nil || rpc == nil {
		return nil, errors.New("http server dependencies must not be nil")
	}
	if metrics == nil {
		metrics = NewMetrics()
	}
	return &Server{cfg: cfg, store: store, rpc: rpc, metrics: metrics, buildInfo: buildInfo}, nil
}

func (s *Server) MetricsObserver() *Metrics {
	return s.metrics
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/readyz", s.handleReady)
	mux.HandleFunc("/blocks", s.handleBlocks)
	mux.HandleFunc("/blocks/latest", s.handleLatestBlock)
	mux.HandleFunc("/transactions", s.handleTransactions)
	mux.HandleFunc("/receipts", s.handleReceipts)
	mux.HandleFunc("/logs", s.handleLogs)
	mux.HandleFunc("/network/stats", s.handleNetworkStats)
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/metrics", s.handleMetrics)
	mux.HandleFunc("/version", s.handleVersion)
	return mux
}

func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	server := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := s.store.Ping(ctx); err != nil {
		respondError(w, http.StatusServiceUnavailable, "db not ready")
		return
	}
	if _, err := s.rpc.LatestBlockNumber(ctx); err != nil {
		respondError(w, http.StatusServiceUnavailable, "rpc not ready")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) handleBlocks(w http.ResponseWriter, r *http.Request) {
	filter, err := s.parseBlockFilter(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	blocks, err := s.store.QueryBlocks(r.Context(), filter)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "query failed")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"blocks": renderBlocks(blocks)})
}

func (s *Server) handleLatestBlock(w http.ResponseWriter, r *http.Request) {
	block, ok, err := s.store.LatestBlock(r.Context(), s.chainID(r))
	if err != nil {
		respondError(w, http.StatusInternalServerError, "query failed")
		return
	}
	if !ok {
		respondError(w, http.StatusNotFound, "no blocks indexed")
		return
	}
	respondJSON(w, http.StatusOK, renderBlock(block))
}

func (s *Server) handleTransactions(w http.ResponseWriter, r *http.Request) {
	filter, err := s.parseTransactionFilter(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	transactions, err := s.store.QueryTransactions(r.Context(), filter)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "query failed")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"transactions": renderTransactions(transactions)})
}

func (s *Server) handleReceipts(w http.ResponseWriter, r *http.Request) {
	txHash := r.URL.Query().Get("tx_hash")
	if txHash == "" {
		respondError(w, http.StatusBadRequest, "tx_hash is required")
		return
	}
	receipt, ok, err := s.store.ReceiptByTxHash(r.Context(), s.chainID(r), txHash)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "query failed")
		return
	}
	if !ok {
		respondError(w, http.StatusNotFound, "receipt not found")
		return
	}
	respondJSON(w, http.StatusOK, renderReceipt(receipt))
}

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	filter, err := s.parseLogFilter(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	logs, err := s.store.QueryLogs(r.Context(), filter)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "query failed")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"logs": renderLogs(logs)})
}

func (s *Server) handleNetworkStats(w http.ResponseWriter, r *http.Request) {
	stats, ok, err := s.store.NetworkStats(r.Context(), s.chainID(r))
	if err != nil {
		respondError(w, http.StatusInternalServerError, "query failed")
		return
	}
	if !ok {
		respondError(w, http.StatusNotFound, "no stats recorded")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"chain_id":     stats.ChainID,
		"head_block":   stats.HeadBlock,
		"gas_price":    stats.GasPrice,
		"is_syncing":   stats.IsSyncing,
		"last_updated": stats.LastUpdated,
	})
}

// handleStatus reports sync progress computed from the durable cursor and
// the live chain head.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	chainID := s.chainID(r)
	state, _, err := s.store.SyncState(r.Context(), chainID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "state read failed")
		return
	}
	head, err := s.rpc.LatestBlockNumber(r.Context())
	if err != nil {
		respondError(w, http.StatusServiceUnavailable, "rpc unavailable")
		return
	}

	behind := uint64(0)
	if head > state.LastIndexedBlock {
		behind = head - state.LastIndexedBlock
	}
	percent := uint64(0)
	if head > 0 {
		percent = state.LastIndexedBlock * 100 / head
		if percent > 100 {
			percent = 100
		}
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"chain_id":           chainID,
		"network":            s.cfg.Network,
		"last_indexed_block": state.LastIndexedBlock,
		"current_head":       head,
		"blocks_behind":      behind,
		"percent_synced":     percent,
		"synced":             behind == 0,
	})
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	snap := s.metrics.Snapshot()

	uptime := time.Since(snap.StartTime).Seconds()
	lag := uint64(0)
	if snap.LatestBlock > snap.LastIndexed {
		lag = snap.LatestBlock - snap.LastIndexed
	}

	fmt.Fprintf(w, "openscan_uptime_seconds %.0f\n", uptime)
	fmt.Fprintf(w, "openscan_latest_block %d\n", snap.LatestBlock)
	fmt.Fprintf(w, "openscan_last_indexed_block %d\n", snap.LastIndexed)
	fmt.Fprintf(w, "openscan_blocks_indexed_total %d\n", snap.BlocksIndexed)
	fmt.Fprintf(w, "openscan_blocks_skipped_total %d\n", snap.BlocksSkipped)
	fmt.Fprintf(w, "openscan_transactions_indexed_total %d\n", snap.TxsIndexed)
	fmt.Fprintf(w, "openscan_logs_indexed_total %d\n", snap.LogsIndexed)
	fmt.Fprintf(w, "openscan_block_lag %d\n", lag)
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.buildInfo)
}

// chainID resolves the chain scope of a request. The configured network's
// chain is the default; an explicit chain_id param overrides it.
func (s *Server) chainID(r *http.Request) uint64 {
	if raw := r.URL.Query().Get("chain_id"); raw != "" {
		if value, err := strconv.ParseUint(raw, 10, 64); err == nil {
			return value
		}
	}
	return s.cfg.ChainID
}

func (s *Server) parseBlockFilter(r *http.Request) (application.BlockQueryFilter, error) {
	limit, err := parseLimit(r)
	if err != nil {
		return application.BlockQueryFilter{}, err
	}
	from, to, err := parseBlockRange(r)
	if err != nil {
		return application.BlockQueryFilter{}, err
	}
	var number *uint64
	if raw := r.URL.Query().Get("number"); raw != "" {
		value, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			return application.BlockQueryFilter{}, errors.New("invalid number")
		}
		number = &value
	}
	chainID := s.chainID(r)
	return application.BlockQueryFilter{
		ChainID:   &chainID,
		Number:    number,
		Hash:      strings.ToLower(r.URL.Query().Get("hash")),
		FromBlock: from,
		ToBlock:   to,
		Limit:     limit,
	}, nil
}

func (s *Server) parseTransactionFilter(r *http.Request) (application.TransactionQueryFilter, error) {
	limit, err := parseLimit(r)
	if err != nil {
		return application.TransactionQueryFilter{}, err
	}
	from, to, err := parseBlockRange(r)
	if err != nil {
		return application.TransactionQueryFilter{}, err
	}
	direction := r.URL.Query().Get("direction")
	switch direction {
	case "", "sent", "received":
	default:
		return application.TransactionQueryFilter{}, errors.New("invalid direction")
	}
	var status *uint64
	if raw := r.URL.Query().Get("status"); raw != "" {
		value, err := strconv.ParseUint(raw, 10, 64)
		if err != nil || value > 1 {
			return application.TransactionQueryFilter{}, errors.New("invalid status")
		}
		status = &value
	}
	chainID := s.chainID(r)
	return application.TransactionQueryFilter{
		ChainID:   &chainID,
		Address:   strings.ToLower(r.URL.Query().Get("address")),
		Direction: direction,
		TxHash:    strings.ToLower(r.URL.Query().Get("tx_hash")),
		Status:    status,
		FromBlock: from,
		ToBlock:   to,
		Limit:     limit,
	}, nil
}

func (s *Server) parseLogFilter(r *http.Request) (application.LogQueryFilter, error) {
	limit, err := parseLimit(r)
	if err != nil {
		return application.LogQueryFilter{}, err
	}
	from, to, err := parseBlockRange(r)
	if err != nil {
		return application.LogQueryFilter{}, err
	}
	chainID := s.chainID(r)
	return application.LogQueryFilter{
		ChainID:   &chainID,
		Address:   strings.ToLower(r.URL.Query().Get("address")),
		TxHash:    strings.ToLower(r.URL.Query().Get("tx_hash")),
		Topic0:    strings.ToLower(r.URL.Query().Get("topic0")),
		FromBlock: from,
		ToBlock:   to,
		Limit:     limit,
	}, nil
}

func parseLimit(r *http.Request) (int, error) {
	if raw := r.URL.Query().Get("limit"); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil || value < 0 {
			return 0, errors.New("invalid limit")
		}
		return value, nil
	}
	return 100, nil
}

func parseBlockRange(r *http.Request) (*uint64, *uint64, error) {
	fromRaw := r.URL.Query().Get("from_block")
	toRaw := r.URL.Query().Get("to_block")

	var from *uint64
	var to *uint64

	if fromRaw != "" {
		value, err := strconv.ParseUint(fromRaw, 10, 64)
		if err != nil {
			return nil, nil, errors.New("invalid from_block")
		}
		from = &value
	}
	if toRaw != "" {
		value, err := strconv.ParseUint(toRaw, 10, 64)
		if err != nil {
			return nil, nil, errors.New("invalid to_block")
		}
		to = &value
	}
	return from, to, nil
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
