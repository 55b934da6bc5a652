package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"openscan/internal/application"
	"openscan/internal/domain"

	gosqlite "modernc.org/sqlite"
)

const sqliteConstraint = 19

// Repository is the single-file storage gateway for local development and
// tests. It offers the same surface as the MySQL gateway.
type Repository struct {
	db *sql.DB
}

func NewRepository(dbPath string) (*Repository, error) {
	if dbPath == "" {
		return nil, errors.New("db path is required")
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	// The write unit touches several tables in one transaction; a single
	// connection avoids SQLITE_BUSY between concurrent statements.
	db.SetMaxOpenConns(1)
	if err := createSchema(db); err != nil {
		return nil, err
	}
	return &Repository{db: db}, nil
}

func createSchema(db *sql.DB) error {
	schema := []string{
		`CREATE TABLE IF NOT EXISTS blocks (
			chain_id INTEGER NOT NULL,
			block_number INTEGER NOT NULL,
			block_hash TEXT NOT NULL,
			parent_hash TEXT NOT NULL,
			timestamp INTEGER NOT NULL,
			miner TEXT NOT NULL DEFAULT '',
			gas_used INTEGER NOT NULL DEFAULT 0,
			gas_limit INTEGER NOT NULL DEFAULT 0,
			base_fee_per_gas TEXT NULL,
			size INTEGER NOT NULL DEFAULT 0,
			extra_data TEXT NOT NULL DEFAULT '',
			tx_count INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (chain_id, block_number),
			UNIQUE (chain_id, block_hash)
		)`,
		`CREATE TABLE IF NOT EXISTS transactions (
			chain_id INTEGER NOT NULL,
			tx_hash TEXT NOT NULL,
			block_number INTEGER NOT NULL,
			block_hash TEXT NOT NULL,
			tx_index INTEGER NOT NULL,
			from_addr TEXT NOT NULL,
			to_addr TEXT NULL,
			value TEXT NOT NULL,
			nonce INTEGER NOT NULL,
			gas INTEGER NOT NULL,
			gas_price TEXT NOT NULL,
			max_fee_per_gas TEXT NULL,
			max_priority_fee_per_gas TEXT NULL,
			input TEXT NOT NULL,
			tx_type INTEGER NOT NULL,
			PRIMARY KEY (chain_id, tx_hash)
		)`,
		`CREATE INDEX IF NOT EXISTS tx_block_idx ON transactions (chain_id, block_number, tx_index)`,
		`CREATE INDEX IF NOT EXISTS tx_from_idx ON transactions (chain_id, from_addr)`,
		`CREATE INDEX IF NOT EXISTS tx_to_idx ON transactions (chain_id, to_addr)`,
		`CREATE TABLE IF NOT EXISTS transaction_receipts (
			chain_id INTEGER NOT NULL,
			tx_hash TEXT NOT NULL,
			block_number INTEGER NOT NULL,
			block_hash TEXT NOT NULL,
			tx_index INTEGER NOT NULL,
			status INTEGER NOT NULL,
			gas_used INTEGER NOT NULL,
			cumulative_gas_used INTEGER NOT NULL,
			effective_gas_price TEXT NOT NULL,
			contract_address TEXT NULL,
			logs_bloom TEXT NOT NULL,
			PRIMARY KEY (chain_id, tx_hash)
		)`,
		`CREATE INDEX IF NOT EXISTS receipts_block_idx ON transaction_receipts (chain_id, block_number)`,
		`CREATE TABLE IF NOT EXISTS logs (
			chain_id INTEGER NOT NULL,
			tx_hash TEXT NOT NULL,
			log_index INTEGER NOT NULL,
			block_number INTEGER NOT NULL,
			block_hash TEXT NOT NULL,
			tx_index INTEGER NOT NULL,
			address TEXT NOT NULL,
			topic0 TEXT NOT NULL DEFAULT '',
			topics TEXT NOT NULL,
			data TEXT NOT NULL,
			removed INTEGER NOT NULL,
			PRIMARY KEY (chain_id, tx_hash, log_index)
		)`,
		`CREATE INDEX IF NOT EXISTS logs_block_idx ON logs (chain_id, block_number, tx_index, log_index)`,
		`CREATE INDEX IF NOT EXISTS logs_address_idx ON logs (chain_id, address)`,
		`CREATE INDEX IF NOT EXISTS logs_topic0_idx ON logs (chain_id, topic0)`,
		`CREATE TABLE IF NOT EXISTS sync_state (
			chain_id INTEGER PRIMARY KEY,
			last_indexed_block INTEGER NOT NULL,
			updated_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%SZ', 'now'))
		)`,
		`CREATE TABLE IF NOT EXISTS network_stats (
			chain_id INTEGER PRIMARY KEY,
			head_block INTEGER NOT NULL,
			gas_price TEXT NOT NULL,
			is_syncing INTEGER NOT NULL,
			last_updated INTEGER NOT NULL
		)`,
	}
	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var sqliteErr *gosqlite.Error
	if errors.As(err, &sqliteErr) && sqliteErr.Code()&0xff == sqliteConstraint {
		return fmt.Errorf("%w: %s: %v", domain.ErrDuplicateBlock, op, err)
	}
	return fmt.Errorf("%w: %s: %v", domain.ErrStorageUnavailable, op, err)
}

func (r *Repository) UpsertBlock(ctx context.Context, block domain.Block, txs []domain.Transaction, receipts []domain.Receipt, logs []domain.Log) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return classify("begin", err)
	}

	if err := insertUnit(ctx, tx, block, txs, receipts, logs); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return classify("commit", err)
	}
	return nil
}

func insertUnit(ctx context.Context, tx *sql.Tx, block domain.Block, txs []domain.Transaction, receipts []domain.Receipt, logs []domain.Log) error {
	if _, err := tx.ExecContext(ctx, `INSERT INTO blocks (chain_id, block_number, block_hash, parent_hash, timestamp, miner, gas_used, gas_limit, base_fee_per_gas, size, extra_data, tx_count)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		block.ChainID, block.Number, block.Hash, block.ParentHash, block.Timestamp, block.Miner,
		block.GasUsed, block.GasLimit, nullable(block.BaseFeePerGas), block.Size, block.ExtraData, block.TxCount); err != nil {
		return classify("insert block", err)
	}

	for _, entry := range txs {
		if _, err := tx.ExecContext(ctx, `INSERT INTO transactions (chain_id, tx_hash, block_number, block_hash, tx_index, from_addr, to_addr, value, nonce, gas, gas_price, max_fee_per_gas, max_priority_fee_per_gas, input, tx_type)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			entry.ChainID, entry.Hash, entry.BlockNumber, entry.BlockHash, entry.TxIndex, entry.From, nullable(entry.To),
			zero(entry.Value), entry.Nonce, entry.Gas, zero(entry.GasPrice), nullable(entry.MaxFeePerGas),
			nullable(entry.MaxPriorityFeePerGas), entry.Input, entry.TxType); err != nil {
			return classify("insert transaction", err)
		}
	}

	for _, receipt := range receipts {
		if _, err := tx.ExecContext(ctx, `INSERT INTO transaction_receipts (chain_id, tx_hash, block_number, block_hash, tx_index, status, gas_used, cumulative_gas_used, effective_gas_price, contract_address, logs_bloom)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			receipt.ChainID, receipt.TxHash, receipt.BlockNumber, receipt.BlockHash, receipt.TxIndex, receipt.Status,
			receipt.GasUsed, receipt.CumulativeGasUsed, zero(receipt.EffectiveGasPrice),
			nullable(receipt.ContractAddress), receipt.LogsBloom); err != nil {
			return classify("insert receipt", err)
		}
	}

	for _, log := range logs {
		topics, err := json.Marshal(log.Topics)
		if err != nil {
			return fmt.Errorf("marshal topics: %w", err)
		}
		topic0 := ""
		if len(log.Topics) > 0 {
			topic0 = log.Topics[0]
		}
		removed := 0
		if log.Removed {
			removed = 1
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO logs (chain_id, tx_hash, log_index, block_number, block_hash, tx_index, address, topic0, topics, data, removed)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			log.ChainID, log.TxHash, log.LogIndex, log.BlockNumber, log.BlockHash, log.TxIndex,
			log.Address, topic0, string(topics), log.Data, removed); err != nil {
			return classify("insert log", err)
		}
	}
	return nil
}

func (r *Repository) SyncState(ctx context.Context, chainID uint64) (domain.SyncState, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	var state domain.SyncState
	var updatedAt string
	err := r.db.QueryRowContext(ctx, `SELECT chain_id, last_indexed_block, updated_at FROM sync_state WHERE chain_id = ?`, chainID).
		Scan(&state.ChainID, &state.LastIndexedBlock, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.SyncState{}, false, nil
	}
	if err := classify("get sync state", err); err != nil {
		return domain.SyncState{}, false, err
	}
	if parsed, err := time.Parse(time.RFC3339, updatedAt); err == nil {
		state.UpdatedAt = parsed
	}
	return state, true, nil
}

func (r *Repository) SetSyncState(ctx context.Context, chainID uint64, block uint64) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	_, err := r.db.ExecContext(ctx, `INSERT INTO sync_state (chain_id, last_indexed_block, updated_at)
		VALUES (?, ?, strftime('%Y-%m-%dT%H:%M:%SZ', 'now'))
		ON CONFLICT(chain_id) DO UPDATE SET
			last_indexed_block = MAX(last_indexed_block, excluded.last_indexed_block),
			updated_at = excluded.updated_at`, chainID, block)
	if err != nil {
		return fmt.Errorf("%w: set sync state: %v", domain.ErrStorageUnavailable, err)
	}
	return nil
}

func (r *Repository) UpsertNetworkStats(ctx context.Context, stats domain.NetworkStats) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	_, err := r.db.ExecContext(ctx, `INSERT INTO network_stats (chain_id, head_block, gas_price, is_syncing, last_updated)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(chain_id) DO UPDATE SET
			head_block = excluded.head_block,
			gas_price = excluded.gas_price,
			is_syncing = excluded.is_syncing,
			last_updated = excluded.last_updated`,
		stats.ChainID, stats.HeadBlock, zero(stats.GasPrice), stats.IsSyncing, stats.LastUpdated)
	if err != nil {
		return fmt.Errorf("%w: upsert network stats: %v", domain.ErrStorageUnavailable, err)
	}
	return nil
}

func (r *Repository) NetworkStats(ctx context.Context, chainID uint64) (domain.NetworkStats, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	var stats domain.NetworkStats
	err := r.db.QueryRowContext(ctx, `SELECT chain_id, head_block, gas_price, is_syncing, last_updated FROM network_stats WHERE chain_id = ?`, chainID).
		Scan(&stats.ChainID, &stats.HeadBlock, &stats.GasPrice, &stats.IsSyncing, &stats.LastUpdated)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.NetworkStats{}, false, nil
	}
	if err := classify("get network stats", err); err != nil {
		return domain.NetworkStats{}, false, err
	}
	return stats, true, nil
}

const blockColumns = `chain_id, block_number, block_hash, parent_hash, timestamp, miner, gas_used, gas_limit, base_fee_per_gas, size, extra_data, tx_count`

func (r *Repository) LatestBlock(ctx context.Context, chainID uint64) (domain.Block, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	row := r.db.QueryRowContext(ctx, `SELECT `+blockColumns+` FROM blocks WHERE chain_id = ? ORDER BY block_number DESC LIMIT 1`, chainID)
	return scanBlockRow(row)
}

func (r *Repository) BlockByNumber(ctx context.Context, chainID uint64, number uint64) (domain.Block, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	row := r.db.QueryRowContext(ctx, `SELECT `+blockColumns+` FROM blocks WHERE chain_id = ? AND block_number = ?`, chainID, number)
	return scanBlockRow(row)
}

func (r *Repository) QueryBlocks(ctx context.Context, filter application.BlockQueryFilter) ([]domain.Block, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	clauses := make([]string, 0, 4)
	args := make([]any, 0, 5)

	if filter.ChainID != nil {
		clauses = append(clauses, "chain_id = ?")
		args = append(args, *filter.ChainID)
	}
	if filter.Number != nil {
		clauses = append(clauses, "block_number = ?")
		args = append(args, *filter.Number)
	}
	if filter.Hash != "" {
		clauses = append(clauses, "block_hash = ?")
		args = append(args, strings.ToLower(filter.Hash))
	}
	if filter.FromBlock != nil {
		clauses = append(clauses, "block_number >= ?")
		args = append(args, *filter.FromBlock)
	}
	if filter.ToBlock != nil {
		clauses = append(clauses, "block_number <= ?")
		args = append(args, *filter.ToBlock)
	}

	query := `SELECT ` + blockColumns + ` FROM blocks`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY block_number DESC LIMIT ?"
	args = append(args, normalizeLimit(filter.Limit))

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classify("query blocks", err)
	}
	defer rows.Close()

	var blocks []domain.Block
	for rows.Next() {
		block, err := scanBlock(rows)
		if err != nil {
			return nil, classify("scan block", err)
		}
		blocks = append(blocks, block)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("query blocks", err)
	}
	return blocks, nil
}

func (r *Repository) QueryTransactions(ctx context.Context, filter application.TransactionQueryFilter) ([]domain.Transaction, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	clauses := make([]string, 0, 5)
	args := make([]any, 0, 7)

	if filter.ChainID != nil {
		clauses = append(clauses, "t.chain_id = ?")
		args = append(args, *filter.ChainID)
	}
	if filter.Address != "" {
		address := strings.ToLower(filter.Address)
		switch filter.Direction {
		case "sent":
			clauses = append(clauses, "t.from_addr = ?")
			args = append(args, address)
		case "received":
			clauses = append(clauses, "t.to_addr = ?")
			args = append(args, address)
		default:
			clauses = append(clauses, "(t.from_addr = ? OR t.to_addr = ?)")
			args = append(args, address, address)
		}
	}
	if filter.TxHash != "" {
		clauses = append(clauses, "t.tx_hash = ?")
		args = append(args, strings.ToLower(filter.TxHash))
	}
	if filter.FromBlock != nil {
		clauses = append(clauses, "t.block_number >= ?")
		args = append(args, *filter.FromBlock)
	}
	if filter.ToBlock != nil {
		clauses = append(clauses, "t.block_number <= ?")
		args = append(args, *filter.ToBlock)
	}

	query := `SELECT t.chain_id, t.tx_hash, t.block_number, t.block_hash, t.tx_index, t.from_addr, t.to_addr, t.value, t.nonce, t.gas, t.gas_price, t.max_fee_per_gas, t.max_priority_fee_per_gas, t.input, t.tx_type FROM transactions t`
	if filter.Status != nil {
		query += ` JOIN transaction_receipts rc ON rc.chain_id = t.chain_id AND rc.tx_hash = t.tx_hash`
		clauses = append(clauses, "rc.status = ?")
		args = append(args, *filter.Status)
	}
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY t.block_number DESC, t.tx_index ASC LIMIT ?"
	args = append(args, normalizeLimit(filter.Limit))

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classify("query transactions", err)
	}
	defer rows.Close()

	var transactions []domain.Transaction
	for rows.Next() {
		var tx domain.Transaction
		var toAddr, maxFee, maxPriorityFee sql.NullString
		if err := rows.Scan(&tx.ChainID, &tx.Hash, &tx.BlockNumber, &tx.BlockHash, &tx.TxIndex, &tx.From, &toAddr,
			&tx.Value, &tx.Nonce, &tx.Gas, &tx.GasPrice, &maxFee, &maxPriorityFee, &tx.Input, &tx.TxType); err != nil {
			return nil, classify("scan transaction", err)
		}
		tx.To = toAddr.String
		tx.MaxFeePerGas = maxFee.String
		tx.MaxPriorityFeePerGas = maxPriorityFee.String
		transactions = append(transactions, tx)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("query transactions", err)
	}
	return transactions, nil
}

func (r *Repository) ReceiptByTxHash(ctx context.Context, chainID uint64, txHash string) (domain.Receipt, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	var receipt domain.Receipt
	var contract sql.NullString
	err := r.db.QueryRowContext(ctx, `SELECT chain_id, tx_hash, block_number, block_hash, tx_index, status, gas_used, cumulative_gas_used, effective_gas_price, contract_address, logs_bloom
		FROM transaction_receipts WHERE chain_id = ? AND tx_hash = ?`, chainID, strings.ToLower(txHash)).
		Scan(&receipt.ChainID, &receipt.TxHash, &receipt.BlockNumber, &receipt.BlockHash, &receipt.TxIndex,
			&receipt.Status, &receipt.GasUsed, &receipt.CumulativeGasUsed, &receipt.EffectiveGasPrice, &contract, &receipt.LogsBloom)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Receipt{}, false, nil
	}
	if err := classify("get receipt", err); err != nil {
		return domain.Receipt{}, false, err
	}
	receipt.ContractAddress = contract.String
	return receipt, true, nil
}

func (r *Repository) QueryLogs(ctx context.Context, filter application.LogQueryFilter) ([]domain.Log, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	clauses := make([]string, 0, 6)
	args := make([]any, 0, 7)

	if filter.ChainID != nil {
		clauses = append(clauses, "chain_id = ?")
		args = append(args, *filter.ChainID)
	}
	if filter.Address != "" {
		clauses = append(clauses, "address = ?")
		args = append(args, strings.ToLower(filter.Address))
	}
	if filter.TxHash != "" {
		clauses = append(clauses, "tx_hash = ?")
		args = append(args, strings.ToLower(filter.TxHash))
	}
	if filter.Topic0 != "" {
		clauses = append(clauses, "topic0 = ?")
		args = append(args, strings.ToLower(filter.Topic0))
	}
	if filter.FromBlock != nil {
		clauses = append(clauses, "block_number >= ?")
		args = append(args, *filter.FromBlock)
	}
	if filter.ToBlock != nil {
		clauses = append(clauses, "block_number <= ?")
		args = append(args, *filter.ToBlock)
	}

	query := `SELECT chain_id, tx_hash, log_index, block_number, block_hash, tx_index, address, topics, data, removed FROM logs`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY block_number ASC, tx_index ASC, log_index ASC LIMIT ?"
	args = append(args, normalizeLimit(filter.Limit))

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classify("query logs", err)
	}
	defer rows.Close()

	var logs []domain.Log
	for rows.Next() {
		var log domain.Log
		var topicsRaw string
		var removed int
		if err := rows.Scan(&log.ChainID, &log.TxHash, &log.LogIndex, &log.BlockNumber, &log.BlockHash, &log.TxIndex,
			&log.Address, &topicsRaw, &log.Data, &removed); err != nil {
			return nil, classify("scan log", err)
		}
		if err := json.Unmarshal([]byte(topicsRaw), &log.Topics); err != nil {
			return nil, fmt.Errorf("unmarshal topics: %w", err)
		}
		log.Removed = removed != 0
		logs = append(logs, log)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("query logs", err)
	}
	return logs, nil
}

func (r *Repository) BlockRange(ctx context.Context, chainID uint64) (uint64, uint64, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var min, max sql.NullInt64
	if err := r.db.QueryRowContext(ctx, `SELECT MIN(block_number), MAX(block_number) FROM blocks WHERE chain_id = ?`, chainID).Scan(&min, &max); err != nil {
		return 0, 0, false, classify("block range", err)
	}
	if !min.Valid || !max.Valid {
		return 0, 0, false, nil
	}
	return uint64(min.Int64), uint64(max.Int64), true, nil
}

func (r *Repository) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return r.db.PingContext(ctx)
}

func (r *Repository) Close() error {
	return r.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBlock(row rowScanner) (domain.Block, error) {
	var block domain.Block
	var baseFee sql.NullString
	if err := row.Scan(&block.ChainID, &block.Number, &block.Hash, &block.ParentHash, &block.Timestamp, &block.Miner,
		&block.GasUsed, &block.GasLimit, &baseFee, &block.Size, &block.ExtraData, &block.TxCount); err != nil {
		return domain.Block{}, err
	}
	block.BaseFeePerGas = baseFee.String
	return block, nil
}

func scanBlockRow(row *sql.Row) (domain.Block, bool, error) {
	block, err := scanBlock(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Block{}, false, nil
	}
	if err := classify("get block", err); err != nil {
		return domain.Block{}, false, err
	}
	return block, true, nil
}

func normalizeLimit(limit int) int {
	if limit <= 0 || limit > 1000 {
		return 100
	}
	return limit
}

func nullable(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func zero(value string) string {
	if value == "" {
		return "0"
	}
	return value
}
