package mysql

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

	gomysql "github.com/go-sql-driver/mysql"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const mysqlDuplicateEntry = 1062

type Repository struct {
	db *sql.DB
}

func NewRepository(dsn string) (*Repository, error) {
	if dsn == "" {
		return nil, errors.New("db dsn is required")
	}
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	if err := createSchema(db); err != nil {
		return nil, err
	}
	return &Repository{db: db}, nil
}

func createSchema(db *sql.DB) error {
	schema := []string{
		`CREATE TABLE IF NOT EXISTS blocks (
			chain_id BIGINT UNSIGNED NOT NULL,
			block_number BIGINT UNSIGNED NOT NULL,
			block_hash VARCHAR(66) NOT NULL,
			parent_hash VARCHAR(66) NOT NULL,
			timestamp BIGINT UNSIGNED NOT NULL,
			miner VARCHAR(42) NOT NULL DEFAULT '',
			gas_used BIGINT UNSIGNED NOT NULL DEFAULT 0,
			gas_limit BIGINT UNSIGNED NOT NULL DEFAULT 0,
			base_fee_per_gas DECIMAL(65,0) NULL,
			size BIGINT UNSIGNED NOT NULL DEFAULT 0,
			extra_data MEDIUMTEXT NOT NULL,
			tx_count BIGINT UNSIGNED NOT NULL DEFAULT 0,
			PRIMARY KEY (chain_id, block_number),
			UNIQUE KEY blocks_hash (chain_id, block_hash)
		)`,
		`CREATE TABLE IF NOT EXISTS transactions (
			chain_id BIGINT UNSIGNED NOT NULL,
			tx_hash VARCHAR(66) NOT NULL,
			block_number BIGINT UNSIGNED NOT NULL,
			block_hash VARCHAR(66) NOT NULL,
			tx_index BIGINT UNSIGNED NOT NULL,
			from_addr VARCHAR(42) NOT NULL,
			to_addr VARCHAR(42) NULL,
			value DECIMAL(65,0) NOT NULL,
			nonce BIGINT UNSIGNED NOT NULL,
			gas BIGINT UNSIGNED NOT NULL,
			gas_price DECIMAL(65,0) NOT NULL,
			max_fee_per_gas DECIMAL(65,0) NULL,
			max_priority_fee_per_gas DECIMAL(65,0) NULL,
			input MEDIUMTEXT NOT NULL,
			tx_type BIGINT UNSIGNED NOT NULL,
			PRIMARY KEY (chain_id, tx_hash),
			KEY tx_block_idx (chain_id, block_number, tx_index),
			KEY tx_from_idx (chain_id, from_addr),
			KEY tx_to_idx (chain_id, to_addr)
		)`,
		`CREATE TABLE IF NOT EXISTS transaction_receipts (
			chain_id BIGINT UNSIGNED NOT NULL,
			tx_hash VARCHAR(66) NOT NULL,
			block_number BIGINT UNSIGNED NOT NULL,
			block_hash VARCHAR(66) NOT NULL,
			tx_index BIGINT UNSIGNED NOT NULL,
			status TINYINT UNSIGNED NOT NULL,
			gas_used BIGINT UNSIGNED NOT NULL,
			cumulative_gas_used BIGINT UNSIGNED NOT NULL,
			effective_gas_price DECIMAL(65,0) NOT NULL,
			contract_address VARCHAR(42) NULL,
			logs_bloom MEDIUMTEXT NOT NULL,
			PRIMARY KEY (chain_id, tx_hash),
			KEY receipts_block_idx (chain_id, block_number)
		)`,
		`CREATE TABLE IF NOT EXISTS logs (
			chain_id BIGINT UNSIGNED NOT NULL,
			tx_hash VARCHAR(66) NOT NULL,
			log_index BIGINT UNSIGNED NOT NULL,
			block_number BIGINT UNSIGNED NOT NULL,
			block_hash VARCHAR(66) NOT NULL,
			tx_index BIGINT UNSIGNED NOT NULL,
			address VARCHAR(42) NOT NULL,
			topic0 VARCHAR(66) NOT NULL DEFAULT '',
			topics MEDIUMTEXT NOT NULL,
			data MEDIUMTEXT NOT NULL,
			removed TINYINT(1) NOT NULL,
			PRIMARY KEY (chain_id, tx_hash, log_index),
			KEY logs_block_idx (chain_id, block_number, tx_index, log_index),
			KEY logs_address_idx (chain_id, address),
			KEY logs_topic0_idx (chain_id, topic0)
		)`,
		`CREATE TABLE IF NOT EXISTS sync_state (
			chain_id BIGINT UNSIGNED NOT NULL,
			last_indexed_block BIGINT UNSIGNED NOT NULL,
			updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP,
			PRIMARY KEY (chain_id)
		)`,
		`CREATE TABLE IF NOT EXISTS network_stats (
			chain_id BIGINT UNSIGNED NOT NULL,
			head_block BIGINT UNSIGNED NOT NULL,
			gas_price DECIMAL(65,0) NOT NULL,
			is_syncing TINYINT(1) NOT NULL,
			last_updated BIGINT NOT NULL,
			PRIMARY KEY (chain_id)
		)`,
	}
	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// classify maps driver failures onto the shared error classes. A duplicate
// primary key on blocks means the block is already indexed; everything else
// is treated as storage unavailability and left to the caller's retry
// policy.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var mysqlErr *gomysql.MySQLError
	if errors.As(err, &mysqlErr) && mysqlErr.Number == mysqlDuplicateEntry {
		return fmt.Errorf("%w: %s: %v", domain.ErrDuplicateBlock, op, err)
	}
	return fmt.Errorf("%w: %s: %v", domain.ErrStorageUnavailable, op, err)
}

// UpsertBlock writes a block and everything belonging to it in one
// transaction. Either the whole unit commits or none of it does; a block
// number already present for the chain reports domain.ErrDuplicateBlock
// without touching any row.
func (r *Repository) UpsertBlock(ctx context.Context, block domain.Block, txs []domain.Transaction, receipts []domain.Receipt, logs []domain.Log) error {
	ctx, span := startDBSpan(ctx, "mysql.UpsertBlock",
		attribute.Int64("chain.id", int64(block.ChainID)),
		attribute.Int64("block.number", int64(block.Number)),
		attribute.Int("tx.count", len(txs)),
		attribute.Int("log.count", len(logs)),
	)
	defer span.End()
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return spanErr(span, classify("begin", err))
	}

	if err := insertBlock(ctx, tx, block); err != nil {
		_ = tx.Rollback()
		if errors.Is(err, domain.ErrDuplicateBlock) {
			return err
		}
		return spanErr(span, err)
	}
	if err := insertTransactions(ctx, tx, txs); err != nil {
		_ = tx.Rollback()
		return spanErr(span, err)
	}
	if err := insertReceipts(ctx, tx, receipts); err != nil {
		_ = tx.Rollback()
		return spanErr(span, err)
	}
	if err := insertLogs(ctx, tx, logs); err != nil {
		_ = tx.Rollback()
		return spanErr(span, err)
	}

	if err := tx.Commit(); err != nil {
		return spanErr(span, classify("commit", err))
	}
	return nil
}

func insertBlock(ctx context.Context, tx *sql.Tx, block domain.Block) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO blocks (chain_id, block_number, block_hash, parent_hash, timestamp, miner, gas_used, gas_limit, base_fee_per_gas, size, extra_data, tx_count)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		block.ChainID, block.Number, block.Hash, block.ParentHash, block.Timestamp, block.Miner,
		block.GasUsed, block.GasLimit, nullableDecimal(block.BaseFeePerGas), block.Size, block.ExtraData, block.TxCount)
	return classify("insert block", err)
}

func insertTransactions(ctx context.Context, tx *sql.Tx, txs []domain.Transaction) error {
	if len(txs) == 0 {
		return nil
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO transactions (chain_id, tx_hash, block_number, block_hash, tx_index, from_addr, to_addr, value, nonce, gas, gas_price, max_fee_per_gas, max_priority_fee_per_gas, input, tx_type)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return classify("prepare transactions", err)
	}
	defer stmt.Close()

	for _, entry := range txs {
		if _, err := stmt.ExecContext(ctx, entry.ChainID, entry.Hash, entry.BlockNumber, entry.BlockHash, entry.TxIndex,
			entry.From, nullableString(entry.To), zeroDecimal(entry.Value), entry.Nonce, entry.Gas, zeroDecimal(entry.GasPrice),
			nullableDecimal(entry.MaxFeePerGas), nullableDecimal(entry.MaxPriorityFeePerGas), entry.Input, entry.TxType); err != nil {
			return classify("insert transaction", err)
		}
	}
	return nil
}

func insertReceipts(ctx context.Context, tx *sql.Tx, receipts []domain.Receipt) error {
	if len(receipts) == 0 {
		return nil
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO transaction_receipts (chain_id, tx_hash, block_number, block_hash, tx_index, status, gas_used, cumulative_gas_used, effective_gas_price, contract_address, logs_bloom)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return classify("prepare receipts", err)
	}
	defer stmt.Close()

	for _, receipt := range receipts {
		if _, err := stmt.ExecContext(ctx, receipt.ChainID, receipt.TxHash, receipt.BlockNumber, receipt.BlockHash, receipt.TxIndex,
			receipt.Status, receipt.GasUsed, receipt.CumulativeGasUsed, zeroDecimal(receipt.EffectiveGasPrice),
			nullableString(receipt.ContractAddress), receipt.LogsBloom); err != nil {
			return classify("insert receipt", err)
		}
	}
	return nil
}

func insertLogs(ctx context.Context, tx *sql.Tx, logs []domain.Log) error {
	if len(logs) == 0 {
		return nil
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO logs (chain_id, tx_hash, log_index, block_number, block_hash, tx_index, address, topic0, topics, data, removed)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return classify("prepare logs", err)
	}
	defer stmt.Close()

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
		if _, err := stmt.ExecContext(ctx, log.ChainID, log.TxHash, log.LogIndex, log.BlockNumber, log.BlockHash, log.TxIndex,
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
	err := r.db.QueryRowContext(ctx, `SELECT chain_id, last_indexed_block, updated_at FROM sync_state WHERE chain_id = ?`, chainID).
		Scan(&state.ChainID, &state.LastIndexedBlock, &state.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.SyncState{}, false, nil
	}
	if err != nil {
		return domain.SyncState{}, false, classify("get sync state", err)
	}
	return state, true, nil
}

// SetSyncState advances the cursor. GREATEST keeps it monotonic even under
// concurrent or repeated writes.
func (r *Repository) SetSyncState(ctx context.Context, chainID uint64, block uint64) error {
	ctx, span := startDBSpan(ctx, "mysql.SetSyncState",
		attribute.Int64("chain.id", int64(chainID)),
		attribute.Int64("block.number", int64(block)),
	)
	defer span.End()
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	_, err := r.db.ExecContext(ctx, `INSERT INTO sync_state (chain_id, last_indexed_block) VALUES (?, ?)
		ON DUPLICATE KEY UPDATE last_indexed_block = GREATEST(last_indexed_block, VALUES(last_indexed_block))`,
		chainID, block)
	if err != nil {
		return spanErr(span, fmt.Errorf("%w: set sync state: %v", domain.ErrStorageUnavailable, err))
	}
	return nil
}

func (r *Repository) UpsertNetworkStats(ctx context.Context, stats domain.NetworkStats) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	_, err := r.db.ExecContext(ctx, `INSERT INTO network_stats (chain_id, head_block, gas_price, is_syncing, last_updated)
		VALUES (?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
			head_block = VALUES(head_block),
			gas_price = VALUES(gas_price),
			is_syncing = VALUES(is_syncing),
			last_updated = VALUES(last_updated)`,
		stats.ChainID, stats.HeadBlock, zeroDecimal(stats.GasPrice), stats.IsSyncing, stats.LastUpdated)
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
	if err != nil {
		return domain.NetworkStats{}, false, classify("get network stats", err)
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
	if err != nil {
		return domain.Receipt{}, false, classify("get receipt", err)
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
	if err != nil {
		return domain.Block{}, false, classify("get block", err)
	}
	return block, true, nil
}

func normalizeLimit(limit int) int {
	if limit <= 0 || limit > 1000 {
		return 100
	}
	return limit
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func nullableDecimal(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func zeroDecimal(value string) string {
	if value == "" {
		return "0"
	}
	return value
}

func spanErr(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

func startDBSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	attrs = append(attrs, attribute.String("db.system", "mysql"))
	return otel.Tracer("openscan/mysql").Start(ctx, name, trace.WithSpanKind(trace.SpanKindClient), trace.WithAttributes(attrs...))
}
