// Package storage selects and wires a concrete storage gateway. The engine
// and the HTTP API only see the Gateway interface; whether rows land in
// MySQL or a local SQLite file is a deployment decision.
package storage

import (
	"context"
	"fmt"
	"time"

	"openscan/internal/application"
	"openscan/internal/domain"
	"openscan/internal/infrastructure/mysql"
	"openscan/internal/infrastructure/sqlite"
)

// Gateway is the full storage surface: the engine's write side plus the
// query side served by the HTTP API.
type Gateway interface {
	UpsertBlock(ctx context.Context, block domain.Block, txs []domain.Transaction, receipts []domain.Receipt, logs []domain.Log) error
	SyncState(ctx context.Context, chainID uint64) (domain.SyncState, bool, error)
	SetSyncState(ctx context.Context, chainID uint64, block uint64) error
	UpsertNetworkStats(ctx context.Context, stats domain.NetworkStats) error

	LatestBlock(ctx context.Context, chainID uint64) (domain.Block, bool, error)
	BlockByNumber(ctx context.Context, chainID uint64, number uint64) (domain.Block, bool, error)
	QueryBlocks(ctx context.Context, filter application.BlockQueryFilter) ([]domain.Block, error)
	QueryTransactions(ctx context.Context, filter application.TransactionQueryFilter) ([]domain.Transaction, error)
	ReceiptByTxHash(ctx context.Context, chainID uint64, txHash string) (domain.Receipt, bool, error)
	QueryLogs(ctx context.Context, filter application.LogQueryFilter) ([]domain.Log, error)
	NetworkStats(ctx context.Context, chainID uint64) (domain.NetworkStats, bool, error)
	BlockRange(ctx context.Context, chainID uint64) (uint64, uint64, bool, error)

	Ping(ctx context.Context) error
	Close() error
}

type Config struct {
	// Driver is "mysql" or "sqlite".
	Driver string
	// DSN is the MySQL DSN or the SQLite file path, depending on Driver.
	DSN string
	// CacheAddr enables the Redis read cache when set. MySQL only.
	CacheAddr string
	CacheTTL  time.Duration
}

func New(cfg Config) (Gateway, error) {
	switch cfg.Driver {
	case "mysql":
		base, err := mysql.NewRepository(cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("mysql gateway: %w", err)
		}
		if cfg.CacheAddr == "" {
			return base, nil
		}
		cached, err := mysql.NewCachedRepository(base, mysql.CacheConfig{Addr: cfg.CacheAddr, TTL: cfg.CacheTTL})
		if err != nil {
			_ = base.Close()
			return nil, fmt.Errorf("redis cache: %w", err)
		}
		return cached, nil
	case "sqlite":
		repo, err := sqlite.NewRepository(cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("sqlite gateway: %w", err)
		}
		return repo, nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}
