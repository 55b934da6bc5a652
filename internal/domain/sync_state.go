package domain

import "time"

// SyncState is the per-chain cursor. LastIndexedBlock is the highest block
// whose write unit has been committed; it defines the resume point.
type SyncState struct {
	ChainID          uint64
	LastIndexedBlock uint64
	UpdatedAt        time.Time
}

// NetworkStats is the last observed state of the chain endpoint.
type NetworkStats struct {
	ChainID     uint64
	HeadBlock   uint64
	GasPrice    string
	IsSyncing   bool
	LastUpdated int64
}
