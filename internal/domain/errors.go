package domain

import "errors"

// Error classes shared between the RPC client, the storage gateways and the
// indexing engine. Callers match with errors.Is; producers wrap with %w and
// add detail.
var (
	// ErrRPCUnavailable covers connection, timeout and server-side
	// throttling failures. Transient: retried with backoff.
	ErrRPCUnavailable = errors.New("rpc unavailable")

	// ErrRPCMalformed means a response could not be parsed into the
	// expected shape. Never retried.
	ErrRPCMalformed = errors.New("rpc response malformed")

	// ErrNormalization means raw chain data violated a structural
	// invariant. Never retried; fatal for the affected block.
	ErrNormalization = errors.New("normalization failed")

	// ErrDuplicateBlock means a block number already exists for the chain.
	// Expected during idempotent re-runs and swallowed by the engine.
	ErrDuplicateBlock = errors.New("block already indexed")

	// ErrStorageUnavailable covers storage connectivity and lock failures.
	// Transient: retried with backoff, escalated on exhaustion.
	ErrStorageUnavailable = errors.New("storage unavailable")
)
